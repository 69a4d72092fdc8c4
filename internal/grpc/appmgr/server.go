package appmgr

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

// Server exposes an appmanager.Service over gRPC.
type Server struct {
	svc    appmanager.Service
	logger *zap.Logger
}

var _ AppManagerServer = (*Server)(nil)

// NewServer creates a gRPC front for svc.
func NewServer(svc appmanager.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{svc: svc, logger: logger}
}

// RegisterObserver subscribes for the lifetime of the stream. The first frame
// carries the handle; events follow in publish order. The stream ends when the
// handle is unregistered or the client goes away.
func (s *Server) RegisterObserver(in *structpb.Struct, stream AppManager_RegisterObserverServer) error {
	op := appmanager.OpRegisterObserver
	ctx := stream.Context()

	var req observerRequest
	if err := fromStruct(in, &req); err != nil {
		return toStatus(op, appmanager.InvalidParam(op, "malformed request: %v", err))
	}

	fwd := newStreamForwarder(stream, s.logger)
	id, err := s.svc.RegisterObserver(ctx, fwd, req.BundleNames...)
	if err != nil {
		return toStatus(op, err)
	}

	first, err := toStruct(streamMessage{ObserverID: id.Value()})
	if err == nil {
		err = stream.Send(first)
	}
	if err != nil {
		s.release(ctx, id)
		return toStatus(op, err)
	}
	fwd.open()
	defer fwd.close()

	select {
	case <-fwd.detached:
		return nil
	case <-fwd.failed:
		s.release(ctx, id)
		return toStatus(op, fwd.err)
	case <-ctx.Done():
		s.release(ctx, id)
		return nil
	}
}

// release drops a subscription whose stream is gone.
func (s *Server) release(ctx context.Context, id appmanager.ObserverID) {
	// The stream context may already be canceled; keep its values only.
	ctx = context.WithoutCancel(ctx)
	if err := s.svc.UnregisterObserver(ctx, id); err != nil && !appmanager.IsBusiness(err) {
		s.logger.Warn("Failed to release observer", zap.Stringer("observer_id", id), zap.Error(err))
	}
}

func (s *Server) UnregisterObserver(ctx context.Context, in *wrapperspb.Int32Value) (*emptypb.Empty, error) {
	if err := s.svc.UnregisterObserver(ctx, appmanager.ObserverIDFrom(in.GetValue())); err != nil {
		return nil, toStatus(appmanager.OpUnregisterObserver, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) IsRunningInStabilityTest(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	on, err := s.svc.IsRunningInStabilityTest(ctx)
	if err != nil {
		return nil, toStatus(appmanager.OpIsRunningInStabilityTest, err)
	}
	return wrapperspb.Bool(on), nil
}

func (s *Server) KillProcessesByBundleName(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	op := appmanager.OpKillProcessesByBundleName
	var req killRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, toStatus(op, appmanager.InvalidParam(op, "malformed request: %v", err))
	}

	var opts []appmanager.Option
	if req.AppIndex != nil {
		opts = append(opts, appmanager.WithAppIndex(*req.AppIndex))
	}
	if err := s.svc.KillProcessesByBundleName(ctx, req.BundleName, req.ClearPageStack, opts...); err != nil {
		return nil, toStatus(op, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) IsRamConstrainedDevice(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	constrained, err := s.svc.IsRamConstrainedDevice(ctx)
	if err != nil {
		return nil, toStatus(appmanager.OpIsRamConstrainedDevice, err)
	}
	return wrapperspb.Bool(constrained), nil
}

func (s *Server) GetAppMemorySize(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int32Value, error) {
	size, err := s.svc.GetAppMemorySize(ctx)
	if err != nil {
		return nil, toStatus(appmanager.OpGetAppMemorySize, err)
	}
	return wrapperspb.Int32(int32(size)), nil
}

func (s *Server) GetRunningProcessInformation(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	op := appmanager.OpGetRunningProcessInformation
	infos, err := s.svc.GetRunningProcessInformation(ctx)
	if err != nil {
		return nil, toStatus(op, err)
	}
	if infos == nil {
		infos = []appmanager.ProcessInformation{}
	}
	out, err := toStruct(processList{Processes: infos})
	if err != nil {
		return nil, toStatus(op, appmanager.Internal(op, err))
	}
	return out, nil
}

func (s *Server) IsAppRunning(ctx context.Context, in *structpb.Struct) (*wrapperspb.BoolValue, error) {
	op := appmanager.OpIsAppRunning
	var req runningRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, toStatus(op, appmanager.InvalidParam(op, "malformed request: %v", err))
	}

	var opts []appmanager.Option
	if req.AppCloneIndex != nil {
		opts = append(opts, appmanager.WithCloneIndex(*req.AppCloneIndex))
	}
	running, err := s.svc.IsAppRunning(ctx, req.BundleName, opts...)
	if err != nil {
		return nil, toStatus(op, err)
	}
	return wrapperspb.Bool(running), nil
}

// streamForwarder is the observer registered on behalf of a stream. Events
// wait for the handle frame before they are sent.
type streamForwarder struct {
	stream AppManager_RegisterObserverServer
	logger *zap.Logger

	ready    chan struct{}
	detached chan struct{}
	failed   chan struct{}

	detachOnce sync.Once
	failOnce   sync.Once
	err        error

	mu     sync.Mutex // Serializes Send against handler return
	closed bool
}

func newStreamForwarder(stream AppManager_RegisterObserverServer, logger *zap.Logger) *streamForwarder {
	return &streamForwarder{
		stream:   stream,
		logger:   logger,
		ready:    make(chan struct{}),
		detached: make(chan struct{}),
		failed:   make(chan struct{}),
	}
}

func (f *streamForwarder) open() { close(f.ready) }

// close stops sends; the stream must not be written after its handler returns.
func (f *streamForwarder) close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *streamForwarder) send(ev appmanager.Event) {
	select {
	case <-f.ready:
	case <-f.detached:
		return
	case <-f.stream.Context().Done():
		return
	}

	msg, err := toStruct(streamMessage{Event: &ev})
	if err != nil {
		f.logger.Warn("Failed to encode observer event", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	err = f.stream.Send(msg)
	f.mu.Unlock()

	if err != nil {
		f.failOnce.Do(func() {
			f.err = err
			close(f.failed)
		})
		f.logger.Debug("Observer stream send failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

func (f *streamForwarder) OnForegroundApplicationChanged(d appmanager.AppStateData) {
	f.send(appmanager.Event{Kind: appmanager.EventForegroundApplicationChanged, App: &d})
}

func (f *streamForwarder) OnProcessCreated(d appmanager.ProcessData) {
	f.send(appmanager.Event{Kind: appmanager.EventProcessCreated, Process: &d})
}

func (f *streamForwarder) OnProcessDied(d appmanager.ProcessData) {
	f.send(appmanager.Event{Kind: appmanager.EventProcessDied, Process: &d})
}

func (f *streamForwarder) OnProcessStateChanged(d appmanager.ProcessData) {
	f.send(appmanager.Event{Kind: appmanager.EventProcessStateChanged, Process: &d})
}

func (f *streamForwarder) OnAppStarted(d appmanager.AppStateData) {
	f.send(appmanager.Event{Kind: appmanager.EventAppStarted, App: &d})
}

func (f *streamForwarder) OnAppStopped(d appmanager.AppStateData) {
	f.send(appmanager.Event{Kind: appmanager.EventAppStopped, App: &d})
}

func (f *streamForwarder) OnDetached() {
	f.detachOnce.Do(func() { close(f.detached) })
}
