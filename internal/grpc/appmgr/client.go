package appmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/tracing"
)

// Client implements appmanager.Service against a remote host.
type Client struct {
	conn    *grpc.ClientConn
	owned   bool
	breaker *resilience.Breaker
	retry   resilience.RetryPolicy
	timeout time.Duration
	logger  *zap.Logger

	observers cmap.ConcurrentMap[string, context.CancelFunc]
}

var _ appmanager.Service = (*Client)(nil)

type clientConfig struct {
	token    string
	secure   bool
	tracer   *tracing.Tracer
	logger   *zap.Logger
	timeout  time.Duration
	retry    resilience.RetryPolicy
	breaker  resilience.Settings
	dialOpts []grpc.DialOption
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithToken sends "Bearer <token>" on every call. secure requires a TLS
// transport supplied through WithDialOptions.
func WithToken(token string, secure bool) ClientOption {
	return func(c *clientConfig) {
		c.token = token
		c.secure = secure
	}
}

// WithTracer propagates trace IDs on outgoing calls.
func WithTracer(t *tracing.Tracer) ClientOption {
	return func(c *clientConfig) { c.tracer = t }
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// WithTimeout bounds each unary call.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithRetryPolicy controls retries when opening observer streams.
func WithRetryPolicy(p resilience.RetryPolicy) ClientOption {
	return func(c *clientConfig) { c.retry = p }
}

// WithBreakerSettings overrides the circuit breaker settings. IsSuccessful is
// always replaced so business errors never trip the breaker.
func WithBreakerSettings(s resilience.Settings) ClientOption {
	return func(c *clientConfig) { c.breaker = s }
}

// WithDialOptions appends raw dial options, e.g. TLS credentials or a
// bufconn dialer.
func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(c *clientConfig) { c.dialOpts = append(c.dialOpts, opts...) }
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		timeout: 10 * time.Second,
		retry:   resilience.DefaultRetryPolicy(),
		breaker: resilience.Settings{
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 5 ||
					(counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.5)
			},
		},
	}
}

// Dial connects to the app manager at addr.
func Dial(addr string, opts ...ClientOption) (*Client, error) {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                60 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: false,
		}),
	}
	if cfg.token != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(tokenCredentials{token: cfg.token, secure: cfg.secure}))
	}
	if cfg.tracer != nil {
		dialOpts = append(dialOpts,
			grpc.WithChainUnaryInterceptor(tracing.GRPCClientInterceptor(cfg.tracer)),
			grpc.WithChainStreamInterceptor(tracing.GRPCStreamClientInterceptor(cfg.tracer)),
		)
	}
	dialOpts = append(dialOpts, cfg.dialOpts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial app manager: %w", err)
	}
	c := newClient(conn, cfg)
	c.owned = true
	return c, nil
}

// NewClient wraps an existing connection. The caller keeps ownership of conn.
func NewClient(conn *grpc.ClientConn, opts ...ClientOption) *Client {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newClient(conn, cfg)
}

func newClient(conn *grpc.ClientConn, cfg clientConfig) *Client {
	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := cfg.breaker
	settings.IsSuccessful = func(err error) bool {
		return err == nil || appmanager.IsBusiness(err)
	}
	if settings.OnStateChange == nil {
		settings.OnStateChange = func(name string, from, to resilience.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}
	}

	return &Client{
		conn:      conn,
		breaker:   resilience.New("appmgr", settings),
		retry:     cfg.retry,
		timeout:   cfg.timeout,
		logger:    logger,
		observers: cmap.New[context.CancelFunc](),
	}
}

// Close ends every observer stream and, for dialed clients, the connection.
func (c *Client) Close() error {
	for item := range c.observers.IterBuffered() {
		item.Val()
	}
	c.observers.Clear()
	if c.owned && c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// invoke performs one unary call through the breaker.
func (c *Client) invoke(ctx context.Context, op string, req, resp proto.Message) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		return fromStatus(op, c.conn.Invoke(ctx, methodPath(op), req, resp))
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return appmanager.Internal(op, fmt.Errorf("app manager unavailable: %w", err))
	}
	return appmanager.AsError(op, err)
}

// RegisterObserver opens an observer stream and returns once the host has
// assigned a handle. Events are delivered on a dedicated goroutine until the
// handle is unregistered or the stream breaks.
func (c *Client) RegisterObserver(ctx context.Context, obs appmanager.StateObserver, bundleNames ...string) (appmanager.ObserverID, error) {
	op := appmanager.OpRegisterObserver
	if obs == nil {
		return appmanager.ObserverID{}, appmanager.InvalidParam(op, "observer is required")
	}
	// Validate locally so malformed lists never cost a round trip.
	names, err := appmanager.NormalizeBundleList(op, bundleNames)
	if err != nil {
		return appmanager.ObserverID{}, err
	}
	req, err := toStruct(observerRequest{BundleNames: names})
	if err != nil {
		return appmanager.ObserverID{}, appmanager.Internal(op, err)
	}

	// The stream outlives ctx; it keeps ctx values for credentials and tracing.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var (
		stream grpc.ClientStream
		first  structpb.Struct
	)
	open := func() error {
		s, err := c.conn.NewStream(streamCtx, &ServiceDesc.Streams[0], methodPath(op))
		if err == nil {
			err = s.SendMsg(req)
		}
		if err == nil {
			err = s.CloseSend()
		}
		if err == nil {
			err = s.RecvMsg(&first)
		}
		if err != nil {
			if status.Code(err) == codes.Unavailable && ctx.Err() == nil {
				return err
			}
			return resilience.Permanent(fromStatus(op, err))
		}
		stream = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("Retrying observer stream", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := resilience.Retry(ctx, c.retry, open, notify); err != nil {
		cancel()
		return appmanager.ObserverID{}, appmanager.AsError(op, fromStatus(op, err))
	}

	var hello streamMessage
	if err := fromStruct(&first, &hello); err != nil || hello.ObserverID <= 0 {
		cancel()
		return appmanager.ObserverID{}, appmanager.Internal(op, fmt.Errorf("bad handshake frame"))
	}

	id := appmanager.ObserverIDFrom(hello.ObserverID)
	c.observers.Set(id.String(), cancel)
	go c.receive(id, stream, obs, cancel)
	return id, nil
}

func (c *Client) receive(id appmanager.ObserverID, stream grpc.ClientStream, obs appmanager.StateObserver, cancel context.CancelFunc) {
	defer func() {
		cancel()
		c.observers.Remove(id.String())
		if d, ok := obs.(appmanager.Detacher); ok {
			d.OnDetached()
		}
	}()

	for {
		var frame structpb.Struct
		if err := stream.RecvMsg(&frame); err != nil {
			if err != io.EOF && status.Code(err) != codes.Canceled {
				c.logger.Warn("Observer stream ended", zap.Stringer("observer_id", id), zap.Error(err))
			}
			return
		}
		var msg streamMessage
		if err := fromStruct(&frame, &msg); err != nil || msg.Event == nil {
			c.logger.Debug("Skipping malformed observer frame", zap.Stringer("observer_id", id), zap.Error(err))
			continue
		}
		appmanager.Deliver(obs, *msg.Event)
	}
}

func (c *Client) UnregisterObserver(ctx context.Context, id appmanager.ObserverID) error {
	op := appmanager.OpUnregisterObserver
	if id.IsZero() {
		return appmanager.InvalidParam(op, "observer id is required")
	}
	if err := c.invoke(ctx, op, wrapperspb.Int32(id.Value()), &emptypb.Empty{}); err != nil {
		return err
	}
	if cancel, ok := c.observers.Pop(id.String()); ok {
		cancel()
	}
	return nil
}

func (c *Client) IsRunningInStabilityTest(ctx context.Context) (bool, error) {
	var out wrapperspb.BoolValue
	if err := c.invoke(ctx, appmanager.OpIsRunningInStabilityTest, &emptypb.Empty{}, &out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

func (c *Client) KillProcessesByBundleName(ctx context.Context, bundleName string, clearPageStack bool, opts ...appmanager.Option) error {
	op := appmanager.OpKillProcessesByBundleName
	req, err := toStruct(killRequest{
		BundleName:     bundleName,
		ClearPageStack: clearPageStack,
		AppIndex:       appmanager.ApplyOptions(opts...).CloneIndex,
	})
	if err != nil {
		return appmanager.Internal(op, err)
	}
	return c.invoke(ctx, op, req, &emptypb.Empty{})
}

func (c *Client) IsRamConstrainedDevice(ctx context.Context) (bool, error) {
	var out wrapperspb.BoolValue
	if err := c.invoke(ctx, appmanager.OpIsRamConstrainedDevice, &emptypb.Empty{}, &out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

func (c *Client) GetAppMemorySize(ctx context.Context) (int, error) {
	var out wrapperspb.Int32Value
	if err := c.invoke(ctx, appmanager.OpGetAppMemorySize, &emptypb.Empty{}, &out); err != nil {
		return 0, err
	}
	return int(out.GetValue()), nil
}

func (c *Client) GetRunningProcessInformation(ctx context.Context) ([]appmanager.ProcessInformation, error) {
	op := appmanager.OpGetRunningProcessInformation
	var out structpb.Struct
	if err := c.invoke(ctx, op, &emptypb.Empty{}, &out); err != nil {
		return nil, err
	}
	var list processList
	if err := fromStruct(&out, &list); err != nil {
		return nil, appmanager.Internal(op, err)
	}
	if list.Processes == nil {
		list.Processes = []appmanager.ProcessInformation{}
	}
	return list.Processes, nil
}

func (c *Client) IsAppRunning(ctx context.Context, bundleName string, opts ...appmanager.Option) (bool, error) {
	op := appmanager.OpIsAppRunning
	req, err := toStruct(runningRequest{
		BundleName:    bundleName,
		AppCloneIndex: appmanager.ApplyOptions(opts...).CloneIndex,
	})
	if err != nil {
		return false, appmanager.Internal(op, err)
	}
	var out wrapperspb.BoolValue
	if err := c.invoke(ctx, op, req, &out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}
