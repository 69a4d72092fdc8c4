// Package host is the in-process reference implementation of the application
// manager. It composes the process table, the observer hub, the permission
// checker, the bundle catalog and the device probe behind appmanager.Service,
// and adds the emulation controls used to drive process lifecycles.
package host

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/bundle"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/observer"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/permission"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/process"
)

// Host control operation names.
const (
	OpLaunch     = "Launch"
	OpTransition = "Transition"
	OpExit       = "Exit"
)

// DeviceProbe answers device-level queries.
type DeviceProbe interface {
	StabilityTest(ctx context.Context) (bool, error)
	RAMConstrained(ctx context.Context) (bool, error)
	AppMemoryMB(ctx context.Context) (int, error)
}

// Terminator stops a real OS process.
type Terminator interface {
	Terminate(ctx context.Context, pid int32) error
}

// Service implements appmanager.Service.
type Service struct {
	registry   *process.Registry
	hub        *observer.Hub
	checker    *permission.Checker
	catalog    *bundle.Catalog
	probe      DeviceProbe
	terminator Terminator
	logger     *zap.Logger
}

var _ appmanager.Service = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithTerminator enables termination of mirrored OS processes on kill.
func WithTerminator(t Terminator) Option {
	return func(s *Service) { s.terminator = t }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates the reference host. The registry must publish to hub.
func New(registry *process.Registry, hub *observer.Hub, checker *permission.Checker, catalog *bundle.Catalog, probe DeviceProbe, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		hub:      hub,
		checker:  checker,
		catalog:  catalog,
		probe:    probe,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the process table.
func (s *Service) Registry() *process.Registry { return s.registry }

// Hub returns the observer hub.
func (s *Service) Hub() *observer.Hub { return s.hub }

// Checker returns the permission checker.
func (s *Service) Checker() *permission.Checker { return s.checker }

// Catalog returns the bundle catalog.
func (s *Service) Catalog() *bundle.Catalog { return s.catalog }

// RegisterObserver implements appmanager.Service.
func (s *Service) RegisterObserver(ctx context.Context, obs appmanager.StateObserver, bundleNames ...string) (appmanager.ObserverID, error) {
	const op = appmanager.OpRegisterObserver

	if obs == nil {
		return appmanager.ObserverID{}, appmanager.InvalidParam(op, "observer is required")
	}
	bundles, err := appmanager.NormalizeBundleList(op, bundleNames)
	if err != nil {
		return appmanager.ObserverID{}, err
	}
	caller := appmanager.CallerFrom(ctx)
	if err := s.checker.Require(caller, op, appmanager.PermissionRunningStateObserver); err != nil {
		return appmanager.ObserverID{}, err
	}

	id, err := s.hub.Register(obs, bundles)
	if err != nil {
		return appmanager.ObserverID{}, hubError(op, err)
	}
	s.logger.Info("Observer registered",
		zap.String("caller", caller.ID),
		zap.Stringer("observer_id", id),
		zap.Int("bundles", len(bundles)),
	)
	return id, nil
}

// UnregisterObserver implements appmanager.Service.
func (s *Service) UnregisterObserver(ctx context.Context, id appmanager.ObserverID) error {
	const op = appmanager.OpUnregisterObserver

	if id.IsZero() {
		return appmanager.InvalidParam(op, "observer id must be positive")
	}
	caller := appmanager.CallerFrom(ctx)
	if err := s.checker.Require(caller, op, appmanager.PermissionRunningStateObserver); err != nil {
		return err
	}
	if err := s.hub.Unregister(id); err != nil {
		return hubError(op, err)
	}
	s.logger.Info("Observer unregistered", zap.String("caller", caller.ID), zap.Stringer("observer_id", id))
	return nil
}

// IsRunningInStabilityTest implements appmanager.Service.
func (s *Service) IsRunningInStabilityTest(ctx context.Context) (bool, error) {
	on, err := s.probe.StabilityTest(ctx)
	if err != nil {
		return false, appmanager.Internal(appmanager.OpIsRunningInStabilityTest, err)
	}
	return on, nil
}

// KillProcessesByBundleName implements appmanager.Service.
func (s *Service) KillProcessesByBundleName(ctx context.Context, bundleName string, clearPageStack bool, opts ...appmanager.Option) error {
	const op = appmanager.OpKillProcessesByBundleName

	if err := appmanager.ValidateBundleName(op, bundleName); err != nil {
		return err
	}
	o := appmanager.ApplyOptions(opts...)
	if o.CloneIndex != nil && !s.catalog.ValidClone(bundleName, *o.CloneIndex) {
		return appmanager.InvalidParam(op, "app index %d is not valid for %s", *o.CloneIndex, bundleName)
	}
	caller := appmanager.CallerFrom(ctx)
	if err := s.checker.Require(caller, op,
		appmanager.PermissionKillAppProcesses,
		appmanager.PermissionCleanBackgroundProcesses,
	); err != nil {
		return err
	}

	killed := s.registry.KillBundle(bundleName, o.CloneIndex)
	for _, p := range killed {
		if !p.Host || s.terminator == nil {
			continue
		}
		if err := s.terminator.Terminate(ctx, p.PID); err != nil {
			s.logger.Warn("Failed to terminate host process",
				zap.Int32("pid", p.PID),
				zap.String("bundle", bundleName),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("Killed bundle processes",
		zap.String("caller", caller.ID),
		zap.String("bundle", bundleName),
		zap.Int("count", len(killed)),
		zap.Bool("clear_page_stack", clearPageStack),
	)
	return nil
}

// IsRamConstrainedDevice implements appmanager.Service.
func (s *Service) IsRamConstrainedDevice(ctx context.Context) (bool, error) {
	constrained, err := s.probe.RAMConstrained(ctx)
	if err != nil {
		return false, appmanager.Internal(appmanager.OpIsRamConstrainedDevice, err)
	}
	return constrained, nil
}

// GetAppMemorySize implements appmanager.Service.
func (s *Service) GetAppMemorySize(ctx context.Context) (int, error) {
	size, err := s.probe.AppMemoryMB(ctx)
	if err != nil {
		return 0, appmanager.Internal(appmanager.OpGetAppMemorySize, err)
	}
	return size, nil
}

// GetRunningProcessInformation implements appmanager.Service. Callers without
// PermissionGetRunningInfo only see their own process.
func (s *Service) GetRunningProcessInformation(ctx context.Context) ([]appmanager.ProcessInformation, error) {
	const op = appmanager.OpGetRunningProcessInformation

	if err := ctx.Err(); err != nil {
		return nil, appmanager.Internal(op, err)
	}
	all := s.registry.List()
	caller := appmanager.CallerFrom(ctx)
	if s.checker.Check(caller, op, appmanager.PermissionGetRunningInfo) {
		return all, nil
	}

	own := make([]appmanager.ProcessInformation, 0, 1)
	if caller.Anonymous() {
		return own, nil
	}
	for _, p := range all {
		if ownedBy(p, caller) {
			own = append(own, p)
		}
	}
	return own, nil
}

func ownedBy(p appmanager.ProcessInformation, caller appmanager.Caller) bool {
	if caller.PID != 0 {
		return p.PID == caller.PID
	}
	return caller.BundleName != "" && p.HasBundle(caller.BundleName)
}

// IsAppRunning implements appmanager.Service.
func (s *Service) IsAppRunning(ctx context.Context, bundleName string, opts ...appmanager.Option) (bool, error) {
	const op = appmanager.OpIsAppRunning

	if err := appmanager.ValidateBundleName(op, bundleName); err != nil {
		return false, err
	}
	caller := appmanager.CallerFrom(ctx)
	if err := s.checker.Require(caller, op, appmanager.PermissionGetRunningInfo); err != nil {
		return false, err
	}
	o := appmanager.ApplyOptions(opts...)
	if o.CloneIndex != nil && !s.catalog.ValidClone(bundleName, *o.CloneIndex) {
		return false, appmanager.NewError(appmanager.CodeInvalidCloneIndex, op,
			"clone index %d is not valid for %s", *o.CloneIndex, bundleName)
	}
	return s.registry.Running(bundleName, o.CloneIndex), nil
}

// Close detaches every observer.
func (s *Service) Close() {
	s.hub.Close()
}

func hubError(op string, err error) error {
	switch {
	case errors.Is(err, observer.ErrNilObserver):
		return appmanager.InvalidParam(op, "observer is required")
	case errors.Is(err, observer.ErrNotFound):
		return appmanager.InvalidParam(op, "observer not registered")
	default:
		return appmanager.Internal(op, err)
	}
}
