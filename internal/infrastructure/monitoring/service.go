package monitoring

import (
	"context"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

// instrumented records every contract call on the wrapped service.
type instrumented struct {
	next    appmanager.Service
	metrics *Metrics
}

// Instrument wraps svc so each operation is timed and counted by result code.
func Instrument(svc appmanager.Service, m *Metrics) appmanager.Service {
	return &instrumented{next: svc, metrics: m}
}

func (s *instrumented) RegisterObserver(ctx context.Context, obs appmanager.StateObserver, bundleNames ...string) (id appmanager.ObserverID, err error) {
	defer NewTimer(s.metrics, appmanager.OpRegisterObserver).stopWith(&err)
	return s.next.RegisterObserver(ctx, obs, bundleNames...)
}

func (s *instrumented) UnregisterObserver(ctx context.Context, id appmanager.ObserverID) (err error) {
	defer NewTimer(s.metrics, appmanager.OpUnregisterObserver).stopWith(&err)
	return s.next.UnregisterObserver(ctx, id)
}

func (s *instrumented) IsRunningInStabilityTest(ctx context.Context) (on bool, err error) {
	defer NewTimer(s.metrics, appmanager.OpIsRunningInStabilityTest).stopWith(&err)
	return s.next.IsRunningInStabilityTest(ctx)
}

func (s *instrumented) KillProcessesByBundleName(ctx context.Context, bundleName string, clearPageStack bool, opts ...appmanager.Option) (err error) {
	defer NewTimer(s.metrics, appmanager.OpKillProcessesByBundleName).stopWith(&err)
	return s.next.KillProcessesByBundleName(ctx, bundleName, clearPageStack, opts...)
}

func (s *instrumented) IsRamConstrainedDevice(ctx context.Context) (constrained bool, err error) {
	defer NewTimer(s.metrics, appmanager.OpIsRamConstrainedDevice).stopWith(&err)
	return s.next.IsRamConstrainedDevice(ctx)
}

func (s *instrumented) GetAppMemorySize(ctx context.Context) (size int, err error) {
	defer NewTimer(s.metrics, appmanager.OpGetAppMemorySize).stopWith(&err)
	return s.next.GetAppMemorySize(ctx)
}

func (s *instrumented) GetRunningProcessInformation(ctx context.Context) (infos []appmanager.ProcessInformation, err error) {
	defer NewTimer(s.metrics, appmanager.OpGetRunningProcessInformation).stopWith(&err)
	return s.next.GetRunningProcessInformation(ctx)
}

func (s *instrumented) IsAppRunning(ctx context.Context, bundleName string, opts ...appmanager.Option) (running bool, err error) {
	defer NewTimer(s.metrics, appmanager.OpIsAppRunning).stopWith(&err)
	return s.next.IsAppRunning(ctx, bundleName, opts...)
}

func (t *Timer) stopWith(err *error) {
	t.Stop(*err)
}
