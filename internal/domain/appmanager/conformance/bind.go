package conformance

import (
	"context"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

// Bind returns svc with caller attached to every request context. It lets an
// in-process implementation stand in for differently privileged clients.
func Bind(svc appmanager.Service, caller appmanager.Caller) appmanager.Service {
	return &bound{next: svc, caller: caller}
}

type bound struct {
	next   appmanager.Service
	caller appmanager.Caller
}

func (b *bound) ctx(ctx context.Context) context.Context {
	return appmanager.WithCaller(ctx, b.caller)
}

func (b *bound) RegisterObserver(ctx context.Context, obs appmanager.StateObserver, bundleNames ...string) (appmanager.ObserverID, error) {
	return b.next.RegisterObserver(b.ctx(ctx), obs, bundleNames...)
}

func (b *bound) UnregisterObserver(ctx context.Context, id appmanager.ObserverID) error {
	return b.next.UnregisterObserver(b.ctx(ctx), id)
}

func (b *bound) IsRunningInStabilityTest(ctx context.Context) (bool, error) {
	return b.next.IsRunningInStabilityTest(b.ctx(ctx))
}

func (b *bound) KillProcessesByBundleName(ctx context.Context, bundleName string, clearPageStack bool, opts ...appmanager.Option) error {
	return b.next.KillProcessesByBundleName(b.ctx(ctx), bundleName, clearPageStack, opts...)
}

func (b *bound) IsRamConstrainedDevice(ctx context.Context) (bool, error) {
	return b.next.IsRamConstrainedDevice(b.ctx(ctx))
}

func (b *bound) GetAppMemorySize(ctx context.Context) (int, error) {
	return b.next.GetAppMemorySize(b.ctx(ctx))
}

func (b *bound) GetRunningProcessInformation(ctx context.Context) ([]appmanager.ProcessInformation, error) {
	return b.next.GetRunningProcessInformation(b.ctx(ctx))
}

func (b *bound) IsAppRunning(ctx context.Context, bundleName string, opts ...appmanager.Option) (bool, error) {
	return b.next.IsAppRunning(b.ctx(ctx), bundleName, opts...)
}
