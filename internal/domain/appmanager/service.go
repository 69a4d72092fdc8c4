// Package appmanager defines the application manager contract: process states,
// observer registration, process enumeration and the device/process queries,
// together with the numeric error codes callers depend on.
//
// Service is the capability set. Implementations live elsewhere: the in-process
// reference host (domain/host) and the gRPC client (grpc/appmgr). Async wraps
// any Service with the promise and callback call shapes.
package appmanager

import "context"

// Permissions attached to operations.
const (
	PermissionRunningStateObserver     = "ohos.permission.RUNNING_STATE_OBSERVER"
	PermissionKillAppProcesses         = "ohos.permission.KILL_APP_PROCESSES"
	PermissionCleanBackgroundProcesses = "ohos.permission.CLEAN_BACKGROUND_PROCESSES"
	PermissionGetRunningInfo           = "ohos.permission.GET_RUNNING_INFO"
)

// Operation names used in errors, metrics and logs.
const (
	OpRegisterObserver             = "RegisterObserver"
	OpUnregisterObserver           = "UnregisterObserver"
	OpIsRunningInStabilityTest     = "IsRunningInStabilityTest"
	OpKillProcessesByBundleName    = "KillProcessesByBundleName"
	OpIsRamConstrainedDevice       = "IsRamConstrainedDevice"
	OpGetAppMemorySize             = "GetAppMemorySize"
	OpGetRunningProcessInformation = "GetRunningProcessInformation"
	OpIsAppRunning                 = "IsAppRunning"
)

// Service is the application manager capability set.
//
// Every method is a single request to the host. Failures are *Error values
// carrying one of the Code constants.
type Service interface {
	// RegisterObserver subscribes observer to lifecycle notifications.
	// With a non-empty bundleNames allow-list (at most MaxBundleNameList
	// entries) only events for those bundles are delivered.
	// Requires PermissionRunningStateObserver.
	RegisterObserver(ctx context.Context, observer StateObserver, bundleNames ...string) (ObserverID, error)

	// UnregisterObserver removes a subscription. Unknown or already removed
	// handles are reported as CodeInvalidParam.
	// Requires PermissionRunningStateObserver.
	UnregisterObserver(ctx context.Context, id ObserverID) error

	// IsRunningInStabilityTest reports whether a stability test is running.
	IsRunningInStabilityTest(ctx context.Context) (bool, error)

	// KillProcessesByBundleName kills every process of bundle. The app index
	// option restricts the kill to one clone.
	// Requires PermissionKillAppProcesses or PermissionCleanBackgroundProcesses.
	KillProcessesByBundleName(ctx context.Context, bundleName string, clearPageStack bool, opts ...Option) error

	// IsRamConstrainedDevice reports whether the device is RAM constrained.
	IsRamConstrainedDevice(ctx context.Context) (bool, error)

	// GetAppMemorySize returns the per-application memory size in MB.
	GetAppMemorySize(ctx context.Context) (int, error)

	// GetRunningProcessInformation lists running processes. Without
	// PermissionGetRunningInfo the result silently narrows to the caller's
	// own process. Ordering is unspecified.
	GetRunningProcessInformation(ctx context.Context) ([]ProcessInformation, error)

	// IsAppRunning reports whether bundle (optionally one clone of it) has a
	// running process. Requires PermissionGetRunningInfo.
	IsAppRunning(ctx context.Context, bundleName string, opts ...Option) (bool, error)
}

// Options carries the optional arguments of kill and is-app-running.
type Options struct {
	// CloneIndex is the app clone index; nil means "not specified".
	CloneIndex *int32
}

// Option configures Options.
type Option func(*Options)

// WithAppIndex selects one clone for KillProcessesByBundleName.
func WithAppIndex(index int32) Option {
	return func(o *Options) { o.CloneIndex = &index }
}

// WithCloneIndex selects one clone for IsAppRunning.
func WithCloneIndex(index int32) Option {
	return WithAppIndex(index)
}

// ApplyOptions folds opts into an Options value.
func ApplyOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// AsOptions turns an Options value back into an option list.
func (o Options) AsOptions() []Option {
	if o.CloneIndex == nil {
		return nil
	}
	return []Option{WithAppIndex(*o.CloneIndex)}
}
