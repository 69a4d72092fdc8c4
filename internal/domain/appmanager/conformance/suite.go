// Package conformance checks that an appmanager.Service honors the contract
// every binding must satisfy, whatever transport sits underneath.
package conformance

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

// Harness supplies the implementation under test.
type Harness struct {
	// Privileged holds every permission of the contract.
	Privileged appmanager.Service
	// Unprivileged holds none.
	Unprivileged appmanager.Service
	// Bundle is an installed bundle. Clone index 9999 must not be valid for it.
	Bundle string
}

const invalidCloneIndex = 9999

// Run executes the suite as subtests of t.
func Run(t *testing.T, h Harness) {
	require.NotNil(t, h.Privileged, "harness needs a privileged service")
	require.NotNil(t, h.Unprivileged, "harness needs an unprivileged service")
	if h.Bundle == "" {
		h.Bundle = "com.example.app"
	}

	t.Run("HandlesUniqueAmongActive", func(t *testing.T) { handlesUnique(t, h) })
	t.Run("DoubleUnregisterFails", func(t *testing.T) { doubleUnregister(t, h) })
	t.Run("UnknownHandleFails", func(t *testing.T) { unknownHandle(t, h) })
	t.Run("CallShapesAgree", func(t *testing.T) { callShapesAgree(t, h) })
	t.Run("KillWithoutPermissionDenied", func(t *testing.T) { killDenied(t, h) })
	t.Run("InvalidCloneIndex", func(t *testing.T) { invalidClone(t, h) })
	t.Run("AllowListBoundary", func(t *testing.T) { allowListBoundary(t, h) })
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return c
}

func handlesUnique(t *testing.T, h Harness) {
	const n = 32
	var (
		mu  sync.Mutex
		ids = make(map[appmanager.ObserverID]struct{}, n)
		wg  sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := h.Privileged.RegisterObserver(ctx(t), appmanager.ObserverFuncs{})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			_, dup := ids[id]
			assert.False(t, dup, "handle %s issued twice", id)
			ids[id] = struct{}{}
		}()
	}
	wg.Wait()
	require.Len(t, ids, n)

	for id := range ids {
		require.NoError(t, h.Privileged.UnregisterObserver(ctx(t), id))
	}
}

func doubleUnregister(t *testing.T, h Harness) {
	id, err := h.Privileged.RegisterObserver(ctx(t), appmanager.ObserverFuncs{})
	require.NoError(t, err)

	require.NoError(t, h.Privileged.UnregisterObserver(ctx(t), id))
	err = h.Privileged.UnregisterObserver(ctx(t), id)
	require.Error(t, err)
	assert.Equal(t, appmanager.CodeInvalidParam, appmanager.CodeOf(err))
}

func unknownHandle(t *testing.T, h Harness) {
	err := h.Privileged.UnregisterObserver(ctx(t), appmanager.ObserverIDFrom(math.MaxInt32-7))
	require.Error(t, err)
	assert.Equal(t, appmanager.CodeInvalidParam, appmanager.CodeOf(err))
}

// outcome is a comparable summary of one call.
type outcome struct {
	value string
	code  appmanager.Code
}

func summarize[T any](v T, err error) outcome {
	if err != nil {
		return outcome{code: appmanager.CodeOf(err)}
	}
	return outcome{value: fmt.Sprint(v)}
}

func viaCallback[T any](t *testing.T, register func(appmanager.Callback[T]) error) outcome {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	require.NoError(t, register(func(v T, err error) { ch <- result{v, err} }))
	select {
	case r := <-ch:
		return summarize(r.v, r.err)
	case <-time.After(10 * time.Second):
		t.Fatal("callback never invoked")
		return outcome{}
	}
}

func viaFuture[T any](t *testing.T, f *appmanager.Future[T]) outcome {
	return summarize(f.Await(ctx(t)))
}

func callShapesAgree(t *testing.T, h Harness) {
	for name, svc := range map[string]appmanager.Service{"privileged": h.Privileged, "unprivileged": h.Unprivileged} {
		a := appmanager.NewAsync(svc, nil)
		t.Run(name, func(t *testing.T) {
			assert.Equal(t,
				viaFuture(t, a.IsRunningInStabilityTest(ctx(t))),
				viaCallback(t, func(cb appmanager.Callback[bool]) error { return a.IsRunningInStabilityTestCallback(ctx(t), cb) }),
			)
			assert.Equal(t,
				viaFuture(t, a.IsRamConstrainedDevice(ctx(t))),
				viaCallback(t, func(cb appmanager.Callback[bool]) error { return a.IsRamConstrainedDeviceCallback(ctx(t), cb) }),
			)
			assert.Equal(t,
				viaFuture(t, a.GetAppMemorySize(ctx(t))),
				viaCallback(t, func(cb appmanager.Callback[int]) error { return a.GetAppMemorySizeCallback(ctx(t), cb) }),
			)
			assert.Equal(t,
				viaFuture(t, a.GetRunningProcessInformation(ctx(t))),
				viaCallback(t, func(cb appmanager.Callback[[]appmanager.ProcessInformation]) error {
					return a.GetRunningProcessInformationCallback(ctx(t), cb)
				}),
			)
			assert.Equal(t,
				viaFuture(t, a.UnregisterObserver(ctx(t), appmanager.ObserverIDFrom(math.MaxInt32-9))),
				viaCallback(t, func(cb appmanager.Callback[struct{}]) error {
					return a.UnregisterObserverCallback(ctx(t), appmanager.ObserverIDFrom(math.MaxInt32-9), cb)
				}),
			)
		})
	}
}

func killDenied(t *testing.T, h Harness) {
	err := h.Unprivileged.KillProcessesByBundleName(ctx(t), h.Bundle, true)
	require.Error(t, err)
	assert.Equal(t, appmanager.CodePermissionDenied, appmanager.CodeOf(err))
}

func invalidClone(t *testing.T, h Harness) {
	_, err := h.Privileged.IsAppRunning(ctx(t), h.Bundle, appmanager.WithCloneIndex(invalidCloneIndex))
	require.Error(t, err)
	assert.Equal(t, appmanager.CodeInvalidCloneIndex, appmanager.CodeOf(err))
}

func allowListBoundary(t *testing.T, h Harness) {
	names := make([]string, appmanager.MaxBundleNameList+1)
	for i := range names {
		names[i] = fmt.Sprintf("com.example.bundle%03d", i)
	}

	_, err := h.Privileged.RegisterObserver(ctx(t), appmanager.ObserverFuncs{}, names...)
	require.Error(t, err)
	assert.Equal(t, appmanager.CodeInvalidParam, appmanager.CodeOf(err))

	id, err := h.Privileged.RegisterObserver(ctx(t), appmanager.ObserverFuncs{}, names[:appmanager.MaxBundleNameList]...)
	require.NoError(t, err)
	require.NoError(t, h.Privileged.UnregisterObserver(ctx(t), id))
}
