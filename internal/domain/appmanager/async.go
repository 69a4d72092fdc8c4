package appmanager

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Callback receives the outcome of a callback-style call.
type Callback[T any] func(value T, err error)

// Future is the awaitable outcome of a promise-style call.
type Future[T any] struct {
	pool  *ants.Pool
	done  chan struct{}
	value T
	err   error

	mu        sync.Mutex
	completed bool
	pending   []Callback[T]
}

// Submit runs fn on pool (or a fresh goroutine when pool is nil or refuses
// the task) and returns its future.
func Submit[T any](pool *ants.Pool, fn func() (T, error)) *Future[T] {
	f := &Future[T]{pool: pool, done: make(chan struct{})}
	run(pool, func() {
		value, err := fn()
		f.complete(value, err)
	})
	return f
}

func run(pool *ants.Pool, task func()) {
	if pool == nil || pool.Submit(task) != nil {
		go task()
	}
}

// complete publishes the outcome and runs callbacks registered so far on
// the completing worker.
func (f *Future[T]) complete(value T, err error) {
	f.mu.Lock()
	f.value, f.err = value, err
	f.completed = true
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	close(f.done)

	for _, cb := range pending {
		cb(value, err)
	}
}

// Done is closed once the outcome is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the outcome is available or ctx ends. A ctx failure
// abandons the wait only; the underlying request still completes.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then invokes cb with the outcome once it is available. Callbacks run on
// the future's pool and never on the caller's goroutine.
func (f *Future[T]) Then(cb Callback[T]) {
	f.mu.Lock()
	if !f.completed {
		f.pending = append(f.pending, cb)
		f.mu.Unlock()
		return
	}
	value, err := f.value, f.err
	f.mu.Unlock()
	run(f.pool, func() { cb(value, err) })
}

// Async offers both historical call shapes over one Service: promise methods
// return a *Future, callback methods deliver to a Callback. The two shapes
// share the same underlying call and failure taxonomy.
type Async struct {
	svc  Service
	pool *ants.Pool
}

// NewAsync wraps svc. pool may be nil.
func NewAsync(svc Service, pool *ants.Pool) *Async {
	return &Async{svc: svc, pool: pool}
}

// Service returns the wrapped service.
func (a *Async) Service() Service { return a.svc }

func callback[T any](a *Async, op string, cb Callback[T], fn func() (T, error)) error {
	if cb == nil {
		return InvalidParam(op, "callback is required")
	}
	Submit(a.pool, fn).Then(cb)
	return nil
}

// RegisterObserver is synchronous in both shapes; it returns the handle directly.
func (a *Async) RegisterObserver(ctx context.Context, observer StateObserver, bundleNames ...string) (ObserverID, error) {
	return a.svc.RegisterObserver(ctx, observer, bundleNames...)
}

func (a *Async) UnregisterObserver(ctx context.Context, id ObserverID) *Future[struct{}] {
	return Submit(a.pool, func() (struct{}, error) {
		return struct{}{}, a.svc.UnregisterObserver(ctx, id)
	})
}

func (a *Async) UnregisterObserverCallback(ctx context.Context, id ObserverID, cb Callback[struct{}]) error {
	return callback(a, OpUnregisterObserver, cb, func() (struct{}, error) {
		return struct{}{}, a.svc.UnregisterObserver(ctx, id)
	})
}

func (a *Async) IsRunningInStabilityTest(ctx context.Context) *Future[bool] {
	return Submit(a.pool, func() (bool, error) { return a.svc.IsRunningInStabilityTest(ctx) })
}

func (a *Async) IsRunningInStabilityTestCallback(ctx context.Context, cb Callback[bool]) error {
	return callback(a, OpIsRunningInStabilityTest, cb, func() (bool, error) {
		return a.svc.IsRunningInStabilityTest(ctx)
	})
}

func (a *Async) KillProcessesByBundleName(ctx context.Context, bundleName string, clearPageStack bool, opts ...Option) *Future[struct{}] {
	return Submit(a.pool, func() (struct{}, error) {
		return struct{}{}, a.svc.KillProcessesByBundleName(ctx, bundleName, clearPageStack, opts...)
	})
}

func (a *Async) IsRamConstrainedDevice(ctx context.Context) *Future[bool] {
	return Submit(a.pool, func() (bool, error) { return a.svc.IsRamConstrainedDevice(ctx) })
}

func (a *Async) IsRamConstrainedDeviceCallback(ctx context.Context, cb Callback[bool]) error {
	return callback(a, OpIsRamConstrainedDevice, cb, func() (bool, error) {
		return a.svc.IsRamConstrainedDevice(ctx)
	})
}

func (a *Async) GetAppMemorySize(ctx context.Context) *Future[int] {
	return Submit(a.pool, func() (int, error) { return a.svc.GetAppMemorySize(ctx) })
}

func (a *Async) GetAppMemorySizeCallback(ctx context.Context, cb Callback[int]) error {
	return callback(a, OpGetAppMemorySize, cb, func() (int, error) {
		return a.svc.GetAppMemorySize(ctx)
	})
}

func (a *Async) GetRunningProcessInformation(ctx context.Context) *Future[[]ProcessInformation] {
	return Submit(a.pool, func() ([]ProcessInformation, error) {
		return a.svc.GetRunningProcessInformation(ctx)
	})
}

func (a *Async) GetRunningProcessInformationCallback(ctx context.Context, cb Callback[[]ProcessInformation]) error {
	return callback(a, OpGetRunningProcessInformation, cb, func() ([]ProcessInformation, error) {
		return a.svc.GetRunningProcessInformation(ctx)
	})
}

func (a *Async) IsAppRunning(ctx context.Context, bundleName string, opts ...Option) *Future[bool] {
	return Submit(a.pool, func() (bool, error) { return a.svc.IsAppRunning(ctx, bundleName, opts...) })
}
