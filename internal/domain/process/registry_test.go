package process

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

type eventLog struct {
	mu     sync.Mutex
	events []appmanager.Event
}

func (l *eventLog) Publish(ev appmanager.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []appmanager.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]appmanager.EventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

type stateGauge struct {
	last map[appmanager.ProcessState]int
}

func (g *stateGauge) SetProcessStates(counts map[appmanager.ProcessState]int) {
	g.last = counts
}

func launch(t *testing.T, r *Registry, bundle string, clone int32) int32 {
	t.Helper()
	info, err := r.Launch(LaunchSpec{BundleName: bundle, CloneIndex: clone})
	require.NoError(t, err)
	return info.PID
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to appmanager.ProcessState
		ok       bool
	}{
		{appmanager.StateCreate, appmanager.StateForeground, true},
		{appmanager.StateCreate, appmanager.StateActive, false},
		{appmanager.StateForeground, appmanager.StateActive, true},
		{appmanager.StateActive, appmanager.StateBackground, true},
		{appmanager.StateBackground, appmanager.StateActive, false},
		{appmanager.StateBackground, appmanager.StateForeground, true},
		{appmanager.StateDestroy, appmanager.StateCreate, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
}

func TestLaunchEmitsCreateAndAppStarted(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(log)

	info, err := r.Launch(LaunchSpec{BundleName: "com.example.mail", UID: 20010001})
	require.NoError(t, err)
	assert.Equal(t, appmanager.StateCreate, info.State)
	assert.Equal(t, "com.example.mail", info.ProcessName)
	assert.Equal(t, appmanager.BundleTypeApp, info.BundleType)
	assert.GreaterOrEqual(t, info.PID, int32(firstSyntheticPID))

	assert.Equal(t, []appmanager.EventKind{
		appmanager.EventProcessCreated,
		appmanager.EventAppStarted,
	}, log.kinds())

	// A second process of the same app does not start the app again.
	log.reset()
	_, err = r.Launch(LaunchSpec{BundleName: "com.example.mail", ProcessName: "com.example.mail:render"})
	require.NoError(t, err)
	assert.Equal(t, []appmanager.EventKind{appmanager.EventProcessCreated}, log.kinds())
}

func TestLaunchExplicitPID(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Launch(LaunchSpec{BundleName: "a", PID: 42, Host: true})
	require.NoError(t, err)

	_, err = r.Launch(LaunchSpec{BundleName: "b", PID: 42})
	assert.ErrorIs(t, err, ErrPIDInUse)
	assert.Equal(t, []int32{42}, r.HostPIDs())

	_, err = r.Launch(LaunchSpec{BundleName: "c", PID: firstSyntheticPID, Host: true})
	assert.ErrorIs(t, err, ErrPIDReserved)
}

func TestSyntheticPIDsStayAboveKernelRange(t *testing.T) {
	r := NewRegistry(nil)
	r.nextPID = math.MaxInt32

	first := launch(t, r, "com.example.mail", 0)
	second := launch(t, r, "com.example.mail", 0)
	assert.EqualValues(t, math.MaxInt32, first)
	assert.True(t, IsSynthetic(second))
	assert.EqualValues(t, firstSyntheticPID, second)
	assert.False(t, IsSynthetic(4194303))
}

func TestTransitionRules(t *testing.T) {
	r := NewRegistry(nil)
	pid := launch(t, r, "com.example.mail", 0)

	var te *TransitionError
	err := r.Transition(pid, appmanager.StateActive)
	require.ErrorAs(t, err, &te)
	assert.Equal(t, appmanager.StateCreate, te.From)

	require.NoError(t, r.Transition(pid, appmanager.StateForeground))
	require.NoError(t, r.Transition(pid, appmanager.StateForeground)) // no-op
	require.NoError(t, r.Transition(pid, appmanager.StateActive))

	p, ok := r.Get(pid)
	require.True(t, ok)
	assert.Equal(t, appmanager.StateActive, p.State)

	assert.ErrorIs(t, r.Transition(99, appmanager.StateForeground), ErrNotFound)
}

func TestSingleActiveProcess(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(log)

	first := launch(t, r, "com.example.mail", 0)
	second := launch(t, r, "com.example.maps", 0)
	for _, pid := range []int32{first, second} {
		require.NoError(t, r.Transition(pid, appmanager.StateForeground))
	}
	require.NoError(t, r.Transition(first, appmanager.StateActive))
	require.NoError(t, r.Transition(second, appmanager.StateActive))

	p, _ := r.Get(first)
	assert.Equal(t, appmanager.StateForeground, p.State)
	assert.Equal(t, second, r.Stats().ActivePID)

	active := 0
	for _, info := range r.List() {
		if info.State == appmanager.StateActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestForegroundApplicationChanged(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(log)
	pid := launch(t, r, "com.example.mail", 0)
	log.reset()

	require.NoError(t, r.Transition(pid, appmanager.StateForeground))
	require.NoError(t, r.Transition(pid, appmanager.StateActive))
	require.NoError(t, r.Transition(pid, appmanager.StateBackground))

	assert.Equal(t, []appmanager.EventKind{
		appmanager.EventProcessStateChanged,
		appmanager.EventForegroundApplicationChanged, // became visible
		appmanager.EventProcessStateChanged,          // active, still visible
		appmanager.EventProcessStateChanged,
		appmanager.EventForegroundApplicationChanged, // went to background
	}, log.kinds())
}

func TestExitEmitsDiedAndAppStopped(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(log)
	main := launch(t, r, "com.example.mail", 0)
	render := launch(t, r, "com.example.mail", 0)
	log.reset()

	require.NoError(t, r.Exit(render))
	assert.Equal(t, []appmanager.EventKind{appmanager.EventProcessDied}, log.kinds())

	log.reset()
	require.NoError(t, r.Exit(main))
	assert.Equal(t, []appmanager.EventKind{
		appmanager.EventProcessDied,
		appmanager.EventAppStopped,
	}, log.kinds())

	_, ok := r.Get(main)
	assert.False(t, ok)
}

func TestKillBundle(t *testing.T) {
	r := NewRegistry(nil)
	launch(t, r, "com.example.mail", 0)
	launch(t, r, "com.example.mail", 0)
	clonePID := launch(t, r, "com.example.mail", 1)
	launch(t, r, "com.example.maps", 0)

	clone := int32(1)
	killed := r.KillBundle("com.example.mail", &clone)
	require.Len(t, killed, 1)
	assert.Equal(t, clonePID, killed[0].PID)
	assert.Equal(t, appmanager.StateDestroy, killed[0].State)

	assert.True(t, r.Running("com.example.mail", nil))
	assert.False(t, r.Running("com.example.mail", &clone))

	killed = r.KillBundle("com.example.mail", nil)
	assert.Len(t, killed, 2)
	assert.True(t, killed[0].PID < killed[1].PID)
	assert.False(t, r.Running("com.example.mail", nil))
	assert.True(t, r.Running("com.example.maps", nil))

	assert.Empty(t, r.KillBundle("com.example.unknown", nil))
}

func TestRegistryMetrics(t *testing.T) {
	g := &stateGauge{}
	r := NewRegistry(nil).WithMetrics(g)

	pid := launch(t, r, "com.example.mail", 0)
	launch(t, r, "com.example.maps", 0)
	require.NoError(t, r.Transition(pid, appmanager.StateBackground))

	assert.Equal(t, 1, g.last[appmanager.StateCreate])
	assert.Equal(t, 1, g.last[appmanager.StateBackground])

	stats := r.Stats()
	assert.Equal(t, 2, stats.Total)
}

func TestRegistryConcurrentLaunch(t *testing.T) {
	r := NewRegistry(&eventLog{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Launch(LaunchSpec{BundleName: "com.example.mail"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pids := make(map[int32]bool)
	for _, info := range r.List() {
		assert.False(t, pids[info.PID])
		pids[info.PID] = true
	}
	assert.Len(t, pids, 50)
}
