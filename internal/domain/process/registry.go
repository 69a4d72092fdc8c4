package process

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

var (
	ErrNotFound    = errors.New("process not found")
	ErrPIDInUse    = errors.New("pid already in use")
	ErrPIDReserved = errors.New("pid reserved for emulated processes")
)

// TransitionError reports a lifecycle move the table does not allow.
type TransitionError struct {
	PID      int32
	From, To appmanager.ProcessState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("process %d: invalid transition %s -> %s", e.PID, e.From, e.To)
}

// Publisher receives lifecycle events. Publish must not block.
type Publisher interface {
	Publish(appmanager.Event)
}

// Metrics receives the state histogram after every mutation.
type Metrics interface {
	SetProcessStates(counts map[appmanager.ProcessState]int)
}

// Process is one row of the table.
type Process struct {
	PID         int32
	UID         int32
	ProcessName string
	BundleName  string
	CloneIndex  int32
	BundleType  appmanager.BundleType
	State       appmanager.ProcessState
	StartedAt   time.Time
	// Host marks rows mirrored from a real OS process.
	Host bool
}

// Info converts the row into the contract record.
func (p *Process) Info() appmanager.ProcessInformation {
	return appmanager.ProcessInformation{
		PID:           p.PID,
		UID:           p.UID,
		ProcessName:   p.ProcessName,
		BundleNames:   []string{p.BundleName},
		State:         p.State,
		BundleType:    p.BundleType,
		AppCloneIndex: p.CloneIndex,
		StartedAt:     p.StartedAt,
	}
}

func (p *Process) data() *appmanager.ProcessData {
	return &appmanager.ProcessData{
		BundleName:    p.BundleName,
		PID:           p.PID,
		UID:           p.UID,
		ProcessName:   p.ProcessName,
		State:         p.State,
		AppCloneIndex: p.CloneIndex,
	}
}

// LaunchSpec describes a process to add.
type LaunchSpec struct {
	BundleName  string
	CloneIndex  int32
	ProcessName string
	UID         int32
	BundleType  appmanager.BundleType
	// PID is allocated when zero.
	PID  int32
	Host bool
}

type appKey struct {
	bundle string
	clone  int32
}

// allowed lists the legal lifecycle moves.
var allowed = map[appmanager.ProcessState][]appmanager.ProcessState{
	appmanager.StateCreate:     {appmanager.StateForeground, appmanager.StateBackground, appmanager.StateDestroy},
	appmanager.StateForeground: {appmanager.StateActive, appmanager.StateBackground, appmanager.StateDestroy},
	appmanager.StateActive:     {appmanager.StateForeground, appmanager.StateBackground, appmanager.StateDestroy},
	appmanager.StateBackground: {appmanager.StateForeground, appmanager.StateDestroy},
}

// stateRank orders states by visibility for app-level aggregation.
var stateRank = map[appmanager.ProcessState]int{
	appmanager.StateDestroy:    0,
	appmanager.StateCreate:     1,
	appmanager.StateBackground: 2,
	appmanager.StateForeground: 3,
	appmanager.StateActive:     4,
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to appmanager.ProcessState) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Registry is the process table of the reference host.
type Registry struct {
	mu        sync.RWMutex
	procs     map[int32]*Process // Protected by mu
	activePID int32              // Protected by mu
	nextPID   int32              // Protected by mu

	publisher Publisher
	metrics   Metrics
	now       func() time.Time
}

// firstSyntheticPID is PID_MAX_LIMIT on Linux: the kernel never hands out a
// PID this large, so emulated rows cannot collide with mirrored ones.
const firstSyntheticPID = 1 << 22

// IsSynthetic reports whether pid lies in the range allocated to emulated
// processes.
func IsSynthetic(pid int32) bool { return pid >= firstSyntheticPID }

// NewRegistry creates an empty table publishing to pub (may be nil).
func NewRegistry(pub Publisher) *Registry {
	return &Registry{
		procs:     make(map[int32]*Process),
		nextPID:   firstSyntheticPID,
		publisher: pub,
		now:       time.Now,
	}
}

// WithMetrics adds metrics tracking to the registry
func (r *Registry) WithMetrics(m Metrics) *Registry {
	r.metrics = m
	return r
}

// Launch adds a process in StateCreate.
func (r *Registry) Launch(spec LaunchSpec) (appmanager.ProcessInformation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pid := spec.PID
	switch {
	case pid == 0:
		pid = r.allocatePID()
	case spec.Host && IsSynthetic(pid):
		return appmanager.ProcessInformation{}, fmt.Errorf("%w: %d", ErrPIDReserved, pid)
	default:
		if _, exists := r.procs[pid]; exists {
			return appmanager.ProcessInformation{}, fmt.Errorf("%w: %d", ErrPIDInUse, pid)
		}
	}

	name := spec.ProcessName
	if name == "" {
		name = spec.BundleName
	}
	bundleType := spec.BundleType
	if bundleType == "" {
		bundleType = appmanager.BundleTypeApp
	}

	key := appKey{bundle: spec.BundleName, clone: spec.CloneIndex}
	firstOfApp := r.appProcessCount(key) == 0

	p := &Process{
		PID:         pid,
		UID:         spec.UID,
		ProcessName: name,
		BundleName:  spec.BundleName,
		CloneIndex:  spec.CloneIndex,
		BundleType:  bundleType,
		State:       appmanager.StateCreate,
		StartedAt:   r.now(),
		Host:        spec.Host,
	}
	r.procs[pid] = p

	r.publish(appmanager.Event{Kind: appmanager.EventProcessCreated, Process: p.data()})
	if firstOfApp {
		r.publish(appmanager.Event{Kind: appmanager.EventAppStarted, App: r.appData(key, appmanager.StateCreate, p.UID)})
	}
	r.recordMetrics()

	return p.Info(), nil
}

// Transition moves a process to state. Activating a process demotes the
// previously active one to StateForeground. Moving to StateDestroy removes it.
func (r *Registry) Transition(pid int32, to appmanager.ProcessState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.procs[pid]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, pid)
	}
	if p.State == to {
		return nil
	}
	if !CanTransition(p.State, to) {
		return &TransitionError{PID: pid, From: p.State, To: to}
	}

	if to == appmanager.StateDestroy {
		r.destroy(p)
		r.recordMetrics()
		return nil
	}

	// Unfocus current active process
	if to == appmanager.StateActive && r.activePID != 0 && r.activePID != pid {
		if current, exists := r.procs[r.activePID]; exists && current.State == appmanager.StateActive {
			r.setState(current, appmanager.StateForeground)
		}
	}

	r.setState(p, to)
	r.recordMetrics()
	return nil
}

// Exit destroys a process.
func (r *Registry) Exit(pid int32) error {
	return r.Transition(pid, appmanager.StateDestroy)
}

// KillBundle destroys every process of bundle, or only the given clone when
// clone is non-nil, and returns the removed rows.
func (r *Registry) KillBundle(bundle string, clone *int32) []Process {
	r.mu.Lock()
	defer r.mu.Unlock()

	var victims []*Process
	for _, p := range r.procs {
		if p.BundleName != bundle {
			continue
		}
		if clone != nil && p.CloneIndex != *clone {
			continue
		}
		victims = append(victims, p)
	}
	// Deterministic event order.
	sort.Slice(victims, func(i, j int) bool { return victims[i].PID < victims[j].PID })

	killed := make([]Process, 0, len(victims))
	for _, p := range victims {
		r.destroy(p)
		killed = append(killed, *p)
	}
	if len(killed) > 0 {
		r.recordMetrics()
	}
	return killed
}

// Get returns a copy of the row for pid.
func (r *Registry) Get(pid int32) (Process, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.procs[pid]
	if !ok {
		return Process{}, false
	}
	return *p, true
}

// List returns every live process as contract records.
func (r *Registry) List() []appmanager.ProcessInformation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]appmanager.ProcessInformation, 0, len(r.procs))
	for _, p := range r.procs {
		out = append(out, p.Info())
	}
	return out
}

// Running reports whether bundle (or the given clone) has a live process.
func (r *Registry) Running(bundle string, clone *int32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.procs {
		if p.BundleName == bundle && (clone == nil || p.CloneIndex == *clone) {
			return true
		}
	}
	return false
}

// HostPIDs returns the PIDs of rows mirrored from OS processes.
func (r *Registry) HostPIDs() []int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pids []int32
	for pid, p := range r.procs {
		if p.Host {
			pids = append(pids, pid)
		}
	}
	return pids
}

// Stats contains process table statistics
type Stats struct {
	Total     int                             `json:"total"`
	ByState   map[appmanager.ProcessState]int `json:"byState"`
	ActivePID int32                           `json:"activePid,omitempty"`
}

// Stats returns table statistics.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Total:     len(r.procs),
		ByState:   r.countStates(),
		ActivePID: r.activePID,
	}
}

// allocatePID must hold lock.
func (r *Registry) allocatePID() int32 {
	for {
		pid := r.nextPID
		if r.nextPID == math.MaxInt32 {
			r.nextPID = firstSyntheticPID
		} else {
			r.nextPID++
		}
		if _, used := r.procs[pid]; !used {
			return pid
		}
	}
}

// setState must hold lock.
func (r *Registry) setState(p *Process, to appmanager.ProcessState) {
	key := appKey{bundle: p.BundleName, clone: p.CloneIndex}
	before := r.appState(key)

	p.State = to
	switch {
	case to == appmanager.StateActive:
		r.activePID = p.PID
	case r.activePID == p.PID:
		r.activePID = 0
	}

	r.publish(appmanager.Event{Kind: appmanager.EventProcessStateChanged, Process: p.data()})

	after := r.appState(key)
	if before.Visible() != after.Visible() {
		r.publish(appmanager.Event{
			Kind: appmanager.EventForegroundApplicationChanged,
			App:  r.appData(key, after, p.UID),
		})
	}
}

// destroy must hold lock.
func (r *Registry) destroy(p *Process) {
	key := appKey{bundle: p.BundleName, clone: p.CloneIndex}

	p.State = appmanager.StateDestroy
	delete(r.procs, p.PID)
	if r.activePID == p.PID {
		r.activePID = 0
	}

	r.publish(appmanager.Event{Kind: appmanager.EventProcessDied, Process: p.data()})
	if r.appProcessCount(key) == 0 {
		r.publish(appmanager.Event{Kind: appmanager.EventAppStopped, App: r.appData(key, appmanager.StateDestroy, p.UID)})
	}
}

// appState aggregates the states of an app's processes; must hold lock.
func (r *Registry) appState(key appKey) appmanager.ProcessState {
	state := appmanager.StateDestroy
	for _, p := range r.procs {
		if p.BundleName == key.bundle && p.CloneIndex == key.clone && stateRank[p.State] > stateRank[state] {
			state = p.State
		}
	}
	return state
}

func (r *Registry) appProcessCount(key appKey) int {
	n := 0
	for _, p := range r.procs {
		if p.BundleName == key.bundle && p.CloneIndex == key.clone {
			n++
		}
	}
	return n
}

func (r *Registry) appData(key appKey, state appmanager.ProcessState, uid int32) *appmanager.AppStateData {
	return &appmanager.AppStateData{
		BundleName:    key.bundle,
		UID:           uid,
		State:         state,
		AppCloneIndex: key.clone,
	}
}

func (r *Registry) countStates() map[appmanager.ProcessState]int {
	counts := make(map[appmanager.ProcessState]int, 4)
	for _, p := range r.procs {
		counts[p.State]++
	}
	return counts
}

// publish runs under the lock so events leave in mutation order.
func (r *Registry) publish(ev appmanager.Event) {
	if r.publisher != nil {
		r.publisher.Publish(ev)
	}
}

func (r *Registry) recordMetrics() {
	if r.metrics != nil {
		r.metrics.SetProcessStates(r.countStates())
	}
}
