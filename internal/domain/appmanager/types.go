package appmanager

import (
	"context"
	"strconv"
	"time"
)

// ObserverID is the opaque handle returned by observer registration.
// Handles compare with == and are never computed on.
type ObserverID struct {
	v int32
}

// ObserverIDFrom rebuilds a handle from its wire value.
func ObserverIDFrom(v int32) ObserverID { return ObserverID{v: v} }

// Value returns the wire value of the handle.
func (id ObserverID) Value() int32 { return id.v }

// IsZero reports whether id is the empty handle.
func (id ObserverID) IsZero() bool { return id.v <= 0 }

func (id ObserverID) String() string { return strconv.FormatInt(int64(id.v), 10) }

// BundleType distinguishes regular apps from atomic services.
type BundleType string

const (
	BundleTypeApp           BundleType = "app"
	BundleTypeAtomicService BundleType = "atomicService"
)

// ProcessInformation describes one running process.
type ProcessInformation struct {
	PID           int32        `json:"pid" yaml:"pid"`
	UID           int32        `json:"uid" yaml:"uid"`
	ProcessName   string       `json:"processName" yaml:"processName"`
	BundleNames   []string     `json:"bundleNames" yaml:"bundleNames"`
	State         ProcessState `json:"state" yaml:"state"`
	BundleType    BundleType   `json:"bundleType" yaml:"bundleType"`
	AppCloneIndex int32        `json:"appCloneIndex" yaml:"appCloneIndex"`
	StartedAt     time.Time    `json:"startedAt" yaml:"startedAt"`
}

// HasBundle reports whether the process hosts bundle.
func (p ProcessInformation) HasBundle(bundle string) bool {
	for _, b := range p.BundleNames {
		if b == bundle {
			return true
		}
	}
	return false
}

// ProcessData is delivered for process-level transitions.
type ProcessData struct {
	BundleName    string       `json:"bundleName"`
	PID           int32        `json:"pid"`
	UID           int32        `json:"uid"`
	ProcessName   string       `json:"processName"`
	State         ProcessState `json:"state"`
	AppCloneIndex int32        `json:"appCloneIndex"`
}

// AppStateData is delivered for application-level transitions.
type AppStateData struct {
	BundleName    string       `json:"bundleName"`
	UID           int32        `json:"uid"`
	State         ProcessState `json:"state"`
	AppCloneIndex int32        `json:"appCloneIndex"`
}

// EventKind names an observer callback.
type EventKind string

const (
	EventForegroundApplicationChanged EventKind = "foregroundApplicationChanged"
	EventProcessCreated               EventKind = "processCreated"
	EventProcessDied                  EventKind = "processDied"
	EventProcessStateChanged          EventKind = "processStateChanged"
	EventAppStarted                   EventKind = "appStarted"
	EventAppStopped                   EventKind = "appStopped"
)

// IsProcessEvent reports whether the kind carries ProcessData.
func (k EventKind) IsProcessEvent() bool {
	switch k {
	case EventProcessCreated, EventProcessDied, EventProcessStateChanged:
		return true
	}
	return false
}

// Event is the transport envelope for one observer notification.
// Exactly one of Process or App is set, depending on Kind.
type Event struct {
	Kind    EventKind     `json:"kind"`
	Process *ProcessData  `json:"process,omitempty"`
	App     *AppStateData `json:"app,omitempty"`
}

// BundleName returns the bundle the event is about.
func (e Event) BundleName() string {
	if e.Process != nil {
		return e.Process.BundleName
	}
	if e.App != nil {
		return e.App.BundleName
	}
	return ""
}

// StateObserver receives lifecycle notifications from the host.
// Callbacks for one subscription are invoked sequentially, in publish order.
type StateObserver interface {
	OnForegroundApplicationChanged(AppStateData)
	OnProcessCreated(ProcessData)
	OnProcessDied(ProcessData)
	OnProcessStateChanged(ProcessData)
	OnAppStarted(AppStateData)
	OnAppStopped(AppStateData)
}

// Detacher is implemented by observers that want to know when their
// subscription has been removed.
type Detacher interface {
	OnDetached()
}

// ObserverFuncs adapts plain functions to StateObserver. Nil fields are skipped.
type ObserverFuncs struct {
	ForegroundApplicationChanged func(AppStateData)
	ProcessCreated               func(ProcessData)
	ProcessDied                  func(ProcessData)
	ProcessStateChanged          func(ProcessData)
	AppStarted                   func(AppStateData)
	AppStopped                   func(AppStateData)
	Detached                     func()
}

func (f ObserverFuncs) OnForegroundApplicationChanged(d AppStateData) {
	if f.ForegroundApplicationChanged != nil {
		f.ForegroundApplicationChanged(d)
	}
}

func (f ObserverFuncs) OnProcessCreated(d ProcessData) {
	if f.ProcessCreated != nil {
		f.ProcessCreated(d)
	}
}

func (f ObserverFuncs) OnProcessDied(d ProcessData) {
	if f.ProcessDied != nil {
		f.ProcessDied(d)
	}
}

func (f ObserverFuncs) OnProcessStateChanged(d ProcessData) {
	if f.ProcessStateChanged != nil {
		f.ProcessStateChanged(d)
	}
}

func (f ObserverFuncs) OnAppStarted(d AppStateData) {
	if f.AppStarted != nil {
		f.AppStarted(d)
	}
}

func (f ObserverFuncs) OnAppStopped(d AppStateData) {
	if f.AppStopped != nil {
		f.AppStopped(d)
	}
}

func (f ObserverFuncs) OnDetached() {
	if f.Detached != nil {
		f.Detached()
	}
}

// EventFunc turns a single event sink into a StateObserver.
type EventFunc func(Event)

func (f EventFunc) OnForegroundApplicationChanged(d AppStateData) {
	f(Event{Kind: EventForegroundApplicationChanged, App: &d})
}
func (f EventFunc) OnProcessCreated(d ProcessData) { f(Event{Kind: EventProcessCreated, Process: &d}) }
func (f EventFunc) OnProcessDied(d ProcessData)    { f(Event{Kind: EventProcessDied, Process: &d}) }
func (f EventFunc) OnProcessStateChanged(d ProcessData) {
	f(Event{Kind: EventProcessStateChanged, Process: &d})
}
func (f EventFunc) OnAppStarted(d AppStateData) { f(Event{Kind: EventAppStarted, App: &d}) }
func (f EventFunc) OnAppStopped(d AppStateData) { f(Event{Kind: EventAppStopped, App: &d}) }

// Deliver invokes the observer callback matching ev.Kind.
// Events with a missing payload are ignored.
func Deliver(o StateObserver, ev Event) {
	switch ev.Kind {
	case EventForegroundApplicationChanged:
		if ev.App != nil {
			o.OnForegroundApplicationChanged(*ev.App)
		}
	case EventAppStarted:
		if ev.App != nil {
			o.OnAppStarted(*ev.App)
		}
	case EventAppStopped:
		if ev.App != nil {
			o.OnAppStopped(*ev.App)
		}
	case EventProcessCreated:
		if ev.Process != nil {
			o.OnProcessCreated(*ev.Process)
		}
	case EventProcessDied:
		if ev.Process != nil {
			o.OnProcessDied(*ev.Process)
		}
	case EventProcessStateChanged:
		if ev.Process != nil {
			o.OnProcessStateChanged(*ev.Process)
		}
	}
}

// Caller identifies the application issuing a request.
type Caller struct {
	ID         string `json:"id"`
	BundleName string `json:"bundleName"`
	UID        int32  `json:"uid"`
	PID        int32  `json:"pid"`
}

// Anonymous reports whether no identity was resolved.
func (c Caller) Anonymous() bool { return c.ID == "" }

type callerKey struct{}

// WithCaller attaches the caller identity to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller attached to ctx, or the anonymous caller.
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}
