package appmanager

import (
	"fmt"
	"strings"
)

// ProcessState is the coarse lifecycle stage a process is reported in.
// The numeric values are part of the contract and must not be reordered.
type ProcessState int32

const (
	// StateCreate is reported while the process is being created.
	StateCreate ProcessState = iota
	// StateForeground is reported when the process switches to the foreground.
	StateForeground
	// StateActive is reported while the process has focus.
	StateActive
	// StateBackground is reported while the process is invisible in the background.
	StateBackground
	// StateDestroy is reported when the process is destroyed.
	StateDestroy
)

var stateNames = [...]string{
	StateCreate:     "STATE_CREATE",
	StateForeground: "STATE_FOREGROUND",
	StateActive:     "STATE_ACTIVE",
	StateBackground: "STATE_BACKGROUND",
	StateDestroy:    "STATE_DESTROY",
}

// ProcessStates lists every state in declaration order.
func ProcessStates() []ProcessState {
	return []ProcessState{StateCreate, StateForeground, StateActive, StateBackground, StateDestroy}
}

// Valid reports whether s is one of the declared states.
func (s ProcessState) Valid() bool {
	return s >= StateCreate && s <= StateDestroy
}

// String returns the declared name, e.g. "STATE_ACTIVE".
func (s ProcessState) String() string {
	if !s.Valid() {
		return fmt.Sprintf("ProcessState(%d)", int32(s))
	}
	return stateNames[s]
}

// Visible reports whether the state counts as foreground for app-level reporting.
func (s ProcessState) Visible() bool {
	return s == StateForeground || s == StateActive
}

// MarshalText implements encoding.TextMarshaler.
func (s ProcessState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid process state %d", int32(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ProcessState) UnmarshalText(text []byte) error {
	parsed, err := ParseProcessState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseProcessState accepts "STATE_ACTIVE", "active" or "Active".
func ParseProcessState(name string) (ProcessState, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(key, "STATE_") {
		key = "STATE_" + key
	}
	for i, n := range stateNames {
		if n == key {
			return ProcessState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown process state %q", name)
}
