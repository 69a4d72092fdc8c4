// Package bundle keeps the catalog of installed bundles and their clones.
package bundle

import (
	"sort"
	"sync"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

// Entry is one installed bundle.
type Entry struct {
	Name string
	Type appmanager.BundleType
	UID  int32
	// Clones lists installed clone indices; 0 is the main instance and is
	// always implied.
	Clones []int32
	// Executable is the OS process name used to mirror host processes.
	Executable string
}

// HasClone reports whether idx is installed for the bundle.
func (e Entry) HasClone(idx int32) bool {
	if idx == 0 {
		return true
	}
	for _, c := range e.Clones {
		if c == idx {
			return true
		}
	}
	return false
}

// Catalog is a concurrency-safe set of entries keyed by bundle name.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewCatalog creates a catalog holding entries.
func NewCatalog(entries ...Entry) *Catalog {
	c := &Catalog{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		c.Install(e)
	}
	return c
}

// Install adds or replaces an entry.
func (c *Catalog) Install(e Entry) {
	if e.Type == "" {
		e.Type = appmanager.BundleTypeApp
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Name] = e
}

// Uninstall removes an entry.
func (c *Catalog) Uninstall(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}

// Lookup returns the entry for name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	return e, ok
}

// ByExecutable returns the entry whose Executable is exe.
func (c *Catalog) ByExecutable(exe string) (Entry, bool) {
	if exe == "" {
		return Entry{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.Executable == exe {
			return e, true
		}
	}
	return Entry{}, false
}

// ValidClone reports whether idx may address bundle: it must lie in the
// contract range, and when the bundle is catalogued it must be installed.
func (c *Catalog) ValidClone(bundle string, idx int32) bool {
	if !appmanager.CloneIndexInRange(idx) {
		return false
	}
	e, ok := c.Lookup(bundle)
	if !ok {
		return true
	}
	return e.HasClone(idx)
}

// Names lists catalogued bundle names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for name := range c.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
