// Package permission holds per-caller permission grants, the audit trail of
// permission decisions, and the bearer-token store that maps transport
// credentials to callers.
package permission

import (
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

// DefaultAuditSize is the number of decisions kept when none is configured.
const DefaultAuditSize = 512

// AuditEntry represents a permission check audit log
type AuditEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	CallerID    string    `json:"callerId"`
	BundleName  string    `json:"bundleName,omitempty"`
	Operation   string    `json:"operation"`
	Permissions []string  `json:"permissions"`
	Allowed     bool      `json:"allowed"`
}

// Checker decides whether callers hold permissions.
type Checker struct {
	mu     sync.RWMutex
	grants map[string]map[string]struct{} // caller ID -> permissions

	auditMu   sync.Mutex
	audit     []AuditEntry // ring buffer
	auditNext int
	auditFull bool

	now func() time.Time
}

// NewChecker creates a checker keeping the last auditSize decisions.
func NewChecker(auditSize int) *Checker {
	if auditSize <= 0 {
		auditSize = DefaultAuditSize
	}
	return &Checker{
		grants: make(map[string]map[string]struct{}),
		audit:  make([]AuditEntry, auditSize),
		now:    time.Now,
	}
}

// Grant gives callerID the listed permissions.
func (c *Checker) Grant(callerID string, perms ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.grants[callerID]
	if !ok {
		set = make(map[string]struct{}, len(perms))
		c.grants[callerID] = set
	}
	for _, p := range perms {
		set[p] = struct{}{}
	}
}

// Revoke removes the listed permissions, or all of them when none are listed.
func (c *Checker) Revoke(callerID string, perms ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(perms) == 0 {
		delete(c.grants, callerID)
		return
	}
	set := c.grants[callerID]
	for _, p := range perms {
		delete(set, p)
	}
}

// Granted lists the permissions of callerID, sorted.
func (c *Checker) Granted(callerID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.grants[callerID]))
	for p := range c.grants[callerID] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Has reports whether caller holds any of perms. Anonymous callers hold nothing.
func (c *Checker) Has(caller appmanager.Caller, perms ...string) bool {
	if caller.Anonymous() {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := c.grants[caller.ID]
	for _, p := range perms {
		if _, ok := set[p]; ok {
			return true
		}
	}
	return false
}

// Check is Has plus an audit record for op.
func (c *Checker) Check(caller appmanager.Caller, op string, perms ...string) bool {
	allowed := c.Has(caller, perms...)
	c.record(AuditEntry{
		Timestamp:   c.now(),
		CallerID:    caller.ID,
		BundleName:  caller.BundleName,
		Operation:   op,
		Permissions: perms,
		Allowed:     allowed,
	})
	return allowed
}

// Require returns a permission-denied error for op unless caller holds any of perms.
func (c *Checker) Require(caller appmanager.Caller, op string, perms ...string) error {
	if c.Check(caller, op, perms...) {
		return nil
	}
	return appmanager.PermissionDenied(op, perms...)
}

// Audit returns up to limit recent decisions, newest first, optionally
// filtered to one caller. limit <= 0 returns everything kept.
func (c *Checker) Audit(callerID string, limit int) []AuditEntry {
	c.auditMu.Lock()
	defer c.auditMu.Unlock()

	n := c.auditNext
	if c.auditFull {
		n = len(c.audit)
	}
	out := make([]AuditEntry, 0, n)
	for i := 0; i < n; i++ {
		idx := (c.auditNext - 1 - i + len(c.audit)) % len(c.audit)
		e := c.audit[idx]
		if callerID != "" && e.CallerID != callerID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (c *Checker) record(e AuditEntry) {
	c.auditMu.Lock()
	defer c.auditMu.Unlock()

	c.audit[c.auditNext] = e
	c.auditNext++
	if c.auditNext == len(c.audit) {
		c.auditNext = 0
		c.auditFull = true
	}
}
