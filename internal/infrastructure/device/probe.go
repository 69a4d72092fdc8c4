// Package device answers the device-level queries of the application manager
// (RAM-constrained flag, per-app memory size, stability-test flag) from
// configuration and from the machine's memory statistics.
package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// RAMConstrained overrides automatic detection.
type RAMConstrained string

const (
	RAMConstrainedAuto  RAMConstrained = "auto"
	RAMConstrainedTrue  RAMConstrained = "true"
	RAMConstrainedFalse RAMConstrained = "false"
)

// ParseRAMConstrained accepts auto/true/false (case-insensitive); empty is auto.
func ParseRAMConstrained(s string) (RAMConstrained, error) {
	switch v := RAMConstrained(strings.ToLower(strings.TrimSpace(s))); v {
	case "", RAMConstrainedAuto:
		return RAMConstrainedAuto, nil
	case RAMConstrainedTrue, RAMConstrainedFalse:
		return v, nil
	default:
		return "", fmt.Errorf("invalid ram_constrained value %q", s)
	}
}

// Derived app memory size bounds, in MB.
const (
	minAppMemoryMB = 128
	maxAppMemoryMB = 2048
)

// Config holds device facts.
type Config struct {
	StabilityTest  bool
	RAMConstrained RAMConstrained
	// ThresholdMB is the total RAM at or below which the device is constrained.
	ThresholdMB uint64
	// AppMemoryMB overrides the derived per-app memory size when positive.
	AppMemoryMB int
	// CacheTTL bounds how long a memory reading is reused.
	CacheTTL time.Duration
}

// DefaultConfig returns auto-detection with a 3 GB threshold.
func DefaultConfig() Config {
	return Config{
		RAMConstrained: RAMConstrainedAuto,
		ThresholdMB:    3072,
		CacheTTL:       30 * time.Second,
	}
}

// MemorySource reports total physical memory in bytes.
type MemorySource func(ctx context.Context) (uint64, error)

// SystemMemory reads total memory with gopsutil.
func SystemMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

// Probe answers device queries.
type Probe struct {
	cfg    Config
	source MemorySource

	mu        sync.Mutex
	totalMB   uint64
	readAt    time.Time
	now       func() time.Time
	stability bool
}

// NewProbe creates a probe. A nil source reads the system memory.
func NewProbe(cfg Config, source MemorySource) *Probe {
	if source == nil {
		source = SystemMemory
	}
	if cfg.RAMConstrained == "" {
		cfg.RAMConstrained = RAMConstrainedAuto
	}
	return &Probe{cfg: cfg, source: source, now: time.Now, stability: cfg.StabilityTest}
}

// StabilityTest reports the stability-test flag.
func (p *Probe) StabilityTest(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stability, nil
}

// SetStabilityTest flips the stability-test flag at runtime.
func (p *Probe) SetStabilityTest(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stability = on
}

// RAMConstrained reports whether the device is RAM constrained.
func (p *Probe) RAMConstrained(ctx context.Context) (bool, error) {
	switch p.cfg.RAMConstrained {
	case RAMConstrainedTrue:
		return true, nil
	case RAMConstrainedFalse:
		return false, nil
	}
	total, err := p.TotalMB(ctx)
	if err != nil {
		return false, err
	}
	return total <= p.cfg.ThresholdMB, nil
}

// AppMemoryMB returns the per-application memory size in MB.
func (p *Probe) AppMemoryMB(ctx context.Context) (int, error) {
	if p.cfg.AppMemoryMB > 0 {
		return p.cfg.AppMemoryMB, nil
	}
	total, err := p.TotalMB(ctx)
	if err != nil {
		return 0, err
	}
	size := int(total / 8)
	if size < minAppMemoryMB {
		size = minAppMemoryMB
	}
	if size > maxAppMemoryMB {
		size = maxAppMemoryMB
	}
	return size, nil
}

// TotalMB returns total physical memory in MB, cached for CacheTTL.
func (p *Probe) TotalMB(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.readAt.IsZero() && p.now().Sub(p.readAt) < p.cfg.CacheTTL {
		return p.totalMB, nil
	}
	total, err := p.source(ctx)
	if err != nil {
		return 0, fmt.Errorf("read memory: %w", err)
	}
	if total == 0 {
		return 0, fmt.Errorf("read memory: total reported as zero")
	}
	p.totalMB = total / (1024 * 1024)
	p.readAt = p.now()
	return p.totalMB, nil
}
