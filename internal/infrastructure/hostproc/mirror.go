// Package hostproc mirrors real OS processes into the process table. OS
// processes whose executable name matches a catalogued bundle are adopted in
// the background state and reaped once they vanish.
package hostproc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/bundle"
	procs "github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/process"
)

// HostProcess is one OS process as seen by a Lister.
type HostProcess struct {
	PID  int32
	Name string
	UID  int32
}

// Lister enumerates OS processes.
type Lister interface {
	List(ctx context.Context) ([]HostProcess, error)
}

// SystemLister enumerates processes with gopsutil.
type SystemLister struct{}

// List implements Lister. Processes that vanish mid-scan are skipped.
func (SystemLister) List(ctx context.Context) ([]HostProcess, error) {
	ps, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	out := make([]HostProcess, 0, len(ps))
	for _, p := range ps {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		hp := HostProcess{PID: p.Pid, Name: name}
		if uids, err := p.UidsWithContext(ctx); err == nil && len(uids) > 0 {
			hp.UID = uids[0]
		}
		out = append(out, hp)
	}
	return out, nil
}

// Mirror keeps host rows of the registry in step with the OS.
type Mirror struct {
	registry *procs.Registry
	catalog  *bundle.Catalog
	lister   Lister
	interval time.Duration
	logger   *zap.Logger
}

// NewMirror creates a mirror. A nil lister uses SystemLister.
func NewMirror(registry *procs.Registry, catalog *bundle.Catalog, lister Lister, interval time.Duration, logger *zap.Logger) *Mirror {
	if lister == nil {
		lister = SystemLister{}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		registry: registry,
		catalog:  catalog,
		lister:   lister,
		interval: interval,
		logger:   logger,
	}
}

// SyncResult summarizes one pass.
type SyncResult struct {
	Adopted int
	Reaped  int
	// Conflicts counts OS processes whose PID is held by an emulated row.
	Conflicts int
}

// Sync runs one reconcile pass.
func (m *Mirror) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult

	hostProcs, err := m.lister.List(ctx)
	if err != nil {
		return res, err
	}

	seen := make(map[int32]struct{}, len(hostProcs))
	for _, hp := range hostProcs {
		entry, ok := m.catalog.ByExecutable(hp.Name)
		if !ok {
			continue
		}
		seen[hp.PID] = struct{}{}
		if row, exists := m.registry.Get(hp.PID); exists {
			if !row.Host {
				res.Conflicts++
				m.logger.Warn("Host process PID held by emulated process",
					zap.Int32("pid", hp.PID),
					zap.String("bundle", row.BundleName),
				)
			}
			continue
		}
		if m.adopt(hp, entry) {
			res.Adopted++
		}
	}

	for _, pid := range m.registry.HostPIDs() {
		if _, alive := seen[pid]; alive {
			continue
		}
		if err := m.registry.Exit(pid); err == nil {
			res.Reaped++
		}
	}

	if res.Adopted > 0 || res.Reaped > 0 {
		m.logger.Debug("Host processes mirrored",
			zap.Int("adopted", res.Adopted),
			zap.Int("reaped", res.Reaped),
		)
	}
	return res, nil
}

func (m *Mirror) adopt(hp HostProcess, entry bundle.Entry) bool {
	uid := entry.UID
	if uid == 0 {
		uid = hp.UID
	}
	_, err := m.registry.Launch(procs.LaunchSpec{
		BundleName:  entry.Name,
		ProcessName: hp.Name,
		UID:         uid,
		BundleType:  entry.Type,
		PID:         hp.PID,
		Host:        true,
	})
	if err != nil {
		if !errors.Is(err, procs.ErrPIDInUse) {
			m.logger.Warn("Failed to adopt host process", zap.Int32("pid", hp.PID), zap.Error(err))
		}
		return false
	}
	if err := m.registry.Transition(hp.PID, appmanager.StateBackground); err != nil {
		m.logger.Warn("Failed to background host process", zap.Int32("pid", hp.PID), zap.Error(err))
	}
	return true
}

// Run syncs every interval until ctx is done.
func (m *Mirror) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if _, err := m.Sync(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("Host process scan failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Terminator sends SIGTERM to OS processes through gopsutil.
type Terminator struct{}

// Terminate implements host.Terminator.
func (Terminator) Terminate(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return fmt.Errorf("process %d: %w", pid, err)
	}
	return p.TerminateWithContext(ctx)
}
