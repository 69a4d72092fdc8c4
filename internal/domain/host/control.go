package host

import (
	"errors"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/process"
)

// LaunchRequest asks the host to start an emulated process.
type LaunchRequest struct {
	BundleName  string `json:"bundleName" binding:"required"`
	CloneIndex  int32  `json:"appCloneIndex"`
	ProcessName string `json:"processName"`
}

// Launch starts an emulated process in StateCreate. Catalogued bundles take
// their UID and type from the catalog.
func (s *Service) Launch(req LaunchRequest) (appmanager.ProcessInformation, error) {
	if err := appmanager.ValidateBundleName(OpLaunch, req.BundleName); err != nil {
		return appmanager.ProcessInformation{}, err
	}
	if !s.catalog.ValidClone(req.BundleName, req.CloneIndex) {
		return appmanager.ProcessInformation{}, appmanager.InvalidParam(OpLaunch,
			"clone index %d is not valid for %s", req.CloneIndex, req.BundleName)
	}

	spec := process.LaunchSpec{
		BundleName:  req.BundleName,
		CloneIndex:  req.CloneIndex,
		ProcessName: req.ProcessName,
	}
	if entry, ok := s.catalog.Lookup(req.BundleName); ok {
		spec.UID = entry.UID
		spec.BundleType = entry.Type
	}

	info, err := s.registry.Launch(spec)
	if err != nil {
		return appmanager.ProcessInformation{}, appmanager.Internal(OpLaunch, err)
	}
	s.logger.Info("Process launched",
		zap.Int32("pid", info.PID),
		zap.String("bundle", req.BundleName),
		zap.Int32("clone", req.CloneIndex),
	)
	return info, nil
}

// Transition moves an emulated process to state.
func (s *Service) Transition(pid int32, state appmanager.ProcessState) error {
	if !state.Valid() {
		return appmanager.InvalidParam(OpTransition, "unknown state %d", int32(state))
	}
	return registryError(OpTransition, s.registry.Transition(pid, state))
}

// Exit destroys a process.
func (s *Service) Exit(pid int32) error {
	return registryError(OpExit, s.registry.Exit(pid))
}

func registryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *process.TransitionError
	switch {
	case errors.Is(err, process.ErrNotFound):
		return appmanager.InvalidParam(op, "%v", err)
	case errors.As(err, &te):
		return appmanager.InvalidParam(op, "%v", err)
	default:
		return appmanager.Internal(op, err)
	}
}
