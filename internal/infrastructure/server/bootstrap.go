package server

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/bundle"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/permission"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/device"
)

// catalogFrom installs the profile's bundles.
func catalogFrom(p *config.Profile) *bundle.Catalog {
	entries := make([]bundle.Entry, 0, len(p.Bundles))
	for _, b := range p.Bundles {
		typ := appmanager.BundleTypeApp
		if b.Type != "" {
			typ = appmanager.BundleType(b.Type)
		}
		entries = append(entries, bundle.Entry{
			Name:       b.Name,
			Type:       typ,
			UID:        b.UID,
			Clones:     b.Clones,
			Executable: b.Executable,
		})
	}
	return bundle.NewCatalog(entries...)
}

// callersFrom loads grants into checker and token hashes into a token store.
// Callers without a token hash can be granted permissions but cannot
// authenticate.
func callersFrom(p *config.Profile, checker *permission.Checker) *permission.Tokens {
	tokens := permission.NewTokens()
	for _, c := range p.Callers {
		caller := appmanager.Caller{ID: c.ID, BundleName: c.BundleName, UID: c.UID, PID: c.PID}
		if len(c.Permissions) > 0 {
			checker.Grant(c.ID, c.Permissions...)
		}
		if c.TokenHash != "" {
			tokens.Add(caller, c.TokenHash)
		}
	}
	return tokens
}

// deviceConfig converts env and profile device settings for the probe.
func deviceConfig(cfg config.DeviceConfig) (device.Config, error) {
	mode, err := device.ParseRAMConstrained(cfg.RAMConstrained)
	if err != nil {
		return device.Config{}, fmt.Errorf("device config: %w", err)
	}
	dc := device.DefaultConfig()
	dc.StabilityTest = cfg.StabilityTest
	dc.RAMConstrained = mode
	if cfg.RAMThresholdMB > 0 {
		dc.ThresholdMB = cfg.RAMThresholdMB
	}
	dc.AppMemoryMB = cfg.AppMemoryMB
	return dc, nil
}
