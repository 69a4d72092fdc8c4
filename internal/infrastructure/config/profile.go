package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Profile describes the reference host: device facts, installed bundles and
// the callers allowed to talk to it.
type Profile struct {
	Device  ProfileDevice   `toml:"device"`
	Bundles []ProfileBundle `toml:"bundles"`
	Callers []ProfileCaller `toml:"callers"`
}

// ProfileDevice overrides DeviceConfig fields that are set.
type ProfileDevice struct {
	StabilityTest  *bool   `toml:"stability_test"`
	RAMConstrained *string `toml:"ram_constrained"`
	RAMThresholdMB *uint64 `toml:"ram_threshold_mb"`
	AppMemoryMB    *int    `toml:"app_memory_mb"`
}

// ProfileBundle is one installed bundle.
type ProfileBundle struct {
	Name       string  `toml:"name"`
	Type       string  `toml:"type"`
	UID        int32   `toml:"uid"`
	Clones     []int32 `toml:"clones"`
	Executable string  `toml:"executable"`
}

// ProfileCaller is one known caller. TokenHash is a bcrypt hash of the
// secret half of its bearer token.
type ProfileCaller struct {
	ID          string   `toml:"id"`
	BundleName  string   `toml:"bundle_name"`
	UID         int32    `toml:"uid"`
	PID         int32    `toml:"pid"`
	TokenHash   string   `toml:"token_hash"`
	Permissions []string `toml:"permissions"`
}

// LoadProfile reads a TOML profile. An empty path yields an empty profile.
func LoadProfile(path string) (*Profile, error) {
	if path == "" {
		return &Profile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates a TOML profile.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("parse profile at %d:%d: %w", row, col, err)
		}
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks bundle and caller uniqueness.
func (p *Profile) Validate() error {
	bundles := make(map[string]struct{}, len(p.Bundles))
	for i, b := range p.Bundles {
		if b.Name == "" {
			return fmt.Errorf("bundles[%d]: name is required", i)
		}
		if _, dup := bundles[b.Name]; dup {
			return fmt.Errorf("bundles[%d]: duplicate bundle %q", i, b.Name)
		}
		switch b.Type {
		case "", "app", "atomicService":
		default:
			return fmt.Errorf("bundles[%d]: unknown type %q", i, b.Type)
		}
		bundles[b.Name] = struct{}{}
	}

	callers := make(map[string]struct{}, len(p.Callers))
	for i, c := range p.Callers {
		if c.ID == "" {
			return fmt.Errorf("callers[%d]: id is required", i)
		}
		if _, dup := callers[c.ID]; dup {
			return fmt.Errorf("callers[%d]: duplicate caller %q", i, c.ID)
		}
		callers[c.ID] = struct{}{}
	}
	return nil
}

// Apply overlays the profile's device section onto cfg.
func (p *Profile) Apply(cfg *DeviceConfig) {
	d := p.Device
	if d.StabilityTest != nil {
		cfg.StabilityTest = *d.StabilityTest
	}
	if d.RAMConstrained != nil {
		cfg.RAMConstrained = *d.RAMConstrained
	}
	if d.RAMThresholdMB != nil {
		cfg.RAMThresholdMB = *d.RAMThresholdMB
	}
	if d.AppMemoryMB != nil {
		cfg.AppMemoryMB = *d.AppMemoryMB
	}
}

// Marshal encodes the profile as TOML.
func (p *Profile) Marshal() ([]byte, error) {
	return toml.Marshal(p)
}
