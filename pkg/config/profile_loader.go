package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientProfile is a named deployment profile. Zero fields leave the
// environment configuration untouched.
type ClientProfile struct {
	Name         string             `yaml:"name" json:"name"`
	Functions    FunctionsProfile   `yaml:"functions" json:"functions"`
	Registration RegistrationLimits `yaml:"registration" json:"registration"`
	Calls        CallLimits         `yaml:"calls" json:"calls"`
}

// FunctionsProfile locates the remote procedures.
type FunctionsProfile struct {
	BaseURL              string `yaml:"base_url" json:"base_url"`
	InsertOrUpdateRegion string `yaml:"insert_or_update_region" json:"insert_or_update_region"`
	DeleteRegion         string `yaml:"delete_region" json:"delete_region"`
}

type RegistrationLimits struct {
	StaleAfter    string `yaml:"stale_after,omitempty" json:"stale_after,omitempty"`
	WriteInterval string `yaml:"write_interval,omitempty" json:"write_interval,omitempty"`
	WriteBurst    int    `yaml:"write_burst,omitempty" json:"write_burst,omitempty"`
}

type CallLimits struct {
	VoIPDeadline string `yaml:"voip_deadline,omitempty" json:"voip_deadline,omitempty"`
}

// LoadProfile loads profile_<name>.yaml from profilesDir.
func LoadProfile(profilesDir, name string) (*ClientProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile ClientProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	if err := profile.validate(); err != nil {
		return nil, fmt.Errorf("profile %q: %w", name, err)
	}
	return &profile, nil
}

func (p *ClientProfile) validate() error {
	for field, v := range map[string]string{
		"registration.stale_after":    p.Registration.StaleAfter,
		"registration.write_interval": p.Registration.WriteInterval,
		"calls.voip_deadline":         p.Calls.VoIPDeadline,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("invalid %s %q", field, v)
		}
	}
	return nil
}

// Apply overlays the profile on cfg.
func (p *ClientProfile) Apply(cfg *Config) {
	if p.Functions.BaseURL != "" {
		cfg.FunctionsURL = p.Functions.BaseURL
	}
	if p.Functions.InsertOrUpdateRegion != "" {
		cfg.InsertOrUpdateRegion = p.Functions.InsertOrUpdateRegion
	}
	if p.Functions.DeleteRegion != "" {
		cfg.DeleteRegion = p.Functions.DeleteRegion
	}
	if p.Registration.WriteBurst > 0 {
		cfg.WriteBurst = p.Registration.WriteBurst
	}
	// Durations were checked by validate.
	if d, err := time.ParseDuration(p.Registration.StaleAfter); err == nil {
		cfg.StaleAfter = d
	}
	if d, err := time.ParseDuration(p.Registration.WriteInterval); err == nil {
		cfg.WriteInterval = d
	}
	if d, err := time.ParseDuration(p.Calls.VoIPDeadline); err == nil {
		cfg.VoIPDeadline = d
	}
}
