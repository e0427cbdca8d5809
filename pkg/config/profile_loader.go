package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DeploymentProfile is an environment-specific policy overlay loaded from
// profile_<code>.yaml. Profiles carry the settings that differ between
// deployments of the same build: scheduler cadence, the outbound networking
// policy for destination hosts, and delivery retention.
type DeploymentProfile struct {
	Name       string           `yaml:"name" json:"name"`
	Code       string           `yaml:"code" json:"code"`
	SCIM       SCIMOverlay      `yaml:"scim" json:"scim"`
	Networking NetworkingPolicy `yaml:"networking" json:"networking"`
	Retention  RetentionPolicy  `yaml:"retention" json:"retention"`
}

// SCIMOverlay holds the provisioning settings a profile may override. Zero
// values leave the environment configuration untouched; durations use Go
// syntax ("30s", "5m").
type SCIMOverlay struct {
	Enabled        *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	PollInterval   string `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty"`
	TokenLifetime  string `yaml:"token_lifetime,omitempty" json:"token_lifetime,omitempty"`
	Processor      string `yaml:"processor,omitempty" json:"processor,omitempty"`
	HTTPTimeout    string `yaml:"http_timeout,omitempty" json:"http_timeout,omitempty"`
	BatchSize      int    `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	MaxConcurrency int    `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty"`
	StaleAfter     string `yaml:"stale_after,omitempty" json:"stale_after,omitempty"`
}

// NetworkingPolicy restricts which hosts destination base URLs may target.
type NetworkingPolicy struct {
	OutboundMode string   `yaml:"outbound_mode" json:"outbound_mode"` // "open" | "allowlist" | "denylist"
	Allowlist    []string `yaml:"allowlist,omitempty" json:"allowlist,omitempty"`
	Denylist     []string `yaml:"denylist,omitempty" json:"denylist,omitempty"`
}

// RetentionPolicy controls the delivery archive exporter.
type RetentionPolicy struct {
	DeliveryDays int  `yaml:"delivery_days" json:"delivery_days"`
	Archive      bool `yaml:"archive" json:"archive"`
}

// decodeProfile parses one profile file, defaulting Code from fallback when
// the YAML omits it.
func decodeProfile(path, fallback string) (*DeploymentProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var profile DeploymentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if profile.Code == "" {
		profile.Code = fallback
	}
	return &profile, nil
}

// LoadProfile loads profile_<code>.yaml from the profiles directory.
func LoadProfile(profilesDir, code string) (*DeploymentProfile, error) {
	code = strings.ToLower(code)

	profile, err := decodeProfile(filepath.Join(profilesDir, "profile_"+code+".yaml"), code)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}
	return profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the profiles directory,
// keyed by code. Codes default from the filename: profile_prod.yaml -> prod.
func LoadAllProfiles(profilesDir string) (map[string]*DeploymentProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*DeploymentProfile, len(matches))
	for _, path := range matches {
		base := filepath.Base(path)
		code := strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")

		profile, err := decodeProfile(path, code)
		if err != nil {
			return nil, fmt.Errorf("load profile %q: %w", code, err)
		}
		profiles[profile.Code] = profile
	}
	return profiles, nil
}

// Apply overlays the profile's set fields onto cfg. Only fields the YAML
// actually carries are touched, so env-derived values survive.
func (p *DeploymentProfile) Apply(cfg *Config) error {
	if p.SCIM.Enabled != nil {
		cfg.SCIM.Enabled = *p.SCIM.Enabled
	}
	if p.SCIM.Processor != "" {
		cfg.SCIM.Processor = p.SCIM.Processor
	}
	if p.SCIM.BatchSize > 0 {
		cfg.SCIM.BatchSize = p.SCIM.BatchSize
	}
	if p.SCIM.MaxConcurrency > 0 {
		cfg.SCIM.MaxConcurrency = p.SCIM.MaxConcurrency
	}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"poll_interval", p.SCIM.PollInterval, &cfg.SCIM.PollInterval},
		{"token_lifetime", p.SCIM.TokenLifetime, &cfg.SCIM.TokenLifetime},
		{"http_timeout", p.SCIM.HTTPTimeout, &cfg.SCIM.HTTPTimeout},
		{"stale_after", p.SCIM.StaleAfter, &cfg.SCIM.StaleAfter},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("profile %q: invalid scim.%s %q", p.Code, d.field, d.raw)
		}
		*d.dst = parsed
	}
	return nil
}

// HostAllowed checks a destination hostname against the outbound
// networking policy. The default mode is open.
func (p *DeploymentProfile) HostAllowed(hostname string) bool {
	switch p.Networking.OutboundMode {
	case "allowlist":
		return hostIn(p.Networking.Allowlist, hostname)
	case "denylist":
		return !hostIn(p.Networking.Denylist, hostname)
	default:
		return true
	}
}

func hostIn(hosts []string, hostname string) bool {
	for _, h := range hosts {
		if strings.EqualFold(h, hostname) {
			return true
		}
	}
	return false
}
