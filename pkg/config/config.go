// Package config loads the HSG engine's YAML configuration (spec.md §6
// "Configuration"), grounded on theRebelliousNerd-codenerd's
// internal/config/config.go DefaultConfig/Load/Save/applyEnvOverrides shape:
// a struct with sane defaults, optional YAML file overlay, then environment
// variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier selects a vecDim/cacheSegments/encoder preset (spec.md §6 "tier").
type Tier string

const (
	TierFast   Tier = "fast"
	TierSmart  Tier = "smart"
	TierDeep   Tier = "deep"
	TierHybrid Tier = "hybrid"
)

// tierPreset is what a Tier resolves to when VecDim/CacheSegments are left
// unset in the loaded config.
type tierPreset struct {
	vecDim          int
	cacheSegments   int
	expectSynthetic bool
}

var tierPresets = map[Tier]tierPreset{
	TierFast:   {vecDim: 32, cacheSegments: 8, expectSynthetic: true},
	TierSmart:  {vecDim: 128, cacheSegments: 16, expectSynthetic: true},
	TierDeep:   {vecDim: 256, cacheSegments: 32, expectSynthetic: false},
	TierHybrid: {vecDim: 128, cacheSegments: 16, expectSynthetic: false},
}

// Config holds every recognized option from spec.md §6's configuration
// table, plus the ambient stack (encryption key source, log level).
type Config struct {
	Tier          Tier `yaml:"tier"`
	VecDim        int  `yaml:"vecDim"`
	CacheSegments int  `yaml:"cacheSegments"`
	MaxActive     int  `yaml:"maxActive"`

	DecayThreads          int     `yaml:"decayThreads"`
	DecayRatio            float64 `yaml:"decayRatio"`
	DecayIntervalMinutes  int     `yaml:"decayIntervalMinutes"`
	DecayColdThreshold    float64 `yaml:"decayColdThreshold"`
	DecayReinforceOnQuery bool    `yaml:"decayReinforceOnQuery"`
	RegenerationEnabled   bool    `yaml:"regenerationEnabled"`

	MaxVectorDim int `yaml:"maxVectorDim"`
	MinVectorDim int `yaml:"minVectorDim"`

	SummaryLayers int `yaml:"summaryLayers"`

	ReflectMin      int  `yaml:"reflectMin"`
	ReflectInterval int  `yaml:"reflectInterval"`
	AutoReflect     bool `yaml:"autoReflect"`

	UserSummaryInterval     int `yaml:"userSummaryInterval"`
	ClassifierTrainInterval int `yaml:"classifierTrainInterval"`

	Verbose bool `yaml:"verbose"`

	// DatabasePath is where the SQLite-backed table/vector stores live.
	DatabasePath string `yaml:"databasePath"`

	// EncryptionKeyPath points at the at-rest cryptobox key file; overridden
	// by HSG_ENCRYPTION_KEY (base64) when set.
	EncryptionKeyPath string `yaml:"encryptionKeyPath"`
	encryptionKeyB64  string // env override, not persisted
}

// DefaultConfig returns spec.md §6's stated defaults.
func DefaultConfig() *Config {
	return &Config{
		Tier:          TierHybrid,
		VecDim:        128,
		CacheSegments: 16,
		MaxActive:     32,

		DecayThreads:          4,
		DecayRatio:            0.2,
		DecayIntervalMinutes:  10,
		DecayColdThreshold:    0.3,
		DecayReinforceOnQuery: true,
		RegenerationEnabled:   true,

		MaxVectorDim: 256,
		MinVectorDim: 16,

		SummaryLayers: 2,

		ReflectMin:      20,
		ReflectInterval: 10,
		AutoReflect:     true,

		UserSummaryInterval:     30,
		ClassifierTrainInterval: 120,

		Verbose: false,

		DatabasePath:      "hsg.db",
		EncryptionKeyPath: "hsg.key",
	}
}

// Load reads path as YAML over DefaultConfig's values, applies the tier
// preset for any zero-valued VecDim/CacheSegments, and layers environment
// overrides on top. A missing file is not an error: defaults apply (matches
// the teacher's Load).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyTierPreset()
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	// Clear the default dims so a file that leaves them unset gets its
	// tier's preset rather than the hybrid defaults.
	cfg.VecDim = 0
	cfg.CacheSegments = 0
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyTierPreset()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes cfg to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyTierPreset fills VecDim/CacheSegments from the Tier preset when the
// loaded file left them unset.
func (c *Config) applyTierPreset() {
	preset, ok := tierPresets[c.Tier]
	if !ok {
		preset = tierPresets[TierHybrid]
	}
	if c.VecDim == 0 {
		c.VecDim = preset.vecDim
	}
	if c.CacheSegments == 0 {
		c.CacheSegments = preset.cacheSegments
	}
}

// ExpectSynthetic reports whether c's tier preset expects a synthetic
// encoder provider, for encoder.CheckCompatibility's startup check.
func (c *Config) ExpectSynthetic() bool {
	preset, ok := tierPresets[c.Tier]
	if !ok {
		return false
	}
	return preset.expectSynthetic
}

// applyEnvOverrides layers secrets and operational overrides from the
// environment on top of file/default values (teacher idiom: file config for
// structure, env vars for anything secret or host-specific).
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("HSG_ENCRYPTION_KEY"); key != "" {
		c.encryptionKeyB64 = key
	}
	if path := os.Getenv("HSG_DB_PATH"); path != "" {
		c.DatabasePath = path
	}
	if v := os.Getenv("HSG_VERBOSE"); v == "1" || v == "true" {
		c.Verbose = true
	}
}

// EncryptionKeyB64 returns the base64 encryption key supplied via
// HSG_ENCRYPTION_KEY, or "" if none was set (callers fall back to
// EncryptionKeyPath).
func (c *Config) EncryptionKeyB64() string {
	return c.encryptionKeyB64
}

// DecayInterval returns DecayIntervalMinutes as a Duration.
func (c *Config) DecayInterval() time.Duration {
	return time.Duration(c.DecayIntervalMinutes) * time.Minute
}

// ReflectIntervalDuration returns ReflectInterval as a Duration.
func (c *Config) ReflectIntervalDuration() time.Duration {
	return time.Duration(c.ReflectInterval) * time.Minute
}

// UserSummaryIntervalDuration returns UserSummaryInterval as a Duration.
func (c *Config) UserSummaryIntervalDuration() time.Duration {
	return time.Duration(c.UserSummaryInterval) * time.Minute
}

// ClassifierTrainIntervalDuration returns ClassifierTrainInterval as a
// Duration.
func (c *Config) ClassifierTrainIntervalDuration() time.Duration {
	return time.Duration(c.ClassifierTrainInterval) * time.Minute
}

// Validate rejects configurations that would make the dynamics/compression
// constraints in spec.md §4.6/§4.7 unsatisfiable.
func (c *Config) Validate() error {
	if c.VecDim <= 0 {
		return fmt.Errorf("config: vecDim must be positive")
	}
	if c.MinVectorDim <= 0 || c.MaxVectorDim < c.MinVectorDim {
		return fmt.Errorf("config: minVectorDim/maxVectorDim out of range")
	}
	if c.DecayRatio <= 0 || c.DecayRatio > 1 {
		return fmt.Errorf("config: decayRatio must be in (0,1]")
	}
	if c.SummaryLayers < 1 || c.SummaryLayers > 3 {
		return fmt.Errorf("config: summaryLayers must be 1, 2, or 3")
	}
	if c.CacheSegments <= 0 {
		return fmt.Errorf("config: cacheSegments must be positive")
	}
	return nil
}
