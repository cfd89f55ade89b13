// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zooid-fleet/zooid/lib/schedule"
)

// EnvConfigPath names the environment variable holding the config path.
const EnvConfigPath = "ZOOID_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the master configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths      PathsConfig      `yaml:"paths"`
	Bus        BusConfig        `yaml:"bus"`
	Graduation GraduationConfig `yaml:"graduation"`
	Spawn      SpawnConfig      `yaml:"spawn"`
	Schedule   ScheduleConfig   `yaml:"schedule"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// ScheduleConfig sets when "zooidctl run" fires each periodic tick.
// Values are cron expressions (UTC) or "@every <duration>"; an empty
// value disables that tick.
type ScheduleConfig struct {
	Spawn    string `yaml:"spawn"`
	Batch    string `yaml:"batch"`
	Graduate string `yaml:"graduate"`
	SLA      string `yaml:"sla"`
	Archive  string `yaml:"archive"`

	// ArchiveKeep is how many recent snapshots the archive tick leaves
	// uncompressed.
	ArchiveKeep int `yaml:"archive_keep"`
}

// Overrides holds the per-environment overridable sections.
type Overrides struct {
	Paths      *PathsConfig      `yaml:"paths,omitempty"`
	Graduation *GraduationConfig `yaml:"graduation,omitempty"`
}

// PathsConfig configures file and socket locations.
type PathsConfig struct {
	// Root is the base directory; other paths default beneath it.
	Root string `yaml:"root"`

	// State holds niche_map.json, its versioned snapshots, and the
	// lock file.
	State string `yaml:"state"`

	// Bus holds affect.sock, trophic.sock, and reflex/*.sock.
	Bus string `yaml:"bus"`

	// EvidenceDB is the SQLite fitness evidence log.
	EvidenceDB string `yaml:"evidence_db"`

	// SpawnJournal is the append-only NDJSON spawn journal.
	SpawnJournal string `yaml:"spawn_journal"`

	// Watchdog holds in-flight promotion state files.
	Watchdog string `yaml:"watchdog"`
}

// BusConfig configures the signal bus.
type BusConfig struct {
	ReplayWindow      time.Duration `yaml:"replay_window"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SlowJoinerGap     time.Duration `yaml:"slow_joiner_gap"`
	QueueDepth        int           `yaml:"queue_depth"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
}

// GraduationConfig configures the graduator's gates and policies.
type GraduationConfig struct {
	PhaseThreshold      float64       `yaml:"phase_threshold"`
	MinPhaseEvidence    int           `yaml:"min_phase_evidence"`
	HalfLife            time.Duration `yaml:"half_life"`
	ProdOKThreshold     float64       `yaml:"prod_ok_threshold"`
	ProdMinEvidence     int           `yaml:"prod_min_evidence"`
	ProdWindow          time.Duration `yaml:"prod_window"`
	ProbationCooldown   time.Duration `yaml:"probation_cooldown"`
	ProbationMaxRetries int           `yaml:"probation_max_retries"`
	HeartbeatSLO        time.Duration `yaml:"heartbeat_slo"`
	SLAOKThreshold      float64       `yaml:"sla_ok_threshold"`
	BatchSize           int           `yaml:"batch_size"`
	MaxProbation        int           `yaml:"max_probation_per_niche"`
}

// SpawnConfig configures the dream spawn tick.
type SpawnConfig struct {
	// PerNiche is how many candidates to spawn for an under-populated
	// niche per tick.
	PerNiche int `yaml:"per_niche"`

	// Seed fixes the mutation RNG when non-zero.
	Seed int64 `yaml:"seed"`

	// Template is an optional text/template file for variant
	// artifacts. Empty uses the built-in template.
	Template string `yaml:"template"`

	// Ranges is an optional JSONC file overriding per-niche parameter
	// ranges.
	Ranges string `yaml:"ranges"`

	// Niches maps a niche to its population policy.
	Niches map[string]NichePolicy `yaml:"niches"`
}

// NichePolicy bounds one niche's population.
type NichePolicy struct {
	Ecosystem  string `yaml:"ecosystem"`
	MinActive  int    `yaml:"min_active"`
	MaxDormant int    `yaml:"max_dormant"`
}

// Default returns the configuration with every documented default.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".local", "state", "zooid")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:         root,
			State:        "${ZOOID_ROOT}/registry",
			Bus:          "${ZOOID_ROOT}/bus",
			EvidenceDB:   "${ZOOID_ROOT}/evidence.db",
			SpawnJournal: "${ZOOID_ROOT}/spawn_journal.ndjson",
			Watchdog:     "${ZOOID_ROOT}/watchdog",
		},
		Bus: BusConfig{
			ReplayWindow:      60 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			SlowJoinerGap:     150 * time.Millisecond,
			QueueDepth:        1024,
			RequestTimeout:    5 * time.Second,
			RetryDelay:        500 * time.Millisecond,
		},
		Graduation: GraduationConfig{
			PhaseThreshold:      0.70,
			MinPhaseEvidence:    50,
			HalfLife:            12 * time.Hour,
			ProdOKThreshold:     0.95,
			ProdMinEvidence:     10,
			ProdWindow:          24 * time.Hour,
			ProbationCooldown:   time.Hour,
			ProbationMaxRetries: 3,
			HeartbeatSLO:        30 * time.Second,
			SLAOKThreshold:      0.90,
			BatchSize:           4,
			MaxProbation:        8,
		},
		Spawn: SpawnConfig{
			PerNiche: 2,
			Niches:   map[string]NichePolicy{},
		},
		Schedule: ScheduleConfig{
			Spawn:       "*/15 * * * *",
			Batch:       "0 * * * *",
			Graduate:    "*/5 * * * *",
			SLA:         "*/10 * * * *",
			Archive:     "30 3 * * *",
			ArchiveKeep: 50,
		},
	}
}

// Load loads the file named by ZOOID_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; set it to the path of your zooid.yaml or use --config", EnvConfigPath)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over the defaults, applies the
// environment section, expands variables, and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is LoadFile for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		overlayString(&c.Paths.Root, paths.Root)
		overlayString(&c.Paths.State, paths.State)
		overlayString(&c.Paths.Bus, paths.Bus)
		overlayString(&c.Paths.EvidenceDB, paths.EvidenceDB)
		overlayString(&c.Paths.SpawnJournal, paths.SpawnJournal)
		overlayString(&c.Paths.Watchdog, paths.Watchdog)
	}

	if graduation := overrides.Graduation; graduation != nil {
		overlayFloat(&c.Graduation.PhaseThreshold, graduation.PhaseThreshold)
		overlayInt(&c.Graduation.MinPhaseEvidence, graduation.MinPhaseEvidence)
		overlayDuration(&c.Graduation.HalfLife, graduation.HalfLife)
		overlayFloat(&c.Graduation.ProdOKThreshold, graduation.ProdOKThreshold)
		overlayInt(&c.Graduation.ProdMinEvidence, graduation.ProdMinEvidence)
		overlayDuration(&c.Graduation.ProdWindow, graduation.ProdWindow)
		overlayDuration(&c.Graduation.ProbationCooldown, graduation.ProbationCooldown)
		overlayInt(&c.Graduation.ProbationMaxRetries, graduation.ProbationMaxRetries)
		overlayDuration(&c.Graduation.HeartbeatSLO, graduation.HeartbeatSLO)
		overlayFloat(&c.Graduation.SLAOKThreshold, graduation.SLAOKThreshold)
		overlayInt(&c.Graduation.BatchSize, graduation.BatchSize)
		overlayInt(&c.Graduation.MaxProbation, graduation.MaxProbation)
	}
}

func overlayString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func overlayInt(target *int, value int) {
	if value != 0 {
		*target = value
	}
}

func overlayFloat(target *float64, value float64) {
	if value != 0 {
		*target = value
	}
}

func overlayDuration(target *time.Duration, value time.Duration) {
	if value != 0 {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["ZOOID_ROOT"] = c.Paths.Root

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Paths.Bus = expandVars(c.Paths.Bus, vars)
	c.Paths.EvidenceDB = expandVars(c.Paths.EvidenceDB, vars)
	c.Paths.SpawnJournal = expandVars(c.Paths.SpawnJournal, vars)
	c.Paths.Watchdog = expandVars(c.Paths.Watchdog, vars)
	c.Spawn.Template = expandVars(c.Spawn.Template, vars)
	c.Spawn.Ranges = expandVars(c.Spawn.Ranges, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}
	if c.Paths.Bus == "" {
		errs = append(errs, fmt.Errorf("paths.bus is required"))
	}

	g := c.Graduation
	if g.PhaseThreshold < 0 || g.PhaseThreshold > 1 {
		errs = append(errs, fmt.Errorf("graduation.phase_threshold must be in [0,1], got %v", g.PhaseThreshold))
	}
	if g.ProdOKThreshold < 0 || g.ProdOKThreshold > 1 {
		errs = append(errs, fmt.Errorf("graduation.prod_ok_threshold must be in [0,1], got %v", g.ProdOKThreshold))
	}
	if g.HalfLife <= 0 {
		errs = append(errs, fmt.Errorf("graduation.half_life must be positive"))
	}
	if g.HeartbeatSLO <= 0 {
		errs = append(errs, fmt.Errorf("graduation.heartbeat_slo must be positive"))
	}
	if g.ProbationMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("graduation.probation_max_retries must not be negative"))
	}
	if c.Bus.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("bus.heartbeat_interval must be positive"))
	}
	if c.Bus.ReplayWindow <= 0 {
		errs = append(errs, fmt.Errorf("bus.replay_window must be positive"))
	}
	for niche, policy := range c.Spawn.Niches {
		if policy.MinActive < 0 || policy.MaxDormant < 0 {
			errs = append(errs, fmt.Errorf("spawn.niches.%s: bounds must not be negative", niche))
		}
	}
	for name, expression := range c.Schedule.expressions() {
		if expression == "" {
			continue
		}
		if _, err := schedule.Parse(expression); err != nil {
			errs = append(errs, fmt.Errorf("schedule.%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// expressions maps each schedule key to its expression.
func (s ScheduleConfig) expressions() map[string]string {
	return map[string]string{
		"spawn":    s.Spawn,
		"batch":    s.Batch,
		"graduate": s.Graduate,
		"sla":      s.SLA,
		"archive":  s.Archive,
	}
}
