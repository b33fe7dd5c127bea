// Package config loads ojd's daemon settings: where durable state lives,
// which runbook to load, and the thresholds/intervals the engine uses when
// a runbook doesn't override them. Grounded on the teacher's layered
// default/file/env precedence (internal/config/loader.go) but backed by
// viper instead of the teacher's hand-rolled yaml+env-alias loop, since
// viper is the library the teacher actually reaches for wherever it wires
// a config file plus environment overrides together (cmd/cobra_cli.go's
// viper.SetConfigName/AddConfigPath/ReadInConfig sequence).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting ojd needs before it can construct its
// store/scheduler/engine dependency graph.
type Config struct {
	// StateDir is where the WAL, snapshots, and manifest live.
	StateDir string `mapstructure:"state_dir"`
	// MachineID tags every WAL record and snapshot manifest written by this
	// process (spec.md §5's recovery/ownership model).
	MachineID string `mapstructure:"machine_id"`
	// RunbookPath points at the TOML runbook to load at startup. Empty
	// means run with no runbook (engine still serves primitives directly).
	RunbookPath string `mapstructure:"runbook_path"`

	SessionIdleThreshold time.Duration `mapstructure:"session_idle_threshold"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	CompactInterval      time.Duration `mapstructure:"compact_interval"`
	SnapshotInterval     time.Duration `mapstructure:"snapshot_interval"`
	DrainTimeout         time.Duration `mapstructure:"drain_timeout"`
	MaxConcurrentEffects int           `mapstructure:"max_concurrent_effects"`

	MaxNudges       int           `mapstructure:"recovery_max_nudges"`
	NudgeCooldown   time.Duration `mapstructure:"recovery_nudge_cooldown"`
	MaxRestarts     int           `mapstructure:"recovery_max_restarts"`
	RestartCooldown time.Duration `mapstructure:"recovery_restart_cooldown"`
}

func defaults() Config {
	return Config{
		StateDir:             "./oj-state",
		MachineID:             "",
		RunbookPath:          "",
		SessionIdleThreshold: 10 * time.Minute,
		PollInterval:         time.Second,
		SweepInterval:        5 * time.Second,
		CompactInterval:      time.Minute,
		SnapshotInterval:     10 * time.Minute,
		DrainTimeout:         10 * time.Second,
		MaxConcurrentEffects: 8,
		MaxNudges:            3,
		NudgeCooldown:        60 * time.Second,
		MaxRestarts:          2,
		RestartCooldown:      5 * time.Minute,
	}
}

// Load resolves Config from (in ascending precedence) built-in defaults, an
// optional config file named "ojd" (yaml/json/toml, wherever viper finds
// it on the given search paths), and OJ_-prefixed environment variables.
// An absent config file is not an error: the daemon is expected to run
// from defaults plus environment alone in most deployments.
func Load(searchPaths ...string) (Config, error) {
	v := viper.New()
	cfg := defaults()

	v.SetConfigName("ojd")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("OJ")
	v.AutomaticEnv()

	setDefaultsOn(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.StateDir == "" {
		return Config{}, fmt.Errorf("config: state_dir must not be empty")
	}
	return cfg, nil
}

func setDefaultsOn(v *viper.Viper, cfg Config) {
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("machine_id", cfg.MachineID)
	v.SetDefault("runbook_path", cfg.RunbookPath)
	v.SetDefault("session_idle_threshold", cfg.SessionIdleThreshold)
	v.SetDefault("poll_interval", cfg.PollInterval)
	v.SetDefault("sweep_interval", cfg.SweepInterval)
	v.SetDefault("compact_interval", cfg.CompactInterval)
	v.SetDefault("snapshot_interval", cfg.SnapshotInterval)
	v.SetDefault("drain_timeout", cfg.DrainTimeout)
	v.SetDefault("max_concurrent_effects", cfg.MaxConcurrentEffects)
	v.SetDefault("recovery_max_nudges", cfg.MaxNudges)
	v.SetDefault("recovery_nudge_cooldown", cfg.NudgeCooldown)
	v.SetDefault("recovery_max_restarts", cfg.MaxRestarts)
	v.SetDefault("recovery_restart_cooldown", cfg.RestartCooldown)
}
