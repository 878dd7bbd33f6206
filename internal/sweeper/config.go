package sweeper

import (
	"time"

	appconfig "github.com/vettedhq/entitlement-engine/internal/config"
)

// Config controls sweep intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	// Grace delays lapse handling past the period end so a slow renewal
	// webhook does not race the sweep.
	Grace          time.Duration
	AbandonedAfter time.Duration
	LockTTL        time.Duration
	LockEnabled    bool
	Enabled        bool
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    5 * time.Minute,
		BatchSize:      100,
		Grace:          time.Hour,
		AbandonedAfter: 30 * time.Minute,
		LockTTL:        4 * time.Minute,
		LockEnabled:    true,
		Enabled:        true,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Grace <= 0 {
		c.Grace = defaults.Grace
	}
	if c.AbandonedAfter <= 0 {
		c.AbandonedAfter = defaults.AbandonedAfter
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

// ProvideConfig maps application configuration onto the sweeper config.
func ProvideConfig(cfg appconfig.Config) Config {
	return Config{
		RunInterval:    cfg.SweepInterval,
		AbandonedAfter: cfg.AbandonedWindow,
		LockTTL:        cfg.SweepLockTTL,
		LockEnabled:    cfg.SweepLockEnabled,
		Enabled:        cfg.SweepEnabled,
	}.withDefaults()
}
