package pot

import (
	"time"

	"github.com/srg/potlink/internal/config"
	"github.com/srg/potlink/internal/plants"
	"github.com/srg/potlink/internal/provision"
	"github.com/srg/potlink/internal/scanner"
	"github.com/srg/potlink/internal/session"
)

// ReconnectPolicy bounds the reconnect attempts made after a drop
type ReconnectPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultReconnectPolicy is two attempts one second apart
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{Attempts: 2, Backoff: time.Second}
}

// Options configures a Manager
type Options struct {
	Scanner           scanner.Options
	StaleTimeout      time.Duration
	Session           session.Options
	AckTimeout        time.Duration
	Reconnect         ReconnectPolicy
	PowerPollInterval time.Duration
	Plants            *plants.Table
	// OnStep, when set, observes sync progress
	OnStep func(provision.Step)
}

// DefaultOptions mirrors config.DefaultConfig
func DefaultOptions() *Options {
	return OptionsFromConfig(config.DefaultConfig())
}

// OptionsFromConfig maps the file configuration onto manager options
func OptionsFromConfig(cfg *config.Config) *Options {
	scan := scanner.DefaultOptions()
	scan.ScanTimeout = cfg.ScanTimeout
	scan.CleanupInterval = cfg.CleanupInterval
	scan.RescanInterval = cfg.RescanInterval
	return &Options{
		Scanner:      *scan,
		StaleTimeout: cfg.EffectiveStaleTimeout(),
		Session: session.Options{
			ConnectTimeout:   cfg.ConnectTimeout,
			ReconnectTimeout: cfg.ReconnectTimeout,
		},
		AckTimeout: cfg.AckTimeout,
		Reconnect: ReconnectPolicy{
			Attempts: cfg.ReconnectAttempts,
			Backoff:  cfg.ReconnectBackoff,
		},
		PowerPollInterval: cfg.PowerPollInterval,
		Plants:            plants.Builtin(),
	}
}
