package matcher

import (
	"time"

	"github.com/bidwire/postauction/errs"
)

// Config tunes the engine's queues, deadlines, and sweep cadence.
type Config struct {
	// WinTimeout bounds win-history retention for campaign attribution.
	WinTimeout time.Duration
	// AuctionTimeout is the loss deadline for submissions that do not
	// carry their own timeout.
	AuctionTimeout time.Duration
	// SweepInterval is the expiry scan period. It must stay strictly
	// below AuctionTimeout for the implicit-loss latency bound to hold.
	SweepInterval time.Duration
	// DrainWindow bounds how long shutdown keeps processing queued events.
	DrainWindow time.Duration
	// QueueCapacity sizes each per-kind intake queue.
	QueueCapacity int
}

// Validate rejects configurations the engine refuses to start with.
// Negative timeouts fail here, at configuration time, never at runtime.
func (c Config) Validate() error {
	if c.WinTimeout < 0 {
		return errs.New("matcher/config", errs.CodeConfig,
			errs.WithMessage("win timeout must not be negative"))
	}
	if c.AuctionTimeout < 0 {
		return errs.New("matcher/config", errs.CodeConfig,
			errs.WithMessage("auction timeout must not be negative"))
	}
	if c.SweepInterval <= 0 {
		return errs.New("matcher/config", errs.CodeConfig,
			errs.WithMessage("sweep interval must be positive"))
	}
	if c.AuctionTimeout > 0 && c.SweepInterval >= c.AuctionTimeout {
		return errs.New("matcher/config", errs.CodeConfig,
			errs.WithMessage("sweep interval must be strictly less than the auction timeout"))
	}
	if c.QueueCapacity <= 0 {
		return errs.New("matcher/config", errs.CodeConfig,
			errs.WithMessage("queue capacity must be positive"))
	}
	if c.DrainWindow < 0 {
		return errs.New("matcher/config", errs.CodeConfig,
			errs.WithMessage("drain window must not be negative"))
	}
	return nil
}
