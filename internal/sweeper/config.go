package sweeper

import (
	"fmt"
	"time"

	"github.com/DukeRupert/gambit/internal/domain"
)

const (
	// MinHorizon is the shortest retention horizon accepted for any window.
	MinHorizon = 24 * time.Hour

	// MonthlyHorizon outlasts the longest calendar month, so a period swept
	// under it has always reached the next month boundary.
	MonthlyHorizon = 32 * 24 * time.Hour

	// DefaultHorizon keeps thirty days of expired periods.
	DefaultHorizon = 30 * 24 * time.Hour
)

// Config holds the configuration for the periodic retention sweeper.
type Config struct {
	// Interval is how often the periodic loop sweeps.
	// Default: 1 hour
	Interval time.Duration

	// Horizon is how far behind now a window anchor must be before the
	// period is removed.
	// Default: 30 days
	Horizon time.Duration

	// Floor is the shortest horizon that cannot remove a period whose window
	// is still open. Build it with HorizonFloor. Zero means MinHorizon.
	Floor time.Duration

	// ShutdownTimeout is how long Stop waits for an in-flight sweep.
	// Default: 30 seconds
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Interval:        time.Hour,
		Horizon:         DefaultHorizon,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Interval < time.Minute {
		return fmt.Errorf("sweep interval must be at least 1 minute, got %v", c.Interval)
	}
	if err := c.CheckHorizon(c.Horizon); err != nil {
		return err
	}
	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	return nil
}

// CheckHorizon rejects horizons that could remove a live period.
func (c Config) CheckHorizon(h time.Duration) error {
	floor := max(c.Floor, MinHorizon)
	if h < floor {
		return fmt.Errorf("retention horizon must be at least %v for the configured windows, got %v", floor, h)
	}
	return nil
}

// HorizonFloor returns the shortest horizon that keeps every period still
// open under any of windows. A rolling period is open until anchor+Length; a
// calendar-month period until the month ends.
func HorizonFloor(windows ...domain.Window) time.Duration {
	floor := MinHorizon
	for _, w := range windows {
		need := w.Length
		switch {
		case w.Kind == domain.WindowCalendarMonth:
			need = MonthlyHorizon
		case need <= 0:
			need = domain.DefaultWindowLength
		}
		floor = max(floor, need)
	}
	return floor
}
