package poller

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/odooctl/internal/config"
	"github.com/Iron-Ham/odooctl/internal/task"
)

// Default polling values.
const (
	DefaultInitialInterval = time.Second
	DefaultMaxInterval     = 10 * time.Second
	DefaultBackoffFactor   = 1.5
	DefaultTightenFactor   = 0.8
	DefaultMaxErrors       = 10
	DefaultTimeout         = 5 * time.Minute
)

// Options tunes the adaptive schedule of a Poller.
type Options struct {
	// InitialInterval is the first delay and the floor for tightening.
	InitialInterval time.Duration
	// MaxInterval caps backoff after failed lookups.
	MaxInterval time.Duration
	// BackoffFactor multiplies the delay after a failed lookup.
	BackoffFactor float64
	// TightenFactor multiplies the delay while the task is running.
	TightenFactor float64
	// MaxErrors is the number of consecutive failed lookups tolerated.
	MaxErrors int
	// Timeout bounds the total time spent polling one task.
	Timeout time.Duration
}

// DefaultOptions returns the standard schedule: 1s start, 10s cap, x1.5
// backoff, x0.8 tightening, 10 errors, 5 minutes.
func DefaultOptions() Options {
	return Options{
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		BackoffFactor:   DefaultBackoffFactor,
		TightenFactor:   DefaultTightenFactor,
		MaxErrors:       DefaultMaxErrors,
		Timeout:         DefaultTimeout,
	}
}

// OptionsFromConfig builds Options from the poller config section. Zero
// values fall back to the defaults.
func OptionsFromConfig(cfg config.PollerConfig) Options {
	o := Options{
		InitialInterval: cfg.InitialInterval(),
		MaxInterval:     cfg.MaxInterval(),
		BackoffFactor:   cfg.BackoffFactor,
		TightenFactor:   cfg.TightenFactor,
		MaxErrors:       cfg.MaxErrors,
		Timeout:         cfg.Timeout(),
	}
	return o.withDefaults()
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.InitialInterval <= 0 {
		o.InitialInterval = d.InitialInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = d.MaxInterval
	}
	if o.BackoffFactor <= 0 {
		o.BackoffFactor = d.BackoffFactor
	}
	if o.TightenFactor <= 0 {
		o.TightenFactor = d.TightenFactor
	}
	if o.MaxErrors <= 0 {
		o.MaxErrors = d.MaxErrors
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	return o
}

// Validate reports options that cannot produce a sensible schedule.
func (o Options) Validate() error {
	if o.MaxInterval < o.InitialInterval {
		return fmt.Errorf("max interval %s is below initial interval %s", o.MaxInterval, o.InitialInterval)
	}
	if o.BackoffFactor < 1 {
		return fmt.Errorf("backoff factor %.2f must be at least 1", o.BackoffFactor)
	}
	if o.TightenFactor > 1 {
		return fmt.Errorf("tighten factor %.2f must be at most 1", o.TightenFactor)
	}
	return nil
}

// NextInterval returns the delay before the lookup that follows one which
// ended with status (or with lookupErr). It never returns less than
// InitialInterval after a running status, nor more than MaxInterval after
// a failure.
func (o Options) NextInterval(current time.Duration, status task.Status, lookupErr error) time.Duration {
	if lookupErr != nil {
		next := scale(current, o.BackoffFactor)
		if next > o.MaxInterval {
			next = o.MaxInterval
		}
		return next
	}
	if status == task.StatusRunning {
		next := scale(current, o.TightenFactor)
		if next < o.InitialInterval {
			next = o.InitialInterval
		}
		return next
	}
	return current
}

func scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}
