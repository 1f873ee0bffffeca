package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Pinger is implemented by components that can answer a liveness probe.
// Ping must return nil when the component is usable.
type Pinger interface {
	HealthPing(ctx context.Context) error
}

// Checker is a component-level health checker with a cached verdict.
type Checker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// PingChecker polls a Pinger on an interval and caches the result. The
// daemon's health endpoint reads the cache instead of probing inline, so a
// hung component cannot stall request handling.
type PingChecker struct {
	name    string
	pinger  Pinger
	timeout time.Duration
	healthy atomic.Bool
	log     zerolog.Logger
}

func NewPingChecker(name string, p Pinger, timeout time.Duration, log zerolog.Logger) *PingChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &PingChecker{name: name, pinger: p, timeout: timeout, log: log}
}

func (c *PingChecker) Name() string    { return c.name }
func (c *PingChecker) IsHealthy() bool { return c.healthy.Load() }

func (c *PingChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		err := c.pinger.HealthPing(pctx)
		was := c.healthy.Swap(err == nil)
		if was && err != nil {
			c.log.Error().Err(err).Str("component", c.name).Msg("component health: DOWN")
		} else if !was && err == nil {
			c.log.Info().Str("component", c.name).Msg("component health: UP")
		}
	}

	probe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

// ServiceChecker aggregates component checkers into a single daemon health
// flag. Connectivity to the remote is deliberately not a component here:
// running offline is a normal operating state, not a failure.
type ServiceChecker struct {
	healthy atomic.Bool
	deps    []Checker
	log     zerolog.Logger
}

func NewServiceChecker(log zerolog.Logger, deps ...Checker) *ServiceChecker {
	return &ServiceChecker{deps: deps, log: log}
}

// IsHealthy returns the cached daemon health.
func (s *ServiceChecker) IsHealthy() bool { return s.healthy.Load() }

// Start launches each component checker and periodically folds their cached
// verdicts into the daemon flag, logging transitions.
func (s *ServiceChecker) Start(ctx context.Context, interval time.Duration) {
	for _, c := range s.deps {
		go c.Start(ctx, interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	eval := func() {
		all := true
		for _, c := range s.deps {
			if !c.IsHealthy() {
				all = false
			}
		}
		was := s.healthy.Swap(all)
		if was && !all {
			s.log.Error().Stack().Msg("daemon health: DOWN")
		} else if !was && all {
			s.log.Info().Msg("daemon health: UP")
		}
	}

	// Give component checkers one cycle to run their first probe.
	select {
	case <-ctx.Done():
		return
	case <-time.After(interval):
	}
	eval()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eval()
		}
	}
}
