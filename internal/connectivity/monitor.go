// Package connectivity tracks whether the remote side is reachable and turns
// probe results into a de-duplicated online/offline stream.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Monitor exposes the current reachability state and a stream of transitions.
// The stream never emits two consecutive equal values.
type Monitor interface {
	Online() bool
	Stream() <-chan bool
}

// ProbeFunc reports reachability. It must return quickly; the monitor bounds
// each probe with its own timeout context.
type ProbeFunc func(ctx context.Context) bool

// Probe is a polling Monitor. The zero value is not usable; construct with
// NewProbe and call Run.
type Probe struct {
	probe    ProbeFunc
	interval time.Duration
	log      zerolog.Logger

	online atomic.Bool

	mu   sync.Mutex
	subs []chan bool
}

// NewProbe builds a Monitor around probe, polling at the given interval.
func NewProbe(probe ProbeFunc, interval time.Duration, log zerolog.Logger) *Probe {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Probe{probe: probe, interval: interval, log: log}
}

// NewHTTPProbe builds a Monitor that considers the system online when a GET
// against url answers with any HTTP status. Reachability, not health, is the
// question being asked.
func NewHTTPProbe(url string, interval time.Duration, log zerolog.Logger) *Probe {
	client := &http.Client{Timeout: 5 * time.Second}
	return NewProbe(func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}, interval, log)
}

// Online returns the last observed state.
func (p *Probe) Online() bool { return p.online.Load() }

// Stream registers a subscriber. Each subscriber receives only transitions,
// starting from the first probe after registration.
func (p *Probe) Stream() <-chan bool {
	ch := make(chan bool, 4)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

// Run polls until ctx is canceled. The first probe fires immediately so
// startup does not wait a full interval for the initial state.
func (p *Probe) Run(ctx context.Context) {
	p.check(ctx, true)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx, false)
		}
	}
}

func (p *Probe) check(ctx context.Context, first bool) {
	probeCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	now := p.probe(probeCtx)
	prev := p.online.Swap(now)
	if !first && prev == now {
		return
	}
	p.log.Info().Bool("online", now).Msg("connectivity transition")
	p.publish(now)
}

func (p *Probe) publish(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- v:
		default:
			// Subscriber lagging; the latest state still wins on the
			// next transition, so dropping is safe.
		}
	}
}
