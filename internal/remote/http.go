package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/remoteerr"
)

// HTTPConfig carries the knobs for the HTTP remote store.
type HTTPConfig struct {
	BaseURL  string
	APIToken string
	OwnerID  string

	// Timeout bounds each individual HTTP call.
	Timeout time.Duration

	// Retry budget for transient failures. Defaults follow the engine
	// contract: 3 attempts, 1s initial delay, doubling.
	MaxAttempts  int
	InitialDelay time.Duration

	// PollInterval is the cadence of the change-stream snapshot poller.
	PollInterval time.Duration
}

// HTTPStore talks to the remote record service over HTTP.
type HTTPStore struct {
	client *resty.Client
	cfg    HTTPConfig
	log    zerolog.Logger
}

// NewHTTPStore builds the remote client. The API token doubles as the
// authentication signal: an empty token means unauthenticated and every
// reconciliation precondition on auth fails closed.
func NewHTTPStore(cfg HTTPConfig, log zerolog.Logger) *HTTPStore {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}

	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)
	if cfg.APIToken != "" {
		c.SetAuthToken(cfg.APIToken)
	}

	return &HTTPStore{client: c, cfg: cfg, log: log}
}

func (s *HTTPStore) IsAuthenticated() bool { return s.cfg.APIToken != "" }

func (s *HTTPStore) OwnerID() string { return s.cfg.OwnerID }

func (s *HTTPStore) Get(ctx context.Context, id string) (*model.Record, error) {
	var rec *model.Record
	err := s.withRetry(ctx, "get record", func() error {
		var body map[string]any
		resp, err := s.client.R().
			SetContext(ctx).
			SetResult(&body).
			Get("/api/records/" + id)
		if err != nil {
			return remoteerr.FromNetwork("get record", err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			rec = nil
			return nil
		}
		if resp.StatusCode() != http.StatusOK {
			return remoteerr.FromStatus(resp.StatusCode(), resp.String(), "get record")
		}
		r, err := model.Decode(body)
		if err != nil {
			return &remoteerr.Error{Category: remoteerr.Permanent, Underlying: err}
		}
		rec = &r
		return nil
	})
	return rec, err
}

func (s *HTTPStore) GetAll(ctx context.Context) ([]model.Record, error) {
	var out []model.Record
	err := s.withRetry(ctx, "list records", func() error {
		var body []map[string]any
		resp, err := s.client.R().
			SetContext(ctx).
			SetResult(&body).
			Get("/api/records")
		if err != nil {
			return remoteerr.FromNetwork("list records", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return remoteerr.FromStatus(resp.StatusCode(), resp.String(), "list records")
		}
		recs := make([]model.Record, 0, len(body))
		for _, m := range body {
			r, err := model.Decode(m)
			if err != nil {
				return &remoteerr.Error{Category: remoteerr.Permanent, Underlying: err}
			}
			recs = append(recs, r)
		}
		out = recs
		return nil
	})
	return out, err
}

func (s *HTTPStore) Put(ctx context.Context, r model.Record) error {
	return s.withRetry(ctx, "put record", func() error {
		resp, err := s.client.R().
			SetContext(ctx).
			SetBody(model.Encode(r)).
			Put("/api/records/" + r.ID)
		if err != nil {
			return remoteerr.FromNetwork("put record", err)
		}
		switch resp.StatusCode() {
		case http.StatusOK, http.StatusCreated, http.StatusNoContent:
			return nil
		}
		return remoteerr.FromStatus(resp.StatusCode(), resp.String(), "put record")
	})
}

func (s *HTTPStore) Delete(ctx context.Context, id string) error {
	return s.withRetry(ctx, "delete record", func() error {
		resp, err := s.client.R().
			SetContext(ctx).
			Delete("/api/records/" + id)
		if err != nil {
			return remoteerr.FromNetwork("delete record", err)
		}
		switch resp.StatusCode() {
		case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
			// An already-absent record counts as deleted.
			return nil
		}
		return remoteerr.FromStatus(resp.StatusCode(), resp.String(), "delete record")
	})
}

// Changes polls the full snapshot endpoint and emits each successful result.
// The channel closes when ctx is canceled. Poll failures are logged and the
// loop keeps going; a slow consumer drops snapshots rather than stalling the
// poller, since the next snapshot supersedes the missed one.
func (s *HTTPStore) Changes(ctx context.Context) <-chan []model.Record {
	ch := make(chan []model.Record, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap, err := s.GetAll(ctx)
				if err != nil {
					s.log.Warn().Err(err).Msg("change-stream poll failed")
					continue
				}
				select {
				case ch <- snap:
				default:
					s.log.Debug().Int("records", len(snap)).Msg("change-stream consumer slow, snapshot dropped")
				}
			}
		}
	}()
	return ch
}

// withRetry runs fn, retrying transient failures with exponential backoff up
// to the configured attempt budget. Permanent failures surface immediately.
func (s *HTTPStore) withRetry(ctx context.Context, op string, fn func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.cfg.InitialDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.Reset()

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if remoteerr.IsPermanent(err) {
			return err
		}
		if attempt >= s.cfg.MaxAttempts {
			return fmt.Errorf("%s: retry budget exhausted after %d attempts: %w", op, attempt, err)
		}
		wait := exp.NextBackOff()
		s.log.Debug().Err(err).Str("op", op).Int("attempt", attempt).Dur("wait", wait).Msg("transient remote failure, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
