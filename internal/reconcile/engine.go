// Package reconcile moves records between the local and remote stores,
// resolving conflicts with a last-writer-wins rule on UpdatedAt.
package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftsync/driftsync/internal/connectivity"
	"github.com/driftsync/driftsync/internal/remote"
	"github.com/driftsync/driftsync/internal/store"
)

// Engine states. The guard is an explicit two-state machine: a pass moves
// Idle→Syncing on entry and back on every exit path.
const (
	stateIdle uint32 = iota
	stateSyncing
)

// Engine owns the push and pull algorithms. A single in-flight guard covers
// Push, Pull and FullSync: any of them invoked while a pass is running
// returns a zero-effect result immediately rather than queueing. Callers that
// need the outcome of a specific pass must wait for the running one to finish;
// the engine deliberately exposes no completion signal for a skipped call.
type Engine struct {
	local   store.Store
	remote  remote.Store
	monitor connectivity.Monitor
	log     zerolog.Logger

	state uint32

	// now is swappable in tests.
	now func() time.Time
}

// New wires an Engine. All dependencies are required.
func New(local store.Store, rem remote.Store, mon connectivity.Monitor, log zerolog.Logger) *Engine {
	return &Engine{
		local:   local,
		remote:  rem,
		monitor: mon,
		log:     log.With().Str("component", "reconcile").Logger(),
		now:     time.Now,
	}
}

// Result reports what one FullSync pass accomplished.
type Result struct {
	Pushed int
	Pulled int
}

// Push uploads every dirty local record, resolving conflicts in favor of the
// strictly newer UpdatedAt; a tie pushes the local copy. Returns the number of
// records confirmed synced. A no-op (guard busy, offline, or unauthenticated)
// returns (0, nil).
func (e *Engine) Push(ctx context.Context) (int, error) {
	if !e.begin("push") {
		return 0, nil
	}
	defer e.end()
	return e.push(ctx)
}

// Pull applies the remote snapshot to the local store. Dirty local records are
// only overwritten by a strictly newer remote copy; clean ones always are.
// Records absent from the snapshot are left alone, deletion does not
// propagate through this pass. Returns the number of records written locally.
func (e *Engine) Pull(ctx context.Context) (int, error) {
	if !e.begin("pull") {
		return 0, nil
	}
	defer e.end()
	return e.pull(ctx)
}

// FullSync runs push then pull under one guard acquisition. The order is a
// contract: pull assumes push has already resolved local-ahead conflicts.
func (e *Engine) FullSync(ctx context.Context) (Result, error) {
	if !e.begin("full_sync") {
		return Result{}, nil
	}
	defer e.end()

	var res Result
	var pushErr, pullErr error
	res.Pushed, pushErr = e.push(ctx)
	res.Pulled, pullErr = e.pull(ctx)
	return res, errors.Join(pushErr, pullErr)
}

// Delete removes the record locally first so the local view is immediately
// correct even offline, then best-effort deletes it remotely. The remote
// side is attempted at most once per call; a failure there is logged and
// swallowed, never retried by a scheduler.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.local.Delete(ctx, id); err != nil {
		return err
	}
	if !e.ready() {
		return nil
	}
	if err := e.remote.Delete(ctx, id); err != nil {
		e.log.Warn().Err(err).Str("id", id).Msg("remote delete failed, record stays deleted locally")
	}
	return nil
}

// ready reports whether both reconciliation preconditions hold.
func (e *Engine) ready() bool {
	return e.monitor.Online() && e.remote.IsAuthenticated()
}

func (e *Engine) begin(op string) bool {
	if !atomic.CompareAndSwapUint32(&e.state, stateIdle, stateSyncing) {
		passSkippedTotal.WithLabelValues(op).Inc()
		e.log.Debug().Str("op", op).Msg("reconciliation pass already in flight, skipping")
		return false
	}
	inFlight.Set(1)
	return true
}

func (e *Engine) end() {
	inFlight.Set(0)
	atomic.StoreUint32(&e.state, stateIdle)
}

func (e *Engine) push(ctx context.Context) (int, error) {
	if !e.ready() {
		return 0, nil
	}
	start := e.now()
	defer func() { passDuration.WithLabelValues("push").Observe(time.Since(start).Seconds()) }()
	passesTotal.WithLabelValues("push").Inc()

	dirty, err := e.local.GetDirty(ctx)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, local := range dirty {
		rc, err := e.remote.Get(ctx, local.ID)
		if err != nil {
			e.log.Warn().Err(err).Str("id", local.ID).Msg("push: remote fetch failed, record stays dirty")
			continue
		}

		if rc != nil && rc.UpdatedAt.After(local.UpdatedAt) {
			// Remote is strictly newer: it wins and the pending local
			// edit is discarded.
			conflictsTotal.WithLabelValues("remote").Inc()
			rc.Dirty = false
			if err := e.local.Put(ctx, *rc); err != nil {
				return synced, err
			}
			continue
		}

		if rc != nil {
			conflictsTotal.WithLabelValues("local").Inc()
		}
		if err := e.remote.Put(ctx, local); err != nil {
			e.log.Warn().Err(err).Str("id", local.ID).Msg("push: remote write failed, record stays dirty")
			continue
		}
		if err := e.local.MarkSynced(ctx, local.ID, e.now().UTC()); err != nil {
			return synced, err
		}
		synced++
		recordsPushedTotal.Inc()
	}
	return synced, nil
}

func (e *Engine) pull(ctx context.Context) (int, error) {
	if !e.ready() {
		return 0, nil
	}
	start := e.now()
	defer func() { passDuration.WithLabelValues("pull").Observe(time.Since(start).Seconds()) }()
	passesTotal.WithLabelValues("pull").Inc()

	snapshot, err := e.remote.GetAll(ctx)
	if err != nil {
		// Pass-level abort: nothing from this snapshot was applied.
		return 0, err
	}

	applied := 0
	for _, rc := range snapshot {
		rc.Dirty = false

		local, err := e.local.Get(ctx, rc.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// New upstream record.
		case err != nil:
			return applied, err
		case local.Dirty && !rc.UpdatedAt.After(local.UpdatedAt):
			// Pending local edit is newer or tied: keep it for the next push.
			continue
		case local.Dirty:
			// Remote strictly newer than a dirty local: remote wins.
			conflictsTotal.WithLabelValues("remote").Inc()
		default:
			// Clean local state has no precedence claim.
		}

		if err := e.local.Put(ctx, rc); err != nil {
			return applied, err
		}
		applied++
		recordsPulledTotal.Inc()
	}
	return applied, nil
}
