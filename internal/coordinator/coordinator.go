// Package coordinator owns the in-memory view of records and decides when the
// reconciliation engine runs.
package coordinator

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/driftsync/driftsync/internal/connectivity"
	"github.com/driftsync/driftsync/internal/events"
	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/reconcile"
	"github.com/driftsync/driftsync/internal/remote"
	"github.com/driftsync/driftsync/internal/store"
)

// Coordinator is the single source of truth for "the current list of records"
// seen by callers. Local mutations are optimistic: the local store write and
// the in-memory refresh complete before any remote work starts, and a remote
// failure never rolls a local mutation back.
type Coordinator struct {
	engine  *reconcile.Engine
	local   store.Store
	remote  remote.Store
	monitor connectivity.Monitor
	bus     *events.Bus
	log     zerolog.Logger

	mu      sync.RWMutex
	records []model.Record
	loading bool
	syncing bool
	online  bool

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a Coordinator. Call Initialize before use and Close on shutdown.
func New(engine *reconcile.Engine, local store.Store, rem remote.Store, mon connectivity.Monitor, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		engine:  engine,
		local:   local,
		remote:  rem,
		monitor: mon,
		bus:     events.NewBus(64),
		log:     log.With().Str("component", "coordinator").Logger(),
	}
}

// Events exposes the notification stream. Consumers must drain it; a full
// buffer drops events rather than blocking a mutation.
func (c *Coordinator) Events() <-chan events.Event { return c.bus.Subscribe() }

// Initialize loads the initial state from the local store and starts the
// background reactions: connectivity transitions trigger a full sync, and the
// remote change stream (when authenticated) feeds OnRemoteChangeBatch.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.runCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if err := c.LoadRecords(ctx); err != nil {
		return err
	}

	c.setOnline(c.monitor.Online())

	c.wg.Add(1)
	go c.watchConnectivity()

	if c.remote.IsAuthenticated() {
		c.wg.Add(1)
		go c.watchRemoteChanges()
	}
	return nil
}

// Close stops the background watchers and waits for them.
func (c *Coordinator) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// LoadRecords reads the local store into the in-memory view. When online and
// authenticated it additionally pulls first, then re-reads, since the pull may
// have mutated the local store. The loading flag clears on every exit path,
// and a failed pull never hides the already-loaded local snapshot.
func (c *Coordinator) LoadRecords(ctx context.Context) error {
	c.setLoading(true)
	defer c.setLoading(false)

	if err := c.refresh(ctx); err != nil {
		return err
	}

	if c.monitor.Online() && c.remote.IsAuthenticated() {
		if _, err := c.engine.Pull(ctx); err != nil {
			c.log.Warn().Err(err).Msg("pull during load failed, serving local snapshot")
		} else if err := c.refresh(ctx); err != nil {
			return err
		}
	}

	c.bus.Publish(events.Event{Kind: events.KindRecordsRefreshed})
	return nil
}

// Create builds a new dirty record, persists it locally, makes it visible to
// callers immediately, then pushes in the background when possible.
func (c *Coordinator) Create(ctx context.Context, title, body string) (*model.Record, error) {
	rec, err := model.New(title, body, c.ownerID())
	if err != nil {
		return nil, err
	}
	if err := c.local.Put(ctx, *rec); err != nil {
		return nil, err
	}
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	c.bus.Publish(events.Event{Kind: events.KindRecordCreated, RecordID: rec.ID})
	c.pushAsync()
	return rec, nil
}

// Update persists a content edit: UpdatedAt bumps, the record goes dirty, and
// the change is visible before any remote call. A failed background push
// leaves the record pending for the next sync trigger.
func (c *Coordinator) Update(ctx context.Context, rec model.Record) error {
	rec.Touch()
	if err := c.local.Put(ctx, rec); err != nil {
		return err
	}
	if err := c.refresh(ctx); err != nil {
		return err
	}
	c.bus.Publish(events.Event{Kind: events.KindRecordUpdated, RecordID: rec.ID})
	c.pushAsync()
	return nil
}

// ToggleDone flips the completion flag through Update.
func (c *Coordinator) ToggleDone(ctx context.Context, rec model.Record) error {
	rec.Done = !rec.Done
	return c.Update(ctx, rec)
}

// Delete drops the record from the in-memory view immediately, then delegates
// to the engine (local delete first, best-effort remote delete) and refreshes.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	kept := c.records[:0]
	for _, r := range c.records {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	c.records = kept
	c.mu.Unlock()

	if err := c.engine.Delete(ctx, id); err != nil {
		return err
	}
	if err := c.refresh(ctx); err != nil {
		return err
	}
	c.bus.Publish(events.Event{Kind: events.KindRecordDeleted, RecordID: id})
	return nil
}

// ManualSync runs a full reconciliation pass on demand. Offline or
// unauthenticated it is a silent no-op; the syncing flag clears on every exit
// path.
func (c *Coordinator) ManualSync(ctx context.Context) error {
	if !c.monitor.Online() || !c.remote.IsAuthenticated() {
		return nil
	}

	c.setSyncing(true)
	c.bus.Publish(events.Event{Kind: events.KindSyncStarted})
	defer func() {
		c.setSyncing(false)
		c.bus.Publish(events.Event{Kind: events.KindSyncFinished})
	}()

	res, err := c.engine.FullSync(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("manual sync finished with errors")
	}
	c.log.Info().Int("pushed", res.Pushed).Int("pulled", res.Pulled).Msg("manual sync complete")

	if rerr := c.refresh(ctx); rerr != nil {
		return rerr
	}
	c.bus.Publish(events.Event{Kind: events.KindRecordsRefreshed})
	return err
}

// OnRemoteChangeBatch applies one complete remote snapshot pushed by the
// change stream. Clean or unknown records are overwritten by the remote copy;
// clean local records absent from the batch are deleted (that is how
// remote-side deletions propagate). A dirty local record absent from the
// batch survives: it is freshly created or edited here and not yet pushed,
// not deleted upstream.
func (c *Coordinator) OnRemoteChangeBatch(ctx context.Context, batch []model.Record) error {
	if !c.remote.IsAuthenticated() {
		return nil
	}

	inBatch := make(map[string]struct{}, len(batch))
	for _, rc := range batch {
		inBatch[rc.ID] = struct{}{}
		rc.Dirty = false

		local, err := c.local.Get(ctx, rc.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if local != nil && local.Dirty {
			continue
		}
		if err := c.local.Put(ctx, rc); err != nil {
			return err
		}
	}

	locals, err := c.local.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, l := range locals {
		if _, ok := inBatch[l.ID]; ok || l.Dirty {
			continue
		}
		if err := c.local.Delete(ctx, l.ID); err != nil {
			return err
		}
	}

	if err := c.refresh(ctx); err != nil {
		return err
	}
	c.bus.Publish(events.Event{Kind: events.KindRecordsRefreshed})
	return nil
}

// Records returns an ordered snapshot. It is a deep copy: mutating it can
// never reach the coordinator's authoritative state.
func (c *Coordinator) Records() []model.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Record, len(c.records))
	for i, r := range c.records {
		out[i] = r.Clone()
	}
	return out
}

// PendingCount returns how many records still await a successful push.
func (c *Coordinator) PendingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, r := range c.records {
		if r.Dirty {
			n++
		}
	}
	return n
}

// FilterByDone returns the snapshot subset with the given completion state.
func (c *Coordinator) FilterByDone(done bool) []model.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.Record
	for _, r := range c.records {
		if r.Done == done {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Loading reports whether a LoadRecords call is in progress.
func (c *Coordinator) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// Syncing reports whether a ManualSync call is in progress.
func (c *Coordinator) Syncing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.syncing
}

// Online reports the last observed connectivity state.
func (c *Coordinator) Online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// ------------------------- internals -------------------------

// refresh re-reads the local store into the in-memory view.
func (c *Coordinator) refresh(ctx context.Context) error {
	recs, err := c.local.GetAll(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.records = recs
	c.mu.Unlock()
	return nil
}

// pushAsync spawns a background push. The caller already observed its local
// mutation; the synced state lands on a later refresh. Failures go to the log
// sink only, the record simply stays dirty.
func (c *Coordinator) pushAsync() {
	if !c.monitor.Online() || !c.remote.IsAuthenticated() {
		return
	}
	ctx := c.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.engine.Push(ctx); err != nil {
			c.log.Warn().Err(err).Msg("background push failed, records stay pending")
			return
		}
		if err := c.refresh(ctx); err != nil {
			c.log.Error().Err(err).Msg("refresh after background push failed")
			return
		}
		c.bus.Publish(events.Event{Kind: events.KindRecordsRefreshed})
	}()
}

func (c *Coordinator) watchConnectivity() {
	defer c.wg.Done()
	stream := c.monitor.Stream()
	for {
		select {
		case <-c.runCtx.Done():
			return
		case online, ok := <-stream:
			if !ok {
				return
			}
			c.setOnline(online)
			c.bus.Publish(events.Event{Kind: events.KindConnectivityChanged, Online: online})
			if online {
				c.syncAfterReconnect()
			}
		}
	}
}

// syncAfterReconnect fires a full pass without blocking the transition
// handler.
func (c *Coordinator) syncAfterReconnect() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res, err := c.engine.FullSync(c.runCtx)
		if err != nil {
			c.log.Warn().Err(err).Msg("sync after reconnect finished with errors")
		}
		if err := c.refresh(c.runCtx); err != nil {
			c.log.Error().Err(err).Msg("refresh after reconnect sync failed")
			return
		}
		c.log.Info().Int("pushed", res.Pushed).Int("pulled", res.Pulled).Msg("reconnect sync complete")
		c.bus.Publish(events.Event{Kind: events.KindRecordsRefreshed})
	}()
}

func (c *Coordinator) watchRemoteChanges() {
	defer c.wg.Done()
	stream := c.remote.Changes(c.runCtx)
	for {
		select {
		case <-c.runCtx.Done():
			return
		case batch, ok := <-stream:
			if !ok {
				return
			}
			if err := c.OnRemoteChangeBatch(c.runCtx, batch); err != nil {
				c.log.Error().Err(err).Msg("applying remote change batch failed")
			}
		}
	}
}

func (c *Coordinator) ownerID() string {
	if c.remote.IsAuthenticated() {
		return c.remote.OwnerID()
	}
	return ""
}

func (c *Coordinator) setLoading(v bool) {
	c.mu.Lock()
	c.loading = v
	c.mu.Unlock()
}

func (c *Coordinator) setSyncing(v bool) {
	c.mu.Lock()
	c.syncing = v
	c.mu.Unlock()
}

func (c *Coordinator) setOnline(v bool) {
	c.mu.Lock()
	c.online = v
	c.mu.Unlock()
}
