// Package storetest provides a compliance suite every store.Store
// implementation must pass. Implementations return a clean, isolated store
// from makeStore.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/store"
)

// Run exercises the full store.Store contract.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	mk := func(title string, dirty bool) model.Record {
		return model.Record{
			ID:        uuid.New().String(),
			Title:     title,
			CreatedAt: base,
			UpdatedAt: base,
			Dirty:     dirty,
		}
	}

	// Put / Get
	r1 := mk("first", true)
	if err := s.Put(ctx, r1); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, r1.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != r1.ID || got.Title != "first" || !got.Dirty {
		t.Fatalf("Get returned wrong record: %+v", got)
	}

	// Get unknown id
	if _, err := s.Get(ctx, "no-such-id"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get unknown: err=%v, want ErrNotFound", err)
	}

	// Put is an upsert keyed by id
	r1.Body = "updated body"
	r1.UpdatedAt = base.Add(time.Minute)
	if err := s.Put(ctx, r1); err != nil {
		t.Fatalf("Put upsert: %v", err)
	}
	if got, _ := s.Get(ctx, r1.ID); got.Body != "updated body" {
		t.Fatalf("upsert did not replace record: %+v", got)
	}
	if all, _ := s.GetAll(ctx); len(all) != 1 {
		t.Fatalf("upsert duplicated the record: n=%d", len(all))
	}

	// PutAll / GetAll
	r2 := mk("second", true)
	r3 := mk("third", false)
	if err := s.PutAll(ctx, []model.Record{r2, r3}); err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	all, err := s.GetAll(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("GetAll: n=%d err=%v", len(all), err)
	}

	// GetDirty
	dirty, err := s.GetDirty(ctx)
	if err != nil {
		t.Fatalf("GetDirty: %v", err)
	}
	if len(dirty) != 2 {
		t.Fatalf("GetDirty: n=%d, want 2", len(dirty))
	}
	for _, d := range dirty {
		if !d.Dirty {
			t.Fatalf("GetDirty returned clean record %s", d.ID)
		}
	}

	// MarkSynced
	syncedAt := base.Add(time.Hour)
	if err := s.MarkSynced(ctx, r2.ID, syncedAt); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	got, _ = s.Get(ctx, r2.ID)
	if got.Dirty {
		t.Fatal("MarkSynced left record dirty")
	}
	if got.SyncedAt == nil || !got.SyncedAt.Equal(syncedAt) {
		t.Fatalf("MarkSynced bad syncedAt: %v", got.SyncedAt)
	}
	if err := s.MarkSynced(ctx, "no-such-id", syncedAt); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("MarkSynced unknown: err=%v, want ErrNotFound", err)
	}

	// Delete
	if err := s.Delete(ctx, r1.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, r1.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("Delete did not remove the record")
	}

	// DeleteAll
	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if all, _ := s.GetAll(ctx); len(all) != 0 {
		t.Fatalf("DeleteAll left %d records", len(all))
	}
}
