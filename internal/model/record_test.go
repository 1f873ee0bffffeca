package model

import (
	"errors"
	"testing"
	"time"
)

func TestNew_AssignsIdentityAndStartsDirty(t *testing.T) {
	r, err := New("  write report ", "draft body", "owner-1")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if r.ID == "" {
		t.Fatal("id not assigned")
	}
	if r.Title != "write report" {
		t.Fatalf("title not trimmed: %q", r.Title)
	}
	if !r.Dirty {
		t.Fatal("new record must be dirty")
	}
	if r.UpdatedAt.Before(r.CreatedAt) {
		t.Fatal("updatedAt must not precede createdAt")
	}
	if r.SyncedAt != nil {
		t.Fatal("new record cannot be synced")
	}
	if r.Done {
		t.Fatal("new record cannot be done")
	}
}

func TestNew_RejectsBlankTitle(t *testing.T) {
	if _, err := New("   ", "", ""); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("err = %v, want ErrEmptyTitle", err)
	}
}

func TestTouch_BumpsVersionAndMarksDirty(t *testing.T) {
	r, err := New("task", "", "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r.Dirty = false
	before := r.UpdatedAt

	time.Sleep(time.Millisecond)
	r.Touch()

	if !r.UpdatedAt.After(before) {
		t.Fatal("touch did not bump updatedAt")
	}
	if !r.Dirty {
		t.Fatal("touch did not mark dirty")
	}
}

func TestValidate(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		name string
		rec  Record
		want error
	}{
		{"valid", Record{ID: "1", Title: "t", CreatedAt: now, UpdatedAt: now}, nil},
		{"missing id", Record{Title: "t", CreatedAt: now, UpdatedAt: now}, ErrMissingID},
		{"blank title", Record{ID: "1", Title: "  ", CreatedAt: now, UpdatedAt: now}, ErrEmptyTitle},
		{"skewed clock", Record{ID: "1", Title: "t", CreatedAt: now, UpdatedAt: now.Add(-time.Second)}, ErrClockSkew},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.rec.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestClone_DetachesSyncedAt(t *testing.T) {
	now := time.Now().UTC()
	syncedAt := now.Add(-time.Minute)
	r := Record{ID: "1", Title: "t", CreatedAt: now, UpdatedAt: now, SyncedAt: &syncedAt}

	cp := r.Clone()
	*cp.SyncedAt = cp.SyncedAt.Add(time.Hour)

	if !r.SyncedAt.Equal(syncedAt) {
		t.Fatal("clone shares the SyncedAt pointer")
	}
}
