// Package model defines the Record entity shared by the local store, the
// remote store client and the reconciliation engine, together with its wire
// codec and lifecycle rules.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is a single reconciled unit of data. UpdatedAt is the version signal
// used for conflict resolution; Dirty marks content the remote store has not
// yet acknowledged.
type Record struct {
	ID        string
	Title     string
	Body      string
	Done      bool
	CreatedAt time.Time
	UpdatedAt time.Time
	SyncedAt  *time.Time
	OwnerID   string
	Dirty     bool
}

// New builds a Record ready for optimistic local persistence. The assigned ID
// is final; CreatedAt and UpdatedAt start equal and the record is born dirty.
func New(title, body, ownerID string) (*Record, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	now := time.Now().UTC()
	return &Record{
		ID:        uuid.New().String(),
		Title:     title,
		Body:      body,
		Done:      false,
		CreatedAt: now,
		UpdatedAt: now,
		OwnerID:   ownerID,
		Dirty:     true,
	}, nil
}

// Touch bumps UpdatedAt and flags the record for the next push. Every local
// content or state mutation must go through it.
func (r *Record) Touch() {
	r.UpdatedAt = time.Now().UTC()
	r.Dirty = true
}

// Validate enforces the invariants every persisted Record must satisfy.
func (r *Record) Validate() error {
	if r.ID == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(r.Title) == "" {
		return ErrEmptyTitle
	}
	if r.UpdatedAt.Before(r.CreatedAt) {
		return ErrClockSkew
	}
	return nil
}

// Clone returns a deep copy so snapshot holders cannot reach back into the
// coordinator's authoritative state through the SyncedAt pointer.
func (r Record) Clone() Record {
	cp := r
	if r.SyncedAt != nil {
		t := *r.SyncedAt
		cp.SyncedAt = &t
	}
	return cp
}
