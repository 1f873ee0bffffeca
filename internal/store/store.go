// Package store defines the local persistence boundary of the reconciliation
// engine. Implementations live under internal/store/<driver>/.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/driftsync/driftsync/internal/model"
)

// ErrNotFound is returned by Get when no record carries the requested id.
var ErrNotFound = errors.New("record not found")

// Store is the durable local record store. It must stay writable and readable
// while the remote side is unreachable; a failing local store breaks the
// offline guarantee and callers are expected to treat its errors as fatal to
// the operation attempted.
type Store interface {
	GetAll(ctx context.Context) ([]model.Record, error)
	Get(ctx context.Context, id string) (*model.Record, error)
	Put(ctx context.Context, r model.Record) error
	PutAll(ctx context.Context, rs []model.Record) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error

	// GetDirty enumerates records awaiting a push, in stable store order.
	GetDirty(ctx context.Context) ([]model.Record, error)

	// MarkSynced clears the dirty flag and stamps the last successful
	// reconciliation time for one record.
	MarkSynced(ctx context.Context, id string, syncedAt time.Time) error
}
