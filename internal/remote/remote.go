// Package remote defines the authoritative remote record store boundary and
// its HTTP implementation.
package remote

import (
	"context"

	"github.com/driftsync/driftsync/internal/model"
)

// Store is the network-backed authoritative record store. Get returns
// (nil, nil) when the record does not exist remotely. Mutating calls may fail
// with a classified remoteerr.Error; the implementation applies its own retry
// budget to transient failures before surfacing one.
type Store interface {
	Get(ctx context.Context, id string) (*model.Record, error)
	GetAll(ctx context.Context) ([]model.Record, error)
	Put(ctx context.Context, r model.Record) error
	Delete(ctx context.Context, id string) error

	// Changes emits complete remote snapshots until ctx is canceled. The
	// deletion-propagation rule in the coordinator depends on every batch
	// being a full, unfiltered snapshot.
	Changes(ctx context.Context) <-chan []model.Record

	// IsAuthenticated reports whether a remote principal is configured.
	IsAuthenticated() bool

	// OwnerID returns the authenticated principal id, or "" when absent.
	OwnerID() string
}
