// Package events carries the coordinator's state-change notifications.
// Consumers subscribe to a channel instead of being invoked inline with
// storage writes.
package events

// Kind names the state change an Event announces.
type Kind string

const (
	KindRecordCreated       Kind = "record_created"
	KindRecordUpdated       Kind = "record_updated"
	KindRecordDeleted       Kind = "record_deleted"
	KindRecordsRefreshed    Kind = "records_refreshed"
	KindSyncStarted         Kind = "sync_started"
	KindSyncFinished        Kind = "sync_finished"
	KindConnectivityChanged Kind = "connectivity_changed"
)

// Event is a single notification. RecordID is set for per-record kinds and
// Online accompanies connectivity changes.
type Event struct {
	Kind     Kind
	RecordID string
	Online   bool
}

// Bus is a lightweight in-process pub-sub backed by a buffered channel.
type Bus struct {
	ch chan Event
}

// NewBus creates a bus with the given buffer size.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{ch: make(chan Event, buffer)}
}

// Publish attempts to enqueue the event without blocking.
// Returns true if published, false if the buffer is full.
func (b *Bus) Publish(evt Event) bool {
	select {
	case b.ch <- evt:
		return true
	default:
		return false
	}
}

// Subscribe returns a read-only channel for consumers.
func (b *Bus) Subscribe() <-chan Event {
	return b.ch
}
