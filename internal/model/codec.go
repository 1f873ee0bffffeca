package model

import (
	"fmt"
	"time"
)

// Persisted map keys. This flat shape is the confirmed remote representation
// shared by every store implementation; the dirty flag is deliberately not
// part of it.
const (
	keyID          = "id"
	keyTitle       = "title"
	keyDescription = "description"
	keyIsCompleted = "isCompleted"
	keyCreatedAt   = "createdAt"
	keyUpdatedAt   = "updatedAt"
	keySyncedAt    = "syncedAt"
	keyUserID      = "userId"
)

// Encode converts a Record into its persisted flat-map form. Timestamps are
// ISO-8601 strings; syncedAt and userId are omitted when absent.
func Encode(r Record) map[string]any {
	m := map[string]any{
		keyID:          r.ID,
		keyTitle:       r.Title,
		keyDescription: r.Body,
		keyIsCompleted: r.Done,
		keyCreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339Nano),
		keyUpdatedAt:   r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if r.SyncedAt != nil {
		m[keySyncedAt] = r.SyncedAt.UTC().Format(time.RFC3339Nano)
	}
	if r.OwnerID != "" {
		m[keyUserID] = r.OwnerID
	}
	return m
}

// Decode rebuilds a Record from its persisted flat-map form. A decoded record
// is always clean: the encoding carries confirmed remote state, so Dirty is
// false regardless of what the producer held in memory.
func Decode(m map[string]any) (Record, error) {
	var r Record
	var err error

	if r.ID, err = stringKey(m, keyID); err != nil {
		return Record{}, err
	}
	if r.Title, err = stringKey(m, keyTitle); err != nil {
		return Record{}, err
	}
	if v, ok := m[keyDescription]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return Record{}, fmt.Errorf("decode record: %q is not a string", keyDescription)
		}
		r.Body = s
	}
	if v, ok := m[keyIsCompleted]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return Record{}, fmt.Errorf("decode record: %q is not a bool", keyIsCompleted)
		}
		r.Done = b
	}
	if r.CreatedAt, err = timeKey(m, keyCreatedAt); err != nil {
		return Record{}, err
	}
	if r.UpdatedAt, err = timeKey(m, keyUpdatedAt); err != nil {
		return Record{}, err
	}
	if v, ok := m[keySyncedAt]; ok && v != nil {
		t, err := parseTime(keySyncedAt, v)
		if err != nil {
			return Record{}, err
		}
		r.SyncedAt = &t
	}
	if v, ok := m[keyUserID]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return Record{}, fmt.Errorf("decode record: %q is not a string", keyUserID)
		}
		r.OwnerID = s
	}

	r.Dirty = false
	if err := r.Validate(); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

func stringKey(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", fmt.Errorf("decode record: missing %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("decode record: %q is not a string", key)
	}
	return s, nil
}

func timeKey(m map[string]any, key string) (time.Time, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return time.Time{}, fmt.Errorf("decode record: missing %q", key)
	}
	return parseTime(key, v)
}

func parseTime(key string, v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("decode record: %q is not a string", key)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode record: bad %q: %w", key, err)
	}
	return t.UTC(), nil
}
