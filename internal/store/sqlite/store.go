// Package sqlite implements store.Store on a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/store"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS records (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    body       TEXT NOT NULL DEFAULT '',
    done       INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    synced_at  TEXT,
    owner_id   TEXT,
    dirty      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_records_dirty ON records(dirty);
`

const recordColumns = `id, title, body, done, created_at, updated_at, synced_at, owner_id, dirty`

// RecordStore is the SQLite-backed local store.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore wires a store over an existing connection and applies the
// schema. Use Open/OpenInMemory to obtain the connection.
func NewRecordStore(db *sql.DB) (*RecordStore, error) {
	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &RecordStore{db: db}, nil
}

// DB exposes the underlying connection for health probes.
func (s *RecordStore) DB() *sql.DB { return s.db }

// HealthPing reports whether the database answers.
func (s *RecordStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *RecordStore) GetAll(ctx context.Context) ([]model.Record, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM records ORDER BY updated_at DESC, id`)
}

func (s *RecordStore) Get(ctx context.Context, id string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RecordStore) Put(ctx context.Context, r model.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO records (`+recordColumns+`) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
    title=excluded.title, body=excluded.body, done=excluded.done,
    created_at=excluded.created_at, updated_at=excluded.updated_at,
    synced_at=excluded.synced_at, owner_id=excluded.owner_id,
    dirty=excluded.dirty`,
		r.ID, r.Title, r.Body, boolToInt(r.Done),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
		nullableTime(r.SyncedAt), nullableString(r.OwnerID), boolToInt(r.Dirty))
	return err
}

func (s *RecordStore) PutAll(ctx context.Context, rs []model.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range rs {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO records (`+recordColumns+`) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
    title=excluded.title, body=excluded.body, done=excluded.done,
    created_at=excluded.created_at, updated_at=excluded.updated_at,
    synced_at=excluded.synced_at, owner_id=excluded.owner_id,
    dirty=excluded.dirty`,
			r.ID, r.Title, r.Body, boolToInt(r.Done),
			formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
			nullableTime(r.SyncedAt), nullableString(r.OwnerID), boolToInt(r.Dirty)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *RecordStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	return err
}

func (s *RecordStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records`)
	return err
}

func (s *RecordStore) GetDirty(ctx context.Context) ([]model.Record, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM records WHERE dirty = 1 ORDER BY updated_at, id`)
}

func (s *RecordStore) MarkSynced(ctx context.Context, id string, syncedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET dirty = 0, synced_at = ? WHERE id = ?`,
		formatTime(syncedAt), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *RecordStore) queryRecords(ctx context.Context, query string, args ...any) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (model.Record, error) {
	var (
		r                    model.Record
		done, dirty          int
		createdAt, updatedAt string
		syncedAt, ownerID    sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Title, &r.Body, &done, &createdAt, &updatedAt, &syncedAt, &ownerID, &dirty); err != nil {
		return model.Record{}, err
	}
	r.Done = done != 0
	r.Dirty = dirty != 0

	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Record{}, fmt.Errorf("scan created_at: %w", err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Record{}, fmt.Errorf("scan updated_at: %w", err)
	}
	if syncedAt.Valid {
		t, err := parseTime(syncedAt.String)
		if err != nil {
			return model.Record{}, fmt.Errorf("scan synced_at: %w", err)
		}
		r.SyncedAt = &t
	}
	if ownerID.Valid {
		r.OwnerID = ownerID.String
	}
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
