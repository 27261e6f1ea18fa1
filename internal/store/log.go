package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cuemby/crdtd/internal/apperr"
	"github.com/cuemby/crdtd/internal/db"
	"github.com/cuemby/crdtd/pkg/metrics"
)

// LogStore is the append-only per-document update log.
type LogStore interface {
	Append(ctx context.Context, docID uuid.UUID, update []byte) error
	CountSince(ctx context.Context, docID uuid.UUID, since *time.Time) (int, error)
	ReadSince(ctx context.Context, docID uuid.UUID, since *time.Time) ([][]byte, error)
	TruncateBefore(ctx context.Context, docID uuid.UUID, before time.Time) error
	DeleteAll(ctx context.Context, docID uuid.UUID) error
	Candidates(ctx context.Context, threshold, limit int) ([]uuid.UUID, error)
}

// PGLogStore is the Postgres-backed LogStore implementation.
type PGLogStore struct {
	pool *db.Pool
}

// NewPGLogStore wraps a connection pool as a LogStore.
func NewPGLogStore(pool *db.Pool) *PGLogStore {
	return &PGLogStore{pool: pool}
}

// Append writes one update entry. The session runtime treats a failure
// here as a fatal session error for the offending edit.
func (s *PGLogStore) Append(ctx context.Context, docID uuid.UUID, update []byte) error {
	timer := metrics.NewTimer()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO crdt_updates (document_id, update_data) VALUES ($1, $2)`,
		docID, update,
	)
	timer.ObserveDuration(metrics.LogAppendDuration)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "append update", err)
	}
	return nil
}

// CountSince returns the number of updates recorded since the given time
// (or since the beginning of the log if since is nil).
func (s *PGLogStore) CountSince(ctx context.Context, docID uuid.UUID, since *time.Time) (int, error) {
	var n int
	var err error
	if since == nil {
		err = s.pool.QueryRow(ctx,
			`SELECT count(*) FROM crdt_updates WHERE document_id = $1`, docID,
		).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT count(*) FROM crdt_updates WHERE document_id = $1 AND created_at >= $2`,
			docID, *since,
		).Scan(&n)
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.Transient, "count updates", err)
	}
	return n, nil
}

// ReadSince returns the ordered update bytes since the given time (or the
// full log if since is nil), strictly ordered by created_at with the
// serial id as tie-break.
func (s *PGLogStore) ReadSince(ctx context.Context, docID uuid.UUID, since *time.Time) ([][]byte, error) {
	var rows pgx.Rows
	var err error
	if since == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT update_data FROM crdt_updates WHERE document_id = $1 ORDER BY created_at, id`, docID,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT update_data FROM crdt_updates WHERE document_id = $1 AND created_at >= $2 ORDER BY created_at, id`,
			docID, *since,
		)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "read updates", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, apperr.Wrap(apperr.Transient, "scan update", err)
		}
		out = append(out, data)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "iterate updates", err)
	}
	return out, nil
}

// TruncateBefore deletes log entries older than before. This is only ever
// legal to call after a snapshot covering those entries has committed;
// callers are responsible for that ordering.
func (s *PGLogStore) TruncateBefore(ctx context.Context, docID uuid.UUID, before time.Time) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM crdt_updates WHERE document_id = $1 AND created_at < $2`,
		docID, before,
	)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "truncate log", err)
	}
	return nil
}

// DeleteAll removes every log entry for a document.
func (s *PGLogStore) DeleteAll(ctx context.Context, docID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM crdt_updates WHERE document_id = $1`, docID)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "delete log", err)
	}
	return nil
}

// Candidates returns up to limit document ids whose update log holds at
// least threshold entries, ordered by update count descending, for the
// compaction worker to pick from on each tick.
func (s *PGLogStore) Candidates(ctx context.Context, threshold, limit int) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document_id, count(*) AS n FROM crdt_updates
		 GROUP BY document_id HAVING count(*) >= $1
		 ORDER BY n DESC LIMIT $2`,
		threshold, limit,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list compaction candidates", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var docID uuid.UUID
		var n int
		if err := rows.Scan(&docID, &n); err != nil {
			return nil, apperr.Wrap(apperr.Transient, "scan compaction candidate", err)
		}
		out = append(out, docID)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "iterate compaction candidates", err)
	}
	return out, nil
}
