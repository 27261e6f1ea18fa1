package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cuemby/crdtd/internal/apperr"
	"github.com/cuemby/crdtd/internal/blobstore"
	"github.com/cuemby/crdtd/internal/db"
)

// StorageForm names where a document's snapshot physically lives.
type StorageForm string

const (
	StorageNone   StorageForm = "none"
	StorageInline StorageForm = "pg"
	StorageBlob   StorageForm = "minio"
)

const blobBucket = "crdt-snapshots"

func blobKey(docID uuid.UUID) string {
	return "docs/" + docID.String() + ".bin"
}

// Snapshotter is the snapshot operations the registry, compaction worker
// and REST handlers need, named as a small interface so they can depend
// on it rather than the concrete Postgres-backed type.
type Snapshotter interface {
	Load(ctx context.Context, docID uuid.UUID) ([]byte, error)
	Save(ctx context.Context, docID uuid.UUID, data []byte) (SnapshotInfo, error)
	Info(ctx context.Context, docID uuid.UUID) (SnapshotInfo, bool, error)
	Delete(ctx context.Context, docID uuid.UUID) error
}

// SnapshotInfo is the result of Info: where the snapshot lives, its size,
// and when it was last written.
type SnapshotInfo struct {
	LastSnapshotAt time.Time
	Storage        StorageForm
	SizeBytes      int64
}

// SnapshotStore holds one snapshot per document, routed to the relational
// store or the blob store by size, with the inline/blob transition kept
// atomic against the document's metadata row.
type SnapshotStore struct {
	pool    *db.Pool
	blobs   blobstore.Store
	sizeCap int64
}

// NewSnapshotStore builds a SnapshotStore. sizeLimitBytes is
// SNAPSHOT_SIZE_LIMIT_MB from config, converted to bytes.
func NewSnapshotStore(pool *db.Pool, blobs blobstore.Store, sizeLimitBytes int64) *SnapshotStore {
	return &SnapshotStore{pool: pool, blobs: blobs, sizeCap: sizeLimitBytes}
}

// Load returns the current snapshot bytes, or nil if the document has none.
func (s *SnapshotStore) Load(ctx context.Context, docID uuid.UUID) ([]byte, error) {
	var storage StorageForm
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot_storage FROM documents WHERE id = $1`, docID,
	).Scan(&storage)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "load document metadata", err)
	}

	switch storage {
	case StorageInline:
		var data []byte
		err := s.pool.QueryRow(ctx,
			`SELECT snapshot FROM crdt_snapshots WHERE document_id = $1`, docID,
		).Scan(&data)
		if err != nil {
			return nil, apperr.Wrap(apperr.Transient, "load inline snapshot", err)
		}
		return data, nil
	case StorageBlob:
		data, err := s.blobs.Get(ctx, blobBucket, blobKey(docID))
		if err != nil {
			return nil, apperr.Wrap(apperr.Transient, "load blob snapshot", err)
		}
		return data, nil
	default:
		return nil, nil
	}
}

// Save writes a new snapshot, routing to inline or blob storage by size,
// and transitions atomically if the storage form changed:
// when moving inline→blob the inline row is deleted after the blob put
// succeeds; blob→inline deletes the blob object after the inline upsert
// commits.
func (s *SnapshotStore) Save(ctx context.Context, docID uuid.UUID, data []byte) (SnapshotInfo, error) {
	newForm := StorageInline
	if int64(len(data)) > s.sizeCap {
		newForm = StorageBlob
	}

	var oldForm StorageForm
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot_storage FROM documents WHERE id = $1`, docID,
	).Scan(&oldForm)
	if err != nil && err != pgx.ErrNoRows {
		return SnapshotInfo{}, apperr.Wrap(apperr.Transient, "load snapshot form", err)
	}

	now := time.Now()

	switch newForm {
	case StorageInline:
		if err := s.saveInline(ctx, docID, data, now); err != nil {
			return SnapshotInfo{}, err
		}
		if oldForm == StorageBlob {
			if err := s.blobs.Delete(ctx, blobBucket, blobKey(docID)); err != nil {
				return SnapshotInfo{}, apperr.Wrap(apperr.Transient, "retire old blob snapshot", err)
			}
		}
	case StorageBlob:
		if err := s.blobs.Put(ctx, blobBucket, blobKey(docID), data, "application/octet-stream"); err != nil {
			return SnapshotInfo{}, apperr.Wrap(apperr.Transient, "put blob snapshot", err)
		}
		if err := s.commitBlobForm(ctx, docID, int64(len(data)), now); err != nil {
			return SnapshotInfo{}, err
		}
	}

	return SnapshotInfo{LastSnapshotAt: now, Storage: newForm, SizeBytes: int64(len(data))}, nil
}

func (s *SnapshotStore) saveInline(ctx context.Context, docID uuid.UUID, data []byte, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "begin snapshot transaction", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO crdt_snapshots (document_id, snapshot, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (document_id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at`,
		docID, data, now,
	)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "upsert inline snapshot", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE documents SET snapshot_storage = $2, snapshot_size_bytes = $3, last_snapshot_at = $4, updated_at = $4 WHERE id = $1`,
		docID, StorageInline, len(data), now,
	)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "update document metadata", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Transient, "commit snapshot transaction", err)
	}
	return nil
}

// commitBlobForm records the blob form on the metadata row and retires
// any inline row in the same transaction, so readers never observe the
// new blob alongside a stale inline snapshot.
func (s *SnapshotStore) commitBlobForm(ctx context.Context, docID uuid.UUID, size int64, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "begin snapshot transaction", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE documents SET snapshot_storage = $2, snapshot_size_bytes = $3, last_snapshot_at = $4, updated_at = $4 WHERE id = $1`,
		docID, StorageBlob, size, now,
	)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "update document metadata", err)
	}

	_, err = tx.Exec(ctx, `DELETE FROM crdt_snapshots WHERE document_id = $1`, docID)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "retire old inline snapshot", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Transient, "commit snapshot transaction", err)
	}
	return nil
}

func (s *SnapshotStore) updateMeta(ctx context.Context, docID uuid.UUID, form StorageForm, size int64, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET snapshot_storage = $2, snapshot_size_bytes = $3, last_snapshot_at = $4, updated_at = $4 WHERE id = $1`,
		docID, form, size, now,
	)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "update document metadata", err)
	}
	return nil
}

// Info returns the current snapshot's storage form, size and last write
// time, or ok=false if the document has no snapshot yet.
func (s *SnapshotStore) Info(ctx context.Context, docID uuid.UUID) (SnapshotInfo, bool, error) {
	var info SnapshotInfo
	var lastAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot_storage, snapshot_size_bytes, last_snapshot_at FROM documents WHERE id = $1`, docID,
	).Scan(&info.Storage, &info.SizeBytes, &lastAt)
	if err == pgx.ErrNoRows || (err == nil && lastAt == nil) {
		return SnapshotInfo{}, false, nil
	}
	if err != nil {
		return SnapshotInfo{}, false, apperr.Wrap(apperr.Transient, "load snapshot info", err)
	}
	info.LastSnapshotAt = *lastAt
	return info, true, nil
}

// Delete removes a document's snapshot from wherever it currently lives.
func (s *SnapshotStore) Delete(ctx context.Context, docID uuid.UUID) error {
	info, ok, err := s.Info(ctx, docID)
	if err != nil || !ok {
		return err
	}
	if info.Storage == StorageBlob {
		if err := s.blobs.Delete(ctx, blobBucket, blobKey(docID)); err != nil {
			return apperr.Wrap(apperr.Transient, "delete blob snapshot", err)
		}
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM crdt_snapshots WHERE document_id = $1`, docID)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "delete inline snapshot", err)
	}
	return s.updateMeta(ctx, docID, StorageNone, 0, time.Now())
}
