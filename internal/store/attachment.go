package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cuemby/crdtd/internal/apperr"
	"github.com/cuemby/crdtd/internal/db"
)

// Attachment is one uploaded file's metadata row. The bytes themselves
// live in the blob store at MinioPath; the row is what lets an
// attachment id resolve back to its document (for authorization) and
// its blob key (for presigning).
type Attachment struct {
	ID          uuid.UUID
	DocumentID  uuid.UUID
	Filename    string
	MinioPath   string
	ContentType string
	SizeBytes   int64
	UploadedBy  string
	CreatedAt   time.Time
}

// AttachmentStore records and resolves attachment metadata.
type AttachmentStore interface {
	Create(ctx context.Context, att Attachment) error
	Get(ctx context.Context, id uuid.UUID) (Attachment, error)
}

// PGAttachmentStore is the Postgres-backed AttachmentStore implementation.
type PGAttachmentStore struct {
	pool *db.Pool
}

// NewPGAttachmentStore wraps a connection pool as an AttachmentStore.
func NewPGAttachmentStore(pool *db.Pool) *PGAttachmentStore {
	return &PGAttachmentStore{pool: pool}
}

// Create inserts one attachment row.
func (s *PGAttachmentStore) Create(ctx context.Context, att Attachment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attachments (id, document_id, filename, minio_path, content_type, size_bytes, uploaded_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		att.ID, att.DocumentID, att.Filename, att.MinioPath, att.ContentType, att.SizeBytes, att.UploadedBy,
	)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "create attachment", err)
	}
	return nil
}

// Get resolves an attachment id to its row, NotFound if no such id.
func (s *PGAttachmentStore) Get(ctx context.Context, id uuid.UUID) (Attachment, error) {
	var att Attachment
	err := s.pool.QueryRow(ctx,
		`SELECT id, document_id, filename, minio_path, content_type, size_bytes, uploaded_by, created_at
		 FROM attachments WHERE id = $1`, id,
	).Scan(&att.ID, &att.DocumentID, &att.Filename, &att.MinioPath, &att.ContentType, &att.SizeBytes, &att.UploadedBy, &att.CreatedAt)
	if err == pgx.ErrNoRows {
		return Attachment{}, apperr.New(apperr.NotFound, "attachment not found")
	}
	if err != nil {
		return Attachment{}, apperr.Wrap(apperr.Transient, "load attachment", err)
	}
	return att, nil
}
