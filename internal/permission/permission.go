package permission

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cuemby/crdtd/internal/apperr"
	"github.com/cuemby/crdtd/internal/db"
)

// Level is a permission grant, ordered from least to most capable.
type Level string

const (
	LevelNone  Level = "none"
	LevelRead  Level = "read"
	LevelWrite Level = "write"
	LevelAdmin Level = "admin"
)

var rank = map[Level]int{
	LevelNone:  0,
	LevelRead:  1,
	LevelWrite: 2,
	LevelAdmin: 3,
}

func max(a, b Level) Level {
	if rank[a] >= rank[b] {
		return a
	}
	return b
}

// Oracle resolves effective permissions for a (user, document) pair.
type Oracle struct {
	pool *db.Pool
}

// NewOracle builds a permission Oracle over the shared connection pool.
func NewOracle(pool *db.Pool) *Oracle {
	return &Oracle{pool: pool}
}

// Resolve returns the user's effective level on a document: the owner
// always gets admin; a non-existent or soft-deleted document denies
// everyone; otherwise the level is the higher of any direct document
// grant and any inherited vault grant.
func (o *Oracle) Resolve(ctx context.Context, docID uuid.UUID, userID string) (Level, error) {
	var ownerID string
	var vaultID *uuid.UUID
	var deleted bool
	err := o.pool.QueryRow(ctx,
		`SELECT owner_id, vault_id, is_deleted FROM documents WHERE id = $1`, docID,
	).Scan(&ownerID, &vaultID, &deleted)
	if err == pgx.ErrNoRows {
		return LevelNone, nil
	}
	if err != nil {
		return LevelNone, apperr.Wrap(apperr.Transient, "load document for permission check", err)
	}
	if deleted {
		return LevelNone, nil
	}
	if ownerID == userID {
		return LevelAdmin, nil
	}

	level := LevelNone

	var docGrant string
	err = o.pool.QueryRow(ctx,
		`SELECT permission FROM document_permissions WHERE document_id = $1 AND user_id = $2`,
		docID, userID,
	).Scan(&docGrant)
	if err != nil && err != pgx.ErrNoRows {
		return LevelNone, apperr.Wrap(apperr.Transient, "load document grant", err)
	}
	if err == nil {
		level = max(level, Level(docGrant))
	}

	if vaultID != nil {
		var vaultGrant string
		err = o.pool.QueryRow(ctx,
			`SELECT permission FROM vault_permissions WHERE vault_id = $1 AND user_id = $2`,
			*vaultID, userID,
		).Scan(&vaultGrant)
		if err != nil && err != pgx.ErrNoRows {
			return LevelNone, apperr.Wrap(apperr.Transient, "load vault grant", err)
		}
		if err == nil {
			level = max(level, Level(vaultGrant))
		}
	}

	return level, nil
}

// CanRead reports whether level grants at least read access.
func CanRead(l Level) bool { return rank[l] >= rank[LevelRead] }

// CanWrite reports whether level grants at least write access.
func CanWrite(l Level) bool { return rank[l] >= rank[LevelWrite] }

// CanAdmin reports whether level grants admin access.
func CanAdmin(l Level) bool { return rank[l] >= rank[LevelAdmin] }
