package db

import "context"

// schema is the minimal DDL for the tables this repository's components
// read and write directly. The full documents/vaults/permissions/
// attachments CRUD surface is owned by the external REST collaborator;
// these tables are the ones the core touches: crdt_snapshots,
// crdt_updates, and the snapshot-routing columns on documents, plus the
// permission tables the oracle queries and the attachments table the
// attachment endpoints resolve ids through.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY,
	owner_id TEXT NOT NULL,
	vault_id UUID,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	last_snapshot_at TIMESTAMPTZ,
	snapshot_storage TEXT NOT NULL DEFAULT 'none',
	snapshot_size_bytes BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS crdt_snapshots (
	document_id UUID PRIMARY KEY REFERENCES documents(id),
	snapshot BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS crdt_updates (
	id BIGSERIAL PRIMARY KEY,
	document_id UUID NOT NULL,
	update_data BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS crdt_updates_doc_created_idx ON crdt_updates(document_id, created_at);

CREATE TABLE IF NOT EXISTS document_permissions (
	document_id UUID NOT NULL,
	user_id TEXT NOT NULL,
	permission TEXT NOT NULL,
	UNIQUE(document_id, user_id)
);

CREATE TABLE IF NOT EXISTS vault_permissions (
	vault_id UUID NOT NULL,
	user_id TEXT NOT NULL,
	permission TEXT NOT NULL,
	UNIQUE(vault_id, user_id)
);

CREATE TABLE IF NOT EXISTS attachments (
	id UUID PRIMARY KEY,
	document_id UUID NOT NULL,
	filename TEXT NOT NULL,
	minio_path TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	size_bytes BIGINT NOT NULL DEFAULT 0,
	uploaded_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the schema. It is idempotent and safe to run on every
// startup rather than as a separate provisioning step.
func Migrate(ctx context.Context, pool *Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
