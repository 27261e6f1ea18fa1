// Package blobstore wraps minio-go as the object storage backend for
// large snapshots and attachments, exposing the small Store interface
// the rest of the repository depends on rather than the full MinIO
// client surface.
package blobstore
