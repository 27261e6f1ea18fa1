package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/crdtd/internal/apperr"
	"github.com/cuemby/crdtd/internal/auth"
	"github.com/cuemby/crdtd/internal/blobstore"
	"github.com/cuemby/crdtd/internal/permission"
	"github.com/cuemby/crdtd/internal/store"
)

// Attachment objects are never garbage-collected when their document is
// soft-deleted; the blobs leak until an operator sweeps the bucket.
const attachmentBucket = "crdt-attachments"

// presignExpiry is the TTL of presigned attachment PUT/GET URLs.
const presignExpiry = time.Hour

// Forcer forces a synchronous snapshot save of a live replica, satisfied
// by *registry.Registry. A nil Forcer (or one that no-ops because the
// document has no live replica on this process) leaves GetSnapshotInfo
// reporting only the last persisted snapshot.
type Forcer interface {
	StoreNow(ctx context.Context, docID uuid.UUID) error
}

// DocumentsAPI serves the supplemental REST surface: document snapshot
// metadata and attachment upload/download URLs. The documents themselves
// (ownership, sharing, vault membership) are owned by an external
// collaborator; this API only exposes what the CRDT core itself knows.
type DocumentsAPI struct {
	verifier    *auth.Verifier
	oracle      *permission.Oracle
	snapshots   store.Snapshotter
	attachments store.AttachmentStore
	blobs       blobstore.Store
	forcer      Forcer
}

// NewDocumentsAPI builds the REST handler group.
func NewDocumentsAPI(verifier *auth.Verifier, oracle *permission.Oracle, snapshots store.Snapshotter, attachments store.AttachmentStore, blobs blobstore.Store, forcer Forcer) *DocumentsAPI {
	return &DocumentsAPI{verifier: verifier, oracle: oracle, snapshots: snapshots, attachments: attachments, blobs: blobs, forcer: forcer}
}

func (a *DocumentsAPI) authenticate(r *http.Request) (string, error) {
	token := bearerToken(r)
	identity, err := a.verifier.Verify(r.Context(), token)
	if err != nil {
		return "", err
	}
	return identity.UserID, nil
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

type snapshotInfoResponse struct {
	DocumentID     string `json:"documentId"`
	Storage        string `json:"storage"`
	SizeBytes      int64  `json:"sizeBytes"`
	LastSnapshotAt string `json:"lastSnapshotAt,omitempty"`
}

// GetSnapshotInfo handles GET /api/v1/documents/{id}/snapshot. It forces a
// synchronous snapshot save of the document's live replica, if one is
// resident on this process, before reporting the resulting metadata.
func (a *DocumentsAPI) GetSnapshotInfo(w http.ResponseWriter, r *http.Request) {
	docID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, apperr.ValidationFailed, "invalid document id")
		return
	}

	userID, err := a.authenticate(r)
	if err != nil {
		writeError(w, apperr.KindOf(err), err.Error())
		return
	}

	level, err := a.oracle.Resolve(r.Context(), docID, userID)
	if err != nil {
		writeError(w, apperr.KindOf(err), err.Error())
		return
	}
	if !permission.CanRead(level) {
		writeError(w, apperr.Forbidden, "no read access to this document")
		return
	}

	if a.forcer != nil {
		if err := a.forcer.StoreNow(r.Context(), docID); err != nil {
			writeError(w, apperr.KindOf(err), err.Error())
			return
		}
	}

	info, ok, err := a.snapshots.Info(r.Context(), docID)
	if err != nil {
		writeError(w, apperr.KindOf(err), err.Error())
		return
	}
	resp := snapshotInfoResponse{DocumentID: docID.String()}
	if ok {
		resp.Storage = string(info.Storage)
		resp.SizeBytes = info.SizeBytes
		resp.LastSnapshotAt = info.LastSnapshotAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

type initiateAttachmentRequest struct {
	DocumentID  string `json:"documentId"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

type initiateAttachmentResponse struct {
	AttachmentID string `json:"attachmentId"`
	UploadURL    string `json:"uploadUrl"`
}

type attachmentResponse struct {
	AttachmentID string `json:"attachmentId"`
	Filename     string `json:"filename"`
	DownloadURL  string `json:"downloadUrl"`
}

// InitiateAttachmentUpload handles POST /api/attachments/initiate: it
// records the attachment's metadata row and returns a presigned URL the
// client uploads the attachment body to directly, bypassing this process
// for the transfer itself.
func (a *DocumentsAPI) InitiateAttachmentUpload(w http.ResponseWriter, r *http.Request) {
	var req initiateAttachmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.ValidationFailed, "malformed request body")
		return
	}
	docID, err := uuid.Parse(req.DocumentID)
	if err != nil {
		writeError(w, apperr.ValidationFailed, "invalid documentId")
		return
	}
	if req.Filename == "" {
		writeError(w, apperr.ValidationFailed, "missing filename")
		return
	}

	userID, err := a.authenticate(r)
	if err != nil {
		writeError(w, apperr.KindOf(err), err.Error())
		return
	}
	level, err := a.oracle.Resolve(r.Context(), docID, userID)
	if err != nil {
		writeError(w, apperr.KindOf(err), err.Error())
		return
	}
	if !permission.CanWrite(level) {
		writeError(w, apperr.Forbidden, "no write access to this document")
		return
	}

	if err := a.blobs.EnsureBucket(r.Context(), attachmentBucket); err != nil {
		writeError(w, apperr.KindOf(err), err.Error())
		return
	}

	att := store.Attachment{
		ID:          uuid.New(),
		DocumentID:  docID,
		Filename:    req.Filename,
		MinioPath:   attachmentKey(userID, docID, time.Now().UnixMilli(), req.Filename),
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		UploadedBy:  userID,
	}
	if err := a.attachments.Create(r.Context(), att); err != nil {
		writeError(w, apperr.KindOf(err), err.Error())
		return
	}

	url, err := a.blobs.PresignPut(r.Context(), attachmentBucket, att.MinioPath, presignExpiry)
	if err != nil {
		writeError(w, apperr.KindOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, initiateAttachmentResponse{AttachmentID: att.ID.String(), UploadURL: url})
}

// GetAttachment handles GET /api/attachments/{id}: it resolves the
// attachment id to its document for the read check, then returns a
// presigned download URL.
func (a *DocumentsAPI) GetAttachment(w http.ResponseWriter, r *http.Request) {
	attID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, apperr.ValidationFailed, "invalid attachment id")
		return
	}

	userID, err := a.authenticate(r)
	if err != nil {
		writeError(w, apperr.KindOf(err), err.Error())
		return
	}

	att, err := a.attachments.Get(r.Context(), attID)
	if err != nil {
		writeError(w, apperr.KindOf(err), err.Error())
		return
	}

	level, err := a.oracle.Resolve(r.Context(), att.DocumentID, userID)
	if err != nil {
		writeError(w, apperr.KindOf(err), err.Error())
		return
	}
	if !permission.CanRead(level) {
		writeError(w, apperr.Forbidden, "no read access to this document")
		return
	}

	url, err := a.blobs.PresignGet(r.Context(), attachmentBucket, att.MinioPath, presignExpiry)
	if err != nil {
		writeError(w, apperr.KindOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, attachmentResponse{AttachmentID: att.ID.String(), Filename: att.Filename, DownloadURL: url})
}

// attachmentKey builds the blob key layout {userId}/{documentId}/{epochMillis}-{filename}.
func attachmentKey(userID string, docID uuid.UUID, epochMillis int64, filename string) string {
	return fmt.Sprintf("%s/%s/%d-%s", userID, docID.String(), epochMillis, filename)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, kind apperr.Kind, message string) {
	status := http.StatusInternalServerError
	switch kind {
	case apperr.AuthInvalid, apperr.AuthExpired:
		status = http.StatusUnauthorized
	case apperr.Forbidden:
		status = http.StatusForbidden
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.ValidationFailed:
		status = http.StatusBadRequest
	case apperr.Conflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Code: apperr.RESTCode(kind), Message: message})
}
