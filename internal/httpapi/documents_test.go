package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/crdtd/internal/apperr"
)

func TestAttachmentKeyFollowsUserDocumentEpochFilenameLayout(t *testing.T) {
	docID := uuid.New()
	key := attachmentKey("user-1", docID, 1699999999999, "diagram.png")
	assert.Equal(t, "user-1/"+docID.String()+"/1699999999999-diagram.png", key)
}

func TestBearerTokenFromAuthorizationHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/documents/x/snapshot", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", bearerToken(r))
}

func TestBearerTokenMissingReturnsEmpty(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/documents/x/snapshot", nil)
	assert.Equal(t, "", bearerToken(r))
}

func TestWriteErrorMapsKindToStatusAndCode(t *testing.T) {
	cases := []struct {
		kind   apperr.Kind
		status int
		code   string
	}{
		{apperr.AuthInvalid, http.StatusUnauthorized, "unauthorized"},
		{apperr.Forbidden, http.StatusForbidden, "forbidden"},
		{apperr.NotFound, http.StatusNotFound, "not_found"},
		{apperr.ValidationFailed, http.StatusBadRequest, "validation_error"},
		{apperr.Conflict, http.StatusConflict, "conflict"},
		{apperr.Fatal, http.StatusInternalServerError, "server_error"},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.kind, "boom")

		assert.Equal(t, tc.status, rec.Code)

		var body errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.code, body.Code)
		assert.Equal(t, "boom", body.Message)
	}
}

func TestWriteJSONSetsContentTypeAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, initiateAttachmentResponse{UploadURL: "https://example.com/upload"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body initiateAttachmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "https://example.com/upload", body.UploadURL)
}

func TestInitiateAttachmentResponseFieldNames(t *testing.T) {
	data, err := json.Marshal(initiateAttachmentResponse{AttachmentID: "att-1", UploadURL: "https://example.com/u"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"attachmentId":"att-1","uploadUrl":"https://example.com/u"}`, string(data))
}

func TestInitiateAttachmentRequestFieldNames(t *testing.T) {
	var req initiateAttachmentRequest
	require.NoError(t, json.Unmarshal(
		[]byte(`{"documentId":"d-1","filename":"a.png","contentType":"image/png","sizeBytes":42}`), &req))
	assert.Equal(t, "d-1", req.DocumentID)
	assert.Equal(t, "a.png", req.Filename)
	assert.Equal(t, "image/png", req.ContentType)
	assert.Equal(t, int64(42), req.SizeBytes)
}
