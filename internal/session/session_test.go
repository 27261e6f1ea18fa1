package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/crdtd/internal/apperr"
)

func TestBearerTokenFromAuthorizationHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/document/abc", nil)
	r.Header.Set("Authorization", "Bearer sometoken")
	assert.Equal(t, "sometoken", bearerToken(r))
}

func TestBearerTokenFallsBackToQueryParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/document/abc?token=querytoken", nil)
	assert.Equal(t, "querytoken", bearerToken(r))
}

func TestBearerTokenMissingReturnsEmpty(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/document/abc", nil)
	assert.Equal(t, "", bearerToken(r))
}

func TestOriginCheckerAllowsAnyWhenUnset(t *testing.T) {
	check := originChecker(nil)
	r := httptest.NewRequest(http.MethodGet, "/ws/document/abc", nil)
	r.Header.Set("Origin", "https://evil.example")
	assert.True(t, check(r))
}

func TestOriginCheckerAllowsAnyForWildcard(t *testing.T) {
	check := originChecker([]string{"*"})
	r := httptest.NewRequest(http.MethodGet, "/ws/document/abc", nil)
	r.Header.Set("Origin", "https://anywhere.example")
	assert.True(t, check(r), "the default ALLOWED_ORIGINS=* must allow every origin")
}

func TestOriginCheckerWildcardAmongExplicitOrigins(t *testing.T) {
	check := originChecker([]string{"https://app.example.com", "*"})
	r := httptest.NewRequest(http.MethodGet, "/ws/document/abc", nil)
	r.Header.Set("Origin", "https://anywhere.example")
	assert.True(t, check(r))
}

func TestOriginCheckerAllowsListedOrigin(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})
	r := httptest.NewRequest(http.MethodGet, "/ws/document/abc", nil)
	r.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(r))
}

func TestOriginCheckerRejectsUnlistedOrigin(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})
	r := httptest.NewRequest(http.MethodGet, "/ws/document/abc", nil)
	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))
}

// expectRejectCode dials srv as a WebSocket client and asserts the server
// completes the upgrade, then immediately closes with wantCode.
func expectRejectCode(t *testing.T, srv *httptest.Server, wantCode int) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	_, _, err = ws.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, wantCode, closeErr.Code)
}

func TestRejectUpgradeClosesWithAuthCode(t *testing.T) {
	h := &Handler{upgrader: websocket.Upgrader{CheckOrigin: originChecker(nil)}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.rejectUpgrade(w, r, apperr.AuthInvalid)
	}))
	defer srv.Close()

	expectRejectCode(t, srv, 4401)
}

func TestRejectUpgradeClosesWithForbiddenCode(t *testing.T) {
	h := &Handler{upgrader: websocket.Upgrader{CheckOrigin: originChecker(nil)}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.rejectUpgrade(w, r, apperr.Forbidden)
	}))
	defer srv.Close()

	expectRejectCode(t, srv, 4403)
}
