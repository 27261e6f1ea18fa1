package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cuemby/crdtd/internal/apperr"
	"github.com/cuemby/crdtd/pkg/metrics"
)

// Identity is what a verified token resolves to. Username and Email are
// opaque to the core (nothing keys off them today) but are carried
// through because the auth claim contract documents them.
type Identity struct {
	UserID    string
	Username  string
	Email     string
	ExpiresAt time.Time
}

const (
	defaultCacheSize = 10000
	maxCacheTTL      = 60 * time.Second
)

// Verifier checks bearer tokens either locally against JWTSecret (when
// set) or remotely against the identity service, caching successes for
// up to maxCacheTTL or the token's remaining lifetime, whichever is
// shorter.
type Verifier struct {
	secret         []byte
	authServiceURL string
	httpClient     *http.Client
	revoked        *RevocationSet
	cache          *cache
}

// NewVerifier builds a Verifier. At least one of secret or
// authServiceURL must be non-empty; secret takes precedence when both
// are set, matching local verification being cheaper than a network
// round trip.
func NewVerifier(secret, authServiceURL string, revoked *RevocationSet) *Verifier {
	return &Verifier{
		secret:         []byte(secret),
		authServiceURL: authServiceURL,
		httpClient:     &http.Client{Timeout: 5 * time.Second},
		revoked:        revoked,
		cache:          newCache(defaultCacheSize),
	}
}

// Verify resolves a bearer token to an Identity, consulting the cache
// first.
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, apperr.New(apperr.AuthInvalid, "missing token")
	}
	if v.revoked.Revoked(token) {
		return Identity{}, apperr.New(apperr.AuthInvalid, "token revoked")
	}

	if id, ok := v.cache.get(token); ok {
		metrics.AuthVerifyDuration.WithLabelValues("cache").Observe(0)
		return id, nil
	}

	var id Identity
	var err error
	mode := "local"
	start := time.Now()
	if len(v.secret) > 0 {
		id, err = v.verifyLocal(token)
	} else {
		mode = "remote"
		id, err = v.verifyRemote(ctx, token)
	}
	metrics.AuthVerifyDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		return Identity{}, err
	}

	ttl := time.Until(id.ExpiresAt)
	if ttl <= 0 {
		return Identity{}, apperr.New(apperr.AuthExpired, "token expired")
	}
	if ttl > maxCacheTTL {
		ttl = maxCacheTTL
	}
	v.cache.put(token, id, ttl)
	metrics.AuthCacheSize.Set(float64(v.cache.size()))

	return id, nil
}

type claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (v *Verifier) verifyLocal(token string) (Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return Identity{}, apperr.Wrap(apperr.AuthInvalid, "verify token", err)
	}

	exp, err := c.GetExpirationTime()
	if err != nil || exp == nil {
		return Identity{}, apperr.New(apperr.AuthInvalid, "token missing expiry")
	}
	return Identity{UserID: c.Subject, Username: c.Username, Email: c.Email, ExpiresAt: exp.Time}, nil
}

type introspectResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (v *Verifier) verifyRemote(ctx context.Context, token string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.authServiceURL+"/api/v1/users/me", nil)
	if err != nil {
		return Identity{}, apperr.Wrap(apperr.Transient, "build introspect request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Identity{}, apperr.Wrap(apperr.Transient, "call identity service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Identity{}, apperr.New(apperr.AuthInvalid, "identity service rejected token")
	}
	if resp.StatusCode != http.StatusOK {
		return Identity{}, apperr.New(apperr.Transient, "identity service error")
	}

	var body introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Identity{}, apperr.Wrap(apperr.Transient, "decode introspect response", err)
	}

	expiry := time.Now().Add(maxCacheTTL)
	if body.ExpiresAt > 0 {
		expiry = time.Unix(body.ExpiresAt, 0)
	}
	return Identity{UserID: body.ID, Username: body.Username, Email: body.Email, ExpiresAt: expiry}, nil
}
