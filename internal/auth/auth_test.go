package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// staticSource returns a fixed expected token.
type staticSource string

func (s staticSource) AuthToken() string { return string(s) }

func protectedHandler(t *testing.T) http.Handler {
	t.Helper()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, RequestRemoteIP(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(t *testing.T, source TokenSource, authHeader string) *httptest.ResponseRecorder {
	t.Helper()

	handler := Middleware(source, testLogger)(protectedHandler(t))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func TestMiddleware_ValidPlaintextToken(t *testing.T) {
	rec := doRequest(t, staticSource("sesame"), "Bearer sesame")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_ValidBcryptToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sesame"), bcrypt.MinCost)
	require.NoError(t, err)

	rec := doRequest(t, staticSource(hash), "Bearer sesame")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_WrongToken(t *testing.T) {
	rec := doRequest(t, staticSource("sesame"), "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
}

func TestMiddleware_WrongTokenAgainstBcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sesame"), bcrypt.MinCost)
	require.NoError(t, err)

	rec := doRequest(t, staticSource(hash), "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_MissingHeader(t *testing.T) {
	rec := doRequest(t, staticSource("sesame"), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestMiddleware_NonBearerScheme(t *testing.T) {
	rec := doRequest(t, staticSource("sesame"), "Basic c2VzYW1l")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// An empty configured token rejects everything rather than allowing
// everything.
func TestMiddleware_EmptyConfiguredToken(t *testing.T) {
	rec := doRequest(t, staticSource(""), "Bearer anything")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, staticSource(""), "Bearer ")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// The expected token is read per request, so a rotation takes effect
// without rebuilding the middleware.
func TestMiddleware_TokenRotation(t *testing.T) {
	current := "first"
	source := sourceFunc(func() string { return current })

	handler := Middleware(source, testLogger)(protectedHandler(t))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer first")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	current = "second"

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("Authorization", "Bearer second")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type sourceFunc func() string

func (f sourceFunc) AuthToken() string { return f() }

func TestTokenMatches(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("tok"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, tokenMatches("tok", "tok"))
	assert.False(t, tokenMatches("tok", "other"))
	assert.True(t, tokenMatches(string(hash), "tok"))
	assert.False(t, tokenMatches(string(hash), "other"))
}
