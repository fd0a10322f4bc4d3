package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-table-enricher/internal/config"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret", defaultArgon2Params)
	require.NoError(t, err)

	assert.True(t, VerifyPassword("s3cret", hash))
	assert.False(t, VerifyPassword("wrong", hash))

	// Two hashes of the same password differ by salt but both verify.
	hash2, err := HashPassword("s3cret", defaultArgon2Params)
	require.NoError(t, err)
	assert.NotEqual(t, hash, hash2)
	assert.True(t, VerifyPassword("s3cret", hash2))
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	for _, h := range []string{
		"",
		"argon2id$3$65536$2$salt",                 // too few parts
		"bcrypt$3$65536$2$c2FsdA$aGFzaA",          // wrong scheme
		"argon2id$x$65536$2$c2FsdA$aGFzaA",        // bad iterations
		"argon2id$3$65536$2$!!notbase64!!$aGFzaA", // bad salt
	} {
		assert.False(t, VerifyPassword("anything", h), "hash %q", h)
	}
}

func TestAdminGuard(t *testing.T) {
	hash, err := HashPassword("hunter2", defaultArgon2Params)
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("disabled passes through", func(t *testing.T) {
		s := &Server{Cfg: config.Config{}}
		rec := httptest.NewRecorder()
		s.AdminGuard(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	s := &Server{Cfg: config.Config{AdminUsername: "admin", AdminPasswordHash: hash}}
	guarded := s.AdminGuard(next)

	t.Run("missing credentials", func(t *testing.T) {
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("wrong password", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
		req.SetBasicAuth("admin", "wrong")
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong username", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
		req.SetBasicAuth("root", "hunter2")
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
		req.SetBasicAuth("admin", "hunter2")
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
