package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	calls int
	codes map[string][]string
}

func (s *countingSource) PermissionsForRoles(_ context.Context, roles []string) ([]string, error) {
	s.calls++
	var out []string
	for _, r := range roles {
		out = append(out, s.codes[r]...)
	}
	return out, nil
}

func sign(t *testing.T, secret, sub string, roles []string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"roles": roles,
		"exp":   exp.Unix(),
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": UserID(c), "roles": UserRoles(c)})
	})...)
	return r
}

func do(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequirePermission(t *testing.T) {
	src := &countingSource{codes: map[string][]string{
		"SIGNER":   {"approvals.read", "approvals.decide"},
		"OPERATOR": {"transactions.write"},
	}}
	auth := NewAuth(AuthConfig{Secret: "secret"}, src)
	r := newRouter(auth.RequirePermission("approvals.decide"))
	future := time.Now().Add(time.Hour)

	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, sign(t, "other", "u1", []string{"SIGNER"}, future)).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, sign(t, "secret", "u1", []string{"SIGNER"}, time.Now().Add(-time.Minute))).Code)

	assert.Equal(t, http.StatusOK, do(r, sign(t, "secret", "u1", []string{"OPERATOR", "SIGNER"}, future)).Code)
	// Same role set in another order hits the cache.
	assert.Equal(t, http.StatusOK, do(r, sign(t, "secret", "u2", []string{"SIGNER", "OPERATOR"}, future)).Code)
	assert.Equal(t, 1, src.calls)

	assert.Equal(t, http.StatusForbidden, do(r, sign(t, "secret", "u3", []string{"OPERATOR"}, future)).Code)

	// Super admins bypass the permission lookup entirely.
	assert.Equal(t, http.StatusOK, do(r, sign(t, "secret", "root", []string{"SUPER_ADMIN"}, future)).Code)
	assert.Equal(t, 2, src.calls)

	auth.ClearPermissionCache()
	assert.Equal(t, http.StatusOK, do(r, sign(t, "secret", "u1", []string{"SIGNER"}, future)).Code)
	assert.Equal(t, 3, src.calls)
}

func TestRequireRole(t *testing.T) {
	auth := NewAuth(AuthConfig{Secret: "secret"}, nil)
	r := newRouter(auth.RequireRole("COMPLIANCE"))
	future := time.Now().Add(time.Hour)

	w := do(r, sign(t, "secret", "u1", []string{"VIEWER", "COMPLIANCE"}, future))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":"u1"`)

	assert.Equal(t, http.StatusForbidden, do(r, sign(t, "secret", "u1", []string{"VIEWER"}, future)).Code)
}

func TestTokenFromCookie(t *testing.T) {
	auth := NewAuth(AuthConfig{Secret: "secret"}, nil)
	r := newRouter(auth.Authenticate())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: sign(t, "secret", "u9", []string{"VIEWER"}, time.Now().Add(time.Hour))})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"u9"`)
}
