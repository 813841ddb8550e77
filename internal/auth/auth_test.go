package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newSigner() *Signer {
	return NewSigner("test-key", "activity-test", 15*time.Minute, 24*time.Hour)
}

func TestIssueAndParse(t *testing.T) {
	s := newSigner()
	pair, err := s.Issue("device-1", RoleScanner)
	require.NoError(t, err)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := s.Parse(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "device-1", claims.Subject)
	assert.Equal(t, RoleScanner, claims.Role)
	assert.NotEmpty(t, claims.ID)

	_, err = s.Parse(pair.RefreshToken)
	assert.Error(t, err)
	refresh, err := s.ParseRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, claims.ID, refresh.ID)
}

func TestParseRejects(t *testing.T) {
	s := newSigner()
	pair, err := s.Issue("admin-1", RoleAdmin)
	require.NoError(t, err)

	_, err = NewSigner("other-key", "activity-test", time.Minute, time.Hour).Parse(pair.AccessToken)
	assert.Error(t, err)

	_, err = NewSigner("test-key", "someone-else", time.Minute, time.Hour).Parse(pair.AccessToken)
	assert.Error(t, err)

	later := newSigner()
	later.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = later.Parse(pair.AccessToken)
	assert.Error(t, err)

	_, err = s.Issue("", RoleAdmin)
	assert.Error(t, err)
}

func router(s *Signer, roles ...string) *gin.Engine {
	r := gin.New()
	r.GET("/x", Authenticate(s), RequireRole(roles...), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})
	return r
}

func call(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareRoles(t *testing.T) {
	s := newSigner()
	admin, err := s.Issue("admin-1", RoleAdmin)
	require.NoError(t, err)
	scanner, err := s.Issue("device-1", RoleScanner)
	require.NoError(t, err)

	adminOnly := router(s, RoleAdmin)
	w := call(adminOnly, admin.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin-1", w.Body.String())

	assert.Equal(t, http.StatusForbidden, call(adminOnly, scanner.AccessToken).Code)
	assert.Equal(t, http.StatusUnauthorized, call(adminOnly, "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(adminOnly, "garbage").Code)
	assert.Equal(t, http.StatusUnauthorized, call(adminOnly, admin.RefreshToken).Code)

	scanning := router(s, RoleScanner, RoleAdmin)
	assert.Equal(t, http.StatusOK, call(scanning, scanner.AccessToken).Code)
	assert.Equal(t, http.StatusOK, call(scanning, admin.AccessToken).Code)
}
