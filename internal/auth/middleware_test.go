package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthedRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := NewManager(NewMemoryStore())
	raw, _, err := m.GenerateKey(context.Background(), "ag_1", "test")
	require.NoError(t, err)

	r := gin.New()
	r.Use(Middleware(m, "operator-secret"))
	r.GET("/open", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/authed", RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"agencyId": GetAgencyID(c)})
	})
	r.GET("/agencies/:agencyID/keys", RequireAuth(), RequireAgency("agencyID"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.POST("/operator", RequireOperator(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r, raw
}

func TestMiddleware_APIKey(t *testing.T) {
	r, raw := newAuthedRouter(t)

	// No credentials.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/authed", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Bearer key.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/authed", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ag_1")

	// X-API-Key also works.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/authed", nil)
	req.Header.Set("X-API-Key", raw)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Garbage key is ignored, request unauthenticated.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/authed", nil)
	req.Header.Set("Authorization", "Bearer sk_bogus")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAgency(t *testing.T) {
	r, raw := newAuthedRouter(t)

	// Own agency.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/agencies/ag_1/keys", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Someone else's agency.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/agencies/ag_2/keys", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Operator can touch any agency.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/agencies/ag_2/keys", nil)
	req.Header.Set("X-Admin-Secret", "operator-secret")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireOperator(t *testing.T) {
	r, raw := newAuthedRouter(t)

	// API key alone is not enough.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/operator", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Wrong secret.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/operator", nil)
	req.Header.Set("X-Admin-Secret", "wrong")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Correct secret.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/operator", nil)
	req.Header.Set("X-Admin-Secret", "operator-secret")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
