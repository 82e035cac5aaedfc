package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/rankpilot/rankpilot/internal/config"
)

const testAdminSecret = "test-operator-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		AdminSecret:      testAdminSecret,
		TrialDays:        14,
		BillingTimeoutMS: 15000,
	}
}

// newTestServer creates a server with in-memory storage and billing
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	require.NoError(t, err)
	return s
}

type request struct {
	method  string
	path    string
	body    string
	apiKey  string
	asAdmin bool
}

func do(t *testing.T, s *Server, r request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if r.body != "" {
		reader = strings.NewReader(r.body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(r.method, r.path, reader)
	if r.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	if r.asAdmin {
		req.Header.Set("X-Admin-Secret", testAdminSecret)
	}

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var parsed map[string]interface{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &parsed)
	}
	return w, parsed
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w, body := do(t, s, request{method: http.MethodGet, path: "/health"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "healthy", body["status"])

	w, _ = do(t, s, request{method: http.MethodGet, path: "/health/live"})
	require.Equal(t, http.StatusOK, w.Code)

	// Readiness flips on in Run, not New.
	w, _ = do(t, s, request{method: http.MethodGet, path: "/health/ready"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestInfoEndpoint(t *testing.T) {
	s := newTestServer(t)

	w, body := do(t, s, request{method: http.MethodGet, path: "/"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "RankPilot", body["name"])
}

func TestCatalogIsPublic(t *testing.T) {
	s := newTestServer(t)

	w, body := do(t, s, request{method: http.MethodGet, path: "/v1/catalog"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, body["tiers"])
	require.NotEmpty(t, body["addOns"])
	require.NotEmpty(t, body["packages"])
}

func TestOperatorSecretRequired(t *testing.T) {
	s := newTestServer(t)

	w, _ := do(t, s, request{
		method: http.MethodPost,
		path:   "/v1/agencies",
		body:   `{"name":"Nope","slug":"nope-agency","billingEmail":"a@b.test"}`,
	})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestProtectedRoutesRequireKey(t *testing.T) {
	s := newTestServer(t)

	w, _ := do(t, s, request{method: http.MethodGet, path: "/v1/agencies/ag_deadbeef"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w, _ := do(t, s, request{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, w.Code)
}

// createAgency provisions an agency through the operator API and returns
// its ID and admin API key.
func createAgency(t *testing.T, s *Server, slug string) (agencyID, apiKey string) {
	t.Helper()
	w, body := do(t, s, request{
		method:  http.MethodPost,
		path:    "/v1/agencies",
		body:    `{"name":"Test Agency","slug":"` + slug + `","billingEmail":"ops@` + slug + `.test","tier":"growth","trialDays":0}`,
		asAdmin: true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	ag := body["agency"].(map[string]interface{})
	return ag["id"].(string), body["apiKey"].(string)
}

func TestAgencyIsolation(t *testing.T) {
	s := newTestServer(t)

	idA, keyA := createAgency(t, s, "agency-a")
	idB, _ := createAgency(t, s, "agency-b")

	w, _ := do(t, s, request{method: http.MethodGet, path: "/v1/agencies/" + idA, apiKey: keyA})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, s, request{method: http.MethodGet, path: "/v1/agencies/" + idB, apiKey: keyA})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestEndToEndLifecycle(t *testing.T) {
	s := newTestServer(t)

	agencyID, apiKey := createAgency(t, s, "lifecycle-agency")
	base := "/v1/agencies/" + agencyID

	// Not activated yet: managed-service work is gated.
	w, body := do(t, s, request{method: http.MethodGet, path: base, apiKey: apiKey})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, false, body["activated"])

	// Billing setup handshake against the in-memory gateway.
	w, body = do(t, s, request{method: http.MethodPost, path: base + "/billing/setup", apiKey: apiKey})
	require.Equal(t, http.StatusOK, w.Code)
	setupIntentID := body["setupIntentId"].(string)

	w, body = do(t, s, request{
		method: http.MethodPost,
		path:   base + "/billing/setup/complete",
		body:   `{"setupIntentId":"` + setupIntentID + `"}`,
		apiKey: apiKey,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["activated"])

	// Seed a user and a client dashboard.
	w, body = do(t, s, request{
		method: http.MethodPost,
		path:   base + "/users",
		body:   `{"email":"owner@lifecycle.test","name":"Owner"}`,
		apiKey: apiKey,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	userID := body["id"].(string)

	w, body = do(t, s, request{
		method: http.MethodPost,
		path:   base + "/clients",
		body:   `{"userId":"` + userID + `","name":"Acme Corp","domain":"acme.example"}`,
		apiKey: apiKey,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	clientID := body["id"].(string)

	// Plan preview is read-only and allowed within limits.
	w, body = do(t, s, request{
		method: http.MethodPost,
		path:   base + "/plan/preview",
		body:   `{"tier":"scale"}`,
		apiKey: apiKey,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["allowed"])

	// Plan change commits remotely then locally.
	w, body = do(t, s, request{
		method: http.MethodPost,
		path:   base + "/plan/change",
		body:   `{"tier":"scale"}`,
		apiKey: apiKey,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "scale", body["tier"])

	// Request a managed-service engagement.
	w, body = do(t, s, request{
		method: http.MethodPost,
		path:   base + "/managed-services",
		body:   `{"clientId":"` + clientID + `","package":"seo_growth","notes":"rankings stalled"}`,
		apiKey: apiKey,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "PENDING", body["status"])
	engagementID := body["id"].(string)

	// A duplicate request for the same client is rejected.
	w, _ = do(t, s, request{
		method: http.MethodPost,
		path:   base + "/managed-services",
		body:   `{"clientId":"` + clientID + `","package":"seo_starter"}`,
		apiKey: apiKey,
	})
	require.Equal(t, http.StatusConflict, w.Code)

	// Agencies cannot approve their own engagements.
	w, _ = do(t, s, request{
		method: http.MethodPost,
		path:   "/v1/managed-services/" + engagementID + "/approve",
		apiKey: apiKey,
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	// The operator approves; the engagement activates.
	w, body = do(t, s, request{
		method:  http.MethodPost,
		path:    "/v1/managed-services/" + engagementID + "/approve",
		asAdmin: true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ACTIVE", body["status"])

	// The audit trail recorded the original request.
	w, body = do(t, s, request{
		method:  http.MethodGet,
		path:    base + "/managed-services/requests",
		asAdmin: true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 1, body["count"])

	// Attach an add-on.
	w, body = do(t, s, request{
		method: http.MethodPost,
		path:   base + "/add-ons",
		body:   `{"type":"extra_dashboards","option":"10"}`,
		apiKey: apiKey,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	addOnID := body["id"].(string)

	w, _ = do(t, s, request{
		method: http.MethodDelete,
		path:   base + "/add-ons/" + addOnID,
		apiKey: apiKey,
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Cancel the active engagement; the end date defaults to month end.
	w, body = do(t, s, request{
		method: http.MethodPost,
		path:   base + "/managed-services/" + engagementID + "/cancel",
		apiKey: apiKey,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "CANCELED", body["status"])
	require.NotEmpty(t, body["endDate"])

	// Terminal engagements stay terminal.
	w, _ = do(t, s, request{
		method:  http.MethodPost,
		path:    "/v1/managed-services/" + engagementID + "/approve",
		asAdmin: true,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClientListPagination(t *testing.T) {
	s := newTestServer(t)
	agencyID, apiKey := createAgency(t, s, "paging")
	base := "/v1/agencies/" + agencyID

	w, body := do(t, s, request{
		method: http.MethodPost,
		path:   base + "/users",
		body:   `{"email":"owner@paging.test","name":"Owner"}`,
		apiKey: apiKey,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	userID := body["id"].(string)

	for i := 0; i < 5; i++ {
		w, _ = do(t, s, request{
			method: http.MethodPost,
			path:   base + "/clients",
			body:   `{"userId":"` + userID + `","name":"Client ` + string(rune('A'+i)) + `","domain":"c` + string(rune('a'+i)) + `.example"}`,
			apiKey: apiKey,
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		path := base + "/clients?limit=2"
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		w, body = do(t, s, request{method: http.MethodGet, path: path, apiKey: apiKey})
		require.Equal(t, http.StatusOK, w.Code)
		pages++

		for _, raw := range body["clients"].([]interface{}) {
			id := raw.(map[string]interface{})["id"].(string)
			require.False(t, seen[id], "client %s returned twice", id)
			seen[id] = true
		}
		if body["hasMore"] != true {
			break
		}
		cursor = body["nextCursor"].(string)
	}
	require.Equal(t, 5, len(seen))
	require.Equal(t, 3, pages)

	w, _ = do(t, s, request{
		method: http.MethodGet,
		path:   base + "/clients?cursor=%21%21not-a-cursor",
		apiKey: apiKey,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}
