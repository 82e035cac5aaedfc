package agency

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rankpilot/rankpilot/internal/auth"
	"github.com/rankpilot/rankpilot/internal/catalog"
	"github.com/rankpilot/rankpilot/internal/fault"
	"github.com/rankpilot/rankpilot/internal/idgen"
	"github.com/rankpilot/rankpilot/internal/pagination"
	"github.com/rankpilot/rankpilot/internal/validation"
)

var validSlug = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)

// Handler provides HTTP endpoints for agency provisioning and activation.
type Handler struct {
	store      Store
	activation *Activation
	catalog    *catalog.Catalog
	authMgr    *auth.Manager
	trialDays  int
}

// NewHandler creates a new agency handler.
func NewHandler(store Store, activation *Activation, cat *catalog.Catalog, authMgr *auth.Manager, trialDays int) *Handler {
	return &Handler{store: store, activation: activation, catalog: cat, authMgr: authMgr, trialDays: trialDays}
}

// RegisterOperatorRoutes sets up operator-only provisioning routes.
func (h *Handler) RegisterOperatorRoutes(r *gin.RouterGroup) {
	r.POST("/agencies", h.CreateAgency)
}

// RegisterProtectedRoutes sets up agency routes that require API key auth.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/agencies/:id", h.GetAgency)
	r.POST("/agencies/:id/users", h.CreateUser)
	r.POST("/agencies/:id/clients", h.CreateClient)
	r.GET("/agencies/:id/clients", h.ListClients)
	r.POST("/agencies/:id/billing/setup", h.StartBillingSetup)
	r.POST("/agencies/:id/billing/setup/complete", h.CompleteBillingSetup)
	r.GET("/agencies/:id/keys", h.ListKeys)
	r.POST("/agencies/:id/keys", h.CreateKey)
	r.DELETE("/agencies/:id/keys/:keyId", h.RevokeKey)
}

// ---------- Operator endpoints ----------

// CreateAgency handles POST /v1/agencies (operator only). Provisioning is
// purely local: no payer account is created until the agency starts billing
// setup.
func (h *Handler) CreateAgency(c *gin.Context) {
	var req struct {
		Name         string       `json:"name" binding:"required"`
		Slug         string       `json:"slug" binding:"required"`
		BillingEmail string       `json:"billingEmail" binding:"required"`
		Tier         catalog.Tier `json:"tier"`
		BillingType  BillingType  `json:"billingType"`
		TrialDays    *int         `json:"trialDays"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name, slug and billingEmail required"})
		return
	}

	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	if !validSlug.MatchString(req.Slug) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_slug",
			"message": "slug must be 3-64 lowercase alphanumeric/hyphens, start/end with alphanumeric",
		})
		return
	}

	if req.Tier != "" {
		if _, ok := h.catalog.Tier(req.Tier); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_tier", "message": "unknown subscription tier"})
			return
		}
	}

	switch req.BillingType {
	case "":
		req.BillingType = BillingPaid
	case BillingPaid, BillingFree, BillingCustom:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_billing_type", "message": "billingType must be paid, free or custom"})
		return
	}

	now := time.Now()
	a := &Agency{
		ID:           idgen.WithPrefix("ag_"),
		Name:         validation.SanitizeString(req.Name, 200),
		Slug:         req.Slug,
		BillingEmail: strings.TrimSpace(req.BillingEmail),
		Tier:         req.Tier,
		BillingType:  req.BillingType,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	trialDays := h.trialDays
	if req.TrialDays != nil {
		trialDays = *req.TrialDays
	}
	if trialDays > 0 {
		end := now.AddDate(0, 0, trialDays)
		a.TrialEndsAt = &end
	}

	if err := h.store.Create(c.Request.Context(), a); err != nil {
		if errors.Is(err, ErrSlugTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "slug_taken", "message": "slug already in use"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create agency"})
		return
	}

	// Issue the agency's first API key.
	rawKey, keyInfo, err := h.authMgr.GenerateKey(c.Request.Context(), a.ID, "Agency admin key")
	if err != nil {
		c.JSON(http.StatusCreated, gin.H{
			"agency":  a,
			"warning": "Agency created but key generation failed. Issue a key via the keys endpoint.",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"agency":  a,
		"apiKey":  rawKey,
		"keyId":   keyInfo.ID,
		"warning": "Store this API key securely. It will not be shown again.",
	})
}

// ---------- Agency endpoints ----------

// GetAgency handles GET /v1/agencies/:id
func (h *Handler) GetAgency(c *gin.Context) {
	a, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "agency not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load agency"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agency":      a,
		"activated":   a.Activated(),
		"inFreeTrial": a.InFreeTrial(time.Now()),
	})
}

// CreateUser handles POST /v1/agencies/:id/users
func (h *Handler) CreateUser(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
		Name  string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "email required"})
		return
	}

	agencyID := c.Param("id")
	if _, err := h.store.Get(c.Request.Context(), agencyID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "agency not found"})
		return
	}

	u := &User{
		ID:        idgen.WithPrefix("usr_"),
		AgencyID:  agencyID,
		Email:     strings.TrimSpace(req.Email),
		Name:      validation.SanitizeString(req.Name, 200),
		CreatedAt: time.Now(),
	}
	if err := h.store.CreateUser(c.Request.Context(), u); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create user"})
		return
	}
	c.JSON(http.StatusCreated, u)
}

// CreateClient handles POST /v1/agencies/:id/clients. The new dashboard
// starts ACTIVE with no managed-service engagement.
func (h *Handler) CreateClient(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
		Name   string `json:"name" binding:"required"`
		Domain string `json:"domain"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "userId and name required"})
		return
	}

	agencyID := c.Param("id")
	u, err := h.store.GetUser(c.Request.Context(), req.UserID)
	if err != nil || u.AgencyID != agencyID {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found", "message": "user not found in this agency"})
		return
	}

	now := time.Now()
	cl := &Client{
		ID:            idgen.WithPrefix("cl_"),
		UserID:        u.ID,
		Name:          validation.SanitizeString(req.Name, 200),
		Domain:        validation.SanitizeString(req.Domain, 255),
		Status:        ClientActive,
		ManagedStatus: ManagedNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.store.CreateClient(c.Request.Context(), cl); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create client"})
		return
	}
	c.JSON(http.StatusCreated, cl)
}

// ListClients handles GET /v1/agencies/:id/clients
func (h *Handler) ListClients(c *gin.Context) {
	cur, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "malformed pagination cursor"})
		return
	}
	limit := pagination.ParseLimit(c.Query("limit"), 50, 200)

	clients, err := h.store.ListClients(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list clients"})
		return
	}
	clients, next, more := pagination.Page(clients, cur, limit, func(cl *Client) (time.Time, string) {
		return cl.CreatedAt, cl.ID
	})
	if clients == nil {
		clients = []*Client{}
	}
	c.JSON(http.StatusOK, gin.H{"clients": clients, "count": len(clients), "nextCursor": next, "hasMore": more})
}

// ---------- Billing setup ----------

// StartBillingSetup handles POST /v1/agencies/:id/billing/setup
func (h *Handler) StartBillingSetup(c *gin.Context) {
	si, err := h.activation.StartSetup(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "agency not found"})
			return
		}
		fault.WriteHTTP(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"setupIntentId": si.ID,
		"clientSecret":  si.ClientSecret,
	})
}

// CompleteBillingSetup handles POST /v1/agencies/:id/billing/setup/complete
func (h *Handler) CompleteBillingSetup(c *gin.Context) {
	var req struct {
		SetupIntentID string `json:"setupIntentId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "setupIntentId required"})
		return
	}

	a, err := h.activation.CompleteSetup(c.Request.Context(), c.Param("id"), req.SetupIntentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "agency not found"})
			return
		}
		fault.WriteHTTP(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agency": a, "activated": a.Activated()})
}

// ---------- API keys ----------

// CreateKey handles POST /v1/agencies/:id/keys
func (h *Handler) CreateKey(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Name == "" {
		req.Name = "API key"
	}

	agencyID := c.Param("id")
	if _, err := h.store.Get(c.Request.Context(), agencyID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "agency not found"})
		return
	}

	rawKey, keyInfo, err := h.authMgr.GenerateKey(c.Request.Context(), agencyID, validation.SanitizeString(req.Name, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to generate key"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  rawKey,
		"keyId":   keyInfo.ID,
		"warning": "Store this API key securely. It will not be shown again.",
	})
}

// ListKeys handles GET /v1/agencies/:id/keys
func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.authMgr.ListKeys(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list keys"})
		return
	}
	if keys == nil {
		keys = []*auth.APIKey{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// RevokeKey handles DELETE /v1/agencies/:id/keys/:keyId
func (h *Handler) RevokeKey(c *gin.Context) {
	err := h.authMgr.RevokeKey(c.Request.Context(), c.Param("keyId"), c.Param("id"))
	if err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to revoke key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}
