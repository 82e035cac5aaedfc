package managed

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rankpilot/rankpilot/internal/agency"
	"github.com/rankpilot/rankpilot/internal/catalog"
	"github.com/rankpilot/rankpilot/internal/fault"
	"github.com/rankpilot/rankpilot/internal/pagination"
)

// Handler provides HTTP endpoints for the engagement workflow.
type Handler struct {
	service *Service
}

// NewHandler creates a new managed-service handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up agency-facing routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/agencies/:id/managed-services", h.Request)
	r.GET("/agencies/:id/managed-services", h.List)
	r.GET("/agencies/:id/managed-services/:msId", h.Get)
	r.POST("/agencies/:id/managed-services/:msId/cancel", h.Cancel)
}

// RegisterOperatorRoutes sets up the operator review routes.
func (h *Handler) RegisterOperatorRoutes(r *gin.RouterGroup) {
	r.POST("/managed-services/:msId/approve", h.Approve)
	r.POST("/managed-services/:msId/reject", h.Reject)
}

// Request handles POST /v1/agencies/:id/managed-services
func (h *Handler) Request(c *gin.Context) {
	var req struct {
		ClientID string            `json:"clientId" binding:"required"`
		Package  catalog.PackageID `json:"package" binding:"required"`
		Notes    string            `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "clientId and package required"})
		return
	}

	e, err := h.service.Request(c.Request.Context(), c.Param("id"), req.ClientID, req.Package, req.Notes)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

// List handles GET /v1/agencies/:id/managed-services
func (h *Handler) List(c *gin.Context) {
	cur, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "malformed pagination cursor"})
		return
	}
	limit := pagination.ParseLimit(c.Query("limit"), 50, 200)

	list, err := h.service.ListByAgency(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	list, next, more := pagination.Page(list, cur, limit, func(e *Engagement) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	if list == nil {
		list = []*Engagement{}
	}
	c.JSON(http.StatusOK, gin.H{"engagements": list, "count": len(list), "nextCursor": next, "hasMore": more})
}

// Get handles GET /v1/agencies/:id/managed-services/:msId
func (h *Handler) Get(c *gin.Context) {
	e, err := h.lookupOwned(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// Cancel handles POST /v1/agencies/:id/managed-services/:msId/cancel
func (h *Handler) Cancel(c *gin.Context) {
	var req struct {
		EndDate *time.Time `json:"endDate"`
	}
	_ = c.ShouldBindJSON(&req)

	if _, err := h.lookupOwned(c); err != nil {
		h.writeError(c, err)
		return
	}

	e, err := h.service.Cancel(c.Request.Context(), c.Param("msId"), req.EndDate)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// Approve handles POST /v1/managed-services/:msId/approve (operator only)
func (h *Handler) Approve(c *gin.Context) {
	e, err := h.service.Approve(c.Request.Context(), c.Param("msId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// ListRequests handles GET /v1/agencies/:id/managed-services/requests
// (operator only). Returns the immutable request audit trail.
func (h *Handler) ListRequests(c *gin.Context) {
	records, err := h.service.ListRequests(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if records == nil {
		records = []*RequestRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"requests": records, "count": len(records)})
}

// Reject handles POST /v1/managed-services/:msId/reject (operator only)
func (h *Handler) Reject(c *gin.Context) {
	e, err := h.service.Reject(c.Request.Context(), c.Param("msId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// lookupOwned loads the engagement and checks it belongs to the agency in
// the URL, so one agency can never see or cancel another's engagement.
func (h *Handler) lookupOwned(c *gin.Context) (*Engagement, error) {
	e, err := h.service.Get(c.Request.Context(), c.Param("msId"))
	if err != nil {
		return nil, err
	}
	if e.AgencyID != c.Param("id") {
		return nil, ErrNotFound
	}
	return e, nil
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "engagement not found"})
	case errors.Is(err, agency.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "agency not found"})
	case errors.Is(err, agency.ErrClientNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "client_not_found", "message": "client not found"})
	default:
		fault.WriteHTTP(c, err)
	}
}
