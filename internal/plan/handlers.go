package plan

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rankpilot/rankpilot/internal/agency"
	"github.com/rankpilot/rankpilot/internal/catalog"
	"github.com/rankpilot/rankpilot/internal/fault"
)

// Handler provides HTTP endpoints for plan changes.
type Handler struct {
	service *Service
}

// NewHandler creates a new plan handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up plan routes under agency auth.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/agencies/:id/plan/preview", h.PreviewChange)
	r.POST("/agencies/:id/plan/change", h.ExecuteChange)
}

type changeRequest struct {
	Tier catalog.Tier `json:"tier" binding:"required"`
}

// PreviewChange handles POST /v1/agencies/:id/plan/preview. Validation only,
// no side effects.
func (h *Handler) PreviewChange(c *gin.Context) {
	var req changeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "tier required"})
		return
	}

	res, err := h.service.Preview(c.Request.Context(), c.Param("id"), req.Tier)
	if err != nil {
		if errors.Is(err, agency.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "agency not found"})
			return
		}
		fault.WriteHTTP(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ExecuteChange handles POST /v1/agencies/:id/plan/change.
func (h *Handler) ExecuteChange(c *gin.Context) {
	var req changeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "tier required"})
		return
	}

	a, err := h.service.Change(c.Request.Context(), c.Param("id"), req.Tier)
	if err != nil {
		if errors.Is(err, agency.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "agency not found"})
			return
		}
		fault.WriteHTTP(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agency": a, "tier": a.Tier})
}
