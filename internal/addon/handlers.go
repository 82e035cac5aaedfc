package addon

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rankpilot/rankpilot/internal/agency"
	"github.com/rankpilot/rankpilot/internal/catalog"
	"github.com/rankpilot/rankpilot/internal/fault"
)

// Handler provides HTTP endpoints for the add-on ledger.
type Handler struct {
	service *Service
}

// NewHandler creates a new add-on handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up add-on routes under agency auth.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/agencies/:id/add-ons", h.Attach)
	r.GET("/agencies/:id/add-ons", h.List)
	r.DELETE("/agencies/:id/add-ons/:addOnId", h.Detach)
}

// Attach handles POST /v1/agencies/:id/add-ons
func (h *Handler) Attach(c *gin.Context) {
	var req struct {
		Type   catalog.AddOnType `json:"type" binding:"required"`
		Option string            `json:"option" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "type and option required"})
		return
	}

	row, err := h.service.Attach(c.Request.Context(), c.Param("id"), req.Type, req.Option)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

// List handles GET /v1/agencies/:id/add-ons
func (h *Handler) List(c *gin.Context) {
	list, err := h.service.ListByAgency(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if list == nil {
		list = []*AddOn{}
	}
	c.JSON(http.StatusOK, gin.H{"addOns": list, "count": len(list)})
}

// Detach handles DELETE /v1/agencies/:id/add-ons/:addOnId
func (h *Handler) Detach(c *gin.Context) {
	err := h.service.Detach(c.Request.Context(), c.Param("id"), c.Param("addOnId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detached": true})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "add-on not found"})
	case errors.Is(err, agency.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "agency not found"})
	default:
		fault.WriteHTTP(c, err)
	}
}
