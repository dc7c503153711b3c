// Package api - Public handlers (no authentication)
package api

import (
	"net/http"

	"github.com/aethra/domus/internal/engine"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PublicHandler serves the public site: vacancies and applications
type PublicHandler struct {
	engines *engine.Engines
	logger  *zap.Logger
}

// NewPublicHandler creates a new public handler
func NewPublicHandler(engines *engine.Engines, logger *zap.Logger) *PublicHandler {
	return &PublicHandler{engines: engines, logger: logger}
}

// SubmitApplication records a pre-registration request
// POST /public/applications
func (h *PublicHandler) SubmitApplication(c *gin.Context) {
	var input engine.SubmitInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	app, err := h.engines.Applications.Submit(c.Request.Context(), input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":      app.ID,
		"status":  app.Status,
		"message": "application received",
	})
}

// Buildings lists the active buildings with their vacancy counts
// GET /public/buildings
func (h *PublicHandler) Buildings(c *gin.Context) {
	buildings, err := h.engines.Buildings.ListWithVacancies(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": buildings})
}

// Vacancies lists the vacant apartments of a building
// GET /public/buildings/:id/vacancies
func (h *PublicHandler) Vacancies(c *gin.Context) {
	apartments, err := h.engines.Apartments.ListVacant(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": apartments})
}
