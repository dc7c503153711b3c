// Package api - Tenant portal handlers
package api

import (
	"net/http"

	"github.com/aethra/domus/internal/engine"
	"github.com/aethra/domus/internal/errors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PortalHandler serves the tenant portal. Every handler reads the records
// of the authenticated tenant only.
type PortalHandler struct {
	engines *engine.Engines
	logger  *zap.Logger
}

// NewPortalHandler creates a new portal handler
func NewPortalHandler(engines *engine.Engines, logger *zap.Logger) *PortalHandler {
	return &PortalHandler{engines: engines, logger: logger}
}

func (h *PortalHandler) fail(c *gin.Context, err error) {
	respondError(c, h.logger, err)
}

func tenantID(c *gin.Context) string {
	return claimsFrom(c).SubjectID
}

// Me returns the tenant with its building, apartment and lease
// GET /portal/me
func (h *PortalHandler) Me(c *gin.Context) {
	detail, err := h.engines.Tenants.Detail(c.Request.Context(), tenantID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// UpdateMe changes the contact details of the tenant
// PUT /portal/me
func (h *PortalHandler) UpdateMe(c *gin.Context) {
	var patch engine.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	tenant, err := h.engines.Tenants.UpdateProfile(c.Request.Context(), tenantID(c), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

// Lease returns the running lease
// GET /portal/lease
func (h *PortalHandler) Lease(c *gin.Context) {
	lease, err := h.engines.Leases.Current(c.Request.Context(), tenantID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lease)
}

// Apartment returns the apartment the tenant lives in
// GET /portal/apartment
func (h *PortalHandler) Apartment(c *gin.Context) {
	detail, err := h.engines.Tenants.Detail(c.Request.Context(), tenantID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if detail.Apartment == nil {
		h.fail(c, errors.NewNotFoundError("apartment", ""))
		return
	}
	c.JSON(http.StatusOK, gin.H{"apartment": detail.Apartment, "building": detail.Building})
}

// Payments returns the payments of the tenant
// GET /portal/payments
func (h *PortalHandler) Payments(c *gin.Context) {
	result, err := h.engines.Payments.ListForTenant(c.Request.Context(), tenantID(c), queryParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Payment returns one payment of the tenant
// GET /portal/payments/:id
func (h *PortalHandler) Payment(c *gin.Context) {
	payment, err := h.engines.Payments.GetForTenant(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// PaymentSummary totals the payments of the tenant
// GET /portal/payments/summary
func (h *PortalHandler) PaymentSummary(c *gin.Context) {
	summary, err := h.engines.Payments.Summary(c.Request.Context(), tenantID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Loyalty returns the loyalty profile of the tenant
// GET /portal/loyalty
func (h *PortalHandler) Loyalty(c *gin.Context) {
	view, err := h.engines.Loyalty.Profile(c.Request.Context(), tenantID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// LoyaltyHistory returns the point transactions of the tenant
// GET /portal/loyalty/history
func (h *PortalHandler) LoyaltyHistory(c *gin.Context) {
	result, err := h.engines.Loyalty.History(c.Request.Context(), tenantID(c), queryParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Incidents returns the incidents reported by the tenant
// GET /portal/incidents
func (h *PortalHandler) Incidents(c *gin.Context) {
	result, err := h.engines.Incidents.ListForTenant(c.Request.Context(), tenantID(c), queryParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Incident returns one incident of the tenant
// GET /portal/incidents/:id
func (h *PortalHandler) Incident(c *gin.Context) {
	incident, err := h.engines.Incidents.GetForTenant(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

// ReportIncident reports an incident in the tenant's apartment
// POST /portal/incidents
func (h *PortalHandler) ReportIncident(c *gin.Context) {
	var input engine.IncidentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	incident, err := h.engines.Incidents.Report(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, incident)
}

// CancelIncident withdraws an incident that is still open
// POST /portal/incidents/:id/cancel
func (h *PortalHandler) CancelIncident(c *gin.Context) {
	incident, err := h.engines.Incidents.CancelByTenant(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

// Notifications returns the notifications of the tenant
// GET /portal/notifications
func (h *PortalHandler) Notifications(c *gin.Context) {
	items, err := h.engines.Notifications.ForTenant(c.Request.Context(), tenantID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "count": len(items)})
}
