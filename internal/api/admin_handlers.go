// Package api - Back-office handlers for the property portfolio
package api

import (
	"net/http"

	"github.com/aethra/domus/internal/config"
	"github.com/aethra/domus/internal/engine"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminHandler contains the administrator portal handlers
type AdminHandler struct {
	engines        *engine.Engines
	settings       *config.SettingsService
	logger         *zap.Logger
	maxUploadBytes int64
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(engines *engine.Engines, settings *config.SettingsService, logger *zap.Logger, maxUploadBytes int64) *AdminHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = engine.MaxDocumentSize
	}
	return &AdminHandler{engines: engines, settings: settings, logger: logger, maxUploadBytes: maxUploadBytes}
}

func (h *AdminHandler) fail(c *gin.Context, err error) {
	respondError(c, h.logger, err)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// ListAdmins returns back-office accounts
// GET /admin/accounts
func (h *AdminHandler) ListAdmins(c *gin.Context) {
	result, err := h.engines.Admins.List(c.Request.Context(), queryParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateAdmin creates an administrator or manager
// POST /admin/accounts
func (h *AdminHandler) CreateAdmin(c *gin.Context) {
	var input engine.AdminInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	admin, err := h.engines.Admins.Create(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, admin)
}

// SetAdminActive enables or disables an account
// PUT /admin/accounts/:id/active
func (h *AdminHandler) SetAdminActive(c *gin.Context) {
	var input struct {
		Active bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.engines.Admins.SetActive(c.Request.Context(), actorFrom(c), c.Param("id"), input.Active); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "active": input.Active})
}

// =============================================================================
// BUILDINGS
// =============================================================================

// ListBuildings returns buildings
// GET /admin/buildings
func (h *AdminHandler) ListBuildings(c *gin.Context) {
	result, err := h.engines.Buildings.List(c.Request.Context(), queryParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetBuilding returns a building with its apartments
// GET /admin/buildings/:id
func (h *AdminHandler) GetBuilding(c *gin.Context) {
	building, err := h.engines.Buildings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, building)
}

// CreateBuilding creates a building
// POST /admin/buildings
func (h *AdminHandler) CreateBuilding(c *gin.Context) {
	var input engine.BuildingInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	building, err := h.engines.Buildings.Create(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, building)
}

// UpdateBuilding updates a building
// PUT /admin/buildings/:id
func (h *AdminHandler) UpdateBuilding(c *gin.Context) {
	var patch engine.BuildingPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	building, err := h.engines.Buildings.Update(c.Request.Context(), actorFrom(c), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, building)
}

// DeleteBuilding deletes a building without occupied apartments
// DELETE /admin/buildings/:id
func (h *AdminHandler) DeleteBuilding(c *gin.Context) {
	if err := h.engines.Buildings.Delete(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted successfully"})
}

// BuildingStats returns the occupancy figures of a building
// GET /admin/buildings/:id/stats
func (h *AdminHandler) BuildingStats(c *gin.Context) {
	stats, err := h.engines.Buildings.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RecountOccupancy recomputes the occupied counter of a building
// POST /admin/buildings/:id/recount
func (h *AdminHandler) RecountOccupancy(c *gin.Context) {
	occupied, err := h.engines.Buildings.RecountOccupancy(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"building_id": c.Param("id"), "occupied_units": occupied})
}

// =============================================================================
// APARTMENTS
// =============================================================================

// ListApartments returns apartments, filterable by building and status
// GET /admin/apartments
func (h *AdminHandler) ListApartments(c *gin.Context) {
	params := queryParams(c)
	if b := c.Query("building_id"); b != "" {
		params = params.WithFilter("building_id", b)
	}
	if s := c.Query("status"); s != "" {
		params = params.WithFilter("status", s)
	}
	result, err := h.engines.Apartments.List(c.Request.Context(), params)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetApartment returns an apartment
// GET /admin/apartments/:id
func (h *AdminHandler) GetApartment(c *gin.Context) {
	apt, err := h.engines.Apartments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, apt)
}

// CreateApartment creates an apartment
// POST /admin/apartments
func (h *AdminHandler) CreateApartment(c *gin.Context) {
	var input engine.ApartmentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	apt, err := h.engines.Apartments.Create(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, apt)
}

// UpdateApartment updates an apartment
// PUT /admin/apartments/:id
func (h *AdminHandler) UpdateApartment(c *gin.Context) {
	var patch engine.ApartmentPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	apt, err := h.engines.Apartments.Update(c.Request.Context(), actorFrom(c), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, apt)
}

// DeleteApartment deletes an apartment that is not occupied
// DELETE /admin/apartments/:id
func (h *AdminHandler) DeleteApartment(c *gin.Context) {
	if err := h.engines.Apartments.Delete(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted successfully"})
}

// =============================================================================
// TENANTS
// =============================================================================

// ListTenants returns tenants
// GET /admin/tenants
func (h *AdminHandler) ListTenants(c *gin.Context) {
	result, err := h.engines.Tenants.List(c.Request.Context(), queryParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetTenant returns a tenant with its current lease
// GET /admin/tenants/:id
func (h *AdminHandler) GetTenant(c *gin.Context) {
	detail, err := h.engines.Tenants.Detail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// CreateTenant creates a tenant account
// POST /admin/tenants
func (h *AdminHandler) CreateTenant(c *gin.Context) {
	var input engine.TenantInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	tenant, err := h.engines.Tenants.Create(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tenant)
}

// UpdateTenant updates a tenant
// PUT /admin/tenants/:id
func (h *AdminHandler) UpdateTenant(c *gin.Context) {
	var patch engine.TenantPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	tenant, err := h.engines.Tenants.Update(c.Request.Context(), actorFrom(c), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

// DeactivateTenant disables a tenant account
// DELETE /admin/tenants/:id
func (h *AdminHandler) DeactivateTenant(c *gin.Context) {
	if err := h.engines.Tenants.Deactivate(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "tenant deactivated"})
}

// =============================================================================
// LEASES
// =============================================================================

// ListLeases returns leases
// GET /admin/leases
func (h *AdminHandler) ListLeases(c *gin.Context) {
	result, err := h.engines.Leases.List(c.Request.Context(), queryParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetLease returns a lease
// GET /admin/leases/:id
func (h *AdminHandler) GetLease(c *gin.Context) {
	lease, err := h.engines.Leases.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lease)
}

// CreateLease places an existing tenant in a vacant apartment
// POST /admin/leases
func (h *AdminHandler) CreateLease(c *gin.Context) {
	var input engine.LeaseInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	lease, err := h.engines.Leases.Create(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, lease)
}

// TerminateLease ends a lease and frees the apartment
// POST /admin/leases/:id/terminate
func (h *AdminHandler) TerminateLease(c *gin.Context) {
	var input engine.TerminateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	lease, err := h.engines.Leases.Terminate(c.Request.Context(), actorFrom(c), c.Param("id"), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lease)
}

// RenewLease extends a lease
// POST /admin/leases/:id/renew
func (h *AdminHandler) RenewLease(c *gin.Context) {
	var input engine.RenewInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	lease, err := h.engines.Leases.Renew(c.Request.Context(), actorFrom(c), c.Param("id"), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lease)
}

// =============================================================================
// APPLICATIONS
// =============================================================================

// ListApplications returns applications
// GET /admin/applications
func (h *AdminHandler) ListApplications(c *gin.Context) {
	result, err := h.engines.Applications.List(c.Request.Context(), queryParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetApplication returns an application
// GET /admin/applications/:id
func (h *AdminHandler) GetApplication(c *gin.Context) {
	app, err := h.engines.Applications.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// ReviewApplication marks an application as under review
// POST /admin/applications/:id/review
func (h *AdminHandler) ReviewApplication(c *gin.Context) {
	app, err := h.engines.Applications.Review(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// ApproveApplication creates the tenant and the lease of an application
// POST /admin/applications/:id/approve
func (h *AdminHandler) ApproveApplication(c *gin.Context) {
	var input engine.ApproveInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	approval, err := h.engines.Applications.Approve(c.Request.Context(), actorFrom(c), c.Param("id"), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, approval)
}

// RejectApplication rejects an application with a reason
// POST /admin/applications/:id/reject
func (h *AdminHandler) RejectApplication(c *gin.Context) {
	var input struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	app, err := h.engines.Applications.Reject(c.Request.Context(), actorFrom(c), c.Param("id"), input.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// CancelApplication withdraws an open application
// POST /admin/applications/:id/cancel
func (h *AdminHandler) CancelApplication(c *gin.Context) {
	app, err := h.engines.Applications.Cancel(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}
