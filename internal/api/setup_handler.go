// Package api - First-run setup handler
package api

import (
	"net/http"
	"sync"

	"github.com/aethra/domus/internal/auth"
	"github.com/aethra/domus/internal/config"
	"github.com/aethra/domus/internal/engine"
	"github.com/aethra/domus/internal/errors"
	"github.com/aethra/domus/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupHandler creates the first administrator of a fresh installation
type SetupHandler struct {
	engines    *engine.Engines
	settings   *config.SettingsService
	jwtService *auth.JWTService
	logger     *zap.Logger
	mu         sync.Mutex
}

// NewSetupHandler creates a new setup handler
func NewSetupHandler(engines *engine.Engines, settings *config.SettingsService, jwtService *auth.JWTService, logger *zap.Logger) *SetupHandler {
	return &SetupHandler{engines: engines, settings: settings, jwtService: jwtService, logger: logger}
}

// SetupRequest is the first administrator and the company name
type SetupRequest struct {
	CompanyName string `json:"company_name"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required"`
	FirstName   string `json:"first_name" binding:"required"`
	LastName    string `json:"last_name" binding:"required"`
	Phone       string `json:"phone"`
}

// IsSetupRequired reports whether no administrator exists yet
func (h *SetupHandler) IsSetupRequired(c *gin.Context) (bool, error) {
	n, err := h.engines.Admins.Count(c.Request.Context())
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Status tells clients whether the setup step must be shown
// GET /setup/status
func (h *SetupHandler) Status(c *gin.Context) {
	required, err := h.IsSetupRequired(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"setup_required": required,
		"company_name":   h.settings.Get(config.SettingCompanyName),
	})
}

// DoSetup creates the first administrator and signs it in
// POST /setup
func (h *SetupHandler) DoSetup(c *gin.Context) {
	var req SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	required, err := h.IsSetupRequired(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !required {
		respondError(c, h.logger, errors.NewConflictError("setup", "setup already completed"))
		return
	}

	admin, err := h.engines.Admins.Create(c.Request.Context(), actorFrom(c), engine.AdminInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Role:      models.RoleAdmin,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if err := h.settings.SetupDefaults(); err != nil {
		h.logger.Warn("failed to store default settings", zap.Error(err))
	}
	if req.CompanyName != "" {
		if err := h.settings.Set(config.SettingCompanyName, req.CompanyName, "company", false); err != nil {
			h.logger.Warn("failed to store company name", zap.Error(err))
		}
	}

	tokens, err := h.jwtService.GenerateTokenPair(auth.Subject{ID: admin.ID, Email: admin.Email, Role: admin.Role})
	if err != nil {
		respondError(c, h.logger, errors.NewInternalError(err))
		return
	}

	h.logger.Info("setup completed", zap.String("admin_id", admin.ID))
	c.JSON(http.StatusCreated, gin.H{
		"message": "setup complete",
		"user":    admin,
		"tokens":  tokens,
	})
}
