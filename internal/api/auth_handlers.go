// Package api - Authentication handlers
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/aethra/domus/internal/auth"
	"github.com/aethra/domus/internal/engine"
	"github.com/aethra/domus/internal/errors"
	"github.com/aethra/domus/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthHandler handles authentication endpoints of both portals
type AuthHandler struct {
	engines     *engine.Engines
	jwtService  *auth.JWTService
	revoker     auth.Revoker
	rateLimiter *RateLimiter
	logger      *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(engines *engine.Engines, jwtService *auth.JWTService, revoker auth.Revoker, limiter *RateLimiter, logger *zap.Logger) *AuthHandler {
	if revoker == nil {
		revoker = auth.NewMemoryRevoker()
	}
	return &AuthHandler{
		engines:     engines,
		jwtService:  jwtService,
		revoker:     revoker,
		rateLimiter: limiter,
		logger:      logger,
	}
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest represents a token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// ChangePasswordRequest represents a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// LogoutRequest optionally names the refresh token to revoke as well
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// account is what login needs to know about an admin or a tenant
type account struct {
	subject      auth.Subject
	passwordHash string
	active       bool
	profile      interface{}
}

func adminAccount(a *models.Admin) *account {
	return &account{
		subject:      auth.Subject{ID: a.ID, Email: a.Email, Role: a.Role},
		passwordHash: a.PasswordHash,
		active:       a.IsActive,
		profile:      a,
	}
}

func tenantAccount(t *models.Tenant) *account {
	return &account{
		subject:      auth.Subject{ID: t.ID, Email: t.Email, Role: models.RoleTenant},
		passwordHash: t.PasswordHash,
		active:       t.Status != models.TenantInactive,
		profile:      t,
	}
}

// AdminLogin authenticates an administrator or manager
// POST /auth/admin/login
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	h.login(c, models.RoleAdmin)
}

// TenantLogin authenticates a tenant
// POST /auth/tenant/login
func (h *AuthHandler) TenantLogin(c *gin.Context) {
	h.login(c, models.RoleTenant)
}

func (h *AuthHandler) login(c *gin.Context, portal string) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	// Rate limiting key: portal + IP + email combination
	rateLimitKey := portal + ":" + c.ClientIP() + ":" + strings.ToLower(req.Email)
	if allowed, retryAfter := h.rateLimiter.Allow(rateLimitKey); !allowed {
		h.logger.Warn("login rate limited", zap.String("portal", portal), zap.String("client_ip", c.ClientIP()))
		tooManyRequests(c, retryAfter)
		return
	}

	ctx := c.Request.Context()
	var acct *account
	if portal == models.RoleTenant {
		if t, err := h.engines.Tenants.GetByEmail(ctx, req.Email); err == nil {
			acct = tenantAccount(t)
		} else if !errors.IsNotFound(err) {
			respondError(c, h.logger, err)
			return
		}
	} else {
		if a, err := h.engines.Admins.GetByEmail(ctx, req.Email); err == nil {
			acct = adminAccount(a)
		} else if !errors.IsNotFound(err) {
			respondError(c, h.logger, err)
			return
		}
	}

	if acct == nil || !auth.CheckPassword(req.Password, acct.passwordHash) {
		respondError(c, h.logger, errors.NewUnauthorizedError("invalid credentials"))
		return
	}
	if !acct.active {
		respondError(c, h.logger, errors.NewUnauthorizedError("account is disabled"))
		return
	}

	// Successful login - reset rate limiter
	h.rateLimiter.Reset(rateLimitKey)

	tokens, err := h.jwtService.GenerateTokenPair(acct.subject)
	if err != nil {
		respondError(c, h.logger, errors.NewInternalError(err))
		return
	}

	if portal == models.RoleTenant {
		h.engines.Tenants.RecordLogin(ctx, acct.subject.ID)
	} else {
		h.engines.Admins.RecordLogin(ctx, acct.subject.ID)
	}
	h.logger.Info("login succeeded", zap.String("subject_id", acct.subject.ID), zap.String("role", acct.subject.Role))

	c.JSON(http.StatusOK, gin.H{
		"user":   acct.profile,
		"role":   acct.subject.Role,
		"tokens": tokens,
	})
}

// lookup reloads the account a token was issued for
func (h *AuthHandler) lookup(c *gin.Context, claims *auth.Claims) (*account, error) {
	ctx := c.Request.Context()
	if claims.Role == models.RoleTenant {
		t, err := h.engines.Tenants.Get(ctx, claims.SubjectID)
		if err != nil {
			return nil, err
		}
		return tenantAccount(t), nil
	}
	a, err := h.engines.Admins.Get(ctx, claims.SubjectID)
	if err != nil {
		return nil, err
	}
	return adminAccount(a), nil
}

// RefreshToken exchanges a refresh token for a new pair. The old refresh
// token is revoked.
// POST /auth/refresh
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	claims, err := h.jwtService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		respondError(c, h.logger, errors.NewUnauthorizedError("invalid refresh token"))
		return
	}
	if claims.ExpiresAt == nil {
		respondError(c, h.logger, errors.NewUnauthorizedError("invalid refresh token"))
		return
	}
	// the token is spent before anything is issued; a revocation store
	// failure rejects the refresh
	consumed, err := h.revoker.Consume(c.Request.Context(), claims.ID, time.Until(claims.ExpiresAt.Time))
	if err != nil {
		h.logger.Error("refresh token revocation failed", zap.Error(err), zap.String("subject_id", claims.SubjectID))
		respondError(c, h.logger, errors.NewUnauthorizedError("refresh token could not be verified"))
		return
	}
	if !consumed {
		respondError(c, h.logger, errors.NewUnauthorizedError("refresh token has been revoked"))
		return
	}

	acct, err := h.lookup(c, claims)
	if err != nil || !acct.active {
		respondError(c, h.logger, errors.NewUnauthorizedError("account is disabled"))
		return
	}

	tokens, err := h.jwtService.GenerateTokenPair(acct.subject)
	if err != nil {
		respondError(c, h.logger, errors.NewInternalError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// GetMe returns the authenticated account
// GET /auth/me
func (h *AuthHandler) GetMe(c *gin.Context) {
	claims := claimsFrom(c)
	if claims.Role == models.RoleTenant {
		detail, err := h.engines.Tenants.Detail(c.Request.Context(), claims.SubjectID)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": detail, "role": claims.Role})
		return
	}

	acct, err := h.lookup(c, claims)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user": acct.profile,
		"role": claims.Role,
		"permissions": gin.H{
			"buildings": auth.Permissions(claims.Role, auth.ResourceBuildings),
			"tenants":   auth.Permissions(claims.Role, auth.ResourceTenants),
			"payments":  auth.Permissions(claims.Role, auth.ResourcePayments),
			"settings":  auth.Permissions(claims.Role, auth.ResourceSettings),
			"admins":    auth.Permissions(claims.Role, auth.ResourceAdmins),
		},
	})
}

// ChangePassword changes the password of the authenticated account
// POST /auth/change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	claims := claimsFrom(c)
	acct, err := h.lookup(c, claims)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !auth.CheckPassword(req.CurrentPassword, acct.passwordHash) {
		respondError(c, h.logger, errors.NewValidationError("current_password", "current password is incorrect"))
		return
	}

	ctx := c.Request.Context()
	if claims.Role == models.RoleTenant {
		err = h.engines.Tenants.SetPassword(ctx, claims.SubjectID, req.NewPassword)
	} else {
		err = h.engines.Admins.SetPassword(ctx, claims.SubjectID, req.NewPassword)
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

// Logout revokes the access token and, when given, the refresh token
// POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	_ = c.ShouldBindJSON(&req)

	h.revoke(c, claimsFrom(c))
	if req.RefreshToken != "" {
		if claims, err := h.jwtService.ValidateRefreshToken(req.RefreshToken); err == nil && claims.SubjectID == claimsFrom(c).SubjectID {
			h.revoke(c, claims)
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *AuthHandler) revoke(c *gin.Context, claims *auth.Claims) {
	if claims == nil || claims.ExpiresAt == nil {
		return
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if err := h.revoker.Revoke(c.Request.Context(), claims.ID, ttl); err != nil {
		h.logger.Warn("token revocation failed", zap.Error(err), zap.String("subject_id", claims.SubjectID))
	}
}
