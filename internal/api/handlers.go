// Package api contains the HTTP API handlers for Domus
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aethra/domus/internal/auth"
	"github.com/aethra/domus/internal/engine"
	"github.com/aethra/domus/internal/errors"
	"github.com/aethra/domus/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const claimsKey = "claims"

// Handler holds the middleware shared by every route group
type Handler struct {
	jwt     *auth.JWTService
	revoker auth.Revoker
	logger  *zap.Logger
	version string
}

// NewHandler creates the shared handler
func NewHandler(jwt *auth.JWTService, revoker auth.Revoker, logger *zap.Logger, version string) *Handler {
	if revoker == nil {
		revoker = auth.NewMemoryRevoker()
	}
	return &Handler{jwt: jwt, revoker: revoker, logger: logger, version: version}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// RequestLogger logs every request once it is served
func (h *Handler) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if claims := claimsFrom(c); claims != nil {
			fields = append(fields, zap.String("subject_id", claims.SubjectID))
		}
		switch {
		case status >= http.StatusInternalServerError:
			h.logger.Error("request served", fields...)
		case status >= http.StatusBadRequest:
			h.logger.Warn("request served", fields...)
		default:
			h.logger.Info("request served", fields...)
		}
	}
}

// authenticate validates the bearer token of a request
func (h *Handler) authenticate(c *gin.Context, token string) (*auth.Claims, error) {
	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		return nil, errors.NewUnauthorizedError("invalid or expired token")
	}
	revoked, err := h.revoker.IsRevoked(c.Request.Context(), claims.ID)
	if err != nil {
		h.logger.Warn("revocation lookup failed", zap.Error(err))
	}
	if revoked {
		return nil, errors.NewUnauthorizedError("token has been revoked")
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid access token
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			abortWith(c, errors.NewUnauthorizedError("authorization header required"))
			return
		}
		claims, err := h.authenticate(c, token)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireStaff admits administrators and managers
func (h *Handler) RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims := claimsFrom(c); claims == nil || !auth.IsStaff(claims.Role) {
			abortWith(c, errors.NewPermissionDeniedError("access", "administration"))
			return
		}
		c.Next()
	}
}

// RequireTenant admits tenant accounts only
func (h *Handler) RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims := claimsFrom(c); claims == nil || claims.Role != models.RoleTenant {
			abortWith(c, errors.NewPermissionDeniedError("access", "tenant portal"))
			return
		}
		c.Next()
	}
}

// Permission checks that the caller's role holds action on resource
func (h *Handler) Permission(resource auth.Resource, action auth.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if claims == nil || !auth.Can(claims.Role, resource, action) {
			abortWith(c, errors.NewPermissionDeniedError(string(action), string(resource)))
			return
		}
		c.Next()
	}
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// Health returns the health status
// GET /api/health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "domus",
		"version": h.version,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func claimsFrom(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

// actorFrom turns the token of the request into the engine actor
func actorFrom(c *gin.Context) engine.Actor {
	claims := claimsFrom(c)
	if claims == nil {
		return engine.Actor{Type: engine.ActorSystem, IP: c.ClientIP()}
	}
	actorType := engine.ActorAdmin
	if claims.Role == models.RoleTenant {
		actorType = engine.ActorTenant
	}
	return engine.Actor{ID: claims.SubjectID, Type: actorType, Role: claims.Role, IP: c.ClientIP()}
}

// respondError writes err as JSON. Unexpected errors are logged and
// answered with a generic message.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status, body := errors.ToHTTPError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.JSON(status, body)
}

func abortWith(c *gin.Context, err error) {
	status, body := errors.ToHTTPError(err)
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST", "message": "invalid request body", "details": err.Error()})
}

// queryParams reads page, page_size, sort, sort_dir, search and
// filter[field]=value
func queryParams(c *gin.Context) engine.QueryParams {
	params := engine.QueryParams{
		Page:     parseIntParam(c.Query("page"), 1),
		PageSize: parseIntParam(c.Query("page_size"), 25),
		Sort:     c.Query("sort"),
		SortDir:  c.Query("sort_dir"),
		Search:   c.Query("search"),
		Filters:  make(map[string]string),
	}
	for key, values := range c.Request.URL.Query() {
		if len(key) > 7 && key[:7] == "filter[" && key[len(key)-1] == ']' && len(values) > 0 {
			params.Filters[key[7:len(key)-1]] = values[0]
		}
	}
	return params
}

func parseIntParam(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}
