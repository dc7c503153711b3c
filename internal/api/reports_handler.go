// Package api - Dashboard, audit, settings, exports and import handlers
package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/aethra/domus/internal/config"
	"github.com/aethra/domus/internal/engine"
	"github.com/aethra/domus/internal/errors"
	"github.com/aethra/domus/internal/models"
	"github.com/aethra/domus/internal/report"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// maxExportRows bounds the rows gathered for one export
const maxExportRows = 50000

// Dashboard returns the portfolio totals
// GET /admin/dashboard
func (h *AdminHandler) Dashboard(c *gin.Context) {
	summary, err := h.engines.Dashboard.Summary(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ListAudit returns audit entries
// GET /admin/audit?entity=&record_id=&actor_id=
func (h *AdminHandler) ListAudit(c *gin.Context) {
	filter := engine.AuditFilter{
		Entity:   c.Query("entity"),
		RecordID: c.Query("record_id"),
		ActorID:  c.Query("actor_id"),
	}
	result, err := h.engines.Audit.List(c.Request.Context(), filter, queryParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// =============================================================================
// SETTINGS
// =============================================================================

// ListSettings returns every non-secret runtime setting
// GET /admin/settings
func (h *AdminHandler) ListSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"settings": h.settings.All()})
}

// UpdateSetting stores a runtime setting
// PUT /admin/settings/:key
func (h *AdminHandler) UpdateSetting(c *gin.Context) {
	var input struct {
		Value    string `json:"value"`
		Category string `json:"category"`
		IsSecret bool   `json:"is_secret"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		h.fail(c, errors.NewValidationError("key", "key is required"))
		return
	}
	if err := h.settings.Set(key, input.Value, input.Category, input.IsSecret); err != nil {
		h.fail(c, errors.NewInternalError(err))
		return
	}
	h.logger.Info("setting updated", zap.String("key", key), zap.String("admin_id", actorFrom(c).ID))
	c.JSON(http.StatusOK, gin.H{"key": key, "updated": true})
}

// DeleteSetting restores the default of a setting
// DELETE /admin/settings/:key
func (h *AdminHandler) DeleteSetting(c *gin.Context) {
	if err := h.settings.Delete(c.Param("key")); err != nil {
		h.fail(c, errors.NewInternalError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "deleted": true})
}

// =============================================================================
// EXPORTS
// =============================================================================

// collect walks every page of a list query
func collect[T any](params engine.QueryParams, fetch func(engine.QueryParams) (*engine.QueryResult[T], error)) ([]T, error) {
	params.PageSize = 100
	var out []T
	for page := 1; ; page++ {
		params.Page = page
		res, err := fetch(params)
		if err != nil {
			return nil, err
		}
		out = append(out, res.Data...)
		if page >= res.TotalPages || len(out) >= maxExportRows {
			return out, nil
		}
	}
}

func (h *AdminHandler) sendWorkbook(c *gin.Context, name string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// ExportPayments returns the payments matching the list filters as XLSX
// GET /admin/exports/payments.xlsx
func (h *AdminHandler) ExportPayments(c *gin.Context) {
	ctx := c.Request.Context()
	payments, err := collect(queryParams(c), func(p engine.QueryParams) (*engine.QueryResult[models.Payment], error) {
		return h.engines.Payments.List(ctx, p)
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	data, err := report.Payments(h.settings.Get(config.SettingCompanyName), payments)
	if err != nil {
		h.fail(c, errors.NewInternalError(err))
		return
	}
	h.sendWorkbook(c, "payments.xlsx", data)
}

// ExportTenants returns the tenants matching the list filters as XLSX
// GET /admin/exports/tenants.xlsx
func (h *AdminHandler) ExportTenants(c *gin.Context) {
	ctx := c.Request.Context()
	tenants, err := collect(queryParams(c), func(p engine.QueryParams) (*engine.QueryResult[models.Tenant], error) {
		return h.engines.Tenants.List(ctx, p)
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	data, err := report.Tenants(h.settings.Get(config.SettingCompanyName), tenants)
	if err != nil {
		h.fail(c, errors.NewInternalError(err))
		return
	}
	h.sendWorkbook(c, "tenants.xlsx", data)
}

// =============================================================================
// IMPORT
// =============================================================================

// ImportRequest names the legacy database to read
type ImportRequest struct {
	Driver   string `json:"driver" binding:"required"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// Import copies buildings and apartments from a legacy database
// POST /admin/import
func (h *AdminHandler) Import(c *gin.Context) {
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Driver != "mysql" && req.Driver != "postgres" {
		h.fail(c, errors.NewValidationError("driver", "driver must be mysql or postgres"))
		return
	}

	ctx := c.Request.Context()
	src, err := engine.OpenSource(ctx, engine.SourceConfig{
		Driver:   req.Driver,
		DSN:      req.DSN,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		Database: req.Database,
		SSLMode:  req.SSLMode,
	})
	if err != nil {
		h.logger.Warn("import source unreachable", zap.String("driver", req.Driver), zap.Error(err))
		h.fail(c, errors.NewBadRequestError("cannot connect to the source database"))
		return
	}
	defer src.Close()

	result, err := h.engines.Import.ImportFrom(ctx, actorFrom(c), src)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
