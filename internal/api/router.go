// Package api - Router setup
package api

import (
	"time"

	"github.com/aethra/domus/internal/auth"
	"github.com/aethra/domus/internal/config"
	"github.com/aethra/domus/internal/engine"
	"github.com/aethra/domus/internal/metrics"
	"github.com/aethra/domus/internal/realtime"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Dependencies are the collaborators of the HTTP layer
type Dependencies struct {
	Engines  *engine.Engines
	Settings *config.SettingsService
	JWT      *auth.JWTService
	Revoker  auth.Revoker
	Hub      *realtime.Hub
	Logger   *zap.Logger
	Config   *config.Config
	Version  string
}

var developmentOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// SetupRouter creates and configures the Gin router
func SetupRouter(d Dependencies) *gin.Engine {
	cfg := d.Config
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	handler := NewHandler(d.JWT, d.Revoker, logger, d.Version)
	loginLimiter := NewRateLimiter(cfg.RateLimit.LoginPerMinute, cfg.RateLimit.LoginBurst)
	publicLimiter := NewRateLimiter(cfg.RateLimit.PublicPerMinute, cfg.RateLimit.PublicBurst)
	authHandler := NewAuthHandler(d.Engines, d.JWT, handler.revoker, loginLimiter, logger)
	setupHandler := NewSetupHandler(d.Engines, d.Settings, d.JWT, logger)
	adminHandler := NewAdminHandler(d.Engines, d.Settings, logger, cfg.Server.MaxUploadBytes)
	portalHandler := NewPortalHandler(d.Engines, logger)
	publicHandler := NewPublicHandler(d.Engines, logger)
	conversations := &ConversationHandler{engines: d.Engines, fail: adminHandler.fail}
	documents := &DocumentHandler{engines: d.Engines, maxUploadBytes: adminHandler.maxUploadBytes, fail: adminHandler.fail}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(handler.RequestLogger())
	r.Use(metrics.Middleware())

	// When credentials are used, specific origins must be provided (not *)
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
		AllowOrigins:     cfg.CORS.AllowedOrigins,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = developmentOrigins
	}
	r.Use(cors.New(corsConfig))

	// Health check and metrics (no auth required)
	r.GET("/api/health", handler.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ==========================================================================
	// SETUP - first administrator
	// ==========================================================================
	r.GET("/setup/status", setupHandler.Status)
	r.POST("/setup", setupHandler.DoSetup)

	// ==========================================================================
	// AUTH API
	// ==========================================================================
	authRoutes := r.Group("/auth")
	{
		authRoutes.POST("/admin/login", authHandler.AdminLogin)
		authRoutes.POST("/tenant/login", authHandler.TenantLogin)
		authRoutes.POST("/refresh", authHandler.RefreshToken)
	}

	authProtected := r.Group("/auth")
	authProtected.Use(handler.RequireAuth())
	{
		authProtected.GET("/me", authHandler.GetMe)
		authProtected.POST("/change-password", authHandler.ChangePassword)
		authProtected.POST("/logout", authHandler.Logout)
	}

	// ==========================================================================
	// PUBLIC API - rate limited per client IP
	// ==========================================================================
	public := r.Group("/public")
	public.Use(publicLimiter.Middleware())
	{
		public.POST("/applications", publicHandler.SubmitApplication)
		public.GET("/buildings", publicHandler.Buildings)
		public.GET("/buildings/:id/vacancies", publicHandler.Vacancies)
	}

	// ==========================================================================
	// ADMIN API - administrators and managers
	// ==========================================================================
	admin := r.Group("/admin")
	admin.Use(handler.RequireAuth())
	admin.Use(handler.RequireStaff())
	{
		view := func(res auth.Resource) gin.HandlerFunc { return handler.Permission(res, auth.ActionView) }
		create := func(res auth.Resource) gin.HandlerFunc { return handler.Permission(res, auth.ActionCreate) }
		edit := func(res auth.Resource) gin.HandlerFunc { return handler.Permission(res, auth.ActionEdit) }
		del := func(res auth.Resource) gin.HandlerFunc { return handler.Permission(res, auth.ActionDelete) }

		admin.GET("/dashboard", view(auth.ResourceDashboard), adminHandler.Dashboard)
		admin.GET("/notifications", view(auth.ResourceDashboard), adminHandler.Notifications)

		// Accounts
		admin.GET("/accounts", view(auth.ResourceAdmins), adminHandler.ListAdmins)
		admin.POST("/accounts", create(auth.ResourceAdmins), adminHandler.CreateAdmin)
		admin.PUT("/accounts/:id/active", edit(auth.ResourceAdmins), adminHandler.SetAdminActive)

		// Buildings
		admin.GET("/buildings", view(auth.ResourceBuildings), adminHandler.ListBuildings)
		admin.POST("/buildings", create(auth.ResourceBuildings), adminHandler.CreateBuilding)
		admin.GET("/buildings/:id", view(auth.ResourceBuildings), adminHandler.GetBuilding)
		admin.PUT("/buildings/:id", edit(auth.ResourceBuildings), adminHandler.UpdateBuilding)
		admin.DELETE("/buildings/:id", del(auth.ResourceBuildings), adminHandler.DeleteBuilding)
		admin.GET("/buildings/:id/stats", view(auth.ResourceBuildings), adminHandler.BuildingStats)
		admin.POST("/buildings/:id/recount", edit(auth.ResourceBuildings), adminHandler.RecountOccupancy)

		// Apartments
		admin.GET("/apartments", view(auth.ResourceApartments), adminHandler.ListApartments)
		admin.POST("/apartments", create(auth.ResourceApartments), adminHandler.CreateApartment)
		admin.GET("/apartments/:id", view(auth.ResourceApartments), adminHandler.GetApartment)
		admin.PUT("/apartments/:id", edit(auth.ResourceApartments), adminHandler.UpdateApartment)
		admin.DELETE("/apartments/:id", del(auth.ResourceApartments), adminHandler.DeleteApartment)

		// Tenants
		admin.GET("/tenants", view(auth.ResourceTenants), adminHandler.ListTenants)
		admin.POST("/tenants", create(auth.ResourceTenants), adminHandler.CreateTenant)
		admin.GET("/tenants/:id", view(auth.ResourceTenants), adminHandler.GetTenant)
		admin.PUT("/tenants/:id", edit(auth.ResourceTenants), adminHandler.UpdateTenant)
		admin.DELETE("/tenants/:id", del(auth.ResourceTenants), adminHandler.DeactivateTenant)
		admin.GET("/tenants/:id/payments/summary", view(auth.ResourcePayments), adminHandler.TenantPaymentSummary)

		// Leases
		admin.GET("/leases", view(auth.ResourceLeases), adminHandler.ListLeases)
		admin.POST("/leases", create(auth.ResourceLeases), adminHandler.CreateLease)
		admin.GET("/leases/:id", view(auth.ResourceLeases), adminHandler.GetLease)
		admin.POST("/leases/:id/terminate", edit(auth.ResourceLeases), adminHandler.TerminateLease)
		admin.POST("/leases/:id/renew", edit(auth.ResourceLeases), adminHandler.RenewLease)

		// Applications
		admin.GET("/applications", view(auth.ResourceApplications), adminHandler.ListApplications)
		admin.GET("/applications/:id", view(auth.ResourceApplications), adminHandler.GetApplication)
		admin.POST("/applications/:id/review", edit(auth.ResourceApplications), adminHandler.ReviewApplication)
		admin.POST("/applications/:id/approve", edit(auth.ResourceApplications), adminHandler.ApproveApplication)
		admin.POST("/applications/:id/reject", edit(auth.ResourceApplications), adminHandler.RejectApplication)
		admin.POST("/applications/:id/cancel", edit(auth.ResourceApplications), adminHandler.CancelApplication)

		// Payments
		admin.GET("/payments", view(auth.ResourcePayments), adminHandler.ListPayments)
		admin.POST("/payments", create(auth.ResourcePayments), adminHandler.CreatePayment)
		admin.GET("/payments/:id", view(auth.ResourcePayments), adminHandler.GetPayment)
		admin.POST("/payments/:id/pay", edit(auth.ResourcePayments), adminHandler.PayPayment)
		admin.POST("/payments/:id/cancel", edit(auth.ResourcePayments), adminHandler.CancelPayment)

		// Loyalty
		admin.GET("/loyalty/leaderboard", view(auth.ResourceLoyalty), adminHandler.Leaderboard)
		admin.GET("/loyalty/:tenant_id", view(auth.ResourceLoyalty), adminHandler.LoyaltyProfile)
		admin.GET("/loyalty/:tenant_id/history", view(auth.ResourceLoyalty), adminHandler.LoyaltyHistory)
		admin.POST("/loyalty/:tenant_id/award", edit(auth.ResourceLoyalty), adminHandler.AwardLoyalty)
		admin.POST("/loyalty/:tenant_id/adjust", edit(auth.ResourceLoyalty), adminHandler.AdjustLoyalty)

		// Incidents
		admin.GET("/incidents", view(auth.ResourceIncidents), adminHandler.ListIncidents)
		admin.POST("/incidents", create(auth.ResourceIncidents), adminHandler.ReportIncident)
		admin.GET("/incidents/:id", view(auth.ResourceIncidents), adminHandler.GetIncident)
		admin.PUT("/incidents/:id", edit(auth.ResourceIncidents), adminHandler.UpdateIncident)

		// Conversations
		admin.GET("/conversations", view(auth.ResourceMessages), conversations.ListConversations)
		admin.POST("/conversations", create(auth.ResourceMessages), conversations.StartConversation)
		admin.GET("/conversations/:id", view(auth.ResourceMessages), conversations.GetConversation)
		admin.GET("/conversations/:id/messages", view(auth.ResourceMessages), conversations.ListMessages)
		admin.POST("/conversations/:id/messages", create(auth.ResourceMessages), conversations.SendMessage)
		admin.POST("/conversations/:id/read", view(auth.ResourceMessages), conversations.MarkRead)
		admin.POST("/conversations/:id/archive", edit(auth.ResourceMessages), conversations.Archive)
		admin.GET("/messages/unread", view(auth.ResourceMessages), conversations.UnreadCount)

		// Documents
		admin.GET("/documents", view(auth.ResourceDocuments), documents.ListDocuments)
		admin.POST("/documents", create(auth.ResourceDocuments), documents.UploadDocument)
		admin.GET("/documents/:id", view(auth.ResourceDocuments), documents.GetDocument)
		admin.GET("/documents/:id/download", view(auth.ResourceDocuments), documents.DownloadDocument)
		admin.DELETE("/documents/:id", del(auth.ResourceDocuments), documents.DeleteDocument)

		// Audit, settings, exports, import
		admin.GET("/audit", view(auth.ResourceAudit), adminHandler.ListAudit)
		admin.GET("/settings", view(auth.ResourceSettings), adminHandler.ListSettings)
		admin.PUT("/settings/:key", edit(auth.ResourceSettings), adminHandler.UpdateSetting)
		admin.DELETE("/settings/:key", del(auth.ResourceSettings), adminHandler.DeleteSetting)
		admin.GET("/exports/payments.xlsx", handler.Permission(auth.ResourcePayments, auth.ActionExport), adminHandler.ExportPayments)
		admin.GET("/exports/tenants.xlsx", handler.Permission(auth.ResourceTenants, auth.ActionExport), adminHandler.ExportTenants)
		admin.POST("/import", handler.Permission(auth.ResourceBuildings, auth.ActionImport), adminHandler.Import)
	}

	// ==========================================================================
	// TENANT PORTAL
	// ==========================================================================
	portal := r.Group("/portal")
	portal.Use(handler.RequireAuth())
	portal.Use(handler.RequireTenant())
	{
		portal.GET("/me", portalHandler.Me)
		portal.PUT("/me", portalHandler.UpdateMe)
		portal.GET("/lease", portalHandler.Lease)
		portal.GET("/apartment", portalHandler.Apartment)
		portal.GET("/payments", portalHandler.Payments)
		portal.GET("/payments/summary", portalHandler.PaymentSummary)
		portal.GET("/payments/:id", portalHandler.Payment)
		portal.GET("/loyalty", portalHandler.Loyalty)
		portal.GET("/loyalty/history", portalHandler.LoyaltyHistory)
		portal.GET("/incidents", portalHandler.Incidents)
		portal.POST("/incidents", portalHandler.ReportIncident)
		portal.GET("/incidents/:id", portalHandler.Incident)
		portal.POST("/incidents/:id/cancel", portalHandler.CancelIncident)
		portal.GET("/conversations", conversations.ListConversations)
		portal.POST("/conversations", conversations.StartConversation)
		portal.GET("/conversations/:id", conversations.GetConversation)
		portal.GET("/conversations/:id/messages", conversations.ListMessages)
		portal.POST("/conversations/:id/messages", conversations.SendMessage)
		portal.POST("/conversations/:id/read", conversations.MarkRead)
		portal.GET("/messages/unread", conversations.UnreadCount)
		portal.GET("/documents", documents.ListDocuments)
		portal.POST("/documents", documents.UploadDocument)
		portal.GET("/documents/:id", documents.GetDocument)
		portal.GET("/documents/:id/download", documents.DownloadDocument)
		portal.GET("/notifications", portalHandler.Notifications)
	}

	// ==========================================================================
	// REALTIME
	// ==========================================================================
	if d.Hub != nil {
		r.GET("/ws", handler.Realtime(d.Hub))
	}

	return r
}
