// Package api - Back-office handlers for day-to-day operations
package api

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/aethra/domus/internal/engine"
	"github.com/aethra/domus/internal/loyalty"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// PAYMENTS
// =============================================================================

// ListPayments returns payments
// GET /admin/payments
func (h *AdminHandler) ListPayments(c *gin.Context) {
	result, err := h.engines.Payments.List(c.Request.Context(), queryParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetPayment returns a payment
// GET /admin/payments/:id
func (h *AdminHandler) GetPayment(c *gin.Context) {
	payment, err := h.engines.Payments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// CreatePayment creates a payment request
// POST /admin/payments
func (h *AdminHandler) CreatePayment(c *gin.Context) {
	var input engine.PaymentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	payment, err := h.engines.Payments.Create(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

// PayPayment records the settlement of a payment
// POST /admin/payments/:id/pay
func (h *AdminHandler) PayPayment(c *gin.Context) {
	var input engine.PayInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	payment, err := h.engines.Payments.MarkPaid(c.Request.Context(), actorFrom(c), c.Param("id"), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// CancelPayment cancels an unpaid payment
// POST /admin/payments/:id/cancel
func (h *AdminHandler) CancelPayment(c *gin.Context) {
	var input struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	payment, err := h.engines.Payments.Cancel(c.Request.Context(), actorFrom(c), c.Param("id"), input.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// TenantPaymentSummary totals the payments of a tenant
// GET /admin/tenants/:id/payments/summary
func (h *AdminHandler) TenantPaymentSummary(c *gin.Context) {
	summary, err := h.engines.Payments.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// =============================================================================
// LOYALTY
// =============================================================================

// LoyaltyProfile returns the loyalty profile of a tenant
// GET /admin/loyalty/:tenant_id
func (h *AdminHandler) LoyaltyProfile(c *gin.Context) {
	view, err := h.engines.Loyalty.Profile(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// LoyaltyHistory returns the point transactions of a tenant
// GET /admin/loyalty/:tenant_id/history
func (h *AdminHandler) LoyaltyHistory(c *gin.Context) {
	result, err := h.engines.Loyalty.History(c.Request.Context(), c.Param("tenant_id"), queryParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// AwardLoyalty grants the points of a catalogued event
// POST /admin/loyalty/:tenant_id/award
func (h *AdminHandler) AwardLoyalty(c *gin.Context) {
	var input struct {
		Event       string `json:"event" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	profile, err := h.engines.Loyalty.Award(c.Request.Context(), actorFrom(c), c.Param("tenant_id"), loyalty.Event(input.Event), input.Description)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// AdjustLoyalty adds or removes points manually
// POST /admin/loyalty/:tenant_id/adjust
func (h *AdminHandler) AdjustLoyalty(c *gin.Context) {
	var input engine.AdjustInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	profile, err := h.engines.Loyalty.Adjust(c.Request.Context(), actorFrom(c), c.Param("tenant_id"), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// Leaderboard returns the tenants with the most points
// GET /admin/loyalty/leaderboard?limit=10
func (h *AdminHandler) Leaderboard(c *gin.Context) {
	entries, err := h.engines.Loyalty.Leaderboard(c.Request.Context(), parseIntParam(c.Query("limit"), 10))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}

// =============================================================================
// INCIDENTS
// =============================================================================

// ListIncidents returns incidents
// GET /admin/incidents
func (h *AdminHandler) ListIncidents(c *gin.Context) {
	result, err := h.engines.Incidents.List(c.Request.Context(), queryParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetIncident returns an incident
// GET /admin/incidents/:id
func (h *AdminHandler) GetIncident(c *gin.Context) {
	incident, err := h.engines.Incidents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

// ReportIncident records an incident on behalf of the staff
// POST /admin/incidents
func (h *AdminHandler) ReportIncident(c *gin.Context) {
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

// UpdateIncident changes status, priority, assignment or resolution
// PUT /admin/incidents/:id
func (h *AdminHandler) UpdateIncident(c *gin.Context) {
	var patch engine.IncidentPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	incident, err := h.engines.Incidents.Update(c.Request.Context(), actorFrom(c), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// Notifications returns the back-office notifications
// GET /admin/notifications
func (h *AdminHandler) Notifications(c *gin.Context) {
	items, err := h.engines.Notifications.ForAdmin(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "count": len(items)})
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// ConversationHandler serves messaging to both portals. The engine scopes
// every call to the actor.
type ConversationHandler struct {
	engines *engine.Engines
	fail    func(*gin.Context, error)
}

// ListConversations returns the conversations of the caller
// GET /admin/conversations, GET /portal/conversations
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	result, err := h.engines.Messaging.ListConversations(c.Request.Context(), actorFrom(c), queryParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// StartConversation opens (or reopens) the thread of a tenant/admin pair
// POST /admin/conversations, POST /portal/conversations
func (h *ConversationHandler) StartConversation(c *gin.Context) {
	var input engine.StartInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	conv, err := h.engines.Messaging.StartConversation(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// GetConversation returns one conversation
// GET /.../conversations/:id
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conv, err := h.engines.Messaging.GetConversation(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// ListMessages returns the messages of a conversation, oldest first
// GET /.../conversations/:id/messages
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	result, err := h.engines.Messaging.ListMessages(c.Request.Context(), actorFrom(c), c.Param("id"), queryParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SendMessage posts a message
// POST /.../conversations/:id/messages
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	var input struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := h.engines.Messaging.Send(c.Request.Context(), actorFrom(c), c.Param("id"), input.Body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead marks the counterpart's messages as read
// POST /.../conversations/:id/read
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	n, err := h.engines.Messaging.MarkRead(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

// Archive closes a conversation
// POST /.../conversations/:id/archive
func (h *ConversationHandler) Archive(c *gin.Context) {
	if err := h.engines.Messaging.Archive(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "conversation archived"})
}

// UnreadCount returns how many messages wait for the caller
// GET /.../messages/unread
func (h *ConversationHandler) UnreadCount(c *gin.Context) {
	n, err := h.engines.Messaging.UnreadCount(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// multipartOverhead is allowed on top of the file for headers and fields
const multipartOverhead = 1 << 20

// DocumentHandler serves documents to both portals. Tenants only reach
// their own visible documents.
type DocumentHandler struct {
	engines        *engine.Engines
	maxUploadBytes int64
	fail           func(*gin.Context, error)
}

// ListDocuments returns documents
// GET /admin/documents, GET /portal/documents
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	result, err := h.engines.Documents.List(c.Request.Context(), actorFrom(c), queryParams(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetDocument returns the metadata of a document
// GET /.../documents/:id
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	doc, err := h.engines.Documents.Get(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// UploadDocument stores a multipart "file" with its metadata fields
// POST /admin/documents, POST /portal/documents
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, err)
		return
	}
	if fh.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "FILE_TOO_LARGE", "message": "file exceeds the upload limit"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, err)
		return
	}
	defer f.Close()

	data := make([]byte, fh.Size)
	if _, err := io.ReadFull(f, data); err != nil {
		badRequest(c, err)
		return
	}

	visible, _ := strconv.ParseBool(c.PostForm("visible_to_tenant"))
	doc, err := h.engines.Documents.Upload(c.Request.Context(), actorFrom(c), engine.UploadInput{
		TenantID:        c.PostForm("tenant_id"),
		LeaseID:         c.PostForm("lease_id"),
		BuildingID:      c.PostForm("building_id"),
		Category:        c.PostForm("category"),
		Name:            c.PostForm("name"),
		FileName:        fh.Filename,
		ContentType:     fh.Header.Get("Content-Type"),
		VisibleToTenant: visible,
		Data:            data,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// DownloadDocument streams the contents of a document
// GET /.../documents/:id/download
func (h *DocumentHandler) DownloadDocument(c *gin.Context) {
	doc, data, err := h.engines.Documents.Open(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.FileName}))
	c.Data(http.StatusOK, doc.ContentType, data)
}

// DeleteDocument removes a document and its contents
// DELETE /admin/documents/:id
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	if err := h.engines.Documents.Delete(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted successfully"})
}
