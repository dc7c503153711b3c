package engine

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/aethra/domus/internal/config"
	"github.com/aethra/domus/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EventMessageCreated is published to the recipient of a new message
const EventMessageCreated = "message.created"

const previewLength = 200

// MessagingEngine handles tenant/admin conversations. Staff share one inbox:
// any admin may read and answer any conversation.
type MessagingEngine struct {
	base
	publisher Publisher
	settings  Settings
}

// StartInput opens a conversation. Admins must name the tenant; tenants
// write to the given admin or the default one.
type StartInput struct {
	TenantID string `json:"tenant_id"`
	AdminID  string `json:"admin_id"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// ConversationView is a conversation with its unread count for the viewer
type ConversationView struct {
	models.Conversation
	TenantName string `json:"tenant_name"`
	AdminName  string `json:"admin_name"`
	Unread     int64  `json:"unread"`
}

// MessageEvent is the payload of EventMessageCreated
type MessageEvent struct {
	ConversationID string          `json:"conversation_id"`
	Message        *models.Message `json:"message"`
}

// counterpart is the sender type whose messages the actor reads
func counterpart(actor Actor) string {
	if actor.Type == ActorTenant {
		return ActorAdmin
	}
	return ActorTenant
}

// StartConversation returns the conversation of the tenant/admin pair,
// creating it when needed, and posts Body when given
func (e *MessagingEngine) StartConversation(ctx context.Context, actor Actor, in StartInput) (*models.Conversation, error) {
	tenantID, adminID := in.TenantID, in.AdminID
	switch actor.Type {
	case ActorTenant:
		tenantID = actor.ID
	case ActorAdmin:
		adminID = actor.ID
		if tenantID == "" {
			return nil, validation("tenant_id", "tenant is required")
		}
	default:
		return nil, validation("actor", "only tenants and admins converse")
	}

	var conv models.Conversation
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireTenant(tx, tenantID); err != nil {
			return err
		}
		if adminID == "" {
			id, err := e.defaultAdmin(tx)
			if err != nil {
				return err
			}
			adminID = id
		} else {
			var n int64
			if err := tx.Model(&models.Admin{}).Where("id = ? AND is_active = ?", adminID, true).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return notFound("admin", adminID)
			}
		}

		err := tx.First(&conv, "tenant_id = ? AND admin_id = ?", tenantID, adminID).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		conv = models.Conversation{
			TenantID: tenantID,
			AdminID:  adminID,
			Subject:  strings.TrimSpace(in.Subject),
			Status:   models.ConversationOpen,
		}
		return seqConversation.create(tx, e.now(), &conv.ID, &conv)
	})
	if err != nil {
		return nil, translate(err, "conversation", "")
	}

	if strings.TrimSpace(in.Body) != "" {
		if _, err := e.Send(ctx, actor, conv.ID, in.Body); err != nil {
			return nil, err
		}
		return e.conversation(e.conn(ctx), actor, conv.ID)
	}
	return &conv, nil
}

// defaultAdmin returns the configured default recipient of tenant messages,
// or the first active admin
func (e *MessagingEngine) defaultAdmin(tx *gorm.DB) (string, error) {
	if id := e.settings.Get(config.SettingDefaultAdmin); id != "" {
		var n int64
		if err := tx.Model(&models.Admin{}).Where("id = ? AND is_active = ?", id, true).Count(&n).Error; err != nil {
			return "", err
		}
		if n > 0 {
			return id, nil
		}
	}
	var a models.Admin
	if err := tx.Where("is_active = ?", true).Order("id ASC").First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", conflict("conversation", "no administrator is available")
		}
		return "", err
	}
	return a.ID, nil
}

// conversation loads a conversation the actor takes part in
func (e *MessagingEngine) conversation(db *gorm.DB, actor Actor, id string) (*models.Conversation, error) {
	q := db.Where("id = ?", id)
	if actor.Type == ActorTenant {
		q = q.Where("tenant_id = ?", actor.ID)
	}
	var conv models.Conversation
	if err := q.First(&conv).Error; err != nil {
		return nil, translate(err, "conversation", id)
	}
	return &conv, nil
}

// GetConversation returns a conversation the actor takes part in
func (e *MessagingEngine) GetConversation(ctx context.Context, actor Actor, id string) (*models.Conversation, error) {
	return e.conversation(e.conn(ctx), actor, id)
}

// ListConversations returns the conversations of the actor, most recent
// activity first, with the number of messages the actor has not read
func (e *MessagingEngine) ListConversations(ctx context.Context, actor Actor, params QueryParams) (*QueryResult[ConversationView], error) {
	db := e.conn(ctx)
	q := db.Model(&models.Conversation{})
	if actor.Type == ActorTenant {
		q = q.Where("tenant_id = ?", actor.ID)
	}
	page, err := paginate[models.Conversation](q, params, listSpec{
		searchable:   []string{"subject", "last_message_preview"},
		filterable:   []string{"status", "tenant_id", "admin_id"},
		sortable:     []string{"last_message_at", "created_at"},
		defaultOrder: "last_message_at DESC, created_at DESC",
	})
	if err != nil {
		return nil, translate(err, "conversation", "")
	}

	out := &QueryResult[ConversationView]{
		Data:       make([]ConversationView, 0, len(page.Data)),
		Total:      page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages,
	}
	if len(page.Data) == 0 {
		return out, nil
	}

	convIDs := make([]string, len(page.Data))
	tenantIDs := make([]string, 0, len(page.Data))
	adminIDs := make([]string, 0, len(page.Data))
	for i, c := range page.Data {
		convIDs[i] = c.ID
		tenantIDs = append(tenantIDs, c.TenantID)
		adminIDs = append(adminIDs, c.AdminID)
	}

	var counts []struct {
		ConversationID string
		Unread         int64
	}
	err = db.Model(&models.Message{}).
		Select("conversation_id, COUNT(*) AS unread").
		Where("conversation_id IN ? AND sender_type = ? AND read_at IS NULL", convIDs, counterpart(actor)).
		Group("conversation_id").
		Scan(&counts).Error
	if err != nil {
		return nil, translate(err, "message", "")
	}
	unread := make(map[string]int64, len(counts))
	for _, c := range counts {
		unread[c.ConversationID] = c.Unread
	}

	var tenants []models.Tenant
	if err := db.Select("id, first_name, last_name").Where("id IN ?", tenantIDs).Find(&tenants).Error; err != nil {
		return nil, translate(err, "tenant", "")
	}
	var admins []models.Admin
	if err := db.Select("id, first_name, last_name").Where("id IN ?", adminIDs).Find(&admins).Error; err != nil {
		return nil, translate(err, "admin", "")
	}
	names := make(map[string]string, len(tenants)+len(admins))
	for _, t := range tenants {
		names[t.ID] = t.FullName()
	}
	for _, a := range admins {
		names[a.ID] = a.FullName()
	}

	for _, c := range page.Data {
		out.Data = append(out.Data, ConversationView{
			Conversation: c,
			TenantName:   names[c.TenantID],
			AdminName:    names[c.AdminID],
			Unread:       unread[c.ID],
		})
	}
	return out, nil
}

// ListMessages returns the messages of a conversation, oldest first
func (e *MessagingEngine) ListMessages(ctx context.Context, actor Actor, conversationID string, params QueryParams) (*QueryResult[models.Message], error) {
	db := e.conn(ctx)
	if _, err := e.conversation(db, actor, conversationID); err != nil {
		return nil, err
	}
	q := db.Model(&models.Message{}).Where("conversation_id = ?", conversationID)
	return paginate[models.Message](q, params, listSpec{
		sortable:     []string{"created_at"},
		defaultOrder: "created_at ASC",
	})
}

// Send posts a message and notifies the other party
func (e *MessagingEngine) Send(ctx context.Context, actor Actor, conversationID, body string) (*models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, validation("body", "message cannot be empty")
	}

	var (
		msg  *models.Message
		conv *models.Conversation
	)
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if conv, err = e.conversation(tx, actor, conversationID); err != nil {
			return err
		}
		now := e.now()
		msg = &models.Message{
			ConversationID: conv.ID,
			SenderID:       actor.ID,
			SenderType:     actor.Type,
			Body:           body,
			CreatedAt:      now,
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).Updates(map[string]interface{}{
			"last_message_at":      now,
			"last_message_preview": preview(body),
			"status":               models.ConversationOpen,
		}).Error
	})
	if err != nil {
		return nil, translate(err, "conversation", conversationID)
	}

	recipient := conv.TenantID
	if actor.Type == ActorTenant {
		recipient = conv.AdminID
	}
	e.publisher.Publish(recipient, EventMessageCreated, MessageEvent{ConversationID: conv.ID, Message: msg})
	e.logger.Debug("message sent",
		zap.String("conversation_id", conv.ID),
		zap.String("sender_id", actor.ID),
		zap.String("recipient_id", recipient))
	return msg, nil
}

func preview(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(body) <= previewLength {
		return body
	}
	r := []rune(body)
	return string(r[:previewLength-3]) + "..."
}

// MarkRead marks the messages of the other party as read. It returns the
// number of messages updated.
func (e *MessagingEngine) MarkRead(ctx context.Context, actor Actor, conversationID string) (int, error) {
	db := e.conn(ctx)
	if _, err := e.conversation(db, actor, conversationID); err != nil {
		return 0, err
	}
	res := db.Model(&models.Message{}).
		Where("conversation_id = ? AND sender_type = ? AND read_at IS NULL", conversationID, counterpart(actor)).
		Update("read_at", e.now())
	if res.Error != nil {
		return 0, translate(res.Error, "message", "")
	}
	return int(res.RowsAffected), nil
}

// UnreadCount returns the number of messages the actor has not read
func (e *MessagingEngine) UnreadCount(ctx context.Context, actor Actor) (int64, error) {
	q := e.conn(ctx).Model(&models.Message{}).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("messages.sender_type = ? AND messages.read_at IS NULL", counterpart(actor))
	if actor.Type == ActorTenant {
		q = q.Where("conversations.tenant_id = ?", actor.ID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, translate(err, "message", "")
	}
	return n, nil
}

// Archive hides a conversation until the next message
func (e *MessagingEngine) Archive(ctx context.Context, actor Actor, conversationID string) error {
	db := e.conn(ctx)
	if _, err := e.conversation(db, actor, conversationID); err != nil {
		return err
	}
	err := db.Model(&models.Conversation{}).Where("id = ?", conversationID).Update("status", models.ConversationArchived).Error
	return translate(err, "conversation", conversationID)
}
