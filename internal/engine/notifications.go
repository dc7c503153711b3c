package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aethra/domus/internal/config"
	"github.com/aethra/domus/internal/loyalty"
	"github.com/aethra/domus/internal/models"
)

// Notification severities
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Notification kinds
const (
	NotifyMessage     = "message"
	NotifyIncident    = "incident"
	NotifyApplication = "application"
	NotifyOverdue     = "payment_overdue"
	NotifyDueSoon     = "payment_due_soon"
	NotifyTier        = "loyalty_tier"
)

// notificationScanLimit caps each source so one noisy source cannot
// drown the others
const notificationScanLimit = 50

// Notification is derived from current data on each request and never stored
type Notification struct {
	Kind        string    `json:"kind"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	ReferenceID string    `json:"reference_id"`
	Severity    string    `json:"severity"`
	CreatedAt   time.Time `json:"created_at"`
}

// NotificationEngine aggregates notifications for admins and tenants
type NotificationEngine struct {
	base
	settings Settings
}

func severityRank(s string) int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	}
	return 0
}

// sortNotifications orders by severity, then most recent first
func sortNotifications(list []Notification) {
	sort.SliceStable(list, func(i, j int) bool {
		ri, rj := severityRank(list[i].Severity), severityRank(list[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ReferenceID < list[j].ReferenceID
	})
}

type unreadThread struct {
	ConversationID string
	Unread         int64
	Latest         time.Time
}

// unreadThreads counts unread messages from senderType per conversation
func (e *NotificationEngine) unreadThreads(ctx context.Context, senderType, tenantID string) ([]unreadThread, error) {
	var rows []struct {
		ConversationID string
		Unread         int64
	}
	q := e.conn(ctx).Model(&models.Message{}).
		Select("messages.conversation_id, COUNT(*) AS unread").
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("messages.sender_type = ? AND messages.read_at IS NULL", senderType)
	if tenantID != "" {
		q = q.Where("conversations.tenant_id = ?", tenantID)
	}
	if err := q.Group("messages.conversation_id").Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ConversationID
	}
	var convs []models.Conversation
	if err := e.conn(ctx).Where("id IN ?", ids).Find(&convs).Error; err != nil {
		return nil, err
	}
	latest := make(map[string]time.Time, len(convs))
	for _, c := range convs {
		if c.LastMessageAt != nil {
			latest[c.ID] = *c.LastMessageAt
		} else {
			latest[c.ID] = c.UpdatedAt
		}
	}

	out := make([]unreadThread, len(rows))
	for i, r := range rows {
		out[i] = unreadThread{ConversationID: r.ConversationID, Unread: r.Unread, Latest: latest[r.ConversationID]}
	}
	return out, nil
}

func plural(n int64, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func incidentSeverity(priority string) string {
	switch priority {
	case "urgent":
		return SeverityCritical
	case "high":
		return SeverityWarning
	}
	return SeverityInfo
}

// ForAdmin lists unread tenant messages, active incidents, applications
// awaiting review and overdue payments
func (e *NotificationEngine) ForAdmin(ctx context.Context) ([]Notification, error) {
	out := make([]Notification, 0)
	db := e.conn(ctx)

	threads, err := e.unreadThreads(ctx, ActorTenant, "")
	if err != nil {
		return nil, translate(err, "message", "")
	}
	for _, t := range threads {
		out = append(out, Notification{
			Kind:        NotifyMessage,
			Title:       "New messages",
			Body:        plural(t.Unread, "unread message") + " from a tenant",
			ReferenceID: t.ConversationID,
			Severity:    SeverityInfo,
			CreatedAt:   t.Latest,
		})
	}

	var incidents []models.Incident
	err = db.Where("status IN ?", activeIncidentStatuses).
		Order("updated_at DESC").
		Limit(notificationScanLimit).
		Find(&incidents).Error
	if err != nil {
		return nil, translate(err, "incident", "")
	}
	for _, inc := range incidents {
		out = append(out, Notification{
			Kind:        NotifyIncident,
			Title:       fmt.Sprintf("Incident %s (%s)", inc.ID, inc.Priority),
			Body:        inc.Title,
			ReferenceID: inc.ID,
			Severity:    incidentSeverity(inc.Priority),
			CreatedAt:   inc.UpdatedAt,
		})
	}

	var apps []models.Application
	err = db.Where("status IN ?", openApplicationStatuses).
		Order("created_at DESC").
		Limit(notificationScanLimit).
		Find(&apps).Error
	if err != nil {
		return nil, translate(err, "application", "")
	}
	for _, a := range apps {
		out = append(out, Notification{
			Kind:        NotifyApplication,
			Title:       "Application awaiting review",
			Body:        fmt.Sprintf("%s from %s", a.ID, joinNames(a.FirstName, a.LastName)),
			ReferenceID: a.ID,
			Severity:    SeverityInfo,
			CreatedAt:   a.CreatedAt,
		})
	}

	var overdue []models.Payment
	err = db.Where("status = ?", models.PaymentOverdue).
		Order("due_date ASC").
		Limit(notificationScanLimit).
		Find(&overdue).Error
	if err != nil {
		return nil, translate(err, "payment", "")
	}
	for _, p := range overdue {
		out = append(out, Notification{
			Kind:        NotifyOverdue,
			Title:       "Overdue payment",
			Body:        fmt.Sprintf("%s of %.2f from %s was due %s", p.ID, p.Amount, p.TenantID, p.DueDate.Format("2006-01-02")),
			ReferenceID: p.ID,
			Severity:    SeverityWarning,
			CreatedAt:   p.DueDate,
		})
	}

	sortNotifications(out)
	return out, nil
}

// ForTenant lists unread admin messages, overdue and upcoming payments,
// recently updated incidents and the loyalty tier reached
func (e *NotificationEngine) ForTenant(ctx context.Context, tenantID string) ([]Notification, error) {
	out := make([]Notification, 0)
	db := e.conn(ctx)
	now := e.now()
	today := civilDate(now)
	dueSoon := e.settings.GetInt(config.SettingDueSoonDays, 7)
	recent := e.settings.GetInt(config.SettingRecentDays, 7)

	threads, err := e.unreadThreads(ctx, ActorAdmin, tenantID)
	if err != nil {
		return nil, translate(err, "message", "")
	}
	for _, t := range threads {
		out = append(out, Notification{
			Kind:        NotifyMessage,
			Title:       "New messages",
			Body:        plural(t.Unread, "unread message") + " from the management",
			ReferenceID: t.ConversationID,
			Severity:    SeverityInfo,
			CreatedAt:   t.Latest,
		})
	}

	var payments []models.Payment
	err = db.Where("tenant_id = ?", tenantID).
		Where("status = ? OR (status = ? AND due_date <= ?)", models.PaymentOverdue, models.PaymentPending, today.AddDate(0, 0, dueSoon)).
		Order("due_date ASC").
		Limit(notificationScanLimit).
		Find(&payments).Error
	if err != nil {
		return nil, translate(err, "payment", "")
	}
	for _, p := range payments {
		n := Notification{
			ReferenceID: p.ID,
			CreatedAt:   p.DueDate,
		}
		if p.Status == models.PaymentOverdue {
			n.Kind = NotifyOverdue
			n.Title = "Payment overdue"
			n.Body = fmt.Sprintf("%.2f was due on %s", p.Amount, p.DueDate.Format("2006-01-02"))
			n.Severity = SeverityCritical
		} else {
			n.Kind = NotifyDueSoon
			n.Title = "Payment due soon"
			n.Body = fmt.Sprintf("%.2f is due on %s", p.Amount, p.DueDate.Format("2006-01-02"))
			n.Severity = SeverityWarning
		}
		out = append(out, n)
	}

	var incidents []models.Incident
	err = db.Where("reporter_id = ? AND reporter_type = ? AND updated_at >= ?", tenantID, ActorTenant, now.AddDate(0, 0, -recent)).
		Order("updated_at DESC").
		Limit(notificationScanLimit).
		Find(&incidents).Error
	if err != nil {
		return nil, translate(err, "incident", "")
	}
	for _, inc := range incidents {
		out = append(out, Notification{
			Kind:        NotifyIncident,
			Title:       "Incident " + inc.ID + " is " + inc.Status,
			Body:        inc.Title,
			ReferenceID: inc.ID,
			Severity:    SeverityInfo,
			CreatedAt:   inc.UpdatedAt,
		})
	}

	var profile models.LoyaltyProfile
	err = db.Where("tenant_id = ?", tenantID).Limit(1).Find(&profile).Error
	if err != nil {
		return nil, translate(err, "loyalty profile", tenantID)
	}
	if profile.TenantID != "" && profile.Tier != "" && profile.Tier != string(loyalty.Bronze) {
		out = append(out, Notification{
			Kind:        NotifyTier,
			Title:       "Loyalty tier reached",
			Body:        fmt.Sprintf("You are a %s member with %d points", profile.Tier, profile.TotalPoints),
			ReferenceID: tenantID,
			Severity:    SeverityInfo,
			CreatedAt:   profile.UpdatedAt,
		})
	}

	sortNotifications(out)
	return out, nil
}

func joinNames(first, last string) string {
	return models.Tenant{FirstName: first, LastName: last}.FullName()
}
