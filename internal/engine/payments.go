package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aethra/domus/internal/config"
	"github.com/aethra/domus/internal/loyalty"
	"github.com/aethra/domus/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentEngine tracks amounts owed by tenants and rewards timely payment
type PaymentEngine struct {
	base
	audit    *AuditEngine
	loyalty  *LoyaltyEngine
	settings Settings
}

// PaymentInput creates a payment request
type PaymentInput struct {
	TenantID  string    `json:"tenant_id"`
	LeaseID   string    `json:"lease_id"`
	Amount    float64   `json:"amount"`
	Type      string    `json:"type"`
	Period    string    `json:"period"`
	DueDate   time.Time `json:"due_date"`
	Reference string    `json:"reference"`
	Notes     string    `json:"notes"`
}

// PayInput records a payment
type PayInput struct {
	PaidAt    *time.Time `json:"paid_at"`
	Method    string     `json:"method"`
	Reference string     `json:"reference"`
}

// PaymentSummary totals the payments of one tenant
type PaymentSummary struct {
	TotalPaid    float64 `json:"total_paid"`
	TotalPending float64 `json:"total_pending"`
	TotalOverdue float64 `json:"total_overdue"`
	OverdueCount int64   `json:"overdue_count"`
}

var paymentList = listSpec{
	searchable:   []string{"id", "reference"},
	filterable:   []string{"tenant_id", "lease_id", "status", "type", "period"},
	sortable:     []string{"id", "due_date", "paid_at", "amount", "status", "created_at"},
	defaultOrder: "due_date DESC",
}

var periodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

func validPaymentType(t string) bool {
	for _, v := range models.PaymentTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Create adds a pending payment for a tenant
func (e *PaymentEngine) Create(ctx context.Context, actor Actor, in PaymentInput) (*models.Payment, error) {
	if in.Amount <= 0 {
		return nil, validation("amount", "amount must be positive")
	}
	if in.Type == "" {
		in.Type = "rent"
	}
	if !validPaymentType(in.Type) {
		return nil, validation("type", "invalid payment type")
	}
	if in.DueDate.IsZero() {
		return nil, validation("due_date", "due date is required")
	}
	due := civilDate(in.DueDate)
	if in.Period == "" {
		in.Period = due.Format("2006-01")
	}
	if !periodPattern.MatchString(in.Period) {
		return nil, validation("period", "period must be formatted YYYY-MM")
	}

	p := &models.Payment{
		TenantID:  in.TenantID,
		LeaseID:   strPtr(in.LeaseID),
		Amount:    in.Amount,
		Type:      in.Type,
		Period:    in.Period,
		DueDate:   due,
		Status:    models.PaymentPending,
		Reference: in.Reference,
		Notes:     in.Notes,
	}
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireTenant(tx, in.TenantID); err != nil {
			return err
		}
		if p.LeaseID != nil {
			var lease models.Lease
			if err := tx.First(&lease, "id = ?", *p.LeaseID).Error; err != nil {
				return translate(err, "lease", *p.LeaseID)
			}
			if lease.TenantID != in.TenantID {
				return validation("lease_id", "lease does not belong to the tenant")
			}
		}
		if err := seqPayment.create(tx, e.now(), &p.ID, p); err != nil {
			return err
		}
		e.audit.Record(tx, actor, "payments", p.ID, AuditCreate, nil, p)
		return nil
	})
	if err != nil {
		return nil, translate(err, "payment", "")
	}

	e.logger.Info("payment created", zap.String("payment_id", p.ID), zap.String("tenant_id", p.TenantID), zap.Float64("amount", p.Amount))
	return p, nil
}

// Get returns a payment
func (e *PaymentEngine) Get(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	if err := e.conn(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err, "payment", id)
	}
	return &p, nil
}

// GetForTenant returns a payment only when it belongs to tenantID
func (e *PaymentEngine) GetForTenant(ctx context.Context, tenantID, id string) (*models.Payment, error) {
	var p models.Payment
	if err := e.conn(ctx).First(&p, "id = ? AND tenant_id = ?", id, tenantID).Error; err != nil {
		return nil, translate(err, "payment", id)
	}
	return &p, nil
}

// List returns payments
func (e *PaymentEngine) List(ctx context.Context, params QueryParams) (*QueryResult[models.Payment], error) {
	return paginate[models.Payment](e.conn(ctx).Model(&models.Payment{}), params, paymentList)
}

// ListForTenant returns the payments of one tenant
func (e *PaymentEngine) ListForTenant(ctx context.Context, tenantID string, params QueryParams) (*QueryResult[models.Payment], error) {
	q := e.conn(ctx).Model(&models.Payment{}).Where("tenant_id = ?", tenantID)
	return paginate[models.Payment](q, params, paymentList)
}

// Summary totals the payments of a tenant by status
func (e *PaymentEngine) Summary(ctx context.Context, tenantID string) (*PaymentSummary, error) {
	var rows []struct {
		Status string
		Total  float64
		Count  int64
	}
	err := e.conn(ctx).Model(&models.Payment{}).
		Select("status, COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("tenant_id = ?", tenantID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, "payment", "")
	}

	out := &PaymentSummary{}
	for _, r := range rows {
		switch r.Status {
		case models.PaymentPaid:
			out.TotalPaid = r.Total
		case models.PaymentPending:
			out.TotalPending = r.Total
		case models.PaymentOverdue:
			out.TotalOverdue = r.Total
			out.OverdueCount = r.Count
		}
	}
	return out, nil
}

// MarkPaid settles a pending or overdue payment. Rent payments are
// classified against the due date and earn loyalty points; every twelfth
// consecutive early or on-time rent payment adds a streak bonus and a late
// one resets the streak.
func (e *PaymentEngine) MarkPaid(ctx context.Context, actor Actor, id string, in PayInput) (*models.Payment, error) {
	paidAt := e.now()
	if in.PaidAt != nil {
		paidAt = in.PaidAt.UTC()
	}
	earlyDays := e.settings.GetInt(config.SettingEarlyDays, 5)
	graceDays := e.settings.GetInt(config.SettingGraceDays, 0)

	var (
		p   models.Payment
		log pointLog
	)
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, "id = ?", id).Error; err != nil {
			return err
		}
		if p.Status != models.PaymentPending && p.Status != models.PaymentOverdue {
			return conflict("payment", "payment is already "+p.Status)
		}

		timeliness := loyalty.Classify(p.DueDate, paidAt, earlyDays, graceDays)
		updates := map[string]interface{}{
			"status":     models.PaymentPaid,
			"paid_at":    paidAt,
			"timeliness": string(timeliness),
		}
		if in.Method != "" {
			updates["method"] = in.Method
		}
		if in.Reference != "" {
			updates["reference"] = in.Reference
		}

		if p.Type == "rent" {
			awarded, err := e.reward(tx, &log, actor, &p, timeliness)
			if err != nil {
				return err
			}
			updates["points_awarded"] = awarded
		}

		if err := tx.Model(&models.Payment{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		e.audit.Record(tx, actor, "payments", id, AuditPay, map[string]interface{}{"status": p.Status}, updates)
		return tx.First(&p, "id = ?", id).Error
	})
	if err != nil {
		return nil, translate(err, "payment", id)
	}

	e.observer.PaymentPaid(p.Timeliness, p.Amount)
	e.loyalty.flush(log)
	e.logger.Info("payment paid",
		zap.String("payment_id", id),
		zap.String("timeliness", p.Timeliness),
		zap.Int("points", p.PointsAwarded))
	return &p, nil
}

// reward applies the timeliness award and the streak bonus of a rent
// payment and returns the points granted
func (e *PaymentEngine) reward(tx *gorm.DB, log *pointLog, actor Actor, p *models.Payment, t loyalty.Timeliness) (int, error) {
	event := loyalty.EventFor(t)
	profile, err := e.loyalty.award(tx, log, actor, p.TenantID, event, loyalty.Points(event), &p.ID, "Payment "+p.ID)
	if err != nil {
		return 0, err
	}
	awarded := loyalty.Points(event)

	streak := 0
	if t != loyalty.Late {
		streak = profile.OnTimeStreak + 1
	}
	if err := setStreak(tx, p.TenantID, streak); err != nil {
		return 0, err
	}
	if loyalty.StreakBonus(streak) {
		bonus := loyalty.Points(loyalty.EventStreakBonus)
		desc := fmt.Sprintf("%d consecutive on-time payments", streak)
		if _, err := e.loyalty.award(tx, log, actor, p.TenantID, loyalty.EventStreakBonus, bonus, &p.ID, desc); err != nil {
			return 0, err
		}
		awarded += bonus
	}
	return awarded, nil
}

// Cancel voids a payment that has not been paid
func (e *PaymentEngine) Cancel(ctx context.Context, actor Actor, id, reason string) (*models.Payment, error) {
	var p models.Payment
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, "id = ?", id).Error; err != nil {
			return err
		}
		if p.Status != models.PaymentPending && p.Status != models.PaymentOverdue {
			return conflict("payment", "payment is already "+p.Status)
		}
		updates := map[string]interface{}{"status": models.PaymentCancelled}
		if reason = strings.TrimSpace(reason); reason != "" {
			updates["notes"] = reason
		}
		if err := tx.Model(&models.Payment{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		e.audit.Record(tx, actor, "payments", id, AuditUpdate, map[string]interface{}{"status": p.Status}, updates)
		return tx.First(&p, "id = ?", id).Error
	})
	if err != nil {
		return nil, translate(err, "payment", id)
	}
	return &p, nil
}

// MarkOverdue flags pending payments whose due date plus the grace period
// has passed. It returns the number of payments flagged.
func (e *PaymentEngine) MarkOverdue(ctx context.Context) (int, error) {
	graceDays := e.settings.GetInt(config.SettingGraceDays, 0)
	cutoff := civilDate(e.now()).AddDate(0, 0, -graceDays)

	res := e.conn(ctx).Model(&models.Payment{}).
		Where("status = ? AND due_date < ?", models.PaymentPending, cutoff).
		Update("status", models.PaymentOverdue)
	if res.Error != nil {
		return 0, translate(res.Error, "payment", "")
	}
	if res.RowsAffected > 0 {
		e.logger.Info("payments marked overdue", zap.Int64("count", res.RowsAffected))
	}
	return int(res.RowsAffected), nil
}

// IssueMonthlyRent creates the rent payment of period (YYYY-MM, current
// month when empty) for every active lease covering it. Leases already
// billed for the period are skipped. It returns the number of payments
// created.
func (e *PaymentEngine) IssueMonthlyRent(ctx context.Context, period string) (int, error) {
	if period == "" {
		period = e.now().Format("2006-01")
	}
	first, err := time.Parse("2006-01", period)
	if err != nil || !periodPattern.MatchString(period) {
		return 0, validation("period", "period must be formatted YYYY-MM")
	}
	last := first.AddDate(0, 1, -1)

	var leases []models.Lease
	err = e.conn(ctx).
		Where("status = ? AND start_date <= ? AND end_date >= ?", models.LeaseActive, last, first).
		Order("id ASC").
		Find(&leases).Error
	if err != nil {
		return 0, translate(err, "lease", "")
	}

	issued := 0
	for i := range leases {
		lease := leases[i]
		err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
			var n int64
			if err := tx.Model(&models.Payment{}).
				Where("tenant_id = ? AND lease_id = ? AND period = ? AND type = ?", lease.TenantID, lease.ID, period, "rent").
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
			day := lease.PaymentDay
			if day < 1 {
				day = 1
			}
			p := &models.Payment{
				TenantID: lease.TenantID,
				LeaseID:  &lease.ID,
				Amount:   lease.MonthlyRent + lease.Charges,
				Type:     "rent",
				Period:   period,
				DueDate:  time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC),
				Status:   models.PaymentPending,
			}
			if err := seqPayment.create(tx, e.now(), &p.ID, p); err != nil {
				return err
			}
			issued++
			return nil
		})
		if err != nil {
			e.logger.Error("failed to issue rent", zap.String("lease_id", lease.ID), zap.String("period", period), zap.Error(err))
		}
	}

	if issued > 0 {
		e.logger.Info("monthly rent issued", zap.String("period", period), zap.Int("count", issued))
	}
	return issued, nil
}

// Totals returns expected and collected rent of a period, and the amount
// currently overdue
func (e *PaymentEngine) Totals(ctx context.Context, period string) (expected, collected, overdue float64, err error) {
	db := e.conn(ctx)
	var row struct {
		Expected  float64
		Collected float64
	}
	err = db.Model(&models.Payment{}).
		Select("COALESCE(SUM(CASE WHEN status <> ? THEN amount ELSE 0 END), 0) AS expected, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN amount ELSE 0 END), 0) AS collected",
			models.PaymentCancelled, models.PaymentPaid).
		Where("period = ? AND type = ?", period, "rent").
		Scan(&row).Error
	if err != nil {
		return 0, 0, 0, translate(err, "payment", "")
	}
	err = db.Model(&models.Payment{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("status = ?", models.PaymentOverdue).
		Scan(&overdue).Error
	if err != nil {
		return 0, 0, 0, translate(err, "payment", "")
	}
	return row.Expected, row.Collected, overdue, nil
}
