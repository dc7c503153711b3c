package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/aethra/domus/internal/loyalty"
	"github.com/aethra/domus/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoyaltyEngine keeps point totals and their history
type LoyaltyEngine struct {
	base
	audit *AuditEngine
}

// LoyaltyView is a profile with its progress toward the next tier
type LoyaltyView struct {
	models.LoyaltyProfile
	Progress loyalty.Progress `json:"progress"`
}

// LeaderboardEntry is one line of the leaderboard
type LeaderboardEntry struct {
	TenantID    string `json:"tenant_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	TotalPoints int    `json:"total_points"`
	Tier        string `json:"tier"`
}

// AdjustInput is a manual correction of a point total
type AdjustInput struct {
	Points int    `json:"points"`
	Reason string `json:"reason"`
}

// Profile returns the loyalty profile of a tenant. Tenants that never earned
// points get an empty bronze profile.
func (e *LoyaltyEngine) Profile(ctx context.Context, tenantID string) (*LoyaltyView, error) {
	db := e.conn(ctx)
	var n int64
	if err := db.Model(&models.Tenant{}).Where("id = ?", tenantID).Count(&n).Error; err != nil {
		return nil, translate(err, "tenant", tenantID)
	}
	if n == 0 {
		return nil, notFound("tenant", tenantID)
	}

	p := models.LoyaltyProfile{TenantID: tenantID, Tier: string(loyalty.Bronze)}
	err := db.First(&p, "tenant_id = ?", tenantID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, translate(err, "loyalty profile", tenantID)
	}
	return &LoyaltyView{LoyaltyProfile: p, Progress: loyalty.ProgressFor(p.TotalPoints)}, nil
}

// History returns the point transactions of a tenant, newest first
func (e *LoyaltyEngine) History(ctx context.Context, tenantID string, params QueryParams) (*QueryResult[models.LoyaltyTransaction], error) {
	q := e.conn(ctx).Model(&models.LoyaltyTransaction{}).Where("tenant_id = ?", tenantID)
	return paginate[models.LoyaltyTransaction](q, params, listSpec{
		filterable:   []string{"event"},
		sortable:     []string{"created_at", "points"},
		defaultOrder: "created_at DESC",
	})
}

// Award grants the fixed points of event to a tenant
func (e *LoyaltyEngine) Award(ctx context.Context, actor Actor, tenantID string, event loyalty.Event, description string) (*models.LoyaltyProfile, error) {
	if event == loyalty.EventManualAdjustment || !loyalty.KnownEvent(event) {
		return nil, validation("event", "unknown loyalty event "+string(event))
	}

	var (
		p   *models.LoyaltyProfile
		log pointLog
	)
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireTenant(tx, tenantID); err != nil {
			return err
		}
		var err error
		p, err = e.award(tx, &log, actor, tenantID, event, loyalty.Points(event), nil, description)
		return err
	})
	if err != nil {
		return nil, translate(err, "loyalty profile", tenantID)
	}
	e.flush(log)
	return p, nil
}

// Adjust adds or removes points by hand. A deduction larger than the balance
// leaves the total at zero.
func (e *LoyaltyEngine) Adjust(ctx context.Context, actor Actor, tenantID string, in AdjustInput) (*models.LoyaltyProfile, error) {
	if in.Points == 0 {
		return nil, validation("points", "points must be non-zero")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, validation("reason", "a reason is required")
	}

	var (
		p   *models.LoyaltyProfile
		log pointLog
	)
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireTenant(tx, tenantID); err != nil {
			return err
		}
		before, err := e.lockProfile(tx, tenantID)
		if err != nil {
			return err
		}
		old := *before
		if p, err = e.award(tx, &log, actor, tenantID, loyalty.EventManualAdjustment, in.Points, nil, reason); err != nil {
			return err
		}
		e.audit.Record(tx, actor, "loyalty_profiles", tenantID, AuditAdjust, old, p)
		return nil
	})
	if err != nil {
		return nil, translate(err, "loyalty profile", tenantID)
	}
	e.flush(log)
	return p, nil
}

// Leaderboard returns the limit tenants with the most points
func (e *LoyaltyEngine) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit < 1 || limit > maxPageSize {
		limit = 10
	}
	out := make([]LeaderboardEntry, 0, limit)
	err := e.conn(ctx).Table("loyalty_profiles AS lp").
		Select("lp.tenant_id, t.first_name, t.last_name, lp.total_points, lp.tier").
		Joins("JOIN tenants t ON t.id = lp.tenant_id").
		Where("lp.total_points > 0").
		Order("lp.total_points DESC, lp.tenant_id ASC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, translate(err, "loyalty profile", "")
	}
	return out, nil
}

// TierDistribution counts profiles per tier. Every tier is present.
func (e *LoyaltyEngine) TierDistribution(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Tier  string
		Count int64
	}
	err := e.conn(ctx).Model(&models.LoyaltyProfile{}).
		Select("tier, COUNT(*) AS count").
		Group("tier").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, "loyalty profile", "")
	}

	out := make(map[string]int64, len(loyalty.Tiers()))
	for _, t := range loyalty.Tiers() {
		out[string(t)] = 0
	}
	for _, r := range rows {
		out[r.Tier] = r.Count
	}
	return out, nil
}

// lockProfile returns the profile of tenantID locked for update, opening it
// on first use
func (e *LoyaltyEngine) lockProfile(tx *gorm.DB, tenantID string) (*models.LoyaltyProfile, error) {
	fresh := models.LoyaltyProfile{TenantID: tenantID, Tier: string(loyalty.Bronze)}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
		return nil, err
	}
	var p models.LoyaltyProfile
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, "tenant_id = ?", tenantID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// pointLog holds the point changes made inside a transaction until it
// commits
type pointLog []pointChange

type pointChange struct {
	event  loyalty.Event
	points int
}

// flush reports the changes of a committed transaction to the observer
func (e *LoyaltyEngine) flush(log pointLog) {
	for _, c := range log {
		e.observer.PointsAwarded(string(c.event), c.points)
	}
}

// award applies points to the profile of tenantID and records the change
// in the history and in log. The recorded delta is the one actually
// applied, so the history of a profile always sums to its total.
func (e *LoyaltyEngine) award(tx *gorm.DB, log *pointLog, actor Actor, tenantID string, event loyalty.Event, points int, paymentID *string, description string) (*models.LoyaltyProfile, error) {
	p, err := e.lockProfile(tx, tenantID)
	if err != nil {
		return nil, err
	}
	total := loyalty.Apply(p.TotalPoints, points)
	applied := total - p.TotalPoints
	tier := loyalty.TierFor(total)

	if err := tx.Model(&models.LoyaltyProfile{}).Where("tenant_id = ?", tenantID).Updates(map[string]interface{}{
		"total_points": total,
		"tier":         string(tier),
	}).Error; err != nil {
		return nil, err
	}
	entry := models.LoyaltyTransaction{
		TenantID:    tenantID,
		Points:      applied,
		Event:       string(event),
		PaymentID:   paymentID,
		Description: description,
		CreatedBy:   actor.ID,
		CreatedAt:   e.now(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}

	if applied != 0 {
		*log = append(*log, pointChange{event: event, points: applied})
	}
	if string(tier) != p.Tier {
		e.logger.Info("loyalty tier changed",
			zap.String("tenant_id", tenantID),
			zap.String("from", p.Tier),
			zap.String("to", string(tier)))
	}
	p.TotalPoints = total
	p.Tier = string(tier)
	return p, nil
}

// setStreak stores the consecutive early or on-time payment count
func setStreak(tx *gorm.DB, tenantID string, streak int) error {
	return tx.Model(&models.LoyaltyProfile{}).Where("tenant_id = ?", tenantID).Update("on_time_streak", streak).Error
}

func requireTenant(tx *gorm.DB, tenantID string) error {
	var n int64
	if err := tx.Model(&models.Tenant{}).Where("id = ?", tenantID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return notFound("tenant", tenantID)
	}
	return nil
}
