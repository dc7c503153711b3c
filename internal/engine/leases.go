package engine

import (
	"context"
	"strings"
	"time"

	"github.com/aethra/domus/internal/loyalty"
	"github.com/aethra/domus/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LeaseEngine manages leases and the occupancy they imply
type LeaseEngine struct {
	base
	audit   *AuditEngine
	loyalty *LoyaltyEngine
}

// LeaseTerms are the financial and calendar terms of a lease
type LeaseTerms struct {
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	MonthlyRent float64   `json:"monthly_rent"`
	Charges     float64   `json:"charges"`
	Deposit     float64   `json:"deposit"`
	PaymentDay  int       `json:"payment_day"`
	Notes       string    `json:"notes"`
}

// LeaseInput creates a lease for an existing tenant
type LeaseInput struct {
	TenantID    string `json:"tenant_id"`
	ApartmentID string `json:"apartment_id"`
	LeaseTerms
}

// RenewInput extends a lease
type RenewInput struct {
	EndDate     time.Time `json:"end_date"`
	MonthlyRent *float64  `json:"monthly_rent"`
	Charges     *float64  `json:"charges"`
}

// TerminateInput ends a lease early
type TerminateInput struct {
	Reason string     `json:"reason"`
	Date   *time.Time `json:"date"`
}

var leaseList = listSpec{
	filterable:   []string{"tenant_id", "apartment_id", "building_id", "status"},
	sortable:     []string{"id", "start_date", "end_date", "monthly_rent", "created_at"},
	defaultOrder: "id DESC",
}

func (t *LeaseTerms) normalize() error {
	if t.StartDate.IsZero() {
		return validation("start_date", "start date is required")
	}
	if t.EndDate.IsZero() {
		return validation("end_date", "end date is required")
	}
	t.StartDate = civilDate(t.StartDate)
	t.EndDate = civilDate(t.EndDate)
	if !t.EndDate.After(t.StartDate) {
		return validation("end_date", "end date must be after start date")
	}
	if t.MonthlyRent <= 0 {
		return validation("monthly_rent", "monthly rent must be positive")
	}
	if t.Charges < 0 || t.Deposit < 0 {
		return validation("deposit", "amounts cannot be negative")
	}
	if t.PaymentDay == 0 {
		t.PaymentDay = 1
	}
	if t.PaymentDay < 1 || t.PaymentDay > 28 {
		return validation("payment_day", "payment day must be between 1 and 28")
	}
	return nil
}

// lockLeasableApartment reads an apartment FOR UPDATE and checks that it can
// receive a new tenant. buildingID may be empty to skip the building check.
func lockLeasableApartment(tx *gorm.DB, apartmentID, buildingID string) (*models.Apartment, error) {
	var apt models.Apartment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&apt, "id = ?", apartmentID).Error
	if err != nil {
		return nil, translate(err, "apartment", apartmentID)
	}
	if buildingID != "" && apt.BuildingID != buildingID {
		return nil, validation("apartment_id", "apartment does not belong to the selected building")
	}
	if apt.Status != models.ApartmentVacant && apt.Status != models.ApartmentReserved {
		return nil, conflict("apartment", "apartment "+apt.ID+" is not available ("+apt.Status+")")
	}
	return &apt, nil
}

// insertLease creates the lease row; it starts pending when its start date
// is in the future
func insertLease(tx *gorm.DB, now time.Time, tenantID string, apt *models.Apartment, terms LeaseTerms) (*models.Lease, error) {
	status := models.LeaseActive
	if terms.StartDate.After(civilDate(now)) {
		status = models.LeasePending
	}
	lease := &models.Lease{
		TenantID:    tenantID,
		ApartmentID: apt.ID,
		BuildingID:  apt.BuildingID,
		StartDate:   terms.StartDate,
		EndDate:     terms.EndDate,
		MonthlyRent: terms.MonthlyRent,
		Charges:     terms.Charges,
		Deposit:     terms.Deposit,
		PaymentDay:  terms.PaymentDay,
		Status:      status,
		SignedAt:    timePtr(now),
		Notes:       terms.Notes,
	}
	if err := seqLease.create(tx, now, &lease.ID, lease); err != nil {
		return nil, err
	}
	return lease, nil
}

// occupyApartment marks the apartment occupied by tenantID
func occupyApartment(tx *gorm.DB, apt *models.Apartment, tenantID string) error {
	return tx.Model(&models.Apartment{}).Where("id = ?", apt.ID).Updates(map[string]interface{}{
		"status":    models.ApartmentOccupied,
		"tenant_id": tenantID,
	}).Error
}

// attachTenant points the tenant at its new home
func attachTenant(tx *gorm.DB, tenantID string, lease *models.Lease) error {
	return tx.Model(&models.Tenant{}).Where("id = ?", tenantID).Updates(map[string]interface{}{
		"building_id":  lease.BuildingID,
		"apartment_id": lease.ApartmentID,
		"lease_id":     lease.ID,
		"status":       models.TenantActive,
		"move_in_date": lease.StartDate,
	}).Error
}

// Create leases an apartment to an existing tenant that has no running lease
func (e *LeaseEngine) Create(ctx context.Context, actor Actor, in LeaseInput) (*models.Lease, error) {
	if err := in.LeaseTerms.normalize(); err != nil {
		return nil, err
	}

	var (
		lease *models.Lease
		log   pointLog
	)
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Tenant
		if err := tx.First(&t, "id = ?", in.TenantID).Error; err != nil {
			return translate(err, "tenant", in.TenantID)
		}
		var running int64
		if err := tx.Model(&models.Lease{}).
			Where("tenant_id = ? AND status IN ?", t.ID, []string{models.LeaseActive, models.LeasePending}).
			Count(&running).Error; err != nil {
			return err
		}
		if running > 0 {
			return conflict("lease", "tenant already has a running lease")
		}

		apt, err := lockLeasableApartment(tx, in.ApartmentID, "")
		if err != nil {
			return err
		}
		now := e.now()
		if lease, err = insertLease(tx, now, t.ID, apt, in.LeaseTerms); err != nil {
			return err
		}
		if err := occupyApartment(tx, apt, t.ID); err != nil {
			return err
		}
		if err := adjustOccupancy(tx, apt.BuildingID, 1); err != nil {
			return err
		}
		if err := attachTenant(tx, t.ID, lease); err != nil {
			return err
		}
		if _, err := e.loyalty.award(tx, &log, actor, t.ID, loyalty.EventLeaseSigned, loyalty.Points(loyalty.EventLeaseSigned), nil, "Lease "+lease.ID+" signed"); err != nil {
			return err
		}
		e.audit.Record(tx, actor, "leases", lease.ID, AuditCreate, nil, lease)
		return nil
	})
	if err != nil {
		return nil, translate(err, "lease", "")
	}
	e.loyalty.flush(log)

	e.logger.Info("lease created",
		zap.String("lease_id", lease.ID),
		zap.String("tenant_id", lease.TenantID),
		zap.String("apartment_id", lease.ApartmentID))
	return lease, nil
}

// Get returns a lease
func (e *LeaseEngine) Get(ctx context.Context, id string) (*models.Lease, error) {
	var l models.Lease
	if err := e.conn(ctx).First(&l, "id = ?", id).Error; err != nil {
		return nil, translate(err, "lease", id)
	}
	return &l, nil
}

// List returns leases
func (e *LeaseEngine) List(ctx context.Context, params QueryParams) (*QueryResult[models.Lease], error) {
	return paginate[models.Lease](e.conn(ctx).Model(&models.Lease{}), params, leaseList)
}

// Current returns the running lease of a tenant
func (e *LeaseEngine) Current(ctx context.Context, tenantID string) (*models.Lease, error) {
	var l models.Lease
	err := e.conn(ctx).
		Where("tenant_id = ? AND status IN ?", tenantID, []string{models.LeaseActive, models.LeasePending}).
		Order("start_date DESC").
		First(&l).Error
	if err != nil {
		return nil, translate(err, "lease", "")
	}
	return &l, nil
}

// Terminate ends a lease early and frees the apartment
func (e *LeaseEngine) Terminate(ctx context.Context, actor Actor, id string, in TerminateInput) (*models.Lease, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return nil, validation("reason", "a termination reason is required")
	}
	at := e.now()
	if in.Date != nil {
		at = *in.Date
	}

	var lease models.Lease
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&lease, "id = ?", id).Error; err != nil {
			return err
		}
		if lease.Status != models.LeaseActive && lease.Status != models.LeasePending {
			return conflict("lease", "lease is already "+lease.Status)
		}
		previous := lease.Status
		if err := e.vacate(tx, &lease, models.LeaseTerminated, map[string]interface{}{
			"terminated_at":      at,
			"termination_reason": strings.TrimSpace(in.Reason),
		}); err != nil {
			return err
		}
		e.audit.Record(tx, actor, "leases", id, AuditTerminate, map[string]interface{}{"status": previous}, map[string]interface{}{"status": models.LeaseTerminated, "reason": in.Reason})
		return tx.First(&lease, "id = ?", id).Error
	})
	if err != nil {
		return nil, translate(err, "lease", id)
	}

	e.logger.Info("lease terminated", zap.String("lease_id", id), zap.String("apartment_id", lease.ApartmentID))
	return &lease, nil
}

// vacate closes lease with status and releases its apartment, building slot
// and tenant
func (e *LeaseEngine) vacate(tx *gorm.DB, lease *models.Lease, status string, extra map[string]interface{}) error {
	updates := map[string]interface{}{"status": status}
	for k, v := range extra {
		updates[k] = v
	}
	if err := tx.Model(&models.Lease{}).Where("id = ?", lease.ID).Updates(updates).Error; err != nil {
		return err
	}

	res := tx.Model(&models.Apartment{}).
		Where("id = ? AND tenant_id = ? AND status = ?", lease.ApartmentID, lease.TenantID, models.ApartmentOccupied).
		Updates(map[string]interface{}{"status": models.ApartmentVacant, "tenant_id": nil})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		if err := adjustOccupancy(tx, lease.BuildingID, -1); err != nil {
			return err
		}
	}

	return tx.Model(&models.Tenant{}).Where("id = ? AND lease_id = ?", lease.TenantID, lease.ID).Updates(map[string]interface{}{
		"status":       models.TenantFormer,
		"building_id":  nil,
		"apartment_id": nil,
		"lease_id":     nil,
	}).Error
}

// Renew extends a running lease and awards the renewal bonus
func (e *LeaseEngine) Renew(ctx context.Context, actor Actor, id string, in RenewInput) (*models.Lease, error) {
	if in.EndDate.IsZero() {
		return nil, validation("end_date", "new end date is required")
	}
	if in.MonthlyRent != nil && *in.MonthlyRent <= 0 {
		return nil, validation("monthly_rent", "monthly rent must be positive")
	}
	if in.Charges != nil && *in.Charges < 0 {
		return nil, validation("charges", "charges cannot be negative")
	}
	end := civilDate(in.EndDate)

	var (
		lease models.Lease
		log   pointLog
	)
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&lease, "id = ?", id).Error; err != nil {
			return err
		}
		if lease.Status != models.LeaseActive {
			return conflict("lease", "only active leases can be renewed")
		}
		if !end.After(civilDate(lease.EndDate)) {
			return validation("end_date", "new end date must be after the current one")
		}

		old := lease
		updates := map[string]interface{}{"end_date": end}
		if in.MonthlyRent != nil {
			updates["monthly_rent"] = *in.MonthlyRent
		}
		if in.Charges != nil {
			updates["charges"] = *in.Charges
		}
		if err := tx.Model(&models.Lease{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		if _, err := e.loyalty.award(tx, &log, actor, lease.TenantID, loyalty.EventLeaseRenewed, loyalty.Points(loyalty.EventLeaseRenewed), nil, "Lease "+id+" renewed"); err != nil {
			return err
		}
		e.audit.Record(tx, actor, "leases", id, AuditRenew, old, updates)
		return tx.First(&lease, "id = ?", id).Error
	})
	if err != nil {
		return nil, translate(err, "lease", id)
	}
	e.loyalty.flush(log)

	e.logger.Info("lease renewed", zap.String("lease_id", id), zap.Time("end_date", end))
	return &lease, nil
}

// ExpireDue closes active leases whose end date has passed and frees their
// apartments. It returns the number of leases expired.
func (e *LeaseEngine) ExpireDue(ctx context.Context) (int, error) {
	today := civilDate(e.now())
	var due []models.Lease
	err := e.conn(ctx).
		Where("status = ? AND end_date < ?", models.LeaseActive, today).
		Order("id ASC").
		Find(&due).Error
	if err != nil {
		return 0, translate(err, "lease", "")
	}

	expired := 0
	for i := range due {
		lease := due[i]
		err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
			var current models.Lease
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, "id = ?", lease.ID).Error; err != nil {
				return err
			}
			if current.Status != models.LeaseActive {
				return nil
			}
			if err := e.vacate(tx, &current, models.LeaseExpired, nil); err != nil {
				return err
			}
			e.audit.Record(tx, SystemActor(), "leases", lease.ID, AuditUpdate, map[string]interface{}{"status": models.LeaseActive}, map[string]interface{}{"status": models.LeaseExpired})
			expired++
			return nil
		})
		if err != nil {
			e.logger.Error("failed to expire lease", zap.String("lease_id", lease.ID), zap.Error(err))
		}
	}

	if expired > 0 {
		e.logger.Info("leases expired", zap.Int("count", expired))
	}
	return expired, nil
}

// ActivateDue turns pending leases whose start date has come into active
// ones. It returns the number of leases activated.
func (e *LeaseEngine) ActivateDue(ctx context.Context) (int, error) {
	res := e.conn(ctx).Model(&models.Lease{}).
		Where("status = ? AND start_date <= ?", models.LeasePending, civilDate(e.now())).
		Update("status", models.LeaseActive)
	if res.Error != nil {
		return 0, translate(res.Error, "lease", "")
	}
	if res.RowsAffected > 0 {
		e.logger.Info("leases activated", zap.Int64("count", res.RowsAffected))
	}
	return int(res.RowsAffected), nil
}
