package engine

import (
	"context"
	"strings"
	"time"

	"github.com/aethra/domus/internal/auth"
	"github.com/aethra/domus/internal/loyalty"
	"github.com/aethra/domus/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ApplicationEngine handles pre-registration requests and their approval
type ApplicationEngine struct {
	base
	audit  *AuditEngine
	leases *LeaseEngine
}

// SubmitInput is a public pre-registration request
type SubmitInput struct {
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	Email              string     `json:"email"`
	Password           string     `json:"password"`
	Phone              string     `json:"phone"`
	BirthDate          *time.Time `json:"birth_date"`
	Profession         string     `json:"profession"`
	MonthlyIncome      float64    `json:"monthly_income"`
	HouseholdSize      int        `json:"household_size"`
	HasPets            bool       `json:"has_pets"`
	DesiredBuildingID  string     `json:"desired_building_id"`
	DesiredApartmentID string     `json:"desired_apartment_id"`
	DesiredMoveIn      *time.Time `json:"desired_move_in"`
	Message            string     `json:"message"`
}

// ApproveInput selects the apartment and the lease terms of an approval
type ApproveInput struct {
	BuildingID  string `json:"building_id"`
	ApartmentID string `json:"apartment_id"`
	LeaseTerms
}

// Approval is the outcome of an approved application
type Approval struct {
	Application *models.Application `json:"application"`
	Tenant      *models.Tenant      `json:"tenant"`
	Lease       *models.Lease       `json:"lease"`
}

var applicationList = listSpec{
	searchable:   []string{"first_name", "last_name", "email"},
	filterable:   []string{"status", "desired_building_id"},
	sortable:     []string{"id", "created_at", "last_name", "status"},
	defaultOrder: "created_at DESC",
}

var openApplicationStatuses = []string{models.ApplicationPending, models.ApplicationUnderReview}

// Submit records a pre-registration. The email must not belong to a tenant
// or to another open application.
func (e *ApplicationEngine) Submit(ctx context.Context, in SubmitInput) (*models.Application, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.FirstName) == "" {
		return nil, validation("first_name", "first name is required")
	}
	if strings.TrimSpace(in.LastName) == "" {
		return nil, validation("last_name", "last name is required")
	}
	if err := checkPassword(in.Password); err != nil {
		return nil, err
	}
	if in.MonthlyIncome < 0 {
		return nil, validation("monthly_income", "monthly income cannot be negative")
	}
	if in.HouseholdSize < 0 {
		return nil, validation("household_size", "household size cannot be negative")
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, translate(err, "application", "")
	}

	app := &models.Application{
		FirstName:          strings.TrimSpace(in.FirstName),
		LastName:           strings.TrimSpace(in.LastName),
		Email:              email,
		Phone:              in.Phone,
		BirthDate:          in.BirthDate,
		Profession:         in.Profession,
		MonthlyIncome:      in.MonthlyIncome,
		HouseholdSize:      in.HouseholdSize,
		HasPets:            in.HasPets,
		DesiredBuildingID:  strPtr(in.DesiredBuildingID),
		DesiredApartmentID: strPtr(in.DesiredApartmentID),
		DesiredMoveIn:      in.DesiredMoveIn,
		Message:            in.Message,
		PasswordHash:       hash,
		Status:             models.ApplicationPending,
	}

	err = e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Tenant{}).Where("email = ?", email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return conflict("application", "an account with this email already exists")
		}
		if err := tx.Model(&models.Application{}).
			Where("email = ? AND status IN ?", email, openApplicationStatuses).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return conflict("application", "an application with this email is already being processed")
		}

		if app.DesiredBuildingID != nil {
			if err := tx.Model(&models.Building{}).Where("id = ? AND is_active = ?", *app.DesiredBuildingID, true).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return validation("desired_building_id", "unknown building")
			}
		}
		if app.DesiredApartmentID != nil {
			var apt models.Apartment
			if err := tx.First(&apt, "id = ?", *app.DesiredApartmentID).Error; err != nil {
				return validation("desired_apartment_id", "unknown apartment")
			}
			if app.DesiredBuildingID != nil && apt.BuildingID != *app.DesiredBuildingID {
				return validation("desired_apartment_id", "apartment does not belong to the selected building")
			}
			app.DesiredBuildingID = &apt.BuildingID
		}

		return seqApplication.create(tx, e.now(), &app.ID, app)
	})
	if err != nil {
		return nil, translate(err, "application", "")
	}

	e.logger.Info("application submitted", zap.String("application_id", app.ID))
	return app, nil
}

// Get returns an application
func (e *ApplicationEngine) Get(ctx context.Context, id string) (*models.Application, error) {
	var a models.Application
	if err := e.conn(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, translate(err, "application", id)
	}
	return &a, nil
}

// List returns applications
func (e *ApplicationEngine) List(ctx context.Context, params QueryParams) (*QueryResult[models.Application], error) {
	return paginate[models.Application](e.conn(ctx).Model(&models.Application{}), params, applicationList)
}

// CountOpen returns the number of pending and under-review applications
func (e *ApplicationEngine) CountOpen(ctx context.Context) (int64, error) {
	var n int64
	err := e.conn(ctx).Model(&models.Application{}).Where("status IN ?", openApplicationStatuses).Count(&n).Error
	return n, translate(err, "application", "")
}

// Review moves a pending application under review
func (e *ApplicationEngine) Review(ctx context.Context, actor Actor, id string) (*models.Application, error) {
	return e.transition(ctx, actor, id, AuditUpdate, func(a *models.Application) (map[string]interface{}, error) {
		if a.Status != models.ApplicationPending {
			return nil, conflict("application", "only pending applications can be reviewed")
		}
		return map[string]interface{}{
			"status":      models.ApplicationUnderReview,
			"reviewed_by": actor.ID,
			"reviewed_at": e.now(),
		}, nil
	})
}

// Reject closes an open application with a reason
func (e *ApplicationEngine) Reject(ctx context.Context, actor Actor, id, reason string) (*models.Application, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validation("reason", "a rejection reason is required")
	}
	return e.transition(ctx, actor, id, AuditReject, func(a *models.Application) (map[string]interface{}, error) {
		if !a.Open() {
			return nil, conflict("application", "application is already "+a.Status)
		}
		return map[string]interface{}{
			"status":           models.ApplicationRejected,
			"reviewed_by":      actor.ID,
			"reviewed_at":      e.now(),
			"rejection_reason": reason,
		}, nil
	})
}

// Cancel withdraws an open application
func (e *ApplicationEngine) Cancel(ctx context.Context, actor Actor, id string) (*models.Application, error) {
	return e.transition(ctx, actor, id, AuditUpdate, func(a *models.Application) (map[string]interface{}, error) {
		if !a.Open() {
			return nil, conflict("application", "application is already "+a.Status)
		}
		return map[string]interface{}{"status": models.ApplicationCancelled}, nil
	})
}

func (e *ApplicationEngine) transition(ctx context.Context, actor Actor, id, action string, next func(*models.Application) (map[string]interface{}, error)) (*models.Application, error) {
	var app models.Application
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&app, "id = ?", id).Error; err != nil {
			return err
		}
		oldStatus := app.Status
		updates, err := next(&app)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Application{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		e.audit.Record(tx, actor, "applications", id, action, map[string]interface{}{"status": oldStatus}, updates)
		return tx.First(&app, "id = ?", id).Error
	})
	if err != nil {
		return nil, translate(err, "application", id)
	}

	e.logger.Info("application status changed", zap.String("application_id", id), zap.String("status", app.Status))
	return &app, nil
}

// Approve turns an open application into a tenant with a lease on the given
// apartment. The application, tenant, lease, apartment and building writes
// share one transaction; any failure leaves every row unchanged.
func (e *ApplicationEngine) Approve(ctx context.Context, actor Actor, id string, in ApproveInput) (*Approval, error) {
	if err := in.LeaseTerms.normalize(); err != nil {
		return nil, err
	}

	out := &Approval{}
	var log pointLog
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var app models.Application
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&app, "id = ?", id).Error; err != nil {
			return err
		}
		if !app.Open() {
			return conflict("application", "application is already "+app.Status)
		}

		apartmentID := in.ApartmentID
		if apartmentID == "" && app.DesiredApartmentID != nil {
			apartmentID = *app.DesiredApartmentID
		}
		if apartmentID == "" {
			return validation("apartment_id", "an apartment is required")
		}
		apt, err := lockLeasableApartment(tx, apartmentID, in.BuildingID)
		if err != nil {
			return err
		}
		now := e.now()

		// 1. application
		if err := tx.Model(&models.Application{}).Where("id = ?", app.ID).Updates(map[string]interface{}{
			"status":      models.ApplicationApproved,
			"reviewed_by": actor.ID,
			"reviewed_at": now,
		}).Error; err != nil {
			return err
		}

		// 2. tenant
		tenant := &models.Tenant{
			Email:         app.Email,
			PasswordHash:  app.PasswordHash,
			FirstName:     app.FirstName,
			LastName:      app.LastName,
			Phone:         app.Phone,
			BirthDate:     app.BirthDate,
			Profession:    app.Profession,
			MonthlyIncome: app.MonthlyIncome,
			BuildingID:    &apt.BuildingID,
			ApartmentID:   &apt.ID,
			ApplicationID: &app.ID,
			Status:        models.TenantActive,
			MoveInDate:    timePtr(in.StartDate),
		}
		if err := insertTenant(tx, now, tenant); err != nil {
			return err
		}

		// 3. lease
		lease, err := insertLease(tx, now, tenant.ID, apt, in.LeaseTerms)
		if err != nil {
			return err
		}

		// 4. apartment
		if err := occupyApartment(tx, apt, tenant.ID); err != nil {
			return err
		}

		// 5. building
		if err := adjustOccupancy(tx, apt.BuildingID, 1); err != nil {
			return err
		}

		if err := tx.Model(&models.Tenant{}).Where("id = ?", tenant.ID).Update("lease_id", lease.ID).Error; err != nil {
			return err
		}
		tenant.LeaseID = &lease.ID
		if err := tx.Model(&models.Application{}).Where("id = ?", app.ID).Updates(map[string]interface{}{
			"tenant_id": tenant.ID,
			"lease_id":  lease.ID,
		}).Error; err != nil {
			return err
		}
		if _, err := e.leases.loyalty.award(tx, &log, actor, tenant.ID, loyalty.EventLeaseSigned, loyalty.Points(loyalty.EventLeaseSigned), nil, "Lease "+lease.ID+" signed"); err != nil {
			return err
		}

		e.audit.Record(tx, actor, "applications", app.ID, AuditApprove,
			map[string]interface{}{"status": app.Status},
			map[string]interface{}{"status": models.ApplicationApproved, "tenant_id": tenant.ID, "lease_id": lease.ID, "apartment_id": apt.ID})

		if err := tx.First(&app, "id = ?", app.ID).Error; err != nil {
			return err
		}
		out.Application = &app
		out.Tenant = tenant
		out.Lease = lease
		return nil
	})
	if err != nil {
		return nil, translate(err, "application", id)
	}

	e.observer.ApplicationApproved()
	e.leases.loyalty.flush(log)
	e.logger.Info("application approved",
		zap.String("application_id", id),
		zap.String("tenant_id", out.Tenant.ID),
		zap.String("lease_id", out.Lease.ID),
		zap.String("apartment_id", out.Lease.ApartmentID))
	return out, nil
}
