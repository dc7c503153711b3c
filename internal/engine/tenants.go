package engine

import (
	"context"
	"strings"
	"time"

	"github.com/aethra/domus/internal/auth"
	"github.com/aethra/domus/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TenantEngine manages renter accounts
type TenantEngine struct {
	base
	audit *AuditEngine
}

// TenantInput creates a tenant from the back office
type TenantInput struct {
	Email                 string     `json:"email"`
	Password              string     `json:"password"`
	FirstName             string     `json:"first_name"`
	LastName              string     `json:"last_name"`
	Phone                 string     `json:"phone"`
	BirthDate             *time.Time `json:"birth_date"`
	Profession            string     `json:"profession"`
	MonthlyIncome         float64    `json:"monthly_income"`
	EmergencyContactName  string     `json:"emergency_contact_name"`
	EmergencyContactPhone string     `json:"emergency_contact_phone"`
}

// TenantPatch is the back-office update of a tenant
type TenantPatch struct {
	FirstName             *string    `json:"first_name"`
	LastName              *string    `json:"last_name"`
	Email                 *string    `json:"email"`
	Phone                 *string    `json:"phone"`
	BirthDate             *time.Time `json:"birth_date"`
	Profession            *string    `json:"profession"`
	MonthlyIncome         *float64   `json:"monthly_income"`
	EmergencyContactName  *string    `json:"emergency_contact_name"`
	EmergencyContactPhone *string    `json:"emergency_contact_phone"`
	Status                *string    `json:"status"`
}

// ProfilePatch is what tenants may change about themselves
type ProfilePatch struct {
	Phone                 *string `json:"phone"`
	Profession            *string `json:"profession"`
	EmergencyContactName  *string `json:"emergency_contact_name"`
	EmergencyContactPhone *string `json:"emergency_contact_phone"`
}

// TenantDetail is a tenant with the records attached to the current lease
type TenantDetail struct {
	models.Tenant
	Building  *models.Building  `json:"building,omitempty"`
	Apartment *models.Apartment `json:"apartment,omitempty"`
	Lease     *models.Lease     `json:"lease,omitempty"`
}

var tenantList = listSpec{
	searchable:   []string{"first_name", "last_name", "email", "phone"},
	filterable:   []string{"status", "building_id", "apartment_id"},
	sortable:     []string{"id", "last_name", "email", "status", "move_in_date", "created_at"},
	defaultOrder: "id ASC",
}

func validTenantStatus(s string) bool {
	switch s {
	case models.TenantPending, models.TenantActive, models.TenantFormer, models.TenantInactive:
		return true
	}
	return false
}

// Create adds a tenant without a lease. The password is optional; without
// one the tenant cannot sign in until it is set.
func (e *TenantEngine) Create(ctx context.Context, actor Actor, in TenantInput) (*models.Tenant, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" {
		return nil, validation("last_name", "first and last name are required")
	}

	t := &models.Tenant{
		Email:                 email,
		FirstName:             strings.TrimSpace(in.FirstName),
		LastName:              strings.TrimSpace(in.LastName),
		Phone:                 in.Phone,
		BirthDate:             in.BirthDate,
		Profession:            in.Profession,
		MonthlyIncome:         in.MonthlyIncome,
		EmergencyContactName:  in.EmergencyContactName,
		EmergencyContactPhone: in.EmergencyContactPhone,
		Status:                models.TenantPending,
	}
	if in.Password != "" {
		if err := checkPassword(in.Password); err != nil {
			return nil, err
		}
		if t.PasswordHash, err = auth.HashPassword(in.Password); err != nil {
			return nil, translate(err, "tenant", "")
		}
	}

	err = e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := insertTenant(tx, e.now(), t); err != nil {
			return err
		}
		e.audit.Record(tx, actor, "tenants", t.ID, AuditCreate, nil, t)
		return nil
	})
	if err != nil {
		return nil, translate(err, "tenant", "")
	}

	e.logger.Info("tenant created", zap.String("tenant_id", t.ID))
	return t, nil
}

// insertTenant checks email uniqueness and inserts t with a fresh id
func insertTenant(tx *gorm.DB, now time.Time, t *models.Tenant) error {
	var n int64
	if err := tx.Model(&models.Tenant{}).Where("email = ?", t.Email).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return conflict("tenant", "a tenant with this email already exists")
	}
	return seqTenant.create(tx, now, &t.ID, t)
}

// Get returns a tenant
func (e *TenantEngine) Get(ctx context.Context, id string) (*models.Tenant, error) {
	var t models.Tenant
	if err := e.conn(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, translate(err, "tenant", id)
	}
	return &t, nil
}

// Detail returns a tenant with building, apartment and lease
func (e *TenantEngine) Detail(ctx context.Context, id string) (*TenantDetail, error) {
	t, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &TenantDetail{Tenant: *t}

	db := e.conn(ctx)
	if t.BuildingID != nil {
		var b models.Building
		if err := db.First(&b, "id = ?", *t.BuildingID).Error; err == nil {
			detail.Building = &b
		}
	}
	if t.ApartmentID != nil {
		var a models.Apartment
		if err := db.First(&a, "id = ?", *t.ApartmentID).Error; err == nil {
			detail.Apartment = &a
		}
	}
	if t.LeaseID != nil {
		var l models.Lease
		if err := db.First(&l, "id = ?", *t.LeaseID).Error; err == nil {
			detail.Lease = &l
		}
	}
	return detail, nil
}

// GetByEmail returns a tenant by email
func (e *TenantEngine) GetByEmail(ctx context.Context, email string) (*models.Tenant, error) {
	var t models.Tenant
	if err := e.conn(ctx).First(&t, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error; err != nil {
		return nil, translate(err, "tenant", "")
	}
	return &t, nil
}

// List returns tenants
func (e *TenantEngine) List(ctx context.Context, params QueryParams) (*QueryResult[models.Tenant], error) {
	return paginate[models.Tenant](e.conn(ctx).Model(&models.Tenant{}), params, tenantList)
}

// Update applies a back-office patch
func (e *TenantEngine) Update(ctx context.Context, actor Actor, id string, patch TenantPatch) (*models.Tenant, error) {
	updates := map[string]interface{}{}
	if patch.Email != nil {
		email, err := normalizeEmail(*patch.Email)
		if err != nil {
			return nil, err
		}
		updates["email"] = email
	}
	if patch.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*patch.FirstName)
	}
	if patch.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*patch.LastName)
	}
	if patch.BirthDate != nil {
		updates["birth_date"] = *patch.BirthDate
	}
	if patch.MonthlyIncome != nil {
		updates["monthly_income"] = *patch.MonthlyIncome
	}
	if patch.Status != nil {
		if !validTenantStatus(*patch.Status) {
			return nil, validation("status", "unknown tenant status")
		}
		updates["status"] = *patch.Status
	}
	profileUpdates(updates, ProfilePatch{
		Phone:                 patch.Phone,
		Profession:            patch.Profession,
		EmergencyContactName:  patch.EmergencyContactName,
		EmergencyContactPhone: patch.EmergencyContactPhone,
	})
	return e.apply(ctx, actor, id, updates)
}

// UpdateProfile applies the self-service changes of a tenant
func (e *TenantEngine) UpdateProfile(ctx context.Context, tenantID string, patch ProfilePatch) (*models.Tenant, error) {
	updates := map[string]interface{}{}
	profileUpdates(updates, patch)
	return e.apply(ctx, Actor{ID: tenantID, Type: ActorTenant}, tenantID, updates)
}

func profileUpdates(updates map[string]interface{}, p ProfilePatch) {
	if p.Phone != nil {
		updates["phone"] = strings.TrimSpace(*p.Phone)
	}
	if p.Profession != nil {
		updates["profession"] = strings.TrimSpace(*p.Profession)
	}
	if p.EmergencyContactName != nil {
		updates["emergency_contact_name"] = strings.TrimSpace(*p.EmergencyContactName)
	}
	if p.EmergencyContactPhone != nil {
		updates["emergency_contact_phone"] = strings.TrimSpace(*p.EmergencyContactPhone)
	}
}

func (e *TenantEngine) apply(ctx context.Context, actor Actor, id string, updates map[string]interface{}) (*models.Tenant, error) {
	var t models.Tenant
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&t, "id = ?", id).Error; err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if email, ok := updates["email"]; ok && email != t.Email {
			var n int64
			if err := tx.Model(&models.Tenant{}).Where("email = ? AND id <> ?", email, id).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return conflict("tenant", "a tenant with this email already exists")
			}
		}
		old := t
		if err := tx.Model(&models.Tenant{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		e.audit.Record(tx, actor, "tenants", id, AuditUpdate, old, updates)
		return tx.First(&t, "id = ?", id).Error
	})
	if err != nil {
		return nil, translate(err, "tenant", id)
	}
	return &t, nil
}

// Deactivate blocks a tenant without a running lease from signing in
func (e *TenantEngine) Deactivate(ctx context.Context, actor Actor, id string) error {
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Tenant
		if err := tx.First(&t, "id = ?", id).Error; err != nil {
			return err
		}
		var running int64
		if err := tx.Model(&models.Lease{}).
			Where("tenant_id = ? AND status IN ?", id, []string{models.LeaseActive, models.LeasePending}).
			Count(&running).Error; err != nil {
			return err
		}
		if running > 0 {
			return conflict("tenant", "terminate the running lease first")
		}
		if err := tx.Model(&models.Tenant{}).Where("id = ?", id).Update("status", models.TenantInactive).Error; err != nil {
			return err
		}
		e.audit.Record(tx, actor, "tenants", id, AuditUpdate, map[string]interface{}{"status": t.Status}, map[string]interface{}{"status": models.TenantInactive})
		return nil
	})
	return translate(err, "tenant", id)
}

// SetPassword replaces the password of a tenant
func (e *TenantEngine) SetPassword(ctx context.Context, id, password string) error {
	if err := checkPassword(password); err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return translate(err, "tenant", id)
	}
	res := e.conn(ctx).Model(&models.Tenant{}).Where("id = ?", id).Update("password_hash", hash)
	if res.Error != nil {
		return translate(res.Error, "tenant", id)
	}
	if res.RowsAffected == 0 {
		return notFound("tenant", id)
	}
	return nil
}

// RecordLogin stamps last_login_at
func (e *TenantEngine) RecordLogin(ctx context.Context, id string) {
	if err := e.conn(ctx).Model(&models.Tenant{}).Where("id = ?", id).Update("last_login_at", e.now()).Error; err != nil {
		e.logger.Warn("failed to record login", zap.String("tenant_id", id), zap.Error(err))
	}
}
