package engine

import (
	"context"
	"net/mail"
	"strings"

	"github.com/aethra/domus/internal/auth"
	"github.com/aethra/domus/internal/models"
	"go.uber.org/zap"
)

// AdminEngine manages back-office accounts
type AdminEngine struct {
	base
	audit *AuditEngine
}

// AdminInput creates an administrator or manager
type AdminInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Role      string `json:"role"`
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", validation("email", "email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", validation("email", "email is invalid")
	}
	return email, nil
}

func checkPassword(password string) error {
	if len(password) < auth.MinPasswordLength {
		return validation("password", "password must be at least 8 characters")
	}
	return nil
}

// Create adds an account. Role defaults to admin.
func (e *AdminEngine) Create(ctx context.Context, actor Actor, in AdminInput) (*models.Admin, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(in.Password); err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = models.RoleAdmin
	}
	if role != models.RoleAdmin && role != models.RoleManager {
		return nil, validation("role", "role must be admin or manager")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, translate(err, "admin", "")
	}

	admin := &models.Admin{
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Phone:        in.Phone,
		Role:         role,
		IsActive:     true,
	}
	db := e.conn(ctx)
	if err := seqAdmin.create(db, e.now(), &admin.ID, admin); err != nil {
		if isDuplicateKey(err) {
			return nil, conflict("admin", "an account with this email already exists")
		}
		return nil, translate(err, "admin", "")
	}
	e.audit.Record(db, actor, "admins", admin.ID, AuditCreate, nil, admin)

	e.logger.Info("admin created", zap.String("admin_id", admin.ID), zap.String("role", role))
	return admin, nil
}

// Get returns an account by id
func (e *AdminEngine) Get(ctx context.Context, id string) (*models.Admin, error) {
	var admin models.Admin
	if err := e.conn(ctx).First(&admin, "id = ?", id).Error; err != nil {
		return nil, translate(err, "admin", id)
	}
	return &admin, nil
}

// GetByEmail returns an account by email
func (e *AdminEngine) GetByEmail(ctx context.Context, email string) (*models.Admin, error) {
	var admin models.Admin
	err := e.conn(ctx).First(&admin, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if err != nil {
		return nil, translate(err, "admin", "")
	}
	return &admin, nil
}

// List returns accounts
func (e *AdminEngine) List(ctx context.Context, params QueryParams) (*QueryResult[models.Admin], error) {
	return paginate[models.Admin](e.conn(ctx).Model(&models.Admin{}), params, listSpec{
		searchable:   []string{"email", "first_name", "last_name"},
		filterable:   []string{"role"},
		sortable:     []string{"id", "email", "last_name", "created_at"},
		defaultOrder: "id ASC",
	})
}

// Count returns the number of accounts
func (e *AdminEngine) Count(ctx context.Context) (int64, error) {
	var n int64
	err := e.conn(ctx).Model(&models.Admin{}).Count(&n).Error
	return n, translate(err, "admin", "")
}

// FirstActive returns the oldest active administrator, the default
// correspondent of tenants starting a conversation
func (e *AdminEngine) FirstActive(ctx context.Context) (*models.Admin, error) {
	var admin models.Admin
	err := e.conn(ctx).
		Where("is_active = ? AND role = ?", true, models.RoleAdmin).
		Order("id ASC").
		First(&admin).Error
	if err != nil {
		return nil, translate(err, "admin", "")
	}
	return &admin, nil
}

// SetActive enables or disables an account
func (e *AdminEngine) SetActive(ctx context.Context, actor Actor, id string, active bool) error {
	if actor.ID == id && !active {
		return validation("id", "you cannot deactivate your own account")
	}
	res := e.conn(ctx).Model(&models.Admin{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return translate(res.Error, "admin", id)
	}
	if res.RowsAffected == 0 {
		return notFound("admin", id)
	}
	e.audit.Record(e.conn(ctx), actor, "admins", id, AuditUpdate, nil, map[string]interface{}{"is_active": active})
	return nil
}

// SetPassword replaces the password hash of an account
func (e *AdminEngine) SetPassword(ctx context.Context, id, password string) error {
	if err := checkPassword(password); err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return translate(err, "admin", id)
	}
	res := e.conn(ctx).Model(&models.Admin{}).Where("id = ?", id).Update("password_hash", hash)
	if res.Error != nil {
		return translate(res.Error, "admin", id)
	}
	if res.RowsAffected == 0 {
		return notFound("admin", id)
	}
	return nil
}

// RecordLogin stamps last_login_at
func (e *AdminEngine) RecordLogin(ctx context.Context, id string) {
	if err := e.conn(ctx).Model(&models.Admin{}).Where("id = ?", id).Update("last_login_at", e.now()).Error; err != nil {
		e.logger.Warn("failed to record login", zap.String("admin_id", id), zap.Error(err))
	}
}
