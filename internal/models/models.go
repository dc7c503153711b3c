// Package models contains the persistent records of the property portfolio:
// buildings, apartments, tenants and everything attached to them.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// Admin roles
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleTenant  = "tenant"
)

// Admin is a back-office account
type Admin struct {
	ID           string     `json:"id" gorm:"primaryKey;size:20"`
	Email        string     `json:"email" gorm:"uniqueIndex;not null;size:255"`
	PasswordHash string     `json:"-" gorm:"size:255"`
	FirstName    string     `json:"first_name" gorm:"size:100"`
	LastName     string     `json:"last_name" gorm:"size:100"`
	Phone        string     `json:"phone" gorm:"size:50"`
	Role         string     `json:"role" gorm:"size:20;not null"`
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// FullName returns "First Last"
func (a Admin) FullName() string {
	return joinName(a.FirstName, a.LastName)
}

// Tenant statuses
const (
	TenantPending  = "pending"
	TenantActive   = "active"
	TenantFormer   = "former"
	TenantInactive = "inactive"
)

// Tenant is a renter account. Building, apartment and lease are set while the
// tenant occupies an apartment.
type Tenant struct {
	ID                    string     `json:"id" gorm:"primaryKey;size:20"`
	Email                 string     `json:"email" gorm:"uniqueIndex;not null;size:255"`
	PasswordHash          string     `json:"-" gorm:"size:255"`
	FirstName             string     `json:"first_name" gorm:"size:100"`
	LastName              string     `json:"last_name" gorm:"size:100"`
	Phone                 string     `json:"phone" gorm:"size:50"`
	BirthDate             *time.Time `json:"birth_date" gorm:"type:date"`
	Profession            string     `json:"profession" gorm:"size:100"`
	MonthlyIncome         float64    `json:"monthly_income" gorm:"type:numeric(12,2)"`
	EmergencyContactName  string     `json:"emergency_contact_name" gorm:"size:200"`
	EmergencyContactPhone string     `json:"emergency_contact_phone" gorm:"size:50"`
	BuildingID            *string    `json:"building_id" gorm:"size:20;index"`
	ApartmentID           *string    `json:"apartment_id" gorm:"size:20;index"`
	LeaseID               *string    `json:"lease_id" gorm:"size:20"`
	ApplicationID         *string    `json:"application_id" gorm:"size:20"`
	Status                string     `json:"status" gorm:"size:20;not null;index"`
	MoveInDate            *time.Time `json:"move_in_date" gorm:"type:date"`
	LastLoginAt           *time.Time `json:"last_login_at"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// FullName returns "First Last"
func (t Tenant) FullName() string {
	return joinName(t.FirstName, t.LastName)
}

// =============================================================================
// PORTFOLIO
// =============================================================================

// Building is a managed property
type Building struct {
	ID            string    `json:"id" gorm:"primaryKey;size:20"`
	Name          string    `json:"name" gorm:"not null;size:200"`
	Address       string    `json:"address" gorm:"size:255"`
	City          string    `json:"city" gorm:"size:100;index"`
	PostalCode    string    `json:"postal_code" gorm:"size:20"`
	Floors        int       `json:"floors"`
	TotalUnits    int       `json:"total_units"`
	OccupiedUnits int       `json:"occupied_units"`
	YearBuilt     int       `json:"year_built"`
	ManagerID     *string   `json:"manager_id" gorm:"size:20"`
	Description   string    `json:"description"`
	ImageURL      string    `json:"image_url" gorm:"size:500"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OccupancyRate returns occupied/total units as a percentage
func (b Building) OccupancyRate() float64 {
	if b.TotalUnits == 0 {
		return 0
	}
	return float64(b.OccupiedUnits) * 100 / float64(b.TotalUnits)
}

// Apartment statuses
const (
	ApartmentVacant      = "vacant"
	ApartmentOccupied    = "occupied"
	ApartmentMaintenance = "maintenance"
	ApartmentReserved    = "reserved"
)

// ApartmentTypes lists the accepted apartment layouts
var ApartmentTypes = []string{"studio", "t1", "t2", "t3", "t4", "t5"}

// Apartment is a rentable unit of a building. TenantID is non-nil exactly
// when Status is occupied.
type Apartment struct {
	ID          string      `json:"id" gorm:"primaryKey;size:20"`
	BuildingID  string      `json:"building_id" gorm:"size:20;not null;index;uniqueIndex:idx_apartment_number"`
	Number      string      `json:"number" gorm:"size:20;not null;uniqueIndex:idx_apartment_number"`
	Floor       int         `json:"floor"`
	Type        string      `json:"type" gorm:"size:20"`
	Surface     float64     `json:"surface" gorm:"type:numeric(8,2)"`
	Rooms       int         `json:"rooms"`
	Bedrooms    int         `json:"bedrooms"`
	Bathrooms   int         `json:"bathrooms"`
	Rent        float64     `json:"rent" gorm:"type:numeric(12,2)"`
	Charges     float64     `json:"charges" gorm:"type:numeric(12,2)"`
	Deposit     float64     `json:"deposit" gorm:"type:numeric(12,2)"`
	Status      string      `json:"status" gorm:"size:20;not null;index"`
	TenantID    *string     `json:"tenant_id" gorm:"size:20;index"`
	Features    StringArray `json:"features" gorm:"type:jsonb"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// =============================================================================
// LEASING
// =============================================================================

// Lease statuses
const (
	LeaseActive     = "active"
	LeaseExpired    = "expired"
	LeaseTerminated = "terminated"
	LeasePending    = "pending"
)

// Lease links a tenant to an apartment for a period
type Lease struct {
	ID                string     `json:"id" gorm:"primaryKey;size:20"`
	TenantID          string     `json:"tenant_id" gorm:"size:20;not null;index"`
	ApartmentID       string     `json:"apartment_id" gorm:"size:20;not null;index"`
	BuildingID        string     `json:"building_id" gorm:"size:20;not null;index"`
	StartDate         time.Time  `json:"start_date" gorm:"type:date;not null"`
	EndDate           time.Time  `json:"end_date" gorm:"type:date;not null"`
	MonthlyRent       float64    `json:"monthly_rent" gorm:"type:numeric(12,2)"`
	Charges           float64    `json:"charges" gorm:"type:numeric(12,2)"`
	Deposit           float64    `json:"deposit" gorm:"type:numeric(12,2)"`
	PaymentDay        int        `json:"payment_day"`
	Status            string     `json:"status" gorm:"size:20;not null;index"`
	SignedAt          *time.Time `json:"signed_at"`
	TerminatedAt      *time.Time `json:"terminated_at"`
	TerminationReason string     `json:"termination_reason"`
	Notes             string     `json:"notes"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Application statuses
const (
	ApplicationPending     = "pending"
	ApplicationUnderReview = "under_review"
	ApplicationApproved    = "approved"
	ApplicationRejected    = "rejected"
	ApplicationCancelled   = "cancelled"
)

// Application is a pre-registration request from a prospective tenant
type Application struct {
	ID                 string     `json:"id" gorm:"primaryKey;size:20"`
	FirstName          string     `json:"first_name" gorm:"size:100;not null"`
	LastName           string     `json:"last_name" gorm:"size:100;not null"`
	Email              string     `json:"email" gorm:"size:255;not null;index"`
	Phone              string     `json:"phone" gorm:"size:50"`
	BirthDate          *time.Time `json:"birth_date" gorm:"type:date"`
	Profession         string     `json:"profession" gorm:"size:100"`
	MonthlyIncome      float64    `json:"monthly_income" gorm:"type:numeric(12,2)"`
	HouseholdSize      int        `json:"household_size"`
	HasPets            bool       `json:"has_pets"`
	DesiredBuildingID  *string    `json:"desired_building_id" gorm:"size:20"`
	DesiredApartmentID *string    `json:"desired_apartment_id" gorm:"size:20"`
	DesiredMoveIn      *time.Time `json:"desired_move_in" gorm:"type:date"`
	Message            string     `json:"message"`
	PasswordHash       string     `json:"-" gorm:"size:255"`
	Status             string     `json:"status" gorm:"size:20;not null;index"`
	ReviewedBy         *string    `json:"reviewed_by" gorm:"size:20"`
	ReviewedAt         *time.Time `json:"reviewed_at"`
	RejectionReason    string     `json:"rejection_reason"`
	TenantID           *string    `json:"tenant_id" gorm:"size:20"`
	LeaseID            *string    `json:"lease_id" gorm:"size:20"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Open reports whether the application can still be approved or rejected
func (a Application) Open() bool {
	return a.Status == ApplicationPending || a.Status == ApplicationUnderReview
}

// =============================================================================
// PAYMENTS & LOYALTY
// =============================================================================

// Payment statuses
const (
	PaymentPending   = "pending"
	PaymentPaid      = "paid"
	PaymentOverdue   = "overdue"
	PaymentCancelled = "cancelled"
)

// PaymentTypes lists the accepted payment types
var PaymentTypes = []string{"rent", "charges", "deposit", "fee", "other"}

// Payment is an amount owed or paid by a tenant
type Payment struct {
	ID            string     `json:"id" gorm:"primaryKey;size:20"`
	TenantID      string     `json:"tenant_id" gorm:"size:20;not null;index"`
	LeaseID       *string    `json:"lease_id" gorm:"size:20;index"`
	Amount        float64    `json:"amount" gorm:"type:numeric(12,2);not null"`
	Type          string     `json:"type" gorm:"size:20;not null"`
	Method        string     `json:"method" gorm:"size:30"`
	Period        string     `json:"period" gorm:"size:7;index"`
	DueDate       time.Time  `json:"due_date" gorm:"type:date;not null;index"`
	PaidAt        *time.Time `json:"paid_at"`
	Status        string     `json:"status" gorm:"size:20;not null;index"`
	Timeliness    string     `json:"timeliness,omitempty" gorm:"size:20"`
	PointsAwarded int        `json:"points_awarded"`
	Reference     string     `json:"reference" gorm:"size:100"`
	Notes         string     `json:"notes"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// LoyaltyProfile holds the running point total of a tenant
type LoyaltyProfile struct {
	TenantID     string    `json:"tenant_id" gorm:"primaryKey;size:20"`
	TotalPoints  int       `json:"total_points"`
	Tier         string    `json:"tier" gorm:"size:20;not null"`
	OnTimeStreak int       `json:"on_time_streak"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LoyaltyTransaction is one signed change of a loyalty profile
type LoyaltyTransaction struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID    string    `json:"tenant_id" gorm:"size:20;not null;index"`
	Points      int       `json:"points"`
	Event       string    `json:"event" gorm:"size:30;not null"`
	PaymentID   *string   `json:"payment_id" gorm:"size:20"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by" gorm:"size:20"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
}

// BeforeCreate assigns the identifier
func (l *LoyaltyTransaction) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Incident statuses
const (
	IncidentOpen       = "open"
	IncidentInProgress = "in_progress"
	IncidentResolved   = "resolved"
	IncidentClosed     = "closed"
	IncidentCancelled  = "cancelled"
)

// Incident priorities, lowest first
var IncidentPriorities = []string{"low", "medium", "high", "urgent"}

// Incident is a maintenance issue reported on a building or apartment
type Incident struct {
	ID           string      `json:"id" gorm:"primaryKey;size:20"`
	BuildingID   string      `json:"building_id" gorm:"size:20;not null;index"`
	ApartmentID  *string     `json:"apartment_id" gorm:"size:20;index"`
	ReporterID   string      `json:"reporter_id" gorm:"size:20;not null;index"`
	ReporterType string      `json:"reporter_type" gorm:"size:10;not null"`
	Title        string      `json:"title" gorm:"size:200;not null"`
	Description  string      `json:"description"`
	Category     string      `json:"category" gorm:"size:50"`
	Priority     string      `json:"priority" gorm:"size:10;not null"`
	Status       string      `json:"status" gorm:"size:20;not null;index"`
	AssignedTo   *string     `json:"assigned_to" gorm:"size:20"`
	Resolution   string      `json:"resolution"`
	ResolvedAt   *time.Time  `json:"resolved_at"`
	Photos       StringArray `json:"photos" gorm:"type:jsonb"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Conversation statuses
const (
	ConversationOpen     = "open"
	ConversationArchived = "archived"
)

// Conversation is the message thread between one tenant and one admin
type Conversation struct {
	ID                 string     `json:"id" gorm:"primaryKey;size:20"`
	TenantID           string     `json:"tenant_id" gorm:"size:20;not null;uniqueIndex:idx_conversation_pair"`
	AdminID            string     `json:"admin_id" gorm:"size:20;not null;uniqueIndex:idx_conversation_pair"`
	Subject            string     `json:"subject" gorm:"size:200"`
	Status             string     `json:"status" gorm:"size:20;not null"`
	LastMessageAt      *time.Time `json:"last_message_at" gorm:"index"`
	LastMessagePreview string     `json:"last_message_preview" gorm:"size:200"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Message is one entry of a conversation
type Message struct {
	ID             uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	ConversationID string     `json:"conversation_id" gorm:"size:20;not null;index"`
	SenderID       string     `json:"sender_id" gorm:"size:20;not null"`
	SenderType     string     `json:"sender_type" gorm:"size:10;not null"`
	Body           string     `json:"body" gorm:"not null"`
	ReadAt         *time.Time `json:"read_at"`
	CreatedAt      time.Time  `json:"created_at" gorm:"index"`
}

// BeforeCreate assigns the identifier
func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// DocumentCategories lists the accepted document categories
var DocumentCategories = []string{"lease", "receipt", "inventory", "insurance", "identity", "notice", "other"}

// Document is the metadata of a file kept in blob storage
type Document struct {
	ID              string    `json:"id" gorm:"primaryKey;size:20"`
	TenantID        *string   `json:"tenant_id" gorm:"size:20;index"`
	LeaseID         *string   `json:"lease_id" gorm:"size:20"`
	BuildingID      *string   `json:"building_id" gorm:"size:20"`
	Category        string    `json:"category" gorm:"size:20;not null"`
	Name            string    `json:"name" gorm:"size:200;not null"`
	FileName        string    `json:"file_name" gorm:"size:255"`
	ContentType     string    `json:"content_type" gorm:"size:100"`
	Size            int64     `json:"size"`
	StorageKey      string    `json:"-" gorm:"size:300;not null"`
	UploadedBy      string    `json:"uploaded_by" gorm:"size:20"`
	UploadedByType  string    `json:"uploaded_by_type" gorm:"size:10"`
	VisibleToTenant bool      `json:"visible_to_tenant"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// =============================================================================
// SYSTEM
// =============================================================================

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ActorID   string    `json:"actor_id" gorm:"size:20;index"`
	ActorType string    `json:"actor_type" gorm:"size:10"`
	Entity    string    `json:"entity" gorm:"size:50;index"`
	RecordID  string    `json:"record_id" gorm:"size:20;index"`
	Action    string    `json:"action" gorm:"not null;size:30"`
	OldValues JSONB     `json:"old_values" gorm:"type:jsonb"`
	NewValues JSONB     `json:"new_values" gorm:"type:jsonb"`
	IPAddress string    `json:"ip_address" gorm:"size:45"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// BeforeCreate assigns the identifier
func (a *AuditLog) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// SystemConfig stores a runtime setting
type SystemConfig struct {
	Key         string    `json:"key" gorm:"primaryKey;size:100"`
	Value       string    `json:"value"`
	Category    string    `json:"category" gorm:"size:50;index"`
	Description string    `json:"description"`
	IsSecret    bool      `json:"is_secret"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (SystemConfig) TableName() string {
	return "system_config"
}

// All returns every persistent model, in dependency order
func All() []interface{} {
	return []interface{}{
		&Admin{},
		&Building{},
		&Apartment{},
		&Tenant{},
		&Application{},
		&Lease{},
		&Payment{},
		&LoyaltyProfile{},
		&LoyaltyTransaction{},
		&Incident{},
		&Conversation{},
		&Message{},
		&Document{},
		&AuditLog{},
		&SystemConfig{},
	}
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + " " + last
}
