// Package engine implements the property-management operations: one engine
// per aggregate, all sharing a gorm handle. Multi-row workflows run inside a
// single transaction.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Actor types
const (
	ActorAdmin  = "admin"
	ActorTenant = "tenant"
	ActorSystem = "system"
)

// Actor identifies who performs an operation
type Actor struct {
	ID   string
	Type string
	Role string
	IP   string
}

// SystemActor is used by scheduled sweeps and CLI commands
func SystemActor() Actor {
	return Actor{ID: "system", Type: ActorSystem}
}

// Settings reads runtime business settings
type Settings interface {
	Get(key string) string
	GetInt(key string, def int) int
}

// ObjectStore keeps document contents
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
}

// Publisher pushes an event to the connected clients of one account
type Publisher interface {
	Publish(recipientID, event string, payload interface{})
}

// Observer receives business events for metrics
type Observer interface {
	ApplicationApproved()
	PaymentPaid(timeliness string, amount float64)
	PointsAwarded(event string, points int)
}

// Options carries the collaborators of the engines. Zero values fall back to
// no-op implementations.
type Options struct {
	Logger    *zap.Logger
	Settings  Settings
	Store     ObjectStore
	Publisher Publisher
	Observer  Observer
	Now       func() time.Time
}

// Engines groups every engine
type Engines struct {
	Admins        *AdminEngine
	Buildings     *BuildingEngine
	Apartments    *ApartmentEngine
	Tenants       *TenantEngine
	Leases        *LeaseEngine
	Applications  *ApplicationEngine
	Payments      *PaymentEngine
	Loyalty       *LoyaltyEngine
	Incidents     *IncidentEngine
	Messaging     *MessagingEngine
	Documents     *DocumentEngine
	Notifications *NotificationEngine
	Dashboard     *DashboardEngine
	Audit         *AuditEngine
	Import        *Importer
}

// New wires every engine on top of db
func New(db *gorm.DB, opts Options) *Engines {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Settings == nil {
		opts.Settings = staticSettings{}
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	clock := opts.Now
	b := base{db: db, logger: opts.Logger, observer: opts.Observer, now: func() time.Time { return clock().UTC() }}
	audit := &AuditEngine{base: b.named("audit")}
	loyalty := &LoyaltyEngine{base: b.named("loyalty"), audit: audit}
	buildings := &BuildingEngine{base: b.named("buildings"), audit: audit}
	leases := &LeaseEngine{base: b.named("leases"), audit: audit, loyalty: loyalty}
	apartments := &ApartmentEngine{base: b.named("apartments"), audit: audit}
	payments := &PaymentEngine{base: b.named("payments"), audit: audit, loyalty: loyalty, settings: opts.Settings}

	return &Engines{
		Admins:        &AdminEngine{base: b.named("admins"), audit: audit},
		Buildings:     buildings,
		Apartments:    apartments,
		Tenants:       &TenantEngine{base: b.named("tenants"), audit: audit},
		Leases:        leases,
		Applications:  &ApplicationEngine{base: b.named("applications"), audit: audit, leases: leases},
		Payments:      payments,
		Loyalty:       loyalty,
		Incidents:     &IncidentEngine{base: b.named("incidents"), audit: audit, loyalty: loyalty},
		Messaging:     &MessagingEngine{base: b.named("messaging"), publisher: opts.Publisher, settings: opts.Settings},
		Documents:     &DocumentEngine{base: b.named("documents"), audit: audit, store: opts.Store},
		Notifications: &NotificationEngine{base: b.named("notifications"), settings: opts.Settings},
		Dashboard:     &DashboardEngine{base: b.named("dashboard"), payments: payments, loyalty: loyalty},
		Audit:         audit,
		Import:        &Importer{base: b.named("import"), buildings: buildings, apartments: apartments, audit: audit},
	}
}

type base struct {
	db       *gorm.DB
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

func (b base) named(name string) base {
	b.logger = b.logger.Named(name)
	return b
}

func (b base) conn(ctx context.Context) *gorm.DB {
	return b.db.WithContext(ctx)
}

type staticSettings struct{}

func (staticSettings) Get(string) string            { return "" }
func (staticSettings) GetInt(_ string, def int) int { return def }

type nopObserver struct{}

func (nopObserver) ApplicationApproved()        {}
func (nopObserver) PaymentPaid(string, float64) {}
func (nopObserver) PointsAwarded(string, int)   {}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, interface{}) {}

// civilDate keeps the calendar date of t at midnight UTC
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
