package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aethra/domus/internal/models"
	"github.com/aethra/domus/internal/storage"
	"github.com/aethra/domus/internal/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	ctx   = context.Background()
	staff = Actor{ID: "ADM-001", Type: ActorAdmin, Role: models.RoleAdmin}
)

type published struct {
	recipient string
	event     string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(recipientID, event string, _ interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{recipientID, event})
}

type fixture struct {
	*Engines
	db    *gorm.DB
	clock *testutil.Clock
	store *storage.MemoryStore
	pub   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	clock := &testutil.Clock{T: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	testutil.Freeze(db, clock)
	store := storage.NewMemoryStore()
	pub := &recordingPublisher{}
	engines := New(db, Options{Store: store, Publisher: pub, Now: clock.Now})
	return &fixture{Engines: engines, db: db, clock: clock, store: store, pub: pub}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (f *fixture) building(t *testing.T, name string) *models.Building {
	t.Helper()
	b, err := f.Buildings.Create(ctx, staff, BuildingInput{Name: name, Address: "1 rue " + name, City: "Lyon", Floors: 3})
	require.NoError(t, err)
	return b
}

func (f *fixture) apartment(t *testing.T, buildingID, number string, rent float64) *models.Apartment {
	t.Helper()
	a, err := f.Apartments.Create(ctx, staff, ApartmentInput{
		BuildingID: buildingID,
		Number:     number,
		Type:       "t2",
		Surface:    45,
		Rent:       rent,
		Charges:    50,
		Deposit:    rent,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) tenant(t *testing.T, email string) *models.Tenant {
	t.Helper()
	tn, err := f.Tenants.Create(ctx, staff, TenantInput{Email: email, Password: "secret-pass", FirstName: "Jean", LastName: "Dupont"})
	require.NoError(t, err)
	return tn
}

func (f *fixture) lease(t *testing.T, tenantID, apartmentID string, start, end time.Time) *models.Lease {
	t.Helper()
	l, err := f.Leases.Create(ctx, staff, LeaseInput{
		TenantID:    tenantID,
		ApartmentID: apartmentID,
		LeaseTerms: LeaseTerms{
			StartDate:   start,
			EndDate:     end,
			MonthlyRent: 800,
			Charges:     50,
			Deposit:     800,
			PaymentDay:  5,
		},
	})
	require.NoError(t, err)
	return l
}

func (f *fixture) admin(t *testing.T, email string) *models.Admin {
	t.Helper()
	a, err := f.Admins.Create(ctx, SystemActor(), AdminInput{
		Email: email, Password: "secret-pass", FirstName: "Anne", LastName: "Admin", Role: models.RoleAdmin,
	})
	require.NoError(t, err)
	return a
}

// housed creates a building, an apartment and a tenant leasing it from the
// current day until the end of the year
func (f *fixture) housed(t *testing.T, email string) (*models.Tenant, *models.Lease) {
	t.Helper()
	b := f.building(t, "Tilleuls "+email)
	a := f.apartment(t, b.ID, "A1", 800)
	tn := f.tenant(t, email)
	return tn, f.lease(t, tn.ID, a.ID, date(2026, 3, 1), date(2026, 12, 31))
}

func (f *fixture) reload(t *testing.T, dest interface{}, id string) {
	t.Helper()
	require.NoError(t, f.db.First(dest, "id = ?", id).Error)
}

func tenantActor(id string) Actor {
	return Actor{ID: id, Type: ActorTenant, Role: models.RoleTenant}
}
