package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/aethra/domus/internal/config"
	"github.com/aethra/domus/internal/engine"
	"github.com/aethra/domus/internal/models"
	"github.com/aethra/domus/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var staff = engine.Actor{ID: "ADM-001", Type: engine.ActorAdmin, Role: models.RoleAdmin}

type env struct {
	engines *engine.Engines
	db      *gorm.DB
	clock   *testutil.Clock
	sched   *Scheduler
}

func newEnv(t *testing.T, cfg config.SchedulerConfig) *env {
	t.Helper()
	db := testutil.NewDB(t)
	clock := &testutil.Clock{T: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	testutil.Freeze(db, clock)
	engines := engine.New(db, engine.Options{Now: clock.Now})
	s := New(engines, cfg, zap.NewNop())
	s.now = clock.Now
	return &env{engines: engines, db: db, clock: clock, sched: s}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// lease houses a new tenant in a new apartment of building b
func (e *env) lease(t *testing.T, b *models.Building, number, email string, start, end time.Time) *models.Lease {
	t.Helper()
	ctx := context.Background()
	a, err := e.engines.Apartments.Create(ctx, staff, engine.ApartmentInput{BuildingID: b.ID, Number: number, Rent: 800, Charges: 50})
	require.NoError(t, err)
	tn, err := e.engines.Tenants.Create(ctx, staff, engine.TenantInput{Email: email, Password: "secret-pass", FirstName: "Jean", LastName: "Dupont"})
	require.NoError(t, err)
	l, err := e.engines.Leases.Create(ctx, staff, engine.LeaseInput{
		TenantID:    tn.ID,
		ApartmentID: a.ID,
		LeaseTerms: engine.LeaseTerms{
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

func (e *env) building(t *testing.T) *models.Building {
	t.Helper()
	b, err := e.engines.Buildings.Create(context.Background(), staff, engine.BuildingInput{Name: "Les Pins", Address: "1 rue des Pins"})
	require.NoError(t, err)
	return b
}

func TestRunOnceUnknownJob(t *testing.T) {
	e := newEnv(t, config.SchedulerConfig{})
	assert.Error(t, e.sched.RunOnce(context.Background(), "compact"))
	assert.Equal(t, []string{JobLeases, JobOverdue, JobRent}, Jobs())
}

func TestRunOnceOverdue(t *testing.T) {
	e := newEnv(t, config.SchedulerConfig{})
	ctx := context.Background()
	l := e.lease(t, e.building(t), "A1", "jean@example.com", day(2026, 3, 1), day(2026, 12, 31))
	p, err := e.engines.Payments.Create(ctx, staff, engine.PaymentInput{TenantID: l.TenantID, LeaseID: l.ID, Amount: 850, DueDate: day(2026, 3, 5)})
	require.NoError(t, err)

	require.NoError(t, e.sched.RunOnce(ctx, JobOverdue))
	got, err := e.engines.Payments.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, got.Status)

	e.clock.T = day(2026, 3, 6).Add(time.Hour)
	require.NoError(t, e.sched.RunOnce(ctx, JobOverdue))
	got, err = e.engines.Payments.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentOverdue, got.Status)
}

func TestRunOnceLeases(t *testing.T) {
	e := newEnv(t, config.SchedulerConfig{})
	ctx := context.Background()
	b := e.building(t)
	ending := e.lease(t, b, "A1", "jean@example.com", day(2026, 3, 1), day(2026, 12, 31))
	upcoming := e.lease(t, b, "A2", "marie@example.com", day(2026, 4, 1), day(2027, 3, 31))
	require.Equal(t, models.LeasePending, upcoming.Status)

	e.clock.T = day(2027, 1, 2).Add(time.Hour)
	require.NoError(t, e.sched.RunOnce(ctx, JobLeases))

	got, err := e.engines.Leases.Get(ctx, ending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseExpired, got.Status)
	got, err = e.engines.Leases.Get(ctx, upcoming.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseActive, got.Status)
}

func TestRunOnceRentUsesLeadTime(t *testing.T) {
	e := newEnv(t, config.SchedulerConfig{RentLeadDays: 10})
	ctx := context.Background()
	l := e.lease(t, e.building(t), "A1", "jean@example.com", day(2026, 3, 1), day(2026, 12, 31))

	e.clock.T = day(2026, 3, 25).Add(time.Hour)
	require.NoError(t, e.sched.RunOnce(ctx, JobRent))
	require.NoError(t, e.sched.RunOnce(ctx, JobRent))

	var payments []models.Payment
	require.NoError(t, e.db.Where("lease_id = ?", l.ID).Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, "2026-04", payments[0].Period)
	assert.Equal(t, "rent", payments[0].Type)
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	e := newEnv(t, config.SchedulerConfig{OverdueSpec: "every morning"})
	assert.Error(t, e.sched.Start())
}

func TestStartStop(t *testing.T) {
	e := newEnv(t, config.SchedulerConfig{OverdueSpec: "0 0 * * * *", LeaseSpec: "0 5 0 * * *"})
	require.NoError(t, e.sched.Start())
	require.NoError(t, e.sched.Start(), "starting twice is a no-op")
	assert.Len(t, e.sched.cron.Entries(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e.sched.Stop(ctx)
	assert.False(t, e.sched.started)
}
