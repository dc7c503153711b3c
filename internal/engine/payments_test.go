package engine

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/aethra/domus/internal/errors"
	"github.com/aethra/domus/internal/loyalty"
	"github.com/aethra/domus/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func (f *fixture) payment(t *testing.T, tenantID, leaseID string, due time.Time, kind string) *models.Payment {
	t.Helper()
	p, err := f.Payments.Create(ctx, staff, PaymentInput{TenantID: tenantID, LeaseID: leaseID, Amount: 850, Type: kind, DueDate: due})
	require.NoError(t, err)
	return p
}

func paidOn(d time.Time) PayInput {
	at := d.Add(10 * time.Hour)
	return PayInput{PaidAt: &at, Method: "transfer"}
}

func TestPayment_CreateValidates(t *testing.T) {
	f := newFixture(t)
	tn, lease := f.housed(t, "jean@example.com")
	other := f.tenant(t, "marie@example.com")

	_, err := f.Payments.Create(ctx, staff, PaymentInput{TenantID: tn.ID, Amount: 0, DueDate: date(2026, 3, 5)})
	assert.True(t, apperrors.IsValidation(err))
	_, err = f.Payments.Create(ctx, staff, PaymentInput{TenantID: tn.ID, Amount: 10, Type: "gift", DueDate: date(2026, 3, 5)})
	assert.True(t, apperrors.IsValidation(err))
	_, err = f.Payments.Create(ctx, staff, PaymentInput{TenantID: tn.ID, Amount: 10})
	assert.True(t, apperrors.IsValidation(err))
	_, err = f.Payments.Create(ctx, staff, PaymentInput{TenantID: tn.ID, Amount: 10, Period: "2026-3", DueDate: date(2026, 3, 5)})
	assert.True(t, apperrors.IsValidation(err))
	_, err = f.Payments.Create(ctx, staff, PaymentInput{TenantID: "CLT-2026-9999", Amount: 10, DueDate: date(2026, 3, 5)})
	assert.True(t, apperrors.IsNotFound(err))
	_, err = f.Payments.Create(ctx, staff, PaymentInput{TenantID: other.ID, LeaseID: lease.ID, Amount: 10, DueDate: date(2026, 3, 5)})
	assert.True(t, apperrors.IsValidation(err), "lease of another tenant")

	p := f.payment(t, tn.ID, lease.ID, date(2026, 3, 5), "")
	assert.Equal(t, "PAY-2026-0001", p.ID)
	assert.Equal(t, "rent", p.Type)
	assert.Equal(t, "2026-03", p.Period)
	assert.Equal(t, models.PaymentPending, p.Status)
}

func TestPayment_MarkPaidClassifiesAndRewards(t *testing.T) {
	f := newFixture(t)
	tn, lease := f.housed(t, "jean@example.com")

	early := f.payment(t, tn.ID, lease.ID, date(2026, 3, 10), "rent")
	paid, err := f.Payments.MarkPaid(ctx, staff, early.ID, paidOn(date(2026, 3, 3)))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, paid.Status)
	assert.Equal(t, string(loyalty.Early), paid.Timeliness)
	assert.Equal(t, 15, paid.PointsAwarded)
	assert.Equal(t, "transfer", paid.Method)

	onTime := f.payment(t, tn.ID, lease.ID, date(2026, 4, 5), "rent")
	paid, err = f.Payments.MarkPaid(ctx, staff, onTime.ID, paidOn(date(2026, 4, 5)))
	require.NoError(t, err)
	assert.Equal(t, string(loyalty.OnTime), paid.Timeliness)
	assert.Equal(t, 10, paid.PointsAwarded)

	view, err := f.Loyalty.Profile(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, 50+15+10, view.TotalPoints)
	assert.Equal(t, 2, view.OnTimeStreak)

	late := f.payment(t, tn.ID, lease.ID, date(2026, 5, 5), "rent")
	paid, err = f.Payments.MarkPaid(ctx, staff, late.ID, paidOn(date(2026, 5, 9)))
	require.NoError(t, err)
	assert.Equal(t, string(loyalty.Late), paid.Timeliness)
	assert.Zero(t, paid.PointsAwarded)

	view, err = f.Loyalty.Profile(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, 75, view.TotalPoints)
	assert.Zero(t, view.OnTimeStreak, "a late payment resets the streak")

	_, err = f.Payments.MarkPaid(ctx, staff, late.ID, PayInput{})
	assert.True(t, apperrors.IsConflict(err))
}

func TestPayment_NonRentEarnsNothing(t *testing.T) {
	f := newFixture(t)
	tn, lease := f.housed(t, "jean@example.com")

	deposit := f.payment(t, tn.ID, lease.ID, date(2026, 3, 10), "deposit")
	paid, err := f.Payments.MarkPaid(ctx, staff, deposit.ID, paidOn(date(2026, 3, 1)))
	require.NoError(t, err)
	assert.Equal(t, string(loyalty.Early), paid.Timeliness)
	assert.Zero(t, paid.PointsAwarded)

	view, err := f.Loyalty.Profile(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, view.TotalPoints)
	assert.Zero(t, view.OnTimeStreak)
}

func TestPayment_StreakBonus(t *testing.T) {
	f := newFixture(t)
	tn, lease := f.housed(t, "jean@example.com")
	require.NoError(t, f.db.Model(&models.LoyaltyProfile{}).Where("tenant_id = ?", tn.ID).
		Update("on_time_streak", loyalty.StreakBonusEvery-1).Error)

	p := f.payment(t, tn.ID, lease.ID, date(2026, 3, 5), "rent")
	paid, err := f.Payments.MarkPaid(ctx, staff, p.ID, paidOn(date(2026, 3, 5)))
	require.NoError(t, err)
	assert.Equal(t, 10+50, paid.PointsAwarded)

	view, err := f.Loyalty.Profile(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, 50+10+50, view.TotalPoints)
	assert.Equal(t, loyalty.StreakBonusEvery, view.OnTimeStreak)

	history, err := f.Loyalty.History(ctx, tn.ID, QueryParams{})
	require.NoError(t, err)
	events := map[string]int{}
	for _, tx := range history.Data {
		events[tx.Event] += tx.Points
	}
	assert.Equal(t, 50, events[string(loyalty.EventStreakBonus)])
	assert.Equal(t, 10, events[string(loyalty.EventPaymentOnTime)])
}

func TestPayment_CancelAndOverdue(t *testing.T) {
	f := newFixture(t)
	tn, lease := f.housed(t, "jean@example.com")

	past := f.payment(t, tn.ID, lease.ID, date(2026, 2, 20), "rent")
	future := f.payment(t, tn.ID, lease.ID, date(2026, 3, 10), "rent")
	voided := f.payment(t, tn.ID, lease.ID, date(2026, 2, 1), "fee")

	cancelled, err := f.Payments.Cancel(ctx, staff, voided.ID, "billed twice")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCancelled, cancelled.Status)
	assert.Equal(t, "billed twice", cancelled.Notes)
	_, err = f.Payments.MarkPaid(ctx, staff, voided.ID, PayInput{})
	assert.True(t, apperrors.IsConflict(err))

	n, err := f.Payments.MarkOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.Payments.Get(ctx, past.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentOverdue, got.Status)

	summary, err := f.Payments.Summary(ctx, tn.ID)
	require.NoError(t, err)
	assert.InDelta(t, 850.0, summary.TotalOverdue, 0.001)
	assert.EqualValues(t, 1, summary.OverdueCount)
	assert.InDelta(t, 850.0, summary.TotalPending, 0.001)

	// overdue payments can still be settled, late
	paid, err := f.Payments.MarkPaid(ctx, staff, past.ID, PayInput{})
	require.NoError(t, err)
	assert.Equal(t, string(loyalty.Late), paid.Timeliness)

	_, err = f.Payments.Cancel(ctx, staff, past.ID, "")
	assert.True(t, apperrors.IsConflict(err))

	got, err = f.Payments.Get(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, got.Status, "not yet due")
}

func TestPayment_TenantsOnlySeeTheirOwn(t *testing.T) {
	f := newFixture(t)
	tn, lease := f.housed(t, "jean@example.com")
	other, otherLease := f.housed(t, "marie@example.com")
	mine := f.payment(t, tn.ID, lease.ID, date(2026, 3, 5), "rent")
	f.payment(t, other.ID, otherLease.ID, date(2026, 3, 5), "rent")

	_, err := f.Payments.GetForTenant(ctx, other.ID, mine.ID)
	assert.True(t, apperrors.IsNotFound(err))

	list, err := f.Payments.ListForTenant(ctx, tn.ID, QueryParams{})
	require.NoError(t, err)
	require.Len(t, list.Data, 1)
	assert.Equal(t, mine.ID, list.Data[0].ID)
}

func TestPayment_IssueMonthlyRentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	tn, _ := f.housed(t, "jean@example.com")

	// a lease that has ended is not billed
	b := f.building(t, "Les Chênes")
	a := f.apartment(t, b.ID, "B1", 600)
	gone := f.tenant(t, "marie@example.com")
	old := f.lease(t, gone.ID, a.ID, date(2026, 3, 1), date(2026, 12, 31))
	_, err := f.Leases.Terminate(ctx, staff, old.ID, TerminateInput{Reason: "left"})
	require.NoError(t, err)

	n, err := f.Payments.IssueMonthlyRent(ctx, "2026-04")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.Payments.IssueMonthlyRent(ctx, "2026-04")
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := f.Payments.ListForTenant(ctx, tn.ID, QueryParams{})
	require.NoError(t, err)
	require.Len(t, list.Data, 1)
	p := list.Data[0]
	assert.Equal(t, "2026-04", p.Period)
	assert.True(t, p.DueDate.Equal(date(2026, 4, 5)))
	assert.InDelta(t, 850.0, p.Amount, 0.001)

	n, err = f.Payments.IssueMonthlyRent(ctx, "2027-01")
	require.NoError(t, err)
	assert.Zero(t, n, "outside the lease")

	_, err = f.Payments.IssueMonthlyRent(ctx, "2026-13")
	assert.True(t, apperrors.IsValidation(err))
}

func TestLoyalty_AdjustClampsAtZero(t *testing.T) {
	f := newFixture(t)
	tn, _ := f.housed(t, "jean@example.com")

	_, err := f.Loyalty.Adjust(ctx, staff, tn.ID, AdjustInput{Points: 0, Reason: "nothing"})
	assert.True(t, apperrors.IsValidation(err))
	_, err = f.Loyalty.Adjust(ctx, staff, tn.ID, AdjustInput{Points: 10})
	assert.True(t, apperrors.IsValidation(err))
	_, err = f.Loyalty.Adjust(ctx, staff, "CLT-2026-9999", AdjustInput{Points: 10, Reason: "gift"})
	assert.True(t, apperrors.IsNotFound(err))

	p, err := f.Loyalty.Adjust(ctx, staff, tn.ID, AdjustInput{Points: -1000, Reason: "fraud"})
	require.NoError(t, err)
	assert.Zero(t, p.TotalPoints)

	history, err := f.Loyalty.History(ctx, tn.ID, QueryParams{})
	require.NoError(t, err)
	sum := 0
	for _, tx := range history.Data {
		sum += tx.Points
	}
	assert.Equal(t, p.TotalPoints, sum, "history records the applied delta")

	p, err = f.Loyalty.Adjust(ctx, staff, tn.ID, AdjustInput{Points: 850, Reason: "migration"})
	require.NoError(t, err)
	assert.Equal(t, string(loyalty.Gold), p.Tier)

	view, err := f.Loyalty.Profile(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, loyalty.Platinum, view.Progress.NextTier)
	assert.Equal(t, 650, view.Progress.PointsToNext)
}

func TestLoyalty_AwardLeaderboardAndTiers(t *testing.T) {
	f := newFixture(t)
	first, _ := f.housed(t, "jean@example.com")
	second, _ := f.housed(t, "marie@example.com")
	idle := f.tenant(t, "paul@example.com")

	_, err := f.Loyalty.Award(ctx, staff, first.ID, loyalty.EventManualAdjustment, "")
	assert.True(t, apperrors.IsValidation(err))
	_, err = f.Loyalty.Award(ctx, staff, first.ID, loyalty.Event("birthday"), "")
	assert.True(t, apperrors.IsValidation(err))

	p, err := f.Loyalty.Award(ctx, staff, second.ID, loyalty.EventLeaseRenewed, "renewed early")
	require.NoError(t, err)
	assert.Equal(t, 150, p.TotalPoints)

	board, err := f.Loyalty.Leaderboard(ctx, 5)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, second.ID, board[0].TenantID)
	assert.Equal(t, first.ID, board[1].TenantID)

	view, err := f.Loyalty.Profile(ctx, idle.ID)
	require.NoError(t, err)
	assert.Zero(t, view.TotalPoints)
	assert.Equal(t, string(loyalty.Bronze), view.Tier)

	dist, err := f.Loyalty.TierDistribution(ctx)
	require.NoError(t, err)
	assert.Len(t, dist, len(loyalty.Tiers()))
	assert.EqualValues(t, 2, dist[string(loyalty.Bronze)])
	assert.Zero(t, dist[string(loyalty.Diamond)])
}

type pointsObserver struct {
	nopObserver
	awarded map[string]int
}

func (o *pointsObserver) PointsAwarded(event string, points int) {
	o.awarded[event] += points
}

func TestPayment_PointsReportedAfterCommit(t *testing.T) {
	f := newFixture(t)
	tn, lease := f.housed(t, "jean@example.com")
	obs := &pointsObserver{awarded: map[string]int{}}
	f.Engines = New(f.db, Options{Store: f.store, Publisher: f.pub, Observer: obs, Now: f.clock.Now})
	p := f.payment(t, tn.ID, lease.ID, date(2026, 3, 10), "rent")

	require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register("test:fail_payment_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "payments" {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))
	_, err := f.Payments.MarkPaid(ctx, staff, p.ID, paidOn(date(2026, 3, 3)))
	require.Error(t, err)
	assert.Empty(t, obs.awarded, "a rolled back payment reports no points")

	view, err := f.Loyalty.Profile(ctx, tn.ID)
	require.NoError(t, err)
	before := view.TotalPoints

	require.NoError(t, f.db.Callback().Update().Remove("test:fail_payment_update"))
	_, err = f.Payments.MarkPaid(ctx, staff, p.ID, paidOn(date(2026, 3, 3)))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{string(loyalty.EventFor(loyalty.Early)): 15}, obs.awarded)

	view, err = f.Loyalty.Profile(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, before+15, view.TotalPoints)
}
