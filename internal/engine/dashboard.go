package engine

import (
	"context"
	"math"

	"github.com/aethra/domus/internal/models"
)

// DashboardEngine computes portfolio totals
type DashboardEngine struct {
	base
	payments *PaymentEngine
	loyalty  *LoyaltyEngine
}

// Summary is the back-office overview
type Summary struct {
	Buildings           int64            `json:"buildings"`
	Apartments          int64            `json:"apartments"`
	OccupiedApartments  int64            `json:"occupied_apartments"`
	VacantApartments    int64            `json:"vacant_apartments"`
	OccupancyRate       float64          `json:"occupancy_rate"`
	ActiveTenants       int64            `json:"active_tenants"`
	ActiveLeases        int64            `json:"active_leases"`
	Period              string           `json:"period"`
	ExpectedRent        float64          `json:"expected_rent"`
	CollectedRent       float64          `json:"collected_rent"`
	OverdueAmount       float64          `json:"overdue_amount"`
	OpenIncidents       int64            `json:"open_incidents"`
	PendingApplications int64            `json:"pending_applications"`
	TierDistribution    map[string]int64 `json:"tier_distribution"`
}

// Summary returns the current totals
func (e *DashboardEngine) Summary(ctx context.Context) (*Summary, error) {
	db := e.conn(ctx)
	s := &Summary{Period: e.now().Format("2006-01")}

	counts := []struct {
		dest  *int64
		model interface{}
		where string
		args  []interface{}
	}{
		{&s.Buildings, &models.Building{}, "is_active = ?", []interface{}{true}},
		{&s.Apartments, &models.Apartment{}, "", nil},
		{&s.OccupiedApartments, &models.Apartment{}, "status = ?", []interface{}{models.ApartmentOccupied}},
		{&s.VacantApartments, &models.Apartment{}, "status = ?", []interface{}{models.ApartmentVacant}},
		{&s.ActiveTenants, &models.Tenant{}, "status = ?", []interface{}{models.TenantActive}},
		{&s.ActiveLeases, &models.Lease{}, "status = ?", []interface{}{models.LeaseActive}},
		{&s.OpenIncidents, &models.Incident{}, "status IN ?", []interface{}{activeIncidentStatuses}},
		{&s.PendingApplications, &models.Application{}, "status IN ?", []interface{}{openApplicationStatuses}},
	}
	for _, c := range counts {
		q := db.Model(c.model)
		if c.where != "" {
			q = q.Where(c.where, c.args...)
		}
		if err := q.Count(c.dest).Error; err != nil {
			return nil, translate(err, "dashboard", "")
		}
	}
	if s.Apartments > 0 {
		s.OccupancyRate = math.Round(float64(s.OccupiedApartments)*10000/float64(s.Apartments)) / 100
	}

	var err error
	if s.ExpectedRent, s.CollectedRent, s.OverdueAmount, err = e.payments.Totals(ctx, s.Period); err != nil {
		return nil, err
	}
	if s.TierDistribution, err = e.loyalty.TierDistribution(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
