// Package loyalty maps point totals to tiers and holds the award table
// applied when tenants pay rent or sign leases.
package loyalty

import "time"

// Tier is a discrete reward level derived from accumulated points
type Tier string

const (
	Bronze   Tier = "bronze"
	Silver   Tier = "silver"
	Gold     Tier = "gold"
	Platinum Tier = "platinum"
	Diamond  Tier = "diamond"
)

type threshold struct {
	min  int
	tier Tier
}

// ascending; the first entry must start at zero
var thresholds = []threshold{
	{0, Bronze},
	{400, Silver},
	{800, Gold},
	{1500, Platinum},
	{2000, Diamond},
}

// Tiers returns every tier in ascending order
func Tiers() []Tier {
	out := make([]Tier, len(thresholds))
	for i, t := range thresholds {
		out[i] = t.tier
	}
	return out
}

// TierFor returns the tier reached with points. Negative totals map to bronze.
func TierFor(points int) Tier {
	tier := Bronze
	for _, t := range thresholds {
		if points >= t.min {
			tier = t.tier
		}
	}
	return tier
}

// Threshold returns the minimum number of points of a tier
func Threshold(tier Tier) (int, bool) {
	for _, t := range thresholds {
		if t.tier == tier {
			return t.min, true
		}
	}
	return 0, false
}

// Progress describes how far a total is from the next tier
type Progress struct {
	Points        int  `json:"points"`
	Tier          Tier `json:"tier"`
	NextTier      Tier `json:"next_tier,omitempty"`
	NextThreshold int  `json:"next_threshold,omitempty"`
	PointsToNext  int  `json:"points_to_next"`
}

// ProgressFor computes the progress of a point total. At the top tier
// NextTier is empty and PointsToNext is zero.
func ProgressFor(points int) Progress {
	if points < 0 {
		points = 0
	}
	p := Progress{Points: points, Tier: TierFor(points)}
	for _, t := range thresholds {
		if t.min > points {
			p.NextTier = t.tier
			p.NextThreshold = t.min
			p.PointsToNext = t.min - points
			break
		}
	}
	return p
}

// Event names a reason points were granted or removed
type Event string

const (
	EventPaymentEarly     Event = "payment_early"
	EventPaymentOnTime    Event = "payment_on_time"
	EventPaymentLate      Event = "payment_late"
	EventStreakBonus      Event = "streak_bonus"
	EventLeaseSigned      Event = "lease_signed"
	EventLeaseRenewed     Event = "lease_renewed"
	EventIncidentReported Event = "incident_reported"
	EventManualAdjustment Event = "manual_adjustment"
)

var awards = map[Event]int{
	EventPaymentEarly:     15,
	EventPaymentOnTime:    10,
	EventPaymentLate:      0,
	EventStreakBonus:      50,
	EventLeaseSigned:      50,
	EventLeaseRenewed:     100,
	EventIncidentReported: 0,
}

// StreakBonusEvery is the number of consecutive early or on-time payments
// that earns a streak bonus.
const StreakBonusEvery = 12

// Points returns the fixed award of an event. Manual adjustments carry their
// own amount and return zero here.
func Points(e Event) int {
	return awards[e]
}

// KnownEvent reports whether e is part of the award table
func KnownEvent(e Event) bool {
	if e == EventManualAdjustment {
		return true
	}
	_, ok := awards[e]
	return ok
}

// Apply adds delta to total, clamping the result at zero.
func Apply(total, delta int) int {
	total += delta
	if total < 0 {
		return 0
	}
	return total
}

// StreakBonus reports whether reaching streak earns the bonus
func StreakBonus(streak int) bool {
	return streak > 0 && streak%StreakBonusEvery == 0
}

// Timeliness classifies a payment against its due date
type Timeliness string

const (
	Early  Timeliness = "early"
	OnTime Timeliness = "on_time"
	Late   Timeliness = "late"
)

// Classify compares the calendar day of paidAt with the due date. A payment
// made earlyDays or more before the due date is early; one made no later
// than graceDays after it is on time.
func Classify(due, paidAt time.Time, earlyDays, graceDays int) Timeliness {
	dueDay := dateOnly(due)
	paidDay := dateOnly(paidAt.In(due.Location()))

	if earlyDays > 0 && !paidDay.After(dueDay.AddDate(0, 0, -earlyDays)) {
		return Early
	}
	if !paidDay.After(dueDay.AddDate(0, 0, graceDays)) {
		return OnTime
	}
	return Late
}

// EventFor returns the award event matching a timeliness class
func EventFor(t Timeliness) Event {
	switch t {
	case Early:
		return EventPaymentEarly
	case OnTime:
		return EventPaymentOnTime
	default:
		return EventPaymentLate
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
