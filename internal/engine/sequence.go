package engine

import (
	"time"

	"github.com/aethra/domus/internal/ids"
	"gorm.io/gorm"
)

// maxIDAttempts bounds the retries of an insert whose identifier was taken
// by a concurrent transaction
const maxIDAttempts = 3

// sequence binds an identifier kind to the table holding it
type sequence struct {
	kind  ids.Kind
	table string
}

var (
	seqAdmin        = sequence{ids.Admin, "admins"}
	seqBuilding     = sequence{ids.Building, "buildings"}
	seqApartment    = sequence{ids.Apartment, "apartments"}
	seqTenant       = sequence{ids.Tenant, "tenants"}
	seqApplication  = sequence{ids.Application, "applications"}
	seqLease        = sequence{ids.Lease, "leases"}
	seqPayment      = sequence{ids.Payment, "payments"}
	seqIncident     = sequence{ids.Incident, "incidents"}
	seqConversation = sequence{ids.Conversation, "conversations"}
	seqDocument     = sequence{ids.Document, "documents"}
)

// NextID returns the identifier the next row of the sequence would get
func (s sequence) NextID(tx *gorm.DB, now time.Time) (string, error) {
	var existing []string
	err := tx.Table(s.table).
		Where("id LIKE ?", s.kind.LikePattern(now.Year())).
		Pluck("id", &existing).Error
	if err != nil {
		return "", err
	}
	return ids.Next(s.kind, existing, now), nil
}

// create assigns the next identifier to *id and inserts row. When the
// insert collides on the identifier the attempt is rolled back to a
// savepoint and retried with a fresh one.
func (s sequence) create(db *gorm.DB, now time.Time, id *string, row interface{}) error {
	var err error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		err = db.Transaction(func(tx *gorm.DB) error {
			next, err := s.NextID(tx, now)
			if err != nil {
				return err
			}
			*id = next
			return tx.Create(row).Error
		})
		if err == nil || !isDuplicateKey(err) {
			return err
		}

		var taken int64
		if cerr := db.Table(s.table).Where("id = ?", *id).Count(&taken).Error; cerr != nil || taken == 0 {
			// the conflict is on another unique column
			return err
		}
	}
	return err
}
