package engine

import (
	"context"
	"strings"

	"github.com/aethra/domus/internal/loyalty"
	"github.com/aethra/domus/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IncidentEngine tracks maintenance issues
type IncidentEngine struct {
	base
	audit   *AuditEngine
	loyalty *LoyaltyEngine
}

// IncidentInput reports an incident
type IncidentInput struct {
	BuildingID  string   `json:"building_id"`
	ApartmentID string   `json:"apartment_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Priority    string   `json:"priority"`
	Photos      []string `json:"photos"`
}

// IncidentPatch is the back-office update of an incident
type IncidentPatch struct {
	Status     *string `json:"status"`
	Priority   *string `json:"priority"`
	Category   *string `json:"category"`
	AssignedTo *string `json:"assigned_to"`
	Resolution *string `json:"resolution"`
}

var incidentList = listSpec{
	searchable:   []string{"title", "description"},
	filterable:   []string{"building_id", "apartment_id", "status", "priority", "category", "reporter_id", "assigned_to"},
	sortable:     []string{"id", "created_at", "updated_at", "priority", "status"},
	defaultOrder: "created_at DESC",
}

var activeIncidentStatuses = []string{models.IncidentOpen, models.IncidentInProgress}

func validPriority(p string) bool {
	for _, v := range models.IncidentPriorities {
		if v == p {
			return true
		}
	}
	return false
}

func validIncidentStatus(s string) bool {
	switch s {
	case models.IncidentOpen, models.IncidentInProgress, models.IncidentResolved, models.IncidentClosed, models.IncidentCancelled:
		return true
	}
	return false
}

func (in *IncidentInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return validation("title", "title is required")
	}
	if in.Priority == "" {
		in.Priority = "medium"
	}
	if !validPriority(in.Priority) {
		return validation("priority", "invalid priority")
	}
	return nil
}

// Report records an incident. Tenants report on their own apartment; the
// building and apartment of the input are ignored for them.
func (e *IncidentEngine) Report(ctx context.Context, actor Actor, in IncidentInput) (*models.Incident, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	inc := &models.Incident{
		ReporterID:   actor.ID,
		ReporterType: actor.Type,
		Title:        in.Title,
		Description:  in.Description,
		Category:     in.Category,
		Priority:     in.Priority,
		Status:       models.IncidentOpen,
		Photos:       models.StringArray(in.Photos),
	}
	var log pointLog
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if actor.Type == ActorTenant {
			var t models.Tenant
			if err := tx.First(&t, "id = ?", actor.ID).Error; err != nil {
				return translate(err, "tenant", actor.ID)
			}
			if t.BuildingID == nil {
				return validation("building_id", "you have no apartment to report an incident on")
			}
			inc.BuildingID = *t.BuildingID
			inc.ApartmentID = t.ApartmentID
		} else {
			if in.BuildingID == "" {
				return validation("building_id", "building is required")
			}
			var b models.Building
			if err := tx.First(&b, "id = ?", in.BuildingID).Error; err != nil {
				return translate(err, "building", in.BuildingID)
			}
			inc.BuildingID = b.ID
			if in.ApartmentID != "" {
				var a models.Apartment
				if err := tx.First(&a, "id = ?", in.ApartmentID).Error; err != nil {
					return translate(err, "apartment", in.ApartmentID)
				}
				if a.BuildingID != b.ID {
					return validation("apartment_id", "apartment does not belong to the building")
				}
				inc.ApartmentID = &a.ID
			}
		}

		if err := seqIncident.create(tx, e.now(), &inc.ID, inc); err != nil {
			return err
		}
		if actor.Type == ActorTenant {
			if _, err := e.loyalty.award(tx, &log, actor, actor.ID, loyalty.EventIncidentReported, loyalty.Points(loyalty.EventIncidentReported), nil, "Incident "+inc.ID+" reported"); err != nil {
				return err
			}
		}
		e.audit.Record(tx, actor, "incidents", inc.ID, AuditCreate, nil, inc)
		return nil
	})
	if err != nil {
		return nil, translate(err, "incident", "")
	}
	e.loyalty.flush(log)

	e.logger.Info("incident reported",
		zap.String("incident_id", inc.ID),
		zap.String("building_id", inc.BuildingID),
		zap.String("priority", inc.Priority))
	return inc, nil
}

// Get returns an incident
func (e *IncidentEngine) Get(ctx context.Context, id string) (*models.Incident, error) {
	var inc models.Incident
	if err := e.conn(ctx).First(&inc, "id = ?", id).Error; err != nil {
		return nil, translate(err, "incident", id)
	}
	return &inc, nil
}

// GetForTenant returns an incident reported by tenantID
func (e *IncidentEngine) GetForTenant(ctx context.Context, tenantID, id string) (*models.Incident, error) {
	var inc models.Incident
	err := e.conn(ctx).
		First(&inc, "id = ? AND reporter_id = ? AND reporter_type = ?", id, tenantID, ActorTenant).Error
	if err != nil {
		return nil, translate(err, "incident", id)
	}
	return &inc, nil
}

// List returns incidents
func (e *IncidentEngine) List(ctx context.Context, params QueryParams) (*QueryResult[models.Incident], error) {
	return paginate[models.Incident](e.conn(ctx).Model(&models.Incident{}), params, incidentList)
}

// ListForTenant returns the incidents reported by a tenant
func (e *IncidentEngine) ListForTenant(ctx context.Context, tenantID string, params QueryParams) (*QueryResult[models.Incident], error) {
	q := e.conn(ctx).Model(&models.Incident{}).Where("reporter_id = ? AND reporter_type = ?", tenantID, ActorTenant)
	return paginate[models.Incident](q, params, incidentList)
}

// CountOpen returns the number of open and in-progress incidents
func (e *IncidentEngine) CountOpen(ctx context.Context) (int64, error) {
	var n int64
	err := e.conn(ctx).Model(&models.Incident{}).Where("status IN ?", activeIncidentStatuses).Count(&n).Error
	return n, translate(err, "incident", "")
}

// Update changes status, priority, assignment or resolution. Resolving
// stamps resolved_at; reopening clears it. Closed and cancelled incidents
// are final.
func (e *IncidentEngine) Update(ctx context.Context, actor Actor, id string, patch IncidentPatch) (*models.Incident, error) {
	updates := map[string]interface{}{}
	if patch.Priority != nil {
		if !validPriority(*patch.Priority) {
			return nil, validation("priority", "invalid priority")
		}
		updates["priority"] = *patch.Priority
	}
	if patch.Status != nil && !validIncidentStatus(*patch.Status) {
		return nil, validation("status", "invalid status")
	}
	if patch.Category != nil {
		updates["category"] = *patch.Category
	}
	if patch.AssignedTo != nil {
		updates["assigned_to"] = strPtr(*patch.AssignedTo)
	}
	if patch.Resolution != nil {
		updates["resolution"] = *patch.Resolution
	}

	var inc models.Incident
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&inc, "id = ?", id).Error; err != nil {
			return err
		}
		if inc.Status == models.IncidentClosed || inc.Status == models.IncidentCancelled {
			return conflict("incident", "incident is "+inc.Status)
		}
		if patch.Status != nil && *patch.Status != inc.Status {
			updates["status"] = *patch.Status
			switch *patch.Status {
			case models.IncidentResolved, models.IncidentClosed:
				if inc.ResolvedAt == nil {
					updates["resolved_at"] = e.now()
				}
			case models.IncidentOpen, models.IncidentInProgress:
				updates["resolved_at"] = nil
			}
		}
		if len(updates) == 0 {
			return nil
		}
		old := inc
		if err := tx.Model(&models.Incident{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		e.audit.Record(tx, actor, "incidents", id, AuditUpdate, old, updates)
		return tx.First(&inc, "id = ?", id).Error
	})
	if err != nil {
		return nil, translate(err, "incident", id)
	}

	e.logger.Info("incident updated", zap.String("incident_id", id), zap.String("status", inc.Status))
	return &inc, nil
}

// CancelByTenant lets the reporter withdraw an incident nobody has started
// working on
func (e *IncidentEngine) CancelByTenant(ctx context.Context, actor Actor, id string) (*models.Incident, error) {
	var inc models.Incident
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&inc, "id = ? AND reporter_id = ? AND reporter_type = ?", id, actor.ID, ActorTenant).Error
		if err != nil {
			return err
		}
		if inc.Status != models.IncidentOpen {
			return conflict("incident", "only open incidents can be cancelled")
		}
		if err := tx.Model(&models.Incident{}).Where("id = ?", id).Update("status", models.IncidentCancelled).Error; err != nil {
			return err
		}
		e.audit.Record(tx, actor, "incidents", id, AuditUpdate,
			map[string]interface{}{"status": inc.Status},
			map[string]interface{}{"status": models.IncidentCancelled})
		return tx.First(&inc, "id = ?", id).Error
	})
	if err != nil {
		return nil, translate(err, "incident", id)
	}
	return &inc, nil
}
