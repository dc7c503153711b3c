package engine

import (
	"context"
	"strings"

	"github.com/aethra/domus/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ApartmentEngine manages the units of buildings
type ApartmentEngine struct {
	base
	audit *AuditEngine
}

// ApartmentInput creates an apartment
type ApartmentInput struct {
	BuildingID  string   `json:"building_id"`
	Number      string   `json:"number"`
	Floor       int      `json:"floor"`
	Type        string   `json:"type"`
	Surface     float64  `json:"surface"`
	Rooms       int      `json:"rooms"`
	Bedrooms    int      `json:"bedrooms"`
	Bathrooms   int      `json:"bathrooms"`
	Rent        float64  `json:"rent"`
	Charges     float64  `json:"charges"`
	Deposit     float64  `json:"deposit"`
	Status      string   `json:"status"`
	Features    []string `json:"features"`
	Description string   `json:"description"`
}

// ApartmentPatch updates the fields that are set
type ApartmentPatch struct {
	Number      *string   `json:"number"`
	Floor       *int      `json:"floor"`
	Type        *string   `json:"type"`
	Surface     *float64  `json:"surface"`
	Rooms       *int      `json:"rooms"`
	Bedrooms    *int      `json:"bedrooms"`
	Bathrooms   *int      `json:"bathrooms"`
	Rent        *float64  `json:"rent"`
	Charges     *float64  `json:"charges"`
	Deposit     *float64  `json:"deposit"`
	Status      *string   `json:"status"`
	Features    *[]string `json:"features"`
	Description *string   `json:"description"`
}

var apartmentList = listSpec{
	searchable:   []string{"number", "description"},
	filterable:   []string{"building_id", "status", "type", "floor", "tenant_id"},
	sortable:     []string{"id", "number", "floor", "rent", "surface", "created_at"},
	defaultOrder: "building_id ASC, number ASC",
}

func validApartmentType(t string) bool {
	for _, v := range models.ApartmentTypes {
		if v == t {
			return true
		}
	}
	return false
}

func (in ApartmentInput) validate() error {
	if strings.TrimSpace(in.BuildingID) == "" {
		return validation("building_id", "building is required")
	}
	if strings.TrimSpace(in.Number) == "" {
		return validation("number", "apartment number is required")
	}
	if in.Type != "" && !validApartmentType(in.Type) {
		return validation("type", "type must be one of studio, t1, t2, t3, t4, t5")
	}
	if in.Rent < 0 || in.Charges < 0 || in.Deposit < 0 {
		return validation("rent", "amounts cannot be negative")
	}
	if in.Surface < 0 {
		return validation("surface", "surface cannot be negative")
	}
	switch in.Status {
	case "", models.ApartmentVacant, models.ApartmentMaintenance, models.ApartmentReserved:
	case models.ApartmentOccupied:
		return validation("status", "an apartment becomes occupied through a lease")
	default:
		return validation("status", "unknown apartment status")
	}
	return nil
}

// Create adds an apartment and counts it in its building
func (e *ApartmentEngine) Create(ctx context.Context, actor Actor, in ApartmentInput) (*models.Apartment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = models.ApartmentVacant
	}

	apt := &models.Apartment{
		BuildingID:  in.BuildingID,
		Number:      strings.TrimSpace(in.Number),
		Floor:       in.Floor,
		Type:        in.Type,
		Surface:     in.Surface,
		Rooms:       in.Rooms,
		Bedrooms:    in.Bedrooms,
		Bathrooms:   in.Bathrooms,
		Rent:        in.Rent,
		Charges:     in.Charges,
		Deposit:     in.Deposit,
		Status:      status,
		Features:    models.StringArray(in.Features),
		Description: in.Description,
	}

	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var b models.Building
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&b, "id = ?", in.BuildingID).Error; err != nil {
			return translate(err, "building", in.BuildingID)
		}

		var dup int64
		if err := tx.Model(&models.Apartment{}).
			Where("building_id = ? AND number = ?", apt.BuildingID, apt.Number).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return conflict("apartment", "apartment number already used in this building")
		}

		if err := seqApartment.create(tx, e.now(), &apt.ID, apt); err != nil {
			return err
		}
		if err := tx.Model(&b).Update("total_units", gorm.Expr("total_units + 1")).Error; err != nil {
			return err
		}
		e.audit.Record(tx, actor, "apartments", apt.ID, AuditCreate, nil, apt)
		return nil
	})
	if err != nil {
		return nil, translate(err, "apartment", "")
	}

	e.logger.Info("apartment created", zap.String("apartment_id", apt.ID), zap.String("building_id", apt.BuildingID))
	return apt, nil
}

// Get returns an apartment
func (e *ApartmentEngine) Get(ctx context.Context, id string) (*models.Apartment, error) {
	var apt models.Apartment
	if err := e.conn(ctx).First(&apt, "id = ?", id).Error; err != nil {
		return nil, translate(err, "apartment", id)
	}
	return &apt, nil
}

// List returns apartments
func (e *ApartmentEngine) List(ctx context.Context, params QueryParams) (*QueryResult[models.Apartment], error) {
	return paginate[models.Apartment](e.conn(ctx).Model(&models.Apartment{}), params, apartmentList)
}

// ListVacant returns the vacant apartments of an active building
func (e *ApartmentEngine) ListVacant(ctx context.Context, buildingID string) ([]models.Apartment, error) {
	db := e.conn(ctx)
	var b models.Building
	if err := db.First(&b, "id = ? AND is_active = ?", buildingID, true).Error; err != nil {
		return nil, translate(err, "building", buildingID)
	}

	out := []models.Apartment{}
	err := db.Where("building_id = ? AND status = ?", buildingID, models.ApartmentVacant).
		Order("floor ASC, number ASC").
		Find(&out).Error
	return out, translate(err, "apartment", "")
}

// Update changes the fields set in patch. Occupancy is owned by leases: an
// occupied apartment keeps its status and no apartment becomes occupied here.
func (e *ApartmentEngine) Update(ctx context.Context, actor Actor, id string, patch ApartmentPatch) (*models.Apartment, error) {
	updates := map[string]interface{}{}
	if patch.Number != nil {
		n := strings.TrimSpace(*patch.Number)
		if n == "" {
			return nil, validation("number", "apartment number cannot be empty")
		}
		updates["number"] = n
	}
	if patch.Floor != nil {
		updates["floor"] = *patch.Floor
	}
	if patch.Type != nil {
		if !validApartmentType(*patch.Type) {
			return nil, validation("type", "type must be one of studio, t1, t2, t3, t4, t5")
		}
		updates["type"] = *patch.Type
	}
	for field, v := range map[string]*float64{"surface": patch.Surface, "rent": patch.Rent, "charges": patch.Charges, "deposit": patch.Deposit} {
		if v == nil {
			continue
		}
		if *v < 0 {
			return nil, validation(field, field+" cannot be negative")
		}
		updates[field] = *v
	}
	for field, v := range map[string]*int{"rooms": patch.Rooms, "bedrooms": patch.Bedrooms, "bathrooms": patch.Bathrooms} {
		if v != nil {
			updates[field] = *v
		}
	}
	if patch.Features != nil {
		updates["features"] = models.StringArray(*patch.Features)
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}

	var apt models.Apartment
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&apt, "id = ?", id).Error; err != nil {
			return err
		}
		old := apt

		if patch.Status != nil && *patch.Status != apt.Status {
			switch {
			case *patch.Status == models.ApartmentOccupied:
				return validation("status", "an apartment becomes occupied through a lease")
			case apt.Status == models.ApartmentOccupied:
				return conflict("apartment", "terminate the lease before changing the status of an occupied apartment")
			case *patch.Status != models.ApartmentVacant && *patch.Status != models.ApartmentMaintenance && *patch.Status != models.ApartmentReserved:
				return validation("status", "unknown apartment status")
			}
			updates["status"] = *patch.Status
		}
		if n, ok := updates["number"]; ok && n != apt.Number {
			var dup int64
			if err := tx.Model(&models.Apartment{}).
				Where("building_id = ? AND number = ? AND id <> ?", apt.BuildingID, n, id).
				Count(&dup).Error; err != nil {
				return err
			}
			if dup > 0 {
				return conflict("apartment", "apartment number already used in this building")
			}
		}
		if len(updates) == 0 {
			return nil
		}

		if err := tx.Model(&models.Apartment{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		e.audit.Record(tx, actor, "apartments", id, AuditUpdate, old, updates)
		return tx.First(&apt, "id = ?", id).Error
	})
	if err != nil {
		return nil, translate(err, "apartment", id)
	}
	return &apt, nil
}

// Delete removes an apartment that was never leased
func (e *ApartmentEngine) Delete(ctx context.Context, actor Actor, id string) error {
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var apt models.Apartment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&apt, "id = ?", id).Error; err != nil {
			return err
		}
		if apt.Status == models.ApartmentOccupied {
			return conflict("apartment", "apartment is occupied")
		}

		var leases int64
		if err := tx.Model(&models.Lease{}).Where("apartment_id = ?", id).Count(&leases).Error; err != nil {
			return err
		}
		if leases > 0 {
			return conflict("apartment", "apartment has lease history")
		}

		if err := tx.Delete(&apt).Error; err != nil {
			return err
		}
		err := tx.Model(&models.Building{}).Where("id = ?", apt.BuildingID).
			Update("total_units", gorm.Expr("CASE WHEN total_units > 0 THEN total_units - 1 ELSE 0 END")).Error
		if err != nil {
			return err
		}
		e.audit.Record(tx, actor, "apartments", id, AuditDelete, apt, nil)
		return nil
	})
	return translate(err, "apartment", id)
}
