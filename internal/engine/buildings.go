package engine

import (
	"context"
	"strings"

	"github.com/aethra/domus/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BuildingEngine manages buildings and their occupancy counters
type BuildingEngine struct {
	base
	audit *AuditEngine
}

// BuildingInput creates a building
type BuildingInput struct {
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	City        string  `json:"city"`
	PostalCode  string  `json:"postal_code"`
	Floors      int     `json:"floors"`
	YearBuilt   int     `json:"year_built"`
	ManagerID   *string `json:"manager_id"`
	Description string  `json:"description"`
	ImageURL    string  `json:"image_url"`
}

// BuildingPatch updates the fields that are set
type BuildingPatch struct {
	Name        *string `json:"name"`
	Address     *string `json:"address"`
	City        *string `json:"city"`
	PostalCode  *string `json:"postal_code"`
	Floors      *int    `json:"floors"`
	YearBuilt   *int    `json:"year_built"`
	ManagerID   *string `json:"manager_id"`
	Description *string `json:"description"`
	ImageURL    *string `json:"image_url"`
	IsActive    *bool   `json:"is_active"`
}

// BuildingDetail is a building with its apartments
type BuildingDetail struct {
	models.Building
	OccupancyRate float64            `json:"occupancy_rate"`
	Apartments    []models.Apartment `json:"apartments"`
}

// BuildingStats summarizes the apartments of a building
type BuildingStats struct {
	BuildingID      string  `json:"building_id"`
	TotalUnits      int     `json:"total_units"`
	Occupied        int     `json:"occupied"`
	Vacant          int     `json:"vacant"`
	Maintenance     int     `json:"maintenance"`
	Reserved        int     `json:"reserved"`
	OccupancyRate   float64 `json:"occupancy_rate"`
	MonthlyRentRoll float64 `json:"monthly_rent_roll"`
	OpenIncidents   int64   `json:"open_incidents"`
}

// VacancySummary is a building listed on the public site
type VacancySummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	City        string  `json:"city"`
	PostalCode  string  `json:"postal_code"`
	ImageURL    string  `json:"image_url"`
	Description string  `json:"description"`
	Vacant      int64   `json:"vacant"`
	MinRent     float64 `json:"min_rent"`
}

var buildingList = listSpec{
	searchable:   []string{"name", "address", "city", "postal_code"},
	filterable:   []string{"city", "manager_id"},
	sortable:     []string{"id", "name", "city", "total_units", "occupied_units", "created_at"},
	defaultOrder: "id ASC",
}

// Create adds a building
func (e *BuildingEngine) Create(ctx context.Context, actor Actor, in BuildingInput) (*models.Building, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validation("name", "name is required")
	}
	if in.Floors < 0 {
		return nil, validation("floors", "floors cannot be negative")
	}

	b := &models.Building{
		Name:        name,
		Address:     strings.TrimSpace(in.Address),
		City:        strings.TrimSpace(in.City),
		PostalCode:  strings.TrimSpace(in.PostalCode),
		Floors:      in.Floors,
		YearBuilt:   in.YearBuilt,
		ManagerID:   in.ManagerID,
		Description: in.Description,
		ImageURL:    in.ImageURL,
		IsActive:    true,
	}

	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := seqBuilding.create(tx, e.now(), &b.ID, b); err != nil {
			return err
		}
		e.audit.Record(tx, actor, "buildings", b.ID, AuditCreate, nil, b)
		return nil
	})
	if err != nil {
		return nil, translate(err, "building", "")
	}

	e.logger.Info("building created", zap.String("building_id", b.ID))
	return b, nil
}

// Get returns a building with its apartments
func (e *BuildingEngine) Get(ctx context.Context, id string) (*BuildingDetail, error) {
	db := e.conn(ctx)
	var b models.Building
	if err := db.First(&b, "id = ?", id).Error; err != nil {
		return nil, translate(err, "building", id)
	}

	detail := &BuildingDetail{Building: b, OccupancyRate: b.OccupancyRate(), Apartments: []models.Apartment{}}
	if err := db.Where("building_id = ?", id).Order("floor ASC, number ASC").Find(&detail.Apartments).Error; err != nil {
		return nil, translate(err, "apartment", "")
	}
	return detail, nil
}

// List returns buildings
func (e *BuildingEngine) List(ctx context.Context, params QueryParams) (*QueryResult[models.Building], error) {
	return paginate[models.Building](e.conn(ctx).Model(&models.Building{}), params, buildingList)
}

// Update changes the fields set in patch
func (e *BuildingEngine) Update(ctx context.Context, actor Actor, id string, patch BuildingPatch) (*models.Building, error) {
	updates := map[string]interface{}{}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, validation("name", "name cannot be empty")
		}
		updates["name"] = name
	}
	if patch.Address != nil {
		updates["address"] = strings.TrimSpace(*patch.Address)
	}
	if patch.City != nil {
		updates["city"] = strings.TrimSpace(*patch.City)
	}
	if patch.PostalCode != nil {
		updates["postal_code"] = strings.TrimSpace(*patch.PostalCode)
	}
	if patch.Floors != nil {
		if *patch.Floors < 0 {
			return nil, validation("floors", "floors cannot be negative")
		}
		updates["floors"] = *patch.Floors
	}
	if patch.YearBuilt != nil {
		updates["year_built"] = *patch.YearBuilt
	}
	if patch.ManagerID != nil {
		updates["manager_id"] = strPtr(*patch.ManagerID)
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.ImageURL != nil {
		updates["image_url"] = *patch.ImageURL
	}
	if patch.IsActive != nil {
		updates["is_active"] = *patch.IsActive
	}

	var b models.Building
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&b, "id = ?", id).Error; err != nil {
			return err
		}
		old := b
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&models.Building{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		e.audit.Record(tx, actor, "buildings", id, AuditUpdate, old, updates)
		return tx.First(&b, "id = ?", id).Error
	})
	if err != nil {
		return nil, translate(err, "building", id)
	}
	return &b, nil
}

// Delete removes a building and its apartments. Buildings with occupied
// apartments or any lease history are kept.
func (e *BuildingEngine) Delete(ctx context.Context, actor Actor, id string) error {
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var b models.Building
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&b, "id = ?", id).Error; err != nil {
			return err
		}

		var occupied int64
		if err := tx.Model(&models.Apartment{}).
			Where("building_id = ? AND status = ?", id, models.ApartmentOccupied).
			Count(&occupied).Error; err != nil {
			return err
		}
		if occupied > 0 {
			return conflict("building", "building still has occupied apartments")
		}

		var leases int64
		if err := tx.Model(&models.Lease{}).Where("building_id = ?", id).Count(&leases).Error; err != nil {
			return err
		}
		if leases > 0 {
			return conflict("building", "building has lease history; deactivate it instead")
		}

		if err := tx.Where("building_id = ?", id).Delete(&models.Apartment{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&b).Error; err != nil {
			return err
		}
		e.audit.Record(tx, actor, "buildings", id, AuditDelete, b, nil)
		return nil
	})
	if err != nil {
		return translate(err, "building", id)
	}

	e.logger.Info("building deleted", zap.String("building_id", id))
	return nil
}

// Stats computes occupancy figures from the apartment rows
func (e *BuildingEngine) Stats(ctx context.Context, id string) (*BuildingStats, error) {
	db := e.conn(ctx)
	var b models.Building
	if err := db.First(&b, "id = ?", id).Error; err != nil {
		return nil, translate(err, "building", id)
	}

	var rows []struct {
		Status string
		Count  int
		Rent   float64
	}
	err := db.Model(&models.Apartment{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(rent + charges), 0) AS rent").
		Where("building_id = ?", id).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, "building", id)
	}

	stats := &BuildingStats{BuildingID: id}
	for _, r := range rows {
		stats.TotalUnits += r.Count
		switch r.Status {
		case models.ApartmentOccupied:
			stats.Occupied = r.Count
			stats.MonthlyRentRoll = r.Rent
		case models.ApartmentVacant:
			stats.Vacant = r.Count
		case models.ApartmentMaintenance:
			stats.Maintenance = r.Count
		case models.ApartmentReserved:
			stats.Reserved = r.Count
		}
	}
	if stats.TotalUnits > 0 {
		stats.OccupancyRate = float64(stats.Occupied) * 100 / float64(stats.TotalUnits)
	}

	err = db.Model(&models.Incident{}).
		Where("building_id = ? AND status IN ?", id, []string{models.IncidentOpen, models.IncidentInProgress}).
		Count(&stats.OpenIncidents).Error
	if err != nil {
		return nil, translate(err, "incident", "")
	}
	return stats, nil
}

// RecountOccupancy recomputes total_units and occupied_units from the
// apartment rows. An empty id recounts every building. It returns the
// number of buildings whose counters were wrong.
func (e *BuildingEngine) RecountOccupancy(ctx context.Context, id string) (int, error) {
	db := e.conn(ctx)
	var buildings []models.Building
	q := db.Model(&models.Building{})
	if id != "" {
		q = q.Where("id = ?", id)
	}
	if err := q.Find(&buildings).Error; err != nil {
		return 0, translate(err, "building", id)
	}
	if id != "" && len(buildings) == 0 {
		return 0, notFound("building", id)
	}

	fixed := 0
	for _, b := range buildings {
		var total, occupied int64
		if err := db.Model(&models.Apartment{}).Where("building_id = ?", b.ID).Count(&total).Error; err != nil {
			return fixed, translate(err, "apartment", "")
		}
		if err := db.Model(&models.Apartment{}).
			Where("building_id = ? AND status = ?", b.ID, models.ApartmentOccupied).
			Count(&occupied).Error; err != nil {
			return fixed, translate(err, "apartment", "")
		}
		if int(total) == b.TotalUnits && int(occupied) == b.OccupiedUnits {
			continue
		}

		err := db.Model(&models.Building{}).Where("id = ?", b.ID).Updates(map[string]interface{}{
			"total_units":    total,
			"occupied_units": occupied,
		}).Error
		if err != nil {
			return fixed, translate(err, "building", b.ID)
		}
		e.logger.Warn("occupancy counters corrected",
			zap.String("building_id", b.ID),
			zap.Int("total_units", int(total)),
			zap.Int("occupied_units", int(occupied)))
		fixed++
	}
	return fixed, nil
}

// ListWithVacancies returns active buildings that have vacant apartments
func (e *BuildingEngine) ListWithVacancies(ctx context.Context) ([]VacancySummary, error) {
	out := []VacancySummary{}
	err := e.conn(ctx).
		Table("buildings AS b").
		Select("b.id, b.name, b.address, b.city, b.postal_code, b.image_url, b.description, COUNT(a.id) AS vacant, MIN(a.rent) AS min_rent").
		Joins("JOIN apartments AS a ON a.building_id = b.id AND a.status = ?", models.ApartmentVacant).
		Where("b.is_active = ?", true).
		Group("b.id, b.name, b.address, b.city, b.postal_code, b.image_url, b.description").
		Order("b.id ASC").
		Scan(&out).Error
	if err != nil {
		return nil, translate(err, "building", "")
	}
	return out, nil
}

// adjustOccupancy moves the occupied counter of a building by delta,
// never below zero
func adjustOccupancy(tx *gorm.DB, buildingID string, delta int) error {
	expr := gorm.Expr("occupied_units + ?", delta)
	if delta < 0 {
		expr = gorm.Expr("CASE WHEN occupied_units + ? < 0 THEN 0 ELSE occupied_units + ? END", delta, delta)
	}
	res := tx.Model(&models.Building{}).Where("id = ?", buildingID).Update("occupied_units", expr)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("building", buildingID)
	}
	return nil
}
