package engine

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/aethra/domus/internal/errors"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// SourceConfig describes the legacy database an import reads from. DSN,
// when set, is used as is.
type SourceConfig struct {
	Driver   string
	DSN      string
	Host     string
	Port     int
	Username string
	Password string
	Database string
	SSLMode  string
}

// ImportResult counts what an import did
type ImportResult struct {
	BuildingsCreated  int      `json:"buildings_created"`
	BuildingsSkipped  int      `json:"buildings_skipped"`
	ApartmentsCreated int      `json:"apartments_created"`
	ApartmentsSkipped int      `json:"apartments_skipped"`
	Errors            []string `json:"errors,omitempty"`
}

// Importer copies buildings and apartments from a legacy database through
// the engines, so counters, identifiers and audit entries stay consistent
type Importer struct {
	base
	buildings  *BuildingEngine
	apartments *ApartmentEngine
	audit      *AuditEngine
}

// BuildDSN constructs the connection string of a source
func BuildDSN(cfg SourceConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	switch cfg.Driver {
	case "postgres":
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, port, cfg.Username, cfg.Password, cfg.Database, sslMode), nil
	case "mysql":
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		mc := mysql.NewConfig()
		mc.User = cfg.Username
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
		mc.DBName = cfg.Database
		mc.ParseTime = true
		return mc.FormatDSN(), nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
}

// OpenSource connects to a legacy database and verifies the connection. The
// postgres driver is registered by lib/pq, imported for its error codes.
func OpenSource(ctx context.Context, cfg SourceConfig) (*sql.DB, error) {
	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

const (
	legacyBuildingsQuery = `SELECT id, name, address, city, postal_code, floors, year_built, description FROM buildings ORDER BY id`

	legacyApartmentsQuery = `SELECT building_id, number, floor, type, surface, rooms, bedrooms, bathrooms, rent, charges, deposit, description FROM apartments ORDER BY building_id, number`
)

type legacyBuilding struct {
	ID          string
	Name        sql.NullString
	Address     sql.NullString
	City        sql.NullString
	PostalCode  sql.NullString
	Floors      sql.NullInt64
	YearBuilt   sql.NullInt64
	Description sql.NullString
}

type legacyApartment struct {
	BuildingID  string
	Number      sql.NullString
	Floor       sql.NullInt64
	Type        sql.NullString
	Surface     sql.NullFloat64
	Rooms       sql.NullInt64
	Bedrooms    sql.NullInt64
	Bathrooms   sql.NullInt64
	Rent        sql.NullFloat64
	Charges     sql.NullFloat64
	Deposit     sql.NullFloat64
	Description sql.NullString
}

// ImportFrom reads the buildings and apartments tables of src. Buildings
// whose name and address already exist are reused; apartments whose number
// is taken are skipped. Row errors are collected and do not stop the import.
func (im *Importer) ImportFrom(ctx context.Context, actor Actor, src *sql.DB) (*ImportResult, error) {
	result := &ImportResult{}

	buildings, err := im.readBuildings(ctx, src)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("failed to read legacy buildings: %w", err))
	}
	apartments, err := im.readApartments(ctx, src)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("failed to read legacy apartments: %w", err))
	}

	// legacy building id -> new building id
	mapped := make(map[string]string, len(buildings))
	for _, lb := range buildings {
		name := strings.TrimSpace(lb.Name.String)
		address := strings.TrimSpace(lb.Address.String)

		var existing []string
		if err := im.conn(ctx).Table("buildings").
			Where("name = ? AND address = ?", name, address).
			Pluck("id", &existing).Error; err != nil {
			return nil, apperrors.NewInternalError(err)
		}
		if len(existing) > 0 {
			mapped[lb.ID] = existing[0]
			result.BuildingsSkipped++
			continue
		}

		b, err := im.buildings.Create(ctx, actor, BuildingInput{
			Name:        name,
			Address:     address,
			City:        lb.City.String,
			PostalCode:  lb.PostalCode.String,
			Floors:      int(lb.Floors.Int64),
			YearBuilt:   int(lb.YearBuilt.Int64),
			Description: lb.Description.String,
		})
		if err != nil {
			result.BuildingsSkipped++
			result.Errors = append(result.Errors, fmt.Sprintf("building %s: %v", lb.ID, err))
			continue
		}
		mapped[lb.ID] = b.ID
		result.BuildingsCreated++
	}

	for _, la := range apartments {
		buildingID, ok := mapped[la.BuildingID]
		if !ok {
			result.ApartmentsSkipped++
			result.Errors = append(result.Errors, fmt.Sprintf("apartment %s: unknown building %s", la.Number.String, la.BuildingID))
			continue
		}
		aptType := strings.ToLower(strings.TrimSpace(la.Type.String))
		if !validApartmentType(aptType) {
			aptType = ""
		}

		_, err := im.apartments.Create(ctx, actor, ApartmentInput{
			BuildingID:  buildingID,
			Number:      la.Number.String,
			Floor:       int(la.Floor.Int64),
			Type:        aptType,
			Surface:     la.Surface.Float64,
			Rooms:       int(la.Rooms.Int64),
			Bedrooms:    int(la.Bedrooms.Int64),
			Bathrooms:   int(la.Bathrooms.Int64),
			Rent:        la.Rent.Float64,
			Charges:     la.Charges.Float64,
			Deposit:     la.Deposit.Float64,
			Description: la.Description.String,
		})
		if err != nil {
			result.ApartmentsSkipped++
			if !apperrors.IsConflict(err) {
				result.Errors = append(result.Errors, fmt.Sprintf("apartment %s/%s: %v", la.BuildingID, la.Number.String, err))
			}
			continue
		}
		result.ApartmentsCreated++
	}

	im.audit.Record(im.conn(ctx), actor, "imports", "", AuditImport, nil, result)
	im.logger.Info("legacy import finished",
		zap.Int("buildings_created", result.BuildingsCreated),
		zap.Int("buildings_skipped", result.BuildingsSkipped),
		zap.Int("apartments_created", result.ApartmentsCreated),
		zap.Int("apartments_skipped", result.ApartmentsSkipped),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (im *Importer) readBuildings(ctx context.Context, src *sql.DB) ([]legacyBuilding, error) {
	rows, err := src.QueryContext(ctx, legacyBuildingsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []legacyBuilding
	for rows.Next() {
		var b legacyBuilding
		if err := rows.Scan(&b.ID, &b.Name, &b.Address, &b.City, &b.PostalCode, &b.Floors, &b.YearBuilt, &b.Description); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (im *Importer) readApartments(ctx context.Context, src *sql.DB) ([]legacyApartment, error) {
	rows, err := src.QueryContext(ctx, legacyApartmentsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []legacyApartment
	for rows.Next() {
		var a legacyApartment
		if err := rows.Scan(&a.BuildingID, &a.Number, &a.Floor, &a.Type, &a.Surface, &a.Rooms, &a.Bedrooms, &a.Bathrooms,
			&a.Rent, &a.Charges, &a.Deposit, &a.Description); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
