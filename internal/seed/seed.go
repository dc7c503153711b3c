// Package seed loads YAML fixtures into an empty or partially filled
// database. Applying the same file twice creates nothing new.
package seed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aethra/domus/internal/engine"
	apperrors "github.com/aethra/domus/internal/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Fixtures is the content of a seed file
type Fixtures struct {
	Settings  map[string]string `yaml:"settings"`
	Admins    []Admin           `yaml:"admins"`
	Buildings []Building        `yaml:"buildings"`
	Tenants   []Tenant          `yaml:"tenants"`
}

// Admin is a back-office account fixture
type Admin struct {
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Role      string `yaml:"role"`
}

// Building is a building fixture with its apartments. Key names the building
// for lease fixtures; it defaults to the name.
type Building struct {
	Key         string      `yaml:"key"`
	Name        string      `yaml:"name"`
	Address     string      `yaml:"address"`
	City        string      `yaml:"city"`
	PostalCode  string      `yaml:"postal_code"`
	Floors      int         `yaml:"floors"`
	YearBuilt   int         `yaml:"year_built"`
	Description string      `yaml:"description"`
	Apartments  []Apartment `yaml:"apartments"`
}

// Apartment is an apartment fixture
type Apartment struct {
	Number    string   `yaml:"number"`
	Floor     int      `yaml:"floor"`
	Type      string   `yaml:"type"`
	Surface   float64  `yaml:"surface"`
	Rooms     int      `yaml:"rooms"`
	Bedrooms  int      `yaml:"bedrooms"`
	Bathrooms int      `yaml:"bathrooms"`
	Rent      float64  `yaml:"rent"`
	Charges   float64  `yaml:"charges"`
	Deposit   float64  `yaml:"deposit"`
	Features  []string `yaml:"features"`
}

// Tenant is a tenant fixture, optionally with a lease
type Tenant struct {
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Phone     string `yaml:"phone"`
	Lease     *Lease `yaml:"lease"`
}

// Lease places a tenant fixture in an apartment
type Lease struct {
	Building    string    `yaml:"building"`
	Apartment   string    `yaml:"apartment"`
	StartDate   time.Time `yaml:"start_date"`
	EndDate     time.Time `yaml:"end_date"`
	MonthlyRent float64   `yaml:"monthly_rent"`
	Charges     float64   `yaml:"charges"`
	Deposit     float64   `yaml:"deposit"`
	PaymentDay  int       `yaml:"payment_day"`
}

// SettingsWriter stores runtime settings
type SettingsWriter interface {
	Set(key, value, category string, isSecret bool) error
}

// Result counts created and skipped records
type Result struct {
	Admins     int `json:"admins"`
	Buildings  int `json:"buildings"`
	Apartments int `json:"apartments"`
	Tenants    int `json:"tenants"`
	Leases     int `json:"leases"`
	Settings   int `json:"settings"`
	Skipped    int `json:"skipped"`
}

// Load reads and parses a fixtures file
func Load(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return Parse(data)
}

// Parse decodes fixtures and checks lease references
func Parse(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}

	keys := make(map[string]map[string]bool, len(f.Buildings))
	for i := range f.Buildings {
		b := &f.Buildings[i]
		if b.Key == "" {
			b.Key = b.Name
		}
		if _, dup := keys[b.Key]; dup {
			return nil, fmt.Errorf("building %q: duplicate key", b.Key)
		}
		numbers := make(map[string]bool, len(b.Apartments))
		for _, a := range b.Apartments {
			numbers[a.Number] = true
		}
		keys[b.Key] = numbers
	}
	for _, t := range f.Tenants {
		if t.Lease == nil {
			continue
		}
		numbers, ok := keys[t.Lease.Building]
		if !ok {
			return nil, fmt.Errorf("tenant %s: unknown building %q", t.Email, t.Lease.Building)
		}
		if !numbers[t.Lease.Apartment] {
			return nil, fmt.Errorf("tenant %s: unknown apartment %q in %q", t.Email, t.Lease.Apartment, t.Lease.Building)
		}
	}
	return &f, nil
}

// Apply creates the fixtures through the engines. Records that already
// exist (same email, building name or apartment number) are skipped.
func Apply(ctx context.Context, e *engine.Engines, settings SettingsWriter, f *Fixtures, logger *zap.Logger) (*Result, error) {
	actor := engine.SystemActor()
	res := &Result{}

	for key, value := range f.Settings {
		if settings == nil {
			break
		}
		category := key
		if i := strings.Index(key, "."); i > 0 {
			category = key[:i]
		}
		if err := settings.Set(key, value, category, false); err != nil {
			return res, fmt.Errorf("setting %s: %w", key, err)
		}
		res.Settings++
	}

	for _, a := range f.Admins {
		if _, err := e.Admins.GetByEmail(ctx, a.Email); err == nil {
			res.Skipped++
			continue
		}
		_, err := e.Admins.Create(ctx, actor, engine.AdminInput{
			Email: a.Email, Password: a.Password, FirstName: a.FirstName, LastName: a.LastName, Role: a.Role,
		})
		if err != nil {
			return res, fmt.Errorf("admin %s: %w", a.Email, err)
		}
		res.Admins++
	}

	// building key -> apartment number -> apartment id
	apartments := make(map[string]map[string]string, len(f.Buildings))
	for _, b := range f.Buildings {
		buildingID, created, err := ensureBuilding(ctx, e, actor, b)
		if err != nil {
			return res, err
		}
		if created {
			res.Buildings++
		} else {
			res.Skipped++
		}

		numbers := make(map[string]string, len(b.Apartments))
		for _, a := range b.Apartments {
			apt, err := e.Apartments.Create(ctx, actor, engine.ApartmentInput{
				BuildingID: buildingID,
				Number:     a.Number,
				Floor:      a.Floor,
				Type:       a.Type,
				Surface:    a.Surface,
				Rooms:      a.Rooms,
				Bedrooms:   a.Bedrooms,
				Bathrooms:  a.Bathrooms,
				Rent:       a.Rent,
				Charges:    a.Charges,
				Deposit:    a.Deposit,
				Features:   a.Features,
			})
			if apperrors.IsConflict(err) {
				res.Skipped++
				continue
			}
			if err != nil {
				return res, fmt.Errorf("apartment %s/%s: %w", b.Key, a.Number, err)
			}
			numbers[a.Number] = apt.ID
			res.Apartments++
		}
		if err := fillApartmentIDs(ctx, e, buildingID, numbers); err != nil {
			return res, err
		}
		apartments[b.Key] = numbers
	}

	for _, t := range f.Tenants {
		if _, err := e.Tenants.GetByEmail(ctx, t.Email); err == nil {
			res.Skipped++
			continue
		}
		tenant, err := e.Tenants.Create(ctx, actor, engine.TenantInput{
			Email: t.Email, Password: t.Password, FirstName: t.FirstName, LastName: t.LastName, Phone: t.Phone,
		})
		if err != nil {
			return res, fmt.Errorf("tenant %s: %w", t.Email, err)
		}
		res.Tenants++

		if t.Lease == nil {
			continue
		}
		rent, charges := t.Lease.MonthlyRent, t.Lease.Charges
		if rent == 0 {
			if a := f.apartment(t.Lease.Building, t.Lease.Apartment); a != nil {
				rent, charges = a.Rent, a.Charges
			}
		}
		_, err = e.Leases.Create(ctx, actor, engine.LeaseInput{
			TenantID:    tenant.ID,
			ApartmentID: apartments[t.Lease.Building][t.Lease.Apartment],
			LeaseTerms: engine.LeaseTerms{
				StartDate:   t.Lease.StartDate,
				EndDate:     t.Lease.EndDate,
				MonthlyRent: rent,
				Charges:     charges,
				Deposit:     t.Lease.Deposit,
				PaymentDay:  t.Lease.PaymentDay,
			},
		})
		if err != nil {
			return res, fmt.Errorf("lease of %s: %w", t.Email, err)
		}
		res.Leases++
	}

	logger.Info("fixtures applied",
		zap.Int("admins", res.Admins),
		zap.Int("buildings", res.Buildings),
		zap.Int("apartments", res.Apartments),
		zap.Int("tenants", res.Tenants),
		zap.Int("leases", res.Leases),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// apartment finds an apartment fixture by building key and number
func (f *Fixtures) apartment(building, number string) *Apartment {
	for i := range f.Buildings {
		if f.Buildings[i].Key != building {
			continue
		}
		for j := range f.Buildings[i].Apartments {
			if f.Buildings[i].Apartments[j].Number == number {
				return &f.Buildings[i].Apartments[j]
			}
		}
	}
	return nil
}

func ensureBuilding(ctx context.Context, e *engine.Engines, actor engine.Actor, b Building) (string, bool, error) {
	page, err := e.Buildings.List(ctx, engine.QueryParams{Search: b.Name, PageSize: 100})
	if err != nil {
		return "", false, err
	}
	for _, existing := range page.Data {
		if existing.Name == b.Name {
			return existing.ID, false, nil
		}
	}
	created, err := e.Buildings.Create(ctx, actor, engine.BuildingInput{
		Name:        b.Name,
		Address:     b.Address,
		City:        b.City,
		PostalCode:  b.PostalCode,
		Floors:      b.Floors,
		YearBuilt:   b.YearBuilt,
		Description: b.Description,
	})
	if err != nil {
		return "", false, fmt.Errorf("building %s: %w", b.Key, err)
	}
	return created.ID, true, nil
}

// fillApartmentIDs adds the apartments of a building that already existed
func fillApartmentIDs(ctx context.Context, e *engine.Engines, buildingID string, numbers map[string]string) error {
	params := engine.QueryParams{PageSize: 100}.WithFilter("building_id", buildingID)
	for page := 1; ; page++ {
		params.Page = page
		res, err := e.Apartments.List(ctx, params)
		if err != nil {
			return err
		}
		for _, a := range res.Data {
			if _, ok := numbers[a.Number]; !ok {
				numbers[a.Number] = a.ID
			}
		}
		if page >= res.TotalPages {
			return nil
		}
	}
}
