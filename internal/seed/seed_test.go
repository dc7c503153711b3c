package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aethra/domus/internal/config"
	"github.com/aethra/domus/internal/engine"
	"github.com/aethra/domus/internal/models"
	"github.com/aethra/domus/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const fixtureYAML = `
settings:
  company.name: Residences du Parc
admins:
  - email: Owner@Example.com
    password: changeme123
    first_name: Claire
    last_name: Martin
buildings:
  - key: parc
    name: Residence du Parc
    address: 12 rue des Lilas
    city: Lyon
    postal_code: "69003"
    floors: 4
    apartments:
      - number: A1
        floor: 1
        type: t2
        surface: 45.5
        rent: 750
        charges: 50
      - number: A2
        floor: 1
        type: studio
        rent: 520
tenants:
  - email: tenant@example.com
    password: tenantpass1
    first_name: Hugo
    last_name: Bernard
    lease:
      building: parc
      apartment: A1
      start_date: 2026-01-01
      end_date: 2027-01-01
  - email: other@example.com
    first_name: Lea
    last_name: Petit
`

func TestParse_RejectsUnknownReferences(t *testing.T) {
	_, err := Parse([]byte(`
buildings:
  - name: Tower
tenants:
  - email: a@b.io
    lease: {building: Nowhere, apartment: "1"}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown building")

	_, err = Parse([]byte(`
buildings:
  - name: Tower
    apartments: [{number: "1"}]
tenants:
  - email: a@b.io
    lease: {building: Tower, apartment: "2"}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown apartment")

	_, err = Parse([]byte("buildings:\n  - name: A\n  - name: A\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtureYAML), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	require.Len(t, f.Buildings, 1)
	assert.Len(t, f.Buildings[0].Apartments, 2)
	require.NotNil(t, f.Tenants[0].Lease)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), f.Tenants[0].Lease.StartDate.UTC())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApply_IsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)
	clock := &testutil.Clock{T: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	testutil.Freeze(db, clock)
	engines := engine.New(db, engine.Options{Now: clock.Now})
	settings := config.NewSettingsService(db)
	ctx := context.Background()

	f, err := Parse([]byte(fixtureYAML))
	require.NoError(t, err)

	res, err := Apply(ctx, engines, settings, f, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Admins)
	assert.Equal(t, 1, res.Buildings)
	assert.Equal(t, 2, res.Apartments)
	assert.Equal(t, 2, res.Tenants)
	assert.Equal(t, 1, res.Leases)
	assert.Equal(t, 1, res.Settings)
	assert.Zero(t, res.Skipped)
	assert.Equal(t, "Residences du Parc", settings.Get(config.SettingCompanyName))

	tenant, err := engines.Tenants.GetByEmail(ctx, "tenant@example.com")
	require.NoError(t, err)
	lease, err := engines.Leases.Current(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseActive, lease.Status)
	assert.Equal(t, 750.0, lease.MonthlyRent, "rent taken from the apartment")
	assert.Equal(t, 50.0, lease.Charges)

	again, err := Apply(ctx, engines, settings, f, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, again.Admins+again.Buildings+again.Apartments+again.Tenants+again.Leases)
	assert.Equal(t, 6, again.Skipped)

	var buildings []models.Building
	require.NoError(t, db.Find(&buildings).Error)
	require.Len(t, buildings, 1)
	assert.Equal(t, 2, buildings[0].TotalUnits)
	assert.Equal(t, 1, buildings[0].OccupiedUnits)
}
