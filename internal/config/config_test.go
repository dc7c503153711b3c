package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 24*time.Hour, cfg.Auth.AccessExpiry)
	assert.Equal(t, "documents", cfg.Storage.Bucket)
	assert.Equal(t, 5, cfg.RateLimit.LoginBurst)
	assert.Len(t, cfg.CORS.AllowedOrigins, 2)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DOMUS_SERVER_PORT", "9100")
	t.Setenv("DOMUS_DATABASE_DRIVER", "postgres")
	t.Setenv("DOMUS_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "domus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  host: db.internal
  name: estates
auth:
  access_expiry: 2h
scheduler:
  enabled: false
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "estates", cfg.Database.Name)
	assert.Equal(t, 2*time.Hour, cfg.Auth.AccessExpiry)
	assert.False(t, cfg.Scheduler.Enabled)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5433, User: "u", Password: "p@ss", Name: "n", SSLMode: "disable", Timezone: "UTC"}
	assert.Equal(t, "host=h port=5433 user=u password=p@ss dbname=n sslmode=disable TimeZone=UTC", d.DSN())
	assert.Equal(t, "postgres://u:p%40ss@h:5433/n?sslmode=disable", d.URL())
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
