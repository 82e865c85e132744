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
	t.Setenv("APP_ENV", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, time.Hour, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, []string{"*"}, cfg.App.CORSOrigins)
	assert.Equal(t, developmentSecret, cfg.JWT.Secret, "development falls back to a fixed secret")
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := []byte("APP_PORT=9090\nDB_DRIVER=Postgres\nDATABASE_URL=postgres://localhost/absence\nCORS_ORIGINS=https://a.example, https://b.example\nDB_CONN_MAX_IDLE_TIME=5m\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Cleanup(func() {
		for _, key := range []string{"APP_PORT", "DB_DRIVER", "DATABASE_URL", "CORS_ORIGINS", "DB_CONN_MAX_IDLE_TIME"} {
			os.Unsetenv(key)
		}
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/absence", cfg.Database.URL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.App.CORSOrigins)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxIdleTime)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"APP_PORT": "eighty"}},
		{"unknown driver", map[string]string{"DB_DRIVER": "oracle"}},
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres", "DATABASE_URL": ""}},
		{"production without secret", map[string]string{"APP_ENV": "production", "JWT_SECRET": ""}},
		{"bad lifetime", map[string]string{"DB_CONN_MAX_LIFETIME": "forever"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}
