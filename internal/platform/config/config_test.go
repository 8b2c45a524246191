package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("AUTH_SECRET_KEY", "s3cret")
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("APP_PER_PAGE", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Auth.SecretKey)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 10, cfg.App.PerPage)
	assert.Equal(t, ":8000", cfg.Server.Address)
	assert.Equal(t, "/api/v1", cfg.Server.APIPrefix)
	assert.Equal(t, 10*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.TokenTTL())
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("AUTH_SECRET_KEY", "s3cret")
	yaml := "ml:\n  predictor_urls:\n    数学: http://models/math\napp:\n  timezone: Asia/Shanghai\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://models/math", cfg.ML.PredictorURLs["数学"])
	assert.Equal(t, "Asia/Shanghai", cfg.App.Location().String())
}

func TestLoad_RequiresSecret(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("AUTH_SECRET_KEY", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseConfig_URL(t *testing.T) {
	c := DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/n?sslmode=disable", c.URL())
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=n sslmode=disable", c.DSN())
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
