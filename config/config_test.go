package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		DBDriver:                  "sqlite",
		SQLitePath:                "loci.db",
		Timezone:                  "Asia/Seoul",
		LevelUpQueueSize:          16,
		UserRateLimitRPS:          5,
		UserRateLimitBurst:        20,
		NotificationRetentionDays: 30,
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LOCI_SERVICE_TOKEN", "svc-token")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "test.db")
	t.Setenv("APP_TIMEZONE", "UTC")
	t.Setenv("SYNC_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "svc-token", cfg.ServiceToken)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, 1024, cfg.LevelUpQueueSize)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoadRequiresServiceToken(t *testing.T) {
	t.Setenv("LOCI_SERVICE_TOKEN", "")
	require.NoError(t, os.Unsetenv("LOCI_SERVICE_TOKEN"))
	t.Setenv("DB_DRIVER", "sqlite")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	pg := validConfig()
	pg.DBDriver = "postgres"
	assert.Error(t, pg.Validate(), "postgres without DATABASE_URL")

	bad := validConfig()
	bad.DBDriver = "mysql"
	assert.Error(t, bad.Validate())

	tz := validConfig()
	tz.Timezone = "Mars/Olympus"
	assert.Error(t, tz.Validate())

	queue := validConfig()
	queue.LevelUpQueueSize = 0
	assert.Error(t, queue.Validate())
}

func TestAllowedOriginList(t *testing.T) {
	cfg := Config{AllowedOrigins: " https://a.lo.ci , ,https://b.lo.ci"}
	assert.Equal(t, []string{"https://a.lo.ci", "https://b.lo.ci"}, cfg.AllowedOriginList())
}
