package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	_, err = tmpfile.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	return tmpfile.Name()
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "127.0.0.1"

database:
  host: "testdb"
  port: 5432
  user: "testuser"
  password: "testpass"
  dbname: "testdb"

billing:
  costPerMinute: "0.25"

storage:
  driver: s3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Expected host 127.0.0.1, got %s", cfg.Server.Host)
	}
	if cfg.Database.Host != "testdb" {
		t.Errorf("Expected database host testdb, got %s", cfg.Database.Host)
	}

	cost, err := cfg.Billing.CostPerMinuteDecimal()
	require.NoError(t, err)
	assert.True(t, cost.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, "s3", cfg.Storage.Driver)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 8081\n"))
	require.NoError(t, err)

	assert.Equal(t, "minio", cfg.Storage.Driver)
	assert.Equal(t, "local", cfg.Lock.Backend)
	assert.Equal(t, int64(100*1024*1024), cfg.Limits.MaxUploadBytes)
	assert.Equal(t, 60, cfg.Limits.MaxDurationMinutes)
	assert.Equal(t, []string{"mp4", "webm", "wav"}, cfg.Limits.AllowedFormats)
	assert.Equal(t, 0, cfg.Billing.MaxReserveAttempts)
	assert.Equal(t, 10*time.Second, cfg.Billing.ReserveTimeout)
	assert.Equal(t, 15*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 23, cfg.Media.CRF)

	allowed, err := cfg.Billing.DefaultAllowedDecimal()
	require.NoError(t, err)
	assert.True(t, allowed.Equal(decimal.NewFromInt(30)))
}

func TestLoadWebhooks(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
webhooks:
  timeout: 3s
  endpoints:
    - url: https://hooks.example.com/captions
      secret: s3cret
      events: [burn.completed, burn.failed]
`))
	require.NoError(t, err)

	require.Len(t, cfg.Webhooks.Endpoints, 1)
	assert.Equal(t, 3*time.Second, cfg.Webhooks.Timeout)
	assert.Equal(t, "https://hooks.example.com/captions", cfg.Webhooks.Endpoints[0].URL)
	assert.Equal(t, []string{"burn.completed", "burn.failed"}, cfg.Webhooks.Endpoints[0].Events)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BILLING_COSTPERMINUTE", "0.05")
	cfg, err := Load(writeConfig(t, "server:\n  port: 8081\n"))
	require.NoError(t, err)

	cost, err := cfg.Billing.CostPerMinuteDecimal()
	require.NoError(t, err)
	assert.Equal(t, "0.05", cost.StringFixed(2))
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad cost", "billing:\n  costPerMinute: \"ten\"\n"},
		{"negative cost", "billing:\n  costPerMinute: \"-1\"\n"},
		{"negative allowance", "billing:\n  defaultAllowedMinutes: \"-5\"\n"},
		{"unknown driver", "storage:\n  driver: gcs\n"},
		{"unknown lock", "lock:\n  backend: etcd\n"},
		{"zero upload limit", "limits:\n  maxUploadBytes: 0\n"},
		{"webhook without url", "webhooks:\n  endpoints:\n    - secret: abc\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestValidateWorker(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"default local lock", "server:\n  port: 8081\n", true},
		{"explicit local lock", "lock:\n  backend: local\n", true},
		{"redis lock", "lock:\n  backend: redis\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.content))
			require.NoError(t, err)

			err = cfg.ValidateWorker()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "lock.backend")
				return
			}
			assert.NoError(t, err)
		})
	}
}
