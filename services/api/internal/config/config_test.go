package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"DB_DSN": "postgres://focus@localhost/focus",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.VisionMinInterval)
	assert.Equal(t, time.Minute, cfg.FocusPushMax)
	assert.True(t, cfg.SamplerEnabled)
	assert.False(t, cfg.VisionEnabled())
	assert.False(t, cfg.ArchiveEnabled())
	assert.Equal(t, "us-east-1", cfg.S3.Region)
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"STORE_DRIVER":            "badger",
		"BADGER_IN_MEMORY":        "true",
		"BADGER_PATH":             "",
		"CORS_ALLOWED_ORIGINS":    "https://a.example,https://b.example",
		"OPENAI_API_KEY":          "sk-test",
		"VISION_MIN_INTERVAL":     "30s",
		"FRAME_ARCHIVE_BUCKET":    "frames",
		"FRAME_ARCHIVE_RECIPIENT": "age1example",
		"S3_ENDPOINT":             "minio:9000",
	}))
	require.NoError(t, err)

	assert.Equal(t, DriverBadger, cfg.StoreDriver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.VisionMinInterval)
	assert.True(t, cfg.VisionEnabled())
	assert.True(t, cfg.ArchiveEnabled())
	assert.Equal(t, "minio:9000", cfg.S3.Endpoint)
}

func TestLoadFromRejects(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "postgres without dsn",
			env:     map[string]string{},
			wantErr: "DB_DSN is required",
		},
		{
			name:    "unknown driver",
			env:     map[string]string{"STORE_DRIVER": "sqlite"},
			wantErr: `unknown STORE_DRIVER "sqlite"`,
		},
		{
			name:    "poll interval too short",
			env:     map[string]string{"DB_DSN": "x", "POLL_INTERVAL": "500ms"},
			wantErr: "POLL_INTERVAL must be at least 1s",
		},
		{
			name:    "vision interval too short",
			env:     map[string]string{"DB_DSN": "x", "VISION_MIN_INTERVAL": "0s"},
			wantErr: "VISION_MIN_INTERVAL must be at least 1s",
		},
		{
			name:    "archive without recipient",
			env:     map[string]string{"DB_DSN": "x", "FRAME_ARCHIVE_BUCKET": "frames"},
			wantErr: "FRAME_ARCHIVE_RECIPIENT is required",
		},
		{
			name:    "malformed integer",
			env:     map[string]string{"DB_DSN": "x", "HTTP_RATE_LIMIT": "lots"},
			wantErr: "read environment",
		},
		{
			name:    "malformed duration",
			env:     map[string]string{"DB_DSN": "x", "POLL_INTERVAL": "soon"},
			wantErr: `invalid duration "soon"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(context.Background(), envconfig.MapLookuper(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
