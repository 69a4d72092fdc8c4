package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, ":50061", cfg.Server.GRPCAddr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, "auto", cfg.Device.RAMConstrained)
	assert.EqualValues(t, 3072, cfg.Device.RAMThresholdMB)
	assert.Equal(t, 64, cfg.Observers.PoolSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"HTTP_ADDR":            "127.0.0.1:9000",
		"GRPC_ADDR":            "127.0.0.1:9001",
		"LOG_LEVEL":            "debug",
		"LOG_DEV":              "true",
		"RATE_LIMIT_RPS":       "500",
		"STABILITY_TEST":       "true",
		"RAM_CONSTRAINED":      "false",
		"APP_MEMORY_MB":        "768",
		"MAX_OBSERVERS":        "10",
		"HOST_MIRROR_ENABLED":  "true",
		"HOST_MIRROR_INTERVAL": "2s",
		"CORS_ORIGINS":         "http://a.example,http://b.example",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, "127.0.0.1:9001", cfg.Server.GRPCAddr)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.True(t, cfg.Device.StabilityTest)
	assert.Equal(t, "false", cfg.Device.RAMConstrained)
	assert.Equal(t, 768, cfg.Device.AppMemoryMB)
	assert.Equal(t, 10, cfg.Observers.MaxObservers)
	assert.True(t, cfg.Host.MirrorEnabled)
	assert.Equal(t, 2*time.Second, cfg.Host.MirrorInterval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("RAM_CONSTRAINED", "maybe")
	_, err := Load()
	assert.Error(t, err)
}

const sampleProfile = `
[device]
stability_test = true
app_memory_mb = 512

[[bundles]]
name = "com.example.mail"
uid = 20010001
clones = [1, 2]
executable = "mail"

[[bundles]]
name = "com.example.card"
type = "atomicService"

[[callers]]
id = "admin"
bundle_name = "com.example.settings"
token_hash = "$2a$04$abcdefghijklmnopqrstuu"
permissions = ["ohos.permission.GET_RUNNING_INFO"]
`

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile([]byte(sampleProfile))
	require.NoError(t, err)

	require.Len(t, p.Bundles, 2)
	assert.Equal(t, []int32{1, 2}, p.Bundles[0].Clones)
	assert.Equal(t, "atomicService", p.Bundles[1].Type)
	require.Len(t, p.Callers, 1)
	assert.Equal(t, []string{"ohos.permission.GET_RUNNING_INFO"}, p.Callers[0].Permissions)

	dev := Default().Device
	p.Apply(&dev)
	assert.True(t, dev.StabilityTest)
	assert.Equal(t, 512, dev.AppMemoryMB)
	assert.Equal(t, "auto", dev.RAMConstrained) // not set in profile
}

func TestParseProfileErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", "[device\n"},
		{"unknown field", "[device]\ncolour = 1\n"},
		{"duplicate bundle", "[[bundles]]\nname = \"a\"\n[[bundles]]\nname = \"a\"\n"},
		{"missing caller id", "[[callers]]\nbundle_name = \"a\"\n"},
		{"bad type", "[[bundles]]\nname = \"a\"\ntype = \"widget\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfile([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadProfile(t *testing.T) {
	p, err := LoadProfile("")
	require.NoError(t, err)
	assert.Empty(t, p.Bundles)

	path := filepath.Join(t.TempDir(), "host.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleProfile), 0o600))
	p, err = LoadProfile(path)
	require.NoError(t, err)
	assert.Len(t, p.Bundles, 2)

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
