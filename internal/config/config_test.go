package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-scan-pipeline/pkg/pipeline"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"camera"}, cfg.Scanner.Permissions)
	assert.Equal(t, "back", cfg.Camera.Lens)
	assert.Equal(t, 2, cfg.Decode.Workers)
	assert.True(t, cfg.Decode.TryHarder)
	assert.Equal(t, ":8081", cfg.Server.HTTPAddr)
	assert.Equal(t, 100*time.Millisecond, cfg.FrameInterval())
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout())

	formats, err := cfg.FormatSet()
	require.NoError(t, err)
	assert.Equal(t, pipeline.AllFormats(), formats)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SCAN_CAMERA_LENS", "front")
	t.Setenv("SCAN_DECODE_WORKERS", "4")
	t.Setenv("SCAN_SERVER_HTTP_ADDR", ":9090")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "front", cfg.Camera.Lens)
	assert.Equal(t, 4, cfg.Decode.Workers)
	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scanner:
  formats: [product, qr_code]
  max_permission_prompts: 2
camera:
  max_analysis_fps: 5
storage:
  content_api_url: http://content:4000
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Scanner.MaxPermissionPrompts)
	assert.Equal(t, 5.0, cfg.Camera.MaxAnalysisFPS)
	assert.Equal(t, "http://content:4000", cfg.Storage.ContentAPIURL)

	formats, err := cfg.FormatSet()
	require.NoError(t, err)
	assert.True(t, formats.Contains(pipeline.SymbologyQRCode))
	assert.True(t, formats.Contains(pipeline.SymbologyUPCA))
	assert.False(t, formats.Contains(pipeline.SymbologyCode128))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no permissions", func(c *Config) { c.Scanner.Permissions = nil }},
		{"zero prompts", func(c *Config) { c.Scanner.MaxPermissionPrompts = 0 }},
		{"unknown format", func(c *Config) { c.Scanner.Formats = []string{"morse"} }},
		{"unreadable format", func(c *Config) { c.Scanner.Formats = []string{"qr_code", "pdf_417"} }},
		{"bad lens", func(c *Config) { c.Camera.Lens = "side" }},
		{"negative fps", func(c *Config) { c.Camera.MaxAnalysisFPS = -1 }},
		{"zero interval", func(c *Config) { c.Camera.FrameIntervalMS = 0 }},
		{"zero workers", func(c *Config) { c.Decode.Workers = 0 }},
		{"negative shutdown", func(c *Config) { c.Server.ShutdownSeconds = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_Presets(t *testing.T) {
	for _, preset := range []string{"all", "product", "1d", "2d", "data_matrix", "codabar", "code_93", "aztec"} {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.Scanner.Formats = []string{preset}
		assert.NoError(t, cfg.Validate(), preset)
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("SCAN_CAMERA_LENS", "sideways")
	_, err := Load("")
	assert.Error(t, err)
}
