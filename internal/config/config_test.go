package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GIN_MODE", "test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/uploads", cfg.UploadDir)
	assert.Equal(t, "^application/pdf$", cfg.AllowedMimeRegexp)
	assert.Equal(t, int64(100*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, 10, cfg.MaxFiles)
	assert.Equal(t, 10, cfg.UploadTTLMinutes)
	assert.True(t, cfg.VerifySignature)
	assert.True(t, cfg.MimePattern().MatchString("application/pdf"))
	assert.False(t, cfg.MimePattern().MatchString("application/pdfx"))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GIN_MODE", "test")
	t.Setenv("MAX_FILES", "3")
	t.Setenv("MAX_FILE_SIZE", "2048")
	t.Setenv("VERIFY_SIGNATURE", "false")
	t.Setenv("MAX_PAGES", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxFiles)
	assert.Equal(t, int64(2048), cfg.MaxFileSize)
	assert.False(t, cfg.VerifySignature)
	assert.Equal(t, 200, cfg.MaxPages, "invalid numbers fall back to the default")
}

func TestLoadUploadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upload.yaml")
	content := []byte("upload:\n  dir: " + dir + "\n  maxFiles: 4\n  mimePattern: \"^application/(pdf|x-pdf)$\"\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("GIN_MODE", "test")
	t.Setenv("MAX_FILES", "7")
	t.Setenv("UPLOAD_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.UploadDir)
	assert.Equal(t, 4, cfg.MaxFiles)
	assert.True(t, cfg.MimePattern().MatchString("application/x-pdf"))
	assert.Equal(t, int64(100*1024*1024), cfg.MaxFileSize)
}

func TestValidate(t *testing.T) {
	base := Config{
		UploadDir:         "/tmp/uploads",
		AllowedMimeRegexp: "^application/pdf$",
		MaxFileSize:       1,
		MaxFiles:          1,
		UploadTTLMinutes:  10,
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad regexp", mutate: func(c *Config) { c.AllowedMimeRegexp = "(" }, wantErr: true},
		{name: "zero size", mutate: func(c *Config) { c.MaxFileSize = 0 }, wantErr: true},
		{name: "zero files", mutate: func(c *Config) { c.MaxFiles = 0 }, wantErr: true},
		{name: "request limit overflows", mutate: func(c *Config) {
			c.MaxFileSize = 1 << 62
			c.MaxFiles = 10
		}, wantErr: true},
		{name: "fields size overflows", mutate: func(c *Config) { c.MaxFieldsSize = math.MaxInt64 }, wantErr: true},
		{name: "large but representable", mutate: func(c *Config) {
			c.MaxFileSize = 1 << 40
			c.MaxFiles = 100
		}},
		{name: "zero ttl", mutate: func(c *Config) { c.UploadTTLMinutes = 0 }, wantErr: true},
		{name: "negative ttl", mutate: func(c *Config) { c.UploadTTLMinutes = -5 }, wantErr: true},
		{name: "empty dir", mutate: func(c *Config) { c.UploadDir = " " }, wantErr: true},
		{name: "release without queue", mutate: func(c *Config) { c.GinMode = "release" }, wantErr: true},
		{name: "release with queue", mutate: func(c *Config) {
			c.GinMode = "release"
			c.QueueRedisURL = "redis://127.0.0.1:6379/0"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
