package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QANAT_PLATFORM", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "youtube", cfg.Platform)
	assert.Equal(t, 768, cfg.Database.EmbeddingDimension)
	assert.Equal(t, "text-embedding-004", cfg.Gemini.EmbeddingModel)
	assert.Equal(t, "QANAT", cfg.NATS.StreamName)
}

func TestLoadYAMLOverlayAndEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qanat.yaml")
	yaml := `
platform: tiktok
database:
  embedding_dimension: 1536
gemini:
  model: gemini-2.5-flash
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("QANAT_PLATFORM", "instagram")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "instagram", cfg.Platform, "env overrides file")
	assert.Equal(t, 1536, cfg.Database.EmbeddingDimension, "file overrides default")
	assert.Equal(t, "gemini-2.5-flash", cfg.Gemini.Model)
	assert.Equal(t, "test-key", cfg.Gemini.APIKey)
}

func TestLoadRejectsUnknownPlatform(t *testing.T) {
	t.Setenv("QANAT_PLATFORM", "twitch")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown platform")
}

func TestContentTypeRegistry(t *testing.T) {
	ct, err := ContentTypeByID("monthly_releases")
	require.NoError(t, err)
	assert.Equal(t, "إصدارات الشهر", ct.DisplayName)
	assert.Equal(t, 25, ct.ScheduleDay)
	assert.Equal(t, "monthly", ct.ScheduleType)

	_, err = ContentTypeByID("podcasts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monthly_releases")
}
