package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"extract-main-content/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, models.MinContentLength, cfg.Extraction.MinContentLength)
	assert.Equal(t, 30*time.Second, cfg.Extraction.Timeout)
	assert.Equal(t, 2, cfg.Stability.RequiredWindows)
	assert.Equal(t, []string{"[aria-live]", ".advertisement", "[data-ad-slot]"}, cfg.Stability.IgnoredSelectors)
	assert.True(t, cfg.Scrape.RenderFallback)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("EXTRACT_EXTRACTION_MIN_CONTENT_LENGTH", "400")
	t.Setenv("EXTRACT_STABILITY_MAX_WAIT", "3s")
	t.Setenv("EXTRACT_EXTRACTION_DISABLED_METHODS", "heuristic")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 400, cfg.Extraction.MinContentLength)
	assert.Equal(t, 3*time.Second, cfg.Stability.MaxWait)

	opts := cfg.PipelineOptions()
	assert.Equal(t, 400, opts.MinLength())
	assert.True(t, opts.Disabled(models.MethodHeuristic))
}

func TestLoadRejectsUnknownMethod(t *testing.T) {
	t.Setenv("EXTRACT_EXTRACTION_DISABLED_METHODS", "telepathy")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telepathy")

	// LoadOrDefault falls back
	assert.Equal(t, models.MinContentLength, LoadOrDefault().Extraction.MinContentLength)
}

func TestLoadFileOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extract.yaml")
	content := `
server:
  port: "9090"
extraction:
  minContentLength: 500
  siteExtractors: false
stability:
  stableTime: 250ms
  ignoredSelectors: [".ticker"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 500, cfg.Extraction.MinContentLength)
	assert.Equal(t, 250*time.Millisecond, cfg.Stability.StableTime)
	assert.Equal(t, []string{".ticker"}, cfg.Stability.IgnoredSelectors)
	assert.True(t, cfg.PipelineOptions().SkipSiteSpecific)

	// untouched sections keep env defaults
	assert.Equal(t, 100*time.Millisecond, cfg.Stability.CheckInterval)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestUserAgentString(t *testing.T) {
	assert.Contains(t, ScrapeConfig{ChromeMajor: 120}.UserAgentString(), "Chrome/120.")
	assert.Equal(t, "bot/1.0", ScrapeConfig{UserAgent: "bot/1.0"}.UserAgentString())
}

func TestCompileRegexes(t *testing.T) {
	re := CompileRegexes(Default().Image)
	assert.True(t, re["badHint"].MatchString("/static/LOGO.png"))
	assert.NotContains(t, re, "cfBlock")
}

func TestProtectionPagePattern(t *testing.T) {
	assert.True(t, ProtectionPagePattern.MatchString("cloudflare ray id: 1234"))
	assert.True(t, ProtectionPagePattern.MatchString("<title>attention required! | cloudflare</title>"))
	assert.False(t, ProtectionPagePattern.MatchString("<p>an ordinary article about networking</p>"))
}

func TestStabilityOptions(t *testing.T) {
	cfg := Default()
	cfg.Stability.MaxWait = 3 * time.Second

	opts := cfg.StabilityOptions()
	assert.Equal(t, 3*time.Second, opts.MaxWait)
	assert.Equal(t, cfg.Stability.StableTime, opts.StableTime)
	assert.Equal(t, cfg.Stability.IgnoredSelectors, opts.IgnoredSelectors)
	assert.Positive(t, opts.GraceDelay)

	opts.IgnoredSelectors[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Stability.IgnoredSelectors[0])
}
