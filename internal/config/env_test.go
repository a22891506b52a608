package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9006, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "logs/docpipeline.log", cfg.Logging.File)
	assert.Equal(t, 100, cfg.Logging.MaxSizeMB)

	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)

	assert.Equal(t, "document-images", cfg.Blob.Bucket)
	assert.Equal(t, time.Hour, cfg.Blob.SignTTL)
	assert.Empty(t, cfg.Blob.Endpoint)

	assert.Empty(t, cfg.Backends.LayoutURL)
	assert.Equal(t, "http://localhost:11434", cfg.Backends.VisionURL)
	assert.Equal(t, 30*time.Second, cfg.Backends.ProbeInterval)
	assert.Equal(t, 2*time.Second, cfg.Backends.ProbeTimeout)
	assert.Equal(t, 300*time.Second, cfg.Backends.LayoutTimeout)
	assert.Equal(t, 100, cfg.Backends.LayoutMaxFileMB)

	assert.Equal(t, "llama3.2-vision", cfg.Providers.VisionModel)
	assert.Equal(t, "nomic-embed-text", cfg.Providers.EmbedModel)
	assert.Equal(t, "qwen2.5-coder:7b", cfg.Providers.ExtractModel)

	assert.Equal(t, 3, cfg.Enrich.LocalLimit)
	assert.Equal(t, 8, cfg.Enrich.CloudLimit)
	assert.Equal(t, 120*time.Second, cfg.Enrich.CallTimeout)
	assert.Equal(t, 2, cfg.Enrich.Retries)

	assert.Equal(t, 30*time.Second, cfg.Embed.Timeout)
	assert.Equal(t, 0, cfg.Embed.Dim)

	assert.Equal(t, 120*time.Second, cfg.Extract.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Extract.BreakerBaseBackoff)
	assert.Equal(t, 5*time.Minute, cfg.Extract.BreakerMaxBackoff)

	assert.Equal(t, "config/templates", cfg.Templates.Dir)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "8080")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LAYOUT_SERVICE_URL", "http://layout:9006")
	t.Setenv("OCR_SERVICE_URL", "http://ocr:8884")
	t.Setenv("VISION_LLM_URL", "http://ollama:11434")
	t.Setenv("VISION_LLM_MODEL", "llava:13b")
	t.Setenv("EMBED_MODEL", "mxbai-embed-large")
	t.Setenv("DEVICE", "gpu_metal")
	t.Setenv("DOC_LANG", "de")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "ak-test")
	t.Setenv("ENRICH_LOCAL_LIMIT", "5")
	t.Setenv("EMBED_DIM", "768")
	t.Setenv("BLOB_BUCKET", "scratch-bucket")
	t.Setenv("BLOB_SIGN_TTL", "15m")

	cfg := FromEnv()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "http://layout:9006", cfg.Backends.LayoutURL)
	assert.Equal(t, "http://ocr:8884", cfg.Backends.OCRURL)
	assert.Equal(t, "http://ollama:11434", cfg.Backends.VisionURL)
	assert.Equal(t, "llava:13b", cfg.Providers.VisionModel)
	assert.Equal(t, "mxbai-embed-large", cfg.Providers.EmbedModel)
	assert.Equal(t, "gpu_metal", cfg.Backends.Device)
	assert.Equal(t, "de", cfg.Backends.Lang)
	assert.Equal(t, "sk-test", cfg.Providers.OpenAIKey)
	assert.Equal(t, "ak-test", cfg.Providers.AnthropicKey)
	assert.Equal(t, 5, cfg.Enrich.LocalLimit)
	assert.Equal(t, 768, cfg.Embed.Dim)
	assert.Equal(t, "scratch-bucket", cfg.Blob.Bucket)
	assert.Equal(t, 15*time.Minute, cfg.Blob.SignTTL)
}

func TestFromEnvBadValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("ENRICH_TIMEOUT", "soon")
	t.Setenv("LOG_MAX_SIZE_MB", "")

	cfg := FromEnv()

	assert.Equal(t, 9006, cfg.Server.Port)
	assert.Equal(t, 120*time.Second, cfg.Enrich.CallTimeout)
	assert.Equal(t, 100, cfg.Logging.MaxSizeMB)
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"1", true},
		{"true", true},
		{"TRUE", true},
		{"yes", true},
		{"on", true},
		{" on ", true},
		{"0", false},
		{"false", false},
		{"", false},
		{"off", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseBool(tt.in))
		})
	}
}

func TestAxiomDatasetSuffix(t *testing.T) {
	t.Setenv("AXIOM_DATASET", "prod")

	cfg := FromEnv()
	require.Equal(t, "prod_docpipeline", cfg.Axiom.Dataset)
}
