package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom log forwarding configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// RedisConfig holds record store connectivity.
type RedisConfig struct {
	URL string
}

// BlobConfig holds S3 blob store settings. An empty Endpoint means the
// standard AWS endpoint; AccessKey/SecretKey switch the client to static
// credentials for S3-compatible stores.
type BlobConfig struct {
	Endpoint           string
	Region             string
	Bucket             string
	AccessKey          string
	SecretKey          string
	EncryptionPassword string
	SignTTL            time.Duration
	PathStyle          bool
}

// BackendsConfig holds remote engine endpoints and probe cadence.
// Empty engine URLs leave the corresponding engine unregistered.
type BackendsConfig struct {
	LayoutURL       string
	OCRURL          string
	VisionURL       string
	Device          string
	Lang            string
	ProbeInterval   time.Duration
	ProbeTimeout    time.Duration
	LayoutTimeout   time.Duration
	LayoutMaxFileMB int
}

// ProvidersConfig holds model tags and cloud credentials. A provider is
// configured iff its key is non-empty; the local provider is always on.
type ProvidersConfig struct {
	VisionModel    string
	EmbedModel     string
	ExtractModel   string
	OpenAIKey      string
	OpenAIModel    string
	AnthropicKey   string
	AnthropicModel string
}

// EnrichConfig bounds the vision enrichment fan-out.
type EnrichConfig struct {
	LocalLimit  int
	CloudLimit  int
	CallTimeout time.Duration
	Retries     int
}

// EmbedConfig controls the embedding generator. Dim 0 locks the
// dimension from the first successful call.
type EmbedConfig struct {
	Timeout time.Duration
	Dim     int
}

// ExtractConfig controls structured extraction and its circuit breaker.
type ExtractConfig struct {
	Timeout            time.Duration
	BreakerBaseBackoff time.Duration
	BreakerMaxBackoff  time.Duration
}

// TemplatesConfig locates extraction template files.
type TemplatesConfig struct {
	Dir string
}

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Axiom     AxiomConfig
	Redis     RedisConfig
	Blob      BlobConfig
	Backends  BackendsConfig
	Providers ProvidersConfig
	Enrich    EnrichConfig
	Embed     EmbedConfig
	Extract   ExtractConfig
	Templates TemplatesConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	// Server defaults
	cfg.Server = ServerConfig{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            parseInt(getEnv("PORT", "9006"), 9006),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
	}

	// Logging defaults
	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/docpipeline.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	// Axiom defaults
	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_docpipeline",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	// Redis defaults
	cfg.Redis = RedisConfig{
		URL: getEnv("REDIS_URL", "redis://localhost:6379"),
	}

	// Blob store defaults
	cfg.Blob = BlobConfig{
		Endpoint:           getEnv("BLOB_ENDPOINT", ""),
		Region:             getEnv("BLOB_REGION", "us-east-1"),
		Bucket:             getEnv("BLOB_BUCKET", "document-images"),
		AccessKey:          getEnv("BLOB_ACCESS_KEY", ""),
		SecretKey:          getEnv("BLOB_SECRET_KEY", ""),
		EncryptionPassword: getEnv("BLOB_ENCRYPTION_PASSWORD", ""),
		SignTTL:            parseDuration(getEnv("BLOB_SIGN_TTL", "1h"), time.Hour),
		PathStyle:          parseBool(getEnv("BLOB_PATH_STYLE", "false")),
	}

	// Backend defaults
	cfg.Backends = BackendsConfig{
		LayoutURL:       getEnv("LAYOUT_SERVICE_URL", ""),
		OCRURL:          getEnv("OCR_SERVICE_URL", ""),
		VisionURL:       getEnv("VISION_LLM_URL", "http://localhost:11434"),
		Device:          getEnv("DEVICE", "cpu"),
		Lang:            getEnv("DOC_LANG", "en"),
		ProbeInterval:   parseDuration(getEnv("PROBE_INTERVAL", "30s"), 30*time.Second),
		ProbeTimeout:    parseDuration(getEnv("PROBE_TIMEOUT", "2s"), 2*time.Second),
		LayoutTimeout:   parseDuration(getEnv("LAYOUT_TIMEOUT", "300s"), 300*time.Second),
		LayoutMaxFileMB: parseInt(getEnv("LAYOUT_MAX_FILE_MB", "100"), 100),
	}

	// Provider defaults
	cfg.Providers = ProvidersConfig{
		VisionModel:    getEnv("VISION_LLM_MODEL", "llama3.2-vision"),
		EmbedModel:     getEnv("EMBED_MODEL", "nomic-embed-text"),
		ExtractModel:   getEnv("EXTRACT_MODEL", "qwen2.5-coder:7b"),
		OpenAIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4.1"),
		AnthropicKey:   getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel: getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet"),
	}

	// Enrichment defaults
	cfg.Enrich = EnrichConfig{
		LocalLimit:  parseInt(getEnv("ENRICH_LOCAL_LIMIT", "3"), 3),
		CloudLimit:  parseInt(getEnv("ENRICH_CLOUD_LIMIT", "8"), 8),
		CallTimeout: parseDuration(getEnv("ENRICH_TIMEOUT", "120s"), 120*time.Second),
		Retries:     parseInt(getEnv("ENRICH_RETRIES", "2"), 2),
	}

	// Embedding defaults
	cfg.Embed = EmbedConfig{
		Timeout: parseDuration(getEnv("EMBED_TIMEOUT", "30s"), 30*time.Second),
		Dim:     parseInt(getEnv("EMBED_DIM", "0"), 0),
	}

	// Extraction defaults
	cfg.Extract = ExtractConfig{
		Timeout:            parseDuration(getEnv("EXTRACT_TIMEOUT", "120s"), 120*time.Second),
		BreakerBaseBackoff: parseDuration(getEnv("BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		BreakerMaxBackoff:  parseDuration(getEnv("BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
	}

	// Template defaults
	cfg.Templates = TemplatesConfig{
		Dir: getEnv("TEMPLATES_DIR", "config/templates"),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
