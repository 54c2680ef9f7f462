package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Pipeline PipelineConfig
	LLM      LLMConfig
	Quota    QuotaConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Queue    QueueConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	BodyLimit       int
	ShutdownTimeout time.Duration
	Version         string
}

// PipelineConfig holds limits and switches for the analysis pipeline
type PipelineConfig struct {
	MaxTextBytes  int64
	MaxPDFBytes   int64
	MaxImageBytes int64

	TextBudget     int
	MinPDFChars    int
	PDFTimeout     time.Duration
	RequestTimeout time.Duration

	EnableVisionFallbackForPDF bool
	VerifyContentType          bool
	ImageMode                  string // "ocr" | "direct"

	TruncationKeywords []string
	TruncationMarker   string
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Provider        string // "openai" | "vertex"
	Model           string
	VisionModel     string
	APIKey          string
	BaseURL         string
	Temperature     float32
	Timeout         time.Duration
	MaxTokens       int
	VisionMaxTokens int
	AdaptiveTokens  bool
	GCPProject      string
	GCPRegion       string
}

// QuotaConfig holds usage-limit configuration
type QuotaConfig struct {
	Enabled       bool
	Backend       string // "memory" | "sql"
	Window        time.Duration
	MaxRequests   int
	BlockDuration time.Duration
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver          string // "sqlite" | "postgres" | "" (disabled)
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// StorageConfig holds S3-compatible object storage configuration
type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// QueueConfig holds async worker configuration
type QueueConfig struct {
	Workers    int
	Size       int
	JobTimeout time.Duration
}

// DefaultTruncationKeywords are matched case-insensitively by the truncation policy.
var DefaultTruncationKeywords = []string{
	"lab", "test", "result", "blood", "glucose", "cholesterol", "hemoglobin",
	"cbc", "metabolic", "panel", "mg/dl", "mmol/l", "normal", "high", "low",
	"reference", "range", "abnormal", "critical", "value", "patient",
}

// DefaultTruncationMarker is appended to text cut down by the truncation policy.
const DefaultTruncationMarker = "\n[Text truncated to preserve medical content...]"

// LoadConfig loads configuration from environment variables, then applies
// the optional YAML overlay named by LABWISE_CONFIG.
func LoadConfig() (*Config, error) {
	provider := getEnv("LLM_PROVIDER", "openai")
	textModel, visionModel := "gpt-4o-mini", "gpt-4o"
	if provider == "vertex" {
		textModel, visionModel = "gemini-1.5-flash", "gemini-1.5-pro"
	}

	cfg := &Config{
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:        getEnv("GRPC_ADDR", ":9090"),
			BodyLimit:       getEnvAsInt("HTTP_BODY_LIMIT", 26*1024*1024),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
			Version:         getEnv("LABWISE_VERSION", "dev"),
		},
		Pipeline: PipelineConfig{
			MaxTextBytes:               getEnvAsInt64("MAX_TEXT_BYTES", 10*1024*1024),
			MaxPDFBytes:                getEnvAsInt64("MAX_PDF_BYTES", 10*1024*1024),
			MaxImageBytes:              getEnvAsInt64("MAX_IMAGE_BYTES", 25*1024*1024),
			TextBudget:                 getEnvAsInt("TEXT_BUDGET", 8000),
			MinPDFChars:                getEnvAsInt("MIN_PDF_CHARS", 10),
			PDFTimeout:                 getEnvAsDuration("PDF_TIMEOUT", 30*time.Second),
			RequestTimeout:             getEnvAsDuration("REQUEST_TIMEOUT", 120*time.Second),
			EnableVisionFallbackForPDF: getEnvAsBool("ENABLE_VISION_FALLBACK_FOR_PDF", false),
			VerifyContentType:          getEnvAsBool("VERIFY_CONTENT_TYPE", false),
			ImageMode:                  getEnv("IMAGE_MODE", "ocr"),
			TruncationKeywords:         DefaultTruncationKeywords,
			TruncationMarker:           DefaultTruncationMarker,
		},
		LLM: LLMConfig{
			Provider:        provider,
			Model:           getEnv("LLM_MODEL", getEnv("OPENAI_MODEL", textModel)),
			VisionModel:     getEnv("LLM_VISION_MODEL", getEnv("OPENAI_VISION_MODEL", visionModel)),
			APIKey:          getEnv("OPENAI_API_KEY", ""),
			BaseURL:         getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Temperature:     getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:         getEnvAsDuration("OPENAI_TIMEOUT", 120*time.Second),
			MaxTokens:       getEnvAsInt("LLM_MAX_TOKENS", 3000),
			VisionMaxTokens: getEnvAsInt("LLM_VISION_MAX_TOKENS", 4000),
			AdaptiveTokens:  getEnvAsBool("LLM_ADAPTIVE_TOKENS", false),
			GCPProject:      getEnv("GCP_PROJECT", ""),
			GCPRegion:       getEnv("VERTEX_REGION", "us-central1"),
		},
		Quota: QuotaConfig{
			Enabled:       getEnvAsBool("QUOTA_ENABLED", true),
			Backend:       getEnv("QUOTA_BACKEND", "memory"),
			Window:        getEnvAsDuration("QUOTA_WINDOW", time.Minute),
			MaxRequests:   getEnvAsInt("QUOTA_MAX_REQUESTS", 10),
			BlockDuration: getEnvAsDuration("QUOTA_BLOCK_DURATION", 5*time.Minute),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", ""),
			DSN:             getEnv("DB_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Storage: StorageConfig{
			Enabled:   getEnvAsBool("STORAGE_ENABLED", false),
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "labwise-uploads"),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		Queue: QueueConfig{
			Workers:    getEnvAsInt("QUEUE_WORKERS", 4),
			Size:       getEnvAsInt("QUEUE_SIZE", 64),
			JobTimeout: getEnvAsDuration("QUEUE_JOB_TIMEOUT", 3*time.Minute),
		},
	}

	if path := getEnv("LABWISE_CONFIG", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// fileOverlay is the YAML shape of LABWISE_CONFIG. Zero values leave the env config untouched.
type fileOverlay struct {
	Pipeline struct {
		TextBudget    int      `yaml:"text_budget"`
		MaxTextBytes  int64    `yaml:"max_text_bytes"`
		MaxPDFBytes   int64    `yaml:"max_pdf_bytes"`
		MaxImageBytes int64    `yaml:"max_image_bytes"`
		MinPDFChars   int      `yaml:"min_pdf_chars"`
		Keywords      []string `yaml:"truncation_keywords"`
		Marker        string   `yaml:"truncation_marker"`
	} `yaml:"pipeline"`
	LLM struct {
		Model       string `yaml:"model"`
		VisionModel string `yaml:"vision_model"`
	} `yaml:"llm"`
}

func (c *Config) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return NewAppError(CodeConfig, fmt.Sprintf("read config file %s", path), err)
	}
	var ov fileOverlay
	if err := yaml.Unmarshal(b, &ov); err != nil {
		return NewAppError(CodeConfig, fmt.Sprintf("parse config file %s", path), err)
	}
	p := ov.Pipeline
	if p.TextBudget > 0 {
		c.Pipeline.TextBudget = p.TextBudget
	}
	if p.MaxTextBytes > 0 {
		c.Pipeline.MaxTextBytes = p.MaxTextBytes
	}
	if p.MaxPDFBytes > 0 {
		c.Pipeline.MaxPDFBytes = p.MaxPDFBytes
	}
	if p.MaxImageBytes > 0 {
		c.Pipeline.MaxImageBytes = p.MaxImageBytes
	}
	if p.MinPDFChars > 0 {
		c.Pipeline.MinPDFChars = p.MinPDFChars
	}
	if len(p.Keywords) > 0 {
		c.Pipeline.TruncationKeywords = p.Keywords
	}
	if p.Marker != "" {
		c.Pipeline.TruncationMarker = p.Marker
	}
	if ov.LLM.Model != "" {
		c.LLM.Model = ov.LLM.Model
	}
	if ov.LLM.VisionModel != "" {
		c.LLM.VisionModel = ov.LLM.VisionModel
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator().
		Field("HTTP_ADDR", c.Server.HTTPAddr, Required).
		Field("TEXT_BUDGET", c.Pipeline.TextBudget, Positive).
		Field("MIN_PDF_CHARS", c.Pipeline.MinPDFChars, Positive).
		Field("MAX_TEXT_BYTES", c.Pipeline.MaxTextBytes, Positive).
		Field("MAX_PDF_BYTES", c.Pipeline.MaxPDFBytes, Positive).
		Field("MAX_IMAGE_BYTES", c.Pipeline.MaxImageBytes, Positive).
		Field("PDF_TIMEOUT", c.Pipeline.PDFTimeout, Positive).
		Field("IMAGE_MODE", c.Pipeline.ImageMode, OneOf("ocr", "direct")).
		Field("LLM_PROVIDER", c.LLM.Provider, OneOf("openai", "vertex")).
		Field("QUOTA_BACKEND", c.Quota.Backend, OneOf("memory", "sql")).
		Field("DB_DRIVER", c.Database.Driver, OneOf("", "sqlite", "postgres"))

	switch c.LLM.Provider {
	case "openai":
		v.Field("OPENAI_API_KEY", c.LLM.APIKey, Required)
	case "vertex":
		v.Field("GCP_PROJECT", c.LLM.GCPProject, Required)
	}
	if c.Database.Driver != "" {
		v.Field("DB_URL", c.Database.DSN, Required)
	}
	if c.Quota.Enabled {
		v.Field("QUOTA_MAX_REQUESTS", c.Quota.MaxRequests, Positive).
			Field("QUOTA_WINDOW", c.Quota.Window, Positive)
		if c.Quota.Backend == "sql" && c.Database.Driver == "" {
			v.Field("DB_DRIVER", c.Database.Driver, Required)
		}
	}
	if c.Storage.Enabled {
		v.Field("MINIO_ENDPOINT", c.Storage.Endpoint, Required).
			Field("MINIO_ACCESS_KEY", c.Storage.AccessKey, Required).
			Field("MINIO_SECRET_KEY", c.Storage.SecretKey, Required)
	}
	return v.AppError(CodeConfig)
}
