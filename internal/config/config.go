package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Pipeline  PipelineConfig
	Intake    IntakeConfig
	Retention RetentionConfig
	Paths     PathsConfig
	Extractor ExtractorConfig
	OCR       OCRConfig
	S3        S3Config
	CORS      CORSConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"`
}

// PipelineConfig holds lock timing and per-stage deadlines.
type PipelineConfig struct {
	LockRetryInterval time.Duration `mapstructure:"lock_retry_interval"`
	LockMaxRetries    int           `mapstructure:"lock_max_retries"`
	StageTimeout      time.Duration `mapstructure:"stage_timeout"`
	GeneratePDF       bool          `mapstructure:"generate_pdf"`
}

// IntakeConfig holds raw provider-response retention settings.
type IntakeConfig struct {
	RawStorageLevel string `mapstructure:"raw_storage_level"`
	MaxRawBytes     int    `mapstructure:"max_raw_bytes"`
}

// RetentionConfig holds trash-tier retention settings.
type RetentionConfig struct {
	Days         int    `mapstructure:"days"`
	PerJobBytes  int64  `mapstructure:"per_job_bytes"`
	TotalBytes   int64  `mapstructure:"total_bytes"`
	MinKeepCount int    `mapstructure:"min_keep_count"`
	Mode         string `mapstructure:"mode"`
	ArchiveDir   string `mapstructure:"archive_dir"`
}

// PathsConfig holds filesystem roots.
type PathsConfig struct {
	JobsRoot     string `mapstructure:"jobs_root"`
	TemplatesDir string `mapstructure:"templates_dir"`
	ContractFile string `mapstructure:"contract_file"`
}

// ExtractorConfig holds settings for the LLM field-extraction provider.
type ExtractorConfig struct {
	Provider     string `mapstructure:"provider"`
	APIKey       string `mapstructure:"api_key"`
	DefaultModel string `mapstructure:"default_model"`
	MaxRetries   int    `mapstructure:"max_retries"`
	TimeoutSecs  int    `mapstructure:"timeout_secs"`
}

// OCRConfig holds settings for the OCR provider.
type OCRConfig struct {
	Provider      string `mapstructure:"provider"`
	APIKey        string `mapstructure:"api_key"`
	DefaultModel  string `mapstructure:"default_model"`
	FallbackModel string `mapstructure:"fallback_model"`
	TimeoutSecs   int    `mapstructure:"timeout_secs"`
}

// S3Config holds object-storage settings for the external purge mode.
type S3Config struct {
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from environment variables with the QCERT_ prefix.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("QCERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Server defaults
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.environment", "development")

	// Pipeline defaults
	v.SetDefault("pipeline.lock_retry_interval", "50ms")
	v.SetDefault("pipeline.lock_max_retries", 40)
	v.SetDefault("pipeline.stage_timeout", "120s")
	v.SetDefault("pipeline.generate_pdf", false)

	// Intake defaults
	v.SetDefault("intake.raw_storage_level", "minimal")
	v.SetDefault("intake.max_raw_bytes", 262144)

	// Retention defaults
	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.per_job_bytes", 536870912)
	v.SetDefault("retention.total_bytes", 0)
	v.SetDefault("retention.min_keep_count", 3)
	v.SetDefault("retention.mode", "delete")
	v.SetDefault("retention.archive_dir", "photos/_archive")

	// Paths defaults
	v.SetDefault("paths.jobs_root", "./data/jobs")
	v.SetDefault("paths.templates_dir", "./templates")
	v.SetDefault("paths.contract_file", "./contract.yaml")

	// Extractor defaults
	v.SetDefault("extractor.provider", "claude")
	v.SetDefault("extractor.api_key", "")
	v.SetDefault("extractor.default_model", "claude-sonnet-4-20250514")
	v.SetDefault("extractor.max_retries", 2)
	v.SetDefault("extractor.timeout_secs", 120)

	// OCR defaults
	v.SetDefault("ocr.provider", "gemini")
	v.SetDefault("ocr.api_key", "")
	v.SetDefault("ocr.default_model", "gemini-2.0-flash")
	v.SetDefault("ocr.fallback_model", "gemini-1.5-flash")
	v.SetDefault("ocr.timeout_secs", 60)

	// S3 defaults
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "qcert-trash-archive")
	v.SetDefault("s3.endpoint", "")

	// Log defaults
	v.SetDefault("log.level", "debug")
	v.SetDefault("log.format", "console")

	// CORS defaults (localhost origins for development)
	v.SetDefault("cors.allowed_origins", "http://localhost:3000,http://127.0.0.1:3000")

	// Bind environment variables explicitly for nested keys
	envBindings := map[string]string{
		"server.port":                  "QCERT_SERVER_PORT",
		"server.read_timeout":          "QCERT_SERVER_READ_TIMEOUT",
		"server.write_timeout":         "QCERT_SERVER_WRITE_TIMEOUT",
		"server.environment":           "QCERT_SERVER_ENVIRONMENT",
		"pipeline.lock_retry_interval": "QCERT_PIPELINE_LOCK_RETRY_INTERVAL",
		"pipeline.lock_max_retries":    "QCERT_PIPELINE_LOCK_MAX_RETRIES",
		"pipeline.stage_timeout":       "QCERT_PIPELINE_STAGE_TIMEOUT",
		"pipeline.generate_pdf":        "QCERT_PIPELINE_GENERATE_PDF",
		"intake.raw_storage_level":     "QCERT_INTAKE_RAW_STORAGE_LEVEL",
		"intake.max_raw_bytes":         "QCERT_INTAKE_MAX_RAW_BYTES",
		"retention.days":               "QCERT_RETENTION_DAYS",
		"retention.per_job_bytes":      "QCERT_RETENTION_PER_JOB_BYTES",
		"retention.total_bytes":        "QCERT_RETENTION_TOTAL_BYTES",
		"retention.min_keep_count":     "QCERT_RETENTION_MIN_KEEP_COUNT",
		"retention.mode":               "QCERT_RETENTION_MODE",
		"retention.archive_dir":        "QCERT_RETENTION_ARCHIVE_DIR",
		"paths.jobs_root":              "QCERT_PATHS_JOBS_ROOT",
		"paths.templates_dir":          "QCERT_PATHS_TEMPLATES_DIR",
		"paths.contract_file":          "QCERT_PATHS_CONTRACT_FILE",
		"extractor.provider":           "QCERT_EXTRACTOR_PROVIDER",
		"extractor.api_key":            "QCERT_EXTRACTOR_API_KEY",
		"extractor.default_model":      "QCERT_EXTRACTOR_DEFAULT_MODEL",
		"extractor.max_retries":        "QCERT_EXTRACTOR_MAX_RETRIES",
		"extractor.timeout_secs":       "QCERT_EXTRACTOR_TIMEOUT_SECS",
		"ocr.provider":                 "QCERT_OCR_PROVIDER",
		"ocr.api_key":                  "QCERT_OCR_API_KEY",
		"ocr.default_model":            "QCERT_OCR_DEFAULT_MODEL",
		"ocr.fallback_model":           "QCERT_OCR_FALLBACK_MODEL",
		"ocr.timeout_secs":             "QCERT_OCR_TIMEOUT_SECS",
		"s3.region":                    "QCERT_S3_REGION",
		"s3.bucket":                    "QCERT_S3_BUCKET",
		"s3.endpoint":                  "QCERT_S3_ENDPOINT",
		"s3.access_key":                "QCERT_S3_ACCESS_KEY",
		"s3.secret_key":                "QCERT_S3_SECRET_KEY",
		"log.level":                    "QCERT_LOG_LEVEL",
		"log.format":                   "QCERT_LOG_FORMAT",
		"cors.allowed_origins":         "QCERT_CORS_ALLOWED_ORIGINS",
	}
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	cfg := &Config{}

	// Railway/Heroku/Render set a PORT env var. Use it if QCERT_SERVER_PORT is not explicitly set.
	serverPort := v.GetString("server.port")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("QCERT_SERVER_PORT") == "" {
		serverPort = ":" + port
	}

	cfg.Server = ServerConfig{
		Port:         serverPort,
		ReadTimeout:  v.GetDuration("server.read_timeout"),
		WriteTimeout: v.GetDuration("server.write_timeout"),
		Environment:  v.GetString("server.environment"),
	}
	cfg.Pipeline = PipelineConfig{
		LockRetryInterval: v.GetDuration("pipeline.lock_retry_interval"),
		LockMaxRetries:    v.GetInt("pipeline.lock_max_retries"),
		StageTimeout:      v.GetDuration("pipeline.stage_timeout"),
		GeneratePDF:       v.GetBool("pipeline.generate_pdf"),
	}
	cfg.Intake = IntakeConfig{
		RawStorageLevel: v.GetString("intake.raw_storage_level"),
		MaxRawBytes:     v.GetInt("intake.max_raw_bytes"),
	}
	cfg.Retention = RetentionConfig{
		Days:         v.GetInt("retention.days"),
		PerJobBytes:  v.GetInt64("retention.per_job_bytes"),
		TotalBytes:   v.GetInt64("retention.total_bytes"),
		MinKeepCount: v.GetInt("retention.min_keep_count"),
		Mode:         v.GetString("retention.mode"),
		ArchiveDir:   v.GetString("retention.archive_dir"),
	}
	cfg.Paths = PathsConfig{
		JobsRoot:     v.GetString("paths.jobs_root"),
		TemplatesDir: v.GetString("paths.templates_dir"),
		ContractFile: v.GetString("paths.contract_file"),
	}
	cfg.Extractor = ExtractorConfig{
		Provider:     v.GetString("extractor.provider"),
		APIKey:       v.GetString("extractor.api_key"),
		DefaultModel: v.GetString("extractor.default_model"),
		MaxRetries:   v.GetInt("extractor.max_retries"),
		TimeoutSecs:  v.GetInt("extractor.timeout_secs"),
	}
	cfg.OCR = OCRConfig{
		Provider:      v.GetString("ocr.provider"),
		APIKey:        v.GetString("ocr.api_key"),
		DefaultModel:  v.GetString("ocr.default_model"),
		FallbackModel: v.GetString("ocr.fallback_model"),
		TimeoutSecs:   v.GetInt("ocr.timeout_secs"),
	}
	cfg.S3 = S3Config{
		Region:    v.GetString("s3.region"),
		Bucket:    v.GetString("s3.bucket"),
		Endpoint:  v.GetString("s3.endpoint"),
		AccessKey: v.GetString("s3.access_key"),
		SecretKey: v.GetString("s3.secret_key"),
	}
	cfg.Log = LogConfig{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	}
	var corsOrigins []string
	for _, o := range strings.Split(v.GetString("cors.allowed_origins"), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			corsOrigins = append(corsOrigins, o)
		}
	}
	cfg.CORS = CORSConfig{
		AllowedOrigins: corsOrigins,
	}

	return cfg, nil
}
