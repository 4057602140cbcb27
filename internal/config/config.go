// Package config handles application configuration loading from a YAML file,
// an optional .env file and environment variables.
package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	contextutils "assessapp/internal/utils"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server"`
	Database      DatabaseConfig      `json:"database" yaml:"database"`
	AI            AIConfig            `json:"ai" yaml:"ai"`
	Dashboard     DashboardConfig     `json:"dashboard" yaml:"dashboard"`
	Uploads       UploadsConfig       `json:"uploads" yaml:"uploads"`
	Redis         RedisConfig         `json:"redis" yaml:"redis"`
	Gamification  GamificationConfig  `json:"gamification" yaml:"gamification"`
	Email         EmailConfig         `json:"email" yaml:"email"`
	OpenTelemetry OpenTelemetryConfig `json:"open_telemetry" yaml:"open_telemetry"`

	// Internal fields
	IsTest bool `json:"is_test" yaml:"is_test"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port          string   `json:"port" yaml:"port"`
	AdminUsername string   `json:"admin_username" yaml:"admin_username"`
	AdminPassword string   `json:"admin_password" yaml:"admin_password"`
	SessionSecret string   `json:"session_secret" yaml:"session_secret"`
	Debug         bool     `json:"debug" yaml:"debug"`
	LogLevel      string   `json:"log_level" yaml:"log_level"`
	AppBaseURL    string   `json:"app_base_url" yaml:"app_base_url"`
	CORSOrigins   []string `json:"cors_origins" yaml:"cors_origins"`

	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
}

// CircuitBreakerConfig controls the request circuit breaker. While open the
// server answers 503 until Timeout has passed.
type CircuitBreakerConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Threshold int           `json:"threshold" yaml:"threshold"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	URL             string        `json:"url" yaml:"url"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// AIConfig configures the chat model used for content evaluation and the
// emotion classifier run over transcripts.
type AIConfig struct {
	Chat                  ChatModelConfig `json:"chat" yaml:"chat"`
	Emotion               EmotionConfig   `json:"emotion" yaml:"emotion"`
	MaxConcurrentRequests int             `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`
	RequestTimeout        time.Duration   `json:"request_timeout" yaml:"request_timeout"`
}

// ChatModelConfig points at an OpenAI-compatible chat completions endpoint
type ChatModelConfig struct {
	URL         string  `json:"url" yaml:"url"`
	Model       string  `json:"model" yaml:"model"`
	APIKey      string  `json:"api_key" yaml:"api_key"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// EmotionConfig points at a text classification endpoint
// (HuggingFace inference style, {"inputs": "..."}).
type EmotionConfig struct {
	URL    string `json:"url" yaml:"url"`
	Model  string `json:"model" yaml:"model"`
	APIKey string `json:"api_key" yaml:"api_key"`
}

// DashboardConfig represents the live admin dashboard configuration
type DashboardConfig struct {
	BroadcastInterval time.Duration `json:"broadcast_interval" yaml:"broadcast_interval"`
	TokenSecret       string        `json:"token_secret" yaml:"token_secret"`
	TokenTTL          time.Duration `json:"token_ttl" yaml:"token_ttl"`
	MaxConnections    int           `json:"max_connections" yaml:"max_connections"`
	RecentActivity    int           `json:"recent_activity" yaml:"recent_activity"`
}

// UploadsConfig represents answer media upload configuration
type UploadsConfig struct {
	Dir               string   `json:"dir" yaml:"dir"`
	MaxBytes          int64    `json:"max_bytes" yaml:"max_bytes"`
	VideoContentTypes []string `json:"video_content_types" yaml:"video_content_types"`
	PhotoContentTypes []string `json:"photo_content_types" yaml:"photo_content_types"`
}

// RedisConfig enables the Redis-backed activity feed
type RedisConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Addr          string `json:"addr" yaml:"addr"`
	Password      string `json:"password" yaml:"password"`
	DB            int    `json:"db" yaml:"db"`
	ActivityKey   string `json:"activity_key" yaml:"activity_key"`
	ActivityLimit int    `json:"activity_limit" yaml:"activity_limit"`
}

// GamificationConfig holds the cron specs for scheduled gamification jobs
type GamificationConfig struct {
	LeaderboardSchedule  string        `json:"leaderboard_schedule" yaml:"leaderboard_schedule"`
	StaleAttemptSchedule string        `json:"stale_attempt_schedule" yaml:"stale_attempt_schedule"`
	StaleAttemptMaxAge   time.Duration `json:"stale_attempt_max_age" yaml:"stale_attempt_max_age"`
}

// EmailConfig represents email/SMTP configuration
type EmailConfig struct {
	SMTP    SMTPConfig `json:"smtp" yaml:"smtp"`
	Enabled bool       `json:"enabled" yaml:"enabled"`
}

// SMTPConfig represents SMTP server configuration
type SMTPConfig struct {
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	FromAddress string `json:"from_address" yaml:"from_address"`
	FromName    string `json:"from_name" yaml:"from_name"`
}

// OpenTelemetryConfig holds all OpenTelemetry-related configuration
type OpenTelemetryConfig struct {
	Endpoint       string            `json:"endpoint" yaml:"endpoint"`               // Default: "http://localhost:4317"
	Protocol       string            `json:"protocol" yaml:"protocol"`               // "grpc" or "http", default: "grpc"
	Insecure       bool              `json:"insecure" yaml:"insecure"`               // Default: true (for localhost)
	Headers        map[string]string `json:"headers" yaml:"headers"`                 // For authenticated endpoints
	ServiceName    string            `json:"service_name" yaml:"service_name"`       // Default: "assess-backend"
	ServiceVersion string            `json:"service_version" yaml:"service_version"` // From version package
	EnableTracing  bool              `json:"enable_tracing" yaml:"enable_tracing"`
	EnableMetrics  bool              `json:"enable_metrics" yaml:"enable_metrics"`
	EnableLogging  bool              `json:"enable_logging" yaml:"enable_logging"`
	SamplingRate   float64           `json:"sampling_rate" yaml:"sampling_rate"` // Default: 1.0 (100%)
	UseAutoSDK     bool              `json:"use_auto_sdk" yaml:"use_auto_sdk"`   // Use the auto-instrumentation SDK tracer provider
}

// NewConfig loads configuration from YAML file first, then overrides with environment variables
func NewConfig() (result0 *Config, err error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	config, err := loadConfigWithOverrides()
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to load config: %w", err)
	}

	config.overrideFromEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
	if c.Server.SessionSecret == "" && !c.IsTest {
		return contextutils.WrapError(contextutils.ErrMissingRequired, "server.session_secret is required")
	}
	if c.Dashboard.BroadcastInterval <= 0 {
		return contextutils.WrapError(contextutils.ErrInvalidInput, "dashboard.broadcast_interval must be positive")
	}
	if c.Dashboard.MaxConnections < 0 {
		return contextutils.WrapError(contextutils.ErrInvalidInput, "dashboard.max_connections must not be negative")
	}
	if c.Uploads.MaxBytes <= 0 {
		return contextutils.WrapError(contextutils.ErrInvalidInput, "uploads.max_bytes must be positive")
	}
	for _, ct := range append(append([]string{}, c.Uploads.VideoContentTypes...), c.Uploads.PhotoContentTypes...) {
		if !strings.Contains(ct, "/") {
			return contextutils.WrapErrorf(contextutils.ErrInvalidInput, "uploads content type %q is malformed", ct)
		}
	}
	return nil
}

// AllowedOrigins returns the browser origins trusted for CORS and the
// dashboard socket: cors_origins when set, otherwise app_base_url.
func (c *Config) AllowedOrigins() []string {
	if len(c.Server.CORSOrigins) > 0 {
		return c.Server.CORSOrigins
	}
	if c.Server.AppBaseURL == "" {
		return nil
	}
	return []string{c.Server.AppBaseURL}
}

// DashboardTokenSecret returns the key used to sign dashboard socket tokens,
// falling back to the session secret.
func (c *Config) DashboardTokenSecret() string {
	if c.Dashboard.TokenSecret != "" {
		return c.Dashboard.TokenSecret
	}
	return c.Server.SessionSecret
}

// applyDefaults fills zero values that have a sensible default
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.CircuitBreaker.Threshold <= 0 {
		c.Server.CircuitBreaker.Threshold = DefaultCircuitBreakerThreshold
	}
	if c.Server.CircuitBreaker.Timeout <= 0 {
		c.Server.CircuitBreaker.Timeout = DefaultCircuitBreakerTimeout
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = DatabaseConnMaxLifetime
	}
	if c.AI.MaxConcurrentRequests <= 0 {
		c.AI.MaxConcurrentRequests = DefaultMaxAIConcurrent
	}
	if c.AI.RequestTimeout <= 0 {
		c.AI.RequestTimeout = AIRequestTimeout
	}
	if c.AI.Chat.MaxTokens <= 0 {
		c.AI.Chat.MaxTokens = DefaultAIMaxTokens
	}
	if c.Dashboard.BroadcastInterval == 0 {
		c.Dashboard.BroadcastInterval = DefaultBroadcastInterval
	}
	if c.Dashboard.TokenTTL <= 0 {
		c.Dashboard.TokenTTL = DefaultDashboardTokenTTL
	}
	if c.Dashboard.RecentActivity <= 0 {
		c.Dashboard.RecentActivity = DefaultRecentActivity
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = DefaultUploadsDir
	}
	if c.Uploads.MaxBytes == 0 {
		c.Uploads.MaxBytes = DefaultUploadMaxBytes
	}
	if len(c.Uploads.VideoContentTypes) == 0 {
		c.Uploads.VideoContentTypes = []string{"video/webm", "video/mp4", "video/quicktime"}
	}
	if len(c.Uploads.PhotoContentTypes) == 0 {
		c.Uploads.PhotoContentTypes = []string{"image/jpeg", "image/png", "image/webp"}
	}
	if c.Redis.ActivityKey == "" {
		c.Redis.ActivityKey = DefaultActivityKey
	}
	if c.Redis.ActivityLimit <= 0 {
		c.Redis.ActivityLimit = DefaultActivityLimit
	}
	if c.Gamification.LeaderboardSchedule == "" {
		c.Gamification.LeaderboardSchedule = DefaultLeaderboardSchedule
	}
	if c.Gamification.StaleAttemptSchedule == "" {
		c.Gamification.StaleAttemptSchedule = DefaultStaleAttemptSchedule
	}
	if c.Gamification.StaleAttemptMaxAge <= 0 {
		c.Gamification.StaleAttemptMaxAge = DefaultStaleAttemptMaxAge
	}
	if c.OpenTelemetry.ServiceName == "" {
		c.OpenTelemetry.ServiceName = "assess-backend"
	}
	if c.OpenTelemetry.SamplingRate == 0 {
		c.OpenTelemetry.SamplingRate = 1.0
	}
}

// overrideFromEnv overrides config values with environment variables using reflection
func (c *Config) overrideFromEnv() {
	overrideStructFromEnvWithPrefix(c, "")
}

var durationType = reflect.TypeOf(time.Duration(0))

// overrideStructFromEnvWithPrefix walks the struct and replaces any field whose
// derived variable name (PREFIX_YAML_TAG, upper-cased) is set in the environment.
func overrideStructFromEnvWithPrefix(v interface{}, prefix string) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		if !field.CanSet() {
			continue
		}

		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}

		envKey := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
		if prefix != "" {
			envKey = prefix + "_" + envKey
		}

		if field.Kind() == reflect.Struct {
			overrideStructFromEnvWithPrefix(field.Addr().Interface(), envKey)
			continue
		}

		envVal := os.Getenv(envKey)
		if envVal == "" {
			continue
		}

		if field.Type() == durationType {
			if d, err := time.ParseDuration(envVal); err == nil {
				field.SetInt(int64(d))
			}
			continue
		}

		switch field.Kind() {
		case reflect.String:
			field.SetString(envVal)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if intVal, err := strconv.ParseInt(envVal, 10, 64); err == nil {
				field.SetInt(intVal)
			}
		case reflect.Float32, reflect.Float64:
			if floatVal, err := strconv.ParseFloat(envVal, 64); err == nil {
				field.SetFloat(floatVal)
			}
		case reflect.Bool:
			if boolVal, err := strconv.ParseBool(envVal); err == nil {
				field.SetBool(boolVal)
			}
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				parts := strings.Split(envVal, ",")
				for i := range parts {
					parts[i] = strings.TrimSpace(parts[i])
				}
				field.Set(reflect.ValueOf(parts))
			}
		}
	}
}

// loadConfigWithOverrides loads the config file named by ASSESS_CONFIG_FILE or config.yaml
func loadConfigWithOverrides() (result0 *Config, err error) {
	if envPath := os.Getenv(ConfigFileEnv); envPath != "" {
		config, err := loadConfigFromFile(envPath)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to load config from %s: %w", envPath, err)
		}
		return config, nil
	}

	return loadConfigFromFile("config.yaml")
}

// loadConfigFromFile loads configuration from a specific file
func loadConfigFromFile(path string) (result0 *Config, err error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(yamlFile, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
