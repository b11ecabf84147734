// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	JWTIssuer   string `mapstructure:"JWT_ISSUER"`
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"APP_ENV"`

	DBDriver     string `mapstructure:"DB_DRIVER"`
	DBHost       string `mapstructure:"DB_HOST"`
	DBPort       string `mapstructure:"DB_PORT"`
	DBUser       string `mapstructure:"DB_USER"`
	DBPassword   string `mapstructure:"DB_PASSWORD"`
	DBName       string `mapstructure:"DB_NAME"`
	DBSSLMode    string `mapstructure:"DB_SSLMODE"`
	DBSQLitePath string `mapstructure:"DB_SQLITE_PATH"`

	RedisURL       string `mapstructure:"REDIS_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`
	SeedDemoData   bool   `mapstructure:"SEED_DEMO_DATA"`

	MediaBackend     string `mapstructure:"MEDIA_BACKEND"`
	MediaDir         string `mapstructure:"MEDIA_DIR"`
	MediaBaseURL     string `mapstructure:"MEDIA_BASE_URL"`
	MediaMaxUploadMB int    `mapstructure:"MEDIA_MAX_UPLOAD_MB"`
	S3Endpoint       string `mapstructure:"S3_ENDPOINT"`
	S3Region         string `mapstructure:"S3_REGION"`
	S3Bucket         string `mapstructure:"S3_BUCKET"`
	S3AccessKey      string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey      string `mapstructure:"S3_SECRET_KEY"`
	S3UseSSL         bool   `mapstructure:"S3_USE_SSL"`
	S3PublicURL      string `mapstructure:"S3_PUBLIC_URL"`

	WSSendBuffer      int     `mapstructure:"WS_SEND_BUFFER"`
	WSMaxConnsPerUser int     `mapstructure:"WS_MAX_CONNS_PER_USER"`
	WSIntentRate      float64 `mapstructure:"WS_INTENT_RATE"`
	WSIntentBurst     int     `mapstructure:"WS_INTENT_BURST"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional; only profile overlays are mandatory.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	SetDefaults(viper.GetViper())

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SetDefaults registers development defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8375")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_ISSUER", "messenger-api")
	v.SetDefault("JWT_AUDIENCE", "messenger-client")

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "messenger")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_SQLITE_PATH", "messenger.db")

	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	v.SetDefault("FEATURE_FLAGS", "media_upload=on")
	v.SetDefault("SEED_DEMO_DATA", false)

	v.SetDefault("MEDIA_BACKEND", "local")
	v.SetDefault("MEDIA_DIR", "./uploads")
	v.SetDefault("MEDIA_BASE_URL", "/uploads")
	v.SetDefault("MEDIA_MAX_UPLOAD_MB", 25)
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_USE_SSL", true)

	v.SetDefault("WS_SEND_BUFFER", 256)
	v.SetDefault("WS_MAX_CONNS_PER_USER", 12)
	v.SetDefault("WS_INTENT_RATE", 20)
	v.SetDefault("WS_INTENT_BURST", 40)

	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

// IsProduction reports whether the config targets a production deployment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// MaxUploadBytes returns the upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MediaMaxUploadMB) << 20
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	switch strings.ToLower(c.DBDriver) {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be 'postgres' or 'sqlite', got %q", c.DBDriver)
	}

	switch strings.ToLower(c.MediaBackend) {
	case "local":
	case "s3":
		if c.S3Endpoint == "" || c.S3Bucket == "" {
			return errors.New("S3_ENDPOINT and S3_BUCKET are required when MEDIA_BACKEND is 's3'")
		}
	default:
		return fmt.Errorf("MEDIA_BACKEND must be 'local' or 's3', got %q", c.MediaBackend)
	}

	if c.MediaMaxUploadMB <= 0 {
		return errors.New("MEDIA_MAX_UPLOAD_MB must be positive")
	}
	if c.WSSendBuffer <= 0 {
		return errors.New("WS_SEND_BUFFER must be positive")
	}
	if c.WSIntentRate <= 0 || c.WSIntentBurst <= 0 {
		return errors.New("WS_INTENT_RATE and WS_INTENT_BURST must be positive")
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBDriver == "postgres" && (c.DBPassword == "password" || c.DBPassword == "") {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			log.Println("WARNING: DB_SSLMODE is 'disable' in production. It is highly recommended to use SSL for database connections.")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
