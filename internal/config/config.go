package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverDynamoDB = "dynamodb"
	StoreDriverMemory   = "memory"

	MailDriverSMTP = "smtp"
	MailDriverLog  = "log"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	OTP      OTPConfig
	Mail     MailConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigin   string
}

type StoreConfig struct {
	Driver string
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey     string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	ResetExpiry   time.Duration
}

type OTPConfig struct {
	Expiry time.Duration
	// InvalidateAllPurposes restores the legacy behaviour where issuing any
	// code invalidates pending codes of every purpose for the user.
	InvalidateAllPurposes bool
	Cooldown              time.Duration
	Window                time.Duration
	MaxPerWindow          int
	DispatchAttempts      int
	DispatchBackoff       time.Duration
}

type MailConfig struct {
	Driver   string
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type LogConfig struct {
	Level string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present; real environment
// variables win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigin:   getEnv("CORS_ALLOWED_ORIGIN", "*"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverDynamoDB)),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "CareerPilotAuth"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SecretKey:     getEnv("JWT_SECRET_KEY", ""),
			AccessExpiry:  getEnvAsDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshExpiry: getEnvAsDuration("JWT_REFRESH_EXPIRY", 7*24*time.Hour),
			ResetExpiry:   getEnvAsDuration("JWT_RESET_EXPIRY", 15*time.Minute),
		},
		OTP: OTPConfig{
			Expiry:                getEnvAsDuration("OTP_EXPIRY", 10*time.Minute),
			InvalidateAllPurposes: getEnvAsBool("OTP_INVALIDATE_ALL_PURPOSES", false),
			Cooldown:              getEnvAsDuration("OTP_COOLDOWN", 60*time.Second),
			Window:                getEnvAsDuration("OTP_RATE_WINDOW", 15*time.Minute),
			MaxPerWindow:          getEnvAsInt("OTP_MAX_PER_WINDOW", 5),
			DispatchAttempts:      getEnvAsInt("OTP_DISPATCH_ATTEMPTS", 3),
			DispatchBackoff:       getEnvAsDuration("OTP_DISPATCH_BACKOFF", 200*time.Millisecond),
		},
		Mail: MailConfig{
			Driver:   strings.ToLower(getEnv("MAIL_DRIVER", MailDriverSMTP)),
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", ""),
			FromName: getEnv("SMTP_FROM_NAME", "CareerPilot"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if cfg.Mail.From == "" {
		cfg.Mail.From = cfg.Mail.Username
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	switch c.Store.Driver {
	case StoreDriverDynamoDB, StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Mail.Driver {
	case MailDriverSMTP:
		if c.Mail.From == "" {
			return fmt.Errorf("SMTP_FROM or SMTP_USER is required when MAIL_DRIVER=smtp")
		}
	case MailDriverLog:
	default:
		return fmt.Errorf("unsupported MAIL_DRIVER %q", c.Mail.Driver)
	}

	if c.OTP.Expiry <= 0 {
		return fmt.Errorf("OTP_EXPIRY must be positive")
	}

	if c.OTP.DispatchAttempts < 1 {
		return fmt.Errorf("OTP_DISPATCH_ATTEMPTS must be at least 1")
	}

	if c.OTP.DispatchBackoff <= 0 {
		return fmt.Errorf("OTP_DISPATCH_BACKOFF must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
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
