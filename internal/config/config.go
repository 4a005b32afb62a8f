package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Storage drivers accepted by StorageConfig.Driver.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageRedis    = "redis"
	StorageDynamoDB = "dynamodb"
)

type Config struct {
	LogLevel string         `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Client   ClientConfig   `yaml:"client"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Server   ServerConfig   `yaml:"server"`
	JWT      JWTConfig      `yaml:"jwt"`
	OTP      OTPConfig      `yaml:"otp"`
}

type ClientConfig struct {
	BaseURL   string        `yaml:"base_url" env:"API_URL" env-default:"http://localhost:8080/api/v1/"`
	Timeout   time.Duration `yaml:"timeout" env:"API_TIMEOUT" env-default:"15s"`
	Namespace string        `yaml:"namespace" env:"STORAGE_NAMESPACE" env-default:"ekili-sync:"`
}

type StorageConfig struct {
	Driver   string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"file"`
	FilePath string `yaml:"file_path" env:"STORAGE_FILE" env-default:".ekilisync-session.json"`
}

type RedisConfig struct {
	Endpoint string `yaml:"endpoint" env:"REDIS_ENDPOINT" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type DynamoDBConfig struct {
	Endpoint  string `yaml:"endpoint" env:"DYNAMODB_ENDPOINT"`
	Region    string `yaml:"region" env:"DYNAMODB_REGION" env-default:"us-east-1"`
	TableName string `yaml:"table_name" env:"DYNAMODB_TABLE_NAME" env-default:"EkiliSync"`
}

type ServerConfig struct {
	Port         string        `yaml:"port" env:"PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
	// StorageFile replaces Storage.FilePath for the server so it never shares
	// a file with a client in the same directory.
	StorageFile string `yaml:"storage_file" env:"SERVER_STORAGE_FILE" env-default:".ekilisync-server.json"`
}

type JWTConfig struct {
	SecretKey     string        `yaml:"secret_key" env:"JWT_SECRET_KEY"`
	AccessExpiry  time.Duration `yaml:"access_expiry" env:"JWT_ACCESS_EXPIRY" env-default:"15m"`
	RefreshExpiry time.Duration `yaml:"refresh_expiry" env:"JWT_REFRESH_EXPIRY" env-default:"168h"`
}

type OTPConfig struct {
	Length      int           `yaml:"length" env:"OTP_LENGTH" env-default:"6"`
	Expiry      time.Duration `yaml:"expiry" env:"OTP_EXPIRY" env-default:"10m"`
	MaxAttempts int           `yaml:"max_attempts" env:"OTP_MAX_ATTEMPTS" env-default:"5"`
}

// Load reads the YAML file at path (when non-empty) and overlays environment
// variables. With an empty path, CONFIG_PATH is consulted before falling back to
// the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %q: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Client.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid API_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("API_URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("API_URL must include a host")
	}

	if c.Client.Timeout <= 0 {
		return fmt.Errorf("API_TIMEOUT must be positive")
	}

	switch c.Storage.Driver {
	case StorageMemory, StorageRedis, StorageDynamoDB:
	case StorageFile:
		if c.Storage.FilePath == "" {
			return fmt.Errorf("STORAGE_FILE is required for the file storage driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}

	return nil
}

// ValidateServer checks the settings only the reference backend needs.
func (c *Config) ValidateServer() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if c.OTP.Length < 4 || c.OTP.Length > 8 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 8")
	}

	return nil
}
