package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Server       ServerConfig       `yaml:"server"`
	Firebase     FirebaseConfig     `yaml:"firebase"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Storage      StorageConfig      `yaml:"storage"`
	Workers      WorkersConfig      `yaml:"workers"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Registry     RegistryConfig     `yaml:"registry"`
	Auth         AuthConfig         `yaml:"auth"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"mindleap-provisioning"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"dev"`
	Env     string `yaml:"env" env:"APP_ENV" env-default:"development"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" env:"SERVER_MAX_UPLOAD_BYTES" env-default:"10485760"`
}

// FirebaseConfig selects the document store and identity provider backend.
// Backend "memory" keeps everything in process and is meant for local runs.
type FirebaseConfig struct {
	Backend         string `yaml:"backend" env:"FIREBASE_BACKEND" env-default:"firebase"`
	ProjectID       string `yaml:"project_id" env:"FIREBASE_PROJECT_ID"`
	CredentialsFile string `yaml:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	CredentialsJSON string `yaml:"credentials_json" env:"FIREBASE_CONFIG"`
}

type DatabaseConfig struct {
	Host               string        `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port               int           `yaml:"port" env:"DB_PORT" env-default:"3306"`
	User               string        `yaml:"user" env:"DB_USER"`
	Password           string        `yaml:"password" env:"DB_PASSWORD"`
	Name               string        `yaml:"name" env:"DB_NAME" env-default:"provisioning"`
	Charset            string        `yaml:"charset" env-default:"utf8mb4"`
	ParseTime          bool          `yaml:"parse_time" env-default:"true"`
	Loc                string        `yaml:"loc" env-default:"UTC"`
	MaxConnections     int           `yaml:"max_connections" env-default:"10"`
	MaxIdleConnections int           `yaml:"max_idle_connections" env-default:"5"`
	ConnectionLifetime time.Duration `yaml:"connection_lifetime" env-default:"5m"`
}

type RedisConfig struct {
	Host           string        `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port           int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password       string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB             int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	PoolSize       int           `yaml:"pool_size" env-default:"10"`
	ProvisionQueue string        `yaml:"provision_queue" env-default:"provisioning:jobs"`
	DLQSuffix      string        `yaml:"dlq_suffix" env-default:":dlq"`
	ProgressPrefix string        `yaml:"progress_prefix" env-default:"provisioning:progress:"`
	ProgressTTL    time.Duration `yaml:"progress_ttl" env-default:"24h"`
}

// StorageConfig.Backend is "s3" or "memory".
type StorageConfig struct {
	Backend string   `yaml:"backend" env:"STORAGE_BACKEND" env-default:"s3"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"S3_BUCKET" env-default:"provisioning-uploads"`
	Region    string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	UseSSL    bool   `yaml:"use_ssl" env:"S3_USE_SSL"`
}

type WorkersConfig struct {
	Provision ProvisionWorkerConfig `yaml:"provision"`
	Sweeper   SweeperConfig         `yaml:"sweeper"`
}

// ProvisionWorkerConfig.Count bounds how many upload jobs run at once.
// Rows inside one job are always processed sequentially.
type ProvisionWorkerConfig struct {
	Count     int `yaml:"count" env:"PROVISION_WORKERS" env-default:"2"`
	QueueSize int `yaml:"queue_size" env-default:"8"`
}

// SweeperConfig.StaleAfter is how long a job may sit in RUNNING without an
// update before it is considered lost.
type SweeperConfig struct {
	Interval   time.Duration `yaml:"interval" env:"SWEEPER_INTERVAL" env-default:"5m"`
	StaleAfter time.Duration `yaml:"stale_after" env:"SWEEPER_STALE_AFTER" env-default:"2h"`
	RunOnStart bool          `yaml:"run_on_start" env-default:"true"`
}

type ProvisioningConfig struct {
	EmailDomain       string `yaml:"email_domain" env:"PROVISIONING_EMAIL_DOMAIN" env-default:"mindleap.edu"`
	PasswordMinLength int    `yaml:"password_min_length" env-default:"6"`
	PasswordMaxLength int    `yaml:"password_max_length" env-default:"8"`
}

// RegistryConfig.SeedFile lists states and districts created on startup
// when they are missing from the store.
type RegistryConfig struct {
	SeedFile string `yaml:"seed_file" env:"REGISTRY_SEED_FILE"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	Issuer    string        `yaml:"issuer" env:"AUTH_ISSUER" env-default:"mindleap-admin"`
	TokenTTL  time.Duration `yaml:"token_ttl" env-default:"12h"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Load reads the YAML file named by CONFIG_PATH (default config.yaml), then
// overlays environment variables. A missing file is tolerated so the service
// can be configured from the environment alone.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	var config Config
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cleanenv.ReadEnv(&config); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Provisioning.PasswordMinLength < 1 || c.Provisioning.PasswordMaxLength < c.Provisioning.PasswordMinLength {
		return fmt.Errorf("invalid password length range %d-%d",
			c.Provisioning.PasswordMinLength, c.Provisioning.PasswordMaxLength)
	}
	if c.Provisioning.EmailDomain == "" {
		return fmt.Errorf("provisioning.email_domain is required")
	}
	if c.Firebase.Backend != "firebase" && c.Firebase.Backend != "memory" {
		return fmt.Errorf("unknown firebase backend %q", c.Firebase.Backend)
	}
	if c.Storage.Backend != "s3" && c.Storage.Backend != "memory" {
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Firebase.Backend == "firebase" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required with the firebase backend")
	}
	return nil
}

// MySQL DSN format: [username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port,
		c.Database.Name, c.Database.Charset, c.Database.ParseTime, c.Database.Loc)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
