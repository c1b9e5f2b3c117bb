package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	StorageBackendLocal = "local"
	StorageBackendS3    = "s3"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Storage  StorageConfig
	Tickets  TicketConfig
	Orders   OrdersConfig
	Tasks    TasksConfig
	Callback CallbackConfig
}

type DatabaseConfig struct {
	Enabled      bool
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig selects and configures the storage backend holding order collections.
type StorageConfig struct {
	Backend    string
	LocalRoot  string
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string
}

// TicketConfig tunes download capability tickets.
type TicketConfig struct {
	Secret      string
	TTL         time.Duration
	MaxAttempts int
}

// OrdersConfig locates order collections and shapes public download links.
type OrdersConfig struct {
	Root              string
	LocalDir          string
	PublicHost        string
	DeleteItemTimeout time.Duration
}

// TasksConfig sizes the background worker pool.
type TasksConfig struct {
	Workers    int
	Retries    int
	RetryDelay time.Duration
	ResultTTL  time.Duration
	CacheSize  int
}

// CallbackConfig points to the endpoint notified when a bulk deletion finishes.
type CallbackConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Enabled:      v.GetBool("ENABLE_ORDER_EVENTS"),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS_TASK_STATE"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Storage = StorageConfig{
		Backend:    strings.ToLower(v.GetString("STORAGE_BACKEND")),
		LocalRoot:  v.GetString("STORAGE_LOCAL_ROOT"),
		S3Bucket:   v.GetString("STORAGE_S3_BUCKET"),
		S3Region:   v.GetString("STORAGE_S3_REGION"),
		S3Endpoint: v.GetString("STORAGE_S3_ENDPOINT"),
		S3Prefix:   v.GetString("STORAGE_S3_PREFIX"),
	}

	cfg.Tickets = TicketConfig{
		Secret:      v.GetString("TICKET_SECRET"),
		TTL:         parseDuration(v.GetString("TICKET_TTL"), 48*time.Hour),
		MaxAttempts: v.GetInt("TICKET_MAX_ATTEMPTS"),
	}

	cfg.Orders = OrdersConfig{
		Root:              v.GetString("ORDERS_ROOT"),
		LocalDir:          v.GetString("ORDERS_LOCAL_DIR"),
		PublicHost:        v.GetString("PUBLIC_HOST"),
		DeleteItemTimeout: parseDuration(v.GetString("DELETE_ITEM_TIMEOUT"), 1800*time.Second),
	}

	cfg.Tasks = TasksConfig{
		Workers:    v.GetInt("TASK_WORKERS"),
		Retries:    v.GetInt("TASK_RETRIES"),
		RetryDelay: parseDuration(v.GetString("TASK_RETRY_DELAY"), 5*time.Second),
		ResultTTL:  parseDuration(v.GetString("TASK_RESULT_TTL"), 24*time.Hour),
		CacheSize:  v.GetInt("TASK_STATE_CACHE_SIZE"),
	}

	cfg.Callback = CallbackConfig{
		URL:     v.GetString("CALLBACK_URL"),
		Token:   v.GetString("CALLBACK_TOKEN"),
		Timeout: parseDuration(v.GetString("CALLBACK_TIMEOUT"), 30*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("ENABLE_ORDER_EVENTS", false)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "orders")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS_TASK_STATE", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_BACKEND", StorageBackendLocal)
	v.SetDefault("STORAGE_LOCAL_ROOT", "./data")
	v.SetDefault("STORAGE_S3_BUCKET", "")
	v.SetDefault("STORAGE_S3_REGION", "us-east-1")
	v.SetDefault("STORAGE_S3_ENDPOINT", "")
	v.SetDefault("STORAGE_S3_PREFIX", "")

	v.SetDefault("TICKET_SECRET", "dev_ticket_secret")
	v.SetDefault("TICKET_TTL", "48h")
	v.SetDefault("TICKET_MAX_ATTEMPTS", 10)

	v.SetDefault("ORDERS_ROOT", "/orders")
	v.SetDefault("ORDERS_LOCAL_DIR", "./staging/orders")
	v.SetDefault("PUBLIC_HOST", "localhost:8080")
	v.SetDefault("DELETE_ITEM_TIMEOUT", "1800s")

	v.SetDefault("TASK_WORKERS", 2)
	v.SetDefault("TASK_RETRIES", 3)
	v.SetDefault("TASK_RETRY_DELAY", "5s")
	v.SetDefault("TASK_RESULT_TTL", "24h")
	v.SetDefault("TASK_STATE_CACHE_SIZE", 1024)

	v.SetDefault("CALLBACK_URL", "")
	v.SetDefault("CALLBACK_TOKEN", "")
	v.SetDefault("CALLBACK_TIMEOUT", "30s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
