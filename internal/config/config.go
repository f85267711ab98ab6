// internal/config/config.go
package config

import (
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Engine    EngineConfig
	Cache     CacheConfig
	Storage   StorageConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// EngineConfig holds the forecasting and replenishment knobs. The safety
// stock z and review period are operational defaults, not extracted
// requirements, so they stay tunable per deployment.
type EngineConfig struct {
	MinHistoryDays     int
	TrainingWindowDays int
	ReviewPeriodDays   int
	ServiceLevelZ      float64
	StockFreshness     time.Duration
	MaxModelAge        time.Duration
	MAPEThreshold      float64
	ReconcileWindow    int
	EnsembleTrees      int
	EnsembleMaxDepth   int
}

type CacheConfig struct {
	Enabled       bool
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	TTLSeconds    int
}

// StorageConfig describes the S3-compatible bucket that holds remote
// sales export files picked up by the ingest path.
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string
	InboxDir  string
}

type SchedulerConfig struct {
	ReconcileInterval time.Duration
	StartupDelay      time.Duration
}

var (
	once     sync.Once
	instance *Config
)

func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		// Set default values
		viper.SetDefault("SERVER_PORT", "8080")
		viper.SetDefault("SERVER_MODE", "debug")
		viper.SetDefault("SERVER_READ_TIMEOUT", 15)
		viper.SetDefault("SERVER_WRITE_TIMEOUT", 30)
		viper.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
		viper.SetDefault("DB_HOST", "localhost")
		viper.SetDefault("DB_PORT", "5432")
		viper.SetDefault("DB_USER", "postgres")
		viper.SetDefault("DB_PASSWORD", "postgres")
		viper.SetDefault("DB_NAME", "replenish")
		viper.SetDefault("DB_SSLMODE", "disable")
		viper.SetDefault("ENGINE_MIN_HISTORY_DAYS", 7)
		viper.SetDefault("ENGINE_TRAINING_WINDOW_DAYS", 90)
		viper.SetDefault("ENGINE_REVIEW_PERIOD_DAYS", 7)
		viper.SetDefault("ENGINE_SERVICE_LEVEL_Z", 1.65)
		viper.SetDefault("ENGINE_STOCK_FRESHNESS_HOURS", 24)
		viper.SetDefault("ENGINE_MAX_MODEL_AGE_HOURS", 24)
		viper.SetDefault("ENGINE_MAPE_THRESHOLD", 0.40)
		viper.SetDefault("ENGINE_RECONCILE_WINDOW", 5)
		viper.SetDefault("ENGINE_ENSEMBLE_TREES", 25)
		viper.SetDefault("ENGINE_ENSEMBLE_MAX_DEPTH", 3)
		viper.SetDefault("CACHE_ENABLED", false)
		viper.SetDefault("REDIS_URL", "")
		viper.SetDefault("REDIS_HOST", "127.0.0.1")
		viper.SetDefault("REDIS_PORT", "6379")
		viper.SetDefault("REDIS_PASSWORD", "")
		viper.SetDefault("REDIS_DB", 0)
		viper.SetDefault("CACHE_TTL_SECONDS", 90)
		viper.SetDefault("STORAGE_ENDPOINT", "")
		viper.SetDefault("STORAGE_ACCESS_KEY", "")
		viper.SetDefault("STORAGE_SECRET_KEY", "")
		viper.SetDefault("STORAGE_BUCKET", "")
		viper.SetDefault("STORAGE_REGION", "us-east-1")
		viper.SetDefault("STORAGE_USE_SSL", true)
		viper.SetDefault("STORAGE_PREFIX", "sales_exports/")
		viper.SetDefault("STORAGE_INBOX_DIR", "./data/inbox")
		viper.SetDefault("SCHEDULER_RECONCILE_INTERVAL_MINUTES", 60)
		viper.SetDefault("SCHEDULER_STARTUP_DELAY_SECONDS", 10)

		// Read from environment variables
		viper.AutomaticEnv()

		instance = &Config{
			Server: ServerConfig{
				Port:           viper.GetString("SERVER_PORT"),
				Mode:           viper.GetString("SERVER_MODE"),
				ReadTimeout:    viper.GetInt("SERVER_READ_TIMEOUT"),
				WriteTimeout:   viper.GetInt("SERVER_WRITE_TIMEOUT"),
				AllowedOrigins: viper.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
			},
			Database: DatabaseConfig{
				Host:     viper.GetString("DB_HOST"),
				Port:     viper.GetString("DB_PORT"),
				User:     viper.GetString("DB_USER"),
				Password: viper.GetString("DB_PASSWORD"),
				DBName:   viper.GetString("DB_NAME"),
				SSLMode:  viper.GetString("DB_SSLMODE"),
			},
			Engine: EngineConfig{
				MinHistoryDays:     viper.GetInt("ENGINE_MIN_HISTORY_DAYS"),
				TrainingWindowDays: viper.GetInt("ENGINE_TRAINING_WINDOW_DAYS"),
				ReviewPeriodDays:   viper.GetInt("ENGINE_REVIEW_PERIOD_DAYS"),
				ServiceLevelZ:      viper.GetFloat64("ENGINE_SERVICE_LEVEL_Z"),
				StockFreshness:     time.Duration(viper.GetInt("ENGINE_STOCK_FRESHNESS_HOURS")) * time.Hour,
				MaxModelAge:        time.Duration(viper.GetInt("ENGINE_MAX_MODEL_AGE_HOURS")) * time.Hour,
				MAPEThreshold:      viper.GetFloat64("ENGINE_MAPE_THRESHOLD"),
				ReconcileWindow:    viper.GetInt("ENGINE_RECONCILE_WINDOW"),
				EnsembleTrees:      viper.GetInt("ENGINE_ENSEMBLE_TREES"),
				EnsembleMaxDepth:   viper.GetInt("ENGINE_ENSEMBLE_MAX_DEPTH"),
			},
			Cache: CacheConfig{
				Enabled:       viper.GetBool("CACHE_ENABLED"),
				RedisURL:      viper.GetString("REDIS_URL"),
				RedisHost:     viper.GetString("REDIS_HOST"),
				RedisPort:     viper.GetString("REDIS_PORT"),
				RedisPassword: viper.GetString("REDIS_PASSWORD"),
				RedisDB:       viper.GetInt("REDIS_DB"),
				TTLSeconds:    viper.GetInt("CACHE_TTL_SECONDS"),
			},
			Storage: StorageConfig{
				Endpoint:  viper.GetString("STORAGE_ENDPOINT"),
				AccessKey: viper.GetString("STORAGE_ACCESS_KEY"),
				SecretKey: viper.GetString("STORAGE_SECRET_KEY"),
				Bucket:    viper.GetString("STORAGE_BUCKET"),
				Region:    viper.GetString("STORAGE_REGION"),
				UseSSL:    viper.GetBool("STORAGE_USE_SSL"),
				Prefix:    viper.GetString("STORAGE_PREFIX"),
				InboxDir:  viper.GetString("STORAGE_INBOX_DIR"),
			},
			Scheduler: SchedulerConfig{
				ReconcileInterval: time.Duration(viper.GetInt("SCHEDULER_RECONCILE_INTERVAL_MINUTES")) * time.Minute,
				StartupDelay:      time.Duration(viper.GetInt("SCHEDULER_STARTUP_DELAY_SECONDS")) * time.Second,
			},
		}
	})

	return instance
}
