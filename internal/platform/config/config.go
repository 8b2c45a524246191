package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	AMQP     AMQPConfig     `mapstructure:"amqp"`
	Auth     AuthConfig     `mapstructure:"auth"`
	App      AppConfig      `mapstructure:"app"`
	ML       MLConfig       `mapstructure:"ml"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxUploadSize   int64         `mapstructure:"max_upload_size"`
	APIPrefix       string        `mapstructure:"api_prefix"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN is the keyword/value form understood by the pgx stdlib driver.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// URL is the form the migrator expects.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
	CleanupQueue string        `mapstructure:"cleanup_queue"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type MinIOConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	Bucket    string        `mapstructure:"bucket"`
	Region    string        `mapstructure:"region"`
	UseSSL    bool          `mapstructure:"use_ssl"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"` // empty disables publishing
	Exchange string `mapstructure:"exchange"`
}

type AuthConfig struct {
	SecretKey                string `mapstructure:"secret_key"`
	AccessTokenExpireMinutes int    `mapstructure:"access_token_expire_minutes"`
}

func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

type AppConfig struct {
	ProjectName string `mapstructure:"project_name"`
	PerPage     int    `mapstructure:"per_page"`
	Timezone    string `mapstructure:"timezone"`
}

// Location resolves the zone used for day buckets. Unknown names fall back to local time.
func (c AppConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", c.Timezone).Msg("unknown timezone, using local time")
		return time.Local
	}
	return loc
}

type MLConfig struct {
	OCRURL        string            `mapstructure:"ocr_url"`
	ClassifierURL string            `mapstructure:"classifier_url"`
	PredictorURLs map[string]string `mapstructure:"predictor_urls"` // subject name -> endpoint
	Timeout       time.Duration     `mapstructure:"timeout"`
}

type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	APIURL string `mapstructure:"api_url"`
	Model  string `mapstructure:"model"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Pretty  bool   `mapstructure:"pretty"`
	NoColor bool   `mapstructure:"no_color"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// Load reads .env into the environment, then layers config.yaml and
// environment variables (DATABASE_HOST for database.host) over the defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, relying on environment variables")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Auth.SecretKey == "" {
		return nil, fmt.Errorf("auth.secret_key must be set")
	}
	if cfg.App.PerPage <= 0 {
		cfg.App.PerPage = 6
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m") // AI answers are streamed
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.request_timeout", "5m")
	v.SetDefault("server.max_upload_size", 20<<20)
	v.SetDefault("server.api_prefix", "/api/v1")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "zhicuoti")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "10s")
	v.SetDefault("redis.cleanup_queue", "storage_cleanup_queue")
	v.SetDefault("redis.max_attempts", 5)

	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key", "minioadmin")
	v.SetDefault("minio.secret_key", "minioadmin")
	v.SetDefault("minio.bucket", "zhicuoti-assets")
	v.SetDefault("minio.region", "us-east-1")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.timeout", "30s")

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "zhicuoti.events")

	v.SetDefault("auth.secret_key", "")
	v.SetDefault("auth.access_token_expire_minutes", 60*24*30)

	v.SetDefault("app.project_name", "Zhicuo Ti")
	v.SetDefault("app.per_page", 6)
	v.SetDefault("app.timezone", "")

	v.SetDefault("ml.ocr_url", "http://localhost:9100/ocr")
	v.SetDefault("ml.classifier_url", "http://localhost:9100/classify")
	v.SetDefault("ml.predictor_urls", map[string]string{})
	v.SetDefault("ml.timeout", "60s")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.api_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
	v.SetDefault("logging.no_color", false)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Accept", "Authorization", "Content-Type"})
	v.SetDefault("cors.exposed_headers", []string{"Link"})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 300)
}
