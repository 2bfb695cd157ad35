package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration, materialized once at startup
// and passed explicitly to services. Nothing reads viper after Load returns.
type Config struct {
	AppEnv string
	Port   string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig

	AutoMigrate bool
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	SecretKey             string
	Issuer                string
	Audience              string
	AccessTokenTTL        time.Duration
	RefreshTokenTTL       time.Duration
	AccessTokenTTLSeconds int
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

const devInsecureSecret = "dev_insecure_secret_change_me"

// Load reads .env plus environment variables and returns the resolved config.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("app.env", "APP_ENV")
	viper.BindEnv("port", "PORT")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	viper.BindEnv("database.auto_migrate", "DATABASE_AUTO_MIGRATE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.issuer", "JWT_ISSUER")
	viper.BindEnv("jwt.audience", "JWT_AUDIENCE")
	viper.BindEnv("jwt.access_ttl_minutes", "JWT_ACCESS_TTL_MINUTES")
	viper.BindEnv("jwt.refresh_ttl_days", "JWT_REFRESH_TTL_DAYS")

	viper.SetDefault("app.env", "dev")
	viper.SetDefault("port", "8080")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "ledger")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Minute*5)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("jwt.secret_key", devInsecureSecret)
	viper.SetDefault("jwt.issuer", "ledger-service")
	viper.SetDefault("jwt.audience", "ledger-service")
	viper.SetDefault("jwt.access_ttl_minutes", 30)
	viper.SetDefault("jwt.refresh_ttl_days", 7)

	accessTTL := time.Duration(viper.GetInt("jwt.access_ttl_minutes")) * time.Minute

	cfg := &Config{
		AppEnv: viper.GetString("app.env"),
		Port:   viper.GetString("port"),
		Database: DatabaseConfig{
			Host:            viper.GetString("database.host"),
			Port:            viper.GetString("database.port"),
			User:            viper.GetString("database.user"),
			Password:        viper.GetString("database.password"),
			Name:            viper.GetString("database.name"),
			SSLMode:         viper.GetString("database.ssl_mode"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetString("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			SecretKey:             viper.GetString("jwt.secret_key"),
			Issuer:                viper.GetString("jwt.issuer"),
			Audience:              viper.GetString("jwt.audience"),
			AccessTokenTTL:        accessTTL,
			RefreshTokenTTL:       time.Duration(viper.GetInt("jwt.refresh_ttl_days")) * 24 * time.Hour,
			AccessTokenTTLSeconds: int(accessTTL.Seconds()),
		},
		AutoMigrate: viper.GetBool("database.auto_migrate"),
	}

	if !viper.IsSet("database.auto_migrate") && cfg.IsDev() {
		cfg.AutoMigrate = true
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.IsProd() {
		if c.JWT.SecretKey == devInsecureSecret {
			return fmt.Errorf("JWT_SECRET_KEY must be set in production")
		}
		if c.AutoMigrate {
			return fmt.Errorf("auto migrate must be disabled in production")
		}
	}
	return nil
}

func (c *Config) IsProd() bool {
	return c.AppEnv == "prod" || c.AppEnv == "production"
}

func (c *Config) IsDev() bool {
	return c.AppEnv == "dev" || c.AppEnv == "development"
}

// RedisAddr returns host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return c.Redis.Host + ":" + c.Redis.Port
}
