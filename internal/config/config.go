package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr       string `mapstructure:"addr"`
		LogLevel   string `mapstructure:"log_level"`
		AdminToken string `mapstructure:"admin_token"`
	} `mapstructure:"server"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Store struct {
		Driver   string `mapstructure:"driver"` // postgres | memory
		SeedFile string `mapstructure:"seed_file"`
	} `mapstructure:"store"`

	Cache struct {
		RefreshSeconds int `mapstructure:"refresh_seconds"`
	} `mapstructure:"cache"`

	Geo struct {
		EdgeHeader string `mapstructure:"edge_header"`
		CDNHeader  string `mapstructure:"cdn_header"`
		Lookup     struct {
			Enabled       bool   `mapstructure:"enabled"`
			URL           string `mapstructure:"url"`
			TimeoutMS     int    `mapstructure:"timeout_ms"`
			RatePerMinute int    `mapstructure:"rate_per_minute"`
		} `mapstructure:"lookup"`
	} `mapstructure:"geo"`

	OriginLock struct {
		ClickIDParams []string `mapstructure:"click_id_params"`
	} `mapstructure:"origin_lock"`

	AccessLog struct {
		Workers        int `mapstructure:"workers"`
		QueueSize      int `mapstructure:"queue_size"`
		WriteTimeoutMS int `mapstructure:"write_timeout_ms"`
	} `mapstructure:"access_log"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

var defaults = map[string]any{
	"server.addr":                 ":8080",
	"server.log_level":            "info",
	"server.admin_token":          "",
	"postgres.host":               "localhost",
	"postgres.port":               5432,
	"postgres.user":               "",
	"postgres.password":           "",
	"postgres.db_name":            "cloak",
	"postgres.ssl_mode":           "disable",
	"postgres.max_open_conns":     10,
	"postgres.max_idle_conns":     2,
	"listener.channel":            "campaign_change",
	"listener.reconnect_seconds":  5,
	"store.driver":                DriverPostgres,
	"store.seed_file":             "",
	"cache.refresh_seconds":       30,
	"geo.edge_header":             "X-Vercel-IP-Country",
	"geo.cdn_header":              "CF-IPCountry",
	"geo.lookup.enabled":          false,
	"geo.lookup.url":              "http://ip-api.com/json/",
	"geo.lookup.timeout_ms":       3000,
	"geo.lookup.rate_per_minute":  45,
	"origin_lock.click_id_params": []string{"fbclid"},
	"access_log.workers":          4,
	"access_log.queue_size":       1024,
	"access_log.write_timeout_ms": 5000,
}

// Load reads configs/application.yaml (or file when set) and applies APP_
// environment overrides, e.g. APP_SERVER_ADDR or APP_GEO_LOOKUP_ENABLED.
func Load(file string) (Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("application")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		_ = v.ReadInConfig() // optional; env can fully configure
		if err := mergeEnvFile(v, "configs"); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeEnvFile layers configs/<ENV>.yaml (ENV defaults to dev) over the
// base file when it exists.
func mergeEnvFile(v *viper.Viper, dir string) error {
	env := strings.ToLower(os.Getenv("ENV"))
	if env == "" {
		env = "dev"
	}
	path := filepath.Join(dir, env+".yaml")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("merge config %s: %w", path, err)
	}
	return nil
}

func validate(c *Config) error {
	if c.Server.Addr == "" { c.Server.Addr = ":8080" }
	if c.Postgres.Port == 0 { c.Postgres.Port = 5432 }
	if c.Postgres.SSLMode == "" { c.Postgres.SSLMode = "disable" }
	if c.Postgres.MaxOpenConns <= 0 { c.Postgres.MaxOpenConns = 10 }
	if c.Postgres.MaxIdleConns < 0 { c.Postgres.MaxIdleConns = 0 }
	if c.Listener.ReconnectSeconds <= 0 { c.Listener.ReconnectSeconds = 5 }
	if c.Cache.RefreshSeconds < 0 { c.Cache.RefreshSeconds = 0 }
	if c.Geo.Lookup.TimeoutMS <= 0 || c.Geo.Lookup.TimeoutMS > 3000 { c.Geo.Lookup.TimeoutMS = 3000 }
	if c.AccessLog.Workers <= 0 { c.AccessLog.Workers = 1 }
	if c.AccessLog.QueueSize <= 0 { c.AccessLog.QueueSize = 1 }
	if c.AccessLog.WriteTimeoutMS <= 0 { c.AccessLog.WriteTimeoutMS = 5000 }
	if len(c.OriginLock.ClickIDParams) == 0 { c.OriginLock.ClickIDParams = []string{"fbclid"} }

	c.Store.Driver = strings.ToLower(c.Store.Driver)
	switch c.Store.Driver {
	case "":
		c.Store.Driver = DriverPostgres
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

func (c Config) CacheRefresh() time.Duration { return time.Duration(c.Cache.RefreshSeconds) * time.Second }

func (c Config) GeoTimeout() time.Duration { return time.Duration(c.Geo.Lookup.TimeoutMS) * time.Millisecond }

func (c Config) LogWriteTimeout() time.Duration {
	return time.Duration(c.AccessLog.WriteTimeoutMS) * time.Millisecond
}
