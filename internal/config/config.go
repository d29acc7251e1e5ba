package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Purchase  PurchaseConfig  `json:"purchase" yaml:"purchase"`
	Reconcile ReconcileConfig `json:"reconcile" yaml:"reconcile"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Tracing   TracingConfig   `json:"tracing" yaml:"tracing"`
}

type ServerConfig struct {
	Host           string   `json:"host" yaml:"host"`
	Port           int      `json:"port" yaml:"port"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout"`
}

type DatabaseConfig struct {
	Driver          string   `json:"driver" yaml:"driver"`
	DSN             string   `json:"dsn" yaml:"dsn"`
	Host            string   `json:"host" yaml:"host"`
	Port            int      `json:"port" yaml:"port"`
	User            string   `json:"user" yaml:"user"`
	Password        string   `json:"password" yaml:"password"`
	DBName          string   `json:"dbname" yaml:"dbname"`
	SSLMode         string   `json:"sslmode" yaml:"sslmode"`
	MigrationsPath  string   `json:"migrations_path" yaml:"migrations_path"`
	MaxOpenConns    int      `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host      string   `json:"host" yaml:"host"`
	Port      int      `json:"port" yaml:"port"`
	Addr      string   `json:"addr" yaml:"addr"`
	Password  string   `json:"password" yaml:"password"`
	DB        int      `json:"db" yaml:"db"`
	PoolSize  int      `json:"pool_size" yaml:"pool_size"`
	OpTimeout Duration `json:"op_timeout" yaml:"op_timeout"`
}

// PurchaseConfig holds the per-user limits. ProductLimits overrides
// DefaultUserLimit for individual products.
type PurchaseConfig struct {
	DefaultUserLimit int            `json:"default_user_limit" yaml:"default_user_limit"`
	ProductLimits    map[string]int `json:"product_limits" yaml:"product_limits"`
	ClaimTTL         Duration       `json:"claim_ttl" yaml:"claim_ttl"`
	MarkerTTL        Duration       `json:"marker_ttl" yaml:"marker_ttl"`
	CombinedScript   bool           `json:"combined_script" yaml:"combined_script"`
}

type ReconcileConfig struct {
	BatchSize    int      `json:"batch_size" yaml:"batch_size"`
	Interval     Duration `json:"interval" yaml:"interval"`
	Workers      int      `json:"workers" yaml:"workers"`
	LeaseTimeout Duration `json:"lease_timeout" yaml:"lease_timeout"`
	SeedTimeout  Duration `json:"seed_timeout" yaml:"seed_timeout"`
	WarmOnStart  bool     `json:"warm_on_start" yaml:"warm_on_start"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	ServiceName string `json:"service_name" yaml:"service_name"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			RequestTimeout: Duration{5 * time.Second},
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			DBName:          "seckill",
			SSLMode:         "disable",
			MigrationsPath:  "migrations",
			MaxOpenConns:    100,
			MaxIdleConns:    50,
			ConnMaxLifetime: Duration{time.Hour},
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			PoolSize:  100,
			OpTimeout: Duration{500 * time.Millisecond},
		},
		Purchase: PurchaseConfig{
			DefaultUserLimit: 1,
			ClaimTTL:         Duration{30 * time.Second},
		},
		Reconcile: ReconcileConfig{
			BatchSize:    100,
			Interval:     Duration{2 * time.Second},
			Workers:      2,
			LeaseTimeout: Duration{30 * time.Second},
			SeedTimeout:  Duration{5 * time.Second},
			WarmOnStart:  true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			ServiceName: "seckill-service",
		},
	}
}

// LoadConfig reads a JSON or YAML file over the defaults and then applies
// SECKILL_* environment overrides. An empty path loads defaults only.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("SECKILL_REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := os.LookupEnv("SECKILL_DB_DSN"); ok {
		c.Database.DSN = v
	}
	if v, ok := os.LookupEnv("SECKILL_DB_DRIVER"); ok {
		c.Database.Driver = v
	}
	if v, ok := os.LookupEnv("SECKILL_HTTP_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v, ok := os.LookupEnv("SECKILL_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
}

func (c *Config) Validate() error {
	var errs []error

	if c.Purchase.DefaultUserLimit <= 0 {
		errs = append(errs, errors.New("purchase.default_user_limit must be positive"))
	}
	for product, limit := range c.Purchase.ProductLimits {
		if limit <= 0 {
			errs = append(errs, fmt.Errorf("purchase.product_limits[%s] must be positive", product))
		}
	}
	if c.Reconcile.BatchSize <= 0 {
		errs = append(errs, errors.New("reconcile.batch_size must be positive"))
	}
	if c.Reconcile.Workers <= 0 {
		errs = append(errs, errors.New("reconcile.workers must be positive"))
	}
	if c.Reconcile.Interval.Duration <= 0 {
		errs = append(errs, errors.New("reconcile.interval must be positive"))
	}
	if c.Reconcile.SeedTimeout.Duration <= 0 {
		errs = append(errs, errors.New("reconcile.seed_timeout must be positive"))
	}
	if c.Redis.OpTimeout.Duration <= 0 {
		errs = append(errs, errors.New("redis.op_timeout must be positive"))
	}
	switch c.Database.Driver {
	case "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}

	return errors.Join(errs...)
}

// UserLimit is the most a single user may be granted of productID.
func (c *PurchaseConfig) UserLimit(productID string) int {
	if limit, ok := c.ProductLimits[productID]; ok {
		return limit
	}
	return c.DefaultUserLimit
}

func (c *DatabaseConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DBName +
		" sslmode=" + c.SSLMode
}

func (c *RedisConfig) GetAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Duration accepts "250ms"-style strings in both JSON and YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v interface{}
	if err := node.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) set(v interface{}) error {
	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
	case float64:
		d.Duration = time.Duration(value)
	case int:
		d.Duration = time.Duration(value)
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}
