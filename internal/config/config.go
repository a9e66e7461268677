// Package config loads service settings from defaults, an optional YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	Port string `yaml:"port"`

	WebhookSecret string `yaml:"-"`
	AdminToken    string `yaml:"-"`

	Carrier  Carrier  `yaml:"carrier"`
	Geocode  Geocode  `yaml:"geocode"`
	Defaults Defaults `yaml:"defaults"`
	Sweep    Sweep    `yaml:"sweep"`
	Storage  Storage  `yaml:"storage"`

	IngestTimeout     time.Duration `yaml:"ingestTimeout"`
	IngestConcurrency int           `yaml:"ingestConcurrency"`
	DedupOrders       bool          `yaml:"dedupOrders"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

type Carrier struct {
	BaseURL     string        `yaml:"baseURL"`
	Email       string        `yaml:"-"`
	Password    string        `yaml:"-"`
	TokenTTL    time.Duration `yaml:"tokenTTL"`
	Timeout     time.Duration `yaml:"timeout"`
	VehicleType string        `yaml:"vehicleType"`
}

type Geocode struct {
	BaseURL string        `yaml:"baseURL"`
	APIKey  string        `yaml:"-"`
	Timeout time.Duration `yaml:"timeout"`
}

// Defaults are the static fulfilment values stamped on every shipment.
type Defaults struct {
	PickupLocation string  `yaml:"pickupLocation"`
	Length         float64 `yaml:"length"`
	Breadth        float64 `yaml:"breadth"`
	Height         float64 `yaml:"height"`
	Weight         float64 `yaml:"weight"`
	HSN            string  `yaml:"hsn"`
	Category       string  `yaml:"category"`
}

type Sweep struct {
	Weekday    time.Weekday `yaml:"weekday"`
	Hour       int          `yaml:"hour"`
	Minute     int          `yaml:"minute"`
	Timezone   string       `yaml:"timezone"`
	PickupHour int          `yaml:"pickupHour"`
	RPS        float64      `yaml:"rps"`
	Disabled   bool         `yaml:"disabled"`
}

type Storage struct {
	PendingFile string `yaml:"pendingFile"`
	DatabaseURL string `yaml:"-"`
	Migrate     bool   `yaml:"migrate"`
	RedisURL    string `yaml:"-"`
	RedisKey    string `yaml:"redisKey"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port: "8080",
		Carrier: Carrier{
			BaseURL:     "https://apiv2.shiprocket.in/v1/external",
			TokenTTL:    10 * time.Hour,
			Timeout:     15 * time.Second,
			VehicleType: "bike",
		},
		Geocode: Geocode{
			BaseURL: "https://maps.googleapis.com/maps/api/geocode/json",
			Timeout: 5 * time.Second,
		},
		Defaults: Defaults{
			PickupLocation: "Primary",
			Length:         10,
			Breadth:        10,
			Height:         10,
			Weight:         0.5,
			HSN:            "0000",
			Category:       "General",
		},
		Sweep: Sweep{
			Weekday:    time.Sunday,
			Hour:       10,
			Timezone:   "Local",
			PickupHour: 10,
			RPS:        2,
		},
		Storage: Storage{
			PendingFile: "pending_shipments.json",
			Migrate:     true,
			RedisKey:    "shiprelay:pending",
		},
		IngestTimeout:     60 * time.Second,
		IngestConcurrency: 16,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load reads .env (if present), then CONFIG_FILE (if set), then environment overrides.
func Load() (Config, error) {
	_ = godotenv.Load()
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = envOr("PORT", c.Port)
	c.WebhookSecret = os.Getenv("SHOPIFY_WEBHOOK_SECRET")
	c.AdminToken = os.Getenv("ADMIN_TOKEN")

	c.Carrier.BaseURL = strings.TrimRight(envOr("CARRIER_BASE_URL", c.Carrier.BaseURL), "/")
	c.Carrier.Email = os.Getenv("CARRIER_EMAIL")
	c.Carrier.Password = os.Getenv("CARRIER_PASSWORD")
	c.Carrier.VehicleType = envOr("VEHICLE_TYPE", c.Carrier.VehicleType)

	c.Geocode.BaseURL = envOr("GEOCODE_BASE_URL", c.Geocode.BaseURL)
	c.Geocode.APIKey = os.Getenv("GEOCODE_API_KEY")

	c.Defaults.PickupLocation = envOr("PICKUP_LOCATION", c.Defaults.PickupLocation)

	c.Storage.PendingFile = envOr("PENDING_FILE", c.Storage.PendingFile)
	c.Storage.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	c.Storage.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if v := os.Getenv("DB_MIGRATE"); v != "" {
		c.Storage.Migrate = v != "false"
	}

	c.Sweep.Timezone = envOr("SWEEP_TIMEZONE", c.Sweep.Timezone)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)

	var err error
	if c.Carrier.TokenTTL, err = envDuration("CARRIER_TOKEN_TTL", c.Carrier.TokenTTL); err != nil {
		return err
	}
	if c.IngestTimeout, err = envDuration("INGEST_TIMEOUT", c.IngestTimeout); err != nil {
		return err
	}
	if c.IngestConcurrency, err = envInt("INGEST_CONCURRENCY", c.IngestConcurrency); err != nil {
		return err
	}
	if c.DedupOrders, err = envBool("DEDUP_ORDERS", c.DedupOrders); err != nil {
		return err
	}
	if c.Sweep.Disabled, err = envBool("SWEEP_DISABLED", c.Sweep.Disabled); err != nil {
		return err
	}
	if v := os.Getenv("SWEEP_WEEKDAY"); v != "" {
		wd, err := parseWeekday(v)
		if err != nil {
			return err
		}
		c.Sweep.Weekday = wd
	}
	if c.Sweep.Hour, err = envInt("SWEEP_HOUR", c.Sweep.Hour); err != nil {
		return err
	}
	if c.Sweep.Minute, err = envInt("SWEEP_MINUTE", c.Sweep.Minute); err != nil {
		return err
	}
	if c.Sweep.PickupHour, err = envInt("PICKUP_HOUR", c.Sweep.PickupHour); err != nil {
		return err
	}
	if v := os.Getenv("SWEEP_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SWEEP_RPS: %w", err)
		}
		c.Sweep.RPS = f
	}
	return nil
}

// Validate checks ranges; missing secrets are reported at startup by the caller.
func (c Config) Validate() error {
	if c.Sweep.Hour < 0 || c.Sweep.Hour > 23 || c.Sweep.PickupHour < 0 || c.Sweep.PickupHour > 23 {
		return fmt.Errorf("sweep hours must be in [0,23]")
	}
	if c.Sweep.Minute < 0 || c.Sweep.Minute > 59 {
		return fmt.Errorf("sweep minute must be in [0,59]")
	}
	if c.IngestConcurrency <= 0 {
		return fmt.Errorf("INGEST_CONCURRENCY must be > 0")
	}
	if c.Carrier.TokenTTL <= 0 {
		return fmt.Errorf("CARRIER_TOKEN_TTL must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("SWEEP_TIMEZONE: %w", err)
	}
	return nil
}

// Location resolves the sweep timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Sweep.Timezone)
}

// Redacted is safe to expose on the debug endpoint.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"PORT":               c.Port,
		"CARRIER_BASE_URL":   c.Carrier.BaseURL,
		"HAS_CARRIER_LOGIN":  c.Carrier.Email != "" && c.Carrier.Password != "",
		"HAS_WEBHOOK_SECRET": c.WebhookSecret != "",
		"HAS_GEOCODE_KEY":    c.Geocode.APIKey != "",
		"HAS_DATABASE_URL":   c.Storage.DatabaseURL != "",
		"HAS_REDIS_URL":      c.Storage.RedisURL != "",
		"PENDING_FILE":       c.Storage.PendingFile,
		"DEDUP_ORDERS":       c.DedupOrders,
		"SWEEP":              fmt.Sprintf("%s %02d:%02d %s", c.Sweep.Weekday, c.Sweep.Hour, c.Sweep.Minute, c.Sweep.Timezone),
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envDuration(k string, d time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return d, fmt.Errorf("%s: %w", k, err)
	}
	return out, nil
}

func envInt(k string, d int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func envBool(k string, d bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d, fmt.Errorf("%s: %w", k, err)
	}
	return b, nil
}

func parseWeekday(v string) (time.Weekday, error) {
	if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), v) || strings.EqualFold(d.String()[:3], v) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("SWEEP_WEEKDAY: unknown weekday %q", v)
}
