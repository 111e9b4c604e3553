package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Port              string `json:"port" yaml:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec"`
}

type Log struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Limits are the per-provider call settings shared by every provider section.
type Limits struct {
	TimeoutSec            int `json:"timeout_sec" yaml:"timeout_sec"`
	MaxRequestsPerMinute  int `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	MinRequestIntervalSec int `json:"min_request_interval_sec" yaml:"min_request_interval_sec"`
	Burst                 int `json:"burst" yaml:"burst"`
	CacheTTLSeconds       int `json:"cache_ttl_sec" yaml:"cache_ttl_sec"`
	CacheMaxItems         int `json:"cache_max_items" yaml:"cache_max_items"`
}

func (l Limits) Timeout() time.Duration     { return seconds(l.TimeoutSec) }
func (l Limits) MinInterval() time.Duration { return seconds(l.MinRequestIntervalSec) }
func (l Limits) CacheTTL() time.Duration    { return seconds(l.CacheTTLSeconds) }

type RESTCarrier struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	APIKey  string `json:"api_key" yaml:"api_key"`
	Limits  `yaml:",inline"`
}

type XMLCarrier struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	BaseURL    string `json:"base_url" yaml:"base_url"`
	User       string `json:"user" yaml:"user"`
	Password   string `json:"password" yaml:"password"`
	CustomerID string `json:"customer_id" yaml:"customer_id"`
	Limits     `yaml:",inline"`
}

type Forecast struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	IdentityURL string `json:"identity_url" yaml:"identity_url"`
	BaseURL     string `json:"base_url" yaml:"base_url"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	TokenCache  bool   `json:"token_cache" yaml:"token_cache"`
	TokenTTLSec int    `json:"token_ttl_sec" yaml:"token_ttl_sec"`
	Limits      `yaml:",inline"`
}

const (
	MarginStatic   = "static"
	MarginPostgres = "postgres"
)

type Margin struct {
	Source      string  `json:"source" yaml:"source"`
	StaticPct   float64 `json:"static_pct" yaml:"static_pct"`
	RuleID      string  `json:"rule_id" yaml:"rule_id"`
	DatabaseURL string  `json:"database_url" yaml:"database_url"`
	MaxConns    int     `json:"max_conns" yaml:"max_conns"`
}

type Config struct {
	Server      Server      `json:"server" yaml:"server"`
	Log         Log         `json:"log" yaml:"log"`
	RESTCarrier RESTCarrier `json:"rest_carrier" yaml:"rest_carrier"`
	XMLCarrier  XMLCarrier  `json:"xml_carrier" yaml:"xml_carrier"`
	Forecast    Forecast    `json:"forecast" yaml:"forecast"`
	Margin      Margin      `json:"margin" yaml:"margin"`
}

func Default() Config {
	limits := Limits{TimeoutSec: 20, Burst: 1, CacheMaxItems: 1000}
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 30},
		Log:    Log{Level: "info", Format: "text"},
		RESTCarrier: RESTCarrier{
			Enabled: true,
			Limits:  limits,
		},
		XMLCarrier: XMLCarrier{
			Enabled: true,
			Limits:  limits,
		},
		Forecast: Forecast{
			Enabled:     true,
			TokenCache:  true,
			TokenTTLSec: 1200,
			Limits:      limits,
		},
		Margin: Margin{
			Source:   MarginStatic,
			RuleID:   "freight_quote",
			MaxConns: 4,
		},
	}
}

var candidates = []string{"config.yaml", "config.yml", "config.json"}

// Load reads config from path. If path is empty the first existing file among
// config.yaml, config.yml and config.json is used; if none exists defaults are
// returned. YAML files get ${VAR} expansion. Environment variables override
// select fields for secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := decode(path, b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), cfg)
	default:
		return json.Unmarshal(b, cfg)
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	envInt("REQUEST_TIMEOUT_SEC", &cfg.Server.RequestTimeoutSec)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	envBool("REST_CARRIER_ENABLED", &cfg.RESTCarrier.Enabled)
	if v := os.Getenv("REST_CARRIER_BASE_URL"); v != "" {
		cfg.RESTCarrier.BaseURL = v
	}
	if v := os.Getenv("REST_CARRIER_API_KEY"); v != "" {
		cfg.RESTCarrier.APIKey = v
	}
	envInt("REST_CARRIER_TIMEOUT_SEC", &cfg.RESTCarrier.TimeoutSec)

	envBool("XML_CARRIER_ENABLED", &cfg.XMLCarrier.Enabled)
	if v := os.Getenv("XML_CARRIER_BASE_URL"); v != "" {
		cfg.XMLCarrier.BaseURL = v
	}
	if v := os.Getenv("XML_CARRIER_USER"); v != "" {
		cfg.XMLCarrier.User = v
	}
	if v := os.Getenv("XML_CARRIER_PASSWORD"); v != "" {
		cfg.XMLCarrier.Password = v
	}
	if v := os.Getenv("XML_CARRIER_CUSTOMER_ID"); v != "" {
		cfg.XMLCarrier.CustomerID = v
	}
	envInt("XML_CARRIER_TIMEOUT_SEC", &cfg.XMLCarrier.TimeoutSec)

	envBool("FORECAST_ENABLED", &cfg.Forecast.Enabled)
	if v := os.Getenv("FORECAST_IDENTITY_URL"); v != "" {
		cfg.Forecast.IdentityURL = v
	}
	if v := os.Getenv("FORECAST_BASE_URL"); v != "" {
		cfg.Forecast.BaseURL = v
	}
	if v := os.Getenv("FORECAST_USERNAME"); v != "" {
		cfg.Forecast.Username = v
	}
	if v := os.Getenv("FORECAST_PASSWORD"); v != "" {
		cfg.Forecast.Password = v
	}
	envBool("FORECAST_TOKEN_CACHE", &cfg.Forecast.TokenCache)
	envInt("FORECAST_TOKEN_TTL_SEC", &cfg.Forecast.TokenTTLSec)
	envInt("FORECAST_TIMEOUT_SEC", &cfg.Forecast.TimeoutSec)

	if v := os.Getenv("MARGIN_SOURCE"); v != "" {
		cfg.Margin.Source = strings.ToLower(v)
	}
	if v := os.Getenv("MARGIN_STATIC_PCT"); v != "" {
		if x, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Margin.StaticPct = x
		}
	}
	if v := os.Getenv("MARGIN_RULE_ID"); v != "" {
		cfg.Margin.RuleID = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Margin.DatabaseURL = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if x, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && x >= 0 {
		*dst = x
	}
}

func envBool(key string, dst *bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y":
		*dst = true
	case "0", "false", "no", "n":
		*dst = false
	}
}

// Validate reports settings the service cannot start with. Providers left
// without a base URL are not errors: they answer "not configured".
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	switch c.Margin.Source {
	case MarginStatic:
		if math.IsNaN(c.Margin.StaticPct) || c.Margin.StaticPct < 0 || c.Margin.StaticPct > 100 {
			errs = append(errs, fmt.Errorf("margin.static_pct %v out of range 0-100", c.Margin.StaticPct))
		}
	case MarginPostgres:
		if c.Margin.DatabaseURL == "" {
			errs = append(errs, errors.New("margin.database_url is required for the postgres source"))
		}
	default:
		errs = append(errs, fmt.Errorf("margin.source %q must be %q or %q", c.Margin.Source, MarginStatic, MarginPostgres))
	}
	return errors.Join(errs...)
}

// ResponseBudget is the longest a quote request may run: the server request
// timeout when set, otherwise the slowest provider timeout. Zero means a
// provider runs unbounded, so no budget applies.
func (c Config) ResponseBudget() time.Duration {
	if d := seconds(c.Server.RequestTimeoutSec); d > 0 {
		return d
	}
	var budget time.Duration
	for _, l := range []Limits{c.RESTCarrier.Limits, c.XMLCarrier.Limits, c.Forecast.Limits} {
		d := l.Timeout()
		if d == 0 {
			return 0
		}
		budget = max(budget, d)
	}
	return budget
}

const redacted = "***"

// Redacted returns a copy with every secret masked.
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.RESTCarrier.APIKey)
	mask(&c.XMLCarrier.Password)
	mask(&c.Forecast.Password)
	mask(&c.Margin.DatabaseURL)
	return c
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
