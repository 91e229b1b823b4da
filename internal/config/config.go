package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/pdrelay/pkg/pagerduty"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultScrapeInterval = 30 * time.Second
	DefaultResultTTL      = 5 * time.Minute
	DefaultListen         = ":8080"
	DefaultCooldown       = 15 * time.Minute
	DefaultSeverity       = "warning"
	DefaultAPIKeyHeader   = "x-api-key"
)

// Config is the top-level relay configuration.
type Config struct {
	PagerDuty PagerDutyConfig `yaml:"pagerduty"`
	Scrape    ScrapeConfig    `yaml:"scrape"`
	Rules     []AlertRule     `yaml:"rules"`
	API       APIConfig       `yaml:"api"`
}

// PagerDutyConfig configures event delivery.
type PagerDutyConfig struct {
	// Timeout bounds a single POST to the Events API.
	Timeout time.Duration `yaml:"timeout"`

	// Services are the PagerDuty integrations events can be routed to.
	Services []Service `yaml:"services"`
}

// Service is one PagerDuty Events API v2 integration.
type Service struct {
	// Name is referenced by rules and by POST /api/v1/events.
	Name string `yaml:"name"`

	// RoutingKeyEnv is the name of the environment variable holding the
	// 32-character integration key.
	RoutingKeyEnv string `yaml:"routing_key_env"`
}

// RoutingKey returns the integration key resolved from the environment.
func (s Service) RoutingKey() string {
	if s.RoutingKeyEnv == "" {
		return ""
	}
	return os.Getenv(s.RoutingKeyEnv)
}

// RouteNotificationFor makes a Service a pagerduty.Notifiable. A service whose
// key variable is unset is not routable.
func (s Service) RouteNotificationFor(channel string) string {
	if channel != pagerduty.ChannelName {
		return ""
	}
	return s.RoutingKey()
}

// ScrapeConfig lists the Prometheus endpoints rules are evaluated against.
type ScrapeConfig struct {
	Interval time.Duration `yaml:"interval"`

	// ResultTTL is how long a target's last result is listed by the API
	// after its most recent scrape.
	ResultTTL time.Duration `yaml:"result_ttl"`
	Targets   []Target      `yaml:"targets"`
}

// Target is one Prometheus text-exposition endpoint.
type Target struct {
	// ID is a unique, human-readable identifier, used as the event source.
	ID string `yaml:"id"`

	// Endpoint is the full URL of the metrics endpoint.
	Endpoint string `yaml:"endpoint"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`
}

// AuthConfig specifies how the relay authenticates to a target.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header and KeyEnv are used when Mode == "apikey".
	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`

	// TokenEnv is used when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// Username and PasswordEnv are used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string { return env(a.KeyEnv) }

// Token returns the bearer token resolved from the environment.
func (a AuthConfig) Token() string { return env(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string { return env(a.PasswordEnv) }

// TLSConfig holds per-target TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// AlertRule defines one threshold condition on a scraped metric.
type AlertRule struct {
	// Name identifies the rule; together with the target it forms the dedup key.
	Name string `yaml:"name"`

	// Target is the ID of the scrape target the rule is evaluated against.
	Target string `yaml:"target"`

	// Service is the name of the PagerDuty service that receives the events.
	Service string `yaml:"service"`

	// Condition is "<metric family> <op> <number>", e.g.
	// "prometheus_remote_storage_samples_dropped_total > 100".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | error | warning | info.
	Severity string `yaml:"severity"`

	// Optional PagerDuty payload fields.
	Component string `yaml:"component"`
	Group     string `yaml:"group"`
	Class     string `yaml:"class"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	Cooldown time.Duration `yaml:"cooldown"`
}

// APIConfig configures the relay's HTTP API.
type APIConfig struct {
	// Listen is the address the API listens on (default ":8080").
	Listen string `yaml:"listen"`

	Auth APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig controls client authentication on the HTTP API.
type APIAuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header the key is read from (default "x-api-key").
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a APIAuthConfig) Key() string { return env(a.KeyEnv) }

// RequiredKey returns the expected API key. In apikey mode an empty key is an
// error, so the API is never left open by an unset variable.
func (a APIAuthConfig) RequiredKey() (string, error) {
	key := a.Key()
	if a.Mode == "apikey" && key == "" {
		return "", fmt.Errorf("config: api.auth.mode is apikey but $%s is empty", a.KeyEnv)
	}
	return key, nil
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a APIAuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultAPIKeyHeader
}

// Service returns the service named name.
func (c *Config) Service(name string) (Service, bool) {
	for _, s := range c.PagerDuty.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	for i := range cfg.Rules {
		if cfg.Rules[i].Severity == "" {
			cfg.Rules[i].Severity = DefaultSeverity
		}
		if cfg.Rules[i].Cooldown == 0 {
			cfg.Rules[i].Cooldown = DefaultCooldown
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		PagerDuty: PagerDutyConfig{Timeout: DefaultTimeout},
		Scrape:    ScrapeConfig{Interval: DefaultScrapeInterval, ResultTTL: DefaultResultTTL},
		API:       APIConfig{Listen: DefaultListen},
	}
}

// validate checks required fields, references and enums.
func validate(cfg *Config) error {
	if cfg.PagerDuty.Timeout <= 0 {
		return fmt.Errorf("pagerduty.timeout must be positive")
	}
	if cfg.Scrape.Interval <= 0 {
		return fmt.Errorf("scrape.interval must be positive")
	}
	if cfg.Scrape.ResultTTL <= 0 {
		return fmt.Errorf("scrape.result_ttl must be positive")
	}

	services := make(map[string]bool, len(cfg.PagerDuty.Services))
	for i, s := range cfg.PagerDuty.Services {
		if s.Name == "" {
			return fmt.Errorf("pagerduty.services[%d]: name is required", i)
		}
		if services[s.Name] {
			return fmt.Errorf("pagerduty.services[%d]: duplicate name %q", i, s.Name)
		}
		if s.RoutingKeyEnv == "" {
			return fmt.Errorf("pagerduty.services[%d] %q: routing_key_env is required", i, s.Name)
		}
		services[s.Name] = true
	}

	targets := make(map[string]bool, len(cfg.Scrape.Targets))
	for i, t := range cfg.Scrape.Targets {
		if t.ID == "" {
			return fmt.Errorf("scrape.targets[%d]: id is required", i)
		}
		if targets[t.ID] {
			return fmt.Errorf("scrape.targets[%d]: duplicate id %q", i, t.ID)
		}
		if t.Endpoint == "" {
			return fmt.Errorf("scrape.targets[%d] %q: endpoint is required", i, t.ID)
		}
		switch t.Auth.Mode {
		case "mtls", "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("scrape.targets[%d] %q: unknown auth mode %q", i, t.ID, t.Auth.Mode)
		}
		targets[t.ID] = true
	}

	for i, r := range cfg.Rules {
		if r.Name == "" {
			return fmt.Errorf("rules[%d]: name is required", i)
		}
		if !targets[r.Target] {
			return fmt.Errorf("rules[%d] %q: unknown target %q", i, r.Name, r.Target)
		}
		if !services[r.Service] {
			return fmt.Errorf("rules[%d] %q: unknown service %q", i, r.Name, r.Service)
		}
		if err := checkCondition(r.Condition); err != nil {
			return fmt.Errorf("rules[%d] %q: %w", i, r.Name, err)
		}
		if !ValidSeverity(r.Severity) {
			return fmt.Errorf("rules[%d] %q: severity %q unknown: want critical|error|warning|info", i, r.Name, r.Severity)
		}
		if r.Cooldown < 0 {
			return fmt.Errorf("rules[%d] %q: cooldown must not be negative", i, r.Name)
		}
	}

	switch cfg.API.Auth.Mode {
	case "apikey":
		if cfg.API.Auth.KeyEnv == "" {
			return fmt.Errorf("api.auth.key_env is required when api.auth.mode is apikey")
		}
	case "none", "":
	default:
		return fmt.Errorf("api.auth.mode %q unknown: want apikey|none", cfg.API.Auth.Mode)
	}
	return nil
}

// ValidSeverity reports whether s is a severity the Events API accepts.
func ValidSeverity(s string) bool {
	switch s {
	case "critical", "error", "warning", "info":
		return true
	}
	return false
}

// checkCondition verifies the "<metric> <op> <number>" shape of a condition.
func checkCondition(cond string) error {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return fmt.Errorf("condition %q: want \"<metric> <op> <value>\"", cond)
	}
	switch parts[1] {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return fmt.Errorf("condition %q: unknown operator %q", cond, parts[1])
	}
	if _, err := strconv.ParseFloat(parts[2], 64); err != nil {
		return fmt.Errorf("condition %q: value is not a number", cond)
	}
	return nil
}

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
