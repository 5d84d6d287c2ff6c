package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// LaunchTimeLayout is the accepted format for schedule.launch_time (UTC).
const LaunchTimeLayout = "2006-01-02 15:04:05"

type Config struct {
	Log         LoggingConfig  `yaml:"log"`
	REST        RESTConfig     `yaml:"rest"`
	Order       OrderConfig    `yaml:"order"`
	Schedule    ScheduleConfig `yaml:"schedule"`
	Retry       RetryConfig    `yaml:"retry"`
	State       StateConfig    `yaml:"state"`
	Metrics     MetricsConfig  `yaml:"metrics"`
	Telegram    TelegramConfig `yaml:"telegram"`
	Credentials Credentials    `yaml:"-"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format is "json" (default) or "console" for colored operator output.
	Format string `yaml:"format"`
}

type RESTConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Simulated bool          `yaml:"simulated"`
}

type OrderConfig struct {
	Pair           string        `yaml:"pair"`
	TokensToSell   string        `yaml:"tokens_to_sell"`
	OffsetPercent  string        `yaml:"offset_percent"`
	TimeInForce    string        `yaml:"time_in_force"`
	CapToBalance   bool          `yaml:"cap_to_balance"`
	Timeout        time.Duration `yaml:"timeout"`
	StatusInterval time.Duration `yaml:"status_interval"`

	// Parsed from the string fields above during Load.
	Quantity decimal.Decimal `yaml:"-"`
	Offset   decimal.Decimal `yaml:"-"`
}

type ScheduleConfig struct {
	LaunchTime         string        `yaml:"launch_time"`
	PreLaunchWindow    time.Duration `yaml:"pre_launch_window"`
	PairCheckInterval  time.Duration `yaml:"pair_check_interval"`
	PriceCheckInterval time.Duration `yaml:"price_check_interval"`
	ResyncAfter        time.Duration `yaml:"resync_after"`

	// Launch is zero when no launch time is configured.
	Launch time.Time `yaml:"-"`
}

type RetryPolicyConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`

	// attemptsSet distinguishes an explicit max_attempts: 0 (unbounded) from
	// an absent key.
	attemptsSet bool
}

func (p *RetryPolicyConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxAttempts *int          `yaml:"max_attempts"`
		BaseDelay   time.Duration `yaml:"base_delay"`
		MaxDelay    time.Duration `yaml:"max_delay"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*p = RetryPolicyConfig{BaseDelay: raw.BaseDelay, MaxDelay: raw.MaxDelay}
	if raw.MaxAttempts != nil {
		p.MaxAttempts = *raw.MaxAttempts
		p.attemptsSet = true
	}
	return nil
}

type RetryConfig struct {
	Submit RetryPolicyConfig `yaml:"submit"`
	Cancel RetryPolicyConfig `yaml:"cancel"`
	Fetch  RetryPolicyConfig `yaml:"fetch"`
	Clock  RetryPolicyConfig `yaml:"clock"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

// Credentials are read from the environment, never from the YAML file.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.APISecret != "" && c.Passphrase != ""
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	cfg.Credentials = CredentialsFromEnv()
	if err := resolve(&cfg); err != nil {
		return nil, err
	}
	return &cfg, validate(&cfg)
}

func CredentialsFromEnv() Credentials {
	return Credentials{
		APIKey:     strings.TrimSpace(os.Getenv("OKX_API_KEY")),
		APISecret:  strings.TrimSpace(os.Getenv("OKX_API_SECRET")),
		Passphrase: strings.TrimSpace(os.Getenv("OKX_PASSPHRASE")),
	}
}

// NormalizePair upper-cases a pair and converts "BASE/QUOTE" to OKX's "BASE-QUOTE".
func NormalizePair(pair string) string {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	return strings.ReplaceAll(pair, "/", "-")
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://www.okx.com"
	}
	cfg.REST.BaseURL = strings.TrimRight(cfg.REST.BaseURL, "/")
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.RateLimit == 0 {
		cfg.REST.RateLimit = 10
	}
	cfg.Order.Pair = NormalizePair(cfg.Order.Pair)
	if cfg.Order.TimeInForce == "" {
		cfg.Order.TimeInForce = "gtc"
	}
	cfg.Order.TimeInForce = strings.ToLower(cfg.Order.TimeInForce)
	if cfg.Order.Timeout == 0 {
		cfg.Order.Timeout = 30 * time.Second
	}
	if cfg.Order.StatusInterval == 0 {
		cfg.Order.StatusInterval = time.Second
	}
	if cfg.Schedule.PreLaunchWindow == 0 {
		cfg.Schedule.PreLaunchWindow = 10 * time.Second
	}
	if cfg.Schedule.PairCheckInterval == 0 {
		cfg.Schedule.PairCheckInterval = 500 * time.Millisecond
	}
	if cfg.Schedule.PriceCheckInterval == 0 {
		cfg.Schedule.PriceCheckInterval = time.Second
	}
	if cfg.Schedule.ResyncAfter == 0 {
		cfg.Schedule.ResyncAfter = 5 * time.Minute
	}
	defaultPolicy(&cfg.Retry.Submit, 5, 200*time.Millisecond, 3*time.Second)
	defaultPolicy(&cfg.Retry.Cancel, 8, 200*time.Millisecond, 5*time.Second)
	defaultPolicy(&cfg.Retry.Fetch, 0, 250*time.Millisecond, 5*time.Second)
	defaultPolicy(&cfg.Retry.Clock, 5, 200*time.Millisecond, 2*time.Second)
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/okx-listing-bot.db"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := false
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9102"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// defaultPolicy fills unset fields. MaxAttempts of zero means unbounded, so it
// is kept only when max_attempts was given explicitly.
func defaultPolicy(p *RetryPolicyConfig, attempts int, base, maxDelay time.Duration) {
	if !p.attemptsSet && p.MaxAttempts == 0 {
		p.MaxAttempts = attempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = base
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = maxDelay
	}
}

func resolve(cfg *Config) error {
	if strings.TrimSpace(cfg.Order.TokensToSell) != "" {
		qty, err := decimal.NewFromString(strings.TrimSpace(cfg.Order.TokensToSell))
		if err != nil {
			return fmt.Errorf("order.tokens_to_sell: %w", err)
		}
		cfg.Order.Quantity = qty
	}
	if strings.TrimSpace(cfg.Order.OffsetPercent) != "" {
		offset, err := decimal.NewFromString(strings.TrimSpace(cfg.Order.OffsetPercent))
		if err != nil {
			return fmt.Errorf("order.offset_percent: %w", err)
		}
		cfg.Order.Offset = offset
	}
	if launch := strings.TrimSpace(cfg.Schedule.LaunchTime); launch != "" {
		ts, err := time.ParseInLocation(LaunchTimeLayout, launch, time.UTC)
		if err != nil {
			return fmt.Errorf("schedule.launch_time: %w", err)
		}
		cfg.Schedule.Launch = ts
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Order.Pair == "" {
		return errors.New("order.pair is required")
	}
	if !strings.Contains(cfg.Order.Pair, "-") {
		return fmt.Errorf("order.pair %q must be BASE-QUOTE", cfg.Order.Pair)
	}
	if !cfg.Order.Quantity.IsPositive() {
		return errors.New("order.tokens_to_sell must be > 0")
	}
	if cfg.Order.Offset.IsNegative() || cfg.Order.Offset.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return errors.New("order.offset_percent must be in [0, 100)")
	}
	switch cfg.Order.TimeInForce {
	case "gtc", "ioc", "fok":
	default:
		return fmt.Errorf("order.time_in_force %q is not one of gtc, ioc, fok", cfg.Order.TimeInForce)
	}
	if cfg.Order.Timeout < 0 || cfg.Order.StatusInterval < 0 {
		return errors.New("order timeouts must be >= 0")
	}
	if cfg.Schedule.PreLaunchWindow < 0 {
		return errors.New("schedule.pre_launch_window must be >= 0")
	}
	if cfg.REST.RateLimit < 0 {
		return errors.New("rest.rate_limit must be >= 0")
	}
	for name, p := range map[string]RetryPolicyConfig{
		"submit": cfg.Retry.Submit,
		"cancel": cfg.Retry.Cancel,
		"fetch":  cfg.Retry.Fetch,
		"clock":  cfg.Retry.Clock,
	} {
		if p.MaxAttempts < 0 {
			return fmt.Errorf("retry.%s.max_attempts must be >= 0", name)
		}
		if p.MaxDelay < p.BaseDelay {
			return fmt.Errorf("retry.%s.max_delay must be >= base_delay", name)
		}
	}
	// The limit price is fixed when trading opens; an unbounded submit could
	// place it long after the market has moved.
	if cfg.Retry.Submit.MaxAttempts == 0 {
		return errors.New("retry.submit.max_attempts must be > 0")
	}
	if !cfg.Credentials.Complete() {
		return errors.New("OKX_API_KEY, OKX_API_SECRET and OKX_PASSPHRASE are required")
	}
	return nil
}
