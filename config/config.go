// Package config manages application configuration loading and validation.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Env var names for credentials, which never live in the YAML file.
const (
	EnvDemoToken = "TRADEWIRE_DEMO_TOKEN"
	EnvRealToken = "TRADEWIRE_REAL_TOKEN"
)

// Duration wraps time.Duration so YAML values read as "30s" or "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses the standard duration syntax.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	text := strings.TrimSpace(node.Value)
	if text == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("duration: invalid value %q", node.Value)
	}
	d.Duration = parsed
	return nil
}

// ConnectionConfig sets the venue endpoints and connection timing.
type ConnectionConfig struct {
	Venue                string   `yaml:"venue"`
	AppID                string   `yaml:"appId"`
	Endpoints            []string `yaml:"endpoints"`
	UseReal              bool     `yaml:"useReal"`
	RequestTimeout       Duration `yaml:"requestTimeout"`
	KeepaliveInterval    Duration `yaml:"keepaliveInterval"`
	KeepaliveTimeout     Duration `yaml:"keepaliveTimeout"`
	ReconnectMaxAttempts int      `yaml:"reconnectMaxAttempts"`
	ReconnectInitialWait Duration `yaml:"reconnectInitialWait"`
	ReconnectMaxWait     Duration `yaml:"reconnectMaxWait"`
	SendInterval         Duration `yaml:"sendInterval"`

	// Tokens come from the environment, never from the file.
	DemoToken string `yaml:"-"`
	RealToken string `yaml:"-"`
}

// TradingConfig describes the instrument and contract parameters.
type TradingConfig struct {
	Symbol       string  `yaml:"symbol"`
	Currency     string  `yaml:"currency"`
	ContractType string  `yaml:"contractType"`
	Duration     int     `yaml:"duration"`
	DurationUnit string  `yaml:"durationUnit"`
	Stake        float64 `yaml:"stake"`
	HistoryCount int     `yaml:"historyCount"`
}

// StrategyConfig tunes the moving-average crossover signal.
type StrategyConfig struct {
	ShortPeriod  int `yaml:"shortPeriod"`
	MediumPeriod int `yaml:"mediumPeriod"`
	LongPeriod   int `yaml:"longPeriod"`

	// SignalThreshold is the minimum normalized short-long divergence a
	// crossover must show before a trade is placed. Zero trades on every
	// alignment transition.
	SignalThreshold float64 `yaml:"signalThreshold"`
}

// RiskConfig bounds daily loss and trade count and sizes stakes.
type RiskConfig struct {
	MaxDailyLoss   float64 `yaml:"maxDailyLoss"`
	MaxDailyTrades int     `yaml:"maxDailyTrades"`
	RiskFraction   float64 `yaml:"riskFraction"`
	MaxStake       float64 `yaml:"maxStake"`
	MinStake       float64 `yaml:"minStake"`
}

// SimulationConfig tunes the in-process synthetic venue.
type SimulationConfig struct {
	Enabled      bool     `yaml:"enabled"`
	MinLatency   Duration `yaml:"minLatency"`
	MaxLatency   Duration `yaml:"maxLatency"`
	TickInterval Duration `yaml:"tickInterval"`
	SlowInterval Duration `yaml:"slowInterval"`
	Balance      float64  `yaml:"balance"`
	Seed         int64    `yaml:"seed"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// AppConfig is the unified application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment      `yaml:"environment"`
	Connection  ConnectionConfig `yaml:"connection"`
	Trading     TradingConfig    `yaml:"trading"`
	Strategy    StrategyConfig   `yaml:"strategy"`
	Risk        RiskConfig       `yaml:"risk"`
	Simulation  SimulationConfig `yaml:"simulation"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// Load reads and validates an AppConfig from the provided YAML file, then
// applies environment overrides for credentials.
func Load(configPath string) (AppConfig, error) {
	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	c.Connection.Venue = strings.TrimSpace(c.Connection.Venue)
	for i, e := range c.Connection.Endpoints {
		c.Connection.Endpoints[i] = strings.TrimSpace(e)
	}
	c.Trading.Symbol = strings.TrimSpace(c.Trading.Symbol)
	c.Trading.Currency = strings.TrimSpace(strings.ToUpper(c.Trading.Currency))
	c.Trading.ContractType = strings.TrimSpace(strings.ToUpper(c.Trading.ContractType))
	c.Trading.DurationUnit = strings.TrimSpace(c.Trading.DurationUnit)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)

	if c.Trading.HistoryCount <= 0 {
		c.Trading.HistoryCount = 100
	}
	if c.Trading.DurationUnit == "" {
		c.Trading.DurationUnit = "m"
	}
}

func (c *AppConfig) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvDemoToken)); v != "" {
		c.Connection.DemoToken = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRealToken)); v != "" {
		c.Connection.RealToken = v
	}
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if c.Connection.Venue == "" {
		return fmt.Errorf("connection venue required")
	}
	if !c.Simulation.Enabled && len(c.Connection.Endpoints) == 0 {
		return fmt.Errorf("connection endpoints required outside simulation")
	}
	for _, e := range c.Connection.Endpoints {
		if e == "" {
			return fmt.Errorf("connection endpoints must not be blank")
		}
	}
	if c.Connection.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("connection reconnectMaxAttempts must be >= 0")
	}
	if !c.Simulation.Enabled && c.Connection.DemoToken == "" && c.Connection.RealToken == "" {
		return fmt.Errorf("set %s or %s", EnvDemoToken, EnvRealToken)
	}
	if c.Connection.UseReal && !c.Simulation.Enabled && c.Connection.RealToken == "" {
		return fmt.Errorf("useReal requires %s", EnvRealToken)
	}

	if c.Trading.Symbol == "" {
		return fmt.Errorf("trading symbol required")
	}
	if c.Trading.Currency == "" {
		return fmt.Errorf("trading currency required")
	}
	if c.Trading.ContractType == "" {
		return fmt.Errorf("trading contractType required")
	}
	if c.Trading.Duration <= 0 {
		return fmt.Errorf("trading duration must be > 0")
	}
	if c.Trading.Stake <= 0 {
		return fmt.Errorf("trading stake must be > 0")
	}

	if c.Strategy.ShortPeriod <= 0 || c.Strategy.MediumPeriod <= 0 || c.Strategy.LongPeriod <= 0 {
		return fmt.Errorf("strategy periods must be > 0")
	}
	if c.Strategy.ShortPeriod >= c.Strategy.MediumPeriod || c.Strategy.MediumPeriod >= c.Strategy.LongPeriod {
		return fmt.Errorf("strategy periods must be strictly increasing")
	}
	if c.Strategy.SignalThreshold < 0 || c.Strategy.SignalThreshold >= 1 {
		return fmt.Errorf("strategy signalThreshold must be within [0, 1)")
	}

	if c.Risk.MaxDailyLoss < 0 {
		return fmt.Errorf("risk maxDailyLoss must be >= 0")
	}
	if c.Risk.MaxDailyTrades < 0 {
		return fmt.Errorf("risk maxDailyTrades must be >= 0")
	}
	if c.Risk.RiskFraction < 0 || c.Risk.RiskFraction > 1 {
		return fmt.Errorf("risk riskFraction must be within [0, 1]")
	}
	if c.Risk.MaxStake < 0 || c.Risk.MinStake < 0 {
		return fmt.Errorf("risk stake bounds must be >= 0")
	}
	if c.Risk.MaxStake > 0 && c.Risk.MinStake > c.Risk.MaxStake {
		return fmt.Errorf("risk minStake must not exceed maxStake")
	}

	if c.Simulation.Enabled {
		if c.Simulation.Balance < 0 {
			return fmt.Errorf("simulation balance must be >= 0")
		}
		if c.Simulation.MaxLatency.Duration < c.Simulation.MinLatency.Duration {
			return fmt.Errorf("simulation maxLatency must be >= minLatency")
		}
	}

	if c.Telemetry.EnableMetrics && strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry serviceName required when metrics enabled")
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))
	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
