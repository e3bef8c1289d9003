// Package config loads and validates backtest configuration from YAML.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/coachpo/quantcore/internal/portfolio"
	"github.com/coachpo/quantcore/internal/risk"
)

// Environment identifies where a run happens.
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// EngineConfig sizes the simulated account and the replay window.
type EngineConfig struct {
	StartingCash     decimal.Decimal `yaml:"startingCash"`
	Start            time.Time       `yaml:"start"`
	End              time.Time       `yaml:"end"`
	OrderLimitPerDay int             `yaml:"orderLimitPerDay"`
	// SkipTimedOutSlices keeps replaying after a callback times out.
	SkipTimedOutSlices bool `yaml:"skipTimedOutSlices"`
}

// FeeConfig selects a fee schedule. PerShare takes precedence over Rate.
type FeeConfig struct {
	PerShare decimal.Decimal `yaml:"perShare"`
	Minimum  decimal.Decimal `yaml:"minimum"`
	Rate     decimal.Decimal `yaml:"rate"`
	// Default applies the standard equity schedule when nothing else is set.
	Default bool `yaml:"default"`
}

// SecurityConfig subscribes one instrument.
type SecurityConfig struct {
	Symbol      string          `yaml:"symbol"`
	Kind        portfolio.Kind  `yaml:"kind"`
	Leverage    decimal.Decimal `yaml:"leverage"`
	Fee         FeeConfig       `yaml:"fee"`
	SlippageBPS decimal.Decimal `yaml:"slippageBps"`
	// Timezone of the data files, used to resolve intraday offsets.
	Timezone string `yaml:"timezone"`
}

// DataConfig points at the market data.
type DataConfig struct {
	// Root is the directory of daily files laid out per market and symbol.
	Root string `yaml:"root"`
	// Kind is the registered data kind read from Root.
	Kind string `yaml:"kind"`
	// CSV is an alternative single tick file; it is merged with Root data when both are set.
	CSV string `yaml:"csv"`
}

// StrategyConfig picks the trading logic: a built-in Go strategy by name
// or a JavaScript module by path.
type StrategyConfig struct {
	Name   string         `yaml:"name"`
	Script string         `yaml:"script"`
	Params map[string]any `yaml:"params"`
}

// IsolatorConfig bounds every strategy callback.
type IsolatorConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Timeout      time.Duration `yaml:"timeout"`
	MemoryCapMB  uint64        `yaml:"memoryCapMB"`
	PollInterval time.Duration `yaml:"pollInterval"`
	GracePeriod  time.Duration `yaml:"gracePeriod"`
}

// MemoryCapBytes converts MemoryCapMB.
func (c IsolatorConfig) MemoryCapBytes() uint64 { return c.MemoryCapMB << 20 }

// RiskConfig mirrors risk.Limits.
type RiskConfig struct {
	MaxOrderQuantity int64           `yaml:"maxOrderQuantity"`
	MaxNotionalValue decimal.Decimal `yaml:"maxNotionalValue"`
	OrderThrottle    float64         `yaml:"orderThrottle"`
	OrderBurst       int             `yaml:"orderBurst"`
	MaxOrders        int             `yaml:"maxOrders"`
}

// Limits converts the section for the risk manager.
func (c RiskConfig) Limits() risk.Limits {
	return risk.Limits{
		MaxOrderQuantity: c.MaxOrderQuantity,
		MaxNotionalValue: c.MaxNotionalValue,
		OrderThrottle:    c.OrderThrottle,
		OrderBurst:       c.OrderBurst,
		MaxOrders:        c.MaxOrders,
	}
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	OTLPInsecure bool   `yaml:"otlpInsecure"`
	ServiceName  string `yaml:"serviceName"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// AppConfig is the complete backtest configuration.
type AppConfig struct {
	Environment Environment      `yaml:"environment"`
	Engine      EngineConfig     `yaml:"engine"`
	Securities  []SecurityConfig `yaml:"securities"`
	Data        DataConfig       `yaml:"data"`
	Strategy    StrategyConfig   `yaml:"strategy"`
	Isolator    IsolatorConfig   `yaml:"isolator"`
	Risk        RiskConfig       `yaml:"risk"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// Default returns a configuration that runs the buy-and-hold strategy on
// SPY daily files under ./data.
func Default() AppConfig {
	cfg := AppConfig{
		Environment: EnvDev,
		Engine: EngineConfig{
			StartingCash:     decimal.NewFromInt(100_000),
			OrderLimitPerDay: risk.DefaultOrdersPerDay,
		},
		Securities: []SecurityConfig{{
			Symbol:   "SPY",
			Kind:     portfolio.KindEquity,
			Leverage: decimal.NewFromInt(1),
			Fee:      FeeConfig{Default: true},
		}},
		Data:     DataConfig{Root: "data", Kind: "tradebar"},
		Strategy: StrategyConfig{Name: "buyandhold", Params: map[string]any{"symbol": "SPY"}},
		Isolator: IsolatorConfig{
			Enabled:      true,
			Timeout:      5 * time.Second,
			MemoryCapMB:  1024,
			PollInterval: 100 * time.Millisecond,
			GracePeriod:  2 * time.Second,
		},
		Telemetry: TelemetryConfig{OTLPEndpoint: "localhost:4318", ServiceName: "quantcore"},
		Logging:   LoggingConfig{Level: "info"},
	}
	return cfg
}

// Load reads path over Default, normalises and validates the result.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(bytes)
}

// Parse decodes YAML over Default, normalises and validates the result.
func Parse(data []byte) (AppConfig, error) {
	def := Default()
	cfg := def
	// sections that pick one alternative replace the default instead of merging into it
	cfg.Securities = nil
	cfg.Data = DataConfig{}
	cfg.Strategy = StrategyConfig{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Securities == nil {
		cfg.Securities = def.Securities
	}
	if cfg.Data == (DataConfig{}) {
		cfg.Data = def.Data
	}
	if cfg.Strategy.Name == "" && cfg.Strategy.Script == "" && cfg.Strategy.Params == nil {
		cfg.Strategy = def.Strategy
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvDev
	}
	if c.Engine.OrderLimitPerDay <= 0 {
		c.Engine.OrderLimitPerDay = risk.DefaultOrdersPerDay
	}
	for i := range c.Securities {
		s := &c.Securities[i]
		s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
		s.Kind = portfolio.Kind(strings.ToLower(strings.TrimSpace(string(s.Kind))))
		if s.Kind == "" {
			s.Kind = portfolio.KindBase
		}
		if s.Leverage.IsZero() {
			s.Leverage = decimal.NewFromInt(1)
		}
		s.Timezone = strings.TrimSpace(s.Timezone)
	}
	c.Data.Root = strings.TrimSpace(c.Data.Root)
	c.Data.CSV = strings.TrimSpace(c.Data.CSV)
	c.Data.Kind = strings.ToLower(strings.TrimSpace(c.Data.Kind))
	if c.Data.Kind == "" {
		c.Data.Kind = "tradebar"
	}
	c.Strategy.Name = strings.ToLower(strings.TrimSpace(c.Strategy.Name))
	c.Strategy.Script = strings.TrimSpace(c.Strategy.Script)
	if c.Risk.OrderBurst <= 0 {
		c.Risk.OrderBurst = 1
	}
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if !c.Engine.StartingCash.IsPositive() {
		return fmt.Errorf("engine startingCash must be > 0")
	}
	if !c.Engine.Start.IsZero() && !c.Engine.End.IsZero() && !c.Engine.End.After(c.Engine.Start) {
		return fmt.Errorf("engine end must be after start")
	}

	if len(c.Securities) == 0 {
		return fmt.Errorf("at least one security required")
	}
	seen := make(map[string]struct{}, len(c.Securities))
	for _, s := range c.Securities {
		if s.Symbol == "" {
			return fmt.Errorf("security symbol required")
		}
		if _, dup := seen[s.Symbol]; dup {
			return fmt.Errorf("security %s listed twice", s.Symbol)
		}
		seen[s.Symbol] = struct{}{}
		switch s.Kind {
		case portfolio.KindBase, portfolio.KindEquity, portfolio.KindForex:
		default:
			return fmt.Errorf("security %s: kind must be one of base, equity, forex", s.Symbol)
		}
		if !s.Leverage.IsPositive() {
			return fmt.Errorf("security %s: leverage must be > 0", s.Symbol)
		}
		if s.Fee.PerShare.IsNegative() || s.Fee.Minimum.IsNegative() || s.Fee.Rate.IsNegative() {
			return fmt.Errorf("security %s: fees must be >= 0", s.Symbol)
		}
		if s.SlippageBPS.IsNegative() {
			return fmt.Errorf("security %s: slippageBps must be >= 0", s.Symbol)
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				return fmt.Errorf("security %s: timezone: %w", s.Symbol, err)
			}
		}
	}

	if c.Data.Root == "" && c.Data.CSV == "" {
		return fmt.Errorf("data root or csv required")
	}
	if c.Data.Root != "" && (c.Engine.Start.IsZero() || c.Engine.End.IsZero()) {
		return fmt.Errorf("engine start and end required to read data root")
	}

	if c.Strategy.Name == "" && c.Strategy.Script == "" {
		return fmt.Errorf("strategy name or script required")
	}
	if c.Strategy.Name != "" && c.Strategy.Script != "" {
		return fmt.Errorf("strategy name and script are mutually exclusive")
	}

	if c.Isolator.Timeout < 0 || c.Isolator.PollInterval < 0 || c.Isolator.GracePeriod < 0 {
		return fmt.Errorf("isolator durations must be >= 0")
	}

	if c.Risk.MaxOrderQuantity < 0 {
		return fmt.Errorf("risk maxOrderQuantity must be >= 0")
	}
	if c.Risk.MaxNotionalValue.IsNegative() {
		return fmt.Errorf("risk maxNotionalValue must be >= 0")
	}
	if c.Risk.OrderThrottle < 0 {
		return fmt.Errorf("risk orderThrottle must be >= 0")
	}
	if c.Risk.MaxOrders < 0 {
		return fmt.Errorf("risk maxOrders must be >= 0")
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))
	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
