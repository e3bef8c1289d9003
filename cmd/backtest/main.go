// Command backtest replays historical market data through a trading strategy
// and prints the run report as JSON.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coachpo/quantcore/internal/config"
	"github.com/coachpo/quantcore/internal/engine"
	"github.com/coachpo/quantcore/internal/feed"
	"github.com/coachpo/quantcore/internal/fill"
	"github.com/coachpo/quantcore/internal/isolator"
	"github.com/coachpo/quantcore/internal/logging"
	"github.com/coachpo/quantcore/internal/portfolio"
	"github.com/coachpo/quantcore/internal/strategy"
	"github.com/coachpo/quantcore/internal/strategy/js"
	"github.com/coachpo/quantcore/internal/telemetry"
)

const (
	defaultConfigPath        = "config/backtest.yaml"
	telemetryShutdownTimeout = 5 * time.Second
)

type flags struct {
	configPath string
	logLevel   string
	output     string
}

func main() {
	f := parseFlags()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, f); err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", defaultConfigPath, "Path to backtest configuration file")
	flag.StringVar(&f.logLevel, "log-level", "", "Override the configured log level")
	flag.StringVar(&f.output, "out", "", "Write the JSON report to this file instead of stdout")
	flag.Parse()
	return f
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.Load(ctx, f.configPath)
	if err != nil {
		return err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	provider, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	feeder, err := buildFeeder(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = feeder.Close() }()

	strat, closeStrategy, err := buildStrategy(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStrategy()

	securities := buildSecurities(cfg.Securities)
	opts := []engine.Option{engine.WithLogger(logger)}
	if cfg.Isolator.Enabled {
		opts = append(opts, engine.WithIsolator(isolator.New(
			isolator.WithPollInterval(cfg.Isolator.PollInterval),
			isolator.WithGracePeriod(cfg.Isolator.GracePeriod),
			isolator.WithLogger(logger),
		)))
	}
	eng, err := engine.New(engineConfig(cfg, securities), strat, opts...)
	if err != nil {
		return err
	}

	logger.Info("backtest starting",
		zap.String("environment", string(cfg.Environment)),
		zap.Int("securities", len(securities)),
		zap.String("strategy", strategyLabel(cfg.Strategy)))
	report, runErr := eng.Run(ctx, feeder)
	if err := writeReport(f.output, report); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		return fmt.Errorf("run: %w", runErr)
	}
	logger.Info("backtest finished",
		zap.Int("slices", report.Slices),
		zap.Int("orders", len(report.Orders)),
		zap.String("equity", report.Totals.PortfolioValue.String()))
	return nil
}

func initTelemetry(ctx context.Context, cfg config.AppConfig) (*telemetry.Provider, error) {
	tcfg := telemetry.DefaultConfig()
	tcfg.Enabled = tcfg.Enabled || cfg.Telemetry.Enabled
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	tcfg.OTLPInsecure = tcfg.OTLPInsecure || cfg.Telemetry.OTLPInsecure
	if cfg.Telemetry.ServiceName != "" {
		tcfg.ServiceName = cfg.Telemetry.ServiceName
	}
	tcfg.Environment = string(cfg.Environment)
	tcfg.ShutdownTimeout = telemetryShutdownTimeout
	return telemetry.NewProvider(ctx, tcfg)
}

func engineConfig(cfg config.AppConfig, securities []engine.Security) engine.Config {
	out := engine.Config{
		StartingCash:       cfg.Engine.StartingCash,
		Securities:         securities,
		Risk:               cfg.Risk.Limits(),
		OrdersPerDay:       cfg.Engine.OrderLimitPerDay,
		Start:              cfg.Engine.Start,
		End:                cfg.Engine.End,
		SkipTimedOutSlices: cfg.Engine.SkipTimedOutSlices,
	}
	if cfg.Isolator.Enabled {
		out.CallbackTimeout = cfg.Isolator.Timeout
		out.MemoryCap = cfg.Isolator.MemoryCapBytes()
	}
	return out
}

func buildSecurities(secs []config.SecurityConfig) []engine.Security {
	out := make([]engine.Security, 0, len(secs))
	for _, s := range secs {
		out = append(out, engine.Security{
			Symbol:   s.Symbol,
			Kind:     s.Kind,
			Leverage: s.Leverage,
			Model:    fillModel(s),
		})
	}
	return out
}

// fillModel maps a security's fee section onto the model for its kind.
func fillModel(s config.SecurityConfig) fill.Model {
	var fee fill.FeeModel
	switch {
	case s.Fee.PerShare.IsPositive():
		fee = fill.PerShareFee{PerShare: s.Fee.PerShare, Minimum: s.Fee.Minimum}
	case s.Fee.Rate.IsPositive():
		fee = fill.ProportionalFee{Rate: s.Fee.Rate}
	case s.Fee.Default && s.Kind == portfolio.KindEquity:
		fee = fill.DefaultEquityFee
	}
	switch s.Kind {
	case portfolio.KindEquity:
		return fill.NewEquityModel(fee)
	case portfolio.KindForex:
		return fill.NewForexModel(fee, fill.BasisPointSlippage{BPS: s.SlippageBPS})
	default:
		return fill.BaseModel{Fee: fee}
	}
}

type closingFeeder interface {
	feed.Feeder
	Close() error
}

func buildFeeder(cfg config.AppConfig, logger *zap.Logger) (closingFeeder, error) {
	var sources []feed.Feeder
	closeAll := func() {
		for _, src := range sources {
			if c, ok := src.(io.Closer); ok {
				_ = c.Close()
			}
		}
	}

	if cfg.Data.Root != "" {
		kind, err := feed.DefaultRegistry().Lookup(cfg.Data.Kind)
		if err != nil {
			return nil, err
		}
		for _, s := range cfg.Securities {
			sub := feed.Subscription{Symbol: s.Symbol, Market: s.Kind, Kind: kind}
			if s.Timezone != "" {
				loc, err := time.LoadLocation(s.Timezone)
				if err != nil {
					closeAll()
					return nil, fmt.Errorf("security %s: %w", s.Symbol, err)
				}
				sub.Location = loc
			}
			daily, err := feed.NewDailyFeeder(cfg.Data.Root, sub, cfg.Engine.Start, cfg.Engine.End, logger)
			if err != nil {
				closeAll()
				return nil, err
			}
			sources = append(sources, daily)
		}
	}
	if cfg.Data.CSV != "" {
		csvFeeder, err := feed.NewCSVFeeder(cfg.Data.CSV)
		if err != nil {
			closeAll()
			return nil, err
		}
		sources = append(sources, csvFeeder)
	}
	return feed.NewMerger(sources...), nil
}

func buildStrategy(cfg config.AppConfig, logger *zap.Logger) (strategy.Strategy, func(), error) {
	if cfg.Strategy.Script != "" {
		module, err := js.LoadFile(cfg.Strategy.Script)
		if err != nil {
			return nil, nil, err
		}
		s, err := js.NewStrategy(module, cfg.Strategy.Params, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	params, err := builtinParams(cfg.Strategy.Params)
	if err != nil {
		return nil, nil, fmt.Errorf("strategy %s: %w", cfg.Strategy.Name, err)
	}
	if params.Symbol == "" && len(cfg.Securities) > 0 {
		params.Symbol = cfg.Securities[0].Symbol
	}
	s, err := strategy.Builtin(cfg.Strategy.Name, params)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {}, nil
}

// builtinParams reads the params map of a built-in strategy. Keys are
// case-insensitive; unknown keys are rejected.
func builtinParams(raw map[string]any) (strategy.Params, error) {
	var p strategy.Params
	for key, value := range raw {
		text := strings.TrimSpace(fmt.Sprint(value))
		var err error
		switch strings.ToLower(key) {
		case "symbol":
			p.Symbol = strings.ToUpper(text)
		case "fraction":
			p.Fraction, err = parseDecimal(text)
		case "threshold":
			p.Threshold, err = parseDecimal(text)
		case "window", "lookback":
			p.Window, err = parseInt(text)
		case "quantity":
			var q int
			q, err = parseInt(text)
			p.Quantity = int64(q)
		default:
			return strategy.Params{}, fmt.Errorf("unknown param %q", key)
		}
		if err != nil {
			return strategy.Params{}, fmt.Errorf("param %s: %w", key, err)
		}
	}
	return p, nil
}

func parseDecimal(text string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", text)
	}
	return d, nil
}

func parseInt(text string) (int, error) {
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", text)
	}
	return n, nil
}

func strategyLabel(s config.StrategyConfig) string {
	if s.Script != "" {
		return s.Script
	}
	return s.Name
}

func writeReport(path string, report engine.Report) error {
	var out io.Writer = os.Stdout
	if path != "" {
		// #nosec G304 -- the path is chosen by the operator.
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer func() { _ = file.Close() }()
		out = file
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
