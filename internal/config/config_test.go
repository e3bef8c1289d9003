package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quantcore/internal/portfolio"
)

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	cfg.Engine.Start = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	cfg.Engine.End = cfg.Engine.Start.AddDate(0, 1, 0)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backtest.yaml")
	doc := `
environment: STAGING
engine:
  startingCash: 25000.50
  start: 2024-01-02
  end: 2024-02-01
  orderLimitPerDay: 10
securities:
  - symbol: " spy "
    kind: Equity
    fee:
      perShare: 0.01
      minimum: 2
  - symbol: eurusd
    kind: forex
    leverage: 50
    slippageBps: 1.5
    timezone: America/New_York
data:
  root: ./testdata
  kind: TRADEBAR
strategy:
  script: strategies/trend.js
  params:
    fast: 5
isolator:
  enabled: true
  timeout: 250ms
  memoryCapMB: 64
risk:
  orderThrottle: 5
  maxNotionalValue: "100000"
telemetry:
  enabled: true
  serviceName: bt
logging:
  level: DEBUG
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	require.Equal(t, EnvStaging, cfg.Environment)
	require.True(t, cfg.Engine.StartingCash.Equal(decimal.RequireFromString("25000.5")))
	require.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), cfg.Engine.Start)
	require.Equal(t, 10, cfg.Engine.OrderLimitPerDay)

	require.Len(t, cfg.Securities, 2)
	spy := cfg.Securities[0]
	require.Equal(t, "SPY", spy.Symbol)
	require.Equal(t, portfolio.KindEquity, spy.Kind)
	require.True(t, spy.Leverage.Equal(decimal.NewFromInt(1)))
	require.True(t, spy.Fee.PerShare.Equal(decimal.RequireFromString("0.01")))
	fx := cfg.Securities[1]
	require.Equal(t, "EURUSD", fx.Symbol)
	require.True(t, fx.Leverage.Equal(decimal.NewFromInt(50)))
	require.True(t, fx.SlippageBPS.Equal(decimal.RequireFromString("1.5")))

	require.Equal(t, "tradebar", cfg.Data.Kind)
	require.Equal(t, "strategies/trend.js", cfg.Strategy.Script)
	require.Empty(t, cfg.Strategy.Name)
	require.Equal(t, 5, cfg.Strategy.Params["fast"])

	require.Equal(t, 250*time.Millisecond, cfg.Isolator.Timeout)
	require.Equal(t, uint64(64<<20), cfg.Isolator.MemoryCapBytes())
	require.Equal(t, 2*time.Second, cfg.Isolator.GracePeriod, "unset fields keep their defaults")

	limits := cfg.Risk.Limits()
	require.Equal(t, 5.0, limits.OrderThrottle)
	require.Equal(t, 1, limits.OrderBurst)
	require.True(t, limits.MaxNotionalValue.Equal(decimal.NewFromInt(100000)))

	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestParseKeepsDefaultsForOmittedSections(t *testing.T) {
	cfg, err := Parse([]byte(`
engine:
  start: 2024-01-02
  end: 2024-01-10
`))
	require.NoError(t, err)
	require.Equal(t, "buyandhold", cfg.Strategy.Name)
	require.Equal(t, "data", cfg.Data.Root)
	require.Len(t, cfg.Securities, 1)
	require.True(t, cfg.Securities[0].Fee.Default)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"environment": `
environment: qa
data: {csv: ticks.csv}`,
		"cash": `
engine: {startingCash: 0}
data: {csv: ticks.csv}`,
		"window": `
engine: {start: 2024-02-01, end: 2024-01-01}
data: {csv: ticks.csv}`,
		"kind": `
securities: [{symbol: X, kind: bond}]
data: {csv: ticks.csv}`,
		"duplicate": `
securities: [{symbol: x}, {symbol: X}]
data: {csv: ticks.csv}`,
		"leverage": `
securities: [{symbol: X, leverage: -2}]
data: {csv: ticks.csv}`,
		"timezone": `
securities: [{symbol: X, timezone: Mars/Olympus}]
data: {csv: ticks.csv}`,
		"root without window": `
data: {root: ./data}`,
		"both strategies": `
data: {csv: ticks.csv}
strategy: {name: noop, script: a.js}`,
		"negative timeout": `
data: {csv: ticks.csv}
isolator: {timeout: -1s}`,
		"telemetry name": `
data: {csv: ticks.csv}
telemetry: {enabled: true, serviceName: " "}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("engine: [unterminated"))
	require.Error(t, err)
}
