package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quantcore/internal/config"
	"github.com/coachpo/quantcore/internal/fill"
	"github.com/coachpo/quantcore/internal/portfolio"
)

func TestBuiltinParams(t *testing.T) {
	p, err := builtinParams(map[string]any{
		"Symbol":    "spy",
		"fraction":  0.5,
		"lookback":  20,
		"threshold": "1.5",
		"quantity":  10,
	})
	require.NoError(t, err)
	require.Equal(t, "SPY", p.Symbol)
	require.True(t, p.Fraction.Equal(decimal.RequireFromString("0.5")))
	require.Equal(t, 20, p.Window)
	require.True(t, p.Threshold.Equal(decimal.RequireFromString("1.5")))
	require.Equal(t, int64(10), p.Quantity)

	_, err = builtinParams(map[string]any{"leverage": 2})
	require.Error(t, err)
	_, err = builtinParams(map[string]any{"window": "wide"})
	require.Error(t, err)
}

func TestFillModelPerKind(t *testing.T) {
	equity := fillModel(config.SecurityConfig{Kind: portfolio.KindEquity, Fee: config.FeeConfig{Default: true}})
	require.IsType(t, fill.EquityModel{}, equity)
	require.True(t, equity.OrderFee(100, decimal.NewFromInt(10)).Equal(decimal.NewFromInt(1)))

	fx := fillModel(config.SecurityConfig{
		Kind:        portfolio.KindForex,
		Fee:         config.FeeConfig{Rate: decimal.RequireFromString("0.001")},
		SlippageBPS: decimal.NewFromInt(2),
	})
	require.IsType(t, fill.ForexModel{}, fx)
	require.True(t, fx.OrderFee(1000, decimal.NewFromInt(2)).Equal(decimal.NewFromInt(2)))

	base := fillModel(config.SecurityConfig{Kind: portfolio.KindBase})
	require.True(t, base.OrderFee(5, decimal.NewFromInt(100)).IsZero())
}

func TestRunWritesReport(t *testing.T) {
	dir := t.TempDir()
	ticks := filepath.Join(dir, "ticks.csv")
	require.NoError(t, os.WriteFile(ticks, []byte(`timestamp,price,quantity,symbol
2024-03-05T15:00:00Z,100,1,btc
2024-03-05T15:01:00Z,101,1,btc
2024-03-05T15:02:00Z,102,1,btc
`), 0o600))

	cfgPath := filepath.Join(dir, "backtest.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
engine:
  startingCash: 10000
  start: 2024-03-05T00:00:00Z
  end: 2024-03-06T00:00:00Z
securities:
  - symbol: BTC
data:
  csv: `+ticks+`
strategy:
  name: buyandhold
isolator:
  enabled: false
logging:
  level: error
`), 0o600))

	out := filepath.Join(dir, "report.json")
	require.NoError(t, run(context.Background(), flags{configPath: cfgPath, output: out}))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var report struct {
		Slices   int `json:"slices"`
		Holdings []struct {
			Symbol   string `json:"symbol"`
			Quantity int64  `json:"quantity"`
		} `json:"holdings"`
	}
	require.NoError(t, json.Unmarshal(raw, &report))
	require.Equal(t, 3, report.Slices)
	require.Len(t, report.Holdings, 1)
	require.Equal(t, "BTC", report.Holdings[0].Symbol)
	require.Positive(t, report.Holdings[0].Quantity)
}

func TestRunRejectsMissingConfig(t *testing.T) {
	err := run(context.Background(), flags{configPath: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
}
