package js

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/engine"
	"github.com/coachpo/quantcore/internal/feed"
	"github.com/coachpo/quantcore/internal/isolator"
	"github.com/coachpo/quantcore/internal/portfolio"
	"github.com/coachpo/quantcore/internal/strategy"
)

var t0 = time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)

const bridgeModule = `
var results = [];
var events = [];
var params = null;
var days = 0;
module.exports = {
  metadata: { name: "Bridge", description: "exercises the algo bridge" },
  initialize: function (p) { params = p; },
  onData: function (slice) {
    if (results.length > 0) {
      return;
    }
    var bar = slice.data.BTC;
    results.push(algo.order("BTC", 5));
    results.push(algo.order("NOPE", 1));
    results.push(algo.holding("BTC").quantity);
    results.push(algo.limitOrder("BTC", 1, 1));
    results.push(algo.cancel(results[3]));
    results.push(bar.close);
  },
  onOrderEvent: function (ev) { events.push(ev.status); },
  onEndOfDay: function (date) { days++; }
};
`

type sliceFeeder struct{ data []feed.Data }

func (s *sliceFeeder) Next() (feed.Data, error) {
	if len(s.data) == 0 {
		return nil, io.EOF
	}
	out := s.data[0]
	s.data = s.data[1:]
	return out, nil
}

func tick(at time.Time, price string) feed.Data {
	return &feed.Tick{Sym: "BTC", At: at, Price: decimal.RequireFromString(price)}
}

func newEngine(t *testing.T, s strategy.Strategy, opts ...engine.Option) *engine.Engine {
	t.Helper()
	cfg := engine.Config{
		StartingCash:    decimal.NewFromInt(10000),
		Securities:      []engine.Security{{Symbol: "BTC", Kind: portfolio.KindBase}},
		Start:           t0,
		End:             t0.AddDate(0, 0, 5),
		CallbackTimeout: 50 * time.Millisecond,
	}
	e, err := engine.New(cfg, s, opts...)
	require.NoError(t, err)
	return e
}

func compile(t *testing.T, name, source string) *Module {
	t.Helper()
	m, err := Compile(name, []byte(source))
	require.NoError(t, err)
	return m
}

func global(t *testing.T, s *Strategy, expr string) goja.Value {
	t.Helper()
	v, err := s.instance.Execute(func(rt *goja.Runtime, _ *goja.Object) (goja.Value, error) {
		return rt.RunString(expr)
	})
	require.NoError(t, err)
	return v
}

func TestStrategyTradesThroughBridge(t *testing.T) {
	s, err := NewStrategy(compile(t, "bridge.js", bridgeModule), map[string]any{"fast": 3}, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.Equal(t, "bridge", s.Name())

	e := newEngine(t, s)
	_, err = e.Run(context.Background(), &sliceFeeder{data: []feed.Data{tick(t0, "100"), tick(t0.Add(time.Minute), "101")}})
	require.NoError(t, err)

	require.Equal(t, "1,-2,5,3,0,100", global(t, s, `results.join(",")`).String())
	require.Equal(t, "Submitted,Filled,Invalid,Submitted,Canceled", global(t, s, `events.join(",")`).String())
	require.Equal(t, int64(3), global(t, s, `params.fast`).ToInteger())
	require.Equal(t, int64(1), global(t, s, `days`).ToInteger())
	require.Equal(t, int64(5), e.Context().Portfolio.Holding("BTC").Quantity)
}

func TestBusyLoopIsInterruptedByIsolator(t *testing.T) {
	const spin = `
var days = 0;
module.exports = {
  onData: function () { while (true) {} },
  onEndOfDay: function () { days++; }
};`
	s, err := NewStrategy(compile(t, "spin.js", spin), nil, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	iso := isolator.New(isolator.WithPollInterval(5*time.Millisecond), isolator.WithGracePeriod(time.Second))
	e := newEngine(t, s, engine.WithIsolator(iso))
	start := time.Now()
	report, err := e.Run(context.Background(), &sliceFeeder{data: []feed.Data{tick(t0, "100")}})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeResourceLimit))
	require.Equal(t, errs.CanonicalTimedOut, errs.CanonicalOf(err))
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, 1, report.Slices)

	// the VM is usable again once the interrupt is cleared
	require.NoError(t, s.OnEndOfDay(context.Background(), t0))
	require.Equal(t, int64(1), global(t, s, `days`).ToInteger())
}

func TestInterruptReturnsReason(t *testing.T) {
	inst, err := NewInstance(compile(t, "loop.js", `module.exports = { spin: function () { for (;;) {} } };`), nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := inst.Call("spin")
		done <- err
	}()
	reason := errors.New("stop now")
	deadline := time.After(2 * time.Second)
	for {
		inst.Interrupt(reason)
		select {
		case err := <-done:
			require.ErrorIs(t, err, reason)
			return
		case <-deadline:
			t.Fatal("interrupt did not stop the script")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestExceptionBecomesError(t *testing.T) {
	s, err := NewStrategy(compile(t, "bad.js", `module.exports = { onData: function () { throw new Error("bad signal"); } };`), nil, nil)
	require.NoError(t, err)
	err = s.OnData(context.Background(), strategy.Slice{Time: t0})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad signal")
	require.Contains(t, err.Error(), "bad.onData")
}

func TestMissingCallbacksAreSkipped(t *testing.T) {
	s, err := NewStrategy(compile(t, "empty.js", `module.exports = {};`), nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.OnData(context.Background(), strategy.Slice{Time: t0}))
	require.NoError(t, s.OnEndOfDay(context.Background(), t0))
	require.Equal(t, "empty", s.Name())
}

func TestClosedInstanceRejectsCalls(t *testing.T) {
	inst, err := NewInstance(compile(t, "noop.js", `module.exports = { f: function () { return 1; } };`), nil)
	require.NoError(t, err)
	require.True(t, inst.Has("f"))
	require.False(t, inst.Has("g"))
	inst.Close()
	_, err = inst.Call("f")
	require.Error(t, err)
}

func TestCompileRejectsSyntaxErrors(t *testing.T) {
	_, err := Compile("broken.js", []byte(`module.exports = {`))
	require.Error(t, err)
}

func TestLoaderRefresh(t *testing.T) {
	dir := t.TempDir()
	write := func(name, source string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(source), 0o600))
	}
	write("b.js", `module.exports = { metadata: { name: "Beta" } };`)
	write("alpha.js", `module.exports = {};`)
	write("notes.txt", `not javascript`)

	loader, err := NewLoader(dir)
	require.NoError(t, err)
	require.NoError(t, loader.Refresh(context.Background()))

	list := loader.List()
	require.Len(t, list, 2)
	require.Equal(t, "alpha", list[0].Name)
	require.Equal(t, "beta", list[1].Name)
	require.Len(t, list[1].Hash, 64)

	m, err := loader.Get(" BETA ")
	require.NoError(t, err)
	require.Equal(t, "b.js", m.Filename)

	_, err = loader.Get("gamma")
	require.ErrorIs(t, err, ErrModuleNotFound)

	write("c.js", `module.exports = { metadata: { name: "alpha" } };`)
	require.Error(t, loader.Refresh(context.Background()))
	require.Len(t, loader.List(), 2, "failed refresh keeps the previous catalog")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Trend.js")
	require.NoError(t, os.WriteFile(path, []byte(`module.exports = {};`), 0o600))
	m, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "trend", m.Name)

	_, err = NewLoader(path)
	require.Error(t, err)
}

func TestBundledStrategiesCompile(t *testing.T) {
	loader, err := NewLoader(filepath.Join("..", "..", "..", "strategies"))
	require.NoError(t, err)
	require.NoError(t, loader.Refresh(context.Background()))
	m, err := loader.Get("SMA_CROSS")
	require.NoError(t, err)
	require.Equal(t, "fast/slow simple moving average crossover", m.Metadata.Description)
}
