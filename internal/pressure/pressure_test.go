package pressure

import (
	"testing"
	"time"

	"tickstock/internal/model"
)

var base = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func ts(t time.Time) float64 { return float64(t.UnixNano()) / 1e9 }

func upTrend(t *testing.T, ticker string, at time.Time) model.Event {
	t.Helper()
	ev, err := model.NewTrend(ticker, 100, ts(at), model.DirUp, model.StrengthModerate, 1, model.AboveVWAP, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func downLow(t *testing.T, ticker string, volume int64, at time.Time) model.Event {
	t.Helper()
	ev, err := model.NewHighLow(ticker, 100, ts(at), model.DayLow, 101, 60)
	if err != nil {
		t.Fatal(err)
	}
	ev.Header().Volume = volume
	return ev
}

func TestObserve_DirectionalWeights(t *testing.T) {
	tr := New(time.Minute)

	tr.Observe(upTrend(t, "AAPL", base))                       // buy, weight 1
	tr.Observe(downLow(t, "AAPL", 500, base.Add(time.Second))) // sell, weight 500

	p := tr.Get("AAPL", base.Add(2*time.Second))
	if p.Buy != 1 || p.Sell != 500 {
		t.Errorf("expected buy=1 sell=500, got %+v", p)
	}
	if p.Net != -499 {
		t.Errorf("net: expected -499, got %v", p.Net)
	}
	if p.Ratio != 1.0/501.0 {
		t.Errorf("ratio: got %v", p.Ratio)
	}
}

func TestObserve_IgnoresFlatAndControl(t *testing.T) {
	tr := New(time.Minute)

	tick, err := model.NewTick("AAPL", 100, 10, ts(base))
	if err != nil {
		t.Fatal(err)
	}
	tr.Observe(tick) // flat direction
	ctrl, _ := model.NewControl(model.CmdFlush)
	tr.Observe(ctrl)

	if p := tr.Get("AAPL", base); p.Buy != 0 || p.Sell != 0 {
		t.Errorf("expected empty pressure, got %+v", p)
	}
	if p := tr.Get("AAPL", base); p.Ratio != 0.5 {
		t.Errorf("empty ratio should be balanced, got %v", p.Ratio)
	}
}

func TestTrackedSubset(t *testing.T) {
	tr := New(time.Minute)
	tr.SetTracked([]string{"SPY"})

	tr.Observe(upTrend(t, "SPY", base))
	tr.Observe(upTrend(t, "AAPL", base))

	snap := tr.Snapshot(base.Add(time.Second))
	if _, ok := snap["SPY"]; !ok {
		t.Error("tracked symbol missing from snapshot")
	}
	if _, ok := snap["AAPL"]; ok {
		t.Error("untracked symbol must be ignored")
	}

	// Empty tracked set means track everything.
	tr.SetTracked(nil)
	tr.Observe(upTrend(t, "AAPL", base))
	if p := tr.Get("AAPL", base.Add(time.Second)); p.Buy != 1 {
		t.Errorf("expected AAPL tracked after reset, got %+v", p)
	}
}

func TestWindowPruning(t *testing.T) {
	tr := New(time.Minute)

	tr.Observe(upTrend(t, "QQQ", base))
	tr.Observe(upTrend(t, "QQQ", base.Add(50*time.Second)))

	// At base+70s the first sample has aged out.
	p := tr.Get("QQQ", base.Add(70*time.Second))
	if p.Buy != 1 {
		t.Errorf("expected one surviving sample, got %+v", p)
	}

	// Fully aged-out symbols disappear from snapshots.
	snap := tr.Snapshot(base.Add(5 * time.Minute))
	if len(snap) != 0 {
		t.Errorf("expected empty snapshot, got %v", snap)
	}
}
