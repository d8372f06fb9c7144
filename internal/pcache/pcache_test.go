package pcache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSource struct {
	snap map[string]Class
	err  error
	call int
}

func (f *fakeSource) ListPrioritySymbols(ctx context.Context) (map[string]Class, error) {
	f.call++
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func TestPriorityFor(t *testing.T) {
	c := NewStatic(map[string]Class{
		"AAPL": ClassTop,
		"XOM":  ClassSecondary,
	})
	if got := c.PriorityFor("AAPL"); got != ClassTop {
		t.Errorf("AAPL: expected top, got %s", got)
	}
	if got := c.PriorityFor("XOM"); got != ClassSecondary {
		t.Errorf("XOM: expected secondary, got %s", got)
	}
	if got := c.PriorityFor("UNKNOWN"); got != ClassNone {
		t.Errorf("unknown: expected none, got %s", got)
	}
}

func TestShouldProcess_Levels(t *testing.T) {
	c := NewStatic(map[string]Class{
		"TOP": ClassTop,
		"SEC": ClassSecondary,
	})

	cases := []struct {
		symbol string
		level  int
		want   bool
	}{
		{"NOBODY", 0, true}, // level 0 approves everything
		{"TOP", 1, true},
		{"SEC", 1, true},
		{"NOBODY", 1, false},
		{"TOP", 2, true},
		{"SEC", 2, false},
		{"NOBODY", 2, false},
		{"TOP", 3, true},
		{"SEC", 3, false},
	}
	for _, tc := range cases {
		if got := c.ShouldProcess(tc.symbol, tc.level); got != tc.want {
			t.Errorf("ShouldProcess(%s, %d): expected %v, got %v", tc.symbol, tc.level, tc.want, got)
		}
	}
}

func TestRefresh(t *testing.T) {
	src := &fakeSource{snap: map[string]Class{"AAPL": ClassTop}}
	c := New(src, time.Hour)

	if c.Size() != 0 {
		t.Fatalf("expected empty before refresh, got %d", c.Size())
	}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.PriorityFor("AAPL") != ClassTop || c.Size() != 1 {
		t.Error("snapshot not replaced after refresh")
	}

	// A failed refresh keeps the previous snapshot live.
	src.err = errors.New("db closed")
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if c.PriorityFor("AAPL") != ClassTop {
		t.Error("failed refresh must not clear the snapshot")
	}

	refreshes, failures := c.Stats()
	if refreshes != 1 || failures != 1 {
		t.Errorf("stats: expected 1/1, got %d/%d", refreshes, failures)
	}
}

func TestRefresh_NilSourceAndNilMap(t *testing.T) {
	c := NewStatic(nil)
	if err := c.Refresh(context.Background()); err != nil {
		t.Errorf("nil source refresh should be a no-op, got %v", err)
	}
	if !c.ShouldProcess("ANY", 0) {
		t.Error("level 0 approves even with an empty cache")
	}

	src := &fakeSource{snap: nil}
	c = New(src, time.Hour)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.PriorityFor("X") != ClassNone {
		t.Error("nil source map should behave as empty")
	}
}
