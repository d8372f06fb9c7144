package ringbuf

import "testing"

func TestPushPop(t *testing.T) {
	r := New(4)
	if r.Cap() != 4 {
		t.Fatalf("cap: expected 4, got %d", r.Cap())
	}

	for i := 0; i < 4; i++ {
		if !r.Push(float64(i)) {
			t.Fatalf("push %d rejected", i)
		}
	}
	if r.Push(99) {
		t.Error("push into full ring must fail")
	}
	if r.Overflow() != 1 {
		t.Errorf("overflow: expected 1, got %d", r.Overflow())
	}

	for i := 0; i < 4; i++ {
		v, ok := r.Pop()
		if !ok || v != float64(i) {
			t.Fatalf("pop %d: got %v/%v", i, v, ok)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Error("pop from empty ring must fail")
	}
}

func TestPushEvict(t *testing.T) {
	r := New(2)
	r.PushEvict(1)
	r.PushEvict(2)
	r.PushEvict(3) // evicts 1

	snap := r.Snapshot()
	if len(snap) != 2 || snap[0] != 2 || snap[1] != 3 {
		t.Errorf("expected [2 3], got %v", snap)
	}
}

func TestWrapAround(t *testing.T) {
	r := New(4)
	for round := 0; round < 10; round++ {
		for i := 0; i < 3; i++ {
			r.Push(float64(round*10 + i))
		}
		for i := 0; i < 3; i++ {
			v, ok := r.Pop()
			if !ok || v != float64(round*10+i) {
				t.Fatalf("round %d pop %d: got %v/%v", round, i, v, ok)
			}
		}
	}
	if r.Len() != 0 {
		t.Errorf("expected empty after rounds, got %d", r.Len())
	}
}

func TestCapacityRounding(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 2},
		{1, 2},
		{3, 4},
		{5, 8},
		{8, 8},
		{100, 128},
	}
	for _, c := range cases {
		if got := New(c.in).Cap(); got != c.want {
			t.Errorf("New(%d).Cap(): expected %d, got %d", c.in, c.want, got)
		}
	}
}

func TestSnapshotEmpty(t *testing.T) {
	r := New(4)
	if snap := r.Snapshot(); snap != nil {
		t.Errorf("expected nil snapshot, got %v", snap)
	}
}
