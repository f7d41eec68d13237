package dsp

import "testing"

func TestHooksClearedByDefault(t *testing.T) {
	var h Hooks
	// Must not panic with no hook registered.
	h.RunPre([]int32{1, 2, 3})
	h.RunPost([]int32{1, 2, 3})
}

func TestSetHookThenClearWithNil(t *testing.T) {
	var h Hooks
	called := 0
	h.SetPre(func([]int32, HookData) { called++ }, nil)
	h.RunPre(nil)
	if called != 1 {
		t.Fatalf("expected hook to run once, got %d", called)
	}

	h.SetPre(nil, nil)
	h.RunPre(nil)
	if called != 1 {
		t.Fatalf("hook ran after being cleared: %d", called)
	}
}

func TestLinearFromPercentEndpoints(t *testing.T) {
	if got := LinearFromPercent(100); got != 1.0 {
		t.Fatalf("100%% should be unity gain, got %f", got)
	}
	if got := LinearFromPercent(0); got != 0 {
		t.Fatalf("0%% should be silence, got %f", got)
	}
}

func TestLinearFromPercentMonotonic(t *testing.T) {
	prev := LinearFromPercent(0)
	for p := 1; p <= 100; p++ {
		cur := LinearFromPercent(p)
		if cur < prev {
			t.Fatalf("LinearFromPercent not monotonic at %d: %f < %f", p, cur, prev)
		}
		prev = cur
	}
}

func TestScalerTableFallsBackWithoutTable(t *testing.T) {
	var tbl ScalerTable
	if tbl.Scaler(100) != LinearFromPercent(100) {
		t.Fatal("empty table should fall back to LinearFromPercent")
	}
}

func TestScalerTableClampsIndex(t *testing.T) {
	tbl := ScalerTable{0.0, 0.5, 1.0}
	if tbl.Scaler(-5) != 0.0 {
		t.Fatal("negative index should clamp to 0")
	}
	if tbl.Scaler(50) != 1.0 {
		t.Fatal("out-of-range index should clamp to last entry")
	}
}

func TestMilliDBFromHundredths(t *testing.T) {
	if got := MilliDBFromHundredths(500); got != 5000 {
		t.Fatalf("got %d, want 5000", got)
	}
}
