package telemetry

import (
	"math"
	"testing"
)

func TestOdometerBaselineAndAccumulation(t *testing.T) {
	t.Parallel()

	odo := NewOdometer(1)

	if odo.Total() != 0 {
		t.Fatalf("expected zero total before any update, got %v", odo.Total())
	}
	if odo.Start() != nil {
		t.Fatalf("expected nil start position before any update")
	}

	odo.Update(Position{X: 10, Y: 20})
	if odo.Total() != 0 {
		t.Fatalf("first update must contribute zero, got %v", odo.Total())
	}

	start := odo.Start()
	if start == nil || start.X != 10 || start.Y != 20 {
		t.Fatalf("unexpected start position %+v", start)
	}

	odo.Update(Position{X: 13, Y: 24})
	if got := odo.Total(); math.Abs(got-5) > 1e-9 {
		t.Fatalf("expected 3-4-5 distance of 5, got %v", got)
	}

	odo.Update(Position{X: 13, Y: 24})
	if got := odo.Total(); math.Abs(got-5) > 1e-9 {
		t.Fatalf("stationary update must not change total, got %v", got)
	}
}

func TestOdometerMonotonic(t *testing.T) {
	t.Parallel()

	odo := NewOdometer(1)
	positions := []Position{
		{0, 0}, {1, 0}, {1, 1}, {0.5, 0.5}, {0.5, 0.5}, {-3, 4}, {-3, 4.0001},
	}

	prev := 0.0
	for i, pos := range positions {
		odo.Update(pos)
		if total := odo.Total(); total < prev {
			t.Fatalf("total decreased at update %d: %v -> %v", i, prev, total)
		} else {
			prev = total
		}
	}
}

func TestOdometerUnitScale(t *testing.T) {
	t.Parallel()

	odo := NewOdometer(0.001) // kilometres
	odo.Update(Position{X: 0, Y: 0})
	odo.Update(Position{X: 1500, Y: 0})

	if got := odo.Total(); math.Abs(got-1.5) > 1e-9 {
		t.Fatalf("expected 1.5 km, got %v", got)
	}
}
