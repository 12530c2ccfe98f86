package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	cases := []struct {
		name string
		x    float64
		tick float64
		want float64
	}{
		{"rounds down below midpoint", 1.23449, 0.0001, 1.2345},
		{"rounds up at midpoint", 1.23455, 0.0001, 1.2346},
		{"already on grid", 1.2345, 0.0001, 1.2345},
		{"coarse tick", 101.3, 0.25, 101.25},
		{"negative price", -1.2345, 0.001, -1.234},
		{"zero tick passes through", 1.2345, 0, 1.2345},
		{"negative tick uses magnitude", 1.23449, -0.0001, 1.2345},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RoundToTick(tc.x, tc.tick)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("RoundToTick(%v, %v) = %v, want %v", tc.x, tc.tick, got, tc.want)
			}
		})
	}
}

func TestFloorAndCeilBracketTheGrid(t *testing.T) {
	cases := []struct {
		x, tick     float64
		floor, ceil float64
	}{
		{1.23456, 0.0001, 1.2345, 1.2346},
		{101.26, 0.25, 101.25, 101.50},
		{2.00, 0.01, 2.00, 2.00}, // on-grid values don't move
	}
	for _, tc := range cases {
		if got := FloorToTick(tc.x, tc.tick); math.Abs(got-tc.floor) > 1e-9 {
			t.Fatalf("FloorToTick(%v, %v) = %v, want %v", tc.x, tc.tick, got, tc.floor)
		}
		if got := CeilToTick(tc.x, tc.tick); math.Abs(got-tc.ceil) > 1e-9 {
			t.Fatalf("CeilToTick(%v, %v) = %v, want %v", tc.x, tc.tick, got, tc.ceil)
		}
	}
}

func TestQuantizeGuardsNonFiniteInputs(t *testing.T) {
	if got := RoundToTick(math.NaN(), 0.01); !math.IsNaN(got) {
		t.Fatalf("expected NaN to pass through, got %v", got)
	}
	if got := FloorToTick(math.Inf(1), 0.01); !math.IsInf(got, 1) {
		t.Fatalf("expected +Inf to pass through, got %v", got)
	}
	if got := CeilToTick(1.5, math.NaN()); got != 1.5 {
		t.Fatalf("expected NaN tick to pass x through, got %v", got)
	}
}
