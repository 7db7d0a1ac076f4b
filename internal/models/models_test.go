package models

import (
	"testing"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to EventStatus }{
		{StatusScheduled, StatusLive},
		{StatusScheduled, StatusCancelled},
		{StatusScheduled, StatusPostponed},
		{StatusLive, StatusFinished},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to EventStatus }{
		{StatusScheduled, StatusFinished},
		{StatusLive, StatusScheduled},
		{StatusLive, StatusCancelled},
		{StatusFinished, StatusLive},
		{StatusFinished, StatusScheduled},
		{StatusCancelled, StatusLive},
		{StatusPostponed, StatusLive},
	}
	for _, tc := range forbidden {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestClampOdds(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0.5, 1.01},
		{1.0, 1.01},
		{1.01, 1.01},
		{2.35, 2.35},
		{1000, 1000},
		{5000, 1000},
	}
	for _, tc := range cases {
		if got := ClampOdds(tc.in); got != tc.want {
			t.Errorf("ClampOdds(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
