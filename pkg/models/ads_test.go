package models

import (
	"testing"
	"time"
)

func TestAdLiveStreamOverlaps(t *testing.T) {
	base := time.Date(2026, time.March, 2, 15, 0, 0, 0, time.UTC)
	slot := func(offset time.Duration, seconds int) AdLiveStream {
		return AdLiveStream{PlayAt: base.Add(offset), DurationSeconds: seconds}
	}

	cases := []struct {
		name string
		a, b AdLiveStream
		want bool
	}{
		{"identical", slot(0, 30), slot(0, 30), true},
		{"partial overlap", slot(0, 30), slot(15*time.Second, 30), true},
		{"contained", slot(0, 60), slot(10*time.Second, 10), true},
		{"adjacent half-open", slot(0, 30), slot(30*time.Second, 30), false},
		{"disjoint", slot(0, 30), slot(2*time.Minute, 30), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Overlaps(tc.b); got != tc.want {
				t.Errorf("Overlaps = %v, want %v", got, tc.want)
			}
			if got := tc.b.Overlaps(tc.a); got != tc.want {
				t.Errorf("Overlaps is not symmetric: %v, want %v", got, tc.want)
			}
		})
	}
}

func TestScheduleStatusTerminal(t *testing.T) {
	for _, status := range []ScheduleStatus{SchedulePending, ScheduleReady, ScheduleLive, ScheduleLateStart} {
		if status.Terminal() {
			t.Errorf("%s should not be terminal", status)
		}
	}
	for _, status := range []ScheduleStatus{ScheduleEnded, ScheduleEndedEarly} {
		if !status.Terminal() {
			t.Errorf("%s should be terminal", status)
		}
	}
}
