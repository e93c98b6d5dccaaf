// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package shopcal

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func ist(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, IST)
}

func TestIsWorkingDay(t *testing.T) {
	c := DefaultClock()
	// 2025-06-01 is a Sunday.
	if c.IsWorkingDay(ist(2025, 6, 1, 10, 0)) {
		t.Error("Sunday should not be a working day")
	}
	if !c.IsWorkingDay(ist(2025, 6, 2, 10, 0)) {
		t.Error("Monday should be a working day")
	}
	if !c.IsWorkingDay(ist(2025, 6, 7, 10, 0)) {
		t.Error("Saturday should be a working day")
	}
}

func TestAdjustToShift(t *testing.T) {
	c := DefaultClock()
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"inside window", ist(2025, 6, 2, 8, 0), ist(2025, 6, 2, 8, 0)},
		{"before opening", ist(2025, 6, 2, 4, 30), ist(2025, 6, 2, 6, 0)},
		{"after closing", ist(2025, 6, 2, 22, 30), ist(2025, 6, 3, 6, 0)},
		{"sunday morning", ist(2025, 6, 1, 10, 0), ist(2025, 6, 2, 6, 0)},
		{"saturday night rolls over sunday", ist(2025, 6, 7, 23, 0), ist(2025, 6, 9, 6, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.AdjustToShift(tt.in)
			if !got.Equal(tt.want) {
				t.Errorf("AdjustToShift(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestNextShiftStart(t *testing.T) {
	c := DefaultClock()
	got := c.NextShiftStart(ist(2025, 6, 7, 18, 0)) // Saturday
	want := ist(2025, 6, 9, 6, 0)                   // Monday
	if !got.Equal(want) {
		t.Errorf("NextShiftStart = %s, want %s", got, want)
	}
}

func TestSplitMinutes_SingleShift(t *testing.T) {
	c := DefaultClock()
	frags, end := c.SplitMinutes(ist(2025, 6, 2, 8, 0), decimal.NewFromInt(30))
	if len(frags) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(frags))
	}
	if !frags[0].Start.Equal(ist(2025, 6, 2, 8, 0)) || !frags[0].End.Equal(ist(2025, 6, 2, 8, 30)) {
		t.Errorf("unexpected fragment %v", frags[0])
	}
	if !end.Equal(ist(2025, 6, 2, 8, 30)) {
		t.Errorf("unexpected cursor end %s", end)
	}
}

func TestSplitMinutes_CrossesShifts(t *testing.T) {
	c := DefaultClock()
	// 1200 min of work starting Monday 18:00: 240 min until 22:00, then
	// 960 min on Tuesday, finishing exactly at the Tuesday close.
	frags, end := c.SplitMinutes(ist(2025, 6, 2, 18, 0), decimal.NewFromInt(1200))
	if len(frags) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(frags))
	}
	if !frags[0].End.Equal(ist(2025, 6, 2, 22, 0)) {
		t.Errorf("first fragment should stop at shift close, got %s", frags[0].End)
	}
	if !frags[1].Start.Equal(ist(2025, 6, 3, 6, 0)) {
		t.Errorf("second fragment should start next morning, got %s", frags[1].Start)
	}
	if !end.Equal(ist(2025, 6, 3, 22, 0)) {
		t.Errorf("expected work to finish Tuesday 22:00, got %s", end)
	}
	total := decimal.Zero
	for _, f := range frags {
		total = total.Add(f.Minutes)
	}
	if !total.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("fragment minutes should sum to 1200, got %s", total)
	}
}

func TestSplitMinutes_SkipsSunday(t *testing.T) {
	c := DefaultClock()
	// Saturday 20:00 with 4h of work: 2h Saturday, rest Monday.
	frags, _ := c.SplitMinutes(ist(2025, 6, 7, 20, 0), decimal.NewFromInt(240))
	if len(frags) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(frags))
	}
	if frags[1].Start.Weekday() != time.Monday {
		t.Errorf("work must not continue on Sunday, got %s", frags[1].Start.Weekday())
	}
}

func TestResolveShift(t *testing.T) {
	windows := []ShiftWindow{
		{ID: 1, Start: "06:00", End: "14:00"},
		{ID: 2, Start: "14:00", End: "22:00"},
		{ID: 3, Start: "22:00", End: "06:00"},
	}
	w, start, end, err := ResolveShift(ist(2025, 6, 2, 15, 30), windows)
	if err != nil {
		t.Fatal(err)
	}
	if w.ID != 2 || !start.Equal(ist(2025, 6, 2, 14, 0)) || !end.Equal(ist(2025, 6, 2, 22, 0)) {
		t.Errorf("got shift %d [%s, %s]", w.ID, start, end)
	}

	// Night shift after midnight belongs to the previous day's window.
	w, start, end, err = ResolveShift(ist(2025, 6, 3, 2, 0), windows)
	if err != nil {
		t.Fatal(err)
	}
	if w.ID != 3 || !start.Equal(ist(2025, 6, 2, 22, 0)) || !end.Equal(ist(2025, 6, 3, 6, 0)) {
		t.Errorf("got shift %d [%s, %s]", w.ID, start, end)
	}

	// Night shift before midnight.
	w, _, end, err = ResolveShift(ist(2025, 6, 2, 23, 0), windows)
	if err != nil {
		t.Fatal(err)
	}
	if w.ID != 3 || !end.Equal(ist(2025, 6, 3, 6, 0)) {
		t.Errorf("got shift %d ending %s", w.ID, end)
	}

	// Gaps between windows resolve to the sentinel.
	_, _, _, err = ResolveShift(ist(2025, 6, 2, 15, 30), windows[:1])
	if !errors.Is(err, ErrNoShift) {
		t.Errorf("expected ErrNoShift for an uncovered instant, got %v", err)
	}
}
