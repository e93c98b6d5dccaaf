// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package shopcal

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoShift marks an instant outside every configured shift window.
var ErrNoShift = errors.New("no shift window covers the instant")

// One configured shift window. Start and end are wall times in IST formatted
// as HH:MM; a window whose end is not after its start crosses midnight.
type ShiftWindow struct {
	ID    int
	Start string
	End   string
}

// Resolve the shift window covering now and its concrete start and end
// instants. Windows crossing midnight extend the end date by one day.
func ResolveShift(now time.Time, windows []ShiftWindow) (ShiftWindow, time.Time, time.Time, error) {
	now = now.In(IST)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, IST)
	for _, w := range windows {
		startClock, err := parseClock(w.Start)
		if err != nil {
			return ShiftWindow{}, time.Time{}, time.Time{}, err
		}
		endClock, err := parseClock(w.End)
		if err != nil {
			return ShiftWindow{}, time.Time{}, time.Time{}, err
		}
		start := day.Add(startClock)
		end := day.Add(endClock)
		if !end.After(start) {
			// Crosses midnight: the window covers [start, end+24h) today
			// and [start-24h, end) in the small hours.
			if !now.Before(start) {
				return w, start, end.AddDate(0, 0, 1), nil
			}
			if now.Before(end) {
				return w, start.AddDate(0, 0, -1), end, nil
			}
			continue
		}
		if !now.Before(start) && now.Before(end) {
			return w, start, end, nil
		}
	}
	return ShiftWindow{}, time.Time{}, time.Time{}, fmt.Errorf("%w: %s", ErrNoShift, now)
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid shift clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
