// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

// Package shopcal implements the shop-floor calendar: the six-day working
// week, the fixed 06:00-22:00 scheduling window, and the configurable shift
// set used by the live summaries. The two calendars are intentionally kept
// separate.
package shopcal

import (
	"time"
)

// Shop-floor timezone. All calendar decisions happen in IST.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// Clock anchors the batch scheduling window on a working day.
type Clock struct {
	// Hour of day at which the scheduling window opens, usually 6.
	ShiftStartHour int
	// Hour of day at which the scheduling window closes, usually 22.
	ShiftEndHour int
}

// The canonical 06:00-22:00 scheduling clock.
func DefaultClock() Clock {
	return Clock{ShiftStartHour: 6, ShiftEndHour: 22}
}

// True when t falls on Monday through Saturday in IST.
func (c Clock) IsWorkingDay(t time.Time) bool {
	return t.In(IST).Weekday() != time.Sunday
}

// The earliest instant not before t that falls on a working day. Sundays map
// to midnight of the following Monday.
func (c Clock) NextWorkingDay(t time.Time) time.Time {
	t = t.In(IST)
	for !c.IsWorkingDay(t) {
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, IST).AddDate(0, 0, 1)
	}
	return t
}

// The shift window open on the working day containing t.
func (c Clock) ShiftStart(t time.Time) time.Time {
	t = t.In(IST)
	return time.Date(t.Year(), t.Month(), t.Day(), c.ShiftStartHour, 0, 0, 0, IST)
}

// The shift window close on the working day containing t.
func (c Clock) ShiftEnd(t time.Time) time.Time {
	t = t.In(IST)
	return time.Date(t.Year(), t.Month(), t.Day(), c.ShiftEndHour, 0, 0, 0, IST)
}

// The shift open on the next working day strictly after t.
func (c Clock) NextShiftStart(t time.Time) time.Time {
	t = t.In(IST)
	next := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, IST).AddDate(0, 0, 1)
	next = c.NextWorkingDay(next)
	return c.ShiftStart(next)
}

// Move t into the scheduling window: before the window opens the cursor
// jumps to the opening, after it closes to the opening of the next working
// day. Always composed with the working-day predicate.
func (c Clock) AdjustToShift(t time.Time) time.Time {
	t = c.NextWorkingDay(t)
	switch {
	case t.Hour() < c.ShiftStartHour:
		t = c.ShiftStart(t)
	case t.Hour() >= c.ShiftEndHour:
		t = c.NextShiftStart(t)
	}
	// A jump may have landed on a Sunday.
	return c.NextWorkingDay(t)
}
