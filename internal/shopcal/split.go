// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package shopcal

import (
	"time"

	"github.com/shopspring/decimal"
)

// One contiguous slice of work inside a single shift window.
type Fragment struct {
	Start   time.Time
	End     time.Time
	Minutes decimal.Decimal
}

// Spread total minutes of work over the scheduling windows beginning at
// cursor. The cursor is adjusted into the window first; whenever the work
// crosses the window close it is cut there and continues at the next shift
// open. Returns the fragments and the instant the work finishes.
func (c Clock) SplitMinutes(cursor time.Time, total decimal.Decimal) ([]Fragment, time.Time) {
	var fragments []Fragment
	remaining := total
	cursor = c.AdjustToShift(cursor)
	for remaining.IsPositive() {
		end := c.ShiftEnd(cursor)
		available := minutesBetween(cursor, end)
		if remaining.LessThanOrEqual(available) {
			fragEnd := cursor.Add(minutesToDuration(remaining))
			fragments = append(fragments, Fragment{Start: cursor, End: fragEnd, Minutes: remaining})
			cursor = fragEnd
			break
		}
		fragments = append(fragments, Fragment{Start: cursor, End: end, Minutes: available})
		remaining = remaining.Sub(available)
		cursor = c.NextShiftStart(cursor)
	}
	return fragments, cursor
}

func minutesBetween(a, b time.Time) decimal.Decimal {
	return decimal.NewFromInt(int64(b.Sub(a))).Div(decimal.NewFromInt(int64(time.Minute)))
}

func minutesToDuration(m decimal.Decimal) time.Duration {
	return time.Duration(m.Mul(decimal.NewFromInt(int64(time.Minute))).IntPart())
}
