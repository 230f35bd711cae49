// Package domain defines the records, fetch units and error taxonomy shared by the ingestion pipeline.
package domain

import (
	"fmt"
	"time"
)

const secondsPerDay = 86400

// Granularity is the calendar size of a FetchUnit.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
)

// FetchUnit is the smallest retryable slice of remote data: one UTC day or month for one user.
type FetchUnit struct {
	Granularity Granularity
	Start       time.Time
	UserID      int64
}

// NewFetchUnit aligns t to the start of its day or month.
func NewFetchUnit(g Granularity, t time.Time, userID int64) FetchUnit {
	return FetchUnit{Granularity: g, Start: UnitStart(g, t), UserID: userID}
}

// EpochDay is the provider's integer date for the unit.
func (u FetchUnit) EpochDay() int64 {
	return EpochDay(u.Start)
}

// Next returns the following unit for the same user.
func (u FetchUnit) Next() FetchUnit {
	return FetchUnit{Granularity: u.Granularity, Start: Advance(u.Granularity, u.Start), UserID: u.UserID}
}

// Label renders the unit the way logs and reports show it.
func (u FetchUnit) Label() string {
	if u.Granularity == GranularityMonth {
		return u.Start.Format("2006-01")
	}
	return u.Start.Format(time.DateOnly)
}

func (u FetchUnit) String() string {
	return fmt.Sprintf("%s (user=%d)", u.Label(), u.UserID)
}

// Units enumerates every unit between start and end inclusive.
func Units(g Granularity, userID int64, start, end time.Time) []FetchUnit {
	last := UnitStart(g, end)
	var out []FetchUnit
	for u := NewFetchUnit(g, start, userID); !u.Start.After(last); u = u.Next() {
		out = append(out, u)
	}
	return out
}

// TruncateDay returns UTC midnight of t's calendar day.
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// UnitStart aligns t to the first instant of its unit.
func UnitStart(g Granularity, t time.Time) time.Time {
	day := TruncateDay(t)
	if g == GranularityMonth {
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return day
}

// Advance moves an aligned unit start forward by one unit. time.Date normalises
// month 13 into January of the next year.
func Advance(g Granularity, start time.Time) time.Time {
	if g == GranularityMonth {
		return time.Date(start.Year(), start.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	}
	return start.AddDate(0, 0, 1)
}

// EpochDay counts days since 1970-01-01 for t's UTC calendar day.
func EpochDay(t time.Time) int64 {
	return TruncateDay(t).Unix() / secondsPerDay
}

// DateFromEpochDay is the inverse of EpochDay.
func DateFromEpochDay(days int64) time.Time {
	return time.Unix(days*secondsPerDay, 0).UTC()
}
