// Package calendar holds the time-zone free date arithmetic used by the
// residue predictor and the vaccination schedule.
package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-sql/civil"
)

// Date is a calendar date with no time of day.
type Date = civil.Date

// Today returns the current date in loc (UTC when loc is nil).
func Today(loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return civil.DateOf(time.Now().In(loc))
}

// Parse reads an ISO YYYY-MM-DD date.
func Parse(s string) (Date, error) {
	d, err := civil.ParseDate(s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return d, nil
}

// FromCompact converts the legacy YYYYMMDD integer encoding.
func FromCompact(n int) (Date, error) {
	s := strconv.Itoa(n)
	if len(s) != 8 {
		return Date{}, fmt.Errorf("invalid compact date %d: expected YYYYMMDD", n)
	}
	return Parse(s[0:4] + "-" + s[4:6] + "-" + s[6:8])
}

// ToCompact is the inverse of FromCompact.
func ToCompact(d Date) int {
	return d.Year*10000 + int(d.Month)*100 + d.Day
}

func AddDays(d Date, n int) Date {
	return d.AddDays(n)
}

// AddMonths moves d by n calendar months, normalising overflowing days the
// way time.AddDate does (Jan 31 + 1 month = Mar 2 or 3).
func AddMonths(d Date, n int) Date {
	return civil.DateOf(d.In(time.UTC).AddDate(0, n, 0))
}

// DaysBetween returns to - from in whole days.
func DaysBetween(from, to Date) int {
	return to.DaysSince(from)
}

// DaysElapsed is DaysBetween floored at zero.
func DaysElapsed(from, to Date) int {
	if n := to.DaysSince(from); n > 0 {
		return n
	}
	return 0
}

// OnOrAfter reports d >= other.
func OnOrAfter(d, other Date) bool {
	return !d.Before(other)
}

// IsZero reports whether d was never set.
func IsZero(d Date) bool {
	return d == Date{}
}

// ToTime returns midnight UTC of d, for storage drivers.
func ToTime(d Date) time.Time {
	return d.In(time.UTC)
}

// FromTime truncates t to its calendar date in t's location.
func FromTime(t time.Time) Date {
	return civil.DateOf(t)
}

// Ptr helpers for nullable columns.
func ToTimePtr(d *Date) *time.Time {
	if d == nil {
		return nil
	}
	t := ToTime(*d)
	return &t
}

func FromTimePtr(t *time.Time) *Date {
	if t == nil {
		return nil
	}
	d := FromTime(*t)
	return &d
}

// Input decodes a request date given either as "YYYY-MM-DD" or as the
// legacy YYYYMMDD number (or numeric string).
type Input struct {
	Date
}

func (in *Input) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		in.Date = Date{}
		return nil
	}
	s = strings.Trim(s, `"`)
	if n, err := strconv.Atoi(s); err == nil {
		d, err := FromCompact(n)
		if err != nil {
			return err
		}
		in.Date = d
		return nil
	}
	d, err := Parse(s)
	if err != nil {
		return err
	}
	in.Date = d
	return nil
}

// Ptr returns nil for an unset input.
func (in *Input) Ptr() *Date {
	if in == nil || IsZero(in.Date) {
		return nil
	}
	d := in.Date
	return &d
}
