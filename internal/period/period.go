// Package period implements booking-period arithmetic. A booking period is a
// calendar month in UTC, identified by a fixed-width YYYYMM code. Because the
// code is zero-padded and chronologically monotonic, ordinary lexicographic
// string comparison orders periods correctly; every caller relies on that.
package period

import (
	"fmt"
	"time"
)

const codeLayout = "200601"

// FromTime returns the booking-period code containing the given instant.
func FromTime(t time.Time) string {
	return t.UTC().Format(codeLayout)
}

// Parse validates a period code and returns the underlying month.
func Parse(code string) (time.Time, error) {
	if len(code) != 6 {
		return time.Time{}, fmt.Errorf("invalid booking period %q", code)
	}
	t, err := time.ParseInLocation(codeLayout, code, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid booking period %q", code)
	}
	return t, nil
}

// Start returns the first instant of the period.
func Start(code string) (time.Time, error) {
	return Parse(code)
}

// End returns the first instant of the following period. The period covers
// [Start, End).
func End(code string) (time.Time, error) {
	t, err := Parse(code)
	if err != nil {
		return time.Time{}, err
	}
	return t.AddDate(0, 1, 0), nil
}

// Next returns the code of the following period.
func Next(code string) (string, error) {
	t, err := Parse(code)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 1, 0).Format(codeLayout), nil
}

// Previous returns the code of the preceding period.
func Previous(code string) (string, error) {
	t, err := Parse(code)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, -1, 0).Format(codeLayout), nil
}

// Contains reports whether the instant falls inside the period.
func Contains(code string, t time.Time) bool {
	return FromTime(t) == code
}

// NavEvaluationInstant returns the end-of-day cutoff used to price holdings
// for a NAV evaluated on the given date.
func NavEvaluationInstant(date time.Time) time.Time {
	d := date.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, time.UTC)
}

// CloseEvaluationInstant returns the pricing cutoff for closing the period:
// the end of its last day.
func CloseEvaluationInstant(code string) (time.Time, error) {
	end, err := End(code)
	if err != nil {
		return time.Time{}, err
	}
	return NavEvaluationInstant(end.AddDate(0, 0, -1)), nil
}

// ShouldBookFee reports whether the administration fee falls due in the given
// period for a fee charged every frequencyMonths months. Fees are booked in
// calendar months divisible by the frequency, so a quarterly fee lands in
// March, June, September and December regardless of when the fund started.
func ShouldBookFee(frequencyMonths int, code string) (bool, error) {
	if frequencyMonths <= 0 {
		return false, nil
	}
	t, err := Parse(code)
	if err != nil {
		return false, err
	}
	return int(t.Month())%frequencyMonths == 0, nil
}
