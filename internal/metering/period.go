package metering

import "time"

// PeriodStart truncates the instant to the start of its calendar month in UTC.
// All usage windows key on this value regardless of the subscription's billing
// anchor, so provider-side period drift never splits a month's counters.
func PeriodStart(at time.Time) time.Time {
	at = at.UTC()
	return time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextPeriodStart returns the start of the month after the one containing at.
func NextPeriodStart(at time.Time) time.Time {
	return PeriodStart(at).AddDate(0, 1, 0)
}
