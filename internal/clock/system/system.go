// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time at Postgres timestamp precision, so values
// read back from the report store compare equal to the ones written.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
