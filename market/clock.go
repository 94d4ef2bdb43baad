package market

import "time"

// Clock answers whether the venue is inside its trading session. It is a pure
// function of the supplied time: fixed UTC offset, fixed weekday set, fixed
// intraday window in minutes since midnight, both bounds inclusive.
type Clock struct {
	offset       *time.Location
	sessionStart int
	sessionEnd   int
}

// NewClock builds a clock for a venue at the given UTC offset (minutes) with a
// session window expressed in minutes since local midnight.
func NewClock(utcOffsetMinutes, sessionStart, sessionEnd int) *Clock {
	return &Clock{
		offset:       time.FixedZone("venue", utcOffsetMinutes*60),
		sessionStart: sessionStart,
		sessionEnd:   sessionEnd,
	}
}

// Default returns the NSE clock: IST (+05:30), Mon-Fri 09:15-15:30.
func Default() *Clock {
	return NewClock(330, 9*60+15, 15*60+30)
}

// IsOpen reports whether now falls on a trading weekday inside the session.
func (c *Clock) IsOpen(now time.Time) bool {
	local := now.In(c.offset)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	return minutes >= c.sessionStart && minutes <= c.sessionEnd
}
