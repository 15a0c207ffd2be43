package utils

import (
	"time"
)

// MarketSession is the US equity session at a point in time.
type MarketSession string

const (
	SessionClosed     MarketSession = "CLOSED"
	SessionPreMarket  MarketSession = "PRE_MARKET"
	SessionOpen       MarketSession = "OPEN"
	SessionAfterHours MarketSession = "AFTER_HOURS"
)

// NewYork is the timezone of the US equity markets.
var NewYork *time.Location

func init() {
	var err error
	NewYork, err = time.LoadLocation("America/New_York")
	if err != nil {
		// No tzdata available; EST without daylight saving.
		NewYork = time.FixedZone("EST", -5*60*60)
	}
}

// SessionAt returns the session at t. Exchange holidays are not modelled.
func SessionAt(t time.Time) MarketSession {
	now := t.In(NewYork)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return SessionClosed
	}

	minutes := now.Hour()*60 + now.Minute()
	switch {
	case minutes >= 4*60 && minutes < 9*60+30:
		return SessionPreMarket
	case minutes >= 9*60+30 && minutes < 16*60:
		return SessionOpen
	case minutes >= 16*60 && minutes < 20*60:
		return SessionAfterHours
	}
	return SessionClosed
}

// GetMarketSession returns the current session.
func GetMarketSession() MarketSession {
	return SessionAt(time.Now())
}

// IsMarketOpen returns true during the regular session.
func IsMarketOpen() bool {
	return GetMarketSession() == SessionOpen
}

// NextMarketOpen returns the next regular-session open after t.
func NextMarketOpen(t time.Time) time.Time {
	now := t.In(NewYork)
	next := time.Date(now.Year(), now.Month(), now.Day(), 9, 30, 0, 0, NewYork)
	if !now.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// MarketClose returns the regular-session close on the day of t.
func MarketClose(t time.Time) time.Time {
	now := t.In(NewYork)
	return time.Date(now.Year(), now.Month(), now.Day(), 16, 0, 0, 0, NewYork)
}
