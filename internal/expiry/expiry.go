// Package expiry classifies card point balances against an expiry horizon.
package expiry

import (
	"fmt"
	"time"

	"github.com/cardwise/rewards/ledger/models"
)

// DefaultHorizonDays is the look-ahead window used to flag soon-to-expire
// points when the caller does not choose one.
const DefaultHorizonDays = 30

// DateFormat is the wire format for points expiry dates.
const DateFormat = "2006-01-02"

var defaultLoc = time.UTC

// SetDefaultLocation sets the time location for horizon calculations
// (fallback UTC).
func SetDefaultLocation(loc *time.Location) {
	if loc != nil {
		defaultLoc = loc
	}
}

// ExpiringWithin reports whether an expiry date falls inside the horizon of
// `days` days from now. A nil expiry never expires: absence of a date means
// the points do not expire, not that the date is unknown.
func ExpiringWithin(expiresAt *time.Time, now time.Time, days int) bool {
	if expiresAt == nil {
		return false
	}
	threshold := now.In(defaultLoc).AddDate(0, 0, days)
	return !expiresAt.After(threshold)
}

// SumExpiring returns the total points of cards whose balances expire within
// the horizon.
func SumExpiring(cards []*models.Card, now time.Time, days int) int {
	total := 0
	for _, card := range cards {
		if ExpiringWithin(card.PointsExpiryDate, now, days) {
			total += card.Points
		}
	}
	return total
}

// ParseDate parses a YYYY-MM-DD expiry date in the default location.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateFormat, s, defaultLoc)
	if err != nil {
		return time.Time{}, fmt.Errorf("expiry date must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}
