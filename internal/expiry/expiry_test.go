package expiry

import (
	"testing"
	"time"

	"github.com/cardwise/rewards/ledger/models"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestExpiringWithin_NoDateNeverExpires(t *testing.T) {
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	for _, days := range []int{0, 5, 30, 3650} {
		if ExpiringWithin(nil, now, days) {
			t.Fatalf("nil expiry reported expiring at horizon %d", days)
		}
	}
}

func TestExpiringWithin_Horizon(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	in10 := date(2026, time.March, 11)

	if !ExpiringWithin(in10, now, 30) {
		t.Fatal("date 10 days out not flagged inside 30-day horizon")
	}
	if ExpiringWithin(in10, now, 5) {
		t.Fatal("date 10 days out flagged inside 5-day horizon")
	}
	// Boundary: expiry exactly at now+days counts as expiring.
	if !ExpiringWithin(in10, now, 10) {
		t.Fatal("date exactly at horizon edge not flagged")
	}
}

func TestSumExpiring(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	cards := []*models.Card{
		{Points: 1000, PointsExpiryDate: date(2026, time.March, 11)},
		{Points: 500, PointsExpiryDate: date(2026, time.June, 1)},
		{Points: 700}, // no expiry date, never counted
	}

	if got := SumExpiring(cards, now, DefaultHorizonDays); got != 1000 {
		t.Fatalf("got %d want 1000", got)
	}
	if got := SumExpiring(cards, now, 365); got != 1500 {
		t.Fatalf("got %d want 1500", got)
	}
	if got := SumExpiring(nil, now, DefaultHorizonDays); got != 0 {
		t.Fatalf("got %d want 0 for empty set", got)
	}
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2026-04-15")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	want := time.Date(2026, time.April, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}

	if _, err := ParseDate("15/04/2026"); err == nil {
		t.Fatal("expected error for non-ISO date")
	}
}
