package timeutil

import (
	"testing"
	"time"
)

func TestDayArithmeticCrossesMonthBoundary(t *testing.T) {
	if got := NextDay("2024-02-29"); got != "2024-03-01" {
		t.Fatalf("expected 2024-03-01, got %s", got)
	}
	if got := PrevDay("2024-03-01"); got != "2024-02-29" {
		t.Fatalf("expected 2024-02-29, got %s", got)
	}
	if got := NextDay("not-a-date"); got != "not-a-date" {
		t.Fatalf("expected invalid date to pass through, got %s", got)
	}
}

func TestStartOfDayUsesBusinessLocation(t *testing.T) {
	loc := time.FixedZone("EAT", 3*60*60)
	start := StartOfDay("2024-05-10", loc)
	if got := start.UTC().Format(time.RFC3339); got != "2024-05-09T21:00:00Z" {
		t.Fatalf("unexpected local midnight %s", got)
	}
	if DateOf(start.Add(2*time.Hour), loc) != "2024-05-10" {
		t.Fatalf("expected trading date 2024-05-10")
	}
}
