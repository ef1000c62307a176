package util

import (
	"testing"
	"time"
)

func TestInWindowSameDay(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	ok, err := InWindow(now, "09:00", "11:00", "UTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected to be in window")
	}
}

func TestInWindowWrap(t *testing.T) {
	now := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)
	ok, err := InWindow(now, "23:00", "02:00", "UTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected to be in window")
	}
	ok, _ = InWindow(now.Add(3*time.Hour), "23:00", "02:00", "UTC")
	if ok {
		t.Fatalf("expected 04:00 to be outside the window")
	}
}

func TestParseWindowRejectsBadBounds(t *testing.T) {
	if _, err := ParseWindow("25:00", "", ""); err == nil {
		t.Fatalf("expected invalid start to fail")
	}
	if _, err := ParseWindow("", "", "Mars/Base"); err == nil {
		t.Fatalf("expected invalid timezone to fail")
	}
	w, err := ParseWindow("", "", "")
	if err != nil || !w.Contains(time.Now()) {
		t.Fatalf("empty window must contain any time")
	}
}
