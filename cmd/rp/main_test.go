package main

import (
	"testing"
	"time"
)

func TestParseAt(t *testing.T) {
	got, err := parseAt("2024-03-05")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 3, 5, 23, 59, 59, int(999*time.Millisecond), time.UTC)
	if !got.Equal(want) {
		t.Fatalf("date: got %s, want %s", got, want)
	}
	got, err = parseAt("2024-03-05T10:00:00+02:00")
	if err != nil || !got.Equal(time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("rfc3339: %s %v", got, err)
	}
	if _, err := parseAt("last tuesday"); err == nil {
		t.Fatalf("expected error")
	}
}
