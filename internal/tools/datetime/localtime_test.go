package datetime

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestExecute_KnownZone(t *testing.T) {
	tool := NewLocalTimeTool()
	tool.now = func() time.Time {
		return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"location": "Asia/Tokyo"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	// Noon UTC is 9pm in Tokyo.
	want := "The local time in Asia/Tokyo is 9:00pm on Monday, March 2"
	if result.Content != want {
		t.Fatalf("content = %q, want %q", result.Content, want)
	}
}

func TestExecute_UnknownZoneFallsBack(t *testing.T) {
	tool := NewLocalTimeTool()

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"location": "Atlantis"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if result.Content != "The local time in Atlantis is 10am" {
		t.Fatalf("content = %q", result.Content)
	}
}

func TestExecute_MissingLocation(t *testing.T) {
	tool := NewLocalTimeTool()

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "location") {
		t.Fatalf("expected missing-location error, got %+v", result)
	}
}

func TestNormalizeZone(t *testing.T) {
	cases := map[string]string{
		"America/New_York": "America/New_York",
		"tokyo":            "Tokyo",
		"new york":         "New_York",
		"UTC":              "Utc",
	}
	for in, want := range cases {
		if got := normalizeZone(in); got != want {
			t.Errorf("normalizeZone(%q) = %q, want %q", in, got, want)
		}
	}
}
