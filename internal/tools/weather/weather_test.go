package weather

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestReport(t *testing.T) {
	tool := NewTool()

	result, err := tool.Report(context.Background(), json.RawMessage(`{"city": "Lisbon"}`))
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if result.Content != "The weather in Lisbon is sunny" {
		t.Fatalf("content = %q", result.Content)
	}
}

func TestReport_MissingCity(t *testing.T) {
	tool := NewTool()

	result, err := tool.Report(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing city")
	}
}

func TestExecute_RefusesWithoutConfirmation(t *testing.T) {
	tool := NewTool()

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"city": "Lisbon"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "confirmation") {
		t.Fatalf("direct Execute should refuse, got %+v", result)
	}
}
