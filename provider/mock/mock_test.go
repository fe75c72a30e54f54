package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/GoCodeAlone/pilot/provider"
)

func TestMockProvider_Name(t *testing.T) {
	m := New()
	if got := m.Name(); got != "mock" {
		t.Errorf("Name() = %q, want %q", got, "mock")
	}
}

func TestMockProvider_DefaultFinish(t *testing.T) {
	m := New()
	resp, err := m.NextAction(context.Background(), &provider.Request{})
	if err != nil {
		t.Fatalf("NextAction() error = %v", err)
	}
	if resp.ToolUse == nil || resp.ToolUse.Name != "finish_run" {
		t.Fatalf("expected default finish_run tool use, got %+v", resp.ToolUse)
	}
	if success, _ := resp.ToolUse.Input["success"].(bool); !success {
		t.Error("expected default finish to report success")
	}
}

func TestMockProvider_ReplaysStepsInOrder(t *testing.T) {
	m := New(
		Step{Response: &provider.Response{Text: "first"}},
		Step{Response: &provider.Response{Text: "second"}},
	)

	want := []string{"first", "second", "second"} // sticks on final step
	for i, w := range want {
		resp, err := m.NextAction(context.Background(), &provider.Request{})
		if err != nil {
			t.Fatalf("NextAction() call %d error = %v", i, err)
		}
		if resp.Text != w {
			t.Errorf("NextAction() call %d = %q, want %q", i, resp.Text, w)
		}
	}
}

func TestMockProvider_ErrorStep(t *testing.T) {
	scripted := errors.New("scripted failure")
	m := New().Fail(scripted).Respond(&provider.Response{Text: "recovered"})

	if _, err := m.NextAction(context.Background(), &provider.Request{}); !errors.Is(err, scripted) {
		t.Fatalf("expected scripted error, got %v", err)
	}
	resp, err := m.NextAction(context.Background(), &provider.Request{})
	if err != nil {
		t.Fatalf("NextAction() error = %v", err)
	}
	if resp.Text != "recovered" {
		t.Errorf("NextAction() = %q, want %q", resp.Text, "recovered")
	}
}

func TestMockProvider_RecordsRequests(t *testing.T) {
	m := New()
	req := &provider.Request{Model: "test-model", System: "do things"}
	if _, err := m.NextAction(context.Background(), req); err != nil {
		t.Fatalf("NextAction() error = %v", err)
	}
	if m.Calls() != 1 {
		t.Fatalf("Calls() = %d, want 1", m.Calls())
	}
	got := m.Requests()
	if len(got) != 1 || got[0].Model != "test-model" {
		t.Errorf("unexpected recorded requests: %+v", got)
	}
}
