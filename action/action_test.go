package action

import (
	"errors"
	"testing"
	"time"
)

func TestDecode_ComputerActions(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		want  Action
	}{
		{
			name:  "mouse_move with coordinate pair",
			input: map[string]any{"action": "mouse_move", "coordinate": []any{float64(10), float64(20)}},
			want:  Action{Kind: KindMove, X: 10, Y: 20},
		},
		{
			name:  "mouse_move with flat x/y",
			input: map[string]any{"action": "mouse_move", "x": float64(5), "y": float64(7)},
			want:  Action{Kind: KindMove, X: 5, Y: 7},
		},
		{
			name:  "action_type key accepted",
			input: map[string]any{"action_type": "mouse_move", "x": float64(1), "y": float64(2)},
			want:  Action{Kind: KindMove, X: 1, Y: 2},
		},
		{
			name:  "left_click without coordinates",
			input: map[string]any{"action": "left_click"},
			want:  Action{Kind: KindClick, Button: ButtonLeft, X: -1, Y: -1},
		},
		{
			name:  "double_click",
			input: map[string]any{"action": "double_click", "x": float64(3), "y": float64(4)},
			want:  Action{Kind: KindClick, Button: ButtonLeft, Double: true, X: 3, Y: 4},
		},
		{
			name:  "drag",
			input: map[string]any{"action": "left_click_drag", "coordinate": []any{float64(100), float64(200)}},
			want:  Action{Kind: KindDrag, X: 100, Y: 200},
		},
		{
			name:  "type",
			input: map[string]any{"action": "type", "text": "hello"},
			want:  Action{Kind: KindType, Text: "hello"},
		},
		{
			name:  "key",
			input: map[string]any{"action": "key", "text": "Return"},
			want:  Action{Kind: KindKey, Text: "Return"},
		},
		{
			name:  "screenshot",
			input: map[string]any{"action": "screenshot"},
			want:  Action{Kind: KindScreenshot},
		},
		{
			name:  "wait with duration",
			input: map[string]any{"action": "wait", "duration": float64(2.5)},
			want:  Action{Kind: KindWait, Duration: 2500 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(ToolComputer, tt.input)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecode_Finish(t *testing.T) {
	got, err := Decode(ToolFinish, map[string]any{"success": true})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != KindFinish || !got.Success {
		t.Errorf("Decode = %+v, want successful finish", got)
	}

	got, err = Decode(ToolFinish, map[string]any{"success": false, "error": "could not find button"})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Success || got.Message != "could not find button" {
		t.Errorf("Decode = %+v, want failed finish with message", got)
	}

	// success defaults to true when absent
	got, err = Decode(ToolFinish, map[string]any{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Success {
		t.Error("finish without success field should default to success=true")
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		input map[string]any
	}{
		{"unknown tool", "browser", map[string]any{"action": "screenshot"}},
		{"missing action name", ToolComputer, map[string]any{"x": float64(1)}},
		{"unknown action", ToolComputer, map[string]any{"action": "levitate"}},
		{"move without coordinates", ToolComputer, map[string]any{"action": "mouse_move"}},
		{"drag with bad coordinate", ToolComputer, map[string]any{"action": "left_click_drag", "coordinate": []any{"a", "b"}}},
		{"type without text", ToolComputer, map[string]any{"action": "type"}},
		{"key without text", ToolComputer, map[string]any{"action": "key"}},
		{"negative wait", ToolComputer, map[string]any{"action": "wait", "duration": float64(-1)}},
		{"finish with non-bool success", ToolFinish, map[string]any{"success": "yes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.tool, tt.input)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("Decode err = %v, want DecodeError", err)
			}
		})
	}
}

func TestAction_String(t *testing.T) {
	a := Action{Kind: KindClick, Button: ButtonLeft, X: 10, Y: 20}
	if got := a.String(); got != "left_click(10,20)" {
		t.Errorf("String = %q", got)
	}
	f := Action{Kind: KindFinish, Success: true}
	if got := f.String(); got != "finish(success=true)" {
		t.Errorf("String = %q", got)
	}
}
