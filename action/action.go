// Package action defines the closed set of desktop actions a model can
// request and the decoder that turns raw tool-use payloads into them.
package action

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags an Action. The set is closed: decoding anything outside it
// fails with a DecodeError rather than falling through at dispatch time.
type Kind string

const (
	KindMove       Kind = "move"
	KindClick      Kind = "click"
	KindDrag       Kind = "drag"
	KindType       Kind = "type"
	KindKey        Kind = "key"
	KindScreenshot Kind = "screenshot"
	KindWait       Kind = "wait"
	KindFinish     Kind = "finish"
	KindError      Kind = "error"
)

// Button identifies which mouse button a click uses.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

// Action is one structured instruction decoded from a model response.
// Only the fields relevant to Kind are populated.
type Action struct {
	Kind   Kind   `json:"kind"`
	X      int    `json:"x,omitempty"`
	Y      int    `json:"y,omitempty"`
	Button Button `json:"button,omitempty"`
	Double bool   `json:"double,omitempty"`
	// Text carries typed input for KindType and the key name for KindKey.
	Text     string        `json:"text,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	// Success and Message describe task outcome for KindFinish, and the
	// failure description for KindError.
	Success bool   `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

// DecodeError reports a malformed or unknown tool-use payload.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "decode action: " + e.Reason }

// toolComputer and toolFinish are the tool names the model is offered.
const (
	ToolComputer = "computer"
	ToolFinish   = "finish_run"
)

// Decode converts a tool-use block (tool name plus input object) into an
// Action. It accepts both the `coordinate: [x, y]` and the flat `x`/`y`
// coordinate forms the model is known to emit.
func Decode(toolName string, input map[string]any) (Action, error) {
	switch toolName {
	case ToolFinish:
		return decodeFinish(input)
	case ToolComputer:
		return decodeComputer(input)
	default:
		return Action{}, &DecodeError{Reason: fmt.Sprintf("unexpected tool %q", toolName)}
	}
}

func decodeFinish(input map[string]any) (Action, error) {
	a := Action{Kind: KindFinish, Success: true}
	if v, ok := input["success"]; ok {
		b, ok := v.(bool)
		if !ok {
			return Action{}, &DecodeError{Reason: "finish_run: success is not a boolean"}
		}
		a.Success = b
	}
	if msg, ok := input["error"].(string); ok {
		a.Message = msg
	}
	return a, nil
}

func decodeComputer(input map[string]any) (Action, error) {
	name, ok := input["action"].(string)
	if !ok {
		// Some responses carry the action under action_type instead.
		name, ok = input["action_type"].(string)
	}
	if !ok || name == "" {
		return Action{}, &DecodeError{Reason: "computer: action name missing"}
	}

	switch name {
	case "mouse_move":
		return decodeCoords(Action{Kind: KindMove}, input, true)
	case "left_click_drag":
		return decodeCoords(Action{Kind: KindDrag}, input, true)
	case "left_click":
		return decodeCoords(Action{Kind: KindClick, Button: ButtonLeft}, input, false)
	case "right_click":
		return decodeCoords(Action{Kind: KindClick, Button: ButtonRight}, input, false)
	case "middle_click":
		return decodeCoords(Action{Kind: KindClick, Button: ButtonMiddle}, input, false)
	case "double_click":
		return decodeCoords(Action{Kind: KindClick, Button: ButtonLeft, Double: true}, input, false)
	case "type", "keyboard_type":
		text, ok := input["text"].(string)
		if !ok || text == "" {
			return Action{}, &DecodeError{Reason: "type: text missing"}
		}
		return Action{Kind: KindType, Text: text}, nil
	case "key":
		text, ok := input["text"].(string)
		if !ok || text == "" {
			return Action{}, &DecodeError{Reason: "key: text missing"}
		}
		return Action{Kind: KindKey, Text: text}, nil
	case "screenshot":
		return Action{Kind: KindScreenshot}, nil
	case "wait":
		a := Action{Kind: KindWait, Duration: time.Second}
		if secs, ok := toFloat(input["duration"]); ok {
			if secs < 0 {
				return Action{}, &DecodeError{Reason: "wait: negative duration"}
			}
			a.Duration = time.Duration(secs * float64(time.Second))
		}
		return a, nil
	default:
		return Action{}, &DecodeError{Reason: fmt.Sprintf("unsupported action %q", name)}
	}
}

// decodeCoords fills X/Y from either coordinate form. When required is
// false, a click without coordinates targets the current cursor position.
func decodeCoords(a Action, input map[string]any, required bool) (Action, error) {
	if pair, ok := input["coordinate"].([]any); ok && len(pair) == 2 {
		x, xok := toFloat(pair[0])
		y, yok := toFloat(pair[1])
		if xok && yok {
			a.X, a.Y = int(x), int(y)
			return a, nil
		}
	}
	x, xok := toFloat(input["x"])
	y, yok := toFloat(input["y"])
	if xok && yok {
		a.X, a.Y = int(x), int(y)
		return a, nil
	}
	if required {
		return Action{}, &DecodeError{Reason: fmt.Sprintf("%s: invalid coordinate", a.Kind)}
	}
	a.X, a.Y = -1, -1
	return a, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// String renders a compact human-readable form used in logs and events.
func (a Action) String() string {
	switch a.Kind {
	case KindMove, KindDrag:
		return fmt.Sprintf("%s(%d,%d)", a.Kind, a.X, a.Y)
	case KindClick:
		label := string(a.Button) + "_click"
		if a.Double {
			label = "double_click"
		}
		if a.X >= 0 {
			return fmt.Sprintf("%s(%d,%d)", label, a.X, a.Y)
		}
		return label
	case KindType:
		return fmt.Sprintf("type(%d chars)", len(a.Text))
	case KindKey:
		return fmt.Sprintf("key(%s)", a.Text)
	case KindWait:
		return fmt.Sprintf("wait(%s)", a.Duration)
	case KindFinish:
		return fmt.Sprintf("finish(success=%t)", a.Success)
	default:
		return string(a.Kind)
	}
}
