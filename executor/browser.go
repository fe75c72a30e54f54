package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/GoCodeAlone/pilot/action"
	"github.com/GoCodeAlone/pilot/internal/clock"
)

const (
	defaultViewportWidth  = 1280
	defaultViewportHeight = 800
)

// BrowserConfig describes the browser environment to drive.
type BrowserConfig struct {
	// ControlURL attaches to an already-running devtools endpoint
	// (e.g. a sandbox container). Empty launches a local browser.
	ControlURL string
	Headless   bool
	StartURL   string
	Width      int
	Height     int
}

// BrowserExecutor drives a Chromium page over the devtools protocol.
// The browser is lazily started on the first action so an idle daemon
// consumes no desktop resources.
type BrowserExecutor struct {
	mu      sync.Mutex
	cfg     BrowserConfig
	clk     clock.Clock
	browser *rod.Browser
	page    *rod.Page
}

// NewBrowserExecutor creates a BrowserExecutor. The browser is not
// started until the first Execute call.
func NewBrowserExecutor(cfg BrowserConfig, clk clock.Clock) *BrowserExecutor {
	if cfg.Width <= 0 {
		cfg.Width = defaultViewportWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = defaultViewportHeight
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &BrowserExecutor{cfg: cfg, clk: clk}
}

// NewBrowserFactory adapts BrowserExecutor construction to the registry.
func NewBrowserFactory(clk clock.Clock) Factory {
	return func(opts map[string]string) (Executor, error) {
		cfg := BrowserConfig{
			ControlURL: opts["control_url"],
			StartURL:   opts["start_url"],
			Headless:   opts["headless"] != "false",
		}
		if w, err := strconv.Atoi(opts["width"]); err == nil {
			cfg.Width = w
		}
		if h, err := strconv.Atoi(opts["height"]); err == nil {
			cfg.Height = h
		}
		return NewBrowserExecutor(cfg, clk), nil
	}
}

func (b *BrowserExecutor) Name() string { return "browser" }

// ensurePage starts the browser and opens the working page.
// Must be called with b.mu held.
func (b *BrowserExecutor) ensurePage() error {
	if b.page != nil {
		return nil
	}

	url := b.cfg.ControlURL
	if url == "" {
		launched, err := launcher.New().Headless(b.cfg.Headless).Launch()
		if err != nil {
			return &FatalError{Reason: "launch browser", Err: err}
		}
		url = launched
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return &TransientError{Reason: "connect to browser", Err: err}
	}

	start := b.cfg.StartURL
	if start == "" {
		start = "about:blank"
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: start})
	if err != nil {
		_ = browser.Close()
		return &FatalError{Reason: "create page", Err: err}
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.cfg.Width,
		Height:            b.cfg.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		_ = browser.Close()
		return &FatalError{Reason: "set viewport", Err: err}
	}

	b.browser = browser
	b.page = page
	return nil
}

// Execute dispatches one action to the page and screenshots the result.
func (b *BrowserExecutor) Execute(ctx context.Context, act action.Action) (*Observation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensurePage(); err != nil {
		return nil, err
	}
	page := b.page.Context(ctx)

	switch act.Kind {
	case action.KindMove:
		if err := page.Mouse.MoveTo(proto.NewPoint(float64(act.X), float64(act.Y))); err != nil {
			return nil, &TransientError{Reason: "mouse move", Err: err}
		}
	case action.KindClick:
		if act.X >= 0 && act.Y >= 0 {
			if err := page.Mouse.MoveTo(proto.NewPoint(float64(act.X), float64(act.Y))); err != nil {
				return nil, &TransientError{Reason: "mouse move", Err: err}
			}
		}
		clicks := 1
		if act.Double {
			clicks = 2
		}
		if err := page.Mouse.Click(mouseButton(act.Button), clicks); err != nil {
			return nil, &TransientError{Reason: "mouse click", Err: err}
		}
	case action.KindDrag:
		if err := page.Mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
			return nil, &TransientError{Reason: "drag press", Err: err}
		}
		if err := page.Mouse.MoveTo(proto.NewPoint(float64(act.X), float64(act.Y))); err != nil {
			_ = page.Mouse.Up(proto.InputMouseButtonLeft, 1)
			return nil, &TransientError{Reason: "drag move", Err: err}
		}
		if err := page.Mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
			return nil, &TransientError{Reason: "drag release", Err: err}
		}
	case action.KindType:
		if err := page.InsertText(act.Text); err != nil {
			return nil, &TransientError{Reason: "insert text", Err: err}
		}
	case action.KindKey:
		if err := b.pressKeys(page, act.Text); err != nil {
			return nil, err
		}
	case action.KindWait:
		select {
		case <-b.clk.After(act.Duration):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case action.KindScreenshot:
		// Fall through to the capture below.
	default:
		return nil, &FatalError{Reason: fmt.Sprintf("unsupported action kind %q", act.Kind)}
	}

	return b.capture(page)
}

// pressKeys handles a key chord like "Return" or "ctrl+shift+t":
// modifiers are held, the final key is typed, then modifiers release
// in reverse order.
func (b *BrowserExecutor) pressKeys(page *rod.Page, chord string) error {
	tokens := strings.Split(chord, "+")
	keys := make([]input.Key, 0, len(tokens))
	for _, tok := range tokens {
		key, err := lookupKey(strings.TrimSpace(tok))
		if err != nil {
			return &FatalError{Reason: "key chord", Err: err}
		}
		keys = append(keys, key)
	}

	for _, key := range keys[:len(keys)-1] {
		if err := page.Keyboard.Press(key); err != nil {
			return &TransientError{Reason: "hold modifier", Err: err}
		}
	}
	if err := page.Keyboard.Type(keys[len(keys)-1]); err != nil {
		return &TransientError{Reason: "press key", Err: err}
	}
	for i := len(keys) - 2; i >= 0; i-- {
		if err := page.Keyboard.Release(keys[i]); err != nil {
			return &TransientError{Reason: "release modifier", Err: err}
		}
	}
	return nil
}

func (b *BrowserExecutor) capture(page *rod.Page) (*Observation, error) {
	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, &TransientError{Reason: "screenshot", Err: err}
	}
	return &Observation{
		Image:     data,
		Format:    "png",
		TokenCost: imageTokenCost(b.cfg.Width, b.cfg.Height),
		Region:    &Region{Width: b.cfg.Width, Height: b.cfg.Height},
	}, nil
}

// Close shuts down the page and browser if they were started.
func (b *BrowserExecutor) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.page != nil {
		_ = b.page.Close()
		b.page = nil
	}
	if b.browser != nil {
		err := b.browser.Close()
		b.browser = nil
		return err
	}
	return nil
}

func mouseButton(btn action.Button) proto.InputMouseButton {
	switch btn {
	case action.ButtonRight:
		return proto.InputMouseButtonRight
	case action.ButtonMiddle:
		return proto.InputMouseButtonMiddle
	default:
		return proto.InputMouseButtonLeft
	}
}

// imageTokenCost approximates what a screenshot of the given dimensions
// costs when attached to a model request.
func imageTokenCost(width, height int) int {
	cost := width * height / 750
	if cost < 1 {
		cost = 1
	}
	return cost
}

// keyNames maps the names models emit (xdotool style) to devtools keys.
var keyNames = map[string]input.Key{
	"return":    input.Enter,
	"enter":     input.Enter,
	"kp_enter":  input.Enter,
	"tab":       input.Tab,
	"escape":    input.Escape,
	"esc":       input.Escape,
	"backspace": input.Backspace,
	"delete":    input.Delete,
	"space":     input.Space,
	"up":        input.ArrowUp,
	"down":      input.ArrowDown,
	"left":      input.ArrowLeft,
	"right":     input.ArrowRight,
	"home":      input.Home,
	"end":       input.End,
	"page_up":   input.PageUp,
	"pageup":    input.PageUp,
	"page_down": input.PageDown,
	"pagedown":  input.PageDown,
	"ctrl":      input.ControlLeft,
	"control":   input.ControlLeft,
	"alt":       input.AltLeft,
	"shift":     input.ShiftLeft,
	"super":     input.MetaLeft,
	"cmd":       input.MetaLeft,
	"meta":      input.MetaLeft,
	"f1":        input.F1,
	"f2":        input.F2,
	"f3":        input.F3,
	"f4":        input.F4,
	"f5":        input.F5,
	"f6":        input.F6,
	"f7":        input.F7,
	"f8":        input.F8,
	"f9":        input.F9,
	"f10":       input.F10,
	"f11":       input.F11,
	"f12":       input.F12,
}

func lookupKey(name string) (input.Key, error) {
	if key, ok := keyNames[strings.ToLower(name)]; ok {
		return key, nil
	}
	runes := []rune(name)
	if len(runes) == 1 {
		return input.Key(runes[0]), nil
	}
	return 0, fmt.Errorf("unknown key %q", name)
}
