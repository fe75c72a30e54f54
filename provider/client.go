package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/GoCodeAlone/pilot/action"
	"github.com/GoCodeAlone/pilot/cache"
	"github.com/GoCodeAlone/pilot/history"
	"github.com/GoCodeAlone/pilot/internal/clock"
)

const (
	// DefaultMaxAttempts bounds the retry loop including the first try.
	DefaultMaxAttempts = 5

	// DefaultTokenCeiling rejects requests estimated above this size
	// before any network traffic.
	DefaultTokenCeiling = 180000

	// DefaultAttemptTimeout bounds a single API round trip.
	DefaultAttemptTimeout = 90 * time.Second
)

// ClientConfig tunes the resilience layer around a Provider.
type ClientConfig struct {
	MaxAttempts    int
	TokenCeiling   int
	AttemptTimeout time.Duration
	Backoff        BackoffConfig

	// RateWindow/RateMax configure the sliding-window limiter.
	// RateMax <= 0 disables rate limiting.
	RateWindow time.Duration
	RateMax    int

	// Fallback, when set, serves the request after the primary
	// provider exhausts its retries.
	Fallback Provider
}

// DefaultClientConfig mirrors the production tuning.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxAttempts:    DefaultMaxAttempts,
		TokenCeiling:   DefaultTokenCeiling,
		AttemptTimeout: DefaultAttemptTimeout,
		Backoff:        DefaultBackoff,
		RateWindow:     time.Minute,
		RateMax:        20,
	}
}

// Client wraps a Provider with response caching, token preflight,
// rate limiting, and retry with exponential backoff. A decoded Action
// is attached to every successful Response.
type Client struct {
	provider Provider
	cfg      ClientConfig
	cache    *cache.Store[*Response]
	est      Estimator
	limiter  *rateLimiter
	clk      clock.Clock
	rnd      func() float64
	logger   *slog.Logger
}

// ClientOption configures optional Client collaborators.
type ClientOption func(*Client)

// WithResponseCache installs a response cache keyed by request fingerprint.
func WithResponseCache(store *cache.Store[*Response]) ClientOption {
	return func(c *Client) { c.cache = store }
}

// WithEstimator sets the token estimator used for preflight checks.
func WithEstimator(est Estimator) ClientOption {
	return func(c *Client) { c.est = est }
}

// WithClock substitutes the time source, for tests.
func WithClock(clk clock.Clock) ClientOption {
	return func(c *Client) { c.clk = clk }
}

// WithRand substitutes the jitter source, for tests.
func WithRand(rnd func() float64) ClientOption {
	return func(c *Client) { c.rnd = rnd }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient wraps the provider with the resilience layer.
func NewClient(p Provider, cfg ClientConfig, opts ...ClientOption) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	c := &Client{
		provider: p,
		cfg:      cfg,
		est:      CharEstimator{},
		clk:      clock.Real(),
		rnd:      rand.Float64,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.limiter = newRateLimiter(cfg.RateMax, cfg.RateWindow, c.clk)
	return c
}

// NextAction resolves the next action for the conversation. Identical
// requests within the cache TTL are served from memory without any
// network traffic or rate-limit accounting.
func (c *Client) NextAction(ctx context.Context, req *Request) (*Response, error) {
	key := Fingerprint(req)
	if c.cache != nil {
		if resp, ok := c.cache.Get(key); ok {
			c.logger.Debug("response cache hit", "fingerprint", key[:12])
			return resp, nil
		}
	}

	if err := c.preflight(req); err != nil {
		return nil, err
	}

	resp, err := c.callWithRetry(ctx, req)
	if err != nil {
		if c.cfg.Fallback != nil {
			c.logger.Warn("primary provider failed, falling back",
				"provider", c.provider.Name(), "fallback", c.cfg.Fallback.Name(), "error", err)
			resp, err = c.cfg.Fallback.NextAction(ctx, req)
		}
		if err != nil {
			return nil, err
		}
	}

	// Malformed tool use gets one fresh attempt: the model may simply
	// have produced ill-formed output once.
	if !c.attachAction(resp) {
		c.logger.Warn("undecodable model output, retrying once",
			"tool", resp.ToolUse.Name, "error", resp.Action.Message)
		retry, err := c.callWithRetry(ctx, req)
		if err == nil && c.attachAction(retry) {
			resp = retry
		}
	}

	if c.cache != nil && resp.Action.Kind != action.KindError {
		c.cache.Put(key, resp)
	}
	return resp, nil
}

// preflight estimates the request size and rejects it before any
// network traffic when it exceeds the token ceiling.
func (c *Client) preflight(req *Request) error {
	if c.cfg.TokenCeiling <= 0 {
		return nil
	}
	total := c.est.Estimate(req.System)
	for _, turn := range req.Turns {
		total += EstimateTurn(c.est, turn)
	}
	if total > c.cfg.TokenCeiling {
		return &PayloadTooLargeError{Estimated: total, Ceiling: c.cfg.TokenCeiling}
	}
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.cfg.Backoff.Delay(attempt-1, c.rnd)
			c.logger.Debug("retrying provider call",
				"attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-c.clk.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.attempt(ctx, req)
		if err == nil {
			c.limiter.Record()
			return resp, nil
		}
		c.limiter.Record()

		var fatal *FatalError
		if errors.As(err, &fatal) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("provider %s: %d attempts exhausted: %w",
		c.provider.Name(), c.cfg.MaxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, req *Request) (*Response, error) {
	if c.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()
	}
	return c.provider.NextAction(ctx, req)
}

// attachAction decodes the tool-use block into an Action and reports
// whether decoding succeeded. A response with no tool use means the
// model stopped acting, which is treated as an unsuccessful finish so
// the loop always terminates.
func (c *Client) attachAction(resp *Response) bool {
	if resp.ToolUse == nil {
		msg := resp.Text
		if msg == "" {
			msg = "model returned no action"
		}
		resp.Action = action.Action{
			Kind:    action.KindFinish,
			Success: false,
			Message: msg,
		}
		return true
	}
	act, err := action.Decode(resp.ToolUse.Name, resp.ToolUse.Input)
	if err != nil {
		resp.Action = action.Action{
			Kind:    action.KindError,
			Message: err.Error(),
		}
		return false
	}
	resp.Action = act
	return true
}

// Fingerprint produces a stable cache key for a request: the hash
// covers the system prompt, every turn (sequence, role, text, image
// digest), the model, and the token limit.
func Fingerprint(req *Request) string {
	h := sha256.New()
	h.Write([]byte(req.System))
	h.Write([]byte{0})
	for _, turn := range req.Turns {
		writeTurn(h, turn)
	}
	h.Write([]byte(req.Model))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(req.MaxTokens)))
	return hex.EncodeToString(h.Sum(nil))
}

func writeTurn(h interface{ Write([]byte) (int, error) }, turn history.Turn) {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(turn.Seq))
	sb.WriteByte('|')
	sb.WriteString(string(turn.Role))
	sb.WriteByte('|')
	sb.WriteString(turn.Text)
	sb.WriteByte('|')
	if turn.Image != nil {
		sum := sha256.Sum256(turn.Image.Data)
		sb.WriteString(hex.EncodeToString(sum[:]))
	}
	sb.WriteByte('|')
	sb.WriteString(turn.ActionKind)
	sb.WriteByte(0)
	_, _ = h.Write([]byte(sb.String()))
}
