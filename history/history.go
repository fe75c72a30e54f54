// Package history owns the ordered conversation log for one task and its
// token-budget truncation.
package history

import (
	"fmt"
	"sync"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleObservation Role = "observation"
)

// Image is an opaque screenshot payload attached to a turn. The core never
// inspects pixel content; TokenCost comes from the screenshot producer.
type Image struct {
	Data      []byte `json:"-"`
	Format    string `json:"format"`
	TokenCost int    `json:"token_cost"`
}

// Turn is one exchange unit. Turns are append-only: never mutated after
// creation, only elided (replaced by a synthetic summary turn) during
// truncation.
type Turn struct {
	Seq        int       `json:"seq"`
	Role       Role      `json:"role"`
	Text       string    `json:"text,omitempty"`
	Image      *Image    `json:"image,omitempty"`
	ActionKind string    `json:"action_kind,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	// Summary fields, set only on the synthetic turn that replaces an
	// elided range.
	Summary     bool     `json:"summary,omitempty"`
	Omitted     int      `json:"omitted,omitempty"`
	Screenshots int      `json:"screenshots,omitempty"`
	Kinds       []string `json:"kinds,omitempty"`
}

// Estimator approximates the token cost of a text fragment.
type Estimator interface {
	Estimate(text string) int
}

// InvariantViolation signals an internal consistency bug (for example an
// out-of-order append). It is a programming error, not a user-facing
// failure, and is logged distinctly by callers.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string { return "history invariant violated: " + e.Reason }

const imagePlaceholder = "[screenshot omitted to fit token budget]"

// History is the ordered turn sequence for one task. The first turn is the
// anchor (original instruction) and is never dropped. Mutation is confined
// to the goroutine running the task loop; the mutex covers concurrent
// read-only access from status endpoints.
type History struct {
	mu      sync.Mutex
	turns   []Turn
	lastSeq int
	est     Estimator
}

// New creates a History seeded with the anchor turn (the task instruction).
func New(instruction string, est Estimator) *History {
	h := &History{est: est, lastSeq: 1}
	h.turns = []Turn{{
		Seq:       1,
		Role:      RoleUser,
		Text:      instruction,
		CreatedAt: time.Now().UTC(),
	}}
	return h
}

// NextSeq reserves and returns the next sequence number.
func (h *History) NextSeq() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSeq++
	return h.lastSeq
}

// Append adds a turn. Sequence numbers must be strictly increasing;
// anything else is an InvariantViolation.
func (h *History) Append(t Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	last := h.turns[len(h.turns)-1].Seq
	if t.Seq <= last {
		return &InvariantViolation{
			Reason: fmt.Sprintf("appended seq %d not greater than last seq %d", t.Seq, last),
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Seq > h.lastSeq {
		h.lastSeq = t.Seq
	}
	h.turns = append(h.turns, t)
	return nil
}

// Anchor returns the original instruction turn.
func (h *History) Anchor() Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.turns[0]
}

// Latest returns the most recent turn.
func (h *History) Latest() Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.turns[len(h.turns)-1]
}

// Len returns the number of retained turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// ContextWindow returns a copy of the ordered turn sequence to send to the
// model: anchor first, then the retained tail (with any summary turn in
// the position of the first elided turn).
func (h *History) ContextWindow() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// TotalCost returns the estimated token cost of all retained turns.
func (h *History) TotalCost() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totalCostLocked()
}

func (h *History) totalCostLocked() int {
	total := 0
	for i := range h.turns {
		total += h.turnCost(&h.turns[i])
	}
	return total
}

func (h *History) turnCost(t *Turn) int {
	cost := 0
	if t.Text != "" {
		cost += h.est.Estimate(t.Text)
	}
	if t.Image != nil {
		cost += t.Image.TokenCost
	}
	return cost
}
