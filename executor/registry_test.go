package executor

import (
	"context"
	"testing"

	"github.com/GoCodeAlone/pilot/action"
)

type nopExecutor struct{ name string }

func (n *nopExecutor) Name() string { return n.name }

func (n *nopExecutor) Execute(_ context.Context, _ action.Action) (*Observation, error) {
	return &Observation{Format: "png"}, nil
}

func (n *nopExecutor) Close() error { return nil }

func TestRegistryRegisterAndNew(t *testing.T) {
	r := NewRegistry()
	err := r.Register("nop", func(opts map[string]string) (Executor, error) {
		return &nopExecutor{name: opts["name"]}, nil
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	exec, err := r.New("nop", map[string]string{"name": "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if exec.Name() != "test" {
		t.Errorf("Name() = %q, want %q", exec.Name(), "test")
	}
}

func TestRegistryDuplicateName(t *testing.T) {
	r := NewRegistry()
	factory := func(map[string]string) (Executor, error) { return &nopExecutor{}, nil }
	if err := r.Register("dup", factory); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := r.Register("dup", factory); err == nil {
		t.Error("second Register() error = nil, want duplicate error")
	}
}

func TestRegistryUnknownName(t *testing.T) {
	r := NewRegistry()
	if _, err := r.New("missing", nil); err == nil {
		t.Error("New() error = nil, want not-registered error")
	}
}

func TestLookupKey(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{name: "Return"},
		{name: "ctrl"},
		{name: "Page_Down"},
		{name: "a"},
		{name: "7"},
		{name: "NoSuchKey", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lookupKey(tt.name)
			if (err != nil) != tt.wantErr {
				t.Errorf("lookupKey(%q) error = %v, wantErr %t", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestImageTokenCost(t *testing.T) {
	if got := imageTokenCost(1280, 800); got != 1365 {
		t.Errorf("imageTokenCost(1280, 800) = %d, want 1365", got)
	}
	if got := imageTokenCost(1, 1); got != 1 {
		t.Errorf("imageTokenCost(1, 1) = %d, want floor of 1", got)
	}
}
