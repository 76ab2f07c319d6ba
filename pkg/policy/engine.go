package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/platinummonkey/rolegate/pkg/rbac"
)

// Source supplies active policies in evaluation order
type Source interface {
	ListActivePolicies(ctx context.Context) ([]Policy, error)
}

// Engine evaluates requests against a snapshot of the active policies. The
// snapshot is loaded on first use and dropped by Invalidate.
type Engine struct {
	source Source

	mu       sync.RWMutex
	loaded   bool
	policies []*compiledPolicy
}

// NewEngine creates an engine reading from source
func NewEngine(source Source) *Engine {
	return &Engine{source: source}
}

// Evaluate returns the effect of the first active policy matching the request,
// or ABSTAIN when none matches.
func (e *Engine) Evaluate(ctx context.Context, resource, action string, reqCtx map[string]interface{}) (Decision, error) {
	policies, err := e.snapshot(ctx)
	if err != nil {
		return Decision{}, err
	}

	for _, cp := range policies {
		if !cp.matches(resource, action, reqCtx) {
			continue
		}
		p := cp.policy
		if p.Effect == EffectDeny {
			return Decision{Verdict: VerdictDeny, Policy: &p}, nil
		}
		return Decision{Verdict: VerdictAllow, Policy: &p}, nil
	}
	return Abstain, nil
}

// Load forces the snapshot to be (re)built now
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadLocked(ctx)
}

// Invalidate drops the snapshot; the next evaluation reloads it
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.loaded = false
	e.policies = nil
	e.mu.Unlock()
}

// Len returns the number of policies in the current snapshot
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.policies)
}

func (e *Engine) snapshot(ctx context.Context) ([]*compiledPolicy, error) {
	e.mu.RLock()
	if e.loaded {
		policies := e.policies
		e.mu.RUnlock()
		return policies, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		if err := e.loadLocked(ctx); err != nil {
			return nil, err
		}
	}
	return e.policies, nil
}

func (e *Engine) loadLocked(ctx context.Context) error {
	policies, err := e.source.ListActivePolicies(ctx)
	if err != nil {
		if errors.Is(err, rbac.ErrStorage) {
			return err
		}
		return &rbac.StorageError{Op: "load policies", Err: err}
	}

	compiled := make([]*compiledPolicy, 0, len(policies))
	for _, p := range policies {
		cp, err := compile(p)
		if err != nil {
			return &rbac.StorageError{Op: "load policies", Err: fmt.Errorf("policy %q: %w", p.Name, err)}
		}
		compiled = append(compiled, cp)
	}

	e.policies = compiled
	e.loaded = true
	return nil
}
