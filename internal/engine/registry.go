package engine

import (
	"context"
	"fmt"
	"sort"

	"gateline/internal/domain"
)

// Registry maps gate types to checker implementations. It is populated once
// at process startup by an explicit initialization routine and is read-only
// during evaluation; no runtime mutation is permitted once runs begin.
type Registry struct {
	checkers map[domain.GateType]Checker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[domain.GateType]Checker)}
}

// Register adds a checker. Registering the same gate type twice is an
// initialization error.
func (r *Registry) Register(c Checker) error {
	gt := c.Type()
	if !domain.KnownGateType(gt) {
		return fmt.Errorf("register checker: unknown gate type %q", gt)
	}
	if _, exists := r.checkers[gt]; exists {
		return fmt.Errorf("register checker: gate type %q already registered", gt)
	}
	r.checkers[gt] = c
	return nil
}

// MustRegister is Register for startup paths where a duplicate is a bug.
func (r *Registry) MustRegister(c Checker) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Lookup returns the checker for a gate type.
func (r *Registry) Lookup(gt domain.GateType) (Checker, error) {
	c, ok := r.checkers[gt]
	if !ok {
		return nil, NotRegisteredError{GateType: gt}
	}
	return c, nil
}

// Types returns the registered gate types in sorted order.
func (r *Registry) Types() []domain.GateType {
	out := make([]domain.GateType, 0, len(r.checkers))
	for gt := range r.checkers {
		out = append(out, gt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RegisterBuiltins registers every built-in checker.
func RegisterBuiltins(r *Registry) error {
	for _, c := range []Checker{
		LintChecker{},
		CoverageChecker{},
		SecurityChecker{},
		PerformanceChecker{},
		ContractChecker{},
		ComplexityChecker{},
		TypeCheckChecker{},
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// DefaultRegistry returns a registry with all built-in checkers registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		panic(err)
	}
	return r
}

// VerifyConfigured fails fast when any persisted gate type in active configs
// has no registered checker. Call it at startup, before serving runs.
func (r *Registry) VerifyConfigured(ctx context.Context, store ConfigStore, workspaceID, projectID string) error {
	configs, err := store.GetEnabledGates(ctx, workspaceID, projectID)
	if err != nil {
		return fmt.Errorf("load enabled gates: %w", err)
	}
	for _, gc := range configs {
		if _, err := r.Lookup(gc.GateType); err != nil {
			return fmt.Errorf("gate config %s: %w", gc.ID, err)
		}
	}
	return nil
}
