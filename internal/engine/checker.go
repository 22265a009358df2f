package engine

import (
	"context"
	"errors"
	"fmt"

	"gateline/internal/artifacts"
	"gateline/internal/domain"
)

// Checker evaluates one artifact against a threshold config. Implementations
// must be pure functions of their inputs: no side effects, identical inputs
// yield identical results, and concurrent calls for unrelated targets are
// safe.
type Checker interface {
	// Type returns the gate type this checker handles.
	Type() domain.GateType

	// Evaluate compares the artifact to the thresholds and reports the
	// outcome. Malformed thresholds fail with ConfigError naming the
	// offending key; they are never silently defaulted.
	Evaluate(ctx context.Context, artifact *artifacts.Artifact, thresholds map[string]any) (*Result, error)
}

// Result is the checker output contract.
type Result struct {
	Passed             bool           `json:"passed"`
	PassedWithWarnings bool           `json:"passed_with_warnings"`
	Issues             []domain.Issue `json:"issues,omitempty"`
	Metrics            map[string]any `json:"metrics,omitempty"`
	Recommendations    []string       `json:"recommendations,omitempty"`
	Details            map[string]any `json:"details,omitempty"`
}

// ConfigError reports a missing or invalid threshold_config key.
type ConfigError struct {
	GateType domain.GateType
	Key      string
	Reason   string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s threshold_config: key %q: %s", e.GateType, e.Key, e.Reason)
}

// NotRegisteredError reports a gate type with no registered checker.
type NotRegisteredError struct {
	GateType domain.GateType
}

func (e NotRegisteredError) Error() string {
	return fmt.Sprintf("no checker registered for gate type %q", e.GateType)
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce ConfigError
	return errors.As(err, &ce)
}

// --- threshold decode helpers ---
//
// Threshold maps arrive from YAML seeds (ints) and from JSON columns
// (float64); the helpers normalize both and fail with ConfigError on a
// missing key or wrong type.

func thresholdNumber(gt domain.GateType, thresholds map[string]any, key string) (float64, error) {
	v, ok := thresholds[key]
	if !ok {
		return 0, ConfigError{GateType: gt, Key: key, Reason: "missing"}
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, ConfigError{GateType: gt, Key: key, Reason: fmt.Sprintf("expected number, got %T", v)}
}

func thresholdBool(gt domain.GateType, thresholds map[string]any, key string) (bool, error) {
	v, ok := thresholds[key]
	if !ok {
		return false, ConfigError{GateType: gt, Key: key, Reason: "missing"}
	}
	b, ok := v.(bool)
	if !ok {
		return false, ConfigError{GateType: gt, Key: key, Reason: fmt.Sprintf("expected bool, got %T", v)}
	}
	return b, nil
}

func thresholdBoolDefault(gt domain.GateType, thresholds map[string]any, key string, def bool) (bool, error) {
	if _, ok := thresholds[key]; !ok {
		return def, nil
	}
	return thresholdBool(gt, thresholds, key)
}

func thresholdMap(gt domain.GateType, thresholds map[string]any, key string) (map[string]any, error) {
	v, ok := thresholds[key]
	if !ok {
		return nil, ConfigError{GateType: gt, Key: key, Reason: "missing"}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ConfigError{GateType: gt, Key: key, Reason: fmt.Sprintf("expected object, got %T", v)}
	}
	return m, nil
}
