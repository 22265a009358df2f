// Package artifacts supplies the opaque evidence bundles gate checkers
// consume. Producing the evidence (running linters, scanners, load tests)
// happens outside this process; providers here only locate and hand over
// already-produced output.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gateline/internal/domain"
)

// Artifact is a per-gate-type evidence bundle for one target. Raw holds the
// tool output as JSON; each checker decodes the shape it expects.
type Artifact struct {
	GateType    domain.GateType `json:"gate_type"`
	Raw         json.RawMessage `json:"raw"`
	CollectedAt string          `json:"collected_at,omitempty"`
}

// ErrNotFound is returned when no artifact exists for a (target, gate_type).
var ErrNotFound = fmt.Errorf("artifact not found")

// Dir serves artifacts from <root>/<target-key>/<gate_type>.json.
type Dir struct {
	Root string
}

// DefaultRoot returns the artifact directory inside a workspace.
func DefaultRoot(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".gateline", "artifacts")
}

func (d Dir) GetArtifact(ctx context.Context, target domain.Target, gateType domain.GateType) (*Artifact, error) {
	path := filepath.Join(d.Root, target.Key(), string(gateType)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s for %s", ErrNotFound, gateType, target.Key())
		}
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	info, _ := os.Stat(path)
	a := &Artifact{GateType: gateType, Raw: data}
	if info != nil {
		a.CollectedAt = info.ModTime().UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return a, nil
}

// Static serves artifacts from an in-memory map keyed by gate type. It backs
// inline artifact submission on the run API and test fixtures.
type Static struct {
	ByGate map[domain.GateType]json.RawMessage
}

func (s Static) GetArtifact(ctx context.Context, target domain.Target, gateType domain.GateType) (*Artifact, error) {
	raw, ok := s.ByGate[gateType]
	if !ok {
		return nil, fmt.Errorf("%w: %s for %s", ErrNotFound, gateType, target.Key())
	}
	return &Artifact{GateType: gateType, Raw: raw}, nil
}

// Fallback tries each provider in order, returning the first hit.
type Fallback []interface {
	GetArtifact(ctx context.Context, target domain.Target, gateType domain.GateType) (*Artifact, error)
}

func (f Fallback) GetArtifact(ctx context.Context, target domain.Target, gateType domain.GateType) (*Artifact, error) {
	var lastErr error = ErrNotFound
	for _, p := range f {
		a, err := p.GetArtifact(ctx, target, gateType)
		if err == nil {
			return a, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
