package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"gateline/internal/artifacts"
	"gateline/internal/domain"
)

// TypeCheckChecker evaluates type-checker output. Type errors always fail;
// implicit-any findings fail only in strict_mode, otherwise a clean pass
// that still carries them is a partial pass.
type TypeCheckChecker struct{}

type typeCheckArtifact struct {
	TypeErrors []struct {
		Message  string `json:"message"`
		Location string `json:"location,omitempty"`
	} `json:"type_errors"`
	ImplicitAny []struct {
		Location string `json:"location"`
	} `json:"implicit_any"`
}

func (TypeCheckChecker) Type() domain.GateType { return domain.GateTypeCheck }

func (TypeCheckChecker) Evaluate(ctx context.Context, a *artifacts.Artifact, thresholds map[string]any) (*Result, error) {
	strictMode, err := thresholdBool(domain.GateTypeCheck, thresholds, "strict_mode")
	if err != nil {
		return nil, err
	}

	var report typeCheckArtifact
	if err := json.Unmarshal(a.Raw, &report); err != nil {
		return nil, fmt.Errorf("decode type_check artifact: %w", err)
	}

	res := &Result{
		Metrics: map[string]any{
			"type_error_count":   len(report.TypeErrors),
			"implicit_any_count": len(report.ImplicitAny),
			"strict_mode":        strictMode,
		},
	}
	for _, e := range report.TypeErrors {
		res.Issues = append(res.Issues, domain.Issue{
			Severity: domain.SeverityHigh,
			Message:  e.Message,
			Location: e.Location,
		})
	}
	for _, ia := range report.ImplicitAny {
		res.Issues = append(res.Issues, domain.Issue{
			Severity: domain.SeverityMedium,
			Message:  "implicit any",
			Location: ia.Location,
		})
	}

	res.Passed = len(report.TypeErrors) == 0 && (!strictMode || len(report.ImplicitAny) == 0)
	res.PassedWithWarnings = res.Passed && len(report.ImplicitAny) > 0
	if res.PassedWithWarnings {
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("annotate %d implicit any locations before enabling strict_mode", len(report.ImplicitAny)))
	}
	return res, nil
}
