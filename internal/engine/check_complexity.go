package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"gateline/internal/artifacts"
	"gateline/internal/domain"
)

// ComplexityChecker bounds the maximum cyclomatic and cognitive complexity
// reported for any function in the artifact.
type ComplexityChecker struct{}

type complexityArtifact struct {
	Functions []struct {
		Name       string `json:"name"`
		File       string `json:"file,omitempty"`
		Cyclomatic int    `json:"cyclomatic"`
		Cognitive  int    `json:"cognitive"`
	} `json:"functions"`
}

func (ComplexityChecker) Type() domain.GateType { return domain.GateComplexity }

func (ComplexityChecker) Evaluate(ctx context.Context, a *artifacts.Artifact, thresholds map[string]any) (*Result, error) {
	maxCyclomatic, err := thresholdNumber(domain.GateComplexity, thresholds, "max_cyclomatic")
	if err != nil {
		return nil, err
	}
	maxCognitive, err := thresholdNumber(domain.GateComplexity, thresholds, "max_cognitive")
	if err != nil {
		return nil, err
	}

	var report complexityArtifact
	if err := json.Unmarshal(a.Raw, &report); err != nil {
		return nil, fmt.Errorf("decode complexity artifact: %w", err)
	}

	res := &Result{}
	worstCyclomatic, worstCognitive := 0, 0
	for _, fn := range report.Functions {
		if fn.Cyclomatic > worstCyclomatic {
			worstCyclomatic = fn.Cyclomatic
		}
		if fn.Cognitive > worstCognitive {
			worstCognitive = fn.Cognitive
		}
		if float64(fn.Cyclomatic) > maxCyclomatic {
			res.Issues = append(res.Issues, domain.Issue{
				Severity: domain.SeverityMedium,
				Message:  fmt.Sprintf("%s has cyclomatic complexity %d (max %.0f)", fn.Name, fn.Cyclomatic, maxCyclomatic),
				Location: fn.File,
			})
		}
		if float64(fn.Cognitive) > maxCognitive {
			res.Issues = append(res.Issues, domain.Issue{
				Severity: domain.SeverityMedium,
				Message:  fmt.Sprintf("%s has cognitive complexity %d (max %.0f)", fn.Name, fn.Cognitive, maxCognitive),
				Location: fn.File,
			})
		}
	}
	res.Passed = len(res.Issues) == 0
	res.Metrics = map[string]any{
		"max_cyclomatic_observed": worstCyclomatic,
		"max_cognitive_observed":  worstCognitive,
		"function_count":          len(report.Functions),
	}
	if !res.Passed {
		res.Recommendations = append(res.Recommendations, "split the flagged functions into smaller units")
	}
	return res, nil
}
