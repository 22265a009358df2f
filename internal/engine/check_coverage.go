package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"gateline/internal/artifacts"
	"gateline/internal/domain"
)

// CoverageChecker compares a measured coverage percentage to min_percentage.
type CoverageChecker struct{}

type coverageArtifact struct {
	MeasuredPercentage float64 `json:"measured_percentage"`
	Files              []struct {
		Path       string  `json:"path"`
		Percentage float64 `json:"percentage"`
	} `json:"files,omitempty"`
}

func (CoverageChecker) Type() domain.GateType { return domain.GateCoverage }

func (CoverageChecker) Evaluate(ctx context.Context, a *artifacts.Artifact, thresholds map[string]any) (*Result, error) {
	minPct, err := thresholdNumber(domain.GateCoverage, thresholds, "min_percentage")
	if err != nil {
		return nil, err
	}

	var report coverageArtifact
	if err := json.Unmarshal(a.Raw, &report); err != nil {
		return nil, fmt.Errorf("decode coverage artifact: %w", err)
	}

	res := &Result{
		Passed: report.MeasuredPercentage >= minPct,
		Metrics: map[string]any{
			"measured_percentage": report.MeasuredPercentage,
			"min_percentage":      minPct,
		},
	}
	if !res.Passed {
		res.Issues = append(res.Issues, domain.Issue{
			Severity: domain.SeverityMedium,
			Message:  fmt.Sprintf("coverage %.1f%% is below the required %.1f%%", report.MeasuredPercentage, minPct),
		})
		// Point at the least-covered files first.
		files := report.Files
		sort.Slice(files, func(i, j int) bool { return files[i].Percentage < files[j].Percentage })
		for i, f := range files {
			if i == 3 {
				break
			}
			if f.Percentage < minPct {
				res.Recommendations = append(res.Recommendations,
					fmt.Sprintf("add tests for %s (%.1f%% covered)", f.Path, f.Percentage))
			}
		}
	}
	return res, nil
}
