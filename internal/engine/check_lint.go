package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"gateline/internal/artifacts"
	"gateline/internal/domain"
)

// LintChecker evaluates linter output. A target passes when it has zero
// errors, warnings do not exceed max_warnings, and, if fail_on_warning is
// set, zero warnings. Passing with a non-zero warning count is a partial
// pass and is reported through PassedWithWarnings.
type LintChecker struct{}

type lintFinding struct {
	Message  string `json:"message"`
	Location string `json:"location,omitempty"`
	Rule     string `json:"rule,omitempty"`
}

type lintArtifact struct {
	Errors   []lintFinding `json:"errors"`
	Warnings []lintFinding `json:"warnings"`
}

func (LintChecker) Type() domain.GateType { return domain.GateLint }

func (LintChecker) Evaluate(ctx context.Context, a *artifacts.Artifact, thresholds map[string]any) (*Result, error) {
	failOnWarning, err := thresholdBool(domain.GateLint, thresholds, "fail_on_warning")
	if err != nil {
		return nil, err
	}
	maxWarnings, err := thresholdNumber(domain.GateLint, thresholds, "max_warnings")
	if err != nil {
		return nil, err
	}

	var report lintArtifact
	if err := json.Unmarshal(a.Raw, &report); err != nil {
		return nil, fmt.Errorf("decode lint artifact: %w", err)
	}

	res := &Result{
		Metrics: map[string]any{
			"error_count":   len(report.Errors),
			"warning_count": len(report.Warnings),
			"max_warnings":  maxWarnings,
		},
	}
	for _, f := range report.Errors {
		res.Issues = append(res.Issues, domain.Issue{
			Severity: domain.SeverityHigh,
			Message:  findingMessage(f),
			Location: f.Location,
		})
	}
	for _, f := range report.Warnings {
		res.Issues = append(res.Issues, domain.Issue{
			Severity: domain.SeverityLow,
			Message:  findingMessage(f),
			Location: f.Location,
		})
	}

	res.Passed = len(report.Errors) == 0 &&
		(!failOnWarning || len(report.Warnings) == 0) &&
		float64(len(report.Warnings)) <= maxWarnings
	res.PassedWithWarnings = res.Passed && len(report.Warnings) > 0
	if res.PassedWithWarnings {
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("resolve %d lint warnings before they reach the max_warnings bound of %.0f", len(report.Warnings), maxWarnings))
	}
	return res, nil
}

func findingMessage(f lintFinding) string {
	if f.Rule != "" {
		return fmt.Sprintf("%s (%s)", f.Message, f.Rule)
	}
	return f.Message
}
