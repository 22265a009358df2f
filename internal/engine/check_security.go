package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gateline/internal/artifacts"
	"gateline/internal/domain"
)

// SecurityChecker evaluates vulnerability scan output. Critical findings
// always fail the gate; with critical_only=false any finding fails it.
// Vulnerabilities confined to dev-only dependencies are excluded unless
// allow_dev_dependencies is explicitly false.
type SecurityChecker struct{}

type securityArtifact struct {
	Vulnerabilities []struct {
		ID          string `json:"id"`
		Severity    string `json:"severity"`
		Package     string `json:"package,omitempty"`
		Description string `json:"description,omitempty"`
		DevOnly     bool   `json:"dev_only,omitempty"`
	} `json:"vulnerabilities"`
}

func (SecurityChecker) Type() domain.GateType { return domain.GateSecurity }

func (SecurityChecker) Evaluate(ctx context.Context, a *artifacts.Artifact, thresholds map[string]any) (*Result, error) {
	criticalOnly, err := thresholdBool(domain.GateSecurity, thresholds, "critical_only")
	if err != nil {
		return nil, err
	}
	allowDev, err := thresholdBoolDefault(domain.GateSecurity, thresholds, "allow_dev_dependencies", true)
	if err != nil {
		return nil, err
	}

	var report securityArtifact
	if err := json.Unmarshal(a.Raw, &report); err != nil {
		return nil, fmt.Errorf("decode security artifact: %w", err)
	}

	res := &Result{}
	critical := 0
	total := 0
	excludedDev := 0
	for _, v := range report.Vulnerabilities {
		if v.DevOnly && allowDev {
			excludedDev++
			continue
		}
		total++
		sev := normalizeSeverity(v.Severity)
		if sev == domain.SeverityCritical {
			critical++
		}
		msg := v.Description
		if msg == "" {
			msg = fmt.Sprintf("vulnerability %s", v.ID)
		}
		if v.Package != "" {
			msg = fmt.Sprintf("%s in %s", msg, v.Package)
		}
		res.Issues = append(res.Issues, domain.Issue{Severity: sev, Message: msg, Location: v.Package})
	}

	res.Passed = critical == 0 && (criticalOnly || total == 0)
	res.Metrics = map[string]any{
		"vulnerability_count": total,
		"critical_count":      critical,
		"dev_only_excluded":   excludedDev,
	}
	if res.Passed && total > 0 {
		// Non-critical findings remain worth fixing even when the gate passes.
		res.PassedWithWarnings = true
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("address %d non-critical vulnerabilities", total-critical))
	}
	return res, nil
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case domain.SeverityCritical:
		return domain.SeverityCritical
	case domain.SeverityHigh:
		return domain.SeverityHigh
	case domain.SeverityMedium, "moderate":
		return domain.SeverityMedium
	case domain.SeverityLow, "info":
		return domain.SeverityLow
	}
	return domain.SeverityMedium
}
