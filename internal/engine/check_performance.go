package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"gateline/internal/artifacts"
	"gateline/internal/domain"
)

// PerformanceChecker compares recorded load-test results to latency and
// throughput bounds.
type PerformanceChecker struct{}

type performanceArtifact struct {
	P95LatencyMs  float64 `json:"p95_latency_ms"`
	ThroughputRPS float64 `json:"throughput_rps"`
	SampleCount   int     `json:"sample_count,omitempty"`
}

func (PerformanceChecker) Type() domain.GateType { return domain.GatePerformance }

func (PerformanceChecker) Evaluate(ctx context.Context, a *artifacts.Artifact, thresholds map[string]any) (*Result, error) {
	maxLatency, err := thresholdNumber(domain.GatePerformance, thresholds, "max_response_time_ms")
	if err != nil {
		return nil, err
	}
	minThroughput, err := thresholdNumber(domain.GatePerformance, thresholds, "min_throughput_rps")
	if err != nil {
		return nil, err
	}

	var report performanceArtifact
	if err := json.Unmarshal(a.Raw, &report); err != nil {
		return nil, fmt.Errorf("decode performance artifact: %w", err)
	}

	res := &Result{
		Metrics: map[string]any{
			"p95_latency_ms":       report.P95LatencyMs,
			"throughput_rps":       report.ThroughputRPS,
			"max_response_time_ms": maxLatency,
			"min_throughput_rps":   minThroughput,
		},
	}
	if report.P95LatencyMs > maxLatency {
		res.Issues = append(res.Issues, domain.Issue{
			Severity: domain.SeverityHigh,
			Message:  fmt.Sprintf("p95 latency %.0fms exceeds the %.0fms bound", report.P95LatencyMs, maxLatency),
		})
	}
	if report.ThroughputRPS < minThroughput {
		res.Issues = append(res.Issues, domain.Issue{
			Severity: domain.SeverityHigh,
			Message:  fmt.Sprintf("throughput %.1f rps is below the required %.1f rps", report.ThroughputRPS, minThroughput),
		})
	}
	res.Passed = len(res.Issues) == 0
	return res, nil
}
