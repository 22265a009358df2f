package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"gateline/internal/artifacts"
	"gateline/internal/domain"
	"gateline/internal/engine"
)

func art(gt domain.GateType, raw string) *artifacts.Artifact {
	return &artifacts.Artifact{GateType: gt, Raw: json.RawMessage(raw)}
}

func mustEval(t *testing.T, c engine.Checker, a *artifacts.Artifact, thresholds map[string]any) *engine.Result {
	t.Helper()
	res, err := c.Evaluate(context.Background(), a, thresholds)
	if err != nil {
		t.Fatalf("%s evaluate: %v", c.Type(), err)
	}
	return res
}

func TestLintChecker(t *testing.T) {
	c := engine.LintChecker{}
	thresholds := map[string]any{"fail_on_error": true, "fail_on_warning": false, "max_warnings": 10}

	res := mustEval(t, c, art(domain.GateLint, `{"errors":[],"warnings":[]}`), thresholds)
	if !res.Passed || res.PassedWithWarnings {
		t.Fatalf("clean lint output should pass cleanly")
	}

	// 15 warnings over a max of 10 fails even without errors.
	warnings := `[` +
		`{"message":"w1"},{"message":"w2"},{"message":"w3"},{"message":"w4"},{"message":"w5"},` +
		`{"message":"w6"},{"message":"w7"},{"message":"w8"},{"message":"w9"},{"message":"w10"},` +
		`{"message":"w11"},{"message":"w12"},{"message":"w13"},{"message":"w14"},{"message":"w15"}]`
	res = mustEval(t, c, art(domain.GateLint, `{"errors":[],"warnings":`+warnings+`}`), thresholds)
	if res.Passed {
		t.Fatalf("15 warnings over max_warnings=10 should fail")
	}
	if len(res.Issues) != 15 {
		t.Fatalf("expected one low issue per warning, got %d", len(res.Issues))
	}

	res = mustEval(t, c, art(domain.GateLint, `{"errors":[{"message":"syntax error","location":"a.go:1","rule":"parse"}],"warnings":[]}`), thresholds)
	if res.Passed {
		t.Fatalf("errors should fail the gate")
	}
	if res.Issues[0].Severity != domain.SeverityHigh {
		t.Fatalf("lint errors map to high severity, got %s", res.Issues[0].Severity)
	}

	res = mustEval(t, c, art(domain.GateLint, `{"errors":[],"warnings":[{"message":"shadowed var"}]}`), thresholds)
	if !res.Passed || !res.PassedWithWarnings {
		t.Fatalf("warnings within bound should be a partial pass")
	}

	strict := map[string]any{"fail_on_error": true, "fail_on_warning": true, "max_warnings": 10}
	res = mustEval(t, c, art(domain.GateLint, `{"errors":[],"warnings":[{"message":"shadowed var"}]}`), strict)
	if res.Passed {
		t.Fatalf("fail_on_warning should fail any warning")
	}

	_, err := c.Evaluate(context.Background(), art(domain.GateLint, `{}`), map[string]any{"fail_on_warning": false})
	var ce engine.ConfigError
	if !errors.As(err, &ce) || ce.Key != "max_warnings" {
		t.Fatalf("missing max_warnings should be a config error, got %v", err)
	}
}

func TestCoverageChecker(t *testing.T) {
	c := engine.CoverageChecker{}
	thresholds := map[string]any{"min_percentage": 80}

	res := mustEval(t, c, art(domain.GateCoverage, `{"measured_percentage":82.0}`), thresholds)
	if !res.Passed {
		t.Fatalf("82%% against min 80%% should pass")
	}

	res = mustEval(t, c, art(domain.GateCoverage,
		`{"measured_percentage":61.0,"files":[{"path":"a.go","percentage":90},{"path":"b.go","percentage":20},{"path":"c.go","percentage":45}]}`), thresholds)
	if res.Passed {
		t.Fatalf("61%% against min 80%% should fail")
	}
	if len(res.Issues) != 1 || res.Issues[0].Severity != domain.SeverityMedium {
		t.Fatalf("coverage shortfall reports one medium issue: %+v", res.Issues)
	}
	if len(res.Recommendations) == 0 || res.Recommendations[0] != "add tests for b.go (20.0% covered)" {
		t.Fatalf("least-covered file should lead recommendations: %v", res.Recommendations)
	}

	_, err := c.Evaluate(context.Background(), art(domain.GateCoverage, `{}`), map[string]any{})
	if !engine.IsConfigError(err) {
		t.Fatalf("missing min_percentage should be a config error, got %v", err)
	}
}

func TestSecurityChecker(t *testing.T) {
	c := engine.SecurityChecker{}
	criticalOnly := map[string]any{"critical_only": true}

	res := mustEval(t, c, art(domain.GateSecurity,
		`{"vulnerabilities":[{"id":"CVE-1","severity":"critical","package":"libx"},{"id":"CVE-2","severity":"critical","package":"liby"}]}`), criticalOnly)
	if res.Passed {
		t.Fatalf("critical findings must fail")
	}
	criticals := 0
	for _, issue := range res.Issues {
		if issue.Severity == domain.SeverityCritical {
			criticals++
		}
	}
	if criticals != 2 {
		t.Fatalf("expected 2 critical issues, got %d", criticals)
	}

	res = mustEval(t, c, art(domain.GateSecurity,
		`{"vulnerabilities":[{"id":"CVE-3","severity":"moderate","package":"libz"}]}`), criticalOnly)
	if !res.Passed || !res.PassedWithWarnings {
		t.Fatalf("non-critical findings under critical_only should be a partial pass")
	}
	if res.Issues[0].Severity != domain.SeverityMedium {
		t.Fatalf("moderate normalizes to medium, got %s", res.Issues[0].Severity)
	}

	anyFails := map[string]any{"critical_only": false}
	res = mustEval(t, c, art(domain.GateSecurity,
		`{"vulnerabilities":[{"id":"CVE-4","severity":"low"}]}`), anyFails)
	if res.Passed {
		t.Fatalf("critical_only=false fails on any finding")
	}

	// Dev-only findings are out of scope by default.
	res = mustEval(t, c, art(domain.GateSecurity,
		`{"vulnerabilities":[{"id":"CVE-5","severity":"critical","dev_only":true}]}`), criticalOnly)
	if !res.Passed || len(res.Issues) != 0 {
		t.Fatalf("dev-only findings excluded by default: %+v", res.Issues)
	}
	strictDev := map[string]any{"critical_only": true, "allow_dev_dependencies": false}
	res = mustEval(t, c, art(domain.GateSecurity,
		`{"vulnerabilities":[{"id":"CVE-5","severity":"critical","dev_only":true}]}`), strictDev)
	if res.Passed {
		t.Fatalf("allow_dev_dependencies=false counts dev-only findings")
	}

	_, err := c.Evaluate(context.Background(), art(domain.GateSecurity, `{}`), map[string]any{})
	if !engine.IsConfigError(err) {
		t.Fatalf("missing critical_only should be a config error, got %v", err)
	}
}

func TestPerformanceChecker(t *testing.T) {
	c := engine.PerformanceChecker{}
	thresholds := map[string]any{"max_response_time_ms": 500, "min_throughput_rps": 50}

	res := mustEval(t, c, art(domain.GatePerformance, `{"p95_latency_ms":120,"throughput_rps":220,"sample_count":1000}`), thresholds)
	if !res.Passed {
		t.Fatalf("within both bounds should pass")
	}

	res = mustEval(t, c, art(domain.GatePerformance, `{"p95_latency_ms":900,"throughput_rps":20}`), thresholds)
	if res.Passed {
		t.Fatalf("both bounds breached should fail")
	}
	if len(res.Issues) != 2 {
		t.Fatalf("one issue per breached bound, got %d", len(res.Issues))
	}
	for _, issue := range res.Issues {
		if issue.Severity != domain.SeverityHigh {
			t.Fatalf("performance breaches are high severity, got %s", issue.Severity)
		}
	}

	_, err := c.Evaluate(context.Background(), art(domain.GatePerformance, `{}`), map[string]any{"max_response_time_ms": 500})
	if !engine.IsConfigError(err) {
		t.Fatalf("missing min_throughput_rps should be a config error, got %v", err)
	}
}

func TestContractChecker(t *testing.T) {
	c := engine.ContractChecker{}
	thresholds := map[string]any{"endpoints": map[string]any{
		"get-user": map[string]any{
			"type":     "object",
			"required": []any{"id", "name"},
			"properties": map[string]any{
				"id":   map[string]any{"type": "string"},
				"name": map[string]any{"type": "string"},
			},
		},
	}}

	res := mustEval(t, c, art(domain.GateContract, `{"endpoints":{"get-user":{"id":"u-1","name":"Ada"}}}`), thresholds)
	if !res.Passed {
		t.Fatalf("conforming response should pass: %+v", res.Issues)
	}

	res = mustEval(t, c, art(domain.GateContract, `{"endpoints":{"get-user":{"id":42}}}`), thresholds)
	if res.Passed {
		t.Fatalf("schema violations should fail")
	}
	if len(res.Issues) == 0 {
		t.Fatalf("expected violation issues")
	}
	for _, issue := range res.Issues {
		if issue.Severity != domain.SeverityHigh || issue.Location != "get-user" {
			t.Fatalf("violations are high severity and located at the endpoint: %+v", issue)
		}
	}

	res = mustEval(t, c, art(domain.GateContract, `{"endpoints":{}}`), thresholds)
	if res.Passed || len(res.Issues) != 1 {
		t.Fatalf("missing recorded response should fail with one issue: %+v", res.Issues)
	}

	bad := map[string]any{"endpoints": map[string]any{
		"get-user": map[string]any{"type": "no-such-type"},
	}}
	_, err := c.Evaluate(context.Background(), art(domain.GateContract, `{"endpoints":{}}`), bad)
	if !engine.IsConfigError(err) {
		t.Fatalf("uncompilable schema should be a config error, got %v", err)
	}

	_, err = c.Evaluate(context.Background(), art(domain.GateContract, `{"endpoints":{}}`), map[string]any{})
	if !engine.IsConfigError(err) {
		t.Fatalf("missing endpoints should be a config error, got %v", err)
	}
}

func TestComplexityChecker(t *testing.T) {
	c := engine.ComplexityChecker{}
	thresholds := map[string]any{"max_cyclomatic": 15, "max_cognitive": 20}

	res := mustEval(t, c, art(domain.GateComplexity,
		`{"functions":[{"name":"ok","cyclomatic":5,"cognitive":8}]}`), thresholds)
	if !res.Passed {
		t.Fatalf("within bounds should pass")
	}

	res = mustEval(t, c, art(domain.GateComplexity,
		`{"functions":[{"name":"big","file":"big.go","cyclomatic":22,"cognitive":31},{"name":"ok","cyclomatic":3,"cognitive":4}]}`), thresholds)
	if res.Passed {
		t.Fatalf("over-bound function should fail")
	}
	for _, issue := range res.Issues {
		if issue.Severity != domain.SeverityMedium {
			t.Fatalf("complexity breaches are medium severity, got %s", issue.Severity)
		}
	}

	_, err := c.Evaluate(context.Background(), art(domain.GateComplexity, `{}`), map[string]any{"max_cyclomatic": 15})
	if !engine.IsConfigError(err) {
		t.Fatalf("missing max_cognitive should be a config error, got %v", err)
	}
}

func TestTypeCheckChecker(t *testing.T) {
	c := engine.TypeCheckChecker{}
	relaxed := map[string]any{"strict_mode": false}
	strict := map[string]any{"strict_mode": true}

	res := mustEval(t, c, art(domain.GateTypeCheck, `{"type_errors":[],"implicit_any":[]}`), relaxed)
	if !res.Passed {
		t.Fatalf("clean output should pass")
	}

	res = mustEval(t, c, art(domain.GateTypeCheck, `{"type_errors":[{"message":"mismatch","location":"a.ts:4"}],"implicit_any":[]}`), relaxed)
	if res.Passed {
		t.Fatalf("type errors always fail")
	}

	withAny := `{"type_errors":[],"implicit_any":[{"location":"b.ts:9"}]}`
	res = mustEval(t, c, art(domain.GateTypeCheck, withAny), relaxed)
	if !res.Passed || !res.PassedWithWarnings {
		t.Fatalf("implicit any outside strict_mode is a partial pass")
	}
	res = mustEval(t, c, art(domain.GateTypeCheck, withAny), strict)
	if res.Passed {
		t.Fatalf("implicit any under strict_mode fails")
	}

	_, err := c.Evaluate(context.Background(), art(domain.GateTypeCheck, `{}`), map[string]any{})
	if !engine.IsConfigError(err) {
		t.Fatalf("missing strict_mode should be a config error, got %v", err)
	}
}

func TestCheckersAreDeterministic(t *testing.T) {
	c := engine.SecurityChecker{}
	a := art(domain.GateSecurity,
		`{"vulnerabilities":[{"id":"CVE-1","severity":"high","package":"libx"},{"id":"CVE-2","severity":"low"}]}`)
	thresholds := map[string]any{"critical_only": true}

	first := mustEval(t, c, a, thresholds)
	second := mustEval(t, c, a, thresholds)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical inputs must yield identical results")
	}
}
