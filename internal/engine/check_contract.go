package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"gateline/internal/artifacts"
	"gateline/internal/domain"
)

// ContractChecker validates recorded endpoint responses against the JSON
// Schemas declared in threshold_config. Every schema violation is reported
// as a high-severity issue.
type ContractChecker struct{}

type contractArtifact struct {
	Endpoints map[string]json.RawMessage `json:"endpoints"`
}

func (ContractChecker) Type() domain.GateType { return domain.GateContract }

func (ContractChecker) Evaluate(ctx context.Context, a *artifacts.Artifact, thresholds map[string]any) (*Result, error) {
	endpoints, err := thresholdMap(domain.GateContract, thresholds, "endpoints")
	if err != nil {
		return nil, err
	}

	var report contractArtifact
	if err := json.Unmarshal(a.Raw, &report); err != nil {
		return nil, fmt.Errorf("decode contract artifact: %w", err)
	}

	res := &Result{Metrics: map[string]any{"endpoint_count": len(endpoints)}}

	// Deterministic issue ordering regardless of map iteration.
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		schema, err := compileEndpointSchema(name, endpoints[name])
		if err != nil {
			return nil, err
		}
		raw, ok := report.Endpoints[name]
		if !ok {
			res.Issues = append(res.Issues, domain.Issue{
				Severity: domain.SeverityHigh,
				Message:  "no recorded response for endpoint",
				Location: name,
			})
			continue
		}
		var sample any
		if err := json.Unmarshal(raw, &sample); err != nil {
			return nil, fmt.Errorf("decode recorded response for %s: %w", name, err)
		}
		if err := schema.Validate(sample); err != nil {
			for _, msg := range flattenValidationError(err) {
				res.Issues = append(res.Issues, domain.Issue{
					Severity: domain.SeverityHigh,
					Message:  msg,
					Location: name,
				})
			}
		}
	}

	res.Passed = len(res.Issues) == 0
	res.Metrics["violation_count"] = len(res.Issues)
	return res, nil
}

func compileEndpointSchema(name string, decl any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(decl)
	if err != nil {
		return nil, ConfigError{GateType: domain.GateContract, Key: "endpoints", Reason: fmt.Sprintf("endpoint %s: %v", name, err)}
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("gateline:///contract/%s.schema.json", strings.ReplaceAll(name, " ", "_"))
	if err := c.AddResource(url, strings.NewReader(string(data))); err != nil {
		return nil, ConfigError{GateType: domain.GateContract, Key: "endpoints", Reason: fmt.Sprintf("endpoint %s: %v", name, err)}
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, ConfigError{GateType: domain.GateContract, Key: "endpoints", Reason: fmt.Sprintf("endpoint %s: %v", name, err)}
	}
	return schema, nil
}

// flattenValidationError returns one message per leaf cause.
func flattenValidationError(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	var walk func(v *jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			loc := v.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("%s: %s", loc, v.Message))
			return
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return out
}
