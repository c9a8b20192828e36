package observability

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

var metricName = regexp.MustCompile(`privadome_[a-z_]+`)

// exported lists the series the API and worker register.
var exported = map[string]bool{
	"privadome_http_requests_total":                 true,
	"privadome_http_request_duration_seconds_bucket": true,
	"privadome_core_forward_total":                  true,
	"privadome_core_forward_duration_seconds_bucket": true,
	"privadome_core_up":                             true,
	"privadome_jobs_total":                          true,
	"privadome_jobs_failures_total":                 true,
}

func TestCoreAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "core.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read alert file: %v", err)
	}

	var spec alertSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("failed to unmarshal alert file: %v", err)
	}

	var coreGroup *alertGroup
	for i := range spec.Groups {
		if spec.Groups[i].Name == "core" {
			coreGroup = &spec.Groups[i]
			break
		}
	}
	if coreGroup == nil {
		t.Fatal("core alert group missing")
	}

	expected := map[string]struct {
		severity string
		runbook  string
	}{
		"CoreUnreachable":   {severity: "critical", runbook: "docs/runbook-core.md#core-unreachable"},
		"CoreForwardErrors": {severity: "warning", runbook: "docs/runbook-core.md#forward-errors"},
		"HighErrorRate":     {severity: "critical", runbook: "docs/runbook-core.md#high-error-rate"},
		"HighLatency":       {severity: "warning", runbook: "docs/runbook-core.md#high-latency"},
	}

	if len(coreGroup.Rules) != len(expected) {
		t.Fatalf("expected %d rules, got %d", len(expected), len(coreGroup.Rules))
	}

	for _, rule := range coreGroup.Rules {
		want, ok := expected[rule.Alert]
		if !ok {
			t.Fatalf("unexpected rule %q", rule.Alert)
		}
		if rule.Labels["severity"] != want.severity {
			t.Fatalf("rule %s severity mismatch: %s", rule.Alert, rule.Labels["severity"])
		}
		if rule.Annotations["runbook"] != want.runbook {
			t.Fatalf("rule %s runbook mismatch: %s", rule.Alert, rule.Annotations["runbook"])
		}
		if rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" {
			t.Fatalf("rule %s must include summary and description annotations", rule.Alert)
		}
		if rule.For == "" {
			t.Fatalf("rule %s must define a hold duration", rule.Alert)
		}
		names := metricName.FindAllString(rule.Expr, -1)
		if len(names) == 0 {
			t.Fatalf("rule %s must reference a privadome metric", rule.Alert)
		}
		for _, name := range names {
			if !exported[name] {
				t.Fatalf("rule %s references unknown metric %s", rule.Alert, name)
			}
		}
	}
}
