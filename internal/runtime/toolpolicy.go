package runtime

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/paolomoz/nova/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"gopkg.in/yaml.v3"
)

// ToolRule overrides policy for one tool.
type ToolRule struct {
	Enabled    *bool    `yaml:"enabled"`
	Timeout    string   `yaml:"timeout"`
	AllowHosts []string `yaml:"allow_hosts"`
}

// ToolPolicy governs which tools may run, for how long, and which hosts
// network-touching tools may reach.
type ToolPolicy struct {
	DefaultTimeout time.Duration
	Rules          map[string]ToolRule
}

type toolPolicyFile struct {
	Tools struct {
		DefaultTimeout string              `yaml:"default_timeout"`
		Rules          map[string]ToolRule `yaml:"rules"`
	} `yaml:"tools"`
}

// DefaultToolPolicy enables every tool with the given timeout.
func DefaultToolPolicy(timeout time.Duration) *ToolPolicy {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ToolPolicy{DefaultTimeout: timeout, Rules: map[string]ToolRule{}}
}

// LoadToolPolicy reads the policy from config.Security.ToolPolicyFile. With no
// file configured every tool is enabled under the default timeout.
func LoadToolPolicy(cfg *config.Config) (*ToolPolicy, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	policy := DefaultToolPolicy(cfg.Security.DefaultToolTimeout)
	path := strings.TrimSpace(cfg.Security.ToolPolicyFile)
	if path == "" {
		return policy, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool policy: %w", err)
	}
	return ParseToolPolicy(data, policy.DefaultTimeout)
}

// ParseToolPolicy decodes a YAML policy document.
func ParseToolPolicy(data []byte, fallbackTimeout time.Duration) (*ToolPolicy, error) {
	var doc toolPolicyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tool policy: %w", err)
	}
	policy := DefaultToolPolicy(fallbackTimeout)
	if doc.Tools.DefaultTimeout != "" {
		d, err := time.ParseDuration(doc.Tools.DefaultTimeout)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("tools.default_timeout %q invalid", doc.Tools.DefaultTimeout)
		}
		policy.DefaultTimeout = d
	}
	for name, rule := range doc.Tools.Rules {
		if rule.Timeout != "" {
			if d, err := time.ParseDuration(rule.Timeout); err != nil || d <= 0 {
				return nil, fmt.Errorf("tools.rules.%s.timeout %q invalid", name, rule.Timeout)
			}
		}
		policy.Rules[strings.TrimSpace(name)] = rule
	}
	return policy, nil
}

// Enabled reports whether the tool may run.
func (p *ToolPolicy) Enabled(tool string) bool {
	if p == nil {
		return true
	}
	rule, ok := p.Rules[tool]
	if !ok || rule.Enabled == nil {
		return true
	}
	return *rule.Enabled
}

// Timeout returns the execution budget for the tool.
func (p *ToolPolicy) Timeout(tool string) time.Duration {
	if p == nil {
		return 0
	}
	if rule, ok := p.Rules[tool]; ok && rule.Timeout != "" {
		if d, err := time.ParseDuration(rule.Timeout); err == nil {
			return d
		}
	}
	return p.DefaultTimeout
}

// AllowHosts returns the host allowlist for the tool (empty admits all).
func (p *ToolPolicy) AllowHosts(tool string) []string {
	if p == nil {
		return nil
	}
	return p.Rules[tool].AllowHosts
}

var (
	policyMetricsOnce sync.Once
	policyDenials     otelmetric.Int64Counter
)

func initPolicyMetrics() {
	meter := otel.Meter("nova/runtime/toolpolicy")
	var err error
	policyDenials, err = meter.Int64Counter(
		"tool_policy_denials_total",
		otelmetric.WithDescription("Tool executions refused by policy"),
	)
	if err != nil {
		log.Printf("tool policy metrics init: denials counter: %v", err)
	}
}

// RecordDenial counts a refused tool execution.
func RecordDenial(ctx context.Context, tool, reason string) {
	policyMetricsOnce.Do(initPolicyMetrics)
	if policyDenials == nil {
		return
	}
	policyDenials.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("reason", reason),
	))
}
