// Package seed holds the pre-built rule templates shipped with the engine:
// a handful of specialized and compliance-category starting points that a
// deployment can instantiate rather than author from scratch.
package seed

import "github.com/lancejames221b/playbook-engine/rules"

// Templates returns the built-in template catalog. Callers typically feed
// the result to Store.CreateTemplate once at startup.
func Templates() []*rules.RuleTemplate {
	return []*rules.RuleTemplate{
		rateLimitTemplate,
		piiRedactionTemplate,
		changeFreezeTemplate,
		approvalEscalationTemplate,
		dataResidencyTemplate,
	}
}

var rateLimitTemplate = &rules.RuleTemplate{
	ID:          "tmpl-rate-limit",
	Name:        "Rate limit a target action",
	Description: "Blocks a target when its call count within a window exceeds a threshold.",
	Category:    "specialized",
	Parameters: []rules.TemplateParameter{
		{Name: "target", Type: "string", Required: true},
		{Name: "max_calls", Type: "int", Required: true},
		{Name: "window_seconds", Type: "int", Required: true, DefaultValue: 60},
	},
	TemplateContent: `{
  "name": "rate-limit-${target}",
  "rule_type": "rate_limit",
  "scope": "global",
  "priority": 750,
  "status": "active",
  "conditions": [{"field": "call_count", "operator": "gte", "value": ${max_calls}}],
  "actions": [{"action_type": "block", "target": "${target}",
    "parameters": {"reason": "rate limit exceeded", "window_seconds": ${window_seconds}}}]
}`,
}

var piiRedactionTemplate = &rules.RuleTemplate{
	ID:          "tmpl-pii-redaction",
	Name:        "Redact PII fields before output",
	Description: "Transforms a named field to mask PII before it leaves the system.",
	Category:    "compliance",
	Parameters: []rules.TemplateParameter{
		{Name: "field", Type: "string", Required: true},
	},
	TemplateContent: `{
  "name": "redact-${field}",
  "rule_type": "compliance",
  "scope": "global",
  "priority": 1000,
  "status": "active",
  "conditions": [{"field": "${field}", "operator": "exists"}],
  "actions": [{"action_type": "transform", "target": "${field}",
    "parameters": {"transform": "mask"}}]
}`,
}

var changeFreezeTemplate = &rules.RuleTemplate{
	ID:          "tmpl-change-freeze",
	Name:        "Freeze changes to a target during a window",
	Description: "Blocks a playbook step target while a named freeze is active.",
	Category:    "specialized",
	Parameters: []rules.TemplateParameter{
		{Name: "target", Type: "string", Required: true},
		{Name: "freeze_reason", Type: "string", Required: false, DefaultValue: "scheduled freeze"},
	},
	TemplateContent: `{
  "name": "freeze-${target}",
  "rule_type": "change_control",
  "scope": "project",
  "priority": 1000,
  "status": "active",
  "conditions": [{"field": "target", "operator": "eq", "value": "${target}"}],
  "actions": [{"action_type": "block", "target": "${target}",
    "parameters": {"reason": "${freeze_reason}"}}]
}`,
}

var approvalEscalationTemplate = &rules.RuleTemplate{
	ID:          "tmpl-approval-escalation",
	Name:        "Escalate approval for high-risk targets",
	Description: "Requires validation before a target proceeds when risk exceeds a threshold.",
	Category:    "compliance",
	Parameters: []rules.TemplateParameter{
		{Name: "target", Type: "string", Required: true},
		{Name: "risk_threshold", Type: "float", Required: true, DefaultValue: 0.7},
	},
	TemplateContent: `{
  "name": "escalate-${target}",
  "rule_type": "compliance",
  "scope": "global",
  "priority": 900,
  "status": "active",
  "conditions": [{"field": "risk_score", "operator": "gte", "value": ${risk_threshold}}],
  "actions": [{"action_type": "validate", "target": "${target}",
    "parameters": {"requires_approval": true}}]
}`,
}

var dataResidencyTemplate = &rules.RuleTemplate{
	ID:          "tmpl-data-residency",
	Name:        "Enforce data residency for a region",
	Description: "Blocks a target operation when its region does not match an allowed list.",
	Category:    "compliance",
	Parameters: []rules.TemplateParameter{
		{Name: "target", Type: "string", Required: true},
		{Name: "allowed_region", Type: "string", Required: true},
	},
	TemplateContent: `{
  "name": "residency-${target}",
  "rule_type": "compliance",
  "scope": "global",
  "priority": 1000,
  "status": "active",
  "conditions": [{"field": "region", "operator": "ne", "value": "${allowed_region}"}],
  "actions": [{"action_type": "block", "target": "${target}",
    "parameters": {"reason": "data residency violation"}}]
}`,
}
