package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RenderTemplate validates the supplied parameter values against the
// template's declarations and substitutes them into TemplateContent,
// returning the rendered rule body as a JSON string (the caller unmarshals
// it into a Rule). Placeholders use the same ${name} syntax as the
// interpolation package.
func RenderTemplate(t *RuleTemplate, values map[string]interface{}) (string, []ValidationResult, error) {
	var results []ValidationResult
	resolved := make(map[string]interface{}, len(t.Parameters))

	for _, p := range t.Parameters {
		v, ok := values[p.Name]
		if !ok {
			if p.DefaultValue != nil {
				v = p.DefaultValue
				ok = true
			} else if p.Required {
				results = append(results, ValidationResult{
					Level: LevelError, Category: CategorySyntax,
					Message: fmt.Sprintf("missing required parameter %q", p.Name),
				})
				continue
			}
		}
		if ok {
			if vr := validateParam(p, v); vr != nil {
				results = append(results, *vr)
				continue
			}
			resolved[p.Name] = v
		}
	}

	for _, vr := range results {
		if vr.Level == LevelError {
			return "", results, fmt.Errorf("rules: template %s: %s", t.ID, vr.Message)
		}
	}

	content := t.TemplateContent
	for name, v := range resolved {
		content = strings.ReplaceAll(content, "${"+name+"}", fmt.Sprintf("%v", v))
	}
	return content, results, nil
}

func validateParam(p TemplateParameter, v interface{}) *ValidationResult {
	if len(p.AllowedValues) > 0 {
		found := false
		for _, allowed := range p.AllowedValues {
			if fmt.Sprintf("%v", allowed) == fmt.Sprintf("%v", v) {
				found = true
				break
			}
		}
		if !found {
			return &ValidationResult{Level: LevelError, Category: CategorySyntax,
				Message: fmt.Sprintf("parameter %q value %v not in allowed_values", p.Name, v)}
		}
	}
	switch p.Type {
	case "int", "integer":
		if _, err := strconv.Atoi(fmt.Sprintf("%v", v)); err != nil {
			return &ValidationResult{Level: LevelError, Category: CategorySyntax,
				Message: fmt.Sprintf("parameter %q expects an integer, got %v", p.Name, v)}
		}
	case "float", "number":
		if _, err := strconv.ParseFloat(fmt.Sprintf("%v", v), 64); err != nil {
			return &ValidationResult{Level: LevelError, Category: CategorySyntax,
				Message: fmt.Sprintf("parameter %q expects a number, got %v", p.Name, v)}
		}
	case "bool", "boolean":
		if _, err := strconv.ParseBool(fmt.Sprintf("%v", v)); err != nil {
			return &ValidationResult{Level: LevelError, Category: CategorySyntax,
				Message: fmt.Sprintf("parameter %q expects a boolean, got %v", p.Name, v)}
		}
	}
	if p.ValidationPattern != "" {
		re, err := regexp.Compile(p.ValidationPattern)
		if err == nil && !re.MatchString(fmt.Sprintf("%v", v)) {
			return &ValidationResult{Level: LevelError, Category: CategorySyntax,
				Message: fmt.Sprintf("parameter %q value %v does not match pattern %s", p.Name, v, p.ValidationPattern)}
		}
	}
	return nil
}
