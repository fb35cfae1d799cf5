// ABOUTME: Resource URI template expansion with named path segments.
// ABOUTME: Templates look like history/{conversation_id}; missing params fail validation.

package mcp

import (
	"regexp"
	"strings"
)

var templateParamPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// ExpandTemplate substitutes named parameters into a resource URI template.
// Every placeholder must be present in params with a non-empty value;
// a missing or empty parameter yields a *ValidationError.
func ExpandTemplate(template string, params map[string]string) (string, error) {
	var missing string
	expanded := templateParamPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := strings.Trim(m, "{}")
		value, ok := params[name]
		if !ok || value == "" {
			if missing == "" {
				missing = name
			}
			return m
		}
		return value
	})
	if missing != "" {
		return "", &ValidationError{Field: missing, Reason: "required URI parameter missing"}
	}
	return expanded, nil
}

// TemplateParams lists the named parameters a template declares, in order.
func TemplateParams(template string) []string {
	matches := templateParamPattern.FindAllStringSubmatch(template, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}
