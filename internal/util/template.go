package util

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// RenderPrompt expands {{.key}} markers in a room prompt from vars. Text
// without markers is returned untouched; a missing key renders as empty.
func RenderPrompt(text string, vars map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New("prompt").Option("missingkey=zero").Funcs(template.FuncMap{
		"default": func(defaultVal any, val any) any {
			if val == nil || val == "" {
				return defaultVal
			}
			return val
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"join": func(sep string, items []string) string {
			return strings.Join(items, sep)
		},
	}).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse prompt: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}
