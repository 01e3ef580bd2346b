package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// expandEnv expands environment variables in YAML content using Go template
// syntax ({{.VAR_NAME}}) rather than $VAR, so literal $ survives untouched in
// regex masking patterns and passwords.
//
// Examples:
//   - {{.LLM_API_KEY}} → value of LLM_API_KEY
//   - channel: "{{.SLACK_CHANNEL}}" → expanded channel name
//   - keyword: "^deploy.*$" → preserved literally
//
// Missing variables expand to empty string; validation catches required
// fields left empty. Malformed templates pass the content through unchanged
// so plain YAML never breaks on a stray brace.
func expandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
