package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go template
// syntax: {{.ANTHROPIC_API_KEY}} becomes the value of ANTHROPIC_API_KEY.
// The template form is used instead of $VAR so that literal $ characters in
// passwords, URLs, and shell snippets survive untouched.
//
// Missing variables expand to the empty string; validation catches required
// fields left empty. Content that fails to parse or execute as a template is
// returned unchanged so plain YAML always passes through.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok && key != "" {
			envMap[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}

	return buf.Bytes()
}
