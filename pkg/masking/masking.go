// Package masking removes secret material from outbound event payloads.
//
// Task descriptions, agent output, and error messages can carry credentials
// that a user pasted into a prompt or that an agent echoed back from a config
// file. The Redactor rewrites those values before a payload leaves the
// process, so dashboard clients never see the raw secret. Replacements are
// plain tokens without quotes so a redacted JSON document stays valid JSON.
package masking

import (
	"fmt"
	"regexp"
)

// Pattern is a single redaction rule. Expr is applied with
// regexp.ReplaceAllString, so Replacement may reference capture groups
// (for example ${1}) to preserve the key portion of a key/value match.
type Pattern struct {
	Name        string
	Expr        string
	Replacement string
}

type compiledPattern struct {
	name        string
	re          *regexp.Regexp
	replacement string
}

// builtinPatterns run in order: patterns with distinctive prefixes first,
// generic key/value forms last so a specific match is not half-eaten by a
// broader one. Value character classes stop at quotes, whitespace, and
// backslashes so a match never crosses a JSON string boundary.
var builtinPatterns = []Pattern{
	{
		Name:        "anthropic_key",
		Expr:        `\bsk-ant-[A-Za-z0-9_\-]{8,}`,
		Replacement: "__MASKED_ANTHROPIC_KEY__",
	},
	{
		Name:        "aws_access_key",
		Expr:        `\bAKIA[A-Z0-9]{16}\b`,
		Replacement: "__MASKED_AWS_ACCESS_KEY__",
	},
	{
		Name:        "github_token",
		Expr:        `\bgh[pousr]_[A-Za-z0-9]{36,}\b`,
		Replacement: "__MASKED_GITHUB_TOKEN__",
	},
	{
		Name:        "slack_token",
		Expr:        `\bxox[baprs]-[A-Za-z0-9\-]{10,}\b`,
		Replacement: "__MASKED_SLACK_TOKEN__",
	},
	{
		Name:        "certificate",
		Expr:        `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
		Replacement: "__MASKED_CERTIFICATE__",
	},
	{
		Name:        "ssh_key",
		Expr:        `\bssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]{16,}`,
		Replacement: "__MASKED_SSH_KEY__",
	},
	{
		Name:        "api_key",
		Expr:        `(?i)((?:api[_-]?key|apikey)\\?["']?\s*[:=]\s*\\?["']?)[A-Za-z0-9_\-]{16,}`,
		Replacement: "${1}__MASKED_API_KEY__",
	},
	{
		Name:        "secret_key",
		Expr:        `(?i)((?:secret[_-]?key|private[_-]?key|aws[_-]?secret)\\?["']?\s*[:=]\s*\\?["']?)[A-Za-z0-9/+_\-]{16,}`,
		Replacement: "${1}__MASKED_SECRET_KEY__",
	},
	{
		Name:        "token",
		Expr:        `(?i)((?:access[_-]?token|auth[_-]?token|bearer|token)\\?["']?\s*[:=]\s*\\?["']?)[A-Za-z0-9_\-\.]{16,}`,
		Replacement: "${1}__MASKED_TOKEN__",
	},
	{
		Name:        "password",
		Expr:        `(?i)((?:password|passwd|pwd)\\?["']?\s*[:=]\s*\\?["']?)[^"'\s\\]{6,}`,
		Replacement: "${1}__MASKED_PASSWORD__",
	},
}

// Redactor applies an ordered set of compiled patterns to text.
// It is immutable after construction and safe for concurrent use.
type Redactor struct {
	patterns []compiledPattern
}

// NewRedactor compiles the builtin patterns plus any custom ones.
// Custom patterns run after the builtins.
func NewRedactor(custom ...Pattern) (*Redactor, error) {
	all := make([]Pattern, 0, len(builtinPatterns)+len(custom))
	all = append(all, builtinPatterns...)
	all = append(all, custom...)

	compiled := make([]compiledPattern, 0, len(all))
	for _, p := range all {
		re, err := regexp.Compile(p.Expr)
		if err != nil {
			return nil, fmt.Errorf("compile masking pattern %q: %w", p.Name, err)
		}
		compiled = append(compiled, compiledPattern{
			name:        p.Name,
			re:          re,
			replacement: p.Replacement,
		})
	}
	return &Redactor{patterns: compiled}, nil
}

// Redact returns s with every pattern match replaced.
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.re.ReplaceAllString(s, p.replacement)
	}
	return s
}

// RedactBytes is Redact for a byte payload. It returns the input slice
// unchanged when nothing matched.
func (r *Redactor) RedactBytes(b []byte) []byte {
	masked := r.Redact(string(b))
	if masked == string(b) {
		return b
	}
	return []byte(masked)
}

// PatternCount reports how many patterns the redactor applies.
func (r *Redactor) PatternCount() int {
	return len(r.patterns)
}
