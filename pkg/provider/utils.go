package provider

import (
	"encoding/json"
	"strings"

	"github.com/devflow-ai/devflow/pkg/models"
)

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildMessages assembles a chat message list from an optional system prompt
// and a user prompt.
func BuildMessages(systemPrompt, userPrompt string) []Message {
	msgs := make([]Message, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: userPrompt})
	return msgs
}

// CodeBlock is one fenced code block extracted from model output.
type CodeBlock struct {
	Language string `json:"language,omitempty"`
	Content  string `json:"content"`
}

// ExtractCodeBlocks returns every triple-backtick fenced block in text, in
// order of appearance. The fence's info string becomes the block language.
func ExtractCodeBlocks(text string) []CodeBlock {
	var blocks []CodeBlock
	rest := text
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			return blocks
		}
		rest = rest[start+3:]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return blocks
		}
		lang := strings.TrimSpace(rest[:nl])
		rest = rest[nl+1:]
		end := strings.Index(rest, "```")
		if end < 0 {
			return blocks
		}
		blocks = append(blocks, CodeBlock{
			Language: lang,
			Content:  strings.TrimRight(rest[:end], "\n"),
		})
		rest = rest[end+3:]
	}
}

// ExtractJSON unmarshals the JSON object a model embedded in text. It prefers
// a ```json fenced block, then any fenced block, then the raw text. Models
// often wrap structured answers in markdown fences even when told not to.
func ExtractJSON(text string, v any) error {
	var candidates []string
	blocks := ExtractCodeBlocks(text)
	for _, b := range blocks {
		if strings.EqualFold(b.Language, "json") {
			candidates = append(candidates, b.Content)
		}
	}
	for _, b := range blocks {
		if !strings.EqualFold(b.Language, "json") {
			candidates = append(candidates, b.Content)
		}
	}
	candidates = append(candidates, strings.TrimSpace(text))

	var lastErr error
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c), v); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		return models.E(models.ErrorValidation, "no JSON content found")
	}
	return models.WrapError(models.ErrorValidation, lastErr, "response is not valid JSON")
}
