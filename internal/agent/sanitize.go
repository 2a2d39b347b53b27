// Package agent runs the per-bot message cycle: sanitization, memory,
// routing, the provider tool loop, and session compaction.
package agent

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// secretPattern redacts one class of credential. Replacements are stable
// placeholders, so running the sanitizer twice changes nothing.
type secretPattern struct {
	kind string
	re   *regexp.Regexp
}

var secretPatterns = []secretPattern{
	{"openai_key", regexp.MustCompile(`\bsk-(?:proj-)?[A-Za-z0-9_-]{20,}\b`)},
	{"anthropic_key", regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{20,}\b`)},
	{"github_token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"slack_token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`)},
	{"telegram_token", regexp.MustCompile(`\b\d{8,10}:[A-Za-z0-9_-]{35}\b`)},
	{"private_key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----(?s:.*?)-----END [A-Z ]*PRIVATE KEY-----`)},
	{"bearer_token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{20,}=*`)},
	{"password_assignment", regexp.MustCompile(`(?i)\b(password|passwd|pwd)\s*[=:]\s*[^\s\[]\S{5,}`)},
	{"generic_api_key", regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?token|secret[_-]?key)\s*[=:]\s*["']?[A-Za-z0-9_-]{16,}["']?`)},
}

// SanitizeSecrets redacts credentials from text and returns the kinds it
// found. Idempotent: sanitizing already-sanitized text is a no-op.
func SanitizeSecrets(text string) (string, []string) {
	var kinds []string
	for _, p := range secretPatterns {
		if !p.re.MatchString(text) {
			continue
		}
		kinds = append(kinds, p.kind)
		placeholder := fmt.Sprintf("[REDACTED:%s]", p.kind)
		text = p.re.ReplaceAllStringFunc(text, func(m string) string {
			switch p.kind {
			case "password_assignment", "generic_api_key":
				// Keep the key name, redact only the value.
				if idx := strings.IndexAny(m, "=:"); idx >= 0 {
					return m[:idx+1] + " " + placeholder
				}
			}
			return placeholder
		})
	}
	if len(kinds) > 0 {
		slog.Warn("agent: redacted secrets from message", "kinds", kinds)
	}
	return text, kinds
}

// SanitizeResponse cleans assistant output before it reaches the session
// or the user: garbled tool-call XML, thinking tags, echoed system
// blocks, and consecutive duplicate paragraphs.
func SanitizeResponse(content string) string {
	if content == "" {
		return content
	}
	original := content

	content = stripToolCallXML(content)
	content = stripThinkingTags(content)
	content = stripEchoedSystemBlocks(content)
	content = collapseDuplicateBlocks(content)
	content = strings.TrimSpace(content)

	if content != original {
		slog.Debug("agent: sanitized response", "original_len", len(original), "cleaned_len", len(content))
	}
	return content
}

// Some models emit tool calls as literal XML in the text channel instead
// of structured tool_calls.
var toolXMLRe = regexp.MustCompile(`(?s)</?(?:function_call|tool_call|tool_use|invoke|parameter)[^>]*>`)

func stripToolCallXML(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<tool_") && !strings.Contains(lower, "<function_call") &&
		!strings.Contains(lower, "<invoke") && !strings.Contains(lower, "<parameter") {
		return content
	}
	return strings.TrimSpace(toolXMLRe.ReplaceAllString(content, ""))
}

var thinkingTagRes = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	for _, re := range thinkingTagRes {
		content = re.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(content)
}

// stripEchoedSystemBlocks drops "[System Message]" blocks the model
// echoed back. A block runs until the next blank line.
func stripEchoedSystemBlocks(content string) string {
	if !strings.Contains(content, "[System Message]") {
		return content
	}
	var kept []string
	skipping := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[System Message]") {
			skipping = true
			continue
		}
		if skipping {
			if trimmed == "" {
				skipping = false
			}
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func collapseDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}
	var kept []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(kept) > 0 && trimmed == strings.TrimSpace(kept[len(kept)-1]) {
			continue
		}
		kept = append(kept, block)
	}
	return strings.Join(kept, "\n\n")
}
