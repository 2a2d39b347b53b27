package skills

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity levels for scan findings.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Finding is one flagged pattern in a skill document.
type Finding struct {
	Severity string
	Rule     string
	Detail   string
	Line     int
}

type scanRule struct {
	name     string
	severity string
	detail   string
	re       *regexp.Regexp
}

// scanRules flag instructions that would make a bot execute untrusted
// code or leak data. A critical finding blocks the skill entirely.
var scanRules = []scanRule{
	{"pipe-to-shell", SeverityCritical, "downloads and executes remote code",
		regexp.MustCompile(`(?i)(curl|wget)\b[^\n|]*\|\s*(ba|z|da)?sh\b`)},
	{"base64-exec", SeverityCritical, "decodes and executes hidden payload",
		regexp.MustCompile(`(?i)base64\s+(-d|--decode)[^\n]*\|\s*\S*sh\b|echo\s+[A-Za-z0-9+/=]{40,}\s*\|\s*base64`)},
	{"destructive-rm", SeverityCritical, "recursive delete of broad paths",
		regexp.MustCompile(`(?i)rm\s+-[a-z]*r[a-z]*f?[a-z]*\s+(/|~|\$HOME|\*)`)},
	{"credential-read", SeverityCritical, "reads credential files",
		regexp.MustCompile(`(?i)(\.ssh/id_|\.aws/credentials|\.netrc|/etc/shadow)`)},
	{"env-exfiltration", SeverityCritical, "sends environment variables to a remote host",
		regexp.MustCompile(`(?i)(env|printenv|set)\b[^\n]*\|\s*(curl|wget|nc)\b`)},
	{"reverse-shell", SeverityCritical, "opens a reverse shell",
		regexp.MustCompile(`(?i)(nc|ncat|netcat)\s+[^\n]*-e\s+\S*sh|/dev/tcp/`)},
	{"prompt-override", SeverityWarning, "instructs the model to ignore its system prompt",
		regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|rules)`)},
	{"secret-solicitation", SeverityWarning, "asks for API keys or passwords",
		regexp.MustCompile(`(?i)(send|paste|share|reveal)\s[^\n]*\b(api[\s_-]?key|password|token|secret)s?\b`)},
	{"hidden-instruction", SeverityWarning, "contains an HTML-comment hidden instruction",
		regexp.MustCompile(`(?i)<!--[^>]*(execute|run|ignore|system)[^>]*-->`)},
}

// Scan checks content against the rule set and returns all findings.
func Scan(content string) []Finding {
	var findings []Finding
	lines := strings.Split(content, "\n")
	for _, rule := range scanRules {
		for i, line := range lines {
			if rule.re.MatchString(line) {
				findings = append(findings, Finding{
					Severity: rule.severity,
					Rule:     rule.name,
					Detail:   rule.detail,
					Line:     i + 1,
				})
				break // one finding per rule is enough
			}
		}
	}
	return findings
}

// HasCritical reports whether any finding blocks use of the skill.
func HasCritical(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Report renders findings as a human-readable block.
func Report(findings []Finding) string {
	if len(findings) == 0 {
		return "no issues found"
	}
	var b strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&b, "[%s] %s (line %d): %s\n", f.Severity, f.Rule, f.Line, f.Detail)
	}
	return strings.TrimSpace(b.String())
}
