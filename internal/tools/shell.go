package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ExecTool runs shell commands with a timeout and a denylist of commands
// that are never executed regardless of arguments.
type ExecTool struct {
	workdir string
	timeout time.Duration
}

func NewExecTool(workdir string, timeoutSeconds int) *ExecTool {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &ExecTool{workdir: workdir, timeout: time.Duration(timeoutSeconds) * time.Second}
}

// deniedCommands are rejected as the first token of any pipeline segment.
var deniedCommands = map[string]bool{
	"rm":       true,
	"rmdir":    true,
	"mkfs":     true,
	"dd":       true,
	"shutdown": true,
	"reboot":   true,
	"halt":     true,
	"poweroff": true,
	"sudo":     true,
	"su":       true,
	"chown":    true,
	"kill":     true,
	"killall":  true,
	"pkill":    true,
}

func (t *ExecTool) Name() string { return "exec" }
func (t *ExecTool) Description() string {
	return "Run a shell command in the workspace and return its output."
}
func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{"type": "string", "description": "Shell command to run"},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	command := strings.TrimSpace(stringArg(args, "command"))
	if command == "" {
		return ErrorResult("empty command"), nil
	}
	if blocked := firstDeniedCommand(command); blocked != "" {
		return ErrorResult(fmt.Sprintf("command %q is not allowed", blocked)), nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.workdir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := strings.TrimSpace(out.String())
	if len(output) > maxReadBytes {
		output = output[:maxReadBytes] + "\n[truncated]"
	}

	if ctx.Err() == context.DeadlineExceeded {
		return ErrorResult(fmt.Sprintf("command timed out after %s\n%s", t.timeout, output)), nil
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("command failed: %v\n%s", err, output)), nil
	}
	if output == "" {
		output = "(no output)"
	}
	return NewResult(output), nil
}

// firstDeniedCommand scans each pipeline/sequence segment for a denied
// leading command.
func firstDeniedCommand(command string) string {
	segments := strings.FieldsFunc(command, func(r rune) bool {
		return r == '|' || r == ';' || r == '&' || r == '\n'
	})
	for _, seg := range segments {
		fields := strings.Fields(seg)
		if len(fields) == 0 {
			continue
		}
		head := fields[0]
		// Skip env assignments like FOO=bar cmd.
		for len(fields) > 1 && strings.Contains(head, "=") {
			fields = fields[1:]
			head = fields[0]
		}
		if deniedCommands[head] {
			return head
		}
	}
	return ""
}
