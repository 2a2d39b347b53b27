package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/nanoroom/internal/skills"
)

// ScanSkillTool scans an installed skill by name.
type ScanSkillTool struct {
	loader *skills.Loader
}

func NewScanSkillTool(loader *skills.Loader) *ScanSkillTool {
	return &ScanSkillTool{loader: loader}
}

func (t *ScanSkillTool) Name() string { return "scan_skill" }
func (t *ScanSkillTool) Description() string {
	return "Run the security scanner over an installed skill and report findings."
}
func (t *ScanSkillTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string", "description": "Installed skill name"},
		},
		"required": []string{"name"},
	}
}

func (t *ScanSkillTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	name := stringArg(args, "name")
	skill, ok := t.loader.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("no installed skill named %q", name)), nil
	}

	findings := skills.Scan(skill.Content)
	report := skills.Report(findings)
	if skills.HasCritical(findings) {
		return ErrorResult(fmt.Sprintf("skill %q is BLOCKED:\n%s", name, report)), nil
	}
	if len(findings) > 0 {
		return NewResult(fmt.Sprintf("skill %q has warnings:\n%s", name, report)), nil
	}
	return NewResult(fmt.Sprintf("skill %q is clean", name)), nil
}

// ValidateSkillSafetyTool scans arbitrary skill content before install.
type ValidateSkillSafetyTool struct{}

func NewValidateSkillSafetyTool() *ValidateSkillSafetyTool { return &ValidateSkillSafetyTool{} }

func (t *ValidateSkillSafetyTool) Name() string { return "validate_skill_safety" }
func (t *ValidateSkillSafetyTool) Description() string {
	return "Scan skill content for dangerous instructions before installing it."
}
func (t *ValidateSkillSafetyTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{"type": "string", "description": "Skill content to scan"},
		},
		"required": []string{"content"},
	}
}

func (t *ValidateSkillSafetyTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	findings := skills.Scan(stringArg(args, "content"))
	report := skills.Report(findings)
	if skills.HasCritical(findings) {
		return ErrorResult("UNSAFE, do not install:\n" + report), nil
	}
	if len(findings) > 0 {
		return NewResult("safe with warnings:\n" + report), nil
	}
	return NewResult("safe to install"), nil
}
