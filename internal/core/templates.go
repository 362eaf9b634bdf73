package core

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// Body kinds rendered by the TemplateManager.
const (
	BodyPlan       = "plan"
	BodyFileReview = "file_review"
)

// TemplateManager renders the markdown bodies of generated task records.
type TemplateManager interface {
	Render(kind string, data BodyData) (string, error)
	RegisterTemplate(kind string, templatePath string) error
}

// BodyData holds the values available to body templates.
type BodyData struct {
	Title          string
	SourceFile     string
	SourcePath     string
	Excerpt        string
	Truncated      bool
	TaskType       string
	Priority       string
	Effort         string
	Steps          []PlanStep
	Risks          []PlanRisk
	CreatedAt      string
	SourceSize     int64
	SourceModified string
}

// PlanStep is one numbered step of a plan with its subtasks.
type PlanStep struct {
	Title    string
	Subtasks []string
}

// PlanRisk is a risk with its mitigation.
type PlanRisk struct {
	Risk       string
	Detail     string
	Mitigation string
}

// templateManager implements TemplateManager with built-in defaults and
// optional per-kind overrides read from disk.
type templateManager struct {
	basePath        string
	customTemplates map[string]string
}

// NewTemplateManager creates a TemplateManager resolving relative override
// paths against basePath.
func NewTemplateManager(basePath string) TemplateManager {
	return &templateManager{
		basePath:        basePath,
		customTemplates: make(map[string]string),
	}
}

// RegisterTemplate overrides the built-in template for kind with a file.
func (tm *templateManager) RegisterTemplate(kind string, templatePath string) error {
	if _, ok := builtinBodyTemplates[kind]; !ok {
		return fmt.Errorf("unknown body kind %q", kind)
	}
	absPath := templatePath
	if !filepath.IsAbs(templatePath) {
		absPath = filepath.Join(tm.basePath, templatePath)
	}
	if _, err := os.Stat(absPath); err != nil {
		return fmt.Errorf("custom template file %s: %w", absPath, err)
	}
	tm.customTemplates[kind] = absPath
	return nil
}

func (tm *templateManager) Render(kind string, data BodyData) (string, error) {
	raw, ok := builtinBodyTemplates[kind]
	if !ok {
		return "", fmt.Errorf("no template for body kind %q", kind)
	}
	if customPath, ok := tm.customTemplates[kind]; ok {
		b, err := os.ReadFile(customPath)
		if err != nil {
			return "", fmt.Errorf("reading custom template %s: %w", customPath, err)
		}
		raw = string(b)
	}

	tmpl, err := template.New(kind).Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing %s template: %w", kind, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing %s template: %w", kind, err)
	}
	return buf.String(), nil
}

// stepsByTaskType holds the plan steps generated for each task type. Types
// without an entry use the general steps.
var stepsByTaskType = map[string][]PlanStep{
	TaskTypeBugFix: {
		{"Reproduce the Issue", []string{"Identify steps to reproduce", "Verify the bug exists", "Document expected vs actual behavior"}},
		{"Investigate Root Cause", []string{"Review relevant code sections", "Check logs and error messages", "Identify the source of the problem"}},
		{"Implement Fix", []string{"Write code to resolve the issue", "Ensure fix doesn't break existing functionality", "Add error handling if needed"}},
		{"Test the Fix", []string{"Verify bug is resolved", "Run regression tests", "Test edge cases"}},
		{"Document Changes", []string{"Update code comments", "Add to changelog if applicable", "Document any new behavior"}},
	},
	TaskTypeFeature: {
		{"Define Requirements", []string{"Clarify feature specifications", "Identify user stories", "List acceptance criteria"}},
		{"Design Solution", []string{"Plan architecture/approach", "Identify affected components", "Consider edge cases and constraints"}},
		{"Implement Feature", []string{"Write core functionality", "Add necessary UI/UX elements", "Integrate with existing systems"}},
		{"Test Implementation", []string{"Write unit tests", "Perform integration testing", "Validate against requirements"}},
		{"Review and Refine", []string{"Code review", "Performance optimization", "Documentation updates"}},
	},
	TaskTypeReview: {
		{"Initial Assessment", []string{"Read through all materials", "Identify key areas to focus on", "Note initial observations"}},
		{"Detailed Analysis", []string{"Examine code/content quality", "Check for issues or improvements", "Verify best practices are followed"}},
		{"Document Findings", []string{"List strengths and weaknesses", "Provide specific recommendations", "Prioritize action items"}},
		{"Create Action Plan", []string{"Outline next steps", "Assign priorities", "Set timeline if applicable"}},
	},
	TaskTypeResearch: {
		{"Define Research Scope", []string{"Clarify research questions", "Identify information sources", "Set boundaries and constraints"}},
		{"Gather Information", []string{"Review documentation", "Analyze existing solutions", "Collect relevant data"}},
		{"Analyze Findings", []string{"Compare options/approaches", "Identify pros and cons", "Evaluate feasibility"}},
		{"Document Results", []string{"Summarize key findings", "Provide recommendations", "Include references and sources"}},
	},
}

var generalSteps = []PlanStep{
	{"Understand Requirements", []string{"Review task description", "Clarify any ambiguities", "Identify dependencies"}},
	{"Plan Approach", []string{"Break down into subtasks", "Identify resources needed", "Estimate timeline"}},
	{"Execute Task", []string{"Complete primary objectives", "Handle edge cases", "Ensure quality standards"}},
	{"Verify Completion", []string{"Review work against requirements", "Test functionality", "Get feedback if needed"}},
}

// PlanSteps returns the plan steps for a task type.
func PlanSteps(taskType string) []PlanStep {
	if steps, ok := stepsByTaskType[taskType]; ok {
		return steps
	}
	return generalSteps
}

// PlanRisks derives risks from the request text.
func PlanRisks(text string) []PlanRisk {
	lower := strings.ToLower(text)
	var risks []PlanRisk
	if containsAny(lower, []string{"depend", "require"}) {
		risks = append(risks, PlanRisk{"Dependencies", "Task may depend on other systems or tasks", "Identify and verify all dependencies before starting"})
	}
	if containsAny(lower, []string{"complex", "difficult"}) {
		risks = append(risks, PlanRisk{"Complexity", "Task appears to be complex and may take longer than expected", "Break down into smaller subtasks and tackle incrementally"})
	}
	if containsAny(lower, []string{"integrat", "connect"}) {
		risks = append(risks, PlanRisk{"Integration Challenges", "May require integration with external systems", "Test integrations thoroughly and have rollback plan"})
	}
	if len(strings.Fields(text)) < 30 {
		risks = append(risks, PlanRisk{"Unclear Requirements", "Task description is brief and may lack detail", "Clarify requirements before proceeding with implementation"})
	}
	if len(risks) == 0 {
		risks = append(risks, PlanRisk{"Scope Creep", "Task scope may expand during implementation", "Stay focused on core requirements and document any scope changes"})
	}
	return risks
}

var builtinBodyTemplates = map[string]string{
	BodyPlan: `
# Plan: {{.Title}}

## Executive Summary
This plan outlines the approach for completing the task described in ` + "`{{.SourceFile}}`" + `. The task has been classified as **{{.TaskType}}** with **{{.Priority}}** priority and an estimated effort level of **{{.Effort}}**.

## Original Request
` + "```" + `
{{.Excerpt}}{{if .Truncated}}...{{end}}
` + "```" + `

## Step-by-Step Plan

{{range $i, $s := .Steps}}{{inc $i}}. **{{$s.Title}}**
{{range $s.Subtasks}}   - {{.}}
{{end}}
{{end}}## Success Criteria

- [ ] All steps completed successfully
- [ ] Requirements met and verified
- [ ] No critical issues or blockers remaining
- [ ] Documentation updated if applicable
- [ ] Task reviewed and approved

## Potential Risks/Blockers

{{range .Risks}}- **{{.Risk}}**: {{.Detail}}
  - *Mitigation*: {{.Mitigation}}
{{end}}
## Effort Estimate
{{.Effort}}

## Notes
- This plan was generated automatically from the inbox
- Review and adjust steps as needed based on actual requirements
- Update status and priority if circumstances change
- Source file: ` + "`{{.SourcePath}}`" + `
`,
	BodyFileReview: `
# File Review: {{.SourceFile}}

A new file arrived in the inbox and needs review.

## Details
- **File**: {{.SourcePath}}
- **Size**: {{.SourceSize}} bytes
- **Modified**: {{.SourceModified}}
- **Detected**: {{.CreatedAt}}

## Checklist
- [ ] Review file contents
- [ ] Determine required action
- [ ] Process or archive the file
- [ ] Update task status
`,
}
