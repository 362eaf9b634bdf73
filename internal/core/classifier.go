package core

import (
	"regexp"
	"strings"

	"github.com/valter-silva-au/vaultq/pkg/models"
)

// Task types produced by the keyword classifier.
const (
	TaskTypeBugFix        = "bug_fix"
	TaskTypeFeature       = "feature_development"
	TaskTypeReview        = "review"
	TaskTypeResearch      = "research"
	TaskTypeRefactoring   = "refactoring"
	TaskTypeTesting       = "testing"
	TaskTypeDocumentation = "documentation"
	TaskTypeGeneral       = "general_task"
)

// Effort levels.
const (
	EffortLow    = "Low"
	EffortMedium = "Medium"
	EffortHigh   = "High"
)

// Classification is the classifier's verdict on a piece of free text.
type Classification struct {
	Priority models.Priority
	TaskType string
	Effort   string
}

// Classifier turns raw text into a priority, task type and effort estimate.
type Classifier interface {
	Classify(text string) Classification
}

var (
	explicitHigh = regexp.MustCompile(`priority:\s*high`)
	explicitLow  = regexp.MustCompile(`priority:\s*low`)

	urgentKeywords     = []string{"urgent", "asap", "critical", "emergency", "immediately"}
	lowKeywords        = []string{"whenever", "eventually", "nice to have", "optional"}
	complexityKeywords = []string{"complex", "multiple", "integrate", "system", "architecture"}

	// Checked in order; the first rule with a matching keyword wins.
	taskTypeRules = []struct {
		taskType string
		keywords []string
	}{
		{TaskTypeBugFix, []string{"bug", "fix", "error"}},
		{TaskTypeFeature, []string{"feature", "implement", "add"}},
		{TaskTypeReview, []string{"review", "analyze"}},
		{TaskTypeResearch, []string{"research", "investigate"}},
		{TaskTypeRefactoring, []string{"refactor", "improve"}},
		{TaskTypeTesting, []string{"test"}},
		{TaskTypeDocumentation, []string{"document", "doc"}},
	}
)

// keywordClassifier implements Classifier with substring heuristics.
type keywordClassifier struct{}

// NewKeywordClassifier returns the default keyword-based Classifier.
func NewKeywordClassifier() Classifier {
	return keywordClassifier{}
}

func (keywordClassifier) Classify(text string) Classification {
	lower := strings.ToLower(text)
	return Classification{
		Priority: classifyPriority(lower),
		TaskType: classifyTaskType(lower),
		Effort:   estimateEffort(text, lower),
	}
}

func classifyPriority(lower string) models.Priority {
	switch {
	case explicitHigh.MatchString(lower):
		return models.PriorityHigh
	case explicitLow.MatchString(lower):
		return models.PriorityLow
	case containsAny(lower, urgentKeywords):
		return models.PriorityHigh
	case containsAny(lower, lowKeywords):
		return models.PriorityLow
	}
	return models.PriorityMedium
}

func classifyTaskType(lower string) string {
	for _, rule := range taskTypeRules {
		if containsAny(lower, rule.keywords) {
			return rule.taskType
		}
	}
	return TaskTypeGeneral
}

func estimateEffort(text, lower string) string {
	words := len(strings.Fields(text))
	score := 0
	for _, k := range complexityKeywords {
		if strings.Contains(lower, k) {
			score++
		}
	}
	switch {
	case words < 50 && score == 0:
		return EffortLow
	case words > 200 || score >= 2:
		return EffortHigh
	}
	return EffortMedium
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
