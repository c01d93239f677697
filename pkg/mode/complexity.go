package mode

import (
	"regexp"

	"github.com/devflow-ai/devflow/pkg/models"
)

// Complexity keywords, matched on word boundaries so "prefix" does not read
// as "fix". Tiers are checked from complex down; the first hit wins.
var (
	complexWords = regexp.MustCompile(`(?i)\b(refactor|architecture|migrate|redesign)\b`)
	mediumWords  = regexp.MustCompile(`(?i)\b(add|create|implement|feature)\b`)
	simpleWords  = regexp.MustCompile(`(?i)\b(fix|update|change|modify|rename|remove)\b`)
)

// AnalyzeComplexity classifies a task description by keyword. Descriptions
// matching no tier default to medium.
func AnalyzeComplexity(description string) models.Complexity {
	switch {
	case complexWords.MatchString(description):
		return models.ComplexityComplex
	case mediumWords.MatchString(description):
		return models.ComplexityMedium
	case simpleWords.MatchString(description):
		return models.ComplexitySimple
	default:
		return models.ComplexityMedium
	}
}
