package analysis

import (
	"math"
	"strings"

	"ideaflow/internal/domain"
)

// ObjectiveAuditCompliance always scores as a legal/compliance initiative.
const ObjectiveAuditCompliance = "Audit & Compliance"

// ObjectiveProfitability always classifies as cost-saving.
const ObjectiveProfitability = "Profitability"

const defaultScore = 5

var (
	legalKeywords = []string{
		"legal", "compliance", "regulatory", "gdpr", "audit", "law",
		"regulation", "policy", "mandatory", "required by law", "statutory",
	}
	significantKeywords = []string{
		"urgent", "critical", "tech debt", "technical debt", "platform",
		"scalability", "performance", "security", "infrastructure",
	}
	costSavingKeywords = []string{
		"cost saving", "reduce cost", "save money", "efficiency",
		"automate", "automation", "streamline", "eliminate manual",
		"reduce time", "optimize", "cost reduction",
	}
)

// Rule is one entry of the ordered scoring table.
type Rule struct {
	Name  string
	Match func(domain.Idea) bool
	Score int
}

// Rules is evaluated top to bottom; the first match wins.
var Rules = []Rule{
	{Name: "legal_compliance", Match: isLegalOrCompliance, Score: 10},
	{Name: "monetary_1m", Match: monetaryAtLeast(1000), Score: 8},
	{Name: "significant_value", Match: hasSignificantValue, Score: 7},
	{Name: "monetary_500k", Match: monetaryAtLeast(500), Score: 6},
	{Name: "monetary_250k", Match: monetaryAtLeast(250), Score: 4},
	{Name: "monetary_low", Match: hasMonetaryValue, Score: 2},
}

// ComputeScore returns the business-value score for an idea and whether it
// came from the submitter rather than the rules.
func ComputeScore(idea domain.Idea) (int, bool) {
	if idea.BusinessValue != nil {
		return ClampScore(*idea.BusinessValue), true
	}
	score, _ := MatchRule(idea)
	return score, false
}

// MatchRule returns the score and name of the first matching rule, or the
// default score and "default".
func MatchRule(idea domain.Idea) (int, string) {
	for _, r := range Rules {
		if r.Match(idea) {
			return r.Score, r.Name
		}
	}
	return defaultScore, "default"
}

// ClampScore rounds half up and clamps into [1,10].
func ClampScore(v float64) int {
	if math.IsNaN(v) {
		return 1
	}
	return int(math.Min(10, math.Max(1, math.Floor(v+0.5))))
}

// IsCostSaving classifies an initiative as cost-saving (true) or
// value-generating (false).
func IsCostSaving(description, objective string) bool {
	return containsAny(description, costSavingKeywords) || objective == ObjectiveProfitability
}

func isLegalOrCompliance(idea domain.Idea) bool {
	return containsAny(idea.IdeaDescription, legalKeywords) ||
		containsAny(idea.BusinessObjective, legalKeywords) ||
		idea.BusinessObjective == ObjectiveAuditCompliance
}

func hasSignificantValue(idea domain.Idea) bool {
	return containsAny(idea.IdeaDescription, significantKeywords)
}

// hasMonetaryValue treats a zero estimate the same as no estimate.
func hasMonetaryValue(idea domain.Idea) bool {
	return idea.MonetaryValue != nil && *idea.MonetaryValue != 0
}

func monetaryAtLeast(threshold float64) func(domain.Idea) bool {
	return func(idea domain.Idea) bool {
		return hasMonetaryValue(idea) && *idea.MonetaryValue >= threshold
	}
}

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
