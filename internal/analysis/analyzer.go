// Package analysis scores initiative ideas and drafts their statement of work.
//
// Analyze is the deterministic rule-based path. Analyzer wraps it with an
// optional generative service and falls back to the rules whenever that
// service is missing, failing, or returns something unusable.
package analysis

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"ideaflow/internal/domain"
	"ideaflow/internal/genai"
	"ideaflow/internal/metrics"
)

// Analyze runs the rule-based analysis. Identical input always yields an
// identical result.
func Analyze(idea domain.Idea) domain.Analysis {
	score, userProvided := ComputeScore(idea)
	costSaving := IsCostSaving(idea.IdeaDescription, idea.BusinessObjective)
	return domain.Analysis{
		StatementOfWork:            StatementOfWork(idea, score),
		BusinessValueScore:         score,
		BusinessValueJustification: Justification(score, idea.MonetaryValue, idea.BusinessObjective, userProvided),
		CostSaving:                 costSaving,
		UserProvidedScore:          userProvided,
		Source:                     domain.SourceRules,
	}
}

// Generator drafts an analysis through an external service.
type Generator interface {
	Generate(ctx context.Context, idea domain.Idea) (*genai.Result, error)
}

type Analyzer struct {
	// Generator is optional; nil means rules only.
	Generator Generator
	// Objectives, when non-empty, is the accepted set of business objectives.
	Objectives []string
	// DisableFallback surfaces generator failures instead of using the rules.
	DisableFallback bool
	Logger          *slog.Logger
}

func (a Analyzer) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// Validate checks the fields every analysis needs.
func (a Analyzer) Validate(idea domain.Idea) error {
	if strings.TrimSpace(idea.IdeaDescription) == "" {
		return domain.ValidationError{Field: "ideaDescription", Reason: "is required"}
	}
	if strings.TrimSpace(idea.BusinessObjective) == "" {
		return domain.ValidationError{Field: "businessObjective", Reason: "is required"}
	}
	if len(a.Objectives) > 0 && !slices.Contains(a.Objectives, idea.BusinessObjective) {
		return domain.ValidationError{Field: "businessObjective", Reason: "must be one of " + strings.Join(a.Objectives, ", ")}
	}
	return nil
}

// Analyze validates idea and produces its analysis.
func (a Analyzer) Analyze(ctx context.Context, idea domain.Idea) (domain.Analysis, error) {
	if err := a.Validate(idea); err != nil {
		return domain.Analysis{}, err
	}
	if a.Generator == nil {
		return a.record(Analyze(idea)), nil
	}
	res, err := a.Generator.Generate(ctx, idea)
	if err != nil {
		if a.DisableFallback {
			return domain.Analysis{}, err
		}
		a.logger().Warn("generative analysis failed, using rules", "title", idea.Title, "error", err)
		metrics.RecordGenerativeFallback()
		return a.record(Analyze(idea)), nil
	}
	return a.record(merge(idea, *res)), nil
}

// merge builds an analysis from a generated draft. A user-supplied score is
// authoritative and replaces whatever the service proposed.
func merge(idea domain.Idea, res genai.Result) domain.Analysis {
	out := domain.Analysis{
		StatementOfWork:            res.StatementOfWork,
		BusinessValueScore:         ClampScore(float64(res.BusinessValueScore)),
		BusinessValueJustification: res.BusinessValueJustification,
		CostSaving:                 IsCostSaving(idea.IdeaDescription, idea.BusinessObjective),
		Source:                     domain.SourceGenerative,
	}
	if idea.BusinessValue != nil {
		out.BusinessValueScore = ClampScore(*idea.BusinessValue)
		out.UserProvidedScore = true
		out.BusinessValueJustification = Justification(out.BusinessValueScore, idea.MonetaryValue, idea.BusinessObjective, true)
	}
	return out
}

func (a Analyzer) record(out domain.Analysis) domain.Analysis {
	metrics.RecordAnalysis(string(out.Source), out.UserProvidedScore, out.BusinessValueScore)
	return out
}
