// Package risk scores declared actions. Two interchangeable strategies
// sit behind the Scorer interface: a model-backed scorer and a
// deterministic rule-based one. The assessor always has a working
// default, so an unavailable scoring provider never fails the pipeline.
package risk

import (
	"context"
	"log/slog"

	"github.com/oncallops/atp-gateway/internal/domain"
)

// Scorer computes a risk assessment for an action given its historical
// similarity summary.
type Scorer interface {
	Score(ctx context.Context, action *domain.Action, similar domain.SimilaritySummary) (*domain.RiskAssessment, error)
}

// SimilaritySource is the slice of the store the assessor needs.
type SimilaritySource interface {
	FindSimilar(ctx context.Context, system, operation, namespace string) (domain.SimilaritySummary, error)
}

// Assessor looks up historical similarity and runs the primary scorer,
// falling back to the rule-based scorer on any scorer error.
type Assessor struct {
	similarity SimilaritySource
	primary    Scorer
	fallback   *RuleScorer
	logger     *slog.Logger
}

// NewAssessor builds an assessor. primary may be nil, in which case the
// rule-based scorer is used directly.
func NewAssessor(similarity SimilaritySource, primary Scorer, logger *slog.Logger) *Assessor {
	return &Assessor{
		similarity: similarity,
		primary:    primary,
		fallback:   NewRuleScorer(),
		logger:     logger,
	}
}

// Assess computes the risk assessment for an action. Store errors
// propagate; scorer errors do not.
func (a *Assessor) Assess(ctx context.Context, action *domain.Action) (*domain.RiskAssessment, error) {
	similar, err := a.similarity.FindSimilar(ctx,
		action.Target.System, action.Target.Operation,
		action.ContextString(domain.ContextKeyNamespace))
	if err != nil {
		return nil, err
	}

	if a.primary != nil {
		assessment, err := a.primary.Score(ctx, action, similar)
		if err == nil {
			return assessment, nil
		}
		a.logger.Warn("model risk scoring failed, falling back to rules",
			slog.String("action_id", action.ID),
			slog.String("error", err.Error()))
	}

	return a.fallback.Score(ctx, action, similar)
}
