package risk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oncallops/atp-gateway/internal/domain"
)

// Enricher produces model-written explanations. Optional; the template
// rendering below never depends on it succeeding.
type Enricher interface {
	Explain(ctx context.Context, assessment *domain.RiskAssessment) (string, error)
}

// Explainer renders human-readable rationales for assessments.
type Explainer struct {
	enricher Enricher
	logger   *slog.Logger
}

// NewExplainer builds an explainer. enricher may be nil.
func NewExplainer(enricher Enricher, logger *slog.Logger) *Explainer {
	return &Explainer{enricher: enricher, logger: logger}
}

// Explain returns a rationale for the assessment. The model path is
// attempted first when configured; the deterministic template is always
// available.
func (e *Explainer) Explain(ctx context.Context, assessment *domain.RiskAssessment) string {
	if e.enricher != nil {
		text, err := e.enricher.Explain(ctx, assessment)
		if err == nil && text != "" {
			return text
		}
		if err != nil {
			e.logger.Warn("model explanation failed, using template",
				slog.String("action_id", assessment.ActionID),
				slog.String("error", err.Error()))
		}
	}
	return RenderTemplate(assessment)
}

// RenderTemplate produces the deterministic fallback explanation.
func RenderTemplate(assessment *domain.RiskAssessment) string {
	var b strings.Builder
	b.WriteString("Risk Assessment Summary:\n\n")
	fmt.Fprintf(&b, "Overall Risk Score: %.2f (%s)\n\n",
		assessment.Score, strings.ToUpper(string(assessment.Level)))

	b.WriteString("Key Risk Factors:\n")
	for _, f := range assessment.Factors {
		fmt.Fprintf(&b, "- %s: %s (weight: %.2f)\n",
			f.Name, strings.ToUpper(string(f.Severity)), f.Weight)
		if f.Detail != "" {
			fmt.Fprintf(&b, "  %s\n", f.Detail)
		}
	}

	b.WriteString("\nHistorical Context:\n")
	fmt.Fprintf(&b, "- Similar actions: %d\n", assessment.Similar.Count)
	fmt.Fprintf(&b, "- Success rate: %.1f%%\n", assessment.Similar.SuccessRate*100)

	fmt.Fprintf(&b, "\nRecommendation: %s\n",
		strings.ToUpper(strings.ReplaceAll(string(assessment.Recommendation), "_", " ")))

	switch assessment.Recommendation {
	case domain.RecommendAutoApprove:
		b.WriteString("This action can be safely automated based on low risk score and proven historical reliability.")
	case domain.RecommendHumanReview:
		b.WriteString("This action requires human review due to elevated risk factors or insufficient historical data.")
	case domain.RecommendReject:
		b.WriteString("This action should not be executed automatically; the assessed risk outweighs the expected benefit.")
	}
	return b.String()
}
