package risk

import (
	"context"
	"strings"
	"time"

	"github.com/oncallops/atp-gateway/internal/domain"
)

// ruleConfidence is deliberately lower than what the model path reports;
// the weighted factors cover less signal than a full assessment.
const ruleConfidence = 0.75

// externallyExposed marks service names that serve customer traffic
// directly. Substring match against the declared service name.
var externallyExposed = []string{"api", "gateway", "frontend", "checkout", "web"}

// RuleScorer is the deterministic weighted-factor scorer. It is both a
// standalone strategy and the fallback when the model-based scorer fails:
// identical context and similarity inputs always yield the identical
// score, level, and recommendation.
type RuleScorer struct {
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

var _ Scorer = (*RuleScorer)(nil)

// NewRuleScorer returns a scorer using wall-clock time.
func NewRuleScorer() *RuleScorer {
	return &RuleScorer{Now: time.Now}
}

// Score computes the weighted-factor assessment.
func (r *RuleScorer) Score(_ context.Context, action *domain.Action, similar domain.SimilaritySummary) (*domain.RiskAssessment, error) {
	var factors []domain.RiskFactor
	score := 0.0

	switch action.ContextString(domain.ContextKeyNamespace) {
	case "production":
		factors = append(factors, domain.RiskFactor{
			Name:     "production_environment",
			Severity: domain.SeverityHigh,
			Weight:   0.4,
			Detail:   "Action affects production environment",
		})
		score += 0.4
	case "staging":
		factors = append(factors, domain.RiskFactor{
			Name:     "staging_environment",
			Severity: domain.SeverityLow,
			Weight:   0.1,
			Detail:   "Action affects staging environment",
		})
		score += 0.1
	}

	service := action.ContextString(domain.ContextKeyService)
	if isExternallyExposed(service) {
		factors = append(factors, domain.RiskFactor{
			Name:     "customer_facing_service",
			Severity: domain.SeverityHigh,
			Weight:   0.3,
			Detail:   "Service directly impacts customers",
		})
		score += 0.3
	} else {
		factors = append(factors, domain.RiskFactor{
			Name:     "internal_service",
			Severity: domain.SeverityLow,
			Weight:   0.1,
			Detail:   "Internal service with limited user impact",
		})
		score += 0.1
	}

	hour := r.Now().UTC().Hour()
	if hour >= 9 && hour < 17 {
		factors = append(factors, domain.RiskFactor{
			Name:     "business_hours",
			Severity: domain.SeverityMedium,
			Weight:   0.15,
			Detail:   "Action during peak business hours",
		})
		score += 0.15
	} else {
		factors = append(factors, domain.RiskFactor{
			Name:     "off_hours",
			Severity: domain.SeverityLow,
			Weight:   0.05,
			Detail:   "Action during low-traffic period",
		})
		score += 0.05
	}

	level := levelFor(score)
	recommendation := recommendFor(level, score)

	// A strong track record over enough comparable actions downgrades a
	// medium-risk review to auto approval.
	if similar.SuccessRate > 0.95 && similar.Count > 10 &&
		level == domain.RiskMedium && recommendation == domain.RecommendHumanReview {
		recommendation = domain.RecommendAutoApprove
	}

	return &domain.RiskAssessment{
		ActionID:       action.ID,
		Timestamp:      r.Now().UTC(),
		Score:          score,
		Level:          level,
		Factors:        factors,
		Similar:        similar,
		Recommendation: recommendation,
		Confidence:     ruleConfidence,
	}, nil
}

func isExternallyExposed(service string) bool {
	for _, marker := range externallyExposed {
		if strings.Contains(service, marker) {
			return true
		}
	}
	return false
}

func levelFor(score float64) domain.RiskLevel {
	switch {
	case score >= 0.7:
		return domain.RiskHigh
	case score >= 0.3:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func recommendFor(level domain.RiskLevel, score float64) domain.Recommendation {
	switch {
	case level == domain.RiskHigh || score > 0.6:
		return domain.RecommendHumanReview
	case level == domain.RiskLow && score < 0.3:
		return domain.RecommendAutoApprove
	default:
		return domain.RecommendHumanReview
	}
}
