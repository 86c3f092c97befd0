package risk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncallops/atp-gateway/internal/domain"
)

type stubSimilarity struct {
	summary domain.SimilaritySummary
	err     error
	calls   int
}

func (s *stubSimilarity) FindSimilar(context.Context, string, string, string) (domain.SimilaritySummary, error) {
	s.calls++
	return s.summary, s.err
}

type stubScorer struct {
	assessment *domain.RiskAssessment
	err        error
}

func (s *stubScorer) Score(context.Context, *domain.Action, domain.SimilaritySummary) (*domain.RiskAssessment, error) {
	return s.assessment, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAssessUsesPrimaryScorer(t *testing.T) {
	want := &domain.RiskAssessment{ActionID: "act_p", Score: 0.5, Level: domain.RiskMedium}
	a := NewAssessor(&stubSimilarity{}, &stubScorer{assessment: want}, discardLogger())

	got, err := a.Assess(context.Background(), actionFor("checkout-api", "production"))
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestAssessFallsBackOnScorerError(t *testing.T) {
	similarity := &stubSimilarity{summary: domain.SimilaritySummary{Count: 2, SuccessRate: 1.0}}
	a := NewAssessor(similarity, &stubScorer{err: fmt.Errorf("model unavailable")}, discardLogger())

	got, err := a.Assess(context.Background(), actionFor("checkout-api", "production"))
	require.NoError(t, err)

	// Fallback is the deterministic scorer, which reports its own lower
	// confidence and carries the similarity summary through.
	assert.Equal(t, ruleConfidence, got.Confidence)
	assert.Equal(t, 2, got.Similar.Count)
	assert.Equal(t, 1, similarity.calls)
}

func TestAssessWithoutPrimaryUsesRules(t *testing.T) {
	a := NewAssessor(&stubSimilarity{}, nil, discardLogger())

	got, err := a.Assess(context.Background(), actionFor("checkout-api", "production"))
	require.NoError(t, err)
	assert.Equal(t, ruleConfidence, got.Confidence)
	assert.NotEmpty(t, got.Factors)
}

func TestAssessPropagatesStoreError(t *testing.T) {
	similarity := &stubSimilarity{err: domain.ErrPersistence("history query failed", nil)}
	a := NewAssessor(similarity, &stubScorer{}, discardLogger())

	_, err := a.Assess(context.Background(), actionFor("checkout-api", "production"))
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypePersistence))
}
