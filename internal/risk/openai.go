package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/oncallops/atp-gateway/internal/domain"
)

const (
	defaultModel   = "gpt-4o"
	defaultTimeout = 30 * time.Second
)

// OpenAIOption configures the scorer.
type OpenAIOption func(*OpenAIScorer)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(baseURL string) OpenAIOption {
	return func(s *OpenAIScorer) { s.baseURL = baseURL }
}

// WithModel overrides the model name.
func WithModel(model string) OpenAIOption {
	return func(s *OpenAIScorer) {
		if model != "" {
			s.model = model
		}
	}
}

// WithTimeout bounds how long a scoring call may take.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(s *OpenAIScorer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// OpenAIScorer asks a chat-completion model for a structured risk
// assessment. Any transport or parse failure is returned as an error so
// the assessor can fall back to the rule-based scorer.
type OpenAIScorer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	baseURL string
}

var _ Scorer = (*OpenAIScorer)(nil)

// NewOpenAIScorer builds a scorer for the given API key.
func NewOpenAIScorer(apiKey string, opts ...OpenAIOption) *OpenAIScorer {
	s := &OpenAIScorer{
		model:   defaultModel,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	cfg := openai.DefaultConfig(apiKey)
	if s.baseURL != "" {
		cfg.BaseURL = s.baseURL
	}
	s.client = openai.NewClientWithConfig(cfg)
	return s
}

// scoreResponse is the JSON shape the model is instructed to return.
type scoreResponse struct {
	RiskScore float64 `json:"risk_score"`
	RiskLevel string  `json:"risk_level"`
	Factors   []struct {
		Factor   string  `json:"factor"`
		Severity string  `json:"severity"`
		Weight   float64 `json:"weight"`
		Details  string  `json:"details"`
	} `json:"risk_factors"`
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

const scoreSystemPrompt = "You are a DevOps risk assessment expert. You provide detailed, accurate risk assessments for automation actions. You always respond with valid JSON only, no markdown formatting."

// Score requests a structured assessment from the model.
func (s *OpenAIScorer) Score(ctx context.Context, action *domain.Action, similar domain.SimilaritySummary) (*domain.RiskAssessment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.3,
		MaxTokens:   1000,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: scoreSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: scorePrompt(action, similar)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scoring request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("scoring response contained no choices")
	}

	parsed, err := parseScoreResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	assessment := &domain.RiskAssessment{
		ActionID:       action.ID,
		Timestamp:      time.Now().UTC(),
		Score:          parsed.RiskScore,
		Level:          domain.RiskLevel(parsed.RiskLevel),
		Similar:        similar,
		Recommendation: domain.Recommendation(parsed.Recommendation),
		Confidence:     parsed.Confidence,
	}
	for _, f := range parsed.Factors {
		assessment.Factors = append(assessment.Factors, domain.RiskFactor{
			Name:     f.Factor,
			Severity: domain.Severity(f.Severity),
			Weight:   f.Weight,
			Detail:   f.Details,
		})
	}
	return assessment, nil
}

func scorePrompt(action *domain.Action, similar domain.SimilaritySummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this automation action and provide a detailed risk assessment.\n\n")
	fmt.Fprintf(&b, "ACTION DETAILS:\n")
	fmt.Fprintf(&b, "- Service: %s\n", action.ContextString(domain.ContextKeyService))
	fmt.Fprintf(&b, "- Namespace/Environment: %s\n", action.ContextString(domain.ContextKeyNamespace))
	fmt.Fprintf(&b, "- Current Status: %s\n", action.ContextString(domain.ContextKeyStatus))
	fmt.Fprintf(&b, "- Operation: %s on %s\n", action.Target.Operation, action.Target.System)
	fmt.Fprintf(&b, "- Error Rate: %s\n", contextValue(action, domain.ContextKeyErrorRate))
	fmt.Fprintf(&b, "- Recent Deployment: %t\n", action.ContextBool(domain.ContextKeyRecentDeployment))
	fmt.Fprintf(&b, "- Time: %s (UTC), hour %d, %s\n",
		action.Timestamp.UTC().Format(time.RFC3339),
		action.Timestamp.UTC().Hour(),
		action.Timestamp.UTC().Weekday())
	fmt.Fprintf(&b, "\nHISTORICAL CONTEXT:\n")
	fmt.Fprintf(&b, "- Similar actions: %d\n", similar.Count)
	fmt.Fprintf(&b, "- Historical success rate: %.1f%%\n", similar.SuccessRate*100)
	fmt.Fprintf(&b, "- Average completion time: %s\n", similar.AvgCompletionTime)
	fmt.Fprintf(&b, `
TASK:
Analyze the risk of automatically executing this remediation action.
Consider environment criticality, service importance, time of day,
recent changes, historical reliability, and blast radius on failure.

Respond with ONLY a valid JSON object (no markdown):
{
  "risk_score": <float 0-1>,
  "risk_level": "<low|medium|high>",
  "risk_factors": [{"factor": "<name>", "severity": "<low|medium|high>", "weight": <float>, "details": "<brief>"}],
  "recommendation": "<auto_approve|human_review|reject>",
  "confidence": <float 0-1>,
  "reasoning": "<brief>"
}

Be conservative: when in doubt, recommend human_review. Failed automation
can cause more damage than the original issue.`)
	return b.String()
}

// contextValue renders a context entry of any type for the prompt, so a
// numeric error rate is not silently dropped.
func contextValue(action *domain.Action, key string) string {
	if action.Context == nil {
		return "unknown"
	}
	v, ok := action.Context[key]
	if !ok || v == nil || v == "" {
		return "unknown"
	}
	return fmt.Sprint(v)
}

// parseScoreResponse parses and validates the model output. Markdown
// fences are tolerated even though the prompt forbids them.
func parseScoreResponse(content string) (*scoreResponse, error) {
	content = stripFences(content)

	var parsed scoreResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("malformed scoring response: %w", err)
	}

	if parsed.RiskScore < 0 || parsed.RiskScore > 1 {
		return nil, fmt.Errorf("risk_score %v out of bounds", parsed.RiskScore)
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of bounds", parsed.Confidence)
	}
	switch domain.RiskLevel(parsed.RiskLevel) {
	case domain.RiskLow, domain.RiskMedium, domain.RiskHigh:
	default:
		return nil, fmt.Errorf("unknown risk_level %q", parsed.RiskLevel)
	}
	switch domain.Recommendation(parsed.Recommendation) {
	case domain.RecommendAutoApprove, domain.RecommendHumanReview, domain.RecommendReject:
	default:
		return nil, fmt.Errorf("unknown recommendation %q", parsed.Recommendation)
	}
	return &parsed, nil
}

func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimPrefix(content, "json")
	if idx := strings.LastIndex(content, "```"); idx >= 0 {
		content = content[:idx]
	}
	return strings.TrimSpace(content)
}

// Explain asks the model for a readable rationale. Errors are returned so
// the explainer can fall back to the template rendering.
func (s *OpenAIScorer) Explain(ctx context.Context, assessment *domain.RiskAssessment) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	factors, _ := json.MarshalIndent(assessment.Factors, "", "  ")
	prompt := fmt.Sprintf(`Explain this risk assessment in clear, concise language for a DevOps engineer:

Risk Score: %.2f (%s)
Recommendation: %s
Confidence: %.0f%%

Risk Factors:
%s

Historical Context:
- Similar actions: %d
- Success rate: %.1f%%

Provide a 2-3 paragraph explanation covering the overall risk, the most
important factors, why this recommendation was made, and any relevant
historical context. Keep it professional and actionable.`,
		assessment.Score, strings.ToUpper(string(assessment.Level)),
		strings.ToUpper(string(assessment.Recommendation)),
		assessment.Confidence*100, factors,
		assessment.Similar.Count, assessment.Similar.SuccessRate*100)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.7,
		MaxTokens:   500,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a DevOps expert explaining risk assessments to engineers. Be clear, concise, and actionable."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("explanation request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("explanation response contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
