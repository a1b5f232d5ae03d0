package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"budtender-agent/internal/domain"
	"budtender-agent/internal/integrations/openai"
)

type mockParams struct {
	vals map[string]string
	err  error
}

func (m *mockParams) GetParameter(_ context.Context, name string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[name]
	if !ok {
		return "", fmt.Errorf("param not found: %s", name)
	}
	return v, nil
}

type transientParams struct {
	*mockParams
	failOnce bool
}

func (p *transientParams) GetParameter(ctx context.Context, name string) (string, error) {
	if p.failOnce {
		p.failOnce = false
		return "", errors.New("temporary ssm failure")
	}
	return p.mockParams.GetParameter(ctx, name)
}

type mockTenants struct {
	cfg   domain.TenantConfig
	err   error
	calls int
}

func (m *mockTenants) GetTenant(_ context.Context, _ string) (domain.TenantConfig, error) {
	m.calls++
	if m.err != nil {
		return domain.TenantConfig{}, m.err
	}
	return m.cfg, nil
}

type mockProducts struct {
	products []domain.Product
	err      error
	calls    int
}

func (m *mockProducts) ProductsByTenant(_ context.Context, _ string) ([]domain.Product, error) {
	m.calls++
	return m.products, m.err
}

type mockLLM struct {
	chatAnswer    string
	chatErr       error
	chatCalls     int
	captured      []domain.ChatMessage
	onTopic       bool
	classifyErr   error
	classifyCalls int
}

func (m *mockLLM) Chat(_ context.Context, _ string, messages []domain.ChatMessage) (string, error) {
	m.chatCalls++
	m.captured = messages
	return m.chatAnswer, m.chatErr
}

func (m *mockLLM) ClassifyTopic(_ context.Context, _, _ string) (bool, error) {
	m.classifyCalls++
	return m.onTopic, m.classifyErr
}

func defaultParams() *mockParams {
	return &mockParams{vals: map[string]string{
		"/prefix/config/openai_model": "gpt-4o-mini",
	}}
}

func defaultTenant() *mockTenants {
	return &mockTenants{cfg: domain.TenantConfig{
		TenantID:     "ch",
		Name:         "Cannabis Healing",
		DisplayName:  "Flight Club",
		Tone:         "friendly, street-lux, helpful",
		SystemPrompt: "You are the virtual budtender for Cannabis Healing.",
	}}
}

func defaultCatalog() *mockProducts {
	return &mockProducts{products: []domain.Product{
		product("a", "Flower", 20, 15),
		product("b", "Vape", 60, 90),
	}}
}

func budtenderAnswer(message string, ordinals ...int) string {
	recs := make([]string, 0, len(ordinals))
	for _, n := range ordinals {
		recs = append(recs, fmt.Sprintf(`{"productNumber":%d,"reason":"fits"}`, n))
	}
	return fmt.Sprintf(`{"message":%q,"recommendations":[%s],"suggestedReplies":[]}`, message, strings.Join(recs, ","))
}

func newTestAdvisor(t *testing.T, p ParamGetter, tenants TenantStore, products ProductStore, llm LLMClient) *AdvisorService {
	t.Helper()
	svc, err := NewAdvisorService(p, tenants, products, llm, "/prefix", SelectorConfig{}, 500, zerolog.Nop())
	require.NoError(t, err)
	return svc
}

func expectServiceError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, code, ucErr.Code)
	require.Equal(t, reason, ucErr.Reason)
}

func TestNewAdvisorService_ValidatesDependencies(t *testing.T) {
	_, err := NewAdvisorService(nil, defaultTenant(), defaultCatalog(), &mockLLM{}, "/prefix", SelectorConfig{}, 500, zerolog.Nop())
	require.Error(t, err)

	_, err = NewAdvisorService(defaultParams(), nil, defaultCatalog(), &mockLLM{}, "/prefix", SelectorConfig{}, 500, zerolog.Nop())
	require.Error(t, err)

	_, err = NewAdvisorService(defaultParams(), defaultTenant(), nil, &mockLLM{}, "/prefix", SelectorConfig{}, 500, zerolog.Nop())
	require.Error(t, err)

	_, err = NewAdvisorService(defaultParams(), defaultTenant(), defaultCatalog(), nil, "/prefix", SelectorConfig{}, 500, zerolog.Nop())
	require.Error(t, err)

	_, err = NewAdvisorService(defaultParams(), defaultTenant(), defaultCatalog(), &mockLLM{}, " ", SelectorConfig{}, 500, zerolog.Nop())
	require.Error(t, err)
}

func TestRecommend_HappyPath(t *testing.T) {
	llm := &mockLLM{chatAnswer: budtenderAnswer("Two great picks.", 1)}
	svc := newTestAdvisor(t, defaultParams(), defaultTenant(), defaultCatalog(), llm)

	out, err := svc.Recommend(context.Background(), RecommendInput{
		TenantID: "ch",
		Answers:  domain.QuizAnswers{Goal: "relax", Experience: "casual", Format: "Flower", Budget: "<25"},
	})
	require.NoError(t, err)
	require.Equal(t, "Two great picks.", out.Message)
	require.Len(t, out.Recommendations, 1)
	require.Equal(t, "a", out.Recommendations[0].Product.ID)
	require.Equal(t, "fits", out.Recommendations[0].Reason)
	require.Zero(t, llm.classifyCalls, "quiz flow must never classify")

	// System message carries the tenant persona; user message carries the
	// numbered candidate list.
	require.Equal(t, "system", llm.captured[0].Role)
	require.Contains(t, llm.captured[0].Content, "virtual budtender for Cannabis Healing")
	require.Contains(t, llm.captured[1].Content, `1. name:"Product a"`)
}

func TestRecommend_ValidationErrors(t *testing.T) {
	svc := newTestAdvisor(t, defaultParams(), defaultTenant(), defaultCatalog(), &mockLLM{})

	_, err := svc.Recommend(context.Background(), RecommendInput{TenantID: ""})
	expectServiceError(t, err, ErrorInvalidInput, "missing_tenant_id")

	_, err = svc.Recommend(context.Background(), RecommendInput{TenantID: "ch", Answers: domain.QuizAnswers{Budget: "cheap"}})
	expectServiceError(t, err, ErrorInvalidInput, "invalid_budget")
}

func TestRecommend_UnknownTenant(t *testing.T) {
	tenants := &mockTenants{err: fmt.Errorf("%w: nope", domain.ErrUnknownTenant)}
	catalog := defaultCatalog()
	llm := &mockLLM{}
	svc := newTestAdvisor(t, defaultParams(), tenants, catalog, llm)

	_, err := svc.Recommend(context.Background(), RecommendInput{TenantID: "nope"})
	expectServiceError(t, err, ErrorUnknownTenant, "unknown_tenant")
	require.Zero(t, catalog.calls)
	require.Zero(t, llm.chatCalls)
}

func TestRecommend_TenantStoreFailure(t *testing.T) {
	tenants := &mockTenants{err: errors.New("ssm down")}
	svc := newTestAdvisor(t, defaultParams(), tenants, defaultCatalog(), &mockLLM{})

	_, err := svc.Recommend(context.Background(), RecommendInput{TenantID: "ch"})
	expectServiceError(t, err, ErrorInternal, "tenant_config_error")
}

func TestRecommend_SSMLoadError_IsRetriedOnNextRequest(t *testing.T) {
	p := &transientParams{mockParams: defaultParams(), failOnce: true}
	llm := &mockLLM{chatAnswer: budtenderAnswer("ok", 1)}
	svc := newTestAdvisor(t, p, defaultTenant(), defaultCatalog(), llm)

	_, err := svc.Recommend(context.Background(), RecommendInput{TenantID: "ch"})
	expectServiceError(t, err, ErrorInternal, "ssm_load_error")

	out, err := svc.Recommend(context.Background(), RecommendInput{TenantID: "ch"})
	require.NoError(t, err)
	require.Equal(t, "ok", out.Message)
}

func TestRecommend_ProductFetchFailure(t *testing.T) {
	catalog := &mockProducts{err: errors.New("dynamodb down")}
	svc := newTestAdvisor(t, defaultParams(), defaultTenant(), catalog, &mockLLM{})

	_, err := svc.Recommend(context.Background(), RecommendInput{TenantID: "ch"})
	expectServiceError(t, err, ErrorInternal, "product_fetch_error")
}

func TestRecommend_OpenAIErrors(t *testing.T) {
	svc := newTestAdvisor(t, defaultParams(), defaultTenant(), defaultCatalog(),
		&mockLLM{chatErr: &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}})
	_, err := svc.Recommend(context.Background(), RecommendInput{TenantID: "ch"})
	expectServiceError(t, err, ErrorRateLimited, "openai_rate_limited")

	svc = newTestAdvisor(t, defaultParams(), defaultTenant(), defaultCatalog(),
		&mockLLM{chatErr: &openai.HTTPStatusError{StatusCode: http.StatusInternalServerError}})
	_, err = svc.Recommend(context.Background(), RecommendInput{TenantID: "ch"})
	expectServiceError(t, err, ErrorUpstream, "openai_error")
}

func TestRecommend_MalformedModelReply(t *testing.T) {
	svc := newTestAdvisor(t, defaultParams(), defaultTenant(), defaultCatalog(), &mockLLM{chatAnswer: ""})
	_, err := svc.Recommend(context.Background(), RecommendInput{TenantID: "ch"})
	expectServiceError(t, err, ErrorUpstream, "openai_malformed_response")
}

func TestRecommend_HallucinatedOrdinalsDegradeGracefully(t *testing.T) {
	// One valid and two hallucinated references: the request still
	// succeeds and the message is passed through unchanged.
	llm := &mockLLM{chatAnswer: budtenderAnswer("Here you go.", 99, 1, -2)}
	svc := newTestAdvisor(t, defaultParams(), defaultTenant(), defaultCatalog(), llm)

	out, err := svc.Recommend(context.Background(), RecommendInput{
		TenantID: "ch",
		Answers:  domain.QuizAnswers{Format: "any", Budget: "none"},
	})
	require.NoError(t, err)
	require.Equal(t, "Here you go.", out.Message)
	require.Len(t, out.Recommendations, 1)
	require.Equal(t, "a", out.Recommendations[0].Product.ID)
}

func TestRecommend_ZeroValidRecommendationsStillSucceeds(t *testing.T) {
	llm := &mockLLM{chatAnswer: budtenderAnswer("Nothing in budget, adjust?", 42)}
	svc := newTestAdvisor(t, defaultParams(), defaultTenant(), defaultCatalog(), llm)

	out, err := svc.Recommend(context.Background(), RecommendInput{TenantID: "ch"})
	require.NoError(t, err)
	require.Equal(t, "Nothing in budget, adjust?", out.Message)
	require.Empty(t, out.Recommendations)
}

func TestChat_HappyPath(t *testing.T) {
	llm := &mockLLM{
		onTopic:    true,
		chatAnswer: `{"message":"Great vape here.","recommendations":[{"productNumber":2,"reason":"high THC"}],"suggestedReplies":["Show cheaper options"]}`,
	}
	svc := newTestAdvisor(t, defaultParams(), defaultTenant(), defaultCatalog(), llm)

	out, err := svc.Chat(context.Background(), ChatInput{TenantID: "ch", Message: "do you have strong vapes?"})
	require.NoError(t, err)
	require.Equal(t, "Great vape here.", out.Message)
	require.Len(t, out.Recommendations, 1)
	// Candidate order is bucketed: flower first, then the vape at #2.
	require.Equal(t, "b", out.Recommendations[0].Product.ID)
	require.Equal(t, []string{"Show cheaper options"}, out.SuggestedReplies)
	require.Equal(t, 1, llm.classifyCalls)

	require.Equal(t, "system", llm.captured[0].Role)
	require.Contains(t, llm.captured[0].Content, "virtual budtender for Cannabis Healing")
	require.Equal(t, "do you have strong vapes?", llm.captured[len(llm.captured)-1].Content)
}

func TestChat_ValidationErrors(t *testing.T) {
	svc := newTestAdvisor(t, defaultParams(), defaultTenant(), defaultCatalog(), &mockLLM{})

	_, err := svc.Chat(context.Background(), ChatInput{TenantID: "", Message: "hello there"})
	expectServiceError(t, err, ErrorInvalidInput, "missing_tenant_id")

	_, err = svc.Chat(context.Background(), ChatInput{TenantID: "ch", Message: "   "})
	expectServiceError(t, err, ErrorInvalidInput, "empty_message")

	_, err = svc.Chat(context.Background(), ChatInput{TenantID: "ch", Message: strings.Repeat("a", 501)})
	expectServiceError(t, err, ErrorInvalidInput, "message_too_long")
}

func TestChat_FastPathSkipsClassifier(t *testing.T) {
	llm := &mockLLM{chatAnswer: budtenderAnswer("Options under 25.", 1)}
	svc := newTestAdvisor(t, defaultParams(), defaultTenant(), defaultCatalog(), llm)

	for _, msg := range []string{"25", "under 30", "yes"} {
		_, err := svc.Chat(context.Background(), ChatInput{TenantID: "ch", Message: msg})
		require.NoError(t, err, "message=%q", msg)
	}
	require.Zero(t, llm.classifyCalls)
	require.Equal(t, 3, llm.chatCalls)
}

func TestChat_OffTopicShortCircuits(t *testing.T) {
	llm := &mockLLM{onTopic: false}
	catalog := defaultCatalog()
	svc := newTestAdvisor(t, defaultParams(), defaultTenant(), catalog, llm)

	out, err := svc.Chat(context.Background(), ChatInput{TenantID: "ch", Message: "what's the weather like today?"})
	require.NoError(t, err)
	require.Contains(t, out.Message, "cannabis products")
	require.Empty(t, out.Recommendations)
	require.Empty(t, out.SuggestedReplies)
	require.Equal(t, 1, llm.classifyCalls)
	require.Zero(t, llm.chatCalls, "off-topic must skip the generation call")
	require.Zero(t, catalog.calls, "off-topic must skip the product fetch")
}

func TestChat_ClassificationErrors(t *testing.T) {
	svc := newTestAdvisor(t, defaultParams(), defaultTenant(), defaultCatalog(),
		&mockLLM{classifyErr: &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}})
	_, err := svc.Chat(context.Background(), ChatInput{TenantID: "ch", Message: "help me sleep tonight"})
	expectServiceError(t, err, ErrorRateLimited, "classification_rate_limited")

	svc = newTestAdvisor(t, defaultParams(), defaultTenant(), defaultCatalog(),
		&mockLLM{classifyErr: errors.New("connection reset")})
	_, err = svc.Chat(context.Background(), ChatInput{TenantID: "ch", Message: "help me sleep tonight"})
	expectServiceError(t, err, ErrorUpstream, "classification_error")
}

func TestChat_HistoryForwardedToModel(t *testing.T) {
	llm := &mockLLM{onTopic: true, chatAnswer: budtenderAnswer("Sure.", 1)}
	svc := newTestAdvisor(t, defaultParams(), defaultTenant(), defaultCatalog(), llm)

	history := []domain.ChatMessage{
		{Role: "user", Content: "help me sleep"},
		{Role: "assistant", Content: "What's your experience level?"},
	}
	_, err := svc.Chat(context.Background(), ChatInput{TenantID: "ch", Message: "new to cannabis", History: history})
	require.NoError(t, err)
	require.Len(t, llm.captured, 4)
	require.Equal(t, history[0], llm.captured[1])
	require.Equal(t, history[1], llm.captured[2])
}
