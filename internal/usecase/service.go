package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"budtender-agent/internal/domain"
)

const defaultMaxMessage = 500

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type TenantStore interface {
	GetTenant(ctx context.Context, tenantID string) (domain.TenantConfig, error)
}

type ProductStore interface {
	ProductsByTenant(ctx context.Context, tenantID string) ([]domain.Product, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
	ClassifyTopic(ctx context.Context, model, message string) (bool, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// AdvisorService runs the recommendation pipeline for both request shapes:
// quiz answers (Recommend) and free-text chat (Chat). Each request is
// handled sequentially and statelessly; the only cross-request state is the
// cached chat model name.
type AdvisorService struct {
	params      ParamGetter
	tenants     TenantStore
	products    ProductStore
	llm         LLMClient
	paramPrefix string
	selector    SelectorConfig
	maxMessage  int
	log         zerolog.Logger

	cacheMu     sync.RWMutex
	cacheLoaded bool
	chatModel   string
}

type RecommendInput struct {
	TenantID string
	Answers  domain.QuizAnswers
}

type RecommendOutput struct {
	Message         string
	Recommendations []domain.Recommendation
}

type ChatInput struct {
	TenantID string
	Message  string
	History  []domain.ChatMessage
}

type ChatOutput struct {
	Message          string
	Recommendations  []domain.Recommendation
	SuggestedReplies []string
}

func NewAdvisorService(p ParamGetter, tenants TenantStore, products ProductStore, llm LLMClient, paramPrefix string, selector SelectorConfig, maxMessage int, log zerolog.Logger) (*AdvisorService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if tenants == nil {
		return nil, errors.New("usecase: tenant store must not be nil")
	}
	if products == nil {
		return nil, errors.New("usecase: product store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if maxMessage <= 0 {
		maxMessage = defaultMaxMessage
	}
	return &AdvisorService{
		params:      p,
		tenants:     tenants,
		products:    products,
		llm:         llm,
		paramPrefix: paramPrefix,
		selector:    selector,
		maxMessage:  maxMessage,
		log:         log,
	}, nil
}

// Recommend serves the structured quiz flow.
func (s *AdvisorService) Recommend(ctx context.Context, in RecommendInput) (RecommendOutput, error) {
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return RecommendOutput{}, newError(ErrorInvalidInput, "missing_tenant_id", nil)
	}
	if !ValidBudget(in.Answers.Budget) {
		return RecommendOutput{}, newError(ErrorInvalidInput, "invalid_budget", nil)
	}

	tenant, err := s.lookupTenant(ctx, tenantID)
	if err != nil {
		return RecommendOutput{}, err
	}
	if err := s.ensureConfig(ctx); err != nil {
		return RecommendOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	eligible, err := s.fetchEligible(ctx, tenantID)
	if err != nil {
		return RecommendOutput{}, err
	}

	candidates, degraded := SelectStructured(eligible, in.Answers, s.selector)
	s.log.Debug().
		Str("tenant", tenantID).
		Int("eligible", len(eligible)).
		Int("candidates", len(candidates)).
		Bool("degraded", degraded).
		Msg("selected quiz candidates")

	messages := []domain.ChatMessage{
		{Role: "system", Content: tenant.SystemPrompt},
		{Role: "user", Content: buildQuizPrompt(in.Answers, candidates, degraded)},
	}
	reply, err := s.generate(ctx, messages)
	if err != nil {
		return RecommendOutput{}, err
	}

	recs := s.reconcileAndLog(tenantID, reply.Recommendations, candidates)
	return RecommendOutput{Message: reply.Message, Recommendations: recs}, nil
}

// Chat serves the conversational flow, with the topic guard in front of the
// expensive generation call.
func (s *AdvisorService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "missing_tenant_id", nil)
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if len(message) > s.maxMessage {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	tenant, err := s.lookupTenant(ctx, tenantID)
	if err != nil {
		return ChatOutput{}, err
	}
	if err := s.ensureConfig(ctx); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	if needsClassification(message) {
		onTopic, err := s.llm.ClassifyTopic(ctx, s.model(), message)
		if err != nil {
			if status, ok := upstreamStatusCode(err); ok && status == 429 {
				return ChatOutput{}, newError(ErrorRateLimited, "classification_rate_limited", err)
			}
			return ChatOutput{}, newError(ErrorUpstream, "classification_error", err)
		}
		if !onTopic {
			s.log.Info().Str("tenant", tenantID).Msg("off-topic message redirected")
			return ChatOutput{Message: redirectMessage, Recommendations: []domain.Recommendation{}}, nil
		}
	}

	eligible, err := s.fetchEligible(ctx, tenantID)
	if err != nil {
		return ChatOutput{}, err
	}

	candidates := SelectConversational(eligible, s.selector)
	s.log.Debug().
		Str("tenant", tenantID).
		Int("eligible", len(eligible)).
		Int("candidates", len(candidates)).
		Msg("selected chat candidates")

	system := buildChatSystemPrompt(tenant, candidates)
	reply, err := s.generate(ctx, buildChatMessages(system, in.History, message))
	if err != nil {
		return ChatOutput{}, err
	}

	recs := s.reconcileAndLog(tenantID, reply.Recommendations, candidates)
	return ChatOutput{
		Message:          reply.Message,
		Recommendations:  recs,
		SuggestedReplies: reply.SuggestedReplies,
	}, nil
}

func (s *AdvisorService) lookupTenant(ctx context.Context, tenantID string) (domain.TenantConfig, error) {
	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTenant) {
			return domain.TenantConfig{}, newError(ErrorUnknownTenant, "unknown_tenant", err)
		}
		return domain.TenantConfig{}, newError(ErrorInternal, "tenant_config_error", err)
	}
	return tenant, nil
}

func (s *AdvisorService) fetchEligible(ctx context.Context, tenantID string) ([]domain.Product, error) {
	products, err := s.products.ProductsByTenant(ctx, tenantID)
	if err != nil {
		return nil, newError(ErrorInternal, "product_fetch_error", err)
	}
	return Eligible(products), nil
}

func (s *AdvisorService) generate(ctx context.Context, messages []domain.ChatMessage) (budtenderReply, error) {
	raw, err := s.llm.Chat(ctx, s.model(), messages)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return budtenderReply{}, newError(ErrorRateLimited, "openai_rate_limited", err)
		}
		return budtenderReply{}, newError(ErrorUpstream, "openai_error", err)
	}
	reply, err := parseBudtenderReply(raw)
	if err != nil {
		return budtenderReply{}, newError(ErrorUpstream, "openai_malformed_response", err)
	}
	return reply, nil
}

func (s *AdvisorService) reconcileAndLog(tenantID string, recs []domain.ModelRecommendation, candidates []domain.Product) []domain.Recommendation {
	enriched, dropped := reconcile(recs, candidates)
	if dropped > 0 {
		s.log.Warn().
			Str("tenant", tenantID).
			Int("dropped", dropped).
			Int("candidates", len(candidates)).
			Msg("model referenced product numbers outside the candidate list")
	}
	return enriched
}

func (s *AdvisorService) model() string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.chatModel
}

// ensureConfig loads the chat model name from the parameter store on the
// first request and caches it for the process lifetime. A failed load is
// retried on the next request.
func (s *AdvisorService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	model, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/openai_model")
	if err != nil {
		return err
	}
	s.chatModel = model
	s.cacheLoaded = true
	return nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
