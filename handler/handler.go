package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"budtender-agent/internal/domain"
	"budtender-agent/internal/usecase"
)

const headerCorrelationID = "X-Correlation-Id"

// Advisor is the recommendation pipeline consumed by the handler.
type Advisor interface {
	Recommend(ctx context.Context, in usecase.RecommendInput) (usecase.RecommendOutput, error)
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

// TenantDirectory serves the public tenant config and listing endpoints.
type TenantDirectory interface {
	GetTenant(ctx context.Context, tenantID string) (domain.TenantConfig, error)
	ListTenants(ctx context.Context) ([]domain.TenantConfig, error)
}

// ProductLister serves the debug product listing endpoint.
type ProductLister interface {
	ProductsByTenant(ctx context.Context, tenantID string) ([]domain.Product, error)
}

// Handler routes API Gateway proxy events to the pipeline and maps pipeline
// errors onto HTTP statuses.
type Handler struct {
	advisor  Advisor
	tenants  TenantDirectory
	products ProductLister
	log      zerolog.Logger
}

func NewHandler(advisor Advisor, tenants TenantDirectory, products ProductLister, log zerolog.Logger) (*Handler, error) {
	if advisor == nil {
		return nil, errors.New("handler: advisor must not be nil")
	}
	if tenants == nil {
		return nil, errors.New("handler: tenant directory must not be nil")
	}
	if products == nil {
		return nil, errors.New("handler: product lister must not be nil")
	}
	return &Handler{advisor: advisor, tenants: tenants, products: products, log: log}, nil
}

type recommendRequest struct {
	TenantID string             `json:"tenantId"`
	Answers  domain.QuizAnswers `json:"answers"`
}

type recommendResponse struct {
	Message         string                  `json:"message"`
	Recommendations []domain.Recommendation `json:"recommendations"`
}

type chatRequest struct {
	TenantID            string               `json:"tenantId"`
	Message             string               `json:"message"`
	ConversationHistory []domain.ChatMessage `json:"conversationHistory"`
}

type chatResponse struct {
	Message          string                  `json:"message"`
	Recommendations  []domain.Recommendation `json:"recommendations"`
	SuggestedReplies []string                `json:"suggestedReplies,omitempty"`
}

type tenantSummary struct {
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// publicTenantConfig is the tenant record exposed to the widget. The system
// prompt stays server-side.
type publicTenantConfig struct {
	TenantID    string            `json:"tenantId"`
	Name        string            `json:"name"`
	DisplayName string            `json:"displayName"`
	Colors      map[string]string `json:"colors,omitempty"`
	MenuURL     string            `json:"menuUrl"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Handle is the Lambda entrypoint for all routes.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	log := h.log.With().Str("correlationId", corrID).Str("path", event.Path).Logger()

	resp := h.route(ctx, event, log)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers["Content-Type"] = "application/json"
	resp.Headers[headerCorrelationID] = corrID
	return resp, nil
}

func (h *Handler) route(ctx context.Context, event events.APIGatewayProxyRequest, log zerolog.Logger) events.APIGatewayProxyResponse {
	switch {
	case event.HTTPMethod == http.MethodPost && event.Path == "/recommend":
		return h.handleRecommend(ctx, event.Body, log)
	case event.HTTPMethod == http.MethodPost && event.Path == "/chat":
		return h.handleChat(ctx, event.Body, log)
	case event.HTTPMethod == http.MethodGet && event.Path == "/health":
		return jsonResponse(http.StatusOK, map[string]string{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	case event.HTTPMethod == http.MethodGet && event.Path == "/tenants":
		return h.handleListTenants(ctx, log)
	case event.HTTPMethod == http.MethodGet && strings.HasPrefix(event.Path, "/tenant/") && strings.HasSuffix(event.Path, "/config"):
		tenantID := strings.TrimSuffix(strings.TrimPrefix(event.Path, "/tenant/"), "/config")
		return h.handleTenantConfig(ctx, tenantID, log)
	case event.HTTPMethod == http.MethodGet && event.Path == "/products":
		return h.handleListProducts(ctx, event.QueryStringParameters["tenantId"], log)
	default:
		return errResponse(http.StatusNotFound, string(usecase.ErrorInvalidInput), "no such route")
	}
}

func (h *Handler) handleRecommend(ctx context.Context, body string, log zerolog.Logger) events.APIGatewayProxyResponse {
	var req recommendRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return errResponse(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "malformed request body")
	}

	out, err := h.advisor.Recommend(ctx, usecase.RecommendInput{TenantID: req.TenantID, Answers: req.Answers})
	if err != nil {
		return h.errorFor(err, log)
	}
	return jsonResponse(http.StatusOK, recommendResponse{
		Message:         out.Message,
		Recommendations: nonNil(out.Recommendations),
	})
}

func (h *Handler) handleChat(ctx context.Context, body string, log zerolog.Logger) events.APIGatewayProxyResponse {
	var req chatRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return errResponse(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "malformed request body")
	}

	out, err := h.advisor.Chat(ctx, usecase.ChatInput{
		TenantID: req.TenantID,
		Message:  req.Message,
		History:  req.ConversationHistory,
	})
	if err != nil {
		return h.errorFor(err, log)
	}
	return jsonResponse(http.StatusOK, chatResponse{
		Message:          out.Message,
		Recommendations:  nonNil(out.Recommendations),
		SuggestedReplies: out.SuggestedReplies,
	})
}

func (h *Handler) handleListTenants(ctx context.Context, log zerolog.Logger) events.APIGatewayProxyResponse {
	tenants, err := h.tenants.ListTenants(ctx)
	if err != nil {
		return h.errorFor(err, log)
	}
	summaries := make([]tenantSummary, 0, len(tenants))
	for _, t := range tenants {
		summaries = append(summaries, tenantSummary{TenantID: t.TenantID, Name: t.Name, DisplayName: t.DisplayName})
	}
	return jsonResponse(http.StatusOK, map[string]any{"tenants": summaries})
}

func (h *Handler) handleTenantConfig(ctx context.Context, tenantID string, log zerolog.Logger) events.APIGatewayProxyResponse {
	tenant, err := h.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTenant) {
			return errResponse(http.StatusNotFound, string(usecase.ErrorUnknownTenant), "unknown tenant: "+tenantID)
		}
		return h.errorFor(err, log)
	}
	return jsonResponse(http.StatusOK, publicTenantConfig{
		TenantID:    tenant.TenantID,
		Name:        tenant.Name,
		DisplayName: tenant.DisplayName,
		Colors:      tenant.Colors,
		MenuURL:     tenant.MenuURL,
	})
}

func (h *Handler) handleListProducts(ctx context.Context, tenantID string, log zerolog.Logger) events.APIGatewayProxyResponse {
	if strings.TrimSpace(tenantID) == "" {
		return errResponse(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "tenantId is required")
	}
	products, err := h.products.ProductsByTenant(ctx, tenantID)
	if err != nil {
		return h.errorFor(err, log)
	}
	return jsonResponse(http.StatusOK, map[string]any{"products": products, "count": len(products)})
}

// errorFor maps pipeline errors to HTTP statuses. Hard failures get a
// generic message plus an internal reason, never raw error chains.
func (h *Handler) errorFor(err error, log zerolog.Logger) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		log.Error().Err(err).Msg("unexpected handler error")
		return errResponse(http.StatusInternalServerError, string(usecase.ErrorInternal), "unexpected_error")
	}

	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorUnknownTenant:
		status = http.StatusNotFound
	case usecase.ErrorRateLimited:
		status = http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	}
	if status >= 500 || status == http.StatusBadGateway {
		log.Error().Err(err).Str("reason", ucErr.Reason).Msg("request failed")
	}
	return errResponse(status, string(ucErr.Code), ucErr.Reason)
}

func errResponse(status int, code, detail string) events.APIGatewayProxyResponse {
	return jsonResponse(status, errorResponse{
		Error:   code,
		Message: "We couldn't process that request.",
		Detail:  detail,
	})
}

func jsonResponse(status int, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       `{"error":"INTERNAL_ERROR","message":"We couldn't process that request."}`,
		}
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Body: string(raw)}
}

func nonNil(recs []domain.Recommendation) []domain.Recommendation {
	if recs == nil {
		return []domain.Recommendation{}
	}
	return recs
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, headerCorrelationID) && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
