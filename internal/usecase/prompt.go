package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"budtender-agent/internal/domain"
)

// historyWindow bounds the replayed conversation to the most recent turns so
// prompt size stays bounded regardless of how long the chat has run.
const historyWindow = 6

// budtenderReply is the fixed output schema the model must produce.
type budtenderReply struct {
	Message          string                       `json:"message"`
	Recommendations  []domain.ModelRecommendation `json:"recommendations"`
	SuggestedReplies []string                     `json:"suggestedReplies"`
}

// productLine renders one numbered candidate entry. The ordinal must equal
// the candidate's 1-based position in the list handed to the reconciler.
func productLine(ordinal int, p domain.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d. name:%q, brand:%q, category:%q, price:$%s",
		ordinal, p.Name, p.Brand, p.Category, formatPrice(p.Price))
	if p.THCPercent > 0 {
		fmt.Fprintf(&b, ", thc:%s%%", formatPercent(p.THCPercent))
	}
	if p.CBDPercent > 0 {
		fmt.Fprintf(&b, ", cbd:%s%%", formatPercent(p.CBDPercent))
	}
	if p.Strain != "" && !strings.EqualFold(p.Strain, "N/A") {
		fmt.Fprintf(&b, ", strain:%q", p.Strain)
	}
	if p.Type != "" {
		fmt.Fprintf(&b, ", type:%q", p.Type)
	}
	return b.String()
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// buildProductList renders the full numbered candidate list, one product per
// line, in candidate order.
func buildProductList(candidates []domain.Product) string {
	lines := make([]string, 0, len(candidates))
	for i, p := range candidates {
		lines = append(lines, productLine(i+1, p))
	}
	return strings.Join(lines, "\n")
}

// buildQuizPrompt renders the structured-intent task prompt: the customer's
// quiz answers, the numbered candidate list, and the output contract.
func buildQuizPrompt(answers domain.QuizAnswers, candidates []domain.Product, degraded bool) string {
	var contextNote string
	if degraded {
		contextNote = fmt.Sprintf(
			"\n\nNote: We don't have exact matches for %s right now, so I'm showing you the closest alternatives that might work for you.",
			answers.Format,
		)
	}

	return strings.Join([]string{
		"The customer told you:",
		"- Goal: " + answers.Goal,
		"- Experience: " + answers.Experience,
		"- Format preference: " + answers.Format,
		"- Budget: " + answers.Budget + contextNote,
		"",
		"Here are the available products:",
		"",
		buildProductList(candidates),
		"",
		"Using ONLY these products, choose 2-4 that best match the customer. " +
			"Be conversational and friendly. If they wanted a specific format but we don't have it, " +
			"acknowledge that and explain why your recommendations are still great alternatives.",
		"",
		fmt.Sprintf("IMPORTANT: Use the product NUMBER (1 to %d), never names or IDs.", len(candidates)),
		"",
		outputContract(),
	}, "\n")
}

// buildChatSystemPrompt renders the conversational system prompt: tenant
// persona, behavior rules, the numbered candidate list, category-matching
// guidance for unnormalized catalogs, and the output contract.
func buildChatSystemPrompt(tenant domain.TenantConfig, candidates []domain.Product) string {
	return strings.Join([]string{
		fmt.Sprintf("You are a friendly and knowledgeable virtual budtender for %s. Tone: %s.", tenant.Name, tenant.Tone),
		"Your role is to help customers find the perfect cannabis products from the current inventory.",
		"",
		"Rules:",
		chatBehaviorRules(),
		"",
		"AVAILABLE PRODUCTS:",
		buildProductList(candidates),
		"",
		"CATEGORY MATCHING (actual categories from inventory):",
		`- "vapes" = category contains "Cartridge" or "Vape"`,
		`- "flower" = category contains "Flower"`,
		`- "pre-rolls" = category contains "Roll"`,
		`- "edibles" = category contains "Edible"`,
		`- "concentrates" = category contains "Concentrate" or "Rosin"`,
		"",
		fmt.Sprintf("Valid product numbers are 1 to %d. Never invent numbers outside that range.", len(candidates)),
		"",
		outputContract(),
	}, "\n")
}

func chatBehaviorRules() string {
	return strings.Join([]string{
		"1) Be conversational and concise (2-3 sentences max).",
		"2) If the customer asks for a specific brand, category, or type, show matching products immediately instead of asking follow-up questions.",
		"3) Only ask clarifying questions for vague requests.",
		"4) Search both the name and brand fields when a brand is requested.",
		"5) Never make medical claims; describe effects in general terms.",
		"6) Be truthful about inventory: if nothing matches the request, say so and offer to adjust budget or category.",
		"7) Include 4-6 products when recommending.",
		"8) Review the conversation history and do not repeat questions already asked.",
	}, "\n")
}

func outputContract() string {
	return "Respond ONLY with valid JSON matching this exact format: " +
		`{"message": "your message", "recommendations": [{"productNumber": 5, "reason": "why this fits"}], "suggestedReplies": ["Option 1"]}. ` +
		"Use the product NUMBER from the list, not names or IDs. " +
		"Only include suggestedReplies when asking a question or offering alternatives."
}

// buildChatMessages assembles the conversational message sequence: system
// prompt, the bounded recent history, then the current user message.
func buildChatMessages(system string, history []domain.ChatMessage, message string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, historyWindow+2)
	messages = append(messages, domain.ChatMessage{Role: "system", Content: system})
	messages = append(messages, boundHistory(history)...)
	messages = append(messages, domain.ChatMessage{Role: "user", Content: message})
	return messages
}

func boundHistory(history []domain.ChatMessage) []domain.ChatMessage {
	if len(history) <= historyWindow {
		return history
	}
	return history[len(history)-historyWindow:]
}

// parseBudtenderReply decodes the model output. Malformed JSON gets one
// repair pass before the request is declared failed; semantically invalid
// product numbers are left for the reconciler.
func parseBudtenderReply(raw string) (budtenderReply, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return budtenderReply{}, errors.New("usecase: empty model reply")
	}

	var out budtenderReply
	if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
		return out, nil
	}

	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return budtenderReply{}, fmt.Errorf("usecase: repair model reply: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return budtenderReply{}, fmt.Errorf("usecase: decode model reply: %w", err)
	}
	return out, nil
}
