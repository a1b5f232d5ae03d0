package usecase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"budtender-agent/internal/domain"
)

func TestProductLine_RequiredFieldsOnly(t *testing.T) {
	p := product("a", "Flower", 20, 0)
	line := productLine(3, p)
	require.Equal(t, `3. name:"Product a", brand:"Brand a", category:"Flower", price:$20`, line)
}

func TestProductLine_OptionalAttributes(t *testing.T) {
	p := product("a", "Cartridge 1000mg", 56.5, 94.1)
	p.CBDPercent = 0.3
	p.Strain = "Pineapple Express"
	p.Type = "sativa"

	line := productLine(1, p)
	require.Contains(t, line, "price:$56.5")
	require.Contains(t, line, "thc:94.1%")
	require.Contains(t, line, "cbd:0.3%")
	require.Contains(t, line, `strain:"Pineapple Express"`)
	require.Contains(t, line, `type:"sativa"`)
}

func TestProductLine_SkipsPlaceholderStrain(t *testing.T) {
	p := product("a", "Flower", 20, 15)
	p.Strain = "N/A"
	require.NotContains(t, productLine(1, p), "strain")
}

func TestBuildProductList_OrdinalsMatchCandidateOrder(t *testing.T) {
	candidates := []domain.Product{
		product("a", "Flower", 20, 15),
		product("b", "Vape", 60, 90),
		product("c", "Edibles", 15, 5),
	}

	list := buildProductList(candidates)
	lines := strings.Split(list, "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], `1. name:"Product a"`))
	require.True(t, strings.HasPrefix(lines[1], `2. name:"Product b"`))
	require.True(t, strings.HasPrefix(lines[2], `3. name:"Product c"`))
}

func TestBuildQuizPrompt_IncludesAnswersAndContract(t *testing.T) {
	candidates := []domain.Product{product("a", "Flower", 20, 15)}
	prompt := buildQuizPrompt(domain.QuizAnswers{
		Goal: "relax", Experience: "casual", Format: "Flower", Budget: "<25",
	}, candidates, false)

	require.Contains(t, prompt, "- Goal: relax")
	require.Contains(t, prompt, "- Experience: casual")
	require.Contains(t, prompt, "- Format preference: Flower")
	require.Contains(t, prompt, "- Budget: <25")
	require.Contains(t, prompt, `1. name:"Product a"`)
	require.Contains(t, prompt, "product NUMBER (1 to 1)")
	require.Contains(t, prompt, `"productNumber"`)
	require.NotContains(t, prompt, "closest alternatives")
}

func TestBuildQuizPrompt_DegradedAddsContextNote(t *testing.T) {
	prompt := buildQuizPrompt(domain.QuizAnswers{Format: "Edible"}, []domain.Product{product("a", "Flower", 20, 15)}, true)
	require.Contains(t, prompt, "We don't have exact matches for Edible")
}

func TestBuildChatSystemPrompt_CarriesPersonaAndBounds(t *testing.T) {
	tenant := domain.TenantConfig{
		Name: "Cannabis Healing",
		Tone: "friendly, street-lux, helpful",
	}
	candidates := []domain.Product{
		product("a", "Flower", 20, 15),
		product("b", "Vape", 60, 90),
	}

	prompt := buildChatSystemPrompt(tenant, candidates)
	require.Contains(t, prompt, "virtual budtender for Cannabis Healing")
	require.Contains(t, prompt, "Tone: friendly, street-lux, helpful")
	require.Contains(t, prompt, "AVAILABLE PRODUCTS:")
	require.Contains(t, prompt, "Valid product numbers are 1 to 2")
	require.Contains(t, prompt, "Never make medical claims")
}

func TestBuildChatMessages_BoundsHistory(t *testing.T) {
	history := make([]domain.ChatMessage, 0, 10)
	for i := 0; i < 10; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history = append(history, domain.ChatMessage{Role: role, Content: strings.Repeat("x", i+1)})
	}

	messages := buildChatMessages("system prompt", history, "current question")
	require.Len(t, messages, historyWindow+2)
	require.Equal(t, "system", messages[0].Role)
	require.Equal(t, "system prompt", messages[0].Content)
	// Only the most recent turns survive.
	require.Equal(t, history[len(history)-historyWindow], messages[1])
	require.Equal(t, "current question", messages[len(messages)-1].Content)
	require.Equal(t, "user", messages[len(messages)-1].Role)
}

func TestBuildChatMessages_ShortHistoryUntouched(t *testing.T) {
	history := []domain.ChatMessage{
		{Role: "user", Content: "help me sleep"},
		{Role: "assistant", Content: "What's your experience level?"},
	}
	messages := buildChatMessages("sys", history, "new to this")
	require.Len(t, messages, 4)
	require.Equal(t, history[0], messages[1])
	require.Equal(t, history[1], messages[2])
}

func TestParseBudtenderReply_Valid(t *testing.T) {
	reply, err := parseBudtenderReply(`{
		"message": "Here are two great options.",
		"recommendations": [
			{"productNumber": 1, "reason": "budget friendly"},
			{"productNumber": 2, "reason": "high potency"}
		],
		"suggestedReplies": ["Show cheaper options"]
	}`)
	require.NoError(t, err)
	require.Equal(t, "Here are two great options.", reply.Message)
	require.Len(t, reply.Recommendations, 2)
	require.Equal(t, 1, reply.Recommendations[0].ProductNumber)
	require.Equal(t, []string{"Show cheaper options"}, reply.SuggestedReplies)
}

func TestParseBudtenderReply_RepairsSloppyJSON(t *testing.T) {
	// Fenced output with a trailing comma: repairable, not fatal.
	raw := "```json\n{\"message\": \"ok\", \"recommendations\": [{\"productNumber\": 1, \"reason\": \"fits\"},]}\n```"
	reply, err := parseBudtenderReply(raw)
	require.NoError(t, err)
	require.Equal(t, "ok", reply.Message)
	require.Len(t, reply.Recommendations, 1)
}

func TestParseBudtenderReply_EmptyAndGarbage(t *testing.T) {
	_, err := parseBudtenderReply("")
	require.Error(t, err)

	_, err = parseBudtenderReply("   \n ")
	require.Error(t, err)
}

func TestParseBudtenderReply_MissingRecommendationsIsValid(t *testing.T) {
	reply, err := parseBudtenderReply(`{"message": "What's your experience level?"}`)
	require.NoError(t, err)
	require.Empty(t, reply.Recommendations)
	require.Equal(t, "What's your experience level?", reply.Message)
}
