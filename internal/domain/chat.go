package domain

// ChatMessage is the provider-agnostic chat message shape used by the handler
// and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelRecommendation is one raw product reference emitted by the model.
// ProductNumber is a 1-based ordinal into the candidate list that was used
// to build the prompt; it is meaningless outside that single request.
type ModelRecommendation struct {
	ProductNumber int    `json:"productNumber"`
	Reason        string `json:"reason"`
}

// Recommendation pairs a reconciled product snapshot with the model's
// justification.
type Recommendation struct {
	Product RecommendedProduct `json:"product"`
	Reason  string             `json:"reason"`
}
