package domain

import "errors"

// ErrUnknownTenant marks a tenant id with no configuration record. The
// handler maps it to a client-correctable error, distinct from internal
// failures.
var ErrUnknownTenant = errors.New("unknown tenant")

// TenantConfig is the per-store branding and persona record. It is loaded
// from the tenant configuration store once per request and is read-only
// within the pipeline.
type TenantConfig struct {
	TenantID     string            `json:"tenantId"`
	Name         string            `json:"name"`
	DisplayName  string            `json:"displayName"`
	Tone         string            `json:"tone"`
	MenuURL      string            `json:"menuUrl"`
	SystemPrompt string            `json:"systemPrompt"`
	Colors       map[string]string `json:"colors,omitempty"`
}

// QuizAnswers is the structured intent collected by the quiz flow.
// Goal and Experience are free-text tolerant; Budget is one of the closed
// bracket set "<25", "25-50", "50+", "none".
type QuizAnswers struct {
	Goal       string `json:"goal"`
	Experience string `json:"experience"`
	Format     string `json:"format"`
	Budget     string `json:"budget"`
}
