package usecase

import (
	"strings"

	"budtender-agent/internal/domain"
)

const (
	// highTHCThreshold is the percentage at or above which a product is
	// deprioritized for new users who are not chasing potency.
	highTHCThreshold = 28.0

	defaultFallbackLimit = 20
)

// SelectorConfig collapses the two historical endpoint variants into one
// configurable pipeline.
type SelectorConfig struct {
	// MaxCandidates caps the final candidate list. Zero means unlimited.
	MaxCandidates int
	// BucketLimit caps each category bucket in the conversational
	// grouping. Zero means unlimited.
	BucketLimit int
	// FallbackLimit bounds the absolute fallback slice when every filter
	// empties the set. Zero means defaultFallbackLimit.
	FallbackLimit int
}

func (c SelectorConfig) fallbackLimit() int {
	if c.FallbackLimit <= 0 {
		return defaultFallbackLimit
	}
	return c.FallbackLimit
}

// Eligible narrows a tenant catalog to products that may be recommended at
// all. Catalog order is preserved.
func Eligible(products []domain.Product) []domain.Product {
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if p.Eligible() {
			out = append(out, p)
		}
	}
	return out
}

// SelectStructured runs the quiz-intent filter cascade over the eligible set
// and returns the ordered candidate list together with a degraded flag. The
// flag is set when the requested format had no exact match and the selector
// fell back to the full eligible set.
func SelectStructured(eligible []domain.Product, answers domain.QuizAnswers, cfg SelectorConfig) ([]domain.Product, bool) {
	candidates := eligible
	exactFormat := true

	formatRequested := answers.Format != "" && !strings.EqualFold(answers.Format, "any")
	if formatRequested {
		matches := filterFormat(candidates, answers.Format)
		if len(matches) > 0 {
			candidates = matches
		} else {
			// No exact matches: keep the full set and surface the
			// closest alternatives instead.
			exactFormat = false
		}
	}

	budgetRequested := answers.Budget != "" && answers.Budget != "none"
	if budgetRequested {
		candidates = filterBudget(candidates, answers.Budget)
	}

	// Budget emptied the set: discard the budget filter and restart from
	// the post-format set. The format filter is re-applied only when the
	// original match was exact.
	if len(candidates) == 0 && budgetRequested {
		candidates = eligible
		if formatRequested && exactFormat {
			candidates = filterFormat(candidates, answers.Format)
		}
	}

	if answers.Experience == "new" && answers.Goal != "high" {
		candidates = partitionByTHC(candidates)
	}

	if len(candidates) == 0 {
		candidates = bounded(eligible, cfg.fallbackLimit())
	}

	if cfg.MaxCandidates > 0 {
		candidates = bounded(candidates, cfg.MaxCandidates)
	}
	return candidates, formatRequested && !exactFormat
}

// categoryBuckets is the fixed grouping order for the conversational
// variant. Substrings are matched case-insensitively against the free-text
// category; upstream catalogs are not normalized.
var categoryBuckets = [][]string{
	{"flower"},
	{"roll"},
	{"cartridge", "vape"},
	{"edible"},
	{"concentrate", "rosin"},
}

// SelectConversational groups the eligible set into category buckets and
// concatenates them in bucket order. Products matching no bucket are
// excluded; a product joins only its first matching bucket so no ordinal
// can refer to the same record twice.
func SelectConversational(eligible []domain.Product, cfg SelectorConfig) []domain.Product {
	out := make([]domain.Product, 0, len(eligible))
	for b := range categoryBuckets {
		taken := 0
		for _, p := range eligible {
			if bucketOf(p.Category) != b {
				continue
			}
			if cfg.BucketLimit > 0 && taken >= cfg.BucketLimit {
				break
			}
			out = append(out, p)
			taken++
		}
	}
	if cfg.MaxCandidates > 0 {
		out = bounded(out, cfg.MaxCandidates)
	}
	return out
}

func bucketOf(category string) int {
	c := strings.ToLower(category)
	for i, subs := range categoryBuckets {
		for _, sub := range subs {
			if strings.Contains(c, sub) {
				return i
			}
		}
	}
	return -1
}

func filterFormat(products []domain.Product, format string) []domain.Product {
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if strings.EqualFold(p.Category, format) {
			out = append(out, p)
		}
	}
	return out
}

func filterBudget(products []domain.Product, bracket string) []domain.Product {
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if withinBudget(bracket, p.Price) {
			out = append(out, p)
		}
	}
	return out
}

func withinBudget(bracket string, price float64) bool {
	switch bracket {
	case "<25":
		return price < 25
	case "25-50":
		return price >= 25 && price <= 50
	case "50+":
		return price > 50
	default:
		return true
	}
}

// partitionByTHC is a stable partition: products below the THC threshold
// (or with unknown THC) keep their relative order ahead of products at or
// above it. A soft deprioritization, not a removal.
func partitionByTHC(products []domain.Product) []domain.Product {
	low := make([]domain.Product, 0, len(products))
	high := make([]domain.Product, 0)
	for _, p := range products {
		if p.THCPercent > 0 && p.THCPercent >= highTHCThreshold {
			high = append(high, p)
		} else {
			low = append(low, p)
		}
	}
	return append(low, high...)
}

func bounded(products []domain.Product, limit int) []domain.Product {
	if limit <= 0 || len(products) <= limit {
		return products
	}
	return products[:limit]
}

// ValidBudget reports whether the bracket is one of the closed set accepted
// by the quiz flow.
func ValidBudget(bracket string) bool {
	switch bracket {
	case "", "none", "<25", "25-50", "50+":
		return true
	default:
		return false
	}
}
