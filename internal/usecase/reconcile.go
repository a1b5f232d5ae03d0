package usecase

import "budtender-agent/internal/domain"

// reconcile maps the model's 1-based ordinals back onto the exact candidate
// list that built the prompt. References outside [1, len(candidates)] or
// with a missing ordinal are dropped and counted; a hallucinated reference
// must never fail the whole request.
func reconcile(recs []domain.ModelRecommendation, candidates []domain.Product) ([]domain.Recommendation, int) {
	out := make([]domain.Recommendation, 0, len(recs))
	dropped := 0
	for _, rec := range recs {
		idx := rec.ProductNumber - 1
		if idx < 0 || idx >= len(candidates) {
			dropped++
			continue
		}
		out = append(out, domain.Recommendation{
			Product: candidates[idx].Snapshot(),
			Reason:  rec.Reason,
		})
	}
	return out, dropped
}
