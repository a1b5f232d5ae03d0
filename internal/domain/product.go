package domain

// Product is a single catalog record scoped to one tenant. Records are
// written wholesale by the periodic catalog import and are read-only within
// a request.
type Product struct {
	TenantID        string
	ID              string
	Name            string
	Brand           string
	Category        string
	Price           float64
	IsCannabis      bool
	AvailableOnline bool
	InStock         int
	THCPercent      float64 // 0 means unknown
	CBDPercent      float64 // 0 means unknown
	Strain          string
	Type            string
	ImageURL        string
	ShopURL         string
}

// Eligible reports whether the product may be offered as a recommendation
// candidate at all.
func (p Product) Eligible() bool {
	return p.IsCannabis && p.InStock > 0 && p.AvailableOnline
}

// RecommendedProduct is the presentation snapshot attached to an enriched
// recommendation. It deliberately omits internal catalog fields such as
// stock counts and the raw tenant id.
type RecommendedProduct struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Brand      string  `json:"brand"`
	Price      float64 `json:"price"`
	THCPercent float64 `json:"thcPercent,omitempty"`
	ImageURL   string  `json:"imageUrl,omitempty"`
	Category   string  `json:"category"`
	Strain     string  `json:"strain,omitempty"`
	ShopURL    string  `json:"shopUrl,omitempty"`
}

// Snapshot converts a full catalog record into its presentation form.
func (p Product) Snapshot() RecommendedProduct {
	return RecommendedProduct{
		ID:         p.ID,
		Name:       p.Name,
		Brand:      p.Brand,
		Price:      p.Price,
		THCPercent: p.THCPercent,
		ImageURL:   p.ImageURL,
		Category:   p.Category,
		Strain:     p.Strain,
		ShopURL:    p.ShopURL,
	}
}
