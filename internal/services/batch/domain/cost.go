package domain

// Pricing assumptions for the interactive estimate
const (
	TokensPerImage       = 1000
	RealtimeUSDPer1K     = 0.000075
	BatchDiscountPercent = 50
)

// Estimate is a rough cost projection for n images
type Estimate struct {
	Images      int
	Tokens      int
	RealtimeUSD float64
	BatchUSD    float64
	SavingsUSD  float64
}

// EstimateCost projects the cost of describing n images on both paths
func EstimateCost(n int) Estimate {
	if n < 0 {
		n = 0
	}
	tokens := n * TokensPerImage
	rt := float64(tokens) / 1000 * RealtimeUSDPer1K
	bt := rt * float64(100-BatchDiscountPercent) / 100
	return Estimate{Images: n, Tokens: tokens, RealtimeUSD: rt, BatchUSD: bt, SavingsUSD: rt - bt}
}
