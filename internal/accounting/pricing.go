package accounting

// DefaultPerToken is the fallback price per token for hosted providers.
const DefaultPerToken = 0.000002

// Pricing converts token counts into cost.
type Pricing struct {
	DefaultPerToken float64
	PerProvider     map[string]float64
}

// DefaultPricing prices local and mock providers at zero.
func DefaultPricing() Pricing {
	return Pricing{
		DefaultPerToken: DefaultPerToken,
		PerProvider: map[string]float64{
			"ollama": 0,
			"mock":   0,
		},
	}
}

// Cost returns the price of tokens on provider.
func (p Pricing) Cost(provider string, tokens int) float64 {
	if tokens <= 0 {
		return 0
	}
	price, ok := p.PerProvider[provider]
	if !ok {
		price = p.DefaultPerToken
	}
	return float64(tokens) * price
}
