package orchestrator

import "strings"

// modelPricing is USD per million tokens.
type modelPricing struct {
	prompt     float64
	cachedRead float64
	completion float64
}

// priceTable holds static per-model rates. Cost accounting degrades to
// zero for models absent from the table.
var priceTable = map[string]modelPricing{
	"gpt-4o":                    {prompt: 2.50, cachedRead: 1.25, completion: 10.00},
	"gpt-4o-mini":               {prompt: 0.15, cachedRead: 0.075, completion: 0.60},
	"gpt-4.1":                   {prompt: 2.00, cachedRead: 0.50, completion: 8.00},
	"gpt-4.1-mini":              {prompt: 0.40, cachedRead: 0.10, completion: 1.60},
	"o3-mini":                   {prompt: 1.10, cachedRead: 0.55, completion: 4.40},
	"claude-sonnet-4-20250514":  {prompt: 3.00, cachedRead: 0.30, completion: 15.00},
	"claude-opus-4-20250514":    {prompt: 15.00, cachedRead: 1.50, completion: 75.00},
	"claude-3-5-haiku-20241022": {prompt: 0.80, cachedRead: 0.08, completion: 4.00},
}

// computeCost returns the USD cost of one completion call, or zero when
// the model is not in the price table.
func computeCost(model string, promptTokens, completionTokens, cachedTokens int) float64 {
	pricing, ok := priceTable[model]
	if !ok {
		// Provider-prefixed names like "openai/gpt-4o" still resolve.
		if i := strings.LastIndex(model, "/"); i >= 0 {
			pricing, ok = priceTable[model[i+1:]]
		}
		if !ok {
			return 0
		}
	}
	if cachedTokens > promptTokens {
		cachedTokens = promptTokens
	}
	uncached := promptTokens - cachedTokens
	cost := float64(uncached) * pricing.prompt
	cost += float64(cachedTokens) * pricing.cachedRead
	cost += float64(completionTokens) * pricing.completion
	return cost / 1e6
}
