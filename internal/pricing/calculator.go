package pricing

import "github.com/maestro-sh/maestro/internal/model"

// CalculateCost computes the cost in USD for a set of token counts under
// the given pricing and billing mode. Under max billing the cache rates
// are zeroed before summation, so any future cache category inherits the
// exemption; the input/output terms are unaffected. No rounding is
// applied; callers format for display.
func CalculateCost(tokens model.TokenCounts, p ModelPricing, mode model.BillingMode) float64 {
	if mode == model.BillingMax {
		p.CacheReadPerMTok = 0
		p.CacheWritePerMTok = 0
	}

	cost := float64(tokens.InputTokens) * p.InputPerMTok / 1_000_000
	cost += float64(tokens.OutputTokens) * p.OutputPerMTok / 1_000_000
	cost += float64(tokens.CacheReadTokens) * p.CacheReadPerMTok / 1_000_000
	cost += float64(tokens.CacheCreationTokens) * p.CacheWritePerMTok / 1_000_000
	return cost
}

// CalculateCostForModel resolves the model in the registry and computes
// the cost. Unknown models fall back to the default model's pricing so a
// novel identifier never blocks cost computation.
func CalculateCostForModel(tokens model.TokenCounts, modelID string, mode model.BillingMode) float64 {
	p, ok := ForModel(modelID)
	if !ok {
		p = Default()
	}
	return CalculateCost(tokens, p, mode)
}

// CacheSavings returns what the cache tokens of a query would have cost
// under API billing. Under max billing these tokens are free, so this is
// the subscription's saving on the query.
func CacheSavings(tokens model.TokenCounts, modelID string) float64 {
	p, ok := ForModel(modelID)
	if !ok {
		p = Default()
	}
	savings := float64(tokens.CacheReadTokens) * p.CacheReadPerMTok / 1_000_000
	savings += float64(tokens.CacheCreationTokens) * p.CacheWritePerMTok / 1_000_000
	return savings
}
