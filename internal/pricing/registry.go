// Package pricing holds the static model pricing registry, the cost
// calculator, and the layered billing-mode/model resolver.
package pricing

import (
	"sort"
	"strings"
)

// ModelPricing holds per-million-token prices for a model.
type ModelPricing struct {
	InputPerMTok      float64
	OutputPerMTok     float64
	CacheReadPerMTok  float64
	CacheWritePerMTok float64
}

// DefaultModel prices queries whose model the registry does not know.
// Unknown models must never yield a null pricing inside money math.
const DefaultModel = "claude-sonnet-4-5"

// registry maps model base names to their pricing.
var registry = map[string]ModelPricing{
	"claude-opus-4-6": {
		InputPerMTok: 5.00, OutputPerMTok: 25.00,
		CacheReadPerMTok: 0.50, CacheWritePerMTok: 6.25,
	},
	"claude-opus-4-5": {
		InputPerMTok: 5.00, OutputPerMTok: 25.00,
		CacheReadPerMTok: 0.50, CacheWritePerMTok: 6.25,
	},
	"claude-opus-4-1": {
		InputPerMTok: 15.00, OutputPerMTok: 75.00,
		CacheReadPerMTok: 1.50, CacheWritePerMTok: 18.75,
	},
	"claude-opus-4": {
		InputPerMTok: 15.00, OutputPerMTok: 75.00,
		CacheReadPerMTok: 1.50, CacheWritePerMTok: 18.75,
	},
	"claude-sonnet-4-6": {
		InputPerMTok: 3.00, OutputPerMTok: 15.00,
		CacheReadPerMTok: 0.30, CacheWritePerMTok: 3.75,
	},
	"claude-sonnet-4-5": {
		InputPerMTok: 3.00, OutputPerMTok: 15.00,
		CacheReadPerMTok: 0.30, CacheWritePerMTok: 3.75,
	},
	"claude-sonnet-4": {
		InputPerMTok: 3.00, OutputPerMTok: 15.00,
		CacheReadPerMTok: 0.30, CacheWritePerMTok: 3.75,
	},
	"claude-haiku-4-5": {
		InputPerMTok: 1.00, OutputPerMTok: 5.00,
		CacheReadPerMTok: 0.10, CacheWritePerMTok: 1.25,
	},
	"claude-haiku-3-5": {
		InputPerMTok: 0.80, OutputPerMTok: 4.00,
		CacheReadPerMTok: 0.08, CacheWritePerMTok: 1.00,
	},
}

// aliases maps short names to canonical registry keys. Lookup is
// case-insensitive.
var aliases = map[string]string{
	"opus":   "claude-opus-4-6",
	"sonnet": "claude-sonnet-4-6",
	"haiku":  "claude-haiku-4-5",
}

func hasPricingModel(id string) bool {
	_, ok := registry[id]
	return ok
}

// NormalizeModelName strips date suffixes from model identifiers.
// e.g., "claude-opus-4-5-20251101" -> "claude-opus-4-5"
func NormalizeModelName(raw string) string {
	if hasPricingModel(raw) {
		return raw
	}

	// Models can have date suffixes like -20251101 (8 digits).
	parts := strings.Split(raw, "-")
	if len(parts) >= 2 {
		last := parts[len(parts)-1]
		if isAllDigits(last) && len(last) >= 8 {
			candidate := strings.Join(parts[:len(parts)-1], "-")
			if hasPricingModel(candidate) {
				return candidate
			}
		}
	}

	return raw
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// ForModel returns the pricing for a model identifier or alias,
// case-insensitive, normalizing date suffixes first. The boolean is
// false only when the identifier is truly unknown.
func ForModel(id string) (ModelPricing, bool) {
	lower := strings.ToLower(strings.TrimSpace(id))
	if canonical, ok := aliases[lower]; ok {
		lower = canonical
	}
	p, ok := registry[NormalizeModelName(lower)]
	return p, ok
}

// Default returns the pricing of the application default model.
func Default() ModelPricing {
	return registry[DefaultModel]
}

// KnownModels returns the canonical model ids with pricing entries,
// for display purposes.
func KnownModels() []string {
	models := make([]string, 0, len(registry))
	for id := range registry {
		models = append(models, id)
	}
	sort.Strings(models)
	return models
}
