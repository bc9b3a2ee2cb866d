package llm

import "strings"

const (
	promptOverheadTokens = 200
	tokensPerWord        = 1.3
	maxOutputEstimate    = 300
)

// Pricing is the USD price per token.
type Pricing struct {
	Input  float64
	Output float64
}

var pricing = map[string]Pricing{
	"gpt-3.5-turbo": {Input: 0.0015 / 1000, Output: 0.002 / 1000},
	"gpt-4":         {Input: 0.03 / 1000, Output: 0.06 / 1000},
	"gpt-4-turbo":   {Input: 0.01 / 1000, Output: 0.03 / 1000},
}

// PricingFor returns the model price, defaulting to gpt-3.5-turbo rates.
func PricingFor(model string) Pricing {
	if p, ok := pricing[model]; ok {
		return p
	}
	return pricing["gpt-3.5-turbo"]
}

// EstimateCost estimates the USD cost of one call about content: a fixed
// prompt overhead plus 1.3 tokens per word in, and at most 300 tokens out.
func EstimateCost(content, model string, maxTokens int) float64 {
	in := promptOverheadTokens + float64(len(strings.Fields(content)))*tokensPerWord
	out := maxOutputEstimate
	if maxTokens > 0 && maxTokens < out {
		out = maxTokens
	}
	p := PricingFor(model)
	return in*p.Input + float64(out)*p.Output
}
