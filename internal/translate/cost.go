package translate

import "github.com/kiranshivaraju/booktranslator/pkg/models"

// Pricing is USD per million tokens.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost estimates the USD cost of a token count.
func (p Pricing) Cost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1e6*p.InputPerMTok + float64(outputTokens)/1e6*p.OutputPerMTok
}

// Usage builds a models.Usage with the estimated cost filled in.
func (p Pricing) Usage(inputTokens, outputTokens int64) models.Usage {
	return models.Usage{
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		EstimatedCost: p.Cost(inputTokens, outputTokens),
	}
}
