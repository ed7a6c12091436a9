// Package cost prices completion calls and counts tokens.
package cost

import "github.com/TobiSchelling/kursil/internal/config"

// Calculator converts token counts into a monetary cost.
type Calculator struct {
	InputRate  float64 // per 1000 input tokens
	OutputRate float64 // per 1000 output tokens
	PerCallFee float64
	Multiplier float64
	Currency   string
}

// NewCalculator builds a Calculator from the cost config section.
func NewCalculator(cfg config.Cost) Calculator {
	return Calculator{
		InputRate:  cfg.InputRate,
		OutputRate: cfg.OutputRate,
		PerCallFee: cfg.PerCallFee,
		Multiplier: cfg.Multiplier,
		Currency:   cfg.Currency,
	}
}

// Default returns the built-in pricing (USD rates converted to IDR).
func Default() Calculator {
	return Calculator{
		InputRate:  0.005,
		OutputRate: 0.015,
		PerCallFee: 0.008,
		Multiplier: 16500,
		Currency:   "IDR",
	}
}

// Cost returns the price of one call with the given token counts.
// Negative counts are treated as zero.
func (c Calculator) Cost(inputTokens, outputTokens int) float64 {
	in := float64(max(inputTokens, 0))
	out := float64(max(outputTokens, 0))
	usd := in/1000*c.InputRate + out/1000*c.OutputRate + c.PerCallFee
	return usd * c.Multiplier
}
