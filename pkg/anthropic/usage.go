package anthropic

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Usage counts the tokens billed for one completion.
type Usage struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

// USD per million tokens: input, output.
var pricing = map[string][2]string{
	"claude-haiku-4-5-20251001":  {"1.00", "5.00"},
	"claude-sonnet-4-5-20250929": {"3.00", "15.00"},
	"claude-opus-4-1-20250805":   {"15.00", "75.00"},
}

var (
	million         = decimal.NewFromInt(1_000_000)
	cacheWriteRatio = decimal.RequireFromString("1.25")
	cacheReadRatio  = decimal.RequireFromString("0.1")
)

// Cost estimates the USD cost of u on model, rounded to 6 decimals. Unknown
// models cost zero.
func (u Usage) Cost(model string) decimal.Decimal {
	p, ok := pricing[model]
	if !ok {
		return decimal.Zero
	}
	in := decimal.RequireFromString(p[0]).Div(million)
	out := decimal.RequireFromString(p[1]).Div(million)

	return in.Mul(decimal.NewFromInt(u.Input)).
		Add(out.Mul(decimal.NewFromInt(u.Output))).
		Add(in.Mul(cacheWriteRatio).Mul(decimal.NewFromInt(u.CacheWrite))).
		Add(in.Mul(cacheReadRatio).Mul(decimal.NewFromInt(u.CacheRead))).
		Round(6)
}

// Log records token usage and estimated cost for phase.
func (u Usage) Log(model, phase string) {
	zap.L().Info("anthropic: usage",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", u.Input),
		zap.Int64("output_tokens", u.Output),
		zap.Int64("cache_write_tokens", u.CacheWrite),
		zap.Int64("cache_read_tokens", u.CacheRead),
		zap.String("estimated_cost_usd", u.Cost(model).String()),
	)
}
