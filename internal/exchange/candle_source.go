package exchange

import "context"

// CandleSource adapts a Client to the context-less Closes(limit) shape the
// Price Ring and Market Context refresher depend on (they must not import
// net/http's context plumbing directly — both are pure, testable types).
type CandleSource struct {
	Client Client
	Symbol string
	Ctx    context.Context
}

// Closes returns the most recent 1-minute closes, oldest first.
func (c CandleSource) Closes(limit int) ([]float64, error) {
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return c.Client.GetCandles(ctx, c.Symbol, limit)
}
