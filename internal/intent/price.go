package intent

import (
	"time"

	"github.com/shopspring/decimal"

	"main/internal/schema"
	"main/pkg/exception"
)

var two = decimal.NewFromInt(2)

// Quote is a live market quote for one symbol.
type Quote struct {
	Bid  decimal.Decimal
	Ask  decimal.Decimal
	Last decimal.Decimal
	At   time.Time
}

// PriceBook resolves a priming price per symbol from live quotes with a
// historical-close fallback. Adaptive and market order types still need
// a priming price for downstream consistency checks, so resolution
// never returns zero on success.
type PriceBook struct {
	Quotes      map[string]Quote
	Closes      map[string]decimal.Decimal
	QuoteMaxAge time.Duration

	now func() time.Time
}

// NewPriceBook builds a price book over the given quotes and closes.
func NewPriceBook(quotes map[string]Quote, closes map[string]decimal.Decimal, quoteMaxAge time.Duration) *PriceBook {
	return &PriceBook{
		Quotes:      quotes,
		Closes:      closes,
		QuoteMaxAge: quoteMaxAge,
		now:         time.Now,
	}
}

// Resolve returns the priming price for a symbol and side.
// Preference order: quote mid, then last, then the side's touch, then
// the latest historical close when the quote is stale or missing.
func (p *PriceBook) Resolve(symbol string, side schema.OrderSide) (decimal.Decimal, error) {
	if quote, ok := p.Quotes[symbol]; ok && p.fresh(quote) {
		if price, ok := resolveFromQuote(quote, side); ok {
			return price, nil
		}
	}
	if close, ok := p.Closes[symbol]; ok && close.IsPositive() {
		return close, nil
	}
	return decimal.Zero, exception.ErrPriceUnavailable
}

func (p *PriceBook) fresh(q Quote) bool {
	if p.QuoteMaxAge <= 0 {
		return true
	}
	if q.At.IsZero() {
		return false
	}
	return p.now().Sub(q.At) <= p.QuoteMaxAge
}

func resolveFromQuote(q Quote, side schema.OrderSide) (decimal.Decimal, bool) {
	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q.Bid.Add(q.Ask).Div(two), true
	}
	if q.Last.IsPositive() {
		return q.Last, true
	}
	touch := q.Ask
	if side == schema.SideSell {
		touch = q.Bid
	}
	if touch.IsPositive() {
		return touch, true
	}
	return decimal.Zero, false
}
