package exception

import "errors"

var (
	ErrOrderNotFound          = errors.New("order: not found")
	ErrOrdersEmpty            = errors.New("order: no deltas to trade")
	ErrPortfolioValueRequired = errors.New("order: portfolio value required for notional sizing")
	ErrPriceUnavailable       = errors.New("order: no usable price for symbol")
)
