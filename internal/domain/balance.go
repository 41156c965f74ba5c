package domain

import "github.com/shopspring/decimal"

// Balances maps asset code to available amount.
type Balances map[string]decimal.Decimal

// Quote returns the balance for the quote currency, trying the venue's
// legacy asset code first (e.g. ZUSD) and falling back to the plain code.
func (b Balances) Quote(asset string) decimal.Decimal {
	if v, ok := b["Z"+asset]; ok {
		return v
	}
	return b[asset]
}

// Clone returns an independent copy.
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}
