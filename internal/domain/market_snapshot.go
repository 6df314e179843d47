package domain

import "github.com/shopspring/decimal"

// MarketSnapshot last known market data for the traded pair.
// Zero fields mean "never observed". The fields are read key by key, so two of them
// may come from different market worker updates.
type MarketSnapshot struct {
	// TakerFee proportional fee for orders executing immediately.
	TakerFee decimal.Decimal
	// BestBid price the base asset sells for.
	BestBid decimal.Decimal
	// BestAsk price the base asset is bought for.
	BestAsk decimal.Decimal
	// FiatExchangeRate EUR to USD conversion rate, zero if unavailable.
	FiatExchangeRate decimal.Decimal
}

// Precision decimal places of an instrument on the exchange.
type Precision struct {
	PriceDecimals    int32 `json:"price_decimals"`
	QuantityDecimals int32 `json:"quantity_decimals"`
}

// Initialized reports whether the exchange populated the precision.
func (p Precision) Initialized() bool {
	return p.PriceDecimals != 0 || p.QuantityDecimals != 0
}

// Tickers instrument name (BTC_USDT) to precision.
type Tickers map[string]Precision

// Clone returns a copy safe to mutate and store as a new whole value.
func (t Tickers) Clone() Tickers {
	out := make(Tickers, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// TradePrices remembered price of a trade in request fiat and in the quote asset.
type TradePrices struct {
	Fiat  decimal.Decimal
	Quote decimal.Decimal
}

// AccountSnapshot per-user account state read by the sizing engine.
type AccountSnapshot struct {
	// Balances asset symbol to available amount.
	Balances map[string]decimal.Decimal
	// Tickers instrument precision metadata.
	Tickers Tickers
	// LastBuy nil until the first buy.
	LastBuy *TradePrices
	// LastSell nil until the first sell.
	LastSell *TradePrices
}

// Balance returns the balance of asset or zero.
func (a AccountSnapshot) Balance(asset string) decimal.Decimal {
	if a.Balances == nil {
		return decimal.Zero
	}
	return a.Balances[asset]
}
