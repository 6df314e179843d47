package domain

import "fmt"

// Market state keys.
const (
	KeyTakerFee = "taker_fee"
)

// Account state keys.
const (
	KeyTickers = "tickers"
)

// Fiat codes used for the request-price conversion.
const (
	FiatEUR = "EUR"
	FiatUSD = "USD"
)

// KeyPriceSellTo is the best bid: the price the base asset sells for.
func KeyPriceSellTo(p Pair) string {
	return fmt.Sprintf("price_%s_sell_to_%s", p.From, p.To)
}

// KeyPriceBuyFor is the best ask: the price the base asset is bought for.
func KeyPriceBuyFor(p Pair) string {
	return fmt.Sprintf("price_%s_buy_for_%s", p.From, p.To)
}

// KeyExchangeRate is the fiat conversion rate key, e.g. EUR_USD_exchange_rate.
func KeyExchangeRate(from, to string) string {
	return fmt.Sprintf("%s_%s_exchange_rate", from, to)
}

// KeyBalance is the available balance key for an asset.
func KeyBalance(asset string) string {
	return "balance_" + asset
}

// KeyLastTransaction is the last-trade memory key, e.g. last_transaction_BTC_buy_price_in_fiat.
// denomination is either "fiat" or the quote asset symbol.
func KeyLastTransaction(base string, side Side, denomination string) string {
	return fmt.Sprintf("last_transaction_%s_%s_price_in_%s", base, side.String(), denomination)
}

// DenominationFiat is the denomination of request prices in last-trade keys.
const DenominationFiat = "fiat"
