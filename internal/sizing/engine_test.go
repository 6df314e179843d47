package sizing

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/sigtrader/internal/domain"
)

var btcUSDT = domain.Pair{From: "BTC", To: "USDT"}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func account(balances map[string]string) domain.AccountSnapshot {
	a := domain.AccountSnapshot{
		Balances: make(map[string]decimal.Decimal),
		Tickers:  domain.Tickers{"BTC_USDT": {PriceDecimals: 2, QuantityDecimals: 6}},
	}
	for k, v := range balances {
		a.Balances[k] = d(v)
	}
	return a
}

func buyCommand(price, fiat string) domain.Command {
	return domain.Command{Side: domain.SideBuy, Price: d(price), Fiat: fiat}
}

func sellCommand(price, fiat string) domain.Command {
	return domain.Command{Side: domain.SideSell, Price: d(price), Fiat: fiat}
}

func TestEngine_BuyScenario(t *testing.T) {
	engine := NewEngine(btcUSDT, "BNB")
	market := domain.MarketSnapshot{TakerFee: d("0.00075"), BestAsk: d("42000.00"), BestBid: d("41999.00")}
	acc := account(map[string]string{"USDT": "1000.00", "BNB": "0.123456789"})

	r, err := engine.Buy(market, acc, buyCommand("41000", "EUR"))
	require.NoError(t, err)

	assert.Equal(t, "0.00001786", r.Fee.StringFixed(8))
	assert.Equal(t, "1000.00", r.Balance.StringFixed(2))
	assert.Equal(t, "42000.00", r.OrderPrice.StringFixed(2))
	assert.Equal(t, "0.00075", r.TakerFee.String())
	assert.Equal(t, "0.12345678", r.FeeAssetBalance.StringFixed(8))
	assert.Equal(t, "1000", r.Intent.Notional.String())
	assert.Equal(t, domain.SideBuy, r.Intent.Side)
	assert.False(t, r.HasUSD)
	assert.Equal(t, "[BUY] Price in request: 41000.00 [EUR]. Price on exchange: 42000.00 [USDT]", r.Narrative)

	assert.Equal(t, "41000", r.LastTrade.Fiat.String())
	assert.Equal(t, "42000", r.LastTrade.Quote.String())
}

func TestEngine_BuyWithExchangeRate(t *testing.T) {
	engine := NewEngine(btcUSDT, "BNB")
	market := domain.MarketSnapshot{TakerFee: d("0.00075"), BestAsk: d("42000.00"), FiatExchangeRate: d("1.2271")}
	acc := account(map[string]string{"USDT": "1000.00"})

	r, err := engine.Buy(market, acc, buyCommand("41000", "EUR"))
	require.NoError(t, err)
	require.True(t, r.HasUSD)
	assert.Equal(t, "50430.00", r.RequestPriceUSD.StringFixed(2))
	assert.Equal(t, "[BUY] Price in request: 41000.00 [EUR] (50430.00 [USD]). Price on exchange: 42000.00 [USDT]", r.Narrative)

	// only EUR is converted
	r, err = engine.Buy(market, acc, buyCommand("41000", "GBP"))
	require.NoError(t, err)
	assert.False(t, r.HasUSD)
	assert.NotContains(t, r.Narrative, "[USD]")
}

func TestEngine_ZeroExchangeRateOmitsUSD(t *testing.T) {
	engine := NewEngine(btcUSDT, "BNB")
	market := domain.MarketSnapshot{TakerFee: d("0.001"), BestAsk: d("100"), BestBid: d("99"), FiatExchangeRate: decimal.Zero}
	acc := account(map[string]string{"USDT": "10", "BTC": "1"})
	acc.LastBuy = &domain.TradePrices{Fiat: d("90"), Quote: d("95")}

	buy, err := engine.Buy(market, acc, buyCommand("100", "EUR"))
	require.NoError(t, err)
	assert.False(t, buy.HasUSD)
	assert.NotContains(t, buy.Narrative, "[USD]")

	sell, err := engine.Sell(market, acc, sellCommand("100", "EUR"))
	require.NoError(t, err)
	assert.False(t, sell.HasUSD)
	assert.True(t, sell.ProfitFiatUSD.IsZero())
	assert.NotContains(t, sell.Narrative, "[USD]")
}

func TestEngine_SellScenario(t *testing.T) {
	engine := NewEngine(btcUSDT, "BNB")
	market := domain.MarketSnapshot{TakerFee: d("0.00075"), BestBid: d("41000.50"), BestAsk: d("41001")}
	acc := account(map[string]string{"BTC": "0.123456789"})
	acc.LastBuy = &domain.TradePrices{Fiat: d("3000.00"), Quote: d("40000.00")}

	r, err := engine.Sell(market, acc, sellCommand("3100.00", "EUR"))
	require.NoError(t, err)

	assert.Equal(t, "100.00", r.ProfitFiat.StringFixed(2))
	assert.Equal(t, "1000.50", r.ProfitQuote.StringFixed(2))
	assert.Equal(t, "0.12345678", r.Balance.StringFixed(8))
	assert.Equal(t, "3.80", r.Fee.StringFixed(2))
	assert.Equal(t, "0.123456", r.Intent.Quantity.String())
	assert.Equal(t, domain.SideSell, r.Intent.Side)
	assert.Equal(t,
		"[SELL] Price in request: 3100.00 [EUR]. Price on exchange: 41000.50 [USDT]. Profit in fiat: 100.00 [EUR]. Profit on exchange: 1000.50 [USDT].",
		r.Narrative)
}

func TestEngine_SellWithExchangeRate(t *testing.T) {
	engine := NewEngine(btcUSDT, "BNB")
	market := domain.MarketSnapshot{TakerFee: d("0.00075"), BestBid: d("41000.50"), FiatExchangeRate: d("1.10")}
	acc := account(map[string]string{"BTC": "1"})
	acc.LastBuy = &domain.TradePrices{Fiat: d("3000.00"), Quote: d("40000.00")}

	r, err := engine.Sell(market, acc, sellCommand("3100.00", "EUR"))
	require.NoError(t, err)
	assert.Equal(t, "3410.00", r.RequestPriceUSD.StringFixed(2))
	assert.Equal(t, "110.00", r.ProfitFiatUSD.StringFixed(2))
	assert.Contains(t, r.Narrative, "Profit in fiat: 100.00 [EUR] (110.00 [USD])")
}

func TestEngine_SellWithoutLastBuy(t *testing.T) {
	engine := NewEngine(btcUSDT, "BNB")
	market := domain.MarketSnapshot{TakerFee: d("0.001"), BestBid: d("100")}

	r, err := engine.Sell(market, account(map[string]string{"BTC": "1"}), sellCommand("3100", "EUR"))
	require.NoError(t, err)
	assert.Equal(t, "0.00", r.ProfitFiat.StringFixed(2))
	assert.Equal(t, "0.00", r.ProfitQuote.StringFixed(2))
	assert.Equal(t, int32(-2), r.ProfitFiat.Exponent())
}

func TestEngine_RoundingLaws(t *testing.T) {
	engine := NewEngine(btcUSDT, "BNB")

	cases := []struct {
		fee, ask, quote, base string
	}{
		{"0.00075", "42000.00", "1000.00", "0.5"},
		{"0.001", "37123.457", "999.999", "0.123456789123"},
		{"0.0002", "1.01", "0.019", "3.000000009"},
		{"0.00099", "65000.1", "123456.789", "0.00000001"},
	}

	for _, tc := range cases {
		market := domain.MarketSnapshot{TakerFee: d(tc.fee), BestAsk: d(tc.ask), BestBid: d(tc.ask)}
		acc := account(map[string]string{"USDT": tc.quote, "BTC": tc.base})

		buy, err := engine.Buy(market, acc, buyCommand("1", "EUR"))
		require.NoError(t, err)
		assert.True(t, buy.Balance.LessThanOrEqual(d(tc.quote)), "buy balance %s", tc.quote)
		unrounded := buy.Balance.DivRound(buy.OrderPrice, 40).Mul(d(tc.fee))
		assert.True(t, buy.Fee.GreaterThanOrEqual(unrounded), "buy fee %s < %s", buy.Fee, unrounded)

		sell, err := engine.Sell(market, acc, sellCommand("1", "EUR"))
		require.NoError(t, err)
		assert.True(t, sell.Balance.LessThanOrEqual(d(tc.base)), "sell balance %s", tc.base)
		assert.True(t, sell.Intent.Quantity.LessThanOrEqual(sell.Balance))
		unroundedSell := sell.Balance.Mul(sell.OrderPrice).Mul(d(tc.fee))
		assert.True(t, sell.Fee.GreaterThanOrEqual(unroundedSell), "sell fee %s < %s", sell.Fee, unroundedSell)
	}
}

func TestEngine_Idempotent(t *testing.T) {
	engine := NewEngine(btcUSDT, "BNB")
	market := domain.MarketSnapshot{TakerFee: d("0.00075"), BestAsk: d("42000.00"), BestBid: d("41990"), FiatExchangeRate: d("1.2")}
	acc := account(map[string]string{"USDT": "1000.00", "BTC": "0.1"})
	acc.LastBuy = &domain.TradePrices{Fiat: d("3000"), Quote: d("40000")}

	for _, cmd := range []domain.Command{buyCommand("41000", "EUR"), sellCommand("42000", "EUR")} {
		first, err := engine.Size(market, acc, cmd)
		require.NoError(t, err)
		second, err := engine.Size(market, acc, cmd)
		require.NoError(t, err)

		assert.Equal(t, first.Narrative, second.Narrative)
		assert.True(t, first.Fee.Equal(second.Fee))
		assert.True(t, first.Balance.Equal(second.Balance))
		assert.True(t, first.ProfitFiat.Equal(second.ProfitFiat))
		assert.Equal(t, first.Intent.String(), second.Intent.String())
	}

	// inputs untouched
	assert.Equal(t, "1000", acc.Balance("USDT").String())
	assert.Equal(t, "3000", acc.LastBuy.Fiat.String())
}

func TestEngine_PrecisionNotInitialized(t *testing.T) {
	engine := NewEngine(btcUSDT, "BNB")
	market := domain.MarketSnapshot{TakerFee: d("0.001"), BestAsk: d("100"), BestBid: d("100")}

	missing := account(map[string]string{"USDT": "10"})
	missing.Tickers = domain.Tickers{}

	zero := account(map[string]string{"USDT": "10"})
	zero.Tickers = domain.Tickers{"BTC_USDT": {}}

	for name, acc := range map[string]domain.AccountSnapshot{"missing": missing, "zero": zero} {
		t.Run(name, func(t *testing.T) {
			_, err := engine.Buy(market, acc, buyCommand("1", "EUR"))
			assert.True(t, errors.Is(err, domain.ErrPrecisionNotInitialized))

			_, err = engine.Sell(market, acc, sellCommand("1", "EUR"))
			assert.True(t, errors.Is(err, domain.ErrPrecisionNotInitialized))
		})
	}
}

func TestEngine_NoMarketPrice(t *testing.T) {
	engine := NewEngine(btcUSDT, "BNB")
	acc := account(map[string]string{"USDT": "10", "BTC": "1"})

	_, err := engine.Buy(domain.MarketSnapshot{TakerFee: d("0.001")}, acc, buyCommand("1", "EUR"))
	assert.True(t, errors.Is(err, domain.ErrNoMarketPrice))

	_, err = engine.Sell(domain.MarketSnapshot{TakerFee: d("0.001")}, acc, sellCommand("1", "EUR"))
	assert.True(t, errors.Is(err, domain.ErrNoMarketPrice))
}

func TestQuantizeFee(t *testing.T) {
	assert.Equal(t, "0.0010", QuantizeFee(d("0.001")).StringFixed(4))
	assert.Equal(t, int32(-4), QuantizeFee(d("0.001")).Exponent())
	assert.Equal(t, "0.00075", QuantizeFee(d("0.00075")).String())
	assert.True(t, QuantizeFee(d("0.00075")).GreaterThanOrEqual(d("0.00075")))

	// finer than four places keeps its own places instead of rounding up to 0.0002
	assert.Equal(t, "0.00012", QuantizeFee(d("0.00012")).String())
	assert.True(t, QuantizeFee(d("0.00012")).LessThan(d("0.0002")))
}
