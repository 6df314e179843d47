// Package sizing turns a command and the current market and account snapshots into an order intent.
//
// Rounding follows one rule: amounts consumed by a spend round down, fees and prices used as cost
// estimates round up. Display figures use half-even rounding at two places.
package sizing

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sigtrader/internal/domain"
)

const (
	displayScale  = 2
	quoteScale    = 2
	baseScale     = 8
	feeAssetScale = 8
	minFeeScale   = 4
)

// Result everything computed for one command. The caller persists LastTrade and logs the rest.
type Result struct {
	Side   domain.Side
	Intent domain.OrderIntent

	// Fiat currency of the command price.
	Fiat string
	// RequestPrice command price at display scale.
	RequestPrice decimal.Decimal
	// RequestPriceUSD set only when HasUSD.
	RequestPriceUSD decimal.Decimal
	HasUSD          bool
	// ExchangePrice observed price at display scale.
	ExchangePrice decimal.Decimal
	// OrderPrice observed price at the instrument price precision, rounded up.
	OrderPrice decimal.Decimal

	// Balance quote balance for buys, base balance for sells, rounded down.
	Balance  decimal.Decimal
	TakerFee decimal.Decimal
	// Fee worst-case fee: in base asset for buys, in quote asset for sells.
	Fee             decimal.Decimal
	FeeAsset        string
	FeeAssetBalance decimal.Decimal

	// Profit figures are set for sells only.
	ProfitFiat    decimal.Decimal
	ProfitFiatUSD decimal.Decimal
	ProfitQuote   decimal.Decimal

	// LastTrade prices to remember for this side once the command succeeded.
	LastTrade domain.TradePrices
	Narrative string
}

// Engine sizes orders for one trading pair. It holds no mutable state.
type Engine struct {
	pair     domain.Pair
	feeAsset string
}

// NewEngine creates a sizing engine. feeAsset is the asset whose balance covers exchange fees.
func NewEngine(pair domain.Pair, feeAsset string) *Engine {
	return &Engine{pair: pair, feeAsset: feeAsset}
}

// Size dispatches on the command side.
func (e *Engine) Size(m domain.MarketSnapshot, a domain.AccountSnapshot, cmd domain.Command) (Result, error) {
	switch cmd.Side {
	case domain.SideBuy:
		return e.Buy(m, a, cmd)
	case domain.SideSell:
		return e.Sell(m, a, cmd)
	default:
		return Result{}, errors.Wrapf(domain.ErrMalformedCommand, "side %d", cmd.Side)
	}
}

// Buy spends the whole quote balance at the best ask.
func (e *Engine) Buy(m domain.MarketSnapshot, a domain.AccountSnapshot, cmd domain.Command) (Result, error) {
	precision, err := e.precision(a)
	if err != nil {
		return Result{}, err
	}
	if m.BestAsk.IsZero() {
		return Result{}, errors.Wrapf(domain.ErrNoMarketPrice, "best ask of %s", e.pair)
	}

	r := e.base(domain.SideBuy, m, a, cmd, m.BestAsk)
	r.OrderPrice = domain.Quantize(m.BestAsk, precision.PriceDecimals, domain.RoundUp)
	r.Balance = domain.Quantize(a.Balance(e.pair.To), quoteScale, domain.RoundDown)

	qty, err := domain.Div(r.Balance, r.OrderPrice)
	if err != nil {
		return Result{}, errors.Wrap(err, "base quantity")
	}
	r.Fee = domain.Quantize(qty.Mul(r.TakerFee), baseScale, domain.RoundUp)

	r.Intent = domain.OrderIntent{Side: domain.SideBuy, Pair: e.pair, Notional: r.Balance}
	r.Narrative = fmt.Sprintf("[BUY] Price in request: %s. Price on exchange: %s [%s]",
		e.requestFigure(r), fixed(r.ExchangePrice), e.pair.To)

	return r, nil
}

// Sell sells the whole base balance at the best bid and reports profit against the last buy.
func (e *Engine) Sell(m domain.MarketSnapshot, a domain.AccountSnapshot, cmd domain.Command) (Result, error) {
	precision, err := e.precision(a)
	if err != nil {
		return Result{}, err
	}
	if m.BestBid.IsZero() {
		return Result{}, errors.Wrapf(domain.ErrNoMarketPrice, "best bid of %s", e.pair)
	}

	r := e.base(domain.SideSell, m, a, cmd, m.BestBid)
	r.OrderPrice = domain.Quantize(m.BestBid, precision.PriceDecimals, domain.RoundUp)
	r.Balance = domain.Quantize(a.Balance(e.pair.From), baseScale, domain.RoundDown)
	r.Fee = domain.Quantize(r.Balance.Mul(r.OrderPrice).Mul(r.TakerFee), quoteScale, domain.RoundUp)

	r.ProfitFiat = domain.Quantize(decimal.Zero, displayScale, domain.RoundHalfEven)
	r.ProfitQuote = r.ProfitFiat
	if a.LastBuy != nil {
		r.ProfitFiat = display(cmd.Price).Sub(display(a.LastBuy.Fiat))
		r.ProfitQuote = display(m.BestBid).Sub(display(a.LastBuy.Quote))
	}

	profit := fmt.Sprintf("%s [%s]", fixed(r.ProfitFiat), cmd.Fiat)
	if r.HasUSD {
		r.ProfitFiatUSD = toUSD(r.ProfitFiat, m.FiatExchangeRate)
		profit = fmt.Sprintf("%s (%s [%s])", profit, fixed(r.ProfitFiatUSD), domain.FiatUSD)
	}

	r.Intent = domain.OrderIntent{
		Side:     domain.SideSell,
		Pair:     e.pair,
		Quantity: domain.Quantize(r.Balance, precision.QuantityDecimals, domain.RoundDown),
	}
	r.Narrative = fmt.Sprintf("[SELL] Price in request: %s. Price on exchange: %s [%s]. Profit in fiat: %s. Profit on exchange: %s [%s].",
		e.requestFigure(r), fixed(r.ExchangePrice), e.pair.To, profit, fixed(r.ProfitQuote), e.pair.To)

	return r, nil
}

// base fills the figures shared by both sides.
func (e *Engine) base(side domain.Side, m domain.MarketSnapshot, a domain.AccountSnapshot, cmd domain.Command, observed decimal.Decimal) Result {
	r := Result{
		Side:            side,
		Fiat:            cmd.Fiat,
		RequestPrice:    display(cmd.Price),
		ExchangePrice:   display(observed),
		TakerFee:        QuantizeFee(m.TakerFee),
		FeeAsset:        e.feeAsset,
		FeeAssetBalance: domain.Quantize(a.Balance(e.feeAsset), feeAssetScale, domain.RoundDown),
		LastTrade:       domain.TradePrices{Fiat: cmd.Price, Quote: observed},
	}

	if cmd.Fiat == domain.FiatEUR && !m.FiatExchangeRate.IsZero() {
		r.HasUSD = true
		r.RequestPriceUSD = toUSD(cmd.Price, m.FiatExchangeRate)
	}

	return r
}

func (e *Engine) precision(a domain.AccountSnapshot) (domain.Precision, error) {
	p, ok := a.Tickers[e.pair.String()]
	if !ok || !p.Initialized() {
		return domain.Precision{}, errors.Wrapf(domain.ErrPrecisionNotInitialized, "instrument %s", e.pair)
	}
	return p, nil
}

func (e *Engine) requestFigure(r Result) string {
	s := fmt.Sprintf("%s [%s]", fixed(r.RequestPrice), r.Fiat)
	if r.HasUSD {
		s = fmt.Sprintf("%s (%s [%s])", s, fixed(r.RequestPriceUSD), domain.FiatUSD)
	}
	return s
}

// QuantizeFee rounds the taker fee up to four places, or to the fee's own places when it is
// more precise, so a configured fee is never truncated. A fee finer than four places is therefore
// not rounded up to the next 0.0001: 0.00012 stays 0.00012 instead of becoming 0.0002, which gives
// a smaller fee estimate than rounding at a fixed scale of four.
func QuantizeFee(fee decimal.Decimal) decimal.Decimal {
	scale := int32(minFeeScale)
	if places := -fee.Exponent(); places > scale {
		scale = places
	}
	return domain.Quantize(fee, scale, domain.RoundUp)
}

func toUSD(amount, rate decimal.Decimal) decimal.Decimal {
	return display(display(amount).Mul(display(rate)))
}

func display(d decimal.Decimal) decimal.Decimal {
	return domain.Quantize(d, displayScale, domain.RoundHalfEven)
}

func fixed(d decimal.Decimal) string {
	return d.StringFixed(displayScale)
}
