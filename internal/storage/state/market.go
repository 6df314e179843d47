package state

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sigtrader/internal/domain"
)

// MarketStore the market snapshot of one trading pair. The market worker is its only writer.
type MarketStore struct {
	b    Backend
	pair domain.Pair
}

// NewMarketStore creates a market store for pair on top of b.
func NewMarketStore(b Backend, pair domain.Pair) *MarketStore {
	return &MarketStore{b: b, pair: pair}
}

// Pair returns the traded pair.
func (s *MarketStore) Pair() domain.Pair {
	return s.pair
}

func (s *MarketStore) SetTakerFee(ctx context.Context, fee decimal.Decimal) error {
	return setDecimal(ctx, s.b, domain.KeyTakerFee, fee)
}

func (s *MarketStore) SetBestBid(ctx context.Context, price decimal.Decimal) error {
	return setDecimal(ctx, s.b, domain.KeyPriceSellTo(s.pair), price)
}

func (s *MarketStore) SetBestAsk(ctx context.Context, price decimal.Decimal) error {
	return setDecimal(ctx, s.b, domain.KeyPriceBuyFor(s.pair), price)
}

func (s *MarketStore) SetExchangeRate(ctx context.Context, rate decimal.Decimal) error {
	return setDecimal(ctx, s.b, domain.KeyExchangeRate(domain.FiatEUR, domain.FiatUSD), rate)
}

func (s *MarketStore) TakerFee(ctx context.Context) (decimal.Decimal, error) {
	return getDecimal(ctx, s.b, domain.KeyTakerFee)
}

func (s *MarketStore) BestBid(ctx context.Context) (decimal.Decimal, error) {
	return getDecimal(ctx, s.b, domain.KeyPriceSellTo(s.pair))
}

func (s *MarketStore) BestAsk(ctx context.Context) (decimal.Decimal, error) {
	return getDecimal(ctx, s.b, domain.KeyPriceBuyFor(s.pair))
}

func (s *MarketStore) ExchangeRate(ctx context.Context) (decimal.Decimal, error) {
	return getDecimal(ctx, s.b, domain.KeyExchangeRate(domain.FiatEUR, domain.FiatUSD))
}

// Snapshot reads every market key one after another. The result is not transactional.
func (s *MarketStore) Snapshot(ctx context.Context) (domain.MarketSnapshot, error) {
	var (
		snap domain.MarketSnapshot
		err  error
	)

	if snap.TakerFee, err = s.TakerFee(ctx); err != nil {
		return domain.MarketSnapshot{}, err
	}
	if snap.BestBid, err = s.BestBid(ctx); err != nil {
		return domain.MarketSnapshot{}, err
	}
	if snap.BestAsk, err = s.BestAsk(ctx); err != nil {
		return domain.MarketSnapshot{}, err
	}
	if snap.FiatExchangeRate, err = s.ExchangeRate(ctx); err != nil {
		return domain.MarketSnapshot{}, err
	}

	return snap, nil
}

func setDecimal(ctx context.Context, b Backend, key string, d decimal.Decimal) error {
	return b.Set(ctx, key, domain.FormatDecimal(d))
}

// getDecimal returns zero for keys that were never written.
func getDecimal(ctx context.Context, b Backend, key string) (decimal.Decimal, error) {
	raw, ok, err := b.Get(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, nil
	}

	d, err := domain.ParseDecimal(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "key %s", key)
	}
	return d, nil
}
