package state

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sigtrader/internal/domain"
)

// AccountStore the account snapshot of one user. Only that user's worker writes it.
type AccountStore struct {
	b      Backend
	pair   domain.Pair
	assets []string
}

// NewAccountStore creates an account store tracking the balances of the pair assets and feeAsset.
func NewAccountStore(b Backend, pair domain.Pair, feeAsset string) *AccountStore {
	assets := []string{pair.From, pair.To}
	if feeAsset != "" && feeAsset != pair.From && feeAsset != pair.To {
		assets = append(assets, feeAsset)
	}
	return &AccountStore{b: b, pair: pair, assets: assets}
}

// Assets returns the tracked asset symbols.
func (s *AccountStore) Assets() []string {
	return append([]string(nil), s.assets...)
}

// Tracks reports whether asset is one of the tracked assets.
func (s *AccountStore) Tracks(asset string) bool {
	for _, a := range s.assets {
		if a == asset {
			return true
		}
	}
	return false
}

// Init registers the traded instrument with zero precision unless it is already known.
// Balances and last trades are left untouched so a restart does not erase them.
func (s *AccountStore) Init(ctx context.Context) error {
	tickers, err := s.Tickers(ctx)
	if err != nil {
		return err
	}
	if _, ok := tickers[s.pair.String()]; ok {
		return nil
	}

	next := tickers.Clone()
	next[s.pair.String()] = domain.Precision{}
	return s.SetTickers(ctx, next)
}

func (s *AccountStore) SetBalance(ctx context.Context, asset string, amount decimal.Decimal) error {
	return setDecimal(ctx, s.b, domain.KeyBalance(asset), amount)
}

func (s *AccountStore) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return getDecimal(ctx, s.b, domain.KeyBalance(asset))
}

// Tickers returns the instrument precision map. A missing key is an empty map.
func (s *AccountStore) Tickers(ctx context.Context) (domain.Tickers, error) {
	raw, ok, err := s.b.Get(ctx, domain.KeyTickers)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return domain.Tickers{}, nil
	}

	var t domain.Tickers
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, errors.Wrap(err, "decode tickers")
	}
	if t == nil {
		t = domain.Tickers{}
	}
	return t, nil
}

// SetTickers replaces the whole tickers value.
func (s *AccountStore) SetTickers(ctx context.Context, t domain.Tickers) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "encode tickers")
	}
	return s.b.Set(ctx, domain.KeyTickers, string(payload))
}

// UpdatePrecision reads the tickers map, changes one instrument on a copy and writes the copy back.
func (s *AccountStore) UpdatePrecision(ctx context.Context, instrument string, p domain.Precision) error {
	tickers, err := s.Tickers(ctx)
	if err != nil {
		return err
	}

	next := tickers.Clone()
	next[instrument] = p
	return s.SetTickers(ctx, next)
}

// SetLastTrade remembers the prices of the latest trade of side.
func (s *AccountStore) SetLastTrade(ctx context.Context, side domain.Side, prices domain.TradePrices) error {
	if err := setDecimal(ctx, s.b, s.lastTradeKey(side, domain.DenominationFiat), prices.Fiat); err != nil {
		return err
	}
	return setDecimal(ctx, s.b, s.lastTradeKey(side, s.pair.To), prices.Quote)
}

// LastTrade returns nil when no trade of side was recorded yet.
func (s *AccountStore) LastTrade(ctx context.Context, side domain.Side) (*domain.TradePrices, error) {
	fiatRaw, fiatOK, err := s.b.Get(ctx, s.lastTradeKey(side, domain.DenominationFiat))
	if err != nil {
		return nil, err
	}
	quoteRaw, quoteOK, err := s.b.Get(ctx, s.lastTradeKey(side, s.pair.To))
	if err != nil {
		return nil, err
	}
	if !fiatOK && !quoteOK {
		return nil, nil
	}

	var prices domain.TradePrices
	if prices.Fiat, err = domain.ParseDecimal(fiatRaw); err != nil {
		return nil, err
	}
	if prices.Quote, err = domain.ParseDecimal(quoteRaw); err != nil {
		return nil, err
	}
	return &prices, nil
}

// Snapshot reads balances, tickers and last trades key by key. The result is not transactional.
func (s *AccountStore) Snapshot(ctx context.Context) (domain.AccountSnapshot, error) {
	snap := domain.AccountSnapshot{Balances: make(map[string]decimal.Decimal, len(s.assets))}

	for _, asset := range s.assets {
		bal, err := s.Balance(ctx, asset)
		if err != nil {
			return domain.AccountSnapshot{}, err
		}
		snap.Balances[asset] = bal
	}

	var err error
	if snap.Tickers, err = s.Tickers(ctx); err != nil {
		return domain.AccountSnapshot{}, err
	}
	if snap.LastBuy, err = s.LastTrade(ctx, domain.SideBuy); err != nil {
		return domain.AccountSnapshot{}, err
	}
	if snap.LastSell, err = s.LastTrade(ctx, domain.SideSell); err != nil {
		return domain.AccountSnapshot{}, err
	}

	return snap, nil
}

func (s *AccountStore) lastTradeKey(side domain.Side, denomination string) string {
	return domain.KeyLastTransaction(s.pair.From, side, denomination)
}
