// Package tradememory persists the last buy and sell prices of a user across restarts.
package tradememory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sigtrader/internal/domain"
)

const defaultStateDir = "./state"

// Store persists last-trade memory of one user in a JSON file.
type Store struct {
	path string
}

// NewStore creates a store for user under dir.
func NewStore(dir, user string) (*Store, error) {
	if dir == "" {
		dir = defaultStateDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create trade memory dir")
	}

	name := sanitizeScope(user)
	if name == "" {
		return nil, errors.Errorf("invalid user %q for trade memory", user)
	}

	return &Store{path: filepath.Join(dir, fmt.Sprintf("last_trades_%s.json", name))}, nil
}

// State everything remembered about the last trades.
type State struct {
	Pair     string        `json:"pair"`
	LastBuy  *StoredPrices `json:"last_buy,omitempty"`
	LastSell *StoredPrices `json:"last_sell,omitempty"`
}

// StoredPrices is a serializable domain.TradePrices.
type StoredPrices struct {
	Fiat  string `json:"fiat"`
	Quote string `json:"quote"`
}

// Load reads the state. A missing file is a nil state.
func (s *Store) Load() (*State, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "read trade memory")
	}

	if len(payload) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode trade memory")
	}

	return &state, nil
}

// Save writes the state atomically via a temp file.
func (s *Store) Save(state State) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode trade memory")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write trade memory temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist trade memory")
	}

	return nil
}

// NewStoredPrices converts domain.TradePrices into its stored representation.
func NewStoredPrices(p *domain.TradePrices) *StoredPrices {
	if p == nil {
		return nil
	}
	return &StoredPrices{Fiat: p.Fiat.String(), Quote: p.Quote.String()}
}

// ToTradePrices reconstructs domain.TradePrices from stored data.
func (sp *StoredPrices) ToTradePrices() (*domain.TradePrices, error) {
	if sp == nil {
		return nil, nil
	}

	fiat, err := decimal.NewFromString(sp.Fiat)
	if err != nil {
		return nil, errors.Wrap(err, "decode fiat price")
	}

	quote, err := decimal.NewFromString(sp.Quote)
	if err != nil {
		return nil, errors.Wrap(err, "decode quote price")
	}

	return &domain.TradePrices{Fiat: fiat, Quote: quote}, nil
}

func sanitizeScope(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}

	var b strings.Builder

	prevUnderscore := false

	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)

			prevUnderscore = false

			continue
		}

		if !prevUnderscore {
			b.WriteByte('_')

			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
