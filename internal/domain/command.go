package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Command is a buy/sell signal submitted from outside and consumed once by a user worker.
type Command struct {
	// ID correlates the command across ingress and worker logs. Optional.
	ID string
	// Side buy or sell.
	Side Side
	// Price believed by the command's origin, in Fiat.
	Price decimal.Decimal
	// Fiat currency code of Price.
	Fiat string
}

// wireCommand is the queue message: {"type": "buy"|"sell", "price": "123.4" | 123.4, "fiat": "EUR"}.
type wireCommand struct {
	ID    string          `json:"id,omitempty"`
	Type  *string         `json:"type"`
	Price json.RawMessage `json:"price"`
	Fiat  *string         `json:"fiat"`
}

// ParseCommand decodes and validates a queue message. Any failure wraps ErrMalformedCommand.
func ParseCommand(raw []byte) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(raw, &w); err != nil {
		return Command{}, errors.Wrapf(ErrMalformedCommand, "decode %q: %v", raw, err)
	}

	if w.Type == nil || len(w.Price) == 0 || w.Fiat == nil {
		return Command{}, errors.Wrapf(ErrMalformedCommand, "missing required keys (type, price, fiat): %s", raw)
	}

	side, ok := ParseSide(*w.Type)
	if !ok {
		return Command{}, errors.Wrapf(ErrMalformedCommand, "unknown type %q: %s", *w.Type, raw)
	}

	if *w.Fiat == "" {
		return Command{}, errors.Wrapf(ErrMalformedCommand, "empty fiat: %s", raw)
	}

	price, err := parseWirePrice(w.Price)
	if err != nil {
		return Command{}, errors.Wrapf(ErrMalformedCommand, "price: %v", err)
	}

	return Command{ID: w.ID, Side: side, Price: price, Fiat: *w.Fiat}, nil
}

// parseWirePrice accepts a JSON string or number. Numbers are read from their literal text so
// no binary float ever touches the value.
func parseWirePrice(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, errors.New("null price")
	}

	text := string(raw)
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Zero, err
		}
	}

	return decimal.NewFromString(text)
}

// Marshal encodes the command in wire form.
func (c Command) Marshal() ([]byte, error) {
	return json.Marshal(map[string]string{
		"id":    c.ID,
		"type":  c.Side.String(),
		"price": c.Price.String(),
		"fiat":  c.Fiat,
	})
}

// String returns a human-readable representation.
func (c Command) String() string {
	return fmt.Sprintf("%s %s %s (id=%s)", c.Side, c.Price.String(), c.Fiat, c.ID)
}
