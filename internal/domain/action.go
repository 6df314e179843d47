package domain

import "strings"

// Side is the direction of a buy/sell command.
type Side int

const (
	SideBuy Side = iota + 1
	SideSell
)

// side string constants as they appear on the wire
const (
	sideStringBuy  = "buy"
	sideStringSell = "sell"
)

// ParseSide maps the wire value of a command type onto a Side.
func ParseSide(s string) (Side, bool) {
	switch s {
	case sideStringBuy:
		return SideBuy, true
	case sideStringSell:
		return SideSell, true
	}
	return 0, false
}

// String returns the wire representation of the side.
func (s Side) String() string {
	switch s {
	case SideBuy:
		return sideStringBuy
	case SideSell:
		return sideStringSell
	default:
		return "unknown"
	}
}

// Upper returns the side in the upper-case form used in log tags and order ids.
func (s Side) Upper() string {
	return strings.ToUpper(s.String())
}
