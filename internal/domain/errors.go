package domain

import "github.com/pkg/errors"

var (
	// ErrMalformedCommand marks a queued message that lacks required fields or has an unknown type.
	ErrMalformedCommand = errors.New("malformed command")
	// ErrPrecisionNotInitialized marks an instrument whose precision metadata was never populated.
	ErrPrecisionNotInitialized = errors.New("instrument precision not initialized")
	// ErrNoMarketPrice marks a sizing attempt before the market worker observed a price.
	ErrNoMarketPrice = errors.New("market price not observed yet")
)
