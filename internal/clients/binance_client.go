package clients

import (
	"github.com/adshao/go-binance/v2"
)

// NewBinanceClient creates an authenticated binance REST client.
// Empty credentials give a client limited to public endpoints.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	client := binance.NewClient(apiKey, apiSecret)
	return client
}

// NewBinancePublicClient creates a client for public market data only.
func NewBinancePublicClient() *binance.Client {
	return NewBinanceClient("", "")
}
