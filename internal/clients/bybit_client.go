package clients

import (
	"github.com/hirokisan/bybit/v2"
)

// NewBybitClient creates a bybit client. Credentials are optional for market data.
func NewBybitClient(apiKey, apiSecret string) *bybit.Client {
	client := bybit.NewClient()
	if apiKey != "" && apiSecret != "" {
		client = client.WithAuth(apiKey, apiSecret)
	}

	return client
}
