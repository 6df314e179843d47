//go:build integration

package state

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/sigtrader/internal/domain"
)

func TestRedisBackend_Integration(t *testing.T) {
	if os.Getenv("REDIS_ADDR") == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := LoadRedisConfig()
	require.NoError(t, err)

	client, err := NewRedisClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	root := fmt.Sprintf("sigtrader-test-%d:", time.Now().UnixNano())
	market := NewMarketStore(NewRedisBackend(client, MarketNamespace(root)), btcUSDT)
	account := NewAccountStore(NewRedisBackend(client, AccountNamespace(root, "alice")), btcUSDT, "BNB")

	require.NoError(t, market.SetBestAsk(ctx, decimal.RequireFromString("42000.00")))
	ask, err := market.BestAsk(ctx)
	require.NoError(t, err)
	assert.Equal(t, "42000", ask.String())

	require.NoError(t, account.Init(ctx))
	require.NoError(t, account.UpdatePrecision(ctx, "BTC_USDT", domain.Precision{PriceDecimals: 2, QuantityDecimals: 6}))
	tickers, err := account.Tickers(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Precision{PriceDecimals: 2, QuantityDecimals: 6}, tickers["BTC_USDT"])

	missing, err := account.LastTrade(ctx, domain.SideSell)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
