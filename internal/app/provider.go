package app

import (
	"fmt"
	"time"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sigtrader/config"
	"github.com/vadiminshakov/sigtrader/internal/clients"
	"github.com/vadiminshakov/sigtrader/internal/domain"
	"github.com/vadiminshakov/sigtrader/internal/exchange"
)

// simulatePrecision is what the simulated venue reports for every pair.
var simulatePrecision = domain.Precision{PriceDecimals: 2, QuantityDecimals: 5}

// simulateClient stands in for an exchange client on the simulate platform.
type simulateClient struct{}

// feedProvider creates the platform-specific feeds.
type feedProvider interface {
	MarketFeed(pair domain.Pair, l *zap.Logger) (exchange.MarketFeed, error)
	AccountFeed(pair domain.Pair, quotes exchange.QuoteSource, l *zap.Logger) (exchange.AccountFeed, error)
}

// newClient creates the exchange client of platform. Empty credentials give a public client.
func newClient(platform string, creds config.Credentials) (any, error) {
	switch platform {
	case config.PlatformBinance:
		return clients.NewBinanceClient(creds.APIKey, creds.APISecret), nil
	case config.PlatformBybit:
		return clients.NewBybitClient(creds.APIKey, creds.APISecret), nil
	case config.PlatformSimulate:
		return &simulateClient{}, nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", platform)
	}
}

// newFeedProvider dispatches on the client type.
func newFeedProvider(client any, pollInterval time.Duration) (feedProvider, error) {
	switch c := client.(type) {
	case *binance.Client:
		return &binanceProvider{client: c, pollInterval: pollInterval}, nil
	case *bybit.Client:
		return &bybitProvider{client: c, pollInterval: pollInterval}, nil
	case *simulateClient:
		return &simulateProvider{}, nil
	default:
		return nil, fmt.Errorf("unsupported client type: %T", client)
	}
}

type binanceProvider struct {
	client       *binance.Client
	pollInterval time.Duration
}

func (p *binanceProvider) MarketFeed(pair domain.Pair, l *zap.Logger) (exchange.MarketFeed, error) {
	return exchange.NewBinanceMarketFeed(pair, l), nil
}

func (p *binanceProvider) AccountFeed(pair domain.Pair, _ exchange.QuoteSource, l *zap.Logger) (exchange.AccountFeed, error) {
	return exchange.NewBinanceAccountFeed(p.client, pair, p.pollInterval, l), nil
}

type bybitProvider struct {
	client       *bybit.Client
	pollInterval time.Duration
}

func (p *bybitProvider) MarketFeed(pair domain.Pair, l *zap.Logger) (exchange.MarketFeed, error) {
	return exchange.NewBybitMarketFeed(p.client, pair, time.Second, l), nil
}

func (p *bybitProvider) AccountFeed(pair domain.Pair, _ exchange.QuoteSource, l *zap.Logger) (exchange.AccountFeed, error) {
	return exchange.NewBybitAccountFeed(p.client, pair, p.pollInterval, l), nil
}

type simulateProvider struct{}

func (p *simulateProvider) MarketFeed(domain.Pair, *zap.Logger) (exchange.MarketFeed, error) {
	return nil, fmt.Errorf("platform %s has no market data, use market_platform", config.PlatformSimulate)
}

func (p *simulateProvider) AccountFeed(pair domain.Pair, quotes exchange.QuoteSource, l *zap.Logger) (exchange.AccountFeed, error) {
	feed, err := exchange.NewSimulateAccountFeed(pair, simulatePrecision, exchange.DefaultSimulateWallet(pair), quotes, l)
	if err != nil {
		return nil, err
	}
	return feed, nil
}
