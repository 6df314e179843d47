// Package fxrate polls the EUR to USD conversion rate.
//
// The rate is non-critical: every failure is logged at debug level and swallowed, the last known
// rate stays in effect, and consumers already treat a zero rate as unavailable.
package fxrate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sigtrader/pkg/retrier"
	"go.uber.org/zap"
)

const defaultPollInterval = 5 * time.Second

type ratesResponse struct {
	Rates map[string]json.Number `json:"rates"`
}

// Refresher fetches the rate periodically and publishes it on Updates.
type Refresher struct {
	url          string
	currency     string
	pollInterval time.Duration
	httpClient   *http.Client
	retrier      *retrier.Retrier
	l            *zap.Logger
	updates      chan decimal.Decimal
}

// NewRefresher creates a refresher reading rates[currency] from url.
func NewRefresher(url, currency string, pollInterval time.Duration, l *zap.Logger) *Refresher {
	if l == nil {
		l = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	retry := retrier.New(
		retrier.WithMaxRetries(2),
		retrier.WithInitialInterval(time.Second),
		retrier.WithRetryIf(func(err error) bool { return !errors.Is(err, context.Canceled) }),
		retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			l.Debug("retrying exchange rate fetch", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		}),
	)
	return &Refresher{
		url:          url,
		currency:     currency,
		pollInterval: pollInterval,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		retrier:      retry,
		l:            l,
		updates:      make(chan decimal.Decimal, 1),
	}
}

// Updates delivers the latest fetched rate. Only the newest unread value is kept.
func (r *Refresher) Updates() <-chan decimal.Decimal {
	return r.updates
}

// Run polls until ctx is done. It fetches once immediately.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		r.refresh(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	rate, err := retrier.DoWithData(r.retrier, ctx, r.Fetch)
	if err != nil {
		r.l.Debug("exchange rate refresh failed", zap.String("url", r.url), zap.Error(err))
		return
	}

	// replace an unread value with the newer one
	select {
	case <-r.updates:
	default:
	}
	r.updates <- rate
}

// Fetch requests the rate once.
func (r *Refresher) Fetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return decimal.Zero, retrier.Permanent(errors.Wrap(err, "build rate request"))
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "rate request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return decimal.Zero, errors.Errorf("rate source status %d", resp.StatusCode)
	}

	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, retrier.Permanent(errors.Wrap(err, "decode rates"))
	}

	raw, ok := body.Rates[r.currency]
	if !ok {
		return decimal.Zero, retrier.Permanent(errors.Errorf("rate for %s missing", r.currency))
	}

	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, retrier.Permanent(errors.Wrapf(err, "parse rate %q", raw))
	}
	return rate, nil
}
