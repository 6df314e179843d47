package notify

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/sigtrader/pkg/retrier"
)

const (
	// DefaultPushoverEndpoint is the Pushover message API.
	DefaultPushoverEndpoint = "https://api.pushover.net/1/messages.json"

	emergencyRetry  = 30 * time.Second
	emergencyExpire = time.Hour
)

// Pushover sends notifications through the Pushover HTTP API.
type Pushover struct {
	client   *http.Client
	endpoint string
	token    string
	userKey  string
	retrier  *retrier.Retrier
}

// PushoverOption configures a Pushover sink.
type PushoverOption func(*Pushover)

// WithEndpoint overrides the API endpoint.
func WithEndpoint(endpoint string) PushoverOption {
	return func(p *Pushover) { p.endpoint = endpoint }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) PushoverOption {
	return func(p *Pushover) { p.client = c }
}

// WithRetrier overrides the retry policy.
func WithRetrier(r *retrier.Retrier) PushoverOption {
	return func(p *Pushover) { p.retrier = r }
}

// NewPushover creates a sink delivering to userKey with the application token.
func NewPushover(token, userKey string, opts ...PushoverOption) *Pushover {
	p := &Pushover{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: DefaultPushoverEndpoint,
		token:    token,
		userKey:  userKey,
		retrier:  retrier.New(retrier.WithMaxRetries(3), retrier.WithInitialInterval(500*time.Millisecond)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pushover) Notify(ctx context.Context, message string, priority Priority) error {
	form := url.Values{}
	form.Set("token", p.token)
	form.Set("user", p.userKey)
	form.Set("message", message)
	form.Set("priority", strconv.Itoa(int(priority)))
	if priority == PriorityEmergency {
		form.Set("retry", strconv.Itoa(int(emergencyRetry.Seconds())))
		form.Set("expire", strconv.Itoa(int(emergencyExpire.Seconds())))
	}
	body := form.Encode()

	return p.retrier.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(body))
		if err != nil {
			return retrier.Permanent(errors.Wrap(err, "build pushover request"))
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := p.client.Do(req)
		if err != nil {
			return errors.Wrap(err, "pushover request")
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}

		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err = errors.Errorf("pushover status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retrier.Permanent(err)
		}
		return err
	})
}
