package fxrate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/sigtrader/pkg/retrier"
	"go.uber.org/zap"
)

func TestRefresher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"base":"EUR","rates":{"USD":1.2271,"GBP":0.86}}`))
	}))
	defer srv.Close()

	r := NewRefresher(srv.URL, "USD", time.Second, zap.NewNop())
	rate, err := r.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2271", rate.String())
}

func TestRefresher_FetchErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"missing currency": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"rates":{"GBP":0.86}}`))
		},
		"bad json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		},
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	}

	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			r := NewRefresher(srv.URL, "USD", time.Second, nil)
			_, err := r.Fetch(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestRefresher_RunPublishesAndSwallowsFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// first poll fails, the next ones succeed
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"rates":{"USD":1.1}}`))
	}))
	defer srv.Close()

	r := NewRefresher(srv.URL, "USD", 10*time.Millisecond, nil)
	r.retrier = retrier.New(retrier.WithMaxRetries(0))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case rate := <-r.Updates():
		assert.Equal(t, "1.1", rate.String())
	case <-ctx.Done():
		t.Fatal("no rate published")
	}

	cancel()
	require.NoError(t, <-done)
}
