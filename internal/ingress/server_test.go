package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/sigtrader/internal/domain"
	"github.com/vadiminshakov/sigtrader/internal/queue"
)

func newTestServer(t *testing.T) (*Server, map[string]*queue.Memory) {
	t.Helper()
	queues := map[string]*queue.Memory{
		"alice": queue.NewMemory(),
		"bob":   queue.NewMemory(),
	}
	registry := queue.NewRegistry(map[string]queue.Queue{
		"alice": queues["alice"],
		"bob":   queues["bob"],
	})
	return NewServer(":0", "1234", registry, nil), queues
}

func post(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func dequeue(t *testing.T, q *queue.Memory) domain.Command {
	t.Helper()
	msg, ok, err := q.TryDequeue(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	cmd, err := domain.ParseCommand(msg)
	require.NoError(t, err)
	return cmd
}

func TestWebhook_SingleUser(t *testing.T) {
	s, queues := newTestServer(t)

	rec := post(t, s, "/webhook/1234/alice", `{"type":"buy","price":"41000","fiat":"EUR"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp AcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, []string{"alice"}, resp.Users)

	cmd := dequeue(t, queues["alice"])
	assert.Equal(t, domain.SideBuy, cmd.Side)
	assert.Equal(t, "41000", cmd.Price.String())
	assert.Equal(t, "EUR", cmd.Fiat)
	assert.Equal(t, resp.ID, cmd.ID)
	assert.Equal(t, 0, queues["bob"].Len())
}

func TestWebhook_FanOut(t *testing.T) {
	s, queues := newTestServer(t)

	rec := post(t, s, "/webhook/1234", `{"id":"sig-1","type":"sell","price":42000.5,"fiat":"USD"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	for _, user := range []string{"alice", "bob"} {
		cmd := dequeue(t, queues[user])
		assert.Equal(t, "sig-1", cmd.ID)
		assert.Equal(t, domain.SideSell, cmd.Side)
		assert.Equal(t, "42000.5", cmd.Price.String())
	}
}

type failingQueue struct {
	queue.Queue
}

func (failingQueue) Enqueue(context.Context, []byte) error {
	return errors.New("connection refused")
}

func TestWebhook_FanOutReportsFailedUsers(t *testing.T) {
	alice, carol := queue.NewMemory(), queue.NewMemory()
	registry := queue.NewRegistry(map[string]queue.Queue{
		"alice": alice,
		"bob":   failingQueue{Queue: queue.NewMemory()},
		"carol": carol,
	})
	s := NewServer(":0", "1234", registry, nil)

	rec := post(t, s, "/webhook/1234", `{"id":"sig-2","type":"buy","price":"41000","fiat":"EUR"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp AcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sig-2", resp.ID)
	assert.Equal(t, []string{"alice", "carol"}, resp.Users)
	assert.Equal(t, []string{"bob"}, resp.Failed)

	// users after the failed one still got the command
	assert.Equal(t, "sig-2", dequeue(t, alice).ID)
	assert.Equal(t, "sig-2", dequeue(t, carol).ID)

	// a retry for the failed user alone does not duplicate it for the others
	rec = post(t, s, "/webhook/1234/bob", `{"id":"sig-2","type":"buy","price":"41000","fiat":"EUR"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp = AcceptedResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Users)
	assert.Equal(t, []string{"bob"}, resp.Failed)
	assert.Equal(t, 0, alice.Len())
	assert.Equal(t, 0, carol.Len())
}

func TestWebhook_PreservesOrder(t *testing.T) {
	s, queues := newTestServer(t)

	require.Equal(t, http.StatusAccepted, post(t, s, "/webhook/1234/alice", `{"id":"c1","type":"buy","price":"1","fiat":"EUR"}`).Code)
	require.Equal(t, http.StatusAccepted, post(t, s, "/webhook/1234/alice", `{"id":"c2","type":"sell","price":"2","fiat":"EUR"}`).Code)

	assert.Equal(t, "c1", dequeue(t, queues["alice"]).ID)
	assert.Equal(t, "c2", dequeue(t, queues["alice"]).ID)
}

func TestWebhook_Rejections(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{name: "wrong pin", path: "/webhook/0000/alice", body: `{"type":"buy","price":"1","fiat":"EUR"}`, code: http.StatusNotFound},
		{name: "unknown user", path: "/webhook/1234/carol", body: `{"type":"buy","price":"1","fiat":"EUR"}`, code: http.StatusNotFound},
		{name: "not json", path: "/webhook/1234/alice", body: `buy please`, code: http.StatusBadRequest},
		{name: "unknown type", path: "/webhook/1234/alice", body: `{"type":"hold","price":"1","fiat":"EUR"}`, code: http.StatusBadRequest},
		{name: "missing fiat", path: "/webhook/1234/alice", body: `{"type":"buy","price":"1"}`, code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, queues := newTestServer(t)
			rec := post(t, s, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, 0, queues["alice"].Len())
			assert.Equal(t, 0, queues["bob"].Len())
		})
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/webhook/1234/alice", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
