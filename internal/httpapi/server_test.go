// ABOUTME: Tests for the HTTP input and stream endpoints.
// ABOUTME: Covers input validation, event publication, SSE framing and health reporting.

package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexcore/cortex/internal/bus"
	"github.com/cortexcore/cortex/internal/mcp"
	"github.com/cortexcore/cortex/internal/stream"
)

func newTestServer(t *testing.T) (*Server, *bus.Bus, *mcp.Registry) {
	t.Helper()
	b := bus.New(64, nil)
	t.Cleanup(b.Close)
	reg := mcp.NewRegistry(nil)
	t.Cleanup(reg.Close)
	bc := stream.NewBroadcaster(b, nil, nil)
	t.Cleanup(bc.Close)
	return NewServer(b, bc, reg, nil), b, reg
}

func TestInput_PublishesEvent(t *testing.T) {
	srv, b, _ := newTestServer(t)
	handler := srv.Handler()

	sub := b.Subscribe(bus.EventTypeInput)

	req := httptest.NewRequest(http.MethodPost, "/v1/input",
		strings.NewReader(`{"user_id":"u1","conversation_id":"c1","content":"hi"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	ev, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, "c1", ev.ConversationID)
	assert.Equal(t, "hi", ev.Payload[bus.PayloadKeyContent])
}

func TestInput_RejectsMissingFields(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	for _, body := range []string{
		`{}`,
		`{"user_id":"u1"}`,
		`{"user_id":"u1","conversation_id":"c1"}`,
		`not json`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/input", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
	}
}

func TestInput_MethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/input", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStream_RequiresIdentity(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stream", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStream_DeliversEventsAsSSE(t *testing.T) {
	srv, b, _ := newTestServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet,
		ts.URL+"/v1/stream?user_id=u1&conversation_id=c1", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The subscription attaches during the handler; give it a moment before
	// publishing since the bus has no persistence for late subscribers.
	require.Eventually(t, func() bool {
		return b.Publish(&bus.Event{
			Type:           bus.EventTypeOutput,
			UserID:         "u1",
			ConversationID: "c1",
			Payload:        map[string]any{bus.PayloadKeyContent: "reply"},
		}) == nil
	}, time.Second, 10*time.Millisecond)

	scanner := bufio.NewScanner(resp.Body)
	var dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, dataLine, "no SSE data line received")

	var ev bus.Event
	require.NoError(t, json.Unmarshal([]byte(dataLine), &ev))
	assert.Equal(t, bus.EventTypeOutput, ev.Type)
	assert.Equal(t, "reply", ev.Payload[bus.PayloadKeyContent])
}

func TestHealth_ReportsServices(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status   string `json:"status"`
		Services []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Empty(t, body.Services)
}
