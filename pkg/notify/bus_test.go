package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpass/agentpass/pkg/observability"
)

func testBus(t *testing.T) *Bus {
	t.Helper()
	b := NewBus(observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}))
	t.Cleanup(b.Close)
	return b
}

func TestBusRegisterValidation(t *testing.T) {
	b := testBus(t)

	err := b.Register(&Endpoint{Events: []EventType{EventAgentLoggedIn}})
	assert.Error(t, err, "URL is required")

	err = b.Register(&Endpoint{URL: "http://example.com/hook"})
	assert.Error(t, err, "at least one event type is required")

	ep := &Endpoint{URL: "http://example.com/hook", Events: []EventType{EventAgentLoggedIn}}
	require.NoError(t, b.Register(ep))
	assert.NotEmpty(t, ep.ID)
	assert.True(t, ep.Active)
}

func TestBusEndpointLifecycle(t *testing.T) {
	b := testBus(t)

	ep := &Endpoint{URL: "http://example.com/hook", Events: []EventType{EventPassportCreated}}
	require.NoError(t, b.Register(ep))

	got, err := b.Get(ep.ID)
	require.NoError(t, err)
	assert.Equal(t, ep.URL, got.URL)

	assert.Len(t, b.List(), 1)

	require.NoError(t, b.Unregister(ep.ID))
	_, err = b.Get(ep.ID)
	assert.Error(t, err)
	assert.Error(t, b.Unregister(ep.ID))
}

func TestBusSubscribe(t *testing.T) {
	b := testBus(t)
	ch := b.Subscribe(4)

	event := b.Publish(context.Background(), EventAgentRegistered, map[string]interface{}{
		"passport_id": "ap_000000000001",
	})
	require.NotNil(t, event)

	select {
	case got := <-ch:
		assert.Equal(t, event.ID, got.ID)
		assert.Equal(t, EventAgentRegistered, got.Type)
		assert.Equal(t, "ap_000000000001", got.Data["passport_id"])
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestBusSubscriberFullDoesNotBlock(t *testing.T) {
	b := testBus(t)
	b.Subscribe(1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish(context.Background(), EventAgentLoggedIn, nil)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stalled subscriber")
	}
}

func TestBusWebhookDelivery(t *testing.T) {
	type received struct {
		headers http.Header
		body    []byte
	}
	got := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{headers: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	b := testBus(t)
	ep := &Endpoint{
		URL:    srv.URL,
		Events: []EventType{EventAgentLoggedIn},
		Secret: "hook-secret",
	}
	require.NoError(t, b.Register(ep))

	event := b.Publish(context.Background(), EventAgentLoggedIn, map[string]interface{}{
		"service": "github.com",
	})

	var rec received
	select {
	case rec = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never delivered")
	}

	assert.Equal(t, "application/json", rec.headers.Get("Content-Type"))
	assert.Equal(t, string(EventAgentLoggedIn), rec.headers.Get("X-AgentPass-Event"))
	assert.Equal(t, event.ID, rec.headers.Get("X-AgentPass-Event-ID"))
	assert.NotEmpty(t, rec.headers.Get("X-AgentPass-Delivery"))

	sig := rec.headers.Get("X-AgentPass-Signature")
	require.NotEmpty(t, sig)
	assert.True(t, VerifySignature(rec.body, sig, "hook-secret"))
	assert.False(t, VerifySignature(rec.body, sig, "wrong-secret"))

	require.Eventually(t, func() bool {
		logs := b.DeliveryLogs(ep.ID, 10)
		return len(logs) == 1 && logs[0].Status == DeliveryStatusSuccess
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBusDeliveryEventFilter(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	defer srv.Close()

	b := testBus(t)
	require.NoError(t, b.Register(&Endpoint{
		URL:    srv.URL,
		Events: []EventType{EventPassportRevoked},
	}))

	b.Publish(context.Background(), EventAgentLoggedIn, nil)
	b.Publish(context.Background(), EventCaptchaEscalated, nil)

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls, "endpoint must only receive subscribed event types")
}

func TestBusDeliveryFailureMarksRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := testBus(t)
	ep := &Endpoint{URL: srv.URL, Events: []EventType{EventErrorReported}}
	require.NoError(t, b.Register(ep))

	b.Publish(context.Background(), EventErrorReported, nil)

	require.Eventually(t, func() bool {
		logs := b.DeliveryLogs(ep.ID, 10)
		return len(logs) == 1 && logs[0].Status == DeliveryStatusRetrying
	}, 2*time.Second, 10*time.Millisecond)

	stats := b.DeliveryStats(ep.ID)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Retrying)
	assert.Zero(t, stats.Successful)
}

func TestSignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"id":"evt-1","type":"agent.logged_in"}`)
	sig := Signature(payload, "secret")

	assert.True(t, VerifySignature(payload, sig, "secret"))
	assert.False(t, VerifySignature([]byte("tampered"), sig, "secret"))
	assert.False(t, VerifySignature(payload, "sha256=deadbeef", "secret"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("ep-1"), "request %d within budget", i)
	}
	assert.False(t, rl.Allow("ep-1"))

	// Buckets are per endpoint.
	assert.True(t, rl.Allow("ep-2"))

	rl.Reset("ep-1")
	assert.True(t, rl.Allow("ep-1"))
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)

	require.True(t, rl.Allow("ep-1"))
	require.False(t, rl.Allow("ep-1"))

	time.Sleep(25 * time.Millisecond)
	assert.True(t, rl.Allow("ep-1"))
}
