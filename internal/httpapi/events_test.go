package httpapi

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_DeliversStateEvents(t *testing.T) {
	hub := NewHub(slog.Default())

	ts := httptest.NewServer(hub)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Accept runs in the server goroutine; wait for the subscription to
	// land before broadcasting.
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()

		return len(hub.subs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.StateChanged("acct-1")

	var ev StateEvent
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, "state_changed", ev.Type)
	assert.Equal(t, "acct-1", ev.AccountID)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(slog.Default())

	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	// Overflow the buffer; every broadcast must return immediately.
	done := make(chan struct{})

	go func() {
		defer close(done)

		for range subscriberBuffer * 2 {
			hub.StateChanged("acct-1")
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}
}
