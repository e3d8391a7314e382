package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// subscriberBuffer bounds per-client event queues. A client that stops
// reading loses events rather than blocking the engine.
const subscriberBuffer = 16

// writeTimeout bounds a single websocket write.
const writeTimeout = 5 * time.Second

// StateEvent tells a subscribed UI that an account's lifecycle state
// changed and should be re-fetched.
type StateEvent struct {
	Type      string    `json:"type"`
	AccountID string    `json:"account_id"`
	At        time.Time `json:"at"`
}

// Hub fans lifecycle state changes out to websocket subscribers. It
// implements lifecycle.Notifier; StateChanged never blocks.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan StateEvent]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		logger: logger,
		subs:   make(map[chan StateEvent]struct{}),
	}
}

// StateChanged broadcasts a state-change event. Slow subscribers are
// skipped, not waited on.
func (h *Hub) StateChanged(accountID string) {
	ev := StateEvent{
		Type:      "state_changed",
		AccountID: accountID,
		At:        time.Now().UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("dropping state event for slow subscriber",
				slog.String("account_id", accountID))
		}
	}
}

func (h *Hub) subscribe() chan StateEvent {
	ch := make(chan StateEvent, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch
}

func (h *Hub) unsubscribe(ch chan StateEvent) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// ServeHTTP upgrades the connection and streams state events until the
// client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", slog.Any("error", err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()

			if err != nil {
				h.logger.Debug("websocket subscriber gone", slog.Any("error", err))
				return
			}
		}
	}
}
