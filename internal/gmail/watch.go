package gmail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// watchRequest mirrors the users.watch request JSON. Both inbox and sent
// labels are watched so the change log covers the whole conversation,
// matching the registration the catch-up engine expects.
type watchRequest struct {
	TopicName         string   `json:"topicName"`
	LabelIDs          []string `json:"labelIds"`
	LabelFilterAction string   `json:"labelFilterAction"`
}

// watchLabels are the labels every watch registration covers.
var watchLabels = []string{"INBOX", "SENT"}

// Watch registers (or replaces) the push-notification subscription for
// the mailbox, routing change notifications to the given Pub/Sub topic.
// The provider's semantics are latest-call-wins: an existing watch for
// the same mailbox is superseded, so registration is idempotent from
// the caller's perspective. The returned WatchInfo carries the hard
// expiration (at most 7 days out) and the mailbox position at
// registration time.
func (c *Client) Watch(ctx context.Context, topic string) (*WatchInfo, error) {
	body, err := json.Marshal(watchRequest{
		TopicName:         topic,
		LabelIDs:          watchLabels,
		LabelFilterAction: "include",
	})
	if err != nil {
		return nil, fmt.Errorf("gmail: encoding watch request: %w", err)
	}

	c.logger.Info("registering watch",
		slog.String("topic", topic),
	)

	resp, err := c.Do(ctx, http.MethodPost, "/watch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wr watchResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("gmail: decoding watch response: %w", err)
	}

	historyID, err := parseHistoryID(wr.HistoryID)
	if err != nil {
		return nil, err
	}

	expires, err := parseExpiration(wr.Expiration)
	if err != nil {
		return nil, err
	}

	c.logger.Info("watch registered",
		slog.Uint64("history_id", historyID),
		slog.Time("expires", expires),
	)

	return &WatchInfo{
		HistoryID: historyID,
		Expires:   expires,
	}, nil
}

// StopWatch tears down the current push-notification subscription.
// Returns nil if no watch exists (the provider treats stop as
// best-effort and so do callers — a failed stop never blocks a renewal).
func (c *Client) StopWatch(ctx context.Context) error {
	resp, err := c.Do(ctx, http.MethodPost, "/stop", nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.logger.Debug("no watch to stop")

			return nil
		}

		return err
	}
	resp.Body.Close()

	c.logger.Info("watch stopped")

	return nil
}

// WatchExpiring reports whether a watch expiring at expires needs
// renewal when judged at now with the given lead time. The lead must be
// generous: once a watch lapses the provider stops delivering and
// nothing will arrive to prompt a recovery.
func WatchExpiring(expires, now time.Time, lead time.Duration) bool {
	return !now.Add(lead).Before(expires)
}
