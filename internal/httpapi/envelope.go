package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tonimelisma/mailwatch-go/internal/lifecycle"
)

// pushEnvelope is the Pub/Sub push delivery wrapper. The payload the
// provider publishes sits base64-encoded in message.data; message_id is
// the transport's delivery token and the engine's idempotency key.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// pushPayload is the provider's notification inside the envelope.
// historyId arrives as a JSON number from Gmail but as a string from
// some republishers, so it is decoded leniently.
type pushPayload struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

// parseEnvelope decodes a Pub/Sub push body into a Notification.
func parseEnvelope(body []byte) (lifecycle.Notification, error) {
	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return lifecycle.Notification{}, fmt.Errorf("httpapi: malformed push envelope: %w", err)
	}

	if env.Message.MessageID == "" {
		return lifecycle.Notification{}, fmt.Errorf("httpapi: push envelope missing message id")
	}

	raw, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return lifecycle.Notification{}, fmt.Errorf("httpapi: decoding push data: %w", err)
	}

	var payload pushPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return lifecycle.Notification{}, fmt.Errorf("httpapi: malformed push payload: %w", err)
	}

	if payload.EmailAddress == "" {
		return lifecycle.Notification{}, fmt.Errorf("httpapi: push payload missing email address")
	}

	var historyID uint64
	if payload.HistoryID != "" {
		v, err := payload.HistoryID.Int64()
		if err != nil || v < 0 {
			return lifecycle.Notification{}, fmt.Errorf("httpapi: invalid history id %q", payload.HistoryID)
		}

		historyID = uint64(v)
	}

	return lifecycle.Notification{
		EmailAddress:  payload.EmailAddress,
		HistoryID:     historyID,
		DeliveryToken: env.Message.MessageID,
	}, nil
}
