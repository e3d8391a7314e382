package main

import (
	"context"
	"log/slog"
)

// logConsumer is the default downstream for confirmed change batches.
// It records each batch so operators can see mailbox activity flowing;
// a real deployment replaces it with an indexer or queue producer.
// Replays are harmless here, which satisfies the at-least-once
// delivery contract.
type logConsumer struct {
	logger *slog.Logger
}

func newLogConsumer(logger *slog.Logger) *logConsumer {
	return &logConsumer{logger: logger}
}

func (c *logConsumer) HandleMessages(_ context.Context, accountID string, messageIDs []string) error {
	c.logger.Info("change batch received",
		"account_id", accountID,
		"messages", len(messageIDs),
	)
	c.logger.Debug("change batch detail",
		"account_id", accountID,
		"message_ids", messageIDs,
	)

	return nil
}
