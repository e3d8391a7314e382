package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// historyPageSize is the per-page maximum the API accepts.
const historyPageSize = 100

// History fetches one page of the mailbox change log starting after
// startHistoryID. Pass an empty pageToken for the first page; for
// subsequent pages pass the NextPageToken from the previous HistoryPage.
//
// HTTP 404 means startHistoryID is older than the provider retains —
// the cursor has expired and the caller must re-baseline from the
// current profile position. Returns ErrNotFound in that case.
func (c *Client) History(ctx context.Context, startHistoryID uint64, pageToken string) (*HistoryPage, error) {
	q := url.Values{}
	q.Set("startHistoryId", strconv.FormatUint(startHistoryID, 10))
	q.Set("maxResults", strconv.Itoa(historyPageSize))

	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	c.logger.Debug("fetching history page",
		slog.Uint64("start_history_id", startHistoryID),
		slog.Bool("first_page", pageToken == ""),
	)

	resp, err := c.Do(ctx, http.MethodGet, "/history?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var hr historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return nil, fmt.Errorf("gmail: decoding history response: %w", err)
	}

	historyID, err := parseHistoryID(hr.HistoryID)
	if err != nil {
		return nil, err
	}

	ids := collectMessageIDs(hr.History)

	var lastRecordID uint64
	if n := len(hr.History); n > 0 {
		lastRecordID, err = parseHistoryID(hr.History[n-1].ID)
		if err != nil {
			return nil, err
		}
	}

	c.logger.Debug("fetched history page",
		slog.Int("records", len(hr.History)),
		slog.Int("message_ids", len(ids)),
		slog.Uint64("history_id", historyID),
		slog.Bool("has_next_page", hr.NextPageToken != ""),
	)

	return &HistoryPage{
		MessageIDs:    ids,
		LastRecordID:  lastRecordID,
		HistoryID:     historyID,
		NextPageToken: hr.NextPageToken,
	}, nil
}

// collectMessageIDs extracts message ids from history records in
// provider order, deduplicating within the page. A message can appear
// in both messagesAdded and labelsAdded of the same record.
func collectMessageIDs(records []historyRecord) []string {
	seen := make(map[string]struct{})

	var ids []string

	add := func(changes []messageChange) {
		for _, ch := range changes {
			id := ch.Message.ID
			if id == "" {
				continue
			}

			if _, dup := seen[id]; dup {
				continue
			}

			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	for _, rec := range records {
		add(rec.MessagesAdded)
		add(rec.LabelsAdded)
	}

	return ids
}

// Profile fetches the mailbox profile. The engine uses it to learn the
// account's address at authorization time and to re-baseline the cursor
// when the change log no longer reaches back to the stored position.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/profile", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var pr profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("gmail: decoding profile response: %w", err)
	}

	historyID, err := parseHistoryID(pr.HistoryID)
	if err != nil {
		return nil, err
	}

	return &Profile{
		EmailAddress: pr.EmailAddress,
		HistoryID:    historyID,
	}, nil
}
