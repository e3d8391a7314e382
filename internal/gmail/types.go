package gmail

import (
	"fmt"
	"strconv"
	"time"
)

// WatchInfo is the normalized result of a users.watch call.
// HistoryID is the mailbox position at registration time — the floor for
// any catch-up that starts from this watch.
type WatchInfo struct {
	HistoryID uint64
	Expires   time.Time
}

// Profile is the normalized result of a users.getProfile call.
type Profile struct {
	EmailAddress string
	HistoryID    uint64
}

// HistoryPage is one page of the mailbox change log.
// MessageIDs preserves provider order with duplicates removed.
// LastRecordID is the id of the last change record in this page and is
// the cursor position once this page's messages have been handed off;
// zero when the page carried no records. HistoryID is the mailbox's
// current position, the cursor candidate once every page has been
// consumed. NextPageToken is empty on the final page.
type HistoryPage struct {
	MessageIDs    []string
	LastRecordID  uint64
	HistoryID     uint64
	NextPageToken string
}

// watchResponse mirrors the users.watch response JSON. The API reports
// both fields as decimal strings; expiration is epoch milliseconds.
type watchResponse struct {
	HistoryID  string `json:"historyId"`
	Expiration string `json:"expiration"`
}

// profileResponse mirrors the users.getProfile response JSON.
type profileResponse struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    string `json:"historyId"`
}

// historyResponse mirrors the users.history.list response JSON.
type historyResponse struct {
	History       []historyRecord `json:"history"`
	NextPageToken string          `json:"nextPageToken"`
	HistoryID     string          `json:"historyId"`
}

// historyRecord is one change-log entry. Message additions and label
// additions both surface new messages (a label add can be the first
// time a message enters a watched label), so both are collected.
type historyRecord struct {
	ID            string          `json:"id"`
	MessagesAdded []messageChange `json:"messagesAdded"`
	LabelsAdded   []messageChange `json:"labelsAdded"`
}

type messageChange struct {
	Message messageRef `json:"message"`
}

type messageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// parseHistoryID converts the API's decimal-string history id.
// An empty string parses to zero (absent field).
func parseHistoryID(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}

	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("gmail: invalid history id %q: %w", s, err)
	}

	return id, nil
}

// parseExpiration converts the watch expiration (epoch milliseconds,
// reported as a decimal string) to a time.Time.
func parseExpiration(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("gmail: invalid watch expiration %q: %w", s, err)
	}

	return time.UnixMilli(ms).UTC(), nil
}
