package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tonimelisma/mailwatch-go/internal/lifecycle"
)

// apiClient talks to the running daemon's operations API. Client
// commands are thin wrappers over it so all lifecycle logic stays in
// the daemon process that owns the state database.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

// newAPIClient builds a client against the daemon's listen address.
func newAPIClient(listenAddr string) *apiClient {
	base := listenAddr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	return &apiClient{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: defaultHTTPClient(),
	}
}

// apiError is the daemon's error envelope.
type apiError struct {
	Error string `json:"error"`
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader

	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}

		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}

		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// listAccounts fetches the lifecycle status of every account.
func (c *apiClient) listAccounts(ctx context.Context) ([]lifecycle.AccountStatus, error) {
	var statuses []lifecycle.AccountStatus
	if err := c.get(ctx, "/v1/accounts", &statuses); err != nil {
		return nil, err
	}

	return statuses, nil
}

// resolveAccountID turns an account id or email into the account id.
// Commands accept either because emails are what operators remember.
func (c *apiClient) resolveAccountID(ctx context.Context, idOrEmail string) (string, error) {
	statuses, err := c.listAccounts(ctx)
	if err != nil {
		return "", err
	}

	for _, st := range statuses {
		if st.AccountID == idOrEmail || st.Email == idOrEmail {
			return st.AccountID, nil
		}
	}

	return "", fmt.Errorf("no account matches %q", idOrEmail)
}
