package lifecycle

import (
	"context"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/mailwatch-go/internal/gmail"
)

// GmailProvider implements Provider against the Gmail REST API. Calls
// that need a bearer token build a short-lived client around the token
// the engine supplies, so the engine controls exactly which credential
// each call uses.
type GmailProvider struct {
	oauth      *gmail.OAuth
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGmailProvider wires the provider against the real Gmail endpoints.
// baseURL overrides the API base for tests; pass "" in production.
func NewGmailProvider(oauth *gmail.OAuth, baseURL string, httpClient *http.Client, logger *slog.Logger) *GmailProvider {
	if logger == nil {
		logger = slog.Default()
	}

	return &GmailProvider{
		oauth:      oauth,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (p *GmailProvider) client(accessToken string) *gmail.Client {
	return gmail.NewClient(p.baseURL, p.httpClient, gmail.StaticToken(accessToken), p.logger)
}

func (p *GmailProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return p.oauth.Refresh(ctx, refreshToken)
}

func (p *GmailProvider) Watch(ctx context.Context, accessToken, topic string) (*gmail.WatchInfo, error) {
	return p.client(accessToken).Watch(ctx, topic)
}

func (p *GmailProvider) StopWatch(ctx context.Context, accessToken string) error {
	return p.client(accessToken).StopWatch(ctx)
}

func (p *GmailProvider) History(ctx context.Context, accessToken string, startHistoryID uint64, pageToken string) (*gmail.HistoryPage, error) {
	return p.client(accessToken).History(ctx, startHistoryID, pageToken)
}

func (p *GmailProvider) Profile(ctx context.Context, accessToken string) (*gmail.Profile, error) {
	return p.client(accessToken).Profile(ctx)
}
