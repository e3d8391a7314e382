package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// defaultScopes covers mailbox reads (history, profile) and watch
// registration. Offline access is requested at the authorization URL so
// a refresh token is always issued.
var defaultScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/userinfo.email",
}

// OAuth performs the provider token-endpoint operations: the
// authorization-code exchange at first connect and the refresh-token
// grant afterwards. It classifies invalid_grant responses as
// ErrInvalidGrant so callers can distinguish "user must re-authorize"
// from transient failures.
type OAuth struct {
	cfg    *oauth2.Config
	logger *slog.Logger
}

// NewOAuth creates the token-endpoint client against Google's endpoint.
// scopes may be nil to use the defaults.
func NewOAuth(clientID, clientSecret, redirectURL string, scopes []string, logger *slog.Logger) *OAuth {
	if logger == nil {
		logger = slog.Default()
	}

	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	return &OAuth{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
		logger: logger,
	}
}

// newOAuthWithEndpoint builds an OAuth against an arbitrary token
// endpoint so tests can inject an httptest server.
func newOAuthWithEndpoint(tokenURL string, logger *slog.Logger) *OAuth {
	o := NewOAuth("test-client", "test-secret", "http://localhost/callback", nil, logger)
	o.cfg.Endpoint = oauth2.Endpoint{TokenURL: tokenURL}

	return o
}

// AuthCodeURL returns the authorization URL for the user-facing re-auth
// flow. Offline access plus forced consent ensures Google issues a
// refresh token even when the user granted access before.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token pair.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := o.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, classifyTokenError("exchange", err)
	}

	o.logger.Info("authorization code exchanged",
		slog.Time("expiry", tok.Expiry),
		slog.Bool("has_refresh_token", tok.RefreshToken != ""),
	)

	return tok, nil
}

// Refresh trades a refresh token for a fresh access token. Google may
// rotate the refresh token; when the response omits one, the input
// refresh token remains valid and is carried forward on the result so
// callers can always persist the pair atomically.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := o.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return nil, classifyTokenError("refresh", err)
	}

	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	o.logger.Info("access token refreshed",
		slog.Time("expiry", tok.Expiry),
		slog.Bool("refresh_token_rotated", tok.RefreshToken != refreshToken),
	)

	return tok, nil
}

// classifyTokenError maps token-endpoint failures onto the package
// sentinels. invalid_grant (expired or revoked refresh token, consumed
// or stale authorization code) becomes ErrInvalidGrant; 5xx and 429
// become the retryable sentinels; everything else passes through.
func classifyTokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return fmt.Errorf("gmail: token %s: %s: %w", op, re.ErrorDescription, ErrInvalidGrant)
		}

		if re.Response != nil {
			switch {
			case re.Response.StatusCode == http.StatusTooManyRequests:
				return fmt.Errorf("gmail: token %s: %w", op, ErrThrottled)
			case re.Response.StatusCode >= http.StatusInternalServerError:
				return fmt.Errorf("gmail: token %s: %w", op, ErrServerError)
			}
		}
	}

	return fmt.Errorf("gmail: token %s failed: %w", op, err)
}

// EffectiveExpiry shortens the provider-reported expiry by the safety
// margin so a token is treated as expired slightly before the provider
// would reject it, tolerating clock skew and request latency.
func EffectiveExpiry(reported time.Time, margin time.Duration) time.Time {
	return reported.Add(-margin)
}
