package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefresh_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	o := newOAuthWithEndpoint(srv.URL, slog.Default())

	tok, err := o.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)

	assert.Equal(t, "new-access", tok.AccessToken)
	// Refresh token was not rotated — the old one carries forward.
	assert.Equal(t, "old-refresh", tok.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, 30*time.Second)
}

func TestRefresh_RotatedRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	o := newOAuthWithEndpoint(srv.URL, slog.Default())

	tok, err := o.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-refresh", tok.RefreshToken)
}

func TestRefresh_InvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
	}))
	defer srv.Close()

	o := newOAuthWithEndpoint(srv.URL, slog.Default())

	_, err := o.Refresh(context.Background(), "dead-refresh")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGrant)
	assert.Contains(t, err.Error(), "expired or revoked")
}

func TestRefresh_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	o := newOAuthWithEndpoint(srv.URL, slog.Default())

	_, err := o.Refresh(context.Background(), "some-refresh")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.True(t, IsTransient(err))
}

func TestExchange_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "the-code", r.Form.Get("code"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"access-1","refresh_token":"refresh-1","token_type":"Bearer","expires_in":3599}`)
	}))
	defer srv.Close()

	o := newOAuthWithEndpoint(srv.URL, slog.Default())

	tok, err := o.Exchange(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
}

func TestExchange_InvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Malformed auth code."}`)
	}))
	defer srv.Close()

	o := newOAuthWithEndpoint(srv.URL, slog.Default())

	_, err := o.Exchange(context.Background(), "bad-code")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestAuthCodeURL(t *testing.T) {
	o := NewOAuth("client-id", "secret", "https://app.example.com/callback", nil, slog.Default())

	u := o.AuthCodeURL("account-42")
	assert.Contains(t, u, "client_id=client-id")
	assert.Contains(t, u, "state=account-42")
	assert.Contains(t, u, "access_type=offline")
	assert.Contains(t, u, "prompt=consent")
}

func TestEffectiveExpiry(t *testing.T) {
	reported := time.Date(2026, 1, 10, 13, 0, 0, 0, time.UTC)
	got := EffectiveExpiry(reported, 5*time.Minute)
	assert.Equal(t, reported.Add(-5*time.Minute), got)
}
