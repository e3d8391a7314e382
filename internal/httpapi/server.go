package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/mailwatch-go/internal/gmail"
	"github.com/tonimelisma/mailwatch-go/internal/lifecycle"
)

// maxPushBody bounds how much of a push delivery is read. Real
// notifications are a few hundred bytes.
const maxPushBody = 64 * 1024

// oauthStateTTL bounds how long a started authorization flow may take.
const oauthStateTTL = 10 * time.Minute

// Server hosts the push-notification intake, the operations API the
// CLI talks to, and the websocket state feed.
type Server struct {
	engine   *lifecycle.Engine
	provider lifecycle.Provider
	oauth    *gmail.OAuth
	hub      *Hub
	logger   *slog.Logger

	addr            string
	shutdownTimeout time.Duration

	mu          sync.Mutex
	oauthStates map[string]time.Time

	now func() time.Time
}

func NewServer(engine *lifecycle.Engine, provider lifecycle.Provider, oauth *gmail.OAuth, hub *Hub, addr string, shutdownTimeout time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		engine:          engine,
		provider:        provider,
		oauth:           oauth,
		hub:             hub,
		logger:          logger,
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
		oauthStates:     make(map[string]time.Time),
		now:             time.Now,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /pubsub/push", s.handlePush)

	mux.HandleFunc("GET /v1/accounts", s.handleListAccounts)
	mux.HandleFunc("GET /v1/accounts/{id}", s.handleGetAccount)
	mux.HandleFunc("POST /v1/accounts/{id}/refresh", s.handleRefresh)
	mux.HandleFunc("POST /v1/accounts/{id}/register", s.handleRegister)
	mux.HandleFunc("POST /v1/accounts/{id}/resync", s.handleResync)
	mux.HandleFunc("POST /v1/accounts/{id}/revoke", s.handleRevoke)
	mux.HandleFunc("POST /v1/accounts/{id}/reauth", s.handleReauth)

	mux.HandleFunc("GET /oauth/start", s.handleOAuthStart)
	mux.HandleFunc("GET /oauth/callback", s.handleOAuthCallback)

	if s.hub != nil {
		mux.Handle("GET /v1/events", s.hub)
	}

	return mux
}

// Run serves until the context is cancelled, then drains connections
// within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("http server listening", slog.String("addr", s.addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// handlePush is the Pub/Sub push endpoint. Anything the engine
// classifies as stale or duplicate is acknowledged with 204 so the
// transport stops redelivering; only persistence failures return 5xx.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	n, err := parseEnvelope(body)
	if err != nil {
		s.logger.Warn("rejecting malformed push delivery", slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	if err := s.engine.Receiver.OnDelivery(r.Context(), n); err != nil {
		if errors.Is(err, lifecycle.ErrStaleSubscription) {
			s.logger.Info("discarding stale delivery", slog.Any("error", err))
			w.WriteHeader(http.StatusNoContent)

			return
		}

		s.logger.Error("push intake failed", slog.Any("error", err))
		http.Error(w, "intake failed", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.engine.Status.All(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status.Account(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	acct, err := s.engine.Refresher.Refresh(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"account_id":        acct.ID,
		"access_expires_at": acct.AccessExpiresAt,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	watch, err := s.engine.Registrar.Register(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"account_id": watch.AccountID,
		"state":      watch.State,
		"expires_at": watch.ExpiresAt,
	})
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Catchup.Resync(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Registrar.Revoke(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// reauthRequest carries the token pair an external re-authorization
// flow obtained for a known account.
type reauthRequest struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// handleReauth completes a re-authorization: it stores the fresh token
// pair, re-registers the watch, and runs the dormancy catch-up before
// responding with the resulting report.
func (s *Server) handleReauth(w http.ResponseWriter, r *http.Request) {
	var req reauthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	report, err := s.engine.CompleteReauth(r.Context(), r.PathValue("id"), &oauth2.Token{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		Expiry:       req.Expiry,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

// handleOAuthStart begins an authorization-code flow. The caller opens
// the returned URL in a browser; the provider redirects back to
// /oauth/callback.
func (s *Server) handleOAuthStart(w http.ResponseWriter, _ *http.Request) {
	state := uuid.NewString()

	s.mu.Lock()
	s.oauthStates[state] = s.now().Add(oauthStateTTL)
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, map[string]string{
		"url":   s.oauth.AuthCodeURL(state),
		"state": state,
	})
}

func (s *Server) consumeOAuthState(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := s.oauthStates[state]
	if !ok {
		return false
	}

	delete(s.oauthStates, state)

	// Expired entries for other flows are swept while we hold the lock.
	now := s.now()
	for st, dl := range s.oauthStates {
		if now.After(dl) {
			delete(s.oauthStates, st)
		}
	}

	return now.Before(deadline)
}

// handleOAuthCallback finishes the authorization-code flow: exchange
// the code, discover the mailbox address, and hand the grant to the
// engine, which registers the watch and runs the initial catch-up.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	if !s.consumeOAuthState(state) {
		http.Error(w, "unknown or expired oauth state", http.StatusBadRequest)
		return
	}

	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	tok, err := s.oauth.Exchange(r.Context(), code)
	if err != nil {
		s.writeError(w, fmt.Errorf("exchanging authorization code: %w", err))
		return
	}

	profile, err := s.provider.Profile(r.Context(), tok.AccessToken)
	if err != nil {
		s.writeError(w, fmt.Errorf("fetching mailbox profile: %w", err))
		return
	}

	acct, err := s.engine.Authorize(r.Context(), profile.EmailAddress, tok)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"account_id": acct.ID,
		"email":      acct.Email,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response", slog.Any("error", err))
	}
}

// writeError maps engine errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, lifecycle.ErrAccountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrReauthRequired):
		status = http.StatusConflict
	case errors.Is(err, gmail.ErrThrottled):
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
