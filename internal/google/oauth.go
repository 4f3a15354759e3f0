package google

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teemow/inboxresponder/internal/instrumentation"
	"github.com/teemow/inboxresponder/internal/logging"
)

// DefaultTokenFile returns the token path under the user cache directory.
func DefaultTokenFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "inboxresponder", "google-token.json")
}

// Authorizer provides authorized HTTP clients for Google APIs.
type Authorizer struct {
	config  *oauth2.Config
	store   *TokenStore
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewAuthorizer reads an OAuth client secret file ("installed" or "web"
// application JSON as downloaded from the Google Cloud console).
func NewAuthorizer(credentialsFile, tokenFile string, logger *slog.Logger, metrics *instrumentation.Metrics) (*Authorizer, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}
	config, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	return NewAuthorizerFromConfig(config, tokenFile, logger, metrics), nil
}

// NewAuthorizerFromConfig creates an Authorizer from an existing OAuth config.
func NewAuthorizerFromConfig(config *oauth2.Config, tokenFile string, logger *slog.Logger, metrics *instrumentation.Metrics) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	if tokenFile == "" {
		tokenFile = DefaultTokenFile()
	}
	return &Authorizer{
		config:  config,
		store:   NewTokenStore(tokenFile),
		logger:  logging.WithComponent(logger, "google"),
		metrics: metrics,
	}
}

// TokenFile returns where the token is stored.
func (a *Authorizer) TokenFile() string {
	return a.store.Path()
}

// HasToken reports whether a token has been stored.
func (a *Authorizer) HasToken() bool {
	_, err := a.store.Load()
	return err == nil
}

// AuthCodeURL returns the consent URL. Offline access is requested so a
// refresh token is issued.
func (a *Authorizer) AuthCodeURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// NewState returns a random state value for AuthCodeURL.
func NewState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Exchange trades an authorization code for a token and stores it.
func (a *Authorizer) Exchange(ctx context.Context, code string) error {
	tok, err := a.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange auth code: %w", err)
	}
	if err := a.store.Save(tok); err != nil {
		return err
	}
	a.logger.Info("Google OAuth token stored", slog.String("path", a.store.Path()))
	return nil
}

// TokenSource returns an auto-refreshing source that persists refreshed
// tokens. It fails with ErrNoToken before the consent flow has run.
func (a *Authorizer) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	tok, err := a.store.Load()
	if err != nil {
		return nil, err
	}
	return &persistingSource{
		base:    a.config.TokenSource(ctx, tok),
		store:   a.store,
		logger:  a.logger,
		metrics: a.metrics,
		last:    tok.AccessToken,
	}, nil
}

// HTTPClient returns an authorized client. The stored token is validated
// (and refreshed if expired) before returning.
func (a *Authorizer) HTTPClient(ctx context.Context) (*http.Client, error) {
	ts, err := a.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("stored token is invalid, run the auth command again: %w", err)
	}
	return oauth2.NewClient(ctx, ts), nil
}
