// Package oauth implements the authorization-code flow with PKCE used by
// MCP servers that require sign-in, with tokens persisted between runs.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// DefaultRedirectPort is where the local callback listener binds.
const DefaultRedirectPort = 8089

// Config configures a Flow.
type Config struct {
	ClientID     string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	RedirectPort int
	TokenPath    string
	// PromptURL presents the authorization URL to the user. Defaults to
	// logging it.
	PromptURL func(url string)
	Logger    zerolog.Logger
}

// Flow drives one provider's PKCE authorization and token refresh.
type Flow struct {
	oauthCfg oauth2.Config
	store    *TokenStore
	port     int
	prompt   func(url string)
	log      zerolog.Logger
}

// New creates a Flow.
func New(cfg Config) (*Flow, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("auth and token urls are required")
	}
	if cfg.TokenPath == "" {
		return nil, fmt.Errorf("token path is required")
	}
	if cfg.RedirectPort == 0 {
		cfg.RedirectPort = DefaultRedirectPort
	}

	log := cfg.Logger
	prompt := cfg.PromptURL
	if prompt == nil {
		prompt = func(url string) {
			log.Info().Str("url", url).Msg("authorization required, open this URL")
		}
	}

	return &Flow{
		oauthCfg: oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: fmt.Sprintf("http://localhost:%d/callback", cfg.RedirectPort),
			Scopes:      cfg.Scopes,
		},
		store:  NewTokenStore(cfg.TokenPath),
		port:   cfg.RedirectPort,
		prompt: prompt,
		log:    log,
	}, nil
}

// Token returns a usable access token: the stored one while it is fresh,
// a refreshed one when the provider gave us a refresh token, and a full
// interactive authorization otherwise.
func (f *Flow) Token(ctx context.Context) (string, error) {
	if stored, err := f.store.Load(); err == nil {
		if fresh(stored) {
			return stored.AccessToken, nil
		}
		if stored.RefreshToken != "" {
			refreshed, err := f.oauthCfg.TokenSource(ctx, stored).Token()
			if err == nil {
				if err := f.store.Save(refreshed); err != nil {
					return "", err
				}
				f.log.Debug().Msg("access token refreshed")
				return refreshed.AccessToken, nil
			}
			f.log.Warn().Err(err).Msg("token refresh failed, re-authorizing")
		}
	}
	return f.authorize(ctx)
}

// authorize runs the browser round trip: local callback listener, state
// check, PKCE code exchange.
func (f *Flow) authorize(ctx context.Context) (string, error) {
	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			errCh <- errors.New("authorization state mismatch")
			return
		}
		if authErr := query.Get("error"); authErr != "" {
			http.Error(w, authErr, http.StatusBadRequest)
			errCh <- fmt.Errorf("authorization denied: %s", authErr)
			return
		}
		fmt.Fprint(w, "Authorization complete. You can close this tab.")
		codeCh <- query.Get("code")
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("localhost:%d", f.port),
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("callback listener: %w", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	authURL := f.oauthCfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)
	f.prompt(authURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}

	token, err := f.oauthCfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return "", fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := f.store.Save(token); err != nil {
		return "", err
	}
	f.log.Info().Msg("authorization complete")
	return token.AccessToken, nil
}

// expirySlack keeps us from presenting a token that dies mid-request.
const expirySlack = 60 * time.Second

func fresh(token *oauth2.Token) bool {
	if token == nil || token.AccessToken == "" {
		return false
	}
	if token.Expiry.IsZero() {
		return true
	}
	return time.Until(token.Expiry) > expirySlack
}
