package persistence

import (
	"context"

	"golang.org/x/oauth2"

	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
)

// OAuthTokenSource implements out.TokenSource over a SessionStore and
// the provider's oauth2 configuration. Refresh exchanges the stored
// refresh token and persists the result before returning it.
type OAuthTokenSource struct {
	config   *oauth2.Config
	sessions out.SessionStore
}

func NewOAuthTokenSource(config *oauth2.Config, sessions out.SessionStore) *OAuthTokenSource {
	return &OAuthTokenSource{config: config, sessions: sessions}
}

func (t *OAuthTokenSource) AccessToken(ctx context.Context, accountID string) (*oauth2.Token, error) {
	token, err := t.sessions.LoadToken(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if token.Valid() {
		return token, nil
	}
	return t.refresh(ctx, accountID, token)
}

func (t *OAuthTokenSource) Refresh(ctx context.Context, accountID string) (*oauth2.Token, error) {
	token, err := t.sessions.LoadToken(ctx, accountID)
	if err != nil {
		return nil, err
	}
	// Force the exchange even when the cached token still looks valid;
	// the provider already rejected it.
	token.Expiry = token.Expiry.AddDate(-1, 0, 0)
	return t.refresh(ctx, accountID, token)
}

func (t *OAuthTokenSource) refresh(ctx context.Context, accountID string, token *oauth2.Token) (*oauth2.Token, error) {
	if token.RefreshToken == "" {
		return nil, apperr.AuthExpired(accountID)
	}

	fresh, err := t.config.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, apperr.AuthExpired(accountID).WithError(err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = token.RefreshToken
	}
	if err := t.sessions.SaveToken(ctx, accountID, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

var _ out.TokenSource = (*OAuthTokenSource)(nil)

// TokenSourceMux fans refresh attempts out across the configured
// providers. A refresh token is only honored by the provider that
// issued it, so the first successful exchange identifies the owner.
type TokenSourceMux struct {
	sessions out.SessionStore
	sources  []out.TokenSource
}

func NewTokenSourceMux(sessions out.SessionStore, sources ...out.TokenSource) *TokenSourceMux {
	return &TokenSourceMux{sessions: sessions, sources: sources}
}

func (m *TokenSourceMux) AccessToken(ctx context.Context, accountID string) (*oauth2.Token, error) {
	token, err := m.sessions.LoadToken(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if token.Valid() {
		return token, nil
	}
	return m.Refresh(ctx, accountID)
}

func (m *TokenSourceMux) Refresh(ctx context.Context, accountID string) (*oauth2.Token, error) {
	var lastErr error
	for _, source := range m.sources {
		token, err := source.Refresh(ctx, accountID)
		if err == nil {
			return token, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = apperr.AuthExpired(accountID)
	}
	return nil, lastErr
}

var _ out.TokenSource = (*TokenSourceMux)(nil)
