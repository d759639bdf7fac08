package out

import (
	"context"

	"golang.org/x/oauth2"
)

// =============================================================================
// OAuth Token Ports
// =============================================================================

// TokenSource supplies provider credentials for a connected account.
// AccessToken returns the current token; Refresh forces a refresh-token
// exchange and persists the result. Callers retry an expired-auth
// provider call exactly once after a successful Refresh.
type TokenSource interface {
	AccessToken(ctx context.Context, accountID string) (*oauth2.Token, error)
	Refresh(ctx context.Context, accountID string) (*oauth2.Token, error)
}

// SessionStore is the credential cache backing a TokenSource.
type SessionStore interface {
	SaveToken(ctx context.Context, accountID string, token *oauth2.Token) error
	LoadToken(ctx context.Context, accountID string) (*oauth2.Token, error)
	DeleteToken(ctx context.Context, accountID string) error
}
