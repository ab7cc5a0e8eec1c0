package credential

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
)

// Vault validates and refreshes credentials. It owns no storage; callers keep
// the returned credentials in their session state.
type Vault struct {
	httpClient *http.Client
}

func NewVault(timeout time.Duration) *Vault {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Vault{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Validate classifies a credential for one provider.
//
// OAuth: an expired token with a refresh token gets one refresh attempt; only
// a failed attempt marks the provider invalid. An expired token without a
// refresh token is unrecoverable. A non-expired token is provisionally valid
// on presence alone: the live check is deferred to the operation that needs
// it, so page loads don't double every provider round-trip.
//
// Static: presence of the secret is provisional validity; the first real use
// discovers a revoked app password.
//
// On a successful refresh the returned credential carries the new token pair;
// otherwise the input credential is returned unchanged.
func (v *Vault) Validate(ctx context.Context, provider enum.Provider, cred *Credential) (*Credential, error) {
	if !cred.Present() {
		return cred, errs.ErrAuthRequired
	}

	if cred.Kind == enum.CredentialStatic {
		return cred, nil
	}

	if !cred.IsExpired() {
		return cred, nil
	}

	if !cred.Refreshable() {
		return cred, errs.ErrCredentialUnrecoverable
	}

	refreshed, err := v.Refresh(ctx, provider, cred)
	if err != nil {
		return cred, err
	}
	return refreshed, nil
}

// Refresh performs one token-refresh round-trip. Never retried: a failure
// demotes the owning provider and the user reconnects explicitly.
func (v *Vault) Refresh(ctx context.Context, provider enum.Provider, cred *Credential) (*Credential, error) {
	if cred.Kind != enum.CredentialOAuth {
		return nil, &errs.RefreshError{Provider: provider.String(), Reason: "static credentials have no refresh semantics"}
	}
	if cred.RefreshToken == "" {
		return nil, errs.ErrCredentialUnrecoverable
	}

	conf := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cred.TokenEndpoint, AuthStyle: oauth2.AuthStyleInParams},
		Scopes:       cred.Scopes,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.httpClient)

	// Expiry in the past forces the token source to hit the endpoint.
	stale := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}

	fresh, err := conf.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, &errs.RefreshError{Provider: provider.String(), Reason: err.Error()}
	}

	refreshToken := fresh.RefreshToken
	if refreshToken == "" {
		// Some endpoints omit the refresh token on rotation; keep the old one.
		refreshToken = cred.RefreshToken
	}

	var expiresAt *time.Time
	if !fresh.Expiry.IsZero() {
		expiry := fresh.Expiry
		expiresAt = &expiry
	}

	return NewOAuthCredential(
		fresh.AccessToken,
		refreshToken,
		cred.TokenEndpoint,
		cred.ClientID,
		cred.ClientSecret,
		cred.Scopes,
		expiresAt,
	), nil
}
