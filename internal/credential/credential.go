package credential

import (
	"time"

	"github.com/mailsweep/mailsweep/internal/enum"
)

// Credential is the normalized secret material for one connected provider.
// It is a tagged union: OAuth token tuples for Gmail/Microsoft, a static app
// password for IMAP providers. Exactly one shape is populated per Kind.
type Credential struct {
	Kind enum.CredentialKind `json:"kind"`

	// OAuth variant
	AccessToken   string     `json:"access_token,omitempty"`
	RefreshToken  string     `json:"refresh_token,omitempty"`
	TokenEndpoint string     `json:"token_endpoint,omitempty"`
	ClientID      string     `json:"client_id,omitempty"`
	ClientSecret  string     `json:"client_secret,omitempty"`
	Scopes        []string   `json:"scopes,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`

	// Static variant (app password). Validity is only discoverable by use.
	Secret string `json:"secret,omitempty"`
}

func NewOAuthCredential(accessToken, refreshToken, tokenEndpoint, clientID, clientSecret string, scopes []string, expiresAt *time.Time) *Credential {
	return &Credential{
		Kind:          enum.CredentialOAuth,
		AccessToken:   accessToken,
		RefreshToken:  refreshToken,
		TokenEndpoint: tokenEndpoint,
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		Scopes:        scopes,
		ExpiresAt:     expiresAt,
	}
}

func NewStaticCredential(secret string) *Credential {
	return &Credential{
		Kind:   enum.CredentialStatic,
		Secret: secret,
	}
}

// IsExpired reports whether an OAuth access token is past its expiry.
// Static credentials never report expiry; a live round-trip is the only way
// to learn they went bad.
func (c *Credential) IsExpired() bool {
	if c.Kind != enum.CredentialOAuth {
		return false
	}
	if c.ExpiresAt == nil {
		return false
	}
	return c.ExpiresAt.Before(time.Now())
}

// Refreshable reports whether a refresh round-trip is even possible.
func (c *Credential) Refreshable() bool {
	return c.Kind == enum.CredentialOAuth && c.RefreshToken != ""
}

// Present reports whether the credential carries any secret material at all.
func (c *Credential) Present() bool {
	if c == nil {
		return false
	}
	switch c.Kind {
	case enum.CredentialOAuth:
		return c.AccessToken != ""
	case enum.CredentialStatic:
		return c.Secret != ""
	}
	return false
}
