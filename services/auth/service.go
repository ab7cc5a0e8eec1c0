package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/mailsweep/mailsweep/config"
	"github.com/mailsweep/mailsweep/internal/credential"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

const (
	googleAuthorizeURL = "https://accounts.google.com/o/oauth2/auth"
	googleTokenURL     = "https://oauth2.googleapis.com/token"
	googleUserinfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"

	microsoftAuthorizeURL = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	microsoftTokenURL     = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	microsoftUserinfoURL  = "https://graph.microsoft.com/v1.0/me"
)

var googleScopes = []string{
	"https://www.googleapis.com/auth/gmail.modify",
	"openid", "email", "profile",
}

// offline_access is what makes Microsoft hand out a refresh token.
var microsoftScopes = []string{
	"openid", "profile", "email", "offline_access",
	"Mail.Read", "Mail.ReadWrite",
}

// Identity is the normalized profile of the account that just authorized.
type Identity struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// OAuthService drives the authorization-code flow for the OAuth providers
// and fetches the account identity once tokens are in hand.
type OAuthService struct {
	httpClient *http.Client
	google     *config.GoogleOAuthConfig
	microsoft  *config.MicrosoftOAuthConfig
	baseURL    string
}

func NewOAuthService(cfg *config.Config) *OAuthService {
	return &OAuthService{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		google:     cfg.GoogleOAuthConfig,
		microsoft:  cfg.MicrosoftOAuthConfig,
		baseURL:    cfg.AppConfig.BaseURL,
	}
}

// AuthorizeURL builds the provider's consent-screen URL. The state value is
// the caller's CSRF token, verified on callback.
func (s *OAuthService) AuthorizeURL(provider enum.Provider, state string) (string, error) {
	cfg, err := s.oauthConfig(provider)
	if err != nil {
		return "", err
	}

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if provider == enum.ProviderGmail {
		// Google only re-issues a refresh token when consent is re-prompted.
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "consent"))
	}
	return cfg.AuthCodeURL(state, opts...), nil
}

// Exchange trades the callback code for tokens and returns them as a stored
// credential, carrying everything a later refresh needs.
func (s *OAuthService) Exchange(ctx context.Context, provider enum.Provider, code string) (*credential.Credential, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "OAuthService.Exchange")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, provider.String())

	cfg, err := s.oauthConfig(provider)
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "code exchange")
	}

	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		expiresAt = &expiry
	}
	return credential.NewOAuthCredential(
		token.AccessToken,
		token.RefreshToken,
		cfg.Endpoint.TokenURL,
		cfg.ClientID,
		cfg.ClientSecret,
		cfg.Scopes,
		expiresAt,
	), nil
}

// FetchIdentity resolves who the token belongs to. The email fallback chain
// (email, mail, userPrincipalName) absorbs the differences between Google's
// userinfo shape and Graph's /me shape.
func (s *OAuthService) FetchIdentity(ctx context.Context, provider enum.Provider, accessToken string) (*Identity, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "OAuthService.FetchIdentity")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, provider.String())

	var userinfoURL string
	switch provider {
	case enum.ProviderGmail:
		userinfoURL = googleUserinfoURL
	case enum.ProviderMicrosoft:
		userinfoURL = microsoftUserinfoURL
	default:
		return nil, errs.ErrUnknownProvider
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build userinfo request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "fetch userinfo")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := errors.Errorf("userinfo fetch failed with status %d", resp.StatusCode)
		tracing.TraceErr(span, err)
		return nil, err
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode userinfo")
	}

	identity := ParseUserinfo(raw)
	if identity.Email == "" {
		return nil, errors.New("no email address in userinfo response")
	}
	return identity, nil
}

// ParseUserinfo normalizes a userinfo/me payload into an Identity.
func ParseUserinfo(raw map[string]interface{}) *Identity {
	str := func(key string) string {
		v, _ := raw[key].(string)
		return v
	}

	email := str("email")
	if email == "" {
		email = str("mail")
	}
	if email == "" {
		email = str("userPrincipalName")
	}
	email = CleanPrincipalName(email)

	name := str("name")
	if name == "" {
		name = str("displayName")
	}
	if name == "" {
		name = str("givenName")
	}
	if name == "" && email != "" {
		name = strings.Split(email, "@")[0]
	}

	return &Identity{
		Email:       strings.ToLower(strings.TrimSpace(email)),
		DisplayName: name,
	}
}

// CleanPrincipalName undoes the mangling Microsoft applies to personal
// accounts: "john_outlook.com#EXT#@tenant" means john@outlook.com.
func CleanPrincipalName(email string) string {
	if !strings.Contains(email, "#EXT#") {
		return email
	}
	email = strings.SplitN(email, "#EXT#", 2)[0]
	// The mangled form replaces the @ with an underscore; the address's own
	// underscores come first, so the last one is the separator.
	if i := strings.LastIndex(email, "_"); i >= 0 {
		email = email[:i] + "@" + email[i+1:]
	}
	return email
}

func (s *OAuthService) oauthConfig(provider enum.Provider) (*oauth2.Config, error) {
	switch provider {
	case enum.ProviderGmail:
		return &oauth2.Config{
			ClientID:     s.google.ClientID,
			ClientSecret: s.google.ClientSecret,
			RedirectURL:  fmt.Sprintf("%s/callback/google", s.baseURL),
			Scopes:       googleScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  googleAuthorizeURL,
				TokenURL: googleTokenURL,
			},
		}, nil
	case enum.ProviderMicrosoft:
		return &oauth2.Config{
			ClientID:     s.microsoft.ClientID,
			ClientSecret: s.microsoft.ClientSecret,
			RedirectURL:  fmt.Sprintf("%s/callback/outlook", s.baseURL),
			Scopes:       microsoftScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  microsoftAuthorizeURL,
				TokenURL: microsoftTokenURL,
			},
		}, nil
	default:
		return nil, errs.ErrUnknownProvider
	}
}
