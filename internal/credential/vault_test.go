package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
)

func expiredAt(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

func TestCredential_IsExpired(t *testing.T) {
	assert.False(t, NewStaticCredential("p").IsExpired())

	noExpiry := NewOAuthCredential("tok", "ref", "https://t", "id", "sec", nil, nil)
	assert.False(t, noExpiry.IsExpired())

	live := NewOAuthCredential("tok", "ref", "https://t", "id", "sec", nil, expiredAt(time.Hour))
	assert.False(t, live.IsExpired())

	stale := NewOAuthCredential("tok", "ref", "https://t", "id", "sec", nil, expiredAt(-time.Hour))
	assert.True(t, stale.IsExpired())
}

func TestCredential_Present(t *testing.T) {
	var nilCred *Credential
	assert.False(t, nilCred.Present())
	assert.False(t, NewStaticCredential("").Present())
	assert.True(t, NewStaticCredential("apppass").Present())
	assert.False(t, NewOAuthCredential("", "ref", "https://t", "id", "sec", nil, nil).Present())
	assert.True(t, NewOAuthCredential("tok", "", "https://t", "id", "sec", nil, nil).Present())
}

func TestVault_ValidatePassesThroughLiveCredentials(t *testing.T) {
	v := NewVault(time.Second)

	static := NewStaticCredential("apppass")
	got, err := v.Validate(context.Background(), enum.ProviderYahoo, static)
	require.NoError(t, err)
	assert.Same(t, static, got)

	live := NewOAuthCredential("tok", "ref", "https://t", "id", "sec", nil, expiredAt(time.Hour))
	got, err = v.Validate(context.Background(), enum.ProviderGmail, live)
	require.NoError(t, err)
	assert.Same(t, live, got)
}

func TestVault_ValidateRejectsEmptyCredential(t *testing.T) {
	v := NewVault(time.Second)

	_, err := v.Validate(context.Background(), enum.ProviderGmail, NewOAuthCredential("", "", "", "", "", nil, nil))
	assert.ErrorIs(t, err, errs.ErrAuthRequired)
}

func TestVault_ValidateExpiredWithoutRefreshTokenIsUnrecoverable(t *testing.T) {
	v := NewVault(time.Second)

	cred := NewOAuthCredential("tok", "", "https://t", "id", "sec", nil, expiredAt(-time.Hour))
	_, err := v.Validate(context.Background(), enum.ProviderGmail, cred)
	assert.ErrorIs(t, err, errs.ErrCredentialUnrecoverable)
}

func TestVault_RefreshRoundTrip(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`))
	}))
	defer ts.Close()

	v := NewVault(time.Second)
	stale := NewOAuthCredential("old-access", "old-refresh", ts.URL, "id", "sec", []string{"scope"}, expiredAt(-time.Hour))

	fresh, err := v.Validate(context.Background(), enum.ProviderGmail, stale)
	require.NoError(t, err)

	assert.Equal(t, "new-access", fresh.AccessToken)
	// The endpoint omitted a rotated refresh token; the old one survives.
	assert.Equal(t, "old-refresh", fresh.RefreshToken)
	assert.Equal(t, ts.URL, fresh.TokenEndpoint)
	require.NotNil(t, fresh.ExpiresAt)
	assert.True(t, fresh.ExpiresAt.After(time.Now()))
}

func TestVault_RefreshRotatesRefreshToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"rotated","token_type":"Bearer","expires_in":3600}`))
	}))
	defer ts.Close()

	v := NewVault(time.Second)
	stale := NewOAuthCredential("old-access", "old-refresh", ts.URL, "id", "sec", nil, expiredAt(-time.Hour))

	fresh, err := v.Refresh(context.Background(), enum.ProviderMicrosoft, stale)
	require.NoError(t, err)
	assert.Equal(t, "rotated", fresh.RefreshToken)
}

func TestVault_RefreshFailureIsTerminal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer ts.Close()

	v := NewVault(time.Second)
	stale := NewOAuthCredential("old-access", "old-refresh", ts.URL, "id", "sec", nil, expiredAt(-time.Hour))

	_, err := v.Refresh(context.Background(), enum.ProviderGmail, stale)
	var refreshErr *errs.RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.Equal(t, "gmail", refreshErr.Provider)
}

func TestVault_RefreshRejectsStaticCredential(t *testing.T) {
	v := NewVault(time.Second)

	_, err := v.Refresh(context.Background(), enum.ProviderYahoo, NewStaticCredential("apppass"))
	var refreshErr *errs.RefreshError
	assert.ErrorAs(t, err, &refreshErr)
}
