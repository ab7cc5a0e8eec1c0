package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsweep/mailsweep/internal/credential"
	"github.com/mailsweep/mailsweep/internal/crypto"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	cipher, err := crypto.NewCipher("a-sufficiently-long-test-secret")
	require.NoError(t, err)
	return NewStore(cipher, ttl)
}

func TestStore_RoundTrip(t *testing.T) {
	store := newTestStore(t, time.Hour)

	id, err := store.Create()
	require.NoError(t, err)

	st, err := store.Load(id)
	require.NoError(t, err)
	assert.True(t, st.Empty())

	st.InitProvider(enum.ProviderGmail, "u@gmail.com", credential.NewOAuthCredential("tok", "ref", "https://t", "id", "sec", nil, nil))
	require.NoError(t, store.Save(id, st))

	loaded, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, "u@gmail.com", loaded.UserEmail)
	cred, ok := loaded.Credential(enum.ProviderGmail)
	require.True(t, ok)
	assert.Equal(t, "tok", cred.AccessToken)
	assert.Equal(t, enum.CredentialOAuth, cred.Kind)
}

func TestStore_LoadUnknownID(t *testing.T) {
	store := newTestStore(t, time.Hour)

	_, err := store.Load("nope")
	assert.ErrorIs(t, err, errs.ErrSessionNotFound)
}

func TestStore_ExpiredSessionIsGone(t *testing.T) {
	store := newTestStore(t, -time.Minute)

	id, err := store.Create()
	require.NoError(t, err)

	_, err = store.Load(id)
	assert.ErrorIs(t, err, errs.ErrSessionNotFound)
}

func TestStore_Destroy(t *testing.T) {
	store := newTestStore(t, time.Hour)

	id, err := store.Create()
	require.NoError(t, err)

	store.Destroy(id)
	_, err = store.Load(id)
	assert.ErrorIs(t, err, errs.ErrSessionNotFound)
}

func TestStore_PurgeRemovesOnlyExpired(t *testing.T) {
	store := newTestStore(t, time.Hour)

	live, err := store.Create()
	require.NoError(t, err)

	// Manufacture an expired entry alongside the live one.
	store.mu.Lock()
	store.entries["dead"] = storeEntry{blob: store.entries[live].blob, expiresAt: time.Now().Add(-time.Minute)}
	store.mu.Unlock()

	removed := store.Purge()
	assert.Equal(t, 1, removed)

	_, err = store.Load(live)
	assert.NoError(t, err)
}
