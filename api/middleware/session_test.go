package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsweep/mailsweep/internal/credential"
	"github.com/mailsweep/mailsweep/internal/crypto"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
	"github.com/mailsweep/mailsweep/internal/session"
)

const testCookie = "mailsweep_session"

func newStore(t *testing.T) *session.Store {
	t.Helper()
	cipher, err := crypto.NewCipher("a-sufficiently-long-test-secret")
	require.NoError(t, err)
	return session.NewStore(cipher, time.Hour)
}

// passValidator accepts every credential unchanged.
type passValidator struct{}

func (passValidator) Validate(_ context.Context, _ enum.Provider, cred *credential.Credential) (*credential.Credential, error) {
	return cred, nil
}

// failValidator rejects every credential.
type failValidator struct{}

func (failValidator) Validate(_ context.Context, _ enum.Provider, cred *credential.Credential) (*credential.Credential, error) {
	return cred, errs.ErrCredentialUnrecoverable
}

func connectedSession(t *testing.T, store *session.Store) string {
	t.Helper()
	id, err := store.Create()
	require.NoError(t, err)
	st, err := store.Load(id)
	require.NoError(t, err)
	st.InitProvider(enum.ProviderGmail, "u@gmail.com",
		credential.NewOAuthCredential("tok", "ref", "https://t", "id", "sec", nil, nil))
	require.NoError(t, store.Save(id, st))
	return id
}

func newRouter(store *session.Store, validator session.Validator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SessionMiddleware(store, testCookie))

	authed := r.Group("/")
	authed.Use(RequireAuth(store, validator, testCookie))
	authed.GET("/whoami", func(c *gin.Context) {
		st, _ := GetState(c)
		c.JSON(http.StatusOK, gin.H{"email": st.UserEmail})
	})
	return r
}

func doRequest(r *gin.Engine, sessionID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: testCookie, Value: sessionID})
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth_NoCookie(t *testing.T) {
	r := newRouter(newStore(t), passValidator{})

	w := doRequest(r, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_UnknownSession(t *testing.T) {
	r := newRouter(newStore(t), passValidator{})

	w := doRequest(r, "no-such-session")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_EmptySessionRejected(t *testing.T) {
	store := newStore(t)
	id, err := store.Create()
	require.NoError(t, err)

	w := doRequest(newRouter(store, passValidator{}), id)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_ValidSessionPasses(t *testing.T) {
	store := newStore(t)
	id := connectedSession(t, store)

	w := doRequest(newRouter(store, passValidator{}), id)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "u@gmail.com")
}

func TestRequireAuth_TotalCredentialLossDestroysSession(t *testing.T) {
	store := newStore(t)
	id := connectedSession(t, store)

	w := doRequest(newRouter(store, failValidator{}), id)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"reauth":true`)

	// The session is gone server-side; a retry with the old cookie fails the
	// same way even with a forgiving validator.
	_, err := store.Load(id)
	assert.ErrorIs(t, err, errs.ErrSessionNotFound)
}

func TestSessionMiddleware_PersistsMutations(t *testing.T) {
	store := newStore(t)
	id := connectedSession(t, store)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SessionMiddleware(store, testCookie))
	r.POST("/rename", func(c *gin.Context) {
		st, ok := GetState(c)
		require.True(t, ok)
		st.DisplayName = "New Name"
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/rename", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: id})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	st, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, "New Name", st.DisplayName)
}
