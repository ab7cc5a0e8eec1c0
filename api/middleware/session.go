package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mailsweep/mailsweep/internal/session"
	"github.com/mailsweep/mailsweep/internal/utils"
)

const (
	// gin context keys
	KeySessionID        = "SessionId"
	KeySessionState     = "SessionState"
	KeyUserEmail        = "UserEmail"
	KeySessionDestroyed = "SessionDestroyed"
)

// SessionMiddleware loads the server-side session named by the cookie and
// writes any state mutations back after the handler runs. Requests without a
// valid session pass through with no state attached; RequireAuth decides
// whether that is acceptable.
func SessionMiddleware(store *session.Store, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, err := c.Cookie(cookieName); err == nil {
			if st, err := store.Load(id); err == nil {
				c.Set(KeySessionID, id)
				c.Set(KeySessionState, st)
				c.Set(KeyUserEmail, st.UserEmail)
			}
		}

		c.Next()

		if c.GetBool(KeySessionDestroyed) {
			return
		}
		if st, ok := GetState(c); ok {
			if id := c.GetString(KeySessionID); id != "" {
				_ = store.Save(id, st)
			}
		}
	}
}

// RequireAuth gates the API group: a session must exist, hold at least one
// connected provider, and survive credential verification. Refreshed tokens
// are written back into the state; providers whose refresh failed are
// demoted. When the primary is gone and nothing valid remains, the session
// is destroyed and the client must reauthenticate.
func RequireAuth(store *session.Store, validator session.Validator, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, ok := GetState(c)
		if !ok || st.Empty() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		result := session.VerifyAll(c.Request.Context(), st, validator)
		if result.ShouldForceReauth {
			destroySession(c, store, cookieName)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":          "authentication required",
				"reauth":         true,
				"auth_providers": result.Invalid,
			})
			return
		}
		st.Sync(result.Invalid)

		c.Request = c.Request.WithContext(utils.WithSessionContextFromGinRequest(c))
		c.Next()
	}
}

// GetState returns the session state attached by SessionMiddleware.
func GetState(c *gin.Context) (*session.State, bool) {
	v, ok := c.Get(KeySessionState)
	if !ok {
		return nil, false
	}
	st, ok := v.(*session.State)
	return st, ok
}

// AttachSession binds a newly created session to the gin context and cookie.
func AttachSession(c *gin.Context, id string, st *session.State, cookieName string, maxAge int) {
	c.Set(KeySessionID, id)
	c.Set(KeySessionState, st)
	c.Set(KeyUserEmail, st.UserEmail)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookieName, id, maxAge, "/", "", true, true)
}

func destroySession(c *gin.Context, store *session.Store, cookieName string) {
	if id := c.GetString(KeySessionID); id != "" {
		store.Destroy(id)
	}
	c.Set(KeySessionDestroyed, true)
	c.SetCookie(cookieName, "", -1, "/", "", true, true)
}

// DestroySession is the handler-facing variant for explicit logout.
func DestroySession(c *gin.Context, store *session.Store, cookieName string) {
	destroySession(c, store, cookieName)
}
