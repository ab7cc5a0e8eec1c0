package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mailsweep/mailsweep/api/middleware"
	"github.com/mailsweep/mailsweep/config"
	"github.com/mailsweep/mailsweep/internal/credential"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/repository"
	"github.com/mailsweep/mailsweep/internal/session"
	"github.com/mailsweep/mailsweep/internal/tracing"
	"github.com/mailsweep/mailsweep/services"
)

const oauthStateCookie = "mailsweep_oauth_state"

// ProvidersHandler owns connection lifecycle: OAuth login/callback, Yahoo
// app-password connect, primary switching, disconnect and logout.
type ProvidersHandler struct {
	cfg   *config.Config
	log   logger.Logger
	svcs  *services.Services
	repos *repository.Repositories
	store *session.Store
}

func NewProvidersHandler(cfg *config.Config, log logger.Logger, svcs *services.Services, repos *repository.Repositories, store *session.Store) *ProvidersHandler {
	return &ProvidersHandler{cfg: cfg, log: log, svcs: svcs, repos: repos, store: store}
}

// Login starts the OAuth consent flow for gmail/microsoft.
func (h *ProvidersHandler) Login() gin.HandlerFunc {
	return func(c *gin.Context) {
		provider, ok := enum.DecodeProvider(c.Param("provider"))
		if !ok || provider == enum.ProviderYahoo {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported login provider"})
			return
		}

		state := uuid.New().String()
		authorizeURL, err := h.svcs.OAuthService.AuthorizeURL(provider, state)
		if err != nil {
			respondError(c, nil, err)
			return
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(oauthStateCookie, state, 600, "/", "", true, true)
		c.Redirect(http.StatusFound, authorizeURL)
	}
}

// Callback completes the OAuth flow: CSRF check, code exchange, identity
// fetch, then session upsert. The first provider connected becomes primary.
func (h *ProvidersHandler) Callback() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ProvidersHandler.Callback", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		provider, ok := enum.DecodeProvider(c.Param("provider"))
		if !ok || provider == enum.ProviderYahoo {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported callback provider"})
			return
		}
		tracing.TagProvider(span, provider.String())

		storedState, err := c.Cookie(oauthStateCookie)
		if err != nil || storedState == "" || storedState != c.Query("state") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "state mismatch, please retry login"})
			return
		}
		c.SetCookie(oauthStateCookie, "", -1, "/", "", true, true)

		if errParam := c.Query("error"); errParam != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "authorization denied: " + errParam})
			return
		}
		code := c.Query("code")
		if code == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing authorization code"})
			return
		}

		cred, err := h.svcs.OAuthService.Exchange(ctx, provider, code)
		if err != nil {
			respondError(c, span, err)
			return
		}

		identity, err := h.svcs.OAuthService.FetchIdentity(ctx, provider, cred.AccessToken)
		if err != nil {
			respondError(c, span, err)
			return
		}

		st, ok := middleware.GetState(c)
		if !ok {
			id, err := h.store.Create()
			if err != nil {
				respondError(c, span, err)
				return
			}
			st = session.NewState()
			middleware.AttachSession(c, id, st, h.cfg.AppConfig.SessionCookieName, h.cfg.AppConfig.SessionTTLHours*3600)
		}

		st.InitProvider(provider, identity.Email, cred)
		if st.DisplayName == "" {
			st.DisplayName = identity.DisplayName
		}
		if err := h.repos.Users.RecordProviderConnection(ctx, identity.Email, provider); err != nil {
			h.log.Warnf("failed to record %s connection for %s: %v", provider, identity.Email, err)
		}

		h.log.Infof("provider %s connected for %s", provider, identity.Email)
		c.Redirect(http.StatusFound, "/")
	}
}

type yahooConnectRequest struct {
	Email       string `json:"email" binding:"required"`
	AppPassword string `json:"app_password" binding:"required"`
}

// ConnectYahoo validates an app password with a live IMAP round-trip before
// the credential is allowed into the session.
func (h *ProvidersHandler) ConnectYahoo() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ProvidersHandler.ConnectYahoo", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagProvider(span, enum.ProviderYahoo.String())

		var req yahooConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		cred := credential.NewStaticCredential(req.AppPassword)
		p, err := h.svcs.ProviderFactory.Build(ctx, enum.ProviderYahoo, req.Email, cred)
		if err != nil {
			respondError(c, span, err)
			return
		}
		defer p.Close()

		result := p.TestConnection(ctx)
		if !result.Success {
			c.JSON(http.StatusUnauthorized, gin.H{"error": result.Message})
			return
		}

		st, ok := middleware.GetState(c)
		if !ok {
			id, err := h.store.Create()
			if err != nil {
				respondError(c, span, err)
				return
			}
			st = session.NewState()
			middleware.AttachSession(c, id, st, h.cfg.AppConfig.SessionCookieName, h.cfg.AppConfig.SessionTTLHours*3600)
		}
		st.InitProvider(enum.ProviderYahoo, req.Email, cred)
		if err := h.repos.Users.RecordProviderConnection(ctx, req.Email, enum.ProviderYahoo); err != nil {
			h.log.Warnf("failed to record yahoo connection for %s: %v", req.Email, err)
		}

		c.JSON(http.StatusOK, gin.H{
			"connected": true,
			"provider":  enum.ProviderYahoo,
			"message":   result.Message,
		})
	}
}

// List reports connection and verification status for every provider.
func (h *ProvidersHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		st, ok := middleware.GetState(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		result := session.VerifyAll(c.Request.Context(), st, h.svcs.Vault)
		st.Sync(result.Invalid)

		c.JSON(http.StatusOK, gin.H{
			"user_email":        st.UserEmail,
			"display_name":      st.DisplayName,
			"primary":           st.Primary,
			"providers":         st.Providers(),
			"valid_providers":   result.Valid,
			"invalid_providers": result.Invalid,
			"should_reauth":     result.ShouldForceReauth,
		})
	}
}

type switchRequest struct {
	Provider string `json:"provider" binding:"required"`
}

// SwitchPrimary changes which connected provider the implicit operations
// target. Validation happens before any state is touched.
func (h *ProvidersHandler) SwitchPrimary() gin.HandlerFunc {
	return func(c *gin.Context) {
		st, ok := middleware.GetState(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		var req switchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		provider, ok := enum.DecodeProvider(req.Provider)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": errs.ErrUnknownProvider.Error()})
			return
		}
		if err := st.SwitchPrimary(provider); err != nil {
			respondError(c, nil, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"primary": st.Primary})
	}
}

// Disconnect removes one provider from the session. Disconnecting the
// primary promotes the next connected provider.
func (h *ProvidersHandler) Disconnect() gin.HandlerFunc {
	return func(c *gin.Context) {
		st, ok := middleware.GetState(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		provider, pOK := enum.DecodeProvider(c.Param("provider"))
		if !pOK {
			c.JSON(http.StatusBadRequest, gin.H{"error": errs.ErrUnknownProvider.Error()})
			return
		}

		st.ClearProvider(provider)
		c.JSON(http.StatusOK, gin.H{
			"disconnected": provider,
			"primary":      st.Primary,
			"providers":    st.Providers(),
		})
	}
}

// Logout destroys the whole session.
func (h *ProvidersHandler) Logout() gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.DestroySession(c, h.store, h.cfg.AppConfig.SessionCookieName)
		c.JSON(http.StatusOK, gin.H{"logged_out": true})
	}
}
