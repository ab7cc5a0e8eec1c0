package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/api/middleware"
	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
	"github.com/mailsweep/mailsweep/internal/session"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

// respondError maps domain errors onto HTTP statuses: auth problems become
// 401, bad input 400, an exhausted allowance 402, everything else 500.
func respondError(c *gin.Context, span opentracing.Span, err error) {
	if span != nil {
		tracing.TraceErr(span, err)
	}

	var quotaErr *errs.QuotaWouldExceedError
	if errors.As(err, &quotaErr) {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":     "monthly limit would be exceeded",
			"remaining": quotaErr.Remaining,
			"requested": quotaErr.Requested,
			"upgrade":   true,
		})
		return
	}

	var apiErr *errs.ProviderAPIError
	if errors.As(err, &apiErr) {
		if apiErr.IsAuthProblem() {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "provider authorization expired", "provider": apiErr.Provider})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": apiErr.Error()})
		return
	}

	switch {
	case errors.Is(err, errs.ErrAuthRequired),
		errors.Is(err, errs.ErrSessionNotFound),
		errors.Is(err, errs.ErrCredentialUnrecoverable):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrUnknownProvider),
		errors.Is(err, errs.ErrProviderNotConnected),
		errors.Is(err, errs.ErrNoMessagesSelected),
		errors.Is(err, errs.ErrTooManyMessages),
		errors.Is(err, errs.ErrEmptyQuery),
		errors.Is(err, errs.ErrVaultNotConfigured):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrQuotaExhausted):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error(), "upgrade": true})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// resolveProvider picks the provider a request targets: the explicit name
// when given, the session primary otherwise.
func resolveProvider(c *gin.Context, explicit string) (*session.State, enum.Provider, error) {
	st, ok := middleware.GetState(c)
	if !ok {
		return nil, enum.ProviderNone, errs.ErrAuthRequired
	}
	name, err := st.Resolve(explicit)
	if err != nil {
		return nil, enum.ProviderNone, err
	}
	return st, name, nil
}

// connectProvider resolves and dials the target provider. The caller owns
// the returned provider and must Close it.
func connectProvider(c *gin.Context, factory providerFactory, explicit string) (*session.State, interfaces.MailProvider, error) {
	st, name, err := resolveProvider(c, explicit)
	if err != nil {
		return nil, nil, err
	}
	cred, ok := st.Credential(name)
	if !ok {
		return nil, nil, errs.ErrAuthRequired
	}
	identity, _ := st.Identity(name)
	p, err := factory.Build(c.Request.Context(), name, identity.Email, cred)
	if err != nil {
		return nil, nil, err
	}
	return st, p, nil
}
