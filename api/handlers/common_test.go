package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/mailsweep/mailsweep/internal/errs"
)

func respond(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	respondError(c, nil, err)
	return w
}

func TestRespondError_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"auth required", errs.ErrAuthRequired, http.StatusUnauthorized},
		{"session missing", errs.ErrSessionNotFound, http.StatusUnauthorized},
		{"unrecoverable credential", errs.ErrCredentialUnrecoverable, http.StatusUnauthorized},
		{"unknown provider", errs.ErrUnknownProvider, http.StatusBadRequest},
		{"not connected", errs.ErrProviderNotConnected, http.StatusBadRequest},
		{"empty selection", errs.ErrNoMessagesSelected, http.StatusBadRequest},
		{"oversized selection", errs.ErrTooManyMessages, http.StatusBadRequest},
		{"empty query", errs.ErrEmptyQuery, http.StatusBadRequest},
		{"vault missing", errs.ErrVaultNotConfigured, http.StatusBadRequest},
		{"quota exhausted", errs.ErrQuotaExhausted, http.StatusPaymentRequired},
		{"wrapped sentinel", errors.Wrap(errs.ErrAuthRequired, "loading session"), http.StatusUnauthorized},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := respond(t, tt.err)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRespondError_QuotaWouldExceed(t *testing.T) {
	w := respond(t, &errs.QuotaWouldExceedError{Remaining: 3, Requested: 5})

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), `"remaining":3`)
	assert.Contains(t, w.Body.String(), `"requested":5`)
	assert.Contains(t, w.Body.String(), `"upgrade":true`)
}

func TestRespondError_ProviderAPIError(t *testing.T) {
	w := respond(t, &errs.ProviderAPIError{Provider: "gmail", StatusCode: 401, Message: "expired"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"provider":"gmail"`)

	w = respond(t, &errs.ProviderAPIError{Provider: "gmail", StatusCode: 500, Message: "upstream down"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
