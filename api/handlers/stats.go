package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mailsweep/mailsweep/api/middleware"
	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/errs"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

type StatsHandler struct {
	factory          providerFactory
	ledger           interfaces.SubscriptionLedger
	freeMonthlyQuota int
}

func NewStatsHandler(factory providerFactory, ledger interfaces.SubscriptionLedger, freeMonthlyQuota int) *StatsHandler {
	return &StatsHandler{factory: factory, ledger: ledger, freeMonthlyQuota: freeMonthlyQuota}
}

// Mailbox returns live message counts from the active provider.
func (h *StatsHandler) Mailbox() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "StatsHandler.Mailbox", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		st, p, err := connectProvider(c, h.factory, c.Query("provider"))
		if err != nil {
			respondError(c, span, err)
			return
		}
		defer p.Close()
		tracing.TagProvider(span, p.Name().String())

		stats, err := p.Stat(ctx)
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"provider":   p.Name(),
			"user_email": st.UserEmail,
			"stats":      stats,
		})
	}
}

// Usage returns the account's tier and cleanup allowance.
func (h *StatsHandler) Usage() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "StatsHandler.Usage", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		st, ok := middleware.GetState(c)
		if !ok {
			respondError(c, span, errs.ErrAuthRequired)
			return
		}

		user, err := h.ledger.GetOrCreateUser(ctx, st.UserEmail)
		if err != nil {
			respondError(c, span, err)
			return
		}
		quota, err := h.ledger.RemainingQuota(ctx, st.UserEmail)
		if err != nil {
			respondError(c, span, err)
			return
		}

		resp := gin.H{
			"email":                st.UserEmail,
			"tier":                 user.Tier,
			"total_emails_cleaned": user.TotalEmailsCleaned,
			"monthly_deletes":      user.MonthlyDeletes,
			"unlimited":            quota.Unlimited,
		}
		if !quota.Unlimited {
			resp["monthly_quota"] = h.freeMonthlyQuota
			resp["remaining"] = quota.Remaining
		}
		if user.PurgeExpiresAt != nil {
			resp["purge_expires_at"] = user.PurgeExpiresAt
		}
		c.JSON(http.StatusOK, resp)
	}
}
