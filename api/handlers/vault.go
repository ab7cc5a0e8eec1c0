package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/api/middleware"
	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/errs"
	"github.com/mailsweep/mailsweep/internal/repository"
	"github.com/mailsweep/mailsweep/internal/session"
	"github.com/mailsweep/mailsweep/internal/tracing"
	"github.com/mailsweep/mailsweep/services/storage"
)

type VaultHandler struct {
	repo *repository.VaultCredentialRepository
}

func NewVaultHandler(repo *repository.VaultCredentialRepository) *VaultHandler {
	return &VaultHandler{repo: repo}
}

type vaultConnectRequest struct {
	AccountID   string `json:"account_id" binding:"required"`
	AccessKeyID string `json:"access_key_id" binding:"required"`
	SecretKey   string `json:"secret_key" binding:"required"`
	Bucket      string `json:"bucket" binding:"required"`
}

// Connect validates the bucket credentials against live storage before
// persisting them. A vault nobody can write to is worse than none.
func (h *VaultHandler) Connect() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "VaultHandler.Connect", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		st, ok := middleware.GetState(c)
		if !ok {
			respondError(c, span, errs.ErrAuthRequired)
			return
		}

		var req vaultConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		store, err := storage.NewVaultStorage(req.AccountID, req.AccessKeyID, req.SecretKey, req.Bucket)
		if err != nil {
			respondError(c, span, err)
			return
		}
		if err := store.TestAccess(ctx); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "bucket access check failed: " + err.Error()})
			return
		}

		err = h.repo.Save(ctx, st.UserEmail, repository.VaultSettings{
			AccountID:   req.AccountID,
			AccessKeyID: req.AccessKeyID,
			SecretKey:   req.SecretKey,
			Bucket:      req.Bucket,
		})
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "bucket": req.Bucket})
	}
}

// Status reports whether a vault is configured, without exposing the secret.
func (h *VaultHandler) Status() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "VaultHandler.Status", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		st, ok := middleware.GetState(c)
		if !ok {
			respondError(c, span, errs.ErrAuthRequired)
			return
		}

		settings, err := h.repo.Get(ctx, st.UserEmail)
		if errors.Is(err, errs.ErrVaultNotConfigured) {
			c.JSON(http.StatusOK, gin.H{"configured": false})
			return
		}
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"configured": true,
			"bucket":     settings.Bucket,
			"account_id": settings.AccountID,
		})
	}
}

// List enumerates the user's backed-up messages, newest prefix first.
func (h *VaultHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "VaultHandler.List", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		st, store, err := h.openVault(c)
		if err != nil {
			respondError(c, span, err)
			return
		}

		prefix := st.UserEmail + "/"
		if sub := c.Query("prefix"); sub != "" {
			prefix += sub
		}

		objects, err := store.List(ctx, prefix, 500)
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"count": len(objects), "objects": objects})
	}
}

// Download streams one backed-up message back as raw RFC 822.
func (h *VaultHandler) Download() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "VaultHandler.Download", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		key := c.Query("key")
		if key == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
			return
		}

		st, store, err := h.openVault(c)
		if err != nil {
			respondError(c, span, err)
			return
		}
		// Users only reach their own prefix.
		if !strings.HasPrefix(key, st.UserEmail+"/") {
			c.JSON(http.StatusForbidden, gin.H{"error": "key outside your vault"})
			return
		}

		data, err := store.Download(ctx, key)
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.Header("Content-Disposition", "attachment")
		c.Data(http.StatusOK, "message/rfc822", data)
	}
}

// Disconnect forgets the stored bucket credentials. The bucket and its
// contents stay untouched; they belong to the user.
func (h *VaultHandler) Disconnect() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "VaultHandler.Disconnect", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		st, ok := middleware.GetState(c)
		if !ok {
			respondError(c, span, errs.ErrAuthRequired)
			return
		}

		if err := h.repo.Delete(ctx, st.UserEmail); err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func (h *VaultHandler) openVault(c *gin.Context) (*session.State, interfaces.StorageService, error) {
	st, ok := middleware.GetState(c)
	if !ok {
		return nil, nil, errs.ErrAuthRequired
	}
	settings, err := h.repo.Get(c.Request.Context(), st.UserEmail)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.NewVaultStorage(settings.AccountID, settings.AccessKeyID, settings.SecretKey, settings.Bucket)
	if err != nil {
		return nil, nil, err
	}
	return st, store, nil
}
