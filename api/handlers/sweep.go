package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/config"
	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/credential"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/repository"
	"github.com/mailsweep/mailsweep/internal/tracing"
	"github.com/mailsweep/mailsweep/services"
	"github.com/mailsweep/mailsweep/services/storage"
	"github.com/mailsweep/mailsweep/services/sweep"
)

type SweepHandler struct {
	cfg   *config.Config
	log   logger.Logger
	svcs  *services.Services
	repos *repository.Repositories
}

func NewSweepHandler(cfg *config.Config, log logger.Logger, svcs *services.Services, repos *repository.Repositories) *SweepHandler {
	return &SweepHandler{cfg: cfg, log: log, svcs: svcs, repos: repos}
}

type sweepRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required"`
	Query      string   `json:"query,omitempty"`
	DryRun     bool     `json:"dry_run,omitempty"`
	Provider   string   `json:"provider,omitempty"`
}

// Trash moves the selected messages to the provider's trash.
func (h *SweepHandler) Trash() gin.HandlerFunc {
	return h.mutate(enum.MutationTrash)
}

// Archive removes the selected messages from the inbox without trashing.
func (h *SweepHandler) Archive() gin.HandlerFunc {
	return h.mutate(enum.MutationArchive)
}

func (h *SweepHandler) mutate(mode enum.MutationMode) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "SweepHandler."+mode.String(), c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var req sweepRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		st, name, err := resolveProvider(c, req.Provider)
		if err != nil {
			respondError(c, span, err)
			return
		}
		tracing.TagProvider(span, name.String())

		cred, ok := st.Credential(name)
		if !ok {
			respondError(c, span, errs.ErrAuthRequired)
			return
		}
		identity, _ := st.Identity(name)

		p, err := h.svcs.ProviderFactory.Build(ctx, name, identity.Email, cred)
		if err != nil {
			respondError(c, span, err)
			return
		}
		defer p.Close()

		engineReq := sweep.SweepRequest{
			UserEmail:  st.UserEmail,
			MessageIDs: req.MessageIDs,
			Mode:       mode,
			Query:      req.Query,
			DryRun:     req.DryRun,
		}

		// Trash sweeps get a vault backup when the user configured one.
		if mode == enum.MutationTrash && !req.DryRun {
			if job, err := h.backupJob(ctx, p, st.UserEmail, name, identity.Email, cred, req.MessageIDs); err == nil {
				engineReq.Backup = job
			} else if !errors.Is(err, errs.ErrVaultNotConfigured) {
				h.log.Warnf("vault lookup for %s failed: %v", st.UserEmail, err)
			}
		}

		result, err := h.svcs.SweepEngine.Sweep(ctx, p, engineReq)
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"provider": name,
			"result":   result,
		})
	}
}

// backupJob wires a vault copy of the swept messages. When the provider's
// ids survive the move to trash, the job rebuilds its own connection and
// fetches content after the sweep; otherwise the raw messages are captured
// here, before anything is mutated.
func (h *SweepHandler) backupJob(ctx context.Context, p interfaces.MailProvider, userEmail string, name enum.Provider, accountEmail string, cred *credential.Credential, ids []string) (*sweep.BackupJob, error) {
	settings, err := h.repos.VaultRepo.Get(ctx, userEmail)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewVaultStorage(settings.AccountID, settings.AccessKeyID, settings.SecretKey, settings.Bucket)
	if err != nil {
		return nil, err
	}

	job := &sweep.BackupJob{
		UserEmail:  userEmail,
		MessageIDs: ids,
		Storage:    store,
	}

	if p.Capabilities().TrashedIDsFetchable {
		credCopy := *cred
		job.Provider = func(jobCtx context.Context) (interfaces.MailProvider, error) {
			return h.svcs.ProviderFactory.Build(jobCtx, name, accountEmail, &credCopy)
		}
		return job, nil
	}

	job.Items = h.captureMessages(ctx, p, userEmail, ids)
	return job, nil
}

// captureMessages pulls raw content and headers while the messages still
// exist under their current ids. Unfetchable messages are skipped, matching
// the vault's best-effort contract.
func (h *SweepHandler) captureMessages(ctx context.Context, p interfaces.MailProvider, userEmail string, ids []string) []sweep.BackupItem {
	items := make([]sweep.BackupItem, 0, len(ids))
	for _, id := range ids {
		raw, err := p.GetRawMessage(ctx, id)
		if err != nil {
			h.log.Warnf("vault capture for %s: message %s skipped: %v", userEmail, id, err)
			continue
		}
		item := sweep.BackupItem{ID: id, Raw: raw}
		if metas, err := p.GetMetadata(ctx, []string{id}); err == nil && len(metas) > 0 {
			item.Subject = metas[0].Subject
			item.Sender = metas[0].From
		}
		items = append(items, item)
	}
	return items
}
