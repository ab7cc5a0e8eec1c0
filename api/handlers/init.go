package handlers

import (
	"context"

	"github.com/mailsweep/mailsweep/config"
	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/credential"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/repository"
	"github.com/mailsweep/mailsweep/internal/session"
	"github.com/mailsweep/mailsweep/services"
)

// providerFactory is the slice of provider.Factory the handlers need.
type providerFactory interface {
	Build(ctx context.Context, name enum.Provider, email string, cred *credential.Credential) (interfaces.MailProvider, error)
}

type APIHandlers struct {
	Providers *ProvidersHandler
	Scan      *ScanHandler
	Sweep     *SweepHandler
	Stats     *StatsHandler
	Vault     *VaultHandler
	Messages  *MessagesHandler
}

func InitHandlers(cfg *config.Config, log logger.Logger, svcs *services.Services, repos *repository.Repositories, store *session.Store) *APIHandlers {
	return &APIHandlers{
		Providers: NewProvidersHandler(cfg, log, svcs, repos, store),
		Scan:      NewScanHandler(svcs.Scanner, svcs.ProviderFactory),
		Sweep:     NewSweepHandler(cfg, log, svcs, repos),
		Stats:     NewStatsHandler(svcs.ProviderFactory, repos.Ledger, cfg.AppConfig.FreeMonthlyQuota),
		Vault:     NewVaultHandler(repos.VaultRepo),
		Messages:  NewMessagesHandler(svcs.ProviderFactory),
	}
}
