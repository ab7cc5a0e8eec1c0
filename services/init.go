package services

import (
	"time"

	"github.com/mailsweep/mailsweep/config"
	"github.com/mailsweep/mailsweep/internal/credential"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/repository"
	"github.com/mailsweep/mailsweep/services/auth"
	"github.com/mailsweep/mailsweep/services/provider"
	"github.com/mailsweep/mailsweep/services/scan"
	"github.com/mailsweep/mailsweep/services/sweep"
)

type Services struct {
	OAuthService    *auth.OAuthService
	Vault           *credential.Vault
	ProviderFactory *provider.Factory
	Scanner         *scan.Scanner
	SweepEngine     *sweep.Engine
	BackupQueue     *sweep.BackupQueue
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) *Services {
	backups := sweep.NewBackupQueue(log, cfg.AppConfig.BackupQueueSize)

	return &Services{
		OAuthService:    auth.NewOAuthService(cfg),
		Vault:           credential.NewVault(time.Duration(cfg.AppConfig.ProviderTimeoutSeconds) * time.Second),
		ProviderFactory: provider.NewFactory(cfg),
		Scanner:         scan.NewScanner(log, cfg.AppConfig.ScanPageSize, cfg.AppConfig.ScanMaxResults),
		SweepEngine:     sweep.NewEngine(log, repos.Ledger, backups, cfg.AppConfig.SweepWorkers),
		BackupQueue:     backups,
	}
}
