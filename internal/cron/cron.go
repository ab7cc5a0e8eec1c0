package cron

import (
	"context"
	"sync"

	"github.com/opentracing/opentracing-go"
	cronv3 "github.com/robfig/cron/v3"

	"github.com/mailsweep/mailsweep/config"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/repository"
	"github.com/mailsweep/mailsweep/internal/session"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

// GroupLedger serializes the jobs that touch the users table.
const GroupLedger = "ledger"

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupLedger: new(sync.Mutex),
	},
}

type CronManager struct {
	cfg      *config.Config
	log      logger.Logger
	cron     *cronv3.Cron
	jobIDs   map[string]cronv3.EntryID
	users    *repository.UserRepository
	sessions *session.Store
}

func NewCronManager(cfg *config.Config, log logger.Logger, users *repository.UserRepository, sessions *session.Store) *CronManager {
	return &CronManager{
		cfg:      cfg,
		log:      log,
		jobIDs:   make(map[string]cronv3.EntryID),
		users:    users,
		sessions: sessions,
	}
}

// Start initializes and starts the cron scheduler.
func (cm *CronManager) Start() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

// Stop gracefully stops the scheduler and waits for running jobs.
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		<-ctx.Done()
	}
}

func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	cronConfig := cm.cfg.CronConfig

	if cronConfig.QuotaResetSchedule != "" {
		id, err := c.AddFunc(cronConfig.QuotaResetSchedule, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log.Error)
			jobLocks.locks[GroupLedger].Lock()
			defer jobLocks.locks[GroupLedger].Unlock()
			cm.resetMonthlyAllowances()
		})
		if err != nil {
			cm.log.Fatalf("Could not add quota reset cron job: %v", err)
		}
		cm.jobIDs["quota_reset"] = id
		cm.log.Infof("Registered quota reset job with schedule: %s", cronConfig.QuotaResetSchedule)
	}

	if cronConfig.PurgeExpirySchedule != "" {
		id, err := c.AddFunc(cronConfig.PurgeExpirySchedule, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log.Error)
			jobLocks.locks[GroupLedger].Lock()
			defer jobLocks.locks[GroupLedger].Unlock()
			cm.expirePurgePasses()
		})
		if err != nil {
			cm.log.Fatalf("Could not add purge expiry cron job: %v", err)
		}
		cm.jobIDs["purge_expiry"] = id
		cm.log.Infof("Registered purge expiry job with schedule: %s", cronConfig.PurgeExpirySchedule)
	}

	// Expired sessions pile up in memory until swept; hourly is plenty.
	id, err := c.AddFunc("0 0 * * * *", func() {
		defer tracing.RecoverAndLogToJaeger(cm.log.Error)
		cm.purgeSessions()
	})
	if err != nil {
		cm.log.Fatalf("Could not add session purge cron job: %v", err)
	}
	cm.jobIDs["session_purge"] = id
}

func (cm *CronManager) resetMonthlyAllowances() {
	ctx := context.Background()
	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.resetMonthlyAllowances")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	affected, err := cm.users.ResetMonthlyAllowances(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to reset monthly allowances: %v", err)
		return
	}
	cm.log.Infof("Monthly allowance reset for %d users", affected)
}

func (cm *CronManager) expirePurgePasses() {
	ctx := context.Background()
	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.expirePurgePasses")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	affected, err := cm.users.ExpirePurgePasses(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to expire purge passes: %v", err)
		return
	}
	if affected > 0 {
		cm.log.Infof("Expired purge pass for %d users", affected)
	}
}

func (cm *CronManager) purgeSessions() {
	span := opentracing.StartSpan("CronManager.purgeSessions")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	purged := cm.sessions.Purge()
	if purged > 0 {
		cm.log.Infof("Purged %d expired sessions", purged)
	}
}
