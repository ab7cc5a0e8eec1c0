package repository

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

// UserRepository is the gorm-backed subscription ledger. Free tier gets a
// fixed monthly trash allowance; paid tiers are unlimited. The purge tier is
// a time-boxed pass that demotes to free once its expiry date passes.
type UserRepository struct {
	db               *gorm.DB
	freeMonthlyQuota int
}

func NewUserRepository(db *gorm.DB, freeMonthlyQuota int) *UserRepository {
	return &UserRepository{db: db, freeMonthlyQuota: freeMonthlyQuota}
}

func (r *UserRepository) GetOrCreateUser(ctx context.Context, email string) (*models.UserRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "UserRepository.GetOrCreateUser")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	user := models.UserRecord{Email: email, Tier: enum.TierFree}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(&user).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "get or create user")
	}

	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "load user")
	}

	if changed, err := r.reconcile(ctx, &user); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	} else if changed {
		if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
			return nil, errors.Wrap(err, "reload user")
		}
	}

	return &user, nil
}

func (r *UserRepository) RemainingQuota(ctx context.Context, email string) (interfaces.Quota, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "UserRepository.RemainingQuota")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	user, err := r.GetOrCreateUser(ctx, email)
	if err != nil {
		return interfaces.Quota{}, err
	}

	if user.Tier.Unlimited() {
		return interfaces.Quota{Unlimited: true}, nil
	}

	remaining := r.freeMonthlyQuota - user.MonthlyDeletes
	if remaining < 0 {
		remaining = 0
	}
	span.SetTag("quota.remaining", remaining)
	return interfaces.Quota{Remaining: remaining}, nil
}

func (r *UserRepository) RecordUsage(ctx context.Context, email string, count int, query string) (*models.UserRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "UserRepository.RecordUsage")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("usage.count", count)

	user, err := r.GetOrCreateUser(ctx, email)
	if err != nil {
		return nil, err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.UserRecord{}).
			Where("email = ?", email).
			Updates(map[string]interface{}{
				"total_emails_cleaned": gorm.Expr("total_emails_cleaned + ?", count),
				"monthly_deletes":      gorm.Expr("monthly_deletes + ?", count),
				"updated_at":           time.Now(),
			}).Error
		if err != nil {
			return err
		}

		return tx.Create(&models.CleanupHistory{
			UserID:        user.ID,
			EmailsDeleted: count,
			QueryUsed:     query,
		}).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "record usage")
	}

	if err := r.db.WithContext(ctx).Where("email = ?", email).First(user).Error; err != nil {
		return nil, errors.Wrap(err, "reload user")
	}
	return user, nil
}

// RecordProviderConnection notes that the user connected a provider, setting
// the initial provider on first connect and growing the connected set.
func (r *UserRepository) RecordProviderConnection(ctx context.Context, email string, provider enum.Provider) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "UserRepository.RecordProviderConnection")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagProvider(span, provider.String())

	user, err := r.GetOrCreateUser(ctx, email)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if user.InitialProvider == "" {
		updates["initial_provider"] = provider.String()
	}

	seen := false
	for _, p := range user.ConnectedProviders {
		if p == provider.String() {
			seen = true
			break
		}
	}
	if !seen {
		updates["connected_providers"] = pq.StringArray(append(user.ConnectedProviders, provider.String()))
	}

	if len(updates) == 0 {
		return nil
	}
	err = r.db.WithContext(ctx).Model(&models.UserRecord{}).
		Where("email = ?", email).Updates(updates).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "record provider connection")
	}
	return nil
}

// reconcile applies lazy tier maintenance on read: monthly allowance rollover
// and purge-pass expiry. The cron jobs do the same in bulk; doing it here too
// keeps a single user's view correct between runs.
func (r *UserRepository) reconcile(ctx context.Context, user *models.UserRecord) (bool, error) {
	changed := false
	now := time.Now()

	if user.MonthlyResetDate == nil || monthStart(now).After(*user.MonthlyResetDate) {
		reset := monthStart(now)
		err := r.db.WithContext(ctx).Model(&models.UserRecord{}).
			Where("email = ?", user.Email).
			Updates(map[string]interface{}{"monthly_deletes": 0, "monthly_reset_date": reset}).Error
		if err != nil {
			return false, errors.Wrap(err, "reset monthly allowance")
		}
		changed = true
	}

	if user.Tier == enum.TierPurge && user.PurgeExpiresAt != nil && user.PurgeExpiresAt.Before(now) {
		err := r.db.WithContext(ctx).Model(&models.UserRecord{}).
			Where("email = ?", user.Email).
			Updates(map[string]interface{}{"tier": enum.TierFree, "purge_expires_at": nil}).Error
		if err != nil {
			return false, errors.Wrap(err, "expire purge pass")
		}
		changed = true
	}

	return changed, nil
}

// ResetMonthlyAllowances zeroes monthly_deletes for every user whose reset
// date rolled over. Called from the quota-reset cron.
func (r *UserRepository) ResetMonthlyAllowances(ctx context.Context) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "UserRepository.ResetMonthlyAllowances")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	reset := monthStart(time.Now())
	result := r.db.WithContext(ctx).Model(&models.UserRecord{}).
		Where("monthly_reset_date IS NULL OR monthly_reset_date < ?", reset).
		Updates(map[string]interface{}{"monthly_deletes": 0, "monthly_reset_date": reset})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, errors.Wrap(result.Error, "reset monthly allowances")
	}
	return result.RowsAffected, nil
}

// ExpirePurgePasses demotes purge users whose pass ran out.
func (r *UserRepository) ExpirePurgePasses(ctx context.Context) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "UserRepository.ExpirePurgePasses")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	result := r.db.WithContext(ctx).Model(&models.UserRecord{}).
		Where("tier = ? AND purge_expires_at IS NOT NULL AND purge_expires_at < ?", enum.TierPurge, time.Now()).
		Updates(map[string]interface{}{"tier": enum.TierFree, "purge_expires_at": nil})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, errors.Wrap(result.Error, "expire purge passes")
	}
	return result.RowsAffected, nil
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
