package repository

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/errs"
	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

// VaultSettings is the decrypted view of a user's bring-your-own-storage
// bucket credentials.
type VaultSettings struct {
	AccountID   string
	AccessKeyID string
	SecretKey   string
	Bucket      string
}

type VaultCredentialRepository struct {
	db     *gorm.DB
	cipher interfaces.CredentialCipher
}

func NewVaultCredentialRepository(db *gorm.DB, cipher interfaces.CredentialCipher) *VaultCredentialRepository {
	return &VaultCredentialRepository{db: db, cipher: cipher}
}

// Save upserts the user's bucket credentials, encrypting the secret key
// before it touches the database.
func (r *VaultCredentialRepository) Save(ctx context.Context, userEmail string, settings VaultSettings) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "VaultCredentialRepository.Save")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	encrypted, err := r.cipher.Encrypt([]byte(settings.SecretKey))
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "encrypt secret key")
	}

	record := models.VaultCredential{
		UserEmail:          userEmail,
		AccountID:          settings.AccountID,
		AccessKeyID:        settings.AccessKeyID,
		SecretKeyEncrypted: encrypted,
		Bucket:             settings.Bucket,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_email"}},
			DoUpdates: clause.AssignmentColumns([]string{"account_id", "access_key_id", "secret_key_encrypted", "bucket", "updated_at"}),
		}).
		Create(&record).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "save vault credentials")
	}
	return nil
}

// Get returns the decrypted settings, or errs.ErrVaultNotConfigured when the
// user never saved any.
func (r *VaultCredentialRepository) Get(ctx context.Context, userEmail string) (*VaultSettings, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "VaultCredentialRepository.Get")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var record models.VaultCredential
	err := r.db.WithContext(ctx).Where("user_email = ?", userEmail).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrVaultNotConfigured
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "load vault credentials")
	}

	secret, err := r.cipher.Decrypt(record.SecretKeyEncrypted)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "decrypt secret key")
	}

	return &VaultSettings{
		AccountID:   record.AccountID,
		AccessKeyID: record.AccessKeyID,
		SecretKey:   string(secret),
		Bucket:      record.Bucket,
	}, nil
}

// Delete removes the user's stored bucket credentials.
func (r *VaultCredentialRepository) Delete(ctx context.Context, userEmail string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "VaultCredentialRepository.Delete")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	err := r.db.WithContext(ctx).Where("user_email = ?", userEmail).Delete(&models.VaultCredential{}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "delete vault credentials")
	}
	return nil
}
