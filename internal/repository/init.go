package repository

import (
	"gorm.io/gorm"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/models"
)

type Repositories struct {
	Ledger    interfaces.SubscriptionLedger
	Users     *UserRepository
	VaultRepo *VaultCredentialRepository
}

func InitRepositories(db *gorm.DB, freeMonthlyQuota int, cipher interfaces.CredentialCipher) *Repositories {
	users := NewUserRepository(db, freeMonthlyQuota)
	return &Repositories{
		Ledger:    users,
		Users:     users,
		VaultRepo: NewVaultCredentialRepository(db, cipher),
	}
}

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.UserRecord{},
		&models.CleanupHistory{},
		&models.VaultCredential{},
	)
}
