package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/mailsweep/mailsweep/internal/enum"
)

type UserRecord struct {
	ID              uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Email           string    `gorm:"column:email;type:varchar(255);uniqueIndex;not null" json:"email"`
	Tier            enum.Tier `gorm:"column:tier;type:varchar(20);not null;default:'free'" json:"tier"`
	InitialProvider string    `gorm:"column:initial_provider;type:varchar(20)" json:"initialProvider"`
	DisplayName     string    `gorm:"column:display_name;type:varchar(255)" json:"displayName"`

	// Every provider the account has ever connected, for support and churn
	// analysis.
	ConnectedProviders pq.StringArray `gorm:"column:connected_providers;type:text[]" json:"connectedProviders"`

	// Usage bookkeeping
	TotalEmailsCleaned int        `gorm:"column:total_emails_cleaned;not null;default:0" json:"totalEmailsCleaned"`
	MonthlyDeletes     int        `gorm:"column:monthly_deletes;not null;default:0" json:"monthlyDeletes"`
	MonthlyResetDate   *time.Time `gorm:"column:monthly_reset_date;type:date" json:"monthlyResetDate"`
	PurgeExpiresAt     *time.Time `gorm:"column:purge_expires_at;type:date" json:"purgeExpiresAt"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (UserRecord) TableName() string {
	return "users"
}

type CleanupHistory struct {
	ID            uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID        uint64    `gorm:"column:user_id;index;not null" json:"userId"`
	EmailsDeleted int       `gorm:"column:emails_deleted;not null" json:"emailsDeleted"`
	QueryUsed     string    `gorm:"column:query_used;type:text" json:"queryUsed"`
	CreatedAt     time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
}

func (CleanupHistory) TableName() string {
	return "cleanup_history"
}
