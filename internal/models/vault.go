package models

import (
	"time"

	"gorm.io/gorm"
)

// VaultCredential holds a user's own R2/S3 bucket credentials for the
// bring-your-own-storage backup of trashed mail. The secret is stored
// encrypted by the credential cipher.
type VaultCredential struct {
	ID                 uint64 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserEmail          string `gorm:"column:user_email;type:varchar(255);uniqueIndex;not null" json:"userEmail"`
	AccountID          string `gorm:"column:account_id;type:varchar(255);not null" json:"accountId"`
	AccessKeyID        string `gorm:"column:access_key_id;type:varchar(255);not null" json:"accessKeyId"`
	SecretKeyEncrypted string `gorm:"column:secret_key_encrypted;type:text;not null" json:"-"`
	Bucket             string `gorm:"column:bucket;type:varchar(255);not null" json:"bucket"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (VaultCredential) TableName() string {
	return "vault_credentials"
}
