package localstore

import (
	"strings"
	"time"

	"github.com/EvgenSuit/My-Speechy/internal/accounts"
)

// Account is a locally stored identity record keyed by uid.
type Account struct {
	UID           string         `gorm:"column:uid;primaryKey;size:128;not null"`
	Email         string         `gorm:"column:email;size:320;not null"`
	EmailKey      string         `gorm:"column:email_key;size:320;not null;uniqueIndex"`
	DisplayName   string         `gorm:"column:display_name;size:320"`
	EmailVerified bool           `gorm:"column:email_verified;not null;default:false"`
	Disabled      bool           `gorm:"column:disabled;not null;default:false"`
	LastLoginAt   *time.Time     `gorm:"column:last_login_at"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	Providers     []ProviderLink `gorm:"foreignKey:AccountUID;references:UID"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "accounts"
}

// ProviderLink maps an account to one linked identity provider.
type ProviderLink struct {
	AccountUID string    `gorm:"column:account_uid;primaryKey;size:128;not null"`
	ProviderID string    `gorm:"column:provider_id;primaryKey;size:64;not null"`
	Subject    string    `gorm:"column:subject;size:190;not null"`
	Email      string    `gorm:"column:email;size:320"`
	Position   int       `gorm:"column:position;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing provider links.
func (ProviderLink) TableName() string {
	return "account_providers"
}

// EmailKey returns the case-insensitive lookup key for an address.
func EmailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a Account) toRecord() *accounts.UserRecord {
	record := &accounts.UserRecord{
		UID:           a.UID,
		Email:         a.Email,
		DisplayName:   a.DisplayName,
		EmailVerified: a.EmailVerified,
		Disabled:      a.Disabled,
		CreatedAt:     a.CreatedAt,
		ProviderData:  make([]accounts.ProviderInfo, 0, len(a.Providers)),
	}
	if a.LastLoginAt != nil {
		record.LastLoginAt = *a.LastLoginAt
	}
	for _, link := range a.Providers {
		record.ProviderData = append(record.ProviderData, accounts.ProviderInfo{
			ProviderID: link.ProviderID,
			UID:        link.Subject,
			Email:      link.Email,
		})
	}
	return record
}
