package accounts

import (
	"context"
	"time"
)

// ProviderInfo describes one identity provider linked to an account.
type ProviderInfo struct {
	ProviderID  string
	UID         string
	Email       string
	DisplayName string
}

// UserRecord is a read-only snapshot of an account owned by the identity backend.
type UserRecord struct {
	UID           string
	Email         string
	DisplayName   string
	EmailVerified bool
	Disabled      bool
	ProviderData  []ProviderInfo
	CreatedAt     time.Time
	LastLoginAt   time.Time
}

// FirstProviderID returns the first linked provider id, if any.
func (r UserRecord) FirstProviderID() (string, bool) {
	if len(r.ProviderData) == 0 {
		return "", false
	}
	return r.ProviderData[0].ProviderID, true
}

// NewUser describes an account to create.
type NewUser struct {
	Email       string
	DisplayName string
	// ProviderID, when set, is linked to the account right after creation.
	ProviderID string
}

// Backend is the identity backend the tool operates on. The uid returned by a
// lookup is the only value DeleteUser accepts.
type Backend interface {
	GetUserByEmail(ctx context.Context, email string) (*UserRecord, error)
	GetUserByUID(ctx context.Context, uid string) (*UserRecord, error)
	CreateUser(ctx context.Context, user NewUser) (*UserRecord, error)
	DeleteUser(ctx context.Context, uid string) error
}

// ProviderLinker is implemented by backends that can attach an identity
// provider to an existing account. subject defaults to the account email.
type ProviderLinker interface {
	LinkProvider(ctx context.Context, uid, providerID, subject string) error
}

// DataPurger removes application data owned by a user outside the auth record.
type DataPurger interface {
	PurgeUserData(ctx context.Context, uid string) error
}
