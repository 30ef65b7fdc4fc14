package localstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EvgenSuit/My-Speechy/internal/accounts"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opGetByEmail   = "localstore.get_user_by_email"
	opGetByUID     = "localstore.get_user_by_uid"
	opCreate       = "localstore.create_user"
	opDelete       = "localstore.delete_user"
	opLinkProvider = "localstore.link_provider"
)

var (
	errMissingDatabase = errors.New("localstore: database connection required")
	noOpLogger         = zap.NewNop()
)

// StoreConfig describes the dependencies of the local identity store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store is an identity backend kept in a local SQL database.
type Store struct {
	db     *gorm.DB
	now    func() time.Time
	ids    IDProvider
	logger *zap.Logger
}

// NewStore constructs the store. The schema must already be migrated.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:     cfg.Database,
		now:    clock,
		ids:    ids,
		logger: logger,
	}, nil
}

// GetUserByEmail returns the account whose address matches email case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*accounts.UserRecord, error) {
	key := EmailKey(email)
	if key == "" {
		return nil, accounts.Errorf(accounts.InvalidInput, opGetByEmail, "email is required")
	}
	account, err := s.first(ctx, "email_key = ?", key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, accounts.Errorf(accounts.UserNotFound, opGetByEmail, "cannot find user from email: %s", strings.TrimSpace(email))
	}
	if err != nil {
		return nil, accounts.NewError(accounts.BackendUnavailable, opGetByEmail, err)
	}
	return account.toRecord(), nil
}

// GetUserByUID returns the account with the given uid.
func (s *Store) GetUserByUID(ctx context.Context, uid string) (*accounts.UserRecord, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, accounts.Errorf(accounts.InvalidInput, opGetByUID, "uid is required")
	}
	account, err := s.first(ctx, "uid = ?", uid)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, accounts.Errorf(accounts.UserNotFound, opGetByUID, "cannot find user from uid: %s", uid)
	}
	if err != nil {
		return nil, accounts.NewError(accounts.BackendUnavailable, opGetByUID, err)
	}
	return account.toRecord(), nil
}

// CreateUser stores a new account with a generated uid.
func (s *Store) CreateUser(ctx context.Context, user accounts.NewUser) (*accounts.UserRecord, error) {
	key := EmailKey(user.Email)
	if key == "" {
		return nil, accounts.Errorf(accounts.InvalidInput, opCreate, "email is required")
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Account{}).Where("email_key = ?", key).Count(&existing).Error; err != nil {
		return nil, accounts.NewError(accounts.BackendUnavailable, opCreate, err)
	}
	if existing > 0 {
		return nil, accounts.NewError(accounts.InvalidInput, opCreate, accounts.ErrEmailExists)
	}

	uid, err := s.ids.NewID()
	if err != nil {
		return nil, accounts.NewError(accounts.BackendUnavailable, opCreate, fmt.Errorf("generate uid: %w", err))
	}
	now := s.now().UTC()
	account := Account{
		UID:         uid,
		Email:       strings.TrimSpace(user.Email),
		EmailKey:    key,
		DisplayName: strings.TrimSpace(user.DisplayName),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, accounts.NewError(accounts.BackendUnavailable, opCreate, err)
	}
	s.logger.Debug("local account created", zap.String("uid", uid))
	return account.toRecord(), nil
}

// LinkProvider attaches a provider to an existing account. Re-linking a
// provider updates its subject and keeps its position.
func (s *Store) LinkProvider(ctx context.Context, uid, providerID, subject string) error {
	uid = strings.TrimSpace(uid)
	providerID = strings.TrimSpace(providerID)
	if uid == "" || providerID == "" {
		return accounts.Errorf(accounts.InvalidInput, opLinkProvider, "uid and provider id are required")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account Account
		err := tx.Where("uid = ?", uid).Take(&account).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return accounts.Errorf(accounts.UserNotFound, opLinkProvider, "cannot find user from uid: %s", uid)
		}
		if err != nil {
			return accounts.NewError(accounts.BackendUnavailable, opLinkProvider, err)
		}

		if strings.TrimSpace(subject) == "" {
			subject = account.Email
		}

		var link ProviderLink
		err = tx.Where("account_uid = ? AND provider_id = ?", uid, providerID).Take(&link).Error
		if err == nil {
			if err := tx.Model(&ProviderLink{}).
				Where("account_uid = ? AND provider_id = ?", uid, providerID).
				Update("subject", subject).Error; err != nil {
				return accounts.NewError(accounts.BackendUnavailable, opLinkProvider, err)
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return accounts.NewError(accounts.BackendUnavailable, opLinkProvider, err)
		}

		var position int64
		if err := tx.Model(&ProviderLink{}).Where("account_uid = ?", uid).Count(&position).Error; err != nil {
			return accounts.NewError(accounts.BackendUnavailable, opLinkProvider, err)
		}
		link = ProviderLink{
			AccountUID: uid,
			ProviderID: providerID,
			Subject:    subject,
			Email:      account.Email,
			Position:   int(position),
			CreatedAt:  s.now().UTC(),
		}
		if err := tx.Create(&link).Error; err != nil {
			return accounts.NewError(accounts.BackendUnavailable, opLinkProvider, err)
		}
		return nil
	})
}

// DeleteUser removes the account and its provider links. Deleting a uid that
// does not exist fails with UserNotFound.
func (s *Store) DeleteUser(ctx context.Context, uid string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return accounts.Errorf(accounts.InvalidInput, opDelete, "uid is required")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_uid = ?", uid).Delete(&ProviderLink{}).Error; err != nil {
			return accounts.NewError(accounts.BackendUnavailable, opDelete, err)
		}
		result := tx.Where("uid = ?", uid).Delete(&Account{})
		if result.Error != nil {
			return accounts.NewError(accounts.BackendUnavailable, opDelete, result.Error)
		}
		if result.RowsAffected == 0 {
			return accounts.Errorf(accounts.UserNotFound, opDelete, "cannot find user from uid: %s", uid)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("local account deleted", zap.String("uid", uid))
	return nil
}

func (s *Store) first(ctx context.Context, query string, value string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).
		Preload("Providers", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where(query, value).
		First(&account).
		Error
	return account, err
}
