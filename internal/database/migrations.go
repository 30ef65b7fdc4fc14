package database

import (
	"errors"
	"time"

	"github.com/EvgenSuit/My-Speechy/internal/localstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillEmailKeys = "2026-10-17_backfill_account_email_keys"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillEmailKeys, apply: backfillEmailKeys},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

const backfillBatchSize = 200

// backfillEmailKeys recomputes email_key with localstore.EmailKey. It replaces
// an earlier SQL backfill whose lower() left non-ASCII letters untouched, so
// databases that ran it get their keys repaired under the new name.
func backfillEmailKeys(db *gorm.DB) error {
	var batch []localstore.Account
	return db.Select("uid", "email", "email_key").
		FindInBatches(&batch, backfillBatchSize, func(_ *gorm.DB, _ int) error {
			for _, account := range batch {
				key := localstore.EmailKey(account.Email)
				if key == account.EmailKey {
					continue
				}
				if err := db.Model(&localstore.Account{}).
					Where("uid = ?", account.UID).
					UpdateColumn("email_key", key).Error; err != nil {
					return err
				}
			}
			return nil
		}).Error
}
