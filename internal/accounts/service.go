package accounts

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

const (
	opResolve = "accounts.resolve_by_email"
	opReport  = "accounts.report_record"
	opDelete  = "accounts.delete_by_uid"
	opPurge   = "accounts.purge_user_data"
	opCreate  = "accounts.create_user"
	opLink    = "accounts.link_provider"
)

var (
	errMissingBackend = errors.New("accounts: backend is required")
	noOpLogger        = zap.NewNop()
)

// ServiceConfig describes the dependencies of the lookup/deletion tool.
type ServiceConfig struct {
	Backend         Backend
	Purger          DataPurger
	Output          io.Writer
	Logger          *zap.Logger
	RequireProvider bool
}

// Service resolves accounts by email, reports them and deletes them on request.
type Service struct {
	backend         Backend
	purger          DataPurger
	out             io.Writer
	logger          *zap.Logger
	requireProvider bool
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		backend:         cfg.Backend,
		purger:          cfg.Purger,
		out:             out,
		logger:          logger,
		requireProvider: cfg.RequireProvider,
	}, nil
}

// ResolveByEmail fetches the account registered under email. It never mutates
// backend state.
func (s *Service) ResolveByEmail(ctx context.Context, email string) (*UserRecord, error) {
	normalized, err := NormalizeEmail(opResolve, email)
	if err != nil {
		return nil, err
	}

	record, err := s.backend.GetUserByEmail(ctx, normalized)
	if err != nil {
		return nil, classify(opResolve, err)
	}
	if record == nil || strings.TrimSpace(record.UID) == "" {
		return nil, Errorf(BackendUnavailable, opResolve, "backend returned an empty record for %s", normalized)
	}
	if !strings.EqualFold(record.Email, normalized) {
		return nil, Errorf(BackendUnavailable, opResolve, "backend returned %s for %s", record.Email, normalized)
	}

	s.logger.Debug("user resolved",
		zap.String("uid", record.UID),
		zap.Int("providers", len(record.ProviderData)),
		zap.Bool("disabled", record.Disabled),
	)
	return record, nil
}

// ReportRecord writes the summary line for record to the output sink.
func (s *Service) ReportRecord(record UserRecord) error {
	line, err := FormatReport(record, s.requireProvider)
	if err != nil {
		return err
	}
	return writeLine(s.out, line)
}

// DeleteByUID permanently removes the account. When purgeData is set the
// user's application data is removed first; a purge failure leaves the account
// untouched.
func (s *Service) DeleteByUID(ctx context.Context, uid string, purgeData bool) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return Errorf(InvalidInput, opDelete, "uid is required")
	}

	if purgeData {
		if s.purger == nil {
			return Errorf(ConfigurationError, opPurge, "data purge requested but no purger is configured")
		}
		if err := s.purger.PurgeUserData(ctx, uid); err != nil {
			return classify(opPurge, err)
		}
		s.logger.Info("user data purged", zap.String("uid", uid))
	}

	if err := s.backend.DeleteUser(ctx, uid); err != nil {
		return classify(opDelete, err)
	}
	s.logger.Info("user deleted", zap.String("uid", uid))
	return writeLine(s.out, FormatDeletion(uid))
}

// CreateUser registers a new account and links user.ProviderID when one is
// given. A failed link removes the account again, so a create either reports
// a linked account or leaves nothing behind.
func (s *Service) CreateUser(ctx context.Context, user NewUser) (*UserRecord, error) {
	normalized, err := NormalizeEmail(opCreate, user.Email)
	if err != nil {
		return nil, err
	}
	user.Email = normalized
	user.ProviderID = strings.TrimSpace(user.ProviderID)

	var linker ProviderLinker
	if user.ProviderID != "" {
		var ok bool
		if linker, ok = s.backend.(ProviderLinker); !ok {
			return nil, Errorf(ConfigurationError, opLink, "backend cannot link provider %s", user.ProviderID)
		}
	}

	record, err := s.backend.CreateUser(ctx, user)
	if err != nil {
		return nil, classify(opCreate, err)
	}
	s.logger.Info("user created", zap.String("uid", record.UID))

	if linker != nil {
		linked, err := s.linkProvider(ctx, linker, record.UID, user.ProviderID)
		if err != nil {
			return nil, s.rollbackCreate(ctx, record.UID, err)
		}
		record = linked
	}
	if err := writeLine(s.out, FormatCreation(record.UID)); err != nil {
		return record, err
	}
	return record, nil
}

func (s *Service) linkProvider(ctx context.Context, linker ProviderLinker, uid, providerID string) (*UserRecord, error) {
	if err := linker.LinkProvider(ctx, uid, providerID, ""); err != nil {
		return nil, classify(opLink, err)
	}
	s.logger.Info("provider linked", zap.String("uid", uid), zap.String("provider_id", providerID))
	refreshed, err := s.backend.GetUserByUID(ctx, uid)
	if err != nil {
		return nil, classify(opLink, err)
	}
	return refreshed, nil
}

// rollbackCreate deletes an account whose provider link failed. When the
// delete fails as well the error says the account was left unlinked.
func (s *Service) rollbackCreate(ctx context.Context, uid string, linkErr error) error {
	if err := s.backend.DeleteUser(ctx, uid); err != nil {
		s.logger.Error("failed to remove unlinked account", zap.String("uid", uid), zap.Error(err))
		return Errorf(CategoryOf(linkErr), opCreate, "account %s exists without a linked provider: %w", uid, linkErr)
	}
	s.logger.Warn("account removed after failed provider link", zap.String("uid", uid))
	return linkErr
}

// RunRequest selects the target account and whether to delete it.
type RunRequest struct {
	Email     string
	Delete    bool
	PurgeData bool
}

// RunResult reports what a run did.
type RunResult struct {
	Record  *UserRecord
	Deleted bool
}

// Run resolves, reports and, when requested, deletes one account. Any failure
// stops the run before the next step.
func (s *Service) Run(ctx context.Context, request RunRequest) (RunResult, error) {
	record, err := s.ResolveByEmail(ctx, request.Email)
	if err != nil {
		return RunResult{}, err
	}
	result := RunResult{Record: record}

	if err := s.ReportRecord(*record); err != nil {
		return result, err
	}

	if !request.Delete {
		s.logger.Info("dry run, deletion skipped", zap.String("uid", record.UID))
		return result, nil
	}

	if err := s.DeleteByUID(ctx, record.UID, request.PurgeData); err != nil {
		return result, err
	}
	result.Deleted = true
	return result, nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if CategoryOf(err) != "" {
		return err
	}
	return NewError(BackendUnavailable, op, err)
}
