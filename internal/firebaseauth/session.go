// Package firebaseauth binds the account tool to Firebase Authentication through
// the Admin SDK.
package firebaseauth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/errorutils"
	"github.com/EvgenSuit/My-Speechy/internal/accounts"
	"github.com/EvgenSuit/My-Speechy/internal/credentials"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// EnvAuthEmulatorHost points the Admin SDK at an auth emulator instead of the
// hosted service.
const EnvAuthEmulatorHost = "FIREBASE_AUTH_EMULATOR_HOST"

const (
	opInitialize   = "firebase.initialize"
	opVerify       = "firebase.verify_credentials"
	opGetByEmail   = "firebase.get_user_by_email"
	opGetByUID     = "firebase.get_user_by_uid"
	opCreate       = "firebase.create_user"
	opDelete       = "firebase.delete_user"
	opLinkProvider = "firebase.link_provider"
)

var (
	errMissingCredentials = errors.New("firebaseauth: service account credentials required")
	errNotInitialized     = errors.New("session is not initialized")
)

// SessionConfig describes how to reach the Firebase project.
type SessionConfig struct {
	Credentials       *credentials.ServiceAccount
	DatabaseURL       string
	ProjectID         string
	StorageBucket     string
	VerifyCredentials bool
	Logger            *zap.Logger
}

// Session is an authenticated connection to one Firebase project. It is built
// once per run and passed to every operation.
type Session struct {
	cfg    SessionConfig
	logger *zap.Logger

	mu     sync.Mutex
	app    *firebase.App
	client *auth.Client
}

// NewSession validates the configuration. No network call happens until Initialize.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Credentials == nil {
		return nil, accounts.NewError(accounts.ConfigurationError, opInitialize, errMissingCredentials)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ProjectID = strings.TrimSpace(cfg.ProjectID)
	if cfg.ProjectID == "" {
		cfg.ProjectID = cfg.Credentials.ProjectID
	}
	return &Session{cfg: cfg, logger: logger}, nil
}

// Initialize connects the session. Calling it again on an initialized session
// is a no-op.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}
	if s.cfg.ProjectID == "" {
		return accounts.Errorf(accounts.ConfigurationError, opInitialize,
			"project id is not configured and the key file does not name one")
	}

	emulatorHost := strings.TrimSpace(os.Getenv(EnvAuthEmulatorHost))
	if s.cfg.VerifyCredentials && emulatorHost == "" {
		if err := s.verifyCredentials(ctx); err != nil {
			return err
		}
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:     s.cfg.ProjectID,
		DatabaseURL:   s.cfg.DatabaseURL,
		StorageBucket: s.cfg.StorageBucket,
	}, option.WithCredentialsJSON(s.cfg.Credentials.JSON()))
	if err != nil {
		return accounts.NewError(accounts.CredentialsInvalid, opInitialize, err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return accounts.NewError(accounts.CredentialsInvalid, opInitialize, err)
	}

	s.app = app
	s.client = client

	fields := []zap.Field{
		zap.String("project_id", s.cfg.ProjectID),
		zap.String("client_email", s.cfg.Credentials.ClientEmail),
	}
	if emulatorHost != "" {
		fields = append(fields, zap.String("auth_emulator", emulatorHost))
	}
	s.logger.Info("firebase session initialized", fields...)
	return nil
}

// verifyCredentials exchanges the key for an access token so a revoked or
// foreign key fails here rather than on the first user call.
func (s *Session) verifyCredentials(ctx context.Context) error {
	jwtConfig, err := google.JWTConfigFromJSON(s.cfg.Credentials.JSON(), credentials.Scopes...)
	if err != nil {
		return accounts.NewError(accounts.CredentialsInvalid, opVerify, err)
	}
	if _, err := jwtConfig.TokenSource(ctx).Token(); err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return accounts.NewError(accounts.CredentialsInvalid, opVerify, err)
		}
		return accounts.NewError(accounts.BackendUnavailable, opVerify, err)
	}
	s.logger.Debug("service account token issued", zap.String("client_email", s.cfg.Credentials.ClientEmail))
	return nil
}

// App returns the initialized Firebase app for clients sharing the session's
// credentials.
func (s *Session) App() (*firebase.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.app == nil {
		return nil, accounts.NewError(accounts.ConfigurationError, opInitialize, errNotInitialized)
	}
	return s.app, nil
}

// ClientOptions returns the credentials option for Google Cloud clients that
// must be opened outside the Firebase app.
func (s *Session) ClientOptions() []option.ClientOption {
	return []option.ClientOption{option.WithCredentialsJSON(s.cfg.Credentials.JSON())}
}

func (s *Session) authClient(op string) (*auth.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, accounts.NewError(accounts.ConfigurationError, op, errNotInitialized)
	}
	return s.client, nil
}

// GetUserByEmail implements accounts.Backend.
func (s *Session) GetUserByEmail(ctx context.Context, email string) (*accounts.UserRecord, error) {
	client, err := s.authClient(opGetByEmail)
	if err != nil {
		return nil, err
	}
	user, err := client.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, classify(opGetByEmail, err)
	}
	return toRecord(user), nil
}

// GetUserByUID implements accounts.Backend.
func (s *Session) GetUserByUID(ctx context.Context, uid string) (*accounts.UserRecord, error) {
	client, err := s.authClient(opGetByUID)
	if err != nil {
		return nil, err
	}
	user, err := client.GetUser(ctx, uid)
	if err != nil {
		return nil, classify(opGetByUID, err)
	}
	return toRecord(user), nil
}

// CreateUser implements accounts.Backend.
func (s *Session) CreateUser(ctx context.Context, user accounts.NewUser) (*accounts.UserRecord, error) {
	client, err := s.authClient(opCreate)
	if err != nil {
		return nil, err
	}
	params := (&auth.UserToCreate{}).Email(user.Email)
	if displayName := strings.TrimSpace(user.DisplayName); displayName != "" {
		params = params.DisplayName(displayName)
	}
	created, err := client.CreateUser(ctx, params)
	if err != nil {
		return nil, classify(opCreate, err)
	}
	return toRecord(created), nil
}

// DeleteUser implements accounts.Backend.
func (s *Session) DeleteUser(ctx context.Context, uid string) error {
	client, err := s.authClient(opDelete)
	if err != nil {
		return err
	}
	if err := client.DeleteUser(ctx, uid); err != nil {
		return classify(opDelete, err)
	}
	return nil
}

// LinkProvider implements accounts.ProviderLinker.
func (s *Session) LinkProvider(ctx context.Context, uid, providerID, subject string) error {
	client, err := s.authClient(opLinkProvider)
	if err != nil {
		return err
	}
	user, err := client.GetUser(ctx, uid)
	if err != nil {
		return classify(opLinkProvider, err)
	}
	if strings.TrimSpace(subject) == "" {
		subject = user.Email
	}
	update := (&auth.UserToUpdate{}).ProviderToLink(&auth.UserProvider{
		ProviderID: providerID,
		UID:        subject,
		Email:      user.Email,
	})
	if _, err := client.UpdateUser(ctx, uid, update); err != nil {
		return classify(opLinkProvider, err)
	}
	return nil
}

// classify maps Admin SDK failures onto the account error taxonomy.
func classify(op string, err error) error {
	switch {
	case auth.IsUserNotFound(err):
		return accounts.NewError(accounts.UserNotFound, op, err)
	case auth.IsEmailAlreadyExists(err):
		return accounts.NewError(accounts.InvalidInput, op, fmt.Errorf("%w: %v", accounts.ErrEmailExists, err))
	case errorutils.IsInvalidArgument(err):
		return accounts.NewError(accounts.InvalidInput, op, err)
	case errorutils.IsUnauthenticated(err), errorutils.IsPermissionDenied(err):
		return accounts.NewError(accounts.CredentialsInvalid, op, err)
	default:
		return accounts.NewError(accounts.BackendUnavailable, op, err)
	}
}

func toRecord(user *auth.UserRecord) *accounts.UserRecord {
	record := &accounts.UserRecord{
		UID:           user.UID,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		EmailVerified: user.EmailVerified,
		Disabled:      user.Disabled,
		ProviderData:  make([]accounts.ProviderInfo, 0, len(user.ProviderUserInfo)),
	}
	if user.UserMetadata != nil {
		record.CreatedAt = millisToTime(user.UserMetadata.CreationTimestamp)
		record.LastLoginAt = millisToTime(user.UserMetadata.LastLogInTimestamp)
	}
	for _, info := range user.ProviderUserInfo {
		if info == nil {
			continue
		}
		record.ProviderData = append(record.ProviderData, accounts.ProviderInfo{
			ProviderID:  info.ProviderID,
			UID:         info.UID,
			Email:       info.Email,
			DisplayName: info.DisplayName,
		})
	}
	return record
}

func millisToTime(millis int64) time.Time {
	if millis <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis).UTC()
}
