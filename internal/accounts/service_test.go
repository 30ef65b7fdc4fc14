package accounts

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testEmail = "some@gmail.com"
	testUID   = "abc123"
)

type fakeBackend struct {
	users       map[string]*UserRecord
	lookupErr   error
	deleteErr   error
	lookupCalls int
	deleteCalls []string
	calls       *[]string
}

func newFakeBackend(records ...UserRecord) *fakeBackend {
	backend := &fakeBackend{users: map[string]*UserRecord{}}
	for index := range records {
		record := records[index]
		backend.users[record.UID] = &record
	}
	return backend
}

func (f *fakeBackend) GetUserByEmail(_ context.Context, email string) (*UserRecord, error) {
	f.lookupCalls++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	for _, record := range f.users {
		if strings.EqualFold(record.Email, email) {
			copied := *record
			return &copied, nil
		}
	}
	return nil, Errorf(UserNotFound, "fake.lookup", "no user for %s", email)
}

func (f *fakeBackend) GetUserByUID(_ context.Context, uid string) (*UserRecord, error) {
	record, ok := f.users[uid]
	if !ok {
		return nil, Errorf(UserNotFound, "fake.lookup", "no user %s", uid)
	}
	copied := *record
	return &copied, nil
}

func (f *fakeBackend) CreateUser(_ context.Context, user NewUser) (*UserRecord, error) {
	record := &UserRecord{UID: "uid-" + user.Email, Email: user.Email}
	f.users[record.UID] = record
	return record, nil
}

func (f *fakeBackend) DeleteUser(_ context.Context, uid string) error {
	f.deleteCalls = append(f.deleteCalls, uid)
	if f.calls != nil {
		*f.calls = append(*f.calls, "delete")
	}
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.users[uid]; !ok {
		return Errorf(UserNotFound, "fake.delete", "no user %s", uid)
	}
	delete(f.users, uid)
	return nil
}

type linkingBackend struct {
	*fakeBackend
}

func (l linkingBackend) LinkProvider(_ context.Context, uid, providerID, subject string) error {
	record, ok := l.users[uid]
	if !ok {
		return Errorf(UserNotFound, "fake.link", "no user %s", uid)
	}
	if subject == "" {
		subject = record.Email
	}
	record.ProviderData = append(record.ProviderData, ProviderInfo{ProviderID: providerID, UID: subject})
	return nil
}

type fakePurger struct {
	err   error
	uids  []string
	calls *[]string
}

func (p *fakePurger) PurgeUserData(_ context.Context, uid string) error {
	p.uids = append(p.uids, uid)
	if p.calls != nil {
		*p.calls = append(*p.calls, "purge")
	}
	return p.err
}

func passwordUser() UserRecord {
	return UserRecord{
		UID:          testUID,
		Email:        testEmail,
		ProviderData: []ProviderInfo{{ProviderID: "password", UID: testEmail}},
	}
}

func newTestService(t *testing.T, cfg ServiceConfig) (*Service, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	cfg.Output = output
	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, output
}

func TestNewServiceRequiresBackend(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); !errors.Is(err, errMissingBackend) {
		t.Fatalf("expected missing backend error, got %v", err)
	}
}

func TestRunReportsFirstProviderAndUID(t *testing.T) {
	backend := newFakeBackend(passwordUser())
	service, output := newTestService(t, ServiceConfig{Backend: backend})

	result, err := service.Run(context.Background(), RunRequest{Email: testEmail})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Record.UID != testUID {
		t.Fatalf("unexpected uid %q", result.Record.UID)
	}
	if result.Deleted {
		t.Fatalf("dry run must not report a deletion")
	}
	want := "Successfully fetched user data: password. abc123\n"
	if output.String() != want {
		t.Fatalf("unexpected report: got %q, want %q", output.String(), want)
	}
	if len(backend.deleteCalls) != 0 {
		t.Fatalf("dry run invoked delete: %v", backend.deleteCalls)
	}
}

func TestResolveByEmailIsCaseInsensitive(t *testing.T) {
	backend := newFakeBackend(passwordUser())
	service, _ := newTestService(t, ServiceConfig{Backend: backend})

	record, err := service.ResolveByEmail(context.Background(), "  Some@GMail.com ")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !strings.EqualFold(record.Email, testEmail) {
		t.Fatalf("unexpected email %q", record.Email)
	}
}

func TestRunUnknownEmailFailsWithUserNotFound(t *testing.T) {
	backend := newFakeBackend(passwordUser())
	service, output := newTestService(t, ServiceConfig{Backend: backend})

	_, err := service.Run(context.Background(), RunRequest{Email: "nobody@nowhere.com", Delete: true})
	if !errors.Is(err, UserNotFound) {
		t.Fatalf("expected UserNotFound, got %v", err)
	}
	if ExitCode(err) == 0 {
		t.Fatalf("expected a non-zero exit code")
	}
	if len(backend.deleteCalls) != 0 {
		t.Fatalf("delete must not run after a failed lookup")
	}
	if output.Len() != 0 {
		t.Fatalf("expected no report output, got %q", output.String())
	}
}

func TestResolveByEmailRejectsMalformedInput(t *testing.T) {
	backend := newFakeBackend(passwordUser())
	service, _ := newTestService(t, ServiceConfig{Backend: backend})

	for _, email := range []string{"", "   ", "not-an-email", "a@"} {
		_, err := service.ResolveByEmail(context.Background(), email)
		if !errors.Is(err, InvalidInput) {
			t.Fatalf("expected InvalidInput for %q, got %v", email, err)
		}
	}
	if backend.lookupCalls != 0 {
		t.Fatalf("backend must not be called for malformed input")
	}
}

func TestResolveByEmailClassifiesTransportFailures(t *testing.T) {
	backend := newFakeBackend()
	backend.lookupErr = errors.New("dial tcp: connection refused")
	service, _ := newTestService(t, ServiceConfig{Backend: backend})

	_, err := service.ResolveByEmail(context.Background(), testEmail)
	if !errors.Is(err, BackendUnavailable) {
		t.Fatalf("expected BackendUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected backend message in error, got %q", err.Error())
	}
}

func TestRunDeleteRemovesAccount(t *testing.T) {
	backend := newFakeBackend(passwordUser())
	service, output := newTestService(t, ServiceConfig{Backend: backend})

	result, err := service.Run(context.Background(), RunRequest{Email: testEmail, Delete: true})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !result.Deleted {
		t.Fatalf("expected deletion to be reported")
	}
	if !strings.Contains(output.String(), "Successfully deleted user abc123") {
		t.Fatalf("expected deletion confirmation, got %q", output.String())
	}

	if _, err := service.ResolveByEmail(context.Background(), testEmail); !errors.Is(err, UserNotFound) {
		t.Fatalf("expected UserNotFound after deletion, got %v", err)
	}
	if err := service.DeleteByUID(context.Background(), testUID, false); !errors.Is(err, UserNotFound) {
		t.Fatalf("expected second delete to fail with UserNotFound, got %v", err)
	}
}

func TestRunRequireProviderAbortsBeforeDeletion(t *testing.T) {
	backend := newFakeBackend(UserRecord{UID: testUID, Email: testEmail})
	service, output := newTestService(t, ServiceConfig{Backend: backend, RequireProvider: true})

	_, err := service.Run(context.Background(), RunRequest{Email: testEmail, Delete: true})
	if !errors.Is(err, NoProviderData) {
		t.Fatalf("expected NoProviderData, got %v", err)
	}
	if len(backend.deleteCalls) != 0 {
		t.Fatalf("delete must not run when reporting fails")
	}
	if output.Len() != 0 {
		t.Fatalf("expected no output, got %q", output.String())
	}
}

func TestRunOmitsProviderWhenNoneLinked(t *testing.T) {
	backend := newFakeBackend(UserRecord{UID: testUID, Email: testEmail})
	service, output := newTestService(t, ServiceConfig{Backend: backend})

	if _, err := service.Run(context.Background(), RunRequest{Email: testEmail}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	want := "Successfully fetched user data: abc123 (no linked providers)\n"
	if output.String() != want {
		t.Fatalf("unexpected report: got %q, want %q", output.String(), want)
	}
}

func TestDeleteByUIDPurgesBeforeDeleting(t *testing.T) {
	var calls []string
	backend := newFakeBackend(passwordUser())
	backend.calls = &calls
	purger := &fakePurger{calls: &calls}
	service, _ := newTestService(t, ServiceConfig{Backend: backend, Purger: purger})

	if err := service.DeleteByUID(context.Background(), testUID, true); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(calls) != 2 || calls[0] != "purge" || calls[1] != "delete" {
		t.Fatalf("unexpected call order: %v", calls)
	}
}

func TestDeleteByUIDPurgeFailureKeepsAccount(t *testing.T) {
	backend := newFakeBackend(passwordUser())
	purger := &fakePurger{err: errors.New("storage: 503")}
	service, _ := newTestService(t, ServiceConfig{Backend: backend, Purger: purger})

	err := service.DeleteByUID(context.Background(), testUID, true)
	if !errors.Is(err, BackendUnavailable) {
		t.Fatalf("expected BackendUnavailable, got %v", err)
	}
	if len(backend.deleteCalls) != 0 {
		t.Fatalf("account must not be deleted when purge fails")
	}
}

func TestDeleteByUIDPurgeWithoutPurgerIsConfigurationError(t *testing.T) {
	backend := newFakeBackend(passwordUser())
	service, _ := newTestService(t, ServiceConfig{Backend: backend})

	if err := service.DeleteByUID(context.Background(), testUID, true); !errors.Is(err, ConfigurationError) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if len(backend.deleteCalls) != 0 {
		t.Fatalf("account must not be deleted")
	}
}

func TestRunDryRunLogsSkippedDeletion(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	backend := newFakeBackend(passwordUser())
	service, _ := newTestService(t, ServiceConfig{Backend: backend, Logger: zap.New(core)})

	if _, err := service.Run(context.Background(), RunRequest{Email: testEmail, PurgeData: true}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if logs.FilterMessage("dry run, deletion skipped").Len() != 1 {
		t.Fatalf("expected dry run log entry, got %v", logs.All())
	}
	if len(backend.deleteCalls) != 0 {
		t.Fatalf("dry run invoked delete")
	}
}

func TestCreateUserValidatesEmail(t *testing.T) {
	backend := newFakeBackend()
	service, output := newTestService(t, ServiceConfig{Backend: backend})

	if _, err := service.CreateUser(context.Background(), NewUser{Email: "broken"}); !errors.Is(err, InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
	record, err := service.CreateUser(context.Background(), NewUser{Email: " new@example.com "})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if record.Email != "new@example.com" {
		t.Fatalf("expected trimmed email, got %q", record.Email)
	}
	if output.String() != "Successfully created user uid-new@example.com\n" {
		t.Fatalf("unexpected output %q", output.String())
	}
}

func TestCreateUserLinksRequestedProvider(t *testing.T) {
	backend := linkingBackend{fakeBackend: newFakeBackend()}
	service, _ := newTestService(t, ServiceConfig{Backend: backend})

	record, err := service.CreateUser(context.Background(), NewUser{Email: "linked@example.com", ProviderID: "google.com"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	providerID, ok := record.FirstProviderID()
	if !ok || providerID != "google.com" {
		t.Fatalf("expected google.com to be linked, got %+v", record.ProviderData)
	}
}

func TestCreateUserWithProviderNeedsLinkingBackend(t *testing.T) {
	backend := newFakeBackend()
	service, _ := newTestService(t, ServiceConfig{Backend: backend})

	_, err := service.CreateUser(context.Background(), NewUser{Email: "linked@example.com", ProviderID: "password"})
	if !errors.Is(err, ConfigurationError) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if len(backend.users) != 0 {
		t.Fatalf("account must not be created when the provider cannot be linked")
	}
}

type failingLinker struct {
	*fakeBackend
	err error
}

func (f failingLinker) LinkProvider(context.Context, string, string, string) error {
	return f.err
}

func TestCreateUserRemovesAccountWhenLinkFails(t *testing.T) {
	backend := failingLinker{fakeBackend: newFakeBackend(), err: errors.New("link refused")}
	service, output := newTestService(t, ServiceConfig{Backend: backend})

	record, err := service.CreateUser(context.Background(), NewUser{Email: "x@example.com", ProviderID: "google.com"})
	if !errors.Is(err, BackendUnavailable) {
		t.Fatalf("expected BackendUnavailable, got %v", err)
	}
	if record != nil {
		t.Fatalf("expected no record, got %+v", record)
	}
	if len(backend.users) != 0 {
		t.Fatalf("unlinked account left behind: %v", backend.users)
	}
	if output.Len() != 0 {
		t.Fatalf("creation reported despite failure: %q", output.String())
	}
}

func TestCreateUserReportsUnlinkedAccountWhenRollbackFails(t *testing.T) {
	backend := failingLinker{fakeBackend: newFakeBackend(), err: errors.New("link refused")}
	backend.deleteErr = errors.New("delete refused")
	service, output := newTestService(t, ServiceConfig{Backend: backend})

	_, err := service.CreateUser(context.Background(), NewUser{Email: "x@example.com", ProviderID: "google.com"})
	if !errors.Is(err, BackendUnavailable) {
		t.Fatalf("expected BackendUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "uid-x@example.com exists without a linked provider") {
		t.Fatalf("expected error to name the unlinked account, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "link refused") {
		t.Fatalf("expected link failure in error, got %q", err.Error())
	}
	if output.Len() != 0 {
		t.Fatalf("creation reported despite failure: %q", output.String())
	}
}

func TestCreateUserReportsCreationAfterLink(t *testing.T) {
	backend := linkingBackend{fakeBackend: newFakeBackend()}
	service, output := newTestService(t, ServiceConfig{Backend: backend})

	if _, err := service.CreateUser(context.Background(), NewUser{Email: "linked@example.com", ProviderID: "google.com"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if output.String() != "Successfully created user uid-linked@example.com\n" {
		t.Fatalf("unexpected output %q", output.String())
	}
}

func TestCreateUserErrorsNameCreateOperation(t *testing.T) {
	service, _ := newTestService(t, ServiceConfig{Backend: newFakeBackend()})

	_, err := service.CreateUser(context.Background(), NewUser{Email: "broken"})
	var categorized *Error
	if !errors.As(err, &categorized) || categorized.Op() != opCreate {
		t.Fatalf("expected %s error, got %v", opCreate, err)
	}
}

// fixedLookupBackend answers every email lookup with the same record.
type fixedLookupBackend struct {
	*fakeBackend
	record *UserRecord
}

func (f fixedLookupBackend) GetUserByEmail(context.Context, string) (*UserRecord, error) {
	return f.record, nil
}

func TestRunRefusesUnexpectedLookupResults(t *testing.T) {
	other := UserRecord{UID: "other-uid", Email: "other@gmail.com"}
	cases := map[string]*UserRecord{
		"different email": &other,
		"empty uid":       {UID: "  ", Email: testEmail},
		"nil record":      nil,
	}
	for name, record := range cases {
		backend := fixedLookupBackend{fakeBackend: newFakeBackend(passwordUser(), other), record: record}
		service, output := newTestService(t, ServiceConfig{Backend: backend})

		_, err := service.Run(context.Background(), RunRequest{Email: testEmail, Delete: true})
		if !errors.Is(err, BackendUnavailable) {
			t.Fatalf("%s: expected BackendUnavailable, got %v", name, err)
		}
		if len(backend.deleteCalls) != 0 {
			t.Fatalf("%s: delete ran for an unexpected record: %v", name, backend.deleteCalls)
		}
		if output.Len() != 0 {
			t.Fatalf("%s: expected no report, got %q", name, output.String())
		}
	}
}
