// Package gakujo orchestrates the portal scraping client: one sync
// operation per feature, each diffing fresh records against the
// persisted collection, stamping the feature's last-sync time and
// pushing newly found records to the notifier. A failed sync logs,
// leaves the persisted collection untouched and never blocks the
// other features in the same run.
package gakujo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gakujo-backend/lib/kvstore"
	scraper "gakujo-backend/lib/scrapers/gakujo"
	"gakujo-backend/lib/secret"
	"gakujo-backend/lib/timezone"
	"gakujo-backend/services/notify"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/gakujo")

var ErrNoCredentials = errors.New("no stored credentials")

const accountKey = "account"
const registrationDraftsKey = "registration_drafts"

// past this age the server has usually discarded the session cookies,
// so a fresh login is cheaper than discovering the stale token mid-sync
const sessionLifetime = 20 * time.Minute

type Config struct {
	// how many of the newest announcements get their detail pane
	// fetched per sync; 0 means the default of 10, -1 means all
	MaxContactDetail int `json:"max_contact_detail"`
}

type Service struct {
	client           *scraper.Client
	store            kvstore.Store
	notifier         notify.Notifier
	secretKey        []byte
	maxContactDetail int
}

// NewService wires the scraping client to its persistence store and
// outbound notifier. notifier may be nil to disable notifications.
func NewService(client *scraper.Client, store kvstore.Store, notifier notify.Notifier, secretKey []byte, config Config) Service {
	maxDetail := config.MaxContactDetail
	if maxDetail == 0 {
		maxDetail = 10
	}
	return Service{
		client:           client,
		store:            store,
		notifier:         notifier,
		secretKey:        secretKey,
		maxContactDetail: maxDetail,
	}
}

func (s Service) Account() *scraper.Account {
	return s.client.Account
}

func (s Service) termKey(base string) string {
	return kvstore.TermKey(base, s.client.SchoolYear(), s.client.TermNumber())
}

// RestoreAccount loads the persisted account into the client,
// unprotecting the stored credential. The boolean reports whether a
// persisted account existed.
func (s Service) RestoreAccount(ctx context.Context) (bool, error) {
	var stored scraper.Account
	ok, err := s.store.Load(ctx, accountKey, &stored)
	if err != nil || !ok {
		return ok, err
	}
	password, err := secret.Unprotect(s.secretKey, stored.Password)
	if err != nil {
		return false, fmt.Errorf("unprotect stored credential: %w", err)
	}
	stored.Password = password
	*s.client.Account = stored
	return true, nil
}

func (s Service) persistAccount(ctx context.Context) {
	account := *s.client.Account
	protected, err := secret.Protect(s.secretKey, account.Password)
	if err != nil {
		slog.WarnContext(ctx, "failed to protect credential, account not persisted", "err", err)
		return
	}
	account.Password = protected
	err = s.store.Save(ctx, accountKey, account)
	if err != nil {
		slog.WarnContext(ctx, "failed to persist account", "err", err)
	}
}

// Login authenticates against the portal and persists the account on
// success so later runs can restore the session credentials and the
// device-trust cookie.
func (s Service) Login(ctx context.Context, username, password string) error {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	err := s.client.Login(ctx, username, password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return err
	}
	s.client.Account.Username = username
	s.client.Account.Password = password
	s.persistAccount(ctx)
	return nil
}

// ensureSession re-logs in with the stored credentials when the
// current session has aged out. Every sync operation calls this
// before touching the portal.
func (s Service) ensureSession(ctx context.Context) error {
	account := s.client.Account
	if account.Username == "" || account.Password == "" {
		return ErrNoCredentials
	}
	if timezone.Now().Sub(account.LoggedInAt) < sessionLifetime {
		return nil
	}
	err := s.client.Login(ctx, account.Username, account.Password)
	if err != nil {
		return err
	}
	s.persistAccount(ctx)
	return nil
}

// academicFlags enters the course-registration subsystem and reports
// which of its features are open this cycle. A closed feature is a
// normal state, not a failure.
func (s Service) academicFlags(ctx context.Context) (scraper.AcademicFlags, error) {
	err := s.ensureSession(ctx)
	if err != nil {
		return scraper.AcademicFlags{}, err
	}
	return s.client.EnterAcademicSubsystem(ctx)
}

func (s Service) push(ctx context.Context, messages []notify.Message) {
	if s.notifier == nil {
		return
	}
	for _, msg := range messages {
		err := s.notifier.Notify(ctx, msg)
		if err != nil {
			slog.WarnContext(ctx, "notification delivery failed",
				"feature", msg.Feature, "err", err)
		}
	}
}

// SaveRegistrationDrafts persists a registration plan so it can be
// reviewed and submitted in a later run.
func (s Service) SaveRegistrationDrafts(ctx context.Context, entries []scraper.RegistrationEntry) error {
	return s.store.Save(ctx, registrationDraftsKey, entries)
}

func (s Service) LoadRegistrationDrafts(ctx context.Context) ([]scraper.RegistrationEntry, error) {
	var entries []scraper.RegistrationEntry
	_, err := s.store.Load(ctx, registrationDraftsKey, &entries)
	return entries, err
}

// ClassTable returns the last synced timetable without touching the
// portal. The boolean reports whether a timetable has ever been synced.
func (s Service) ClassTable(ctx context.Context) (*scraper.ClassTable, bool, error) {
	var table scraper.ClassTable
	ok, err := s.store.Load(ctx, "classtable", &table)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &table, true, nil
}

// SchoolGrade returns the last synced grade snapshot without touching
// the portal.
func (s Service) SchoolGrade(ctx context.Context) (*scraper.SchoolGrade, bool, error) {
	var grade scraper.SchoolGrade
	ok, err := s.store.Load(ctx, "grades", &grade)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &grade, true, nil
}

// SyncAll runs every feature sync in sequence. Failures are collected
// per feature; one feature failing never stops the rest.
func (s Service) SyncAll(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "SyncAll")
	defer span.End()

	syncs := []struct {
		name string
		run  func(context.Context) error
	}{
		{"news", func(ctx context.Context) error { _, err := s.SyncNews(ctx); return err }},
		{"reports", func(ctx context.Context) error { _, err := s.SyncReports(ctx); return err }},
		{"quizzes", func(ctx context.Context) error { _, err := s.SyncQuizzes(ctx); return err }},
		{"contacts", func(ctx context.Context) error { _, err := s.SyncClassContacts(ctx); return err }},
		{"sharedfiles", func(ctx context.Context) error { _, err := s.SyncSharedFiles(ctx); return err }},
		{"classtables", func(ctx context.Context) error { _, err := s.SyncClassTables(ctx); return err }},
		{"grades", func(ctx context.Context) error { _, err := s.SyncSchoolGrade(ctx); return err }},
		{"lottery", func(ctx context.Context) error { _, err := s.SyncLotteryRegistrations(ctx); return err }},
		{"lotteryresults", func(ctx context.Context) error { _, err := s.SyncLotteryResults(ctx); return err }},
		{"registrations", func(ctx context.Context) error { _, err := s.SyncRegistrations(ctx); return err }},
	}

	var errs []error
	for _, sync := range syncs {
		err := sync.run(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "feature sync failed", "feature", sync.name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", sync.name, err))
		}
	}
	if len(errs) > 0 {
		span.SetStatus(codes.Error, "one or more feature syncs failed")
	}
	return errors.Join(errs...)
}
