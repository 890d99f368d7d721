package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/portal-keeper/internal/errs"
	"github.com/and161185/portal-keeper/internal/model"
	"github.com/and161185/portal-keeper/internal/repository"
	"github.com/and161185/portal-keeper/internal/vault"
)

// History limits used when the caller passes a non-positive limit.
const (
	DefaultHistoryLimit    = 20
	DefaultAllHistoryLimit = 50
)

// CredentialStore is the only path between plaintext portal secrets and storage.
type CredentialStore struct {
	creds repository.CredentialRepository
	logs  repository.SyncLogRepository
	log   *zap.Logger
}

// NewCredentialStore constructs CredentialStore.
func NewCredentialStore(creds repository.CredentialRepository, logs repository.SyncLogRepository, log *zap.Logger) *CredentialStore {
	return &CredentialStore{creds: creds, logs: logs, log: log.With(zap.String("component", "credentials"))}
}

// Add validates and encrypts in, applies defaults and stores the row.
func (s *CredentialStore) Add(ctx context.Context, sess *vault.Session, in model.CredentialInput) (uuid.UUID, error) {
	if err := validateInput(in); err != nil {
		return uuid.Nil, err
	}
	if !sess.Active() {
		return uuid.Nil, errs.ErrVaultLocked
	}

	c := &model.PortalCredential{
		ServiceName: in.ServiceName,
		PortalType:  in.PortalType,
		BaseURL:     in.BaseURL,
		MFAMethod:   orDefault(in.MFAMethod, model.DefaultMFAMethod),
		SyncSettings: model.SyncSettings{
			SyncSchedule:   model.Schedule(orDefault(string(in.SyncSchedule), string(model.DefaultSyncSchedule))),
			SyncTime:       orDefault(in.SyncTime, model.DefaultSyncTime),
			SyncDayOfWeek:  intOr(in.SyncDayOfWeek, model.DefaultSyncDayOfWeek),
			SyncDayOfMonth: intOr(in.SyncDayOfMonth, model.DefaultSyncDayOfMonth),
			AutoSyncOnOpen: boolOr(in.AutoSyncOnOpen, false),
			NotifyOnSync:   boolOr(in.NotifyOnSync, true),
		},
	}
	if err := validateSettings(c.SyncSettings); err != nil {
		return uuid.Nil, err
	}

	var err error
	if c.UsernameEncrypted, err = sess.Encrypt(in.Username); err != nil {
		return uuid.Nil, err
	}
	if c.PasswordEncrypted, err = sess.Encrypt(in.Password); err != nil {
		return uuid.Nil, err
	}
	if c.TOTPSecretEncrypted, err = sess.EncryptField(nonEmpty(in.TOTPSecret)); err != nil {
		return uuid.Nil, err
	}
	if c.NotesEncrypted, err = sess.EncryptField(nonEmpty(in.Notes)); err != nil {
		return uuid.Nil, err
	}

	if c.ID, err = uuid.NewV4(); err != nil {
		return uuid.Nil, err
	}
	if err := s.creds.Create(ctx, c); err != nil {
		return uuid.Nil, err
	}
	s.log.Info("credential added", zap.Stringer("id", c.ID), zap.String("portal_type", c.PortalType))
	return c.ID, nil
}

// List returns summaries. It works while the vault is locked.
func (s *CredentialStore) List(ctx context.Context) ([]model.CredentialSummary, error) {
	return s.creds.List(ctx)
}

// Get loads and decrypts one credential. Any field failing to decrypt fails the call.
func (s *CredentialStore) Get(ctx context.Context, sess *vault.Session, id uuid.UUID) (*model.DecryptedCredential, error) {
	if !sess.Active() {
		return nil, errs.ErrVaultLocked
	}
	c, err := s.creds.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &model.DecryptedCredential{
		ID:             c.ID,
		ServiceName:    c.ServiceName,
		PortalType:     c.PortalType,
		BaseURL:        c.BaseURL,
		MFAMethod:      c.MFAMethod,
		LastSync:       c.LastSync,
		LastSyncStatus: c.LastSyncStatus,
		SyncSettings:   c.SyncSettings,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if out.Username, err = sess.Decrypt(c.UsernameEncrypted); err != nil {
		return nil, fmt.Errorf("decrypt username: %w", err)
	}
	if out.Password, err = sess.Decrypt(c.PasswordEncrypted); err != nil {
		return nil, fmt.Errorf("decrypt password: %w", err)
	}
	if out.TOTPSecret, err = sess.DecryptField(c.TOTPSecretEncrypted); err != nil {
		return nil, fmt.Errorf("decrypt totp_secret: %w", err)
	}
	if out.Notes, err = sess.DecryptField(c.NotesEncrypted); err != nil {
		return nil, fmt.Errorf("decrypt notes: %w", err)
	}
	return out, nil
}

// Update applies the supplied fields of p, re-encrypting secrets.
// Setting totp_secret or notes to "" clears them.
func (s *CredentialStore) Update(ctx context.Context, sess *vault.Session, id uuid.UUID, p model.CredentialPatch) error {
	if p.Empty() {
		return errs.ErrNoFieldsProvided
	}
	if !sess.Active() {
		return errs.ErrVaultLocked
	}
	sets, err := patchColumns(sess, p)
	if err != nil {
		return err
	}
	if err := s.creds.Update(ctx, id, sets); err != nil {
		return err
	}
	s.log.Info("credential updated", zap.Stringer("id", id), zap.Int("fields", len(sets)))
	return nil
}

// Delete removes a credential and its sync history.
func (s *CredentialStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.creds.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("credential deleted", zap.Stringer("id", id))
	return nil
}

// StartSync opens a running sync log entry for id.
func (s *CredentialStore) StartSync(ctx context.Context, id uuid.UUID, started time.Time) (uuid.UUID, error) {
	return s.logs.Start(ctx, id, started)
}

// RecordSyncOutcome moves the running entry logID to a terminal status and
// updates the credential's last-sync fields. With a nil logID a closed entry
// is appended instead. The write ignores caller cancellation so an attempt
// never stays running.
func (s *CredentialStore) RecordSyncOutcome(ctx context.Context, logID, id uuid.UUID, status model.SyncStatus,
	completed time.Time, records int, errMsg *string) (uuid.UUID, error) {
	if !status.Terminal() {
		return uuid.Nil, fmt.Errorf("%w: status %q is not terminal", errs.ErrValidation, status)
	}
	ctx = context.WithoutCancel(ctx)
	if logID == uuid.Nil {
		return s.logs.Record(ctx, id, status, completed, records, errMsg)
	}
	if err := s.logs.Close(ctx, logID, id, status, completed, records, errMsg); err != nil {
		return uuid.Nil, err
	}
	return logID, nil
}

// Stored returns the encrypted row of id without touching the vault.
func (s *CredentialStore) Stored(ctx context.Context, id uuid.UUID) (*model.PortalCredential, error) {
	return s.creds.Get(ctx, id)
}

// History returns the newest sync log entries of one credential.
func (s *CredentialStore) History(ctx context.Context, id uuid.UUID, limit int) ([]model.SyncLogEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.logs.History(ctx, id, limit)
}

// AllHistory returns the newest sync log entries across credentials.
func (s *CredentialStore) AllHistory(ctx context.Context, limit int) ([]model.SyncLogEntry, error) {
	if limit <= 0 {
		limit = DefaultAllHistoryLimit
	}
	return s.logs.AllHistory(ctx, limit)
}

func validateInput(in model.CredentialInput) error {
	var missing []string
	for _, f := range []struct{ name, v string }{
		{"service_name", in.ServiceName},
		{"portal_type", in.PortalType},
		{"username", in.Username},
		{"password", in.Password},
	} {
		if strings.TrimSpace(f.v) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return errs.Configf(errs.ErrValidation, "missing required fields: "+strings.Join(missing, ", "))
	}
	return nil
}

func validateSettings(ss model.SyncSettings) error {
	if !ss.SyncSchedule.Valid() {
		return errs.Configf(errs.ErrValidation, fmt.Sprintf("unknown sync_schedule %q", ss.SyncSchedule))
	}
	if _, err := time.Parse("15:04", ss.SyncTime); err != nil {
		return errs.Configf(errs.ErrValidation, fmt.Sprintf("sync_time %q is not HH:MM", ss.SyncTime))
	}
	if ss.SyncDayOfWeek < 0 || ss.SyncDayOfWeek > 6 {
		return errs.Configf(errs.ErrValidation, "sync_day_of_week must be 0-6")
	}
	if ss.SyncDayOfMonth < 1 || ss.SyncDayOfMonth > 31 {
		return errs.Configf(errs.ErrValidation, "sync_day_of_month must be 1-31")
	}
	return nil
}

// patchColumns turns a patch into column assignments, encrypting secret fields.
func patchColumns(sess *vault.Session, p model.CredentialPatch) ([]model.ColumnUpdate, error) {
	var sets []model.ColumnUpdate
	add := func(col string, v any) { sets = append(sets, model.ColumnUpdate{Column: col, Value: v}) }
	required := func(name string, v *string) error {
		if v != nil && strings.TrimSpace(*v) == "" {
			return errs.Configf(errs.ErrValidation, name+" cannot be empty")
		}
		return nil
	}
	for name, v := range map[string]*string{
		"service_name": p.ServiceName, "portal_type": p.PortalType,
		"username": p.Username, "password": p.Password,
	} {
		if err := required(name, v); err != nil {
			return nil, err
		}
	}

	if p.ServiceName != nil {
		add("service_name", *p.ServiceName)
	}
	if p.PortalType != nil {
		add("portal_type", *p.PortalType)
	}
	if p.BaseURL != nil {
		add("base_url", *p.BaseURL)
	}
	if p.Username != nil {
		enc, err := sess.Encrypt(*p.Username)
		if err != nil {
			return nil, err
		}
		add("username_encrypted", enc)
	}
	if p.Password != nil {
		enc, err := sess.Encrypt(*p.Password)
		if err != nil {
			return nil, err
		}
		add("password_encrypted", enc)
	}
	if p.MFAMethod != nil {
		add("mfa_method", *p.MFAMethod)
	}
	if p.TOTPSecret != nil {
		enc, err := sess.EncryptField(nonEmpty(p.TOTPSecret))
		if err != nil {
			return nil, err
		}
		add("totp_secret_encrypted", enc)
	}
	if p.Notes != nil {
		enc, err := sess.EncryptField(nonEmpty(p.Notes))
		if err != nil {
			return nil, err
		}
		add("notes_encrypted", enc)
	}

	var ss model.SyncSettings
	ss.SyncSchedule, ss.SyncTime = model.DefaultSyncSchedule, model.DefaultSyncTime
	ss.SyncDayOfWeek, ss.SyncDayOfMonth = model.DefaultSyncDayOfWeek, model.DefaultSyncDayOfMonth
	if p.SyncSchedule != nil {
		ss.SyncSchedule = *p.SyncSchedule
		add("sync_schedule", string(*p.SyncSchedule))
	}
	if p.SyncTime != nil {
		ss.SyncTime = *p.SyncTime
		add("sync_time", *p.SyncTime)
	}
	if p.SyncDayOfWeek != nil {
		ss.SyncDayOfWeek = *p.SyncDayOfWeek
		add("sync_day_of_week", *p.SyncDayOfWeek)
	}
	if p.SyncDayOfMonth != nil {
		ss.SyncDayOfMonth = *p.SyncDayOfMonth
		add("sync_day_of_month", *p.SyncDayOfMonth)
	}
	if err := validateSettings(ss); err != nil {
		return nil, err
	}
	if p.AutoSyncOnOpen != nil {
		add("auto_sync_on_open", *p.AutoSyncOnOpen)
	}
	if p.NotifyOnSync != nil {
		add("notify_on_sync", *p.NotifyOnSync)
	}
	return sets, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// nonEmpty maps "" to nil so blank optional secrets are stored as NULL.
func nonEmpty(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	return v
}
