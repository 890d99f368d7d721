package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/portal-keeper/internal/errs"
	"github.com/and161185/portal-keeper/internal/limiter"
	"github.com/and161185/portal-keeper/internal/model"
	"github.com/and161185/portal-keeper/internal/repository"
)

const testIterations = 1000

var testLog = zap.NewNop()

type fakeVaultRepo struct {
	rec       *model.VaultRecord
	createErr error
	resets    int
}

var _ repository.VaultRepository = (*fakeVaultRepo)(nil)

func (f *fakeVaultRepo) Exists(context.Context) (bool, error) { return f.rec != nil, nil }

func (f *fakeVaultRepo) Get(context.Context) (*model.VaultRecord, error) {
	if f.rec == nil {
		return nil, errs.ErrNotFound
	}
	cp := *f.rec
	return &cp, nil
}

func (f *fakeVaultRepo) Create(_ context.Context, rec *model.VaultRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.rec != nil {
		return errs.ErrAlreadyExists
	}
	cp := *rec
	f.rec = &cp
	return nil
}

func (f *fakeVaultRepo) Reset(context.Context) error {
	f.resets++
	f.rec = nil
	return nil
}

type fakeCredRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.PortalCredential
}

var _ repository.CredentialRepository = (*fakeCredRepo)(nil)

func newFakeCredRepo() *fakeCredRepo {
	return &fakeCredRepo{rows: map[uuid.UUID]*model.PortalCredential{}}
}

func (f *fakeCredRepo) Create(_ context.Context, c *model.PortalCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
		cp.UpdatedAt = cp.CreatedAt
	}
	f.rows[c.ID] = &cp
	return nil
}

func (f *fakeCredRepo) List(context.Context) ([]model.CredentialSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.CredentialSummary, 0, len(f.rows))
	for _, c := range f.rows {
		out = append(out, model.CredentialSummary{
			ID: c.ID, ServiceName: c.ServiceName, PortalType: c.PortalType, BaseURL: c.BaseURL,
			MFAMethod: c.MFAMethod, LastSync: c.LastSync, LastSyncStatus: c.LastSyncStatus,
			SyncSettings: c.SyncSettings, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceName < out[j].ServiceName })
	return out, nil
}

func (f *fakeCredRepo) Get(_ context.Context, id uuid.UUID) (*model.PortalCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCredRepo) Update(_ context.Context, id uuid.UUID, sets []model.ColumnUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return errs.ErrNotFound
	}
	for _, s := range sets {
		switch s.Column {
		case "service_name":
			c.ServiceName = s.Value.(string)
		case "portal_type":
			c.PortalType = s.Value.(string)
		case "base_url":
			c.BaseURL = s.Value.(string)
		case "username_encrypted":
			c.UsernameEncrypted = s.Value.(string)
		case "password_encrypted":
			c.PasswordEncrypted = s.Value.(string)
		case "mfa_method":
			c.MFAMethod = s.Value.(string)
		case "totp_secret_encrypted":
			c.TOTPSecretEncrypted = s.Value.(*string)
		case "notes_encrypted":
			c.NotesEncrypted = s.Value.(*string)
		case "sync_schedule":
			c.SyncSchedule = model.Schedule(s.Value.(string))
		case "sync_time":
			c.SyncTime = s.Value.(string)
		case "sync_day_of_week":
			c.SyncDayOfWeek = s.Value.(int)
		case "sync_day_of_month":
			c.SyncDayOfMonth = s.Value.(int)
		case "auto_sync_on_open":
			c.AutoSyncOnOpen = s.Value.(bool)
		case "notify_on_sync":
			c.NotifyOnSync = s.Value.(bool)
		default:
			return errs.ErrValidation
		}
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeCredRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return errs.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

// fakeLogRepo keeps entries in memory and mirrors Close/Record onto creds.
type fakeLogRepo struct {
	mu        sync.Mutex
	creds     *fakeCredRepo
	entries   []model.SyncLogEntry
	lastLimit int
	closeErr  error
}

var _ repository.SyncLogRepository = (*fakeLogRepo)(nil)

func (f *fakeLogRepo) Start(_ context.Context, credID uuid.UUID, started time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.Must(uuid.NewV4())
	f.entries = append(f.entries, model.SyncLogEntry{ID: id, CredentialID: credID, SyncStarted: started, Status: model.SyncRunning})
	return id, nil
}

func (f *fakeLogRepo) Close(ctx context.Context, logID, credID uuid.UUID, status model.SyncStatus,
	completed time.Time, records int, errMsg *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return f.closeErr
	}
	for i := range f.entries {
		e := &f.entries[i]
		if e.ID == logID && e.Status == model.SyncRunning {
			e.Status, e.SyncCompleted, e.RecordsImported, e.ErrorMessage = status, &completed, records, errMsg
			f.touch(credID, status, completed)
			return nil
		}
	}
	return errs.ErrNotFound
}

func (f *fakeLogRepo) Record(_ context.Context, credID uuid.UUID, status model.SyncStatus,
	at time.Time, records int, errMsg *string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.Must(uuid.NewV4())
	f.entries = append(f.entries, model.SyncLogEntry{
		ID: id, CredentialID: credID, SyncStarted: at, SyncCompleted: &at,
		Status: status, RecordsImported: records, ErrorMessage: errMsg,
	})
	f.touch(credID, status, at)
	return id, nil
}

func (f *fakeLogRepo) touch(credID uuid.UUID, status model.SyncStatus, at time.Time) {
	f.creds.mu.Lock()
	defer f.creds.mu.Unlock()
	if c, ok := f.creds.rows[credID]; ok {
		st := status
		c.LastSync, c.LastSyncStatus = &at, &st
	}
}

func (f *fakeLogRepo) History(_ context.Context, credID uuid.UUID, limit int) ([]model.SyncLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	var out []model.SyncLogEntry
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if f.entries[i].CredentialID == credID {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

func (f *fakeLogRepo) AllHistory(_ context.Context, limit int) ([]model.SyncLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	var out []model.SyncLogEntry
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.entries[i])
	}
	return out, nil
}

func (f *fakeLogRepo) snapshot() []model.SyncLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SyncLogEntry(nil), f.entries...)
}

// fakeLimiter blocks after maxFails failures.
type fakeLimiter struct {
	wait     time.Duration
	fails    int
	maxFails int
	resets   int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (f *fakeLimiter) Check(context.Context, limiter.Key) (time.Duration, error) { return f.wait, nil }

func (f *fakeLimiter) Fail(context.Context, limiter.Key) (time.Duration, error) {
	f.fails++
	if f.maxFails > 0 && f.fails >= f.maxFails {
		f.wait = time.Minute
		return f.wait, nil
	}
	return 0, nil
}

func (f *fakeLimiter) Reset(context.Context, limiter.Key) error {
	f.resets++
	f.fails, f.wait = 0, 0
	return nil
}
