package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/portal-keeper/internal/connector"
	"github.com/and161185/portal-keeper/internal/model"
	"github.com/and161185/portal-keeper/internal/vault"
)

// AutoSyncInterval is how stale a credential may get before auto-sync on open fires.
const AutoSyncInterval = 24 * time.Hour

// SyncOrchestrator runs connectors and brackets every attempt with one sync log entry.
type SyncOrchestrator struct {
	store *CredentialStore
	reg   *connector.Registry
	log   *zap.Logger
	now   func() time.Time

	locks sync.Map // uuid.UUID -> *sync.Mutex
}

// NewSyncOrchestrator constructs SyncOrchestrator.
func NewSyncOrchestrator(store *CredentialStore, reg *connector.Registry, log *zap.Logger) *SyncOrchestrator {
	return &SyncOrchestrator{store: store, reg: reg, log: log.With(zap.String("component", "sync")), now: time.Now}
}

func (o *SyncOrchestrator) lockFor(id uuid.UUID) *sync.Mutex {
	mu, _ := o.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Sync decrypts the credential, runs its connector and records the outcome.
// Attempts on the same credential are serialized.
func (o *SyncOrchestrator) Sync(ctx context.Context, sess *vault.Session, id uuid.UUID) (*model.SyncOutcome, error) {
	cred, err := o.store.Get(ctx, sess, id)
	if err != nil {
		return nil, err
	}

	mu := o.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	started := o.now().UTC()
	logID, err := o.store.StartSync(ctx, id, started)
	if err != nil {
		return nil, fmt.Errorf("start sync log: %w", err)
	}
	log := o.log.With(
		zap.Stringer("credential_id", id),
		zap.Stringer("sync_log_id", logID),
		zap.String("portal_type", cred.PortalType),
	)

	conn, err := o.reg.Lookup(cred.PortalType)
	if err != nil {
		return nil, o.fail(ctx, log, logID, id, started, err)
	}

	res, err := invoke(ctx, conn, *cred)
	if err != nil {
		return nil, o.fail(ctx, log, logID, id, started, err)
	}

	if err := o.close(ctx, logID, id, model.SyncSuccess, started, res.RecordsImported, nil); err != nil {
		return nil, fmt.Errorf("close sync log: %w", err)
	}
	log.Info("sync finished",
		zap.String("status", string(res.Summary.Status)),
		zap.Int("records", res.RecordsImported),
		zap.Int("section_errors", len(res.Summary.Errors)),
	)
	return &model.SyncOutcome{SyncLogID: logID, RecordsImported: res.RecordsImported, Summary: res.Summary}, nil
}

// fail closes the log as failed and returns cause wrapped.
func (o *SyncOrchestrator) fail(ctx context.Context, log *zap.Logger, logID, id uuid.UUID, started time.Time, cause error) error {
	msg := cause.Error()
	if err := o.close(ctx, logID, id, model.SyncFailed, started, 0, &msg); err != nil {
		log.Error("close failed sync log", zap.Error(err))
	}
	log.Warn("sync failed", zap.Error(cause))
	return fmt.Errorf("sync %s: %w", id, cause)
}

// close stamps completion no earlier than started and records the outcome.
func (o *SyncOrchestrator) close(ctx context.Context, logID, id uuid.UUID, status model.SyncStatus, started time.Time, records int, errMsg *string) error {
	completed := o.now().UTC()
	if completed.Before(started) {
		completed = started
	}
	_, err := o.store.RecordSyncOutcome(ctx, logID, id, status, completed, records, errMsg)
	return err
}

func invoke(ctx context.Context, c connector.Connector, cred model.DecryptedCredential) (res model.SyncResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("connector panic: %v", r)
		}
	}()
	return c.Sync(ctx, cred)
}

// NeedsAutoSync reports whether opening the credential should trigger a sync:
// auto sync is on and it was never synced or last synced over a day ago.
func (o *SyncOrchestrator) NeedsAutoSync(ctx context.Context, id uuid.UUID) (bool, error) {
	c, err := o.store.Stored(ctx, id)
	if err != nil {
		return false, err
	}
	if !c.AutoSyncOnOpen {
		return false, nil
	}
	return c.LastSync == nil || o.now().Sub(*c.LastSync) > AutoSyncInterval, nil
}
