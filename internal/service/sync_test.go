package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/portal-keeper/internal/connector"
	"github.com/and161185/portal-keeper/internal/errs"
	"github.com/and161185/portal-keeper/internal/model"
	"github.com/and161185/portal-keeper/internal/vault"
)

type syncHarness struct {
	store *CredentialStore
	creds *fakeCredRepo
	logs  *fakeLogRepo
	reg   *connector.Registry
	orch  *SyncOrchestrator
	keys  *vault.Keyring
	sess  *vault.Session
}

func newSyncHarness(t *testing.T) *syncHarness {
	t.Helper()
	store, creds, logs := newStore()
	keys, sess := newSession(t)
	reg := connector.NewRegistry(connector.Deps{Log: testLog})
	return &syncHarness{
		store: store, creds: creds, logs: logs, reg: reg, keys: keys, sess: sess,
		orch: NewSyncOrchestrator(store, reg, testLog),
	}
}

func (h *syncHarness) add(t *testing.T, portalType string) uuid.UUID {
	t.Helper()
	in := validInput()
	in.PortalType = portalType
	id, err := h.store.Add(context.Background(), h.sess, in)
	require.NoError(t, err)
	return id
}

func (h *syncHarness) register(name string, fn connector.Func) {
	h.reg.Register(name, func(connector.Deps) (connector.Connector, error) { return fn, nil })
}

func TestSync_Success(t *testing.T) {
	h := newSyncHarness(t)
	var seen model.DecryptedCredential
	h.register("fake", func(_ context.Context, c model.DecryptedCredential) (model.SyncResult, error) {
		seen = c
		return model.SyncResult{RecordsImported: 7, Summary: model.SyncSummary{
			Connector: "Fake", Status: model.StatusPartialSuccess,
			Details: map[string]int{"labResults": 7}, Errors: []string{"Imaging: gone"},
		}}, nil
	})
	id := h.add(t, "fake")

	out, err := h.orch.Sync(context.Background(), h.sess, id)
	require.NoError(t, err)
	assert.Equal(t, 7, out.RecordsImported)
	assert.Equal(t, model.StatusPartialSuccess, out.Summary.Status)
	assert.Equal(t, "s3cret!", seen.Password)

	entries := h.logs.snapshot()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, out.SyncLogID, e.ID)
	assert.Equal(t, model.SyncSuccess, e.Status)
	assert.Equal(t, 7, e.RecordsImported)
	assert.Nil(t, e.ErrorMessage)
	require.NotNil(t, e.SyncCompleted)
	assert.False(t, e.SyncCompleted.Before(e.SyncStarted))

	row := h.creds.rows[id]
	require.NotNil(t, row.LastSyncStatus)
	assert.Equal(t, model.SyncSuccess, *row.LastSyncStatus)
}

func TestSync_MFAIsSuccess(t *testing.T) {
	h := newSyncHarness(t)
	h.register("fake", func(context.Context, model.DecryptedCredential) (model.SyncResult, error) {
		return model.SyncResult{Summary: model.SyncSummary{Status: model.StatusMFARequired, Remediation: []string{"enter code"}}}, nil
	})
	id := h.add(t, "fake")

	out, err := h.orch.Sync(context.Background(), h.sess, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusMFARequired, out.Summary.Status)
	assert.Equal(t, model.SyncSuccess, h.logs.snapshot()[0].Status)
}

func TestSync_ConnectorFailure(t *testing.T) {
	h := newSyncHarness(t)
	h.register("fake", func(context.Context, model.DecryptedCredential) (model.SyncResult, error) {
		return model.SyncResult{}, connector.ErrLoginRejected
	})
	id := h.add(t, "fake")

	_, err := h.orch.Sync(context.Background(), h.sess, id)
	require.ErrorIs(t, err, connector.ErrLoginRejected)

	e := h.logs.snapshot()[0]
	assert.Equal(t, model.SyncFailed, e.Status)
	require.NotNil(t, e.ErrorMessage)
	assert.Equal(t, connector.ErrLoginRejected.Error(), *e.ErrorMessage)
	assert.Equal(t, model.SyncFailed, *h.creds.rows[id].LastSyncStatus)
}

func TestSync_PanicIsRecovered(t *testing.T) {
	h := newSyncHarness(t)
	h.register("fake", func(context.Context, model.DecryptedCredential) (model.SyncResult, error) {
		panic("nil map")
	})
	id := h.add(t, "fake")

	_, err := h.orch.Sync(context.Background(), h.sess, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connector panic: nil map")
	assert.Equal(t, model.SyncFailed, h.logs.snapshot()[0].Status)
}

func TestSync_UnknownPortalType(t *testing.T) {
	h := newSyncHarness(t)
	id := h.add(t, "mystery")

	_, err := h.orch.Sync(context.Background(), h.sess, id)
	require.ErrorIs(t, err, errs.ErrUnknownPortalType)
	var cfg *errs.ConfigurationError
	assert.True(t, errors.As(err, &cfg))

	entries := h.logs.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, model.SyncFailed, entries[0].Status)
}

func TestSync_NoLogWithoutCredential(t *testing.T) {
	h := newSyncHarness(t)
	id := h.add(t, "fake")

	_, err := h.orch.Sync(context.Background(), h.sess, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrNotFound)

	h.keys.Clear()
	_, err = h.orch.Sync(context.Background(), h.sess, id)
	require.ErrorIs(t, err, errs.ErrVaultLocked)
	assert.Empty(t, h.logs.snapshot())
}

func TestSync_CancelledCallerStillClosesLog(t *testing.T) {
	h := newSyncHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.register("fake", func(ctx context.Context, _ model.DecryptedCredential) (model.SyncResult, error) {
		cancel()
		return model.SyncResult{}, ctx.Err()
	})
	id := h.add(t, "fake")

	_, err := h.orch.Sync(ctx, h.sess, id)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.SyncFailed, h.logs.snapshot()[0].Status)
}

func TestSync_CompletedClampedToStart(t *testing.T) {
	h := newSyncHarness(t)
	h.register("fake", func(context.Context, model.DecryptedCredential) (model.SyncResult, error) {
		return model.SyncResult{}, nil
	})
	id := h.add(t, "fake")

	base := time.Date(2026, 3, 8, 2, 0, 0, 0, time.UTC)
	calls := 0
	h.orch.now = func() time.Time {
		calls++
		return base.Add(-time.Duration(calls) * time.Minute) // clock stepping backwards
	}
	_, err := h.orch.Sync(context.Background(), h.sess, id)
	require.NoError(t, err)

	e := h.logs.snapshot()[0]
	assert.Equal(t, e.SyncStarted, *e.SyncCompleted)
}

func TestSync_SerializesPerCredential(t *testing.T) {
	h := newSyncHarness(t)
	var inFlight, peak atomic.Int32
	h.register("fake", func(context.Context, model.DecryptedCredential) (model.SyncResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return model.SyncResult{RecordsImported: 1}, nil
	})
	id := h.add(t, "fake")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Sync(context.Background(), h.sess, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
	assert.Len(t, h.logs.snapshot(), 4)
}

func TestNeedsAutoSync(t *testing.T) {
	h := newSyncHarness(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	h.orch.now = func() time.Time { return now }

	id := h.add(t, "fake")
	ok, err := h.orch.NeedsAutoSync(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "auto sync off")

	on := true
	require.NoError(t, h.store.Update(ctx, h.sess, id, model.CredentialPatch{AutoSyncOnOpen: &on}))
	ok, err = h.orch.NeedsAutoSync(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok, "never synced")

	recent := now.Add(-2 * time.Hour)
	h.creds.rows[id].LastSync = &recent
	ok, err = h.orch.NeedsAutoSync(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	stale := now.Add(-25 * time.Hour)
	h.creds.rows[id].LastSync = &stale
	ok, err = h.orch.NeedsAutoSync(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = h.orch.NeedsAutoSync(ctx, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrNotFound)
}
