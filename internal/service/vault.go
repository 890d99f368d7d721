// Package service contains the vault, credential, sync and scheduling services.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/portal-keeper/internal/crypto"
	"github.com/and161185/portal-keeper/internal/errs"
	"github.com/and161185/portal-keeper/internal/limiter"
	"github.com/and161185/portal-keeper/internal/model"
	"github.com/and161185/portal-keeper/internal/repository"
	"github.com/and161185/portal-keeper/internal/vault"
)

// MinPasswordLen is the shortest accepted master password.
const MinPasswordLen = 8

// limiterSubject is the limiter key subject for unlock attempts; there is a single vault.
const limiterSubject = "vault"

// VaultService manages the master password and the live session.
type VaultService struct {
	repo       repository.VaultRepository
	keys       *vault.Keyring
	lim        limiter.Limiter
	iterations int
	log        *zap.Logger
}

// NewVaultService constructs VaultService. iterations <= 0 selects the default PBKDF2 cost.
func NewVaultService(repo repository.VaultRepository, keys *vault.Keyring, lim limiter.Limiter, iterations int, log *zap.Logger) *VaultService {
	if iterations <= 0 {
		iterations = pkgcrypto.DefaultIterations
	}
	if lim == nil {
		lim = limiter.Nop{}
	}
	return &VaultService{
		repo: repo, keys: keys, lim: lim, iterations: iterations,
		log: log.With(zap.String("component", "vault")),
	}
}

// IsInitialized reports whether a master password has been set.
func (s *VaultService) IsInitialized(ctx context.Context) (bool, error) {
	return s.repo.Exists(ctx)
}

// Setup creates the master record and unlocks the vault.
func (s *VaultService) Setup(ctx context.Context, password string) (*vault.Session, error) {
	if len(password) < MinPasswordLen {
		return nil, errs.ErrWeakPassword
	}
	ok, err := s.repo.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, errs.ErrAlreadyInitialized
	}
	salt, err := pkgcrypto.RandBytes(pkgcrypto.SaltLen)
	if err != nil {
		return nil, err
	}
	rec := &model.VaultRecord{
		PasswordHash: pkgcrypto.HashPassword([]byte(password), salt, s.iterations),
		Salt:         salt,
		Iterations:   s.iterations,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return nil, errs.ErrAlreadyInitialized
		}
		return nil, err
	}
	sess := s.keys.Install(pkgcrypto.DeriveKey([]byte(password), salt, s.iterations))
	s.log.Info("vault initialized", zap.Stringer("session", sess.ID()))
	return sess, nil
}

// Unlock verifies password and installs a new session. On mismatch the
// current session, if any, is left alone.
func (s *VaultService) Unlock(ctx context.Context, password, remote string) (*vault.Session, error) {
	key := limiter.KeyFor(limiterSubject, remote)
	wait, err := s.lim.Check(ctx, key)
	if err != nil {
		return nil, err
	}
	if wait > 0 {
		return nil, fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, wait.Round(time.Second))
	}

	rec, err := s.repo.Get(ctx)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrNotInitialized
		}
		return nil, err
	}

	if !pkgcrypto.VerifyPassword([]byte(password), rec.Salt, rec.Iterations, rec.PasswordHash) {
		blocked, ferr := s.lim.Fail(ctx, key)
		if ferr != nil {
			s.log.Warn("limiter failure not recorded", zap.Error(ferr))
		}
		if blocked > 0 {
			s.log.Warn("unlock blocked", zap.Duration("for", blocked))
			return nil, fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, blocked)
		}
		return nil, errs.ErrInvalidPassword
	}

	if err := s.lim.Reset(ctx, key); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}
	sess := s.keys.Install(pkgcrypto.DeriveKey([]byte(password), rec.Salt, rec.Iterations))
	s.log.Info("vault unlocked", zap.Stringer("session", sess.ID()))
	return sess, nil
}

// Lock revokes the live session and wipes its key. Idempotent.
func (s *VaultService) Lock() {
	s.keys.Clear()
	s.log.Info("vault locked")
}

// IsUnlocked reports whether a live session exists.
func (s *VaultService) IsUnlocked() bool { return s.keys.Unlocked() }

// Session returns the live session for id, or errs.ErrVaultLocked.
func (s *VaultService) Session(id uuid.UUID) (*vault.Session, error) {
	return s.keys.Lookup(id)
}

// Current returns the live session or nil.
func (s *VaultService) Current() *vault.Session { return s.keys.Current() }

// Status returns {initialized, unlocked}.
func (s *VaultService) Status(ctx context.Context) (model.VaultStatus, error) {
	ok, err := s.repo.Exists(ctx)
	if err != nil {
		return model.VaultStatus{}, err
	}
	return model.VaultStatus{Initialized: ok, Unlocked: ok && s.keys.Unlocked()}, nil
}

// Reset deletes the master record with every credential and sync log, then locks.
func (s *VaultService) Reset(ctx context.Context) error {
	if err := s.repo.Reset(ctx); err != nil {
		return err
	}
	s.keys.Clear()
	s.log.Warn("vault reset")
	return nil
}
