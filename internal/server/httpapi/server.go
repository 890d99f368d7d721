// Package httpapi exposes the vault, credential and sync services over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/portal-keeper/internal/model"
	"github.com/and161185/portal-keeper/internal/vault"
)

// VaultService is the vault surface the API needs.
type VaultService interface {
	Status(ctx context.Context) (model.VaultStatus, error)
	Setup(ctx context.Context, password string) (*vault.Session, error)
	Unlock(ctx context.Context, password, remote string) (*vault.Session, error)
	Lock()
	Reset(ctx context.Context) error
	Session(id uuid.UUID) (*vault.Session, error)
}

// CredentialService is the credential surface the API needs.
type CredentialService interface {
	Add(ctx context.Context, sess *vault.Session, in model.CredentialInput) (uuid.UUID, error)
	List(ctx context.Context) ([]model.CredentialSummary, error)
	Get(ctx context.Context, sess *vault.Session, id uuid.UUID) (*model.DecryptedCredential, error)
	Update(ctx context.Context, sess *vault.Session, id uuid.UUID, p model.CredentialPatch) error
	Delete(ctx context.Context, id uuid.UUID) error
	History(ctx context.Context, id uuid.UUID, limit int) ([]model.SyncLogEntry, error)
	AllHistory(ctx context.Context, limit int) ([]model.SyncLogEntry, error)
}

// SyncService runs and inspects syncs.
type SyncService interface {
	Sync(ctx context.Context, sess *vault.Session, id uuid.UUID) (*model.SyncOutcome, error)
	NeedsAutoSync(ctx context.Context, id uuid.UUID) (bool, error)
}

// Server wires services into HTTP handlers.
type Server struct {
	vault VaultService
	creds CredentialService
	sync  SyncService
	token tokens
	log   *zap.Logger
}

// New constructs the API. Tokens are signed with signKey and live for ttl or
// until the vault session they name ends, whichever is first.
func New(v VaultService, c CredentialService, s SyncService, signKey []byte, ttl time.Duration, log *zap.Logger) *Server {
	return &Server{
		vault: v, creds: c, sync: s,
		token: tokens{key: signKey, ttl: ttl, now: time.Now},
		log:   log.With(zap.String("component", "http")),
	}
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Recover(s.log))
	r.Use(Logging(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/vault", func(r chi.Router) {
			r.Get("/status", s.vaultStatus)
			r.Post("/setup", s.vaultSetup)
			r.Post("/unlock", s.vaultUnlock)
			r.Group(func(r chi.Router) {
				r.Use(s.authenticate)
				r.Post("/lock", s.vaultLock)
				r.Post("/reset", s.vaultReset)
			})
		})

		r.Route("/portals", func(r chi.Router) {
			r.Get("/sync-history", s.allHistory)
			r.Route("/credentials", func(r chi.Router) {
				r.Get("/", s.listCredentials)
				r.With(s.authenticate).Post("/", s.addCredential)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/sync-history", s.history)
					r.Get("/needs-auto-sync", s.needsAutoSync)
					r.Group(func(r chi.Router) {
						r.Use(s.authenticate)
						r.Get("/", s.getCredential)
						r.Put("/", s.updateCredential)
						r.Delete("/", s.deleteCredential)
						r.Post("/sync", s.syncCredential)
					})
				})
			})
		})
	})
	return r
}
