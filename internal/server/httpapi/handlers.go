package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/portal-keeper/internal/errs"
	"github.com/and161185/portal-keeper/internal/model"
	"github.com/and161185/portal-keeper/internal/vault"
)

// resetConfirmation must be sent verbatim to reset the vault.
const resetConfirmation = "RESET"

// maxBody caps JSON request bodies.
const maxBody = 1 << 20

type passwordRequest struct {
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Configf(errs.ErrValidation, fmt.Sprintf("bad request body: %v", err))
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, errs.Configf(errs.ErrValidation, "bad credential id")
	}
	return id, nil
}

func queryLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errs.Configf(errs.ErrValidation, "limit must be a non-negative integer")
	}
	return n, nil
}

// --- Vault ---

func (s *Server) vaultStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.vault.Status(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) vaultSetup(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.vault.Setup(r.Context(), req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeToken(w, r, http.StatusCreated, sess)
}

func (s *Server) vaultUnlock(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.vault.Unlock(r.Context(), req.Password, r.RemoteAddr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeToken(w, r, http.StatusOK, sess)
}

func (s *Server) writeToken(w http.ResponseWriter, r *http.Request, code int, sess *vault.Session) {
	tok, exp, err := s.token.issue(sess.ID())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, code, tokenResponse{Token: tok, ExpiresAt: exp.UTC()})
}

func (s *Server) vaultLock(w http.ResponseWriter, _ *http.Request) {
	s.vault.Lock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) vaultReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm string `json:"confirm"`
	}
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Confirm != resetConfirmation {
		s.fail(w, r, errs.Configf(errs.ErrValidation, `confirm must be "RESET"`))
		return
	}
	if err := s.vault.Reset(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Warn("vault reset via api", zap.String("peer", r.RemoteAddr))
	w.WriteHeader(http.StatusNoContent)
}

// --- Credentials ---

func (s *Server) listCredentials(w http.ResponseWriter, r *http.Request) {
	list, err := s.creds.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.CredentialSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) addCredential(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromCtx(r.Context())
	var in model.CredentialInput
	if err := decode(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.creds.Add(r.Context(), sess, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uuid.UUID{"id": id})
}

func (s *Server) getCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sess, _ := SessionFromCtx(r.Context())
	c, err := s.creds.Get(r.Context(), sess, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) updateCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var p model.CredentialPatch
	if err := decode(w, r, &p); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, _ := SessionFromCtx(r.Context())
	if err := s.creds.Update(r.Context(), sess, id, p); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.creds.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Sync ---

func (s *Server) syncCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sess, _ := SessionFromCtx(r.Context())
	out, err := s.sync.Sync(r.Context(), sess, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) needsAutoSync(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok, err := s.sync.NeedsAutoSync(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"needs_auto_sync": ok})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	h, err := s.creds.History(r.Context(), id, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeHistory(w, h)
}

func (s *Server) allHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	h, err := s.creds.AllHistory(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeHistory(w, h)
}

func writeHistory(w http.ResponseWriter, h []model.SyncLogEntry) {
	if h == nil {
		h = []model.SyncLogEntry{}
	}
	writeJSON(w, http.StatusOK, h)
}
