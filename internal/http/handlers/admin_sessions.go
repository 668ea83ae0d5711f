package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/fieldhand/internal/session"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

type sessionStore interface {
	Get(ctx context.Context, phone string) (*session.PendingConfirmation, error)
	Delete(ctx context.Context, phone string) (bool, error)
	GetRegistration(ctx context.Context, phone string) (*session.PendingRegistration, error)
	DeleteRegistration(ctx context.Context, phone string) (bool, error)
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, phone string) error
}

// AdminSessionsHandler exposes the open dialog for one phone.
type AdminSessionsHandler struct {
	store     sessionStore
	locker    session.Locker
	directory cacheInvalidator
	logger    *logging.Logger
}

func NewAdminSessionsHandler(store sessionStore, locker session.Locker, directory cacheInvalidator, logger *logging.Logger) *AdminSessionsHandler {
	if store == nil {
		panic("handlers: session store cannot be nil")
	}
	if locker == nil {
		locker = session.NewLocalLocker()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminSessionsHandler{store: store, locker: locker, directory: directory, logger: logger}
}

// SessionResponse is the dialog state for a phone. Both parts may be null.
type SessionResponse struct {
	Phone        string                       `json:"phone"`
	Continuation *session.PendingConfirmation `json:"continuation"`
	Registration *session.PendingRegistration `json:"registration"`
}

// GetSession handles GET /admin/sessions/{phone}.
func (h *AdminSessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	phone := normalizePhone(chi.URLParam(r, "phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}
	pending, err := h.store.Get(r.Context(), phone)
	if err != nil {
		h.logger.Error("admin: load continuation failed", "phone", phone, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load continuation")
		return
	}
	reg, err := h.store.GetRegistration(r.Context(), phone)
	if err != nil {
		h.logger.Error("admin: load registration failed", "phone", phone, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load registration")
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Phone: phone, Continuation: pending, Registration: reg})
}

// ResetResponse says what DELETE removed.
type ResetResponse struct {
	Phone               string `json:"phone"`
	ContinuationCleared bool   `json:"continuation_cleared"`
	RegistrationCleared bool   `json:"registration_cleared"`
	IdentityInvalidated bool   `json:"identity_invalidated"`
}

// ResetSession handles DELETE /admin/sessions/{phone}. It takes the phone
// lock so it cannot interleave with a message being processed.
func (h *AdminSessionsHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	phone := normalizePhone(chi.URLParam(r, "phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}
	unlock, err := h.locker.Lock(r.Context(), phone)
	if err != nil {
		writeError(w, http.StatusConflict, "phone is busy, try again")
		return
	}
	defer unlock()

	resp := ResetResponse{Phone: phone}
	if resp.ContinuationCleared, err = h.store.Delete(r.Context(), phone); err != nil {
		h.logger.Error("admin: clear continuation failed", "phone", phone, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear continuation")
		return
	}
	if resp.RegistrationCleared, err = h.store.DeleteRegistration(r.Context(), phone); err != nil {
		h.logger.Error("admin: clear registration failed", "phone", phone, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear registration")
		return
	}
	if h.directory != nil {
		if err := h.directory.Invalidate(r.Context(), phone); err != nil {
			h.logger.Warn("admin: identity cache not invalidated", "phone", phone, "error", err)
		} else {
			resp.IdentityInvalidated = true
		}
	}
	h.logger.Info("admin: session reset", "phone", phone,
		"continuation", resp.ContinuationCleared, "registration", resp.RegistrationCleared)
	writeJSON(w, http.StatusOK, resp)
}
