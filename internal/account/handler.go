package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/claudiohpo/Relatorio-KM/internal/notify"
	"github.com/claudiohpo/Relatorio-KM/internal/tenant"
)

// Handler exposes the account action endpoint: a single POST route whose
// JSON body carries an `action` field, dispatched through a lookup table
// of typed request variants. The legacy per-action subroutes
// (/api/users/register etc.) are mounted as aliases.
type Handler struct {
	svc    *AccountService
	logger *zap.SugaredLogger
}

func NewHandler(db *sqlx.DB, notifier notify.Notifier, logger *zap.SugaredLogger, baseURL string) *Handler {
	return &Handler{svc: NewAccountService(db, notifier, logger, baseURL), logger: logger}
}

type actionFunc func(h *Handler, w http.ResponseWriter, r *http.Request, raw []byte)

var actions = map[string]actionFunc{
	"register":           (*Handler).register,
	"login":              (*Handler).login,
	"recover":            (*Handler).recover,
	"verify-reset-token": (*Handler).verifyResetToken,
	"reset-password":     (*Handler).resetPassword,
	"change-password":    (*Handler).changePassword,
}

// Actions handles POST /api/users.
func (h *Handler) Actions(w http.ResponseWriter, r *http.Request) {
	raw, env, ok := h.readEnvelope(w, r)
	if !ok {
		return
	}
	if env.Action == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "field 'action' is required"})
		return
	}
	h.dispatch(w, r, env.Action, raw)
}

// Action returns a handler for the per-action alias routes.
func (h *Handler) Action(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _, ok := h.readEnvelope(w, r)
		if !ok {
			return
		}
		h.dispatch(w, r, name, raw)
	}
}

type actionEnvelope struct {
	Action string `json:"action"`
}

func (h *Handler) readEnvelope(w http.ResponseWriter, r *http.Request) ([]byte, actionEnvelope, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read request body"})
		return nil, actionEnvelope{}, false
	}
	var env actionEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be valid JSON"})
			return nil, actionEnvelope{}, false
		}
	}
	return raw, env, true
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, action string, raw []byte) {
	fn, ok := actions[action]
	if !ok {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown action"})
		return
	}
	fn(h, w, r, raw)
}

func decode[T any](raw []byte) (T, error) {
	var req T
	if len(raw) == 0 {
		return req, errors.New("empty body")
	}
	err := json.Unmarshal(raw, &req)
	return req, err
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request, raw []byte) {
	req, err := decode[registerRequest](raw)
	if err != nil {
		h.writeError(w, ErrInvalidInput)
		return
	}
	if err := h.svc.Register(r.Context(), req.Username, req.Email, req.Password); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"message": "user created"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, raw []byte) {
	req, err := decode[loginRequest](raw)
	if err != nil {
		h.writeError(w, ErrInvalidCredentials)
		return
	}
	if err := h.svc.Login(r.Context(), req.Username, req.Password); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "OK"})
}

type recoverRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (h *Handler) recover(w http.ResponseWriter, r *http.Request, raw []byte) {
	req, err := decode[recoverRequest](raw)
	if err != nil {
		h.writeError(w, ErrInvalidInput)
		return
	}
	if err := h.svc.Recover(r.Context(), req.Username, req.Email); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"message": "if the data matches an account, a reset link was sent to the registered email",
	})
}

type verifyResetTokenRequest struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

func (h *Handler) verifyResetToken(w http.ResponseWriter, r *http.Request, raw []byte) {
	req, err := decode[verifyResetTokenRequest](raw)
	if err != nil {
		h.writeError(w, ErrTokenInvalid)
		return
	}
	if err := h.svc.VerifyResetToken(r.Context(), req.Username, req.Token); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "reset token valid"})
}

type resetPasswordRequest struct {
	Username    string `json:"username"`
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request, raw []byte) {
	req, err := decode[resetPasswordRequest](raw)
	if err != nil {
		h.writeError(w, ErrTokenInvalid)
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Username, req.Token, req.NewPassword); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

type changePasswordRequest struct {
	Username        string `json:"username"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request, raw []byte) {
	req, err := decode[changePasswordRequest](raw)
	if err != nil {
		h.writeError(w, ErrInvalidInput)
		return
	}
	caller := tenant.Identify(r, "")
	if caller == "" {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": tenant.ErrUnauthenticated.Error()})
		return
	}
	if err := h.svc.ChangePassword(r.Context(), caller, req.Username, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var locked *LockedError
	switch {
	case errors.As(err, &locked):
		secs := int(time.Until(locked.Until).Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		h.writeJSON(w, http.StatusLocked, map[string]any{
			"error":       fmt.Sprintf("account temporarily locked; try again in %d seconds", secs),
			"lockedUntil": locked.Until.Format(time.RFC3339),
		})
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrPasswordTooShort),
		errors.Is(err, ErrPasswordUnchanged),
		errors.Is(err, ErrTokenInvalid):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrUsernameTaken), errors.Is(err, ErrEmailTaken):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrInvalidCredentials):
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrForbidden):
		h.writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrAccountMismatch):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		h.logger.Errorw("account action failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
