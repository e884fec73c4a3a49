package user

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/dkostenko/carnet/internal/apperr"
	"github.com/dkostenko/carnet/internal/authz"
)

// maxAvatarSize caps avatar uploads at 5 MiB.
const maxAvatarSize = 5 << 20

// Handler exposes HTTP endpoints for account operations.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// SignupRequest request body for the signup endpoint.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid signup payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	u, err := h.svc.Signup(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.writeError(w, "signup failed", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"id":      u.ID,
		"message": "user created, please verify your email",
	})
}

// LoginRequest login payload.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	token, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, "login failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
		return
	}
	if err := h.svc.VerifyEmail(r.Context(), token); err != nil {
		h.writeError(w, "email verification failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "email verified successfully"})
}

// Me returns the authenticated caller's cached profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	snap, ok := authz.SnapshotFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	snap, ok := authz.SnapshotFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
		return
	}
	if err := r.ParseMultipartForm(maxAvatarSize); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart payload"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file part is required"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	url, err := h.svc.UploadAvatar(r.Context(), snap.ID, snap.Email, file, contentType)
	if err != nil {
		h.writeError(w, "avatar upload failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"avatar_url": url})
}

// SetRoleRequest payload for the admin-only role assignment endpoint.
type SetRoleRequest struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req SetRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if err := h.svc.SetRole(r.Context(), req.UserID, req.Role); err != nil {
		h.writeError(w, "role assignment failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"message": "role updated for user " + strconv.FormatInt(req.UserID, 10),
	})
}

// ResetRequestRequest payload asking for a password-reset email.
type ResetRequestRequest struct {
	Email string `json:"email"`
}

func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email is required"})
		return
	}
	if err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.writeError(w, "password reset request failed", err)
		return
	}
	// same response whether or not the account exists
	w.WriteHeader(http.StatusNoContent)
}

// ResetPasswordRequest payload consuming a reset token.
type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.writeError(w, "password reset failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *Handler) writeError(w http.ResponseWriter, logMsg string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warnw(logMsg, "err", err)
	} else {
		h.logger.Debugw(logMsg, "err", err)
	}
	h.writeJSON(w, status, map[string]string{"error": apperr.Message(err)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
