package contact

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/dkostenko/carnet/internal/apperr"
	"github.com/dkostenko/carnet/internal/authz"
	"github.com/dkostenko/carnet/internal/contact/entity"
)

// Handler exposes HTTP endpoints for contact operations. Every route is
// mounted behind authentication, so the owner is always on the context.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Request is the body for create and update.
type Request struct {
	FirstName      string       `json:"first_name"`
	LastName       string       `json:"last_name"`
	Email          string       `json:"email"`
	Phone          string       `json:"phone"`
	Birthday       *entity.Date `json:"birthday"`
	AdditionalInfo *string      `json:"additional_info"`
}

func (req Request) input() Input {
	return Input{
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          req.Email,
		Phone:          req.Phone,
		Birthday:       req.Birthday,
		AdditionalInfo: req.AdditionalInfo,
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := authz.SnapshotFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid contact payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	c, err := h.svc.Create(r.Context(), req.input(), owner.ID)
	if err != nil {
		h.writeError(w, "create contact failed", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := authz.SnapshotFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	contacts, err := h.svc.List(r.Context(), owner.ID)
	if err != nil {
		h.writeError(w, "list contacts failed", err)
		return
	}
	if contacts == nil {
		contacts = []*entity.Contact{}
	}
	h.writeJSON(w, http.StatusOK, contacts)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := authz.SnapshotFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid contact id"})
		return
	}
	c, err := h.svc.Get(r.Context(), id, owner.ID)
	if err != nil {
		h.writeError(w, "get contact failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	owner, ok := authz.SnapshotFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid contact id"})
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid contact payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	c, err := h.svc.Update(r.Context(), id, req.input(), owner.ID)
	if err != nil {
		h.writeError(w, "update contact failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, ok := authz.SnapshotFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid contact id"})
		return
	}
	if err := h.svc.Delete(r.Context(), id, owner.ID); err != nil {
		h.writeError(w, "delete contact failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpcomingBirthdays(w http.ResponseWriter, r *http.Request) {
	owner, ok := authz.SnapshotFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	windowDays := DefaultBirthdayWindowDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid days parameter"})
			return
		}
		windowDays = n
	}
	contacts, err := h.svc.UpcomingBirthdays(r.Context(), owner.ID, windowDays)
	if err != nil {
		h.writeError(w, "upcoming birthdays failed", err)
		return
	}
	if contacts == nil {
		contacts = []*entity.Contact{}
	}
	h.writeJSON(w, http.StatusOK, contacts)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
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
