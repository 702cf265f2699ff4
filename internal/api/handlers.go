package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ruslano69/xzaccess/internal/access"
)

type handler struct {
	mgr *access.Manager
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Readyz reports ready only while the manager is started.
func (h *handler) Readyz(w http.ResponseWriter, _ *http.Request) {
	if h.mgr.IsStopped() {
		writeError(w, http.StatusServiceUnavailable, "access manager is stopped")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) ListResources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"resources": h.mgr.ProtectedResources(),
	})
}

type registerRequest struct {
	DN    string `json:"dn"`
	Flush bool   `json:"flush"`
}

func (h *handler) RegisterResource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DN == "" {
		writeError(w, http.StatusBadRequest, "dn is required")
		return
	}
	h.mgr.Register(r.Context(), name, req.DN, req.Flush)
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered", "name": name})
}

func (h *handler) DeregisterResource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	flush, _ := strconv.ParseBool(r.URL.Query().Get("flush"))
	h.mgr.Deregister(r.Context(), name, flush)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deregistered", "name": name})
}

func (h *handler) UserResources(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if h.mgr.IsStopped() {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"resources": []string{},
			"error":     "access manager is stopped",
		})
		return
	}

	names, err := h.mgr.AccessibleResources(r.Context(), user)
	if err != nil {
		if errors.Is(err, access.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusBadGateway, "user directory unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "resources": names})
}

func (h *handler) UserMayAccess(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	name := chi.URLParam(r, "name")

	allowed, err := h.mgr.MayAccess(r.Context(), user, name)
	if err != nil {
		writeError(w, http.StatusBadGateway, "user directory unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":     user,
		"resource": name,
		"allowed":  allowed,
	})
}

func (h *handler) FlushCache(w http.ResponseWriter, r *http.Request) {
	h.mgr.FlushUserCache(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (h *handler) StartManager(w http.ResponseWriter, _ *http.Request) {
	if err := h.mgr.Start(); err != nil {
		if errors.Is(err, access.ErrAlreadyStarted) {
			writeError(w, http.StatusConflict, "already started")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *handler) StopManager(w http.ResponseWriter, _ *http.Request) {
	h.mgr.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *handler) RestartManager(w http.ResponseWriter, _ *http.Request) {
	if err := h.mgr.Restart(); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
}

type authenticateRequest struct {
	AuthID      string `json:"auth_id"`
	Credentials string `json:"credentials"`
}

func (h *handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, diag := h.mgr.AuthenticateClient(r.Context(), req.AuthID, req.Credentials)
	writeJSON(w, http.StatusOK, map[string]string{
		"result":     result.String(),
		"diagnostic": diag,
	})
}
