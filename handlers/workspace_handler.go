package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/workspace"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

// WorkspaceContextKey holds the *workspace.Workspace resolved from the URL.
const WorkspaceContextKey ContextKey = "workspace"

type WorkspaceHandler struct {
	Manager *workspace.Manager
}

func NewWorkspaceHandler(m *workspace.Manager) *WorkspaceHandler {
	return &WorkspaceHandler{Manager: m}
}

// WorkspaceContext opens the {ws} workspace and stores it in the request context.
func (h *WorkspaceHandler) WorkspaceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := h.Manager.Open(chi.URLParam(r, "ws"))
		if err != nil {
			writeServiceError(w, "open workspace", err)
			return
		}
		ctx := context.WithValue(r.Context(), WorkspaceContextKey, ws)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func workspaceFrom(r *http.Request) *workspace.Workspace {
	ws, _ := r.Context().Value(WorkspaceContextKey).(*workspace.Workspace)
	return ws
}

func (h *WorkspaceHandler) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	slugs, err := h.Manager.List()
	if err != nil {
		writeServiceError(w, "list workspaces", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"workspaces": slugs})
}

type createWorkspaceRequest struct {
	Slug string `json:"slug"`
}

func (h *WorkspaceHandler) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}
	ws, err := h.Manager.Create(req.Slug)
	if err != nil {
		writeServiceError(w, "create workspace", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"slug":     ws.Slug,
		"settings": ws.Settings(),
	})
}

func (h *WorkspaceHandler) DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := h.Manager.Delete(workspaceFrom(r).Slug); err != nil {
		writeServiceError(w, "delete workspace", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WorkspaceHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, workspaceFrom(r).Settings())
}

func (h *WorkspaceHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	var s workspace.Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}
	if err := ws.UpdateSettings(s); err != nil {
		writeServiceError(w, "update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, ws.Settings())
}
