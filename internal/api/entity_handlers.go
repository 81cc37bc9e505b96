package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"splitsync/internal/database"
	"splitsync/internal/models"
	"splitsync/internal/service"
)

// ExpenseStore is the optimistic expense service behind the local API.
type ExpenseStore interface {
	Create(ctx context.Context, groupID string, payload *models.ExpensePayload) (*models.Expense, error)
	Update(ctx context.Context, id string, payload *models.ExpensePayload) (*models.Expense, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, groupID string) ([]*models.Expense, error)
	Refresh(ctx context.Context, groupID string) error
}

type GroupStore interface {
	Create(ctx context.Context, payload *models.GroupPayload) (*models.Group, error)
	Update(ctx context.Context, id string, payload *models.GroupPayload) (*models.Group, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Group, error)
	Refresh(ctx context.Context) error
}

type ProfileStore interface {
	Get(ctx context.Context) (*models.User, error)
	Update(ctx context.Context, payload *models.UserPayload) (*models.User, error)
}

// entityView adds the pending flag, which the models keep out of JSON.
type entityView struct {
	Data        any  `json:"data"`
	PendingSync bool `json:"pending_sync"`
}

func (s *HTTPServer) registerEntityRoutes(mux *http.ServeMux) {
	if s.deps.Groups != nil {
		mux.HandleFunc("GET /api/v1/groups", s.handleListGroups)
		mux.HandleFunc("POST /api/v1/groups", s.handleCreateGroup)
		mux.HandleFunc("PUT /api/v1/groups/{id}", s.handleUpdateGroup)
		mux.HandleFunc("DELETE /api/v1/groups/{id}", s.handleDeleteGroup)
	}
	if s.deps.Expenses != nil {
		mux.HandleFunc("GET /api/v1/groups/{id}/expenses", s.handleListExpenses)
		mux.HandleFunc("POST /api/v1/groups/{id}/expenses", s.handleCreateExpense)
		mux.HandleFunc("PUT /api/v1/expenses/{id}", s.handleUpdateExpense)
		mux.HandleFunc("DELETE /api/v1/expenses/{id}", s.handleDeleteExpense)
	}
	if s.deps.Profile != nil {
		mux.HandleFunc("GET /api/v1/profile", s.handleGetProfile)
		mux.HandleFunc("PUT /api/v1/profile", s.handleUpdateProfile)
	}
}

func (s *HTTPServer) handleListGroups(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		s.refresh(s.deps.Groups.Refresh(r.Context()), "groups")
	}
	groups, err := s.deps.Groups.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]entityView, 0, len(groups))
	for _, g := range groups {
		views = append(views, entityView{Data: g, PendingSync: g.PendingSync})
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": views})
}

func (s *HTTPServer) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var payload models.GroupPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	group, err := s.deps.Groups.Create(r.Context(), &payload)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entityView{Data: group, PendingSync: group.PendingSync})
}

func (s *HTTPServer) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var payload models.GroupPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	group, err := s.deps.Groups.Update(r.Context(), r.PathValue("id"), &payload)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entityView{Data: group, PendingSync: group.PendingSync})
}

func (s *HTTPServer) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Groups.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func (s *HTTPServer) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	if r.URL.Query().Get("refresh") == "true" {
		s.refresh(s.deps.Expenses.Refresh(r.Context(), groupID), "expenses")
	}
	expenses, err := s.deps.Expenses.List(r.Context(), groupID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]entityView, 0, len(expenses))
	for _, e := range expenses {
		views = append(views, entityView{Data: e, PendingSync: e.PendingSync})
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": views})
}

func (s *HTTPServer) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var payload models.ExpensePayload
	if !decodeBody(w, r, &payload) {
		return
	}
	expense, err := s.deps.Expenses.Create(r.Context(), r.PathValue("id"), &payload)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entityView{Data: expense, PendingSync: expense.PendingSync})
}

func (s *HTTPServer) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var payload models.ExpensePayload
	if !decodeBody(w, r, &payload) {
		return
	}
	expense, err := s.deps.Expenses.Update(r.Context(), r.PathValue("id"), &payload)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entityView{Data: expense, PendingSync: expense.PendingSync})
}

func (s *HTTPServer) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Expenses.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func (s *HTTPServer) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Profile.Get(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var payload models.UserPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	user, err := s.deps.Profile.Update(r.Context(), &payload)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// refresh logs a failed refresh; the cached list is served either way.
func (s *HTTPServer) refresh(err error, what string) {
	if err != nil && !errors.Is(err, service.ErrOffline) {
		s.logger.Warn().Err(err).Str("list", what).Msg("refresh failed, serving cached data")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrEntityNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.logger.Error().Err(err).Msg("local write failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
