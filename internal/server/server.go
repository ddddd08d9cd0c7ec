// Package server exposes the HTTP and websocket surface: the JSON REST API
// for groups, people, expenses and settlement, the push subscription
// endpoints, and the live invalidation socket.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tallyhq/tally/internal/hub"
	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/service"
	"github.com/tallyhq/tally/internal/storage"
)

// clientEndpointHeader carries the originating device's push endpoint so the
// fan-out can skip notifying the device that made the change.
const clientEndpointHeader = "X-Client-Endpoint"

// Server wires the services onto HTTP routes.
type Server struct {
	groups   *service.GroupService
	people   *service.PersonService
	expenses *service.ExpenseService
	hub      *hub.Hub

	vapidPublicKey string
}

// New creates a Server over the given services and fan-out hub. The VAPID
// public key may be empty when push is not configured.
func New(groups *service.GroupService, people *service.PersonService, expenses *service.ExpenseService, h *hub.Hub, vapidPublicKey string) *Server {
	return &Server{
		groups:         groups,
		people:         people,
		expenses:       expenses,
		hub:            h,
		vapidPublicKey: vapidPublicKey,
	}
}

// Routes registers every API route on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/groups", s.handleCreateGroup)
	mux.HandleFunc("GET /api/groups/{code}", s.handleGetGroup)
	mux.HandleFunc("PUT /api/groups/{code}", s.handleRenameGroup)
	mux.HandleFunc("DELETE /api/groups/{code}", s.handleDeleteGroup)

	mux.HandleFunc("POST /api/groups/{code}/people", s.handleAddPerson)
	mux.HandleFunc("PUT /api/groups/{code}/people/{personId}", s.handleRenamePerson)
	mux.HandleFunc("DELETE /api/groups/{code}/people/{personId}", s.handleDeletePerson)

	mux.HandleFunc("POST /api/groups/{code}/expenses", s.handleAddExpense)
	mux.HandleFunc("PUT /api/groups/{code}/expenses/{expenseId}", s.handleUpdateExpense)
	mux.HandleFunc("DELETE /api/groups/{code}/expenses/{expenseId}", s.handleDeleteExpense)

	mux.HandleFunc("GET /api/groups/{code}/calculate", s.handleCalculate)

	mux.HandleFunc("POST /api/groups/{code}/subscribe", s.handleSubscribePush)
	mux.HandleFunc("GET /api/vapid-public-key", s.handleVapidPublicKey)

	mux.Handle("GET /api/groups/{code}/ws", s.liveSocketHandler())

	return mux
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError maps service and storage errors onto the HTTP error taxonomy.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicateName), errors.Is(err, storage.ErrPersonInUse):
		status = http.StatusConflict
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeBody parses the JSON request body into dst, mapping malformed input
// onto a validation error.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Join(service.ErrValidation, err)
	}
	return nil
}

func clientEndpoint(r *http.Request) string {
	return r.Header.Get(clientEndpointHeader)
}

type nameRequest struct {
	Name string `json:"name"`
}

type expenseRequest struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	PersonID    string  `json:"personId"`
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	group, err := s.groups.Create(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.groups.Get(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleRenameGroup(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	group, err := s.groups.Rename(r.Context(), r.PathValue("code"), req.Name, clientEndpoint(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.groups.Delete(r.Context(), r.PathValue("code"), clientEndpoint(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleAddPerson(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	person, err := s.people.Add(r.Context(), r.PathValue("code"), req.Name, clientEndpoint(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, person)
}

func (s *Server) handleRenamePerson(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	person, err := s.people.Rename(r.Context(), r.PathValue("code"), r.PathValue("personId"), req.Name, clientEndpoint(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, person)
}

func (s *Server) handleDeletePerson(w http.ResponseWriter, r *http.Request) {
	if err := s.people.Delete(r.Context(), r.PathValue("code"), r.PathValue("personId"), clientEndpoint(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	expense, err := s.expenses.Add(r.Context(), r.PathValue("code"), req.Description, req.Amount, req.PersonID, clientEndpoint(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, expense)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	expense, err := s.expenses.Update(r.Context(), r.PathValue("code"), r.PathValue("expenseId"), req.Description, req.Amount, req.PersonID, clientEndpoint(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, expense)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.expenses.Delete(r.Context(), r.PathValue("code"), r.PathValue("expenseId"), clientEndpoint(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleCalculate returns the settlement view: per-person balances and the
// minimal transfer list, both derived from one consistent read.
func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	balances, transfers, err := s.groups.Settlement(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balances":  balances,
		"transfers": transfers,
	})
}

func (s *Server) handleSubscribePush(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string                  `json:"endpoint"`
		Keys     models.SubscriptionKeys `json:"keys"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sub := &models.Subscription{Endpoint: req.Endpoint, Keys: req.Keys}
	if err := s.groups.SubscribePush(r.Context(), r.PathValue("code"), sub); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"subscribed": true})
}

func (s *Server) handleVapidPublicKey(w http.ResponseWriter, r *http.Request) {
	if s.vapidPublicKey == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "push notifications are not configured"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": s.vapidPublicKey})
}
