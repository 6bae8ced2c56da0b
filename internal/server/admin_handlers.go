package server

import (
	"encoding/json"
	"net/http"
)

// The admin surface here is deliberately minimal, per SPEC_FULL.md's
// admin-surface note: login plus list/create/delete on the credential pool.
// It does not implement the browser OAuth flow, per-user token management,
// or dashboard analytics the teacher's admin.go/admin_users.go carried —
// those are out of scope for this gateway.

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	token, err := s.gate.Login(req.Username, req.Password)
	if err != nil {
		writeAdminError(w, http.StatusUnauthorized, "authentication_error", "invalid admin credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type accountView struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Enabled   bool   `json:"enabled"`
	HasQuota  bool   `json:"hasQuota"`
	ProjectID string `json:"projectId,omitempty"`
}

func (s *Server) handleAdminListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := s.pool.List()
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, accountView{ID: a.ID, Email: a.Email, Enabled: a.Enabled, HasQuota: a.HasQuota, ProjectID: a.ProjectID})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAdminAddAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
		Email        string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeAdminError(w, http.StatusBadRequest, "invalid_request", "refreshToken is required")
		return
	}

	acct, err := s.pool.Add(r.Context(), req.RefreshToken, req.Email)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "internal_error", "failed to add account: "+err.Error())
		return
	}
	s.publish("token_refreshed", acct.ID, "account added via admin API")
	writeJSON(w, http.StatusOK, accountView{ID: acct.ID, Email: acct.Email, Enabled: acct.Enabled, HasQuota: acct.HasQuota})
}

func (s *Server) handleAdminDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeAdminError(w, http.StatusBadRequest, "invalid_request", "account id is required")
		return
	}
	if err := s.pool.Remove(r.Context(), id); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "internal_error", "failed to delete account: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAdminError(w http.ResponseWriter, status int, errType, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"type": "error", "error": map[string]string{"type": errType, "message": msg}})
}
