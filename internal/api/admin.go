package api

import (
	"encoding/json"
	"net/http"

	"github.com/npezzotti/securechat/internal/types"
)

type PromoteAdminRequest struct {
	UserId int `json:"user_id"`
}

func (s *SecureChatApp) adminStatus(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	isAdmin, err := s.svc.IsAdmin(r.Context(), userId)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]bool{"is_admin": isAdmin})
}

func (s *SecureChatApp) adminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.svc.ListAllUsers(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, users)
}

func (s *SecureChatApp) promoteAdmin(w http.ResponseWriter, r *http.Request) {
	var req PromoteAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}
	if req.UserId <= 0 {
		s.writeError(w, NewValidationError("invalid user", []types.FieldError{
			{Field: "user_id", Message: "user_id is required"},
		}))
		return
	}

	user, err := s.svc.PromoteAdmin(r.Context(), req.UserId)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *SecureChatApp) demoteAdmin(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	targetId, errResp := pathId(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	user, err := s.svc.DemoteAdmin(r.Context(), userId, int(targetId))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

// setRegistration persists the toggle and tells every websocket connection.
func (s *SecureChatApp) setRegistration(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.svc.SetRegistrationEnabled(r.Context(), enabled); err != nil {
			s.writeServiceError(w, err)
			return
		}

		s.cs.BroadcastRegistration(enabled)
		s.writeJson(w, http.StatusOK, map[string]bool{"enabled": enabled})
	}
}

func (s *SecureChatApp) adminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, stats)
}
