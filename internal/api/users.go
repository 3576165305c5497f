package api

import (
	"encoding/json"
	"net/http"

	"github.com/npezzotti/securechat/internal/service"
	"github.com/npezzotti/securechat/internal/types"
)

type UpdateProfileRequest struct {
	Name   *string `json:"name"`
	Avatar *string `json:"avatar"`
}

type UpdateStatusRequest struct {
	IsOnline *bool `json:"is_online"`
}

func (s *SecureChatApp) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.svc.ListUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, users)
}

func (s *SecureChatApp) profile(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	user, err := s.svc.GetUser(r.Context(), userId)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *SecureChatApp) updateProfile(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	user, err := s.svc.UpdateProfile(r.Context(), userId, service.ProfileUpdate{
		Name:   req.Name,
		Avatar: req.Avatar,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

// updateStatus sets the caller's presence and tells every open connection.
func (s *SecureChatApp) updateStatus(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}
	if req.IsOnline == nil {
		s.writeError(w, NewValidationError("invalid status", []types.FieldError{
			{Field: "is_online", Message: "is_online is required"},
		}))
		return
	}

	user, err := s.svc.SetPresence(r.Context(), userId, *req.IsOnline)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.cs.BroadcastPresence(user, nil)
	s.writeJson(w, http.StatusOK, user)
}
