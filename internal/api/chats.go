package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/npezzotti/securechat/internal/service"
	"github.com/npezzotti/securechat/internal/types"
)

type CreatePersonalChatRequest struct {
	UserId int `json:"user_id"`
}

type CreateGroupChatRequest struct {
	Name         string `json:"name"`
	Participants []int  `json:"participants"`
}

func (s *SecureChatApp) listChats(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	chats, err := s.svc.ListChats(r.Context(), userId)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, chats)
}

// createPersonalChat returns the pair's existing chat with 200, or 201 when
// it had to be created.
func (s *SecureChatApp) createPersonalChat(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req CreatePersonalChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}
	if req.UserId <= 0 {
		s.writeError(w, NewValidationError("invalid chat", []types.FieldError{
			{Field: "user_id", Message: "user_id is required"},
		}))
		return
	}

	chat, created, err := s.svc.CreatePersonalChat(r.Context(), userId, req.UserId)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJson(w, status, chat)
}

func (s *SecureChatApp) createGroupChat(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req CreateGroupChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	chat, err := s.svc.CreateGroupChat(r.Context(), userId, req.Name, req.Participants)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, chat)
}

func (s *SecureChatApp) getChat(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	chat, err := s.svc.GetChat(r.Context(), userId, mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, chat)
}

func (s *SecureChatApp) updateSettings(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	patch, err := service.ParseSettingsPatch(body)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	chat, err := s.svc.UpdateSettings(r.Context(), userId, mux.Vars(r)["id"], patch)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, chat)
}
