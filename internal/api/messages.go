package api

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/npezzotti/securechat/internal/service"
	"github.com/npezzotti/securechat/internal/types"
)

type SendMessageRequest struct {
	Content  string  `json:"content"`
	Type     string  `json:"type"`
	ClientId string  `json:"client_id"`
	FileUrl  *string `json:"file_url"`
	FileName *string `json:"file_name"`
	FileSize *int64  `json:"file_size"`
}

func (s *SecureChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var fields []types.FieldError
	page, ok := queryInt(r, "page", 1)
	if !ok {
		fields = append(fields, types.FieldError{Field: "page", Message: "must be an integer"})
	}
	limit, ok := queryInt(r, "limit", service.DefaultPageSize)
	if !ok {
		fields = append(fields, types.FieldError{Field: "limit", Message: "must be an integer"})
	}
	if len(fields) > 0 {
		s.writeError(w, NewValidationError("invalid pagination", fields))
		return
	}

	msgs, err := s.svc.ListMessages(r.Context(), userId, mux.Vars(r)["id"], page, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

// messageTypeFor picks the message type of an attachment from its mimetype.
func messageTypeFor(mimetype string) string {
	switch {
	case strings.HasPrefix(mimetype, "image/"):
		return types.MessageTypeImage
	case strings.HasPrefix(mimetype, "audio/"):
		return types.MessageTypeAudio
	case strings.HasPrefix(mimetype, "video/"):
		return types.MessageTypeVideo
	default:
		return types.MessageTypeFile
	}
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// sendMessage persists a message from JSON or from a multipart form whose
// "file" part is stored first. New messages are pushed to the chat's room.
func (s *SecureChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req SendMessageRequest
	if isMultipart(r) {
		uploaded, ok, errResp := s.parseUpload(w, r, userId)
		if errResp != nil {
			s.writeError(w, errResp)
			return
		}

		req.Content = r.FormValue("content")
		req.Type = r.FormValue("type")
		req.ClientId = r.FormValue("client_id")
		if ok {
			req.FileUrl = &uploaded.Url
			req.FileName = &uploaded.OriginalName
			req.FileSize = &uploaded.Size
			if req.Type == "" {
				req.Type = messageTypeFor(uploaded.Mimetype)
			}
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	msg, created, err := s.svc.SendMessage(r.Context(), service.SendParams{
		SenderId: userId,
		ChatId:   mux.Vars(r)["id"],
		Content:  req.Content,
		Type:     req.Type,
		FileUrl:  req.FileUrl,
		FileName: req.FileName,
		FileSize: req.FileSize,
		ClientId: req.ClientId,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if !created {
		s.writeJson(w, http.StatusOK, msg)
		return
	}

	s.cs.PublishMessage(msg)
	s.writeJson(w, http.StatusCreated, msg)
}

func (s *SecureChatApp) markRead(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	messageId, errResp := pathId(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	res, err := s.svc.MarkRead(r.Context(), userId, messageId)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.cs.PublishRead(res)
	s.writeJson(w, http.StatusOK, res)
}

func (s *SecureChatApp) expiryInfo(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	messageId, errResp := pathId(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	info, err := s.svc.ExpiryInfo(r.Context(), userId, messageId)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, info)
}
