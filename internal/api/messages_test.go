package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/npezzotti/securechat/internal/filestore"
	"github.com/npezzotti/securechat/internal/service"
	"github.com/npezzotti/securechat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func Test_getMessages(t *testing.T) {
	msgs := []types.Message{
		{Id: 1, ChatId: "abc123", Content: "first"},
		{Id: 2, ChatId: "abc123", Content: "second"},
	}

	t.Run("defaults", func(t *testing.T) {
		app, svc, _ := newTestApp(t)
		svc.On("ListMessages", 1, "abc123", 1, service.DefaultPageSize).Return(msgs, nil).Once()

		rr := doRequest(t, app, http.MethodGet, "/api/messages/chats/abc123/messages", nil, tokenFor(t, app, 1))
		require.Equal(t, http.StatusOK, rr.Code)

		var got []types.Message
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, "first", got[0].Content)
		assert.Equal(t, "second", got[1].Content)
	})

	t.Run("explicit page", func(t *testing.T) {
		app, svc, _ := newTestApp(t)
		svc.On("ListMessages", 1, "abc123", 2, 10).Return([]types.Message{}, nil).Once()

		rr := doRequest(t, app, http.MethodGet, "/api/messages/chats/abc123/messages?page=2&limit=10", nil, tokenFor(t, app, 1))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})

	t.Run("non numeric pagination", func(t *testing.T) {
		app, _, _ := newTestApp(t)

		rr := doRequest(t, app, http.MethodGet, "/api/messages/chats/abc123/messages?page=x&limit=y", nil, tokenFor(t, app, 1))
		apiErr := decodeApiError(t, rr)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Len(t, apiErr.Errors, 2)
	})

	t.Run("out of range limit", func(t *testing.T) {
		app, svc, _ := newTestApp(t)
		svc.On("ListMessages", 1, "abc123", 1, 500).Return([]types.Message(nil), &service.ValidationError{
			Message: "invalid pagination",
			Fields:  []types.FieldError{{Field: "limit", Message: "must be between 1 and 100"}},
		}).Once()

		rr := doRequest(t, app, http.MethodGet, "/api/messages/chats/abc123/messages?limit=500", nil, tokenFor(t, app, 1))
		assert.Equal(t, http.StatusBadRequest, decodeApiError(t, rr).StatusCode)
	})

	t.Run("not a participant", func(t *testing.T) {
		app, svc, _ := newTestApp(t)
		svc.On("ListMessages", 3, "abc123", 1, service.DefaultPageSize).Return([]types.Message(nil), service.ErrNotFound).Once()

		rr := doRequest(t, app, http.MethodGet, "/api/messages/chats/abc123/messages", nil, tokenFor(t, app, 3))
		assert.Equal(t, *NewNotFoundError(), decodeApiError(t, rr))
	})
}

func Test_sendMessage_json(t *testing.T) {
	saved := types.Message{
		Id:              5,
		ChatId:          "abc123",
		Content:         "hello",
		Type:            types.MessageTypeText,
		DaysUntilExpiry: 7,
	}

	t.Run("created", func(t *testing.T) {
		app, svc, _ := newTestApp(t)
		svc.On("SendMessage", service.SendParams{
			SenderId: 1,
			ChatId:   "abc123",
			Content:  "hello",
			ClientId: "c-1",
		}).Return(saved, true, nil).Once()

		rr := doRequest(t, app, http.MethodPost, "/api/messages/chats/abc123/messages",
			SendMessageRequest{Content: "hello", ClientId: "c-1"}, tokenFor(t, app, 1))
		require.Equal(t, http.StatusCreated, rr.Code)

		var got types.Message
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, 7, got.DaysUntilExpiry)
	})

	t.Run("client id replay", func(t *testing.T) {
		app, svc, _ := newTestApp(t)
		svc.On("SendMessage", mock.Anything).Return(saved, false, nil).Once()

		rr := doRequest(t, app, http.MethodPost, "/api/messages/chats/abc123/messages",
			SendMessageRequest{Content: "hello", ClientId: "c-1"}, tokenFor(t, app, 1))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("invalid type", func(t *testing.T) {
		app, svc, _ := newTestApp(t)
		svc.On("SendMessage", mock.Anything).Return(types.Message{}, false, &service.ValidationError{
			Message: "invalid message",
			Fields:  []types.FieldError{{Field: "type", Message: "must be one of text, image, file, audio, video"}},
		}).Once()

		rr := doRequest(t, app, http.MethodPost, "/api/messages/chats/abc123/messages",
			SendMessageRequest{Content: "hello", Type: "sticker"}, tokenFor(t, app, 1))
		apiErr := decodeApiError(t, rr)
		assert.Equal(t, "type", apiErr.Errors[0].Field)
	})

	t.Run("invalid json", func(t *testing.T) {
		app, _, _ := newTestApp(t)

		rr := doRequest(t, app, http.MethodPost, "/api/messages/chats/abc123/messages", "{", tokenFor(t, app, 1))
		assert.Equal(t, *NewBadRequestError(), decodeApiError(t, rr))
	})
}

func multipartRequest(t *testing.T, path, token string, fields map[string]string, filename, contentType string, content []byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func Test_sendMessage_multipart(t *testing.T) {
	t.Run("stores file and sends image message", func(t *testing.T) {
		app, svc, files := newTestApp(t)
		now := time.Now().UTC()

		files.On("Save", mock.MatchedBy(filestore.ValidName), "cat.png", "image/png", 1, mock.Anything).
			Return(filestore.FileInfo{
				Name:         "file-1736510400000-0123456789ab.png",
				OriginalName: "cat.png",
				ContentType:  "image/png",
				Size:         4,
				UploadedBy:   1,
				UploadedAt:   now,
			}, nil).Once()

		svc.On("SendMessage", mock.MatchedBy(func(p service.SendParams) bool {
			return p.SenderId == 1 &&
				p.ChatId == "abc123" &&
				p.Type == types.MessageTypeImage &&
				p.Content == "look" &&
				p.FileUrl != nil && *p.FileUrl == "/api/files/file-1736510400000-0123456789ab.png" &&
				p.FileName != nil && *p.FileName == "cat.png" &&
				p.FileSize != nil && *p.FileSize == 4
		})).Return(types.Message{Id: 6, ChatId: "abc123", Type: types.MessageTypeImage}, true, nil).Once()

		req := multipartRequest(t, "/api/messages/chats/abc123/messages", tokenFor(t, app, 1),
			map[string]string{"content": "look"}, "cat.png", "image/png", []byte("\x89PNG"))
		rr := httptest.NewRecorder()
		app.srv.Handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
	})

	t.Run("file too large", func(t *testing.T) {
		app, _, _ := newTestApp(t)

		req := multipartRequest(t, "/api/messages/chats/abc123/messages", tokenFor(t, app, 1),
			nil, "big.bin", "application/octet-stream", bytes.Repeat([]byte("a"), int(app.maxUploadBytes)+1))
		rr := httptest.NewRecorder()
		app.srv.Handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})
}

func Test_messageTypeFor(t *testing.T) {
	tcases := map[string]string{
		"image/jpeg":      types.MessageTypeImage,
		"audio/mpeg":      types.MessageTypeAudio,
		"video/mp4":       types.MessageTypeVideo,
		"application/pdf": types.MessageTypeFile,
		"":                types.MessageTypeFile,
	}

	for mimetype, want := range tcases {
		assert.Equal(t, want, messageTypeFor(mimetype), mimetype)
	}
}

func Test_markRead(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		app, svc, _ := newTestApp(t)
		res := service.ReadResult{ChatId: "abc123", MessageId: 5, IsRead: true, ReaderId: 2}
		svc.On("MarkRead", 2, int64(5)).Return(res, nil).Once()

		rr := doRequest(t, app, http.MethodPut, "/api/messages/messages/5/read", nil, tokenFor(t, app, 2))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"chat_id":"abc123","message_id":5,"is_read":true,"reader_id":2}`, rr.Body.String())
	})

	tcases := []struct {
		name    string
		mockErr error
		want    ApiError
	}{
		{name: "unknown message", mockErr: service.ErrNotFound, want: *NewNotFoundError()},
		{name: "not a participant", mockErr: service.ErrForbidden, want: *NewForbiddenError()},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, svc, _ := newTestApp(t)
			svc.On("MarkRead", 3, int64(5)).Return(service.ReadResult{}, tc.mockErr).Once()

			rr := doRequest(t, app, http.MethodPut, "/api/messages/messages/5/read", nil, tokenFor(t, app, 3))
			assert.Equal(t, tc.want, decodeApiError(t, rr))
		})
	}

	t.Run("bad id", func(t *testing.T) {
		app, _, _ := newTestApp(t)

		rr := doRequest(t, app, http.MethodPut, "/api/messages/messages/abc/read", nil, tokenFor(t, app, 1))
		assert.Equal(t, http.StatusBadRequest, decodeApiError(t, rr).StatusCode)
	})
}

func Test_expiryInfo(t *testing.T) {
	app, svc, _ := newTestApp(t)
	expires := time.Date(2025, 1, 17, 12, 0, 0, 0, time.UTC)
	svc.On("ExpiryInfo", 1, int64(5)).Return(types.ExpiryInfo{
		MessageId:       5,
		ExpiresAt:       expires,
		DaysUntilExpiry: 7,
	}, nil).Once()

	rr := doRequest(t, app, http.MethodGet, "/api/messages/messages/5/expiry", nil, tokenFor(t, app, 1))
	require.Equal(t, http.StatusOK, rr.Code)

	var got types.ExpiryInfo
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, 7, got.DaysUntilExpiry)
	assert.False(t, got.IsExpired)
	assert.Equal(t, expires, got.ExpiresAt)
}
