package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/npezzotti/securechat/internal/filestore"
	"github.com/npezzotti/securechat/internal/types"
)

// multipartSlack leaves room for form fields and part headers on top of
// the file itself.
const multipartSlack = 1 << 20

func fileUrl(name string) string {
	return "/api/files/" + name
}

func contentTypeOf(header string, filename string) string {
	if header != "" && header != "application/octet-stream" {
		return header
	}
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// parseUpload reads a multipart body and stores its "file" part. The
// returned bool is false when the form has no file.
func (s *SecureChatApp) parseUpload(w http.ResponseWriter, r *http.Request, userId int) (types.UploadedFile, bool, *ApiError) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartSlack)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return types.UploadedFile{}, false, NewRequestTooLargeError()
		}
		return types.UploadedFile{}, false, NewBadRequestError()
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return types.UploadedFile{}, false, nil
	}
	if err != nil {
		return types.UploadedFile{}, false, NewBadRequestError()
	}
	defer file.Close()

	if header.Size > s.maxUploadBytes {
		return types.UploadedFile{}, false, NewRequestTooLargeError()
	}

	name := filestore.GenerateName(header.Filename, time.Now())
	ct := contentTypeOf(header.Header.Get("Content-Type"), header.Filename)

	info, err := s.files.Save(r.Context(), name, header.Filename, ct, userId, file)
	if err != nil {
		s.log.Printf("save upload %q: %v", name, err)
		return types.UploadedFile{}, false, NewInternalServerError(err)
	}

	return types.UploadedFile{
		Filename:     info.Name,
		OriginalName: info.OriginalName,
		Size:         info.Size,
		Mimetype:     info.ContentType,
		Url:          fileUrl(info.Name),
	}, true, nil
}

func (s *SecureChatApp) uploadFile(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	uploaded, ok, errResp := s.parseUpload(w, r, userId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}
	if !ok {
		s.writeError(w, NewValidationError("no file uploaded", []types.FieldError{
			{Field: "file", Message: "file is required"},
		}))
		return
	}

	s.writeJson(w, http.StatusOK, uploaded)
}

func (s *SecureChatApp) fileInfo(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !filestore.ValidName(name) {
		s.writeError(w, NewNotFoundError())
		return
	}

	info, err := s.files.Stat(r.Context(), name)
	if err != nil {
		s.writeFileError(w, name, err)
		return
	}

	s.writeJson(w, http.StatusOK, types.FileInfo{
		Filename:   info.Name,
		Size:       info.Size,
		UploadedAt: info.UploadedAt,
		Mimetype:   info.ContentType,
	})
}

// serveFile streams a stored file. It is public so clients can render
// attachments without attaching a token to every media request.
func (s *SecureChatApp) serveFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !filestore.ValidName(name) {
		s.writeError(w, NewNotFoundError())
		return
	}

	rc, info, err := s.files.Open(r.Context(), name)
	if err != nil {
		s.writeFileError(w, name, err)
		return
	}
	defer rc.Close()

	ct := info.ContentType
	if ct == "" {
		ct = contentTypeOf("", name)
	}

	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		s.log.Printf("stream file %q: %v", name, err)
	}
}

func (s *SecureChatApp) writeFileError(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, filestore.ErrNotExist) {
		s.writeError(w, NewNotFoundError())
		return
	}

	s.log.Printf("open file %q: %v", name, err)
	s.writeError(w, NewInternalServerError(err))
}
