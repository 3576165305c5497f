package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/npezzotti/securechat/internal/types"
)

func (s *SecureChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *SecureChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	s.writeJson(w, errResp.StatusCode, errResp)
}

// writeServiceError logs internal failures and hides their detail from the
// client.
func (s *SecureChatApp) writeServiceError(w http.ResponseWriter, err error) {
	errResp := fromServiceError(err)
	if errResp.StatusCode == http.StatusInternalServerError {
		s.log.Printf("internal error: %v", err)
	}
	s.writeError(w, errResp)
}

func (s *SecureChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		s.log.Printf("health check: %v", err)
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// pathId parses the {id} route variable as a positive integer.
func pathId(r *http.Request) (int64, *ApiError) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, NewValidationError("invalid id", []types.FieldError{{Field: "id", Message: "must be a positive integer"}})
	}
	return id, nil
}

// queryInt reads an optional integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
