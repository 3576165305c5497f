package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var errNoToken = errors.New("no token in request")

func (s *SecureChatApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// tokenFromRequest looks for a bearer token in the Authorization header,
// then in the token cookie and, when allowQuery is set, in the token query
// parameter.
func tokenFromRequest(r *http.Request, allowQuery bool) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", errNoToken
		}
		return strings.TrimSpace(token), nil
	}

	if c, err := r.Cookie(tokenCookieKey); err == nil && c.Value != "" {
		return c.Value, nil
	}

	if allowQuery {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
	}

	return "", errNoToken
}

func (s *SecureChatApp) authenticate(next http.HandlerFunc, allowQuery bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := tokenFromRequest(r, allowQuery)
		if err != nil {
			s.writeError(w, NewUnauthorizedError())
			return
		}

		userId, err := s.extractUserIdFromToken(tokenString)
		if err != nil {
			s.log.Printf("failed to extract user id from token: %v", err)
			s.writeError(w, NewForbiddenError())
			return
		}

		ctx := WithUserId(r.Context(), userId)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

func (s *SecureChatApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return s.authenticate(next, false)
}

// wsAuthMiddleware also accepts the token as a query parameter, since
// browsers cannot set headers on a websocket handshake.
func (s *SecureChatApp) wsAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return s.authenticate(next, true)
}

// adminMiddleware resolves the admin flag from storage on every request so
// a demotion takes effect immediately.
func (s *SecureChatApp) adminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return s.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		userId, _ := UserId(r.Context())

		isAdmin, err := s.svc.IsAdmin(r.Context(), userId)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if !isAdmin {
			s.writeError(w, NewForbiddenError())
			return
		}

		next(w, r)
	})
}
