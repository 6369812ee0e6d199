package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	errNoCredentials = errors.New("missing API key")
	errBadScheme     = errors.New("authorization must use the Bearer scheme")
)

// requestKey returns the API key a request presents. Event streams may also
// pass it as ?access_token= since EventSource clients cannot set headers.
func requestKey(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, key, _ := strings.Cut(header, " ")
		if !strings.EqualFold(scheme, "Bearer") {
			return "", errBadScheme
		}
		if key = strings.TrimSpace(key); key != "" {
			return key, nil
		}
		return "", errNoCredentials
	}
	if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/events") {
		if key := r.URL.Query().Get("access_token"); key != "" {
			return key, nil
		}
	}
	return "", errNoCredentials
}

// keyMatches compares digests so neither the length nor the content of the
// configured key leaks through timing. An empty configured key matches
// nothing.
func keyMatches(presented, configured string) bool {
	if configured == "" || presented == "" {
		return false
	}
	a := sha256.Sum256([]byte(presented))
	b := sha256.Sum256([]byte(configured))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := requestKey(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="worldclone"`)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !keyMatches(key, s.config.APIKey) {
			s.logger.Warn("rejected API key", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
