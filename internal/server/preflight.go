package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/chskio/chsk/internal/apperrors"
	"github.com/chskio/chsk/internal/logger"
)

// preflight implements spec.md §4.F's shared CSRF/origin/authorization
// checks. It writes a 4xx response and returns false on the first failure.
func (s *Server) preflight(w http.ResponseWriter, r *http.Request) bool {
	if !s.csrfOK(r) {
		logger.Security().Warn().Str("remote", r.RemoteAddr).Msg("chsk: csrf check failed")
		writeAppError(w, apperrors.CSRFInvalid())
		return false
	}
	if !s.originOK(r) {
		origin := r.Header.Get("Origin")
		logger.Security().Warn().Str("origin", origin).Msg("chsk: origin rejected")
		writeAppError(w, apperrors.OriginRejected(origin))
		return false
	}
	if s.Authorized != nil && !s.Authorized(r) {
		if s.Unauthorized != nil {
			s.Unauthorized(w, r)
		} else {
			writeAppError(w, apperrors.Unauthorized())
		}
		return false
	}
	return true
}

// csrfOK implements the "disabled if no csrf-token-fn configured" rule: a
// missing CSRFToken func means the host has opted out of CSRF checking.
func (s *Server) csrfOK(r *http.Request) bool {
	if s.CSRFToken == nil {
		return true
	}
	reference := s.CSRFToken(r)
	if reference == "" {
		return false
	}
	got := r.URL.Query().Get("csrf-token")
	if got == "" {
		got = r.Header.Get("X-CSRF-Token")
	}
	if got == "" {
		got = r.Header.Get("X-XSRF-Token")
	}
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(reference), []byte(got)) == 1
}

// originOK implements spec.md §4.F's origin check.
func (s *Server) originOK(r *http.Request) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" {
			return true
		}
	}
	origin := r.Header.Get("Origin")
	if origin != "" {
		return s.cfg.AllowsOrigin(origin)
	}
	referer := r.Header.Get("Referer")
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.HasPrefix(referer, allowed+"/") {
			return true
		}
	}
	return false
}
