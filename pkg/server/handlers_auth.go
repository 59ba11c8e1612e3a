package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"instaclean/pkg/auth"
	errs "instaclean/pkg/errors"
	"instaclean/pkg/instagram"
)

type loginRequest struct {
	SessionID string `json:"session_id"`
	DSUserID  string `json:"ds_user_id"`
	CSRFToken string `json:"csrf_token"`
}

// handleLogin accepts the cookies as a form or a JSON body
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body.")
			return
		}
	} else {
		req.SessionID = r.FormValue("session_id")
		req.DSUserID = r.FormValue("ds_user_id")
		req.CSRFToken = r.FormValue("csrf_token")
	}

	creds, err := auth.ValidateCredentials(instagram.Credentials{
		SessionID: req.SessionID,
		DSUserID:  req.DSUserID,
		CSRFToken: req.CSRFToken,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "All three cookies are required.")
		return
	}

	user, err := s.clients(creds).ValidateSession(r.Context())
	if err != nil {
		masked := auth.SanitizeCredentials(creds)
		log := s.logger.WithFields(map[string]interface{}{
			"ds_user_id": masked.DSUserID,
			"session_id": masked.SessionID,
			"error_type": string(errs.TypeOf(err)),
		})
		if errs.IsAuth(err) {
			log.Info("Login rejected by upstream")
			writeError(w, http.StatusUnauthorized, "Session is invalid or expired. Copy fresh cookies and try again.")
			return
		}
		log.WithError(err).Warn("Login failed")
		writeError(w, http.StatusInternalServerError, "Connection error: "+err.Error())
		return
	}

	sess, err := s.sessions.Create(creds, *user)
	if err != nil {
		writeError(w, errs.HTTPStatus(err), err.Error())
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(s.cfg.Server.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.Server.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"username": user.Username,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		s.sessions.Delete(cookie.Value)
	}
	s.clearCookie(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":         sess.User.ID,
		"username":        sess.User.Username,
		"full_name":       sess.User.FullName,
		"profile_pic_url": sess.User.ProfilePicURL,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Server.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// upstreamFailed answers a synchronous call that failed upstream. Auth
// failures destroy the session.
func (s *Server) upstreamFailed(w http.ResponseWriter, r *http.Request, op string, err error) {
	sess := sessionFrom(r.Context())
	log := s.logger.WithFields(map[string]interface{}{
		"operation":  op,
		"ds_user_id": sess.Credentials.DSUserID,
	}).WithError(err)

	switch {
	case errs.IsAuth(err):
		log.Info("Session expired upstream")
		s.sessions.Delete(sess.ID)
		s.clearCookie(w)
		writeAuthExpired(w, "Session expired. Please log in again.")
	case errs.IsRateLimit(err):
		log.Warn("Upstream rate limit")
		writeError(w, http.StatusTooManyRequests, "Instagram is rate limiting this account. Wait a few minutes and try again.")
	default:
		log.Error("Upstream request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
