package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"instaclean/pkg/dataexport"
	"instaclean/pkg/instagram"
	"instaclean/pkg/logger"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": logger.Version,
	})
}

func (s *Server) handlePendingReceived(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	users, err := s.clients(sess.Credentials).PendingRequests(r.Context())
	if err != nil {
		s.upstreamFailed(w, r, "pending_received", err)
		return
	}
	writeUsers(w, users)
}

func (s *Server) handleNotFollowingBack(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	users, err := s.clients(sess.Credentials).NotFollowingBack(r.Context())
	if err != nil {
		s.upstreamFailed(w, r, "not_following_back", err)
		return
	}
	writeUsers(w, users)
}

func writeUsers(w http.ResponseWriter, users []instagram.User) {
	if users == nil {
		users = []instagram.User{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// handleProxyImage relays profile pictures the browser cannot load cross-origin
func (s *Server) handleProxyImage(w http.ResponseWriter, r *http.Request) {
	imageURL := r.URL.Query().Get("url")
	if !instagram.IsAllowedImageURL(imageURL) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	sess := sessionFrom(r.Context())
	body, contentType, err := s.clients(sess.Credentials).FetchImage(r.Context(), imageURL)
	if err != nil || len(body) == 0 {
		if err != nil {
			s.logger.WithError(err).Debug("Image proxy fetch failed")
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleExtractZip(w http.ResponseWriter, r *http.Request) {
	if !s.parseUpload(w, r) {
		return
	}

	file, header, err := r.FormFile("zip_file")
	if err != nil || header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No file uploaded.")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read the uploaded file.")
		return
	}

	res, err := dataexport.ExtractZip(data)
	var missing *dataexport.MissingFileError
	switch {
	case errors.Is(err, dataexport.ErrNotZip):
		writeError(w, http.StatusBadRequest, "Not a valid zip file.")
		return
	case errors.Is(err, dataexport.ErrPageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "The export page is too large.")
		return
	case errors.As(err, &missing):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": fmt.Sprintf("Could not find %s in the zip. Found %d HTML files.",
				dataexport.PendingRequestsFile, missing.Total),
			"html_files": missing.HTMLFiles,
		})
		return
	case err != nil:
		s.logger.WithError(err).Error("Failed to process export zip")
		writeError(w, http.StatusInternalServerError, "Failed to process zip: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"usernames": res.Usernames,
		"dates":     res.Dates,
		"count":     res.Count(),
		"file":      res.File,
	})
}
