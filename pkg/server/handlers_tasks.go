package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"instaclean/internal/executor"
	"instaclean/pkg/auth"
	"instaclean/pkg/dataexport"
	errs "instaclean/pkg/errors"
	"instaclean/pkg/task"
)

// userID accepts ids sent either as JSON strings or numbers
type userID string

func (u *userID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = userID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id must be a string or number: %w", err)
	}
	*u = userID(n.String())
	return nil
}

type batchRequest struct {
	UserIDs []userID `json:"user_ids"`
}

type usernamesRequest struct {
	Usernames []string          `json:"usernames"`
	Dates     map[string]string `json:"dates"`
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Validation("Invalid JSON body.")
	}
	return nil
}

// errorMessage is the client-facing text of err
func errorMessage(err error) string {
	var apiErr *errs.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.submitUserIDs(w, r, task.KindCancel)
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	s.submitUserIDs(w, r, task.KindUnfollow)
}

func (s *Server) submitUserIDs(w http.ResponseWriter, r *http.Request, kind task.Kind) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errorMessage(err))
		return
	}

	items := make([]task.Target, 0, len(req.UserIDs))
	for _, id := range req.UserIDs {
		if id != "" {
			items = append(items, task.Target{UserID: string(id)})
		}
	}
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "No users selected.")
		return
	}
	if len(items) > s.cfg.Batch.MaxItems {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Max %d per session.", s.cfg.Batch.MaxItems))
		return
	}

	s.submit(w, r, task.Spec{Kind: kind, Items: items})
}

// handlePendingSent starts a check of outgoing requests. Usernames come
// from a JSON body, or from a multipart upload of the export page plus an
// optional pasted list.
func (s *Server) handlePendingSent(w http.ResponseWriter, r *http.Request) {
	var usernames []string
	var dates map[string]string

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if !s.parseUpload(w, r) {
			return
		}
		if file, _, err := r.FormFile("export_file"); err == nil {
			body, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "Could not read the uploaded file.")
				return
			}
			parsed := dataexport.ParseHTML(strings.ToValidUTF8(string(body), ""))
			usernames, dates = parsed.Usernames, parsed.Dates
		}
		usernames = dataexport.Merge(usernames, dataexport.ParseUsernameList(r.FormValue("usernames"))...)
	} else {
		var req usernamesRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, errorMessage(err))
			return
		}
		usernames = dataexport.Merge(nil, req.Usernames...)
		dates = req.Dates
	}

	if len(usernames) == 0 {
		writeError(w, http.StatusBadRequest, "No usernames provided.")
		return
	}
	if len(usernames) > s.cfg.Batch.MaxLookupItems {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Max %d usernames at a time.", s.cfg.Batch.MaxLookupItems))
		return
	}

	s.submit(w, r, task.Spec{Kind: task.KindResolve, Items: usernameTargets(usernames), Dates: dates})
}

func (s *Server) handleCancelSent(w http.ResponseWriter, r *http.Request) {
	s.submitUsernames(w, r, task.KindCancel)
}

func (s *Server) handleResolveUsernames(w http.ResponseWriter, r *http.Request) {
	s.submitUsernames(w, r, task.KindLookup)
}

func (s *Server) submitUsernames(w http.ResponseWriter, r *http.Request, kind task.Kind) {
	var req usernamesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errorMessage(err))
		return
	}

	usernames := dataexport.Merge(nil, req.Usernames...)
	if len(usernames) == 0 {
		writeError(w, http.StatusBadRequest, "No usernames provided.")
		return
	}
	if len(usernames) > s.cfg.Batch.MaxItems {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Max %d usernames at a time.", s.cfg.Batch.MaxItems))
		return
	}

	s.submit(w, r, task.Spec{Kind: kind, Items: usernameTargets(usernames), Dates: req.Dates})
}

// submit registers the task for the session's account and starts it
func (s *Server) submit(w http.ResponseWriter, r *http.Request, spec task.Spec) {
	t, ok := s.start(w, r, spec)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task_id": t.ID(),
		"total":   t.Len(),
	})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request, spec task.Spec) (*task.Task, bool) {
	sess := sessionFrom(r.Context())
	spec.Owner = sess.Credentials.DSUserID

	t, err := s.registry.Create(spec)
	if err != nil {
		writeError(w, errs.HTTPStatus(err), errorMessage(err))
		return nil, false
	}

	if err := s.runner.Launch(s.executorFor(sess), t); err != nil {
		t.Finish(task.StatusExpired, "shutdown")
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down.")
		return nil, false
	}

	s.logger.InfoWithFields("Task submitted", map[string]interface{}{
		"task_id": t.ID(),
		"kind":    string(spec.Kind),
		"total":   t.Len(),
	})
	return t, true
}

func (s *Server) executorFor(sess *auth.Session) *executor.Executor {
	opts := []executor.Option{
		executor.WithDelays(executor.Delays{
			MutateMin: s.cfg.Batch.CancelDelayMin,
			MutateMax: s.cfg.Batch.CancelDelayMax,
			Fetch:     s.cfg.Batch.FetchDelay,
		}),
		executor.WithLogger(s.logger),
		executor.WithAuthExpired(func(t *task.Task) {
			s.sessions.DeleteByUser(t.Owner())
		}),
	}
	if s.sleep != nil {
		opts = append(opts, executor.WithSleep(s.sleep))
	}
	return executor.New(s.clients(sess.Credentials), opts...)
}

// ownedTask looks up the {id} path value among the session's tasks
func (s *Server) ownedTask(w http.ResponseWriter, r *http.Request) (*task.Task, bool) {
	sess := sessionFrom(r.Context())
	t, ok := s.registry.Get(r.PathValue("id"))
	if !ok || t.Owner() != sess.Credentials.DSUserID {
		writeError(w, http.StatusNotFound, "Task not found")
		return nil, false
	}
	return t, true
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	t, ok := s.ownedTask(w, r)
	if !ok {
		return
	}
	s.stream(w, r, t)
}

// handleCancelAllSent cancels the usernames of a finished or running check,
// up to one batch, and streams the new task.
func (s *Server) handleCancelAllSent(w http.ResponseWriter, r *http.Request) {
	source, ok := s.ownedTask(w, r)
	if !ok {
		return
	}
	if source.Kind() != task.KindResolve {
		writeError(w, http.StatusBadRequest, "Task is not a follow request check.")
		return
	}
	// a check may hold more usernames than one cancel batch accepts
	items := source.Items()
	if len(items) > s.cfg.Batch.MaxItems {
		items = items[:s.cfg.Batch.MaxItems]
	}
	dates := make(map[string]string, len(items))
	for _, it := range items {
		if d := source.RequestDate(it.Username); d != "" {
			dates[it.Username] = d
		}
	}

	t, ok := s.start(w, r, task.Spec{Kind: task.KindCancel, Items: items, Dates: dates})
	if !ok {
		return
	}
	w.Header().Set("X-Task-ID", t.ID())
	s.stream(w, r, t)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, t *task.Task) {
	err := s.reporter.Stream(r.Context(), w, t)
	switch {
	case errors.Is(err, task.ErrAlreadyAttached):
		writeError(w, http.StatusConflict, "Another window is already following this task.")
	case err != nil:
		s.logger.WithField("task_id", t.ID()).WithError(err).Debug("Progress stream ended early")
	}
}

// parseUpload reads a multipart body within the configured size limit
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload is too large.")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form.")
		return false
	}
	return true
}

func usernameTargets(usernames []string) []task.Target {
	items := make([]task.Target, len(usernames))
	for i, u := range usernames {
		items[i] = task.Target{Username: u}
	}
	return items
}
