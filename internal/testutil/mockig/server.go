// Package mockig is an in-process fake of the private Instagram API used by
// client and server tests.
package mockig

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// Default credentials accepted by a fresh server
const (
	SessionID = "valid-session"
	DSUserID  = "1000"
	CSRFToken = "csrf-token"
)

// Account is a fake user. Relationship is the viewer's state towards it:
// "pending", "following" or empty.
type Account struct {
	ID            string
	Username      string
	FullName      string
	ProfilePicURL string
	IsPrivate     bool
	IsVerified    bool
	Relationship  string
}

// Failure is a canned response returned instead of the normal handler
type Failure struct {
	Status int
	Body   string
}

// Server simulates the mobile API endpoints the client consumes
type Server struct {
	server *httptest.Server

	mu        sync.RWMutex
	session   string
	viewer    Account
	accounts  map[string]Account // by username
	byID      map[string]string  // id -> username
	pending   []Account
	following []Account
	followers []Account
	failures  map[string]Failure // "METHOD /path" -> response
	destroyed []string
	requests  []string
	// PageSize bounds listing pages; more pages are signalled with big_list
	pageSize int

	requestCount int32
}

// New starts a fake server that is closed when the test ends
func New(t testing.TB) *Server {
	s := &Server{
		session:  SessionID,
		viewer:   Account{ID: DSUserID, Username: "viewer", FullName: "The Viewer"},
		accounts: make(map[string]Account),
		byID:     make(map[string]string),
		failures: make(map[string]Failure),
		pageSize: 2,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/accounts/current_user/", s.handleCurrentUser)
	mux.HandleFunc("GET /api/v1/users/{username}/usernameinfo/", s.handleUsernameInfo)
	mux.HandleFunc("GET /web/api/v1/users/web_profile_info/", s.handleWebProfileInfo)
	mux.HandleFunc("/api/v1/friendships/", s.handleFriendships)
	mux.HandleFunc("GET /cdn/", s.handleImage)

	s.server = httptest.NewServer(s.intercept(mux))
	t.Cleanup(s.server.Close)
	return s
}

// URL is the root of the fake server
func (s *Server) URL() string { return s.server.URL }

// APIBaseURL is the value for the client's API base URL option
func (s *Server) APIBaseURL() string { return s.server.URL + "/api/v1" }

// WebBaseURL is the value for the client's web base URL option
func (s *Server) WebBaseURL() string { return s.server.URL + "/web" }

// Client returns an HTTP client that talks to the fake server
func (s *Server) Client() *http.Client { return s.server.Client() }

// AddAccount registers users resolvable by username and id
func (s *Server) AddAccount(accounts ...Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range accounts {
		s.accounts[a.Username] = a
		s.byID[a.ID] = a.Username
	}
}

// SetPending sets the incoming follow request listing
func (s *Server) SetPending(accounts ...Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = accounts
}

// SetFollowing sets the accounts the viewer follows
func (s *Server) SetFollowing(accounts ...Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.following = accounts
}

// SetFollowers sets the accounts following the viewer
func (s *Server) SetFollowers(accounts ...Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followers = accounts
}

// SetPageSize changes how many users a listing page carries
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// Fail makes "METHOD /path" return status with body until cleared
func (s *Server) Fail(method, path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = Failure{Status: status, Body: body}
}

// ClearFailures removes every canned failure
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]Failure)
}

// ExpireSession makes every subsequent API call fail with 401
func (s *Server) ExpireSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = ""
}

// Destroyed returns the user ids passed to friendships/destroy, in order
func (s *Server) Destroyed() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.destroyed...)
}

// Requests returns every request seen as "METHOD /path"
func (s *Server) Requests() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.requests...)
}

// RequestCount returns the number of requests served
func (s *Server) RequestCount() int {
	return int(atomic.LoadInt32(&s.requestCount))
}

// intercept records requests, applies canned failures and checks cookies
func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.requestCount, 1)
		key := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.requests = append(s.requests, key)
		failure, failing := s.failures[key]
		session := s.session
		s.mu.Unlock()

		if failing {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(failure.Status)
			_, _ = w.Write([]byte(failure.Body))
			return
		}

		if !strings.HasPrefix(r.URL.Path, "/cdn/") {
			cookie, err := r.Cookie("sessionid")
			if err != nil || session == "" || cookie.Value != session ||
				r.Header.Get("X-IG-App-ID") == "" || r.Header.Get("X-CSRFToken") == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
					"message": "login_required",
					"status":  "fail",
				})
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	viewer := s.viewer
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":   mobileUser(viewer),
		"status": "ok",
	})
}

func (s *Server) handleUsernameInfo(w http.ResponseWriter, r *http.Request) {
	account, ok := s.lookup(r.PathValue("username"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"message": "User not found", "status": "fail"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": mobileUser(account), "status": "ok"})
}

func (s *Server) handleWebProfileInfo(w http.ResponseWriter, r *http.Request) {
	account, ok := s.lookup(r.URL.Query().Get("username"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"message": "User not found", "status": "fail"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"user": map[string]interface{}{
				"id":              account.ID,
				"username":        account.Username,
				"full_name":       account.FullName,
				"profile_pic_url": account.ProfilePicURL,
				"is_private":      account.IsPrivate,
				"is_verified":     account.IsVerified,
			},
		},
		"status": "ok",
	})
}

// handleFriendships routes show, destroy, pending and the following and
// followers listings, whose path shapes overlap.
func (s *Server) handleFriendships(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/friendships/"), "/"), "/")

	switch {
	case len(parts) == 2 && parts[0] == "show" && r.Method == http.MethodGet:
		s.handleShow(w, parts[1])
	case len(parts) == 2 && parts[0] == "destroy" && r.Method == http.MethodPost:
		s.handleDestroy(w, parts[1])
	case len(parts) == 1 && parts[0] == "pending" && r.Method == http.MethodGet:
		s.mu.RLock()
		list := s.pending
		s.mu.RUnlock()
		s.writePage(w, r, list)
	case len(parts) == 2 && parts[1] == "following" && r.Method == http.MethodGet:
		s.mu.RLock()
		list := s.following
		s.mu.RUnlock()
		s.writePage(w, r, list)
	case len(parts) == 2 && parts[1] == "followers" && r.Method == http.MethodGet:
		s.mu.RLock()
		list := s.followers
		s.mu.RUnlock()
		s.writePage(w, r, list)
	default:
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"message": "not found", "status": "fail"})
	}
}

func (s *Server) handleShow(w http.ResponseWriter, userID string) {
	s.mu.RLock()
	username, ok := s.byID[userID]
	account := s.accounts[username]
	s.mu.RUnlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"message": "not found", "status": "fail"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outgoing_request": account.Relationship == "pending",
		"following":        account.Relationship == "following",
		"status":           "ok",
	})
}

func (s *Server) handleDestroy(w http.ResponseWriter, userID string) {
	s.mu.Lock()
	s.destroyed = append(s.destroyed, userID)
	if username, ok := s.byID[userID]; ok {
		account := s.accounts[username]
		account.Relationship = ""
		s.accounts[username] = account
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"friendship_status": map[string]interface{}{"following": false, "outgoing_request": false},
		"status":            "ok",
	})
}

// writePage serves one page of list; max_id is the offset of the next page
func (s *Server) writePage(w http.ResponseWriter, r *http.Request, list []Account) {
	s.mu.RLock()
	size := s.pageSize
	s.mu.RUnlock()

	start, _ := strconv.Atoi(r.URL.Query().Get("max_id"))
	if start > len(list) {
		start = len(list)
	}
	end := start + size
	if size <= 0 || end > len(list) {
		end = len(list)
	}

	users := make([]map[string]interface{}, 0, end-start)
	for _, a := range list[start:end] {
		users = append(users, mobileUser(a))
	}

	body := map[string]interface{}{
		"users":    users,
		"big_list": end < len(list),
		"status":   "ok",
	}
	if end < len(list) {
		body["next_max_id"] = strconv.Itoa(end)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write([]byte(fmt.Sprintf("PNG:%s", strings.TrimPrefix(r.URL.Path, "/cdn/"))))
}

func (s *Server) lookup(username string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[username]
	return a, ok
}

// mobileUser renders an account the way mobile endpoints do, with a
// numeric pk when the id is numeric.
func mobileUser(a Account) map[string]interface{} {
	var pk interface{} = a.ID
	if n, err := strconv.ParseInt(a.ID, 10, 64); err == nil {
		pk = n
	}
	return map[string]interface{}{
		"pk":              pk,
		"username":        a.Username,
		"full_name":       a.FullName,
		"profile_pic_url": a.ProfilePicURL,
		"is_private":      a.IsPrivate,
		"is_verified":     a.IsVerified,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
