package instagram

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"instaclean/internal/testutil/mockig"
	errs "instaclean/pkg/errors"
	"instaclean/pkg/logger"
	"instaclean/pkg/retry"
)

// mockRoundTripper allows us to intercept HTTP requests
type mockRoundTripper struct {
	handler func(req *http.Request) (*http.Response, error)
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.handler(req)
}

func newResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func validCreds() Credentials {
	return Credentials{SessionID: mockig.SessionID, DSUserID: mockig.DSUserID, CSRFToken: mockig.CSRFToken}
}

func newTestClient(t *testing.T, srv *mockig.Server, log logger.Logger) *Client {
	t.Helper()
	if log == nil {
		log = logger.NewNopLogger()
	}
	return NewClient(validCreds(), Options{
		APIBaseURL: srv.APIBaseURL(),
		WebBaseURL: srv.WebBaseURL(),
		HTTPClient: srv.Client(),
		Logger:     log,
	})
}

var (
	alice = mockig.Account{ID: "17841400000000001", Username: "alice", FullName: "Alice", Relationship: "pending"}
	bob   = mockig.Account{ID: "2", Username: "bob", Relationship: "following"}
	carol = mockig.Account{ID: "3", Username: "carol", IsPrivate: true, IsVerified: true}
)

func TestValidateSession(t *testing.T) {
	srv := mockig.New(t)
	client := newTestClient(t, srv, nil)

	user, err := client.ValidateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mockig.DSUserID, user.ID)
	assert.Equal(t, "viewer", user.Username)

	srv.ExpireSession()
	_, err = client.ValidateSession(context.Background())
	assert.True(t, errs.IsAuth(err))
}

func TestResolveUser(t *testing.T) {
	srv := mockig.New(t)
	srv.AddAccount(alice, carol)
	client := newTestClient(t, srv, nil)
	ctx := context.Background()

	user, err := client.ResolveUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "17841400000000001", user.ID, "large numeric ids keep every digit")
	assert.Equal(t, "Alice", user.FullName)

	again, err := client.ResolveUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user, again)

	user, err = client.ResolveUser(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, user.IsPrivate)
	assert.True(t, user.IsVerified)
}

func TestResolveUserFallsBackToWebProfile(t *testing.T) {
	srv := mockig.New(t)
	srv.AddAccount(carol)
	srv.Fail(http.MethodGet, "/api/v1/users/carol/usernameinfo/", http.StatusInternalServerError, `{}`)
	client := newTestClient(t, srv, nil)

	user, err := client.ResolveUser(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, "3", user.ID)
	assert.Contains(t, srv.Requests(), "GET /web/api/v1/users/web_profile_info/")
}

func TestResolveUserNotFound(t *testing.T) {
	srv := mockig.New(t)
	client := newTestClient(t, srv, nil)

	user, err := client.ResolveUser(context.Background(), "ghost")
	assert.Nil(t, user)
	assert.True(t, errs.IsNotFound(err))
}

func TestResolveUserMalformedIsNotFound(t *testing.T) {
	srv := mockig.New(t)
	srv.Fail(http.MethodGet, "/api/v1/users/weird/usernameinfo/", http.StatusOK, `not json`)
	srv.Fail(http.MethodGet, "/web/api/v1/users/web_profile_info/", http.StatusOK, `{"data":{"user":{}}}`)
	client := newTestClient(t, srv, nil)

	_, err := client.ResolveUser(context.Background(), "weird")
	assert.True(t, errs.IsNotFound(err))
}

func TestResolveUserPropagatesAbortErrors(t *testing.T) {
	srv := mockig.New(t)
	srv.AddAccount(alice)
	srv.Fail(http.MethodGet, "/api/v1/users/alice/usernameinfo/", http.StatusTooManyRequests, `{"message":"Please wait a few minutes"}`)
	client := newTestClient(t, srv, nil)

	_, err := client.ResolveUser(context.Background(), "alice")
	assert.True(t, errs.IsRateLimit(err))
	assert.NotContains(t, srv.Requests(), "GET /web/api/v1/users/web_profile_info/")

	srv.ClearFailures()
	srv.ExpireSession()
	_, err = client.ResolveUser(context.Background(), "alice")
	assert.True(t, errs.IsAuth(err))
}

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   errs.ErrorType
	}{
		{"ok", 200, `{}`, ""},
		{"rate limited", 429, ``, errs.ErrorTypeRateLimit},
		{"unauthorized", 401, ``, errs.ErrorTypeAuth},
		{"forbidden", 403, ``, errs.ErrorTypeAuth},
		{"checkpoint", 400, `{"message":"checkpoint_required"}`, errs.ErrorTypeAuth},
		{"other bad request", 400, `{"message":"feedback_required"}`, errs.ErrorTypeUnknown},
		{"not found", 404, ``, errs.ErrorTypeNotFound},
		{"server error", 503, ``, errs.ErrorTypeServerError},
		{"teapot", 418, ``, errs.ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errs.TypeOf(classifyResponse(tt.status, []byte(tt.body))))
		})
	}
}

func TestFriendshipStatus(t *testing.T) {
	srv := mockig.New(t)
	srv.AddAccount(alice, bob, carol)
	client := newTestClient(t, srv, nil)
	ctx := context.Background()

	tests := []struct {
		id   string
		want Relationship
	}{
		{alice.ID, RelationshipPending},
		{bob.ID, RelationshipAccepted},
		{carol.ID, RelationshipNone},
		{"999", RelationshipNone},
	}
	for _, tt := range tests {
		rel, err := client.FriendshipStatus(ctx, tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.want, rel, "user %s", tt.id)
	}
}

func TestDestroyFriendship(t *testing.T) {
	srv := mockig.New(t)
	srv.AddAccount(alice, bob)
	client := newTestClient(t, srv, nil)
	ctx := context.Background()

	require.NoError(t, client.CancelFollowRequest(ctx, alice.ID))
	require.NoError(t, client.Unfollow(ctx, bob.ID))
	assert.Equal(t, []string{alice.ID, bob.ID}, srv.Destroyed())

	rel, err := client.FriendshipStatus(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, RelationshipNone, rel)

	srv.Fail(http.MethodPost, "/api/v1/friendships/destroy/3/", http.StatusBadRequest, `{"message":"checkpoint_required"}`)
	assert.True(t, errs.IsAuth(client.Unfollow(ctx, "3")))
}

func TestPaginatedListings(t *testing.T) {
	srv := mockig.New(t)
	srv.SetPageSize(2)
	srv.SetPending(alice, bob, carol)
	client := newTestClient(t, srv, nil)

	users, err := client.PendingRequests(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, []string{"alice", "bob", "carol"}, []string{users[0].Username, users[1].Username, users[2].Username})

	pages := 0
	for _, r := range srv.Requests() {
		if r == "GET /api/v1/friendships/pending/" {
			pages++
		}
	}
	assert.Equal(t, 2, pages)
}

func TestPaginationPropagatesErrors(t *testing.T) {
	srv := mockig.New(t)
	srv.SetFollowing(alice)
	srv.Fail(http.MethodGet, "/api/v1/friendships/1000/following/", http.StatusTooManyRequests, `{}`)
	client := newTestClient(t, srv, nil)

	_, err := client.Following(context.Background(), "")
	assert.True(t, errs.IsRateLimit(err))
}

func TestNotFollowingBack(t *testing.T) {
	srv := mockig.New(t)
	srv.SetPageSize(1)
	srv.SetFollowing(alice, bob, carol)
	srv.SetFollowers(bob)
	client := newTestClient(t, srv, nil)

	users, err := client.NotFollowingBack(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "carol", users[1].Username)
}

func TestRetryOnServerError(t *testing.T) {
	calls := 0
	httpClient := &http.Client{Transport: &mockRoundTripper{handler: func(req *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return newResponse(http.StatusBadGateway, ""), nil
		}
		return newResponse(http.StatusOK, `{"outgoing_request":true}`), nil
	}}}

	tl := logger.NewTestLogger()
	retryCfg := retry.DefaultConfig()
	retryCfg.InitialDelay = time.Millisecond
	retryCfg.MaxDelay = time.Millisecond
	retryCfg.Logger = tl

	client := NewClient(validCreds(), Options{HTTPClient: httpClient, Retry: retryCfg, Logger: tl})

	rel, err := client.FriendshipStatus(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, RelationshipPending, rel)
	assert.Equal(t, 3, calls)
	assert.Len(t, tl.GetMessagesByLevel("WARN"), 2)
}

func TestRateLimitIsNotRetried(t *testing.T) {
	calls := 0
	httpClient := &http.Client{Transport: &mockRoundTripper{handler: func(req *http.Request) (*http.Response, error) {
		calls++
		return newResponse(http.StatusTooManyRequests, ""), nil
	}}}

	retryCfg := retry.DefaultConfig()
	retryCfg.InitialDelay = time.Millisecond
	client := NewClient(validCreds(), Options{HTTPClient: httpClient, Retry: retryCfg, Logger: logger.NewNopLogger()})

	err := client.CancelFollowRequest(context.Background(), "42")
	assert.True(t, errs.IsRateLimit(err))
	assert.Equal(t, 1, calls)
}

func TestRequestHeadersAndCookies(t *testing.T) {
	var captured *http.Request
	httpClient := &http.Client{Transport: &mockRoundTripper{handler: func(req *http.Request) (*http.Response, error) {
		captured = req
		return newResponse(http.StatusOK, `{"status":"ok"}`), nil
	}}}

	client := NewClient(validCreds(), Options{HTTPClient: httpClient, Logger: logger.NewNopLogger()})
	require.NoError(t, client.DestroyFriendship(context.Background(), "42"))

	require.NotNil(t, captured)
	assert.Equal(t, http.MethodPost, captured.Method)
	assert.Equal(t, "https://i.instagram.com/api/v1/friendships/destroy/42/", captured.URL.String())
	assert.Equal(t, DefaultUserAgent, captured.Header.Get("User-Agent"))
	assert.Equal(t, DefaultAppID, captured.Header.Get("X-IG-App-ID"))
	assert.Equal(t, mockig.CSRFToken, captured.Header.Get("X-CSRFToken"))
	assert.Equal(t, "https://www.instagram.com", captured.Header.Get("Origin"))

	for name, want := range map[string]string{
		"sessionid":  mockig.SessionID,
		"ds_user_id": mockig.DSUserID,
		"csrftoken":  mockig.CSRFToken,
	} {
		cookie, err := captured.Cookie(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, cookie.Value)
	}
}

func TestFetchImage(t *testing.T) {
	httpClient := &http.Client{Transport: &mockRoundTripper{handler: func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/missing.jpg" {
			return newResponse(http.StatusNotFound, ""), nil
		}
		resp := newResponse(http.StatusOK, "PNGDATA")
		resp.Header.Set("Content-Type", "image/png")
		return resp, nil
	}}}
	client := NewClient(validCreds(), Options{HTTPClient: httpClient, Logger: logger.NewNopLogger()})
	ctx := context.Background()

	data, contentType, err := client.FetchImage(ctx, "https://scontent-lhr8-1.cdninstagram.com/v/pic.png")
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))
	assert.Equal(t, "image/png", contentType)

	_, _, err = client.FetchImage(ctx, "https://scontent.fbcdn.net/missing.jpg")
	assert.Error(t, err)

	_, _, err = client.FetchImage(ctx, "https://evil.example.com/pic.png")
	assert.True(t, errs.IsValidation(err))
}

func TestContextCancellation(t *testing.T) {
	srv := mockig.New(t)
	srv.AddAccount(alice)
	client := newTestClient(t, srv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.ResolveUser(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
}
