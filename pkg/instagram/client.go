package instagram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	errs "instaclean/pkg/errors"
	"instaclean/pkg/logger"
	"instaclean/pkg/metrics"
	"instaclean/pkg/ratelimit"
	"instaclean/pkg/retry"
)

// maxBodyBytes bounds how much of any upstream response is read.
const maxBodyBytes = 20 << 20

var (
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Upstream API requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency of single upstream request attempts.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})
)

// Options configures a Client. Zero values fall back to production defaults.
type Options struct {
	Timeout    time.Duration
	APIBaseURL string
	WebBaseURL string
	UserAgent  string
	AppID      string
	// PageDelay is slept between pages of a paginated listing
	PageDelay time.Duration
	// Limiter throttles every API request; image fetches bypass it
	Limiter ratelimit.Limiter
	// Retry is applied to transient failures; nil means a single attempt
	Retry      *retry.Config
	HTTPClient *http.Client
	Logger     logger.Logger
}

// Client represents an authenticated Instagram API client
type Client struct {
	creds      Credentials
	httpClient *http.Client
	headers    map[string]string
	urls       endpoints
	limiter    ratelimit.Limiter
	retry      *retry.Config
	pageDelay  time.Duration
	logger     logger.Logger
}

// NewClient creates a client bound to one set of session cookies
func NewClient(creds Credentials, opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	appID := opts.AppID
	if appID == "" {
		appID = DefaultAppID
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited()
	}

	retryCfg := opts.Retry
	if retryCfg == nil {
		retryCfg = &retry.Config{MaxAttempts: 1}
	}

	urls := newEndpoints(opts.APIBaseURL, opts.WebBaseURL)

	return &Client{
		creds:      creds,
		httpClient: httpClient,
		headers: map[string]string{
			"User-Agent":       userAgent,
			"X-CSRFToken":      creds.CSRFToken,
			"X-IG-App-ID":      appID,
			"X-IG-WWW-Claim":   "0",
			"X-Requested-With": "XMLHttpRequest",
			"Accept":           "*/*",
			"Accept-Language":  "en-US,en;q=0.9",
			"Origin":           urls.web,
			"Referer":          urls.web + "/",
		},
		urls:      urls,
		limiter:   limiter,
		retry:     retryCfg,
		pageDelay: opts.PageDelay,
		logger:    log.WithField("ds_user_id", creds.DSUserID),
	}
}

// request describes one upstream call
type request struct {
	method   string
	url      string
	endpoint string
	// raw skips the rate limiter and the API status classification
	raw bool
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// do performs req with rate limiting and retries
func (c *Client) do(ctx context.Context, req request) (*response, error) {
	return retry.DoWithResult(ctx, func() (*response, error) {
		return c.attempt(ctx, req)
	}, c.retry)
}

// attempt performs a single HTTP round trip and classifies the outcome
func (c *Client) attempt(ctx context.Context, req request) (*response, error) {
	if !req.raw {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body io.Reader
	if req.method == http.MethodPost {
		body = strings.NewReader("")
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, 0, "failed to create request", err)
	}
	for key, value := range c.headers {
		httpReq.Header.Set(key, value)
	}
	if req.method == http.MethodPost {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	httpReq.AddCookie(&http.Cookie{Name: "sessionid", Value: c.creds.SessionID})
	httpReq.AddCookie(&http.Cookie{Name: "ds_user_id", Value: c.creds.DSUserID})
	httpReq.AddCookie(&http.Cookie{Name: "csrftoken", Value: c.creds.CSRFToken})

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)
	upstreamDuration.WithLabelValues(req.endpoint).Observe(duration.Seconds())

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"endpoint": req.endpoint,
			"error":    err.Error(),
			"duration": duration,
		})
		upstreamRequests.WithLabelValues(req.endpoint, string(errs.ErrorTypeNetwork)).Inc()
		return nil, errs.Wrap(errs.ErrorTypeNetwork, 0, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		upstreamRequests.WithLabelValues(req.endpoint, string(errs.ErrorTypeNetwork)).Inc()
		return nil, errs.Wrap(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read response body", err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"endpoint": req.endpoint,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	var classified error
	if req.raw {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			classified = errs.New(errs.ErrorTypeNotFound, resp.StatusCode,
				fmt.Sprintf("image fetch returned status %d", resp.StatusCode))
		}
	} else {
		classified = classifyResponse(resp.StatusCode, data)
	}

	outcome := "ok"
	if classified != nil {
		outcome = string(errs.TypeOf(classified))
	}
	upstreamRequests.WithLabelValues(req.endpoint, outcome).Inc()

	if classified != nil {
		return nil, classified
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// classifyResponse is the single place upstream statuses become typed errors
func classifyResponse(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return errs.RateLimited("rate limited by Instagram, wait a few minutes")
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return errs.New(errs.ErrorTypeAuth, status, "session expired or invalid cookies")
	case status == http.StatusBadRequest:
		message := gjson.GetBytes(body, "message").String()
		if message == "checkpoint_required" {
			return errs.New(errs.ErrorTypeAuth, status,
				"checkpoint verification required: complete the challenge on instagram.com, then log in again")
		}
		if message == "" {
			message = "unknown"
		}
		return errs.New(errs.ErrorTypeUnknown, status, "bad request: "+message)
	case status == http.StatusNotFound:
		return errs.NotFound("resource not found")
	case status >= 500:
		return errs.New(errs.ErrorTypeServerError, status, fmt.Sprintf("server returned status %d", status))
	default:
		return errs.New(errs.ErrorTypeUnknown, status, fmt.Sprintf("unexpected status code: %d", status))
	}
}

// getJSON performs an API call and parses the body
func (c *Client) getJSON(ctx context.Context, method, url, endpoint string) (gjson.Result, error) {
	resp, err := c.do(ctx, request{method: method, url: url, endpoint: endpoint})
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(resp.body) {
		preview := string(resp.body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"endpoint":     endpoint,
			"status":       resp.status,
			"body_preview": preview,
		})
		return gjson.Result{}, errs.New(errs.ErrorTypeParsing, resp.status, "invalid JSON in response")
	}
	return gjson.ParseBytes(resp.body), nil
}

// ValidateSession fetches the logged-in account, proving the cookies work
func (c *Client) ValidateSession(ctx context.Context) (*User, error) {
	body, err := c.getJSON(ctx, http.MethodGet, c.urls.currentUser(), "current_user")
	if err != nil {
		return nil, err
	}

	obj := body.Get("user")
	if !obj.IsObject() {
		return nil, errs.New(errs.ErrorTypeParsing, http.StatusOK, "current user response has no user")
	}
	user := parseUser(obj)
	return &user, nil
}

// ResolveUser looks up an account by username. The mobile usernameinfo
// endpoint is tried first, then web_profile_info. Throttling and session
// errors are returned as-is; any other failure of both strategies yields a
// not-found error.
func (c *Client) ResolveUser(ctx context.Context, username string) (*User, error) {
	strategies := []struct {
		endpoint string
		url      string
		path     string
	}{
		{"usernameinfo", c.urls.usernameInfo(username), "user"},
		{"web_profile_info", c.urls.webProfileInfo(username), "data.user"},
	}

	for _, s := range strategies {
		body, err := c.getJSON(ctx, http.MethodGet, s.url, s.endpoint)
		if err != nil {
			if errs.IsAbort(err) || ctx.Err() != nil {
				return nil, err
			}
			c.logger.DebugWithFields("lookup strategy failed", map[string]interface{}{
				"username": username,
				"strategy": s.endpoint,
				"error":    err.Error(),
			})
			continue
		}

		user := parseUser(body.Get(s.path))
		if user.ID == "" {
			continue
		}
		if user.Username == "" {
			user.Username = username
		}
		return &user, nil
	}

	return nil, errs.NotFound(fmt.Sprintf("user %q not found", username))
}

// FriendshipStatus reports the viewer's relationship with userID. An
// unknown account has no relationship.
func (c *Client) FriendshipStatus(ctx context.Context, userID string) (Relationship, error) {
	body, err := c.getJSON(ctx, http.MethodGet, c.urls.friendshipShow(userID), "friendship_show")
	if errs.IsNotFound(err) {
		return RelationshipNone, nil
	}
	if err != nil {
		return "", err
	}
	return parseRelationship(body), nil
}

// DestroyFriendship removes any follow edge or outstanding request towards userID
func (c *Client) DestroyFriendship(ctx context.Context, userID string) error {
	_, err := c.do(ctx, request{
		method:   http.MethodPost,
		url:      c.urls.friendshipDestroy(userID),
		endpoint: "friendship_destroy",
	})
	return err
}

// CancelFollowRequest withdraws a pending outgoing follow request
func (c *Client) CancelFollowRequest(ctx context.Context, userID string) error {
	return c.DestroyFriendship(ctx, userID)
}

// Unfollow stops following userID
func (c *Client) Unfollow(ctx context.Context, userID string) error {
	return c.DestroyFriendship(ctx, userID)
}

// PendingRequests lists accounts that asked to follow the viewer
func (c *Client) PendingRequests(ctx context.Context) ([]User, error) {
	return c.paginate(ctx, "friendship_pending", c.urls.pendingIncoming)
}

// Following lists accounts userID follows. An empty userID means the viewer.
func (c *Client) Following(ctx context.Context, userID string) ([]User, error) {
	if userID == "" {
		userID = c.creds.DSUserID
	}
	return c.paginate(ctx, "friendship_following", func(maxID string) string {
		return c.urls.friendshipList(userID, "following", maxID)
	})
}

// Followers lists accounts following userID. An empty userID means the viewer.
func (c *Client) Followers(ctx context.Context, userID string) ([]User, error) {
	if userID == "" {
		userID = c.creds.DSUserID
	}
	return c.paginate(ctx, "friendship_followers", func(maxID string) string {
		return c.urls.friendshipList(userID, "followers", maxID)
	})
}

// NotFollowingBack lists accounts the viewer follows that do not follow
// back, in following order. Both listings are fetched concurrently.
func (c *Client) NotFollowingBack(ctx context.Context) ([]User, error) {
	var following, followers []User

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		following, err = c.Following(gctx, "")
		return err
	})
	g.Go(func() error {
		var err error
		followers, err = c.Followers(gctx, "")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	followerIDs := make(map[string]struct{}, len(followers))
	for _, u := range followers {
		followerIDs[u.ID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(following))
	result := make([]User, 0)
	for _, u := range following {
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		if _, ok := followerIDs[u.ID]; !ok {
			result = append(result, u)
		}
	}
	return result, nil
}

// paginate follows next_max_id while big_list is set, sleeping PageDelay
// between pages. A 404 ends the listing.
func (c *Client) paginate(ctx context.Context, endpoint string, pageURL func(maxID string) string) ([]User, error) {
	users := make([]User, 0)
	maxID := ""

	for {
		body, err := c.getJSON(ctx, http.MethodGet, pageURL(maxID), endpoint)
		if errs.IsNotFound(err) {
			return users, nil
		}
		if err != nil {
			return nil, err
		}

		p := parsePage(body)
		users = append(users, p.Users...)

		if !p.More || p.NextMax == "" {
			return users, nil
		}
		maxID = p.NextMax

		if err := retry.Wait(ctx, c.pageDelay); err != nil {
			return nil, err
		}
	}
}

// FetchImage downloads an image from the CDN, returning its bytes and
// content type.
func (c *Client) FetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	if !IsAllowedImageURL(imageURL) {
		return nil, "", errs.Validation("image host not allowed")
	}

	resp, err := c.do(ctx, request{
		method:   http.MethodGet,
		url:      imageURL,
		endpoint: "image",
		raw:      true,
	})
	if err != nil {
		return nil, "", err
	}

	contentType := resp.header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return resp.body, contentType, nil
}
