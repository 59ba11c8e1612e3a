package instagram

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultAPIBaseURL is the private mobile API root
	DefaultAPIBaseURL = "https://i.instagram.com/api/v1"

	// DefaultWebBaseURL is the public web origin
	DefaultWebBaseURL = "https://www.instagram.com"

	// DefaultUserAgent identifies the client as the Android app
	DefaultUserAgent = "Instagram 317.0.0.34.109 Android (30/11; 420dpi; 1080x2220; " +
		"samsung; SM-A515F; a51; exynos9611; en_US; 562800748)"

	// DefaultAppID is the X-IG-App-ID header value
	DefaultAppID = "936619743392459"

	// FriendshipPageSize is the count requested per following/followers page
	FriendshipPageSize = 200
)

// endpoints builds upstream URLs against configurable roots so tests can
// point the client at a fake server.
type endpoints struct {
	api string
	web string
}

func newEndpoints(api, web string) endpoints {
	if api == "" {
		api = DefaultAPIBaseURL
	}
	if web == "" {
		web = DefaultWebBaseURL
	}
	return endpoints{
		api: strings.TrimSuffix(api, "/"),
		web: strings.TrimSuffix(web, "/"),
	}
}

func (e endpoints) currentUser() string {
	return e.api + "/accounts/current_user/?edit=true"
}

func (e endpoints) usernameInfo(username string) string {
	return e.api + "/users/" + url.PathEscape(username) + "/usernameinfo/"
}

func (e endpoints) webProfileInfo(username string) string {
	params := url.Values{}
	params.Set("username", username)
	return e.web + "/api/v1/users/web_profile_info/?" + params.Encode()
}

func (e endpoints) friendshipShow(userID string) string {
	return e.api + "/friendships/show/" + url.PathEscape(userID) + "/"
}

func (e endpoints) friendshipDestroy(userID string) string {
	return e.api + "/friendships/destroy/" + url.PathEscape(userID) + "/"
}

func (e endpoints) pendingIncoming(maxID string) string {
	u := e.api + "/friendships/pending/"
	if maxID != "" {
		params := url.Values{}
		params.Set("max_id", maxID)
		u += "?" + params.Encode()
	}
	return u
}

// friendshipList covers both {id}/following and {id}/followers
func (e endpoints) friendshipList(userID, edge, maxID string) string {
	params := url.Values{}
	params.Set("count", strconv.Itoa(FriendshipPageSize))
	if maxID != "" {
		params.Set("max_id", maxID)
	}
	return e.api + "/friendships/" + url.PathEscape(userID) + "/" + edge + "/?" + params.Encode()
}

// GetUserProfileURL constructs the public profile URL for a user
func GetUserProfileURL(username string) string {
	if username == "" {
		return ""
	}
	return DefaultWebBaseURL + "/" + username + "/"
}

// IsValidUsername checks if a username is valid according to Instagram rules
func IsValidUsername(username string) bool {
	if username == "" || len(username) > 30 {
		return false
	}

	for _, char := range username {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '.' || char == '_') {
			return false
		}
	}

	return true
}

// SanitizeUsername strips a leading @, surrounding whitespace and trailing slashes
func SanitizeUsername(username string) string {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "@")
	return strings.TrimRight(username, "/ ")
}

// IsAllowedImageURL reports whether the proxy may fetch raw. Only the
// platform's own image hosts are allowed.
func IsAllowedImageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, marker := range []string{"instagram", "fbcdn", "cdninstagram"} {
		if strings.Contains(host, marker) {
			return true
		}
	}
	return false
}
