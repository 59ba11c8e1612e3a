package instagram

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestEndpoints(t *testing.T) {
	e := newEndpoints("", "")

	assert.Equal(t, "https://i.instagram.com/api/v1/accounts/current_user/?edit=true", e.currentUser())
	assert.Equal(t, "https://i.instagram.com/api/v1/users/alice/usernameinfo/", e.usernameInfo("alice"))
	assert.Equal(t, "https://www.instagram.com/api/v1/users/web_profile_info/?username=alice", e.webProfileInfo("alice"))
	assert.Equal(t, "https://i.instagram.com/api/v1/friendships/show/42/", e.friendshipShow("42"))
	assert.Equal(t, "https://i.instagram.com/api/v1/friendships/destroy/42/", e.friendshipDestroy("42"))
	assert.Equal(t, "https://i.instagram.com/api/v1/friendships/pending/", e.pendingIncoming(""))
	assert.Equal(t, "https://i.instagram.com/api/v1/friendships/pending/?max_id=abc", e.pendingIncoming("abc"))

	list, err := url.Parse(e.friendshipList("42", "followers", "cursor"))
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/friendships/42/followers/", list.Path)
	assert.Equal(t, "200", list.Query().Get("count"))
	assert.Equal(t, "cursor", list.Query().Get("max_id"))
}

func TestEndpointsTrimTrailingSlash(t *testing.T) {
	e := newEndpoints("http://127.0.0.1:9/api/v1/", "http://127.0.0.1:9/web/")
	assert.Equal(t, "http://127.0.0.1:9/api/v1/friendships/show/1/", e.friendshipShow("1"))
	assert.Equal(t, "http://127.0.0.1:9/web/api/v1/users/web_profile_info/?username=x", e.webProfileInfo("x"))
}

func TestIsValidUsername(t *testing.T) {
	tests := []struct {
		username string
		valid    bool
	}{
		{"alice", true},
		{"alice.b_2", true},
		{"", false},
		{"has space", false},
		{"emoji😀", false},
		{"abcdefghijklmnopqrstuvwxyz12345", false},
	}

	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidUsername(tt.username))
		})
	}
}

func TestSanitizeUsername(t *testing.T) {
	assert.Equal(t, "alice", SanitizeUsername("@alice"))
	assert.Equal(t, "alice", SanitizeUsername("  alice/ "))
	assert.Equal(t, "", SanitizeUsername("@"))
}

func TestGetUserProfileURL(t *testing.T) {
	assert.Equal(t, "https://www.instagram.com/alice/", GetUserProfileURL("alice"))
	assert.Empty(t, GetUserProfileURL(""))
}

func TestIsAllowedImageURL(t *testing.T) {
	assert.True(t, IsAllowedImageURL("https://scontent.cdninstagram.com/v/a.jpg"))
	assert.True(t, IsAllowedImageURL("https://scontent-iad3-1.xx.fbcdn.net/v/a.jpg"))
	assert.True(t, IsAllowedImageURL("https://instagram.fxyz1-1.fna.fbcdn.net/a.jpg"))
	assert.False(t, IsAllowedImageURL("https://example.com/instagram.jpg"))
	assert.False(t, IsAllowedImageURL("ftp://cdninstagram.com/a.jpg"))
	assert.False(t, IsAllowedImageURL("not a url"))
}

func TestParseUser(t *testing.T) {
	u := parseUser(gjson.Parse(`{"pk":1234567890123456789,"username":"a","is_private":true}`))
	assert.Equal(t, "1234567890123456789", u.ID)
	assert.Equal(t, "a", u.Username)
	assert.True(t, u.IsPrivate)
	assert.Empty(t, u.FullName)

	u = parseUser(gjson.Parse(`{"pk_id":"77","username":"b"}`))
	assert.Equal(t, "77", u.ID)

	u = parseUser(gjson.Parse(`{"id":"88","username":"c","is_verified":true}`))
	assert.Equal(t, "88", u.ID)
	assert.True(t, u.IsVerified)

	assert.Equal(t, User{}, parseUser(gjson.Parse(`{}`)))
}

func TestParseRelationship(t *testing.T) {
	assert.Equal(t, RelationshipPending, parseRelationship(gjson.Parse(`{"outgoing_request":true,"following":false}`)))
	assert.Equal(t, RelationshipAccepted, parseRelationship(gjson.Parse(`{"following":true}`)))
	assert.Equal(t, RelationshipNone, parseRelationship(gjson.Parse(`{}`)))
}

func TestCredentials(t *testing.T) {
	c := Credentials{SessionID: " s ", DSUserID: "1\n", CSRFToken: "t"}.Trimmed()
	assert.Equal(t, Credentials{SessionID: "s", DSUserID: "1", CSRFToken: "t"}, c)
	assert.True(t, c.Complete())
	assert.False(t, Credentials{SessionID: "s"}.Complete())
}
