package instagram

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Credentials are the three session cookies captured from a logged-in browser
type Credentials struct {
	SessionID string `json:"-"`
	DSUserID  string `json:"ds_user_id"`
	CSRFToken string `json:"-"`
}

// Complete reports whether all three values are present
func (c Credentials) Complete() bool {
	return c.SessionID != "" && c.DSUserID != "" && c.CSRFToken != ""
}

// Trimmed returns a copy with surrounding whitespace removed from every value
func (c Credentials) Trimmed() Credentials {
	return Credentials{
		SessionID: strings.TrimSpace(c.SessionID),
		DSUserID:  strings.TrimSpace(c.DSUserID),
		CSRFToken: strings.TrimSpace(c.CSRFToken),
	}
}

// User is the normalized account record shared by every endpoint
type User struct {
	ID            string `json:"user_id"`
	Username      string `json:"username"`
	FullName      string `json:"full_name"`
	ProfilePicURL string `json:"profile_pic_url"`
	IsPrivate     bool   `json:"is_private"`
	IsVerified    bool   `json:"is_verified"`
}

// Relationship is the viewer's follow state towards another account
type Relationship string

const (
	// RelationshipPending means a follow request is outstanding
	RelationshipPending Relationship = "pending"
	// RelationshipAccepted means the viewer already follows the account
	RelationshipAccepted Relationship = "accepted"
	// RelationshipNone means neither of the above
	RelationshipNone Relationship = "none"
)

// parseUser normalizes a user object. Mobile endpoints key the identity as
// pk (sometimes pk_id), web endpoints as id; numeric ids keep their exact
// digits. Missing fields default to zero values.
func parseUser(obj gjson.Result) User {
	id := obj.Get("pk")
	if !id.Exists() {
		id = obj.Get("pk_id")
	}
	if !id.Exists() {
		id = obj.Get("id")
	}

	return User{
		ID:            id.String(),
		Username:      obj.Get("username").String(),
		FullName:      obj.Get("full_name").String(),
		ProfilePicURL: obj.Get("profile_pic_url").String(),
		IsPrivate:     obj.Get("is_private").Bool(),
		IsVerified:    obj.Get("is_verified").Bool(),
	}
}

// parseUsers normalizes every element of a users array
func parseUsers(arr gjson.Result) []User {
	items := arr.Array()
	users := make([]User, 0, len(items))
	for _, item := range items {
		users = append(users, parseUser(item))
	}
	return users
}

// parseRelationship maps a friendships/show payload
func parseRelationship(body gjson.Result) Relationship {
	switch {
	case body.Get("outgoing_request").Bool():
		return RelationshipPending
	case body.Get("following").Bool():
		return RelationshipAccepted
	default:
		return RelationshipNone
	}
}

// page is one slice of a paginated listing
type page struct {
	Users   []User
	NextMax string
	More    bool
}

func parsePage(body gjson.Result) page {
	return page{
		Users:   parseUsers(body.Get("users")),
		NextMax: body.Get("next_max_id").String(),
		More:    body.Get("big_list").Bool(),
	}
}
