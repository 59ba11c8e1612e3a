// Package auth keeps logged-in sessions in process memory. A session binds a
// random id, carried in a browser cookie, to the Instagram cookies the user
// pasted at login and the profile they resolved to.
package auth

import (
	"errors"

	errs "instaclean/pkg/errors"
	"instaclean/pkg/instagram"
)

// Errors
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidCredentials = errs.Validation("All three cookies are required.")
)

// ValidateCredentials trims c and checks every cookie is present
func ValidateCredentials(c instagram.Credentials) (instagram.Credentials, error) {
	c = c.Trimmed()
	if !c.Complete() {
		return c, ErrInvalidCredentials
	}
	return c, nil
}

// SanitizeCredentials masks the secrets in c for logging
func SanitizeCredentials(c instagram.Credentials) instagram.Credentials {
	return instagram.Credentials{
		SessionID: maskString(c.SessionID),
		DSUserID:  c.DSUserID,
		CSRFToken: maskString(c.CSRFToken),
	}
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
