// Package dataexport reads follow request usernames out of Instagram's
// "Download your information" archives and out of pasted text.
package dataexport

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// PendingRequestsFile is the export page listing outgoing follow requests
const PendingRequestsFile = "pending_follow_requests.html"

// maxListedFiles bounds the HTML file names reported when the page is missing
const maxListedFiles = 20

// maxPageBytes bounds the decompressed size of the export page
var maxPageBytes int64 = 64 << 20

var (
	// ErrNotZip is returned when the upload is not a readable zip archive
	ErrNotZip = errors.New("not a valid zip file")
	// ErrPageTooLarge is returned when the export page inflates past maxPageBytes
	ErrPageTooLarge = errors.New("export page is too large")
)

var (
	// a profile link followed by the cell holding the request date
	pairPattern = regexp.MustCompile(`href="https://www\.instagram\.com/([^"/?]+)"[^<]*</a></div>\s*<div>([^<]+)</div>`)
	linkPattern = regexp.MustCompile(`href="https://www\.instagram\.com/([^"/?]+)"`)
	separators  = regexp.MustCompile(`[\n,\s]+`)
)

// MissingFileError reports an archive without the pending requests page
type MissingFileError struct {
	HTMLFiles []string
	Total     int
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("could not find %s in the zip, found %d HTML files", PendingRequestsFile, e.Total)
}

// Result is the ordered, de-duplicated content of an export page
type Result struct {
	Usernames []string          `json:"usernames"`
	Dates     map[string]string `json:"dates"`
	File      string            `json:"file,omitempty"`
}

// Count returns the number of usernames found
func (r *Result) Count() int { return len(r.Usernames) }

// ParseHTML extracts usernames with their request dates. Pages without date
// cells fall back to bare profile links, leaving Dates empty.
func ParseHTML(html string) *Result {
	res := &Result{Usernames: []string{}, Dates: make(map[string]string)}
	seen := make(map[string]bool)

	if pairs := pairPattern.FindAllStringSubmatch(html, -1); len(pairs) > 0 {
		for _, m := range pairs {
			if seen[m[1]] {
				continue
			}
			seen[m[1]] = true
			res.Usernames = append(res.Usernames, m[1])
			res.Dates[m[1]] = strings.TrimSpace(m[2])
		}
		return res
	}

	for _, m := range linkPattern.FindAllStringSubmatch(html, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		res.Usernames = append(res.Usernames, m[1])
	}
	return res
}

// ExtractZip finds the pending requests page in an export archive and
// parses it.
func ExtractZip(data []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotZip, err)
	}

	var target *zip.File
	var htmlFiles []string
	for _, f := range zr.File {
		if target == nil && strings.HasSuffix(f.Name, PendingRequestsFile) {
			target = f
		}
		if strings.HasSuffix(f.Name, ".html") {
			htmlFiles = append(htmlFiles, f.Name)
		}
	}

	if target == nil {
		listed := htmlFiles
		if len(listed) > maxListedFiles {
			listed = listed[:maxListedFiles]
		}
		if listed == nil {
			listed = []string{}
		}
		return nil, &MissingFileError{HTMLFiles: listed, Total: len(htmlFiles)}
	}

	rc, err := target.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", target.Name, err)
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, maxPageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", target.Name, err)
	}
	if int64(len(body)) > maxPageBytes {
		return nil, ErrPageTooLarge
	}

	res := ParseHTML(strings.ToValidUTF8(string(body), ""))
	res.File = target.Name
	return res, nil
}

// NormalizeUsername trims whitespace and a leading @
func NormalizeUsername(s string) string {
	return strings.TrimLeft(strings.TrimSpace(s), "@")
}

// ParseUsernameList splits pasted text on newlines, commas and whitespace
func ParseUsernameList(raw string) []string {
	return Merge(nil, separators.Split(raw, -1)...)
}

// Merge appends the normalized, non-empty usernames not already in base,
// preserving first-seen order.
func Merge(base []string, more ...string) []string {
	seen := make(map[string]bool, len(base)+len(more))
	out := make([]string, 0, len(base)+len(more))
	for _, u := range base {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	for _, u := range more {
		u = NormalizeUsername(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
