package task

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID builds a task id for kind and owner stamped with createdAt
func NewID(kind Kind, owner string, createdAt time.Time) (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(createdAt), entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate task id: %w", err)
	}
	return fmt.Sprintf("%s_%s_%s", kind, owner, id), nil
}

// ParsedID holds the parts embedded in a task id
type ParsedID struct {
	Kind      Kind
	Owner     string
	CreatedAt time.Time
}

// ParseID splits a task id into kind, owner and creation time
func ParseID(id string) (ParsedID, error) {
	first := strings.Index(id, "_")
	last := strings.LastIndex(id, "_")
	if first <= 0 || last <= first {
		return ParsedID{}, fmt.Errorf("malformed task id %q", id)
	}

	u, err := ulid.ParseStrict(id[last+1:])
	if err != nil {
		return ParsedID{}, fmt.Errorf("malformed task id %q: %w", id, err)
	}

	return ParsedID{
		Kind:      Kind(id[:first]),
		Owner:     id[first+1 : last],
		CreatedAt: ulid.Time(u.Time()),
	}, nil
}
