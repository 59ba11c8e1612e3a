package task

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAlreadyAttached is returned when a second reporter tries to consume a
// task's delivery channel while another is attached.
var ErrAlreadyAttached = errors.New("task stream already attached")

// Kind is the operation a task applies to each item
type Kind string

const (
	// KindLookup resolves usernames to profiles
	KindLookup Kind = "lookup"
	// KindCancel withdraws outgoing follow requests
	KindCancel Kind = "cancel"
	// KindUnfollow unfollows accounts
	KindUnfollow Kind = "unfollow"
	// KindResolve resolves usernames and checks the relationship with each
	KindResolve Kind = "resolve"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	switch k {
	case KindLookup, KindCancel, KindUnfollow, KindResolve:
		return true
	}
	return false
}

// Mutating reports whether items change upstream state
func (k Kind) Mutating() bool {
	return k == KindCancel || k == KindUnfollow
}

// Status is the lifecycle state of a task
type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusRateLimited Status = "rate_limited"
	StatusAuthError   Status = "auth_error"
	StatusExpired     Status = "expired"
)

// Terminal reports whether no further transitions are possible
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRateLimited, StatusAuthError, StatusExpired:
		return true
	}
	return false
}

// ItemStatus is the outcome of one item
type ItemStatus string

const (
	ItemCancelled   ItemStatus = "cancelled"
	ItemUnfollowed  ItemStatus = "unfollowed"
	ItemFound       ItemStatus = "found"
	ItemPending     ItemStatus = "pending"
	ItemAccepted    ItemStatus = "accepted"
	ItemNotPending  ItemStatus = "not_pending"
	ItemNotFound    ItemStatus = "not_found"
	ItemUnknown     ItemStatus = "unknown"
	ItemError       ItemStatus = "error"
	ItemRateLimited ItemStatus = "rate_limited"
	ItemAuthError   ItemStatus = "auth_error"
)

// Succeeded reports whether the item counts as a success
func (s ItemStatus) Succeeded() bool {
	switch s {
	case ItemCancelled, ItemUnfollowed, ItemFound, ItemPending, ItemAccepted, ItemNotPending:
		return true
	}
	return false
}

// Skipped reports whether the item failed because its target does not exist
func (s ItemStatus) Skipped() bool {
	return s == ItemNotFound
}

// Target is one input item. Cancel and unfollow batches may carry either
// field; username-based kinds carry Username.
type Target struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// Label identifies the target in logs
func (t Target) Label() string {
	if t.Username != "" {
		return t.Username
	}
	return t.UserID
}

// Result is the immutable outcome of one item
type Result struct {
	Index         int        `json:"index"`
	UserID        string     `json:"user_id,omitempty"`
	Username      string     `json:"username,omitempty"`
	Status        ItemStatus `json:"status"`
	Error         string     `json:"error,omitempty"`
	RequestDate   string     `json:"request_date,omitempty"`
	FullName      string     `json:"full_name,omitempty"`
	ProfilePicURL string     `json:"profile_pic_url,omitempty"`
	IsPrivate     bool       `json:"is_private,omitempty"`
	IsVerified    bool       `json:"is_verified,omitempty"`
}

// Counts are the task's monotonic progress counters. Completed always
// equals Succeeded+Failed; Skipped is a subset of Failed.
type Counts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// EventType distinguishes messages on the delivery channel and the stream
type EventType string

const (
	EventProgress  EventType = "progress"
	EventComplete  EventType = "complete"
	EventKeepalive EventType = "keepalive"
)

// Event is one message on a task's delivery channel
type Event struct {
	Type   EventType
	Result Result
	Counts Counts
	Status Status
	Reason string
}

// Spec describes a submission
type Spec struct {
	Kind  Kind
	Owner string
	Items []Target
	// Dates maps usernames to the request date found in a data export
	Dates map[string]string
}

// Snapshot is a consistent copy of a task's state
type Snapshot struct {
	ID        string    `json:"task_id"`
	Kind      Kind      `json:"kind"`
	Owner     string    `json:"owner"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Counts    Counts    `json:"counts"`
	Items     []Target  `json:"items"`
	Results   []Result  `json:"results"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is one batch operation
type Task struct {
	id        string
	kind      Kind
	owner     string
	items     []Target
	dates     map[string]string
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	status   Status
	reason   string
	counts   Counts
	results  []Result
	events   chan Event
	attached bool
}

func newTask(id string, spec Spec, createdAt time.Time) *Task {
	items := make([]Target, len(spec.Items))
	copy(items, spec.Items)

	dates := make(map[string]string, len(spec.Dates))
	for k, v := range spec.Dates {
		dates[k] = v
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Task{
		id:        id,
		kind:      spec.Kind,
		owner:     spec.Owner,
		items:     items,
		dates:     dates,
		createdAt: createdAt,
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusPending,
		counts:    Counts{Total: len(items)},
		results:   make([]Result, 0, len(items)),
		// one slot per item plus the terminal event, so the executor never blocks
		events: make(chan Event, len(items)+1),
	}
}

func (t *Task) ID() string           { return t.id }
func (t *Task) Kind() Kind           { return t.kind }
func (t *Task) Owner() string        { return t.owner }
func (t *Task) CreatedAt() time.Time { return t.createdAt }
func (t *Task) Len() int             { return len(t.items) }

// Item returns the i-th input
func (t *Task) Item(i int) Target {
	return t.items[i]
}

// Items returns a copy of the inputs in submission order
func (t *Task) Items() []Target {
	items := make([]Target, len(t.items))
	copy(items, t.items)
	return items
}

// RequestDate returns the export date recorded for username, if any
func (t *Task) RequestDate(username string) string {
	return t.dates[username]
}

// Context is cancelled when the task expires or finishes
func (t *Task) Context() context.Context {
	return t.ctx
}

// Start moves a pending task to running. It reports false if the task was
// already started.
func (t *Task) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusPending {
		return false
	}
	t.status = StatusRunning
	return true
}

// Record appends a result, updates the counts and publishes a progress
// event. It reports false if the task has already finished.
func (t *Task) Record(r Result) (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.Terminal() {
		return Event{}, false
	}

	r.Index = len(t.results)
	t.results = append(t.results, r)
	t.counts.Completed++
	if r.Status.Succeeded() {
		t.counts.Succeeded++
	} else {
		t.counts.Failed++
		if r.Status.Skipped() {
			t.counts.Skipped++
		}
	}

	ev := Event{Type: EventProgress, Result: r, Counts: t.counts, Status: t.status}
	t.events <- ev
	return ev, true
}

// Finish sets the terminal status, publishes the complete event and closes
// the delivery channel. Only the first call has any effect.
func (t *Task) Finish(status Status, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.Terminal() {
		return false
	}

	t.status = status
	t.reason = reason
	t.events <- Event{Type: EventComplete, Counts: t.counts, Status: status, Reason: reason}
	close(t.events)
	t.cancel()
	return true
}

// Expire signals the running executor to stop. The executor finishes the
// task with StatusExpired.
func (t *Task) Expire() {
	t.cancel()
}

// Attach grants exclusive read access to the delivery channel
func (t *Task) Attach() (<-chan Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.attached {
		return nil, ErrAlreadyAttached
	}
	t.attached = true
	return t.events, nil
}

// Release gives up the delivery channel so another reporter may attach
func (t *Task) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attached = false
}

// Status returns the current lifecycle state and terminal reason
func (t *Task) Status() (Status, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.reason
}

// Counts returns the current counters
func (t *Task) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts
}

// Snapshot returns a consistent copy of the task's state
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	results := make([]Result, len(t.results))
	copy(results, t.results)

	return Snapshot{
		ID:        t.id,
		Kind:      t.kind,
		Owner:     t.owner,
		Status:    t.status,
		Reason:    t.reason,
		Counts:    t.counts,
		Items:     t.Items(),
		Results:   results,
		CreatedAt: t.createdAt,
	}
}
