// Package executor runs batch tasks against the upstream API, one goroutine
// per task, recording each item's outcome on the task as it goes.
package executor

import (
	"context"
	stderrors "errors"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	errs "instaclean/pkg/errors"
	"instaclean/pkg/instagram"
	"instaclean/pkg/logger"
	"instaclean/pkg/metrics"
	"instaclean/pkg/retry"
	"instaclean/pkg/task"
)

var (
	itemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "executor",
		Name:      "items_total",
		Help:      "Items processed by kind and outcome.",
	}, []string{"kind", "status"})

	tasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "executor",
		Name:      "tasks_finished_total",
		Help:      "Tasks finished by kind and terminal status.",
	}, []string{"kind", "status"})

	itemDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: "executor",
		Name:      "item_duration_seconds",
		Help:      "Upstream time spent on one item, excluding pacing delays.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})
)

// Client is the subset of the upstream client the executor drives
type Client interface {
	ResolveUser(ctx context.Context, username string) (*instagram.User, error)
	FriendshipStatus(ctx context.Context, userID string) (instagram.Relationship, error)
	CancelFollowRequest(ctx context.Context, userID string) error
	Unfollow(ctx context.Context, userID string) error
}

// Delays pace the items of a task. Mutating kinds wait a random duration in
// [MutateMin, MutateMax] between items, the others wait Fetch.
type Delays struct {
	MutateMin time.Duration
	MutateMax time.Duration
	Fetch     time.Duration
}

// DefaultDelays are the pacing delays used when none are configured
var DefaultDelays = Delays{
	MutateMin: 5 * time.Second,
	MutateMax: 10 * time.Second,
	Fetch:     time.Second,
}

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor processes the items of a task in order
type Executor struct {
	client        Client
	delays        Delays
	sleep         SleepFunc
	jitter        func(n int64) int64
	onAuthExpired func(t *task.Task)
	logger        logger.Logger
}

// Option configures an Executor
type Option func(*Executor)

// WithDelays sets the pacing delays
func WithDelays(d Delays) Option {
	return func(e *Executor) { e.delays = d }
}

// WithSleep replaces the context-aware sleep used between items
func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithAuthExpired registers a hook called once when a task stops because
// the upstream rejected the session.
func WithAuthExpired(fn func(t *task.Task)) Option {
	return func(e *Executor) { e.onAuthExpired = fn }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an executor for client
func New(client Client, opts ...Option) *Executor {
	e := &Executor{
		client: client,
		delays: DefaultDelays,
		sleep:  retry.Wait,
		jitter: rand.Int63n,
		logger: logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes t to completion on the calling goroutine. It returns once
// the task has reached a terminal status; a task that was already started
// is left alone.
func (e *Executor) Run(t *task.Task) {
	if !t.Start() {
		return
	}

	ctx := t.Context()
	log := e.logger.WithFields(map[string]interface{}{
		"task_id": t.ID(),
		"kind":    string(t.Kind()),
	})
	log.InfoWithFields("Task started", map[string]interface{}{"total": t.Len()})

	for i := 0; i < t.Len(); i++ {
		if i > 0 {
			if err := e.sleep(ctx, e.delay(t.Kind())); err != nil {
				e.finish(log, t, task.StatusExpired, "expired")
				return
			}
		}
		if ctx.Err() != nil {
			e.finish(log, t, task.StatusExpired, "expired")
			return
		}

		item := t.Item(i)
		start := time.Now()
		res, err := e.process(ctx, t, item)
		itemDuration.WithLabelValues(string(t.Kind())).Observe(time.Since(start).Seconds())

		if err != nil && isContextErr(err) {
			e.finish(log, t, task.StatusExpired, "expired")
			return
		}

		ev, ok := t.Record(res)
		if !ok {
			return
		}
		itemsProcessed.WithLabelValues(string(t.Kind()), string(res.Status)).Inc()
		logger.LogTaskProgress(log, t.ID(), item.Label(), string(res.Status), ev.Counts.Completed, ev.Counts.Total)

		switch {
		case errs.IsRateLimit(err):
			logger.LogRateLimit(log, t.ID(), ev.Counts.Completed, ev.Counts.Total)
			e.finish(log, t, task.StatusRateLimited, string(task.StatusRateLimited))
			return
		case errs.IsAuth(err):
			log.WithError(err).Warn("Session rejected by upstream, stopping task")
			e.finish(log, t, task.StatusAuthError, string(task.StatusAuthError))
			if e.onAuthExpired != nil {
				e.onAuthExpired(t)
			}
			return
		}
	}

	e.finish(log, t, task.StatusCompleted, "done")
}

func (e *Executor) finish(log logger.Logger, t *task.Task, status task.Status, reason string) {
	if !t.Finish(status, reason) {
		return
	}
	tasksFinished.WithLabelValues(string(t.Kind()), string(status)).Inc()

	c := t.Counts()
	log.InfoWithFields("Task finished", map[string]interface{}{
		"status":    string(status),
		"completed": c.Completed,
		"succeeded": c.Succeeded,
		"failed":    c.Failed,
		"skipped":   c.Skipped,
	})
}

// delay returns the pause before the next item
func (e *Executor) delay(kind task.Kind) time.Duration {
	if !kind.Mutating() {
		return e.delays.Fetch
	}
	lo, hi := e.delays.MutateMin, e.delays.MutateMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(e.jitter(int64(hi-lo)+1))
}

// process handles one item. The returned error is non-nil only when the
// whole task must stop.
func (e *Executor) process(ctx context.Context, t *task.Task, item task.Target) (task.Result, error) {
	switch t.Kind() {
	case task.KindCancel, task.KindUnfollow:
		return e.mutate(ctx, t.Kind(), item, t.RequestDate(item.Username))
	case task.KindLookup:
		return e.lookup(ctx, item)
	case task.KindResolve:
		return e.resolve(ctx, item, t.RequestDate(item.Username))
	}
	return task.Result{UserID: item.UserID, Username: item.Username, Status: task.ItemError, Error: "unsupported task kind"}, nil
}

func (e *Executor) mutate(ctx context.Context, kind task.Kind, item task.Target, requestDate string) (task.Result, error) {
	res := task.Result{UserID: item.UserID, Username: item.Username, RequestDate: requestDate}

	if res.UserID == "" {
		user, err := e.client.ResolveUser(ctx, item.Username)
		if err != nil {
			return failure(res, err)
		}
		withProfile(&res, user)
	}

	var err error
	if kind == task.KindCancel {
		err = e.client.CancelFollowRequest(ctx, res.UserID)
		res.Status = task.ItemCancelled
	} else {
		err = e.client.Unfollow(ctx, res.UserID)
		res.Status = task.ItemUnfollowed
	}
	if err != nil {
		return failure(res, err)
	}
	return res, nil
}

func (e *Executor) lookup(ctx context.Context, item task.Target) (task.Result, error) {
	res := task.Result{Username: item.Username}

	user, err := e.client.ResolveUser(ctx, item.Username)
	if err != nil {
		return failure(res, err)
	}
	withProfile(&res, user)
	res.Status = task.ItemFound
	return res, nil
}

func (e *Executor) resolve(ctx context.Context, item task.Target, requestDate string) (task.Result, error) {
	res := task.Result{Username: item.Username, RequestDate: requestDate}

	user, err := e.client.ResolveUser(ctx, item.Username)
	if err != nil {
		return failure(res, err)
	}
	withProfile(&res, user)

	rel, err := e.client.FriendshipStatus(ctx, user.ID)
	if err != nil {
		if errs.IsAbort(err) || isContextErr(err) {
			return failure(res, err)
		}
		res.Status = task.ItemUnknown
		res.Error = err.Error()
		return res, nil
	}

	switch rel {
	case instagram.RelationshipPending:
		res.Status = task.ItemPending
	case instagram.RelationshipAccepted:
		res.Status = task.ItemAccepted
	default:
		res.Status = task.ItemNotPending
	}
	return res, nil
}

// failure maps an upstream error to the item's outcome. Rate limit, auth
// and context errors are handed back so Run can stop the task.
func failure(res task.Result, err error) (task.Result, error) {
	switch {
	case errs.IsRateLimit(err):
		res.Status = task.ItemRateLimited
		res.Error = "rate limited by upstream"
		return res, err
	case errs.IsAuth(err):
		res.Status = task.ItemAuthError
		res.Error = "session expired"
		return res, err
	case isContextErr(err):
		return res, err
	case errs.IsNotFound(err):
		res.Status = task.ItemNotFound
		res.Error = "user not found"
	default:
		res.Status = task.ItemError
		res.Error = err.Error()
	}
	return res, nil
}

func withProfile(res *task.Result, u *instagram.User) {
	res.UserID = u.ID
	if u.Username != "" {
		res.Username = u.Username
	}
	res.FullName = u.FullName
	res.ProfilePicURL = u.ProfilePicURL
	res.IsPrivate = u.IsPrivate
	res.IsVerified = u.IsVerified
}

func isContextErr(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}
