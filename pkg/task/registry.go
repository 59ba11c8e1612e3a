package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	errs "instaclean/pkg/errors"
	"instaclean/pkg/logger"
	"instaclean/pkg/metrics"
)

// DefaultTTL is how long a task stays in the registry, whatever its status
const DefaultTTL = 600 * time.Second

var (
	tasksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "registry",
		Name:      "tasks_created_total",
		Help:      "Tasks created by kind.",
	}, []string{"kind"})

	tasksSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "registry",
		Name:      "tasks_swept_total",
		Help:      "Tasks removed by the TTL sweep.",
	})

	registrySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "registry",
		Name:      "tasks",
		Help:      "Tasks currently held by the registry.",
	})
)

// Registry owns every live task
type Registry interface {
	Create(spec Spec) (*Task, error)
	Get(id string) (*Task, bool)
	Sweep(now time.Time) int
}

// MemoryRegistry is a process-local Registry
type MemoryRegistry struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	ttl      time.Duration
	maxItems int
	clock    func() time.Time
	logger   logger.Logger
}

// Option configures a MemoryRegistry
type Option func(*MemoryRegistry)

// WithClock replaces time.Now
func WithClock(clock func() time.Time) Option {
	return func(r *MemoryRegistry) { r.clock = clock }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(r *MemoryRegistry) { r.logger = l }
}

// WithMaxItems caps the items of any single task
func WithMaxItems(n int) Option {
	return func(r *MemoryRegistry) { r.maxItems = n }
}

// NewMemoryRegistry creates an empty registry. A non-positive ttl means DefaultTTL.
func NewMemoryRegistry(ttl time.Duration, opts ...Option) *MemoryRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &MemoryRegistry{
		tasks:  make(map[string]*Task),
		ttl:    ttl,
		clock:  time.Now,
		logger: logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CheckSize validates a batch length against max (0 means no cap)
func CheckSize(n, max int) error {
	if n == 0 {
		return errs.Validation("no items provided")
	}
	if max > 0 && n > max {
		return errs.Validation(fmt.Sprintf("at most %d items per batch", max))
	}
	return nil
}

// Create validates spec and registers a new pending task
func (r *MemoryRegistry) Create(spec Spec) (*Task, error) {
	if !spec.Kind.Valid() {
		return nil, errs.Validation(fmt.Sprintf("unknown task kind %q", spec.Kind))
	}
	if spec.Owner == "" {
		return nil, errs.Validation("task owner is required")
	}
	if err := CheckSize(len(spec.Items), r.maxItems); err != nil {
		return nil, err
	}

	now := r.clock()
	id, err := NewID(spec.Kind, spec.Owner, now)
	if err != nil {
		return nil, err
	}
	t := newTask(id, spec, now)

	r.mu.Lock()
	r.tasks[id] = t
	size := len(r.tasks)
	r.mu.Unlock()

	tasksCreated.WithLabelValues(string(spec.Kind)).Inc()
	registrySize.Set(float64(size))

	r.logger.DebugWithFields("task created", map[string]interface{}{
		"task_id": id,
		"kind":    string(spec.Kind),
		"total":   len(spec.Items),
	})
	return t, nil
}

// Get returns the task with id. Tasks past their TTL are reported absent
// even before the next sweep removes them.
func (r *MemoryRegistry) Get(id string) (*Task, bool) {
	r.mu.RLock()
	t, ok := r.tasks[id]
	r.mu.RUnlock()

	if !ok || r.expired(id, r.clock()) {
		return nil, false
	}
	return t, true
}

// Len returns the number of registered tasks
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Sweep removes every task older than the TTL at now and signals its
// executor to stop. It returns the number removed.
func (r *MemoryRegistry) Sweep(now time.Time) int {
	r.mu.Lock()
	var removed []*Task
	for id, t := range r.tasks {
		if r.expired(id, now) {
			delete(r.tasks, id)
			removed = append(removed, t)
		}
	}
	size := len(r.tasks)
	r.mu.Unlock()

	for _, t := range removed {
		t.Expire()
	}

	if len(removed) > 0 {
		tasksSwept.Add(float64(len(removed)))
		r.logger.InfoWithFields("expired tasks swept", map[string]interface{}{
			"removed":   len(removed),
			"remaining": size,
		})
	}
	registrySize.Set(float64(size))
	return len(removed)
}

// expired computes age from the id alone
func (r *MemoryRegistry) expired(id string, now time.Time) bool {
	parsed, err := ParseID(id)
	if err != nil {
		return true
	}
	return now.Sub(parsed.CreatedAt) > r.ttl
}
