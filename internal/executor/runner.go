package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sourcegraph/conc"
	"instaclean/pkg/logger"
	"instaclean/pkg/metrics"
	"instaclean/pkg/task"
)

// ErrShuttingDown is returned by Launch after Shutdown has begun
var ErrShuttingDown = errors.New("executor runner is shutting down")

var runningTasks = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: metrics.Namespace,
	Subsystem: "executor",
	Name:      "running_tasks",
	Help:      "Tasks currently being executed.",
})

// Runner starts one goroutine per task and tracks them for shutdown
type Runner struct {
	wg      conc.WaitGroup
	mu      sync.Mutex
	closed  bool
	running map[string]*task.Task
	logger  logger.Logger
}

// NewRunner creates an idle runner
func NewRunner(log logger.Logger) *Runner {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Runner{running: make(map[string]*task.Task), logger: log}
}

// Launch runs t with exec on a new goroutine and returns immediately
func (r *Runner) Launch(exec *Executor, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrShuttingDown
	}
	r.running[t.ID()] = t
	runningTasks.Inc()

	r.wg.Go(func() {
		defer r.done(t)
		exec.Run(t)
	})
	return nil
}

func (r *Runner) done(t *task.Task) {
	r.mu.Lock()
	delete(r.running, t.ID())
	r.mu.Unlock()
	runningTasks.Dec()
}

// Running returns the number of tasks still executing
func (r *Runner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Shutdown refuses new tasks, signals every running task to stop and waits
// for them until ctx is done.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, t := range r.running {
		t.Expire()
	}
	n := len(r.running)
	r.mu.Unlock()

	logger.LogComponentStop(r.logger, "executor", "shutdown")
	if n > 0 {
		r.logger.InfoWithFields("Waiting for running tasks", map[string]interface{}{"tasks": n})
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
