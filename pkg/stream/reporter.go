package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"instaclean/pkg/logger"
	"instaclean/pkg/metrics"
	"instaclean/pkg/task"
)

// DefaultHeartbeat is the idle time before a keepalive frame
const DefaultHeartbeat = 60 * time.Second

var (
	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "stream",
		Name:      "active",
		Help:      "Progress streams currently attached to a task.",
	})

	framesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "stream",
		Name:      "frames_total",
		Help:      "Frames written to progress streams by type.",
	}, []string{"type"})
)

type progressMessage struct {
	Type task.EventType `json:"type"`
	task.Result
	ResultStatus task.ItemStatus `json:"result_status"`
	task.Counts
}

type completeMessage struct {
	Type   task.EventType `json:"type"`
	Status task.Status    `json:"status"`
	Reason string         `json:"reason"`
	task.Counts
}

type keepaliveMessage struct {
	Type task.EventType `json:"type"`
}

// Reporter streams task events to one client at a time
type Reporter struct {
	heartbeat time.Duration
	logger    logger.Logger
}

// NewReporter creates a reporter. A non-positive heartbeat means DefaultHeartbeat.
func NewReporter(heartbeat time.Duration, log logger.Logger) *Reporter {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Reporter{heartbeat: heartbeat, logger: log}
}

// SetHeaders writes the event stream response headers
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Stream attaches to t and writes its events to w until the terminal
// summary has been sent or ctx is done. It returns task.ErrAlreadyAttached,
// before writing anything, when another stream holds the task.
func (r *Reporter) Stream(ctx context.Context, w http.ResponseWriter, t *task.Task) error {
	events, err := t.Attach()
	if err != nil {
		return err
	}
	defer t.Release()

	activeStreams.Inc()
	defer activeStreams.Dec()

	log := r.logger.WithField("task_id", t.ID())
	rc := http.NewResponseController(w)

	SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.WithError(err).Debug("Response writer cannot flush")
	}

	idle := time.NewTimer(r.heartbeat)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Progress stream client disconnected")
			return nil

		case <-idle.C:
			if err := r.write(rc, w, keepaliveMessage{Type: task.EventKeepalive}, task.EventKeepalive); err != nil {
				return err
			}
			idle.Reset(r.heartbeat)

		case ev, ok := <-events:
			if !ok {
				// a previous stream consumed the terminal event
				snap := t.Snapshot()
				return r.write(rc, w, completeMessage{
					Type:   task.EventComplete,
					Status: snap.Status,
					Reason: snap.Reason,
					Counts: snap.Counts,
				}, task.EventComplete)
			}

			msg := encode(ev)
			if err := r.write(rc, w, msg, ev.Type); err != nil {
				return err
			}
			if ev.Type == task.EventComplete {
				log.DebugWithFields("Progress stream finished", map[string]interface{}{
					"status": string(ev.Status),
				})
				return nil
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.heartbeat)
		}
	}
}

func encode(ev task.Event) interface{} {
	if ev.Type == task.EventComplete {
		return completeMessage{Type: ev.Type, Status: ev.Status, Reason: ev.Reason, Counts: ev.Counts}
	}
	return progressMessage{Type: ev.Type, Result: ev.Result, ResultStatus: ev.Result.Status, Counts: ev.Counts}
}

func (r *Reporter) write(rc *http.ResponseController, w http.ResponseWriter, msg interface{}, kind task.EventType) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", kind, err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", kind, err)
	}
	if err := rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s frame: %w", kind, err)
	}
	framesWritten.WithLabelValues(string(kind)).Inc()
	return nil
}
