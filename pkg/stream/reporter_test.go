package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"instaclean/pkg/logger"
	"instaclean/pkg/task"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTask(t *testing.T, names ...string) *task.Task {
	t.Helper()
	items := make([]task.Target, len(names))
	for i, n := range names {
		items[i] = task.Target{Username: n}
	}
	r := task.NewMemoryRegistry(task.DefaultTTL)
	tk, err := r.Create(task.Spec{Kind: task.KindCancel, Owner: "1000", Items: items})
	require.NoError(t, err)
	return tk
}

// frames decodes every "data:" frame of an event stream body
func frames(t *testing.T, body string) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m))
		out = append(out, m)
	}
	return out
}

func TestStreamWritesEventsThenSummary(t *testing.T) {
	tk := newTask(t, "alice", "bob")
	tk.Start()
	tk.Record(task.Result{UserID: "1", Username: "alice", Status: task.ItemCancelled})
	tk.Record(task.Result{Username: "bob", Status: task.ItemNotFound, Error: "user not found"})
	tk.Finish(task.StatusCompleted, "done")

	rec := httptest.NewRecorder()
	r := NewReporter(time.Minute, logger.NewTestLogger())
	require.NoError(t, r.Stream(context.Background(), rec, tk))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.True(t, rec.Flushed)

	got := frames(t, rec.Body.String())
	require.Len(t, got, 3)

	assert.Equal(t, "progress", got[0]["type"])
	assert.Equal(t, "1", got[0]["user_id"])
	assert.Equal(t, "cancelled", got[0]["result_status"])
	assert.EqualValues(t, 0, got[0]["index"])
	assert.EqualValues(t, 1, got[0]["completed"])
	assert.EqualValues(t, 2, got[0]["total"])

	assert.Equal(t, "not_found", got[1]["result_status"])
	assert.Equal(t, "user not found", got[1]["error"])
	assert.EqualValues(t, 1, got[1]["skipped"])

	assert.Equal(t, map[string]interface{}{
		"type":      "complete",
		"status":    "completed",
		"reason":    "done",
		"total":     float64(2),
		"completed": float64(2),
		"succeeded": float64(1),
		"failed":    float64(1),
		"skipped":   float64(1),
	}, got[2])
}

func TestStreamKeepaliveWhileIdle(t *testing.T) {
	tk := newTask(t, "a")
	tk.Start()

	rec := httptest.NewRecorder()
	r := NewReporter(10*time.Millisecond, logger.NewTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Stream(ctx, rec, tk))

	got := frames(t, rec.Body.String())
	require.NotEmpty(t, got)
	for _, f := range got {
		assert.Equal(t, map[string]interface{}{"type": "keepalive"}, f)
	}
	assert.Equal(t, 0, tk.Counts().Completed, "keepalive does not consume state")

	tk.Finish(task.StatusCompleted, "done")
}

func TestStreamRejectsSecondReader(t *testing.T) {
	tk := newTask(t, "a")
	_, err := tk.Attach()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	err = NewReporter(time.Minute, logger.NewNopLogger()).Stream(context.Background(), rec, tk)
	assert.ErrorIs(t, err, task.ErrAlreadyAttached)
	assert.Empty(t, rec.Header().Get("Content-Type"), "nothing written before the error")
}

// disconnectingWriter cancels the request context once a progress frame
// has been written, like a client closing the tab mid-stream.
type disconnectingWriter struct {
	*httptest.ResponseRecorder
	cancel context.CancelFunc
}

func (d *disconnectingWriter) Write(p []byte) (int, error) {
	n, err := d.ResponseRecorder.Write(p)
	if strings.Contains(string(p), `"type":"progress"`) {
		d.cancel()
	}
	return n, err
}

func TestReconnectResumesWithNextEvent(t *testing.T) {
	tk := newTask(t, "a", "b")
	tk.Start()
	tk.Record(task.Result{Username: "a", Status: task.ItemCancelled})

	r := NewReporter(time.Minute, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := &disconnectingWriter{ResponseRecorder: httptest.NewRecorder(), cancel: cancel}
	require.NoError(t, r.Stream(ctx, first, tk))
	require.Len(t, frames(t, first.Body.String()), 1)

	tk.Record(task.Result{Username: "b", Status: task.ItemCancelled})
	tk.Finish(task.StatusCompleted, "done")

	second := httptest.NewRecorder()
	require.NoError(t, r.Stream(context.Background(), second, tk))

	got := frames(t, second.Body.String())
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0]["username"])
	assert.EqualValues(t, 1, got[0]["index"])
	assert.Equal(t, "complete", got[1]["type"])
}

func TestStreamAfterTerminalEventConsumed(t *testing.T) {
	tk := newTask(t, "a")
	tk.Start()
	tk.Record(task.Result{Username: "a", Status: task.ItemCancelled})
	tk.Finish(task.StatusRateLimited, "rate_limited")

	r := NewReporter(time.Minute, logger.NewNopLogger())
	require.NoError(t, r.Stream(context.Background(), httptest.NewRecorder(), tk))

	again := httptest.NewRecorder()
	require.NoError(t, r.Stream(context.Background(), again, tk))

	got := frames(t, again.Body.String())
	require.Len(t, got, 1)
	assert.Equal(t, "complete", got[0]["type"])
	assert.Equal(t, "rate_limited", got[0]["status"])
	assert.Equal(t, "rate_limited", got[0]["reason"])
	assert.EqualValues(t, 1, got[0]["succeeded"])
}
