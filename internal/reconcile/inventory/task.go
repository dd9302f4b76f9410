package inventory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Totals are the counters of a run.
type Totals struct {
	Pages     int `json:"pages"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Task is the handle of a background run.
type Task struct {
	id      string
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}

	pages     atomic.Int64
	inserted  atomic.Int64
	updated   atomic.Int64
	unchanged atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64

	mu       sync.Mutex
	err      error
	finished time.Time
}

func newTask(cancel context.CancelFunc) *Task {
	return &Task{
		id:      uuid.NewString(),
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// ID returns the unique task id.
func (t *Task) ID() string { return t.id }

// Started returns when the run began.
func (t *Task) Started() time.Time { return t.started }

// Done is closed when the run ends.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the run ends and returns the final totals.
func (t *Task) Wait() Totals {
	<-t.done
	return t.Totals()
}

// Totals returns a live snapshot of the counters.
func (t *Task) Totals() Totals {
	return Totals{
		Pages:     int(t.pages.Load()),
		Inserted:  int(t.inserted.Load()),
		Updated:   int(t.updated.Load()),
		Unchanged: int(t.unchanged.Load()),
		Skipped:   int(t.skipped.Load()),
		Failed:    int(t.failed.Load()),
	}
}

// Err returns the error that ended the run: a page fetch failure or
// context.Canceled. It is nil while the run is in progress and after a
// clean finish.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Running reports whether the run has not ended yet.
func (t *Task) Running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Elapsed returns the run time so far, or the total once finished.
func (t *Task) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished.IsZero() {
		return time.Since(t.started)
	}
	return t.finished.Sub(t.started)
}

// Cancel asks the run to stop before the next profile or page. It does not
// wait; use Wait or Done for that.
func (t *Task) Cancel() {
	t.cancel()
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	t.err = err
	t.finished = time.Now()
	t.mu.Unlock()
	close(t.done)
}
