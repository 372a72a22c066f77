// Package timer correlates asynchronous responses with the task that awaits
// them and delivers a sentinel response when a task expires.
package timer

import (
	"sync"
	"sync/atomic"
	"time"

	"Vaultnet/internal/logger"
)

// TaskID identifies one task.
type TaskID uint64

// task is one registered task.
type task[R any] struct {
	fn        func(R)     // fn receives every response and the sentinel
	remaining int         // remaining is the number of responses still expected
	timer     *time.Timer // timer fires the sentinel on expiry
}

// Timer tracks tasks waiting for a number of responses with a timeout.
// Every response is delivered to the task callback outside the lock. When a
// task expires or is cancelled its callback receives the sentinel once.
type Timer[R any] struct {
	mu       sync.Mutex          // mu guards tasks
	tasks    map[TaskID]*task[R] // tasks by id
	nextID   atomic.Uint64       // nextID is the last minted id
	sentinel R                   // sentinel is delivered on timeout and cancel
	closed   bool                // closed rejects new tasks
}

// New creates a timer delivering sentinel on timeout and cancellation.
func New[R any](sentinel R) *Timer[R] {
	return &Timer[R]{
		tasks:    make(map[TaskID]*task[R]),
		sentinel: sentinel,
	}
}

// NewTaskID mints a new unique task id. Ids start at 1.
func (t *Timer[R]) NewTaskID() TaskID {
	return TaskID(t.nextID.Add(1))
}

// AddTask registers id expecting the given number of responses.
// fn receives each response; on expiry it receives the sentinel and the task
// is removed. Returns false if id is already registered or the timer is closed.
func (t *Timer[R]) AddTask(timeout time.Duration, fn func(R), expected int, id TaskID) bool {
	if expected < 1 {
		expected = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}

	if _, exists := t.tasks[id]; exists {
		return false
	}

	tk := &task[R]{fn: fn, remaining: expected}
	t.tasks[id] = tk
	tk.timer = time.AfterFunc(timeout, func() { t.expire(id, tk) })

	return true
}

// AddResponse delivers r to the task. The task is removed once all expected
// responses arrived. Returns false if the task is unknown.
func (t *Timer[R]) AddResponse(id TaskID, r R) bool {
	t.mu.Lock()

	tk, ok := t.tasks[id]
	if !ok {
		t.mu.Unlock()
		logger.Debug("response for unknown task", "task", uint64(id))
		return false
	}

	tk.remaining--
	if tk.remaining <= 0 {
		delete(t.tasks, id)
		tk.timer.Stop()
	}

	t.mu.Unlock()

	tk.fn(r)

	return true
}

// CancelTask removes the task and delivers the sentinel to it.
// Returns false if the task is unknown.
func (t *Timer[R]) CancelTask(id TaskID) bool {
	t.mu.Lock()

	tk, ok := t.tasks[id]
	if ok {
		delete(t.tasks, id)
		tk.timer.Stop()
	}

	t.mu.Unlock()

	if !ok {
		return false
	}

	tk.fn(t.sentinel)

	return true
}

// Pending returns the number of registered tasks.
func (t *Timer[R]) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.tasks)
}

// Close cancels every task, delivering the sentinel to each, and rejects new ones.
func (t *Timer[R]) Close() {
	t.mu.Lock()

	t.closed = true
	cancelled := make([]*task[R], 0, len(t.tasks))

	for id, tk := range t.tasks {
		tk.timer.Stop()
		cancelled = append(cancelled, tk)
		delete(t.tasks, id)
	}

	t.mu.Unlock()

	for _, tk := range cancelled {
		tk.fn(t.sentinel)
	}
}

// expire fires the sentinel if tk is still the task registered under id.
func (t *Timer[R]) expire(id TaskID, tk *task[R]) {
	t.mu.Lock()

	current, ok := t.tasks[id]
	if !ok || current != tk {
		t.mu.Unlock()
		return
	}

	delete(t.tasks, id)
	t.mu.Unlock()

	logger.Debug("task timed out", "task", uint64(id))
	tk.fn(t.sentinel)
}
