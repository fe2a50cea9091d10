package actor

import (
	"context"
	"sync"
	"time"

	"github.com/oshokin/timed-devices/internal/domain/timer"
)

type taskKind int

const (
	taskTick taskKind = iota
	taskInput
	taskSourceChanged
	taskForceOn
	taskForceOff
	taskCancel
)

// String returns the task name used in logs and metrics.
func (k taskKind) String() string {
	switch k {
	case taskTick:
		return "tick"
	case taskInput:
		return "input"
	case taskSourceChanged:
		return "source_changed"
	case taskForceOn:
		return "force_on"
	case taskForceOff:
		return "force_off"
	case taskCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

type task struct {
	kind  taskKind
	value bool
	// before and after are the snapshots of a change notification.
	before *timer.Snapshot
	after  *timer.Snapshot
}

// mailbox is an unbounded FIFO queue. Senders never block, which lets the
// dispatch goroutine enqueue replays to itself.
type mailbox struct {
	// mu guards tasks.
	mu    sync.Mutex
	tasks []task
	// notify holds a token while tasks may be waiting.
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		notify: make(chan struct{}, 1),
	}
}

func (m *mailbox) put(t task) {
	m.mu.Lock()
	m.tasks = append(m.tasks, t)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// take pops the oldest task, waiting at most wait for one to arrive.
// It returns false on timeout or when ctx is done.
func (m *mailbox) take(ctx context.Context, wait time.Duration) (task, bool) {
	if t, ok := m.pop(); ok {
		return t, true
	}

	expiry := time.NewTimer(wait)
	defer expiry.Stop()

	for {
		select {
		case <-m.notify:
			if t, ok := m.pop(); ok {
				return t, true
			}
		case <-expiry.C:
			return task{}, false
		case <-ctx.Done():
			return task{}, false
		}
	}
}

func (m *mailbox) pop() (task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.tasks) == 0 {
		return task{}, false
	}

	t := m.tasks[0]
	m.tasks[0] = task{}
	m.tasks = m.tasks[1:]

	return t, true
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.tasks)
}
