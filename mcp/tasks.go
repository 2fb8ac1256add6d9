package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/contextframe/contextframe-go/capabilities"
	"github.com/contextframe/contextframe-go/models"
)

// TaskManager runs long-running tools (import, export, reindex) on
// background workers and fans progress out to SSE subscribers. Intermediate
// events are dropped for slow consumers; the terminal complete/error event
// is always delivered.
type TaskManager struct {
	mu    sync.Mutex
	tasks map[string]*taskState
	clock capabilities.Clock
	ids   capabilities.IDGenerator
}

type taskState struct {
	task models.Task
	subs []chan models.ProgressEvent
	done bool
}

// NewTaskManager builds an empty manager.
func NewTaskManager(clock capabilities.Clock, ids capabilities.IDGenerator) *TaskManager {
	return &TaskManager{
		tasks: make(map[string]*taskState),
		clock: clock,
		ids:   ids,
	}
}

// TaskFunc is the body of a background task. It reports progress through
// the callback; returning an error marks the task failed.
type TaskFunc func(ctx context.Context, progress func(percent float64, message string)) error

// Start launches a task on a background goroutine and returns its handle
// immediately.
func (m *TaskManager) Start(kind string, fn TaskFunc) models.Task {
	now := m.clock.Now().UTC()
	task := models.Task{
		ID:        m.ids.NewID(),
		Kind:      kind,
		Status:    models.TaskRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	m.tasks[task.ID] = &taskState{task: task}
	m.mu.Unlock()

	go func() {
		// Background tasks outlive the originating request's deadline.
		ctx := context.Background()
		err := fn(ctx, func(percent float64, message string) {
			m.progress(task.ID, percent, message)
		})
		m.finish(task.ID, err)
	}()
	return task
}

func (m *TaskManager) progress(id string, percent float64, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tasks[id]
	if !ok || st.done {
		return
	}
	st.task.Percent = percent
	st.task.Message = message
	st.task.UpdatedAt = m.clock.Now().UTC()
	ev := models.ProgressEvent{Event: "progress", TaskID: id, Percent: percent, Message: message}
	for _, sub := range st.subs {
		select {
		case sub <- ev:
		default:
			// Slow consumer: intermediate events are droppable.
		}
	}
}

func (m *TaskManager) finish(id string, err error) {
	m.mu.Lock()
	st, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	st.done = true
	st.task.UpdatedAt = m.clock.Now().UTC()
	ev := models.ProgressEvent{Event: "complete", TaskID: id, Percent: 100}
	if err != nil {
		st.task.Status = models.TaskError
		st.task.Error = err.Error()
		ev = models.ProgressEvent{Event: "error", TaskID: id, Message: err.Error()}
	} else {
		st.task.Status = models.TaskComplete
		st.task.Percent = 100
	}
	subs := st.subs
	st.subs = nil
	m.mu.Unlock()

	// The terminal event must reach every subscriber; give each a bounded
	// window before closing.
	for _, sub := range subs {
		select {
		case sub <- ev:
		case <-time.After(5 * time.Second):
		}
		close(sub)
	}
}

// Get returns a task snapshot.
func (m *TaskManager) Get(id string) (models.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return st.task, true
}

// Subscribe attaches a progress channel to a task. For a task that already
// finished the terminal event is delivered immediately and the channel
// closed. The returned cancel func detaches the subscriber.
func (m *TaskManager) Subscribe(id string) (<-chan models.ProgressEvent, func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tasks[id]
	if !ok {
		return nil, nil, false
	}
	ch := make(chan models.ProgressEvent, 8)
	if st.done {
		ev := models.ProgressEvent{Event: "complete", TaskID: id, Percent: 100}
		if st.task.Status == models.TaskError {
			ev = models.ProgressEvent{Event: "error", TaskID: id, Message: st.task.Error}
		}
		ch <- ev
		close(ch)
		return ch, func() {}, true
	}
	st.subs = append(st.subs, ch)
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range st.subs {
			if sub == ch {
				st.subs = append(st.subs[:i], st.subs[i+1:]...)
				break
			}
		}
	}
	return ch, cancel, true
}
