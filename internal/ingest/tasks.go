package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/logging"
)

// Status is the state of an ingestion task.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// finishedRetention is how long ready and failed tasks stay queryable.
const finishedRetention = 24 * time.Hour

// Task is the status cell of one document's ingestion.
type Task struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	Scope      string    `json:"scope"`
	SessionID  string    `json:"session_id,omitempty"`
	Status     Status    `json:"status"`
	Message    string    `json:"message"`
	Chunks     int       `json:"chunk_count"`
	Accepted   int       `json:"accepted"`
	Rejected   int       `json:"rejected"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Publisher receives every task transition.
type Publisher interface {
	Publish(ctx context.Context, t Task) error
}

// Tasks tracks ingestion status per document. Reads are idempotent.
type Tasks struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	publisher Publisher
	logger    *logging.Logger
	clock     func() time.Time
}

// TasksOption configures Tasks.
type TasksOption func(*Tasks)

// WithPublisher publishes each transition.
func WithPublisher(p Publisher) TasksOption {
	return func(t *Tasks) { t.publisher = p }
}

// WithTasksLogger sets the logger.
func WithTasksLogger(l *logging.Logger) TasksOption {
	return func(t *Tasks) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithTasksClock overrides time.Now.
func WithTasksClock(clock func() time.Time) TasksOption {
	return func(t *Tasks) { t.clock = clock }
}

// NewTasks creates an empty registry.
func NewTasks(opts ...TasksOption) *Tasks {
	t := &Tasks{
		tasks:  make(map[string]*Task),
		logger: logging.Nop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start records a task as processing, replacing any earlier task for the
// same document.
func (t *Tasks) Start(ctx context.Context, task Task) Task {
	now := t.clock()
	task.Status = StatusProcessing
	if task.Message == "" {
		task.Message = "document received, processing"
	}
	task.CreatedAt, task.UpdatedAt = now, now

	t.mu.Lock()
	t.pruneLocked(now)
	stored := task
	t.tasks[task.DocumentID] = &stored
	t.mu.Unlock()

	t.publish(ctx, task)
	return task
}

// Ready marks a task as done.
func (t *Tasks) Ready(ctx context.Context, documentID string, res Result) {
	t.update(ctx, documentID, func(task *Task) {
		task.Status = StatusReady
		task.Message = "document processed"
		task.Chunks = res.Chunks
		task.Accepted = res.Accepted
		task.Rejected = res.Rejected
	})
}

// Fail marks a task as failed.
func (t *Tasks) Fail(ctx context.Context, documentID string, res Result, err error) {
	t.update(ctx, documentID, func(task *Task) {
		task.Status = StatusError
		task.Message = "processing failed"
		task.Chunks = res.Chunks
		task.Accepted = res.Accepted
		task.Rejected = res.Rejected
		if err != nil {
			task.Error = err.Error()
		}
	})
}

// Get returns a copy of the task for documentID.
func (t *Tasks) Get(documentID string) (Task, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[documentID]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return *task, nil
}

func (t *Tasks) update(ctx context.Context, documentID string, fn func(*Task)) {
	t.mu.Lock()
	task, ok := t.tasks[documentID]
	if !ok {
		t.mu.Unlock()
		t.logger.Warn(ctx, "status update for unknown task", zap.String("document_id", documentID))
		return
	}
	fn(task)
	task.UpdatedAt = t.clock()
	snapshot := *task
	t.mu.Unlock()

	t.publish(ctx, snapshot)
}

// pruneLocked drops finished tasks older than the retention window.
func (t *Tasks) pruneLocked(now time.Time) {
	for id, task := range t.tasks {
		if task.Status != StatusProcessing && now.Sub(task.UpdatedAt) > finishedRetention {
			delete(t.tasks, id)
		}
	}
}

func (t *Tasks) publish(ctx context.Context, task Task) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.Publish(ctx, task); err != nil {
		t.logger.Warn(ctx, "failed to publish ingestion event",
			zap.String("document_id", task.DocumentID),
			zap.String("status", string(task.Status)),
			zap.Error(err))
	}
}
