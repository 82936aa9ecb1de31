package intake

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rendis/triage/internal/engine"
	"github.com/rendis/triage/internal/logging"
	"github.com/rendis/triage/pkg/schema"
)

// Message is a transport-neutral view of one consumed record.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// MessageHandler processes one message. A nil error lets the consumer mark
// the message as done.
type MessageHandler interface {
	Handle(ctx context.Context, msg Message) error
}

// Triggerer starts an automation run. Satisfied by engine.Runner.
type Triggerer interface {
	Trigger(ctx context.Context, submissionID string, kind schema.TriggerKind) *engine.RunReport
}

// Submitter enqueues pooled work. Satisfied by engine.WorkerPool.
type Submitter interface {
	Submit(ctx context.Context, task engine.Task) error
}

// Handler turns trigger events into runner calls. Runs are dispatched
// through the pool so different submissions proceed concurrently. Events for
// the same submission run one at a time, in the order Handle received them.
//
// A run is detached from the cancellation of the context given to Handle:
// once a message is acknowledged its run completes even if the consumer
// session ends. Correlation values on the context are kept.
type Handler struct {
	runner Triggerer
	pool   Submitter
	logger *slog.Logger
	queue  *keyedQueue
}

// NewHandler creates a Handler. With a nil pool runs execute inline.
func NewHandler(runner Triggerer, pool Submitter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{runner: runner, pool: pool, logger: logger, queue: newKeyedQueue()}
}

// Handle decodes msg and dispatches the run. Undecodable messages are logged
// and acknowledged so they do not block the partition. The only error
// returned is a failure to enqueue, which leaves the message unmarked.
func (h *Handler) Handle(ctx context.Context, msg Message) error {
	ev, err := DecodeEvent(msg.Value)
	if err != nil {
		h.logger.WarnContext(ctx, "dropping undecodable trigger event",
			slog.String("topic", msg.Topic),
			slog.String("key", string(msg.Key)),
			slog.String("error", err.Error()),
		)
		return nil
	}

	ctx = logging.WithSubmissionID(ctx, ev.SubmissionID)
	job := queuedEvent{ctx: context.WithoutCancel(ctx), ev: ev}

	// Only the first event of an idle submission starts a drain; later
	// events wait in its queue.
	if !h.queue.push(ev.SubmissionID, job) {
		return nil
	}
	if h.pool == nil {
		h.drain(ev.SubmissionID, job)
		return nil
	}
	err = h.pool.Submit(ctx, engine.Task{
		Label: "trigger " + ev.SubmissionID,
		Run: func(context.Context) error {
			h.drain(ev.SubmissionID, job)
			return nil
		},
	})
	if err != nil {
		if dropped := h.queue.discard(ev.SubmissionID); dropped > 1 {
			h.logger.ErrorContext(ctx, "trigger events dropped: drain not scheduled",
				slog.Int("dropped", dropped-1),
				slog.String("error", err.Error()),
			)
		}
		return err
	}
	return nil
}

// drain runs job and then every event queued behind it for the same
// submission.
func (h *Handler) drain(key string, job queuedEvent) {
	for {
		h.run(job)
		next, ok := h.queue.pop(key)
		if !ok {
			return
		}
		job = next
	}
}

func (h *Handler) run(job queuedEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.ErrorContext(job.ctx, "trigger run panicked", slog.Any("panic", rec))
		}
	}()
	report := h.runner.Trigger(job.ctx, job.ev.SubmissionID, job.ev.Trigger)
	if report != nil && report.Err != nil {
		h.logger.WarnContext(job.ctx, "trigger run failed",
			slog.String("trigger", string(job.ev.Trigger)),
			slog.String("error", report.Err.Error()),
		)
	}
}

type queuedEvent struct {
	ctx context.Context
	ev  Event
}

// keyedQueue holds per-key FIFO queues. A key is present while its drain
// task is active; the head of its queue is the event being run.
type keyedQueue struct {
	mu      sync.Mutex
	pending map[string][]queuedEvent
}

func newKeyedQueue() *keyedQueue {
	return &keyedQueue{pending: make(map[string][]queuedEvent)}
}

// push appends job and reports whether the key was idle, in which case the
// caller must start a drain task.
func (q *keyedQueue) push(key string, job queuedEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	list, active := q.pending[key]
	q.pending[key] = append(list, job)
	return !active
}

// pop removes the finished head and returns the next job. When none is left
// the key becomes idle.
func (q *keyedQueue) pop(key string) (queuedEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.pending[key]
	if len(list) <= 1 {
		delete(q.pending, key)
		return queuedEvent{}, false
	}
	list = list[1:]
	q.pending[key] = list
	return list[0], true
}

// discard drops every job of key and returns how many there were.
func (q *keyedQueue) discard(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending[key])
	delete(q.pending, key)
	return n
}

func (q *keyedQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
