package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/codexmcp/internal/observability"
	"github.com/harun/codexmcp/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// StatelessLane carries calls that are not bound to a session.
	StatelessLane = "stateless"

	sessionLanePrefix = "session:"
)

var (
	// ErrQueueClosed is returned when enqueueing after Close.
	ErrQueueClosed = errors.New("command queue closed")

	// ErrLaneCleared is returned to tasks dropped by ClearLane.
	ErrLaneCleared = errors.New("lane cleared")
)

// SessionLane returns the lane name that serializes calls for one session.
func SessionLane(sessionID string) string {
	return sessionLanePrefix + sessionID
}

// LaneClass groups lanes for metrics: every session lane reports as
// "session", other lanes under their own name.
func LaneClass(lane string) string {
	if strings.HasPrefix(lane, sessionLanePrefix) {
		return "session"
	}
	return lane
}

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// laneState manages execution state for a single lane. Lanes created on
// demand are removed once they are idle; pinned lanes stay.
type laneState struct {
	concurrency int
	pinned      bool
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// Option configures a CommandQueue.
type Option func(*CommandQueue)

// WithLane pre-creates a pinned lane with the given concurrency.
func WithLane(lane string, concurrency int) Option {
	return func(cq *CommandQueue) {
		cq.pinLane(lane, concurrency)
	}
}

// WithWarnAfter sets the default wait warning threshold for every task.
func WithWarnAfter(d time.Duration) Option {
	return func(cq *CommandQueue) {
		cq.warnAfter = d
	}
}

// CommandQueue provides lane-based task serialization with concurrency control
type CommandQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	warnAfter time.Duration
	closed    bool
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a new CommandQueue. Lanes not configured up front are created
// on first use with concurrency 1 and dropped again when they drain.
func New(opts ...Option) *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	cq := &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(cq)
	}
	return cq
}

// pinLane creates lane if needed, marks it permanent and returns its
// previous concurrency (zero when new).
func (cq *CommandQueue) pinLane(lane string, concurrency int) (*laneState, int) {
	if concurrency < 1 {
		concurrency = 1
	}
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, exists := cq.lanes[lane]
	if !exists {
		ls = &laneState{}
		cq.lanes[lane] = ls
		log.Debug().Str("lane", lane).Int("concurrency", concurrency).Msg("Lane initialized")
	}
	ls.mu.Lock()
	old := ls.concurrency
	ls.concurrency = concurrency
	ls.pinned = true
	ls.mu.Unlock()
	return ls, old
}

func (cq *CommandQueue) getLane(lane string) *laneState {
	cq.mu.RLock()
	defer cq.mu.RUnlock()
	return cq.lanes[lane]
}

// pruneLane drops an unpinned lane with nothing queued or running.
func (cq *CommandQueue) pruneLane(lane string) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls := cq.lanes[lane]
	if ls == nil {
		return
	}
	ls.mu.Lock()
	idle := !ls.pinned && ls.running == 0 && len(ls.queue) == 0
	ls.mu.Unlock()
	if idle {
		delete(cq.lanes, lane)
		log.Debug().Str("lane", lane).Msg("Lane removed")
	}
}

// Enqueue adds a task to the lane and blocks until it completes, the caller's
// context ends while the task is still queued, or the lane is cleared.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(ctx, "commandqueue.enqueue", attribute.String("lane", lane))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	record := &taskRecord{
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan taskResult, 1),
	}

	// The lane lookup and the append happen under cq.mu so pruneLane cannot
	// drop the lane in between.
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil, ErrQueueClosed
	}
	cq.taskIDSeq++
	record.id = fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	record.options = TaskOptions{WarnAfter: cq.warnAfter}
	if options != nil {
		record.options = *options
		if record.options.WarnAfter == 0 {
			record.options.WarnAfter = cq.warnAfter
		}
	}

	ls, exists := cq.lanes[lane]
	if !exists {
		ls = &laneState{concurrency: 1}
		cq.lanes[lane] = ls
	}
	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()
	cq.mu.Unlock()

	opts := record.options
	taskID := record.id
	logger.Debug().
		Str("lane", lane).
		Str("taskId", taskID).
		Int("queueSize", queueSize).
		Msg("Task enqueued")
	observability.RecordQueueEnqueue(LaneClass(lane))
	defer cq.pruneLane(lane)

	waitDone := make(chan struct{})
	defer close(waitDone)
	if opts.WarnAfter > 0 {
		go cq.startWarnTimer(record, lane, waitDone)
	}

	cq.processLane(lane)

	var result taskResult
	select {
	case result = <-record.result:
	case <-ctx.Done():
		if cq.removeQueued(lane, record) {
			result = taskResult{err: ctx.Err()}
		} else {
			// already running; its context is cancelled too
			result = <-record.result
		}
	}

	if result.err != nil {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	}
	return result.value, result.err
}

func (cq *CommandQueue) removeQueued(lane string, record *taskRecord) bool {
	ls := cq.getLane(lane)
	if ls == nil {
		return false
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for i, r := range ls.queue {
		if r == record {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			observability.RecordQueueDequeue(LaneClass(lane), 1)
			return true
		}
	}
	return false
}

// processLane starts queued tasks while the lane has capacity
func (cq *CommandQueue) processLane(lane string) {
	ls := cq.getLane(lane)
	if ls == nil {
		return
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		observability.RecordQueueDequeue(LaneClass(lane), 1)

		if err := record.ctx.Err(); err != nil {
			record.result <- taskResult{err: err}
			continue
		}

		ls.running++
		log.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Int("running", ls.running).
			Msg("Task started")

		cq.wg.Add(1)
		go cq.executeTask(lane, ls, record)
	}
}

func (cq *CommandQueue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(taskCtx, log.Logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := cq.run(runCtx, record.task)
	duration := time.Since(startTime)

	ls.mu.Lock()
	ls.running--
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(LaneClass(lane), duration, err == nil)

	cq.processLane(lane)
}

func (cq *CommandQueue) run(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// startWarnTimer warns once if the task is still queued after WarnAfter
func (cq *CommandQueue) startWarnTimer(record *taskRecord, lane string, done <-chan struct{}) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls := cq.getLane(lane)
		if ls == nil {
			return
		}
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r == record {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			log.Warn().
				Str("lane", lane).
				Str("taskId", record.id).
				Dur("wait", wait).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(wait, queuePos)
			}
		}
	case <-done:
	case <-cq.ctx.Done():
	}
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	ls := cq.getLane(lane)
	if ls == nil {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// GetRunningCount returns the number of currently executing tasks for a lane
func (cq *CommandQueue) GetRunningCount(lane string) int {
	ls := cq.getLane(lane)
	if ls == nil {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// GetStats returns statistics for all lanes
func (cq *CommandQueue) GetStats() map[string]map[string]int {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]map[string]int, len(cq.lanes))
	for lane, ls := range cq.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}
	return stats
}

// ClearLane rejects all queued tasks of a lane with ErrLaneCleared.
func (cq *CommandQueue) ClearLane(lane string) int {
	ls := cq.getLane(lane)
	if ls == nil {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	count := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- taskResult{err: ErrLaneCleared}
	}
	ls.queue = nil

	log.Info().Str("lane", lane).Int("cleared", count).Msg("Lane cleared")
	observability.RecordQueueDequeue(LaneClass(lane), count)
	return count
}

// SetConcurrency updates the concurrency limit for a lane and pins it.
func (cq *CommandQueue) SetConcurrency(lane string, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	_, oldMax := cq.pinLane(lane, concurrency)

	log.Info().
		Str("lane", lane).
		Int("oldMax", oldMax).
		Int("newMax", concurrency).
		Msg("Lane concurrency updated")

	if concurrency > oldMax {
		cq.processLane(lane)
	}
}

// WaitForActive waits until no lane has running tasks, up to timeout
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		active := 0
		cq.mu.RLock()
		for _, ls := range cq.lanes {
			ls.mu.Lock()
			active += ls.running
			ls.mu.Unlock()
		}
		cq.mu.RUnlock()

		if active == 0 {
			return true
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Int("active", active).Msg("Timeout waiting for active tasks")
			return false
		}
		<-ticker.C
	}
}

// Close cancels running tasks, rejects queued ones and waits for workers to exit.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	lanes := make(map[string]*laneState, len(cq.lanes))
	for lane, ls := range cq.lanes {
		lanes[lane] = ls
	}
	cq.mu.Unlock()

	cq.cancel()
	for lane, ls := range lanes {
		ls.mu.Lock()
		for _, record := range ls.queue {
			record.result <- taskResult{err: ErrQueueClosed}
		}
		observability.RecordQueueDequeue(LaneClass(lane), len(ls.queue))
		ls.queue = nil
		ls.mu.Unlock()
	}
	cq.wg.Wait()
	return nil
}
