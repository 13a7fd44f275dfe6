package infrastructure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
)

// BatchHandler processes one debounced batch trigger.
type BatchHandler func(ctx context.Context, trigger entities.BatchTrigger) error

type debounceEntry struct {
	timer   *time.Timer
	gen     uint64
	trigger entities.BatchTrigger
	running bool
	dirty   bool
}

// DebounceQueue runs the handler once per thread after a quiet window.
// Executions for the same thread never overlap; triggers that arrive mid-run schedule one follow-up.
type DebounceQueue struct {
	window      time.Duration
	retryDelay  time.Duration
	maxAttempts int
	handler     BatchHandler
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*debounceEntry
	closed  bool
	wg      sync.WaitGroup
}

func NewDebounceQueue(window time.Duration, maxAttempts int, retryDelay time.Duration, handler BatchHandler, logger zerolog.Logger) *DebounceQueue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DebounceQueue{
		window:      window,
		retryDelay:  retryDelay,
		maxAttempts: maxAttempts,
		handler:     handler,
		logger:      logger.With().Str("component", "debounce_queue").Logger(),
		ctx:         ctx,
		cancel:      cancel,
		entries:     make(map[string]*debounceEntry),
	}
}

// Enqueue (re)starts the quiet window for the trigger's thread.
func (q *DebounceQueue) Enqueue(trigger entities.BatchTrigger) {
	key := trigger.ThreadID
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn().Str("thread_id", key).Msg("queue closed, trigger dropped")
		return
	}

	e, ok := q.entries[key]
	if !ok {
		e = &debounceEntry{}
		q.entries[key] = e
	}
	e.trigger = trigger
	if e.running {
		e.dirty = true
		return
	}
	q.scheduleLocked(key, e)
}

func (q *DebounceQueue) scheduleLocked(key string, e *debounceEntry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(q.window, func() { q.fire(key, gen) })
}

func (q *DebounceQueue) fire(key string, gen uint64) {
	q.mu.Lock()
	e, ok := q.entries[key]
	if !ok || e.gen != gen || q.closed {
		q.mu.Unlock()
		return
	}
	if e.running {
		e.dirty = true
		q.mu.Unlock()
		return
	}
	e.running = true
	e.timer = nil
	trigger := e.trigger
	q.wg.Add(1)
	q.mu.Unlock()

	q.run(trigger)

	q.mu.Lock()
	e.running = false
	if e.dirty && !q.closed {
		e.dirty = false
		q.scheduleLocked(key, e)
	} else if e.timer == nil {
		delete(q.entries, key)
	}
	q.mu.Unlock()
	q.wg.Done()
}

func (q *DebounceQueue) run(trigger entities.BatchTrigger) {
	log := q.logger.With().Str("organization_id", trigger.OrganizationID).Str("thread_id", trigger.ThreadID).Logger()
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		err := q.call(trigger)
		if err == nil {
			return
		}
		if apperr.IsPermanent(err) {
			log.Error().Err(err).Int("attempt", attempt).Msg("batch failed permanently")
			return
		}
		if attempt == q.maxAttempts {
			log.Error().Err(err).Int("attempts", attempt).Msg("batch failed, giving up")
			return
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("batch failed, retrying")
		select {
		case <-time.After(q.retryDelay * time.Duration(attempt)):
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *DebounceQueue) call(trigger entities.BatchTrigger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch handler panic: %v", r)
		}
	}()
	return q.handler(q.ctx, trigger)
}

// Pending reports how many threads are waiting or running.
func (q *DebounceQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Shutdown stops accepting triggers, drops timers that have not fired and waits for running batches.
// Dropped threads keep their unconsumed messages and are picked up again on the next start.
func (q *DebounceQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	dropped := 0
	for key, e := range q.entries {
		if e.timer != nil && !e.running {
			e.timer.Stop()
			delete(q.entries, key)
			dropped++
		}
	}
	q.mu.Unlock()
	if dropped > 0 {
		q.logger.Info().Int("threads", dropped).Msg("pending batches dropped on shutdown")
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}
