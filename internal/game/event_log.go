package game

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"autobattle/internal/config"
)

const (
	EventBufferSize      = 1024                   // Circular buffer size
	MaxEventsPerSec      = 10000                  // Global rate limit
	BatchFlushSize       = 64                     // Events per batch write
	BatchFlushInterval   = 100 * time.Millisecond // How often to flush
	EntityLimiterCleanup = 5 * time.Minute        // Cleanup interval for entity limiters
)

// EventLog provides bounded, rate-limited event logging with backpressure.
// Battle-wide events (no entity) only pass the global limiter; events
// attributed to an entity also pass that entity's limiter so one busy unit
// cannot crowd out the rest.
type EventLog struct {
	battleID string
	cfg      config.EventLogConfig
	logger   *zap.Logger

	// Circular buffer; head-tail is the pending count.
	bufMu    sync.Mutex
	buffer   [EventBufferSize]Event
	head     uint64
	tail     uint64
	sequence uint64

	// Rate limiting for DoS protection
	globalLimiter  *rate.Limiter
	entityLimiters sync.Map // map[string]*entityLimiterEntry

	// Async writer
	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	// File output
	file   *os.File
	fileMu sync.Mutex

	// Stats for monitoring
	droppedCount atomic.Uint64
	totalCount   atomic.Uint64
}

// entityLimiterEntry tracks per-entity rate limiting
type entityLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // unix nano
}

// EventLogStats is a point-in-time view of the log.
type EventLogStats struct {
	BattleID string `json:"battleId"`
	Total    uint64 `json:"total"`
	Dropped  uint64 `json:"dropped"`
	Pending  uint64 `json:"pending"`
	Running  bool   `json:"running"`
}

// NewEventLog creates a new bounded event log for one battle.
func NewEventLog(battleID string, cfg config.EventLogConfig, logger *zap.Logger) *EventLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventLog{
		battleID:      battleID,
		cfg:           cfg,
		logger:        logger.Named("eventlog"),
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		stopChan:      make(chan struct{}),
	}
}

// Start begins the async writer goroutine. An empty path keeps events in
// memory only.
func (el *EventLog) Start(filePath string) error {
	if el.running.Load() {
		return nil
	}

	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		el.file = file
	}

	el.running.Store(true)
	el.writerWg.Add(2)
	go el.writerLoop()
	go el.cleanupLoop()

	el.logger.Info("event log started", zap.String("path", filePath), zap.String("battle_id", el.battleID))
	return nil
}

// Stop flushes pending events and closes the file. Safe to call twice.
func (el *EventLog) Stop() {
	el.stopOnce.Do(func() {
		if !el.running.Load() {
			return
		}
		el.running.Store(false)
		close(el.stopChan)
		el.writerWg.Wait()

		el.fileMu.Lock()
		if el.file != nil {
			if err := el.file.Close(); err != nil {
				el.logger.Warn("close event log", zap.Error(err))
			}
			el.file = nil
		}
		el.fileMu.Unlock()
	})
}

// Emit adds an event with rate limiting.
// Returns false if the log is stopped or the event was rate limited.
func (el *EventLog) Emit(event Event) bool {
	if !el.running.Load() {
		return false
	}

	if !el.globalLimiter.Allow() {
		el.droppedCount.Add(1)
		return false
	}

	if event.EntityID != "" && !el.entityLimiter(event.EntityID).Allow() {
		el.droppedCount.Add(1)
		return false
	}

	el.bufMu.Lock()
	// Full buffer drops the oldest event (rolling window).
	if el.head-el.tail >= EventBufferSize {
		el.tail++
		el.droppedCount.Add(1)
	}
	el.sequence++
	event.Sequence = el.sequence
	event.BattleID = el.battleID
	el.buffer[el.head%EventBufferSize] = event
	el.head++
	el.bufMu.Unlock()

	el.totalCount.Add(1)
	return true
}

// EmitSimple is a convenience method to emit an event with automatic creation
func (el *EventLog) EmitSimple(eventType EventType, tickNum uint64, entityID string, payload interface{}) bool {
	return el.Emit(NewEvent(eventType, tickNum, entityID, payload))
}

// entityLimiter returns/creates a per-entity rate limiter
func (el *EventLog) entityLimiter(entityID string) *rate.Limiter {
	now := time.Now().UnixNano()
	if v, ok := el.entityLimiters.Load(entityID); ok {
		e := v.(*entityLimiterEntry)
		e.lastUsed.Store(now)
		return e.limiter
	}

	entry := &entityLimiterEntry{
		limiter: rate.NewLimiter(rate.Limit(el.cfg.EntityRate), el.cfg.EntityBurst),
	}
	entry.lastUsed.Store(now)
	actual, _ := el.entityLimiters.LoadOrStore(entityID, entry)
	return actual.(*entityLimiterEntry).limiter
}

// writerLoop batches and writes events to disk asynchronously
func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, BatchFlushSize)

	for {
		select {
		case <-el.stopChan:
			// Drain everything on shutdown.
			for {
				batch = el.collectBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				el.flushBatch(batch)
			}

		case <-ticker.C:
			batch = el.collectBatch(batch[:0])
			if len(batch) > 0 {
				el.flushBatch(batch)
			}
		}
	}
}

// cleanupLoop removes stale entity limiters to prevent memory leak
func (el *EventLog) cleanupLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(EntityLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-el.stopChan:
			return
		case <-ticker.C:
			el.cleanupEntityLimiters(time.Now().Add(-EntityLimiterCleanup))
		}
	}
}

// cleanupEntityLimiters removes limiters unused since cutoff
func (el *EventLog) cleanupEntityLimiters(cutoff time.Time) {
	limit := cutoff.UnixNano()
	el.entityLimiters.Range(func(key, value interface{}) bool {
		if value.(*entityLimiterEntry).lastUsed.Load() < limit {
			el.entityLimiters.Delete(key)
		}
		return true
	})
}

// collectBatch reads available events from circular buffer
func (el *EventLog) collectBatch(batch []Event) []Event {
	el.bufMu.Lock()
	defer el.bufMu.Unlock()

	for el.tail < el.head && len(batch) < BatchFlushSize {
		batch = append(batch, el.buffer[el.tail%EventBufferSize])
		el.tail++
	}
	return batch
}

// flushBatch writes events to disk (append-only, newline-delimited JSON)
func (el *EventLog) flushBatch(batch []Event) {
	el.fileMu.Lock()
	defer el.fileMu.Unlock()

	if el.file == nil {
		return
	}

	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			el.logger.Warn("encode event", zap.Stringer("type", event.Type), zap.Error(err))
			continue
		}
		data = append(data, '\n')
		if _, err := el.file.Write(data); err != nil {
			el.logger.Warn("write event", zap.Error(err))
			return
		}
	}
}

// Stats returns metrics for monitoring
func (el *EventLog) Stats() EventLogStats {
	el.bufMu.Lock()
	pending := el.head - el.tail
	el.bufMu.Unlock()

	return EventLogStats{
		BattleID: el.battleID,
		Total:    el.totalCount.Load(),
		Dropped:  el.droppedCount.Load(),
		Pending:  pending,
		Running:  el.running.Load(),
	}
}
