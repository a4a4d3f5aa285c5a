package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/cardrelay/internal/domain/audit"
)

// finalFlushTimeout bounds the flush performed while shutting down.
const finalFlushTimeout = 5 * time.Second

// AuditService writes scan records through a buffered channel and a single
// background worker, so scan reports never wait on audit I/O.
// Records arriving after Stop are dropped and counted instead of sent.
type AuditService struct {
	store         audit.AuditStore
	records       chan audit.ScanRecord
	wg            sync.WaitGroup
	stopOnce      sync.Once
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately
	dropCount   atomic.Int64
	onDrop      func()

	warningThreshold int          // percent of capacity
	lastWarning      atomic.Int64 // unix nanos

	adaptiveFlushThreshold int // percent of capacity, 0 disables

	// closeMu guards closing records against in-flight sends. Record holds
	// the read lock while it sends; Stop takes the write lock to close.
	closeMu sync.RWMutex
	closed  bool
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of records to batch before writing.
// Non-positive sizes keep the default of 100.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets the interval to flush pending records.
// Non-positive intervals keep the default of one second.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the size of the audit channel buffer.
// The buffer absorbs bursts while the worker writes; a full buffer applies
// backpressure to Record. Non-positive sizes keep the default of 1000.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.records = make(chan audit.ScanRecord, size)
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets the backpressure timeout.
// Record blocks on a full channel for up to this long before dropping the
// record. 0 drops immediately without blocking.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the channel depth warning percentage (0-100).
// A warning is logged, at most once per second, when the channel depth
// reaches this percentage of capacity. 0 disables the warning.
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.warningThreshold = clampPercent(percent)
	}
}

// WithAdaptiveFlushThreshold sets the channel depth percentage that triggers
// faster flushing. Above it the worker flushes every batch immediately and
// its ticker runs at a quarter of the flush interval. Default is 80.
// 0 disables adaptive flushing.
func WithAdaptiveFlushThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.adaptiveFlushThreshold = clampPercent(percent)
	}
}

// WithDropHook registers fn to be called for every dropped record.
// It runs on the caller's goroutine and must not block.
func WithDropHook(fn func()) AuditOption {
	return func(s *AuditService) {
		s.onDrop = fn
	}
}

// clampPercent limits p to 0-100.
func clampPercent(p int) int {
	return max(0, min(p, 100))
}

// NewAuditService creates a new AuditService with the given store and options.
func NewAuditService(store audit.AuditStore, logger *slog.Logger, opts ...AuditOption) *AuditService {
	const defaultChannelSize = 1000
	s := &AuditService{
		store:                  store,
		records:                make(chan audit.ScanRecord, defaultChannelSize),
		logger:                 logger,
		batchSize:              100,
		flushInterval:          time.Second,
		channelSize:            defaultChannelSize,
		sendTimeout:            100 * time.Millisecond,
		warningThreshold:       80,
		adaptiveFlushThreshold: 80,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins the background worker that batches and writes records.
// The worker keeps running after ctx is cancelled until Stop drains it.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record queues a record for the worker. It tries a non-blocking send,
// then waits up to the send timeout, then drops and counts the record.
// Calls after Stop drop the record, so a handler that outlives a failed
// server shutdown cannot panic on a closed channel.
func (s *AuditService) Record(record audit.ScanRecord) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		s.recordDrop(record, "stopped")
		return
	}

	if s.warningThreshold > 0 {
		depth := len(s.records)
		if depth >= s.channelSize*s.warningThreshold/100 {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.records <- record:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(record, "channel full")
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.records <- record:
	case <-timer.C:
		s.recordDrop(record, "send timeout")
	}
}

// recordDrop counts a lost record, fires the drop hook and logs why.
func (s *AuditService) recordDrop(record audit.ScanRecord, cause string) {
	drops := s.dropCount.Add(1)
	if s.onDrop != nil {
		s.onDrop()
	}
	s.logger.Warn("audit record dropped",
		"cause", cause,
		"decision", record.Decision,
		"request_id", record.RequestID,
		"total_drops", drops,
	)
}

// warnChannelDepth logs at most once per second.
func (s *AuditService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("audit channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedRecords returns the total number of dropped records.
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns the number of queued records.
func (s *AuditService) ChannelDepth() int {
	return len(s.records)
}

// ChannelCapacity returns the channel buffer size.
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop closes the channel, waits for the worker to write what is pending,
// and flushes the store. It waits for in-flight Record calls, which block
// for at most the send timeout. Safe to call more than once.
func (s *AuditService) Stop() {
	s.stopOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		close(s.records)
		s.closeMu.Unlock()

		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
		defer cancel()
		if err := s.store.Flush(ctx); err != nil {
			s.logger.Error("failed to flush audit store", "error", err)
		}
	})
}

// worker batches records and writes them on size, interval or pressure.
func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.ScanRecord, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	fastMode := false

	finalFlush := func() {
		if len(batch) == 0 {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
		s.flush(flushCtx, batch)
		cancel()
	}

	for {
		select {
		case record, ok := <-s.records:
			if !ok {
				finalFlush()
				return
			}
			batch = append(batch, record)

			depthPercent := len(s.records) * 100 / s.channelSize
			pressured := s.adaptiveFlushThreshold > 0 && depthPercent >= s.adaptiveFlushThreshold

			if len(batch) >= s.batchSize || pressured {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

			switch {
			case pressured && !fastMode:
				ticker.Reset(s.flushInterval / 4)
				fastMode = true
				s.logger.Debug("audit adaptive flush: entering fast mode", "depth_percent", depthPercent)
			case !pressured && fastMode:
				ticker.Reset(s.flushInterval)
				fastMode = false
				s.logger.Debug("audit adaptive flush: returning to normal mode", "depth_percent", depthPercent)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Drain until Stop closes the channel.
			for record := range s.records {
				batch = append(batch, record)
			}
			finalFlush()
			return
		}
	}
}

// flush writes a batch. Errors are logged, never propagated to scan handling.
func (s *AuditService) flush(ctx context.Context, batch []audit.ScanRecord) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch",
			"error", err,
			"count", len(batch),
		)
	}
}
