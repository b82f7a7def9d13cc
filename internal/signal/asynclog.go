package signal

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-smartmoney-bot/internal/storage"
)

// LogWriter persists signal log batches
type LogWriter interface {
	InsertSignalLogBatch(logs []*storage.SignalLog) error
}

// AsyncLogger buffers signal audit records in memory and flushes them in
// batches from a background goroutine. Log never blocks: when the buffer
// is full the oldest entry is dropped, with one warning per overflow burst.
type AsyncLogger struct {
	mu       sync.Mutex
	buf      []*storage.SignalLog
	capacity int
	dropped  int64
	inBurst  bool

	writer        LogWriter
	batchSize     int
	flushInterval time.Duration
	flushRetries  int

	wake chan struct{}
	done chan struct{}
	stop context.CancelFunc
}

// NewAsyncLogger creates the signal log buffer and starts its flusher
func NewAsyncLogger(writer LogWriter, capacity, batchSize int, flushInterval time.Duration) *AsyncLogger {
	if capacity <= 0 {
		capacity = 10000
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &AsyncLogger{
		buf:           make([]*storage.SignalLog, 0, batchSize),
		capacity:      capacity,
		writer:        writer,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		flushRetries:  3,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		stop:          cancel,
	}
	go l.run(ctx)
	return l
}

// Log enqueues a signal audit record. Non-blocking.
func (l *AsyncLogger) Log(entry *storage.SignalLog) {
	l.mu.Lock()
	if len(l.buf) >= l.capacity {
		l.buf = l.buf[1:]
		l.dropped++
		if !l.inBurst {
			l.inBurst = true
			log.Warn().Int("capacity", l.capacity).Msg("signal log queue full, dropping oldest")
		}
	}
	l.buf = append(l.buf, entry)
	size := len(l.buf)
	l.mu.Unlock()

	if size >= l.batchSize {
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
}

// QueueSize returns the number of buffered entries
func (l *AsyncLogger) QueueSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf)
}

// Dropped returns the number of entries dropped to back-pressure
func (l *AsyncLogger) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *AsyncLogger) run(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.flush(true)
			return
		case <-l.wake:
			l.flush(false)
		case <-ticker.C:
			l.flush(false)
		}
	}
}

// flush persists buffered entries in batches. On write failure the batch
// is re-enqueued at the front after bounded retries so a transient store
// outage does not lose records.
func (l *AsyncLogger) flush(all bool) {
	for {
		l.mu.Lock()
		if len(l.buf) == 0 {
			l.inBurst = false
			l.mu.Unlock()
			return
		}
		n := len(l.buf)
		if n > l.batchSize {
			n = l.batchSize
		}
		batch := make([]*storage.SignalLog, n)
		copy(batch, l.buf[:n])
		l.buf = l.buf[n:]
		if len(l.buf) < l.capacity {
			l.inBurst = false
		}
		l.mu.Unlock()

		if err := l.writeBatch(batch); err != nil {
			log.Error().Err(err).Int("batch", len(batch)).Msg("signal log flush failed, re-enqueueing")
			l.mu.Lock()
			if len(l.buf)+len(batch) <= l.capacity {
				l.buf = append(batch, l.buf...)
			} else {
				l.dropped += int64(len(batch))
			}
			l.mu.Unlock()
			return
		}

		if !all {
			l.mu.Lock()
			remaining := len(l.buf)
			l.mu.Unlock()
			if remaining < l.batchSize {
				return
			}
		}
	}
}

func (l *AsyncLogger) writeBatch(batch []*storage.SignalLog) error {
	var err error
	backoff := 50 * time.Millisecond
	for attempt := 0; attempt < l.flushRetries; attempt++ {
		if err = l.writer.InsertSignalLogBatch(batch); err == nil {
			return nil
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}

// Close stops the flusher, draining remaining entries
func (l *AsyncLogger) Close(ctx context.Context) error {
	l.stop()
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
