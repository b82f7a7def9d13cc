// Package order implements the order priority queue and the execution
// state machine draining it.
package order

import (
	"container/heap"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-smartmoney-bot/internal/storage"
)

// Priority levels (lower = higher priority)
const (
	PriorityEmergency      = 0
	PriorityExitStopLoss   = 10
	PriorityExitTrailing   = 20
	PriorityExitTakeProfit = 30
	PriorityExitManual     = 40
	PriorityExitOther      = 50
	PriorityEntry          = 100
)

// PriorityName returns the display name for a priority level
func PriorityName(p int) string {
	switch p {
	case PriorityEmergency:
		return "EMERGENCY"
	case PriorityExitStopLoss:
		return "EXIT_STOP_LOSS"
	case PriorityExitTrailing:
		return "EXIT_TRAILING"
	case PriorityExitTakeProfit:
		return "EXIT_TAKE_PROFIT"
	case PriorityExitManual:
		return "EXIT_MANUAL"
	case PriorityExitOther:
		return "EXIT_OTHER"
	case PriorityEntry:
		return "ENTRY"
	}
	return "UNKNOWN"
}

// CalculatePriority maps an order to its queue priority
func CalculatePriority(o *storage.Order, emergency bool) int {
	if emergency {
		return PriorityEmergency
	}
	if !o.IsExit() {
		return PriorityEntry
	}

	reason := strings.ToLower(o.ExitReason)
	switch {
	case strings.Contains(reason, "stop_loss"):
		return PriorityExitStopLoss
	case strings.Contains(reason, "trailing"):
		return PriorityExitTrailing
	case strings.Contains(reason, "take_profit"):
		return PriorityExitTakeProfit
	case strings.Contains(reason, "manual"), strings.Contains(reason, "emergency"):
		return PriorityExitManual
	}
	return PriorityExitOther
}

type queueItem struct {
	priority  int
	createdAt int64
	orderID   string
	order     *storage.Order
	index     int
}

type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	if h[i].createdAt != h[j].createdAt {
		return h[i].createdAt < h[j].createdAt
	}
	return h[i].orderID < h[j].orderID
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Stats is a queue statistics snapshot
type Stats struct {
	QueueSize      int
	Processing     int
	AvailableSlots int
	MaxConcurrent  int
	TotalProcessed int64
	AvgWaitSeconds float64
	ByPriority     map[string]int
}

// Queue is the order priority queue: EXIT before ENTRY, FIFO within equal
// priority, bounded concurrent processing. One mutex guards everything;
// no lock is held across I/O.
type Queue struct {
	mu            sync.Mutex
	heap          itemHeap
	processing    map[string]struct{}
	maxConcurrent int

	processedCount int64
	totalWait      time.Duration
}

// NewQueue creates an order priority queue
func NewQueue(maxConcurrent int) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Queue{
		processing:    make(map[string]struct{}),
		maxConcurrent: maxConcurrent,
	}
}

// Enqueue adds an order. The emergency flag promotes it ahead of everything.
func (q *Queue) Enqueue(o *storage.Order, emergency bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	priority := CalculatePriority(o, emergency)
	heap.Push(&q.heap, &queueItem{
		priority:  priority,
		createdAt: o.CreatedAt.UnixNano(),
		orderID:   o.ID,
		order:     o,
	})

	log.Debug().
		Str("orderID", shortID(o.ID)).
		Int("priority", priority).
		Int("queueSize", len(q.heap)).
		Msg("order enqueued")
}

// Dequeue returns the next order to process, or nil when the queue is
// empty or all processing slots are taken.
func (q *Queue) Dequeue() *storage.Order {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.processing) >= q.maxConcurrent || len(q.heap) == 0 {
		return nil
	}

	item := heap.Pop(&q.heap).(*queueItem)
	q.processing[item.orderID] = struct{}{}

	wait := time.Since(time.Unix(0, item.createdAt))
	q.totalWait += wait
	q.processedCount++

	log.Debug().
		Str("orderID", shortID(item.orderID)).
		Int("priority", item.priority).
		Dur("wait", wait).
		Msg("order dequeued")

	return item.order
}

// MarkComplete releases an order's processing slot
func (q *Queue) MarkComplete(orderID string) {
	q.mu.Lock()
	delete(q.processing, orderID)
	q.mu.Unlock()
}

// Remove drops a still-queued order (used for cancellations). O(n).
func (q *Queue) Remove(orderID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.heap {
		if item.orderID == orderID {
			heap.Remove(&q.heap, item.index)
			return true
		}
	}
	return false
}

// Peek returns the next order without removing it
func (q *Queue) Peek() *storage.Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil
	}
	return q.heap[0].order
}

// Contains reports whether an order is queued or processing
func (q *Queue) Contains(orderID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.processing[orderID]; ok {
		return true
	}
	for _, item := range q.heap {
		if item.orderID == orderID {
			return true
		}
	}
	return false
}

// Clear empties the queue and returns the number of dropped orders
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.heap)
	q.heap = nil
	log.Info().Int("count", n).Msg("order queue cleared")
	return n
}

// Size returns the number of queued orders
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// ProcessingCount returns the number of orders currently processing
func (q *Queue) ProcessingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.processing)
}

// MaxConcurrent returns the concurrency cap
func (q *Queue) MaxConcurrent() int {
	return q.maxConcurrent
}

// GetStats returns a statistics snapshot
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	byPriority := make(map[string]int)
	for _, item := range q.heap {
		byPriority[PriorityName(item.priority)]++
	}

	avgWait := 0.0
	if q.processedCount > 0 {
		avgWait = q.totalWait.Seconds() / float64(q.processedCount)
	}

	return Stats{
		QueueSize:      len(q.heap),
		Processing:     len(q.processing),
		AvailableSlots: max(0, q.maxConcurrent-len(q.processing)),
		MaxConcurrent:  q.maxConcurrent,
		TotalProcessed: q.processedCount,
		AvgWaitSeconds: avgWait,
		ByPriority:     byPriority,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
