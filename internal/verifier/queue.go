package verifier

import (
	"sync"
	"time"
)

// ItemType distinguishes per-lead enrichment from flat bulk verification
type ItemType string

const (
	ItemTypeLead ItemType = "lead"
	ItemTypeBulk ItemType = "bulk"
)

// Candidate is one email permutation to try, in order
type Candidate struct {
	Email   string
	Pattern string
}

// Outcome is the final decision for a queue item
type Outcome struct {
	Status      Status
	Email       string
	Pattern     string
	Provider    string
	CreditsUsed int
	Err         error
}

// Item is one unit of verification work. The queue is in-memory only; the
// durable Lead/BulkEmailJob rows carry enough state for an idempotent
// resubmit after a restart.
type Item struct {
	Type       ItemType
	LeadID     string
	BulkJobID  string
	OwnerID    string
	Candidates []Candidate
	Priority   int

	// OnComplete and OnError fire from the worker goroutine
	OnComplete func(*Outcome)
	OnError    func(error)

	done       chan *Outcome
	seq        int64
	enqueuedAt time.Time
}

// queue is a priority-ordered in-process list: explicit priority wins,
// otherwise FIFO by arrival.
type queue struct {
	mu    sync.Mutex
	items []*Item
	seq   int64
}

func newQueue() *queue {
	return &queue{}
}

func (q *queue) push(item *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	item.seq = q.seq
	item.enqueuedAt = time.Now()

	// Insert before the first lower-priority item; equal priority keeps
	// arrival order.
	pos := len(q.items)
	for i, existing := range q.items {
		if item.Priority > existing.Priority {
			pos = i
			break
		}
	}
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = item
}

func (q *queue) pop() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
