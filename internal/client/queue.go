package client

import (
	"sort"
	"sync"
	"time"

	"github.com/vivo-us/request-handler/internal/recordtypes"
)

// queue is the controller-side ordered request map of §4.4. A dirty flag
// marks it unsorted; the controller re-sorts lazily before pulling the
// next request, rather than keeping it sorted on every insert.
type queue struct {
	mu      sync.Mutex
	records map[string]*recordtypes.RequestRecord
	order   []string
	dirty   bool

	heartbeats map[string]time.Time
}

func newQueue() *queue {
	return &queue{
		records:    make(map[string]*recordtypes.RequestRecord),
		heartbeats: make(map[string]time.Time),
	}
}

func (q *queue) add(r *recordtypes.RequestRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.records[r.RequestID] = r
	q.heartbeats[r.RequestID] = time.Now()
	q.dirty = true
}

func (q *queue) touchHeartbeat(requestID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heartbeats[requestID] = time.Now()
}

func (q *queue) remove(requestID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.records, requestID)
	delete(q.heartbeats, requestID)
	q.dirty = true
}

func (q *queue) markInProgress(requestID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if r, ok := q.records[requestID]; ok {
		r.Status = recordtypes.StatusInProgress
	}
}

// next resorts if dirty and returns the highest-ranked request still
// eligible for admission (status inQueue). Returns nil if none.
func (q *queue) next() *recordtypes.RequestRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.dirty {
		q.resortLocked()
	}

	for _, id := range q.order {
		r, ok := q.records[id]
		if !ok {
			continue
		}
		if r.Status == recordtypes.StatusInQueue {
			return r
		}
	}
	return nil
}

func (q *queue) resortLocked() {
	order := make([]string, 0, len(q.records))
	for id := range q.records {
		order = append(order, id)
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := q.records[order[i]], q.records[order[j]]
		return a.Rank(b)
	})

	q.order = order
	q.dirty = false
}

// expireStale discards any record whose heartbeat has lapsed beyond ttl
// (§4.4 "request liveness"), returning the discarded records so the
// caller can release any capacity they held.
func (q *queue) expireStale(ttl time.Duration) []*recordtypes.RequestRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []*recordtypes.RequestRecord
	now := time.Now()
	for id, last := range q.heartbeats {
		if now.Sub(last) > ttl {
			if r, ok := q.records[id]; ok {
				expired = append(expired, r)
			}
			delete(q.records, id)
			delete(q.heartbeats, id)
			q.dirty = true
		}
	}
	return expired
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}
