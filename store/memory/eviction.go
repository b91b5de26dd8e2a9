package memory

import (
	"container/heap"
	"time"
)

// deadline records when the entry for sid is due to expire. An entry whose TTL
// is refreshed gets a new deadline; the old one stays queued and is discarded
// once it comes due (see Store.evict).
type deadline struct {
	at  time.Time
	sid string
}

type deadlineHeap []*deadline

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *deadlineHeap) Push(x any) {
	*h = append(*h, x.(*deadline))
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return d
}

// evictionQueue orders deadlines earliest first.
type evictionQueue struct {
	h deadlineHeap
}

func newEvictionQueue() *evictionQueue {
	eq := new(evictionQueue)
	heap.Init(&eq.h)
	return eq
}

func (eq *evictionQueue) schedule(sid string, at time.Time) {
	heap.Push(&eq.h, &deadline{at: at, sid: sid})
}

// due pops and returns every deadline at or before t, earliest first. An entry
// is expired from its deadline onwards.
func (eq *evictionQueue) due(t time.Time) []*deadline {
	var out []*deadline
	for eq.h.Len() > 0 && !eq.h[0].at.After(t) {
		out = append(out, heap.Pop(&eq.h).(*deadline))
	}
	return out
}

func (eq *evictionQueue) len() int {
	return eq.h.Len()
}
