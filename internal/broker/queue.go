// Package broker gives each room a durable priority queue with a WAL,
// crash replay, and a single processing worker.
package broker

import (
	"container/heap"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
)

// entry is one queued message. Lower priority value processes first;
// seq breaks ties so equal-priority messages stay FIFO.
type entry struct {
	Seq        uint64              `json:"seq"`
	Priority   int                 `json:"priority"`
	ReceivedAt time.Time           `json:"received_at"`
	Message    bus.MessageEnvelope `json:"message"`
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

var _ heap.Interface = (*entryHeap)(nil)
