package broker

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/nanoroom/internal/bus"
)

// Defaults for queue sizing and enqueue waits.
const (
	DefaultCapacity        = 1000
	DefaultEnqueueTimeout  = 5 * time.Second
	DefaultHighPrioTimeout = 30 * time.Second

	// highPriorityCeiling marks priorities that get the longer wait.
	highPriorityCeiling = 1
)

// Handler processes one message. A non-nil error counts as failed but
// still advances the cursor so a poison message cannot wedge the room.
type Handler func(ctx context.Context, env bus.MessageEnvelope) error

// Stats is a counter snapshot.
type Stats struct {
	RoomID    string `json:"room_id"`
	Received  uint64 `json:"received"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Replayed  uint64 `json:"replayed"`
	Queued    int    `json:"queued"`
}

// Options tune one broker; zero values take the defaults.
type Options struct {
	Capacity        int
	EnqueueTimeout  time.Duration
	HighPrioTimeout time.Duration
}

// Broker owns one room's queue, WAL, and processing worker.
type Broker struct {
	roomID  string
	handler Handler
	wal     *wal

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	queue    entryHeap
	seq      uint64
	cursor   uint64
	closed   bool
	started  bool

	capacity        int
	enqueueTimeout  time.Duration
	highPrioTimeout time.Duration

	received  uint64
	processed uint64
	failed    uint64
	dropped   uint64
	replayed  uint64

	done chan struct{}
}

// New opens the WAL and replays unprocessed entries into the queue.
// Call Start to begin processing.
func New(dir, roomID string, handler Handler, opts Options) (*Broker, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = DefaultEnqueueTimeout
	}
	if opts.HighPrioTimeout <= 0 {
		opts.HighPrioTimeout = DefaultHighPrioTimeout
	}

	w, err := openWAL(dir, roomID)
	if err != nil {
		return nil, err
	}

	b := &Broker{
		roomID:          roomID,
		handler:         handler,
		wal:             w,
		capacity:        opts.Capacity,
		enqueueTimeout:  opts.EnqueueTimeout,
		highPrioTimeout: opts.HighPrioTimeout,
		done:            make(chan struct{}),
	}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)

	if err := b.replay(); err != nil {
		w.close()
		return nil, err
	}
	return b, nil
}

// replay loads WAL entries past the cursor back into the queue, exactly
// once, and compacts the WAL down to just those entries.
func (b *Broker) replay() error {
	b.cursor = b.wal.readCursor()
	pending, err := b.wal.pending(b.cursor)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return b.wal.rewrite(nil)
	}

	for _, e := range pending {
		heap.Push(&b.queue, e)
		if e.Seq > b.seq {
			b.seq = e.Seq
		}
	}
	b.replayed = uint64(len(pending))
	if err := b.wal.rewrite(pending); err != nil {
		return err
	}
	slog.Info("broker: replayed queue from wal",
		"component", "broker", "room", b.roomID, "entries", len(pending), "cursor", b.cursor)
	return nil
}

// Start runs the processing worker until ctx is cancelled.
func (b *Broker) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()
	go b.process(ctx)
}

// Enqueue journals and queues a message. When the queue is full it
// waits up to the enqueue timeout (longer for priority <= 1); a false
// return means the message was dropped.
func (b *Broker) Enqueue(env bus.MessageEnvelope) bool {
	priority := env.EffectivePriority()
	deadline := time.Now().Add(b.waitBudget(priority))

	b.mu.Lock()
	for len(b.queue) >= b.capacity && !b.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			b.dropped++
			b.mu.Unlock()
			slog.Warn("broker: queue full, dropping message",
				"component", "broker", "room", b.roomID, "priority", priority)
			return false
		}
		b.waitNotFull(remaining)
	}
	if b.closed {
		b.dropped++
		b.mu.Unlock()
		return false
	}

	b.seq++
	e := &entry{
		Seq:        b.seq,
		Priority:   priority,
		ReceivedAt: time.Now().UTC(),
		Message:    env,
	}
	// The WAL write happens before the enqueue is acknowledged.
	if err := b.wal.append(e); err != nil {
		b.seq--
		b.dropped++
		b.mu.Unlock()
		slog.Error("broker: wal append failed",
			"component", "broker", "room", b.roomID, "error", err)
		return false
	}

	heap.Push(&b.queue, e)
	b.received++
	b.notEmpty.Signal()
	b.mu.Unlock()
	return true
}

func (b *Broker) waitBudget(priority int) time.Duration {
	if priority <= highPriorityCeiling && b.highPrioTimeout > b.enqueueTimeout {
		return b.highPrioTimeout
	}
	return b.enqueueTimeout
}

// waitNotFull waits for a dequeue signal or the timeout. Caller holds
// the lock.
func (b *Broker) waitNotFull(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		b.mu.Lock()
		b.notFull.Broadcast()
		b.mu.Unlock()
	})
	defer timer.Stop()
	b.notFull.Wait()
}

// process is the single worker: strict one-at-a-time, priority order,
// FIFO within a priority.
func (b *Broker) process(ctx context.Context) {
	defer close(b.done)

	// Wake the dequeue wait when the context ends.
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.closed = true
		b.notEmpty.Broadcast()
		b.notFull.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.notEmpty.Wait()
		}
		if b.closed && len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		e := heap.Pop(&b.queue).(*entry)
		b.notFull.Signal()
		b.mu.Unlock()

		err := b.handler(ctx, e.Message)

		b.mu.Lock()
		if err != nil {
			b.failed++
			slog.Warn("broker: message processing failed",
				"component", "broker", "room", b.roomID, "seq", e.Seq, "error", err)
		} else {
			b.processed++
		}
		// The cursor advances even on failure.
		b.cursor = e.Seq
		if werr := b.wal.writeCursor(e.Seq); werr != nil {
			slog.Error("broker: cursor write failed",
				"component", "broker", "room", b.roomID, "seq", e.Seq, "error", werr)
		}
		b.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
	}
}

// Stop cancels intake and waits for the worker to drain its current
// item.
func (b *Broker) Stop() {
	b.mu.Lock()
	b.closed = true
	started := b.started
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
	b.mu.Unlock()
	if started {
		<-b.done
	}
	if err := b.wal.close(); err != nil {
		slog.Debug("broker: wal close failed", "component", "broker", "room", b.roomID, "error", err)
	}
}

// Stats snapshots the counters.
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		RoomID:    b.roomID,
		Received:  b.received,
		Processed: b.processed,
		Failed:    b.failed,
		Dropped:   b.dropped,
		Replayed:  b.replayed,
		Queued:    len(b.queue),
	}
}

// QueueDepth is the number of waiting messages.
func (b *Broker) QueueDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Broker) String() string {
	return fmt.Sprintf("broker(%s)", b.roomID)
}
