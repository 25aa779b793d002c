package audio

import "sync"

// ChunkQueue is an ordered, unbounded FIFO of [Chunk] shared between a
// producer (the network/decoder goroutine) and a consumer (the playback
// goroutine). It is deliberately unbounded: an interrupt drains the queue
// immediately rather than relying on backpressure, so a capacity bound would
// only add a second blocking point to the hangup path.
//
// Get blocks until a chunk is available or the queue is closed; GetNoWait
// never blocks. All methods are safe for concurrent use.
type ChunkQueue struct {
	cond   *sync.Cond
	chunks []Chunk
	head   int
	closed bool
}

// NewChunkQueue creates an empty, open ChunkQueue.
func NewChunkQueue() *ChunkQueue {
	return &ChunkQueue{cond: sync.NewCond(&sync.Mutex{})}
}

// Put appends a chunk to the queue and wakes one waiting consumer.
// Puts after Close are dropped; the boolean reports whether the chunk was
// accepted.
func (q *ChunkQueue) Put(c Chunk) bool {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	if q.closed {
		return false
	}
	q.chunks = append(q.chunks, c)
	q.cond.Broadcast()
	return true
}

// Get removes and returns the oldest chunk, blocking while the queue is
// empty. It returns ok=false once the queue is closed and fully drained, or
// closed while waiting — the consumer's signal to exit its loop.
func (q *ChunkQueue) Get() (Chunk, bool) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	for q.size() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.size() == 0 {
		return Chunk{}, false
	}
	return q.pop(), true
}

// GetNoWait removes and returns the oldest chunk without blocking.
// ok=false means the queue is currently empty — a normal condition, not an
// error. Interrupt paths loop on GetNoWait until it reports empty.
func (q *ChunkQueue) GetNoWait() (Chunk, bool) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	if q.size() == 0 {
		return Chunk{}, false
	}
	return q.pop(), true
}

// Len returns the number of queued chunks.
func (q *ChunkQueue) Len() int {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	return q.size()
}

// Close marks the queue closed and wakes all waiters. Pending chunks remain
// readable via Get/GetNoWait; new Puts are dropped. Close is idempotent.
func (q *ChunkQueue) Close() {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *ChunkQueue) size() int { return len(q.chunks) - q.head }

// pop removes and returns the head chunk in O(1): the head index advances
// instead of shifting the slice, so draining a large backlog stays linear.
// Caller must hold the lock and have checked that the queue is non-empty.
func (q *ChunkQueue) pop() Chunk {
	c := q.chunks[q.head]
	q.chunks[q.head] = Chunk{} // helps GC
	q.head++
	if q.head == len(q.chunks) {
		q.chunks = q.chunks[:0]
		q.head = 0
	} else if q.head > 64 && q.head > len(q.chunks)/2 {
		// Reclaim the dead prefix once it dominates the backing array.
		n := copy(q.chunks, q.chunks[q.head:])
		clear(q.chunks[n:])
		q.chunks = q.chunks[:n]
		q.head = 0
	}
	return c
}
