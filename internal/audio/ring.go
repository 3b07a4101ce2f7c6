package audio

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Ring is a bounded buffer of chunks with evict-oldest semantics. It has
// exactly one writer (the capture path) and one reader (the flush path);
// the mutex only guards the hand-off between those two goroutines.
type Ring struct {
	mutex    sync.Mutex
	chunks   []*Chunk
	capacity int
	evicted  uint64
}

func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		chunks:   make([]*Chunk, 0, capacity),
		capacity: capacity,
	}
}

// Push appends a chunk, evicting the oldest entry when the ring is full.
func (r *Ring) Push(chunk *Chunk) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if len(r.chunks) == r.capacity {
		evicted := r.chunks[0]
		copy(r.chunks, r.chunks[1:])
		r.chunks = r.chunks[:len(r.chunks)-1]
		r.evicted++

		log.Debug().
			Str("chunk_id", evicted.ID.String()).
			Uint64("total_evicted", r.evicted).
			Msg("Ring full, evicted oldest chunk")
	}

	r.chunks = append(r.chunks, chunk)
}

// Drain returns all buffered chunks in arrival order and empties the ring.
func (r *Ring) Drain() []*Chunk {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if len(r.chunks) == 0 {
		return nil
	}

	out := make([]*Chunk, len(r.chunks))
	copy(out, r.chunks)
	r.chunks = r.chunks[:0]
	return out
}

// Len reports the number of buffered chunks.
func (r *Ring) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.chunks)
}

// Evicted reports how many chunks have been dropped to make room.
func (r *Ring) Evicted() uint64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.evicted
}
