package transport

import "sync"

// DefaultBinaryBacklogBytes is the default cap on buffered binary bytes
// while no binary subscriber is attached (spec §4.3).
const DefaultBinaryBacklogBytes = 1 << 20 // 1 MiB

// binaryBacklog is a bounded FIFO of binary frames, accumulated while no
// binary listener is attached. When the accumulated byte total exceeds
// capBytes, whole frames are dropped from the head until the total falls
// back under the cap — the same drop-oldest-on-overflow strategy as the
// teacher's CircularBuffer, sized in frames rather than a fixed backing
// array since frame boundaries must be preserved for FIFO-order flush.
type binaryBacklog struct {
	mu       sync.Mutex
	frames   [][]byte
	total    int
	capBytes int
}

func newBinaryBacklog(capBytes int) *binaryBacklog {
	if capBytes <= 0 {
		capBytes = DefaultBinaryBacklogBytes
	}
	return &binaryBacklog{capBytes: capBytes}
}

// push appends a frame, then drops from the head until the buffer is back
// under capacity.
func (b *binaryBacklog) push(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames = append(b.frames, frame)
	b.total += len(frame)

	for b.total > b.capBytes && len(b.frames) > 0 {
		dropped := b.frames[0]
		b.frames = b.frames[1:]
		b.total -= len(dropped)
	}
}

// drain returns the buffered frames in FIFO order and empties the backlog.
func (b *binaryBacklog) drain() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	frames := b.frames
	b.frames = nil
	b.total = 0
	return frames
}

// bytes reports the total bytes currently buffered, for tests asserting
// the cap invariant.
func (b *binaryBacklog) bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}
