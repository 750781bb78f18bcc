package iio

import "sync/atomic"

// Buffer is a single-producer single-consumer byte ring over a backing
// store that is allocated once and reused for every capture session.
//
// The producer (the sampling step, usually in interrupt context) only
// advances head and the consumer only advances tail. Positions run over
// [0, 2*size) so a full ring is distinguishable from an empty one.
// All shared fields are 32-bit atomics; Cortex-M0 has no 64-bit atomics.
type Buffer struct {
	data []byte

	size    uint32 // atomic, reported size for this session
	fixed   uint32 // atomic bool
	head    uint32 // atomic, producer position
	tail    uint32 // atomic, consumer position
	written uint32 // atomic, bytes accepted this session (wraps at 4 GiB)
}

// NewBuffer allocates a ring of the given capacity
func NewBuffer(capacity int) *Buffer {
	b := &Buffer{data: make([]byte, capacity)}
	b.Reset()
	return b
}

// Cap returns the size of the backing store
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Reset starts a new session. Must not race with Write or Read.
func (b *Buffer) Reset() {
	atomic.StoreUint32(&b.head, 0)
	atomic.StoreUint32(&b.tail, 0)
	atomic.StoreUint32(&b.written, 0)
	atomic.StoreUint32(&b.size, uint32(len(b.data)))
	atomic.StoreUint32(&b.fixed, 0)
}

// FixSize sets the reported size to the largest multiple of scanBytes that
// fits the backing store. Only the first call in a session has an effect.
func (b *Buffer) FixSize(scanBytes int) int {
	if atomic.LoadUint32(&b.fixed) != 0 || scanBytes <= 0 {
		return b.Size()
	}
	n := len(b.data) - len(b.data)%scanBytes
	atomic.StoreUint32(&b.size, uint32(n))
	atomic.StoreUint32(&b.fixed, 1)
	return n
}

// Reserve fixes the reported size to exactly n bytes
func (b *Buffer) Reserve(n int) error {
	if n <= 0 || n > len(b.data) {
		return ErrNoMem
	}
	atomic.StoreUint32(&b.size, uint32(n))
	atomic.StoreUint32(&b.fixed, 1)
	return nil
}

// Fixed reports whether the session size has been fixed
func (b *Buffer) Fixed() bool {
	return atomic.LoadUint32(&b.fixed) != 0
}

// Size returns the reported size for the current session
func (b *Buffer) Size() int {
	return int(atomic.LoadUint32(&b.size))
}

func (b *Buffer) used(head, tail, size uint32) uint32 {
	if size == 0 {
		return 0
	}
	return (head + 2*size - tail) % (2 * size)
}

// Len returns the number of bytes waiting to be read
func (b *Buffer) Len() int {
	return int(b.used(atomic.LoadUint32(&b.head), atomic.LoadUint32(&b.tail), atomic.LoadUint32(&b.size)))
}

// Free returns the room left for the producer
func (b *Buffer) Free() int {
	return b.Size() - b.Len()
}

// Written returns the bytes accepted since Reset
func (b *Buffer) Written() int {
	return int(atomic.LoadUint32(&b.written))
}

// Write appends p in full or not at all
func (b *Buffer) Write(p []byte) error {
	size := atomic.LoadUint32(&b.size)
	if size == 0 {
		return ErrNoMem
	}
	head := atomic.LoadUint32(&b.head)
	tail := atomic.LoadUint32(&b.tail)
	n := uint32(len(p))
	if n > size-b.used(head, tail, size) {
		return ErrOverflow
	}
	pos := head % size
	first := copy(b.data[pos:size], p)
	copy(b.data[:size], p[first:])
	atomic.StoreUint32(&b.head, (head+n)%(2*size))
	atomic.AddUint32(&b.written, n)
	return nil
}

// Read moves up to len(p) bytes out of the ring
func (b *Buffer) Read(p []byte) int {
	size := atomic.LoadUint32(&b.size)
	head := atomic.LoadUint32(&b.head)
	tail := atomic.LoadUint32(&b.tail)
	avail := b.used(head, tail, size)
	n := uint32(len(p))
	if n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}
	pos := tail % size
	first := copy(p[:n], b.data[pos:size])
	copy(p[first:n], b.data[:size])
	atomic.StoreUint32(&b.tail, (tail+n)%(2*size))
	return int(n)
}
