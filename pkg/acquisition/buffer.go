package acquisition

import (
	"context"
	"sync"
	"time"

	"github.com/labrig/labrig-go/pkg/model"
)

// DefaultCapacity is the buffer capacity used when none is configured.
const DefaultCapacity = 8

// Stats is a snapshot of the buffer counters.
type Stats struct {
	// Len is the number of buffered frames.
	Len int `cbor:"1,keyasint" json:"len"`

	// Capacity is the fixed capacity.
	Capacity int `cbor:"2,keyasint" json:"capacity"`

	// Overflow counts frames evicted because the buffer was full.
	Overflow uint64 `cbor:"3,keyasint" json:"overflow"`

	// Lost counts frames the device dropped before they reached the buffer.
	Lost uint64 `cbor:"4,keyasint" json:"lost"`

	// Pushed counts all frames pushed since creation.
	Pushed uint64 `cbor:"5,keyasint" json:"pushed"`
}

// Buffer is a fixed-capacity FIFO of frames with drop-oldest overflow.
type Buffer struct {
	mu sync.Mutex

	frames []Frame
	head   int
	count  int

	overflow uint64
	lost     uint64
	pushed   uint64

	// ready is closed and replaced on every push to wake waiting consumers.
	ready chan struct{}
}

// NewBuffer creates a buffer. A capacity <= 0 selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		frames: make([]Frame, capacity),
		ready:  make(chan struct{}),
	}
}

// Capacity returns the buffer capacity.
func (b *Buffer) Capacity() int {
	return len(b.frames)
}

// Push appends f. If the buffer is full the oldest frame is evicted and
// the overflow counter incremented. Push never blocks.
func (b *Buffer) Push(f Frame) {
	b.mu.Lock()
	c := len(b.frames)
	if b.count == c {
		b.frames[b.head] = Frame{}
		b.head = (b.head + 1) % c
		b.count--
		b.overflow++
	}
	b.frames[(b.head+b.count)%c] = f
	b.count++
	b.pushed++

	close(b.ready)
	b.ready = make(chan struct{})
	b.mu.Unlock()
}

// RecordLoss accounts for n frames that never reached the buffer.
func (b *Buffer) RecordLoss(n uint64) {
	b.mu.Lock()
	b.lost += n
	b.mu.Unlock()
}

// Pop removes and returns the oldest frame. It returns false if the buffer
// is empty.
func (b *Buffer) Pop() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.popLocked()
}

// PopWait removes and returns the oldest frame, waiting until one is
// available. It fails with a Timeout error if timeout elapses first and
// with the context error if ctx is done. A timeout <= 0 waits on ctx only.
func (b *Buffer) PopWait(ctx context.Context, timeout time.Duration) (Frame, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		b.mu.Lock()
		if f, ok := b.popLocked(); ok {
			b.mu.Unlock()
			return f, nil
		}
		ready := b.ready
		b.mu.Unlock()

		select {
		case <-ready:
		case <-expired:
			return Frame{}, model.NewError(model.KindTimeout, "no frame within %v", timeout)
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

// Drain discards all buffered frames and resets the overflow and loss
// counters. It returns the number of frames discarded.
func (b *Buffer) Drain() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	clear(b.frames)
	b.head = 0
	b.count = 0
	b.overflow = 0
	b.lost = 0
	return n
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Len:      b.count,
		Capacity: len(b.frames),
		Overflow: b.overflow,
		Lost:     b.lost,
		Pushed:   b.pushed,
	}
}

func (b *Buffer) popLocked() (Frame, bool) {
	if b.count == 0 {
		return Frame{}, false
	}
	f := b.frames[b.head]
	b.frames[b.head] = Frame{}
	b.head = (b.head + 1) % len(b.frames)
	b.count--
	return f, true
}
