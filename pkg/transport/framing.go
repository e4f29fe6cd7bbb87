package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/labrig/labrig-go/pkg/log"
)

const (
	// LengthPrefixSize is the size of the big-endian length prefix.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize fits an uncompressed 4 megapixel 32-bit frame.
	DefaultMaxMessageSize = 16 << 20

	// maxTracedBytes bounds the frame bytes copied into capture events.
	maxTracedBytes = 512
)

var (
	ErrMessageTooLarge  = errors.New("message too large")
	ErrMessageEmpty     = errors.New("message is empty")
	ErrFrameTruncated   = errors.New("frame truncated")
	ErrConnectionClosed = errors.New("connection closed")
)

// Framer reads and writes length-prefixed frames on one stream. Writes may
// come from several goroutines; reads must come from one.
type Framer struct {
	rw  io.ReadWriter
	max uint32

	header [LengthPrefixSize]byte
	wmu    sync.Mutex

	trace  log.Logger
	connID string
}

// NewFramer creates a framer. A zero maxSize selects DefaultMaxMessageSize.
func NewFramer(rw io.ReadWriter, maxSize uint32) *Framer {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Framer{rw: rw, max: maxSize}
}

// Trace sends a transport event for every frame to logger.
func (f *Framer) Trace(logger log.Logger, connID string) {
	f.trace, f.connID = logger, connID
}

func (f *Framer) check(n uint64) error {
	switch {
	case n == 0:
		return ErrMessageEmpty
	case n > uint64(f.max):
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, f.max)
	}
	return nil
}

// WriteFrame writes data as one frame. Prefix and payload go out in a
// single write.
func (f *Framer) WriteFrame(data []byte) error {
	if err := f.check(uint64(len(data))); err != nil {
		return err
	}
	buf := make([]byte, LengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[LengthPrefixSize:], data)

	f.wmu.Lock()
	_, err := f.rw.Write(buf)
	f.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	f.traceFrame(data, log.DirectionOut)
	return nil
}

// ReadFrame returns the payload of the next frame. A clean end of stream
// before a prefix is io.EOF; anything cut short is ErrFrameTruncated.
func (f *Framer) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(f.rw, f.header[:]); err != nil {
		switch {
		case err == io.EOF:
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(f.header[:])
	if err := f.check(uint64(n)); err != nil {
		return nil, err
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(f.rw, payload); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}
	f.traceFrame(payload, log.DirectionIn)
	return payload, nil
}

func (f *Framer) traceFrame(data []byte, dir log.Direction) {
	if f.trace == nil {
		return
	}
	ev := &log.FrameEvent{Size: LengthPrefixSize + len(data), Data: data}
	if len(data) > maxTracedBytes {
		ev.Data, ev.Truncated = data[:maxTracedBytes], true
	}
	f.trace.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: f.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame:        ev,
	})
}
