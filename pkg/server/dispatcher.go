package server

import (
	"context"
	"sync"
	"time"

	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/model"
	"github.com/labrig/labrig-go/pkg/wire"
)

// call is one request waiting in a dispatcher queue.
type call struct {
	seq      uint64
	session  *Session
	req      *wire.Request
	received time.Time
}

// dispatcher runs the calls for one device one at a time, in the order
// they arrived from all sessions. A call that blocks, such as a waiting
// FetchFrame, holds up only this device.
//
// Abort is the exception: it goes straight to the device, which runs it
// as soon as the current call returns. Calls that arrived before a
// successful abort and are still queued are answered with Aborted.
type dispatcher struct {
	dev   device.Device
	ctx   context.Context
	calls chan *call

	mu           sync.Mutex
	arrived      uint64
	cancelBefore uint64
	aborting     chan struct{}
	abortSeq     uint64

	onDone func(c *call, resp *wire.Response)
	done   chan struct{}
}

func newDispatcher(ctx context.Context, dev device.Device, queueSize int, onDone func(*call, *wire.Response)) *dispatcher {
	d := &dispatcher{
		dev:    dev,
		ctx:    ctx,
		calls:  make(chan *call, queueSize),
		onDone: onDone,
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// enqueue accepts a call from a session's read goroutine. It returns false
// if the session closed or the server stopped while the queue was full.
func (d *dispatcher) enqueue(s *Session, req *wire.Request, received time.Time) bool {
	d.mu.Lock()
	d.arrived++
	c := &call{seq: d.arrived, session: s, req: req, received: received}
	d.mu.Unlock()

	s.pending.Add(1)
	if req.Operation == wire.OpAbort {
		done := make(chan struct{})
		d.mu.Lock()
		d.aborting, d.abortSeq = done, c.seq
		d.mu.Unlock()
		go d.abort(c, done)
		return true
	}

	select {
	case d.calls <- c:
		return true
	case <-d.ctx.Done():
	case <-s.conn.Done():
	}
	s.pending.Add(-1)
	return false
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.ctx.Done():
			return
		case c := <-d.calls:
			d.execute(c)
		}
	}
}

func (d *dispatcher) execute(c *call) {
	// Calls of a closed session that have not started are skipped.
	if c.session.Closed() {
		c.session.pending.Add(-1)
		return
	}

	d.awaitAbort(c.seq)

	var resp *wire.Response
	if d.canceled(c.seq) {
		resp = wire.NewErrorResponse(c.req.MessageID, model.NewError(model.KindAborted, "%s canceled by abort", c.req.Operation))
	} else {
		resp = HandleRequest(d.ctx, d.dev, c.req)
	}
	d.onDone(c, resp)
}

func (d *dispatcher) abort(c *call, done chan struct{}) {
	resp := HandleRequest(d.ctx, d.dev, c.req)

	d.mu.Lock()
	if resp.IsSuccess() && c.seq > d.cancelBefore {
		d.cancelBefore = c.seq
	}
	if d.aborting == done {
		d.aborting = nil
	}
	d.mu.Unlock()
	close(done)

	d.onDone(c, resp)
}

// awaitAbort blocks while an abort that arrived after seq is still running,
// so its outcome is known before the call with seq starts.
func (d *dispatcher) awaitAbort(seq uint64) {
	d.mu.Lock()
	wait := d.aborting
	ahead := d.abortSeq > seq
	d.mu.Unlock()
	if wait == nil || !ahead {
		return
	}
	select {
	case <-wait:
	case <-d.ctx.Done():
	}
}

func (d *dispatcher) canceled(seq uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return seq < d.cancelBefore
}
