package device

import (
	"context"
	"errors"
	"time"

	"github.com/labrig/labrig-go/pkg/acquisition"
	"github.com/labrig/labrig-go/pkg/model"
	"github.com/labrig/labrig-go/pkg/trigger"
)

type reply struct {
	value any
	err   error
}

// request is one operation queued for the worker.
type request struct {
	seq    uint64
	ctx    context.Context
	op     string
	fn     func(ctx context.Context) (any, error)
	result chan reply
}

func (r *request) reply(v any, err error) {
	r.result <- reply{value: v, err: err}
}

// frameMsg is a frame handed over by the adapter, tagged with the arm
// cycle that was current when it arrived.
type frameMsg struct {
	cycle   uint64
	payload []byte
	ts      time.Time
	valid   bool
}

// submit queues fn on ch and waits for its result.
func (c *Core) submit(ctx context.Context, ch chan *request, op string, fn func(context.Context) (any, error)) (any, error) {
	if !c.started.Load() {
		return nil, model.NewError(model.KindUnknownDevice, "device %q is not started", c.id)
	}

	r := &request{
		seq:    c.submitted.Add(1),
		ctx:    ctx,
		op:     op,
		fn:     fn,
		result: make(chan reply, 1),
	}

	select {
	case ch <- r:
	case <-c.done:
		return nil, c.detachedError()
	case <-ctx.Done():
		return nil, contextError(op, ctx.Err())
	}

	select {
	case rep := <-r.result:
		return rep.value, rep.err
	case <-ctx.Done():
		return nil, contextError(op, ctx.Err())
	case <-c.done:
		select {
		case rep := <-r.result:
			return rep.value, rep.err
		default:
			return nil, c.detachedError()
		}
	}
}

func (c *Core) do(ctx context.Context, op string, fn func(context.Context) (any, error)) (any, error) {
	return c.submit(ctx, c.reqCh, op, fn)
}

// run is the device worker. It is the only goroutine that calls the
// adapter, drives the trigger machine and pushes frames.
func (c *Core) run() {
	defer close(c.done)

	for !c.detached {
		// Abort requests jump the queue.
		select {
		case r := <-c.abortCh:
			c.execute(r)
			continue
		default:
		}

		select {
		case r := <-c.abortCh:
			c.execute(r)
		case r := <-c.reqCh:
			if r.seq < c.cancelBefore {
				r.reply(nil, model.NewError(model.KindAborted, "%s canceled by abort", r.op))
				continue
			}
			c.execute(r)
		case f := <-c.frameCh:
			c.acceptFrame(f)
		case cause := <-c.faultCh:
			c.fault(cause)
		}
	}

	c.rejectQueued()
}

func (c *Core) execute(r *request) {
	if err := r.ctx.Err(); err != nil {
		r.reply(nil, contextError(r.op, err))
		return
	}
	c.current = r.seq
	v, err := r.fn(r.ctx)
	if err != nil {
		c.debugLog("operation failed", "op", r.op, "error", err)
	}
	r.reply(v, err)
}

func (c *Core) rejectQueued() {
	for {
		select {
		case r := <-c.reqCh:
			r.reply(nil, c.detachedError())
		case r := <-c.abortCh:
			r.reply(nil, c.detachedError())
		default:
			return
		}
	}
}

// acceptFrame numbers and buffers a frame of the current acquisition.
// Frames from an earlier cycle, or arriving outside Acquiring, are dropped.
func (c *Core) acceptFrame(f frameMsg) {
	if c.machine.State() != trigger.StateAcquiring || f.cycle != c.machine.Cycle() {
		return
	}
	if lost := c.dropped.Swap(0); lost > 0 {
		c.frameSeq += lost
		c.buffer.RecordLoss(lost)
	}
	c.frameSeq++
	c.buffer.Push(acquisition.Frame{
		Seq:       c.frameSeq,
		Cycle:     f.cycle,
		Timestamp: f.ts,
		Valid:     f.valid,
		Payload:   f.payload,
	})
}

func (c *Core) fault(cause error) {
	if cause == nil {
		cause = errors.New("adapter reported a fault")
	}
	c.machine.Fault(model.WrapError(model.KindCommunicationError, cause, "adapter fault"))
}

// classify faults the device for adapter errors that are not plain
// rejections and returns the error to hand to the caller.
func (c *Core) classify(err error) error {
	if !model.IsFault(err) {
		return err
	}
	c.machine.Fault(err)
	if model.KindOf(err) == model.KindCommunicationError {
		return err
	}
	return model.WrapError(model.KindCommunicationError, err, "adapter")
}

// sink is the Sink handed to the adapter. It only posts messages to the
// worker and never blocks.
type sink struct {
	c *Core
}

func (s sink) OnFrameReady(payload []byte, timestamp time.Time, valid bool) {
	msg := frameMsg{cycle: s.c.machine.Cycle(), payload: payload, ts: timestamp, valid: valid}
	select {
	case s.c.frameCh <- msg:
	default:
		if s.c.machine.State() == trigger.StateAcquiring {
			s.c.dropped.Add(1)
		}
	}
}

func (s sink) OnFault(cause error) {
	select {
	case s.c.faultCh <- cause:
	default:
	}
}

func contextError(op string, err error) error {
	return model.FromContext(err, "%s", op)
}
