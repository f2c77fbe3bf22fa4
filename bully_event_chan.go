package bully

import (
	"context"

	"go.uber.org/atomic"
)

// flushableEventChannel is the conduit into a peer's client goroutine. The
// producer can mark the channel flushing, at which point the consumer
// discards all discard-eligible events until the matching undo comes
// through. This is how a state change invalidates whatever protocol traffic
// was still queued for a peer.
type flushableEventChannel struct {
	channel chan event
	// flush is the one field touched from both sides of the channel:
	// incremented (and, exceptionally, decremented) on the producer side,
	// decremented on the consumer side as eventFlushUndo wrappers are
	// handled. Any nonzero value makes the consumer discard eligible events.
	flush *atomic.Int32
}

func newFlushableEventChannel(size int32) flushableEventChannel {
	return flushableEventChannel{
		channel: make(chan event, size),
		flush:   atomic.NewInt32(0),
	}
}

// discardEligibleEvent reports whether the channel is in flush mode. The
// only events which escape discard are the eventFlushUndo wrappers which
// manage flush itself.
func (fec *flushableEventChannel) discardEligibleEvent() bool {
	return fec.flush.Load() != 0
}

func (fec *flushableEventChannel) updateFlush(up bool) {
	if up {
		fec.flush.Inc()
	} else {
		fec.flush.Dec()
	}
}

// postMessage enqueues an event without ever blocking; a full channel means
// the event is not posted and the caller is told so.
func (fec *flushableEventChannel) postMessage(ctx context.Context, e event) bool {

	select {
	case fec.channel <- e:
	default:
		return false
	}

	return true
}

// postMessageWithFlush enqueues an event and causes every discard-eligible
// event ahead of it in the channel to be discarded. If the channel is full
// we drain (and so discard) events inline until the post lands.
func (fec *flushableEventChannel) postMessageWithFlush(ctx context.Context, e event) {

	// From this point on, the consumer discards.
	fec.flush.Inc()
	wrapper := &eventFlushUndo{wrappedEvent: e, fec: fec}

	for {
		select {
		case fec.channel <- wrapper:
			return
		case discardEvent := <-fec.channel:
			discardEvent.handle(ctx)
		}
	}
}
