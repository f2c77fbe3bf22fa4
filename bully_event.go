package bully

import (
	"context"

	"bully/internal/bully_pb"
)

// Generic events... note how we carry *all* the context in the event; i.e.
// when we produce an event we know all the context necessary to dispose of
// the event. This is useful in the flow between the bullyEngine and gRPC
// clients (which are not smart and simply push whatever message they have
// been given).
type event interface {
	// Handle is what does the business for an event. Do note, that handle is
	// primarily called in the context of the client goroutine but may be
	// called in other contexts while discard eligible is enabled.
	handle(ctx context.Context)
	// Used to generate consistent k/v for logging.
	logKV() []interface{}
}

// eventFlushUndo is a wrapper event carrying another event, and which
// decrements the flush atomic counter on the client. The effect of the
// latter operation is typically to make the client stop discarding events
// (or get the client closer to that point).
type eventFlushUndo struct {
	fec          *flushableEventChannel
	wrappedEvent event
}

func (e *eventFlushUndo) handle(ctx context.Context) {
	// Decrement flush (always), and invoke original event.
	e.fec.updateFlush(false)

	if e.wrappedEvent != nil {
		// Note... we may still be in discard mode, because some subsequent
		// event enqueues also requested discards. In that case inner handler
		// will correctly discard.
		e.wrappedEvent.handle(ctx)
	}
}

func (e *eventFlushUndo) logKV() []interface{} {
	return append([]interface{}{"obj", "requestFlushUndo(wrapper)"}, e.wrappedEvent.logKV()...)
}

// postMessageToClient hands an event to a peer's client goroutine without
// blocking; false means the client channel is full and the event was
// dropped.
func postMessageToClient(ctx context.Context, c *bullyClient, e event) bool {
	return c.eventChan.postMessage(ctx, e)
}

// postMessageToClientWithFlush discards all discard-eligible events queued
// ahead at the client before enqueueing this one. Used when a state change
// obsoletes whatever was in flight to the peer.
func postMessageToClientWithFlush(ctx context.Context, c *bullyClient, e event) {
	c.eventChan.postMessageWithFlush(ctx, e)
}

// electionEvent carries an ELECTION challenge to one higher ranked peer. The
// round token travels with the event so the engine can recognise results of
// rounds it has since abandoned.
type electionEvent struct {
	client  *bullyClient
	request *bully_pb.ElectionRequest
	round   string
	returns chan<- *electionResult
}

func (e *electionEvent) handle(ctx context.Context) {

	if e.client.eventChan.discardEligibleEvent() {
		return // client in flush mode.
	}

	callCtx, cancel := context.WithTimeout(ctx, e.client.node.config.Timers.RPCTimeout)
	defer cancel()

	reply, err := e.client.grpcClient.Election(callCtx, e.request)
	if err != nil {
		err = bullyErrorf(ErrPeerUnreachable, "election challenge to node [%d], %v", e.client.index, err)
	}

	select {
	case e.returns <- &electionResult{to: e.client.index, round: e.round, reply: reply, err: err}:
	case <-ctx.Done():
		e.client.node.logger.Debugw("election result discarded, shutting down", e.logKV()...)
	}
}

func (e *electionEvent) logKV() []interface{} {
	return append([]interface{}{"obj", "electionEvent", "request", *e.request}, e.client.logKV()...)
}

// victoryEvent announces mastership to one peer.
type victoryEvent struct {
	client  *bullyClient
	request *bully_pb.VictoryRequest
	returns chan<- *victoryResult
}

func (e *victoryEvent) handle(ctx context.Context) {

	if e.client.eventChan.discardEligibleEvent() {
		return // client in flush mode.
	}

	callCtx, cancel := context.WithTimeout(ctx, e.client.node.config.Timers.RPCTimeout)
	defer cancel()

	_, err := e.client.grpcClient.Victory(callCtx, e.request)
	if err != nil {
		err = bullyErrorf(ErrPeerUnreachable, "victory announcement to node [%d], %v", e.client.index, err)
	}

	select {
	case e.returns <- &victoryResult{to: e.client.index, err: err}:
	case <-ctx.Done():
		e.client.node.logger.Debugw("victory result discarded, shutting down", e.logKV()...)
	}
}

func (e *victoryEvent) logKV() []interface{} {
	return append([]interface{}{"obj", "victoryEvent", "request", *e.request}, e.client.logKV()...)
}

// heartbeatEvent probes the master for liveness.
type heartbeatEvent struct {
	client  *bullyClient
	request *bully_pb.HeartbeatRequest
	returns chan<- *heartbeatResult
}

func (e *heartbeatEvent) handle(ctx context.Context) {

	if e.client.eventChan.discardEligibleEvent() {
		return // client in flush mode.
	}

	callCtx, cancel := context.WithTimeout(ctx, e.client.node.config.Timers.RPCTimeout)
	defer cancel()

	reply, err := e.client.grpcClient.Heartbeat(callCtx, e.request)
	if err != nil {
		err = bullyErrorf(ErrPeerUnreachable, "heartbeat to node [%d], %v", e.client.index, err)
	}

	select {
	case e.returns <- &heartbeatResult{to: e.client.index, reply: reply, err: err}:
	case <-ctx.Done():
		e.client.node.logger.Debugw("heartbeat result discarded, shutting down", e.logKV()...)
	}
}

func (e *heartbeatEvent) logKV() []interface{} {
	return append([]interface{}{"obj", "heartbeatEvent", "request", *e.request}, e.client.logKV()...)
}

// colorEvent pushes a color assignment to one slave.
type colorEvent struct {
	client  *bullyClient
	request *bully_pb.ColorRequest
	color   Color
	returns chan<- *colorResult
}

func (e *colorEvent) handle(ctx context.Context) {

	if e.client.eventChan.discardEligibleEvent() {
		return // client in flush mode.
	}

	callCtx, cancel := context.WithTimeout(ctx, e.client.node.config.Timers.RPCTimeout)
	defer cancel()

	reply, err := e.client.grpcClient.Color(callCtx, e.request)
	if err != nil {
		err = bullyErrorf(ErrPeerUnreachable, "color assignment to node [%d], %v", e.client.index, err)
	}

	select {
	case e.returns <- &colorResult{to: e.client.index, color: e.color, reply: reply, err: err}:
	case <-ctx.Done():
		e.client.node.logger.Debugw("color result discarded, shutting down", e.logKV()...)
	}
}

func (e *colorEvent) logKV() []interface{} {
	return append([]interface{}{"obj", "colorEvent", "request", *e.request}, e.client.logKV()...)
}
