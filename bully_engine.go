package bully

import (
	"context"
	"sync"
	"time"

	"bully/internal/bully_pb"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// NodeState describes the role of the node in the cluster.
type NodeState string

const (
	// StateInit is the state of a node between process start and its first
	// election round (the startup stagger window).
	StateInit NodeState = "init"
	// StateElecting means an election round is in flight and no master is
	// currently known.
	StateElecting NodeState = "electing"
	// StateMaster means the local node won the last election round.
	StateMaster NodeState = "master"
	// StateSlave means the local node follows a remote master.
	StateSlave NodeState = "slave"
)

// NoMaster is the MasterID value while no master is established.
const NoMaster = int32(-1)

// stateFn variation of state machine; as described by r@golang.org here:
// https://talks.golang.org/2011/lex.slide
// Each state is represented as a function which has access to the inbound
// channels bringing in external events; namely timers or messages.
type stateFn func(context.Context) stateFn

// Inbound containers: the transport handler posts a container into the
// engine and blocks on returnChan; the reply rides the RPC response. This is
// what turns the protocol's reply messages (SURRENDER, HEARTBEAT_ACK,
// COLOR_ACK) into plain request/response pairs.
type electionContainer struct {
	request    *bully_pb.ElectionRequest
	reply      *bully_pb.ElectionReply
	err        error
	returnChan chan *electionContainer
}

type victoryContainer struct {
	request    *bully_pb.VictoryRequest
	reply      *bully_pb.VictoryReply
	err        error
	returnChan chan *victoryContainer
}

type heartbeatContainer struct {
	request    *bully_pb.HeartbeatRequest
	reply      *bully_pb.HeartbeatReply
	err        error
	returnChan chan *heartbeatContainer
}

type colorContainer struct {
	request    *bully_pb.ColorRequest
	reply      *bully_pb.ColorReply
	err        error
	returnChan chan *colorContainer
}

// Outbound results: the per-peer client goroutines push the outcome of every
// send back into the engine, where it is handled on the engine goroutine
// like any other event.
type electionResult struct {
	to    int32
	round string
	reply *bully_pb.ElectionReply
	err   error
}

type victoryResult struct {
	to  int32
	err error
}

type heartbeatResult struct {
	to    int32
	reply *bully_pb.HeartbeatReply
	err   error
}

type colorResult struct {
	to    int32
	color Color
	reply *bully_pb.ColorReply
	err   error
}

// bullyEngine is the object at the heart of the protocol, the spider at the
// centre of the web. Progression through the state machine happens from the
// bullyEngine.run() goroutine; the messaging side goroutines are not
// intelligent and simply relieve the engine from the mundane (and, more
// importantly, blocking) interactions with other cluster nodes. All protocol
// state - roster, election state, timers - is mutated on the run() goroutine
// only, so it is data-race-free without locks.
type bullyEngine struct {
	node   *Node
	state  NodeState
	roster *roster

	// round tags the current election round; results coming back for an
	// older round are stale and dropped.
	round string
	// surrendered is set when a higher ranked peer answered this round's
	// ELECTION; an expiring election timer then restarts the round instead
	// of declaring mastership.
	surrendered bool

	// Current color coordination pass; non-nil only while master.
	pass *colorPass

	// Inbound requests from the transport, handled synchronously.
	inboundElectionChan  chan *electionContainer
	inboundVictoryChan   chan *victoryContainer
	inboundHeartbeatChan chan *heartbeatContainer
	inboundColorChan     chan *colorContainer
	// Asynchronous results of outbound sends from the gRPC client
	// goroutines.
	returnsElectionChan  chan *electionResult
	returnsVictoryChan   chan *victoryResult
	returnsHeartbeatChan chan *heartbeatResult
	returnsColorChan     chan *colorResult

	// Published copies for the query surface; written in the context of the
	// engine goroutine, read from anywhere.
	currentMaster *atomic.Int32
	pubState      *atomic.String
	pubColor      *atomic.String
	pubRosterMu   sync.RWMutex
	pubRoster     []RosterEntry
}

func initEngine(n *Node) {

	re := &bullyEngine{
		node:                 n,
		state:                StateInit,
		roster:               newRoster(n.config.Nodes, n.index),
		inboundElectionChan:  make(chan *electionContainer, n.config.ChannelDepth.ServerEvents),
		inboundVictoryChan:   make(chan *victoryContainer, n.config.ChannelDepth.ServerEvents),
		inboundHeartbeatChan: make(chan *heartbeatContainer, n.config.ChannelDepth.ServerEvents),
		inboundColorChan:     make(chan *colorContainer, n.config.ChannelDepth.ServerEvents),
		returnsElectionChan:  make(chan *electionResult, n.config.ChannelDepth.ServerEvents),
		returnsVictoryChan:   make(chan *victoryResult, n.config.ChannelDepth.ServerEvents),
		returnsHeartbeatChan: make(chan *heartbeatResult, n.config.ChannelDepth.ServerEvents),
		returnsColorChan:     make(chan *colorResult, n.config.ChannelDepth.ServerEvents),
		currentMaster:        atomic.NewInt32(NoMaster),
		pubState:             atomic.NewString(string(StateInit)),
		pubColor:             atomic.NewString(string(ColorUnset)),
	}

	n.engine = re
}

func (re *bullyEngine) logKV() []interface{} {
	return []interface{}{
		"localNodeIndex", re.node.index,
		"state", re.state,
		"round", re.round,
		"currentMaster", re.currentMaster.Load(),
		"color", re.pubColor.Load(),
	}
}

func (re *bullyEngine) publishedState() NodeState {
	return NodeState(re.pubState.Load())
}

func (re *bullyEngine) publishedColor() Color {
	return Color(re.pubColor.Load())
}

func (re *bullyEngine) publishedRoster() []RosterEntry {
	re.pubRosterMu.RLock()
	defer re.pubRosterMu.RUnlock()
	entries := make([]RosterEntry, len(re.pubRoster))
	copy(entries, re.pubRoster)
	return entries
}

func (re *bullyEngine) setState(s NodeState) {
	re.state = s
	re.pubState.Store(string(s))
	re.node.metrics.observeState(s)
}

func (re *bullyEngine) setSelfColor(c Color) {
	from := re.pubColor.Load()
	if from != string(c) {
		re.node.logger.Infow("bullyEngine changing color",
			append(re.logKV(), "from", from, "to", c)...)
	}
	re.pubColor.Store(string(c))
}

func (re *bullyEngine) refreshRosterSnapshot() {
	snap := re.roster.snapshot(time.Now(), re.node.config.Timers.SlaveLivenessTimeout)
	re.pubRosterMu.Lock()
	re.pubRoster = snap
	re.pubRosterMu.Unlock()
}

// markSeen refreshes roster liveness for a peer and keeps the published
// snapshot in step. Returns true if the peer was absent until now.
func (re *bullyEngine) markSeen(peer int32) bool {
	rejoined := re.roster.markSeen(peer, time.Now(), re.node.config.Timers.SlaveLivenessTimeout)
	re.refreshRosterSnapshot()
	return rejoined
}

// run is the engine goroutine; the single consumer of all inbound channels.
func (re *bullyEngine) run(ctx context.Context, wg *sync.WaitGroup) {

	defer wg.Done()

	re.node.logger.Infow("bullyEngine, start running", re.logKV()...)

	for s := re.initStateFn(ctx); s != nil; {
		s = s(ctx)
		re.node.logger.Debugw("bullyEngine leaving state", re.logKV()...)
	}

	re.node.logger.Infow("bullyEngine, stop running", re.logKV()...)
}

// stopTimer halts a timer and drains a pending expiry if we raced one.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// initStateFn holds the node in INIT for the startup stagger window. Inbound
// traffic is still answered - a booting node must not black-hole a running
// cluster - but no election is started until the delay elapses.
func (re *bullyEngine) initStateFn(ctx context.Context) stateFn {

	re.setState(StateInit)

	delay := re.node.config.Timers.StartupDelay
	if delay == 0 {
		return re.electingStateFn
	}

	re.node.logger.Infow("bullyEngine staggering startup",
		append(re.logKV(), "delay", delay.String())...)

	startTimer := time.NewTimer(delay)
	defer stopTimer(startTimer)

	for {
		select {

		case <-startTimer.C:
			return re.electingStateFn

		case msg := <-re.inboundElectionChan:
			re.handleRxedElection(msg)
			// A running cluster is out there; join it right away rather
			// than sitting out the rest of the stagger window.
			return re.electingStateFn

		case msg := <-re.inboundVictoryChan:
			re.adoptMaster(re.handleRxedVictory(msg))
			return re.slaveStateFn

		case msg := <-re.inboundHeartbeatChan:
			re.handleRxedHeartbeat(msg)

		case msg := <-re.inboundColorChan:
			re.handleRxedColor(msg, true)

		case <-ctx.Done():
			return nil
		}
	}
}

// electingStateFn implements ELECTION_PENDING: challenge every higher ranked
// peer, and wait. Evidence of a higher ranked live peer (an ELECTION from
// above, or a SURRENDER answer) extends the wait; an undisturbed timeout
// means nobody outranks us and we take over.
func (re *bullyEngine) electingStateFn(ctx context.Context) stateFn {

	re.setState(StateElecting)
	re.currentMaster.Store(NoMaster)
	re.node.metrics.observeMaster(NoMaster)

	var electionTimer *time.Timer

	for {
		// Fresh round: new token, clean surrender flag, challenge everybody
		// above us. Stale events from the previous round still queued at the
		// clients are flushed on post.
		re.round = uuid.New().String()
		re.surrendered = false
		re.node.metrics.electionRound()

		re.node.logger.Infow("bullyEngine starting election round", re.logKV()...)

		for id, client := range re.node.messaging.clients {
			if id <= re.node.index {
				continue
			}
			postMessageToClientWithFlush(ctx, client, &electionEvent{
				client: client,
				request: &bully_pb.ElectionRequest{
					SenderId: re.node.index,
					Round:    re.round,
				},
				round:   re.round,
				returns: re.returnsElectionChan,
			})
		}

		timeout := re.node.config.Timers.ElectionTimeout
		if electionTimer == nil {
			electionTimer = time.NewTimer(timeout)
		} else {
			stopTimer(electionTimer)
			electionTimer.Reset(timeout)
		}

	innerLoop:
		for {
			select {

			case <-electionTimer.C:
				if re.surrendered {
					// A higher ranked peer is alive but its VICTORY never
					// arrived. Re-run the whole round rather than claim a
					// mastership we know we would lose.
					re.node.logger.Infow(
						"bullyEngine election unsuccessful, restarting round", re.logKV()...)
					break innerLoop
				}
				// Nobody above us answered: the cluster is ours.
				return re.masterStateFn

			case msg := <-re.inboundElectionChan:
				if re.handleRxedElection(msg) {
					// Higher ranked peer is electing too; it outranks us, so
					// wait longer for its VICTORY instead of timing out.
					stopTimer(electionTimer)
					electionTimer.Reset(timeout)
				}

			case msg := <-re.inboundVictoryChan:
				stopTimer(electionTimer)
				re.adoptMaster(re.handleRxedVictory(msg))
				return re.slaveStateFn

			case msg := <-re.inboundHeartbeatChan:
				re.handleRxedHeartbeat(msg)

			case msg := <-re.inboundColorChan:
				// A master may be coloring us while our own election request
				// is still in flight; apply it, the roster refresh follows.
				re.handleRxedColor(msg, true)

			case res := <-re.returnsElectionChan:
				if re.handleElectionResult(res) {
					stopTimer(electionTimer)
					electionTimer.Reset(timeout)
				}

			case res := <-re.returnsVictoryChan:
				re.drainVictoryResult(res)

			case res := <-re.returnsHeartbeatChan:
				re.drainHeartbeatResult(res)

			case res := <-re.returnsColorChan:
				re.drainColorResult(res)

			case <-ctx.Done():
				stopTimer(electionTimer)
				re.node.logger.Debugw("bullyEngine electing, received shutdown", re.logKV()...)
				return nil
			}
		}
	}
}

// masterStateFn implements MASTER: announce victory, color the cluster, and
// keep sweeping the roster for slaves which have gone silent.
func (re *bullyEngine) masterStateFn(ctx context.Context) stateFn {

	re.setState(StateMaster)
	re.currentMaster.Store(re.node.index)
	re.node.metrics.observeMaster(re.node.index)
	re.node.logger.Infow("bullyEngine declaring self as master", re.logKV()...)

	for _, client := range re.node.messaging.clients {
		postMessageToClientWithFlush(ctx, client, &victoryEvent{
			client:  client,
			request: &bully_pb.VictoryRequest{SenderId: re.node.index},
			returns: re.returnsVictoryChan,
		})
	}

	re.startColorPass(ctx)

	// The sweep doubles as the periodic re-validation trigger for dirty
	// color passes.
	sweep := time.NewTicker(re.node.config.Timers.HeartbeatInterval)
	defer sweep.Stop()

	defer func() {
		// Color coordination is a master-only behaviour.
		re.pass = nil
	}()

	for {
		select {

		case msg := <-re.inboundElectionChan:
			// A joining or recovering node cannot learn the current master
			// any other way: reset the cluster through a fresh round.
			peer := msg.request.SenderId
			re.handleRxedElection(msg)
			re.node.logger.Infow(
				"bullyEngine master, election challenge received, cluster reset",
				append(re.logKV(), "remoteNodeIndex", peer)...)
			return re.electingStateFn

		case msg := <-re.inboundVictoryChan:
			// A higher node's victory always overrides, even a master's
			// own belief.
			re.adoptMaster(re.handleRxedVictory(msg))
			return re.slaveStateFn

		case msg := <-re.inboundHeartbeatChan:
			if re.handleRxedHeartbeat(msg) {
				// A silent peer came back; re-admit it and recolor.
				re.node.logger.Infow(
					"bullyEngine master, peer re-admitted, recoloring",
					append(re.logKV(), "remoteNodeIndex", msg.request.SenderId)...)
				re.startColorPass(ctx)
			}

		case msg := <-re.inboundColorChan:
			// A COLOR assignment arriving at the master is misdirected.
			re.handleRxedColor(msg, false)

		case res := <-re.returnsColorChan:
			re.handleColorResult(res)

		case res := <-re.returnsVictoryChan:
			if res.err != nil {
				// An unreachable peer missed our VICTORY; it will re-elect
				// and be reset into the cluster when it comes back.
				re.node.logger.Debugw("bullyEngine master, victory announcement failed",
					append(re.logKV(), "remoteNodeIndex", res.to, bullyErrKeyword, res.err)...)
				continue
			}
			if re.markSeen(res.to) {
				// The ack is the first sign of life from this peer; it needs
				// a color like any other re-admission.
				re.node.logger.Infow(
					"bullyEngine master, peer admitted via victory ack, recoloring",
					append(re.logKV(), "remoteNodeIndex", res.to)...)
				re.startColorPass(ctx)
			}

		case res := <-re.returnsElectionChan:
			re.drainElectionResult(res)

		case res := <-re.returnsHeartbeatChan:
			re.drainHeartbeatResult(res)

		case <-sweep.C:
			now := time.Now()
			lost := re.roster.sweep(now, re.node.config.Timers.SlaveLivenessTimeout)
			re.refreshRosterSnapshot()
			if len(lost) > 0 {
				re.node.logger.Infow(
					"bullyEngine master, slaves went silent, recoloring",
					append(re.logKV(), "lost", lost)...)
				re.startColorPass(ctx)
			} else if re.pass.settled() && (re.pass.dirty || re.aliveUncolored(now)) {
				re.node.logger.Infow(
					"bullyEngine master, re-validating incomplete color pass", re.logKV()...)
				re.startColorPass(ctx)
			}

		case <-ctx.Done():
			re.node.logger.Debugw("bullyEngine master, received shutdown", re.logKV()...)
			return nil
		}
	}
}

// slaveStateFn implements SLAVE: heartbeat the master and re-elect the
// moment it goes silent past the liveness deadline.
func (re *bullyEngine) slaveStateFn(ctx context.Context) stateFn {

	re.setState(StateSlave)
	master := re.currentMaster.Load()
	re.node.logger.Infow("bullyEngine following master",
		append(re.logKV(), "masterNodeIndex", master)...)

	heartbeats := time.NewTicker(re.node.config.Timers.HeartbeatInterval)
	defer heartbeats.Stop()

	deadline := time.NewTimer(re.node.config.Timers.MasterLivenessTimeout)
	defer stopTimer(deadline)

	resetDeadline := func() {
		stopTimer(deadline)
		deadline.Reset(re.node.config.Timers.MasterLivenessTimeout)
	}

	// First heartbeat goes out immediately; the ticker covers the rest.
	re.sendHeartbeat(ctx, master)

	for {
		select {

		case <-heartbeats.C:
			re.sendHeartbeat(ctx, master)

		case <-deadline.C:
			re.node.logger.Infow(
				"bullyEngine slave, master went silent, starting election",
				append(re.logKV(), "masterNodeIndex", master)...)
			re.node.metrics.masterTimeout()
			re.currentMaster.Store(NoMaster)
			return re.electingStateFn

		case res := <-re.returnsHeartbeatChan:
			if res.err != nil {
				// Master unreachable this interval; the deadline decides.
				re.node.logger.Debugw(
					"bullyEngine slave, heartbeat to master failed",
					append(re.logKV(), "remoteNodeIndex", res.to, bullyErrKeyword, res.err)...)
				continue
			}
			re.markSeen(res.to)
			if res.to == master {
				resetDeadline()
			}

		case msg := <-re.inboundElectionChan:
			// Join or recovery signal: reset through a fresh round so the
			// sender can learn the master the only way the protocol allows.
			peer := msg.request.SenderId
			re.handleRxedElection(msg)
			re.node.logger.Infow(
				"bullyEngine slave, election challenge received, cluster reset",
				append(re.logKV(), "remoteNodeIndex", peer)...)
			return re.electingStateFn

		case msg := <-re.inboundVictoryChan:
			newMaster := re.handleRxedVictory(msg)
			if newMaster == master {
				// Duplicate VICTORY: no state change beyond refreshed
				// liveness.
				resetDeadline()
				continue
			}
			re.adoptMaster(newMaster)
			return re.slaveStateFn

		case msg := <-re.inboundHeartbeatChan:
			// Liveness probes can come from any peer, not only the master;
			// answering them is what re-admits us to a master's roster.
			re.handleRxedHeartbeat(msg)

		case msg := <-re.inboundColorChan:
			re.handleRxedColor(msg, true)
			resetDeadline()

		case res := <-re.returnsElectionChan:
			re.drainElectionResult(res)

		case res := <-re.returnsVictoryChan:
			re.drainVictoryResult(res)

		case res := <-re.returnsColorChan:
			re.drainColorResult(res)

		case <-ctx.Done():
			re.node.logger.Debugw("bullyEngine slave, received shutdown", re.logKV()...)
			return nil
		}
	}
}

// handleRxedElection answers an ELECTION challenge: peers we outrank get a
// SURRENDER; peers outranking us get silence (and the caller gets told a
// higher node is alive). All senders are recorded as live.
func (re *bullyEngine) handleRxedElection(msg *electionContainer) bool {

	peer := msg.request.SenderId
	re.markSeen(peer)

	msg.reply = &bully_pb.ElectionReply{
		SenderId:  re.node.index,
		Surrender: peer < re.node.index,
	}
	msg.returnChan <- msg

	return peer > re.node.index
}

// handleElectionResult folds a challenge result into the current round.
// Results carrying a superseded round token are dropped without touching the
// roster; unreachable peers are treated as dead, never fatal. The return
// reports a surrender, which means the round deadline should be pushed out to
// give the higher ranked peer time to claim its victory.
func (re *bullyEngine) handleElectionResult(res *electionResult) bool {

	if res.round != re.round {
		re.node.logger.Debugw(
			"bullyEngine electing, dropping stale round result",
			append(re.logKV(), "remoteNodeIndex", res.to, "staleRound", res.round,
				bullyErrKeyword, bullyErrorf(ErrStaleMessage, "result from node [%d]", res.to))...)
		return false
	}
	if res.err != nil {
		re.node.logger.Debugw(
			"bullyEngine electing, challenge to peer failed",
			append(re.logKV(), "remoteNodeIndex", res.to, bullyErrKeyword, res.err)...)
		return false
	}
	re.markSeen(res.to)
	if res.reply.Surrender {
		re.node.logger.Infow(
			"bullyEngine electing, outranked by live peer",
			append(re.logKV(), "remoteNodeIndex", res.to)...)
		re.surrendered = true
		return true
	}
	return false
}

// handleRxedVictory acknowledges a VICTORY announcement and returns the new
// master's id. The transition itself is the caller's business.
func (re *bullyEngine) handleRxedVictory(msg *victoryContainer) int32 {

	peer := msg.request.SenderId
	re.markSeen(peer)

	msg.reply = &bully_pb.VictoryReply{SenderId: re.node.index}
	msg.returnChan <- msg

	return peer
}

// handleRxedHeartbeat acks a liveness probe. Returns true if the sender was
// absent until now (a re-admission, interesting to a master).
func (re *bullyEngine) handleRxedHeartbeat(msg *heartbeatContainer) bool {

	rejoined := re.markSeen(msg.request.SenderId)

	msg.reply = &bully_pb.HeartbeatReply{SenderId: re.node.index}
	msg.returnChan <- msg

	return rejoined
}

// handleRxedColor applies a COLOR assignment when the local role accepts
// one, and acks with the color actually applied. A master receiving COLOR is
// a protocol violation: dropped and logged, the reply echoes our real color
// unchanged.
func (re *bullyEngine) handleRxedColor(msg *colorContainer, accept bool) {

	re.markSeen(msg.request.SenderId)

	if accept {
		re.setSelfColor(Color(msg.request.Color))
	} else {
		err := bullyErrorf(ErrProtocolViolation, "COLOR assignment arrived at a master")
		re.node.logger.Warnw("bullyEngine dropped misdirected color assignment",
			append(re.logKV(), "remoteNodeIndex", msg.request.SenderId, bullyErrKeyword, err)...)
	}

	msg.reply = &bully_pb.ColorReply{
		SenderId: re.node.index,
		Color:    re.pubColor.Load(),
	}
	msg.returnChan <- msg
}

func (re *bullyEngine) adoptMaster(master int32) {
	re.currentMaster.Store(master)
	re.node.metrics.observeMaster(master)
	re.node.logger.Infow("bullyEngine master established via victory message",
		append(re.logKV(), "masterNodeIndex", master)...)
}

func (re *bullyEngine) sendHeartbeat(ctx context.Context, master int32) {
	client, ok := re.node.messaging.clients[master]
	if !ok {
		return
	}
	if !postMessageToClient(ctx, client, &heartbeatEvent{
		client:  client,
		request: &bully_pb.HeartbeatRequest{SenderId: re.node.index},
		returns: re.returnsHeartbeatChan,
	}) {
		// Client channel full means the peer is slow or gone; the liveness
		// deadline is the arbiter, dropping the probe is fine.
		re.node.logger.Debugw("bullyEngine slave, heartbeat dropped, client busy",
			append(re.logKV(), "remoteNodeIndex", master)...)
	}
}

// startColorPass recomputes the green/red partition from scratch over the
// currently alive slaves and dispatches COLOR to each of them. Master is
// always green; green quota is ceil(alive/3) recomputed every pass.
func (re *bullyEngine) startColorPass(ctx context.Context) {

	now := time.Now()
	aliveSlaves := re.roster.aliveIDs(now, re.node.config.Timers.SlaveLivenessTimeout)

	re.pass = newColorPass(re.node.index, aliveSlaves)
	re.setSelfColor(ColorGreen)
	re.node.metrics.colorPass(1+len(aliveSlaves), greenQuota(1+len(aliveSlaves)))

	re.node.logger.Infow("bullyEngine master, coloring the cluster",
		append(re.logKV(),
			"aliveCount", 1+len(aliveSlaves),
			"greenCount", greenQuota(1+len(aliveSlaves)))...)

	// No flush on color sends: a flush here could discard a VICTORY still
	// queued to the same client, and client channels are FIFO so the last
	// pass's color wins anyway.
	for _, id := range aliveSlaves {
		client, ok := re.node.messaging.clients[id]
		if !ok {
			continue
		}
		color := re.pass.assignment[id]
		posted := postMessageToClient(ctx, client, &colorEvent{
			client: client,
			request: &bully_pb.ColorRequest{
				SenderId: re.node.index,
				Color:    string(color),
			},
			color:   color,
			returns: re.returnsColorChan,
		})
		if !posted {
			// Client busy: same treatment as a failed send, the pass goes
			// dirty and is re-run on the next sweep.
			re.node.logger.Infow("bullyEngine master, color assignment dropped, client busy",
				append(re.logKV(), "remoteNodeIndex", id)...)
			re.node.metrics.colorFailure()
			re.pass.failed(id)
		}
	}

	re.refreshRosterSnapshot()
}

// aliveUncolored reports whether any peer inside the liveness window is
// still uncolored. The sweep uses it to catch peers which slipped into the
// roster between passes without tripping a re-admission.
func (re *bullyEngine) aliveUncolored(now time.Time) bool {
	for _, id := range re.roster.aliveIDs(now, re.node.config.Timers.SlaveLivenessTimeout) {
		if re.roster.color(id) == ColorUnset {
			return true
		}
	}
	return false
}

// handleColorResult settles one COLOR send of the active pass.
func (re *bullyEngine) handleColorResult(res *colorResult) {

	if re.pass == nil {
		re.drainColorResult(res)
		return
	}

	if res.err != nil {
		re.node.logger.Infow("bullyEngine master, color assignment failed, node left uncolored",
			append(re.logKV(), "remoteNodeIndex", res.to, bullyErrKeyword, res.err)...)
		re.node.metrics.colorFailure()
		re.roster.setColor(res.to, ColorUnset)
		re.pass.failed(res.to)
		re.refreshRosterSnapshot()
		return
	}

	re.markSeen(res.to)
	re.roster.setColor(res.to, Color(res.reply.Color))
	re.refreshRosterSnapshot()

	if re.pass.acked(res.to) && re.pass.clean() {
		re.logColorTable()
	}
}

// logColorTable dumps the settled roster/color view after a clean pass.
func (re *bullyEngine) logColorTable() {
	colors := map[int32]Color{re.node.index: Color(re.pubColor.Load())}
	for _, entry := range re.roster.snapshot(time.Now(), re.node.config.Timers.SlaveLivenessTimeout) {
		if entry.Alive {
			colors[entry.ID] = entry.Color
		}
	}
	re.node.logger.Infow("bullyEngine master, all nodes have been colored",
		append(re.logKV(), "colors", colors)...)
}

// The drain* helpers dispose of results which are stale by construction:
// sends issued in a state we have since left. Logged at debug and dropped.
func (re *bullyEngine) drainElectionResult(res *electionResult) {
	err := bullyErrorf(ErrStaleMessage, "election result for round %s", res.round)
	re.node.logger.Debugw("bullyEngine dropping stale election result",
		append(re.logKV(), "remoteNodeIndex", res.to, bullyErrKeyword, err)...)
}

func (re *bullyEngine) drainVictoryResult(res *victoryResult) {
	if res.err != nil {
		// An unreachable peer missed our VICTORY; it will re-elect and be
		// reset into the cluster when it comes back.
		re.node.logger.Debugw("bullyEngine victory announcement failed",
			append(re.logKV(), "remoteNodeIndex", res.to, bullyErrKeyword, res.err)...)
		return
	}
	re.markSeen(res.to)
}

func (re *bullyEngine) drainHeartbeatResult(res *heartbeatResult) {
	if res.err == nil {
		re.markSeen(res.to)
	}
}

func (re *bullyEngine) drainColorResult(res *colorResult) {
	re.node.logger.Debugw("bullyEngine dropping color result without active pass",
		append(re.logKV(), "remoteNodeIndex", res.to)...)
}
