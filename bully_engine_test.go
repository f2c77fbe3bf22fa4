package bully

import (
	"context"
	"testing"
	"time"

	"bully/internal/bully_pb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// testEngineNode builds a node with a live engine but no messaging; enough
// to exercise the inbound message handlers directly.
func testEngineNode(t *testing.T, index int32) *Node {

	cfg := NewNodeConfig()
	cfg.Nodes = []string{":8088", ":8089", ":8090", ":8091"}
	cfg.ChannelDepth.ServerEvents = 4
	cfg.ChannelDepth.ClientEvents = 4

	n := &Node{
		index:           index,
		config:          &cfg,
		logger:          zap.NewNop().Sugar(),
		fatalErrorCount: atomic.NewInt32(0),
	}
	initEngine(n)

	return n
}

func TestEngineElectionChallengeHandling(t *testing.T) {

	n := testEngineNode(t, 2)
	re := n.engine

	// Challenge from a lower ranked peer: we outrank it and tell it so.
	msg := &electionContainer{
		request:    &bully_pb.ElectionRequest{SenderId: 1, Round: "round-a"},
		returnChan: make(chan *electionContainer, 1),
	}
	higher := re.handleRxedElection(msg)
	assert.False(t, higher)

	reply := (<-msg.returnChan).reply
	require.NotNil(t, reply)
	assert.True(t, reply.Surrender)
	assert.Equal(t, int32(2), reply.SenderId)

	// Challenge from a higher ranked peer: no surrender, and the caller is
	// told a higher node is alive.
	msg = &electionContainer{
		request:    &bully_pb.ElectionRequest{SenderId: 3, Round: "round-b"},
		returnChan: make(chan *electionContainer, 1),
	}
	higher = re.handleRxedElection(msg)
	assert.True(t, higher)
	assert.False(t, (<-msg.returnChan).reply.Surrender)

	// Both senders count as seen.
	snap := n.Roster()
	for _, entry := range snap {
		switch entry.ID {
		case 1, 3:
			assert.True(t, entry.Alive, "node %d", entry.ID)
		default:
			assert.False(t, entry.Alive, "node %d", entry.ID)
		}
	}
}

func TestEngineVictoryHandling(t *testing.T) {

	n := testEngineNode(t, 0)
	re := n.engine

	msg := &victoryContainer{
		request:    &bully_pb.VictoryRequest{SenderId: 3},
		returnChan: make(chan *victoryContainer, 1),
	}
	master := re.handleRxedVictory(msg)
	assert.Equal(t, int32(3), master)
	assert.Equal(t, int32(0), (<-msg.returnChan).reply.SenderId)

	re.adoptMaster(master)
	assert.Equal(t, int32(3), n.MasterID())
}

func TestEngineHeartbeatHandling(t *testing.T) {

	n := testEngineNode(t, 3)
	re := n.engine

	probe := func() bool {
		msg := &heartbeatContainer{
			request:    &bully_pb.HeartbeatRequest{SenderId: 1},
			returnChan: make(chan *heartbeatContainer, 1),
		}
		rejoined := re.handleRxedHeartbeat(msg)
		require.NotNil(t, (<-msg.returnChan).reply)
		return rejoined
	}

	// First contact is a re-admission, repeat contact is not.
	assert.True(t, probe())
	assert.False(t, probe())
}

func TestEngineColorHandling(t *testing.T) {

	n := testEngineNode(t, 1)
	re := n.engine

	assert.Equal(t, ColorUnset, n.CurrentColor())

	// A slave applies what the master assigns, and the ack echoes it.
	msg := &colorContainer{
		request:    &bully_pb.ColorRequest{SenderId: 3, Color: string(ColorRed)},
		returnChan: make(chan *colorContainer, 1),
	}
	re.handleRxedColor(msg, true)
	assert.Equal(t, string(ColorRed), (<-msg.returnChan).reply.Color)
	assert.Equal(t, ColorRed, n.CurrentColor())

	// A master drops a misdirected assignment; its own color is untouched
	// and the reply reports the real color.
	re.setSelfColor(ColorGreen)
	msg = &colorContainer{
		request:    &bully_pb.ColorRequest{SenderId: 0, Color: string(ColorRed)},
		returnChan: make(chan *colorContainer, 1),
	}
	re.handleRxedColor(msg, false)
	assert.Equal(t, string(ColorGreen), (<-msg.returnChan).reply.Color)
	assert.Equal(t, ColorGreen, n.CurrentColor())
}

func TestEngineStaleRoundResultDropped(t *testing.T) {

	n := testEngineNode(t, 1)
	re := n.engine
	re.round = "round-live"

	// A surrender from a round we already abandoned must not count: the
	// peer is not marked seen and the round carries on unsurrendered.
	stale := &electionResult{
		to:    3,
		round: "round-dead",
		reply: &bully_pb.ElectionReply{SenderId: 3, Surrender: true},
	}
	assert.False(t, re.handleElectionResult(stale))
	assert.False(t, re.surrendered)

	// An unreachable peer is dropped the same way.
	failed := &electionResult{
		to:    2,
		round: "round-live",
		err:   bullyErrorf(ErrPeerUnreachable, "challenge to node [2]"),
	}
	assert.False(t, re.handleElectionResult(failed))

	for _, entry := range n.Roster() {
		assert.False(t, entry.Alive, "node %d", entry.ID)
	}

	// The same surrender carrying the live round token lands.
	live := &electionResult{
		to:    3,
		round: "round-live",
		reply: &bully_pb.ElectionReply{SenderId: 3, Surrender: true},
	}
	assert.True(t, re.handleElectionResult(live))
	assert.True(t, re.surrendered)

	for _, entry := range n.Roster() {
		assert.Equal(t, entry.ID == 3, entry.Alive, "node %d", entry.ID)
	}
}

func TestEngineDuplicateVictoryRefreshesDeadline(t *testing.T) {

	n := testEngineNode(t, 1)
	n.config.Timers = getTestTimers()
	n.messaging = &bullyMessaging{}
	re := n.engine

	re.adoptMaster(3)
	re.setSelfColor(ColorRed)

	ctx, cancel := context.WithCancel(context.Background())
	next := make(chan stateFn, 1)
	go func() { next <- re.slaveStateFn(ctx) }()

	// Keep re-announcing the current master well past the liveness
	// deadline. Each duplicate refreshes the deadline and changes nothing
	// else: same state, same master, same color.
	for i := 0; i < 6; i++ {
		time.Sleep(200 * time.Millisecond)
		msg := &victoryContainer{
			request:    &bully_pb.VictoryRequest{SenderId: 3},
			returnChan: make(chan *victoryContainer, 1),
		}
		re.inboundVictoryChan <- msg
		require.NotNil(t, (<-msg.returnChan).reply)

		assert.Equal(t, StateSlave, n.State())
		assert.Equal(t, int32(3), n.MasterID())
		assert.Equal(t, ColorRed, n.CurrentColor())
	}

	select {
	case <-next:
		t.Fatal("slave abandoned its master on a duplicate victory")
	default:
	}

	cancel()
	assert.Nil(t, <-next)
}

func TestEngineColorResultSettlesPass(t *testing.T) {

	n := testEngineNode(t, 3)
	re := n.engine

	re.pass = newColorPass(3, []int32{0, 1})

	re.handleColorResult(&colorResult{
		to:    0,
		color: ColorRed,
		reply: &bully_pb.ColorReply{SenderId: 0, Color: string(ColorRed)},
	})
	assert.False(t, re.pass.settled())

	// A failed send settles the pass but leaves it dirty; the roster keeps
	// the failed node uncolored.
	re.handleColorResult(&colorResult{to: 1, color: ColorGreen, err: ErrPeerUnreachable})
	assert.True(t, re.pass.settled())
	assert.False(t, re.pass.clean())
	assert.Equal(t, ColorRed, re.roster.color(0))
	assert.Equal(t, ColorUnset, re.roster.color(1))
}
