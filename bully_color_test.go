package bully

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGreenQuota(t *testing.T) {

	// One third of the cluster, rounded up, with the master always holding
	// at least one green slot.
	testCases := []struct {
		alive int
		green int
	}{
		{0, 1},
		{1, 1},
		{2, 1},
		{3, 1},
		{4, 2},
		{5, 2},
		{6, 2},
		{7, 3},
		{9, 3},
		{10, 4},
		{100, 34},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.green, greenQuota(tc.alive), "aliveCount %d", tc.alive)
	}
}

func TestAssignColors(t *testing.T) {

	// Five alive nodes, master id 5: quota is 2, so the master and the
	// lowest ranked slave are green, the rest red.
	assignment := assignColors(5, []int32{1, 2, 3, 4})
	require.Len(t, assignment, 5)
	assert.Equal(t, ColorGreen, assignment[5])
	assert.Equal(t, ColorGreen, assignment[1])
	assert.Equal(t, ColorRed, assignment[2])
	assert.Equal(t, ColorRed, assignment[3])
	assert.Equal(t, ColorRed, assignment[4])

	// Two node cluster: only the master is green.
	assignment = assignColors(1, []int32{0})
	require.Len(t, assignment, 2)
	assert.Equal(t, ColorGreen, assignment[1])
	assert.Equal(t, ColorRed, assignment[0])

	// Master alone (everybody else silent): still green.
	assignment = assignColors(3, nil)
	require.Len(t, assignment, 1)
	assert.Equal(t, ColorGreen, assignment[3])

	// The assignment must be reproducible over the same membership.
	first := assignColors(7, []int32{0, 2, 4, 6})
	second := assignColors(7, []int32{0, 2, 4, 6})
	assert.Equal(t, first, second)
}

func TestColorPassSettlement(t *testing.T) {

	cp := newColorPass(5, []int32{1, 2, 3})
	assert.False(t, cp.settled())

	// Acks for two of three do not settle the pass.
	assert.False(t, cp.acked(1))
	assert.False(t, cp.acked(2))
	assert.False(t, cp.settled())

	// Last ack settles it, and nothing failed, so it is clean.
	assert.True(t, cp.acked(3))
	assert.True(t, cp.settled())
	assert.True(t, cp.clean())
}

func TestColorPassFailureMarksDirty(t *testing.T) {

	cp := newColorPass(5, []int32{1, 2})

	assert.False(t, cp.acked(1))
	cp.failed(2)

	// Failure disposes of the pending send, so the pass is settled, but it
	// must never read as clean: the engine re-runs it in full.
	assert.True(t, cp.settled())
	assert.False(t, cp.clean())
	assert.True(t, cp.dirty)
}

func TestColorPassWithNoSlaves(t *testing.T) {

	// Master alone: the pass settles immediately.
	cp := newColorPass(0, nil)
	assert.True(t, cp.settled())
	assert.True(t, cp.clean())
	assert.Equal(t, ColorGreen, cp.assignment[0])
}
