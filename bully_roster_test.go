package bully

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStaleAfter = 15 * time.Second

func testRoster() *roster {
	// Four node cluster, local node is 2.
	return newRoster([]string{":8088", ":8089", ":8090", ":8091"}, 2)
}

func TestRosterExcludesSelf(t *testing.T) {

	r := testRoster()
	require.Len(t, r.peers, 3)
	_, tracksSelf := r.peers[2]
	assert.False(t, tracksSelf)
	assert.Equal(t, ":8091", r.address(3))
	assert.Equal(t, "", r.address(2))
}

func TestRosterLiveness(t *testing.T) {

	r := testRoster()
	now := time.Now()

	// Nothing heard from anybody yet.
	assert.Empty(t, r.aliveIDs(now, testStaleAfter))
	assert.False(t, r.alive(0, now, testStaleAfter))

	// First contact reports the peer as having been absent.
	assert.True(t, r.markSeen(0, now, testStaleAfter))
	assert.True(t, r.alive(0, now, testStaleAfter))

	// Repeat contact within the window does not.
	assert.False(t, r.markSeen(0, now.Add(time.Second), testStaleAfter))

	// A peer silent past the window reads as absent again, without any
	// explicit removal, and contact after that is a re-admission.
	later := now.Add(testStaleAfter + time.Second)
	assert.False(t, r.alive(0, later, testStaleAfter))
	assert.True(t, r.markSeen(0, later, testStaleAfter))

	// Unknown ids (the local node included) are never alive.
	assert.False(t, r.markSeen(2, now, testStaleAfter))
	assert.False(t, r.markSeen(99, now, testStaleAfter))
}

func TestRosterSweep(t *testing.T) {

	r := testRoster()
	now := time.Now()

	r.markSeen(0, now, testStaleAfter)
	r.markSeen(1, now, testStaleAfter)
	r.markSeen(3, now, testStaleAfter)
	r.setColor(0, ColorGreen)
	r.setColor(1, ColorRed)
	r.setColor(3, ColorRed)

	// Everybody within the window: nothing to sweep.
	assert.Empty(t, r.sweep(now.Add(time.Second), testStaleAfter))

	// Peer 1 and 3 keep talking, peer 0 goes silent.
	later := now.Add(testStaleAfter + time.Second)
	r.markSeen(1, later, testStaleAfter)
	r.markSeen(3, later, testStaleAfter)

	lost := r.sweep(later, testStaleAfter)
	assert.Equal(t, []int32{0}, lost)
	assert.Equal(t, ColorUnset, r.color(0))
	assert.Equal(t, ColorRed, r.color(1))

	// Sweeping again reports nothing new.
	assert.Empty(t, r.sweep(later, testStaleAfter))

	assert.Equal(t, []int32{1, 3}, r.aliveIDs(later, testStaleAfter))
}

func TestRosterSnapshot(t *testing.T) {

	r := testRoster()
	now := time.Now()

	r.markSeen(3, now, testStaleAfter)
	r.setColor(3, ColorGreen)

	snap := r.snapshot(now, testStaleAfter)
	require.Len(t, snap, 3)

	// Sorted by id, self excluded.
	assert.Equal(t, int32(0), snap[0].ID)
	assert.Equal(t, int32(1), snap[1].ID)
	assert.Equal(t, int32(3), snap[2].ID)

	assert.False(t, snap[0].Alive)
	assert.Equal(t, ColorUnset, snap[0].Color)

	assert.True(t, snap[2].Alive)
	assert.Equal(t, ColorGreen, snap[2].Color)
	assert.Equal(t, ":8091", snap[2].Address)
	assert.Equal(t, now, snap[2].LastSeen)
}
