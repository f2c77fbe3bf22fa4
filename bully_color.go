package bully

// Color coordination: after every election win and every membership change
// the master partitions the alive nodes into green and red classes. The
// computation is recomputed from scratch on every pass - never patched
// incrementally - so the class sizes cannot drift as peers come and go.
//
// Invariants preserved by every pass:
//   - the master is always green;
//   - greenCount == ceil(aliveCount/3), with a minimum of one (the master).

// greenQuota returns how many of aliveCount nodes should be green.
func greenQuota(aliveCount int) int {
	if aliveCount < 1 {
		return 1
	}
	q := (aliveCount + 2) / 3 // ceil(aliveCount/3)
	if q < 1 {
		q = 1
	}
	return q
}

// assignColors computes the full color map for one coordination pass.
// aliveSlaves must be sorted ascending; the green slots left after the
// master takes the first one are filled from the lowest slave ids up, so
// the assignment is reproducible across passes over the same membership.
func assignColors(selfID int32, aliveSlaves []int32) map[int32]Color {
	assignment := map[int32]Color{selfID: ColorGreen}

	quota := greenQuota(1 + len(aliveSlaves))
	remaining := quota - 1 // master holds the first green slot
	for _, id := range aliveSlaves {
		if remaining > 0 {
			assignment[id] = ColorGreen
			remaining--
		} else {
			assignment[id] = ColorRed
		}
	}
	return assignment
}

// colorPass tracks the progress of one coordination pass at the master. The
// pass is fire-and-forget from the engine's perspective: slaves which fail
// to acknowledge stay in pending, and a pass with leftovers marks the
// coordinator dirty so the whole pass is retried on the next trigger.
type colorPass struct {
	assignment map[int32]Color
	// pending holds the slaves we have sent COLOR to and not yet heard back
	// from.
	pending map[int32]bool
	// dirty is set when any send fails; a dirty pass is re-run in full on the
	// next trigger.
	dirty bool
}

func newColorPass(selfID int32, aliveSlaves []int32) *colorPass {
	cp := &colorPass{
		assignment: assignColors(selfID, aliveSlaves),
		pending:    map[int32]bool{},
	}
	for _, id := range aliveSlaves {
		cp.pending[id] = true
	}
	return cp
}

// acked records a COLOR_ACK from a slave. Returns true when the ack settles
// the pass, i.e. nothing is pending any more.
func (cp *colorPass) acked(id int32) bool {
	delete(cp.pending, id)
	return len(cp.pending) == 0
}

// failed records a COLOR send which errored or timed out. The slave stays
// uncolored and the pass is marked dirty; the engine re-runs it wholesale
// rather than patching the single failure, since a partially committed map
// would break the quota invariant under a later recomputation.
func (cp *colorPass) failed(id int32) {
	delete(cp.pending, id)
	cp.dirty = true
}

// settled reports whether every COLOR in the pass has been disposed of, one
// way or the other.
func (cp *colorPass) settled() bool {
	return len(cp.pending) == 0
}

// clean reports a settled pass with no failures.
func (cp *colorPass) clean() bool {
	return cp.settled() && !cp.dirty
}
