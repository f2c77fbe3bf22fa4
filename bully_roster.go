package bully

import (
	"sort"
	"time"
)

// Color is the visual class a node is assigned by the current master. It is
// a stand-in for a richer role assignment protocol; the partitioning rules
// live in bully_color.go.
type Color string

const (
	// ColorUnset is the color of a node before any assignment reaches it, and
	// of roster entries which have gone absent.
	ColorUnset Color = "unset"
	ColorGreen Color = "green"
	ColorRed   Color = "red"
)

// peerEntry tracks what the local node knows about one remote peer. Entries
// are owned exclusively by the engine goroutine; nothing outside the engine
// ever holds a pointer into the roster.
type peerEntry struct {
	id      int32
	address string
	// lastSeen is the zero value until the peer first contacts us.
	lastSeen time.Time
	color    Color
}

// roster is the engine's table of known peers. Peers are discovered from
// configuration and never removed; liveness is judged per lookup against a
// staleness window, so reappearance needs no special casing.
type roster struct {
	peers map[int32]*peerEntry
}

// RosterEntry is the read-only projection of a roster entry handed out on
// the query surface.
type RosterEntry struct {
	ID       int32
	Address  string
	Alive    bool
	Color    Color
	LastSeen time.Time
}

func newRoster(nodes []string, localIndex int32) *roster {
	r := &roster{peers: map[int32]*peerEntry{}}
	for i, addr := range nodes {
		if int32(i) == localIndex {
			continue
		}
		r.peers[int32(i)] = &peerEntry{
			id:      int32(i),
			address: addr,
			color:   ColorUnset,
		}
	}
	return r
}

// markSeen refreshes the liveness timestamp for a peer. Any inbound message
// from the peer counts. Returns true if the peer was absent until now, which
// is the signal the master uses to trigger a recoloring pass.
func (r *roster) markSeen(id int32, now time.Time, staleAfter time.Duration) bool {
	p, ok := r.peers[id]
	if !ok {
		return false
	}
	wasAbsent := !r.alive(id, now, staleAfter)
	p.lastSeen = now
	return wasAbsent
}

func (r *roster) alive(id int32, now time.Time, staleAfter time.Duration) bool {
	p, ok := r.peers[id]
	if !ok || p.lastSeen.IsZero() {
		return false
	}
	return now.Sub(p.lastSeen) <= staleAfter
}

// sweep walks the roster and clears the color of any peer which has gone
// silent past the staleness window. It returns the ids newly marked absent.
func (r *roster) sweep(now time.Time, staleAfter time.Duration) []int32 {
	var lost []int32
	for id, p := range r.peers {
		if p.color != ColorUnset && !r.alive(id, now, staleAfter) {
			p.color = ColorUnset
			lost = append(lost, id)
		}
	}
	sort.Slice(lost, func(i, j int) bool { return lost[i] < lost[j] })
	return lost
}

// aliveIDs returns the ids of peers within the staleness window, ascending.
// The deterministic order is what makes color assignment reproducible.
func (r *roster) aliveIDs(now time.Time, staleAfter time.Duration) []int32 {
	var ids []int32
	for id := range r.peers {
		if r.alive(id, now, staleAfter) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *roster) setColor(id int32, c Color) {
	if p, ok := r.peers[id]; ok {
		p.color = c
	}
}

func (r *roster) color(id int32) Color {
	if p, ok := r.peers[id]; ok {
		return p.color
	}
	return ColorUnset
}

func (r *roster) address(id int32) string {
	if p, ok := r.peers[id]; ok {
		return p.address
	}
	return ""
}

// snapshot produces a copy-on-read view for the query surface, sorted by id.
func (r *roster) snapshot(now time.Time, staleAfter time.Duration) []RosterEntry {
	entries := make([]RosterEntry, 0, len(r.peers))
	for id, p := range r.peers {
		entries = append(entries, RosterEntry{
			ID:       id,
			Address:  p.address,
			Alive:    r.alive(id, now, staleAfter),
			Color:    p.color,
			LastSeen: p.lastSeen,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}
