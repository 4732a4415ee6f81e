// Package transition holds the static status-transition tables shared by
// appointments, purchases, returns and cash closings. Tables are pure data:
// no I/O, no entity state, just which moves are legal.
package transition

import "sort"

// Rules maps each status to the set of statuses it may move to. A status
// missing from the map, or mapped to an empty set, is terminal.
type Rules[S ~string] map[S][]S

// Can reports whether from -> to is a legal transition. Self-transitions
// are never legal, even if a table accidentally lists one.
func (r Rules[S]) Can(from, to S) bool {
	if from == to {
		return false
	}
	for _, next := range r[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Available returns the legal next statuses for from, sorted for stable
// display. Terminal statuses return an empty slice.
func (r Rules[S]) Available(from S) []S {
	next := make([]S, 0, len(r[from]))
	next = append(next, r[from]...)
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	return next
}

// IsTerminal reports whether from has no outgoing transitions.
func (r Rules[S]) IsTerminal(from S) bool {
	return len(r[from]) == 0
}
