package document

// State is the lifecycle position of a document run.
type State string

const (
	StateCreated            State = "created"
	StateLayoutDone         State = "layout_done"
	StateImagesMaterialised State = "images_materialised"
	StateEnriched           State = "enriched"
	StateReady              State = "ready"
	StateFailed             State = "failed"
)

var stateRank = map[State]int{
	StateCreated:            0,
	StateLayoutDone:         1,
	StateImagesMaterialised: 2,
	StateEnriched:           3,
	StateReady:              4,
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// CanAdvance reports whether moving from s to next respects the
// monotonic lifecycle: strictly forward through the rank order, failed
// reachable from any non-terminal state, nothing out of a terminal one.
func (s State) CanAdvance(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	cur, ok := stateRank[s]
	if !ok {
		return false
	}
	nxt, ok := stateRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}
