package room

import "roomchat/cmd/chat"

// State is the lifecycle of a Session.
type State int

const (
	Idle State = iota
	Loading
	Live
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Live:
		return "live"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Degraded flags a data source whose view may be stale. The session keeps
// running while either flag is set.
type Degraded struct {
	Bus   bool
	Store bool
}

// Any reports whether any source is degraded.
func (d Degraded) Any() bool { return d.Bus || d.Store }

// Snapshot is the full state of a room stream. Consumers render it as a whole;
// no deltas are computed here.
type Snapshot struct {
	RoomID   string
	State    State
	Messages []chat.Message
	Degraded Degraded
	// Seq increases with every published snapshot of one session.
	Seq uint64
}
