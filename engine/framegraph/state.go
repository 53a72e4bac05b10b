package framegraph

import (
	"fmt"

	"github.com/spaghettifunk/voxel/engine/core"
)

// NodeState tracks where one frame slot of a node is in its per-frame cycle.
type NodeState int

const (
	NodeStateIdle NodeState = iota
	NodeStatePendingSync
	NodeStateRecording
	NodeStateRecorded
	NodeStateSubmitted
)

func (s NodeState) String() string {
	switch s {
	case NodeStateIdle:
		return "idle"
	case NodeStatePendingSync:
		return "pending-sync"
	case NodeStateRecording:
		return "recording"
	case NodeStateRecorded:
		return "recorded"
	case NodeStateSubmitted:
		return "submitted"
	default:
		return fmt.Sprintf("NodeState(%d)", int(s))
	}
}

// canTransition reports whether a slot may move from s to next. A submitted slot goes back
// to idle once its fence is observed, or straight to pending-sync when the slot comes round
// again before anybody waited on it.
func (s NodeState) canTransition(next NodeState) bool {
	switch s {
	case NodeStateIdle:
		return next == NodeStatePendingSync
	case NodeStatePendingSync:
		return next == NodeStateRecording
	case NodeStateRecording:
		return next == NodeStateRecorded
	case NodeStateRecorded:
		return next == NodeStateSubmitted
	case NodeStateSubmitted:
		return next == NodeStateIdle || next == NodeStatePendingSync
	}
	return false
}

func (n *Node) transition(frame int, next NodeState) error {
	cur := n.states[frame]
	if !cur.canTransition(next) {
		return fmt.Errorf("node %q frame %d: %s -> %s: %w", n.name, frame, cur, next, core.ErrInvalidNodeState)
	}
	n.states[frame] = next
	return nil
}
