// Package statemachine implements the pure execution-status decision table
// of the workflow orchestration core: which status transitions are legal,
// which statuses are terminal, and a BFS path finder for diagnostics.
package statemachine

import "github.com/mel-run/taskflow/internal/model"

// transitions maps a from-status to the set of to-statuses it may legally
// move to. Absence of a key, or absence of a value in the set, means the
// transition is illegal.
var transitions = map[model.ExecutionStatus]map[model.ExecutionStatus]bool{
	model.ExecutionPending: {
		model.ExecutionRunning:   true,
		model.ExecutionCancelled: true,
	},
	model.ExecutionRunning: {
		model.ExecutionCompleted: true,
		model.ExecutionFailed:    true,
		model.ExecutionCancelled: true,
	},
	model.ExecutionFailed: {
		model.ExecutionRetrying: true,
		model.ExecutionCancelled: true,
	},
	model.ExecutionRetrying: {
		model.ExecutionRunning:   true,
		model.ExecutionFailed:    true,
		model.ExecutionCancelled: true,
	},
	model.ExecutionCompleted: {},
	model.ExecutionCancelled: {},
}

// terminal holds the statuses with no outbound transitions at all.
var terminal = map[model.ExecutionStatus]bool{
	model.ExecutionCompleted: true,
	model.ExecutionCancelled: true,
}

// CanTransition reports whether moving from a to b is a legal single step.
func CanTransition(a, b model.ExecutionStatus) bool {
	to, ok := transitions[a]
	if !ok {
		return false
	}
	return to[b]
}

// Validate returns an InvalidTransition error when a -> b is not legal.
func Validate(a, b model.ExecutionStatus) error {
	if CanTransition(a, b) {
		return nil
	}
	return &InvalidTransitionError{From: a, To: b}
}

// IsTerminal reports whether s has no legal outbound transitions.
func IsTerminal(s model.ExecutionStatus) bool {
	return terminal[s]
}

// CanRetry reports whether an execution in status s is eligible to move to
// retrying. Only failed executions are retryable; completed/cancelled are
// terminal, pending/running/retrying are not failure states.
func CanRetry(s model.ExecutionStatus) bool {
	return s == model.ExecutionFailed
}

// InvalidTransitionError is returned by Validate for an illegal move.
type InvalidTransitionError struct {
	From model.ExecutionStatus
	To   model.ExecutionStatus
}

func (e *InvalidTransitionError) Error() string {
	return "invalid transition: " + string(e.From) + " -> " + string(e.To)
}

// allStatuses lists every status the machine knows about, for BFS traversal.
var allStatuses = []model.ExecutionStatus{
	model.ExecutionPending,
	model.ExecutionRunning,
	model.ExecutionCompleted,
	model.ExecutionFailed,
	model.ExecutionRetrying,
	model.ExecutionCancelled,
}

// pathNode is a BFS tree node used by Path to reconstruct the shortest route.
type pathNode struct {
	status model.ExecutionStatus
	prev   *pathNode
}

// Path returns the shortest sequence of legal single-step transitions from a
// to b, inclusive of both endpoints, or nil if b is unreachable from a.
// Path(a, a) returns just {a}.
func Path(a, b model.ExecutionStatus) []model.ExecutionStatus {
	if a == b {
		return []model.ExecutionStatus{a}
	}

	visited := map[model.ExecutionStatus]bool{a: true}
	queue := []*pathNode{{status: a}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, next := range allStatuses {
			if !CanTransition(cur.status, next) || visited[next] {
				continue
			}
			n := &pathNode{status: next, prev: cur}
			if next == b {
				return reconstructPath(n)
			}
			visited[next] = true
			queue = append(queue, n)
		}
	}
	return nil
}

func reconstructPath(n *pathNode) []model.ExecutionStatus {
	var rev []model.ExecutionStatus
	for cur := n; cur != nil; cur = cur.prev {
		rev = append(rev, cur.status)
	}
	path := make([]model.ExecutionStatus, len(rev))
	for i, s := range rev {
		path[len(rev)-1-i] = s
	}
	return path
}
