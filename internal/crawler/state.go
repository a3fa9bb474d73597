package crawler

import "time"

// State is the stage a URL has reached inside a frontier.
type State int

// A URL moves from StateReady to StateFetching, then to one of the
// outcome states. Retries loop through StateFailedRetry back to
// StateFetching; every outcome returns the frontier to StateReady.
const (
	StateReady State = iota
	StateFetching
	StateAccepted
	StateEnqueueLinks
	StateRejected
	StateFailedRetry
	StateFailedTerminal
)

// String returns the upper-case name of the state.
func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateFetching:
		return "FETCHING"
	case StateAccepted:
		return "ACCEPTED"
	case StateEnqueueLinks:
		return "ENQUEUE_LINKS"
	case StateRejected:
		return "REJECTED"
	case StateFailedRetry:
		return "FAILED_RETRY"
	case StateFailedTerminal:
		return "FAILED_TERMINAL"
	default:
		return "UNKNOWN"
	}
}

// StateEvent reports one transition of one URL.
type StateEvent struct {
	Site     string
	URL      string
	Depth    int
	State    State
	Attempts int   // fetch attempts so far, for fetch outcomes
	Links    int   // links enqueued, for StateEnqueueLinks
	Err      error // failure cause, for failure states
	At       time.Time
}

// Observer receives state events. It is called synchronously from the
// frontier goroutine and must not block for long.
type Observer func(StateEvent)
