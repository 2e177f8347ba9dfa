package editlock

import (
	"github.com/chatwire/chatwire/pkg/types"
)

// Phase is the coordinator's participation in the lock protocol for the
// active resource.
type Phase int

const (
	// Idle means no lock exists and no request is in flight.
	Idle Phase = iota
	// Requesting means a lock request was sent and no response has arrived.
	// Local lock state is not mutated optimistically while requesting.
	Requesting
	// Held means this client holds the lock and the editing surface may be
	// open.
	Held
	// Blocked means another client holds the lock; the editing surface must
	// stay closed and the holder is surfaced to the user.
	Blocked
)

// String returns the lower-case phase name.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Held:
		return "held"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// lockState couples the participation phase with the authoritative lock
// view. The view always reflects the last authoritative broadcast; the
// phase only changes along the transitions encoded in step.
type lockState struct {
	phase Phase
	view  *types.EditLock
}

// eventKind discriminates lock events.
type eventKind int

const (
	evRequest eventKind = iota
	evResponse
	evUpdate
	evRelease
	evDisconnect
)

// lockEvent is one input to the lock state machine. Two independent sources
// feed it: the direct response to our own request, and the lock-update
// broadcast sent to every subscriber of the resource.
type lockEvent struct {
	kind       eventKind
	resourceID string
	granted    bool   // evResponse
	locked     bool   // evUpdate
	holder     string // evResponse (denial) and evUpdate
	acquiredAt int64
}

// step is the pure transition function of the lock state machine.
//
// The rules it encodes:
//   - the client never grants itself a lock it did not request;
//   - a broadcast always overwrites the lock view (last broadcast wins),
//     and a holder change while Held forces a yield;
//   - release clears local state optimistically without waiting for the
//     confirming broadcast.
func step(s lockState, ev lockEvent, self string) lockState {
	switch ev.kind {
	case evRequest:
		if s.phase == Idle || s.phase == Blocked {
			return lockState{phase: Requesting, view: s.view}
		}
		return s

	case evResponse:
		if s.phase != Requesting {
			// Stale or unsolicited response; the broadcast stream is
			// authoritative for everything outside our own request window.
			return s
		}
		if ev.granted {
			return lockState{phase: Held, view: &types.EditLock{
				ResourceID: ev.resourceID,
				Holder:     self,
				AcquiredAt: ev.acquiredAt,
			}}
		}
		return lockState{phase: Blocked, view: &types.EditLock{
			ResourceID: ev.resourceID,
			Holder:     ev.holder,
			AcquiredAt: ev.acquiredAt,
		}}

	case evUpdate:
		if !ev.locked {
			// Unconditional clear, except that an in-flight request keeps
			// waiting for its direct response.
			if s.phase == Requesting {
				return lockState{phase: Requesting}
			}
			return lockState{phase: Idle}
		}
		view := &types.EditLock{
			ResourceID: ev.resourceID,
			Holder:     ev.holder,
			AcquiredAt: ev.acquiredAt,
		}
		if ev.holder == self {
			if s.phase == Requesting || s.phase == Held {
				return lockState{phase: Held, view: view}
			}
			// Announced as holder without having asked: record the view but
			// do not open an editing surface we never requested.
			return lockState{phase: s.phase, view: view}
		}
		// Another client holds the lock. If we held it optimistically we
		// must yield; there is no client-side conflict resolution beyond
		// deferring to the server.
		return lockState{phase: Blocked, view: view}

	case evRelease, evDisconnect:
		return lockState{phase: Idle}
	}
	return s
}
