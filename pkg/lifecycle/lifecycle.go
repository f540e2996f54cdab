// Package lifecycle implements the guarded per-hash state machine that
// mediates every CacheNar and PurgeNar transition.
package lifecycle

import (
	"time"

	"github.com/nicacher/nicacher/pkg/database"
)

// Event is the operation being attempted against a hash's current status.
type Event int

const (
	EventCacheNarBegin Event = iota
	EventCacheNarInstalled
	EventCacheNarFailed
	EventPurgeNarBegin
	EventPurgeNarRemoved
)

// OutcomeKind names the four tokens a transition can resolve to.
type OutcomeKind int

const (
	// OutcomeSuccess means the transition was applied as requested.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeKill means the caller should stop: the operation is
	// unnecessary or contends with another owner that wins.
	OutcomeKill
	// OutcomeReschedule means the caller should requeue itself after Delay.
	OutcomeReschedule
	// OutcomeRetry means the caller lost a race and should immediately
	// re-evaluate from the current status.
	OutcomeRetry
)

// Outcome is the result of Decide: what the caller should do, and the
// target status to write if anything.
type Outcome struct {
	Kind   OutcomeKind
	Target database.Status
	Delay  time.Duration
}

// reschedule10s is the fixed backoff used whenever a purge waits on an
// in-flight fetch or vice versa.
const reschedule10s = 10 * time.Second

// Decide implements the transition table: given current's status (absent
// database.Status("") means no LifecycleRow exists yet), the event being
// attempted, and whether the caller requested a forced operation, it
// returns the Outcome without touching storage.
func Decide(current database.Status, event Event, force bool) Outcome {
	switch event {
	case EventCacheNarBegin:
		return decideCacheNarBegin(current, force)
	case EventCacheNarInstalled:
		return Outcome{Kind: OutcomeSuccess, Target: database.StatusAvailable}
	case EventCacheNarFailed:
		return Outcome{Kind: OutcomeSuccess, Target: database.StatusNotAvailable}
	case EventPurgeNarBegin:
		return decidePurgeNarBegin(current, force)
	case EventPurgeNarRemoved:
		return Outcome{Kind: OutcomeSuccess}
	default:
		return Outcome{Kind: OutcomeKill}
	}
}

func decideCacheNarBegin(current database.Status, force bool) Outcome {
	switch current {
	case "", database.StatusNotAvailable:
		return Outcome{Kind: OutcomeSuccess, Target: database.StatusFetching}
	case database.StatusAvailable:
		if force {
			return Outcome{Kind: OutcomeSuccess, Target: database.StatusFetching}
		}

		return Outcome{Kind: OutcomeKill}
	case database.StatusFetching:
		return Outcome{Kind: OutcomeKill}
	case database.StatusPurging:
		if force {
			return Outcome{Kind: OutcomeReschedule, Delay: reschedule10s}
		}

		return Outcome{Kind: OutcomeKill}
	default:
		return Outcome{Kind: OutcomeKill}
	}
}

func decidePurgeNarBegin(current database.Status, force bool) Outcome {
	switch current {
	case database.StatusAvailable:
		return Outcome{Kind: OutcomeSuccess, Target: database.StatusPurging}
	case "", database.StatusNotAvailable:
		if force {
			return Outcome{Kind: OutcomeSuccess, Target: database.StatusPurging}
		}

		return Outcome{Kind: OutcomeKill}
	case database.StatusFetching:
		if force {
			return Outcome{Kind: OutcomeReschedule, Delay: reschedule10s}
		}

		return Outcome{Kind: OutcomeKill}
	case database.StatusPurging:
		return Outcome{Kind: OutcomeKill}
	default:
		return Outcome{Kind: OutcomeKill}
	}
}
