package idempotency

// Event is a coordinator lifecycle event.
type Event string

const (
	EventExecuted           Event = "executed"
	EventReplayed           Event = "replayed"
	EventCacheHit           Event = "cache_hit"
	EventSkipped            Event = "skipped"
	EventAlreadyInProgress  Event = "already_in_progress"
	EventInconsistentState  Event = "inconsistent_state"
	EventValidationMismatch Event = "validation_mismatch"
	EventDeleted            Event = "deleted"
	EventDeleteFailed       Event = "delete_failed"
)

// Observer is notified of coordinator events. Implementations must be safe for concurrent use.
type Observer interface {
	Observe(Event)
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}
