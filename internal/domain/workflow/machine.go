package workflow

// StateMachine tracks an instance status and validates transitions
type StateMachine interface {
	// Status returns the current status
	Status() Status

	// Fire executes the trigger, moving to the new status if allowed
	Fire(trigger Trigger) error
}

// NewInstanceMachine returns the status machine every workflow instance follows.
// Only pending has outgoing transitions; the terminal statuses permit nothing.
func NewInstanceMachine(initial Status) StateMachine {
	builder := NewBuilder()

	builder.Configure(StatusPending).
		Permit(TriggerAdvance, StatusPending).
		Permit(TriggerBack, StatusPending).
		Permit(TriggerComplete, StatusCompleted).
		Permit(TriggerReject, StatusRejected).
		Permit(TriggerCancel, StatusCancelled)

	return builder.Build(initial)
}
