package workflow

// Trigger is an event that moves an instance between statuses
type Trigger string

const (
	// TriggerAdvance approves a non-final node; the instance stays pending
	TriggerAdvance Trigger = "ADVANCE"
	// TriggerComplete approves the final node
	TriggerComplete Trigger = "COMPLETE"
	TriggerReject   Trigger = "REJECT"
	// TriggerBack rewinds the pointer; the instance stays pending
	TriggerBack   Trigger = "BACK"
	TriggerCancel Trigger = "CANCEL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// TriggerFor maps a node decision to the instance trigger it fires.
// isLast tells whether the acting node is the final node of the instance.
func TriggerFor(action Action, isLast bool) (Trigger, bool) {
	switch action {
	case ActionApprove:
		if isLast {
			return TriggerComplete, true
		}
		return TriggerAdvance, true
	case ActionReject:
		return TriggerReject, true
	case ActionBack:
		return TriggerBack, true
	default:
		return "", false
	}
}
