package workflow

// Status is the lifecycle status of a workflow instance
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusCompleted: true,
	StatusRejected:  true,
	StatusCancelled: true,
}

// IsTerminal returns true once the instance can no longer change
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is a known instance status
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// Action is the decision recorded on a process row
type Action string

const (
	ActionPending Action = "pending"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionBack    Action = "back"
)

// IsDecision reports whether the action can be submitted by an actor
func (a Action) IsDecision() bool {
	return a == ActionApprove || a == ActionReject || a == ActionBack
}

// IsValid returns true for any action a process row may carry
func (a Action) IsValid() bool {
	return a == ActionPending || a.IsDecision()
}

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}
