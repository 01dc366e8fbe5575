package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowStarted   Type = "workflow.started"
	TypeNodeActivated     Type = "node.activated"
	TypeProcessDecided    Type = "process.decided"
	TypeInstanceCompleted Type = "instance.completed"
	TypeInstanceRejected  Type = "instance.rejected"
	TypeInstanceCancelled Type = "instance.cancelled"
	TypeInstanceRewound   Type = "instance.rewound"
	TypeProcessReassigned Type = "process.reassigned"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkflowStarted,
		TypeNodeActivated,
		TypeProcessDecided,
		TypeInstanceCompleted,
		TypeInstanceRejected,
		TypeInstanceCancelled,
		TypeInstanceRewound,
		TypeProcessReassigned:
		return true
	default:
		return false
	}
}
