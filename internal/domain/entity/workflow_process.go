package entity

import (
	"time"

	"github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
)

// WorkflowProcess is the execution record of one template node within an instance
type WorkflowProcess struct {
	ID         int64 `json:"id"`
	InstanceID int64 `json:"instance_id"`
	NodeIndex  int   `json:"node_index"`

	// Denormalized from the template at creation
	NodeName string   `json:"node_name"`
	NodeType NodeType `json:"node_type"`

	AssigneeID  string          `json:"assignee_id"`
	ProcessorID string          `json:"processor_id,omitempty"`
	Action      workflow.Action `json:"action"`
	Comment     string          `json:"comment,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDecided reports whether the node carries a decision
func (p *WorkflowProcess) IsDecided() bool {
	return p.Action != workflow.ActionPending
}

// PassesAutomatically reports whether the node is approved as soon as it is
// reached. Notify nodes only inform their assignee.
func (p *WorkflowProcess) PassesAutomatically() bool {
	return p.NodeType == NodeTypeNotify
}

// IsActiveIn reports whether the process is the workable node of instance
func (p *WorkflowProcess) IsActiveIn(instance *WorkflowInstance) bool {
	return instance.IsPending() &&
		p.InstanceID == instance.ID &&
		p.NodeIndex == instance.CurrentNodeIndex &&
		p.Action == workflow.ActionPending
}

// BackableNode is an earlier decided node an instance can be rewound to
type BackableNode struct {
	NodeIndex   int        `json:"node_index"`
	Name        string     `json:"name"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	ProcessorID string     `json:"processor_id,omitempty"`
}
