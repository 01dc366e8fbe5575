package entity

import (
	"time"

	"github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
)

// WorkflowInstance is one running execution of a template against a business entity
type WorkflowInstance struct {
	ID               int64           `json:"id"`
	BusinessType     string          `json:"business_type"`
	BusinessID       int64           `json:"business_id"`
	BusinessTitle    string          `json:"business_title"`
	TemplateID       int64           `json:"workflow_template_id"`
	Status           workflow.Status `json:"status"`
	CurrentNodeIndex int             `json:"current_node_index"`
	// NodeCount is the template node count captured at creation
	NodeCount  int        `json:"node_count"`
	CreatorID  string     `json:"creator_id"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// IsPending reports whether the instance still accepts actions
func (i *WorkflowInstance) IsPending() bool {
	return i.Status == workflow.StatusPending
}

// LastIndex returns the index of the final node
func (i *WorkflowInstance) LastIndex() int {
	return i.NodeCount - 1
}

// IsLastNode reports whether index is the final node of the instance
func (i *WorkflowInstance) IsLastNode(index int) bool {
	return index == i.LastIndex()
}
