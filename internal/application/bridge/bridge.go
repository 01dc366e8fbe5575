// Package bridge exposes workflow state to business modules that do not
// want to know about instances and processes.
package bridge

import (
	"context"
	"fmt"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
)

// BusinessWorkflowStatus is the workflow view of one business entity
type BusinessWorkflowStatus struct {
	BusinessType      string          `json:"business_type"`
	BusinessID        int64           `json:"business_id"`
	HasWorkflow       bool            `json:"has_workflow"`
	InstanceID        int64           `json:"instance_id,omitempty"`
	Status            workflow.Status `json:"status,omitempty"`
	CurrentNodeIndex  int             `json:"current_node_index"`
	CurrentNodeName   string          `json:"current_node_name,omitempty"`
	CurrentAssigneeID string          `json:"current_assignee_id,omitempty"`
}

// StatusReader answers "what is the approval state of this entity"
type StatusReader interface {
	Status(ctx context.Context, businessType string, businessID int64) (*BusinessWorkflowStatus, error)
	Statuses(ctx context.Context, businessType string, businessIDs []int64) (map[int64]*BusinessWorkflowStatus, error)
}

// Bridge reads the latest instance of a business entity
type Bridge struct {
	instances port.InstanceRepository
	processes port.ProcessRepository
}

var _ StatusReader = (*Bridge)(nil)

// New creates a Bridge
func New(instances port.InstanceRepository, processes port.ProcessRepository) *Bridge {
	return &Bridge{instances: instances, processes: processes}
}

// Status returns the state of the most recent workflow of an entity.
// Entities that never had a workflow report HasWorkflow false.
func (b *Bridge) Status(ctx context.Context, businessType string, businessID int64) (*BusinessWorkflowStatus, error) {
	inst, err := b.instances.GetLatestByBusiness(ctx, businessType, businessID)
	if err != nil {
		return nil, err
	}
	return b.describe(ctx, businessType, businessID, inst)
}

// Statuses is Status for a page of entities. Every requested ID has an entry.
func (b *Bridge) Statuses(ctx context.Context, businessType string, businessIDs []int64) (map[int64]*BusinessWorkflowStatus, error) {
	out := make(map[int64]*BusinessWorkflowStatus, len(businessIDs))
	if len(businessIDs) == 0 {
		return out, nil
	}

	latest, err := b.instances.ListLatestByBusiness(ctx, businessType, businessIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range businessIDs {
		if _, done := out[id]; done {
			continue
		}
		status, err := b.describe(ctx, businessType, id, latest[id])
		if err != nil {
			return nil, err
		}
		out[id] = status
	}
	return out, nil
}

func (b *Bridge) describe(ctx context.Context, businessType string, businessID int64, inst *entity.WorkflowInstance) (*BusinessWorkflowStatus, error) {
	status := &BusinessWorkflowStatus{BusinessType: businessType, BusinessID: businessID}
	if inst == nil {
		return status, nil
	}

	status.HasWorkflow = true
	status.InstanceID = inst.ID
	status.Status = inst.Status
	status.CurrentNodeIndex = inst.CurrentNodeIndex

	current, err := b.processes.GetByInstanceAndNode(ctx, inst.ID, inst.CurrentNodeIndex)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: instance %d has no process for node %d",
			workflow.ErrNotFound, inst.ID, inst.CurrentNodeIndex)
	}
	status.CurrentNodeName = current.NodeName
	if inst.IsPending() {
		status.CurrentAssigneeID = current.AssigneeID
	}
	return status, nil
}
