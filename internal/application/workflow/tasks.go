package workflow

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
	domainwf "github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
)

// GetPendingTasks returns the processes awaiting actorID across all
// instances, oldest first
func (e *Engine) GetPendingTasks(ctx context.Context, actorID string) (tasks []*entity.WorkflowProcess, err error) {
	ctx, span := e.startSpan(ctx, "workflow.GetPendingTasks", attribute.String("actor.id", actorID))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(actorID) == "" {
		return nil, domainwf.ErrInvalidArgument
	}
	return e.processes.ListActiveForAssignee(ctx, actorID)
}

// History returns every process of an instance ordered by node index,
// including rows reset by a back transition
func (e *Engine) History(ctx context.Context, instanceID int64) ([]*entity.WorkflowProcess, error) {
	if _, err := e.requireInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return e.processes.ListByInstance(ctx, instanceID)
}

// GetBackableNodes lists the decided approval nodes before the pointer of a
// pending instance. Terminal instances have none.
func (e *Engine) GetBackableNodes(ctx context.Context, instanceID int64) ([]entity.BackableNode, error) {
	inst, err := e.requireInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	nodes := make([]entity.BackableNode, 0, inst.CurrentNodeIndex)
	if !inst.IsPending() {
		return nodes, nil
	}

	processes, err := e.processes.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	for _, p := range processes {
		if p.NodeIndex >= inst.CurrentNodeIndex || !p.IsDecided() || p.PassesAutomatically() {
			continue
		}
		nodes = append(nodes, entity.BackableNode{
			NodeIndex:   p.NodeIndex,
			Name:        p.NodeName,
			ProcessedAt: p.ProcessedAt,
			ProcessorID: p.ProcessorID,
		})
	}
	return nodes, nil
}

// Timeline returns the decision log of an instance in the order it was written
func (e *Engine) Timeline(ctx context.Context, instanceID int64) ([]*entity.ProcessLog, error) {
	if _, err := e.requireInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return e.logs.ListByInstance(ctx, instanceID)
}
