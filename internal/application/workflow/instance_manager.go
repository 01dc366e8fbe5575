package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/event"
	domainwf "github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
)

// StartRequest starts a workflow for a business entity
type StartRequest struct {
	BusinessType  string `json:"business_type"`
	BusinessID    int64  `json:"business_id"`
	BusinessTitle string `json:"business_title"`
	// TemplateID nil resolves the template from BusinessType and Discriminant
	TemplateID   *int64 `json:"workflow_template_id,omitempty"`
	Discriminant string `json:"discriminant,omitempty"`
	CreatorID    string `json:"creator_id"`
	// Assignees overrides node assignees by node index
	Assignees map[int]string `json:"assignees,omitempty"`
}

// InstanceDetail is an instance with its processes in node order
type InstanceDetail struct {
	Instance  *entity.WorkflowInstance  `json:"instance"`
	Processes []*entity.WorkflowProcess `json:"processes"`
}

// Start creates a pending instance with one pending process per template
// node; node 0 is active. Leading notify nodes pass at once, so a template
// of notify nodes only completes inside Start.
func (e *Engine) Start(ctx context.Context, req StartRequest) (inst *entity.WorkflowInstance, err error) {
	ctx, span := e.startSpan(ctx, "workflow.Start",
		attribute.String("business.type", req.BusinessType),
		attribute.Int64("business.id", req.BusinessID))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(req.BusinessType) == "" {
		return nil, fmt.Errorf("%w: business_type is required", domainwf.ErrInvalidArgument)
	}

	tpl, err := e.templateFor(ctx, req)
	if err != nil {
		return nil, err
	}
	for index := range req.Assignees {
		if index < 0 || index > tpl.LastIndex() {
			return nil, fmt.Errorf("%w: assignee override for node %d, template has %d nodes",
				domainwf.ErrInvalidArgument, index, len(tpl.Nodes))
		}
	}

	subject := port.Subject{
		BusinessType:  req.BusinessType,
		BusinessID:    req.BusinessID,
		BusinessTitle: req.BusinessTitle,
		CreatorID:     req.CreatorID,
	}
	assignees, err := e.assignees.ResolveAll(ctx, tpl.Nodes, subject, req.Assignees)
	if err != nil {
		return nil, err
	}

	var batch eventBatch
	err = e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		existing, err := e.instances.GetPendingByBusiness(ctx, req.BusinessType, req.BusinessID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: instance %d", domainwf.ErrDuplicateActiveInstance, existing.ID)
		}

		now := e.clock()
		inst = &entity.WorkflowInstance{
			BusinessType:     req.BusinessType,
			BusinessID:       req.BusinessID,
			BusinessTitle:    req.BusinessTitle,
			TemplateID:       tpl.ID,
			Status:           domainwf.StatusPending,
			CurrentNodeIndex: 0,
			NodeCount:        len(tpl.Nodes),
			CreatorID:        req.CreatorID,
			CreatedAt:        now,
		}
		if err := e.instances.Create(ctx, inst); err != nil {
			return err
		}

		processes := make([]*entity.WorkflowProcess, len(tpl.Nodes))
		for i, node := range tpl.Nodes {
			processes[i] = &entity.WorkflowProcess{
				InstanceID: inst.ID,
				NodeIndex:  node.Index,
				NodeName:   node.Name,
				NodeType:   node.Type,
				AssigneeID: assignees[i],
				Action:     domainwf.ActionPending,
				CreatedAt:  now,
			}
		}
		if err := e.processes.CreateBatch(ctx, processes); err != nil {
			return err
		}

		if err := e.logs.Append(ctx, &entity.ProcessLog{
			InstanceID: inst.ID,
			NodeIndex:  0,
			Action:     entity.LogStart,
			ActorID:    req.CreatorID,
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		batch.add(event.TypeWorkflowStarted, inst.ID, map[string]interface{}{
			event.KeyActorID:       req.CreatorID,
			event.KeyBusinessType:  inst.BusinessType,
			event.KeyBusinessID:    inst.BusinessID,
			event.KeyBusinessTitle: inst.BusinessTitle,
		})
		return e.activate(ctx, inst, processes[0], now, &batch)
	})
	if err != nil {
		e.logger.Error("Failed to start workflow",
			"business_type", req.BusinessType,
			"business_id", req.BusinessID,
			"error", err,
		)
		return nil, err
	}

	e.logger.Info("Workflow started",
		"instance_id", inst.ID,
		"template_id", tpl.ID,
		"business_type", inst.BusinessType,
		"business_id", inst.BusinessID,
	)
	e.publish(ctx, batch.events)
	return inst, nil
}

func (e *Engine) templateFor(ctx context.Context, req StartRequest) (*entity.WorkflowTemplate, error) {
	var id int64
	if req.TemplateID != nil {
		id = *req.TemplateID
	} else {
		resolved, err := e.templates.ResolveForBusiness(ctx, req.BusinessType, req.Discriminant)
		if err != nil {
			return nil, err
		}
		id = resolved
	}

	tpl, err := e.templates.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tpl.Active {
		return nil, fmt.Errorf("%w: template %s v%d is inactive", domainwf.ErrInvalidTemplate, tpl.Code, tpl.Version)
	}
	if tpl.BusinessType != req.BusinessType {
		return nil, fmt.Errorf("%w: template %s is for %s, not %s",
			domainwf.ErrInvalidTemplate, tpl.Code, tpl.BusinessType, req.BusinessType)
	}
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	return tpl, nil
}

// Cancel moves a pending instance to cancelled. Process rows are left as they are.
func (e *Engine) Cancel(ctx context.Context, instanceID int64, actorID string) (inst *entity.WorkflowInstance, err error) {
	ctx, span := e.startSpan(ctx, "workflow.Cancel", attribute.Int64("instance.id", instanceID))
	defer func() { endSpan(span, err) }()

	var batch eventBatch
	err = e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		inst, err = e.instances.GetForUpdate(ctx, instanceID)
		if err != nil {
			return err
		}
		if inst == nil {
			return fmt.Errorf("%w: instance %d", domainwf.ErrNotFound, instanceID)
		}

		machine := domainwf.NewInstanceMachine(inst.Status)
		if err := machine.Fire(domainwf.TriggerCancel); err != nil {
			return fmt.Errorf("%w: instance %d is %s", domainwf.ErrInstanceNotCancellable, inst.ID, inst.Status)
		}

		now := e.clock()
		if err := e.instances.Finish(ctx, inst.ID, inst.CurrentNodeIndex, machine.Status(), now); err != nil {
			if errors.Is(err, domainwf.ErrAlreadyProcessed) {
				return fmt.Errorf("%w: instance %d changed concurrently", domainwf.ErrInstanceNotCancellable, inst.ID)
			}
			return err
		}

		if err := e.logs.Append(ctx, &entity.ProcessLog{
			InstanceID: inst.ID,
			NodeIndex:  inst.CurrentNodeIndex,
			Action:     entity.LogCancel,
			ActorID:    actorID,
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		inst.Status = machine.Status()
		inst.UpdatedAt = now
		inst.FinishedAt = &now
		batch.finished(event.TypeInstanceCancelled, inst, actorID)
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to cancel workflow", "instance_id", instanceID, "error", err)
		return nil, err
	}

	e.logger.Info("Workflow cancelled", "instance_id", instanceID, "actor_id", actorID)
	e.publish(ctx, batch.events)
	return inst, nil
}

// GetBusinessStatus returns the latest instance of a business entity, or
// nil when no workflow has ever run for it.
func (e *Engine) GetBusinessStatus(ctx context.Context, businessType string, businessID int64) (*entity.WorkflowInstance, error) {
	return e.instances.GetLatestByBusiness(ctx, businessType, businessID)
}

// GetInstance returns an instance with its processes
func (e *Engine) GetInstance(ctx context.Context, instanceID int64) (*InstanceDetail, error) {
	inst, err := e.requireInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	processes, err := e.processes.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return &InstanceDetail{Instance: inst, Processes: processes}, nil
}

func (e *Engine) requireInstance(ctx context.Context, instanceID int64) (*entity.WorkflowInstance, error) {
	inst, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: instance %d", domainwf.ErrNotFound, instanceID)
	}
	return inst, nil
}
