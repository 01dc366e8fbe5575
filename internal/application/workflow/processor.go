package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/event"
	domainwf "github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
)

// notifiedComment marks notify nodes the engine approved on its own
const notifiedComment = "notified"

// ProcessRequest is a decision on one process
type ProcessRequest struct {
	ProcessID int64           `json:"process_id"`
	Action    domainwf.Action `json:"action"`
	Comment   string          `json:"comment"`
	ActorID   string          `json:"actor_id"`
	// BackToNodeIndex is required iff Action is back
	BackToNodeIndex *int `json:"back_to_node_index,omitempty"`
}

// ReassignRequest hands the active process to another user
type ReassignRequest struct {
	ProcessID  int64  `json:"process_id"`
	AssigneeID string `json:"assignee_id"`
	ActorID    string `json:"actor_id"`
	Comment    string `json:"comment"`
}

// Process applies approve, reject or back to the active process of a
// pending instance. Every write is conditional on the state read at the
// start of the transaction, so the loser of a race gets ErrAlreadyProcessed.
//
// The returned process carries the recorded decision. After a back the
// stored row itself is pending again; the decision survives in the log.
func (e *Engine) Process(ctx context.Context, req ProcessRequest) (proc *entity.WorkflowProcess, err error) {
	ctx, span := e.startSpan(ctx, "workflow.Process",
		attribute.Int64("process.id", req.ProcessID),
		attribute.String("process.action", string(req.Action)))
	defer func() { endSpan(span, err) }()

	if !req.Action.IsDecision() {
		return nil, domainwf.Illegal("action %q is not a decision", req.Action)
	}
	if req.Action == domainwf.ActionBack && req.BackToNodeIndex == nil {
		return nil, domainwf.Illegal("back requires back_to_node_index")
	}
	if req.Action != domainwf.ActionBack && req.BackToNodeIndex != nil {
		return nil, domainwf.Illegal("back_to_node_index is only valid with back")
	}

	var batch eventBatch
	err = e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		p, inst, err := e.loadActive(ctx, req.ProcessID)
		if err != nil {
			return err
		}
		if e.enforceAssignee && req.ActorID != p.AssigneeID {
			return domainwf.Illegal("process %d is assigned to %q, not %q", p.ID, p.AssigneeID, req.ActorID)
		}

		trigger, _ := domainwf.TriggerFor(req.Action, inst.IsLastNode(p.NodeIndex))
		machine := domainwf.NewInstanceMachine(inst.Status)
		if err := machine.Fire(trigger); err != nil {
			return err
		}

		now := e.clock()
		if err := e.processes.Decide(ctx, p.ID, req.Action, req.ActorID, req.Comment, now); err != nil {
			return err
		}
		p.Action = req.Action
		p.ProcessorID = req.ActorID
		p.Comment = req.Comment
		p.ProcessedAt = &now
		p.UpdatedAt = now
		proc = p

		entry := &entity.ProcessLog{
			InstanceID:      inst.ID,
			ProcessID:       &p.ID,
			NodeIndex:       p.NodeIndex,
			Action:          entity.LogAction(req.Action),
			ActorID:         req.ActorID,
			Comment:         req.Comment,
			BackToNodeIndex: req.BackToNodeIndex,
			CreatedAt:       now,
		}
		if err := e.logs.Append(ctx, entry); err != nil {
			return err
		}

		batch.decided(inst, p)

		switch trigger {
		case domainwf.TriggerAdvance:
			return e.advance(ctx, inst, now, &batch)
		case domainwf.TriggerComplete, domainwf.TriggerReject:
			if err := e.instances.Finish(ctx, inst.ID, inst.CurrentNodeIndex, machine.Status(), now); err != nil {
				return err
			}
			t := event.TypeInstanceCompleted
			if machine.Status() == domainwf.StatusRejected {
				t = event.TypeInstanceRejected
			}
			inst.Status = machine.Status()
			batch.finished(t, inst, req.ActorID)
			return nil
		case domainwf.TriggerBack:
			return e.rewind(ctx, inst, *req.BackToNodeIndex, req.ActorID, now, &batch)
		default:
			return domainwf.Illegal("unsupported trigger %s", trigger)
		}
	})
	if err != nil {
		e.logger.Error("Failed to process workflow node",
			"process_id", req.ProcessID,
			"action", req.Action,
			"actor_id", req.ActorID,
			"error", err,
		)
		return nil, err
	}

	e.logger.Info("Workflow node processed",
		"process_id", proc.ID,
		"instance_id", proc.InstanceID,
		"node_index", proc.NodeIndex,
		"action", req.Action,
		"actor_id", req.ActorID,
	)
	e.publish(ctx, batch.events)
	return proc, nil
}

// loadActive reads a process and locks its instance, requiring the process
// to be the active pending node of a pending instance
func (e *Engine) loadActive(ctx context.Context, processID int64) (*entity.WorkflowProcess, *entity.WorkflowInstance, error) {
	p, err := e.processes.GetByID(ctx, processID)
	if err != nil {
		return nil, nil, err
	}
	if p == nil {
		return nil, nil, fmt.Errorf("%w: process %d", domainwf.ErrNotFound, processID)
	}

	inst, err := e.instances.GetForUpdate(ctx, p.InstanceID)
	if err != nil {
		return nil, nil, err
	}
	if inst == nil {
		return nil, nil, fmt.Errorf("%w: instance %d", domainwf.ErrNotFound, p.InstanceID)
	}

	if p.IsDecided() {
		return nil, nil, fmt.Errorf("%w: process %d is %s", domainwf.ErrAlreadyProcessed, p.ID, p.Action)
	}
	if !inst.IsPending() {
		return nil, nil, domainwf.Illegal("instance %d is %s", inst.ID, inst.Status)
	}
	if !p.IsActiveIn(inst) {
		return nil, nil, domainwf.Illegal("process %d is node %d, active node is %d",
			p.ID, p.NodeIndex, inst.CurrentNodeIndex)
	}
	return p, inst, nil
}

// advance moves the pointer to the next node
func (e *Engine) advance(ctx context.Context, inst *entity.WorkflowInstance, now time.Time, batch *eventBatch) error {
	from := inst.CurrentNodeIndex
	if err := e.instances.MovePointer(ctx, inst.ID, from, from+1, now); err != nil {
		return err
	}
	inst.CurrentNodeIndex = from + 1

	next, err := e.processes.GetByInstanceAndNode(ctx, inst.ID, inst.CurrentNodeIndex)
	if err != nil {
		return err
	}
	if next == nil {
		return fmt.Errorf("%w: instance %d has no process for node %d", domainwf.ErrNotFound, inst.ID, inst.CurrentNodeIndex)
	}
	return e.activate(ctx, inst, next, now, batch)
}

// activate makes p the working node of inst. A notify node is approved on
// the spot with no processor, and the instance moves past it or completes.
func (e *Engine) activate(ctx context.Context, inst *entity.WorkflowInstance, p *entity.WorkflowProcess, now time.Time, batch *eventBatch) error {
	batch.activated(inst, p)
	if !p.PassesAutomatically() {
		return nil
	}

	trigger, _ := domainwf.TriggerFor(domainwf.ActionApprove, inst.IsLastNode(p.NodeIndex))
	machine := domainwf.NewInstanceMachine(inst.Status)
	if err := machine.Fire(trigger); err != nil {
		return err
	}

	if err := e.processes.Decide(ctx, p.ID, domainwf.ActionApprove, "", notifiedComment, now); err != nil {
		return err
	}
	p.Action = domainwf.ActionApprove
	p.ProcessorID = ""
	p.Comment = notifiedComment
	p.ProcessedAt = &now
	p.UpdatedAt = now

	if err := e.logs.Append(ctx, &entity.ProcessLog{
		InstanceID: inst.ID,
		ProcessID:  &p.ID,
		NodeIndex:  p.NodeIndex,
		Action:     entity.LogApprove,
		Comment:    notifiedComment,
		CreatedAt:  now,
	}); err != nil {
		return err
	}
	batch.decided(inst, p)

	if trigger == domainwf.TriggerAdvance {
		return e.advance(ctx, inst, now, batch)
	}

	if err := e.instances.Finish(ctx, inst.ID, inst.CurrentNodeIndex, machine.Status(), now); err != nil {
		return err
	}
	inst.Status = machine.Status()
	inst.UpdatedAt = now
	inst.FinishedAt = &now
	batch.finished(event.TypeInstanceCompleted, inst, "")
	return nil
}

// rewind resets [backTo, current] to pending and points the instance at backTo
func (e *Engine) rewind(ctx context.Context, inst *entity.WorkflowInstance, backTo int, actorID string, now time.Time, batch *eventBatch) error {
	current := inst.CurrentNodeIndex
	if backTo < 0 || backTo >= current {
		return domainwf.Illegal("back_to_node_index %d must be in [0, %d)", backTo, current)
	}

	target, err := e.processes.GetByInstanceAndNode(ctx, inst.ID, backTo)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("%w: instance %d has no process for node %d", domainwf.ErrNotFound, inst.ID, backTo)
	}
	if !target.IsDecided() {
		return domainwf.Illegal("node %d was never decided", backTo)
	}
	if target.PassesAutomatically() {
		return domainwf.Illegal("node %d is a notify node", backTo)
	}

	if _, err := e.processes.ResetRange(ctx, inst.ID, backTo, current, now); err != nil {
		return err
	}
	if err := e.instances.MovePointer(ctx, inst.ID, current, backTo, now); err != nil {
		return err
	}

	back := backTo
	if err := e.logs.Append(ctx, &entity.ProcessLog{
		InstanceID:      inst.ID,
		NodeIndex:       current,
		Action:          entity.LogReset,
		ActorID:         actorID,
		Comment:         fmt.Sprintf("nodes %d..%d reset", backTo, current),
		BackToNodeIndex: &back,
		CreatedAt:       now,
	}); err != nil {
		return err
	}

	inst.CurrentNodeIndex = backTo
	target.Action = domainwf.ActionPending
	target.ProcessorID = ""
	target.Comment = ""
	target.ProcessedAt = nil

	batch.add(event.TypeInstanceRewound, inst.ID, map[string]interface{}{
		event.KeyActorID:      actorID,
		event.KeyBackTo:       backTo,
		event.KeyNodeIndex:    current,
		event.KeyBusinessType: inst.BusinessType,
		event.KeyBusinessID:   inst.BusinessID,
	})
	batch.activated(inst, target)
	return nil
}

// Reassign hands the active process of a pending instance to another user
func (e *Engine) Reassign(ctx context.Context, req ReassignRequest) (proc *entity.WorkflowProcess, err error) {
	ctx, span := e.startSpan(ctx, "workflow.Reassign", attribute.Int64("process.id", req.ProcessID))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(req.AssigneeID) == "" {
		return nil, fmt.Errorf("%w: assignee_id is required", domainwf.ErrInvalidArgument)
	}

	var batch eventBatch
	err = e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		p, inst, err := e.loadActive(ctx, req.ProcessID)
		if err != nil {
			return err
		}

		now := e.clock()
		if err := e.processes.Reassign(ctx, p.ID, req.AssigneeID, now); err != nil {
			return err
		}

		comment := req.Comment
		if comment == "" {
			comment = fmt.Sprintf("%s -> %s", p.AssigneeID, req.AssigneeID)
		}
		if err := e.logs.Append(ctx, &entity.ProcessLog{
			InstanceID: inst.ID,
			ProcessID:  &p.ID,
			NodeIndex:  p.NodeIndex,
			Action:     entity.LogReassign,
			ActorID:    req.ActorID,
			Comment:    comment,
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		previous := p.AssigneeID
		p.AssigneeID = req.AssigneeID
		p.UpdatedAt = now
		proc = p

		batch.add(event.TypeProcessReassigned, inst.ID, map[string]interface{}{
			event.KeyProcessID:  p.ID,
			event.KeyNodeIndex:  p.NodeIndex,
			event.KeyActorID:    req.ActorID,
			event.KeyAssigneeID: p.AssigneeID,
			"previous_assignee": previous,
		})
		batch.activated(inst, p)
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to reassign process", "process_id", req.ProcessID, "error", err)
		return nil, err
	}

	e.logger.Info("Process reassigned",
		"process_id", proc.ID,
		"assignee_id", proc.AssigneeID,
		"actor_id", req.ActorID,
	)
	e.publish(ctx, batch.events)
	return proc, nil
}
