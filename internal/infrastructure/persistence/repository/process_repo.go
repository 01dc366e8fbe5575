package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/persistence/sqlstore"
)

const processColumns = `p.id, p.instance_id, p.node_index, p.node_name, p.node_type, p.assignee_id,
	p.processor_id, p.action, p.comment, p.processed_at, p.created_at, p.updated_at`

// ProcessRepository implements port.ProcessRepository
type ProcessRepository struct {
	store  *sqlstore.Store
	logger *zap.Logger
}

// NewProcessRepository creates a new process repository
func NewProcessRepository(store *sqlstore.Store, logger *zap.Logger) port.ProcessRepository {
	return &ProcessRepository{
		store:  store,
		logger: logger,
	}
}

// CreateBatch inserts the process rows of a new instance in node order
func (r *ProcessRepository) CreateBatch(ctx context.Context, processes []*entity.WorkflowProcess) error {
	query := r.store.Rebind(`
		INSERT INTO workflow_processes (
			instance_id, node_index, node_name, node_type, assignee_id,
			processor_id, action, comment, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, '', ?, '', ?, ?)
		RETURNING id
	`)

	exec := r.store.Executor(ctx)
	ts := now()
	for _, p := range processes {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = ts
		}
		p.UpdatedAt = p.CreatedAt
		if p.Action == "" {
			p.Action = workflow.ActionPending
		}

		err := exec.QueryRowContext(ctx, query,
			p.InstanceID,
			p.NodeIndex,
			p.NodeName,
			string(p.NodeType),
			p.AssigneeID,
			string(p.Action),
			p.CreatedAt,
			p.UpdatedAt,
		).Scan(&p.ID)
		if err != nil {
			return storageError(r.logger, "create process", err,
				zap.Int64("instance_id", p.InstanceID),
				zap.Int("node_index", p.NodeIndex))
		}
	}
	return nil
}

// GetByID retrieves a process by ID
func (r *ProcessRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowProcess, error) {
	query := r.store.Rebind(`SELECT ` + processColumns + ` FROM workflow_processes p WHERE p.id = ?`)
	return r.getOne(ctx, "get process", query, id)
}

// GetByInstanceAndNode retrieves the process of one node
func (r *ProcessRepository) GetByInstanceAndNode(ctx context.Context, instanceID int64, nodeIndex int) (*entity.WorkflowProcess, error) {
	query := r.store.Rebind(`
		SELECT ` + processColumns + `
		FROM workflow_processes p
		WHERE p.instance_id = ? AND p.node_index = ?
	`)
	return r.getOne(ctx, "get process by node", query, instanceID, nodeIndex)
}

// ListByInstance returns all processes of an instance ordered by node index
func (r *ProcessRepository) ListByInstance(ctx context.Context, instanceID int64) ([]*entity.WorkflowProcess, error) {
	query := r.store.Rebind(`
		SELECT ` + processColumns + `
		FROM workflow_processes p
		WHERE p.instance_id = ?
		ORDER BY p.node_index ASC
	`)
	return r.list(ctx, "list processes", query, instanceID)
}

// Decide records a decision on a pending process
func (r *ProcessRepository) Decide(ctx context.Context, id int64, action workflow.Action, processorID, comment string, at time.Time) error {
	query := r.store.Rebind(`
		UPDATE workflow_processes
		SET action = ?, processor_id = ?, comment = ?, processed_at = ?, updated_at = ?
		WHERE id = ? AND action = ?
	`)

	result, err := r.store.Executor(ctx).ExecContext(ctx, query,
		string(action), processorID, comment, at, at, id, string(workflow.ActionPending))
	if err != nil {
		return storageError(r.logger, "decide process", err, zap.Int64("id", id))
	}
	return r.affected(result, "decide process", id)
}

// ResetRange returns processes with node_index in [from, to] to pending, keeping assignees
func (r *ProcessRepository) ResetRange(ctx context.Context, instanceID int64, from, to int, at time.Time) (int64, error) {
	query := r.store.Rebind(`
		UPDATE workflow_processes
		SET action = ?, processor_id = '', comment = '', processed_at = NULL, updated_at = ?
		WHERE instance_id = ? AND node_index >= ? AND node_index <= ?
	`)

	result, err := r.store.Executor(ctx).ExecContext(ctx, query,
		string(workflow.ActionPending), at, instanceID, from, to)
	if err != nil {
		return 0, storageError(r.logger, "reset processes", err, zap.Int64("instance_id", instanceID))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, storageError(r.logger, "reset processes", err, zap.Int64("instance_id", instanceID))
	}
	return n, nil
}

// Reassign changes the assignee of a pending process
func (r *ProcessRepository) Reassign(ctx context.Context, id int64, assigneeID string, at time.Time) error {
	query := r.store.Rebind(`
		UPDATE workflow_processes
		SET assignee_id = ?, updated_at = ?
		WHERE id = ? AND action = ?
	`)

	result, err := r.store.Executor(ctx).ExecContext(ctx, query,
		assigneeID, at, id, string(workflow.ActionPending))
	if err != nil {
		return storageError(r.logger, "reassign process", err, zap.Int64("id", id))
	}
	return r.affected(result, "reassign process", id)
}

// ListActiveForAssignee returns the assignee's workable processes, oldest first
func (r *ProcessRepository) ListActiveForAssignee(ctx context.Context, assigneeID string) ([]*entity.WorkflowProcess, error) {
	query := r.store.Rebind(`
		SELECT ` + processColumns + `
		FROM workflow_processes p
		JOIN workflow_instances i ON i.id = p.instance_id
		WHERE p.assignee_id = ?
			AND p.action = ?
			AND i.status = ?
			AND p.node_index = i.current_node_index
		ORDER BY p.created_at ASC, p.id ASC
	`)
	return r.list(ctx, "list pending tasks", query,
		assigneeID, string(workflow.ActionPending), string(workflow.StatusPending))
}

// ListStalled returns workable processes untouched since before, longest waiting first.
// A node is waiting from the later of its own update and the instance's last move.
func (r *ProcessRepository) ListStalled(ctx context.Context, before time.Time, limit int) ([]*entity.WorkflowProcess, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.store.Rebind(`
		SELECT ` + processColumns + `
		FROM workflow_processes p
		JOIN workflow_instances i ON i.id = p.instance_id
		WHERE p.action = ?
			AND i.status = ?
			AND p.node_index = i.current_node_index
			AND p.updated_at < ?
			AND i.updated_at < ?
		ORDER BY p.updated_at ASC, p.id ASC
		LIMIT ?
	`)
	return r.list(ctx, "list stalled processes", query,
		string(workflow.ActionPending), string(workflow.StatusPending), before.UTC(), before.UTC(), limit)
}

func (r *ProcessRepository) affected(result sql.Result, op string, id int64) error {
	err := requireAffected(result)
	if err != nil && !errors.Is(err, workflow.ErrAlreadyProcessed) {
		return storageError(r.logger, op, err, zap.Int64("id", id))
	}
	return err
}

func (r *ProcessRepository) getOne(ctx context.Context, op, query string, args ...interface{}) (*entity.WorkflowProcess, error) {
	p, err := scanProcess(r.store.Executor(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(r.logger, op, err)
	}
	return p, nil
}

func (r *ProcessRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]*entity.WorkflowProcess, error) {
	rows, err := r.store.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError(r.logger, op, err)
	}
	defer rows.Close()

	processes := make([]*entity.WorkflowProcess, 0)
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, storageError(r.logger, op, err)
		}
		processes = append(processes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(r.logger, op, err)
	}
	return processes, nil
}

func scanProcess(row rowScanner) (*entity.WorkflowProcess, error) {
	var p entity.WorkflowProcess
	var nodeType, action string
	var processedAt sql.NullTime

	if err := row.Scan(
		&p.ID,
		&p.InstanceID,
		&p.NodeIndex,
		&p.NodeName,
		&nodeType,
		&p.AssigneeID,
		&p.ProcessorID,
		&action,
		&p.Comment,
		&processedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.NodeType = entity.NodeType(nodeType)
	p.Action = workflow.Action(action)
	p.ProcessedAt = timePtr(processedAt)
	return &p, nil
}
