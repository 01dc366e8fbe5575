package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/persistence/sqlstore"
	"github.com/happy-code-egg/ruidao-sub002/pkg/database"
)

const instanceColumns = `id, business_type, business_id, business_title, template_id, status,
	current_node_index, node_count, creator_id, created_at, updated_at, finished_at`

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	store  *sqlstore.Store
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(store *sqlstore.Store, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		store:  store,
		logger: logger,
	}
}

// Create inserts a pending instance
func (r *InstanceRepository) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	ts := now()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = ts
	}
	inst.UpdatedAt = inst.CreatedAt

	query := r.store.Rebind(`
		INSERT INTO workflow_instances (
			business_type, business_id, business_title, template_id, status,
			current_node_index, node_count, creator_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := r.store.Executor(ctx).QueryRowContext(ctx, query,
		inst.BusinessType,
		inst.BusinessID,
		inst.BusinessTitle,
		inst.TemplateID,
		string(inst.Status),
		inst.CurrentNodeIndex,
		inst.NodeCount,
		inst.CreatorID,
		inst.CreatedAt,
		inst.UpdatedAt,
	).Scan(&inst.ID)
	if database.IsUniqueViolation(err) {
		return workflow.ErrDuplicateActiveInstance
	}
	if err != nil {
		return storageError(r.logger, "create instance", err,
			zap.String("business_type", inst.BusinessType),
			zap.Int64("business_id", inst.BusinessID))
	}
	return nil
}

// GetByID retrieves an instance by ID
func (r *InstanceRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	query := r.store.Rebind(`SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = ?`)
	return r.getOne(ctx, "get instance", query, id)
}

// GetForUpdate retrieves an instance and locks its row until the transaction ends
func (r *InstanceRepository) GetForUpdate(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	query := r.store.Rebind(`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = ?`) +
		r.store.Dialect().ForUpdate()
	return r.getOne(ctx, "lock instance", query, id)
}

// GetPendingByBusiness retrieves the pending instance of a business entity
func (r *InstanceRepository) GetPendingByBusiness(ctx context.Context, businessType string, businessID int64) (*entity.WorkflowInstance, error) {
	query := r.store.Rebind(`
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE business_type = ? AND business_id = ? AND status = ?
	`)
	return r.getOne(ctx, "get pending instance", query, businessType, businessID, string(workflow.StatusPending))
}

// GetLatestByBusiness retrieves the most recently created instance of a business entity
func (r *InstanceRepository) GetLatestByBusiness(ctx context.Context, businessType string, businessID int64) (*entity.WorkflowInstance, error) {
	query := r.store.Rebind(`
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE business_type = ? AND business_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`)
	return r.getOne(ctx, "get latest instance", query, businessType, businessID)
}

// ListLatestByBusiness returns the latest instance per business ID; IDs without one are absent
func (r *InstanceRepository) ListLatestByBusiness(ctx context.Context, businessType string, businessIDs []int64) (map[int64]*entity.WorkflowInstance, error) {
	result := make(map[int64]*entity.WorkflowInstance, len(businessIDs))
	if len(businessIDs) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(businessIDs)), ",")
	args := make([]interface{}, 0, len(businessIDs)+1)
	args = append(args, businessType)
	for _, id := range businessIDs {
		args = append(args, id)
	}

	query := r.store.Rebind(`
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE business_type = ? AND business_id IN (` + placeholders + `)
		ORDER BY created_at ASC, id ASC
	`)

	rows, err := r.store.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError(r.logger, "list latest instances", err)
	}
	defer rows.Close()

	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, storageError(r.logger, "scan instance", err)
		}
		// ascending order, so the last write per business ID wins
		result[inst.BusinessID] = inst
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(r.logger, "list latest instances", err)
	}
	return result, nil
}

// MovePointer moves the active node of a pending instance from one index to another
func (r *InstanceRepository) MovePointer(ctx context.Context, id int64, from, to int, at time.Time) error {
	query := r.store.Rebind(`
		UPDATE workflow_instances
		SET current_node_index = ?, updated_at = ?
		WHERE id = ? AND status = ? AND current_node_index = ?
	`)

	result, err := r.store.Executor(ctx).ExecContext(ctx, query,
		to, at, id, string(workflow.StatusPending), from)
	if err != nil {
		return storageError(r.logger, "move instance pointer", err, zap.Int64("id", id))
	}
	return r.affected(result, "move instance pointer", id)
}

// Finish moves a pending instance whose pointer is at from into a terminal status
func (r *InstanceRepository) Finish(ctx context.Context, id int64, from int, status workflow.Status, at time.Time) error {
	query := r.store.Rebind(`
		UPDATE workflow_instances
		SET status = ?, updated_at = ?, finished_at = ?
		WHERE id = ? AND status = ? AND current_node_index = ?
	`)

	result, err := r.store.Executor(ctx).ExecContext(ctx, query,
		string(status), at, at, id, string(workflow.StatusPending), from)
	if err != nil {
		return storageError(r.logger, "finish instance", err, zap.Int64("id", id))
	}
	return r.affected(result, "finish instance", id)
}

func (r *InstanceRepository) affected(result sql.Result, op string, id int64) error {
	err := requireAffected(result)
	if err != nil && !errors.Is(err, workflow.ErrAlreadyProcessed) {
		return storageError(r.logger, op, err, zap.Int64("id", id))
	}
	return err
}

func (r *InstanceRepository) getOne(ctx context.Context, op, query string, args ...interface{}) (*entity.WorkflowInstance, error) {
	inst, err := scanInstance(r.store.Executor(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(r.logger, op, err)
	}
	return inst, nil
}

func scanInstance(row rowScanner) (*entity.WorkflowInstance, error) {
	var inst entity.WorkflowInstance
	var status string
	var finishedAt sql.NullTime

	if err := row.Scan(
		&inst.ID,
		&inst.BusinessType,
		&inst.BusinessID,
		&inst.BusinessTitle,
		&inst.TemplateID,
		&status,
		&inst.CurrentNodeIndex,
		&inst.NodeCount,
		&inst.CreatorID,
		&inst.CreatedAt,
		&inst.UpdatedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}

	inst.Status = workflow.Status(status)
	inst.FinishedAt = timePtr(finishedAt)
	return &inst, nil
}
