package port

import (
	"context"
	"time"

	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
)

// Lookups return (nil, nil) when the row does not exist.

// TemplateRepository defines persistence operations for WorkflowTemplate
type TemplateRepository interface {
	Create(ctx context.Context, tpl *entity.WorkflowTemplate) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowTemplate, error)
	GetActiveByCode(ctx context.Context, code string) (*entity.WorkflowTemplate, error)
	GetLatestByCode(ctx context.Context, code string) (*entity.WorkflowTemplate, error)
	DeactivateCode(ctx context.Context, code string) error
	List(ctx context.Context, activeOnly bool) ([]*entity.WorkflowTemplate, error)
}

// InstanceRepository defines persistence operations for WorkflowInstance.
// Conditional updates fail with workflow.ErrAlreadyProcessed when their guard no longer holds.
type InstanceRepository interface {
	// Create fails with workflow.ErrDuplicateActiveInstance when the business
	// entity already has a pending instance
	Create(ctx context.Context, inst *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error)
	// GetForUpdate reads the row under a row lock where the dialect supports one
	GetForUpdate(ctx context.Context, id int64) (*entity.WorkflowInstance, error)
	GetPendingByBusiness(ctx context.Context, businessType string, businessID int64) (*entity.WorkflowInstance, error)
	GetLatestByBusiness(ctx context.Context, businessType string, businessID int64) (*entity.WorkflowInstance, error)
	ListLatestByBusiness(ctx context.Context, businessType string, businessIDs []int64) (map[int64]*entity.WorkflowInstance, error)
	MovePointer(ctx context.Context, id int64, from, to int, at time.Time) error
	Finish(ctx context.Context, id int64, from int, status workflow.Status, at time.Time) error
}

// ProcessRepository defines persistence operations for WorkflowProcess
type ProcessRepository interface {
	CreateBatch(ctx context.Context, processes []*entity.WorkflowProcess) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowProcess, error)
	GetByInstanceAndNode(ctx context.Context, instanceID int64, nodeIndex int) (*entity.WorkflowProcess, error)
	ListByInstance(ctx context.Context, instanceID int64) ([]*entity.WorkflowProcess, error)
	// Decide records a decision on a pending process
	Decide(ctx context.Context, id int64, action workflow.Action, processorID, comment string, at time.Time) error
	// ResetRange returns processes with node_index in [from, to] to pending
	ResetRange(ctx context.Context, instanceID int64, from, to int, at time.Time) (int64, error)
	// Reassign changes the assignee of a pending process
	Reassign(ctx context.Context, id int64, assigneeID string, at time.Time) error
	// ListActiveForAssignee returns the active pending processes of pending instances
	ListActiveForAssignee(ctx context.Context, assigneeID string) ([]*entity.WorkflowProcess, error)
	// ListStalled returns active processes that have waited since before the cutoff
	ListStalled(ctx context.Context, before time.Time, limit int) ([]*entity.WorkflowProcess, error)
}

// ProcessLogRepository defines the append-only decision trail
type ProcessLogRepository interface {
	Append(ctx context.Context, log *entity.ProcessLog) error
	ListByInstance(ctx context.Context, instanceID int64) ([]*entity.ProcessLog, error)
}

// TransactionManager manages database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
