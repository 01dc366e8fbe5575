package repository

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/persistence/sqlstore"
)

// ProcessLogRepository implements port.ProcessLogRepository
type ProcessLogRepository struct {
	store  *sqlstore.Store
	logger *zap.Logger
}

// NewProcessLogRepository creates a new process log repository
func NewProcessLogRepository(store *sqlstore.Store, logger *zap.Logger) port.ProcessLogRepository {
	return &ProcessLogRepository{
		store:  store,
		logger: logger,
	}
}

// Append writes one log entry
func (r *ProcessLogRepository) Append(ctx context.Context, log *entity.ProcessLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = now()
	}

	query := r.store.Rebind(`
		INSERT INTO workflow_process_logs (
			instance_id, process_id, node_index, action, actor_id, comment, back_to_node_index, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := r.store.Executor(ctx).QueryRowContext(ctx, query,
		log.InstanceID,
		nullInt64(log.ProcessID),
		log.NodeIndex,
		string(log.Action),
		log.ActorID,
		log.Comment,
		nullInt(log.BackToNodeIndex),
		log.CreatedAt,
	).Scan(&log.ID)
	if err != nil {
		return storageError(r.logger, "append process log", err,
			zap.Int64("instance_id", log.InstanceID),
			zap.String("action", string(log.Action)))
	}
	return nil
}

// ListByInstance returns the log of an instance in insertion order
func (r *ProcessLogRepository) ListByInstance(ctx context.Context, instanceID int64) ([]*entity.ProcessLog, error) {
	query := r.store.Rebind(`
		SELECT id, instance_id, process_id, node_index, action, actor_id, comment, back_to_node_index, created_at
		FROM workflow_process_logs
		WHERE instance_id = ?
		ORDER BY id ASC
	`)

	rows, err := r.store.Executor(ctx).QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, storageError(r.logger, "list process logs", err)
	}
	defer rows.Close()

	logs := make([]*entity.ProcessLog, 0)
	for rows.Next() {
		var l entity.ProcessLog
		var action string
		var processID, backTo sql.NullInt64

		if err := rows.Scan(
			&l.ID,
			&l.InstanceID,
			&processID,
			&l.NodeIndex,
			&action,
			&l.ActorID,
			&l.Comment,
			&backTo,
			&l.CreatedAt,
		); err != nil {
			return nil, storageError(r.logger, "scan process log", err)
		}

		l.Action = entity.LogAction(action)
		if processID.Valid {
			id := processID.Int64
			l.ProcessID = &id
		}
		if backTo.Valid {
			idx := int(backTo.Int64)
			l.BackToNodeIndex = &idx
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(r.logger, "list process logs", err)
	}
	return logs, nil
}
