package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/persistence/sqlstore"
)

const templateColumns = `id, code, name, business_type, category, version, is_active, nodes, checksum, created_at`

// TemplateRepository implements port.TemplateRepository
type TemplateRepository struct {
	store  *sqlstore.Store
	logger *zap.Logger
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(store *sqlstore.Store, logger *zap.Logger) port.TemplateRepository {
	return &TemplateRepository{
		store:  store,
		logger: logger,
	}
}

// Create inserts a template version. Nodes are stored as a JSON array.
func (r *TemplateRepository) Create(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	nodes, err := json.Marshal(tpl.Nodes)
	if err != nil {
		return fmt.Errorf("failed to encode template nodes: %w", err)
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now()
	}

	query := r.store.Rebind(`
		INSERT INTO workflow_templates (
			code, name, business_type, category, version, is_active, nodes, checksum, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err = r.store.Executor(ctx).QueryRowContext(ctx, query,
		tpl.Code,
		tpl.Name,
		tpl.BusinessType,
		tpl.Category,
		tpl.Version,
		tpl.Active,
		string(nodes),
		tpl.Checksum,
		tpl.CreatedAt,
	).Scan(&tpl.ID)
	if err != nil {
		return storageError(r.logger, "create template", err, zap.String("code", tpl.Code))
	}
	return nil
}

// GetByID retrieves a template by ID
func (r *TemplateRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowTemplate, error) {
	query := r.store.Rebind(`SELECT ` + templateColumns + ` FROM workflow_templates WHERE id = ?`)
	return r.getOne(ctx, "get template", query, id)
}

// GetActiveByCode retrieves the newest active version of a template code
func (r *TemplateRepository) GetActiveByCode(ctx context.Context, code string) (*entity.WorkflowTemplate, error) {
	query := r.store.Rebind(`
		SELECT ` + templateColumns + `
		FROM workflow_templates
		WHERE code = ? AND is_active = ?
		ORDER BY version DESC
		LIMIT 1
	`)
	return r.getOne(ctx, "get active template", query, code, true)
}

// GetLatestByCode retrieves the highest version of a template code, active or not
func (r *TemplateRepository) GetLatestByCode(ctx context.Context, code string) (*entity.WorkflowTemplate, error) {
	query := r.store.Rebind(`
		SELECT ` + templateColumns + `
		FROM workflow_templates
		WHERE code = ?
		ORDER BY version DESC
		LIMIT 1
	`)
	return r.getOne(ctx, "get latest template", query, code)
}

// DeactivateCode marks every version of a code inactive
func (r *TemplateRepository) DeactivateCode(ctx context.Context, code string) error {
	query := r.store.Rebind(`UPDATE workflow_templates SET is_active = ? WHERE code = ? AND is_active = ?`)
	if _, err := r.store.Executor(ctx).ExecContext(ctx, query, false, code, true); err != nil {
		return storageError(r.logger, "deactivate template", err, zap.String("code", code))
	}
	return nil
}

// List returns templates ordered by code and version
func (r *TemplateRepository) List(ctx context.Context, activeOnly bool) ([]*entity.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM workflow_templates`
	var args []interface{}
	if activeOnly {
		query += ` WHERE is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY code, version`

	rows, err := r.store.Executor(ctx).QueryContext(ctx, r.store.Rebind(query), args...)
	if err != nil {
		return nil, storageError(r.logger, "list templates", err)
	}
	defer rows.Close()

	var templates []*entity.WorkflowTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, storageError(r.logger, "scan template", err)
		}
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(r.logger, "list templates", err)
	}
	return templates, nil
}

func (r *TemplateRepository) getOne(ctx context.Context, op, query string, args ...interface{}) (*entity.WorkflowTemplate, error) {
	tpl, err := scanTemplate(r.store.Executor(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(r.logger, op, err)
	}
	return tpl, nil
}

func scanTemplate(row rowScanner) (*entity.WorkflowTemplate, error) {
	var tpl entity.WorkflowTemplate
	var nodes string

	if err := row.Scan(
		&tpl.ID,
		&tpl.Code,
		&tpl.Name,
		&tpl.BusinessType,
		&tpl.Category,
		&tpl.Version,
		&tpl.Active,
		&nodes,
		&tpl.Checksum,
		&tpl.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(nodes), &tpl.Nodes); err != nil {
		return nil, fmt.Errorf("failed to decode nodes of template %d: %w", tpl.ID, err)
	}
	return &tpl, nil
}
