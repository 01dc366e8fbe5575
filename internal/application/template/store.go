// Package template stores workflow templates and picks the template a
// business entity should run.
package template

import (
	"context"
	"fmt"
	"strings"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Rule maps business entities to a template code. When is an expr boolean
// over business_type and discriminant; an empty When matches every entity
// of BusinessType.
type Rule struct {
	BusinessType string `mapstructure:"business_type" yaml:"business_type"`
	When         string `mapstructure:"when" yaml:"when"`
	TemplateCode string `mapstructure:"template_code" yaml:"template_code"`
}

// ruleEnv builds the environment rule conditions are evaluated against
func ruleEnv(businessType, discriminant string) map[string]interface{} {
	return map[string]interface{}{
		"business_type": businessType,
		"discriminant":  discriminant,
	}
}

type compiledRule struct {
	Rule
	program *vm.Program
}

// Store is the read side of templates plus definition import
type Store struct {
	repo   port.TemplateRepository
	tx     port.TransactionManager
	rules  []compiledRule
	logger Logger
}

// NewStore compiles the resolution rules and returns a store
func NewStore(repo port.TemplateRepository, tx port.TransactionManager, rules []Rule, logger Logger) (*Store, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if r.BusinessType == "" || r.TemplateCode == "" {
			return nil, fmt.Errorf("template rule %d: business_type and template_code are required", i)
		}
		cr := compiledRule{Rule: r}
		if strings.TrimSpace(r.When) != "" {
			program, err := expr.Compile(r.When, expr.Env(ruleEnv("", "")), expr.AsBool())
			if err != nil {
				return nil, fmt.Errorf("template rule %d (%s): %w", i, r.TemplateCode, err)
			}
			cr.program = program
		}
		compiled = append(compiled, cr)
	}

	return &Store{
		repo:   repo,
		tx:     tx,
		rules:  compiled,
		logger: logger,
	}, nil
}

// Get returns a template by ID
func (s *Store) Get(ctx context.Context, id int64) (*entity.WorkflowTemplate, error) {
	tpl, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, fmt.Errorf("%w: id %d", workflow.ErrTemplateNotFound, id)
	}
	return tpl, nil
}

// List returns stored templates, optionally only the active versions
func (s *Store) List(ctx context.Context, activeOnly bool) ([]*entity.WorkflowTemplate, error) {
	return s.repo.List(ctx, activeOnly)
}

// ResolveForBusiness picks the active template for a business entity.
// No matching rule, or rules naming different codes, is ErrTemplateNotResolvable.
func (s *Store) ResolveForBusiness(ctx context.Context, businessType, discriminant string) (int64, error) {
	env := ruleEnv(businessType, discriminant)

	var code string
	for _, r := range s.rules {
		if r.BusinessType != businessType {
			continue
		}
		if r.program != nil {
			out, err := expr.Run(r.program, env)
			if err != nil {
				return 0, fmt.Errorf("%w: rule %s: %v", workflow.ErrTemplateNotResolvable, r.TemplateCode, err)
			}
			if matched, _ := out.(bool); !matched {
				continue
			}
		}
		if code != "" && code != r.TemplateCode {
			return 0, fmt.Errorf("%w: %s/%q matches both %s and %s",
				workflow.ErrTemplateNotResolvable, businessType, discriminant, code, r.TemplateCode)
		}
		code = r.TemplateCode
	}

	if code == "" {
		return 0, fmt.Errorf("%w: no rule for %s/%q", workflow.ErrTemplateNotResolvable, businessType, discriminant)
	}

	tpl, err := s.repo.GetActiveByCode(ctx, code)
	if err != nil {
		return 0, err
	}
	if tpl == nil {
		return 0, fmt.Errorf("%w: no active version of %s", workflow.ErrTemplateNotFound, code)
	}
	return tpl.ID, nil
}

// ImportOutcome says what Import did with one definition
type ImportOutcome string

const (
	ImportCreated   ImportOutcome = "created"
	ImportVersioned ImportOutcome = "versioned"
	ImportUnchanged ImportOutcome = "unchanged"
)

// ImportResult reports the stored template for one imported definition
type ImportResult struct {
	Code     string        `json:"code"`
	ID       int64         `json:"id"`
	Version  int           `json:"version"`
	Outcome  ImportOutcome `json:"outcome"`
	Checksum string        `json:"checksum"`
}

// Import stores definitions. A changed definition becomes a new active
// version and retires the previous one; stored rows are never edited.
func (s *Store) Import(ctx context.Context, defs []*entity.WorkflowTemplate) ([]ImportResult, error) {
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if seen[def.Code] {
			return nil, fmt.Errorf("%w: template %s defined twice", workflow.ErrInvalidTemplate, def.Code)
		}
		seen[def.Code] = true
		if def.Checksum == "" {
			sum, err := Checksum(def)
			if err != nil {
				return nil, err
			}
			def.Checksum = sum
		}
	}

	results := make([]ImportResult, 0, len(defs))
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		for _, def := range defs {
			res, err := s.importOne(ctx, def)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Template import failed", "error", err)
		return nil, err
	}

	for _, r := range results {
		s.logger.Info("Template imported",
			"code", r.Code,
			"version", r.Version,
			"outcome", r.Outcome,
		)
	}
	return results, nil
}

func (s *Store) importOne(ctx context.Context, def *entity.WorkflowTemplate) (ImportResult, error) {
	latest, err := s.repo.GetLatestByCode(ctx, def.Code)
	if err != nil {
		return ImportResult{}, err
	}

	if latest != nil && latest.Active && latest.Checksum == def.Checksum {
		return ImportResult{
			Code:     latest.Code,
			ID:       latest.ID,
			Version:  latest.Version,
			Outcome:  ImportUnchanged,
			Checksum: latest.Checksum,
		}, nil
	}

	outcome := ImportCreated
	tpl := *def
	tpl.ID = 0
	tpl.Active = true
	tpl.Version = 1
	if latest != nil {
		outcome = ImportVersioned
		tpl.Version = latest.Version + 1
		if err := s.repo.DeactivateCode(ctx, def.Code); err != nil {
			return ImportResult{}, err
		}
	}

	if err := s.repo.Create(ctx, &tpl); err != nil {
		return ImportResult{}, err
	}

	return ImportResult{
		Code:     tpl.Code,
		ID:       tpl.ID,
		Version:  tpl.Version,
		Outcome:  outcome,
		Checksum: tpl.Checksum,
	}, nil
}
