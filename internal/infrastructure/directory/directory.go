// Package directory is a configuration-backed user directory.
package directory

import (
	"context"
	"fmt"
	"sort"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
)

// Dynamic sources
const (
	SourceCreator = "creator"
	SourceRole    = "role"
	SourceUser    = "user"
)

// DynamicRule resolves one dynamic assignee key. ByBusinessType wins over
// Source when it names the subject's business type.
type DynamicRule struct {
	Source         string            `mapstructure:"source" yaml:"source"`
	Value          string            `mapstructure:"value" yaml:"value"`
	ByBusinessType map[string]string `mapstructure:"by_business_type" yaml:"by_business_type"`
}

// Config holds role membership and dynamic resolver rules
type Config struct {
	Roles   map[string][]string    `mapstructure:"roles" yaml:"roles"`
	Dynamic map[string]DynamicRule `mapstructure:"dynamic" yaml:"dynamic"`
}

// Directory implements port.UserDirectory from Config
type Directory struct {
	roles   map[string][]string
	dynamic map[string]DynamicRule
}

var _ port.UserDirectory = (*Directory)(nil)

// New validates cfg and builds a Directory. The creator key is always
// available and resolves to whoever started the workflow.
func New(cfg Config) (*Directory, error) {
	d := &Directory{
		roles:   make(map[string][]string, len(cfg.Roles)),
		dynamic: map[string]DynamicRule{SourceCreator: {Source: SourceCreator}},
	}
	for role, users := range cfg.Roles {
		d.roles[role] = append([]string(nil), users...)
	}

	keys := make([]string, 0, len(cfg.Dynamic))
	for key := range cfg.Dynamic {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		rule := cfg.Dynamic[key]
		switch rule.Source {
		case SourceCreator:
		case SourceRole:
			if _, ok := d.roles[rule.Value]; !ok {
				return nil, fmt.Errorf("dynamic resolver %s: unknown role %q", key, rule.Value)
			}
		case SourceUser:
			if rule.Value == "" {
				return nil, fmt.Errorf("dynamic resolver %s: user source needs a value", key)
			}
		case "":
			if len(rule.ByBusinessType) == 0 {
				return nil, fmt.Errorf("dynamic resolver %s: needs a source or by_business_type", key)
			}
		default:
			return nil, fmt.Errorf("dynamic resolver %s: unknown source %q", key, rule.Source)
		}
		d.dynamic[key] = rule
	}
	return d, nil
}

// UsersInRole returns the configured members of a role in configured order
func (d *Directory) UsersInRole(ctx context.Context, roleCode string) ([]string, error) {
	return append([]string(nil), d.roles[roleCode]...), nil
}

// ResolveDynamic resolves key for subject. Unknown keys are
// ErrAssigneeNotResolvable; a rule that yields nobody returns "".
func (d *Directory) ResolveDynamic(ctx context.Context, key string, subject port.Subject) (string, error) {
	rule, ok := d.dynamic[key]
	if !ok {
		return "", fmt.Errorf("%w: unknown dynamic resolver %q", workflow.ErrAssigneeNotResolvable, key)
	}

	if user, ok := rule.ByBusinessType[subject.BusinessType]; ok {
		return user, nil
	}

	switch rule.Source {
	case SourceCreator:
		return subject.CreatorID, nil
	case SourceRole:
		if users := d.roles[rule.Value]; len(users) > 0 {
			return users[0], nil
		}
	case SourceUser:
		return rule.Value, nil
	}
	return "", nil
}
