// Package assignee turns template assignee rules into user ids.
package assignee

import (
	"context"
	"fmt"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
)

// Resolver resolves node assignees through the user directory
type Resolver struct {
	directory port.UserDirectory
}

// NewResolver creates a resolver over a user directory
func NewResolver(directory port.UserDirectory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve returns the user who works node for subject. Explicit overrides
// win over the node rule. A role resolves to its first member.
// Notify nodes may resolve to nobody since the engine passes them on its
// own; approval nodes may not.
func (r *Resolver) Resolve(ctx context.Context, node entity.NodeSpec, subject port.Subject, overrides map[int]string) (string, error) {
	if id, ok := overrides[node.Index]; ok && id != "" {
		return id, nil
	}

	id, err := r.fromRule(ctx, node.Assignee, subject)
	if err != nil {
		return "", err
	}

	if id == "" && node.Type == entity.NodeTypeApproval {
		return "", fmt.Errorf("%w: node %d (%s) rule %s", workflow.ErrAssigneeNotResolvable, node.Index, node.Name, node.Assignee)
	}
	return id, nil
}

// ResolveAll resolves every node of a template in order
func (r *Resolver) ResolveAll(ctx context.Context, nodes []entity.NodeSpec, subject port.Subject, overrides map[int]string) ([]string, error) {
	ids := make([]string, len(nodes))
	for i, node := range nodes {
		id, err := r.Resolve(ctx, node, subject, overrides)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (r *Resolver) fromRule(ctx context.Context, rule entity.AssigneeRule, subject port.Subject) (string, error) {
	switch rule.Kind {
	case entity.AssigneeFixed:
		return rule.UserID, nil
	case entity.AssigneeRole:
		users, err := r.directory.UsersInRole(ctx, rule.RoleCode)
		if err != nil {
			return "", fmt.Errorf("resolve role %s: %w", rule.RoleCode, err)
		}
		if len(users) == 0 {
			return "", nil
		}
		return users[0], nil
	case entity.AssigneeDynamic:
		id, err := r.directory.ResolveDynamic(ctx, rule.ResolverKey, subject)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", rule.ResolverKey, err)
		}
		return id, nil
	default:
		return "", fmt.Errorf("%w: unknown assignee kind %q", workflow.ErrInvalidTemplate, rule.Kind)
	}
}
