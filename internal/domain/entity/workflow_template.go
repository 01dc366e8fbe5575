package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
)

// NodeType classifies a template node
type NodeType string

const (
	NodeTypeApproval NodeType = "approval"
	NodeTypeNotify   NodeType = "notify"
)

// AssigneeKind tags the variant held by an AssigneeRule
type AssigneeKind string

const (
	AssigneeFixed   AssigneeKind = "fixed"
	AssigneeRole    AssigneeKind = "role"
	AssigneeDynamic AssigneeKind = "dynamic"
)

// AssigneeRule says who works a node. Exactly one of the variants is set,
// selected by Kind: Fixed(UserID), RoleBased(RoleCode) or Dynamic(ResolverKey).
type AssigneeRule struct {
	Kind        AssigneeKind `json:"kind" yaml:"kind"`
	UserID      string       `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	RoleCode    string       `json:"role_code,omitempty" yaml:"role_code,omitempty"`
	ResolverKey string       `json:"resolver_key,omitempty" yaml:"resolver_key,omitempty"`
}

// Fixed assigns a node to one user
func Fixed(userID string) AssigneeRule {
	return AssigneeRule{Kind: AssigneeFixed, UserID: userID}
}

// RoleBased assigns a node to a member of a role
func RoleBased(roleCode string) AssigneeRule {
	return AssigneeRule{Kind: AssigneeRole, RoleCode: roleCode}
}

// Dynamic assigns a node through a named resolver of the user directory
func Dynamic(resolverKey string) AssigneeRule {
	return AssigneeRule{Kind: AssigneeDynamic, ResolverKey: resolverKey}
}

// Validate checks that the rule carries the field its kind requires
func (r AssigneeRule) Validate() error {
	switch r.Kind {
	case AssigneeFixed:
		if r.UserID == "" {
			return fmt.Errorf("fixed assignee requires user_id")
		}
	case AssigneeRole:
		if r.RoleCode == "" {
			return fmt.Errorf("role assignee requires role_code")
		}
	case AssigneeDynamic:
		if r.ResolverKey == "" {
			return fmt.Errorf("dynamic assignee requires resolver_key")
		}
	default:
		return fmt.Errorf("unknown assignee kind %q", r.Kind)
	}
	return nil
}

// String renders the rule as kind(value)
func (r AssigneeRule) String() string {
	switch r.Kind {
	case AssigneeFixed:
		return "fixed(" + r.UserID + ")"
	case AssigneeRole:
		return "role(" + r.RoleCode + ")"
	case AssigneeDynamic:
		return "dynamic(" + r.ResolverKey + ")"
	}
	return string(r.Kind)
}

// NodeSpec is one ordered step of a template
type NodeSpec struct {
	Index    int          `json:"index" yaml:"index"`
	Name     string       `json:"name" yaml:"name"`
	Type     NodeType     `json:"type" yaml:"type"`
	Assignee AssigneeRule `json:"assignee" yaml:"assignee"`
}

// WorkflowTemplate is a named, versioned definition of approval nodes.
// Rows are never edited once stored; a changed definition becomes a new version.
type WorkflowTemplate struct {
	ID           int64      `json:"id"`
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	BusinessType string     `json:"business_type"`
	Category     string     `json:"category,omitempty"`
	Version      int        `json:"version"`
	Active       bool       `json:"active"`
	Nodes        []NodeSpec `json:"nodes"`
	Checksum     string     `json:"checksum,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// MinTemplateNodes is the smallest node count with approval semantics
const MinTemplateNodes = 2

// Validate checks the template can drive an instance. Errors match workflow.ErrInvalidTemplate.
func (t *WorkflowTemplate) Validate() error {
	if strings.TrimSpace(t.Code) == "" {
		return fmt.Errorf("%w: code is required", workflow.ErrInvalidTemplate)
	}
	if strings.TrimSpace(t.BusinessType) == "" {
		return fmt.Errorf("%w: template %s: business_type is required", workflow.ErrInvalidTemplate, t.Code)
	}
	if len(t.Nodes) < MinTemplateNodes {
		return fmt.Errorf("%w: template %s has %d nodes, need at least %d",
			workflow.ErrInvalidTemplate, t.Code, len(t.Nodes), MinTemplateNodes)
	}

	for i, node := range t.Nodes {
		if node.Index != i {
			return fmt.Errorf("%w: template %s: node %q has index %d at position %d",
				workflow.ErrInvalidTemplate, t.Code, node.Name, node.Index, i)
		}
		if strings.TrimSpace(node.Name) == "" {
			return fmt.Errorf("%w: template %s: node %d has no name", workflow.ErrInvalidTemplate, t.Code, i)
		}
		if node.Type != NodeTypeApproval && node.Type != NodeTypeNotify {
			return fmt.Errorf("%w: template %s: node %d has unknown type %q",
				workflow.ErrInvalidTemplate, t.Code, i, node.Type)
		}
		if err := node.Assignee.Validate(); err != nil {
			return fmt.Errorf("%w: template %s: node %d: %v", workflow.ErrInvalidTemplate, t.Code, i, err)
		}
	}

	return nil
}

// LastIndex returns the index of the final node
func (t *WorkflowTemplate) LastIndex() int {
	return len(t.Nodes) - 1
}
