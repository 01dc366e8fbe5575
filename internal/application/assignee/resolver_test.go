package assignee

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
)

type mockDirectory struct {
	roles          map[string][]string
	resolveDynamic func(ctx context.Context, key string, subject port.Subject) (string, error)
	roleErr        error
}

func (m *mockDirectory) UsersInRole(ctx context.Context, roleCode string) ([]string, error) {
	if m.roleErr != nil {
		return nil, m.roleErr
	}
	return m.roles[roleCode], nil
}

func (m *mockDirectory) ResolveDynamic(ctx context.Context, key string, subject port.Subject) (string, error) {
	if m.resolveDynamic != nil {
		return m.resolveDynamic(ctx, key, subject)
	}
	return "", nil
}

func TestResolver_Resolve(t *testing.T) {
	dir := &mockDirectory{
		roles: map[string][]string{"patent_agent": {"u-agent-1", "u-agent-2"}},
		resolveDynamic: func(ctx context.Context, key string, subject port.Subject) (string, error) {
			if key == "case_owner" {
				return "owner-of-" + subject.BusinessTitle, nil
			}
			return "", nil
		},
	}
	r := NewResolver(dir)
	subject := port.Subject{BusinessType: "case", BusinessID: 1, BusinessTitle: "CN2026"}

	tests := []struct {
		name      string
		node      entity.NodeSpec
		overrides map[int]string
		want      string
		wantErr   error
	}{
		{"fixed", entity.NodeSpec{Index: 0, Type: entity.NodeTypeApproval, Assignee: entity.Fixed("u-1")}, nil, "u-1", nil},
		{"role picks first member", entity.NodeSpec{Index: 0, Type: entity.NodeTypeApproval, Assignee: entity.RoleBased("patent_agent")}, nil, "u-agent-1", nil},
		{"dynamic", entity.NodeSpec{Index: 0, Type: entity.NodeTypeApproval, Assignee: entity.Dynamic("case_owner")}, nil, "owner-of-CN2026", nil},
		{"override wins", entity.NodeSpec{Index: 2, Type: entity.NodeTypeApproval, Assignee: entity.Fixed("u-1")}, map[int]string{2: "u-override"}, "u-override", nil},
		{"override for other node ignored", entity.NodeSpec{Index: 1, Type: entity.NodeTypeApproval, Assignee: entity.Fixed("u-1")}, map[int]string{2: "u-override"}, "u-1", nil},
		{"empty role on approval node", entity.NodeSpec{Index: 0, Type: entity.NodeTypeApproval, Assignee: entity.RoleBased("nobody")}, nil, "", workflow.ErrAssigneeNotResolvable},
		{"empty dynamic on notify node", entity.NodeSpec{Index: 0, Type: entity.NodeTypeNotify, Assignee: entity.Dynamic("unknown")}, nil, "", nil},
		{"unknown kind", entity.NodeSpec{Index: 0, Type: entity.NodeTypeApproval, Assignee: entity.AssigneeRule{Kind: "team"}}, nil, "", workflow.ErrInvalidTemplate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.node, subject, tt.overrides)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_DirectoryFailure(t *testing.T) {
	boom := errors.New("directory down")
	r := NewResolver(&mockDirectory{roleErr: boom})

	_, err := r.Resolve(context.Background(),
		entity.NodeSpec{Type: entity.NodeTypeApproval, Assignee: entity.RoleBased("x")}, port.Subject{}, nil)
	assert.ErrorIs(t, err, boom)
}

func TestResolver_ResolveAll(t *testing.T) {
	r := NewResolver(&mockDirectory{roles: map[string][]string{"finance": {"u-fin"}}})
	nodes := []entity.NodeSpec{
		{Index: 0, Type: entity.NodeTypeApproval, Assignee: entity.RoleBased("finance")},
		{Index: 1, Type: entity.NodeTypeApproval, Assignee: entity.Fixed("u-cfo")},
	}

	ids, err := r.ResolveAll(context.Background(), nodes, port.Subject{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"u-fin", "u-cfo"}, ids)

	nodes = append(nodes, entity.NodeSpec{Index: 2, Type: entity.NodeTypeApproval, Assignee: entity.RoleBased("missing")})
	_, err = r.ResolveAll(context.Background(), nodes, port.Subject{}, nil)
	assert.ErrorIs(t, err, workflow.ErrAssigneeNotResolvable)
}
