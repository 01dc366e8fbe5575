package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/assignee"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/dispatcher"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/template"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/event"
	domainwf "github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/persistence/repository"
	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/persistence/sqlstore"
	"github.com/happy-code-egg/ruidao-sub002/internal/testutil"
	"github.com/happy-code-egg/ruidao-sub002/pkg/database"
	"github.com/happy-code-egg/ruidao-sub002/pkg/utils"
)

// staticDirectory implements port.UserDirectory from fixed maps
type staticDirectory struct {
	roles   map[string][]string
	dynamic map[string]string
}

func (d *staticDirectory) UsersInRole(ctx context.Context, roleCode string) ([]string, error) {
	return d.roles[roleCode], nil
}

func (d *staticDirectory) ResolveDynamic(ctx context.Context, key string, subject port.Subject) (string, error) {
	if key == "creator" {
		return subject.CreatorID, nil
	}
	return d.dynamic[key], nil
}

// recordingDispatcher captures published events synchronously
type recordingDispatcher struct {
	dispatcher.Dispatcher
	mu     sync.Mutex
	events []*event.Event
}

func (r *recordingDispatcher) Publish(ctx context.Context, evts ...*event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evts...)
}

func (r *recordingDispatcher) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recordingDispatcher) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type harness struct {
	engine    *Engine
	templates *template.Store
	db        *database.DB
	events    *recordingDispatcher
	ids       map[string]int64
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	store, db := testutil.NewSQLite(t)
	return newHarnessOn(t, store, db, opts...)
}

// newHarnessOn builds the engine over an already migrated database
func newHarnessOn(t *testing.T, store *sqlstore.Store, db *database.DB, opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	templates, err := template.NewStore(
		repository.NewTemplateRepository(store, logger),
		store,
		[]template.Rule{
			{BusinessType: "case", When: `discriminant != "long"`, TemplateCode: "case-review"},
			{BusinessType: "case", When: `discriminant == "long"`, TemplateCode: "case-long"},
			{BusinessType: "contract", TemplateCode: "contract-review"},
		},
		utils.NewKVLogger(logger),
	)
	require.NoError(t, err)

	results, err := templates.Import(ctx, []*entity.WorkflowTemplate{
		{
			Code: "case-review", Name: "Case review", BusinessType: "case",
			Nodes: []entity.NodeSpec{
				{Index: 0, Name: "Agent review", Type: entity.NodeTypeApproval, Assignee: entity.RoleBased("agent")},
				{Index: 1, Name: "Manager review", Type: entity.NodeTypeApproval, Assignee: entity.RoleBased("manager")},
				{Index: 2, Name: "Partner sign-off", Type: entity.NodeTypeApproval, Assignee: entity.Fixed("partner")},
			},
		},
		{
			Code: "case-long", Name: "Case long review", BusinessType: "case",
			Nodes: []entity.NodeSpec{
				{Index: 0, Name: "Drafting", Type: entity.NodeTypeApproval, Assignee: entity.Dynamic("creator")},
				{Index: 1, Name: "Agent review", Type: entity.NodeTypeApproval, Assignee: entity.RoleBased("agent")},
				{Index: 2, Name: "Manager review", Type: entity.NodeTypeApproval, Assignee: entity.RoleBased("manager")},
				{Index: 3, Name: "Partner sign-off", Type: entity.NodeTypeApproval, Assignee: entity.Fixed("partner")},
			},
		},
		{
			Code: "contract-review", Name: "Contract review", BusinessType: "contract",
			Nodes: []entity.NodeSpec{
				{Index: 0, Name: "Legal", Type: entity.NodeTypeApproval, Assignee: entity.RoleBased("legal")},
				{Index: 1, Name: "Finance", Type: entity.NodeTypeApproval, Assignee: entity.Fixed("finance")},
			},
		},
	})
	require.NoError(t, err)
	ids := map[string]int64{}
	for _, r := range results {
		ids[r.Code] = r.ID
	}

	directory := &staticDirectory{
		roles: map[string][]string{
			"agent":   {"agent-1", "agent-2"},
			"manager": {"manager-1"},
		},
	}

	var mu sync.Mutex
	tick := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}

	events := &recordingDispatcher{}
	engine := NewEngine(
		templates,
		assignee.NewResolver(directory),
		Repositories{
			Instances: repository.NewInstanceRepository(store, logger),
			Processes: repository.NewProcessRepository(store, logger),
			Logs:      repository.NewProcessLogRepository(store, logger),
		},
		store,
		utils.NewKVLogger(logger),
		append([]Option{WithDispatcher(events), WithClock(clock)}, opts...)...,
	)

	return &harness{engine: engine, templates: templates, db: db, events: events, ids: ids}
}

func (h *harness) start(t *testing.T, businessID int64, discriminant string) (*entity.WorkflowInstance, []*entity.WorkflowProcess) {
	t.Helper()
	inst, err := h.engine.Start(context.Background(), StartRequest{
		BusinessType:  "case",
		BusinessID:    businessID,
		BusinessTitle: "CN-2026-0042",
		Discriminant:  discriminant,
		CreatorID:     "creator-1",
	})
	require.NoError(t, err)
	return inst, h.processes(t, inst.ID)
}

func (h *harness) processes(t *testing.T, instanceID int64) []*entity.WorkflowProcess {
	t.Helper()
	procs, err := h.engine.History(context.Background(), instanceID)
	require.NoError(t, err)
	return procs
}

func (h *harness) instance(t *testing.T, instanceID int64) *entity.WorkflowInstance {
	t.Helper()
	detail, err := h.engine.GetInstance(context.Background(), instanceID)
	require.NoError(t, err)
	return detail.Instance
}

func (h *harness) decide(t *testing.T, processID int64, action domainwf.Action) *entity.WorkflowProcess {
	t.Helper()
	p, err := h.engine.Process(context.Background(), ProcessRequest{
		ProcessID: processID,
		Action:    action,
		ActorID:   "actor",
		Comment:   string(action),
	})
	require.NoError(t, err)
	return p
}

// checkInvariants asserts the pointer and per-row invariants of an instance
func (h *harness) checkInvariants(t *testing.T, instanceID int64) {
	t.Helper()
	inst := h.instance(t, instanceID)
	procs := h.processes(t, instanceID)

	require.Len(t, procs, inst.NodeCount)
	assert.GreaterOrEqual(t, inst.CurrentNodeIndex, 0)
	assert.LessOrEqual(t, inst.CurrentNodeIndex, inst.NodeCount-1)

	if !inst.IsPending() {
		return
	}
	active := 0
	for _, p := range procs {
		switch {
		case p.NodeIndex < inst.CurrentNodeIndex:
			assert.NotEqual(t, domainwf.ActionPending, p.Action, "node %d before pointer must be decided", p.NodeIndex)
		case p.NodeIndex == inst.CurrentNodeIndex:
			assert.Equal(t, domainwf.ActionPending, p.Action)
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestScenario_StartApproveReject(t *testing.T) {
	h := newHarness(t)

	inst, procs := h.start(t, 42, "invention")
	assert.Equal(t, domainwf.StatusPending, inst.Status)
	assert.Equal(t, 0, inst.CurrentNodeIndex)
	assert.Equal(t, h.ids["case-review"], inst.TemplateID)
	require.Len(t, procs, 3)
	assert.Equal(t, []string{"Agent review", "Manager review", "Partner sign-off"},
		[]string{procs[0].NodeName, procs[1].NodeName, procs[2].NodeName})
	assert.Equal(t, []string{"agent-1", "manager-1", "partner"},
		[]string{procs[0].AssigneeID, procs[1].AssigneeID, procs[2].AssigneeID})
	h.checkInvariants(t, inst.ID)

	h.decide(t, procs[0].ID, domainwf.ActionApprove)
	assert.Equal(t, 1, h.instance(t, inst.ID).CurrentNodeIndex)
	h.checkInvariants(t, inst.ID)

	rejected := h.decide(t, procs[1].ID, domainwf.ActionReject)
	assert.Equal(t, domainwf.ActionReject, rejected.Action)
	assert.Equal(t, "actor", rejected.ProcessorID)

	final := h.instance(t, inst.ID)
	assert.Equal(t, domainwf.StatusRejected, final.Status)
	assert.NotNil(t, final.FinishedAt)

	after := h.processes(t, inst.ID)
	assert.Equal(t, domainwf.ActionPending, after[2].Action)
	assert.Nil(t, after[2].ProcessedAt)
	assert.Empty(t, after[2].ProcessorID)
	h.checkInvariants(t, inst.ID)
}

func TestStart_ExplicitAssignees(t *testing.T) {
	h := newHarness(t)

	inst, err := h.engine.Start(context.Background(), StartRequest{
		BusinessType: "case",
		BusinessID:   7,
		CreatorID:    "creator-1",
		Assignees:    map[int]string{0: "userA", 1: "userB"},
	})
	require.NoError(t, err)

	procs := h.processes(t, inst.ID)
	assert.Equal(t, "userA", procs[0].AssigneeID)
	assert.Equal(t, "userB", procs[1].AssigneeID)
	assert.Equal(t, "partner", procs[2].AssigneeID)
}

func TestStart_DynamicAssigneeAndExplicitTemplate(t *testing.T) {
	h := newHarness(t)
	id := h.ids["case-long"]

	inst, err := h.engine.Start(context.Background(), StartRequest{
		BusinessType: "case",
		BusinessID:   8,
		TemplateID:   &id,
		CreatorID:    "creator-9",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, inst.NodeCount)
	assert.Equal(t, "creator-9", h.processes(t, inst.ID)[0].AssigneeID)
}

func TestStart_Errors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.start(t, 42, "")

	missing := int64(9999)
	contractTpl := h.ids["contract-review"]

	tests := []struct {
		name    string
		req     StartRequest
		wantErr error
	}{
		{"duplicate active instance", StartRequest{BusinessType: "case", BusinessID: 42}, domainwf.ErrDuplicateActiveInstance},
		{"unknown template", StartRequest{BusinessType: "case", BusinessID: 1, TemplateID: &missing}, domainwf.ErrTemplateNotFound},
		{"no resolution rule", StartRequest{BusinessType: "invoice", BusinessID: 1}, domainwf.ErrTemplateNotResolvable},
		{"template for another business type", StartRequest{BusinessType: "case", BusinessID: 1, TemplateID: &contractTpl}, domainwf.ErrInvalidTemplate},
		{"unresolvable assignee", StartRequest{BusinessType: "contract", BusinessID: 1}, domainwf.ErrAssigneeNotResolvable},
		{"override out of range", StartRequest{BusinessType: "case", BusinessID: 1, Assignees: map[int]string{5: "x"}}, domainwf.ErrInvalidArgument},
		{"missing business type", StartRequest{BusinessID: 1}, domainwf.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Start(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	status, err := h.engine.GetBusinessStatus(ctx, "case", 1)
	require.NoError(t, err)
	assert.Nil(t, status, "failed starts leave nothing behind")
}

func TestStart_InactiveTemplate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	oldID := h.ids["case-review"]

	_, err := h.templates.Import(ctx, []*entity.WorkflowTemplate{{
		Code: "case-review", Name: "Case review v2", BusinessType: "case",
		Nodes: []entity.NodeSpec{
			{Index: 0, Name: "Agent review", Type: entity.NodeTypeApproval, Assignee: entity.RoleBased("agent")},
			{Index: 1, Name: "Partner sign-off", Type: entity.NodeTypeApproval, Assignee: entity.Fixed("partner")},
		},
	}})
	require.NoError(t, err)

	_, err = h.engine.Start(ctx, StartRequest{BusinessType: "case", BusinessID: 3, TemplateID: &oldID})
	assert.ErrorIs(t, err, domainwf.ErrInvalidTemplate)

	inst, err := h.engine.Start(ctx, StartRequest{BusinessType: "case", BusinessID: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, inst.NodeCount, "resolution picks the active version")
}

func TestProcess_NoDoubleDecision(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	inst, procs := h.start(t, 1, "")

	h.decide(t, procs[0].ID, domainwf.ActionApprove)
	afterFirst := h.instance(t, inst.ID)
	rowsAfterFirst := h.processes(t, inst.ID)

	_, err := h.engine.Process(ctx, ProcessRequest{ProcessID: procs[0].ID, Action: domainwf.ActionApprove, ActorID: "actor"})
	assert.ErrorIs(t, err, domainwf.ErrIllegalTransition)
	assert.ErrorIs(t, err, domainwf.ErrAlreadyProcessed)

	assert.Empty(t, cmp.Diff(afterFirst, h.instance(t, inst.ID)))
	assert.Empty(t, cmp.Diff(rowsAfterFirst, h.processes(t, inst.ID)))
}

func TestProcess_ConcurrentDecisions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	inst, procs := h.start(t, 1, "")

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			action := domainwf.ActionApprove
			if i%2 == 1 {
				action = domainwf.ActionReject
			}
			_, errs[i] = h.engine.Process(ctx, ProcessRequest{ProcessID: procs[0].ID, Action: action, ActorID: "racer"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domainwf.ErrIllegalTransition)
	}
	assert.Equal(t, 1, succeeded)
	h.checkInvariants(t, inst.ID)
}

func TestProcess_BackResetsDownstream(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	inst, procs := h.start(t, 1, "long")
	require.Len(t, procs, 4)

	first := h.decide(t, procs[0].ID, domainwf.ActionApprove)
	h.decide(t, procs[1].ID, domainwf.ActionApprove)
	h.decide(t, procs[2].ID, domainwf.ActionApprove)
	require.Equal(t, 3, h.instance(t, inst.ID).CurrentNodeIndex)

	backTo := 1
	back, err := h.engine.Process(ctx, ProcessRequest{
		ProcessID:       procs[3].ID,
		Action:          domainwf.ActionBack,
		ActorID:         "partner",
		Comment:         "claims need rework",
		BackToNodeIndex: &backTo,
	})
	require.NoError(t, err)
	assert.Equal(t, domainwf.ActionBack, back.Action)

	assert.Equal(t, 1, h.instance(t, inst.ID).CurrentNodeIndex)
	after := h.processes(t, inst.ID)

	assert.Equal(t, domainwf.ActionApprove, after[0].Action)
	assert.Equal(t, first.ProcessorID, after[0].ProcessorID)
	assert.NotNil(t, after[0].ProcessedAt)
	for _, p := range after[1:] {
		assert.Equal(t, domainwf.ActionPending, p.Action, "node %d", p.NodeIndex)
		assert.Empty(t, p.ProcessorID)
		assert.Empty(t, p.Comment)
		assert.Nil(t, p.ProcessedAt)
		assert.Equal(t, procs[p.NodeIndex].AssigneeID, p.AssigneeID, "assignee kept on node %d", p.NodeIndex)
	}
	h.checkInvariants(t, inst.ID)

	backable, err := h.engine.GetBackableNodes(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, backable, 1)
	assert.Equal(t, 0, backable[0].NodeIndex)

	timeline, err := h.engine.Timeline(ctx, inst.ID)
	require.NoError(t, err)
	var actions []entity.LogAction
	for _, l := range timeline {
		actions = append(actions, l.Action)
	}
	assert.Equal(t, []entity.LogAction{
		entity.LogStart, entity.LogApprove, entity.LogApprove, entity.LogApprove, entity.LogBack, entity.LogReset,
	}, actions)
	assert.Equal(t, "claims need rework", timeline[4].Comment)
	require.NotNil(t, timeline[4].BackToNodeIndex)
	assert.Equal(t, 1, *timeline[4].BackToNodeIndex)

	h.decide(t, after[1].ID, domainwf.ActionApprove)
	h.decide(t, after[2].ID, domainwf.ActionApprove)
	h.decide(t, after[3].ID, domainwf.ActionApprove)
	assert.Equal(t, domainwf.StatusCompleted, h.instance(t, inst.ID).Status)
}

func TestProcess_BackValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, procs := h.start(t, 1, "long")
	h.decide(t, procs[0].ID, domainwf.ActionApprove)
	h.decide(t, procs[1].ID, domainwf.ActionApprove)

	idx := func(i int) *int { return &i }
	tests := []struct {
		name string
		req  ProcessRequest
	}{
		{"missing target", ProcessRequest{ProcessID: procs[2].ID, Action: domainwf.ActionBack}},
		{"target is current node", ProcessRequest{ProcessID: procs[2].ID, Action: domainwf.ActionBack, BackToNodeIndex: idx(2)}},
		{"target ahead of pointer", ProcessRequest{ProcessID: procs[2].ID, Action: domainwf.ActionBack, BackToNodeIndex: idx(3)}},
		{"negative target", ProcessRequest{ProcessID: procs[2].ID, Action: domainwf.ActionBack, BackToNodeIndex: idx(-1)}},
		{"target with approve", ProcessRequest{ProcessID: procs[2].ID, Action: domainwf.ActionApprove, BackToNodeIndex: idx(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Process(ctx, tt.req)
			assert.ErrorIs(t, err, domainwf.ErrIllegalTransition)
			assert.Equal(t, domainwf.ActionPending, h.processes(t, procs[2].InstanceID)[2].Action)
			assert.Equal(t, 2, h.instance(t, procs[2].InstanceID).CurrentNodeIndex)
		})
	}
}

func TestProcess_Completion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	inst, procs := h.start(t, 1, "")

	for _, p := range procs {
		h.decide(t, p.ID, domainwf.ActionApprove)
	}

	final := h.instance(t, inst.ID)
	assert.Equal(t, domainwf.StatusCompleted, final.Status)
	assert.Equal(t, 2, final.CurrentNodeIndex)
	assert.NotNil(t, final.FinishedAt)

	for _, p := range procs {
		for _, action := range []domainwf.Action{domainwf.ActionApprove, domainwf.ActionReject} {
			_, err := h.engine.Process(ctx, ProcessRequest{ProcessID: p.ID, Action: action, ActorID: "actor"})
			assert.ErrorIs(t, err, domainwf.ErrIllegalTransition)
		}
	}

	backable, err := h.engine.GetBackableNodes(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, backable)
	h.checkInvariants(t, inst.ID)
}

func TestProcess_RejectionIsTerminal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	inst, procs := h.start(t, 1, "long")

	h.decide(t, procs[0].ID, domainwf.ActionApprove)
	h.decide(t, procs[1].ID, domainwf.ActionReject)

	assert.Equal(t, domainwf.StatusRejected, h.instance(t, inst.ID).Status)
	for _, p := range h.processes(t, inst.ID)[2:] {
		assert.Equal(t, domainwf.ActionPending, p.Action)
		assert.Nil(t, p.ProcessedAt)
	}

	_, err := h.engine.Process(ctx, ProcessRequest{ProcessID: procs[2].ID, Action: domainwf.ActionApprove, ActorID: "actor"})
	assert.ErrorIs(t, err, domainwf.ErrIllegalTransition)

	tasks, err := h.engine.GetPendingTasks(ctx, "manager-1")
	require.NoError(t, err)
	assert.Empty(t, tasks, "nodes after a rejection are never activated")
}

func TestProcess_IllegalRequests(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, procs := h.start(t, 1, "")

	tests := []struct {
		name    string
		req     ProcessRequest
		wantErr error
	}{
		{"non-active node", ProcessRequest{ProcessID: procs[1].ID, Action: domainwf.ActionApprove}, domainwf.ErrIllegalTransition},
		{"pending is not a decision", ProcessRequest{ProcessID: procs[0].ID, Action: domainwf.ActionPending}, domainwf.ErrIllegalTransition},
		{"unknown action", ProcessRequest{ProcessID: procs[0].ID, Action: "escalate"}, domainwf.ErrIllegalTransition},
		{"back from first node", ProcessRequest{ProcessID: procs[0].ID, Action: domainwf.ActionBack, BackToNodeIndex: new(int)}, domainwf.ErrIllegalTransition},
		{"unknown process", ProcessRequest{ProcessID: 9999, Action: domainwf.ActionApprove}, domainwf.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Process(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	h.checkInvariants(t, procs[0].InstanceID)
}

func TestProcess_EnforceAssignee(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithEnforceAssignee(true))
	_, procs := h.start(t, 1, "")

	_, err := h.engine.Process(ctx, ProcessRequest{ProcessID: procs[0].ID, Action: domainwf.ActionApprove, ActorID: "intruder"})
	assert.ErrorIs(t, err, domainwf.ErrIllegalTransition)

	_, err = h.engine.Process(ctx, ProcessRequest{ProcessID: procs[0].ID, Action: domainwf.ActionApprove, ActorID: "agent-1"})
	assert.NoError(t, err)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	inst, procs := h.start(t, 5, "")
	h.decide(t, procs[0].ID, domainwf.ActionApprove)
	before := h.processes(t, inst.ID)

	cancelled, err := h.engine.Cancel(ctx, inst.ID, "creator-1")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.FinishedAt)
	assert.Empty(t, cmp.Diff(before, h.processes(t, inst.ID)), "process rows untouched")

	_, err = h.engine.Cancel(ctx, inst.ID, "creator-1")
	assert.ErrorIs(t, err, domainwf.ErrInstanceNotCancellable)

	_, err = h.engine.Cancel(ctx, 9999, "creator-1")
	assert.ErrorIs(t, err, domainwf.ErrNotFound)

	_, err = h.engine.Process(ctx, ProcessRequest{ProcessID: procs[1].ID, Action: domainwf.ActionApprove})
	assert.ErrorIs(t, err, domainwf.ErrIllegalTransition)

	again, _ := h.start(t, 5, "")
	assert.NotEqual(t, inst.ID, again.ID, "a cancelled workflow frees the business entity")
}

func TestGetBusinessStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	none, err := h.engine.GetBusinessStatus(ctx, "case", 42)
	require.NoError(t, err)
	assert.Nil(t, none)

	first, _ := h.start(t, 42, "")
	_, err = h.engine.Cancel(ctx, first.ID, "creator-1")
	require.NoError(t, err)
	second, _ := h.start(t, 42, "")

	latest, err := h.engine.GetBusinessStatus(ctx, "case", 42)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, domainwf.StatusPending, latest.Status)
}

func TestGetPendingTasks_Ordering(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	older, olderProcs := h.start(t, 1, "")
	newer, _ := h.start(t, 2, "")

	tasks, err := h.engine.GetPendingTasks(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, older.ID, tasks[0].InstanceID)
	assert.Equal(t, newer.ID, tasks[1].InstanceID)
	assert.True(t, tasks[0].CreatedAt.Before(tasks[1].CreatedAt))

	h.decide(t, olderProcs[0].ID, domainwf.ActionApprove)

	tasks, err = h.engine.GetPendingTasks(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, newer.ID, tasks[0].InstanceID)

	managerTasks, err := h.engine.GetPendingTasks(ctx, "manager-1")
	require.NoError(t, err)
	require.Len(t, managerTasks, 1)
	assert.Equal(t, olderProcs[1].ID, managerTasks[0].ID)

	_, err = h.engine.GetPendingTasks(ctx, "")
	assert.ErrorIs(t, err, domainwf.ErrInvalidArgument)
}

func TestReassign(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	inst, procs := h.start(t, 1, "")
	h.events.reset()

	p, err := h.engine.Reassign(ctx, ReassignRequest{ProcessID: procs[0].ID, AssigneeID: "agent-2", ActorID: "manager-1"})
	require.NoError(t, err)
	assert.Equal(t, "agent-2", p.AssigneeID)
	assert.Equal(t, []event.Type{event.TypeProcessReassigned, event.TypeNodeActivated}, h.events.types())

	tasks, err := h.engine.GetPendingTasks(ctx, "agent-2")
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	_, err = h.engine.Reassign(ctx, ReassignRequest{ProcessID: procs[1].ID, AssigneeID: "agent-2"})
	assert.ErrorIs(t, err, domainwf.ErrIllegalTransition)

	_, err = h.engine.Reassign(ctx, ReassignRequest{ProcessID: procs[0].ID})
	assert.ErrorIs(t, err, domainwf.ErrInvalidArgument)

	timeline, err := h.engine.Timeline(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.LogReassign, timeline[len(timeline)-1].Action)
	assert.Equal(t, "agent-1 -> agent-2", timeline[len(timeline)-1].Comment)
}

func TestNotifyNodes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithEnforceAssignee(true))

	results, err := h.templates.Import(ctx, []*entity.WorkflowTemplate{
		{
			Code: "contract-signing", Name: "Contract signing", BusinessType: "contract",
			Nodes: []entity.NodeSpec{
				{Index: 0, Name: "Notify legal", Type: entity.NodeTypeNotify, Assignee: entity.RoleBased("legal")},
				{Index: 1, Name: "Finance", Type: entity.NodeTypeApproval, Assignee: entity.Fixed("finance")},
				{Index: 2, Name: "Notify sales owner", Type: entity.NodeTypeNotify, Assignee: entity.Dynamic("sales_owner")},
			},
		},
		{
			Code: "contract-archive", Name: "Contract archive", BusinessType: "contract",
			Nodes: []entity.NodeSpec{
				{Index: 0, Name: "Notify legal", Type: entity.NodeTypeNotify, Assignee: entity.Fixed("legal-1")},
				{Index: 1, Name: "Notify finance", Type: entity.NodeTypeNotify, Assignee: entity.Fixed("finance")},
			},
		},
	})
	require.NoError(t, err)
	signing, archive := results[0].ID, results[1].ID

	t.Run("leading and trailing notify nodes pass", func(t *testing.T) {
		h.events.reset()
		inst, err := h.engine.Start(ctx, StartRequest{
			BusinessType: "contract", BusinessID: 10, TemplateID: &signing, CreatorID: "sales-1",
		})
		require.NoError(t, err)
		assert.Equal(t, domainwf.StatusPending, inst.Status)
		assert.Equal(t, 1, inst.CurrentNodeIndex)
		assert.Equal(t, []event.Type{
			event.TypeWorkflowStarted,
			event.TypeNodeActivated, event.TypeProcessDecided,
			event.TypeNodeActivated,
		}, h.events.types())
		h.checkInvariants(t, inst.ID)

		procs := h.processes(t, inst.ID)
		assert.Equal(t, domainwf.ActionApprove, procs[0].Action)
		assert.Empty(t, procs[0].ProcessorID)
		assert.Equal(t, notifiedComment, procs[0].Comment)

		backable, err := h.engine.GetBackableNodes(ctx, inst.ID)
		require.NoError(t, err)
		assert.Empty(t, backable)

		back := 0
		_, err = h.engine.Process(ctx, ProcessRequest{
			ProcessID: procs[1].ID, Action: domainwf.ActionBack, ActorID: "finance", BackToNodeIndex: &back,
		})
		assert.ErrorIs(t, err, domainwf.ErrIllegalTransition)

		h.events.reset()
		_, err = h.engine.Process(ctx, ProcessRequest{ProcessID: procs[1].ID, Action: domainwf.ActionApprove, ActorID: "finance"})
		require.NoError(t, err)
		assert.Equal(t, []event.Type{
			event.TypeProcessDecided,
			event.TypeNodeActivated, event.TypeProcessDecided,
			event.TypeInstanceCompleted,
		}, h.events.types())
		assert.Empty(t, h.events.events[1].GetPayloadString(event.KeyAssigneeID))

		finished := h.instance(t, inst.ID)
		assert.Equal(t, domainwf.StatusCompleted, finished.Status)
		assert.Equal(t, 2, finished.CurrentNodeIndex)

		procs = h.processes(t, inst.ID)
		assert.Equal(t, domainwf.ActionApprove, procs[2].Action)
		assert.Empty(t, procs[2].ProcessorID)

		timeline, err := h.engine.Timeline(ctx, inst.ID)
		require.NoError(t, err)
		last := timeline[len(timeline)-1]
		assert.Equal(t, entity.LogApprove, last.Action)
		assert.Equal(t, 2, last.NodeIndex)
		assert.Empty(t, last.ActorID)
	})

	t.Run("notify-only template completes on start", func(t *testing.T) {
		h.events.reset()
		inst, err := h.engine.Start(ctx, StartRequest{
			BusinessType: "contract", BusinessID: 11, TemplateID: &archive, CreatorID: "sales-1",
		})
		require.NoError(t, err)
		assert.Equal(t, domainwf.StatusCompleted, inst.Status)
		assert.NotNil(t, inst.FinishedAt)
		assert.Equal(t, event.TypeInstanceCompleted, h.events.types()[len(h.events.types())-1])

		status, err := h.engine.GetBusinessStatus(ctx, "contract", 11)
		require.NoError(t, err)
		assert.Equal(t, domainwf.StatusCompleted, status.Status)

		tasks, err := h.engine.GetPendingTasks(ctx, "finance")
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})
}

func TestEvents(t *testing.T) {
	h := newHarness(t)
	inst, procs := h.start(t, 1, "")

	assert.Equal(t, []event.Type{event.TypeWorkflowStarted, event.TypeNodeActivated}, h.events.types())
	activated := h.events.events[1]
	assert.Equal(t, inst.ID, activated.InstanceID)
	assert.Equal(t, "agent-1", activated.GetPayloadString(event.KeyAssigneeID))
	assert.Equal(t, h.events.events[0].CorrelationID, activated.CorrelationID)

	h.events.reset()
	h.decide(t, procs[0].ID, domainwf.ActionApprove)
	assert.Equal(t, []event.Type{event.TypeProcessDecided, event.TypeNodeActivated}, h.events.types())
	assert.Equal(t, "manager-1", h.events.events[1].GetPayloadString(event.KeyAssigneeID))

	h.events.reset()
	h.decide(t, procs[1].ID, domainwf.ActionApprove)
	h.decide(t, procs[2].ID, domainwf.ActionApprove)
	assert.Equal(t, []event.Type{
		event.TypeProcessDecided, event.TypeNodeActivated,
		event.TypeProcessDecided, event.TypeInstanceCompleted,
	}, h.events.types())

	h.events.reset()
	_, err := h.engine.Process(context.Background(), ProcessRequest{ProcessID: procs[2].ID, Action: domainwf.ActionApprove})
	require.Error(t, err)
	assert.Empty(t, h.events.types(), "failed operations publish nothing")
}

func TestReads_UnknownInstance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.engine.History(ctx, 404)
	assert.ErrorIs(t, err, domainwf.ErrNotFound)
	_, err = h.engine.GetBackableNodes(ctx, 404)
	assert.ErrorIs(t, err, domainwf.ErrNotFound)
	_, err = h.engine.Timeline(ctx, 404)
	assert.ErrorIs(t, err, domainwf.ErrNotFound)
	_, err = h.engine.GetInstance(ctx, 404)
	assert.ErrorIs(t, err, domainwf.ErrNotFound)
}

func TestStorageFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.db.Close())

	_, err := h.engine.GetPendingTasks(ctx, "agent-1")
	assert.ErrorIs(t, err, domainwf.ErrStorage)

	_, err = h.engine.History(ctx, 1)
	assert.ErrorIs(t, err, domainwf.ErrStorage)
	assert.NotErrorIs(t, err, domainwf.ErrNotFound)
}
