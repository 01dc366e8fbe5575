// Package workflow runs template-driven sequential approval workflows
// against business entities.
package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/dispatcher"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/event"
)

const tracerName = "github.com/happy-code-egg/ruidao-sub002/internal/application/workflow"

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// TemplateSource looks up and resolves workflow templates
type TemplateSource interface {
	Get(ctx context.Context, id int64) (*entity.WorkflowTemplate, error)
	ResolveForBusiness(ctx context.Context, businessType, discriminant string) (int64, error)
}

// AssigneeResolver resolves the assignee of every node of a template
type AssigneeResolver interface {
	ResolveAll(ctx context.Context, nodes []entity.NodeSpec, subject port.Subject, overrides map[int]string) ([]string, error)
}

// Repositories groups the persistence ports the engine writes through
type Repositories struct {
	Instances port.InstanceRepository
	Processes port.ProcessRepository
	Logs      port.ProcessLogRepository
}

// Engine owns every state change of workflow instances and their processes
type Engine struct {
	templates TemplateSource
	assignees AssigneeResolver
	instances port.InstanceRepository
	processes port.ProcessRepository
	logs      port.ProcessLogRepository
	tx        port.TransactionManager

	dispatcher      dispatcher.Dispatcher
	tracer          trace.Tracer
	logger          Logger
	clock           func() time.Time
	enforceAssignee bool
}

// Option configures the engine
type Option func(*Engine)

// WithDispatcher publishes committed events through d
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithTracer overrides the tracer taken from the global provider
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithEnforceAssignee rejects decisions by anyone but the process assignee
func WithEnforceAssignee(enforce bool) Option {
	return func(e *Engine) {
		e.enforceAssignee = enforce
	}
}

// NewEngine creates a workflow engine
func NewEngine(
	templates TemplateSource,
	assignees AssigneeResolver,
	repos Repositories,
	tx port.TransactionManager,
	logger Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		templates: templates,
		assignees: assignees,
		instances: repos.Instances,
		processes: repos.Processes,
		logs:      repos.Logs,
		tx:        tx,
		tracer:    otel.Tracer(tracerName),
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// publish hands committed events to the dispatcher
func (e *Engine) publish(ctx context.Context, events []*event.Event) {
	if e.dispatcher == nil || len(events) == 0 {
		return
	}
	e.dispatcher.Publish(ctx, events...)
}

// eventBatch builds events that share one correlation ID
type eventBatch struct {
	correlationID string
	events        []*event.Event
}

func (b *eventBatch) add(t event.Type, instanceID int64, payload map[string]interface{}) {
	var evt *event.Event
	if b.correlationID == "" {
		evt = event.NewEvent(t, instanceID, payload)
		b.correlationID = evt.CorrelationID
	} else {
		evt = event.NewEventWithCorrelation(t, instanceID, payload, b.correlationID)
	}
	b.events = append(b.events, evt)
}

func (b *eventBatch) activated(inst *entity.WorkflowInstance, p *entity.WorkflowProcess) {
	b.add(event.TypeNodeActivated, inst.ID, map[string]interface{}{
		event.KeyProcessID:     p.ID,
		event.KeyNodeIndex:     p.NodeIndex,
		event.KeyNodeName:      p.NodeName,
		event.KeyNodeType:      string(p.NodeType),
		event.KeyAssigneeID:    p.AssigneeID,
		event.KeyBusinessType:  inst.BusinessType,
		event.KeyBusinessID:    inst.BusinessID,
		event.KeyBusinessTitle: inst.BusinessTitle,
	})
}

func (b *eventBatch) decided(inst *entity.WorkflowInstance, p *entity.WorkflowProcess) {
	b.add(event.TypeProcessDecided, inst.ID, map[string]interface{}{
		event.KeyProcessID:    p.ID,
		event.KeyNodeIndex:    p.NodeIndex,
		event.KeyNodeName:     p.NodeName,
		event.KeyAction:       string(p.Action),
		event.KeyActorID:      p.ProcessorID,
		event.KeyComment:      p.Comment,
		event.KeyBusinessType: inst.BusinessType,
		event.KeyBusinessID:   inst.BusinessID,
	})
}

func (b *eventBatch) finished(t event.Type, inst *entity.WorkflowInstance, actorID string) {
	b.add(t, inst.ID, map[string]interface{}{
		event.KeyActorID:       actorID,
		event.KeyBusinessType:  inst.BusinessType,
		event.KeyBusinessID:    inst.BusinessID,
		event.KeyBusinessTitle: inst.BusinessTitle,
	})
}
