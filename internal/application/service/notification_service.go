package service

import (
	"context"
	"fmt"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/dispatcher"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/event"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
)

// NotificationService tells people when the workflow needs or has their attention
type NotificationService interface {
	// NotifyNodeActivated tells the assignee of a newly active node it is their turn
	NotifyNodeActivated(ctx context.Context, evt *event.Event) error
	// NotifyInstanceFinished tells the creator how their workflow ended
	NotifyInstanceFinished(ctx context.Context, evt *event.Event) error
	// Register subscribes the service to the events it handles
	Register(d dispatcher.Dispatcher)
}

type notificationServiceImpl struct {
	instanceRepo port.InstanceRepository
	notifier     port.Notifier
	logger       Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	instanceRepo port.InstanceRepository,
	notifier port.Notifier,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		instanceRepo: instanceRepo,
		notifier:     notifier,
		logger:       logger,
	}
}

func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeNodeActivated, "notify-assignee", s.NotifyNodeActivated)
	for _, t := range []event.Type{event.TypeInstanceCompleted, event.TypeInstanceRejected, event.TypeInstanceCancelled} {
		d.SubscribeNamed(t, "notify-creator", s.NotifyInstanceFinished)
	}
}

func (s *notificationServiceImpl) NotifyNodeActivated(ctx context.Context, evt *event.Event) error {
	assignee := evt.GetPayloadString(event.KeyAssigneeID)
	if assignee == "" {
		s.logger.Info("Skipping notification, node has no assignee",
			"instance_id", evt.InstanceID,
			"node_index", evt.GetPayloadInt(event.KeyNodeIndex),
		)
		return nil
	}

	n := port.Notification{
		RecipientID: assignee,
		Title:       fmt.Sprintf("Approval required: %s", subjectLabel(evt)),
		Content: fmt.Sprintf("Node %q of workflow #%d is waiting for your decision.",
			evt.GetPayloadString(event.KeyNodeName), evt.InstanceID),
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Error("Failed to notify assignee", "error", err, "instance_id", evt.InstanceID, "recipient_id", assignee)
		return fmt.Errorf("notify assignee: %w", err)
	}

	s.logger.Info("Assignee notified", "instance_id", evt.InstanceID, "recipient_id", assignee)
	return nil
}

func (s *notificationServiceImpl) NotifyInstanceFinished(ctx context.Context, evt *event.Event) error {
	instance, err := s.instanceRepo.GetByID(ctx, evt.InstanceID)
	if err != nil {
		s.logger.Error("Failed to get instance", "error", err, "instance_id", evt.InstanceID)
		return fmt.Errorf("get instance: %w", err)
	}
	if instance == nil {
		return fmt.Errorf("%w: instance %d", workflow.ErrNotFound, evt.InstanceID)
	}
	if instance.CreatorID == "" || instance.CreatorID == evt.GetPayloadString(event.KeyActorID) {
		return nil
	}

	n := port.Notification{
		RecipientID: instance.CreatorID,
		Title:       fmt.Sprintf("Workflow %s: %s", instance.Status, subjectLabel(evt)),
		Content:     fmt.Sprintf("Workflow #%d finished with status %s.", instance.ID, instance.Status),
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Error("Failed to notify creator", "error", err, "instance_id", evt.InstanceID, "recipient_id", instance.CreatorID)
		return fmt.Errorf("notify creator: %w", err)
	}

	s.logger.Info("Creator notified",
		"instance_id", evt.InstanceID,
		"recipient_id", instance.CreatorID,
		"status", instance.Status,
	)
	return nil
}

// subjectLabel names the business entity an event is about
func subjectLabel(evt *event.Event) string {
	if title := evt.GetPayloadString(event.KeyBusinessTitle); title != "" {
		return title
	}
	return fmt.Sprintf("%s #%d", evt.GetPayloadString(event.KeyBusinessType), evt.GetPayloadInt(event.KeyBusinessID))
}
