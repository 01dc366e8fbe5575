package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
)

// ReminderConfig controls when waiting assignees are reminded
type ReminderConfig struct {
	// After is how long a node waits before its assignee is reminded
	After time.Duration
	// Repeat is the minimum gap between reminders for the same node; zero reminds once
	Repeat time.Duration
	// BatchSize caps the nodes examined per run
	BatchSize int
}

// ReminderService nudges assignees whose nodes have been waiting too long
type ReminderService interface {
	// RemindStalled sends reminders due at now and returns how many were sent
	RemindStalled(ctx context.Context, now time.Time) (int, error)
}

type reminderServiceImpl struct {
	processRepo  port.ProcessRepository
	instanceRepo port.InstanceRepository
	notifier     port.Notifier
	config       ReminderConfig
	logger       Logger

	mu sync.Mutex
	// last reminder per process, keyed to the wait it belonged to
	reminded map[int64]reminder
}

type reminder struct {
	waitingSince time.Time
	sentAt       time.Time
}

// NewReminderService creates a new ReminderService
func NewReminderService(
	processRepo port.ProcessRepository,
	instanceRepo port.InstanceRepository,
	notifier port.Notifier,
	config ReminderConfig,
	logger Logger,
) ReminderService {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &reminderServiceImpl{
		processRepo:  processRepo,
		instanceRepo: instanceRepo,
		notifier:     notifier,
		config:       config,
		logger:       logger,
		reminded:     make(map[int64]reminder),
	}
}

func (s *reminderServiceImpl) RemindStalled(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stalled, err := s.processRepo.ListStalled(ctx, now.Add(-s.config.After), s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stalled processes: %w", err)
	}

	seen := make(map[int64]bool, len(stalled))
	sent := 0
	for _, proc := range stalled {
		seen[proc.ID] = true
		if proc.AssigneeID == "" {
			continue
		}

		instance, err := s.instanceRepo.GetByID(ctx, proc.InstanceID)
		if err != nil {
			return sent, fmt.Errorf("get instance: %w", err)
		}
		if instance == nil || !instance.IsPending() {
			continue
		}
		since := waitingSince(proc, instance)
		if !s.due(proc.ID, since, now) {
			continue
		}

		n := port.Notification{
			RecipientID: proc.AssigneeID,
			Title:       fmt.Sprintf("Reminder: %s is waiting for you", instanceLabel(instance)),
			Content: fmt.Sprintf("Node %q of workflow #%d has been waiting since %s.",
				proc.NodeName, instance.ID, since.Format(time.RFC3339)),
		}
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Error("Failed to send reminder", "error", err, "process_id", proc.ID, "recipient_id", proc.AssigneeID)
			continue
		}

		s.reminded[proc.ID] = reminder{waitingSince: since, sentAt: now}
		sent++
	}

	// Nodes that moved on no longer need reminder state. Only a full batch
	// can hide stalled nodes that were not listed.
	if len(stalled) < s.config.BatchSize {
		for id := range s.reminded {
			if !seen[id] {
				delete(s.reminded, id)
			}
		}
	}

	if sent > 0 {
		s.logger.Info("Reminders sent", "count", sent, "stalled", len(stalled))
	}
	return sent, nil
}

// due reports whether a node waiting since since should be reminded at now
func (s *reminderServiceImpl) due(processID int64, since, now time.Time) bool {
	last, ok := s.reminded[processID]
	if !ok || !since.Equal(last.waitingSince) {
		return true
	}
	return s.config.Repeat > 0 && now.Sub(last.sentAt) >= s.config.Repeat
}

// waitingSince is when the active node became the instance's current work
func waitingSince(proc *entity.WorkflowProcess, instance *entity.WorkflowInstance) time.Time {
	if instance.UpdatedAt.After(proc.UpdatedAt) {
		return instance.UpdatedAt
	}
	return proc.UpdatedAt
}

func instanceLabel(instance *entity.WorkflowInstance) string {
	if instance.BusinessTitle != "" {
		return instance.BusinessTitle
	}
	return fmt.Sprintf("%s #%d", instance.BusinessType, instance.BusinessID)
}
