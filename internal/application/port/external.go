package port

import "context"

// Subject describes the business entity a workflow runs against,
// passed to dynamic assignee resolvers
type Subject struct {
	BusinessType  string
	BusinessID    int64
	BusinessTitle string
	CreatorID     string
}

// UserDirectory resolves roles and dynamic rules to user ids
type UserDirectory interface {
	UsersInRole(ctx context.Context, roleCode string) ([]string, error)
	ResolveDynamic(ctx context.Context, resolverKey string, subject Subject) (string, error)
}

// Notification is a message addressed to a single user
type Notification struct {
	RecipientID string
	Title       string
	Content     string
}

// Notifier delivers notifications to users
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
