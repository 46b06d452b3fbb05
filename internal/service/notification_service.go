package service

import (
	"context"

	"github.com/greenchain/esg-approvals/internal/repository"
)

// NotificationService is the read/mark side of the notification store. Rows
// are only ever created by the workflow engine inside its transactions.
type NotificationService struct {
	store repository.Store
}

// NewNotificationService creates a NotificationService.
func NewNotificationService(store repository.Store) *NotificationService {
	return &NotificationService{store: store}
}

// GetNotifications returns notifications for a recipient or audience string,
// newest-first.
func (s *NotificationService) GetNotifications(ctx context.Context, userID string, unreadOnly bool) ([]*repository.Notification, error) {
	return s.store.ListNotifications(ctx, userID, unreadOnly)
}

// MarkNotificationRead marks a notification read. Returns (nil, nil) when the
// notification does not exist; a missing id is not an error.
func (s *NotificationService) MarkNotificationRead(ctx context.Context, id string) (*repository.Notification, error) {
	return s.store.MarkNotificationRead(ctx, id)
}
