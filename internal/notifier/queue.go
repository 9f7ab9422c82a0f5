package notifier

import (
	"context"
	"fmt"

	"github.com/Proton-105/himera-billing/internal/jobs"
)

// QueueNotifier hands messages to the background worker so callers never wait on the chat API.
type QueueNotifier struct {
	manager jobs.Manager
}

// NewQueueNotifier creates a notifier enqueueing notify:send tasks.
func NewQueueNotifier(manager jobs.Manager) *QueueNotifier {
	return &QueueNotifier{manager: manager}
}

func (n *QueueNotifier) Notify(ctx context.Context, msg Message) error {
	task, err := jobs.NewNotifySendTask(jobs.NotifyPayload{
		UserID: msg.UserID,
		Key:    msg.Key,
		Params: msg.Params,
	})
	if err != nil {
		return fmt.Errorf("build notify task: %w", err)
	}

	if _, err := n.manager.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue notify task: %w", err)
	}

	return nil
}
