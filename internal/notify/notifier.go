package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Notification asks the delivery collaborator to tell a subject owner about
// a moderation outcome. Delivery is best-effort: the workflow never fails an
// operation because a notification could not be sent.
type Notification struct {
	OwnerID uuid.UUID
	JobID   uuid.UUID
	Event   string // decision | appeal_resolved
	Outcome string
	Reason  string
}

type Notifier interface {
	NotifyOwner(ctx context.Context, n Notification) error
}

// LogNotifier is the default sink when no delivery backend is configured.
type LogNotifier struct{}

func (LogNotifier) NotifyOwner(_ context.Context, n Notification) error {
	slog.Info("user notification",
		"owner_id", n.OwnerID,
		"job_id", n.JobID,
		"event", n.Event,
		"outcome", n.Outcome,
	)
	return nil
}
