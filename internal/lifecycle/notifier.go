package lifecycle

import (
	"context"
	"log/slog"
)

// Notifier is the fire-and-forget sink for lease events. Implementations must
// never block the lifecycle operations; failures are logged and dropped.
type Notifier interface {
	NotifyReclaimed(ctx context.Context, userID, issueID int64)
	NotifyExpiringSoon(ctx context.Context, userID, issueID int64, hoursLeft int)
}

// LogNotifier writes lease events to the log. It stands in for the email
// collaborator, which is outside this service.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyReclaimed(ctx context.Context, userID, issueID int64) {
	n.logger.Info("Claim reclaimed notification", "user_id", userID, "issue_id", issueID)
}

func (n *LogNotifier) NotifyExpiringSoon(ctx context.Context, userID, issueID int64, hoursLeft int) {
	n.logger.Info("Claim expiring notification", "user_id", userID, "issue_id", issueID, "hours_left", hoursLeft)
}
