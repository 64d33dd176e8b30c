package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"first-issue-service/internal/cache"
	apperrors "first-issue-service/internal/errors"
	"first-issue-service/internal/model"
	"first-issue-service/internal/store"
)

const (
	// Bounds on a single deadline extension request.
	MinExtensionDays = 1
	MaxExtensionDays = 14
)

// Manager owns the lease state machine for issues:
//
//	available -> claimed -> {available, completed, closed}
//	closed    -> available (tracker reopen only)
//
// All transitions out of a state are guarded by conditional updates in the
// store, so concurrent callers race safely: one wins, the rest observe an
// invalid-state failure.
type Manager struct {
	store    store.Store
	cache    cache.Cache
	notifier Notifier
	logger   *slog.Logger

	now func() time.Time
}

func NewManager(st store.Store, c cache.Cache, notifier Notifier, logger *slog.Logger) *Manager {
	return &Manager{
		store:    st,
		cache:    c,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Claim leases an available issue to a user. The lease window is a function
// of the issue's difficulty. Exactly one of two concurrent claims succeeds;
// the loser gets an invalid-state error.
func (m *Manager) Claim(ctx context.Context, issueID, userID int64) (*model.ClaimResult, error) {
	issue, err := m.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	if issue.Status != model.StatusAvailable {
		return nil, claimStateError(issue)
	}

	claimedAt := m.now().UTC()
	expiresAt := claimedAt.Add(model.LeaseDuration(issue.Difficulty))

	won, err := m.store.ClaimIssue(ctx, issueID, userID, claimedAt, expiresAt)
	if err != nil {
		return nil, err
	}
	if !won {
		// Lost the race to another claimant (or a concurrent close).
		return nil, apperrors.InvalidState("Issue is already claimed")
	}

	m.invalidate(ctx)
	m.logger.Info("Issue claimed", "issue_id", issueID, "user_id", userID, "expires_at", expiresAt)

	return &model.ClaimResult{
		Success:        true,
		Message:        "Issue claimed successfully",
		IssueID:        issueID,
		ClaimedAt:      &claimedAt,
		ClaimExpiresAt: &expiresAt,
	}, nil
}

func claimStateError(issue *model.Issue) error {
	if issue.Status == model.StatusClaimed {
		if issue.ClaimedBy != nil {
			return apperrors.InvalidState("Issue is already claimed by user %d", *issue.ClaimedBy)
		}
		return apperrors.InvalidState("Issue is already claimed")
	}
	return apperrors.InvalidState("Issue is not available (status: %s)", issue.Status)
}

// Release returns a claimed issue to the available pool. Only the lease
// holder may release unless force is set; force is reserved for
// administrative and scheduled reclamation.
func (m *Manager) Release(ctx context.Context, issueID, userID int64, force bool) (*model.ReleaseResult, error) {
	issue, err := m.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	if issue.Status != model.StatusClaimed || issue.ClaimedBy == nil {
		return nil, apperrors.InvalidState("Issue is not claimed (status: %s)", issue.Status)
	}
	if !force && *issue.ClaimedBy != userID {
		return nil, apperrors.Forbidden("You can only release issues you have claimed")
	}

	// The write pins the owner observed above, so a lease that changed hands
	// between the read and the write is left alone.
	released, err := m.store.ReleaseIssue(ctx, issueID, *issue.ClaimedBy)
	if err != nil {
		return nil, err
	}
	if !released {
		return nil, apperrors.InvalidState("Issue is no longer claimed")
	}

	m.invalidate(ctx)
	m.logger.Info("Issue released", "issue_id", issueID, "user_id", userID, "force", force)

	return &model.ReleaseResult{
		Success: true,
		Message: "Issue released successfully",
		IssueID: issueID,
	}, nil
}

// Extend pushes the lease expiry forward by the requested number of days,
// measured from the current expiry rather than from now, so repeated short
// extensions cannot quietly reset a full window. Only legal for the lease
// holder while the lease is unexpired.
func (m *Manager) Extend(ctx context.Context, issueID, userID int64, days int, justification string) (*model.ExtensionResult, error) {
	if days < MinExtensionDays || days > MaxExtensionDays {
		return nil, apperrors.InvalidState("Extension must be between %d and %d days", MinExtensionDays, MaxExtensionDays)
	}

	issue, err := m.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	if issue.Status != model.StatusClaimed {
		return nil, apperrors.InvalidState("Issue is not claimed (status: %s)", issue.Status)
	}
	if issue.ClaimedBy == nil || *issue.ClaimedBy != userID {
		return nil, apperrors.Forbidden("You can only extend deadlines for issues you have claimed")
	}

	now := m.now().UTC()
	if issue.ClaimExpiresAt != nil && issue.ClaimExpiresAt.Before(now) {
		return nil, apperrors.InvalidState("Claim has expired, reclaim instead")
	}

	newExpiry, err := m.store.ExtendClaim(ctx, issueID, userID, days, now)
	if err != nil {
		return nil, err
	}
	if newExpiry == nil {
		// The guarded update matched nothing: the lease changed hands or
		// expired between the read above and the write.
		return nil, apperrors.InvalidState("Claim has expired, reclaim instead")
	}

	m.invalidate(ctx)
	m.logger.Info("Claim deadline extended",
		"issue_id", issueID, "user_id", userID, "days", days,
		"new_expiration", *newExpiry, "justification", justification)

	return &model.ExtensionResult{
		Success:       true,
		Message:       fmt.Sprintf("Deadline extended by %d days", days),
		IssueID:       issueID,
		NewExpiration: newExpiry,
	}, nil
}

// SweepExpired reclaims every lease past its expiry. Each release is its own
// conditional update pinning the listed owner and the stale expiry, so a
// sweep racing a manual release, another sweep, or a release-then-reclaim
// simply skips rows whose lease is no longer the one it listed. Per-issue
// failures are collected; they never abort the rest of the batch.
func (m *Manager) SweepExpired(ctx context.Context) (*model.SweepResult, error) {
	now := m.now().UTC()
	expired, err := m.store.ListExpiredClaims(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &model.SweepResult{IssueIDs: []int64{}, Errors: []string{}}
	for _, issue := range expired {
		if issue.ClaimedBy == nil {
			continue
		}
		released, err := m.store.ReleaseExpiredClaim(ctx, issue.ID, *issue.ClaimedBy, now)
		if err != nil {
			msg := fmt.Sprintf("failed to release issue %d: %v", issue.ID, err)
			m.logger.Error("Sweep release failed", "issue_id", issue.ID, "error", err)
			result.Errors = append(result.Errors, msg)
			continue
		}
		if !released {
			// Released, or a fresh lease replaced the expired one.
			continue
		}

		result.IssueIDs = append(result.IssueIDs, issue.ID)
		m.notifier.NotifyReclaimed(ctx, *issue.ClaimedBy, issue.ID)
		m.logger.Info("Expired claim reclaimed", "issue_id", issue.ID, "previous_owner", *issue.ClaimedBy)
	}
	result.ReleasedCount = len(result.IssueIDs)

	if result.ReleasedCount > 0 {
		m.invalidate(ctx)
	}
	return result, nil
}

// ExpiringSoon returns claimed issues whose expiry falls within
// (now, now+hoursThreshold]. Read-only; drives reminder notifications.
func (m *Manager) ExpiringSoon(ctx context.Context, hoursThreshold int) ([]model.Issue, error) {
	now := m.now().UTC()
	return m.store.ListClaimsExpiringBetween(ctx, now, now.Add(time.Duration(hoursThreshold)*time.Hour))
}

// SendExpiryReminders notifies the holder of every lease expiring within the
// threshold. Best-effort: notification failures are the notifier's problem.
func (m *Manager) SendExpiryReminders(ctx context.Context, hoursThreshold int) error {
	expiring, err := m.ExpiringSoon(ctx, hoursThreshold)
	if err != nil {
		return err
	}

	now := m.now().UTC()
	for _, issue := range expiring {
		if issue.ClaimedBy == nil || issue.ClaimExpiresAt == nil {
			continue
		}
		hoursLeft := int(issue.ClaimExpiresAt.Sub(now).Hours())
		if hoursLeft < 1 {
			hoursLeft = 1
		}
		m.notifier.NotifyExpiringSoon(ctx, *issue.ClaimedBy, issue.ID, hoursLeft)
	}
	return nil
}

// MarkClosed is the closing path used by the synchronizer when the tracker
// reports an issue closed. Claim fields are left untouched so the claimant of
// a closed-out lease stays identifiable. Completed issues never transition.
// Reports whether a transition happened.
func (m *Manager) MarkClosed(ctx context.Context, issueID int64) (bool, error) {
	closed, err := m.store.CloseIssue(ctx, issueID)
	if err != nil {
		return false, err
	}
	if closed {
		m.logger.Info("Issue closed", "issue_id", issueID)
	}
	return closed, nil
}

// Reopen is the synchronizer-only transition closed -> available, taken when
// the tracker reports a previously closed issue open again. Completed issues
// stay completed.
func (m *Manager) Reopen(ctx context.Context, issueID int64) (bool, error) {
	reopened, err := m.store.ReopenIssue(ctx, issueID)
	if err != nil {
		return false, err
	}
	if reopened {
		m.logger.Info("Issue reopened", "issue_id", issueID)
	}
	return reopened, nil
}

// invalidate drops every cached issue listing. Mutations call this before
// returning success; a brief staleness window on concurrent reads is fine,
// permanent staleness is not.
func (m *Manager) invalidate(ctx context.Context) {
	m.cache.DeletePrefix(ctx, cache.IssuesPrefix)
}
