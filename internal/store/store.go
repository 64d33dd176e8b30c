package store

import (
	"context"
	"time"

	"first-issue-service/internal/model"
)

// Store is the persistence boundary for issues and repositories. The
// conditional mutations (Claim, Release, Extend, Close, Reopen) are
// compare-and-set: they report false instead of an error when another writer
// got there first, which is how concurrent claims, sweeps and syncs are
// serialized without advisory locks.
type Store interface {
	GetIssue(ctx context.Context, id int64) (*model.Issue, error)
	ListIssues(ctx context.Context, filters model.IssueFilters, page model.Pagination) ([]model.Issue, int, error)
	ListIssuesByRepository(ctx context.Context, repositoryID int64) ([]model.Issue, error)
	CreateIssue(ctx context.Context, issue *model.Issue) (*model.Issue, error)
	UpdateIssueContent(ctx context.Context, id int64, title string, description *string, labels []string, url string) error

	ClaimIssue(ctx context.Context, id, userID int64, claimedAt, expiresAt time.Time) (bool, error)
	ReleaseIssue(ctx context.Context, id, ownerID int64) (bool, error)
	ReleaseExpiredClaim(ctx context.Context, id, ownerID int64, now time.Time) (bool, error)
	ExtendClaim(ctx context.Context, id, userID int64, days int, now time.Time) (*time.Time, error)
	CloseIssue(ctx context.Context, id int64) (bool, error)
	ReopenIssue(ctx context.Context, id int64) (bool, error)

	ListExpiredClaims(ctx context.Context, now time.Time) ([]model.Issue, error)
	ListClaimsExpiringBetween(ctx context.Context, from, to time.Time) ([]model.Issue, error)

	ListActiveRepositories(ctx context.Context, ids []int64) ([]model.Repository, error)
	MarkRepositorySynced(ctx context.Context, id int64, at time.Time) error
}
