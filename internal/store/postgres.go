package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "first-issue-service/internal/errors"
	"first-issue-service/internal/model"
)

const issueColumns = `id, github_issue_id, repository_id, title, description, labels,
programming_language, difficulty, status, claimed_by, claimed_at, claim_expires_at,
github_url, created_at, updated_at`

const (
	selectIssueQuery = `
SELECT ` + issueColumns + ` FROM issues
WHERE id = $1;`

	selectIssuesByRepoQuery = `
SELECT ` + issueColumns + ` FROM issues
WHERE repository_id = $1;`

	insertIssueQuery = `
INSERT INTO issues (github_issue_id, repository_id, title, description, labels,
    programming_language, difficulty, status, github_url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + issueColumns + `;`

	updateIssueContentQuery = `
UPDATE issues
SET title = $2, description = $3, labels = $4, github_url = $5, updated_at = now()
WHERE id = $1;`

	claimIssueQuery = `
UPDATE issues
SET status = 'claimed', claimed_by = $2, claimed_at = $3, claim_expires_at = $4,
    updated_at = now()
WHERE id = $1 AND status = 'available';`

	releaseIssueQuery = `
UPDATE issues
SET status = 'available', claimed_by = NULL, claimed_at = NULL,
    claim_expires_at = NULL, updated_at = now()
WHERE id = $1 AND status = 'claimed' AND claimed_by = $2;`

	releaseExpiredClaimQuery = `
UPDATE issues
SET status = 'available', claimed_by = NULL, claimed_at = NULL,
    claim_expires_at = NULL, updated_at = now()
WHERE id = $1 AND status = 'claimed' AND claimed_by = $2 AND claim_expires_at < $3;`

	extendClaimQuery = `
UPDATE issues
SET claim_expires_at = claim_expires_at + make_interval(days => $3),
    updated_at = now()
WHERE id = $1 AND status = 'claimed' AND claimed_by = $2 AND claim_expires_at > $4
RETURNING claim_expires_at;`

	closeIssueQuery = `
UPDATE issues
SET status = 'closed', updated_at = now()
WHERE id = $1 AND status NOT IN ('closed', 'completed');`

	reopenIssueQuery = `
UPDATE issues
SET status = 'available', claimed_by = NULL, claimed_at = NULL,
    claim_expires_at = NULL, updated_at = now()
WHERE id = $1 AND status = 'closed';`

	selectExpiredClaimsQuery = `
SELECT ` + issueColumns + ` FROM issues
WHERE status = 'claimed' AND claim_expires_at IS NOT NULL AND claim_expires_at < $1
ORDER BY claim_expires_at;`

	selectExpiringClaimsQuery = `
SELECT ` + issueColumns + ` FROM issues
WHERE status = 'claimed' AND claim_expires_at IS NOT NULL
  AND claim_expires_at > $1 AND claim_expires_at <= $2
ORDER BY claim_expires_at;`

	selectActiveReposQuery = `
SELECT id, github_repo_id, full_name, name, description, primary_language,
       topics, stars, forks, is_active, last_synced_at, created_at
FROM repositories
WHERE is_active = TRUE`

	markRepoSyncedQuery = `
UPDATE repositories
SET last_synced_at = $2
WHERE id = $1;`
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

func (p *Postgres) GetIssue(ctx context.Context, id int64) (*model.Issue, error) {
	row := p.pool.QueryRow(ctx, selectIssueQuery, id)
	issue, err := scanIssue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("Issue not found")
		}
		return nil, apperrors.Store(err, "failed to load issue")
	}
	return issue, nil
}

// ListIssues applies the optional filters and returns one page plus the total
// match count.
func (p *Postgres) ListIssues(ctx context.Context, filters model.IssueFilters, page model.Pagination) ([]model.Issue, int, error) {
	where, args := buildIssueFilter(filters)

	var total int
	countQuery := "SELECT count(*) FROM issues" + where
	if err := p.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Store(err, "failed to count issues")
	}

	query := fmt.Sprintf("SELECT %s FROM issues%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		issueColumns, where, len(args)+1, len(args)+2)
	args = append(args, page.PageSize, page.Offset())

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.Store(err, "failed to list issues")
	}
	defer rows.Close()

	issues, err := scanIssues(rows)
	if err != nil {
		return nil, 0, apperrors.Store(err, "failed to scan issues")
	}
	return issues, total, nil
}

func buildIssueFilter(filters model.IssueFilters) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filters.Status != nil {
		add("status = $%d", *filters.Status)
	}
	if filters.Difficulty != nil {
		add("difficulty = $%d", *filters.Difficulty)
	}
	if filters.Language != nil {
		add("programming_language = $%d", *filters.Language)
	}
	if filters.RepositoryID != nil {
		add("repository_id = $%d", *filters.RepositoryID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (p *Postgres) ListIssuesByRepository(ctx context.Context, repositoryID int64) ([]model.Issue, error) {
	rows, err := p.pool.Query(ctx, selectIssuesByRepoQuery, repositoryID)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list repository issues")
	}
	defer rows.Close()

	issues, err := scanIssues(rows)
	if err != nil {
		return nil, apperrors.Store(err, "failed to scan repository issues")
	}
	return issues, nil
}

func (p *Postgres) CreateIssue(ctx context.Context, issue *model.Issue) (*model.Issue, error) {
	row := p.pool.QueryRow(ctx, insertIssueQuery,
		issue.GithubIssueID, issue.RepositoryID, issue.Title, issue.Description,
		issue.Labels, issue.Language, nullableDifficulty(issue.Difficulty),
		issue.Status, issue.GithubURL)
	created, err := scanIssue(row)
	if err != nil {
		return nil, apperrors.Store(err, "failed to create issue")
	}
	return created, nil
}

func (p *Postgres) UpdateIssueContent(ctx context.Context, id int64, title string, description *string, labels []string, url string) error {
	_, err := p.pool.Exec(ctx, updateIssueContentQuery, id, title, description, labels, url)
	if err != nil {
		return apperrors.Store(err, "failed to update issue content")
	}
	return nil
}

func (p *Postgres) ClaimIssue(ctx context.Context, id, userID int64, claimedAt, expiresAt time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx, claimIssueQuery, id, userID, claimedAt, expiresAt)
	if err != nil {
		return false, apperrors.Store(err, "failed to claim issue")
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseIssue clears the lease only while ownerID still holds it. A lease
// that was released or changed hands since the caller read it matches nothing.
func (p *Postgres) ReleaseIssue(ctx context.Context, id, ownerID int64) (bool, error) {
	tag, err := p.pool.Exec(ctx, releaseIssueQuery, id, ownerID)
	if err != nil {
		return false, apperrors.Store(err, "failed to release issue")
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseExpiredClaim is the sweep's release: on top of the owner pin it
// requires the expiry to still be in the past, so a fresh lease taken between
// the sweep's listing and this write survives.
func (p *Postgres) ReleaseExpiredClaim(ctx context.Context, id, ownerID int64, now time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx, releaseExpiredClaimQuery, id, ownerID, now)
	if err != nil {
		return false, apperrors.Store(err, "failed to release expired claim")
	}
	return tag.RowsAffected() == 1, nil
}

// ExtendClaim pushes the expiry forward relative to its current value. A nil
// time with nil error means the guarded update matched no row: not claimed by
// this user anymore, or already expired.
func (p *Postgres) ExtendClaim(ctx context.Context, id, userID int64, days int, now time.Time) (*time.Time, error) {
	var newExpiry time.Time
	err := p.pool.QueryRow(ctx, extendClaimQuery, id, userID, days, now).Scan(&newExpiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.Store(err, "failed to extend claim")
	}
	return &newExpiry, nil
}

func (p *Postgres) CloseIssue(ctx context.Context, id int64) (bool, error) {
	tag, err := p.pool.Exec(ctx, closeIssueQuery, id)
	if err != nil {
		return false, apperrors.Store(err, "failed to close issue")
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) ReopenIssue(ctx context.Context, id int64) (bool, error) {
	tag, err := p.pool.Exec(ctx, reopenIssueQuery, id)
	if err != nil {
		return false, apperrors.Store(err, "failed to reopen issue")
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) ListExpiredClaims(ctx context.Context, now time.Time) ([]model.Issue, error) {
	rows, err := p.pool.Query(ctx, selectExpiredClaimsQuery, now)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list expired claims")
	}
	defer rows.Close()

	issues, err := scanIssues(rows)
	if err != nil {
		return nil, apperrors.Store(err, "failed to scan expired claims")
	}
	return issues, nil
}

func (p *Postgres) ListClaimsExpiringBetween(ctx context.Context, from, to time.Time) ([]model.Issue, error) {
	rows, err := p.pool.Query(ctx, selectExpiringClaimsQuery, from, to)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list expiring claims")
	}
	defer rows.Close()

	issues, err := scanIssues(rows)
	if err != nil {
		return nil, apperrors.Store(err, "failed to scan expiring claims")
	}
	return issues, nil
}

func (p *Postgres) ListActiveRepositories(ctx context.Context, ids []int64) ([]model.Repository, error) {
	query := selectActiveReposQuery
	var args []any
	if len(ids) > 0 {
		query += " AND id = ANY($1)"
		args = append(args, ids)
	}
	query += " ORDER BY id;"

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list repositories")
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		var r model.Repository
		if err := rows.Scan(&r.ID, &r.GithubRepoID, &r.FullName, &r.Name, &r.Description,
			&r.Language, &r.Topics, &r.Stars, &r.Forks, &r.IsActive, &r.LastSyncedAt,
			&r.CreatedAt); err != nil {
			return nil, apperrors.Store(err, "failed to scan repository")
		}
		repos = append(repos, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to read repositories")
	}
	return repos, nil
}

func (p *Postgres) MarkRepositorySynced(ctx context.Context, id int64, at time.Time) error {
	if _, err := p.pool.Exec(ctx, markRepoSyncedQuery, id, at); err != nil {
		return apperrors.Store(err, "failed to update repository sync timestamp")
	}
	return nil
}

func scanIssue(row pgx.Row) (*model.Issue, error) {
	var i model.Issue
	var difficulty *string
	err := row.Scan(&i.ID, &i.GithubIssueID, &i.RepositoryID, &i.Title, &i.Description,
		&i.Labels, &i.Language, &difficulty, &i.Status, &i.ClaimedBy, &i.ClaimedAt,
		&i.ClaimExpiresAt, &i.GithubURL, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if difficulty != nil {
		i.Difficulty = model.Difficulty(*difficulty)
	}
	return &i, nil
}

func scanIssues(rows pgx.Rows) ([]model.Issue, error) {
	var issues []model.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *issue)
	}
	return issues, rows.Err()
}

func nullableDifficulty(d model.Difficulty) *string {
	if d == "" {
		return nil
	}
	s := string(d)
	return &s
}
