package model

import "time"

// IssueStatus is the lifecycle state of an issue.
type IssueStatus string

const (
	StatusAvailable IssueStatus = "available"
	StatusClaimed   IssueStatus = "claimed"
	StatusCompleted IssueStatus = "completed"
	StatusClosed    IssueStatus = "closed"
)

// Difficulty buckets an issue by how hard it looks from its labels. An empty
// value means unknown and is treated as easy for lease purposes.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Issue is the central entity: a beginner-friendly issue imported from the
// tracker, optionally leased to one user at a time.
//
// The claim triple (ClaimedBy, ClaimedAt, ClaimExpiresAt) is all-nil exactly
// when Status != claimed, except for issues the tracker closed out from under
// a claimant: those keep the triple so the claimant stays identifiable.
type Issue struct {
	ID             int64       `json:"id"`
	GithubIssueID  int64       `json:"github_issue_id"`
	RepositoryID   int64       `json:"repository_id"`
	Title          string      `json:"title"`
	Description    *string     `json:"description,omitempty"`
	Labels         []string    `json:"labels"`
	Language       *string     `json:"programming_language,omitempty"`
	Difficulty     Difficulty  `json:"difficulty,omitempty"`
	Status         IssueStatus `json:"status"`
	ClaimedBy      *int64      `json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time  `json:"claimed_at,omitempty"`
	ClaimExpiresAt *time.Time  `json:"claim_expires_at,omitempty"`
	GithubURL      string      `json:"github_url"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// ClaimExpired reports whether the issue holds a lease that has run out.
func (i *Issue) ClaimExpired(now time.Time) bool {
	return i.Status == StatusClaimed && i.ClaimExpiresAt != nil && i.ClaimExpiresAt.Before(now)
}

// Repository is a tracked external project. Deleting one cascades to its
// issues at the database level.
type Repository struct {
	ID           int64      `json:"id"`
	GithubRepoID int64      `json:"github_repo_id"`
	FullName     string     `json:"full_name"`
	Name         string     `json:"name"`
	Description  *string    `json:"description,omitempty"`
	Language     *string    `json:"primary_language,omitempty"`
	Topics       []string   `json:"topics"`
	Stars        int        `json:"stars"`
	Forks        int        `json:"forks"`
	IsActive     bool       `json:"is_active"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RemoteLabel is a tracker-side label.
type RemoteLabel struct {
	Name        string  `json:"name"`
	Color       string  `json:"color"`
	Description *string `json:"description,omitempty"`
}

// RemoteIssue is the tracker's view of an issue, already filtered down to the
// fields the synchronizer needs.
type RemoteIssue struct {
	ID      int64
	Number  int
	Title   string
	Body    *string
	State   string // "open" or "closed"
	Labels  []RemoteLabel
	HTMLURL string
}

// LabelNames returns the label names in order.
func (r *RemoteIssue) LabelNames() []string {
	names := make([]string, len(r.Labels))
	for i, l := range r.Labels {
		names[i] = l.Name
	}
	return names
}

// RemotePR holds the facts about a pull request the contribution flow needs.
type RemotePR struct {
	Number      int
	AuthorLogin string
	State       string
	Merged      bool
	Body        *string
	HTMLURL     string
}

// PRValidation is the result of checking a submitted pull request URL.
type PRValidation struct {
	IsValid      bool   `json:"is_valid"`
	PRNumber     int    `json:"pr_number"`
	PRURL        string `json:"pr_url"`
	Author       string `json:"author"`
	IsMerged     bool   `json:"is_merged"`
	State        string `json:"state,omitempty"`
	LinkedIssue  *int   `json:"linked_issue,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// RateLimitInfo mirrors the tracker's quota headers as of the last response.
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

// ClaimResult is returned by the claim operation.
type ClaimResult struct {
	Success        bool       `json:"success"`
	Message        string     `json:"message"`
	IssueID        int64      `json:"issue_id,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`
}

// ReleaseResult is returned by the release operation.
type ReleaseResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	IssueID int64  `json:"issue_id,omitempty"`
}

// ExtensionResult is returned by the deadline extension operation.
type ExtensionResult struct {
	Success       bool       `json:"success"`
	Message       string     `json:"message"`
	IssueID       int64      `json:"issue_id,omitempty"`
	NewExpiration *time.Time `json:"new_expiration,omitempty"`
}

// SweepResult reports one pass of the expired-claim sweep. Errors are
// per-issue; a failure on one issue never aborts the sweep.
type SweepResult struct {
	ReleasedCount int      `json:"released_count"`
	IssueIDs      []int64  `json:"issue_ids"`
	Errors        []string `json:"errors"`
}

// SyncResult reports one synchronization run across repositories.
type SyncResult struct {
	RepositoriesSynced int      `json:"repositories_synced"`
	IssuesAdded        int      `json:"issues_added"`
	IssuesUpdated      int      `json:"issues_updated"`
	IssuesClosed       int      `json:"issues_closed"`
	IssuesReopened     int      `json:"issues_reopened"`
	Errors             []string `json:"errors"`
	Duration           float64  `json:"sync_duration_seconds"`
}

// IssueFilters narrows the issue listing.
type IssueFilters struct {
	Status       *IssueStatus
	Difficulty   *Difficulty
	Language     *string
	RepositoryID *int64
}

// Pagination bounds a listing query.
type Pagination struct {
	Page     int
	PageSize int
}

func (p Pagination) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}
