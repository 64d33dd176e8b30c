package github

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	apperrors "first-issue-service/internal/errors"
	"first-issue-service/internal/model"
)

const (
	// Cap on a single tracker round-trip, pagination excluded. A slow remote
	// must fail one unit of work, not stall a whole sync batch.
	requestTimeout = 30 * time.Second

	perPage = 100
)

// Closing-keyword patterns for recovering the issue a PR claims to resolve.
// Tried in order; the bare "#N" form is the fallback.
var linkedIssuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:fix|fixes|fixed|close|closes|closed|resolve|resolves|resolved)\s+#(\d+)`),
	regexp.MustCompile(`#(\d+)`),
}

// Client wraps the go-github client with quota tracking and error
// translation. It reports facts about the tracker and makes no business
// decisions.
type Client struct {
	gh     *github.Client
	logger *slog.Logger

	mu   sync.Mutex
	rate *model.RateLimitInfo
}

// NewClient creates and configures a new Client instance. An empty token
// yields an unauthenticated client, which works for public repositories.
func NewClient(token string, logger *slog.Logger) *Client {
	httpClient := http.DefaultClient
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	return &Client{
		gh:     github.NewClient(httpClient),
		logger: logger,
	}
}

// ListRepositoryIssues fetches open (or closed, per state) issues carrying at
// least one of the given labels, handling pagination transparently. Pull
// requests, which the tracker reports through the same endpoint, are dropped.
//
// The tracker treats the label list as a conjunction, so each label is
// queried separately and the results are merged by issue id.
func (c *Client) ListRepositoryIssues(ctx context.Context, owner, name string, labels []string, state string) ([]model.RemoteIssue, error) {
	if err := c.checkQuota(); err != nil {
		return nil, err
	}

	if len(labels) == 0 {
		return c.listIssuesByLabel(ctx, owner, name, nil, state)
	}

	seen := make(map[int64]bool)
	var all []model.RemoteIssue
	for _, label := range labels {
		issues, err := c.listIssuesByLabel(ctx, owner, name, []string{label}, state)
		if err != nil {
			return nil, err
		}
		for _, issue := range issues {
			if !seen[issue.ID] {
				seen[issue.ID] = true
				all = append(all, issue)
			}
		}
	}
	return all, nil
}

func (c *Client) listIssuesByLabel(ctx context.Context, owner, name string, labels []string, state string) ([]model.RemoteIssue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       state,
		Labels:      labels,
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var all []model.RemoteIssue
	for {
		c.logger.Debug("Fetching issues page", "owner", owner, "repo", name, "page", opts.Page)

		callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		issues, resp, err := c.gh.Issues.ListByRepo(callCtx, owner, name, opts)
		cancel()
		c.recordRate(resp)
		if err != nil {
			return nil, c.translateError(err, "failed to list issues for %s/%s", owner, name)
		}

		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			all = append(all, toRemoteIssue(issue))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// GetIssue fetches a single issue by number. Returns nil without error when
// the number does not exist or refers to a pull request.
func (c *Client) GetIssue(ctx context.Context, owner, name string, number int) (*model.RemoteIssue, error) {
	if err := c.checkQuota(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	issue, resp, err := c.gh.Issues.Get(callCtx, owner, name, number)
	c.recordRate(resp)
	if err != nil {
		translated := c.translateError(err, "failed to get issue %s/%s#%d", owner, name, number)
		if apperrors.IsKind(translated, apperrors.KindNotFound) {
			return nil, nil
		}
		return nil, translated
	}
	if issue.IsPullRequest() {
		return nil, nil
	}

	remote := toRemoteIssue(issue)
	return &remote, nil
}

// GetPullRequest fetches a pull request by number.
func (c *Client) GetPullRequest(ctx context.Context, owner, name string, number int) (*model.RemotePR, error) {
	if err := c.checkQuota(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	pr, resp, err := c.gh.PullRequests.Get(callCtx, owner, name, number)
	c.recordRate(resp)
	if err != nil {
		return nil, c.translateError(err, "failed to get pull request %s/%s#%d", owner, name, number)
	}

	return &model.RemotePR{
		Number:      pr.GetNumber(),
		AuthorLogin: pr.GetUser().GetLogin(),
		State:       pr.GetState(),
		Merged:      pr.GetMerged(),
		Body:        pr.Body,
		HTMLURL:     pr.GetHTMLURL(),
	}, nil
}

// ValidatePullRequest parses a PR URL, fetches the pull request and reports
// author, merged flag, state and the best-effort linked issue number. Parse
// failures and missing PRs come back as an invalid validation, not an error.
func (c *Client) ValidatePullRequest(ctx context.Context, prURL, expectedUser string) (*model.PRValidation, error) {
	owner, name, number, ok := ParsePullRequestURL(prURL)
	if !ok {
		return &model.PRValidation{
			IsValid:      false,
			PRURL:        prURL,
			ErrorMessage: "Invalid pull request URL format",
		}, nil
	}

	pr, err := c.GetPullRequest(ctx, owner, name, number)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return &model.PRValidation{
				IsValid:      false,
				PRNumber:     number,
				PRURL:        prURL,
				ErrorMessage: "Pull request not found",
			}, nil
		}
		return nil, err
	}

	valid := strings.EqualFold(pr.AuthorLogin, expectedUser)
	result := &model.PRValidation{
		IsValid:     valid,
		PRNumber:    number,
		PRURL:       prURL,
		Author:      pr.AuthorLogin,
		IsMerged:    pr.Merged,
		State:       pr.State,
		LinkedIssue: ExtractLinkedIssue(pr.Body),
	}
	if !valid {
		result.ErrorMessage = "Pull request author '" + pr.AuthorLogin + "' does not match expected user '" + expectedUser + "'"
	}
	return result, nil
}

// ParsePullRequestURL recovers (owner, repo, number) from a URL of the form
// https://github.com/{owner}/{repo}/pull/{number}.
func ParsePullRequestURL(prURL string) (owner, repo string, number int, ok bool) {
	trimmed := strings.TrimSuffix(prURL, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 7 || parts[len(parts)-2] != "pull" {
		return "", "", 0, false
	}
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || n <= 0 {
		return "", "", 0, false
	}
	owner = parts[len(parts)-4]
	repo = parts[len(parts)-3]
	if owner == "" || repo == "" {
		return "", "", 0, false
	}
	return owner, repo, n, true
}

// ParseIssueURL recovers (owner, repo, number) from a URL of the form
// https://github.com/{owner}/{repo}/issues/{number}.
func ParseIssueURL(issueURL string) (owner, repo string, number int, ok bool) {
	trimmed := strings.TrimSuffix(issueURL, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 7 || parts[len(parts)-2] != "issues" {
		return "", "", 0, false
	}
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || n <= 0 {
		return "", "", 0, false
	}
	owner = parts[len(parts)-4]
	repo = parts[len(parts)-3]
	if owner == "" || repo == "" {
		return "", "", 0, false
	}
	return owner, repo, n, true
}

// ExtractLinkedIssue pulls the first issue reference out of a PR body.
func ExtractLinkedIssue(body *string) *int {
	if body == nil {
		return nil
	}
	for _, pattern := range linkedIssuePatterns {
		if m := pattern.FindStringSubmatch(*body); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return &n
			}
		}
	}
	return nil
}

// RateLimitStatus returns the quota snapshot from the most recent response,
// or nil before the first call.
func (c *Client) RateLimitStatus() *model.RateLimitInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rate == nil {
		return nil
	}
	snapshot := *c.rate
	return &snapshot
}

// checkQuota fails fast once the quota is known to be exhausted, until the
// tracker-announced reset time passes.
func (c *Client) checkQuota() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rate != nil && c.rate.Remaining == 0 && time.Now().Before(c.rate.Reset) {
		wait := time.Until(c.rate.Reset).Round(time.Second)
		return apperrors.RateLimitExceeded("GitHub API rate limit exceeded, resets in %s", wait)
	}
	return nil
}

func (c *Client) recordRate(resp *github.Response) {
	if resp == nil {
		return
	}
	c.mu.Lock()
	c.rate = &model.RateLimitInfo{
		Limit:     resp.Rate.Limit,
		Remaining: resp.Rate.Remaining,
		Reset:     resp.Rate.Reset.Time,
	}
	remaining := resp.Rate.Remaining
	c.mu.Unlock()

	if remaining > 0 && remaining < 100 {
		c.logger.Warn("GitHub API rate limit low", "remaining", remaining)
	}
}

// translateError maps go-github failures onto the local error taxonomy.
func (c *Client) translateError(err error, format string, args ...any) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return apperrors.RateLimitExceeded("GitHub API rate limit exceeded, resets at %s", rateErr.Rate.Reset.Format(time.RFC3339))
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusNotFound:
			return apperrors.NotFound("GitHub resource not found")
		case http.StatusUnauthorized:
			return apperrors.ExternalService(err, "GitHub authentication failed: invalid or expired token")
		}
	}

	return apperrors.ExternalService(err, format, args...)
}

func toRemoteIssue(issue *github.Issue) model.RemoteIssue {
	labels := make([]model.RemoteLabel, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, model.RemoteLabel{
			Name:        l.GetName(),
			Color:       l.GetColor(),
			Description: l.Description,
		})
	}
	return model.RemoteIssue{
		ID:      issue.GetID(),
		Number:  issue.GetNumber(),
		Title:   issue.GetTitle(),
		Body:    issue.Body,
		State:   issue.GetState(),
		Labels:  labels,
		HTMLURL: issue.GetHTMLURL(),
	}
}
