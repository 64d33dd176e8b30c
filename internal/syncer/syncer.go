package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"first-issue-service/internal/cache"
	"first-issue-service/internal/github"
	"first-issue-service/internal/model"
	"first-issue-service/internal/store"
)

const (
	// Number of repositories to sync in parallel
	concurrency = 5
)

// Tracker is the slice of the external tracker client the syncer needs.
// GetIssue returns nil without error when the number no longer resolves to an
// issue upstream.
type Tracker interface {
	ListRepositoryIssues(ctx context.Context, owner, name string, labels []string, state string) ([]model.RemoteIssue, error)
	GetIssue(ctx context.Context, owner, name string, number int) (*model.RemoteIssue, error)
}

// Lifecycle is the closing/reopening path owned by the claim lifecycle
// manager. The syncer never mutates issue status directly; those transitions
// carry invariants the manager enforces.
type Lifecycle interface {
	MarkClosed(ctx context.Context, issueID int64) (bool, error)
	Reopen(ctx context.Context, issueID int64) (bool, error)
}

// Syncer reconciles the local issue set of each tracked repository against
// the tracker's current snapshot of open beginner-friendly issues.
type Syncer struct {
	store          store.Store
	tracker        Tracker
	lifecycle      Lifecycle
	cache          cache.Cache
	logger         *slog.Logger
	beginnerLabels []string

	now func() time.Time
}

func NewSyncer(st store.Store, tracker Tracker, lc Lifecycle, c cache.Cache, logger *slog.Logger, beginnerLabels []string) *Syncer {
	return &Syncer{
		store:          st,
		tracker:        tracker,
		lifecycle:      lc,
		cache:          c,
		logger:         logger,
		beginnerLabels: beginnerLabels,
		now:            time.Now,
	}
}

// Sync reconciles the given repositories, or every active repository when
// repositoryIDs is empty. Repositories run concurrently with a bounded
// limit; one repository's failure is recorded and the rest proceed.
func (s *Syncer) Sync(ctx context.Context, repositoryIDs []int64) (*model.SyncResult, error) {
	start := s.now()
	result := &model.SyncResult{Errors: []string{}}

	repos, err := s.store.ListActiveRepositories(ctx, repositoryIDs)
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		s.logger.Warn("No active repositories found for synchronization")
		result.Duration = s.now().Sub(start).Seconds()
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, repo := range repos {
		repo := repo
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			counters, err := s.syncRepository(gctx, repo)

			mu.Lock()
			defer mu.Unlock()
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Failed to sync repository", "repo", repo.FullName, "error", err)
				result.Errors = append(result.Errors, fmt.Sprintf("failed to sync %s: %v", repo.FullName, err))
				return nil
			}
			result.RepositoriesSynced++
			result.IssuesAdded += counters.added
			result.IssuesUpdated += counters.updated
			result.IssuesClosed += counters.closed
			result.IssuesReopened += counters.reopened
			return nil
		})
	}
	_ = g.Wait()

	// One coarse invalidation per run; per-issue precision buys nothing here.
	s.cache.DeletePrefix(ctx, cache.IssuesPrefix)

	result.Duration = s.now().Sub(start).Seconds()
	s.logger.Info("Sync cycle finished",
		"repositories", result.RepositoriesSynced,
		"added", result.IssuesAdded,
		"updated", result.IssuesUpdated,
		"closed", result.IssuesClosed,
		"reopened", result.IssuesReopened,
		"errors", len(result.Errors),
		"duration_seconds", result.Duration)

	return result, nil
}

type repoCounters struct {
	added, updated, closed, reopened int
}

// syncRepository reconciles one repository against the tracker's open-issue
// snapshot. Known issues get content updates, unknown ones are created, and
// issues missing from the snapshot are closed. Claimed issues are the
// exception: a stale fetch must not destroy an in-flight lease, so a missing
// claimed issue is only closed after a per-issue status check confirms the
// tracker closed it.
func (s *Syncer) syncRepository(ctx context.Context, repo model.Repository) (repoCounters, error) {
	var counters repoCounters
	logger := s.logger.With("repo", repo.FullName)
	logger.Info("Syncing repository")

	owner, name, err := splitFullName(repo.FullName)
	if err != nil {
		return counters, err
	}

	remoteIssues, err := s.tracker.ListRepositoryIssues(ctx, owner, name, s.beginnerLabels, "open")
	if err != nil {
		return counters, err
	}

	localIssues, err := s.store.ListIssuesByRepository(ctx, repo.ID)
	if err != nil {
		return counters, err
	}
	existing := make(map[int64]model.Issue, len(localIssues))
	for _, issue := range localIssues {
		existing[issue.GithubIssueID] = issue
	}

	for _, remote := range remoteIssues {
		local, known := existing[remote.ID]
		if !known {
			if err := s.createIssue(ctx, repo, remote); err != nil {
				return counters, err
			}
			counters.added++
			continue
		}
		delete(existing, remote.ID)

		if err := s.store.UpdateIssueContent(ctx, local.ID, remote.Title, remote.Body, remote.LabelNames(), remote.HTMLURL); err != nil {
			return counters, err
		}

		switch {
		case remote.State == "closed" && local.Status != model.StatusClosed:
			closed, err := s.lifecycle.MarkClosed(ctx, local.ID)
			if err != nil {
				return counters, err
			}
			if closed {
				counters.closed++
			}
		case local.Status == model.StatusClosed && remote.State == "open":
			// The tracker reopened an issue we had closed.
			reopened, err := s.lifecycle.Reopen(ctx, local.ID)
			if err != nil {
				return counters, err
			}
			if reopened {
				counters.reopened++
			}
		default:
			counters.updated++
		}
	}

	// Whatever is left was not in the open snapshot: no longer open upstream.
	// Absence alone never closes a claimed issue; those get an explicit
	// status check so a lease only dies when the tracker really closed the
	// issue underneath it.
	for _, issue := range existing {
		if issue.Status == model.StatusClosed {
			continue
		}
		if issue.Status == model.StatusClaimed {
			confirmed, err := s.closedUpstream(ctx, owner, name, issue)
			if err != nil {
				return counters, err
			}
			if !confirmed {
				continue
			}
		}
		closed, err := s.lifecycle.MarkClosed(ctx, issue.ID)
		if err != nil {
			return counters, err
		}
		if closed {
			counters.closed++
		}
	}

	if err := s.store.MarkRepositorySynced(ctx, repo.ID, s.now().UTC()); err != nil {
		return counters, err
	}

	logger.Info("Repository synced",
		"added", counters.added, "updated", counters.updated,
		"closed", counters.closed, "reopened", counters.reopened)
	return counters, nil
}

// closedUpstream asks the tracker for the issue's current state. An issue
// that no longer resolves upstream counts as closed.
func (s *Syncer) closedUpstream(ctx context.Context, owner, name string, issue model.Issue) (bool, error) {
	_, _, number, ok := github.ParseIssueURL(issue.GithubURL)
	if !ok {
		return false, fmt.Errorf("cannot determine issue number from %q", issue.GithubURL)
	}
	remote, err := s.tracker.GetIssue(ctx, owner, name, number)
	if err != nil {
		return false, err
	}
	return remote == nil || remote.State == "closed", nil
}

func (s *Syncer) createIssue(ctx context.Context, repo model.Repository, remote model.RemoteIssue) error {
	labels := remote.LabelNames()
	issue := &model.Issue{
		GithubIssueID: remote.ID,
		RepositoryID:  repo.ID,
		Title:         remote.Title,
		Description:   remote.Body,
		Labels:        labels,
		Language:      repo.Language,
		Difficulty:    model.InferDifficulty(labels),
		Status:        model.StatusAvailable,
		GithubURL:     remote.HTMLURL,
	}
	_, err := s.store.CreateIssue(ctx, issue)
	return err
}

func splitFullName(fullName string) (owner, name string, err error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository full name: %q, expected 'owner/name'", fullName)
	}
	return parts[0], parts[1], nil
}
