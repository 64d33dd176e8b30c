package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "first-issue-service/internal/errors"
	"first-issue-service/internal/model"
)

// MockStore is a mock of the store.Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetIssue(ctx context.Context, id int64) (*model.Issue, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(*model.Issue), args.Error(1)
}

func (m *MockStore) ListIssues(ctx context.Context, filters model.IssueFilters, page model.Pagination) ([]model.Issue, int, error) {
	args := m.Called(ctx, filters, page)
	return args.Get(0).([]model.Issue), args.Int(1), args.Error(2)
}

func (m *MockStore) ListIssuesByRepository(ctx context.Context, repositoryID int64) ([]model.Issue, error) {
	args := m.Called(ctx, repositoryID)
	return args.Get(0).([]model.Issue), args.Error(1)
}

func (m *MockStore) CreateIssue(ctx context.Context, issue *model.Issue) (*model.Issue, error) {
	args := m.Called(ctx, issue)
	return args.Get(0).(*model.Issue), args.Error(1)
}

func (m *MockStore) UpdateIssueContent(ctx context.Context, id int64, title string, description *string, labels []string, url string) error {
	args := m.Called(ctx, id, title, description, labels, url)
	return args.Error(0)
}

func (m *MockStore) ClaimIssue(ctx context.Context, id, userID int64, claimedAt, expiresAt time.Time) (bool, error) {
	args := m.Called(ctx, id, userID, claimedAt, expiresAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ReleaseIssue(ctx context.Context, id, ownerID int64) (bool, error) {
	args := m.Called(ctx, id, ownerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ReleaseExpiredClaim(ctx context.Context, id, ownerID int64, now time.Time) (bool, error) {
	args := m.Called(ctx, id, ownerID, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ExtendClaim(ctx context.Context, id, userID int64, days int, now time.Time) (*time.Time, error) {
	args := m.Called(ctx, id, userID, days, now)
	return args.Get(0).(*time.Time), args.Error(1)
}

func (m *MockStore) CloseIssue(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ReopenIssue(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ListExpiredClaims(ctx context.Context, now time.Time) ([]model.Issue, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]model.Issue), args.Error(1)
}

func (m *MockStore) ListClaimsExpiringBetween(ctx context.Context, from, to time.Time) ([]model.Issue, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).([]model.Issue), args.Error(1)
}

func (m *MockStore) ListActiveRepositories(ctx context.Context, ids []int64) ([]model.Repository, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]model.Repository), args.Error(1)
}

func (m *MockStore) MarkRepositorySynced(ctx context.Context, id int64, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// MockTracker is a mock of the Tracker interface.
type MockTracker struct {
	mock.Mock
}

func (m *MockTracker) ListRepositoryIssues(ctx context.Context, owner, name string, labels []string, state string) ([]model.RemoteIssue, error) {
	args := m.Called(ctx, owner, name, labels, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RemoteIssue), args.Error(1)
}

func (m *MockTracker) GetIssue(ctx context.Context, owner, name string, number int) (*model.RemoteIssue, error) {
	args := m.Called(ctx, owner, name, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RemoteIssue), args.Error(1)
}

// MockLifecycle is a mock of the Lifecycle interface.
type MockLifecycle struct {
	mock.Mock
}

func (m *MockLifecycle) MarkClosed(ctx context.Context, issueID int64) (bool, error) {
	args := m.Called(ctx, issueID)
	return args.Bool(0), args.Error(1)
}

func (m *MockLifecycle) Reopen(ctx context.Context, issueID int64) (bool, error) {
	args := m.Called(ctx, issueID)
	return args.Bool(0), args.Error(1)
}

// MockCache records invalidations.
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string) ([]byte, bool) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).([]byte), args.Bool(1)
}

func (m *MockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	m.Called(ctx, key, value, ttl)
}

func (m *MockCache) Delete(ctx context.Context, key string) {
	m.Called(ctx, key)
}

func (m *MockCache) DeletePrefix(ctx context.Context, prefix string) {
	m.Called(ctx, prefix)
}

var beginnerLabels = []string{"good first issue", "help wanted"}

func newTestSyncer(st *MockStore, tracker *MockTracker, lc *MockLifecycle, c *MockCache) *Syncer {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewSyncer(st, tracker, lc, c, logger, beginnerLabels)
}

func testRepo(id int64, fullName string) model.Repository {
	lang := "Go"
	return model.Repository{ID: id, FullName: fullName, Name: "repo", Language: &lang, IsActive: true}
}

func localIssue(id, githubID int64, status model.IssueStatus) model.Issue {
	issue := model.Issue{
		ID:            id,
		GithubIssueID: githubID,
		Status:        status,
		Title:         "local title",
		GithubURL:     fmt.Sprintf("https://github.com/acme/widgets/issues/%d", githubID),
	}
	if status == model.StatusClaimed {
		uid := int64(42)
		at := time.Now().Add(-time.Hour)
		exp := time.Now().Add(48 * time.Hour)
		issue.ClaimedBy = &uid
		issue.ClaimedAt = &at
		issue.ClaimExpiresAt = &exp
	}
	return issue
}

func remoteIssue(id int64, title string, labels ...string) model.RemoteIssue {
	remoteLabels := make([]model.RemoteLabel, len(labels))
	for i, name := range labels {
		remoteLabels[i] = model.RemoteLabel{Name: name}
	}
	return model.RemoteIssue{
		ID:      id,
		Number:  int(id),
		Title:   title,
		State:   "open",
		Labels:  remoteLabels,
		HTMLURL: "https://github.com/acme/widgets/issues/1",
	}
}

func TestSyncer_ClaimedIssuesExemptFromAbsenceClosing(t *testing.T) {
	// Repository has local A (available, in fetch), B (claimed, absent from
	// fetch but still open upstream) and C (available, absent). Only C may be
	// closed by absence; B survives because the per-issue check finds it open.
	ctx := context.Background()
	st, tracker, lc, c := new(MockStore), new(MockTracker), new(MockLifecycle), new(MockCache)
	s := newTestSyncer(st, tracker, lc, c)

	repo := testRepo(1, "acme/widgets")
	st.On("ListActiveRepositories", ctx, []int64(nil)).Return([]model.Repository{repo}, nil).Once()
	tracker.On("ListRepositoryIssues", mock.Anything, "acme", "widgets", beginnerLabels, "open").
		Return([]model.RemoteIssue{remoteIssue(100, "issue A", "good first issue")}, nil).Once()
	st.On("ListIssuesByRepository", mock.Anything, int64(1)).Return([]model.Issue{
		localIssue(1, 100, model.StatusAvailable), // A
		localIssue(2, 200, model.StatusClaimed),   // B
		localIssue(3, 300, model.StatusAvailable), // C
	}, nil).Once()
	st.On("UpdateIssueContent", mock.Anything, int64(1), "issue A", mock.Anything, []string{"good first issue"}, mock.Anything).Return(nil).Once()
	stillOpen := remoteIssue(200, "issue B")
	tracker.On("GetIssue", mock.Anything, "acme", "widgets", 200).Return(&stillOpen, nil).Once()
	lc.On("MarkClosed", mock.Anything, int64(3)).Return(true, nil).Once()
	st.On("MarkRepositorySynced", mock.Anything, int64(1), mock.Anything).Return(nil).Once()
	c.On("DeletePrefix", ctx, "issues:").Once()

	result, err := s.Sync(ctx, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, result.RepositoriesSynced)
	assert.Equal(t, 1, result.IssuesUpdated)
	assert.Equal(t, 1, result.IssuesClosed)
	assert.Empty(t, result.Errors)
	lc.AssertNotCalled(t, "MarkClosed", mock.Anything, int64(1))
	lc.AssertNotCalled(t, "MarkClosed", mock.Anything, int64(2))
	// The available absentee is closed without an individual lookup.
	tracker.AssertNumberOfCalls(t, "GetIssue", 1)
	st.AssertExpectations(t)
	lc.AssertExpectations(t)
}

func TestSyncer_ClaimedIssueClosedUpstreamIsClosedLocally(t *testing.T) {
	// The open snapshot never contains issues the tracker already closed, so
	// a claimed issue missing from it must be checked individually; once the
	// tracker confirms it closed, the local copy closes too instead of the
	// lease running out against a dead issue.
	ctx := context.Background()
	st, tracker, lc, c := new(MockStore), new(MockTracker), new(MockLifecycle), new(MockCache)
	s := newTestSyncer(st, tracker, lc, c)

	repo := testRepo(1, "acme/widgets")
	st.On("ListActiveRepositories", ctx, []int64(nil)).Return([]model.Repository{repo}, nil).Once()
	tracker.On("ListRepositoryIssues", mock.Anything, "acme", "widgets", beginnerLabels, "open").
		Return([]model.RemoteIssue{}, nil).Once()
	st.On("ListIssuesByRepository", mock.Anything, int64(1)).Return([]model.Issue{
		localIssue(2, 200, model.StatusClaimed),
	}, nil).Once()
	closedRemote := remoteIssue(200, "issue B")
	closedRemote.State = "closed"
	tracker.On("GetIssue", mock.Anything, "acme", "widgets", 200).Return(&closedRemote, nil).Once()
	lc.On("MarkClosed", mock.Anything, int64(2)).Return(true, nil).Once()
	st.On("MarkRepositorySynced", mock.Anything, int64(1), mock.Anything).Return(nil).Once()
	c.On("DeletePrefix", ctx, "issues:").Once()

	result, err := s.Sync(ctx, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, result.IssuesClosed)
	assert.Empty(t, result.Errors)
	tracker.AssertExpectations(t)
	lc.AssertExpectations(t)
}

func TestSyncer_ClaimedIssueGoneUpstreamIsClosedLocally(t *testing.T) {
	// An issue number that no longer resolves upstream counts as closed.
	ctx := context.Background()
	st, tracker, lc, c := new(MockStore), new(MockTracker), new(MockLifecycle), new(MockCache)
	s := newTestSyncer(st, tracker, lc, c)

	repo := testRepo(1, "acme/widgets")
	st.On("ListActiveRepositories", ctx, []int64(nil)).Return([]model.Repository{repo}, nil).Once()
	tracker.On("ListRepositoryIssues", mock.Anything, "acme", "widgets", beginnerLabels, "open").
		Return([]model.RemoteIssue{}, nil).Once()
	st.On("ListIssuesByRepository", mock.Anything, int64(1)).Return([]model.Issue{
		localIssue(2, 200, model.StatusClaimed),
	}, nil).Once()
	tracker.On("GetIssue", mock.Anything, "acme", "widgets", 200).Return(nil, nil).Once()
	lc.On("MarkClosed", mock.Anything, int64(2)).Return(true, nil).Once()
	st.On("MarkRepositorySynced", mock.Anything, int64(1), mock.Anything).Return(nil).Once()
	c.On("DeletePrefix", ctx, "issues:").Once()

	result, err := s.Sync(ctx, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, result.IssuesClosed)
	lc.AssertExpectations(t)
}

func TestSyncer_CreatesUnknownIssuesWithInferredDifficulty(t *testing.T) {
	ctx := context.Background()
	st, tracker, lc, c := new(MockStore), new(MockTracker), new(MockLifecycle), new(MockCache)
	s := newTestSyncer(st, tracker, lc, c)

	repo := testRepo(1, "acme/widgets")
	st.On("ListActiveRepositories", ctx, []int64(nil)).Return([]model.Repository{repo}, nil).Once()
	tracker.On("ListRepositoryIssues", mock.Anything, "acme", "widgets", beginnerLabels, "open").
		Return([]model.RemoteIssue{remoteIssue(500, "new issue", "help wanted", "intermediate")}, nil).Once()
	st.On("ListIssuesByRepository", mock.Anything, int64(1)).Return([]model.Issue{}, nil).Once()

	var created *model.Issue
	st.On("CreateIssue", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(1).(*model.Issue)
	}).Return(&model.Issue{ID: 9}, nil).Once()
	st.On("MarkRepositorySynced", mock.Anything, int64(1), mock.Anything).Return(nil).Once()
	c.On("DeletePrefix", ctx, "issues:").Once()

	result, err := s.Sync(ctx, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, result.IssuesAdded)
	require.NotNil(t, created)
	assert.Equal(t, model.StatusAvailable, created.Status)
	assert.Equal(t, model.DifficultyMedium, created.Difficulty)
	assert.Equal(t, int64(500), created.GithubIssueID)
	assert.Equal(t, repo.Language, created.Language)
}

func TestSyncer_ReopensClosedIssueSeenOpenAgain(t *testing.T) {
	ctx := context.Background()
	st, tracker, lc, c := new(MockStore), new(MockTracker), new(MockLifecycle), new(MockCache)
	s := newTestSyncer(st, tracker, lc, c)

	repo := testRepo(1, "acme/widgets")
	st.On("ListActiveRepositories", ctx, []int64(nil)).Return([]model.Repository{repo}, nil).Once()
	tracker.On("ListRepositoryIssues", mock.Anything, "acme", "widgets", beginnerLabels, "open").
		Return([]model.RemoteIssue{remoteIssue(100, "back again")}, nil).Once()
	st.On("ListIssuesByRepository", mock.Anything, int64(1)).Return([]model.Issue{
		localIssue(1, 100, model.StatusClosed),
	}, nil).Once()
	st.On("UpdateIssueContent", mock.Anything, int64(1), "back again", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	lc.On("Reopen", mock.Anything, int64(1)).Return(true, nil).Once()
	st.On("MarkRepositorySynced", mock.Anything, int64(1), mock.Anything).Return(nil).Once()
	c.On("DeletePrefix", ctx, "issues:").Once()

	result, err := s.Sync(ctx, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, result.IssuesReopened)
	lc.AssertExpectations(t)
}

func TestSyncer_OneRepositoryFailureDoesNotAbortOthers(t *testing.T) {
	ctx := context.Background()
	st, tracker, lc, c := new(MockStore), new(MockTracker), new(MockLifecycle), new(MockCache)
	s := newTestSyncer(st, tracker, lc, c)

	broken := testRepo(1, "acme/broken")
	healthy := testRepo(2, "acme/healthy")
	st.On("ListActiveRepositories", ctx, []int64(nil)).Return([]model.Repository{broken, healthy}, nil).Once()

	tracker.On("ListRepositoryIssues", mock.Anything, "acme", "broken", beginnerLabels, "open").
		Return(nil, apperrors.RateLimitExceeded("GitHub API rate limit exceeded")).Once()
	tracker.On("ListRepositoryIssues", mock.Anything, "acme", "healthy", beginnerLabels, "open").
		Return([]model.RemoteIssue{}, nil).Once()
	st.On("ListIssuesByRepository", mock.Anything, int64(2)).Return([]model.Issue{}, nil).Once()
	st.On("MarkRepositorySynced", mock.Anything, int64(2), mock.Anything).Return(nil).Once()
	c.On("DeletePrefix", ctx, "issues:").Once()

	result, err := s.Sync(ctx, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, result.RepositoriesSynced)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "acme/broken")
	st.AssertNotCalled(t, "MarkRepositorySynced", mock.Anything, int64(1), mock.Anything)
}

func TestSyncer_NoActiveRepositories(t *testing.T) {
	ctx := context.Background()
	st, tracker, lc, c := new(MockStore), new(MockTracker), new(MockLifecycle), new(MockCache)
	s := newTestSyncer(st, tracker, lc, c)

	st.On("ListActiveRepositories", ctx, []int64(nil)).Return([]model.Repository{}, nil).Once()

	result, err := s.Sync(ctx, nil)

	require.NoError(t, err)
	assert.Zero(t, result.RepositoriesSynced)
	tracker.AssertNotCalled(t, "ListRepositoryIssues")
	c.AssertNotCalled(t, "DeletePrefix")
}
