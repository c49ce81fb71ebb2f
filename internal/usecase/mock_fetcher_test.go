package usecase

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/naka-gawa/pr-autopilot/internal/domain"
	"github.com/naka-gawa/pr-autopilot/internal/gateway"
)

// mockFetcher is a mock implementation of the gateway.Fetcher interface.
// It allows us to simulate the behavior of the GitHub gateway without making real API calls.
type mockFetcher struct {
	mock.Mock
}

var _ gateway.Fetcher = (*mockFetcher)(nil)

func (m *mockFetcher) GetPullRequest(ctx context.Context, owner, repo string, number int) (*gateway.PullRequest, error) {
	args := m.Called(ctx, owner, repo, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PullRequest), args.Error(1)
}

func (m *mockFetcher) ListIssueComments(ctx context.Context, owner, repo string, number int, since *time.Time) ([]gateway.Comment, error) {
	args := m.Called(ctx, owner, repo, number, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]gateway.Comment), args.Error(1)
}

func (m *mockFetcher) ListReviews(ctx context.Context, owner, repo string, number int) ([]gateway.Review, error) {
	args := m.Called(ctx, owner, repo, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]gateway.Review), args.Error(1)
}

func (m *mockFetcher) GetCombinedStatus(ctx context.Context, owner, repo, ref string) (*gateway.CombinedStatus, error) {
	args := m.Called(ctx, owner, repo, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.CombinedStatus), args.Error(1)
}

func (m *mockFetcher) ListCheckRuns(ctx context.Context, owner, repo, ref string) ([]gateway.CheckRun, error) {
	args := m.Called(ctx, owner, repo, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]gateway.CheckRun), args.Error(1)
}

func (m *mockFetcher) SearchIssues(ctx context.Context, query string, maxPages int) ([]gateway.SearchItem, error) {
	args := m.Called(ctx, query, maxPages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]gateway.SearchItem), args.Error(1)
}

func (m *mockFetcher) GetReviewDecision(ctx context.Context, owner, repo string, number int) (domain.ReviewDecision, error) {
	args := m.Called(ctx, owner, repo, number)
	return args.Get(0).(domain.ReviewDecision), args.Error(1)
}

// fixedClock always returns the same instant.
type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
