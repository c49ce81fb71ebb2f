// Package gateway provides a gateway to the GitHub API,
// abstracting away the underlying REST and GraphQL clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"

	"github.com/naka-gawa/pr-autopilot/internal/domain"
)

const perPage = 100

// PullRequest is the validated subset of a GitHub pull request.
type PullRequest struct {
	ID             int64
	Number         int
	Title          string
	Body           string
	HTMLURL        string
	State          string // "open" or "closed"
	Author         string
	HeadSHA        string
	Draft          bool
	Merged         bool
	Mergeable      *bool // nil while GitHub is still computing mergeability
	MergeableState string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	MergedAt       time.Time
	ClosedAt       time.Time
}

// Comment is an issue (conversation) comment on a pull request.
type Comment struct {
	Author      string
	AuthorIsBot bool
	Body        string
	CreatedAt   time.Time
}

// Review is a submitted pull request review.
type Review struct {
	Author      string
	AuthorIsBot bool
	Body        string
	State       string // APPROVED, CHANGES_REQUESTED, COMMENTED, DISMISSED, PENDING
	SubmittedAt time.Time
}

// CommitStatus is one context of the legacy commit status API.
type CommitStatus struct {
	State       string // error, failure, pending, success
	Context     string
	Description string
}

// CombinedStatus is the legacy aggregate of all commit statuses on a ref.
type CombinedStatus struct {
	State    string
	Statuses []CommitStatus
}

// CheckRun is one check-run attached to a commit. The same name may occur more than once.
type CheckRun struct {
	Name       string
	Status     string // queued, in_progress, completed
	Conclusion string // success, failure, neutral, cancelled, skipped, timed_out, action_required, stale
	StartedAt  time.Time
}

// SearchItem is one result of an issue/PR search.
type SearchItem struct {
	ID            int64
	Number        int
	Title         string
	HTMLURL       string
	IsPullRequest bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Fetcher defines the behavior of a gateway for fetching information from GitHub.
type Fetcher interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error)
	ListIssueComments(ctx context.Context, owner, repo string, number int, since *time.Time) ([]Comment, error)
	ListReviews(ctx context.Context, owner, repo string, number int) ([]Review, error)
	GetCombinedStatus(ctx context.Context, owner, repo, ref string) (*CombinedStatus, error)
	ListCheckRuns(ctx context.Context, owner, repo, ref string) ([]CheckRun, error)
	SearchIssues(ctx context.Context, query string, maxPages int) ([]SearchItem, error)
	// GetReviewDecision uses GraphQL because the REST API does not expose the aggregate decision.
	GetReviewDecision(ctx context.Context, owner, repo string, number int) (domain.ReviewDecision, error)
}

// GitHubGateway is the concrete implementation of the Fetcher interface.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	logger        *log.Logger
}

// reviewDecisionQuery fetches the aggregate review decision of a single PR.
type reviewDecisionQuery struct {
	Repository struct {
		PullRequest struct {
			ReviewDecision *githubv4.PullRequestReviewDecision
		} `graphql:"pullRequest(number: $number)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// NewGitHubGateway is a constructor that creates a new instance of GitHubGateway.
func NewGitHubGateway(token string, logger *log.Logger) (Fetcher, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: ts,
		},
	}
	return &GitHubGateway{
		restClient:    github.NewClient(httpClient),
		graphqlClient: githubv4.NewClient(httpClient),
		logger:        logger,
	}, nil
}

func (g *GitHubGateway) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	pr, _, err := g.restClient.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, classifyError(err, fmt.Sprintf("failed to get pull request %s/%s#%d", owner, repo, number))
	}
	return &PullRequest{
		ID:             pr.GetID(),
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		Body:           pr.GetBody(),
		HTMLURL:        pr.GetHTMLURL(),
		State:          pr.GetState(),
		Author:         pr.GetUser().GetLogin(),
		HeadSHA:        pr.GetHead().GetSHA(),
		Draft:          pr.GetDraft(),
		Merged:         pr.GetMerged(),
		Mergeable:      pr.Mergeable,
		MergeableState: pr.GetMergeableState(),
		CreatedAt:      pr.GetCreatedAt().Time,
		UpdatedAt:      pr.GetUpdatedAt().Time,
		MergedAt:       pr.GetMergedAt().Time,
		ClosedAt:       pr.GetClosedAt().Time,
	}, nil
}

func (g *GitHubGateway) ListIssueComments(ctx context.Context, owner, repo string, number int, since *time.Time) ([]Comment, error) {
	opts := &github.IssueListCommentsOptions{
		Since:       since,
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	var comments []Comment
	for {
		page, resp, err := g.restClient.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, classifyError(err, fmt.Sprintf("failed to list comments on %s/%s#%d", owner, repo, number))
		}
		for _, c := range page {
			if c == nil {
				continue
			}
			login := c.GetUser().GetLogin()
			comments = append(comments, Comment{
				Author:      login,
				AuthorIsBot: isBot(c.GetUser()),
				Body:        c.GetBody(),
				CreatedAt:   c.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return comments, nil
}

func (g *GitHubGateway) ListReviews(ctx context.Context, owner, repo string, number int) ([]Review, error) {
	opts := &github.ListOptions{PerPage: perPage}
	var reviews []Review
	for {
		page, resp, err := g.restClient.PullRequests.ListReviews(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, classifyError(err, fmt.Sprintf("failed to list reviews on %s/%s#%d", owner, repo, number))
		}
		for _, r := range page {
			if r == nil {
				continue
			}
			reviews = append(reviews, Review{
				Author:      r.GetUser().GetLogin(),
				AuthorIsBot: isBot(r.GetUser()),
				Body:        r.GetBody(),
				State:       r.GetState(),
				SubmittedAt: r.GetSubmittedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return reviews, nil
}

func (g *GitHubGateway) GetCombinedStatus(ctx context.Context, owner, repo, ref string) (*CombinedStatus, error) {
	combined, _, err := g.restClient.Repositories.GetCombinedStatus(ctx, owner, repo, ref, &github.ListOptions{PerPage: perPage})
	if err != nil {
		return nil, classifyError(err, fmt.Sprintf("failed to get combined status for %s/%s@%s", owner, repo, ref))
	}
	out := &CombinedStatus{State: combined.GetState()}
	for _, s := range combined.Statuses {
		if s == nil {
			continue
		}
		out.Statuses = append(out.Statuses, CommitStatus{
			State:       s.GetState(),
			Context:     s.GetContext(),
			Description: s.GetDescription(),
		})
	}
	return out, nil
}

func (g *GitHubGateway) ListCheckRuns(ctx context.Context, owner, repo, ref string) ([]CheckRun, error) {
	opts := &github.ListCheckRunsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	var runs []CheckRun
	for {
		result, resp, err := g.restClient.Checks.ListCheckRunsForRef(ctx, owner, repo, ref, opts)
		if err != nil {
			return nil, classifyError(err, fmt.Sprintf("failed to list check runs for %s/%s@%s", owner, repo, ref))
		}
		for _, run := range result.CheckRuns {
			if run == nil {
				continue
			}
			runs = append(runs, CheckRun{
				Name:       run.GetName(),
				Status:     run.GetStatus(),
				Conclusion: run.GetConclusion(),
				StartedAt:  run.GetStartedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return runs, nil
}

// SearchIssues runs an issue/PR search. GitHub never returns more than 1000
// results, so callers cap maxPages at 10.
func (g *GitHubGateway) SearchIssues(ctx context.Context, query string, maxPages int) ([]SearchItem, error) {
	g.logger.Printf("Searching GitHub: %s\n", query)
	opts := &github.SearchOptions{
		Sort:        "updated",
		Order:       "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	var items []SearchItem
	for page := 1; maxPages <= 0 || page <= maxPages; page++ {
		result, resp, err := g.restClient.Search.Issues(ctx, query, opts)
		if err != nil {
			return nil, classifyError(err, "failed to search issues with REST API")
		}
		for _, issue := range result.Issues {
			if issue == nil {
				continue
			}
			items = append(items, SearchItem{
				ID:            issue.GetID(),
				Number:        issue.GetNumber(),
				Title:         issue.GetTitle(),
				HTMLURL:       issue.GetHTMLURL(),
				IsPullRequest: issue.IsPullRequest(),
				CreatedAt:     issue.GetCreatedAt().Time,
				UpdatedAt:     issue.GetUpdatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
		g.logger.Println("  Fetching next page of search results...")
	}
	g.logger.Printf("Search returned %d items.\n", len(items))
	return items, nil
}

func (g *GitHubGateway) GetReviewDecision(ctx context.Context, owner, repo string, number int) (domain.ReviewDecision, error) {
	variables := map[string]interface{}{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(repo),
		"number": githubv4.Int(number),
	}
	var q reviewDecisionQuery
	if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
		return domain.ReviewNone, fmt.Errorf("failed to execute GraphQL query for review decision: %w", err)
	}
	if q.Repository.PullRequest.ReviewDecision == nil {
		return domain.ReviewNone, nil
	}
	return reviewDecisionFromGraphQL(*q.Repository.PullRequest.ReviewDecision), nil
}

func reviewDecisionFromGraphQL(d githubv4.PullRequestReviewDecision) domain.ReviewDecision {
	switch d {
	case githubv4.PullRequestReviewDecisionApproved:
		return domain.ReviewApproved
	case githubv4.PullRequestReviewDecisionChangesRequested:
		return domain.ReviewChangesRequested
	case githubv4.PullRequestReviewDecisionReviewRequired:
		return domain.ReviewRequired
	default:
		return domain.ReviewNone
	}
}

func isBot(u *github.User) bool {
	return u.GetType() == "Bot" || strings.HasSuffix(u.GetLogin(), "[bot]")
}

// classifyError tags REST errors with a domain sentinel so callers can use errors.Is.
func classifyError(err error, op string) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: %s: %w", domain.ErrRateLimited, op, err)
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s: %w", domain.ErrUpstreamAuth, op, err)
		case http.StatusForbidden, http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s: %w", domain.ErrRateLimited, op, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s: %w", domain.ErrNotFound, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
