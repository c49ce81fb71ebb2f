// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/pr-autopilot/internal/domain"
	"github.com/naka-gawa/pr-autopilot/internal/gateway"
)

// MaxSearchPages caps search pagination: GitHub search never returns more
// than 1000 results (10 pages of 100).
const MaxSearchPages = 10

// FetchResult is the classified snapshot of a user's open PRs.
type FetchResult struct {
	PRs      []domain.FetchedPR
	Failures []domain.PartialFetchFailure
}

// FetchOptions tunes PRFetcher.
type FetchOptions struct {
	Concurrency int
	TaskTimeout time.Duration
}

// PRFetcher is the use case for fetching and classifying open pull requests.
// It orchestrates the gateway, the CI resolver and the status classifier.
type PRFetcher struct {
	fetcher gateway.Fetcher
	ci      *CIResolver
	clock   domain.Clock
	logger  *log.Logger
	opts    FetchOptions
}

// NewPRFetcher creates a new PRFetcher instance.
func NewPRFetcher(fetcher gateway.Fetcher, clock domain.Clock, logger *log.Logger, opts FetchOptions) *PRFetcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &PRFetcher{
		fetcher: fetcher,
		ci:      NewCIResolver(fetcher, logger),
		clock:   clock,
		logger:  logger,
		opts:    opts,
	}
}

// FetchUserOpenPRs searches every open PR authored by cfg.GithubUsername,
// classifies each one and returns them sorted by status priority.
// Per-PR errors are collected into Failures; authentication errors abort.
func (f *PRFetcher) FetchUserOpenPRs(ctx context.Context, cfg domain.Config) (*FetchResult, error) {
	if cfg.GithubUsername == "" {
		return nil, domain.ErrMissingUsername
	}
	cfg.Normalize()
	f.logger.Printf("Usecase: Fetching open pull requests for %s...\n", cfg.GithubUsername)

	urls, err := f.SearchOpenPRURLs(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tasks := make([]Task[*domain.FetchedPR], len(urls))
	for i, url := range urls {
		tasks[i] = func(ctx context.Context) (*domain.FetchedPR, error) {
			return f.FetchPRDetails(ctx, url, cfg)
		}
	}
	settled := RunLimited(ctx, LimitOptions{Limit: f.opts.Concurrency, TaskTimeout: f.opts.TaskTimeout}, tasks)

	result := &FetchResult{
		PRs:      make([]domain.FetchedPR, 0, len(settled.Results)),
		Failures: make([]domain.PartialFetchFailure, 0, len(settled.Failures)),
	}
	for _, failure := range settled.Failures {
		if errors.Is(failure.Err, domain.ErrUpstreamAuth) {
			return nil, failure.Err
		}
		f.logger.Printf("Warning: failed to fetch %s: %v\n", urls[failure.Index], failure.Err)
		result.Failures = append(result.Failures, domain.PartialFetchFailure{URL: urls[failure.Index], Err: failure.Err})
	}
	// Results arrive in search order; the stable sort keeps it for equal statuses.
	for _, r := range settled.Results {
		result.PRs = append(result.PRs, *r.Value)
	}
	SortByStatus(result.PRs)

	f.logger.Printf("Usecase: Classified %d pull requests (%d failures).\n", len(result.PRs), len(result.Failures))
	return result, nil
}

// SearchOpenPRURLs returns the URLs of open PRs authored by the user,
// excluding the user's own repositories and the configured exclusions.
func (f *PRFetcher) SearchOpenPRURLs(ctx context.Context, cfg domain.Config) ([]string, error) {
	items, err := f.SearchOpenPRs(ctx, cfg)
	if err != nil {
		return nil, err
	}
	urls := make([]string, len(items))
	for i, item := range items {
		urls[i] = item.HTMLURL
	}
	return urls, nil
}

// SearchOpenPRs is SearchOpenPRURLs returning the search results themselves.
func (f *PRFetcher) SearchOpenPRs(ctx context.Context, cfg domain.Config) ([]gateway.SearchItem, error) {
	if cfg.GithubUsername == "" {
		return nil, domain.ErrMissingUsername
	}
	query := fmt.Sprintf("is:pr is:open author:%s archived:false", cfg.GithubUsername)
	items, err := f.fetcher.SearchIssues(ctx, query, MaxSearchPages)
	if err != nil {
		return nil, err
	}
	var kept []gateway.SearchItem
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if !item.IsPullRequest || seen[item.HTMLURL] {
			continue
		}
		ref, err := domain.ParsePRURL(item.HTMLURL)
		if err != nil {
			f.logger.Printf("Warning: skipping search result with unexpected URL %q\n", item.HTMLURL)
			continue
		}
		if isExcluded(ref, cfg) {
			continue
		}
		seen[item.HTMLURL] = true
		kept = append(kept, item)
	}
	return kept, nil
}

func isExcluded(ref domain.PRRef, cfg domain.Config) bool {
	if strings.EqualFold(ref.Owner, cfg.GithubUsername) {
		return true
	}
	for _, org := range cfg.ExcludeOrgs {
		if strings.EqualFold(ref.Owner, org) {
			return true
		}
	}
	for _, repo := range cfg.ExcludeRepos {
		if strings.EqualFold(ref.FullName(), repo) {
			return true
		}
	}
	return false
}

// FetchPRDetails fetches one PR with its conversation and CI and classifies it.
func (f *PRFetcher) FetchPRDetails(ctx context.Context, url string, cfg domain.Config) (*domain.FetchedPR, error) {
	ref, err := domain.ParsePRURL(url)
	if err != nil {
		return nil, err
	}
	cfg.Normalize()

	var (
		pr          *gateway.PullRequest
		comments    []gateway.Comment
		reviews     []gateway.Review
		decision    domain.ReviewDecision
		decisionErr error
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		pr, err = f.fetcher.GetPullRequest(egCtx, ref.Owner, ref.Repo, ref.Number)
		return err
	})
	eg.Go(func() error {
		var err error
		comments, err = f.fetcher.ListIssueComments(egCtx, ref.Owner, ref.Repo, ref.Number, nil)
		return err
	})
	eg.Go(func() error {
		var err error
		reviews, err = f.fetcher.ListReviews(egCtx, ref.Owner, ref.Repo, ref.Number)
		return err
	})
	eg.Go(func() error {
		// A failed GraphQL lookup falls back to the REST reviews below.
		decision, decisionErr = f.fetcher.GetReviewDecision(egCtx, ref.Owner, ref.Repo, ref.Number)
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if decisionErr != nil {
		f.logger.Printf("Review decision lookup failed for %s, deriving from reviews: %v\n", ref, decisionErr)
		decision = DeriveReviewDecision(reviews)
	}

	ci := f.ci.Resolve(ctx, ref.Owner, ref.Repo, pr.HeadSHA)
	unresponded := FindUnrespondedComment(cfg.GithubUsername, comments, reviews)
	checklist := ChecklistFromBody(pr.Body)
	days := DaysSince(pr.UpdatedAt, f.clock.Now())

	status := domain.DetermineStatus(domain.StatusSignals{
		CI:                     ci.Status,
		HasMergeConflict:       hasMergeConflict(pr),
		HasUnrespondedComment:  unresponded != nil,
		HasIncompleteChecklist: checklist != nil && checklist.Incomplete(),
		ReviewDecision:         decision,
		DaysSinceActivity:      days,
		DormantThreshold:       cfg.DormantThresholdDays,
		ApproachingThreshold:   cfg.ApproachingDormantDays,
	})

	htmlURL := pr.HTMLURL
	if htmlURL == "" {
		htmlURL = url
	}
	return &domain.FetchedPR{
		ID:                    pr.ID,
		URL:                   htmlURL,
		Repo:                  ref.FullName(),
		Number:                ref.Number,
		Title:                 pr.Title,
		Draft:                 pr.Draft,
		HeadSHA:               pr.HeadSHA,
		Status:                status,
		CIStatus:              ci.Status,
		FailingCheckNames:     ci.FailingCheckNames,
		HasMergeConflict:      hasMergeConflict(pr),
		ReviewDecision:        decision,
		HasUnrespondedComment: unresponded != nil,
		LastMaintainerComment: unresponded,
		ChecklistStats:        checklist,
		MaintainerActionHints: MaintainerHints(unresponded, decision),
		DaysSinceActivity:     days,
		CreatedAt:             pr.CreatedAt,
		UpdatedAt:             pr.UpdatedAt,
	}, nil
}

func hasMergeConflict(pr *gateway.PullRequest) bool {
	return (pr.Mergeable != nil && !*pr.Mergeable) || pr.MergeableState == "dirty"
}

// SortByStatus orders PRs by status priority, keeping the input order for ties.
func SortByStatus(prs []domain.FetchedPR) {
	slices.SortStableFunc(prs, func(a, b domain.FetchedPR) int {
		return domain.StatusPriority(a.Status) - domain.StatusPriority(b.Status)
	})
}
