package usecase

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/naka-gawa/pr-autopilot/internal/domain"
	"github.com/naka-gawa/pr-autopilot/internal/state"
)

// ApplySummary reports what ApplyFetched changed in the state.
type ApplySummary struct {
	Added       []string `json:"added" yaml:"added"`
	Updated     []string `json:"updated" yaml:"updated"`
	Dormant     []string `json:"dormant" yaml:"dormant"`
	Reactivated []string `json:"reactivated" yaml:"reactivated"`
	// Missing lists tracked open PRs absent from the snapshot; they may have
	// been merged or closed since the last run.
	Missing []string `json:"missing" yaml:"missing"`
}

// CheckSummary reports the outcome of CheckAllPRs.
type CheckSummary struct {
	Checked     int                          `json:"checked" yaml:"checked"`
	Merged      []string                     `json:"merged" yaml:"merged"`
	Closed      []string                     `json:"closed" yaml:"closed"`
	Dormant     []string                     `json:"dormant" yaml:"dormant"`
	Reactivated []string                     `json:"reactivated" yaml:"reactivated"`
	Failures    []domain.PartialFetchFailure `json:"-" yaml:"-"`
}

// Tracker is the use case for keeping the state store in line with GitHub.
type Tracker struct {
	store  *state.Store
	prs    *PRFetcher
	logger *log.Logger
}

// NewTracker creates a new Tracker instance.
func NewTracker(store *state.Store, prs *PRFetcher, logger *log.Logger) *Tracker {
	return &Tracker{
		store:  store,
		prs:    prs,
		logger: logger,
	}
}

// ApplyFetched caches a classified snapshot into the state: new PRs start
// being tracked, known ones are refreshed and moved between the active and
// dormant lists as their classification says. Terminal PRs are left alone.
func (t *Tracker) ApplyFetched(prs []domain.FetchedPR, failures []domain.PartialFetchFailure) ApplySummary {
	summary := ApplySummary{
		Added: []string{}, Updated: []string{}, Dormant: []string{}, Reactivated: []string{}, Missing: []string{},
	}
	now := t.prs.clock.Now()
	cfg := t.store.Config()
	seen := make(map[string]bool, len(prs)+len(failures))

	for _, pr := range prs {
		seen[pr.URL] = true
		activity := domain.ActivityFor(pr.Status)

		existing, tracked := t.store.GetPR(pr.URL)
		switch {
		case !tracked:
			if err := t.store.AddActivePR(trackedFromFetched(pr, now)); err != nil {
				t.logger.Printf("Warning: cannot track %s: %v\n", pr.URL, err)
				continue
			}
			summary.Added = append(summary.Added, pr.URL)
		case existing.IsTerminal():
			t.logger.Printf("Tracker: %s is %s locally but open on GitHub; leaving it\n", pr.URL, existing.Status)
			continue
		default:
			err := t.store.UpdatePR(pr.URL, func(p *domain.TrackedPR) {
				refreshFromFetched(p, pr, now)
			})
			if err != nil {
				t.logger.Printf("Warning: cannot update %s: %v\n", pr.URL, err)
				continue
			}
			summary.Updated = append(summary.Updated, pr.URL)
		}

		// Only idle time decides the list. A status that outranks dormant
		// (failing CI, conflicts, ...) must not bring a silent PR back.
		idle := pr.DaysSinceActivity >= cfg.DormantThresholdDays
		container, _ := t.store.ContainerOf(pr.URL)
		switch {
		case idle && container == state.ContainerActive:
			if err := t.store.MovePRToDormant(pr.URL); err == nil {
				summary.Dormant = append(summary.Dormant, pr.URL)
			}
		case !idle && container == state.ContainerDormant:
			if err := t.store.ReactivatePR(pr.URL, activity); err == nil {
				summary.Reactivated = append(summary.Reactivated, pr.URL)
			}
		}

		t.observeMaintainers(pr, cfg)
	}

	for _, f := range failures {
		seen[f.URL] = true
	}
	for _, c := range []state.Container{state.ContainerActive, state.ContainerDormant} {
		for _, tracked := range t.store.PRsIn(c) {
			if !seen[tracked.URL] {
				summary.Missing = append(summary.Missing, tracked.URL)
			}
		}
	}
	return summary
}

// observeMaintainers records repository signals visible in a snapshot. A repo
// whose maintainers reviewed or commented counts as responsive.
func (t *Tracker) observeMaintainers(pr domain.FetchedPR, cfg domain.Config) {
	responded := pr.LastMaintainerComment != nil ||
		pr.ReviewDecision == domain.ReviewApproved || pr.ReviewDecision == domain.ReviewChangesRequested
	if !responded {
		return
	}
	active := pr.LastMaintainerComment != nil &&
		DaysSince(pr.LastMaintainerComment.CreatedAt, t.prs.clock.Now()) < cfg.DormantThresholdDays

	scores := t.store.Scores()
	if current, ok := scores.Get(pr.Repo); ok && current.Signals.IsResponsive && (current.Signals.HasActiveMaintainers || !active) {
		return
	}
	scores.UpdateSignals(pr.Repo, func(s *domain.RepoSignals) {
		s.IsResponsive = true
		s.HasActiveMaintainers = s.HasActiveMaintainers || active
	})
}

func trackedFromFetched(pr domain.FetchedPR, now time.Time) domain.TrackedPR {
	tracked := domain.TrackedPR{
		URL:       pr.URL,
		CreatedAt: pr.CreatedAt,
	}
	refreshFromFetched(&tracked, pr, now)
	if tracked.ActivityStatus == domain.ActivityDormant {
		// AddActivePR always starts in the active list; the caller moves it.
		tracked.ActivityStatus = domain.ActivityActive
	}
	return tracked
}

func refreshFromFetched(p *domain.TrackedPR, pr domain.FetchedPR, now time.Time) {
	p.ID = pr.ID
	p.Repo = pr.Repo
	p.Number = pr.Number
	p.Title = pr.Title
	if pr.Draft {
		p.Status = domain.LifecycleDraft
	} else {
		p.Status = domain.LifecycleOpen
	}
	p.ActivityStatus = domain.ActivityFor(pr.Status)
	p.UpdatedAt = pr.UpdatedAt
	p.LastActivityAt = pr.UpdatedAt
	p.LastCheckedAt = now
	p.DaysSinceActivity = pr.DaysSinceActivity
	p.CIStatus = pr.CIStatus
	p.HasMergeConflict = pr.HasMergeConflict
	p.ReviewDecision = pr.ReviewDecision
}

// SyncPRs starts tracking every open PR the search finds that is not tracked yet.
func (t *Tracker) SyncPRs(ctx context.Context) ([]string, error) {
	cfg := t.store.Config()
	items, err := t.prs.SearchOpenPRs(ctx, cfg)
	if err != nil {
		return nil, err
	}
	now := t.prs.clock.Now()
	added := []string{}
	for _, item := range items {
		if _, ok := t.store.GetPR(item.HTMLURL); ok {
			continue
		}
		ref, err := domain.ParsePRURL(item.HTMLURL)
		if err != nil {
			continue
		}
		pr := domain.TrackedPR{
			ID:                item.ID,
			URL:               item.HTMLURL,
			Repo:              ref.FullName(),
			Number:            ref.Number,
			Title:             item.Title,
			CreatedAt:         item.CreatedAt,
			UpdatedAt:         item.UpdatedAt,
			LastActivityAt:    item.UpdatedAt,
			LastCheckedAt:     now,
			DaysSinceActivity: DaysSince(item.UpdatedAt, now),
		}
		if err := t.store.AddActivePR(pr); err != nil {
			t.logger.Printf("Warning: cannot track %s: %v\n", item.HTMLURL, err)
			continue
		}
		added = append(added, item.HTMLURL)
	}
	t.logger.Printf("Usecase: Sync tracked %d new pull requests.\n", len(added))
	return added, nil
}

type checkOutcome int

const (
	outcomeUnchanged checkOutcome = iota
	outcomeMerged
	outcomeClosed
	outcomeDormant
	outcomeReactivated
)

// CheckAllPRs re-reads every tracked open PR and applies merged, closed,
// dormant and reactivated transitions. Merges and closes feed the repository
// scores. Authentication errors abort; other per-PR errors are collected.
func (t *Tracker) CheckAllPRs(ctx context.Context) (*CheckSummary, error) {
	return t.CheckPRs(ctx, t.OpenURLs())
}

// CheckPRs is CheckAllPRs restricted to the given URLs.
func (t *Tracker) CheckPRs(ctx context.Context, urls []string) (*CheckSummary, error) {
	cfg := t.store.Config()
	tasks := make([]Task[checkOutcome], len(urls))
	for i, url := range urls {
		tasks[i] = func(ctx context.Context) (checkOutcome, error) {
			return t.checkPR(ctx, url, cfg)
		}
	}
	settled := RunLimited(ctx, LimitOptions{Limit: t.prs.opts.Concurrency, TaskTimeout: t.prs.opts.TaskTimeout}, tasks)

	summary := &CheckSummary{
		Checked:     len(settled.Results),
		Merged:      []string{},
		Closed:      []string{},
		Dormant:     []string{},
		Reactivated: []string{},
	}
	for _, failure := range settled.Failures {
		if errors.Is(failure.Err, domain.ErrUpstreamAuth) {
			return nil, failure.Err
		}
		t.logger.Printf("Warning: failed to check %s: %v\n", urls[failure.Index], failure.Err)
		summary.Failures = append(summary.Failures, domain.PartialFetchFailure{URL: urls[failure.Index], Err: failure.Err})
	}
	for _, r := range settled.Results {
		url := urls[r.Index]
		switch r.Value {
		case outcomeMerged:
			summary.Merged = append(summary.Merged, url)
		case outcomeClosed:
			summary.Closed = append(summary.Closed, url)
		case outcomeDormant:
			summary.Dormant = append(summary.Dormant, url)
		case outcomeReactivated:
			summary.Reactivated = append(summary.Reactivated, url)
		}
	}
	t.logger.Printf("Usecase: Checked %d pull requests (%d merged, %d closed, %d failures).\n",
		summary.Checked, len(summary.Merged), len(summary.Closed), len(summary.Failures))
	return summary, nil
}

func (t *Tracker) checkPR(ctx context.Context, url string, cfg domain.Config) (checkOutcome, error) {
	ref, err := domain.ParsePRURL(url)
	if err != nil {
		return outcomeUnchanged, err
	}
	remote, err := t.prs.fetcher.GetPullRequest(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		return outcomeUnchanged, err
	}
	now := t.prs.clock.Now()
	repo := ref.FullName()

	switch {
	case remote.Merged:
		if err := t.store.MovePRToMerged(url, remote.MergedAt); err != nil {
			return outcomeUnchanged, err
		}
		t.store.Scores().RecordMerge(repo)
		return outcomeMerged, nil
	case remote.State == "closed":
		if err := t.store.MovePRToClosed(url, remote.ClosedAt); err != nil {
			return outcomeUnchanged, err
		}
		t.store.Scores().RecordClose(repo)
		return outcomeClosed, nil
	}

	days := DaysSince(remote.UpdatedAt, now)
	err = t.store.UpdatePR(url, func(p *domain.TrackedPR) {
		p.Title = remote.Title
		if remote.Draft {
			p.Status = domain.LifecycleDraft
		} else {
			p.Status = domain.LifecycleOpen
		}
		p.UpdatedAt = remote.UpdatedAt
		p.LastActivityAt = remote.UpdatedAt
		p.LastCheckedAt = now
		p.DaysSinceActivity = days
		p.HasMergeConflict = hasMergeConflict(remote)
	})
	if err != nil {
		return outcomeUnchanged, err
	}

	container, _ := t.store.ContainerOf(url)
	switch {
	case days >= cfg.DormantThresholdDays && container == state.ContainerActive:
		if err := t.store.MovePRToDormant(url); err != nil {
			return outcomeUnchanged, err
		}
		return outcomeDormant, nil
	case days < cfg.DormantThresholdDays && container == state.ContainerDormant:
		if err := t.store.ReactivatePR(url, domain.ActivityActive); err != nil {
			return outcomeUnchanged, err
		}
		return outcomeReactivated, nil
	}
	return outcomeUnchanged, nil
}

// OpenURLs returns the URLs of tracked PRs that are not merged or closed, in list order.
func (t *Tracker) OpenURLs() []string {
	var urls []string
	for _, c := range []state.Container{state.ContainerActive, state.ContainerDormant} {
		for _, pr := range t.store.PRsIn(c) {
			urls = append(urls, pr.URL)
		}
	}
	return urls
}
