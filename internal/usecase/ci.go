package usecase

import (
	"context"
	"errors"
	"log"
	"regexp"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/pr-autopilot/internal/domain"
	"github.com/naka-gawa/pr-autopilot/internal/gateway"
)

// CIResult is the reconciled CI verdict for one commit.
type CIResult struct {
	Status            domain.CIStatus
	FailingCheckNames []string
}

// CIResolver reconciles the legacy commit-status API with check-runs.
type CIResolver struct {
	fetcher gateway.Fetcher
	logger  *log.Logger
}

// NewCIResolver creates a new CIResolver instance.
func NewCIResolver(fetcher gateway.Fetcher, logger *log.Logger) *CIResolver {
	return &CIResolver{fetcher: fetcher, logger: logger}
}

// Resolve returns the CI verdict for ref. It never fails: a source that cannot
// be read is left out, and with neither source the verdict is CIUnknown.
func (r *CIResolver) Resolve(ctx context.Context, owner, repo, ref string) CIResult {
	if ref == "" {
		return CIResult{Status: domain.CIUnknown, FailingCheckNames: []string{}}
	}

	// Each source degrades on its own: a broken status API must not hide a
	// failing check-run, and the other way round.
	var combined *gateway.CombinedStatus
	var runs []gateway.CheckRun
	var eg errgroup.Group
	eg.Go(func() error {
		var err error
		combined, err = r.fetcher.GetCombinedStatus(ctx, owner, repo, ref)
		if err != nil {
			r.warn(owner, repo, ref, "commit status", err)
			combined = nil
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		runs, err = r.fetcher.ListCheckRuns(ctx, owner, repo, ref)
		if err != nil {
			r.warn(owner, repo, ref, "check-runs", err)
			runs = nil
		}
		return nil
	})
	_ = eg.Wait()
	return ReconcileCI(combined, runs)
}

func (r *CIResolver) warn(owner, repo, ref, source string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	r.logger.Printf("Warning: could not read %s for %s/%s@%s: %v\n", source, owner, repo, ref, err)
}

// ReconcileCI merges both CI sources into one verdict.
// Priority is failing > pending > passing > unknown across both sources.
func ReconcileCI(combined *gateway.CombinedStatus, runs []gateway.CheckRun) CIResult {
	var failing, pending, passing bool
	failingNames := []string{}

	for _, run := range DedupeCheckRuns(runs) {
		switch classifyCheckRun(run) {
		case domain.CIFailing:
			failing = true
			failingNames = append(failingNames, run.Name)
		case domain.CIPending:
			pending = true
		case domain.CIPassing:
			passing = true
		}
	}

	if combined != nil {
		state, names := effectiveCombinedState(combined.Statuses)
		switch state {
		case domain.CIFailing:
			failing = true
			failingNames = append(failingNames, names...)
		case domain.CIPending:
			pending = true
		case domain.CIPassing:
			passing = true
		}
	}

	slices.Sort(failingNames)
	failingNames = slices.Compact(failingNames)

	switch {
	case failing:
		return CIResult{Status: domain.CIFailing, FailingCheckNames: failingNames}
	case pending:
		return CIResult{Status: domain.CIPending, FailingCheckNames: []string{}}
	case passing:
		return CIResult{Status: domain.CIPassing, FailingCheckNames: []string{}}
	default:
		return CIResult{Status: domain.CIUnknown, FailingCheckNames: []string{}}
	}
}

// DedupeCheckRuns keeps one run per name: the one that started last.
// On equal start times the later entry in the list wins. Runs that have not
// started yet carry a zero StartedAt and therefore lose to any started run.
func DedupeCheckRuns(runs []gateway.CheckRun) []gateway.CheckRun {
	latest := make(map[string]int, len(runs))
	order := make([]string, 0, len(runs))
	for i, run := range runs {
		j, seen := latest[run.Name]
		if !seen {
			order = append(order, run.Name)
			latest[run.Name] = i
			continue
		}
		if !run.StartedAt.Before(runs[j].StartedAt) {
			latest[run.Name] = i
		}
	}
	out := make([]gateway.CheckRun, 0, len(order))
	for _, name := range order {
		out = append(out, runs[latest[name]])
	}
	return out
}

// classifyCheckRun returns CIUnknown for runs that carry no signal
// (neutral, skipped, stale).
func classifyCheckRun(run gateway.CheckRun) domain.CIStatus {
	switch run.Conclusion {
	case "failure", "cancelled", "timed_out":
		return domain.CIFailing
	case "action_required":
		// An approval gate waits on a maintainer; it is not a failure.
		return domain.CIPending
	case "success":
		return domain.CIPassing
	}
	switch run.Status {
	case "in_progress", "queued", "waiting", "requested", "pending":
		return domain.CIPending
	}
	return domain.CIUnknown
}

var authGatePattern = regexp.MustCompile(`(?i)authorization required|authorize`)

// effectiveCombinedState ignores statuses that are authorization gates
// (e.g. CLA or fork approval bots). It returns CIUnknown when there were no
// statuses at all.
func effectiveCombinedState(statuses []gateway.CommitStatus) (domain.CIStatus, []string) {
	if len(statuses) == 0 {
		return domain.CIUnknown, nil
	}
	var failing, pending, passing bool
	var names []string
	for _, s := range statuses {
		if authGatePattern.MatchString(s.Description) {
			continue
		}
		switch s.State {
		case "failure", "error":
			failing = true
			if s.Context != "" {
				names = append(names, s.Context)
			}
		case "pending":
			pending = true
		case "success":
			passing = true
		}
	}
	switch {
	case failing:
		return domain.CIFailing, names
	case pending:
		return domain.CIPending, nil
	case passing:
		return domain.CIPassing, nil
	default:
		// Every status was an authorization gate.
		return domain.CIPassing, nil
	}
}
