package usecase

import (
	"log"
	"slices"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/naka-gawa/pr-autopilot/internal/domain"
)

// DigestGenerator is the use case for summarizing a classified snapshot.
// It performs no I/O.
type DigestGenerator struct {
	clock    domain.Clock
	logger   *log.Logger
	topRepos int
}

// NewDigestGenerator creates a new DigestGenerator instance. topRepos caps
// Digest.TopRepos; a negative value keeps every scored repository.
func NewDigestGenerator(clock domain.Clock, logger *log.Logger, topRepos int) *DigestGenerator {
	return &DigestGenerator{
		clock:    clock,
		logger:   logger,
		topRepos: topRepos,
	}
}

// Generate groups prs into buckets and computes idle-time statistics.
// totals supplies the all-time merged and closed counts. scores holds every
// known repository score, best first: each is attached to its ByRepo row and
// the first topRepos become the top repository list.
func (g *DigestGenerator) Generate(prs []domain.FetchedPR, totals domain.Stats, scores []domain.RepoScore) domain.Digest {
	g.logger.Printf("Usecase: Generating digest for %d pull requests...\n", len(prs))

	ordered := slices.Clone(prs)
	SortByStatus(ordered)

	digest := domain.Digest{
		GeneratedAt:    g.clock.Now(),
		TotalOpen:      len(ordered),
		NeedsAttention: []domain.DigestItem{},
		GoingDormant:   []domain.DigestItem{},
		Waiting:        []domain.DigestItem{},
		Healthy:        []domain.DigestItem{},
		StatusCounts:   make(map[domain.PRStatus]int),
		MergedAllTime:  totals.MergedPRs,
		ClosedAllTime:  totals.ClosedPRs,
		TopRepos:       slices.Clone(scores),
	}

	if g.topRepos >= 0 && len(digest.TopRepos) > g.topRepos {
		digest.TopRepos = digest.TopRepos[:g.topRepos]
	}

	scoreByRepo := make(map[string]int, len(scores))
	for _, s := range scores {
		scoreByRepo[s.Repo] = s.Score
	}
	statsMap := make(map[string]*domain.RepoStats)
	ensureRepoStat := func(repoName string) *domain.RepoStats {
		if _, ok := statsMap[repoName]; !ok {
			statsMap[repoName] = &domain.RepoStats{Name: repoName, Score: scoreByRepo[repoName]}
		}
		return statsMap[repoName]
	}

	idle := make([]float64, 0, len(ordered))
	for _, pr := range ordered {
		digest.StatusCounts[pr.Status]++
		idle = append(idle, float64(pr.DaysSinceActivity))
		repoStat := ensureRepoStat(pr.Repo)
		repoStat.OpenPRs++

		item := digestItem(pr)
		switch pr.Status {
		case domain.StatusNeedsResponse, domain.StatusFailingCI, domain.StatusMergeConflict, domain.StatusIncompleteChecklist:
			digest.NeedsAttention = append(digest.NeedsAttention, item)
			repoStat.NeedsAttention++
		case domain.StatusDormant, domain.StatusApproachingDormant:
			digest.GoingDormant = append(digest.GoingDormant, item)
			repoStat.GoingDormant++
		case domain.StatusWaitingOnMaintainer, domain.StatusWaiting:
			digest.Waiting = append(digest.Waiting, item)
		default:
			digest.Healthy = append(digest.Healthy, item)
		}
	}
	digest.Activity = activityStats(idle, g.logger)

	// Convert the map to a slice and sort it by repository name for consistent output.
	digest.ByRepo = make([]domain.RepoStats, 0, len(statsMap))
	for _, repoStat := range statsMap {
		digest.ByRepo = append(digest.ByRepo, *repoStat)
	}
	sort.Slice(digest.ByRepo, func(i, j int) bool {
		return digest.ByRepo[i].Name < digest.ByRepo[j].Name
	})

	g.logger.Println("Usecase: Digest complete.")
	return digest
}

func digestItem(pr domain.FetchedPR) domain.DigestItem {
	item := domain.DigestItem{
		URL:               pr.URL,
		Repo:              pr.Repo,
		Title:             pr.Title,
		Status:            pr.Status,
		DaysSinceActivity: pr.DaysSinceActivity,
	}
	if len(pr.FailingCheckNames) > 0 {
		item.FailingCheckNames = slices.Clone(pr.FailingCheckNames)
	}
	if len(pr.MaintainerActionHints) > 0 {
		item.Hints = slices.Clone(pr.MaintainerActionHints)
	}
	return item
}

// activityStats summarizes idle days. An empty snapshot yields zero values.
func activityStats(idle []float64, logger *log.Logger) domain.ActivityStats {
	if len(idle) == 0 {
		return domain.ActivityStats{}
	}
	measure := func(name string, fn func(stats.Float64Data) (float64, error)) float64 {
		v, err := fn(idle)
		if err != nil {
			logger.Printf("Warning: %s idle days: %v\n", name, err)
			return 0
		}
		if rounded, err := stats.Round(v, 2); err == nil {
			return rounded
		}
		return v
	}
	return domain.ActivityStats{
		MeanDaysIdle:   measure("mean", stats.Mean),
		MedianDaysIdle: measure("median", stats.Median),
		P90DaysIdle:    measure("p90", percentile90),
		MaxDaysIdle:    measure("max", stats.Max),
	}
}

func percentile90(data stats.Float64Data) (float64, error) {
	return stats.Percentile(data, 90)
}
