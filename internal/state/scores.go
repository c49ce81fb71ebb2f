package state

import (
	"maps"
	"slices"
	"strings"

	"github.com/naka-gawa/pr-autopilot/internal/domain"
)

// ScoreTracker maintains per-repository scores inside a Store. A repository
// gets an entry on its first recorded event and is never removed.
type ScoreTracker struct {
	store *Store
}

// Scores returns the score tracker backed by s.
func (s *Store) Scores() *ScoreTracker {
	return &ScoreTracker{store: s}
}

// RecordMerge counts a merged PR for repo.
func (t *ScoreTracker) RecordMerge(repo string) domain.RepoScore {
	return t.update(repo, func(r *domain.RepoScore) { r.MergedPRCount++ })
}

// RecordClose counts a PR closed without merge for repo.
func (t *ScoreTracker) RecordClose(repo string) domain.RepoScore {
	return t.update(repo, func(r *domain.RepoScore) { r.ClosedWithoutMergeCount++ })
}

// UpdateSignals changes the qualitative signals of repo.
func (t *ScoreTracker) UpdateSignals(repo string, fn func(*domain.RepoSignals)) domain.RepoScore {
	return t.update(repo, func(r *domain.RepoScore) { fn(&r.Signals) })
}

// Get returns the score of repo. ok is false when nothing was ever recorded,
// which means unknown rather than neutral.
func (t *ScoreTracker) Get(repo string) (domain.RepoScore, bool) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	r, ok := t.store.scores[repo]
	return r, ok
}

// Top returns up to n scores, best first. Ties are broken by repository name.
func (t *ScoreTracker) Top(n int) []domain.RepoScore {
	t.store.mu.Lock()
	all := slices.Collect(maps.Values(t.store.scores))
	t.store.mu.Unlock()

	slices.SortFunc(all, func(a, b domain.RepoScore) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		return strings.Compare(a.Repo, b.Repo)
	})
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

func (t *ScoreTracker) update(repo string, fn func(*domain.RepoScore)) domain.RepoScore {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	r, ok := t.store.scores[repo]
	if !ok {
		r = domain.RepoScore{Repo: repo}
	}
	fn(&r)
	r.Score = domain.CalculateScore(r)
	r.LastEvaluatedAt = t.store.clock.Now()
	t.store.scores[repo] = r
	return r
}
