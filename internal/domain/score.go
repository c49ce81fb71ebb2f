package domain

import "time"

// Score formula constants.
const (
	baseRepoScore    = 5
	mergeWeight      = 2
	maxMergeBonus    = 4
	maxClosedPenalty = 3
	responsiveBonus  = 1
	hostilityPenalty = 2
	MinRepoScore     = 1
	MaxRepoScore     = 10
)

// RepoSignals are qualitative observations about a repository's maintainers.
type RepoSignals struct {
	IsResponsive         bool `json:"isResponsive" yaml:"isResponsive"`
	HasHostileComments   bool `json:"hasHostileComments" yaml:"hasHostileComments"`
	HasActiveMaintainers bool `json:"hasActiveMaintainers" yaml:"hasActiveMaintainers"`
}

// RepoScore is the reputation of a repository from the user's point of view.
type RepoScore struct {
	Repo                    string      `json:"repo" yaml:"repo"`
	Score                   int         `json:"score" yaml:"score"`
	MergedPRCount           int         `json:"mergedPRCount" yaml:"mergedPRCount"`
	ClosedWithoutMergeCount int         `json:"closedWithoutMergeCount" yaml:"closedWithoutMergeCount"`
	Signals                 RepoSignals `json:"signals" yaml:"signals"`
	LastEvaluatedAt         time.Time   `json:"lastEvaluatedAt" yaml:"lastEvaluatedAt"`
}

// CalculateScore computes the clamped score for the given counters and signals.
func CalculateScore(r RepoScore) int {
	score := baseRepoScore
	score += min(mergeWeight*max(r.MergedPRCount, 0), maxMergeBonus)
	score -= min(max(r.ClosedWithoutMergeCount, 0), maxClosedPenalty)
	if r.Signals.IsResponsive {
		score += responsiveBonus
	}
	if r.Signals.HasHostileComments {
		score -= hostilityPenalty
	}
	return min(max(score, MinRepoScore), MaxRepoScore)
}
