package domain

import "time"

// DigestItem is the condensed view of one PR inside a digest bucket.
type DigestItem struct {
	URL               string                 `json:"url" yaml:"url"`
	Repo              string                 `json:"repo" yaml:"repo"`
	Title             string                 `json:"title" yaml:"title"`
	Status            PRStatus               `json:"status" yaml:"status"`
	DaysSinceActivity int                    `json:"daysSinceActivity" yaml:"daysSinceActivity"`
	FailingCheckNames []string               `json:"failingCheckNames,omitempty" yaml:"failingCheckNames,omitempty"`
	Hints             []MaintainerActionHint `json:"hints,omitempty" yaml:"hints,omitempty"`
}

// ActivityStats describes how long open PRs have been idle.
type ActivityStats struct {
	MeanDaysIdle   float64 `json:"meanDaysIdle" yaml:"meanDaysIdle"`
	MedianDaysIdle float64 `json:"medianDaysIdle" yaml:"medianDaysIdle"`
	P90DaysIdle    float64 `json:"p90DaysIdle" yaml:"p90DaysIdle"`
	MaxDaysIdle    float64 `json:"maxDaysIdle" yaml:"maxDaysIdle"`
}

// Digest groups a classified snapshot into summary buckets.
type Digest struct {
	GeneratedAt    time.Time        `json:"generatedAt" yaml:"generatedAt"`
	TotalOpen      int              `json:"totalOpen" yaml:"totalOpen"`
	NeedsAttention []DigestItem     `json:"needsAttention" yaml:"needsAttention"`
	GoingDormant   []DigestItem     `json:"goingDormant" yaml:"goingDormant"`
	Waiting        []DigestItem     `json:"waiting" yaml:"waiting"`
	Healthy        []DigestItem     `json:"healthy" yaml:"healthy"`
	StatusCounts   map[PRStatus]int `json:"statusCounts" yaml:"statusCounts"`
	Activity       ActivityStats    `json:"activity" yaml:"activity"`
	MergedAllTime  int              `json:"mergedAllTime" yaml:"mergedAllTime"`
	ClosedAllTime  int              `json:"closedAllTime" yaml:"closedAllTime"`
	ByRepo         []RepoStats      `json:"byRepo" yaml:"byRepo"`
	TopRepos       []RepoScore      `json:"topRepos,omitempty" yaml:"topRepos,omitempty"`
}
