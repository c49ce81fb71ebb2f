package domain

// RepoStats holds the open pull request counts for a single repository.
type RepoStats struct {
	Name           string `json:"name" yaml:"name"`
	OpenPRs        int    `json:"openPRs" yaml:"openPRs"`
	NeedsAttention int    `json:"needsAttention" yaml:"needsAttention"`
	GoingDormant   int    `json:"goingDormant" yaml:"goingDormant"`
	// Score is 0 when the repository has no recorded score.
	Score int `json:"score,omitempty" yaml:"score,omitempty"`
}
