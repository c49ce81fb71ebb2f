package domain

import "time"

// CurrentStateVersion is the schema version written by this build.
const CurrentStateVersion = 2

// Default dormancy thresholds, in days.
const (
	DefaultDormantThresholdDays   = 30
	DefaultApproachingDormantDays = 25
)

// Config holds the user's preferences. It is persisted inside the state file.
type Config struct {
	GithubUsername         string   `json:"githubUsername" yaml:"githubUsername"`
	ExcludeRepos           []string `json:"excludeRepos" yaml:"excludeRepos"`
	ExcludeOrgs            []string `json:"excludeOrgs" yaml:"excludeOrgs"`
	DormantThresholdDays   int      `json:"dormantThresholdDays" yaml:"dormantThresholdDays"`
	ApproachingDormantDays int      `json:"approachingDormantDays" yaml:"approachingDormantDays"`
}

// NewDefaultConfig returns the configuration used for a fresh state.
func NewDefaultConfig() Config {
	return Config{
		ExcludeRepos:           []string{},
		ExcludeOrgs:            []string{},
		DormantThresholdDays:   DefaultDormantThresholdDays,
		ApproachingDormantDays: DefaultApproachingDormantDays,
	}
}

// Normalize fills zero thresholds and nil slices with defaults.
func (c *Config) Normalize() {
	if c.DormantThresholdDays <= 0 {
		c.DormantThresholdDays = DefaultDormantThresholdDays
	}
	if c.ApproachingDormantDays <= 0 || c.ApproachingDormantDays > c.DormantThresholdDays {
		c.ApproachingDormantDays = min(DefaultApproachingDormantDays, c.DormantThresholdDays)
	}
	if c.ExcludeRepos == nil {
		c.ExcludeRepos = []string{}
	}
	if c.ExcludeOrgs == nil {
		c.ExcludeOrgs = []string{}
	}
}

// EventType names a kind of state event.
type EventType string

// EventType values.
const (
	EventPRTracked      EventType = "pr_tracked"
	EventPRUntracked    EventType = "pr_untracked"
	EventPRDormant      EventType = "pr_dormant"
	EventPRReactivated  EventType = "pr_reactivated"
	EventPRMerged       EventType = "pr_merged"
	EventPRClosed       EventType = "pr_closed"
	EventIssueTracked   EventType = "issue_tracked"
	EventIssueRemoved   EventType = "issue_removed"
	EventStateRecovered EventType = "state_recovered"
	EventStateReset     EventType = "state_reset"
)

// StateEvent is an immutable audit record. Events are appended, never edited.
type StateEvent struct {
	ID   string            `json:"id"`
	Type EventType         `json:"type"`
	At   time.Time         `json:"at"`
	Data map[string]string `json:"data,omitempty"`
}

// TrackedIssue is an issue candidate handed to the store by the issue vetting layer.
type TrackedIssue struct {
	URL            string    `json:"url"`
	Repo           string    `json:"repo"`
	Number         int       `json:"number"`
	Title          string    `json:"title"`
	ViabilityScore int       `json:"viabilityScore"`
	AddedAt        time.Time `json:"addedAt"`
}

// AgentState is the persisted document. The four PR slices are mutually
// exclusive by URL.
type AgentState struct {
	Version      int                  `json:"version"`
	ActivePRs    []TrackedPR          `json:"activePRs"`
	ActiveIssues []TrackedIssue       `json:"activeIssues"`
	DormantPRs   []TrackedPR          `json:"dormantPRs"`
	MergedPRs    []TrackedPR          `json:"mergedPRs"`
	ClosedPRs    []TrackedPR          `json:"closedPRs"`
	RepoScores   map[string]RepoScore `json:"repoScores"`
	Events       []StateEvent         `json:"events"`
	Config       Config               `json:"config"`
	LastRunAt    *time.Time           `json:"lastRunAt,omitempty"`
	LastDigest   *Digest              `json:"lastDigest,omitempty"`
}

// NewAgentState returns an empty state with default configuration.
func NewAgentState() AgentState {
	return AgentState{
		Version:      CurrentStateVersion,
		ActivePRs:    []TrackedPR{},
		ActiveIssues: []TrackedIssue{},
		DormantPRs:   []TrackedPR{},
		MergedPRs:    []TrackedPR{},
		ClosedPRs:    []TrackedPR{},
		RepoScores:   map[string]RepoScore{},
		Events:       []StateEvent{},
		Config:       NewDefaultConfig(),
	}
}

// Stats summarizes the state for display.
type Stats struct {
	ActivePRs    int        `json:"activePRs" yaml:"activePRs"`
	DormantPRs   int        `json:"dormantPRs" yaml:"dormantPRs"`
	MergedPRs    int        `json:"mergedPRs" yaml:"mergedPRs"`
	ClosedPRs    int        `json:"closedPRs" yaml:"closedPRs"`
	ActiveIssues int        `json:"activeIssues" yaml:"activeIssues"`
	TotalTracked int        `json:"totalTracked" yaml:"totalTracked"`
	MergeRate    float64    `json:"mergeRate" yaml:"mergeRate"`
	ScoredRepos  int        `json:"scoredRepos" yaml:"scoredRepos"`
	Events       int        `json:"events" yaml:"events"`
	LastRunAt    *time.Time `json:"lastRunAt,omitempty" yaml:"lastRunAt,omitempty"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock uses the system time.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time { return time.Now().UTC() }
