// Package domain contains the core data structures and domain logic for the application.
package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// LifecycleStatus is the remote lifecycle state of a tracked pull request.
type LifecycleStatus string

// LifecycleStatus values.
const (
	LifecycleOpen   LifecycleStatus = "open"
	LifecycleDraft  LifecycleStatus = "draft"
	LifecycleMerged LifecycleStatus = "merged"
	LifecycleClosed LifecycleStatus = "closed"
)

// ActivityStatus describes who is expected to act next on an open pull request.
type ActivityStatus string

// ActivityStatus values.
const (
	ActivityActive        ActivityStatus = "active"
	ActivityNeedsResponse ActivityStatus = "needs_response"
	ActivityWaiting       ActivityStatus = "waiting"
	ActivityDormant       ActivityStatus = "dormant"
)

// CIStatus is the reconciled CI verdict for a commit.
type CIStatus string

// CIStatus values.
const (
	CIPassing CIStatus = "passing"
	CIFailing CIStatus = "failing"
	CIPending CIStatus = "pending"
	CIUnknown CIStatus = "unknown"
)

// ReviewDecision mirrors GitHub's aggregate review decision.
type ReviewDecision string

// ReviewDecision values. ReviewNone means no decision is available.
const (
	ReviewApproved         ReviewDecision = "approved"
	ReviewChangesRequested ReviewDecision = "changes_requested"
	ReviewRequired         ReviewDecision = "review_required"
	ReviewNone             ReviewDecision = ""
)

// MaintainerActionHint is a coarse reading of what a maintainer asked for.
type MaintainerActionHint string

// MaintainerActionHint values.
const (
	HintDemoRequested    MaintainerActionHint = "demo_requested"
	HintTestsRequested   MaintainerActionHint = "tests_requested"
	HintDocsRequested    MaintainerActionHint = "docs_requested"
	HintRebaseRequested  MaintainerActionHint = "rebase_requested"
	HintChangesRequested MaintainerActionHint = "changes_requested"
)

// TrackedPR is the persisted record of a pull request authored by the user.
// Instances are owned by the state store and change only through its methods.
type TrackedPR struct {
	ID                int64           `json:"id"`
	URL               string          `json:"url"`
	Repo              string          `json:"repo"`
	Number            int             `json:"number"`
	Title             string          `json:"title"`
	Status            LifecycleStatus `json:"status"`
	ActivityStatus    ActivityStatus  `json:"activityStatus"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	LastCheckedAt     time.Time       `json:"lastCheckedAt"`
	LastActivityAt    time.Time       `json:"lastActivityAt"`
	MergedAt          *time.Time      `json:"mergedAt,omitempty"`
	ClosedAt          *time.Time      `json:"closedAt,omitempty"`
	DaysSinceActivity int             `json:"daysSinceActivity"`
	CIStatus          CIStatus        `json:"ciStatus,omitempty"`
	HasMergeConflict  bool            `json:"hasMergeConflict"`
	ReviewDecision    ReviewDecision  `json:"reviewDecision,omitempty"`
}

// IsTerminal reports whether the PR has left the open lifecycle for good.
func (p *TrackedPR) IsTerminal() bool {
	return p.Status == LifecycleMerged || p.Status == LifecycleClosed
}

// MaintainerComment is the most recent comment a maintainer left that the user
// has not replied to yet.
type MaintainerComment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChecklistStats counts markdown task-list checkboxes in a PR body.
type ChecklistStats struct {
	Checked int `json:"checked"`
	Total   int `json:"total"`
}

// Incomplete reports whether at least one checkbox is left unchecked.
func (c ChecklistStats) Incomplete() bool {
	return c.Total > 0 && c.Checked < c.Total
}

// FetchedPR is the per-run classified snapshot of an open pull request.
// It is never persisted directly.
type FetchedPR struct {
	ID                    int64                  `json:"id" yaml:"id"`
	URL                   string                 `json:"url" yaml:"url"`
	Repo                  string                 `json:"repo" yaml:"repo"`
	Number                int                    `json:"number" yaml:"number"`
	Title                 string                 `json:"title" yaml:"title"`
	Draft                 bool                   `json:"draft" yaml:"draft"`
	HeadSHA               string                 `json:"headSha" yaml:"headSha"`
	Status                PRStatus               `json:"status" yaml:"status"`
	CIStatus              CIStatus               `json:"ciStatus" yaml:"ciStatus"`
	FailingCheckNames     []string               `json:"failingCheckNames" yaml:"failingCheckNames"`
	HasMergeConflict      bool                   `json:"hasMergeConflict" yaml:"hasMergeConflict"`
	ReviewDecision        ReviewDecision         `json:"reviewDecision,omitempty" yaml:"reviewDecision,omitempty"`
	HasUnrespondedComment bool                   `json:"hasUnrespondedComment" yaml:"hasUnrespondedComment"`
	LastMaintainerComment *MaintainerComment     `json:"lastMaintainerComment,omitempty" yaml:"lastMaintainerComment,omitempty"`
	ChecklistStats        *ChecklistStats        `json:"checklistStats,omitempty" yaml:"checklistStats,omitempty"`
	MaintainerActionHints []MaintainerActionHint `json:"maintainerActionHints" yaml:"maintainerActionHints"`
	DaysSinceActivity     int                    `json:"daysSinceActivity" yaml:"daysSinceActivity"`
	CreatedAt             time.Time              `json:"createdAt" yaml:"createdAt"`
	UpdatedAt             time.Time              `json:"updatedAt" yaml:"updatedAt"`
}

// PRRef identifies a pull request (or issue) by its coordinates.
type PRRef struct {
	Owner  string
	Repo   string
	Number int
}

// FullName returns "owner/repo".
func (r PRRef) FullName() string {
	return r.Owner + "/" + r.Repo
}

func (r PRRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

var prURLPattern = regexp.MustCompile(`^https://github\.com/([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)/(pull|issues)/(\d+)/?(?:[#?].*)?$`)

// ParsePRURL extracts owner, repository and number from a GitHub pull request
// or issue URL.
func ParsePRURL(raw string) (PRRef, error) {
	m := prURLPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return PRRef{}, &InvalidURLError{URL: raw}
	}
	n, err := strconv.Atoi(m[4])
	if err != nil || n <= 0 {
		return PRRef{}, &InvalidURLError{URL: raw}
	}
	return PRRef{Owner: m[1], Repo: m[2], Number: n}, nil
}

// RepoFromURL returns "owner/repo" for a PR URL, or "" when the URL is malformed.
func RepoFromURL(raw string) string {
	ref, err := ParsePRURL(raw)
	if err != nil {
		return ""
	}
	return ref.FullName()
}
