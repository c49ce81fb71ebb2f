package domain

// PRStatus is the health classification of an open pull request.
type PRStatus string

// PRStatus values, listed in classification priority order.
const (
	StatusNeedsResponse       PRStatus = "needs_response"
	StatusFailingCI           PRStatus = "failing_ci"
	StatusMergeConflict       PRStatus = "merge_conflict"
	StatusIncompleteChecklist PRStatus = "incomplete_checklist"
	StatusDormant             PRStatus = "dormant"
	StatusApproachingDormant  PRStatus = "approaching_dormant"
	StatusWaitingOnMaintainer PRStatus = "waiting_on_maintainer"
	StatusWaiting             PRStatus = "waiting"
	StatusHealthy             PRStatus = "healthy"
)

var statusPriority = map[PRStatus]int{
	StatusNeedsResponse:       0,
	StatusFailingCI:           1,
	StatusMergeConflict:       2,
	StatusIncompleteChecklist: 3,
	StatusDormant:             4,
	StatusApproachingDormant:  5,
	StatusWaitingOnMaintainer: 6,
	StatusWaiting:             7,
	StatusHealthy:             8,
}

// StatusPriority returns the sort rank of a status; lower ranks need attention first.
// Unknown statuses sort last.
func StatusPriority(s PRStatus) int {
	if p, ok := statusPriority[s]; ok {
		return p
	}
	return len(statusPriority)
}

// NeedsAuthorAction reports whether the status asks the PR author to do something.
func (s PRStatus) NeedsAuthorAction() bool {
	switch s {
	case StatusNeedsResponse, StatusFailingCI, StatusMergeConflict, StatusIncompleteChecklist:
		return true
	}
	return false
}

// StatusSignals is everything DetermineStatus looks at.
type StatusSignals struct {
	CI                     CIStatus
	HasMergeConflict       bool
	HasUnrespondedComment  bool
	HasIncompleteChecklist bool
	ReviewDecision         ReviewDecision
	DaysSinceActivity      int
	DormantThreshold       int
	ApproachingThreshold   int
}

// DetermineStatus maps the signals to a single status. The first matching rule wins.
func DetermineStatus(s StatusSignals) PRStatus {
	switch {
	case s.HasUnrespondedComment:
		return StatusNeedsResponse
	case s.CI == CIFailing:
		return StatusFailingCI
	case s.HasMergeConflict:
		return StatusMergeConflict
	case s.HasIncompleteChecklist:
		return StatusIncompleteChecklist
	case s.DaysSinceActivity >= s.DormantThreshold:
		return StatusDormant
	case s.DaysSinceActivity >= s.ApproachingThreshold:
		return StatusApproachingDormant
	case s.ReviewDecision == ReviewApproved && (s.CI == CIPassing || s.CI == CIUnknown):
		return StatusWaitingOnMaintainer
	case s.CI == CIPending:
		return StatusWaiting
	default:
		return StatusHealthy
	}
}

// ActivityFor derives the persisted activity status from a classification.
func ActivityFor(s PRStatus) ActivityStatus {
	switch s {
	case StatusNeedsResponse:
		return ActivityNeedsResponse
	case StatusDormant:
		return ActivityDormant
	case StatusWaitingOnMaintainer, StatusWaiting:
		return ActivityWaiting
	default:
		return ActivityActive
	}
}
