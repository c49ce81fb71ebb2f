package usecase

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/naka-gawa/pr-autopilot/internal/domain"
	"github.com/naka-gawa/pr-autopilot/internal/gateway"
)

// timelineEntry is a comment or a review body in the PR conversation.
type timelineEntry struct {
	author string
	isBot  bool
	body   string
	at     time.Time
}

// FindUnrespondedComment returns the latest maintainer comment posted after
// the user's own latest comment, or nil when the user has the last word.
// Reviews without a body need no reply and are ignored.
func FindUnrespondedComment(user string, comments []gateway.Comment, reviews []gateway.Review) *domain.MaintainerComment {
	timeline := make([]timelineEntry, 0, len(comments)+len(reviews))
	for _, c := range comments {
		timeline = append(timeline, timelineEntry{author: c.Author, isBot: c.AuthorIsBot, body: c.Body, at: c.CreatedAt})
	}
	for _, r := range reviews {
		if strings.TrimSpace(r.Body) == "" {
			continue
		}
		timeline = append(timeline, timelineEntry{author: r.Author, isBot: r.AuthorIsBot, body: r.Body, at: r.SubmittedAt})
	}
	slices.SortStableFunc(timeline, func(a, b timelineEntry) int {
		return a.at.Compare(b.at)
	})

	var lastOwn time.Time
	for _, e := range timeline {
		if strings.EqualFold(e.author, user) && e.at.After(lastOwn) {
			lastOwn = e.at
		}
	}

	var latest *timelineEntry
	for i := range timeline {
		e := &timeline[i]
		if e.isBot || e.author == "" || strings.EqualFold(e.author, user) {
			continue
		}
		if e.at.After(lastOwn) {
			latest = e
		}
	}
	if latest == nil {
		return nil
	}
	return &domain.MaintainerComment{Author: latest.author, Body: latest.body, CreatedAt: latest.at}
}

var (
	uncheckedBoxPattern = regexp.MustCompile(`- \[ \]`)
	checkedBoxPattern   = regexp.MustCompile(`- \[[xX]\]`)
)

// ChecklistFromBody counts task-list checkboxes. It returns nil when the body
// has no checkboxes at all.
func ChecklistFromBody(body string) *domain.ChecklistStats {
	unchecked := len(uncheckedBoxPattern.FindAllStringIndex(body, -1))
	checked := len(checkedBoxPattern.FindAllStringIndex(body, -1))
	if unchecked+checked == 0 {
		return nil
	}
	return &domain.ChecklistStats{Checked: checked, Total: checked + unchecked}
}

var hintKeywords = []struct {
	hint    domain.MaintainerActionHint
	pattern *regexp.Regexp
}{
	{domain.HintDemoRequested, regexp.MustCompile(`(?i)\b(demo|screenshots?|screen ?recording|video|gif)\b`)},
	{domain.HintTestsRequested, regexp.MustCompile(`(?i)\b(tests?|unit tests?|test cases?|coverage)\b`)},
	{domain.HintDocsRequested, regexp.MustCompile(`(?i)\b(docs?|documentation|readme|changelog)\b`)},
	{domain.HintRebaseRequested, regexp.MustCompile(`(?i)\b(rebase|merge conflicts?|conflicts?|update (your|the) branch)\b`)},
}

// MaintainerHints reads what the maintainer asked for out of their comment.
func MaintainerHints(comment *domain.MaintainerComment, decision domain.ReviewDecision) []domain.MaintainerActionHint {
	hints := []domain.MaintainerActionHint{}
	if comment != nil {
		for _, kw := range hintKeywords {
			if kw.pattern.MatchString(comment.Body) {
				hints = append(hints, kw.hint)
			}
		}
	}
	if decision == domain.ReviewChangesRequested {
		hints = append(hints, domain.HintChangesRequested)
	}
	return hints
}

// DeriveReviewDecision approximates GitHub's review decision from the latest
// review of each reviewer. Used when the GraphQL lookup fails.
func DeriveReviewDecision(reviews []gateway.Review) domain.ReviewDecision {
	sorted := slices.Clone(reviews)
	slices.SortStableFunc(sorted, func(a, b gateway.Review) int {
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})
	latest := map[string]string{}
	for _, r := range sorted {
		switch r.State {
		case "APPROVED", "CHANGES_REQUESTED", "DISMISSED":
			latest[strings.ToLower(r.Author)] = r.State
		}
	}
	approved := false
	for _, state := range latest {
		switch state {
		case "CHANGES_REQUESTED":
			return domain.ReviewChangesRequested
		case "APPROVED":
			approved = true
		}
	}
	if approved {
		return domain.ReviewApproved
	}
	return domain.ReviewNone
}

// DaysSince returns the number of whole days between t and now.
func DaysSince(t, now time.Time) int {
	if t.IsZero() || now.Before(t) {
		return 0
	}
	return int(now.Sub(t) / (24 * time.Hour))
}
