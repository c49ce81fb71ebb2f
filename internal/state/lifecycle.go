package state

import (
	"slices"

	"github.com/naka-gawa/pr-autopilot/internal/domain"
)

// Container names one of the four persisted PR lists.
type Container string

// Container values.
const (
	ContainerActive  Container = "active"
	ContainerDormant Container = "dormant"
	ContainerMerged  Container = "merged"
	ContainerClosed  Container = "closed"
)

// containerOf derives the list a PR belongs to from its lifecycle fields.
func containerOf(pr *domain.TrackedPR) Container {
	switch {
	case pr.Status == domain.LifecycleMerged:
		return ContainerMerged
	case pr.Status == domain.LifecycleClosed:
		return ContainerClosed
	case pr.ActivityStatus == domain.ActivityDormant:
		return ContainerDormant
	default:
		return ContainerActive
	}
}

// lifecycle is the arena of tracked PRs keyed by URL. Each PR lives exactly
// once in byURL; order only records insertion and transition order so the
// persisted lists stay stable.
type lifecycle struct {
	byURL map[string]*domain.TrackedPR
	order []string
}

func newLifecycle() *lifecycle {
	return &lifecycle{byURL: make(map[string]*domain.TrackedPR)}
}

func (l *lifecycle) get(url string) (*domain.TrackedPR, bool) {
	pr, ok := l.byURL[url]
	return pr, ok
}

func (l *lifecycle) insert(pr domain.TrackedPR) {
	l.byURL[pr.URL] = &pr
	l.order = append(l.order, pr.URL)
}

// touch moves url to the end of the order, as a transition appends the PR to
// its destination list.
func (l *lifecycle) touch(url string) {
	if i := slices.Index(l.order, url); i >= 0 {
		l.order = append(slices.Delete(l.order, i, i+1), url)
	}
}

func (l *lifecycle) remove(url string) {
	delete(l.byURL, url)
	if i := slices.Index(l.order, url); i >= 0 {
		l.order = slices.Delete(l.order, i, i+1)
	}
}

func (l *lifecycle) in(c Container) []domain.TrackedPR {
	prs := []domain.TrackedPR{}
	for _, url := range l.order {
		pr := l.byURL[url]
		if containerOf(pr) == c {
			prs = append(prs, clonePR(*pr))
		}
	}
	return prs
}

func (l *lifecycle) count(c Container) int {
	n := 0
	for _, pr := range l.byURL {
		if containerOf(pr) == c {
			n++
		}
	}
	return n
}

// adopt rebuilds the arena from the persisted lists. A URL listed in more
// than one list is kept in the most final one (closed, merged, dormant,
// active), and its lifecycle fields are aligned with that list.
func adopt(st domain.AgentState) (*lifecycle, int) {
	lists := []struct {
		c   Container
		prs []domain.TrackedPR
	}{
		{ContainerActive, st.ActivePRs},
		{ContainerDormant, st.DormantPRs},
		{ContainerMerged, st.MergedPRs},
		{ContainerClosed, st.ClosedPRs},
	}
	winner := make(map[string]Container)
	for i := len(lists) - 1; i >= 0; i-- {
		for _, pr := range lists[i].prs {
			if _, ok := winner[pr.URL]; !ok && pr.URL != "" {
				winner[pr.URL] = lists[i].c
			}
		}
	}

	l := newLifecycle()
	dropped := 0
	for _, list := range lists {
		for _, pr := range list.prs {
			if pr.URL == "" || winner[pr.URL] != list.c {
				dropped++
				continue
			}
			if _, dup := l.byURL[pr.URL]; dup {
				dropped++
				continue
			}
			alignTo(&pr, list.c)
			l.insert(pr)
		}
	}
	return l, dropped
}

func alignTo(pr *domain.TrackedPR, c Container) {
	switch c {
	case ContainerMerged:
		pr.Status = domain.LifecycleMerged
	case ContainerClosed:
		pr.Status = domain.LifecycleClosed
	case ContainerDormant:
		if pr.IsTerminal() || pr.Status == "" {
			pr.Status = domain.LifecycleOpen
		}
		pr.ActivityStatus = domain.ActivityDormant
	case ContainerActive:
		if pr.IsTerminal() || pr.Status == "" {
			pr.Status = domain.LifecycleOpen
		}
		if pr.ActivityStatus == domain.ActivityDormant || pr.ActivityStatus == "" {
			pr.ActivityStatus = domain.ActivityActive
		}
	}
}

func clonePR(pr domain.TrackedPR) domain.TrackedPR {
	if pr.MergedAt != nil {
		t := *pr.MergedAt
		pr.MergedAt = &t
	}
	if pr.ClosedAt != nil {
		t := *pr.ClosedAt
		pr.ClosedAt = &t
	}
	return pr
}
