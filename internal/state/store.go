// Package state persists the tracked pull requests, issues, repository scores
// and the event log as a single JSON document with rolling backups.
package state

import (
	"fmt"
	"io"
	"log"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/naka-gawa/pr-autopilot/internal/domain"
)

// File layout under the state directory.
const (
	StateFileName = "state.json"
	BackupDirName = "backups"
	MaxBackups    = 10
)

// Options configures a Store.
type Options struct {
	// Dir holds state.json and the backups directory.
	Dir string
	// LegacyDir is checked for a state file to migrate when Dir has none.
	LegacyDir string
	Clock     domain.Clock
	Logger    *log.Logger
}

// Store owns the agent state for one process run. All methods are safe for
// concurrent use; each mutation is a single critical section without I/O.
type Store struct {
	mu sync.Mutex

	dir       string
	legacyDir string
	clock     domain.Clock
	logger    *log.Logger
	newID     func() string

	version    int
	prs        *lifecycle
	issues     []domain.TrackedIssue
	scores     map[string]domain.RepoScore
	events     []domain.StateEvent
	config     domain.Config
	lastRunAt  *time.Time
	lastDigest *domain.Digest
}

// New creates a Store holding fresh state. Call Load to read the persisted document.
func New(opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = domain.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	s := &Store{
		dir:       opts.Dir,
		legacyDir: opts.LegacyDir,
		clock:     opts.Clock,
		logger:    opts.Logger,
		newID:     uuid.NewString,
	}
	s.reset(domain.NewAgentState())
	return s
}

// Path returns the location of the state file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, StateFileName)
}

// BackupDir returns the location of the backup directory.
func (s *Store) BackupDir() string {
	return filepath.Join(s.dir, BackupDirName)
}

// reset replaces the in-memory state. The caller must hold mu or own s exclusively.
func (s *Store) reset(st domain.AgentState) int {
	prs, dropped := adopt(st)
	st.Config.Normalize()
	s.version = domain.CurrentStateVersion
	s.prs = prs
	s.issues = slices.Clone(st.ActiveIssues)
	if s.issues == nil {
		s.issues = []domain.TrackedIssue{}
	}
	s.scores = maps.Clone(st.RepoScores)
	if s.scores == nil {
		s.scores = map[string]domain.RepoScore{}
	}
	s.events = slices.Clone(st.Events)
	if s.events == nil {
		s.events = []domain.StateEvent{}
	}
	s.config = cloneConfig(st.Config)
	s.lastRunAt = st.LastRunAt
	s.lastDigest = st.LastDigest
	return dropped
}

func (s *Store) recordLocked(t domain.EventType, data map[string]string) domain.StateEvent {
	if len(data) == 0 {
		data = nil
	}
	ev := domain.StateEvent{ID: s.newID(), Type: t, At: s.clock.Now(), Data: data}
	s.events = append(s.events, ev)
	return ev
}

func prEventData(pr *domain.TrackedPR) map[string]string {
	return map[string]string{"url": pr.URL, "repo": pr.Repo, "number": strconv.Itoa(pr.Number)}
}

// AddActivePR starts tracking an open pull request.
func (s *Store) AddActivePR(pr domain.TrackedPR) error {
	if _, err := domain.ParsePRURL(pr.URL); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prs.get(pr.URL); ok {
		return fmt.Errorf("%w: %s", domain.ErrPRAlreadyTracked, pr.URL)
	}
	now := s.clock.Now()
	if pr.Status != domain.LifecycleDraft {
		pr.Status = domain.LifecycleOpen
	}
	if pr.ActivityStatus == "" || pr.ActivityStatus == domain.ActivityDormant {
		pr.ActivityStatus = domain.ActivityActive
	}
	if pr.Repo == "" {
		pr.Repo = domain.RepoFromURL(pr.URL)
	}
	if pr.LastCheckedAt.IsZero() {
		pr.LastCheckedAt = now
	}
	if pr.LastActivityAt.IsZero() {
		pr.LastActivityAt = pr.UpdatedAt
	}
	pr.MergedAt, pr.ClosedAt = nil, nil
	s.prs.insert(pr)
	s.recordLocked(domain.EventPRTracked, prEventData(&pr))
	return nil
}

// UpdatePR applies fn to a tracked PR. fn may refresh any field but cannot
// move the PR to another list; use the Move methods for transitions.
func (s *Store) UpdatePR(url string, fn func(*domain.TrackedPR)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.prs.get(url)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrPRNotTracked, url)
	}
	next := clonePR(*cur)
	fn(&next)
	next.URL = cur.URL
	if containerOf(&next) != containerOf(cur) {
		next.ActivityStatus = cur.ActivityStatus
	}
	if containerOf(&next) != containerOf(cur) {
		next.Status = cur.Status
	}
	*cur = next
	return nil
}

// MovePRToDormant moves an active PR to the dormant list. It is a no-op for a
// PR that is already dormant.
func (s *Store) MovePRToDormant(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pr, err := s.openPRLocked(url)
	if err != nil {
		return err
	}
	if containerOf(pr) == ContainerDormant {
		return nil
	}
	pr.ActivityStatus = domain.ActivityDormant
	s.prs.touch(url)
	s.recordLocked(domain.EventPRDormant, prEventData(pr))
	return nil
}

// ReactivatePR moves a dormant PR back to the active list with the given
// activity status. It is a no-op for a PR that is not dormant.
func (s *Store) ReactivatePR(url string, activity domain.ActivityStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pr, err := s.openPRLocked(url)
	if err != nil {
		return err
	}
	if containerOf(pr) != ContainerDormant {
		return nil
	}
	if activity == "" || activity == domain.ActivityDormant {
		activity = domain.ActivityActive
	}
	pr.ActivityStatus = activity
	s.prs.touch(url)
	s.recordLocked(domain.EventPRReactivated, prEventData(pr))
	return nil
}

// MovePRToMerged records that a PR was merged. Merging is terminal.
func (s *Store) MovePRToMerged(url string, mergedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pr, ok := s.prs.get(url)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrPRNotTracked, url)
	}
	switch pr.Status {
	case domain.LifecycleMerged:
		return nil
	case domain.LifecycleClosed:
		return fmt.Errorf("%w: %s", domain.ErrTerminalPR, url)
	}
	if mergedAt.IsZero() {
		mergedAt = s.clock.Now()
	}
	pr.Status = domain.LifecycleMerged
	pr.MergedAt = &mergedAt
	pr.LastCheckedAt = s.clock.Now()
	s.prs.touch(url)
	s.recordLocked(domain.EventPRMerged, prEventData(pr))
	return nil
}

// MovePRToClosed records that a PR was closed without merging. Closing is terminal.
func (s *Store) MovePRToClosed(url string, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pr, ok := s.prs.get(url)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrPRNotTracked, url)
	}
	switch pr.Status {
	case domain.LifecycleClosed:
		return nil
	case domain.LifecycleMerged:
		return fmt.Errorf("%w: %s", domain.ErrTerminalPR, url)
	}
	if closedAt.IsZero() {
		closedAt = s.clock.Now()
	}
	pr.Status = domain.LifecycleClosed
	pr.ClosedAt = &closedAt
	pr.LastCheckedAt = s.clock.Now()
	s.prs.touch(url)
	s.recordLocked(domain.EventPRClosed, prEventData(pr))
	return nil
}

// UntrackPR forgets a PR entirely.
func (s *Store) UntrackPR(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pr, ok := s.prs.get(url)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrPRNotTracked, url)
	}
	data := prEventData(pr)
	s.prs.remove(url)
	s.recordLocked(domain.EventPRUntracked, data)
	return nil
}

func (s *Store) openPRLocked(url string) (*domain.TrackedPR, error) {
	pr, ok := s.prs.get(url)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPRNotTracked, url)
	}
	if pr.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", domain.ErrTerminalPR, url)
	}
	return pr, nil
}

// AddIssue stores an issue candidate.
func (s *Store) AddIssue(issue domain.TrackedIssue) error {
	ref, err := domain.ParsePRURL(issue.URL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.issues {
		if existing.URL == issue.URL {
			return fmt.Errorf("%w: %s", domain.ErrIssueTracked, issue.URL)
		}
	}
	if issue.Repo == "" {
		issue.Repo = ref.FullName()
	}
	if issue.Number == 0 {
		issue.Number = ref.Number
	}
	if issue.AddedAt.IsZero() {
		issue.AddedAt = s.clock.Now()
	}
	issue.ViabilityScore = min(max(issue.ViabilityScore, 0), 100)
	s.issues = append(s.issues, issue)
	s.recordLocked(domain.EventIssueTracked, map[string]string{"url": issue.URL, "repo": issue.Repo})
	return nil
}

// RemoveIssue drops an issue candidate.
func (s *Store) RemoveIssue(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.issues, func(issue domain.TrackedIssue) bool { return issue.URL == url })
	if i < 0 {
		return fmt.Errorf("%w: %s", domain.ErrIssueNotTracked, url)
	}
	repo := s.issues[i].Repo
	s.issues = slices.Delete(s.issues, i, i+1)
	s.recordLocked(domain.EventIssueRemoved, map[string]string{"url": url, "repo": repo})
	return nil
}

// UpdateConfig applies fn to the user configuration and returns the normalized result.
func (s *Store) UpdateConfig(fn func(*domain.Config)) domain.Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := cloneConfig(s.config)
	fn(&cfg)
	cfg.Normalize()
	s.config = cfg
	return cloneConfig(cfg)
}

// SetLastDigest caches the most recent digest.
func (s *Store) SetLastDigest(d domain.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDigest = &d
}

// MarkRun stamps the time of the current run.
func (s *Store) MarkRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	s.lastRunAt = &now
}

// RecordEvent appends an event to the log.
func (s *Store) RecordEvent(t domain.EventType, data map[string]string) domain.StateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(t, maps.Clone(data))
}

// GetPR returns a copy of a tracked PR.
func (s *Store) GetPR(url string) (domain.TrackedPR, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.prs.get(url)
	if !ok {
		return domain.TrackedPR{}, false
	}
	return clonePR(*pr), true
}

// ContainerOf reports which list a tracked PR is in.
func (s *Store) ContainerOf(url string) (Container, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.prs.get(url)
	if !ok {
		return "", false
	}
	return containerOf(pr), true
}

// PRsIn returns copies of the PRs in one list, in list order.
func (s *Store) PRsIn(c Container) []domain.TrackedPR {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prs.in(c)
}

// Issues returns the tracked issue candidates.
func (s *Store) Issues() []domain.TrackedIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.issues)
}

// Config returns the user configuration.
func (s *Store) Config() domain.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneConfig(s.config)
}

// Events returns the event log, oldest first.
func (s *Store) Events() []domain.StateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]domain.StateEvent, len(s.events))
	for i, ev := range s.events {
		ev.Data = maps.Clone(ev.Data)
		events[i] = ev
	}
	return events
}

// State returns a deep copy of the state in its persisted shape.
func (s *Store) State() domain.AgentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() domain.AgentState {
	events := make([]domain.StateEvent, len(s.events))
	for i, ev := range s.events {
		ev.Data = maps.Clone(ev.Data)
		events[i] = ev
	}
	st := domain.AgentState{
		Version:      s.version,
		ActivePRs:    s.prs.in(ContainerActive),
		ActiveIssues: slices.Clone(s.issues),
		DormantPRs:   s.prs.in(ContainerDormant),
		MergedPRs:    s.prs.in(ContainerMerged),
		ClosedPRs:    s.prs.in(ContainerClosed),
		RepoScores:   maps.Clone(s.scores),
		Events:       events,
		Config:       cloneConfig(s.config),
	}
	if s.lastRunAt != nil {
		t := *s.lastRunAt
		st.LastRunAt = &t
	}
	if s.lastDigest != nil {
		d := *s.lastDigest
		st.LastDigest = &d
	}
	return st
}

// GetStats summarizes the state.
func (s *Store) GetStats() domain.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.Stats{
		ActivePRs:    s.prs.count(ContainerActive),
		DormantPRs:   s.prs.count(ContainerDormant),
		MergedPRs:    s.prs.count(ContainerMerged),
		ClosedPRs:    s.prs.count(ContainerClosed),
		ActiveIssues: len(s.issues),
		ScoredRepos:  len(s.scores),
		Events:       len(s.events),
	}
	stats.TotalTracked = stats.ActivePRs + stats.DormantPRs + stats.MergedPRs + stats.ClosedPRs
	if finished := stats.MergedPRs + stats.ClosedPRs; finished > 0 {
		stats.MergeRate = float64(stats.MergedPRs) / float64(finished)
	}
	if s.lastRunAt != nil {
		t := *s.lastRunAt
		stats.LastRunAt = &t
	}
	return stats
}

func cloneConfig(c domain.Config) domain.Config {
	c.ExcludeRepos = slices.Clone(c.ExcludeRepos)
	c.ExcludeOrgs = slices.Clone(c.ExcludeOrgs)
	return c
}
