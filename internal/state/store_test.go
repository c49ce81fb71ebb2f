package state

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/pr-autopilot/internal/domain"
)

// stepClock advances by step on every reading so backup names stay distinct.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	return New(Options{
		Dir:    dir,
		Clock:  &stepClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), step: time.Second},
		Logger: log.New(io.Discard, "", 0),
	})
}

func trackedPR(repo string, number int) domain.TrackedPR {
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	return domain.TrackedPR{
		ID:        int64(number),
		URL:       fmt.Sprintf("https://github.com/%s/pull/%d", repo, number),
		Repo:      repo,
		Number:    number,
		Title:     fmt.Sprintf("change %d", number),
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func assertExactlyOneContainer(t *testing.T, st domain.AgentState) {
	t.Helper()
	seen := map[string]string{}
	lists := map[string][]domain.TrackedPR{
		"active": st.ActivePRs, "dormant": st.DormantPRs, "merged": st.MergedPRs, "closed": st.ClosedPRs,
	}
	for name, prs := range lists {
		for _, pr := range prs {
			prev, dup := seen[pr.URL]
			assert.False(t, dup, "%s is in both %s and %s", pr.URL, prev, name)
			seen[pr.URL] = name
		}
	}
}

func urls(prs []domain.TrackedPR) []string {
	out := make([]string, len(prs))
	for i, pr := range prs {
		out[i] = pr.URL
	}
	return out
}

func TestStore_Transitions(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	a, b, c, d := trackedPR("octo/a", 1), trackedPR("octo/b", 2), trackedPR("octo/c", 3), trackedPR("octo/d", 4)
	for _, pr := range []domain.TrackedPR{a, b, c, d} {
		require.NoError(t, s.AddActivePR(pr))
	}

	require.NoError(t, s.MovePRToDormant(b.URL))
	require.NoError(t, s.MovePRToMerged(c.URL, time.Time{}))
	require.NoError(t, s.MovePRToClosed(d.URL, time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, s.MovePRToDormant(a.URL))
	require.NoError(t, s.ReactivatePR(a.URL, domain.ActivityNeedsResponse))

	st := s.State()
	assertExactlyOneContainer(t, st)
	assert.Equal(t, []string{a.URL}, urls(st.ActivePRs))
	assert.Equal(t, []string{b.URL}, urls(st.DormantPRs))
	assert.Equal(t, []string{c.URL}, urls(st.MergedPRs))
	assert.Equal(t, []string{d.URL}, urls(st.ClosedPRs))
	assert.Equal(t, domain.ActivityNeedsResponse, st.ActivePRs[0].ActivityStatus)
	require.NotNil(t, st.MergedPRs[0].MergedAt)
	require.NotNil(t, st.ClosedPRs[0].ClosedAt)
	assert.Equal(t, time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC), *st.ClosedPRs[0].ClosedAt)

	var types []domain.EventType
	for _, ev := range s.Events() {
		types = append(types, ev.Type)
		assert.NotEmpty(t, ev.ID)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventPRTracked, domain.EventPRTracked, domain.EventPRTracked, domain.EventPRTracked,
		domain.EventPRDormant, domain.EventPRMerged, domain.EventPRClosed, domain.EventPRDormant, domain.EventPRReactivated,
	}, types)
}

func TestStore_TransitionErrors(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	a, b := trackedPR("octo/a", 1), trackedPR("octo/b", 2)
	require.NoError(t, s.AddActivePR(a))
	require.NoError(t, s.AddActivePR(b))
	require.NoError(t, s.MovePRToMerged(a.URL, time.Time{}))

	assert.ErrorIs(t, s.AddActivePR(a), domain.ErrPRAlreadyTracked)
	assert.ErrorIs(t, s.MovePRToDormant(a.URL), domain.ErrTerminalPR)
	assert.ErrorIs(t, s.ReactivatePR(a.URL, ""), domain.ErrTerminalPR)
	assert.ErrorIs(t, s.MovePRToClosed(a.URL, time.Time{}), domain.ErrTerminalPR)
	assert.NoError(t, s.MovePRToMerged(a.URL, time.Time{}), "merging twice is a no-op")
	assert.ErrorIs(t, s.MovePRToDormant("https://github.com/octo/z/pull/9"), domain.ErrPRNotTracked)
	assert.ErrorIs(t, s.UntrackPR("https://github.com/octo/z/pull/9"), domain.ErrPRNotTracked)

	var urlErr *domain.InvalidURLError
	assert.ErrorAs(t, s.AddActivePR(domain.TrackedPR{URL: "not a url"}), &urlErr)

	// UpdatePR refreshes fields but cannot move a PR between lists.
	require.NoError(t, s.UpdatePR(b.URL, func(pr *domain.TrackedPR) {
		pr.Title = "renamed"
		pr.Status = domain.LifecycleMerged
		pr.URL = "https://github.com/octo/b/pull/99"
	}))
	got, ok := s.GetPR(b.URL)
	require.True(t, ok)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, domain.LifecycleOpen, got.Status)
	container, _ := s.ContainerOf(b.URL)
	assert.Equal(t, ContainerActive, container)

	require.NoError(t, s.UntrackPR(b.URL))
	_, ok = s.GetPR(b.URL)
	assert.False(t, ok)
}

func TestStore_ConcurrentTransitionsKeepInvariant(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	const n = 40
	for i := range n {
		require.NoError(t, s.AddActivePR(trackedPR("octo/many", i+1)))
	}

	var wg sync.WaitGroup
	for i := range n {
		url := trackedPR("octo/many", i+1).URL
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.MovePRToDormant(url)
			switch i % 4 {
			case 0:
				_ = s.ReactivatePR(url, domain.ActivityWaiting)
			case 1:
				_ = s.MovePRToMerged(url, time.Time{})
			case 2:
				_ = s.MovePRToClosed(url, time.Time{})
			}
			_ = s.State()
		}()
	}
	wg.Wait()

	st := s.State()
	assertExactlyOneContainer(t, st)
	assert.Len(t, st.ActivePRs, n/4)
	assert.Len(t, st.MergedPRs, n/4)
	assert.Len(t, st.ClosedPRs, n/4)
	assert.Len(t, st.DormantPRs, n/4)
}

func TestStore_SaveThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	a, b, c := trackedPR("octo/a", 1), trackedPR("octo/b", 2), trackedPR("octo/c", 3)
	for _, pr := range []domain.TrackedPR{a, b, c} {
		require.NoError(t, s.AddActivePR(pr))
	}
	require.NoError(t, s.MovePRToDormant(b.URL))
	require.NoError(t, s.MovePRToMerged(c.URL, time.Time{}))
	s.Scores().RecordMerge("octo/c")
	require.NoError(t, s.AddIssue(domain.TrackedIssue{URL: "https://github.com/octo/a/issues/5", Title: "bug", ViabilityScore: 80}))
	s.UpdateConfig(func(cfg *domain.Config) {
		cfg.GithubUsername = "alice"
		cfg.ExcludeOrgs = []string{"corp"}
	})
	s.MarkRun()
	require.NoError(t, s.Save())

	loaded := newTestStore(t, dir)
	res, err := loaded.Load()
	require.NoError(t, err)
	assert.Equal(t, SourceFile, res.Source)
	assert.Equal(t, s.State(), loaded.State())
}

func TestStore_LoadRecoversFromNewestValidBackup(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	require.NoError(t, s.AddActivePR(trackedPR("octo/a", 1)))
	require.NoError(t, s.Save())

	require.NoError(t, s.AddActivePR(trackedPR("octo/b", 2)))
	require.NoError(t, s.Save())
	want := s.State()

	require.NoError(t, s.AddActivePR(trackedPR("octo/c", 3)))
	require.NoError(t, s.Save())

	names, err := listBackups(s.BackupDir())
	require.NoError(t, err)
	require.Len(t, names, 2)
	newestValid := names[len(names)-1]
	validRaw, err := os.ReadFile(filepath.Join(s.BackupDir(), newestValid))
	require.NoError(t, err)

	// A newer backup that is itself broken must be skipped.
	require.NoError(t, os.WriteFile(filepath.Join(s.BackupDir(), "state-29991231T000000.000000000Z.json"), []byte(`{"version":2}`), 0o600))
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"version": 2, "activePRs": [`), 0o600))

	recovered := newTestStore(t, dir)
	res, err := recovered.Load()
	require.NoError(t, err)
	assert.Equal(t, SourceBackup, res.Source)
	assert.Equal(t, newestValid, res.Backup)
	assert.FileExists(t, res.CorruptPath)

	rewritten, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, validRaw, rewritten)

	got := recovered.State()
	assert.Equal(t, want.ActivePRs, got.ActivePRs)
	last := got.Events[len(got.Events)-1]
	assert.Equal(t, domain.EventStateRecovered, last.Type)
	assert.Equal(t, newestValid, last.Data["backup"])
}

func TestStore_LoadWithoutValidBackupStartsFresh(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	require.NoError(t, os.WriteFile(s.Path(), []byte("not json"), 0o600))

	res, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, SourceFresh, res.Source)
	require.NotEmpty(t, res.CorruptPath)
	preserved, err := os.ReadFile(res.CorruptPath)
	require.NoError(t, err)
	assert.Equal(t, "not json", string(preserved))
	assert.NoFileExists(t, s.Path())

	events := s.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventStateReset, events[0].Type)
	assert.Empty(t, s.State().ActivePRs)
}

func TestStore_LoadMissingFileIsFresh(t *testing.T) {
	s := newTestStore(t, filepath.Join(t.TempDir(), "nested", "state"))
	res, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, SourceFresh, res.Source)
	assert.Empty(t, res.CorruptPath)
	assert.Empty(t, s.Events())
	assert.Equal(t, domain.NewAgentState(), s.State())
}

func TestStore_SavePrunesBackups(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	for i := range MaxBackups + 5 {
		require.NoError(t, s.AddActivePR(trackedPR("octo/a", i+1)))
		require.NoError(t, s.Save())
	}

	names, err := listBackups(s.BackupDir())
	require.NoError(t, err)
	assert.Len(t, names, MaxBackups)

	// The newest backup holds the state as it was before the last save.
	raw, err := os.ReadFile(filepath.Join(s.BackupDir(), names[len(names)-1]))
	require.NoError(t, err)
	st, err := decodeState(raw)
	require.NoError(t, err)
	assert.Len(t, st.ActivePRs, MaxBackups+4)
}

func TestStore_SaveFailureReturnsSaveError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	s := newTestStore(t, filepath.Join(blocker, "state"))
	err := s.Save()
	var saveErr *domain.SaveError
	require.ErrorAs(t, err, &saveErr)
	assert.Equal(t, "mkdir", saveErr.Op)
	assert.Contains(t, err.Error(), "writable")
}

func TestStore_LoadUnusableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := newTestStore(t, filepath.Join(blocker, "state")).Load()
	assert.Error(t, err)
}

func TestDecodeState(t *testing.T) {
	valid := `{"version":2,"activePRs":[],"activeIssues":[],"dormantPRs":[],"mergedPRs":[],"closedPRs":[],"events":[],"config":{}}`
	testCases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "minimal valid document", input: valid},
		{name: "repoScores object", input: valid[:len(valid)-1] + `,"repoScores":{}}`},
		{name: "not json", input: `{"version":`, wantErr: true},
		{name: "missing version", input: `{"activePRs":[],"activeIssues":[],"dormantPRs":[],"mergedPRs":[],"closedPRs":[],"events":[],"config":{}}`, wantErr: true},
		{name: "missing config", input: `{"version":2,"activePRs":[],"activeIssues":[],"dormantPRs":[],"mergedPRs":[],"closedPRs":[],"events":[]}`, wantErr: true},
		{name: "array is null", input: `{"version":2,"activePRs":null,"activeIssues":[],"dormantPRs":[],"mergedPRs":[],"closedPRs":[],"events":[],"config":{}}`, wantErr: true},
		{name: "config is array", input: `{"version":2,"activePRs":[],"activeIssues":[],"dormantPRs":[],"mergedPRs":[],"closedPRs":[],"events":[],"config":[]}`, wantErr: true},
		{name: "zero version", input: `{"version":0,"activePRs":[],"activeIssues":[],"dormantPRs":[],"mergedPRs":[],"closedPRs":[],"events":[],"config":{}}`, wantErr: true},
		{name: "top-level array", input: `[]`, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeState([]byte(tc.input))
			if tc.wantErr {
				assert.ErrorIs(t, err, domain.ErrStateCorruption)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestStore_LoadKeepsMostFinalDuplicate(t *testing.T) {
	dir := t.TempDir()
	url := trackedPR("octo/a", 1).URL
	raw := `{"version":2,"activePRs":[{"url":"` + url + `","status":"open"}],"activeIssues":[],` +
		`"dormantPRs":[{"url":"` + url + `","status":"open","activityStatus":"dormant"}],` +
		`"mergedPRs":[{"url":"` + url + `","status":"open"}],"closedPRs":[],"events":[],"config":{}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFileName), []byte(raw), 0o600))

	loaded := newTestStore(t, dir)
	res, err := loaded.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, res.Dropped)
	st := loaded.State()
	assertExactlyOneContainer(t, st)
	require.Len(t, st.MergedPRs, 1)
	assert.Equal(t, domain.LifecycleMerged, st.MergedPRs[0].Status)
	assert.Empty(t, st.ActivePRs)
	assert.Empty(t, st.DormantPRs)
}

func TestStore_IssuesAndStats(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	issue := domain.TrackedIssue{URL: "https://github.com/octo/a/issues/5", ViabilityScore: 140}
	require.NoError(t, s.AddIssue(issue))
	assert.ErrorIs(t, s.AddIssue(issue), domain.ErrIssueTracked)
	got := s.Issues()
	require.Len(t, got, 1)
	assert.Equal(t, "octo/a", got[0].Repo)
	assert.Equal(t, 5, got[0].Number)
	assert.Equal(t, 100, got[0].ViabilityScore)

	for i := range 4 {
		require.NoError(t, s.AddActivePR(trackedPR("octo/a", i+1)))
	}
	require.NoError(t, s.MovePRToMerged(trackedPR("octo/a", 1).URL, time.Time{}))
	require.NoError(t, s.MovePRToMerged(trackedPR("octo/a", 2).URL, time.Time{}))
	require.NoError(t, s.MovePRToClosed(trackedPR("octo/a", 3).URL, time.Time{}))
	s.MarkRun()

	stats := s.GetStats()
	assert.Equal(t, 1, stats.ActivePRs)
	assert.Equal(t, 2, stats.MergedPRs)
	assert.Equal(t, 1, stats.ClosedPRs)
	assert.Equal(t, 4, stats.TotalTracked)
	assert.Equal(t, 1, stats.ActiveIssues)
	assert.InDelta(t, 2.0/3.0, stats.MergeRate, 1e-9)
	assert.NotNil(t, stats.LastRunAt)

	require.NoError(t, s.RemoveIssue(issue.URL))
	assert.ErrorIs(t, s.RemoveIssue(issue.URL), domain.ErrIssueNotTracked)
	assert.Empty(t, s.Issues())
}

func TestMigrateLegacy(t *testing.T) {
	legacy := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(legacy, BackupDirName), 0o750))
	legacyState := newTestStore(t, legacy)
	require.NoError(t, legacyState.AddActivePR(trackedPR("octo/a", 1)))
	require.NoError(t, legacyState.Save())
	require.NoError(t, legacyState.Save())

	t.Run("copies state and backups", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "new")
		s := New(Options{Dir: dir, LegacyDir: legacy, Logger: log.New(io.Discard, "", 0)})
		res, err := s.Load()
		require.NoError(t, err)
		assert.True(t, res.Migrated)
		assert.Equal(t, SourceFile, res.Source)
		assert.Equal(t, legacyState.State().ActivePRs, s.State().ActivePRs)
		names, err := listBackups(s.BackupDir())
		require.NoError(t, err)
		assert.Len(t, names, 1)
		assert.FileExists(t, filepath.Join(legacy, StateFileName))

		migrated, err := MigrateLegacy(legacy, dir)
		require.NoError(t, err)
		assert.False(t, migrated, "an existing state file is never overwritten")
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		dir := t.TempDir()
		names, err := listBackups(filepath.Join(legacy, BackupDirName))
		require.NoError(t, err)
		// A directory where the backup copy should go makes the copy fail.
		require.NoError(t, os.MkdirAll(filepath.Join(dir, BackupDirName, names[0]), 0o750))

		migrated, err := MigrateLegacy(legacy, dir)
		require.Error(t, err)
		assert.False(t, migrated)
		assert.NoFileExists(t, filepath.Join(dir, StateFileName))
	})

	t.Run("removes a partially written state file", func(t *testing.T) {
		dir := t.TempDir()
		orig := copyFile
		t.Cleanup(func() { copyFile = orig })
		copyFile = func(src, dst string) error {
			content, err := os.ReadFile(src)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(dst, content[:len(content)/2], 0o600))
			return errors.New("no space left on device")
		}

		migrated, err := MigrateLegacy(legacy, dir)
		require.ErrorContains(t, err, "copy legacy state")
		assert.False(t, migrated)
		assert.NoFileExists(t, filepath.Join(dir, StateFileName))

		// With the partial file gone, the next load migrates again.
		copyFile = orig
		s := New(Options{Dir: dir, LegacyDir: legacy, Logger: log.New(io.Discard, "", 0)})
		res, err := s.Load()
		require.NoError(t, err)
		assert.True(t, res.Migrated)
		assert.Equal(t, legacyState.State().ActivePRs, s.State().ActivePRs)
	})

	t.Run("nothing to migrate", func(t *testing.T) {
		migrated, err := MigrateLegacy(t.TempDir(), t.TempDir())
		require.NoError(t, err)
		assert.False(t, migrated)
	})
}

func TestScoreTracker(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	scores := s.Scores()

	_, ok := scores.Get("octo/unknown")
	assert.False(t, ok, "no events means no score")

	var last domain.RepoScore
	for range 1000 {
		last = scores.RecordMerge("octo/popular")
	}
	assert.Equal(t, 9, last.Score)
	assert.Equal(t, 1000, last.MergedPRCount)

	scores.RecordClose("octo/strict")
	scores.RecordClose("octo/strict")
	hostile := scores.UpdateSignals("octo/strict", func(sig *domain.RepoSignals) { sig.HasHostileComments = true })
	assert.Equal(t, 1, hostile.Score)

	responsive := scores.UpdateSignals("octo/popular", func(sig *domain.RepoSignals) { sig.IsResponsive = true })
	assert.Equal(t, 10, responsive.Score)
	assert.False(t, responsive.LastEvaluatedAt.IsZero())

	top := scores.Top(1)
	require.Len(t, top, 1)
	assert.Equal(t, "octo/popular", top[0].Repo)
	assert.Len(t, scores.Top(-1), 2)
	assert.Equal(t, 2, s.GetStats().ScoredRepos)
}

func TestStore_RecordEventCopiesData(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	data := map[string]string{"k": "v"}
	ev := s.RecordEvent(domain.EventStateReset, data)
	data["k"] = "changed"
	assert.Equal(t, "v", s.Events()[0].Data["k"])
	assert.Equal(t, ev.ID, s.Events()[0].ID)
	assert.True(t, errors.Is(s.UpdatePR("https://github.com/x/y/pull/1", func(*domain.TrackedPR) {}), domain.ErrPRNotTracked))
}
