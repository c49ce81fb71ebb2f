package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/naka-gawa/pr-autopilot/internal/domain"
)

// LoadSource tells where the loaded state came from.
type LoadSource string

// LoadSource values.
const (
	SourceFile   LoadSource = "file"
	SourceBackup LoadSource = "backup"
	SourceFresh  LoadSource = "fresh"
)

// LoadResult describes the outcome of Load.
type LoadResult struct {
	Source LoadSource
	// Backup is the backup file adopted when Source is SourceBackup.
	Backup string
	// CorruptPath is where an invalid state file was moved aside, if any.
	CorruptPath string
	// Migrated is true when the state was copied from the legacy directory.
	Migrated bool
	// Dropped counts PR entries discarded because their URL was listed twice.
	Dropped int
}

const backupTimeLayout = "20060102T150405.000000000Z"

var requiredArrays = []string{"activePRs", "activeIssues", "dormantPRs", "mergedPRs", "closedPRs", "events"}

// Load reads the state file, falling back to the newest valid backup and
// finally to fresh state. A corrupted file never produces an error; only an
// unusable state directory does.
func (s *Store) Load() (LoadResult, error) {
	var result LoadResult
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return result, fmt.Errorf("create state directory: %w", err)
	}

	if s.legacyDir != "" {
		migrated, err := MigrateLegacy(s.legacyDir, s.dir)
		if err != nil {
			s.logger.Printf("Warning: legacy state migration from %s failed: %v\n", s.legacyDir, err)
		}
		if migrated {
			s.logger.Printf("State: migrated legacy state from %s to %s\n", s.legacyDir, s.dir)
		}
		result.Migrated = migrated
	}

	content, err := os.ReadFile(s.Path())
	switch {
	case err == nil:
		st, decodeErr := decodeState(content)
		if decodeErr == nil {
			result.Source = SourceFile
			result.Dropped = s.adoptLoaded(st)
			s.logger.Printf("State: loaded %s\n", s.Path())
			return result, nil
		}
		s.logger.Printf("Warning: %s is invalid: %v\n", s.Path(), decodeErr)
		result.CorruptPath = s.moveAside()
	case errors.Is(err, os.ErrNotExist):
		s.logger.Printf("State: no state file at %s\n", s.Path())
	default:
		s.logger.Printf("Warning: cannot read %s: %v\n", s.Path(), err)
	}

	name, backup, ok := s.newestValidBackup()
	if ok {
		result.Source = SourceBackup
		result.Backup = name
		result.Dropped = s.adoptLoaded(backup.state)
		if err := writeAtomic(s.Path(), backup.raw); err != nil {
			s.logger.Printf("Warning: recovered from %s but could not rewrite %s: %v\n", name, s.Path(), err)
		}
		s.RecordEvent(domain.EventStateRecovered, map[string]string{"backup": name})
		s.logger.Printf("Warning: state recovered from backup %s\n", name)
		return result, nil
	}

	result.Source = SourceFresh
	s.mu.Lock()
	s.reset(domain.NewAgentState())
	s.mu.Unlock()
	if result.CorruptPath != "" {
		s.RecordEvent(domain.EventStateReset, map[string]string{"corrupt": filepath.Base(result.CorruptPath)})
		s.logger.Printf("Warning: no valid backup found; starting with empty state (previous data kept in %s)\n", result.CorruptPath)
	}
	return result, nil
}

func (s *Store) adoptLoaded(st domain.AgentState) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := s.reset(st)
	if dropped > 0 {
		s.logger.Printf("Warning: dropped %d duplicate or unnamed pull request entries\n", dropped)
	}
	return dropped
}

// moveAside renames an invalid state file so the recovery cannot overwrite it.
func (s *Store) moveAside() string {
	dst := s.Path() + ".corrupt-" + s.clock.Now().UTC().Format(backupTimeLayout)
	if err := os.Rename(s.Path(), dst); err != nil {
		s.logger.Printf("Warning: could not preserve invalid state file: %v\n", err)
		return ""
	}
	return dst
}

type loadedBackup struct {
	state domain.AgentState
	raw   []byte
}

func (s *Store) newestValidBackup() (string, loadedBackup, bool) {
	names, err := listBackups(s.BackupDir())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Printf("Warning: cannot list backups: %v\n", err)
		}
		return "", loadedBackup{}, false
	}
	for _, name := range slices.Backward(names) {
		raw, err := os.ReadFile(filepath.Join(s.BackupDir(), name))
		if err != nil {
			s.logger.Printf("Warning: cannot read backup %s: %v\n", name, err)
			continue
		}
		st, err := decodeState(raw)
		if err != nil {
			s.logger.Printf("Warning: backup %s is invalid: %v\n", name, err)
			continue
		}
		return name, loadedBackup{state: st, raw: raw}, true
	}
	return "", loadedBackup{}, false
}

// decodeState validates the document shape before decoding it.
func decodeState(content []byte) (domain.AgentState, error) {
	var st domain.AgentState
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(content, &fields); err != nil {
		return st, fmt.Errorf("%w: %w", domain.ErrStateCorruption, err)
	}
	if _, ok := fields["version"]; !ok {
		return st, fmt.Errorf("%w: missing version", domain.ErrStateCorruption)
	}
	for _, key := range requiredArrays {
		if !isJSONKind(fields[key], '[') {
			return st, fmt.Errorf("%w: %s must be an array", domain.ErrStateCorruption, key)
		}
	}
	if !isJSONKind(fields["config"], '{') {
		return st, fmt.Errorf("%w: config must be an object", domain.ErrStateCorruption)
	}
	if raw, ok := fields["repoScores"]; ok && !isJSONKind(raw, '{') && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return st, fmt.Errorf("%w: repoScores must be an object", domain.ErrStateCorruption)
	}
	if err := json.Unmarshal(content, &st); err != nil {
		return st, fmt.Errorf("%w: %w", domain.ErrStateCorruption, err)
	}
	if st.Version <= 0 {
		return st, fmt.Errorf("%w: unsupported version %d", domain.ErrStateCorruption, st.Version)
	}
	return st, nil
}

func isJSONKind(raw json.RawMessage, open byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == open
}

// Save backs up the current state file verbatim, prunes old backups and then
// writes the in-memory state. Failures are returned as *domain.SaveError.
func (s *Store) Save() error {
	s.mu.Lock()
	st := s.snapshotLocked()
	s.mu.Unlock()

	content, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return &domain.SaveError{Path: s.Path(), Op: "encode", Err: err}
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return &domain.SaveError{Path: s.dir, Op: "mkdir", Err: err}
	}

	previous, err := os.ReadFile(s.Path())
	switch {
	case err == nil:
		if err := s.backup(previous); err != nil {
			return err
		}
	case !errors.Is(err, os.ErrNotExist):
		return &domain.SaveError{Path: s.Path(), Op: "read", Err: err}
	}

	if err := writeAtomic(s.Path(), append(content, '\n')); err != nil {
		return &domain.SaveError{Path: s.Path(), Op: "write", Err: err}
	}
	s.logger.Printf("State: saved %s\n", s.Path())
	return nil
}

func (s *Store) backup(previous []byte) error {
	dir := s.BackupDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return &domain.SaveError{Path: dir, Op: "mkdir", Err: err}
	}
	path := s.nextBackupPath(dir)
	if err := os.WriteFile(path, previous, 0o600); err != nil {
		return &domain.SaveError{Path: path, Op: "backup", Err: err}
	}
	s.pruneBackups(dir)
	return nil
}

// nextBackupPath names a backup after the current time, stepping forward a
// nanosecond on collision so names stay unique and sortable.
func (s *Store) nextBackupPath(dir string) string {
	at := s.clock.Now().UTC()
	for {
		path := filepath.Join(dir, backupName(at))
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		at = at.Add(time.Nanosecond)
	}
}

func backupName(at time.Time) string {
	return "state-" + at.Format(backupTimeLayout) + ".json"
}

func (s *Store) pruneBackups(dir string) {
	names, err := listBackups(dir)
	if err != nil {
		s.logger.Printf("Warning: cannot list backups for pruning: %v\n", err)
		return
	}
	if len(names) <= MaxBackups {
		return
	}
	for _, name := range names[:len(names)-MaxBackups] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			s.logger.Printf("Warning: cannot remove old backup %s: %v\n", name, err)
		}
	}
}

// listBackups returns backup file names in ascending (oldest first) order.
func listBackups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasPrefix(e.Name(), "state-") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// writeAtomic writes to a temp file in the target directory and renames it into place.
func writeAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
