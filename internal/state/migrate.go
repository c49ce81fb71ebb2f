package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// MigrateLegacy copies the state file and its backups from legacyDir into dir
// when dir has no state file yet. On failure every file it created is removed
// again. legacyDir itself is never modified.
func MigrateLegacy(legacyDir, dir string) (bool, error) {
	if legacyDir == "" || filepath.Clean(legacyDir) == filepath.Clean(dir) {
		return false, nil
	}
	dst := filepath.Join(dir, StateFileName)
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	}
	src := filepath.Join(legacyDir, StateFileName)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat legacy state: %w", err)
	}

	var created []string
	rollback := func(cause error) (bool, error) {
		for _, path := range created {
			_ = os.Remove(path)
		}
		return false, cause
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false, fmt.Errorf("create state directory: %w", err)
	}
	created = append(created, dst)
	if err := copyFile(src, dst); err != nil {
		return rollback(fmt.Errorf("copy legacy state: %w", err))
	}

	names, err := listBackups(filepath.Join(legacyDir, BackupDirName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return rollback(fmt.Errorf("list legacy backups: %w", err))
	}
	if len(names) == 0 {
		return true, nil
	}
	backupDir := filepath.Join(dir, BackupDirName)
	if err := os.MkdirAll(backupDir, 0o750); err != nil {
		return rollback(fmt.Errorf("create backup directory: %w", err))
	}
	for _, name := range names {
		target := filepath.Join(backupDir, name)
		_, statErr := os.Stat(target)
		if statErr != nil {
			created = append(created, target)
		}
		if err := copyFile(filepath.Join(legacyDir, BackupDirName, name), target); err != nil {
			return rollback(fmt.Errorf("copy legacy backup %s: %w", name, err))
		}
	}
	return true, nil
}

// copyFile is a variable so tests can make a copy fail halfway.
var copyFile = func(src, dst string) error {
	content, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return writeAtomic(dst, content)
}
