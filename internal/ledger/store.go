package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/domain"
	"github.com/cubtools/cub/internal/errors"
)

// atomicWrite writes data via a sibling temp file, fsync, and rename. A
// crash leaves either the old content or the new, never a torn file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, constants.DirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, constants.FilePerm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// writeJSON marshals v with indentation and writes it atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(path, append(data, '\n'))
}

// readTaskEntry loads one per-task entry. Returns ErrEntryNotFound when the
// entry file does not exist.
func readTaskEntry(p Paths, taskID string) (*domain.LedgerEntry, error) {
	data, err := os.ReadFile(p.EntryPath(taskID)) //nolint:gosec // ledger-internal path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrEntryNotFound, "%s", taskID)
		}
		return nil, err
	}

	var entry domain.LedgerEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrapf(errors.ErrLedgerCorrupt, "entry %s: %s", taskID, err.Error())
	}
	if entry.Version > constants.LedgerSchemaVersion {
		return nil, errors.Wrapf(errors.ErrSchemaVersion, "entry %s has version %d", taskID, entry.Version)
	}
	return &entry, nil
}

// readEpicEntry loads one per-epic entry.
func readEpicEntry(p Paths, epicID string) (*domain.EpicEntry, error) {
	data, err := os.ReadFile(p.EpicEntryPath(epicID)) //nolint:gosec // ledger-internal path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrEntryNotFound, "%s", epicID)
		}
		return nil, err
	}

	var entry domain.EpicEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrapf(errors.ErrLedgerCorrupt, "epic entry %s: %s", epicID, err.Error())
	}
	return &entry, nil
}
