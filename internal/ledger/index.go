package ledger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/domain"
	"github.com/cubtools/cub/internal/errors"
)

// Index record kinds.
const (
	KindTask = "task"
	KindEpic = "epic"
)

// IndexRecord is one line of the fast-lookup index. The index is an append
// log: an entry gets a record on creation and again on every finalisation or
// stage change, and the last record per id wins. Rebuilds compact it to one
// record per entry.
type IndexRecord struct {
	ID        string                  `json:"id"`
	Kind      string                  `json:"kind"`
	Title     string                  `json:"title,omitempty"`
	EpicID    string                  `json:"epic_id,omitempty"`
	RunID     string                  `json:"run_id,omitempty"`
	Source    domain.EntrySource      `json:"source,omitempty"`
	Attempts  int                     `json:"attempts"`
	Finalized bool                    `json:"finalized"`
	Success   bool                    `json:"success"`
	Workflow  constants.WorkflowStage `json:"workflow,omitempty"`
	CostUSD   float64                 `json:"cost_usd"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// indexRecordFor derives the index record from a task entry.
func indexRecordFor(e *domain.LedgerEntry, now time.Time) IndexRecord {
	rec := IndexRecord{
		ID:        e.ID,
		Kind:      KindTask,
		Title:     e.Task.Title,
		EpicID:    e.Lineage.EpicID,
		Source:    e.Source,
		Attempts:  len(e.Attempts),
		Finalized: e.Finalized(),
		Workflow:  e.Workflow,
		UpdatedAt: now,
	}
	for i := range e.Attempts {
		rec.CostUSD += e.Attempts[i].CostUSD
		if e.Attempts[i].RunID != "" {
			rec.RunID = e.Attempts[i].RunID
		}
	}
	if e.Outcome != nil {
		rec.Success = e.Outcome.Success
		rec.CostUSD = e.Outcome.TotalCostUSD
	}
	return rec
}

// indexRecordForEpic derives the index record from an epic entry.
func indexRecordForEpic(e *domain.EpicEntry, now time.Time) IndexRecord {
	return IndexRecord{
		ID:        e.ID,
		Kind:      KindEpic,
		Title:     e.Title,
		Attempts:  e.Aggregates.TotalAttempts,
		CostUSD:   e.Aggregates.TotalCostUSD,
		Workflow:  e.Workflow,
		UpdatedAt: now,
	}
}

// appendIndexRecord adds one record to the index log. The caller holds the
// index lock.
func appendIndexRecord(path string, rec IndexRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, constants.FilePerm)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err = f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// loadIndex reads the index log and collapses it to the latest record per
// id, in first-appearance order. A missing index yields no records and no
// error; a malformed line returns ErrLedgerCorrupt so callers rebuild.
func loadIndex(path string) ([]IndexRecord, error) {
	f, err := os.Open(path) //nolint:gosec // ledger-internal path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	latest := make(map[string]int)
	var records []IndexRecord

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec IndexRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, errors.ErrLedgerCorrupt
		}
		if rec.ID == "" {
			return nil, errors.ErrLedgerCorrupt
		}
		if i, ok := latest[rec.ID]; ok {
			records[i] = rec
			continue
		}
		latest[rec.ID] = len(records)
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// rebuildIndex regenerates the compacted index from by-task and by-epic
// entry files. Task records come first in id order, then epics; ordering
// beyond that carries no meaning.
func rebuildIndex(p Paths, now time.Time) error {
	var records []IndexRecord

	taskIDs, err := listEntryDirs(p.root, constants.ByTaskDir)
	if err != nil {
		return err
	}
	sort.Strings(taskIDs)
	for _, id := range taskIDs {
		entry, readErr := readTaskEntry(p, id)
		if readErr != nil {
			continue // unreadable entry files do not poison the rebuild
		}
		records = append(records, indexRecordFor(entry, now))
	}

	epicIDs, err := listEntryDirs(p.root, constants.ByEpicDir)
	if err != nil {
		return err
	}
	sort.Strings(epicIDs)
	for _, id := range epicIDs {
		entry, readErr := readEpicEntry(p, id)
		if readErr != nil {
			continue
		}
		records = append(records, indexRecordForEpic(entry, now))
	}

	var buf []byte
	for _, rec := range records {
		line, marshalErr := json.Marshal(rec)
		if marshalErr != nil {
			return marshalErr
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return atomicWrite(p.IndexPath(), buf)
}

// listEntryDirs returns the subdirectory names under a ledger grouping dir
// that contain an entry file.
func listEntryDirs(root, group string) ([]string, error) {
	dir := filepath.Join(root, group)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
