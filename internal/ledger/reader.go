package ledger

import (
	"context"
	stderrors "errors"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cubtools/cub/internal/clock"
	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/ctxutil"
	"github.com/cubtools/cub/internal/domain"
	cuberrors "github.com/cubtools/cub/internal/errors"
)

// Reader is the read-only surface over a ledger root. Index corruption is
// repaired in place by a rebuild, never surfaced to callers.
type Reader struct {
	paths  Paths
	clk    clock.Clock
	logger zerolog.Logger
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithReaderLogger sets the reader logger.
func WithReaderLogger(logger zerolog.Logger) ReaderOption {
	return func(r *Reader) {
		r.logger = logger
	}
}

// NewReader creates a ledger reader for a project directory.
func NewReader(projectDir string, opts ...ReaderOption) (*Reader, error) {
	if projectDir == "" {
		return nil, cuberrors.Wrap(cuberrors.ErrEmptyValue, "project dir")
	}
	r := &Reader{
		paths:  NewPaths(projectDir),
		clk:    clock.RealClock{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Get returns the full entry for one task id.
func (r *Reader) Get(ctx context.Context, taskID string) (*domain.LedgerEntry, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	return readTaskEntry(r.paths, taskID)
}

// GetEpic returns the aggregation entry for one epic id.
func (r *Reader) GetEpic(ctx context.Context, epicID string) (*domain.EpicEntry, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	return readEpicEntry(r.paths, epicID)
}

// Recent returns the n most recently updated index records, newest first.
// n <= 0 returns everything.
func (r *Reader) Recent(ctx context.Context, n int) ([]IndexRecord, error) {
	records, err := r.index(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	if n > 0 && len(records) > n {
		records = records[:n]
	}
	return records, nil
}

// Search returns task records whose id or title contains the query,
// case-insensitive.
func (r *Reader) Search(ctx context.Context, query string) ([]IndexRecord, error) {
	records, err := r.index(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []IndexRecord
	for _, rec := range records {
		if rec.Kind != KindTask {
			continue
		}
		if strings.Contains(strings.ToLower(rec.ID), q) ||
			strings.Contains(strings.ToLower(rec.Title), q) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ByEpic returns the full entries for every task belonging to an epic.
func (r *Reader) ByEpic(ctx context.Context, epicID string) ([]*domain.LedgerEntry, error) {
	records, err := r.index(ctx)
	if err != nil {
		return nil, err
	}
	var out []*domain.LedgerEntry
	for _, rec := range records {
		if rec.Kind != KindTask || rec.EpicID != epicID {
			continue
		}
		entry, readErr := readTaskEntry(r.paths, rec.ID)
		if readErr != nil {
			r.logger.Warn().Err(readErr).Str("task_id", rec.ID).Msg("skipping unreadable ledger entry")
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// ByRun returns the full entries grouped under one run session.
func (r *Reader) ByRun(ctx context.Context, runID string) ([]*domain.LedgerEntry, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	markers, err := os.ReadDir(r.paths.RunDir(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []*domain.LedgerEntry
	for _, m := range markers {
		if m.IsDir() {
			continue
		}
		entry, readErr := readTaskEntry(r.paths, m.Name())
		if readErr != nil {
			r.logger.Warn().Err(readErr).Str("task_id", m.Name()).Msg("skipping unreadable ledger entry")
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Stats summarizes the ledger.
type Stats struct {
	Entries       int     `json:"entries"`
	Finalized     int     `json:"finalized"`
	Succeeded     int     `json:"succeeded"`
	Epics         int     `json:"epics"`
	TotalAttempts int     `json:"total_attempts"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
}

// StatsFilter narrows a Stats computation.
type StatsFilter struct {
	EpicID string
	RunID  string
}

// Stats computes ledger totals over the index.
func (r *Reader) Stats(ctx context.Context, filter StatsFilter) (Stats, error) {
	records, err := r.index(ctx)
	if err != nil {
		return Stats{}, err
	}

	var s Stats
	for _, rec := range records {
		if rec.Kind == KindEpic {
			s.Epics++
			continue
		}
		if filter.EpicID != "" && rec.EpicID != filter.EpicID {
			continue
		}
		if filter.RunID != "" && rec.RunID != filter.RunID {
			continue
		}
		s.Entries++
		s.TotalAttempts += rec.Attempts
		s.TotalCostUSD += rec.CostUSD
		if rec.Finalized {
			s.Finalized++
			if rec.Success {
				s.Succeeded++
			}
		}
	}
	return s, nil
}

// index loads the index, rebuilding it when missing-but-nonempty or corrupt.
func (r *Reader) index(ctx context.Context) ([]IndexRecord, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	records, err := loadIndex(r.paths.IndexPath())
	if err == nil && (len(records) > 0 || r.ledgerEmpty()) {
		return records, nil
	}
	if err != nil && !stderrors.Is(err, cuberrors.ErrLedgerCorrupt) {
		return nil, err
	}

	r.logger.Warn().Str("path", r.paths.IndexPath()).Msg("ledger index missing or corrupt, rebuilding")
	if rebuildErr := rebuildIndex(r.paths, r.clk.Now().UTC()); rebuildErr != nil {
		return nil, rebuildErr
	}
	return loadIndex(r.paths.IndexPath())
}

// ledgerEmpty reports whether there are no entry files to index.
func (r *Reader) ledgerEmpty() bool {
	tasks, err := listEntryDirs(r.paths.root, constants.ByTaskDir)
	if err != nil || len(tasks) > 0 {
		return false
	}
	epics, err := listEntryDirs(r.paths.root, constants.ByEpicDir)
	return err == nil && len(epics) == 0
}
