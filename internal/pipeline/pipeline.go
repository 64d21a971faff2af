// Package pipeline runs one sync for one resource: extract pages, filter
// and normalize records, merge batches into the target, then commit the
// cursor. The cursor is committed at most once per run, and only to a
// position whose records are all durably written or filtered.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/johndauphine/restsync/internal/checkpoint"
	"github.com/johndauphine/restsync/internal/config"
	"github.com/johndauphine/restsync/internal/extract"
	"github.com/johndauphine/restsync/internal/logging"
	"github.com/johndauphine/restsync/internal/normalize"
	"github.com/johndauphine/restsync/internal/record"
	"github.com/johndauphine/restsync/internal/target"
)

// Result summarizes one finished resource sync.
type Result struct {
	Outcome      string
	StartCursor  string
	EndCursor    string
	RowsSeen     int64
	RowsFiltered int64
	RowsWritten  int64
	Pages        int
	Err          error
}

// Pipeline syncs a single resource end to end.
type Pipeline struct {
	Resource  *config.ResourceConfig
	Fetcher   extract.Fetcher
	Writer    target.Writer
	Store     checkpoint.Store
	BatchSize int

	// OnBatch, when set, is called after each durable merge.
	OnBatch func(resource string, written int64)
}

// Run executes the sync. The returned Result always carries the terminal
// outcome; Err is set for partial and failed runs.
func (p *Pipeline) Run(ctx context.Context) Result {
	res := p.Resource

	startCursor, _, err := p.Store.Cursor(res.Name)
	if err != nil {
		return Result{Outcome: checkpoint.OutcomeFailed, Err: fmt.Errorf("loading cursor: %w", err)}
	}

	pred, err := normalize.NewPredicate(res.Filter)
	if err != nil {
		return Result{Outcome: checkpoint.OutcomeFailed, StartCursor: startCursor, Err: err}
	}

	st := &runState{
		pipeline:    p,
		result:      Result{StartCursor: startCursor},
		pager:       extract.NewPager(p.Fetcher, res, startCursor),
		normalizer:  normalize.New(res),
		predicate:   pred,
		startCursor: record.ParseStoredValue(startCursor),
	}

	err = st.drain(ctx)
	st.result.Pages = st.pager.Pages()
	return st.finish(err)
}

// runState carries the per-run cursor bookkeeping.
type runState struct {
	pipeline   *Pipeline
	result     Result
	pager      *extract.Pager
	normalizer *normalize.Normalizer
	predicate  *normalize.Predicate

	startCursor record.Value
	// maxSeen is the highest incremental key among all processed records,
	// filtered ones included.
	maxSeen record.Value
	// durable is the cursor candidate covered by committed merges: the
	// value of maxSeen at the end of the last successful flush.
	durable record.Value

	batch []record.Row
}

func (st *runState) drain(ctx context.Context) error {
	p := st.pipeline

	for {
		raws, err := st.pager.Next(ctx)
		if err != nil {
			return err
		}
		if raws == nil {
			break
		}

		for _, raw := range raws {
			st.result.RowsSeen++

			row, err := st.normalizer.Normalize(raw)
			if err != nil {
				return err
			}
			st.maxSeen = st.maxSeen.Max(row.Cursor)

			if !st.predicate.Keep(raw) {
				st.result.RowsFiltered++
				continue
			}

			st.batch = append(st.batch, row)
			if len(st.batch) >= p.BatchSize {
				if err := st.flush(ctx); err != nil {
					return err
				}
				if err := ctx.Err(); err != nil {
					return err
				}
			}
		}
	}

	// Tail batch, plus any trailing filtered records
	if err := st.flush(ctx); err != nil {
		return err
	}
	st.durable = st.durable.Max(st.maxSeen)
	return nil
}

// flush merges the pending batch and advances the durable cursor candidate.
// Every record seen so far is now either written or filtered, so maxSeen is
// safe to commit.
func (st *runState) flush(ctx context.Context) error {
	if len(st.batch) == 0 {
		return nil
	}
	p := st.pipeline
	res := p.Resource

	// A multi-row upsert must not touch the same key twice, so collapse
	// records the upstream re-delivered within this batch. Last wins.
	batch := dedupeByKey(st.batch)

	cols := normalize.Columns(batch, res.PrimaryKey)
	rows := make([][]any, len(batch))
	for i, row := range batch {
		vals := make([]any, len(cols))
		for j, col := range cols {
			vals[j] = row.Columns[col]
		}
		rows[i] = vals
	}

	if err := p.Writer.EnsureTable(ctx, res.Name, cols, res.PrimaryKey, rows); err != nil {
		return fmt.Errorf("preparing table for %s: %w", res.Name, err)
	}
	if err := p.Writer.UpsertBatch(ctx, res.Name, cols, res.PrimaryKey, rows); err != nil {
		return fmt.Errorf("merging batch for %s: %w", res.Name, err)
	}

	st.result.RowsWritten += int64(len(batch))
	st.durable = st.maxSeen
	st.batch = st.batch[:0]

	if p.OnBatch != nil {
		p.OnBatch(res.Name, st.result.RowsWritten)
	}
	return nil
}

// dedupeByKey keeps one row per primary key, preserving first-seen order and
// taking the latest delivery of each key.
func dedupeByKey(batch []record.Row) []record.Row {
	idx := make(map[string]int, len(batch))
	out := make([]record.Row, 0, len(batch))
	for _, row := range batch {
		if i, ok := idx[row.Key]; ok {
			out[i] = row
			continue
		}
		idx[row.Key] = len(out)
		out = append(out, row)
	}
	return out
}

// finish commits the cursor (once) and decides the outcome. On failure the
// cursor still advances to the last durable candidate, so the next run
// resumes instead of re-pulling committed work.
func (st *runState) finish(runErr error) Result {
	p := st.pipeline
	res := p.Resource

	commit := st.durable
	if !commit.IsZero() && !commit.Less(st.startCursor) {
		if err := p.Store.CommitCursor(res.Name, commit.String()); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("committing cursor: %w", err))
		} else {
			st.result.EndCursor = commit.String()
		}
	}

	switch {
	case runErr == nil:
		st.result.Outcome = checkpoint.OutcomeSuccess
	case st.result.EndCursor != "":
		st.result.Outcome = checkpoint.OutcomePartial
		st.result.Err = runErr
	default:
		st.result.Outcome = checkpoint.OutcomeFailed
		st.result.Err = runErr
	}

	if st.result.Err != nil {
		logging.Error("Sync of %s ended %s: %v", res.Name, st.result.Outcome, st.result.Err)
	} else {
		logging.Info("Synced %s: %d seen, %d filtered, %d written, cursor %s",
			res.Name, st.result.RowsSeen, st.result.RowsFiltered, st.result.RowsWritten, st.result.EndCursor)
	}
	return st.result
}
