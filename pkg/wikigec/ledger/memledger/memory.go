package memledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cognicore/wikigec/pkg/wikigec/internalerr"
	"github.com/cognicore/wikigec/pkg/wikigec/ledger"
)

// Ledger is an in-memory implementation of ledger.Ledger for tests.
type Ledger struct {
	mu     sync.RWMutex
	runs   map[string]ledger.Run
	stages map[string][]ledger.StageRecord
}

// New creates a new in-memory ledger.
func New() *Ledger {
	return &Ledger{
		runs:   make(map[string]ledger.Run),
		stages: make(map[string][]ledger.StageRecord),
	}
}

// Close implements ledger.Ledger.
func (l *Ledger) Close() error { return nil }

// BeginRun implements ledger.Ledger.
func (l *Ledger) BeginRun(ctx context.Context, r ledger.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r.ID == "" {
		return fmt.Errorf("%w: run id required", internalerr.ErrInvalidInput)
	}
	if _, ok := l.runs[r.ID]; ok {
		return fmt.Errorf("run %s already exists", r.ID)
	}
	if r.Status == "" {
		r.Status = ledger.StatusRunning
	}
	l.runs[r.ID] = r
	return nil
}

// RecordStage implements ledger.Ledger. A record with an existing sequence
// number replaces the earlier one.
func (l *Ledger) RecordStage(ctx context.Context, rec ledger.StageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.runs[rec.RunID]; !ok {
		return fmt.Errorf("run %s: %w", rec.RunID, internalerr.ErrNotFound)
	}
	stages := l.stages[rec.RunID]
	for i := range stages {
		if stages[i].Seq == rec.Seq {
			stages[i] = rec
			return nil
		}
	}
	l.stages[rec.RunID] = append(stages, rec)
	return nil
}

// FinishRun implements ledger.Ledger.
func (l *Ledger) FinishRun(ctx context.Context, r ledger.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.runs[r.ID]
	if !ok {
		return fmt.Errorf("run %s: %w", r.ID, internalerr.ErrNotFound)
	}
	existing.FinishedAt = r.FinishedAt
	existing.Status = r.Status
	existing.ResultPath = r.ResultPath
	existing.Pairs = r.Pairs
	existing.ResultLines = r.ResultLines
	existing.Error = r.Error
	l.runs[r.ID] = existing
	return nil
}

// GetRun implements ledger.Ledger.
func (l *Ledger) GetRun(ctx context.Context, id string) (ledger.Run, []ledger.StageRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.runs[id]
	if !ok {
		return ledger.Run{}, nil, fmt.Errorf("run %s: %w", id, internalerr.ErrNotFound)
	}
	stages := append([]ledger.StageRecord(nil), l.stages[id]...)
	sort.Slice(stages, func(i, j int) bool { return stages[i].Seq < stages[j].Seq })
	return r, stages, nil
}

// ListRuns implements ledger.Ledger, newest first.
func (l *Ledger) ListRuns(ctx context.Context, f ledger.Filter) ([]ledger.Run, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var runs []ledger.Run
	for _, r := range l.runs {
		if f.Match(r) {
			runs = append(runs, r)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID > runs[j].ID })
	if f.Limit > 0 && len(runs) > f.Limit {
		runs = runs[:f.Limit]
	}
	return runs, nil
}
