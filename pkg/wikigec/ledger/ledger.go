// Package ledger records the history of pipeline runs and their stages.
package ledger

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Ledger is the interface for persisting run history
type Ledger interface {
	Close() error

	BeginRun(ctx context.Context, r Run) error
	RecordStage(ctx context.Context, s StageRecord) error
	FinishRun(ctx context.Context, r Run) error

	GetRun(ctx context.Context, id string) (Run, []StageRecord, error)
	ListRuns(ctx context.Context, f Filter) ([]Run, error)
}

// Status is the lifecycle state of a run
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one invocation of the pipeline
type Run struct {
	ID          string
	Dump        string // dump name, extension stripped
	DumpPath    string
	Profile     string
	Root        string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      Status
	ResultPath  string
	Pairs       int // pairs produced by the split stage
	ResultLines int
	Error       string
}

// StageRecord is the outcome of one stage of a run
type StageRecord struct {
	RunID     string
	Seq       int
	Stage     string
	StartedAt time.Time
	Duration  time.Duration
	ExitCode  int
	Output    string
	Error     string
}

// Filter narrows ListRuns. Zero values match everything.
type Filter struct {
	Dump    string
	Profile string
	Status  Status
	Limit   int
}

// Match reports whether r passes the filter's field constraints.
func (f Filter) Match(r Run) bool {
	if f.Dump != "" && r.Dump != f.Dump {
		return false
	}
	if f.Profile != "" && r.Profile != f.Profile {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// IDs generates lexically sortable run identifiers.
type IDs struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewIDs creates a ULID source with monotonic entropy.
func NewIDs() *IDs {
	return &IDs{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// New returns an ID for a run starting at t.
func (g *IDs) New(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), g.entropy).String()
}
