// Package wikigec builds grammatical-error-correction datasets from
// Wikipedia revision dumps by sequencing WikiEdits and ERRANT.
//
// A run flows strictly in order:
//
//	archive → decompressor | extractor → OLD<TAB>NEW file → split →
//	.src/.trg → annotator → unfiltered m2 → filter (+ gold m2) →
//	filtered m2 → converter → parallel text
//
// Only the split is done in-process; every other step is an external
// collaborator whose exit status is checked before the next one starts.
package wikigec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cognicore/wikigec/pkg/wikigec/archive"
	"github.com/cognicore/wikigec/pkg/wikigec/collab"
	"github.com/cognicore/wikigec/pkg/wikigec/config"
	"github.com/cognicore/wikigec/pkg/wikigec/internalerr"
	"github.com/cognicore/wikigec/pkg/wikigec/layout"
	"github.com/cognicore/wikigec/pkg/wikigec/ledger"
	"github.com/cognicore/wikigec/pkg/wikigec/profile"
	"github.com/cognicore/wikigec/pkg/wikigec/split"
)

// Coordinator runs the extraction pipeline
type Coordinator struct {
	cfg    config.Config
	runner *collab.Runner
	ledger ledger.Ledger
	log    *log.Logger
	ids    *ledger.IDs
	now    func() time.Time
}

// Options configures a Coordinator
type Options struct {
	Config config.Config
	// Runner executes collaborators. Nil uses collab.NewRunner in
	// Config.WorkDir.
	Runner *collab.Runner
	// Ledger records run history. Nil disables it.
	Ledger ledger.Ledger
	Logger *log.Logger
	Now    func() time.Time
}

// New creates a Coordinator with the given dependencies
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	runner := opts.Runner
	if runner == nil {
		runner = collab.NewRunner(opts.Config.WorkDir, logger)
		runner.Env = opts.Config.Env
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		cfg:    opts.Config,
		runner: runner,
		ledger: opts.Ledger,
		log:    logger,
		ids:    ledger.NewIDs(),
		now:    now,
	}
}

// Result describes a completed run
type Result struct {
	RunID       string
	Dump        archive.Dump
	Profile     profile.Profile
	Paths       layout.Paths
	Pairs       int
	ResultLines int
	Duration    time.Duration
}

// Run processes one dump against one gold profile.
//
// An unsupported archive extension, a missing dump or a missing gold file
// fails before anything is written. After that the output directories are
// created, and every stage must succeed for the next to start. Collaborators
// receive absolute paths, so the output root may be relative to the current
// directory whatever the runner's working directory.
func (c *Coordinator) Run(ctx context.Context, dumpPath string, p profile.Profile) (*Result, error) {
	dump, err := archive.Inspect(dumpPath)
	if err != nil {
		return nil, err
	}
	c.log.Printf("Dump directory: %s", dump.Dir)
	c.log.Printf("Dump name: %s", dump.Name)

	decompress, err := c.decompressor(dump)
	if err != nil {
		return nil, err
	}

	lay := c.cfg.Layout()
	if lay.Root, err = filepath.Abs(lay.Root); err != nil {
		return nil, err
	}
	paths := lay.For(dump.Name, p, c.cfg.GoldFile(p))

	if _, err := os.Stat(paths.Gold); err != nil {
		return nil, fmt.Errorf("%w: %s profile expects %s: %v", internalerr.ErrGoldMissing, p, paths.Gold, err)
	}
	if err := lay.Ensure(); err != nil {
		return nil, err
	}

	started := c.now()
	rec := &runRecorder{c: c, run: ledger.Run{
		ID:        c.ids.New(started),
		Dump:      dump.Name,
		DumpPath:  dump.Abs,
		Profile:   p.String(),
		Root:      lay.Root,
		StartedAt: started,
		Status:    ledger.StatusRunning,
	}}
	rec.begin(ctx)

	res := &Result{RunID: rec.run.ID, Dump: dump, Profile: p, Paths: paths}
	err = c.execute(ctx, rec, dump, p, paths, decompress, res)
	res.Duration = c.now().Sub(started)
	rec.finish(ctx, res, err)
	if err != nil {
		return nil, err
	}

	c.log.Printf("Dataset generated: %d sentence pairs in %s", res.ResultLines, paths.Result)
	return res, nil
}

func (c *Coordinator) execute(ctx context.Context, rec *runRecorder, dump archive.Dump, p profile.Profile, paths layout.Paths, decompress collab.Step, res *Result) error {
	c.log.Printf("Reading %s archive and extracting edits with WikiEdits...", dump.Kind)
	err := rec.stage(ctx, collab.Extract, paths.Extract, func() error {
		extract, err := c.step(collab.Extract, c.cfg.Tools.Extract, map[string]string{
			"archive":   dump.Abs,
			"dump":      dump.Name,
			"max_words": strconv.Itoa(c.cfg.MaxWords),
			"lang":      c.cfg.Lang,
		})
		if err != nil {
			return err
		}
		if err := clearOutput(paths.Extract); err != nil {
			return err
		}
		out, err := os.Create(paths.Extract)
		if err != nil {
			return err
		}
		if err := c.runner.Pipe(ctx, decompress, extract, out); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
	if err != nil {
		return err
	}

	c.log.Printf("Splitting %s into original and corrected files...", paths.Extract)
	err = rec.stage(ctx, "split", paths.Original, func() error {
		stats, err := split.SplitFile(paths.Extract, paths.Original, paths.Corrected, split.Options{
			Join:             c.cfg.Join,
			UnescapeEntities: c.cfg.UnescapeEntities,
		})
		if err != nil {
			return fmt.Errorf("split %s: %w", paths.Extract, err)
		}
		res.Pairs = stats.Pairs
		return nil
	})
	if err != nil {
		return err
	}
	c.log.Printf("Split %d edit pairs", res.Pairs)

	c.log.Printf("Annotating edits into %s...", paths.Unfiltered)
	err = c.collaborate(ctx, rec, collab.Annotate, c.cfg.Tools.Annotate, paths.Unfiltered, map[string]string{
		"orig": paths.Original,
		"cor":  paths.Corrected,
		"out":  paths.Unfiltered,
		"lang": c.cfg.Lang,
	})
	if err != nil {
		return err
	}

	c.log.Printf("Filtering against the %s gold profile (%s)...", p, paths.Gold)
	err = c.collaborate(ctx, rec, collab.Filter, c.cfg.Tools.Filter, paths.Filtered, map[string]string{
		"m2":      paths.Unfiltered,
		"ref":     paths.Gold,
		"out":     paths.Filtered,
		"profile": p.String(),
	})
	if err != nil {
		return err
	}

	c.log.Printf("Converting %s to parallel text...", paths.Filtered)
	err = c.collaborate(ctx, rec, collab.Convert, c.cfg.Tools.Convert, paths.Result, map[string]string{
		"m2":      paths.Filtered,
		"out":     paths.Result,
		"profile": p.String(),
	})
	if err != nil {
		return err
	}

	n, err := countLines(paths.Result)
	if err != nil {
		return err
	}
	res.ResultLines = n
	return nil
}

// collaborate runs a file-to-file collaborator and checks that it produced
// its output file. Output left by an earlier run is removed first so it
// cannot pass for this run's.
func (c *Coordinator) collaborate(ctx context.Context, rec *runRecorder, stage collab.Stage, tmpl collab.Command, output string, vars map[string]string) error {
	return rec.stage(ctx, stage, output, func() error {
		step, err := c.step(stage, tmpl, vars)
		if err != nil {
			return err
		}
		if err := clearOutput(output); err != nil {
			return err
		}
		if err := c.runner.Run(ctx, step, nil, nil); err != nil {
			return err
		}
		if _, err := os.Stat(output); err != nil {
			return &collab.StageError{
				Stage:    stage,
				Argv:     step.Argv,
				ExitCode: 0,
				Err:      fmt.Errorf("exited cleanly but wrote no %s", output),
			}
		}
		return nil
	})
}

func (c *Coordinator) step(stage collab.Stage, tmpl collab.Command, vars map[string]string) (collab.Step, error) {
	argv, err := tmpl.Expand(vars)
	if err != nil {
		return collab.Step{}, fmt.Errorf("%s command: %w", stage, err)
	}
	return collab.Step{Stage: stage, Argv: argv}, nil
}

func (c *Coordinator) decompressor(dump archive.Dump) (collab.Step, error) {
	tmpl := c.cfg.Tools.Bzip2
	if dump.Kind == archive.SevenZip {
		tmpl = c.cfg.Tools.SevenZip
	}
	return c.step(collab.Decompress, tmpl, map[string]string{"archive": dump.Abs})
}

func clearOutput(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// runRecorder mirrors a run into the ledger. Ledger failures are logged and
// never abort the pipeline.
type runRecorder struct {
	c   *Coordinator
	run ledger.Run
	seq int
}

func (r *runRecorder) begin(ctx context.Context) {
	if r.c.ledger == nil {
		return
	}
	if err := r.c.ledger.BeginRun(context.WithoutCancel(ctx), r.run); err != nil {
		r.c.log.Printf("ledger: begin run %s: %v", r.run.ID, err)
	}
}

func (r *runRecorder) stage(ctx context.Context, stage collab.Stage, output string, fn func() error) error {
	r.seq++
	started := r.c.now()
	err := fn()

	if r.c.ledger == nil {
		return err
	}
	rec := ledger.StageRecord{
		RunID:     r.run.ID,
		Seq:       r.seq,
		Stage:     string(stage),
		StartedAt: started,
		Duration:  r.c.now().Sub(started),
		Output:    output,
	}
	if err != nil {
		rec.Error = err.Error()
		rec.ExitCode = -1
		var se *collab.StageError
		if errors.As(err, &se) {
			rec.Stage = string(se.Stage)
			rec.ExitCode = se.ExitCode
		}
	}
	if lerr := r.c.ledger.RecordStage(context.WithoutCancel(ctx), rec); lerr != nil {
		r.c.log.Printf("ledger: record %s stage: %v", stage, lerr)
	}
	return err
}

func (r *runRecorder) finish(ctx context.Context, res *Result, runErr error) {
	if r.c.ledger == nil {
		return
	}
	r.run.FinishedAt = r.c.now()
	r.run.Pairs = res.Pairs
	r.run.ResultLines = res.ResultLines
	if runErr != nil {
		r.run.Status = ledger.StatusFailed
		r.run.Error = runErr.Error()
	} else {
		r.run.Status = ledger.StatusSucceeded
		r.run.ResultPath = res.Paths.Result
	}
	if err := r.c.ledger.FinishRun(context.WithoutCancel(ctx), r.run); err != nil {
		r.c.log.Printf("ledger: finish run %s: %v", r.run.ID, err)
	}
}

// countLines counts newline-terminated lines plus a final unterminated one.
func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	n := 0
	var last byte = '\n'
	for {
		k, err := f.Read(buf)
		if k > 0 {
			n += bytes.Count(buf[:k], []byte{'\n'})
			last = buf[k-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
	}
	if last != '\n' {
		n++
	}
	return n, nil
}
