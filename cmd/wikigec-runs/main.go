package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cognicore/wikigec/pkg/wikigec/ledger"
	"github.com/cognicore/wikigec/pkg/wikigec/ledger/sqlite"
)

type runJSON struct {
	ID          string      `json:"id"`
	Dump        string      `json:"dump"`
	Profile     string      `json:"profile"`
	Status      string      `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	Pairs       int         `json:"pairs"`
	ResultLines int         `json:"result_lines"`
	ResultPath  string      `json:"result_path,omitempty"`
	Error       string      `json:"error,omitempty"`
	Stages      []stageJSON `json:"stages,omitempty"`
}

type stageJSON struct {
	Stage      string `json:"stage"`
	DurationMS int64  `json:"duration_ms"`
	ExitCode   int    `json:"exit_code"`
	Error      string `json:"error,omitempty"`
}

func main() {
	var (
		dbPath = flag.String("db", "data/runs.db", "Run ledger database")
		dump   = flag.String("dump", "", "Only runs of this dump name")
		gold   = flag.String("gold", "", "Only runs against this gold profile")
		status = flag.String("status", "", "Only runs with this status (running, succeeded, failed)")
		runID  = flag.String("run", "", "Show one run with its stages")
		limit  = flag.Int("limit", 20, "Maximum runs to list")
		asJSON = flag.Bool("json", false, "Print JSON instead of a table")
	)
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("open ledger: %v", err)
	}

	ctx := context.Background()
	l, err := sqlite.OpenSQLite(ctx, *dbPath)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer l.Close()

	if *runID != "" {
		if err := showRun(ctx, l, *runID, *asJSON, os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	filter := ledger.Filter{
		Dump:    *dump,
		Profile: *gold,
		Status:  ledger.Status(*status),
		Limit:   *limit,
	}
	if err := listRuns(ctx, l, filter, *asJSON, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func listRuns(ctx context.Context, l ledger.Ledger, f ledger.Filter, asJSON bool, w io.Writer) error {
	runs, err := l.ListRuns(ctx, f)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if asJSON {
		out := make([]runJSON, len(runs))
		for i, r := range runs {
			out[i] = toJSON(r, nil)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDUMP\tGOLD\tSTATUS\tSTARTED\tPAIRS\tRESULT")
	for _, r := range runs {
		result := r.ResultPath
		if r.Status == ledger.StatusFailed {
			result = firstLine(r.Error)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Dump, r.Profile, r.Status,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Pairs, result)
	}
	return tw.Flush()
}

func showRun(ctx context.Context, l ledger.Ledger, id string, asJSON bool, w io.Writer) error {
	r, stages, err := l.GetRun(ctx, id)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(toJSON(r, stages))
	}

	fmt.Fprintf(w, "Run %s: %s against %s (%s)\n", r.ID, r.Dump, r.Profile, r.Status)
	fmt.Fprintf(w, "Dump: %s\nRoot: %s\n", r.DumpPath, r.Root)
	if r.ResultPath != "" {
		fmt.Fprintf(w, "Result: %s (%d lines from %d pairs)\n", r.ResultPath, r.ResultLines, r.Pairs)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", r.Error)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tDURATION\tEXIT\tOUTPUT")
	for _, s := range stages {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Stage, s.Duration.Round(time.Millisecond), s.ExitCode, s.Output)
	}
	return tw.Flush()
}

func toJSON(r ledger.Run, stages []ledger.StageRecord) runJSON {
	out := runJSON{
		ID:          r.ID,
		Dump:        r.Dump,
		Profile:     r.Profile,
		Status:      string(r.Status),
		StartedAt:   r.StartedAt,
		Pairs:       r.Pairs,
		ResultLines: r.ResultLines,
		ResultPath:  r.ResultPath,
		Error:       r.Error,
	}
	if !r.FinishedAt.IsZero() {
		finished := r.FinishedAt
		out.FinishedAt = &finished
	}
	for _, s := range stages {
		out.Stages = append(out.Stages, stageJSON{
			Stage:      s.Stage,
			DurationMS: s.Duration.Milliseconds(),
			ExitCode:   s.ExitCode,
			Error:      s.Error,
		})
	}
	return out
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
