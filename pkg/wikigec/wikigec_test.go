package wikigec

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/cognicore/wikigec/pkg/wikigec/collab"
	"github.com/cognicore/wikigec/pkg/wikigec/config"
	"github.com/cognicore/wikigec/pkg/wikigec/internalerr"
	"github.com/cognicore/wikigec/pkg/wikigec/ledger"
	"github.com/cognicore/wikigec/pkg/wikigec/ledger/memledger"
	"github.com/cognicore/wikigec/pkg/wikigec/profile"
)

// fixture wires the coordinator to shell stand-ins for the collaborators:
// the "archive" is plain text, the extractor is cat, the annotator pastes
// the two corpora side by side and filter/convert copy their input.
type fixture struct {
	t      *testing.T
	root   string
	cfg    config.Config
	ledger *memledger.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake collaborators use /bin/sh")
	}

	root := filepath.Join(t.TempDir(), "data")
	cfg := config.Default()
	cfg.Root = root
	cfg.Tools = config.Tools{
		SevenZip: collab.Command{"cat", "{archive}"},
		Bzip2:    collab.Command{"cat", "{archive}"},
		Extract:  collab.Command{"cat"},
		Annotate: collab.Command{"sh", "-c", `paste "$1" "$2" > "$3"`, "annotate", "{orig}", "{cor}", "{out}"},
		Filter:   collab.Command{"sh", "-c", `test -f "$2" && cp "$1" "$3"`, "filter", "{m2}", "{ref}", "{out}"},
		Convert:  collab.Command{"sh", "-c", `cp "$1" "$2"`, "convert", "{m2}", "{out}"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("fixture config: %v", err)
	}

	return &fixture{t: t, root: root, cfg: cfg, ledger: memledger.New()}
}

func (f *fixture) gold(profiles ...profile.Profile) {
	f.t.Helper()
	dir := filepath.Join(f.root, "gold_data")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		f.t.Fatal(err)
	}
	for _, p := range profiles {
		if err := os.WriteFile(filepath.Join(dir, p.GoldFile()), []byte("S gold\n"), 0o644); err != nil {
			f.t.Fatal(err)
		}
	}
}

func (f *fixture) dump(name, content string) string {
	f.t.Helper()
	path := filepath.Join(f.t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		f.t.Fatal(err)
	}
	return path
}

func (f *fixture) coordinator() *Coordinator {
	return New(Options{
		Config: f.cfg,
		Runner: &collab.Runner{},
		Ledger: f.ledger,
		Logger: log.New(io.Discard, "", 0),
	})
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.gold(profile.FCE)
	dumpPath := f.dump("enwiki-sample.xml.bz2", "A\tB\nC\tD\n")

	res, err := f.coordinator().Run(context.Background(), dumpPath, profile.FCE)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Dump.Name != "enwiki-sample.xml" {
		t.Errorf("dump name = %q", res.Dump.Name)
	}
	if got := readFile(t, res.Paths.Extract); got != "A\tB\nC\tD\n" {
		t.Errorf("extract = %q", got)
	}
	if filepath.Base(res.Paths.Extract) != "enwiki-sample.xml.wikiedits.60" {
		t.Errorf("extract name = %q", filepath.Base(res.Paths.Extract))
	}
	if got := readFile(t, res.Paths.Original); got != "A\nC" {
		t.Errorf("originals = %q, want %q", got, "A\nC")
	}
	if got := readFile(t, res.Paths.Corrected); got != "B\nD\n" {
		t.Errorf("corrected = %q, want %q", got, "B\nD\n")
	}
	if got := readFile(t, res.Paths.Result); got != "A\tB\nC\tD\n" {
		t.Errorf("result = %q", got)
	}
	if filepath.Base(res.Paths.Result) != "enwiki-sample.xml-fce.src-trg.txt" {
		t.Errorf("result name = %q", filepath.Base(res.Paths.Result))
	}
	if res.Pairs != 2 || res.ResultLines != 2 {
		t.Errorf("Pairs = %d, ResultLines = %d, want 2 and 2", res.Pairs, res.ResultLines)
	}

	run, stages, err := f.ledger.GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != ledger.StatusSucceeded || run.ResultPath != res.Paths.Result {
		t.Errorf("ledger run = %+v", run)
	}
	want := []string{"extract", "split", "annotate", "filter", "convert"}
	if len(stages) != len(want) {
		t.Fatalf("recorded %d stages, want %d", len(stages), len(want))
	}
	for i, s := range stages {
		if s.Stage != want[i] || s.Error != "" {
			t.Errorf("stage %d = %s (%q), want %s", i, s.Stage, s.Error, want[i])
		}
	}
}

func TestRunSevenZipUsesItsDecompressor(t *testing.T) {
	f := newFixture(t)
	f.cfg.Tools.SevenZip = collab.Command{"sh", "-c", `printf 'X\tY\n'`, "7zr", "{archive}"}
	f.gold(profile.FCE)

	res, err := f.coordinator().Run(context.Background(), f.dump("dump.7z", "ignored"), profile.FCE)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := readFile(t, res.Paths.Original); got != "X" {
		t.Errorf("originals = %q, want X", got)
	}
}

func TestRunUnsupportedArchiveCreatesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.coordinator().Run(context.Background(), f.dump("dump.gz", "A\tB\n"), profile.FCE)
	if !errors.Is(err, internalerr.ErrUnsupportedArchive) {
		t.Fatalf("error = %v, want ErrUnsupportedArchive", err)
	}
	if _, err := os.Stat(f.root); !os.IsNotExist(err) {
		t.Errorf("output root should not exist, stat err = %v", err)
	}
	if runs, _ := f.ledger.ListRuns(context.Background(), ledger.Filter{}); len(runs) != 0 {
		t.Errorf("no run should be recorded, got %d", len(runs))
	}
}

func TestRunMissingDump(t *testing.T) {
	f := newFixture(t)
	_, err := f.coordinator().Run(context.Background(), filepath.Join(t.TempDir(), "missing.bz2"), profile.FCE)
	if !errors.Is(err, internalerr.ErrDumpNotFound) {
		t.Fatalf("error = %v, want ErrDumpNotFound", err)
	}
}

func TestRunMissingGold(t *testing.T) {
	f := newFixture(t)
	_, err := f.coordinator().Run(context.Background(), f.dump("d.bz2", "A\tB\n"), profile.LOCNESS)
	if !errors.Is(err, internalerr.ErrGoldMissing) {
		t.Fatalf("error = %v, want ErrGoldMissing", err)
	}
	for _, dir := range f.cfg.Layout().Dirs() {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Errorf("%s should not be created before the gold check, stat err = %v", dir, err)
		}
	}
	if runs, _ := f.ledger.ListRuns(context.Background(), ledger.Filter{}); len(runs) != 0 {
		t.Errorf("no run should be recorded, got %d", len(runs))
	}
}

func TestRunRelativePathsWithCollaboratorWorkDir(t *testing.T) {
	f := newFixture(t)
	cwd := t.TempDir()
	t.Chdir(cwd)
	f.cfg.Root = "data"
	f.root = filepath.Join(cwd, "data")
	f.gold(profile.FCE)
	if err := os.WriteFile(filepath.Join(cwd, "dump.bz2"), []byte("A\tB\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tools := t.TempDir()

	c := New(Options{
		Config: f.cfg,
		Runner: &collab.Runner{Dir: tools},
		Ledger: f.ledger,
		Logger: log.New(io.Discard, "", 0),
	})
	res, err := c.Run(context.Background(), "dump.bz2", profile.FCE)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !filepath.IsAbs(res.Paths.Result) {
		t.Errorf("result path %q should be absolute", res.Paths.Result)
	}
	if got := readFile(t, filepath.Join(cwd, "data", "errant_data", "result", "dump-fce.src-trg.txt")); got != "A\tB\n" {
		t.Errorf("result = %q", got)
	}
	if _, err := os.Stat(filepath.Join(tools, "data")); !os.IsNotExist(err) {
		t.Errorf("nothing should be written under the collaborator directory, stat err = %v", err)
	}
}

func TestRunDoesNotReuseStaleOutput(t *testing.T) {
	for _, stage := range []collab.Stage{collab.Annotate, collab.Filter, collab.Convert} {
		t.Run(string(stage), func(t *testing.T) {
			f := newFixture(t)
			f.gold(profile.FCE)
			dumpPath := f.dump("d.bz2", "A\tB\n")
			if _, err := f.coordinator().Run(context.Background(), dumpPath, profile.FCE); err != nil {
				t.Fatalf("first Run: %v", err)
			}

			silent := collab.Command{"true", "{out}"}
			switch stage {
			case collab.Annotate:
				f.cfg.Tools.Annotate = silent
			case collab.Filter:
				f.cfg.Tools.Filter = silent
			case collab.Convert:
				f.cfg.Tools.Convert = silent
			}
			_, err := f.coordinator().Run(context.Background(), dumpPath, profile.FCE)
			var se *collab.StageError
			if !errors.As(err, &se) || se.Stage != stage {
				t.Fatalf("error = %v, want %s StageError", err, stage)
			}
		})
	}
}

func TestNewPassesConfigEnvToRunner(t *testing.T) {
	cfg := config.Default()
	cfg.Env = []string{"PYTHONPATH=/opt/errant"}
	c := New(Options{Config: cfg, Logger: log.New(io.Discard, "", 0)})
	if len(c.runner.Env) != 1 || c.runner.Env[0] != "PYTHONPATH=/opt/errant" {
		t.Errorf("runner env = %q", c.runner.Env)
	}
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.gold(profile.FCE)
	c := f.coordinator()

	first, err := c.Run(context.Background(), f.dump("d.bz2", "A\tB\nC\tD\n"), profile.FCE)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := c.Run(context.Background(), f.dump("d.bz2", "E\tF\n"), profile.FCE)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if first.Paths != second.Paths {
		t.Error("same dump and profile should reuse paths")
	}
	if got := readFile(t, second.Paths.Result); got != "E\tF\n" {
		t.Errorf("result should be overwritten, got %q", got)
	}
	if first.RunID == second.RunID {
		t.Error("each run needs its own id")
	}
}

func TestRunProfilesDoNotCollide(t *testing.T) {
	f := newFixture(t)
	f.gold(profile.FCE, profile.Lang8)
	c := f.coordinator()
	dumpPath := f.dump("d.bz2", "A\tB\n")

	fce, err := c.Run(context.Background(), dumpPath, profile.FCE)
	if err != nil {
		t.Fatalf("fce Run: %v", err)
	}
	lang8, err := c.Run(context.Background(), dumpPath, profile.Lang8)
	if err != nil {
		t.Fatalf("lang8 Run: %v", err)
	}

	if fce.Paths.Filtered == lang8.Paths.Filtered || fce.Paths.Result == lang8.Paths.Result {
		t.Fatal("profiles share filtered/result paths")
	}
	for _, p := range []string{fce.Paths.Filtered, fce.Paths.Result, lang8.Paths.Filtered, lang8.Paths.Result} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s missing: %v", p, err)
		}
	}
	if filepath.Base(lang8.Paths.Gold) != "lang8.train.auto.bea19.m2" {
		t.Errorf("lang8 gold = %q", lang8.Paths.Gold)
	}
}

func TestRunMalformedExtraction(t *testing.T) {
	f := newFixture(t)
	f.gold(profile.FCE)

	res, err := f.coordinator().Run(context.Background(), f.dump("d.bz2", "A\tB\nno separator\n"), profile.FCE)
	if !errors.Is(err, internalerr.ErrMalformedLine) {
		t.Fatalf("error = %v, want ErrMalformedLine", err)
	}
	if res != nil {
		t.Error("result should be nil on failure")
	}

	runs, _ := f.ledger.ListRuns(context.Background(), ledger.Filter{Status: ledger.StatusFailed})
	if len(runs) != 1 {
		t.Fatalf("expected one failed run, got %d", len(runs))
	}
}

func TestRunStageFailures(t *testing.T) {
	tests := []struct {
		name  string
		patch func(*config.Tools)
		stage collab.Stage
	}{
		{"decompressor", func(tl *config.Tools) {
			tl.Bzip2 = collab.Command{"sh", "-c", "echo 'bzip2: data integrity error' >&2; exit 2", "bzip2", "{archive}"}
		}, collab.Decompress},
		{"extractor", func(tl *config.Tools) {
			tl.Extract = collab.Command{"sh", "-c", "cat >/dev/null; exit 1"}
		}, collab.Extract},
		{"annotator", func(tl *config.Tools) {
			tl.Annotate = collab.Command{"sh", "-c", "exit 4", "annotate", "{orig}"}
		}, collab.Annotate},
		{"filter", func(tl *config.Tools) {
			tl.Filter = collab.Command{"false", "{m2}"}
		}, collab.Filter},
		{"converter without output", func(tl *config.Tools) {
			tl.Convert = collab.Command{"true", "{m2}", "{out}"}
		}, collab.Convert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.patch(&f.cfg.Tools)
			f.gold(profile.FCE)

			_, err := f.coordinator().Run(context.Background(), f.dump("d.bz2", "A\tB\n"), profile.FCE)
			if !errors.Is(err, internalerr.ErrStageFailed) {
				t.Fatalf("error = %v, want ErrStageFailed", err)
			}
			var se *collab.StageError
			if !errors.As(err, &se) {
				t.Fatalf("error %T is not *StageError", err)
			}
			if se.Stage != tt.stage {
				t.Errorf("failed stage = %s, want %s", se.Stage, tt.stage)
			}

			runs, _ := f.ledger.ListRuns(context.Background(), ledger.Filter{})
			if len(runs) != 1 || runs[0].Status != ledger.StatusFailed {
				t.Fatalf("ledger runs = %+v", runs)
			}
			_, stages, _ := f.ledger.GetRun(context.Background(), runs[0].ID)
			last := stages[len(stages)-1]
			if last.Stage != string(tt.stage) || last.Error == "" {
				t.Errorf("last stage record = %+v", last)
			}
		})
	}
}

func TestRunWithoutLedger(t *testing.T) {
	f := newFixture(t)
	f.gold(profile.FCE)
	c := New(Options{Config: f.cfg, Runner: &collab.Runner{}, Logger: log.New(io.Discard, "", 0)})

	if _, err := c.Run(context.Background(), f.dump("d.bz2", "A\tB\n"), profile.FCE); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t)
	f.gold(profile.FCE)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.coordinator().Run(ctx, f.dump("d.bz2", "A\tB\n"), profile.FCE)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestCountLines(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		content string
		want    int
	}{
		{"", 0},
		{"a\n", 1},
		{"a\nb", 2},
		{"a\nb\n", 2},
	}
	for i, tt := range tests {
		path := filepath.Join(dir, "f"+string(rune('a'+i)))
		os.WriteFile(path, []byte(tt.content), 0o644)
		got, err := countLines(path)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("countLines(%q) = %d, want %d", tt.content, got, tt.want)
		}
	}
}
