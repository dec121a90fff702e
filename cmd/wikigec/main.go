package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cognicore/wikigec/pkg/wikigec"
	"github.com/cognicore/wikigec/pkg/wikigec/archive"
	"github.com/cognicore/wikigec/pkg/wikigec/config"
	"github.com/cognicore/wikigec/pkg/wikigec/internalerr"
	"github.com/cognicore/wikigec/pkg/wikigec/ledger"
	"github.com/cognicore/wikigec/pkg/wikigec/ledger/sqlite"
	"github.com/cognicore/wikigec/pkg/wikigec/profile"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type options struct {
	dump       string
	gold       profile.Profile
	root       string
	configPath string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.SetFlags(log.LstdFlags)
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("wikigec", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: wikigec [options] -dump DUMP\n\n")
		fmt.Fprintf(stderr, "Extract sentences with grammatical-like edits from a Wikipedia .7z or .bz2 dump.\n\n")
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.dump, "dump", "", "Wikipedia dump file, .7z or .bz2 archive (required)")
	fs.Var(&opts.gold, "gold", goldUsage())
	fs.StringVar(&opts.root, "root", "", "Output root directory (default from config, \"data\")")
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file (optional)")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.dump == "" {
		fs.Usage()
		return opts, errors.New("-dump required")
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func goldUsage() string {
	s := "Gold GEC data for filtering extracted sentences.\nAvailable:"
	for _, p := range profile.All {
		s += fmt.Sprintf("\n  %-8s %s", p, p.Description())
	}
	return s
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	// Dump checks precede the ledger, which lives under the root.
	if _, err := archive.Inspect(opts.dump); err != nil {
		if errors.Is(err, internalerr.ErrUnsupportedArchive) {
			fmt.Fprintln(stderr, "Wrong archive type. Supported extensions: .7z and .bz2")
		} else {
			fmt.Fprintln(stderr, err)
		}
		return exitUsage
	}

	loader := config.Loader{Path: opts.configPath, Root: opts.root}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	ldg, err := openLedger(ctx, cfg)
	if err != nil {
		log.Printf("run history disabled: %v", err)
	}
	if ldg != nil {
		defer ldg.Close()
	}

	coord := wikigec.New(wikigec.Options{
		Config: cfg,
		Ledger: ldg,
	})

	res, err := coord.Run(ctx, opts.dump, opts.gold)
	if err != nil {
		if errors.Is(err, internalerr.ErrDumpNotFound) {
			fmt.Fprintln(stderr, err)
			return exitUsage
		}
		log.Printf("wikigec: %v", err)
		return exitError
	}

	log.Printf("Dataset successfully generated. Location: %s", res.Paths.Result)
	return exitOK
}

// openLedger opens the run history, returning nil when it is disabled. Its
// errors wrap ErrLedgerUnavailable; callers run without history then.
func openLedger(ctx context.Context, cfg config.Config) (ledger.Ledger, error) {
	path := cfg.LedgerPath()
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrLedgerUnavailable, err)
	}
	l, err := sqlite.OpenSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", internalerr.ErrLedgerUnavailable, path, err)
	}
	return l, nil
}
