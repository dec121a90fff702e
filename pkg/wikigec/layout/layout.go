// Package layout describes the on-disk tree of intermediate and final files.
//
// Every derived file is keyed by the dump name, and filter/result files also
// by the gold profile, so runs with different profiles on one dump never
// overwrite each other while reruns with the same arguments do.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cognicore/wikigec/pkg/wikigec/profile"
)

// DefaultRoot is the output root used when none is configured.
const DefaultRoot = "data"

// Layout resolves paths under an output root.
type Layout struct {
	Root string
	// MaxWords is the sentence length limit passed to the extractor. It is
	// embedded in the extract filename.
	MaxWords int
}

// New returns a layout rooted at root with the default 60-word limit.
func New(root string) Layout {
	if root == "" {
		root = DefaultRoot
	}
	return Layout{Root: root, MaxWords: 60}
}

func (l Layout) errantDir() string { return filepath.Join(l.Root, "errant_data") }

// ExtractsDir holds raw OLD<TAB>NEW extraction output.
func (l Layout) ExtractsDir() string { return filepath.Join(l.Root, "wikiedits_extracts") }

// OriginalDir holds the original-side corpora.
func (l Layout) OriginalDir() string { return filepath.Join(l.errantDir(), "original") }

// CorrectedDir holds the corrected-side corpora.
func (l Layout) CorrectedDir() string { return filepath.Join(l.errantDir(), "corrected") }

// UnfilteredDir holds m2 files straight from the annotator.
func (l Layout) UnfilteredDir() string { return filepath.Join(l.errantDir(), "m2-unfiltered") }

// FilteredDir holds m2 files after gold-profile filtering.
func (l Layout) FilteredDir() string { return filepath.Join(l.errantDir(), "m2-filtered") }

// ResultDir holds final parallel-text datasets.
func (l Layout) ResultDir() string { return filepath.Join(l.errantDir(), "result") }

// GoldDir holds the reference corpora. It is never created.
func (l Layout) GoldDir() string { return filepath.Join(l.Root, "gold_data") }

// Dirs lists the directories Ensure creates, in creation order.
func (l Layout) Dirs() []string {
	return []string{
		l.ExtractsDir(),
		l.OriginalDir(),
		l.CorrectedDir(),
		l.UnfilteredDir(),
		l.FilteredDir(),
		l.ResultDir(),
	}
}

// Ensure creates the output directories. It is safe to call repeatedly.
func (l Layout) Ensure() error {
	for _, dir := range l.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func (l Layout) maxWords() int {
	if l.MaxWords <= 0 {
		return 60
	}
	return l.MaxWords
}

// Paths is the full set of files for one dump and profile.
type Paths struct {
	Extract    string
	Original   string
	Corrected  string
	Unfiltered string
	Filtered   string
	Result     string
	Gold       string
}

// For returns the file paths for a dump name and profile. goldFile overrides
// the profile's default reference filename when non-empty.
func (l Layout) For(dumpName string, p profile.Profile, goldFile string) Paths {
	if goldFile == "" {
		goldFile = p.GoldFile()
	}
	keyed := dumpName + "-" + p.String()
	return Paths{
		Extract:    filepath.Join(l.ExtractsDir(), dumpName+".wikiedits."+strconv.Itoa(l.maxWords())),
		Original:   filepath.Join(l.OriginalDir(), dumpName+".src"),
		Corrected:  filepath.Join(l.CorrectedDir(), dumpName+".trg"),
		Unfiltered: filepath.Join(l.UnfilteredDir(), dumpName+"-unfiltered.m2"),
		Filtered:   filepath.Join(l.FilteredDir(), keyed+"-filtered.m2"),
		Result:     filepath.Join(l.ResultDir(), keyed+".src-trg.txt"),
		Gold:       filepath.Join(l.GoldDir(), goldFile),
	}
}
