package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/wikigec/pkg/wikigec/collab"
	"github.com/cognicore/wikigec/pkg/wikigec/internalerr"
	"github.com/cognicore/wikigec/pkg/wikigec/layout"
	"github.com/cognicore/wikigec/pkg/wikigec/profile"
	"github.com/cognicore/wikigec/pkg/wikigec/split"
)

// Config is the full pipeline configuration.
type Config struct {
	// Root is the output tree root.
	Root string `yaml:"root"`
	// WorkDir is where collaborators run; relative tool paths such as
	// errant/parallel_to_m2.py resolve against it.
	WorkDir string `yaml:"workdir"`
	// Env holds KEY=VALUE entries added to every collaborator's environment,
	// e.g. PYTHONPATH for an ERRANT checkout.
	Env []string `yaml:"env"`

	MaxWords         int            `yaml:"max_words"`
	Lang             string         `yaml:"lang"`
	Join             split.JoinMode `yaml:"join"`
	UnescapeEntities bool           `yaml:"unescape_entities"`

	Ledger Ledger            `yaml:"ledger"`
	Tools  Tools             `yaml:"tools"`
	Gold   map[string]string `yaml:"gold"`
}

// Ledger configures run history.
type Ledger struct {
	Enabled bool `yaml:"enabled"`
	// Path defaults to <root>/runs.db.
	Path string `yaml:"path"`
}

// Tools holds the argv template of each collaborator.
type Tools struct {
	SevenZip collab.Command `yaml:"sevenzip"`
	Bzip2    collab.Command `yaml:"bzip2"`
	Extract  collab.Command `yaml:"extract"`
	Annotate collab.Command `yaml:"annotate"`
	Filter   collab.Command `yaml:"filter"`
	Convert  collab.Command `yaml:"convert"`
}

// Default returns the configuration matching the stock WikiEdits and
// ERRANT checkouts next to the working directory.
func Default() Config {
	return Config{
		Root:     layout.DefaultRoot,
		MaxWords: 60,
		Lang:     "en",
		Join:     split.JoinLegacy,
		Ledger:   Ledger{Enabled: true},
		Tools: Tools{
			SevenZip: collab.Command{"7zr", "e", "-so", "{archive}"},
			Bzip2:    collab.Command{"bzip2", "-cdk", "{archive}"},
			Extract:  collab.Command{"python2", "./wikiedits/bin/wiki_edits.py", "-l", "english", "-t", "--max-words", "{max_words}"},
			Annotate: collab.Command{"python3", "errant/parallel_to_m2.py", "-orig", "{orig}", "-cor", "{cor}", "-out", "{out}", "-lang", "{lang}", "-tok"},
			Filter:   collab.Command{"python3", "errant/filter_m2.py", "-filt", "{m2}", "-ref", "{ref}", "-out", "{out}"},
			Convert:  collab.Command{"python3", "errant/m2_to_parallel.py", "-m2", "{m2}", "-out", "{out}"},
		},
		Gold: map[string]string{},
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Placeholders each tool may reference.
var allowed = map[string][]string{
	"sevenzip": {"archive"},
	"bzip2":    {"archive"},
	"extract":  {"archive", "dump", "max_words", "lang"},
	"annotate": {"orig", "cor", "out", "lang"},
	"filter":   {"m2", "ref", "out", "profile"},
	"convert":  {"m2", "out", "profile"},
}

// Validate checks the configuration for values the pipeline cannot use.
func (c Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Root) == "" {
		problems = append(problems, "root must not be empty")
	}
	if c.MaxWords <= 0 {
		problems = append(problems, fmt.Sprintf("max_words must be positive, got %d", c.MaxWords))
	}
	if strings.TrimSpace(c.Lang) == "" {
		problems = append(problems, "lang must not be empty")
	}
	if !c.Join.Valid() {
		problems = append(problems, fmt.Sprintf("join must be %q or %q, got %q", split.JoinLegacy, split.JoinLines, c.Join))
	}

	for name, cmd := range c.Tools.byName() {
		if len(cmd) == 0 || strings.TrimSpace(cmd[0]) == "" {
			problems = append(problems, fmt.Sprintf("tools.%s must not be empty", name))
			continue
		}
		for _, ph := range cmd.Placeholders() {
			if !contains(allowed[name], ph) {
				problems = append(problems, fmt.Sprintf("tools.%s: unknown placeholder {%s} (allowed: %s)", name, ph, strings.Join(allowed[name], ", ")))
			}
		}
	}

	for _, kv := range c.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(k) == "" {
			problems = append(problems, fmt.Sprintf("env entry %q must be KEY=VALUE", kv))
		}
	}

	for name, file := range c.Gold {
		if _, err := profile.Parse(name); err != nil {
			problems = append(problems, fmt.Sprintf("gold: %v", err))
		}
		if file == "" || filepath.Base(file) != file {
			problems = append(problems, fmt.Sprintf("gold.%s must be a bare filename inside gold_data, got %q", name, file))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", internalerr.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (t Tools) byName() map[string]collab.Command {
	return map[string]collab.Command{
		"sevenzip": t.SevenZip,
		"bzip2":    t.Bzip2,
		"extract":  t.Extract,
		"annotate": t.Annotate,
		"filter":   t.Filter,
		"convert":  t.Convert,
	}
}

// GoldFile returns the reference corpus filename for p, honoring overrides.
func (c Config) GoldFile(p profile.Profile) string {
	if f, ok := c.Gold[p.String()]; ok && f != "" {
		return f
	}
	return p.GoldFile()
}

// Layout returns the output tree described by the configuration.
func (c Config) Layout() layout.Layout {
	l := layout.New(c.Root)
	if c.MaxWords > 0 {
		l.MaxWords = c.MaxWords
	}
	return l
}

// LedgerPath returns the run-history database path, or "" when disabled.
func (c Config) LedgerPath() string {
	if !c.Ledger.Enabled {
		return ""
	}
	if c.Ledger.Path != "" {
		return c.Ledger.Path
	}
	return filepath.Join(c.Root, "runs.db")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
