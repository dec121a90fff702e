// Package collab runs the external collaborators of the pipeline:
// decompressors, the WikiEdits extractor and the ERRANT scripts.
package collab

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cognicore/wikigec/pkg/wikigec/internalerr"
)

// Stage names a pipeline step backed by a collaborator.
type Stage string

const (
	Decompress Stage = "decompress"
	Extract    Stage = "extract"
	Annotate   Stage = "annotate"
	Filter     Stage = "filter"
	Convert    Stage = "convert"
)

// Command is an argv template. Arguments may contain {name} placeholders,
// alone or embedded ("--out={out}"). No shell is involved.
type Command []string

var placeholder = regexp.MustCompile(`\{([a-z0-9_]+)\}`)

// Expand substitutes vars into the template. An unknown placeholder is an
// error rather than being passed through literally.
func (c Command) Expand(vars map[string]string) ([]string, error) {
	if len(c) == 0 || strings.TrimSpace(c[0]) == "" {
		return nil, fmt.Errorf("%w: empty command", internalerr.ErrInvalidConfig)
	}

	var missing []string
	argv := make([]string, len(c))
	for i, arg := range c {
		argv[i] = placeholder.ReplaceAllStringFunc(arg, func(m string) string {
			name := m[1 : len(m)-1]
			v, ok := vars[name]
			if !ok {
				missing = append(missing, name)
				return m
			}
			return v
		})
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: unknown placeholder(s) %s in %q", internalerr.ErrInvalidConfig, strings.Join(missing, ", "), strings.Join(c, " "))
	}
	return argv, nil
}

// Placeholders returns the distinct placeholder names used by the template.
func (c Command) Placeholders() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, arg := range c {
		for _, m := range placeholder.FindAllStringSubmatch(arg, -1) {
			if _, ok := seen[m[1]]; ok {
				continue
			}
			seen[m[1]] = struct{}{}
			names = append(names, m[1])
		}
	}
	sort.Strings(names)
	return names
}

// String renders the template for logs.
func (c Command) String() string {
	return strings.Join(c, " ")
}
