// Package profile enumerates the reference GEC corpora that extracted
// Wikipedia edits can be filtered against.
package profile

import (
	"fmt"
	"strings"

	"github.com/cognicore/wikigec/pkg/wikigec/internalerr"
)

// Profile selects a gold GEC training corpus. The zero value is FCE.
type Profile uint8

const (
	FCE     Profile = iota // FCE v2.1
	LOCNESS                // W&I+LOCNESS v2.1
	Lang8                  // Lang-8 Corpus of Learner English
)

// All lists every profile in CLI order.
var All = []Profile{FCE, LOCNESS, Lang8}

// String returns the CLI name of the profile.
func (p Profile) String() string {
	switch p {
	case LOCNESS:
		return "locness"
	case Lang8:
		return "lang8"
	default:
		return "fce"
	}
}

// GoldFile returns the filename of the profile's reference m2 corpus.
func (p Profile) GoldFile() string {
	switch p {
	case LOCNESS:
		return "ABC.train.gold.bea19.m2"
	case Lang8:
		return "lang8.train.auto.bea19.m2"
	default:
		return "fce.train.gold.bea19.m2"
	}
}

// Description is the human readable corpus name used in usage text.
func (p Profile) Description() string {
	switch p {
	case LOCNESS:
		return "W&I+LOCNESS v2.1"
	case Lang8:
		return "Lang-8 Corpus of Learner English"
	default:
		return "FCE v2.1"
	}
}

// Parse resolves a CLI name. Matching is case-sensitive.
func Parse(name string) (Profile, error) {
	for _, p := range All {
		if p.String() == name {
			return p, nil
		}
	}
	return FCE, fmt.Errorf("%w: %q (choose from %s)", internalerr.ErrUnknownProfile, name, Names())
}

// Names returns the valid names joined for diagnostics.
func Names() string {
	names := make([]string, len(All))
	for i, p := range All {
		names[i] = p.String()
	}
	return strings.Join(names, ", ")
}

// Set implements flag.Value.
func (p *Profile) Set(s string) error {
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (p Profile) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so profiles can appear in
// YAML config keys and values.
func (p *Profile) UnmarshalText(b []byte) error {
	return p.Set(string(b))
}
