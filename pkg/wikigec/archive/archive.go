// Package archive identifies compressed Wikipedia dumps and derives the names
// used to key every file produced from them.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cognicore/wikigec/pkg/wikigec/internalerr"
)

// Kind is a supported compression format.
type Kind uint8

const (
	SevenZip Kind = iota + 1
	Bzip2
)

// String returns the extension of the kind, dot included.
func (k Kind) String() string {
	switch k {
	case SevenZip:
		return ".7z"
	case Bzip2:
		return ".bz2"
	}
	return "unknown"
}

// DetectKind picks the compression format from the file extension.
func DetectKind(path string) (Kind, error) {
	switch filepath.Ext(path) {
	case ".7z":
		return SevenZip, nil
	case ".bz2":
		return Bzip2, nil
	}
	return 0, fmt.Errorf("%w %q: supported extensions are .7z and .bz2", internalerr.ErrUnsupportedArchive, filepath.Ext(path))
}

// Dump describes an input archive.
type Dump struct {
	// Path is the archive path as supplied.
	Path string
	// Abs is Path made absolute. Collaborators receive it since they may run
	// in another directory.
	Abs string
	// Name is the resolved basename without its final extension.
	Name string
	// Dir is the resolved parent directory.
	Dir  string
	Kind Kind
}

// Inspect validates the archive extension, then checks that the path is an
// existing regular file and derives its name and directory.
func Inspect(path string) (Dump, error) {
	kind, err := DetectKind(path)
	if err != nil {
		return Dump{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Dump{}, fmt.Errorf("%w: %v", internalerr.ErrDumpNotFound, err)
	}
	if !info.Mode().IsRegular() {
		return Dump{}, fmt.Errorf("%w: %s is not a regular file", internalerr.ErrDumpNotFound, path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Dump{}, err
	}
	resolved := abs
	if target, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = target
	}

	base := filepath.Base(resolved)
	return Dump{
		Path: path,
		Abs:  abs,
		Name: strings.TrimSuffix(base, filepath.Ext(base)),
		Dir:  filepath.Dir(resolved),
		Kind: kind,
	}, nil
}
