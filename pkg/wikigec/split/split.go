// Package split turns the extractor's two-column OLD<TAB>NEW stream into a
// pair of line-aligned corpora.
//
// In the default legacy join mode the two outputs are written differently:
// originals are newline-joined with no trailing newline, while corrected
// fields are concatenated as extracted and so keep whatever terminator they
// carried. The "lines" mode writes exactly one newline per record to both
// files.
package split

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/net/html"

	"github.com/cognicore/wikigec/pkg/wikigec/internalerr"
)

// JoinMode controls how records are terminated in the output files.
type JoinMode string

const (
	JoinLegacy JoinMode = "legacy"
	JoinLines  JoinMode = "lines"
)

// Valid reports whether m is a known mode. The empty mode means legacy.
func (m JoinMode) Valid() bool {
	switch m {
	case "", JoinLegacy, JoinLines:
		return true
	}
	return false
}

// Options configures Split.
type Options struct {
	Join JoinMode
	// UnescapeEntities decodes HTML character references such as &amp; in
	// both fields.
	UnescapeEntities bool
}

// Stats summarizes a split.
type Stats struct {
	Pairs int
}

// LineError reports an extraction line without a TAB separator.
type LineError struct {
	Line int
	Text string
}

func (e *LineError) Error() string {
	text := e.Text
	if len(text) > 80 {
		text = text[:80] + "..."
	}
	return fmt.Sprintf("line %d has no tab separator: %q", e.Line, text)
}

// Unwrap lets errors.Is match ErrMalformedLine.
func (e *LineError) Unwrap() error { return internalerr.ErrMalformedLine }

// Split reads r line by line and writes field 0 of each line to orig and
// field 1 to cor. Fields after the second are dropped. The first line
// without a TAB aborts the split with a *LineError.
func Split(r io.Reader, orig, cor io.Writer, opts Options) (Stats, error) {
	if !opts.Join.Valid() {
		return Stats{}, fmt.Errorf("%w: join mode %q", internalerr.ErrInvalidInput, opts.Join)
	}

	br := bufio.NewReaderSize(r, 64*1024)
	ow := bufio.NewWriter(orig)
	cw := bufio.NewWriter(cor)

	var stats Stats
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if err := writePair(ow, cw, line, stats.Pairs, opts); err != nil {
				return stats, err
			}
			stats.Pairs++
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read extraction output: %w", err)
		}
	}

	if err := ow.Flush(); err != nil {
		return stats, fmt.Errorf("write originals: %w", err)
	}
	if err := cw.Flush(); err != nil {
		return stats, fmt.Errorf("write corrected: %w", err)
	}
	return stats, nil
}

func writePair(ow, cw *bufio.Writer, line string, index int, opts Options) error {
	// Text-mode readers fold CRLF into LF.
	if strings.HasSuffix(line, "\r\n") {
		line = line[:len(line)-2] + "\n"
	}

	fields := strings.SplitN(line, "\t", 3)
	if len(fields) < 2 {
		return &LineError{Line: index + 1, Text: strings.TrimRight(line, "\n")}
	}
	before, after := fields[0], fields[1]
	if len(fields) == 3 {
		// Anything after a second TAB is dropped, terminator included.
		after = strings.TrimSuffix(after, "\n")
	}

	if opts.UnescapeEntities {
		before = unescape(before)
		after = unescape(after)
	}

	switch opts.Join {
	case JoinLines:
		ow.WriteString(strings.TrimSuffix(before, "\n"))
		ow.WriteByte('\n')
		cw.WriteString(strings.TrimSuffix(after, "\n"))
		cw.WriteByte('\n')
	default:
		if index > 0 {
			ow.WriteByte('\n')
		}
		ow.WriteString(before)
		cw.WriteString(after)
	}
	return nil
}

// unescape decodes character references while keeping a trailing newline.
func unescape(s string) string {
	if !strings.ContainsRune(s, '&') {
		return s
	}
	if body, ok := strings.CutSuffix(s, "\n"); ok {
		return html.UnescapeString(body) + "\n"
	}
	return html.UnescapeString(s)
}

// SplitFile splits the extraction file at src into origPath and corPath,
// truncating both.
func SplitFile(src, origPath, corPath string, opts Options) (Stats, error) {
	in, err := os.Open(src)
	if err != nil {
		return Stats{}, err
	}
	defer in.Close()

	orig, err := os.Create(origPath)
	if err != nil {
		return Stats{}, err
	}
	defer orig.Close()

	cor, err := os.Create(corPath)
	if err != nil {
		return Stats{}, err
	}
	defer cor.Close()

	stats, err := Split(in, orig, cor, opts)
	if err != nil {
		return stats, err
	}
	if err := orig.Close(); err != nil {
		return stats, err
	}
	if err := cor.Close(); err != nil {
		return stats, err
	}
	return stats, nil
}
