// Package manifest writes and reads the clip list consumed by ffmpeg's concat
// demuxer.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrMalformedLine is returned by Read for a line that is not a file directive.
var ErrMalformedLine = errors.New("malformed manifest line")

// Write creates (or truncates) path with one `file '<abs path>'` line per clip,
// in order. Paths are made absolute so the list works wherever it is stored;
// single quotes are escaped the way the concat demuxer expects.
func Write(path string, clips []string) error {
	f, err := os.Create(path) // #nosec G304 - path comes from validated config
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, clip := range clips {
		abs, err := filepath.Abs(clip)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("get absolute path for %s: %w", clip, err)
		}
		if _, err := fmt.Fprintf(w, "file '%s'\n", escape(abs)); err != nil {
			_ = f.Close()
			return fmt.Errorf("write to manifest: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush manifest: %w", err)
	}
	return f.Close()
}

// Read parses a manifest written by Write back into clip paths.
func Read(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from validated config
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	var clips []string
	scanner := bufio.NewScanner(f)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		quoted, ok := strings.CutPrefix(line, "file ")
		if !ok || len(quoted) < 2 || quoted[0] != '\'' || quoted[len(quoted)-1] != '\'' {
			return nil, fmt.Errorf("%w %d: %q", ErrMalformedLine, n, line)
		}
		clips = append(clips, unescape(quoted[1:len(quoted)-1]))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return clips, nil
}

// escape closes the quote, emits an escaped quote and reopens it.
func escape(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}

func unescape(p string) string {
	return strings.ReplaceAll(p, `'\''`, "'")
}
