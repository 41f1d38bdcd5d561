// Package export writes collected records to CSV and JSON files.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
)

// Format is an output file format.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormats normalizes and validates format names, dropping repeats.
func ParseFormats(names []string) ([]Format, error) {
	formats := make([]Format, 0, len(names))
	seen := make(map[Format]bool, len(names))
	for _, name := range names {
		f := Format(strings.ToLower(strings.TrimSpace(name)))
		switch f {
		case FormatCSV, FormatJSON:
		default:
			return nil, fmt.Errorf("unsupported output format %q", name)
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		formats = append(formats, f)
	}
	return formats, nil
}

// WriteCSV writes records with a header row taken from their csv tags. Nil
// pointer fields become empty cells.
func WriteCSV[T any](w io.Writer, records []T) error {
	if records == nil {
		records = []T{}
	}
	if err := gocsv.Marshal(&records, w); err != nil {
		return fmt.Errorf("marshal csv: %w", err)
	}
	return nil
}

// WriteJSON writes records as an indented array. Non-ASCII text is kept
// as is and nil pointer fields become null.
func WriteJSON[T any](w io.Writer, records []T) error {
	if records == nil {
		records = []T{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return nil
}

// WriteFiles writes records to <dir>/<base>.<format> for each format and
// returns the paths written.
func WriteFiles[T any](dir, base string, formats []Format, records []T) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	paths := make([]string, 0, len(formats))
	for _, f := range formats {
		path := filepath.Join(dir, base+"."+string(f))
		if err := writeFile(path, f, records); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile[T any](path string, f Format, records []T) (err error) {
	// #nosec G304 -- path is built from configured directory and plan name.
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	switch f {
	case FormatCSV:
		return WriteCSV(file, records)
	case FormatJSON:
		return WriteJSON(file, records)
	default:
		return fmt.Errorf("unsupported output format %q", f)
	}
}
