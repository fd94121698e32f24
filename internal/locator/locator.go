package locator

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrUnknownEntry     = errors.New("unknown entry")
	ErrNoOutputProduced = errors.New("entry produced no output")
)

// Output describes where a completed build placed its files.
type Output struct {
	// Path is the output directory of the build
	Path string `json:"outputPath"`

	// Entrypoints maps an entry name to the files emitted for it,
	// in emission order. The first file is the runnable script.
	Entrypoints map[string][]string `json:"entrypoints"`

	// Errors are the compile errors reported by the build
	Errors []string `json:"errors,omitempty"`
}

// UnknownEntryError is returned when the requested entry is not part
// of the build output.
type UnknownEntryError struct {
	Entry string
	Known []string
}

func (e *UnknownEntryError) Error() string {
	return fmt.Sprintf(
		"requested entry %q does not exist, try one of: %s",
		e.Entry,
		strings.Join(e.Known, ", "),
	)
}

func (e *UnknownEntryError) Is(target error) bool {
	return target == ErrUnknownEntry
}

// Resolve returns the absolute path of the runnable script for entry.
func Resolve(entry string, out Output) (string, error) {
	files, ok := out.Entrypoints[entry]
	if !ok {
		known := make([]string, 0, len(out.Entrypoints))
		for name := range out.Entrypoints {
			known = append(known, name)
		}
		sort.Strings(known)

		return "", &UnknownEntryError{Entry: entry, Known: known}
	}

	if len(files) == 0 || files[0] == "" {
		return "", fmt.Errorf("%w: %q", ErrNoOutputProduced, entry)
	}

	script := files[0]
	if !filepath.IsAbs(script) {
		script = filepath.Join(out.Path, script)
	}

	abs, err := filepath.Abs(script)
	if err != nil {
		return "", fmt.Errorf("failed to resolve script path: %w", err)
	}

	return abs, nil
}
