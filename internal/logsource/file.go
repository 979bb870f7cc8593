package logsource

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// DefaultMaxLineSize is the default maximum size (in bytes) of a single log line.
	DefaultMaxLineSize = 4 * 1024 * 1024 // 4MB
)

// ErrUnreadable marks an input file that could not be opened or read.
var ErrUnreadable = errors.New("logsource: unreadable input")

// FileConfig holds tunable parameters for reading a log file.
type FileConfig struct {
	MaxLineSize int
}

// ReadLines reads a complete, closed log file into memory, one entry per
// physical line with the trailing newline and carriage return removed.
// The file handle is released before returning on every path.
func ReadLines(path string, conf ...FileConfig) ([]string, error) {
	maxLineSize := DefaultMaxLineSize
	if len(conf) > 0 && conf[0].MaxLineSize > 0 {
		maxLineSize = conf[0].MaxLineSize
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	initial := 64 * 1024
	if initial > maxLineSize {
		initial = maxLineSize
	}
	scanner.Buffer(make([]byte, initial), maxLineSize)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("%w: %s: line %d exceeds max size (%d bytes)", ErrUnreadable, path, len(lines)+1, maxLineSize)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	return lines, nil
}
