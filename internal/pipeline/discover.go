package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tinytelemetry/runmerge/internal/model"
)

// Discovered is a primary log found under the input root. ToolLog is empty
// when the throughput sibling does not exist.
type Discovered struct {
	Pair
	Missing bool
}

// DiscoverPairs walks root for files ending in primarySuffix and looks for
// the sibling <run-id><toolSuffix> in the same directory. Each pair records
// its directory relative to root. Empty suffixes select the defaults.
// Results are ordered by primary log path.
func DiscoverPairs(root, primarySuffix, toolSuffix string) ([]Discovered, error) {
	if primarySuffix == "" {
		primarySuffix = model.DefaultPrimarySuffix
	}
	if toolSuffix == "" {
		toolSuffix = model.DefaultToolSuffix
	}

	var found []Discovered
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), primarySuffix) {
			return nil
		}

		runID := strings.TrimSuffix(d.Name(), primarySuffix)
		if runID == "" {
			return nil
		}
		dir := filepath.Dir(path)
		tool := filepath.Join(dir, runID+toolSuffix)

		rel, err := filepath.Rel(root, dir)
		if err != nil {
			return fmt.Errorf("relative dir of %s: %w", path, err)
		}
		if rel == "." {
			rel = ""
		}

		disc := Discovered{Pair: Pair{RunID: runID, Dir: filepath.ToSlash(rel), PrimaryLog: path}}
		if _, err := os.Stat(tool); err == nil {
			disc.ToolLog = tool
		} else if errors.Is(err, fs.ErrNotExist) {
			disc.Missing = true
		} else {
			return fmt.Errorf("stat %s: %w", tool, err)
		}
		found = append(found, disc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover pairs under %s: %w", root, err)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].PrimaryLog < found[j].PrimaryLog })
	return found, nil
}
