// Package table renders record streams as CSV files with run metadata
// carried in leading comment lines.
package table

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/tinytelemetry/runmerge/internal/model"
)

// TimeColumn is the name of the leading time column.
const TimeColumn = "time"

// TimeLayout formats record times with microsecond precision.
const TimeLayout = "2006-01-02 15:04:05.000000"

// CompressedExt selects zstd-compressed output.
const CompressedExt = ".zst"

// ErrNoColumns is returned for a stream that has neither a time column nor
// any field columns. A stream with columns but no rows is still written.
var ErrNoColumns = errors.New("table: stream has no columns")

// Write renders s as CSV to w, preceded by the header's comment lines. The
// time column is present when any record carries a time; other columns are
// the stream's unioned schema and missing values are left empty.
func Write(w io.Writer, s *model.Stream, h Header) error {
	timed := s.Timed()
	cols := s.Columns()
	if !timed && len(cols) == 0 {
		return ErrNoColumns
	}

	bw := bufio.NewWriter(w)
	for _, line := range h.Lines() {
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("write comment: %w", err)
		}
	}

	cw := csv.NewWriter(bw)
	row := make([]string, 0, len(cols)+1)
	if timed {
		row = append(row, TimeColumn)
	}
	row = append(row, cols...)
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, r := range s.Records {
		row = row[:0]
		if timed {
			ts := ""
			if r.HasTime() {
				ts = r.Time.Format(TimeLayout)
			}
			row = append(row, ts)
		}
		for _, c := range cols {
			row = append(row, r.Fields.GetString(c))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return bw.Flush()
}

// WriteFile writes s to path through a uniquely named temporary file in the
// same directory that is renamed into place on success. Paths ending in .zst are zstd-compressed.
func WriteFile(path string, s *model.Stream, h Header) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmp := f.Name()

	if err := writeTo(f, path, s, h); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func writeTo(f *os.File, path string, s *model.Stream, h Header) error {
	if !strings.HasSuffix(path, CompressedExt) {
		return Write(f, s, h)
	}

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	if err := Write(enc, s, h); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close zstd encoder: %w", err)
	}
	return nil
}

// OpenFile opens a table written by WriteFile, transparently decompressing
// .zst files. The caller closes the returned reader.
func OpenFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, CompressedExt) {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &zstdFile{Decoder: dec, f: f}, nil
}

type zstdFile struct {
	*zstd.Decoder
	f *os.File
}

func (z *zstdFile) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}
