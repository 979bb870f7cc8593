package duckdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ErrInMemoryStore is returned when snapshotting a store without a file.
var ErrInMemoryStore = errors.New("duckdb: in-memory store cannot be snapshotted")

// SnapshotTo checkpoints the database and copies its file to dstPath. A
// ".zst" suffix on dstPath writes a zstd-compressed copy.
func (s *Store) SnapshotTo(ctx context.Context, dstPath string) error {
	if s.dbPath == "" {
		return ErrInMemoryStore
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	// The checkpoint holds the write lock; the copy runs outside it.
	s.mu.Lock()
	_, err := s.db.ExecContext(ctx, "CHECKPOINT")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	if err := copyFile(s.dbPath, dstPath, strings.HasSuffix(dstPath, ".zst")); err != nil {
		return fmt.Errorf("copy duckdb file: %w", err)
	}
	s.logger.Info("duckdb: snapshot written", "path", dstPath)
	return nil
}

func copyFile(srcPath, dstPath string, compress bool) (err error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := dstPath + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			dst.Close()
			_ = os.Remove(tmp)
		}
	}()

	if compress {
		enc, zerr := zstd.NewWriter(dst)
		if zerr != nil {
			return zerr
		}
		if _, err = io.Copy(enc, src); err != nil {
			enc.Close()
			return err
		}
		if err = enc.Close(); err != nil {
			return err
		}
	} else if _, err = io.Copy(dst, src); err != nil {
		return err
	}

	if err = dst.Sync(); err != nil {
		return err
	}
	if err = dst.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dstPath)
}
