package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fastjson"

	"github.com/tinytelemetry/runmerge/internal/model"
	"github.com/tinytelemetry/runmerge/internal/table"
	"github.com/tinytelemetry/runmerge/internal/timestamp"
)

// MaxRowLimit caps how many rows RunRows returns in one call.
const MaxRowLimit = 10000

var (
	fieldParsers fastjson.ParserPool
	fieldArenas  fastjson.ArenaPool
	rowTimes     = timestamp.NewParser()
)

// SaveRun stores run and all of its tables, replacing any previous entry
// with the same run id in a single transaction.
func (s *Store) SaveRun(ctx context.Context, run *model.ProcessedRun) error {
	if run == nil || run.RunID == "" {
		return fmt.Errorf("save run: missing run id")
	}

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveRunTx(ctx, run); err != nil {
		return fmt.Errorf("save run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *Store) saveRunTx(ctx context.Context, run *model.ProcessedRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	for _, q := range []string{
		"DELETE FROM run_rows WHERE run_id = ?",
		"DELETE FROM run_config WHERE run_id = ?",
		"DELETE FROM runs WHERE run_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, run.RunID); err != nil {
			return fmt.Errorf("clear previous run: %w", err)
		}
	}

	var rowCount int64
	for _, t := range run.Tables {
		if t.Stream != nil {
			rowCount += int64(t.Stream.Len())
		}
	}

	processedAt := run.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, batch_id, primary_log, tool_log, tool_command, characteristics, processed_at, row_count) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.BatchID, run.PrimaryLog, run.ToolLog,
		run.Metadata.ToolCommand, run.Metadata.Characteristics, processedAt, rowCount,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(run.Metadata.Config) > 0 {
		cfgStmt, err := tx.PrepareContext(ctx, `INSERT INTO run_config (run_id, idx, key, value) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer cfgStmt.Close()
		for i, p := range run.Metadata.Config {
			if _, err := cfgStmt.ExecContext(ctx, run.RunID, i, p.Key, p.Value); err != nil {
				return fmt.Errorf("insert config %s: %w", p.Key, err)
			}
		}
	}

	rowStmt, err := tx.PrepareContext(ctx, `INSERT INTO run_rows (run_id, table_name, row_idx, ts, fields) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer rowStmt.Close()

	for _, t := range run.Tables {
		if t.Stream == nil {
			continue
		}
		for i, rec := range t.Stream.Records {
			data := encodeFields(rec.Fields)
			var ts any
			if rec.HasTime() {
				ts = rec.Time
			}
			if _, err := rowStmt.ExecContext(ctx, run.RunID, t.Name, i, ts, data); err != nil {
				return fmt.Errorf("insert %s row %d: %w", t.Name, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	s.logger.Debug("duckdb: run saved", "run", run.RunID, "rows", rowCount, "config_keys", len(run.Metadata.Config))
	return nil
}

// ListRuns returns every stored run, most recently processed first.
func (s *Store) ListRuns(ctx context.Context) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, batch_id, primary_log, tool_log, processed_at, row_count FROM runs ORDER BY processed_at DESC, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var r model.RunSummary
		if err := rows.Scan(&r.RunID, &r.BatchID, &r.PrimaryLog, &r.ToolLog, &r.ProcessedAt, &r.RowCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunMetadata returns a run's flattened configuration in source order,
// followed by the characteristics pairs and the tool command.
func (s *Store) RunMetadata(ctx context.Context, runID string) ([]model.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var toolCmd, chars sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT tool_command, characteristics FROM runs WHERE run_id = ?`, runID).Scan(&toolCmd, &chars)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM run_config WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pairs := []model.Pair{}
	for rows.Next() {
		var p model.Pair
		if err := rows.Scan(&p.Key, &p.Value); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pairs = append(pairs, model.ParseLabeledPairs(chars.String)...)
	if toolCmd.String != "" {
		pairs = append(pairs, model.Pair{Key: "tool_command", Value: toolCmd.String})
	}
	return pairs, nil
}

// RunRows returns up to limit rows of one table of a run, in row order.
// A non-positive limit or one above MaxRowLimit is clamped to MaxRowLimit.
func (s *Store) RunRows(ctx context.Context, runID, tableName string, limit int) ([]model.StoredRow, error) {
	if limit <= 0 || limit > MaxRowLimit {
		limit = MaxRowLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT row_idx, ts, fields FROM run_rows WHERE run_id = ? AND table_name = ? ORDER BY row_idx LIMIT ?`,
		runID, tableName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.StoredRow{}
	for rows.Next() {
		var (
			r      model.StoredRow
			ts     any
			fields string
		)
		if err := rows.Scan(&r.Index, &ts, &fields); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Table = tableName
		if t, ok := rowTimes.ParseTimestamp(ts); ok {
			r.Time = t
		}
		if r.Fields, err = decodeFields(fields); err != nil {
			s.logger.Warn("duckdb: undecodable row", "run", runID, "table", tableName, "row", r.Index, "err", err)
			r.Fields = model.NewFields()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) requireRun(ctx context.Context, runID string) error {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// encodeFields renders fields as a JSON object whose keys keep the
// record's column order.
func encodeFields(f *model.Fields) string {
	a := fieldArenas.Get()
	defer fieldArenas.Put(a)

	obj := a.NewObject()
	for _, k := range f.Keys() {
		v, _ := f.Get(k)
		switch x := v.(type) {
		case int64:
			obj.Set(k, a.NewNumberString(strconv.FormatInt(x, 10)))
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) {
				obj.Set(k, a.NewString(model.FormatValue(x)))
				continue
			}
			obj.Set(k, a.NewNumberString(floatLiteral(x)))
		default:
			obj.Set(k, a.NewString(model.FormatValue(x)))
		}
	}
	return string(obj.MarshalTo(nil))
}

// floatLiteral keeps a fractional marker so whole floats read back as
// float64, not int64.
func floatLiteral(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// decodeFields restores stored row values in stored key order, keeping
// integers as int64.
func decodeFields(data string) (*model.Fields, error) {
	p := fieldParsers.Get()
	defer fieldParsers.Put(p)

	v, err := p.Parse(data)
	if err != nil {
		return nil, err
	}
	obj, err := v.Object()
	if err != nil {
		return nil, err
	}

	out := model.NewFields()
	obj.Visit(func(key []byte, val *fastjson.Value) {
		k := string(key)
		switch val.Type() {
		case fastjson.TypeString:
			out.Set(k, string(val.GetStringBytes()))
		case fastjson.TypeNumber:
			if i, err := val.Int64(); err == nil {
				out.Set(k, i)
			} else {
				out.Set(k, val.GetFloat64())
			}
		default:
			out.Set(k, val.String())
		}
	})
	return out, nil
}

// RateByRun normalizes the textual bitrate column field (such as
// "45.3Mbps") of tableName for every stored run. Runs without any parseable
// value are omitted.
func (s *Store) RateByRun(ctx context.Context, tableName, field string) ([]model.RunRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, fields FROM run_rows WHERE table_name = ? ORDER BY run_id, row_idx`, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out []model.RunRate
		cur *model.RunRate
		sum float64
	)
	flush := func() {
		if cur != nil && cur.Samples > 0 {
			cur.Mean = sum / float64(cur.Samples)
			out = append(out, *cur)
		}
	}
	for rows.Next() {
		var runID, data string
		if err := rows.Scan(&runID, &data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if cur == nil || cur.RunID != runID {
			flush()
			cur, sum = &model.RunRate{RunID: runID}, 0
		}
		fields, err := decodeFields(data)
		if err != nil {
			continue
		}
		raw := strings.TrimSpace(fields.GetString(field))
		if raw == "" {
			continue
		}
		v, err := table.NormalizeRate(raw)
		if err != nil {
			continue
		}
		if cur.Samples == 0 || v > cur.Max {
			cur.Max = v
		}
		cur.Samples++
		sum += v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	flush()
	return out, nil
}

// DeleteRunsBefore removes runs processed before cutoff and returns how many
// runs were deleted.
func (s *Store) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	const expired = `SELECT run_id FROM runs WHERE processed_at < ?`
	for _, q := range []string{
		"DELETE FROM run_rows WHERE run_id IN (" + expired + ")",
		"DELETE FROM run_config WHERE run_id IN (" + expired + ")",
	} {
		if _, err := tx.ExecContext(ctx, q, cutoff); err != nil {
			return 0, err
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE processed_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return n, nil
}
