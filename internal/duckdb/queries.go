package duckdb

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// MaxQueryRows caps the result size of ExecuteQuery.
const MaxQueryRows = 1000

// storedTables is the allowlist reported by TableRowCounts.
var storedTables = []string{"runs", "run_config", "run_rows"}

// dangerousKeywordPattern matches write or side-effecting keywords at word
// boundaries, so "RESET" does not match "SET".
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|DETACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET|CHECKPOINT)\b`,
)

var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// stripSQLComments removes -- line comments and /* */ block comments.
func stripSQLComments(query string) string {
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	var b strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// validateReadOnly rejects anything but a single SELECT or WITH statement.
func validateReadOnly(query string) error {
	if strings.Contains(query, ";") {
		return fmt.Errorf("query must not contain semicolons")
	}
	stripped := strings.TrimSpace(stripSQLComments(query))
	upper := strings.ToUpper(stripped)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("only SELECT/WITH queries are allowed")
	}
	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return fmt.Errorf("query contains disallowed keyword: %s", strings.ToUpper(match))
	}
	return nil
}

// ExecuteQuery runs a read-only query and returns at most MaxQueryRows rows
// as column→value maps.
func (s *Store) ExecuteQuery(query string) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(query)
	if err := validateReadOnly(trimmed); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(context.Background())
	defer cancel()

	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := []map[string]interface{}{}
	for rows.Next() && len(results) < MaxQueryRows {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			s.logger.Warn("duckdb: scan error", "op", "ExecuteQuery", "err", err)
			continue
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// SchemaDescription describes the stored tables for API clients.
func (s *Store) SchemaDescription() string {
	return `Table 'runs': run_id (VARCHAR), batch_id (VARCHAR), primary_log (VARCHAR), ` +
		`tool_log (VARCHAR), tool_command (VARCHAR), characteristics (VARCHAR), ` +
		`processed_at (TIMESTAMP), row_count (BIGINT). ` +
		`Table 'run_config': run_id (VARCHAR), idx (INTEGER), key (VARCHAR), value (VARCHAR). ` +
		`Table 'run_rows': run_id (VARCHAR), table_name (VARCHAR: merged/metrics/ulmeas/iperf/phy/radar_config), ` +
		`row_idx (INTEGER), ts (TIMESTAMP), fields (VARCHAR holding a JSON object).`
}

// TableRowCounts returns the row count of each stored table.
func (s *Store) TableRowCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(context.Background())
	defer cancel()

	counts := make(map[string]int64, len(storedTables))
	for _, table := range storedTables {
		var count int64
		// Table names are constants, never user input.
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = count
	}
	return counts, nil
}
