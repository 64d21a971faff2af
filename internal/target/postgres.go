package target

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/johndauphine/restsync/internal/config"
)

// maxPGParams keeps batched statements under the PostgreSQL wire-protocol
// limit of ~65535 parameters, with headroom.
const maxPGParams = 65000

// PostgresWriter merges rows into a PostgreSQL schema through a pgx pool.
type PostgresWriter struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresWriter connects to the target database and ensures the dataset
// schema exists.
func NewPostgresWriter(ctx context.Context, cfg *config.TargetConfig, maxConns int) (*PostgresWriter, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	poolCfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging target database: %w", err)
	}

	w := &PostgresWriter{pool: pool, schema: SanitizeIdentifier(cfg.Dataset)}
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdent(w.schema))); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema %s: %w", w.schema, err)
	}
	return w, nil
}

// EnsureTable creates the table on first sight and adds columns that have
// appeared since. Column types are inferred from the sample rows; unknown
// columns default to text.
func (w *PostgresWriter) EnsureTable(ctx context.Context, table string, cols []string, pk []string, rows [][]any) error {
	name := SanitizeIdentifier(table)
	sanCols := sanitizeAll(cols)
	sanPK := sanitizeAll(pk)

	var exists bool
	err := w.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)
	`, w.schema, name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking table %s: %w", name, err)
	}

	if !exists {
		defs := make([]string, len(sanCols))
		for i, col := range sanCols {
			defs[i] = quoteIdent(col) + " " + inferPGType(i, rows)
		}
		pkCols := make([]string, len(sanPK))
		for i, col := range sanPK {
			pkCols[i] = quoteIdent(col)
		}
		ddl := fmt.Sprintf("CREATE TABLE %s (%s, PRIMARY KEY (%s))",
			qualifyTable(w.schema, name),
			strings.Join(defs, ", "), strings.Join(pkCols, ", "))
		if _, err := w.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("creating table %s: %w", name, err)
		}
		return nil
	}

	existing, err := w.columns(ctx, name)
	if err != nil {
		return err
	}
	for i, col := range sanCols {
		if existing[col] {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			qualifyTable(w.schema, name), quoteIdent(col), inferPGType(i, rows))
		if _, err := w.pool.Exec(ctx, alter); err != nil {
			return fmt.Errorf("adding column %s to %s: %w", col, name, err)
		}
	}
	return nil
}

func (w *PostgresWriter) columns(ctx context.Context, name string) (map[string]bool, error) {
	rows, err := w.pool.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
	`, w.schema, name)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", name, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		cols[col] = true
	}
	return cols, rows.Err()
}

// inferPGType picks a column type from the first non-nil sample value.
func inferPGType(col int, rows [][]any) string {
	for _, row := range rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		switch row[col].(type) {
		case float64, float32:
			return "double precision"
		case int, int64:
			return "bigint"
		case bool:
			return "boolean"
		default:
			return "text"
		}
	}
	return "text"
}

// UpsertBatch merges rows by primary key in one transaction, chunked to stay
// under the parameter limit.
func (w *PostgresWriter) UpsertBatch(ctx context.Context, table string, cols []string, pk []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	if len(pk) == 0 {
		return fmt.Errorf("upsert requires primary key columns")
	}

	name := SanitizeIdentifier(table)
	sanCols := sanitizeAll(cols)
	sanPK := sanitizeAll(pk)

	chunkSize := maxPGParams / len(cols)
	if chunkSize < 1 {
		chunkSize = 1
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := 0; i < len(rows); i += chunkSize {
		end := i + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[i:end]

		stmt := buildUpsertSQL(qualifyTable(w.schema, name), name, sanCols, sanPK, len(chunk), dollarNumber, true)
		args := make([]any, 0, len(chunk)*len(cols))
		for _, row := range chunk {
			args = append(args, row...)
		}
		if _, err := tx.Exec(ctx, stmt, args...); err != nil {
			return fmt.Errorf("merging into %s: %w", name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing merge into %s: %w", name, err)
	}
	return nil
}

// RowCount returns the number of rows in a table.
func (w *PostgresWriter) RowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	err := w.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", qualifyTable(w.schema, SanitizeIdentifier(table)))).Scan(&count)
	return count, err
}

// SampleRows returns up to limit rows from a table.
func (w *PostgresWriter) SampleRows(ctx context.Context, table string, limit int) ([]string, [][]any, error) {
	name := SanitizeIdentifier(table)
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", qualifyTable(w.schema, name), limit)
	rows, err := w.pool.Query(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("sampling %s: %w", name, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		out = append(out, vals)
	}
	return cols, out, rows.Err()
}

func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}

var _ Writer = (*PostgresWriter)(nil)
