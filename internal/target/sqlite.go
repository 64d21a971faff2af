package target

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// maxSQLiteParams bounds the parameters per statement, below the default
// SQLITE_MAX_VARIABLE_NUMBER.
const maxSQLiteParams = 900

// SQLiteWriter merges rows into a local SQLite file. The default target:
// zero infrastructure, and WAL mode keeps readers usable during a sync.
type SQLiteWriter struct {
	db     *sql.DB
	prefix string
}

// NewSQLiteWriter opens (or creates) the target database file. prefix, when
// set, namespaces the tables of one dataset.
func NewSQLiteWriter(path, prefix string) (*SQLiteWriter, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening target database: %w", err)
	}
	// Single writer connection; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening target database: %w", err)
	}

	return &SQLiteWriter{db: db, prefix: prefix}, nil
}

func (w *SQLiteWriter) tableName(table string) string {
	name := SanitizeIdentifier(table)
	if w.prefix != "" {
		name = SanitizeIdentifier(w.prefix) + "_" + name
	}
	return name
}

// EnsureTable creates the table on first sight and adds columns that have
// appeared since. SQLite columns are declared untyped; its affinity rules
// store whatever scalar the upstream sends.
func (w *SQLiteWriter) EnsureTable(ctx context.Context, table string, cols []string, pk []string, _ [][]any) error {
	name := w.tableName(table)
	sanCols := sanitizeAll(cols)
	sanPK := sanitizeAll(pk)

	var exists int
	err := w.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking table %s: %w", name, err)
	}

	if exists == 0 {
		defs := make([]string, len(sanCols))
		for i, col := range sanCols {
			defs[i] = quoteIdent(col)
		}
		pkCols := make([]string, len(sanPK))
		for i, col := range sanPK {
			pkCols[i] = quoteIdent(col)
		}
		ddl := fmt.Sprintf("CREATE TABLE %s (%s, PRIMARY KEY (%s))",
			quoteIdent(name), strings.Join(defs, ", "), strings.Join(pkCols, ", "))
		if _, err := w.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating table %s: %w", name, err)
		}
		return nil
	}

	existing, err := w.columns(ctx, name)
	if err != nil {
		return err
	}
	for _, col := range sanCols {
		if existing[col] {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(name), quoteIdent(col))
		if _, err := w.db.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("adding column %s to %s: %w", col, name, err)
		}
	}
	return nil
}

func (w *SQLiteWriter) columns(ctx context.Context, name string) (map[string]bool, error) {
	rows, err := w.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", name, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			colName string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[colName] = true
	}
	return cols, rows.Err()
}

// UpsertBatch merges rows by primary key in one transaction. Statements are
// chunked to stay under the SQLite parameter limit, but visibility is still
// all-or-nothing for the batch.
func (w *SQLiteWriter) UpsertBatch(ctx context.Context, table string, cols []string, pk []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	if len(pk) == 0 {
		return fmt.Errorf("upsert requires primary key columns")
	}

	name := w.tableName(table)
	sanCols := sanitizeAll(cols)
	sanPK := sanitizeAll(pk)

	chunkSize := maxSQLiteParams / len(cols)
	if chunkSize < 1 {
		chunkSize = 1
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for i := 0; i < len(rows); i += chunkSize {
		end := i + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[i:end]

		stmt := buildUpsertSQL(quoteIdent(name), name, sanCols, sanPK, len(chunk), questionMark, false)
		args := make([]any, 0, len(chunk)*len(cols))
		for _, row := range chunk {
			args = append(args, row...)
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("merging into %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing merge into %s: %w", name, err)
	}
	return nil
}

// RowCount returns the number of rows in a table.
func (w *SQLiteWriter) RowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	err := w.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(w.tableName(table)))).Scan(&count)
	return count, err
}

// SampleRows returns up to limit rows from a table.
func (w *SQLiteWriter) SampleRows(ctx context.Context, table string, limit int) ([]string, [][]any, error) {
	name := w.tableName(table)
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(name), limit)
	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("sampling %s: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		out = append(out, vals)
	}
	return cols, out, rows.Err()
}

func (w *SQLiteWriter) Close() error {
	return w.db.Close()
}

var _ Writer = (*SQLiteWriter)(nil)
