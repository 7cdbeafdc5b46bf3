package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/trendrbot/trendrbot/internal/query"
	"github.com/trendrbot/trendrbot/internal/storage"
)

// Engine runs trends queries on an in-process DuckDB over parquet snapshots
// fetched from the object store.
type Engine struct {
	Store storage.ObjectStore

	open func(ctx context.Context) (*sql.DB, error)
}

func NewEngine(store storage.ObjectStore) *Engine {
	return &Engine{Store: store, open: openInMemory}
}

func openInMemory(_ context.Context) (*sql.DB, error) {
	return sql.Open("duckdb", "")
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, query.NewExecError(query.KindInvalidQuery, errors.New("sql is required"))
	}
	bound, args, err := bindParams(sqlText, request.Params)
	if err != nil {
		return query.Result{}, query.NewExecError(query.KindInvalidQuery, err)
	}
	if request.RowLimit > 0 {
		bound = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", bound, request.RowLimit)
	}

	start := time.Now()
	groupedPaths := map[string][]string{}
	if len(request.Files) > 0 {
		if e.Store == nil {
			return query.Result{}, query.NewExecError(query.KindUnexpected, errors.New("object store is required"))
		}
		workDir, err := os.MkdirTemp("", "trendrbot-query-")
		if err != nil {
			return query.Result{}, query.NewExecError(query.KindUnexpected, fmt.Errorf("create query temp dir: %w", err))
		}
		defer func() { _ = os.RemoveAll(workDir) }()

		for index, file := range request.Files {
			localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(file.TableName), index))
			if err := e.download(ctx, file.ObjectPath, localPath); err != nil {
				return query.Result{}, err
			}
			groupedPaths[file.TableName] = append(groupedPaths[file.TableName], localPath)
		}
	}

	openDB := e.open
	if openDB == nil {
		openDB = openInMemory
	}
	db, err := openDB(ctx)
	if err != nil {
		return query.Result{}, query.NewExecError(query.KindUnexpected, fmt.Errorf("open duckdb: %w", err))
	}
	defer func() { _ = db.Close() }()

	for tableName, localPaths := range groupedPaths {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(tableName), quoteStringArray(localPaths))
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			return query.Result{}, classify(fmt.Errorf("create view for table %q: %w", tableName, err))
		}
	}

	rows, err := db.QueryContext(ctx, bound, args...)
	if err != nil {
		return query.Result{}, classify(err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, query.NewExecError(query.KindResultRetrieval, fmt.Errorf("query columns: %w", err))
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, query.NewExecError(query.KindResultRetrieval, fmt.Errorf("scan row: %w", err))
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, query.NewExecError(query.KindResultRetrieval, fmt.Errorf("iterate rows: %w", err))
	}

	return query.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

// download copies a snapshot object to localPath. An empty object is
// reported as not found; DuckDB cannot read a zero-byte parquet file.
func (e *Engine) download(ctx context.Context, objectPath, localPath string) error {
	reader, err := e.Store.Get(ctx, objectPath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return query.NewExecError(query.KindNotFound, fmt.Errorf("object %q: %w", objectPath, err))
		}
		return query.NewExecError(query.KindUnexpected, fmt.Errorf("get object %q: %w", objectPath, err))
	}
	defer func() { _ = reader.Close() }()

	file, err := os.Create(localPath)
	if err != nil {
		return query.NewExecError(query.KindUnexpected, fmt.Errorf("create local parquet file %q: %w", localPath, err))
	}
	written, copyErr := io.Copy(file, reader)
	closeErr := file.Close()
	switch {
	case copyErr != nil:
		return query.NewExecError(query.KindResultRetrieval, fmt.Errorf("read object %q: %w", objectPath, copyErr))
	case closeErr != nil:
		return query.NewExecError(query.KindUnexpected, fmt.Errorf("write local parquet file %q: %w", localPath, closeErr))
	case written == 0:
		return query.NewExecError(query.KindNotFound, fmt.Errorf("object %q is empty", objectPath))
	}
	return nil
}

// classify maps DuckDB's "<Type> Error: ..." messages onto query error kinds.
func classify(err error) error {
	message := err.Error()
	switch {
	case strings.Contains(message, "Parser Error"),
		strings.Contains(message, "Binder Error"),
		strings.Contains(message, "Conversion Error"):
		return query.NewExecError(query.KindInvalidQuery, err)
	case strings.Contains(message, "Catalog Error"),
		strings.Contains(message, "No files found"),
		strings.Contains(message, "IO Error"):
		return query.NewExecError(query.KindNotFound, err)
	case strings.Contains(message, "Permission Error"):
		return query.NewExecError(query.KindPermissionDenied, err)
	case strings.Contains(message, "TransactionContext Error"):
		return query.NewExecError(query.KindConflict, err)
	default:
		return query.NewExecError(query.KindUnexpected, err)
	}
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	value = strings.ReplaceAll(value, "`", "")
	if value == "" {
		return "table"
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
