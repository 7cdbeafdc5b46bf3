package duckdb

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/trendrbot/trendrbot/internal/query"
	"github.com/trendrbot/trendrbot/internal/storage"
	"github.com/trendrbot/trendrbot/internal/trendsdata"
)

const internationalTable = "bigquery-public-data.google_trends.international_top_terms"

func TestExecuteReadsParquetThroughObjectStore(t *testing.T) {
	parquetBytes := buildParquet(t, []trendsdata.Row{
		{Term: "Eurovision", Rank: 1, Week: "2024-05-05", CountryName: "Finland"},
		{Term: "Eurovision", Rank: 1, Week: "2024-05-05", CountryName: "Sweden"},
		{Term: "Jääkiekko", Rank: 2, Week: "2024-05-05", CountryName: "Finland"},
		{Term: "Vappu", Rank: 1, Week: "2024-04-28", CountryName: "Finland"},
	})
	store := &memoryStore{objects: map[string][]byte{"google_trends/international_top_terms.parquet": parquetBytes}}
	engine := NewEngine(store)

	result, err := engine.Execute(context.Background(), query.Request{
		SQL:    "SELECT term, rank, week FROM `" + internationalTable + "` WHERE country_name = @country ORDER BY week DESC, rank ASC;",
		Params: []query.Param{{Name: "country", Value: "Finland"}},
		Files: []query.TableFile{{
			TableName:  internationalTable,
			ObjectPath: "google_trends/international_top_terms.parquet",
		}},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 3 || result.Columns[0] != "term" {
		t.Fatalf("columns = %#v", result.Columns)
	}
	if len(result.Rows) != 3 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if result.Rows[0][0] != "Eurovision" || result.Rows[2][0] != "Vappu" {
		t.Fatalf("rows = %#v", result.Rows)
	}
}

func TestExecuteAppliesRowLimit(t *testing.T) {
	parquetBytes := buildParquet(t, []trendsdata.Row{
		{Term: "a", Rank: 1, Week: "2024-05-05"},
		{Term: "b", Rank: 2, Week: "2024-05-05"},
	})
	store := &memoryStore{objects: map[string][]byte{"top_terms.parquet": parquetBytes}}
	engine := NewEngine(store)

	result, err := engine.Execute(context.Background(), query.Request{
		SQL:      `SELECT term FROM "top_terms" ORDER BY rank`,
		RowLimit: 1,
		Files:    []query.TableFile{{TableName: "top_terms", ObjectPath: "top_terms.parquet"}},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != "a" {
		t.Fatalf("rows = %#v", result.Rows)
	}
}

func TestExecuteMissingObjectIsNotFound(t *testing.T) {
	engine := NewEngine(&memoryStore{objects: map[string][]byte{}})
	_, err := engine.Execute(context.Background(), query.Request{
		SQL:   "SELECT 1",
		Files: []query.TableFile{{TableName: "top_terms", ObjectPath: "missing.parquet"}},
	})
	if query.KindOf(err) != query.KindNotFound {
		t.Fatalf("kind = %s, err = %v", query.KindOf(err), err)
	}
}

func TestExecuteEmptySnapshotIsNotFound(t *testing.T) {
	engine := NewEngine(&memoryStore{objects: map[string][]byte{"top_terms.parquet": {}}})
	_, err := engine.Execute(context.Background(), query.Request{
		SQL:   `SELECT term FROM "top_terms"`,
		Files: []query.TableFile{{TableName: "top_terms", ObjectPath: "top_terms.parquet"}},
	})
	if query.KindOf(err) != query.KindNotFound {
		t.Fatalf("kind = %s, err = %v", query.KindOf(err), err)
	}
}

func TestExecuteRejectsEmptySQL(t *testing.T) {
	_, err := NewEngine(nil).Execute(context.Background(), query.Request{SQL: " ; "})
	if query.KindOf(err) != query.KindInvalidQuery {
		t.Fatalf("kind = %s", query.KindOf(err))
	}
}

func TestExecuteBindsParamsPositionally(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	engine := &Engine{open: func(context.Context) (*sql.DB, error) { return db, nil }}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT term, rank, week FROM "t" WHERE country_name = ? GROUP BY term, rank, week`)).
		WithArgs("Finland").
		WillReturnRows(sqlmock.NewRows([]string{"term", "rank", "week"}).
			AddRow("Eurovision", int64(1), "2024-05-05").
			AddRow([]byte("Vappu"), int64(1), "2024-04-28"))
	mock.ExpectClose()

	result, err := engine.Execute(context.Background(), query.Request{
		SQL:    "SELECT term, rank, week FROM `t` WHERE country_name = @country GROUP BY term, rank, week",
		Params: []query.Param{{Name: "country", Value: "Finland"}},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if result.Rows[1][0] != "Vappu" {
		t.Fatalf("bytes should normalize to string, got %#v", result.Rows[1][0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestExecuteClassifiesEngineErrors(t *testing.T) {
	cases := map[string]query.ErrorKind{
		`Parser Error: syntax error at or near "SELEC"`:           query.KindInvalidQuery,
		`Catalog Error: Table with name top_terms does not exist!`: query.KindNotFound,
		`Permission Error: file system operations are disabled`:    query.KindPermissionDenied,
		`TransactionContext Error: Catalog write-write conflict`:   query.KindConflict,
		`INTERNAL Error: something odd`:                            query.KindUnexpected,
	}
	for message, want := range cases {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock.New() error = %v", err)
		}
		engine := &Engine{open: func(context.Context) (*sql.DB, error) { return db, nil }}
		mock.ExpectQuery("SELECT").WillReturnError(errors.New(message))
		mock.ExpectClose()

		_, err = engine.Execute(context.Background(), query.Request{SQL: "SELECT 1"})
		if query.KindOf(err) != want {
			t.Fatalf("%q: kind = %s, want %s", message, query.KindOf(err), want)
		}
	}
}

func TestExecuteScanFailureIsResultRetrieval(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	engine := &Engine{open: func(context.Context) (*sql.DB, error) { return db, nil }}
	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"term"}).AddRow("a").RowError(0, errors.New("connection reset")),
	)
	mock.ExpectClose()

	_, err = engine.Execute(context.Background(), query.Request{SQL: "SELECT term FROM t"})
	if query.KindOf(err) != query.KindResultRetrieval {
		t.Fatalf("kind = %s, err = %v", query.KindOf(err), err)
	}
}

func buildParquet(t *testing.T, rows []trendsdata.Row) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	if err := trendsdata.WriteParquet(buf, rows); err != nil {
		t.Fatalf("WriteParquet() error = %v", err)
	}
	return buf.Bytes()
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Put(context.Context, string, io.Reader, int64, storage.PutOptions) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	body, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(body))}, nil
}
