package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/trendrbot/trendrbot/internal/query"
)

type rowReader interface {
	Next(dst *[]bq.Value) error
	Columns() []string
}

type runner interface {
	Run(ctx context.Context, sqlText string, params []bq.QueryParameter) (rowReader, error)
	Close() error
}

// Engine executes trends queries against BigQuery. Request.Files is ignored;
// tables are addressed by their fully qualified names in the SQL.
type Engine struct {
	runner runner
}

func NewEngine(ctx context.Context, projectID string) (*Engine, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("gcp project id is required")
	}
	// The client refreshes credentials with the context it was built with.
	client, err := bq.NewClient(context.WithoutCancel(ctx), strings.TrimSpace(projectID))
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	return &Engine{runner: &clientRunner{client: client}}, nil
}

func newEngineWithRunner(r runner) *Engine {
	return &Engine{runner: r}
}

func (e *Engine) Close() error {
	return e.runner.Close()
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := strings.TrimSpace(request.SQL)
	if sqlText == "" {
		return query.Result{}, query.NewExecError(query.KindInvalidQuery, errors.New("sql is required"))
	}
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", strings.TrimRight(sqlText, "; \n\t"), request.RowLimit)
	}
	params := make([]bq.QueryParameter, 0, len(request.Params))
	for _, param := range request.Params {
		params = append(params, bq.QueryParameter{Name: param.Name, Value: param.Value})
	}

	start := time.Now()
	reader, err := e.runner.Run(ctx, sqlText, params)
	if err != nil {
		return query.Result{}, classify(err)
	}

	rows := make([][]any, 0)
	for {
		var values []bq.Value
		err := reader.Next(&values)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return query.Result{}, query.NewExecError(query.KindResultRetrieval, err)
		}
		row := make([]any, len(values))
		for i, value := range values {
			row[i] = value
		}
		rows = append(rows, row)
	}

	return query.Result{
		Columns:  reader.Columns(),
		Rows:     rows,
		Duration: time.Since(start),
	}, nil
}

// classify maps API status codes and job error reasons onto query error kinds.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusBadRequest:
			return query.NewExecError(query.KindInvalidQuery, err)
		case http.StatusNotFound:
			return query.NewExecError(query.KindNotFound, err)
		case http.StatusForbidden:
			return query.NewExecError(query.KindPermissionDenied, err)
		case http.StatusConflict:
			return query.NewExecError(query.KindConflict, err)
		}
	}
	var jobErr *bq.Error
	if errors.As(err, &jobErr) {
		switch jobErr.Reason {
		case "invalidQuery", "invalid":
			return query.NewExecError(query.KindInvalidQuery, err)
		case "notFound":
			return query.NewExecError(query.KindNotFound, err)
		case "accessDenied":
			return query.NewExecError(query.KindPermissionDenied, err)
		case "duplicate":
			return query.NewExecError(query.KindConflict, err)
		}
	}
	return query.NewExecError(query.KindUnexpected, err)
}

type clientRunner struct {
	client *bq.Client
}

func (c *clientRunner) Run(ctx context.Context, sqlText string, params []bq.QueryParameter) (rowReader, error) {
	q := c.client.Query(sqlText)
	q.Parameters = params
	it, err := q.Read(ctx)
	if err != nil {
		return nil, err
	}
	return &iteratorReader{it: it}, nil
}

func (c *clientRunner) Close() error {
	return c.client.Close()
}

type iteratorReader struct {
	it *bq.RowIterator
}

func (r *iteratorReader) Next(dst *[]bq.Value) error {
	return r.it.Next(dst)
}

// Columns is only populated once the first page has been fetched.
func (r *iteratorReader) Columns() []string {
	columns := make([]string, 0, len(r.it.Schema))
	for _, field := range r.it.Schema {
		columns = append(columns, field.Name)
	}
	return columns
}
