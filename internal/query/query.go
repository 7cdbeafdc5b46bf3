package query

import (
	"context"
	"time"
)

// TableFile backs a table with an object store key. Only engines that read
// snapshots from object storage use it.
type TableFile struct {
	TableName  string
	ObjectPath string
}

// Param is a named value bound as @Name in the SQL text.
type Param struct {
	Name  string
	Value any
}

type Request struct {
	SQL      string
	Params   []Param
	RowLimit int
	Files    []TableFile
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}
