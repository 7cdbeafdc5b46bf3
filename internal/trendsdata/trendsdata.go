// Package trendsdata reads and writes local snapshots of the trends tables.
package trendsdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// Row is one term/rank/week entry of a trends table. CountryName is empty for
// the US table.
type Row struct {
	Term        string `parquet:"term"`
	Rank        int64  `parquet:"rank"`
	Week        string `parquet:"week"`
	CountryName string `parquet:"country_name"`
}

func WriteParquet(w io.Writer, rows []Row) error {
	writer := parquet.NewGenericWriter[Row](w)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func ReadParquet(r io.ReaderAt, size int64) ([]Row, error) {
	rows, err := parquet.Read[Row](r, size)
	if err != nil {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}
	return rows, nil
}

// ReadCSV parses an export with a header naming at least term, rank and
// week. country_name is optional; other columns are ignored.
func ReadCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv header is required")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := map[string]int{}
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"term", "rank", "week"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("csv header is missing %q", required)
		}
	}
	countryIndex, hasCountry := index["country_name"]

	rows := make([]Row, 0)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		field := func(i int) string {
			if i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}
		rank, err := strconv.ParseInt(field(index["rank"]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: invalid rank: %w", line, err)
		}
		row := Row{
			Term: field(index["term"]),
			Rank: rank,
			Week: field(index["week"]),
		}
		if hasCountry {
			row.CountryName = field(countryIndex)
		}
		if row.Term == "" || row.Week == "" {
			return nil, fmt.Errorf("csv line %d: term and week are required", line)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
