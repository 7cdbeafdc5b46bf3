package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// SnapshotPath derives the object key of a table snapshot from its fully
// qualified name: "project.dataset.table" maps to "dataset/table.parquet".
func SnapshotPath(qualifiedTable string) (string, error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(qualifiedTable), "`"), ".")
	if len(parts) < 2 {
		return "", fmt.Errorf("table %q must be qualified as dataset.table", qualifiedTable)
	}
	dataset, table := parts[len(parts)-2], parts[len(parts)-1]
	if err := validatePathComponent(dataset, "dataset"); err != nil {
		return "", err
	}
	if err := validatePathComponent(table, "table name"); err != nil {
		return "", err
	}
	return path.Join(dataset, table+".parquet"), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
