package storage

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"time"
)

var ErrInvalidPath = errors.New("invalid object path")

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildReportPath lays archived runs out by UTC day:
// reports/YYYY/MM/DD/<run id>.parquet.
func BuildReportPath(runID string, createdAt time.Time) (string, error) {
	if err := validatePathComponent(runID, "run id"); err != nil {
		return "", err
	}
	ts := createdAt.UTC()
	return path.Join(
		"reports",
		fmt.Sprintf("%04d", ts.Year()),
		fmt.Sprintf("%02d", ts.Month()),
		fmt.Sprintf("%02d", ts.Day()),
		runID+".parquet",
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("%w: %s %q", ErrInvalidPath, field, value)
	}
	return nil
}
