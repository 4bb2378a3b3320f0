package reconcile

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Sternrassler/gh-activity-audit/pkg/dates"
)

// ReportHeader is the header row of a report.
var ReportHeader = []string{"org", "repo", "bulk", "remote"}

// ReportFileName returns the report file name for a kind and cutoff.
func ReportFileName(kind string, cutoff time.Time) string {
	return "audit_" + kind + "_" + dates.Format(cutoff) + ".csv"
}

// WriteCSV writes rows as org,repo,bulk,remote. Failed rows carry Failed as remote count.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ReportHeader); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	for _, r := range rows {
		remote := r.RemoteCount
		if r.Err != nil {
			remote = Failed
		}
		record := []string{r.Org, r.Repo, strconv.Itoa(r.BulkCount), strconv.Itoa(remote)}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write report row %s: %w", r.Entity, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteReportFile writes rows to path, creating parent directories.
func WriteReportFile(path string, rows []Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := WriteCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ConsoleLine formats one row for terminal output:
//
//	octo/hello                                         - 2017-05-10 - Bulk:    22, GitHub:    22 -------
func ConsoleLine(r Row, cutoff time.Time) string {
	return fmt.Sprintf("%-50s - %s - Bulk:%6d, GitHub:%6d %s",
		r.Entity.String(), dates.Format(cutoff), r.BulkCount, r.RemoteCount, r.Status())
}
