package tracksync

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/JaysonBrenton/mre/internal/config"
)

const (
	reportPrefix     = "track-sync-"
	reportSuffix     = ".md"
	reportTimeLayout = "2006-01-02-15-04-05"

	defaultReportRetentionDays = 30
)

// Report summarizes one track-sync run.
type Report struct {
	ID          string
	StartedAt   time.Time
	Duration    time.Duration
	New         []string
	Updated     []string
	Reactivated []string
	Deactivated []string
	Unchanged   int
}

// ReportRetention reads the report retention window from
// TRACK_SYNC_REPORT_RETENTION_DAYS.
func ReportRetention() time.Duration {
	days := config.GetEnvInt("TRACK_SYNC_REPORT_RETENTION_DAYS", defaultReportRetentionDays)
	if days <= 0 {
		days = defaultReportRetentionDays
	}

	return time.Duration(days) * 24 * time.Hour
}

// Filename is the report's on-disk name, derived from its start time.
func (r *Report) Filename() string {
	return reportPrefix + r.StartedAt.Format(reportTimeLayout) + reportSuffix
}

// Markdown renders the report.
func (r *Report) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Track Sync Report\n\n")
	fmt.Fprintf(&b, "- Report ID: %s\n", r.ID)
	fmt.Fprintf(&b, "- Started: %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Duration: %s\n\n", r.Duration.Round(time.Millisecond))

	fmt.Fprintf(&b, "## Summary\n\n")
	fmt.Fprintf(&b, "| Change | Count |\n|---|---|\n")
	fmt.Fprintf(&b, "| New | %d |\n", len(r.New))
	fmt.Fprintf(&b, "| Updated | %d |\n", len(r.Updated))
	fmt.Fprintf(&b, "| Reactivated | %d |\n", len(r.Reactivated))
	fmt.Fprintf(&b, "| Deactivated | %d |\n", len(r.Deactivated))
	fmt.Fprintf(&b, "| Unchanged | %d |\n", r.Unchanged)

	writeChangeList(&b, "New Tracks", r.New)
	writeChangeList(&b, "Updated Tracks", r.Updated)
	writeChangeList(&b, "Reactivated Tracks", r.Reactivated)
	writeChangeList(&b, "Deactivated Tracks", r.Deactivated)

	return b.String()
}

func writeChangeList(b *strings.Builder, heading string, slugs []string) {
	if len(slugs) == 0 {
		return
	}

	sorted := append([]string(nil), slugs...)
	sort.Strings(sorted)

	fmt.Fprintf(b, "\n## %s\n\n", heading)

	for _, slug := range sorted {
		fmt.Fprintf(b, "- %s\n", slug)
	}
}

// Write renders the report into dir, creating it if needed, and
// returns the file path.
func (r *Report) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	path := filepath.Join(dir, r.Filename())

	if err := os.WriteFile(path, []byte(r.Markdown()), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}

	return path, nil
}

// PruneReports removes report files older than the retention window,
// judged by the timestamp embedded in the filename. Files that do not
// match the report naming scheme are left alone.
func PruneReports(dir string, retention time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("reading report directory: %w", err)
	}

	cutoff := time.Now().UTC().Add(-retention)
	pruned := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		stamp, ok := reportTimestamp(entry.Name())
		if !ok || !stamp.Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return pruned, fmt.Errorf("removing stale report %s: %w", entry.Name(), err)
		}

		pruned++
	}

	return pruned, nil
}

// reportTimestamp recovers the start time embedded in a report
// filename; ok is false for names outside the scheme.
func reportTimestamp(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, reportPrefix) || !strings.HasSuffix(name, reportSuffix) {
		return time.Time{}, false
	}

	raw := strings.TrimSuffix(strings.TrimPrefix(name, reportPrefix), reportSuffix)

	stamp, err := time.Parse(reportTimeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}

	return stamp, true
}
