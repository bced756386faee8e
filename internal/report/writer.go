// Package report implements the CSV report writer (spec.md §4.H, §6.1-6.2):
// on session finalization it serializes the persisted results to a
// canonical, never-rewritten-in-place CSV file under a deterministic path.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// header is the fixed CSV schema spec.md §4.H mandates.
var header = []string{
	"Item No", "Item Name", "Result", "Measured Value",
	"Min Limit", "Max Limit", "Error Message", "Execution Time (ms)", "Test Time",
}

// sanitizeChars are replaced with "_" in serial numbers per spec.md §6.2.
var sanitizeChars = []string{" ", "/", "\\", ":", "*", "?", "\"", "<", ">", "|"}

// Session is the subset of session state the report needs, kept narrow so
// this package doesn't import internal/session (report is a leaf the
// session engine calls, not the other way around).
type Session struct {
	ID           string
	SerialNumber string
	ProjectName  string
	StationName  string
	EndedAt      time.Time
}

// Result is the subset of a persisted TestResult the report writer emits.
type Result struct {
	ItemNo              int
	ItemName            string
	Result              string
	MeasuredValue       string
	LowerLimit          *float64
	UpperLimit          *float64
	ErrorMessage        string
	ExecutionDurationMs int64
	StartedAt           time.Time
}

// Writer produces the canonical CSV report for a terminated session.
type Writer struct {
	root   string
	home   string
	logger *slog.Logger
}

// New builds a Writer rooted at reportRoot, falling back to a directory
// under the user's home when reportRoot is not writable (spec.md §4.H).
func New(reportRoot string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}

	home, _ := os.UserHomeDir()

	return &Writer{root: reportRoot, home: home, logger: logger}
}

// Sanitize replaces every character spec.md §6.2 names with "_".
func Sanitize(s string) string {
	out := s
	for _, c := range sanitizeChars {
		out = strings.ReplaceAll(out, c, "_")
	}

	return out
}

// Path computes the canonical report path for sess under root (spec.md §6.2):
// <report-root>/<project_name>/<station_name>/YYYYMMDD/<sanitized_serial>_YYYYMMDD_HHMMSS.csv.
func Path(root string, sess Session) string {
	day := sess.EndedAt.Format("20060102")
	stamp := sess.EndedAt.Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s.csv", Sanitize(sess.SerialNumber), stamp)

	return filepath.Join(root, Sanitize(sess.ProjectName), Sanitize(sess.StationName), day, filename)
}

// Write serializes results to sess's canonical CSV path in the order given
// (the session engine passes them in item_no order)
// and returns the path actually used (which may be the home-relative
// fallback). Report failure is the caller's to log; Write itself never
// downgrades a session's terminal status (spec.md §4.G.3 step 3).
func (w *Writer) Write(sess Session, results []Result) (string, error) {
	path := Path(w.root, sess)

	if err := w.writeAt(path, results); err != nil {
		if w.home == "" {
			return "", fmt.Errorf("report: write %s: %w", path, err)
		}

		fallback := Path(filepath.Join(w.home, "test-orchestrator-reports"), sess)

		w.logger.Warn("report: primary path not writable, falling back to home directory",
			slog.String("primary_path", path),
			slog.String("fallback_path", fallback),
			slog.String("error", err.Error()),
		)

		if ferr := w.writeAt(fallback, results); ferr != nil {
			return "", fmt.Errorf("report: fallback write %s: %w", fallback, errors.Join(err, ferr))
		}

		return fallback, nil
	}

	return path, nil
}

// writeAt never rewrites an existing file in place (spec.md §4.H): a
// colliding filename (same session twice within one second) gets a
// monotonic numeric suffix instead of O_TRUNC.
func (w *Writer) writeAt(path string, results []Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	path = uniquePath(path)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	cw.UseCRLF = false

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, r := range results {
		if err := cw.Write(row(r)); err != nil {
			return fmt.Errorf("write row %d: %w", r.ItemNo, err)
		}
	}

	cw.Flush()

	return cw.Error()
}

func row(r Result) []string {
	return []string{
		strconv.Itoa(r.ItemNo),
		r.ItemName,
		r.Result,
		r.MeasuredValue,
		limitString(r.LowerLimit),
		limitString(r.UpperLimit),
		r.ErrorMessage,
		strconv.FormatInt(r.ExecutionDurationMs, 10),
		r.StartedAt.UTC().Format("2006-01-02T15:04:05.000000Z"),
	}
}

func limitString(v *float64) string {
	if v == nil {
		return ""
	}

	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// uniquePath appends a monotonic suffix if path already exists, so a
// report is never rewritten in place (spec.md §4.H).
func uniquePath(path string) string {
	if _, err := os.Stat(path); err != nil {
		return path
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)

	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", base, n, ext)
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}
