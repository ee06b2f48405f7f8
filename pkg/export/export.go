// Package export collects pipeline results as they finish, in any order,
// and writes them as one row per input position.
//
// Finalize pads positions that never received a result with "missing" rows,
// so the artifact always has exactly max(index) rows. The artifact is written
// atomically; when the destination cannot be replaced the rows go to a
// uniquely named sibling instead.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/v-overkovskiy/Uni-Horoshop-sub001/internal/fsx"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/pipeline"
)

var (
	exportRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "descgen_export_rows_total",
		Help: "Rows written by the exporter, by status",
	}, []string{"status"})

	exportFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "descgen_export_fallbacks_total",
		Help: "Exports written to a fallback file because the destination could not be replaced",
	})
)

var (
	// ErrNoResults is returned by Finalize when there is no row to write.
	ErrNoResults = errors.New("no results to export")

	// ErrInvalidIndex is returned by Add for a non-positive input index.
	ErrInvalidIndex = errors.New("input index must be >= 1")
)

// Format is the artifact encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// FormatFor picks the format from the file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (want .csv or .json)", filepath.Ext(path))
	}
}

// Outcome describes a finalized export.
type Outcome struct {
	WrittenRows int    `json:"written_rows"`
	Location    string `json:"location"`
	Fallback    bool   `json:"fallback"`
}

// Exporter accumulates results. Add is safe for concurrent use.
type Exporter struct {
	path    string
	format  Format
	locales []string
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	results  map[int]pipeline.Result
	keys     map[int]string
	expected int
}

// New creates an exporter writing to path. locales fixes the per-locale
// column groups and their order.
func New(path string, locales []string, logger zerolog.Logger) (*Exporter, error) {
	if path == "" {
		return nil, errors.New("export path is required")
	}
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	if len(locales) == 0 {
		return nil, errors.New("at least one locale is required")
	}
	return &Exporter{
		path:    path,
		format:  format,
		locales: append([]string(nil), locales...),
		logger:  logger,
		now:     time.Now,
		results: make(map[int]pipeline.Result),
		keys:    make(map[int]string),
	}, nil
}

// Path returns the destination path.
func (e *Exporter) Path() string {
	return e.path
}

// Add takes ownership of res. A second result for the same index replaces
// the first.
func (e *Exporter) Add(res pipeline.Result) error {
	if res.Index <= 0 {
		return fmt.Errorf("%w (got %d for %s)", ErrInvalidIndex, res.Index, res.Key)
	}
	e.mu.Lock()
	_, dup := e.results[res.Index]
	e.results[res.Index] = res
	e.mu.Unlock()

	if dup {
		e.logger.Warn().Int("index", res.Index).Str("key", res.Key).Msg("Duplicate result for index - replacing")
	}
	return nil
}

// ExpectRows pads the export to at least n rows.
func (e *Exporter) ExpectRows(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n > e.expected {
		e.expected = n
	}
}

// Expect pads the export to cover items and lets missing rows carry their
// keys.
func (e *Exporter) Expect(items []pipeline.WorkItem) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, it := range items {
		if it.Index <= 0 {
			continue
		}
		e.keys[it.Index] = it.Key
		if it.Index > e.expected {
			e.expected = it.Index
		}
	}
}

// Len returns the number of results collected.
func (e *Exporter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.results)
}

// Rows returns the ordered, gap-free rows as Finalize would write them.
func (e *Exporter) Rows() []pipeline.Result {
	e.mu.Lock()
	n := e.expected
	for idx := range e.results {
		if idx > n {
			n = idx
		}
	}
	rows := make([]pipeline.Result, n)
	for i := 1; i <= n; i++ {
		if r, ok := e.results[i]; ok {
			rows[i-1] = r
			continue
		}
		rows[i-1] = pipeline.Result{
			Index:       i,
			Key:         e.keys[i],
			Status:      pipeline.StatusMissing,
			ErrorDetail: "no result for this position",
		}
	}
	e.mu.Unlock()
	return rows
}

// Finalize writes every row and reports where they went. It may be called
// again after more results arrive.
func (e *Exporter) Finalize() (Outcome, error) {
	rows := e.Rows()
	if len(rows) == 0 {
		return Outcome{}, ErrNoResults
	}

	data, err := e.encode(rows)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode export: %w", err)
	}

	out := Outcome{WrittenRows: len(rows), Location: e.path}
	if err := fsx.WriteFileAtomic(e.path, data, 0o644); err != nil {
		fallback, ferr := fallbackPath(e.path, e.now())
		if ferr != nil {
			return Outcome{}, fmt.Errorf("write export %s: %w", e.path, err)
		}
		e.logger.Warn().
			Err(err).
			Str("path", e.path).
			Str("fallback", fallback).
			Msg("Export destination not writable - writing fallback file")
		if werr := fsx.WriteFileAtomic(fallback, data, 0o644); werr != nil {
			return Outcome{}, fmt.Errorf("write export %s: %v; fallback %s: %w", e.path, err, fallback, werr)
		}
		exportFallbacksTotal.Inc()
		out.Location = fallback
		out.Fallback = true
	}

	counts := make(map[pipeline.Status]int)
	for _, r := range rows {
		counts[r.Status]++
		exportRowsTotal.WithLabelValues(string(r.Status)).Inc()
	}
	e.logger.Info().
		Str("path", out.Location).
		Int("rows", out.WrittenRows).
		Int("success", counts[pipeline.StatusSuccess]).
		Int("error", counts[pipeline.StatusError]).
		Int("missing", counts[pipeline.StatusMissing]).
		Bool("fallback", out.Fallback).
		Msg("Export written")
	return out, nil
}

func (e *Exporter) encode(rows []pipeline.Result) ([]byte, error) {
	switch e.format {
	case FormatJSON:
		return encodeJSON(rows, e.locales)
	default:
		return encodeCSV(rows, e.locales)
	}
}

// fallbackPath returns <stem>_<unix><ext> next to path, with a -N suffix
// when that name is taken.
func fallbackPath(path string, now time.Time) (string, error) {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	name := fmt.Sprintf("%s_%d", stem, now.Unix())
	candidate := filepath.Join(dir, name+ext)
	for n := 1; n <= 1000; n++ {
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", name, n, ext))
	}
	return "", fmt.Errorf("no free fallback name for %s", path)
}
