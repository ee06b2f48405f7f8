package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/v-overkovskiy/Uni-Horoshop-sub001/internal/fsx"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/budget"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/progress"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/ratelimit"
)

// Report summarizes one run. It is produced even when items failed.
type Report struct {
	RunID           string          `json:"run_id"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	DurationSeconds float64         `json:"duration_seconds"`
	Items           int             `json:"items"`
	Success         int             `json:"success"`
	Error           int             `json:"error"`
	Missing         int             `json:"missing"`
	Degraded        int             `json:"degraded"`
	Resumed         int             `json:"resumed"`
	Interrupted     bool            `json:"interrupted"`
	FailuresByStage map[Stage]int   `json:"failures_by_stage"`
	Budget          budget.Stats    `json:"budget"`
	Progress        progress.Stats  `json:"progress"`
	RateLimit       ratelimit.State `json:"rate_limit"`
	Output          string          `json:"output,omitempty"`
	OutputRows      int             `json:"output_rows,omitempty"`
	Fallback        bool            `json:"fallback,omitempty"`
}

func newReport(items int) *Report {
	return &Report{
		RunID:           uuid.NewString(),
		StartedAt:       time.Now(),
		Items:           items,
		FailuresByStage: make(map[Stage]int),
	}
}

func (r *Report) record(res Result) {
	switch res.Status {
	case StatusSuccess:
		r.Success++
	case StatusError:
		r.Error++
		stage := res.FailedStage
		if stage == "" {
			stage = "unknown"
		}
		r.FailuresByStage[stage]++
	}
	if res.Degraded {
		r.Degraded++
	}
	if res.Resumed {
		r.Resumed++
	}
}

// WriteJSON writes the report atomically to path.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := fsx.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Summary renders the report for a terminal.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s finished in %.1fs\n", r.RunID, r.DurationSeconds)
	fmt.Fprintf(&b, "  items:    %d\n", r.Items)
	fmt.Fprintf(&b, "  success:  %d (degraded %d, resumed %d)\n", r.Success, r.Degraded, r.Resumed)
	fmt.Fprintf(&b, "  error:    %d\n", r.Error)
	fmt.Fprintf(&b, "  missing:  %d\n", r.Missing)
	if len(r.FailuresByStage) > 0 {
		stages := make([]string, 0, len(r.FailuresByStage))
		for s := range r.FailuresByStage {
			stages = append(stages, string(s))
		}
		sort.Strings(stages)
		b.WriteString("  failures by stage:\n")
		for _, s := range stages {
			fmt.Fprintf(&b, "    %-10s %d\n", s, r.FailuresByStage[Stage(s)])
		}
	}
	fmt.Fprintf(&b, "  generation calls: %d (denied %d)\n", r.Budget.TotalCalls, r.Budget.TotalDenied)
	fmt.Fprintf(&b, "  progress: %d processed, %d pending, %d failed (%.0f%%)\n",
		r.Progress.Processed, r.Progress.Pending, r.Progress.Failed, r.Progress.CompletionRate*100)
	if r.RateLimit.Throttled > 0 {
		fmt.Fprintf(&b, "  throttled (429): %d\n", r.RateLimit.Throttled)
	}
	if r.Output != "" {
		fmt.Fprintf(&b, "  output:   %s (%d rows)", r.Output, r.OutputRows)
		if r.Fallback {
			b.WriteString(" [fallback]")
		}
		b.WriteString("\n")
	}
	if r.Interrupted {
		b.WriteString("  run was interrupted; rerun to resume\n")
	}
	return b.String()
}
