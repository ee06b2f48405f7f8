package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/budget"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/content"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/pipeline"
)

// Header returns the CSV column names for locales.
func Header(locales []string) []string {
	h := []string{"Input_Index", "Status", "Key"}
	for _, loc := range locales {
		p := strings.ToUpper(loc)
		h = append(h, p+"_Title", p+"_Content", p+"_Valid", p+"_Issues")
	}
	return append(h, "Degraded", "Processing_Time", "Errors", "Budget_Stats", "Timestamp")
}

func encodeCSV(rows []pipeline.Result, locales []string) ([]byte, error) {
	var buf bytes.Buffer
	// BOM so spreadsheet tools detect UTF-8 Cyrillic text.
	buf.WriteString("\ufeff")

	w := csv.NewWriter(&buf)
	if err := w.Write(Header(locales)); err != nil {
		return nil, err
	}
	for _, r := range rows {
		rec := []string{strconv.Itoa(r.Index), string(r.Status), r.Key}
		for _, loc := range locales {
			lc, ok := r.Locale(loc)
			if !ok {
				rec = append(rec, "", "", "", "")
				continue
			}
			rec = append(rec, lc.Title, lc.Body, validCell(lc), issuesCell(lc.Issues))
		}
		rec = append(rec,
			strconv.FormatBool(r.Degraded),
			processingTime(r),
			errorsCell(r),
			budgetCell(r.Budget),
			timestamp(r.FinishedAt),
		)
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type jsonLocale struct {
	Title   string          `json:"title"`
	Content string          `json:"content"`
	Source  content.Source  `json:"source,omitempty"`
	Valid   bool            `json:"valid"`
	Issues  []content.Issue `json:"issues,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type jsonRow struct {
	InputIndex     int                   `json:"input_index"`
	Status         pipeline.Status       `json:"status"`
	Key            string                `json:"key"`
	Locales        map[string]jsonLocale `json:"locales,omitempty"`
	Degraded       bool                  `json:"degraded"`
	ProcessingTime float64               `json:"processing_time"`
	Errors         string                `json:"errors,omitempty"`
	Budget         *budget.ItemStats     `json:"budget_stats,omitempty"`
	Timestamp      string                `json:"timestamp,omitempty"`
}

func encodeJSON(rows []pipeline.Result, locales []string) ([]byte, error) {
	out := make([]jsonRow, 0, len(rows))
	for _, r := range rows {
		row := jsonRow{
			InputIndex:     r.Index,
			Status:         r.Status,
			Key:            r.Key,
			Degraded:       r.Degraded,
			ProcessingTime: r.Duration.Seconds(),
			Errors:         errorsCell(r),
			Timestamp:      timestamp(r.FinishedAt),
		}
		if r.Status != pipeline.StatusMissing {
			b := r.Budget
			row.Budget = &b
		}
		for _, loc := range locales {
			lc, ok := r.Locale(loc)
			if !ok {
				continue
			}
			if row.Locales == nil {
				row.Locales = make(map[string]jsonLocale, len(locales))
			}
			row.Locales[loc] = jsonLocale{
				Title:   lc.Title,
				Content: lc.Body,
				Source:  lc.Source,
				Valid:   lc.Valid,
				Issues:  lc.Issues,
				Error:   lc.Error,
			}
		}
		out = append(out, row)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func validCell(lc pipeline.LocaleContent) string {
	if lc.Title == "" && lc.Body == "" {
		return ""
	}
	return strconv.FormatBool(lc.Valid)
}

func issuesCell(issues []content.Issue) string {
	parts := make([]string, len(issues))
	for i, is := range issues {
		parts[i] = is.String()
	}
	return strings.Join(parts, "; ")
}

func errorsCell(r pipeline.Result) string {
	var parts []string
	if r.ErrorDetail != "" {
		parts = append(parts, r.ErrorDetail)
	}
	for _, lc := range r.Locales {
		if lc.Error != "" && !strings.Contains(r.ErrorDetail, lc.Error) {
			parts = append(parts, lc.Error)
		}
	}
	return strings.Join(parts, " | ")
}

func budgetCell(s budget.ItemStats) string {
	if s.TotalCalls == 0 && !s.Blocked {
		return ""
	}
	locs := make([]string, 0, len(s.CallsPerLocale))
	for loc, n := range s.CallsPerLocale {
		locs = append(locs, fmt.Sprintf("%s:%d", loc, n))
	}
	sort.Strings(locs)
	cell := fmt.Sprintf("total=%d generate=[%s] repair=%d", s.TotalCalls, strings.Join(locs, ","), s.RepairCalls)
	if s.Blocked {
		cell += " blocked"
	}
	return cell
}

func processingTime(r pipeline.Result) string {
	if r.Status == pipeline.StatusMissing {
		return ""
	}
	return strconv.FormatFloat(r.Duration.Seconds(), 'f', 2, 64)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
