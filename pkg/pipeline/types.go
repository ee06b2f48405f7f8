package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/budget"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/content"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/fetcher"
)

// WorkItem is one input key at its 1-based input position.
type WorkItem struct {
	Index int    `json:"index"`
	Key   string `json:"key"`
}

// Status is the terminal state of an item.
type Status string

const (
	// StatusSuccess means the item produced content, possibly degraded.
	StatusSuccess Status = "success"

	// StatusError means the item failed and carries an error detail.
	StatusError Status = "error"

	// StatusMissing marks a position for which no result arrived.
	StatusMissing Status = "missing"
)

// Stage names where an item or locale failed.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageTransform Stage = "transform"
	StageBudget    Stage = "budget"
	StageGenerate  Stage = "generate"
	StageRepair    Stage = "repair"
	StageValidate  Stage = "validate"
	StagePanic     Stage = "panic"
)

// StageError attributes an error to a stage and, when known, a locale.
type StageError struct {
	Stage  Stage
	Locale string
	Err    error
}

func (e *StageError) Error() string {
	if e.Locale != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Stage, e.Locale, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// LocaleContent is the outcome for one locale of an item. It is also the
// summary stored in the progress store, so a resumed run can rebuild it
// without fetching.
type LocaleContent struct {
	Locale   string          `json:"locale"`
	Key      string          `json:"key"`
	Title    string          `json:"title,omitempty"`
	Body     string          `json:"body,omitempty"`
	Source   content.Source  `json:"source,omitempty"`
	Valid    bool            `json:"valid"`
	Issues   []content.Issue `json:"issues,omitempty"`
	Degraded bool            `json:"degraded,omitempty"`
	Error    string          `json:"error,omitempty"`
	Resumed  bool            `json:"-"`
}

// Result is the one outcome the orchestrator hands to the sink per item.
// It is not modified after the handoff.
type Result struct {
	Index       int              `json:"index"`
	Key         string           `json:"key"`
	Status      Status           `json:"status"`
	Locales     []LocaleContent  `json:"locales,omitempty"`
	Degraded    bool             `json:"degraded,omitempty"`
	Resumed     bool             `json:"resumed,omitempty"`
	ErrorDetail string           `json:"error_detail,omitempty"`
	FailedStage Stage            `json:"failed_stage,omitempty"`
	Duration    time.Duration    `json:"duration"`
	Budget      budget.ItemStats `json:"budget"`
	FinishedAt  time.Time        `json:"finished_at"`
}

// Locale returns the content for locale, if present.
func (r Result) Locale(locale string) (LocaleContent, bool) {
	for _, lc := range r.Locales {
		if lc.Locale == locale {
			return lc, true
		}
	}
	return LocaleContent{}, false
}

// Fetcher retrieves pages. *fetcher.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, key string) fetcher.Result
	FetchPair(ctx context.Context, primaryKey, secondaryKey string) (fetcher.Result, fetcher.Result)
	FetchBatch(ctx context.Context, keys []string) []fetcher.Result
}

// Extractor turns a page into facts.
type Extractor interface {
	Extract(ctx context.Context, raw []byte, key, locale string) (content.Facts, error)
}

// Generator produces content from facts.
type Generator interface {
	Generate(ctx context.Context, facts content.Facts, locale string) (content.Content, error)
	Repair(ctx context.Context, facts content.Facts, locale, kind string) (content.Content, error)
}

// Validator checks content.
type Validator interface {
	Validate(ctx context.Context, c content.Content, locale string) []content.Issue
}

// Sink receives every finished item exactly once.
type Sink interface {
	Add(Result) error
}
