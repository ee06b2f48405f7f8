// Package pipeline drives work items through fetch, extraction,
// budget-gated generation and validation.
//
// Each item runs in its own task behind the item gate; generation calls from
// all items share the call gate. An item's failure, including a panic, is
// turned into an error Result and never stops its siblings. Only fatal
// errors (progress store or sink failures) end a run early.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/budget"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/content"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/fetcher"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/gate"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/progress"
)

var (
	// ErrBudgetExhausted marks a locale whose generation was skipped because
	// the item's budget refused the call.
	ErrBudgetExhausted = errors.New("call budget exhausted")

	errInterrupted = errors.New("item interrupted")
)

// Config configures the orchestrator.
type Config struct {
	// Locales are processed per item. The first locale is fetched from the
	// item key itself.
	Locales []string `yaml:"locales"`

	// LocalePrefixes maps every locale after the first to the path prefix
	// of its page, see fetcher.LocalePair.
	LocalePrefixes map[string]string `yaml:"locale_prefixes"`

	// ConcurrentItems bounds items in flight.
	ConcurrentItems int `yaml:"concurrent_items"`

	// ConcurrentCalls bounds generation calls in flight across all items.
	ConcurrentCalls int `yaml:"concurrent_calls"`

	// CallTimeout bounds one generate or repair call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// RepairKind is passed to Generator.Repair.
	RepairKind string `yaml:"repair_kind"`

	// SkipFailed keeps pairs that failed in a previous run out of this run.
	SkipFailed bool `yaml:"skip_failed"`

	// ProgressEvery logs run progress every N finished items (0 disables).
	ProgressEvery int `yaml:"progress_every"`
}

// DefaultConfig returns the Ukrainian + Russian storefront setup.
func DefaultConfig() Config {
	return Config{
		Locales:         []string{"ua", "ru"},
		LocalePrefixes:  map[string]string{"ru": fetcher.DefaultSecondaryPrefix},
		ConcurrentItems: 8,
		ConcurrentCalls: 16,
		CallTimeout:     60 * time.Second,
		RepairKind:      "short",
		ProgressEvery:   10,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Locales) == 0 {
		return errors.New("at least one locale is required")
	}
	seen := make(map[string]bool, len(c.Locales))
	for i, loc := range c.Locales {
		if strings.TrimSpace(loc) == "" {
			return fmt.Errorf("locale %d is empty", i+1)
		}
		if seen[loc] {
			return fmt.Errorf("duplicate locale %q", loc)
		}
		seen[loc] = true
		if i > 0 && !strings.HasPrefix(c.LocalePrefixes[loc], "/") {
			return fmt.Errorf("locale %q needs a path prefix starting with /", loc)
		}
	}
	if c.ConcurrentItems <= 0 {
		return fmt.Errorf("concurrent_items must be > 0 (got %d)", c.ConcurrentItems)
	}
	if c.ConcurrentCalls <= 0 {
		return fmt.Errorf("concurrent_calls must be > 0 (got %d)", c.ConcurrentCalls)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be > 0 (got %v)", c.CallTimeout)
	}
	if c.ProgressEvery < 0 {
		return fmt.Errorf("progress_every must be >= 0 (got %d)", c.ProgressEvery)
	}
	return nil
}

// Deps are the components an orchestrator composes. Fetcher, Extractor,
// Generator and Progress are required. Budget and Gates are built from the
// defaults and Config when nil; a nil Validator skips validation.
type Deps struct {
	Fetcher   Fetcher
	Extractor Extractor
	Generator Generator
	Validator Validator
	Budget    *budget.Controller
	Gates     *gate.Gates
	Progress  progress.Store
	Logger    zerolog.Logger
}

// Orchestrator runs items through the pipeline. One orchestrator serves one
// run at a time.
type Orchestrator struct {
	cfg       Config
	fetcher   Fetcher
	extractor Extractor
	generator Generator
	validator Validator
	budget    *budget.Controller
	gates     *gate.Gates
	progress  progress.Store
	logger    zerolog.Logger
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Generator == nil:
		return nil, errors.New("generator is required")
	case deps.Progress == nil:
		return nil, errors.New("progress store is required")
	}

	o := &Orchestrator{
		cfg:       cfg,
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		generator: deps.Generator,
		validator: deps.Validator,
		budget:    deps.Budget,
		gates:     deps.Gates,
		progress:  deps.Progress,
		logger:    deps.Logger,
	}

	var err error
	if o.budget == nil {
		if o.budget, err = budget.New(budget.DefaultLimits(), deps.Logger); err != nil {
			return nil, err
		}
	}
	if o.gates == nil {
		if o.gates, err = gate.NewGates(cfg.ConcurrentItems, cfg.ConcurrentCalls, deps.Logger); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Budget returns the budget controller in use.
func (o *Orchestrator) Budget() *budget.Controller {
	return o.budget
}

// Run processes items and hands every finished item to sink exactly once.
// Per-item failures are reported in results and in the Report; the returned
// error is non-nil only for fatal failures. When ctx is canceled, items not
// finished yet get no result and count as missing.
func (o *Orchestrator) Run(ctx context.Context, items []WorkItem, sink Sink) (*Report, error) {
	rep := newReport(len(items))
	o.warnDuplicates(items)
	o.logger.Info().
		Str("run_id", rep.RunID).
		Int("items", len(items)).
		Strs("locales", o.cfg.Locales).
		Int("concurrent_items", o.gates.Items.Capacity()).
		Int("concurrent_calls", o.gates.Calls.Capacity()).
		Msg("Run started")

	t := &tally{rep: rep, every: o.cfg.ProgressEvery, logger: o.logger}
	g, gctx := errgroup.WithContext(ctx)

	last := make(map[string]*occurrence, len(items))
	for _, item := range items {
		if err := o.gates.AcquireItem(gctx); err != nil {
			break
		}
		prev := last[item.Key]
		cur := &occurrence{done: make(chan struct{})}
		last[item.Key] = cur

		g.Go(func() error {
			defer o.gates.ReleaseItem()
			defer close(cur.done)

			res, err := o.runOccurrence(gctx, item, prev)
			if errors.Is(err, errInterrupted) {
				return nil
			}
			if err != nil {
				return err
			}
			cur.res, cur.ok = res, true
			if err := sink.Add(res); err != nil {
				return fmt.Errorf("hand off item %d: %w", item.Index, err)
			}
			t.add(res)
			return nil
		})
	}

	err := g.Wait()

	rep.FinishedAt = time.Now()
	rep.DurationSeconds = rep.FinishedAt.Sub(rep.StartedAt).Seconds()
	rep.Missing = rep.Items - rep.Success - rep.Error
	rep.Interrupted = ctx.Err() != nil
	rep.Budget = o.budget.Stats()
	if st, serr := o.progress.Stats(context.WithoutCancel(ctx)); serr == nil {
		rep.Progress = st
	} else {
		o.logger.Warn().Err(serr).Msg("Could not read progress stats")
	}

	ev := o.logger.Info()
	if err != nil {
		ev = o.logger.Error().Err(err)
	}
	ev.Str("run_id", rep.RunID).
		Int("success", rep.Success).
		Int("error", rep.Error).
		Int("missing", rep.Missing).
		Int("degraded", rep.Degraded).
		Int("resumed", rep.Resumed).
		Bool("interrupted", rep.Interrupted).
		Float64("duration_seconds", rep.DurationSeconds).
		Msg("Run finished")

	return rep, err
}

func (o *Orchestrator) warnDuplicates(items []WorkItem) {
	seen := make(map[string]int, len(items))
	for _, it := range items {
		if first, ok := seen[it.Key]; ok {
			o.logger.Warn().
				Str("key", it.Key).
				Int("index", it.Index).
				Int("first_index", first).
				Msg("Duplicate key - it reuses the outcome of the first occurrence")
			continue
		}
		seen[it.Key] = it.Index
	}
}

// occurrence links the occurrences of one key in input order. A later one
// waits for done and then reuses res when ok.
type occurrence struct {
	done chan struct{}
	res  Result
	ok   bool
}

// runOccurrence processes the first occurrence of a key. A duplicate waits
// for the one before it, so exactly one task works on a pair at a time, and
// copies its outcome. The earlier occurrence already holds an item slot, so
// the wait always ends.
func (o *Orchestrator) runOccurrence(ctx context.Context, item WorkItem, prev *occurrence) (Result, error) {
	if prev == nil {
		return o.runItem(ctx, item)
	}
	start := time.Now()
	select {
	case <-prev.done:
	case <-ctx.Done():
		return Result{}, errInterrupted
	}
	if !prev.ok {
		return o.runItem(ctx, item)
	}

	res := prev.res
	res.Index = item.Index
	res.Resumed = true
	res.Locales = make([]LocaleContent, len(prev.res.Locales))
	for i, lc := range prev.res.Locales {
		lc.Resumed = true
		res.Locales[i] = lc
	}
	res.FinishedAt = time.Now()
	res.Duration = res.FinishedAt.Sub(start)

	o.logger.Debug().
		Int("index", item.Index).
		Str("key", item.Key).
		Int("first_index", prev.res.Index).
		Msg("Duplicate key - reusing the earlier outcome")
	return res, nil
}

// runItem converts a panic anywhere in the item into an error result.
func (o *Orchestrator) runItem(ctx context.Context, item WorkItem) (res Result, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Int("index", item.Index).
				Str("key", item.Key).
				Interface("panic", r).
				Msg("Item task panicked")
			stageFailuresTotal.WithLabelValues(string(StagePanic)).Inc()
			now := time.Now()
			res = Result{
				Index:       item.Index,
				Key:         item.Key,
				Status:      StatusError,
				FailedStage: StagePanic,
				ErrorDetail: fmt.Sprintf("panic: %v", r),
				Duration:    now.Sub(start),
				FinishedAt:  now,
			}
			err = nil
		}
	}()
	return o.processItem(ctx, item, start)
}

func (o *Orchestrator) processItem(ctx context.Context, item WorkItem, start time.Time) (Result, error) {
	logger := o.logger.With().Int("index", item.Index).Str("key", item.Key).Logger()
	res := Result{Index: item.Index, Key: item.Key}
	locales := make([]LocaleContent, len(o.cfg.Locales))

	// Progress writes must not be lost to a cancellation that arrives after
	// the work they record has finished.
	pctx := context.WithoutCancel(ctx)

	var (
		todo  []int
		spent *budget.ItemStats
	)
	for i, loc := range o.cfg.Locales {
		lc, s, done, err := o.resume(pctx, item.Key, loc)
		if err != nil {
			return res, err
		}
		if s != nil && (spent == nil || s.TotalCalls > spent.TotalCalls) {
			spent = s
		}
		if done {
			locales[i] = lc
			continue
		}
		todo = append(todo, i)
	}
	if spent != nil && spent.TotalCalls > 0 {
		spent.ItemID = item.Key
		o.budget.Restore(*spent)
	}
	if len(todo) == 0 {
		res.Resumed = true
		logger.Debug().Msg("All locales already processed - skipping")
		return o.finish(res, locales, start), nil
	}

	if ctx.Err() != nil {
		return res, errInterrupted
	}
	for _, i := range todo {
		if err := o.progress.MarkPending(pctx, item.Key, o.cfg.Locales[i], "started"); err != nil {
			return res, progressError("mark pending", err)
		}
	}

	// Fetching
	keys := make([]string, len(todo))
	for n, i := range todo {
		k, err := o.localeKey(item.Key, i)
		if err != nil {
			return o.fail(ctx, res, locales, todo, &StageError{Stage: StageFetch, Locale: o.cfg.Locales[i], Err: err}, start)
		}
		keys[n] = k
		locales[i] = LocaleContent{Locale: o.cfg.Locales[i], Key: k}
	}
	fetched := o.fetch(ctx, keys)
	if ctx.Err() != nil {
		return res, errInterrupted
	}

	// Transforming
	facts := make(map[int]content.Facts, len(todo))
	var fetchErrs []error
	for n, i := range todo {
		loc := o.cfg.Locales[i]
		r := fetched[n]
		if !r.OK() {
			fetchErrs = append(fetchErrs, &StageError{Stage: StageFetch, Locale: loc, Err: r.Error()})
			continue
		}
		f, err := o.extractor.Extract(ctx, r.Payload, keys[n], loc)
		if err != nil {
			return o.fail(ctx, res, locales, todo, &StageError{Stage: StageTransform, Locale: loc, Err: err}, start)
		}
		facts[i] = f
	}

	if len(facts) == 0 && !hasContent(locales) {
		return o.fail(ctx, res, locales, todo, &StageError{Stage: StageFetch, Err: errors.Join(fetchErrs...)}, start)
	}

	// A single failed leg degrades its locale only.
	for _, ferr := range fetchErrs {
		var serr *StageError
		errors.As(ferr, &serr)
		i := o.localeIndex(serr.Locale)
		locales[i].Degraded = true
		locales[i].Error = serr.Error()
		stageFailuresTotal.WithLabelValues(string(StageFetch)).Inc()
		localesTotal.WithLabelValues("failed").Inc()
		logger.Warn().Str("locale", serr.Locale).Err(serr.Err).Msg("Locale page fetch failed - continuing with the other locales")
		if err := o.progress.MarkFailed(pctx, item.Key, serr.Locale, serr.Error()); err != nil {
			return res, progressError("mark failed", err)
		}
	}

	// BudgetCheck, Generating and Validating run per locale.
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		panics []any
	)
	for i, f := range facts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					panics = append(panics, r)
					mu.Unlock()
				}
			}()
			locales[i] = o.produce(ctx, logger, item.Key, locales[i], f)
		}()
	}
	wg.Wait()
	if len(panics) > 0 {
		panic(panics[0])
	}
	if ctx.Err() != nil {
		return res, errInterrupted
	}

	spentNow := o.budget.ItemStats(item.Key)
	for i := range facts {
		summary, err := json.Marshal(storedLocale{LocaleContent: locales[i], Budget: &spentNow})
		if err != nil {
			return res, fmt.Errorf("encode summary for %s: %w", o.cfg.Locales[i], err)
		}
		if err := o.progress.MarkProcessed(pctx, item.Key, o.cfg.Locales[i], summary); err != nil {
			return res, progressError("mark processed", err)
		}
	}

	res = o.finish(res, locales, start)
	logger.Info().
		Str("status", string(res.Status)).
		Bool("degraded", res.Degraded).
		Int("calls", res.Budget.TotalCalls).
		Dur("duration", res.Duration).
		Msg("Item finished")
	return res, nil
}

// storedLocale is the progress summary of a processed pair. It carries the
// item's budget ledger at the time, so a resumed item reports and keeps
// counting the calls already spent on it.
type storedLocale struct {
	LocaleContent
	Budget *budget.ItemStats `json:"budget,omitempty"`
}

// resume returns the stored outcome of a pair when it does not need work,
// plus the budget ledger stored with it, if any.
func (o *Orchestrator) resume(ctx context.Context, key, locale string) (LocaleContent, *budget.ItemStats, bool, error) {
	rec, err := o.progress.Get(ctx, key, locale)
	if errors.Is(err, progress.ErrNotFound) {
		return LocaleContent{}, nil, false, nil
	}
	if err != nil {
		return LocaleContent{}, nil, false, progressError("get", err)
	}

	switch rec.Status {
	case progress.StatusProcessed:
		var sl storedLocale
		if len(rec.Summary) == 0 || json.Unmarshal(rec.Summary, &sl) != nil {
			o.logger.Warn().
				Str("key", key).
				Str("locale", locale).
				Msg("Stored summary unreadable - reprocessing")
			return LocaleContent{}, nil, false, nil
		}
		lc := sl.LocaleContent
		lc.Locale = locale
		lc.Resumed = true
		localesTotal.WithLabelValues("resumed").Inc()
		return lc, sl.Budget, true, nil
	case progress.StatusFailed:
		if o.cfg.SkipFailed {
			localesTotal.WithLabelValues("skipped").Inc()
			return LocaleContent{Locale: locale, Degraded: true, Error: rec.Reason, Resumed: true}, nil, true, nil
		}
	}
	return LocaleContent{}, nil, false, nil
}

func (o *Orchestrator) localeKey(key string, i int) (string, error) {
	if i == 0 {
		return key, nil
	}
	return fetcher.LocalePair(key, o.cfg.LocalePrefixes[o.cfg.Locales[i]])
}

func (o *Orchestrator) localeIndex(locale string) int {
	for i, loc := range o.cfg.Locales {
		if loc == locale {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) fetch(ctx context.Context, keys []string) []fetcher.Result {
	switch len(keys) {
	case 1:
		return []fetcher.Result{o.fetcher.Fetch(ctx, keys[0])}
	case 2:
		a, b := o.fetcher.FetchPair(ctx, keys[0], keys[1])
		return []fetcher.Result{a, b}
	}
	return o.fetcher.FetchBatch(ctx, keys)
}

// produce generates, falls back and validates one locale.
func (o *Orchestrator) produce(ctx context.Context, logger zerolog.Logger, itemKey string, lc LocaleContent, facts content.Facts) LocaleContent {
	c, stage, err := o.generateContent(ctx, logger, itemKey, lc.Locale, facts)
	if err != nil {
		c = content.FromFacts(facts)
		lc.Degraded = true
		lc.Error = (&StageError{Stage: stage, Locale: lc.Locale, Err: err}).Error()
		localesTotal.WithLabelValues("degraded").Inc()
		logger.Warn().
			Str("locale", lc.Locale).
			Str("stage", string(stage)).
			Err(err).
			Msg("Locale degraded to extracted facts")
	} else {
		localesTotal.WithLabelValues(string(c.Source)).Inc()
	}

	lc.Title, lc.Body, lc.Source = c.Title, c.Body, c.Source
	lc.Valid = true
	if o.validator != nil {
		lc.Issues = o.validator.Validate(ctx, c, lc.Locale)
		lc.Valid = !content.HasErrors(lc.Issues)
		if !lc.Valid {
			stageFailuresTotal.WithLabelValues(string(StageValidate)).Inc()
		}
	}
	return lc
}

// generateContent reserves budget before each call so that concurrent
// locales of one item can never exceed its caps.
func (o *Orchestrator) generateContent(ctx context.Context, logger zerolog.Logger, itemKey, locale string, facts content.Facts) (content.Content, Stage, error) {
	if !o.budget.CanCall(itemKey, budget.Generate, locale) || !o.budget.RecordCall(itemKey, budget.Generate, locale) {
		stageFailuresTotal.WithLabelValues(string(StageBudget)).Inc()
		return content.Content{}, StageBudget, ErrBudgetExhausted
	}

	c, genErr := o.call(ctx, func(cctx context.Context) (content.Content, error) {
		return o.generator.Generate(cctx, facts, locale)
	})
	if genErr == nil {
		c.Source = content.SourceGenerated
		return c, "", nil
	}
	stageFailuresTotal.WithLabelValues(string(StageGenerate)).Inc()
	if ctx.Err() != nil {
		return content.Content{}, StageGenerate, genErr
	}

	if !o.budget.RecordCall(itemKey, budget.Repair, locale) {
		return content.Content{}, StageGenerate, genErr
	}
	logger.Warn().Str("locale", locale).Err(genErr).Msg("Generation failed - trying repair")

	c, err := o.call(ctx, func(cctx context.Context) (content.Content, error) {
		return o.generator.Repair(cctx, facts, locale, o.cfg.RepairKind)
	})
	if err != nil {
		stageFailuresTotal.WithLabelValues(string(StageRepair)).Inc()
		return content.Content{}, StageRepair, fmt.Errorf("%v; repair: %w", genErr, err)
	}
	c.Source = content.SourceRepaired
	return c, "", nil
}

// call runs fn with a call-gate slot and the per-call timeout.
func (o *Orchestrator) call(ctx context.Context, fn func(context.Context) (content.Content, error)) (content.Content, error) {
	var c content.Content
	err := o.gates.Calls.Do(ctx, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
		var err error
		c, err = fn(cctx)
		return err
	})
	return c, err
}

// fail ends the item in the error state and records every pair it owned as
// failed.
func (o *Orchestrator) fail(ctx context.Context, res Result, locales []LocaleContent, todo []int, serr *StageError, start time.Time) (Result, error) {
	if ctx.Err() != nil {
		return res, errInterrupted
	}
	detail := strings.ReplaceAll(serr.Error(), "\n", "; ")
	stageFailuresTotal.WithLabelValues(string(serr.Stage)).Inc()
	o.budget.BlockItem(res.Key, string(serr.Stage)+" failed")

	pctx := context.WithoutCancel(ctx)
	for _, i := range todo {
		loc := o.cfg.Locales[i]
		locales[i].Locale = loc
		locales[i].Error = detail
		localesTotal.WithLabelValues("failed").Inc()
		if err := o.progress.MarkFailed(pctx, res.Key, loc, detail); err != nil {
			return res, progressError("mark failed", err)
		}
	}

	res = o.finish(res, locales, start)
	res.Status = StatusError
	res.FailedStage = serr.Stage
	res.ErrorDetail = detail

	o.logger.Error().
		Int("index", res.Index).
		Str("key", res.Key).
		Str("stage", string(serr.Stage)).
		Str("error", detail).
		Msg("Item failed")
	return res, nil
}

// finish fills the derived fields of a result.
func (o *Orchestrator) finish(res Result, locales []LocaleContent, start time.Time) Result {
	res.Locales = locales
	res.Status = StatusSuccess
	resumed := len(locales) > 0
	for _, lc := range locales {
		if lc.Degraded {
			res.Degraded = true
		}
		if !lc.Resumed {
			resumed = false
		}
	}
	res.Resumed = resumed

	// Everything skipped from failed pairs: report the stored reasons.
	if !hasContent(locales) {
		var reasons []string
		for _, lc := range locales {
			if lc.Error != "" {
				reasons = append(reasons, lc.Error)
			}
		}
		if len(reasons) > 0 {
			res.Status = StatusError
			res.ErrorDetail = strings.Join(reasons, "; ")
		}
	}

	res.Budget = o.budget.ItemStats(res.Key)
	res.FinishedAt = time.Now()
	res.Duration = res.FinishedAt.Sub(start)
	return res
}

func hasContent(locales []LocaleContent) bool {
	for _, lc := range locales {
		if lc.Title != "" || lc.Body != "" {
			return true
		}
	}
	return false
}

func progressError(op string, err error) error {
	return fmt.Errorf("progress store %s: %w", op, err)
}

// tally accumulates finished items into the report.
type tally struct {
	mu     sync.Mutex
	rep    *Report
	every  int
	done   int
	logger zerolog.Logger
}

func (t *tally) add(res Result) {
	itemsTotal.WithLabelValues(string(res.Status)).Inc()
	itemDuration.Observe(res.Duration.Seconds())

	t.mu.Lock()
	t.rep.record(res)
	t.done++
	done, total := t.done, t.rep.Items
	success, failed := t.rep.Success, t.rep.Error
	elapsed := time.Since(t.rep.StartedAt)
	t.mu.Unlock()

	if t.every <= 0 || (done%t.every != 0 && done != total) {
		return
	}
	rate := float64(done) / elapsed.Seconds()
	ev := t.logger.Info().
		Int("done", done).
		Int("total", total).
		Int("success", success).
		Int("error", failed).
		Float64("items_per_second", rate)
	if rate > 0 && done < total {
		ev = ev.Dur("eta", time.Duration(float64(total-done)/rate*float64(time.Second)))
	}
	ev.Msg("Progress")
}
