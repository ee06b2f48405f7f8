package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/budget"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/content"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/fetcher"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/progress"
)

const shop = "https://shop.test/"

// fakeFetcher serves payloads by key. Keys not in pages fail with a 404.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	fail  map[string]fetcher.ErrorKind
	calls map[string]int
	delay time.Duration

	batches int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string]string),
		fail:  make(map[string]fetcher.ErrorKind),
		calls: make(map[string]int),
	}
}

// addProduct serves both locale pages for a product slug.
func (f *fakeFetcher) addProduct(slug, payload string) string {
	f.pages[shop+slug] = payload
	f.pages[shop+"ru/"+slug] = payload
	return shop + slug
}

func (f *fakeFetcher) Fetch(ctx context.Context, key string) fetcher.Result {
	f.mu.Lock()
	f.calls[key]++
	payload, ok := f.pages[key]
	kind, failing := f.fail[key]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return fetcher.Result{Key: key, Err: &fetcher.FetchError{Kind: fetcher.KindCanceled, URL: key, Err: ctx.Err()}}
		case <-time.After(f.delay):
		}
	}
	if failing {
		return fetcher.Result{Key: key, Attempts: 3, Err: &fetcher.FetchError{Kind: kind, URL: key, Err: errors.New("upstream unavailable")}}
	}
	if !ok {
		return fetcher.Result{Key: key, StatusCode: 404, Attempts: 1, Err: &fetcher.FetchError{Kind: fetcher.KindClient, URL: key, StatusCode: 404, Err: errors.New("not found")}}
	}
	return fetcher.Result{Key: key, StatusCode: 200, Attempts: 1, Payload: []byte(payload)}
}

func (f *fakeFetcher) FetchPair(ctx context.Context, primaryKey, secondaryKey string) (fetcher.Result, fetcher.Result) {
	var a, b fetcher.Result
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); a = f.Fetch(ctx, primaryKey) }()
	go func() { defer wg.Done(); b = f.Fetch(ctx, secondaryKey) }()
	wg.Wait()
	return a, b
}

func (f *fakeFetcher) FetchBatch(ctx context.Context, keys []string) []fetcher.Result {
	f.mu.Lock()
	f.batches++
	f.mu.Unlock()
	out := make([]fetcher.Result, len(keys))
	var wg sync.WaitGroup
	for i, k := range keys {
		wg.Add(1)
		go func() { defer wg.Done(); out[i] = f.Fetch(ctx, k) }()
	}
	wg.Wait()
	return out
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// fakeExtractor uses the payload as the title. "broken" fails and "panic"
// panics.
type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, raw []byte, key, locale string) (content.Facts, error) {
	switch string(raw) {
	case "broken":
		return content.Facts{}, errors.New("no product title found")
	case "panic":
		panic("selector exploded")
	}
	return content.Facts{Key: key, Locale: locale, Title: string(raw), Description: "About " + string(raw)}, nil
}

type fakeGenerator struct {
	failGenerate bool
	failRepair   bool
	delay        time.Duration

	generates atomic.Int64
	repairs   atomic.Int64
	inFlight  atomic.Int64
	maxFlight atomic.Int64
}

func (g *fakeGenerator) enter() func() {
	n := g.inFlight.Add(1)
	for {
		m := g.maxFlight.Load()
		if n <= m || g.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	return func() { g.inFlight.Add(-1) }
}

func (g *fakeGenerator) Generate(_ context.Context, f content.Facts, locale string) (content.Content, error) {
	defer g.enter()()
	g.generates.Add(1)
	if g.failGenerate {
		return content.Content{}, errors.New("model overloaded")
	}
	return content.Content{Title: f.Title, Body: fmt.Sprintf("<p>%s: %s</p>", locale, f.Title)}, nil
}

func (g *fakeGenerator) Repair(_ context.Context, f content.Facts, locale, kind string) (content.Content, error) {
	defer g.enter()()
	g.repairs.Add(1)
	if g.failRepair {
		return content.Content{}, errors.New("repair refused")
	}
	return content.Content{Title: f.Title, Body: fmt.Sprintf("<p>%s %s: %s</p>", kind, locale, f.Title)}, nil
}

type sliceSink struct {
	mu      sync.Mutex
	results []Result
	err     error
}

func (s *sliceSink) Add(r Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, r)
	return nil
}

func (s *sliceSink) byIndex() map[int]Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[int]Result, len(s.results))
	for _, r := range s.results {
		m[r.Index] = r
	}
	return m
}

type harness struct {
	fetch    *fakeFetcher
	gen      *fakeGenerator
	progress progress.Store
	limits   budget.Limits
	cfg      Config
}

func newHarness() *harness {
	cfg := DefaultConfig()
	cfg.ProgressEvery = 0
	cfg.CallTimeout = time.Second
	return &harness{
		fetch:    newFakeFetcher(),
		gen:      &fakeGenerator{},
		progress: progress.NewMemoryStore(),
		limits:   budget.Limits{MaxCallsPerItem: 3, MaxCallsPerLocale: 1, MaxRepairCalls: 1},
		cfg:      cfg,
	}
}

func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	b, err := budget.New(h.limits, zerolog.Nop())
	if err != nil {
		t.Fatalf("budget.New() error = %v", err)
	}
	o, err := New(h.cfg, Deps{
		Fetcher:   h.fetch,
		Extractor: fakeExtractor{},
		Generator: h.gen,
		Budget:    b,
		Progress:  h.progress,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func (h *harness) run(t *testing.T, ctx context.Context, keys ...string) (*Report, *sliceSink) {
	t.Helper()
	items := make([]WorkItem, len(keys))
	for i, k := range keys {
		items[i] = WorkItem{Index: i + 1, Key: k}
	}
	sink := &sliceSink{}
	rep, err := h.orchestrator(t).Run(ctx, items, sink)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return rep, sink
}

func TestRun_TransformFailureIsIsolated(t *testing.T) {
	h := newHarness()
	a := h.fetch.addProduct("a", "Kettle")
	b := h.fetch.addProduct("b", "broken")
	c := h.fetch.addProduct("c", "Toaster")

	rep, sink := h.run(t, context.Background(), a, b, c)

	got := sink.byIndex()
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	for _, i := range []int{1, 3} {
		if got[i].Status != StatusSuccess {
			t.Errorf("item %d status = %s, want success", i, got[i].Status)
		}
	}
	if got[2].Status != StatusError || got[2].FailedStage != StageTransform {
		t.Errorf("item 2 = %s/%s, want error/transform", got[2].Status, got[2].FailedStage)
	}
	if !strings.Contains(got[2].ErrorDetail, "no product title") {
		t.Errorf("item 2 error detail = %q", got[2].ErrorDetail)
	}

	if rep.Success != 2 || rep.Error != 1 || rep.Missing != 0 {
		t.Errorf("report = %d/%d/%d, want 2/1/0", rep.Success, rep.Error, rep.Missing)
	}
	if rep.FailuresByStage[StageTransform] != 1 {
		t.Errorf("FailuresByStage = %v", rep.FailuresByStage)
	}

	for _, loc := range h.cfg.Locales {
		rec, err := h.progress.Get(context.Background(), b, loc)
		if err != nil || rec.Status != progress.StatusFailed {
			t.Errorf("progress for b/%s = %+v, %v; want failed", loc, rec, err)
		}
	}
}

func TestRun_GeneratesBothLocales(t *testing.T) {
	h := newHarness()
	a := h.fetch.addProduct("kettle", "Kettle")

	_, sink := h.run(t, context.Background(), a)

	res := sink.byIndex()[1]
	if res.Status != StatusSuccess || res.Degraded {
		t.Fatalf("result = %+v", res)
	}
	for _, loc := range []string{"ua", "ru"} {
		lc, ok := res.Locale(loc)
		if !ok {
			t.Fatalf("locale %s missing", loc)
		}
		if lc.Source != content.SourceGenerated || lc.Body != fmt.Sprintf("<p>%s: Kettle</p>", loc) {
			t.Errorf("locale %s = %+v", loc, lc)
		}
	}
	if lc, _ := res.Locale("ru"); lc.Key != shop+"ru/kettle" {
		t.Errorf("ru key = %q", lc.Key)
	}
	if res.Budget.TotalCalls != 2 {
		t.Errorf("budget calls = %d, want 2", res.Budget.TotalCalls)
	}
	if h.gen.generates.Load() != 2 {
		t.Errorf("generate calls = %d, want 2", h.gen.generates.Load())
	}
}

func TestRun_ThreeLocalesFetchAsBatch(t *testing.T) {
	h := newHarness()
	h.cfg.Locales = []string{"ua", "ru", "en"}
	h.cfg.LocalePrefixes = map[string]string{"ru": "/ru", "en": "/en"}
	a := h.fetch.addProduct("kettle", "Kettle")
	h.fetch.pages[shop+"en/kettle"] = "Kettle"

	_, sink := h.run(t, context.Background(), a)

	if h.fetch.batches != 1 {
		t.Errorf("batch fetches = %d, want 1", h.fetch.batches)
	}
	res := sink.byIndex()[1]
	if res.Status != StatusSuccess || res.Degraded {
		t.Fatalf("result = %+v", res)
	}
	for _, loc := range h.cfg.Locales {
		lc, ok := res.Locale(loc)
		if !ok || lc.Body != fmt.Sprintf("<p>%s: Kettle</p>", loc) {
			t.Errorf("locale %s = %+v", loc, lc)
		}
	}
	if en, _ := res.Locale("en"); en.Key != shop+"en/kettle" {
		t.Errorf("en key = %q", en.Key)
	}
	if res.Budget.TotalCalls != 3 {
		t.Errorf("budget calls = %d, want 3", res.Budget.TotalCalls)
	}
}

func TestRun_DuplicateKeysReuseFirstOutcome(t *testing.T) {
	tests := []struct {
		name   string
		limits budget.Limits
	}{
		{"generated", budget.Limits{MaxCallsPerItem: 3, MaxCallsPerLocale: 1, MaxRepairCalls: 1}},
		{"budget degraded", budget.Limits{MaxCallsPerItem: 1, MaxCallsPerLocale: 1, MaxRepairCalls: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.limits = tt.limits
			h.cfg.ConcurrentItems = 4
			h.gen.delay = 20 * time.Millisecond
			a := h.fetch.addProduct("a", "Kettle")
			b := h.fetch.addProduct("b", "Toaster")

			rep, sink := h.run(t, context.Background(), a, b, a, a)

			got := sink.byIndex()
			if len(got) != 4 {
				t.Fatalf("got %d results, want 4", len(got))
			}
			for _, i := range []int{3, 4} {
				assertSameOutcome(t, got[1], got[i])
				if !got[i].Resumed {
					t.Errorf("item %d should be marked resumed", i)
				}
			}
			if h.fetch.calls[a] != 1 {
				t.Errorf("key fetched %d times, want 1", h.fetch.calls[a])
			}
			if rep.Success != 4 {
				t.Errorf("Success = %d, want 4", rep.Success)
			}
		})
	}
}

func TestRun_ResumeSkipsProcessedPairs(t *testing.T) {
	h := newHarness()
	keys := []string{
		h.fetch.addProduct("a", "Kettle"),
		h.fetch.addProduct("b", "Toaster"),
		h.fetch.addProduct("c", "Blender"),
	}

	_, first := h.run(t, context.Background(), keys...)
	fetches := h.fetch.total()
	generates := h.gen.generates.Load()

	rep, second := h.run(t, context.Background(), keys...)

	if h.fetch.total() != fetches {
		t.Errorf("resume fetched %d more pages", h.fetch.total()-fetches)
	}
	if h.gen.generates.Load() != generates {
		t.Errorf("resume made %d more generate calls", h.gen.generates.Load()-generates)
	}
	if rep.Resumed != 3 {
		t.Errorf("Resumed = %d, want 3", rep.Resumed)
	}

	a, b := first.byIndex(), second.byIndex()
	for i := 1; i <= 3; i++ {
		assertSameOutcome(t, a[i], b[i])
		if b[i].Budget.TotalCalls != 2 {
			t.Errorf("item %d resumed budget = %+v, want the 2 calls of the first run", i, b[i].Budget)
		}
	}
}

// assertSameOutcome compares everything an export row is built from.
func assertSameOutcome(t *testing.T, want, got Result) {
	t.Helper()
	if want.Status != got.Status || want.Degraded != got.Degraded || want.ErrorDetail != got.ErrorDetail || want.FailedStage != got.FailedStage {
		t.Errorf("item %d outcome = %s/%v/%q, want %s/%v/%q", got.Index, got.Status, got.Degraded, got.ErrorDetail, want.Status, want.Degraded, want.ErrorDetail)
	}
	if !reflect.DeepEqual(want.Budget, got.Budget) {
		t.Errorf("item %d budget = %+v, want %+v", got.Index, got.Budget, want.Budget)
	}
	if len(want.Locales) != len(got.Locales) {
		t.Fatalf("item %d has %d locales, want %d", got.Index, len(got.Locales), len(want.Locales))
	}
	for j := range want.Locales {
		x, y := want.Locales[j], got.Locales[j]
		x.Resumed, y.Resumed = false, false
		if !reflect.DeepEqual(x, y) {
			t.Errorf("item %d locale %s = %+v, want %+v", got.Index, x.Locale, y, x)
		}
	}
}

func TestRun_ResumeKeepsBudgetOfDegradedItem(t *testing.T) {
	h := newHarness()
	h.limits = budget.Limits{MaxCallsPerItem: 1, MaxCallsPerLocale: 1, MaxRepairCalls: 0}
	a := h.fetch.addProduct("a", "Kettle")

	_, first := h.run(t, context.Background(), a)
	rep, second := h.run(t, context.Background(), a)

	want, got := first.byIndex()[1], second.byIndex()[1]
	if want.Budget.TotalCalls != 1 || !want.Degraded {
		t.Fatalf("first run = %+v, want one call and a degraded locale", want)
	}
	if !got.Resumed {
		t.Fatal("second run should resume the item")
	}
	assertSameOutcome(t, want, got)
	if rep.Budget.TotalCalls != 1 {
		t.Errorf("report budget calls = %d, want the restored call", rep.Budget.TotalCalls)
	}
}

func TestRun_PartialResumeCountsStoredCalls(t *testing.T) {
	h := newHarness()
	h.limits = budget.Limits{MaxCallsPerItem: 1, MaxCallsPerLocale: 1, MaxRepairCalls: 0}
	a := h.fetch.addProduct("a", "Kettle")

	summary := []byte(`{"locale":"ua","key":"https://shop.test/a","title":"Kettle","body":"<p>stored</p>","source":"generated","valid":true,` +
		`"budget":{"item_id":"https://shop.test/a","total_calls":1,"calls_per_locale":{"ua":1},"repair_calls":0,"blocked":false}}`)
	if err := h.progress.MarkProcessed(context.Background(), a, "ua", summary); err != nil {
		t.Fatal(err)
	}

	_, sink := h.run(t, context.Background(), a)

	if h.gen.generates.Load() != 0 {
		t.Errorf("generate calls = %d, want 0 with the item cap already spent", h.gen.generates.Load())
	}
	res := sink.byIndex()[1]
	if ru, _ := res.Locale("ru"); !ru.Degraded || !strings.Contains(ru.Error, ErrBudgetExhausted.Error()) {
		t.Errorf("ru = %+v, want budget degradation", ru)
	}
	if res.Budget.TotalCalls != 1 || res.Budget.CallsPerLocale["ua"] != 1 {
		t.Errorf("budget = %+v, want the stored ua call", res.Budget)
	}
}

func TestRun_ResumeProcessesOnlyMissingLocale(t *testing.T) {
	h := newHarness()
	a := h.fetch.addProduct("a", "Kettle")

	summary := []byte(`{"locale":"ua","key":"https://shop.test/a","title":"Kettle","body":"<p>stored</p>","source":"generated","valid":true}`)
	if err := h.progress.MarkProcessed(context.Background(), a, "ua", summary); err != nil {
		t.Fatal(err)
	}

	_, sink := h.run(t, context.Background(), a)

	if h.fetch.calls[a] != 0 || h.fetch.calls[shop+"ru/a"] != 1 {
		t.Errorf("fetch calls = %v, want only the ru page", h.fetch.calls)
	}
	res := sink.byIndex()[1]
	ua, _ := res.Locale("ua")
	if ua.Body != "<p>stored</p>" || !ua.Resumed {
		t.Errorf("ua = %+v, want stored content", ua)
	}
	ru, _ := res.Locale("ru")
	if ru.Source != content.SourceGenerated {
		t.Errorf("ru = %+v", ru)
	}
	if res.Resumed {
		t.Error("partially resumed item must not count as resumed")
	}
}

func TestRun_BudgetExhaustedDegrades(t *testing.T) {
	h := newHarness()
	h.limits = budget.Limits{MaxCallsPerItem: 1, MaxCallsPerLocale: 1, MaxRepairCalls: 0}
	a := h.fetch.addProduct("a", "Kettle")

	_, sink := h.run(t, context.Background(), a)

	res := sink.byIndex()[1]
	if res.Status != StatusSuccess || !res.Degraded {
		t.Fatalf("status = %s degraded = %v, want degraded success", res.Status, res.Degraded)
	}
	if h.gen.generates.Load() != 1 {
		t.Errorf("generate calls = %d, want 1", h.gen.generates.Load())
	}

	var degraded int
	for _, lc := range res.Locales {
		if lc.Degraded {
			degraded++
			if lc.Source != content.SourceFacts || !strings.Contains(lc.Error, ErrBudgetExhausted.Error()) {
				t.Errorf("degraded locale = %+v", lc)
			}
		}
	}
	if degraded != 1 {
		t.Errorf("degraded locales = %d, want 1", degraded)
	}
	if res.Budget.TotalCalls > 1 {
		t.Errorf("TotalCalls = %d exceeds cap", res.Budget.TotalCalls)
	}
}

func TestRun_RepairFallback(t *testing.T) {
	tests := []struct {
		name         string
		failRepair   bool
		maxRepair    int
		wantSource   content.Source
		wantDegraded bool
		wantRepairs  int64
	}{
		{"repair succeeds", false, 1, content.SourceRepaired, false, 1},
		{"repair fails", true, 1, content.SourceFacts, true, 1},
		{"no repair budget", false, 0, content.SourceFacts, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.cfg.Locales = []string{"ua"}
			h.limits.MaxRepairCalls = tt.maxRepair
			h.gen.failGenerate = true
			h.gen.failRepair = tt.failRepair
			a := h.fetch.addProduct("a", "Kettle")

			_, sink := h.run(t, context.Background(), a)

			res := sink.byIndex()[1]
			if res.Status != StatusSuccess {
				t.Fatalf("status = %s, want success", res.Status)
			}
			lc := res.Locales[0]
			if lc.Source != tt.wantSource || lc.Degraded != tt.wantDegraded {
				t.Errorf("locale = %+v", lc)
			}
			if got := h.gen.repairs.Load(); got != tt.wantRepairs {
				t.Errorf("repair calls = %d, want %d", got, tt.wantRepairs)
			}
			if lc.Title != "Kettle" {
				t.Errorf("Title = %q", lc.Title)
			}
		})
	}
}

func TestRun_PanicBecomesErrorResult(t *testing.T) {
	h := newHarness()
	a := h.fetch.addProduct("a", "Kettle")
	b := h.fetch.addProduct("b", "panic")
	c := h.fetch.addProduct("c", "Toaster")

	rep, sink := h.run(t, context.Background(), a, b, c)

	got := sink.byIndex()
	if got[2].Status != StatusError || got[2].FailedStage != StagePanic {
		t.Errorf("item 2 = %+v, want panic error", got[2])
	}
	if !strings.Contains(got[2].ErrorDetail, "selector exploded") {
		t.Errorf("ErrorDetail = %q", got[2].ErrorDetail)
	}
	if got[1].Status != StatusSuccess || got[3].Status != StatusSuccess {
		t.Errorf("siblings = %s, %s; want success", got[1].Status, got[3].Status)
	}
	if rep.Error != 1 {
		t.Errorf("report errors = %d", rep.Error)
	}
}

func TestRun_PartialPairDegradesLocale(t *testing.T) {
	h := newHarness()
	a := h.fetch.addProduct("a", "Kettle")
	h.fetch.fail[shop+"ru/a"] = fetcher.KindServer

	_, sink := h.run(t, context.Background(), a)

	res := sink.byIndex()[1]
	if res.Status != StatusSuccess || !res.Degraded {
		t.Fatalf("result = %s degraded=%v", res.Status, res.Degraded)
	}
	ru, _ := res.Locale("ru")
	if !ru.Degraded || !strings.Contains(ru.Error, "fetch [ru]") {
		t.Errorf("ru = %+v", ru)
	}
	ua, _ := res.Locale("ua")
	if ua.Source != content.SourceGenerated {
		t.Errorf("ua = %+v", ua)
	}

	rec, err := h.progress.Get(context.Background(), a, "ru")
	if err != nil || rec.Status != progress.StatusFailed {
		t.Errorf("ru progress = %+v, %v", rec, err)
	}
	if ok, _ := h.progress.IsProcessed(context.Background(), a, "ua"); !ok {
		t.Error("ua should be processed")
	}
}

func TestRun_BothLegsFailed(t *testing.T) {
	h := newHarness()
	a := shop + "gone"
	h.fetch.fail[a] = fetcher.KindTimeout
	h.fetch.fail[shop+"ru/gone"] = fetcher.KindTimeout

	_, sink := h.run(t, context.Background(), a)

	res := sink.byIndex()[1]
	if res.Status != StatusError || res.FailedStage != StageFetch {
		t.Fatalf("result = %s/%s, want error/fetch", res.Status, res.FailedStage)
	}
	if !res.Budget.Blocked {
		t.Error("item budget should be blocked")
	}
	if h.gen.generates.Load() != 0 {
		t.Error("no generation expected")
	}

	// Failed pairs are retried by default.
	before := h.fetch.total()
	h.run(t, context.Background(), a)
	if h.fetch.total() != before+2 {
		t.Errorf("default resume fetched %d pages, want 2", h.fetch.total()-before)
	}

	// skip_failed leaves them alone.
	h.cfg.SkipFailed = true
	before = h.fetch.total()
	_, sink = h.run(t, context.Background(), a)
	if h.fetch.total() != before {
		t.Errorf("skip_failed fetched %d pages, want 0", h.fetch.total()-before)
	}
	if res := sink.byIndex()[1]; res.Status != StatusError || res.ErrorDetail == "" {
		t.Errorf("skipped result = %+v", res)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	h := newHarness()
	keys := []string{h.fetch.addProduct("a", "Kettle"), h.fetch.addProduct("b", "Toaster")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, sink := h.run(t, ctx, keys...)

	if len(sink.results) != 0 {
		t.Errorf("got %d results after cancel", len(sink.results))
	}
	if !rep.Interrupted || rep.Missing != 2 {
		t.Errorf("report interrupted=%v missing=%d", rep.Interrupted, rep.Missing)
	}
}

func TestRun_SinkErrorIsFatal(t *testing.T) {
	h := newHarness()
	a := h.fetch.addProduct("a", "Kettle")

	sink := &sliceSink{err: errors.New("disk full")}
	_, err := h.orchestrator(t).Run(context.Background(), []WorkItem{{Index: 1, Key: a}}, sink)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Run() error = %v, want sink error", err)
	}
}

func TestRun_CallGateBoundsGeneration(t *testing.T) {
	h := newHarness()
	h.cfg.ConcurrentItems = 8
	h.cfg.ConcurrentCalls = 2
	h.gen.delay = 10 * time.Millisecond

	var keys []string
	for i := 0; i < 10; i++ {
		keys = append(keys, h.fetch.addProduct(fmt.Sprintf("p%d", i), fmt.Sprintf("Product %d", i)))
	}

	rep, _ := h.run(t, context.Background(), keys...)

	if rep.Success != 10 {
		t.Errorf("Success = %d, want 10", rep.Success)
	}
	if got := h.gen.maxFlight.Load(); got > 2 {
		t.Errorf("max concurrent generation calls = %d, want <= 2", got)
	}
}

func TestRun_ItemGateBoundsItems(t *testing.T) {
	h := newHarness()
	h.cfg.ConcurrentItems = 3
	h.cfg.Locales = []string{"ua"}
	h.gen.delay = 5 * time.Millisecond

	var keys []string
	for i := 0; i < 12; i++ {
		keys = append(keys, h.fetch.addProduct(fmt.Sprintf("p%d", i), fmt.Sprintf("Product %d", i)))
	}

	rep, _ := h.run(t, context.Background(), keys...)
	if rep.Success != 12 {
		t.Errorf("Success = %d, want 12", rep.Success)
	}
	// One locale per item: generation concurrency cannot exceed the item bound.
	if got := h.gen.maxFlight.Load(); got > 3 {
		t.Errorf("max concurrent items = %d, want <= 3", got)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{Logger: zerolog.Nop()})
	if err == nil {
		t.Error("expected error for missing deps")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"single locale", func(c *Config) { c.Locales = []string{"ua"} }, false},
		{"no locales", func(c *Config) { c.Locales = nil }, true},
		{"duplicate locale", func(c *Config) { c.Locales = []string{"ua", "ua"} }, true},
		{"secondary without prefix", func(c *Config) { c.Locales = []string{"ua", "en"} }, true},
		{"zero items", func(c *Config) { c.ConcurrentItems = 0 }, true},
		{"zero calls", func(c *Config) { c.ConcurrentCalls = 0 }, true},
		{"zero timeout", func(c *Config) { c.CallTimeout = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
