// Package budget caps how many generation calls an item may consume. The
// ledger is in memory behind a single mutex; RecordCall is its only counting
// mutator and checks the caps and increments in one critical section.
package budget

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for budget decisions.
var (
	budgetCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "descgen_budget_calls_total",
		Help: "Generation calls admitted by the budget, by call type",
	}, []string{"call_type"})

	budgetDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "descgen_budget_denied_total",
		Help: "Generation calls refused by the budget, by call type",
	}, []string{"call_type"})
)

// CallType is the kind of generation call being budgeted.
type CallType string

const (
	// Generate is a full content generation for one locale.
	Generate CallType = "generate"

	// Repair is a fallback call after a failed generation.
	Repair CallType = "repair"
)

// Limits are the per-item caps.
type Limits struct {
	// MaxCallsPerItem caps all calls of an item across call types.
	MaxCallsPerItem int `yaml:"max_calls_per_item" json:"max_calls_per_item"`

	// MaxCallsPerLocale caps generate calls per locale of an item.
	MaxCallsPerLocale int `yaml:"max_calls_per_locale" json:"max_calls_per_locale"`

	// MaxRepairCalls caps repair calls of an item.
	MaxRepairCalls int `yaml:"max_repair_calls" json:"max_repair_calls"`
}

// DefaultLimits returns three calls per item, one generate per locale and
// one repair.
func DefaultLimits() Limits {
	return Limits{
		MaxCallsPerItem:   3,
		MaxCallsPerLocale: 1,
		MaxRepairCalls:    1,
	}
}

// Validate checks the limits.
func (l Limits) Validate() error {
	if l.MaxCallsPerItem <= 0 {
		return fmt.Errorf("max_calls_per_item must be > 0 (got %d)", l.MaxCallsPerItem)
	}
	if l.MaxCallsPerLocale < 0 {
		return fmt.Errorf("max_calls_per_locale must be >= 0 (got %d)", l.MaxCallsPerLocale)
	}
	if l.MaxRepairCalls < 0 {
		return fmt.Errorf("max_repair_calls must be >= 0 (got %d)", l.MaxRepairCalls)
	}
	return nil
}

// ItemStats is a copy of one item's ledger entry.
type ItemStats struct {
	ItemID         string         `json:"item_id"`
	TotalCalls     int            `json:"total_calls"`
	CallsPerLocale map[string]int `json:"calls_per_locale"`
	RepairCalls    int            `json:"repair_calls"`
	Blocked        bool           `json:"blocked"`
	BlockReason    string         `json:"block_reason,omitempty"`
}

// Stats summarizes the whole ledger.
type Stats struct {
	TotalItems      int     `json:"total_items"`
	TotalCalls      int     `json:"total_calls"`
	TotalBlocked    int     `json:"total_blocked"`
	TotalDenied     int     `json:"total_denied"`
	AvgCallsPerItem float64 `json:"avg_calls_per_item"`
}

type itemBudget struct {
	total       int
	perLocale   map[string]int
	repairs     int
	blocked     bool
	blockReason string
}

// Controller is the per-item call ledger. It is safe for concurrent use.
type Controller struct {
	limits Limits
	logger zerolog.Logger

	mu           sync.Mutex
	items        map[string]*itemBudget
	totalCalls   int
	totalBlocked int
	totalDenied  int
}

// New creates a controller enforcing limits.
func New(limits Limits, logger zerolog.Logger) (*Controller, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid budget limits: %w", err)
	}
	return &Controller{
		limits: limits,
		logger: logger,
		items:  make(map[string]*itemBudget),
	}, nil
}

// Limits returns the configured caps.
func (c *Controller) Limits() Limits {
	return c.limits
}

// CanCall reports whether a call would currently be admitted. It does not
// reserve anything; use RecordCall to consume budget.
func (c *Controller) CanCall(itemID string, callType CallType, locale string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allowedLocked(c.items[itemID], callType, locale)
}

// RecordCall consumes one call if every applicable cap allows it. It returns
// false and leaves the item's ledger unchanged otherwise.
func (c *Controller) RecordCall(itemID string, callType CallType, locale string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.items[itemID]
	if !c.allowedLocked(b, callType, locale) {
		c.totalDenied++
		budgetDeniedTotal.WithLabelValues(string(callType)).Inc()
		c.logger.Warn().
			Str("key", itemID).
			Str("call_type", string(callType)).
			Str("locale", locale).
			Msg("Budget exhausted - call refused")
		return false
	}

	if b == nil {
		b = &itemBudget{perLocale: make(map[string]int)}
		c.items[itemID] = b
	}
	b.total++
	c.totalCalls++
	switch callType {
	case Generate:
		if locale != "" {
			b.perLocale[locale]++
		}
	case Repair:
		b.repairs++
	}
	budgetCallsTotal.WithLabelValues(string(callType)).Inc()

	c.logger.Debug().
		Str("key", itemID).
		Str("call_type", string(callType)).
		Str("locale", locale).
		Int("total_calls", b.total).
		Msg("Budget call recorded")
	return true
}

func (c *Controller) allowedLocked(b *itemBudget, callType CallType, locale string) bool {
	if b == nil {
		switch callType {
		case Generate:
			return locale == "" || c.limits.MaxCallsPerLocale > 0
		case Repair:
			return c.limits.MaxRepairCalls > 0
		default:
			return false
		}
	}
	if b.blocked || b.total >= c.limits.MaxCallsPerItem {
		return false
	}
	switch callType {
	case Generate:
		return locale == "" || b.perLocale[locale] < c.limits.MaxCallsPerLocale
	case Repair:
		return b.repairs < c.limits.MaxRepairCalls
	default:
		return false
	}
}

// Remaining returns how many more calls of callType the item may make.
func (c *Controller) Remaining(itemID string, callType CallType, locale string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.items[itemID]
	if b == nil {
		b = &itemBudget{}
	}
	if b.blocked {
		return 0
	}
	left := c.limits.MaxCallsPerItem - b.total
	switch callType {
	case Generate:
		if locale != "" {
			left = min(left, c.limits.MaxCallsPerLocale-b.perLocale[locale])
		}
	case Repair:
		left = min(left, c.limits.MaxRepairCalls-b.repairs)
	}
	return max(left, 0)
}

// BlockItem refuses every further call for the item.
func (c *Controller) BlockItem(itemID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.items[itemID]
	if b == nil {
		b = &itemBudget{perLocale: make(map[string]int)}
		c.items[itemID] = b
	}
	if !b.blocked {
		c.totalBlocked++
	}
	b.blocked = true
	b.blockReason = reason

	c.logger.Warn().Str("key", itemID).Str("reason", reason).Msg("Item blocked from further calls")
}

// ItemStats returns a copy of one item's ledger. Unknown items report zeros.
func (c *Controller) ItemStats(itemID string) ItemStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := ItemStats{ItemID: itemID, CallsPerLocale: map[string]int{}}
	b := c.items[itemID]
	if b == nil {
		return s
	}
	s.TotalCalls = b.total
	s.RepairCalls = b.repairs
	s.Blocked = b.blocked
	s.BlockReason = b.blockReason
	for loc, n := range b.perLocale {
		s.CallsPerLocale[loc] = n
	}
	return s
}

// Restore seeds an item's ledger from stats recorded by an earlier run, so
// caps keep counting the calls already spent on it. A ledger that already
// holds as many calls is left alone. Restored calls count toward Stats.
func (c *Controller) Restore(s ItemStats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b := c.items[s.ItemID]; b != nil {
		if b.total >= s.TotalCalls {
			return
		}
		c.totalCalls -= b.total
		if b.blocked {
			c.totalBlocked--
		}
	}
	b := &itemBudget{
		total:       s.TotalCalls,
		perLocale:   make(map[string]int, len(s.CallsPerLocale)),
		repairs:     s.RepairCalls,
		blocked:     s.Blocked,
		blockReason: s.BlockReason,
	}
	for loc, n := range s.CallsPerLocale {
		b.perLocale[loc] = n
	}
	c.items[s.ItemID] = b
	c.totalCalls += b.total
	if b.blocked {
		c.totalBlocked++
	}

	c.logger.Debug().
		Str("key", s.ItemID).
		Int("total_calls", b.total).
		Msg("Item budget restored")
}

// Stats summarizes the ledger across items.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		TotalItems:   len(c.items),
		TotalCalls:   c.totalCalls,
		TotalBlocked: c.totalBlocked,
		TotalDenied:  c.totalDenied,
	}
	if s.TotalItems > 0 {
		s.AvgCallsPerItem = float64(s.TotalCalls) / float64(s.TotalItems)
	}
	return s
}

// Items returns the ids of every item in the ledger, sorted.
func (c *Controller) Items() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset clears one item's ledger entry.
func (c *Controller) Reset(itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.items[itemID]; ok {
		c.totalCalls -= b.total
		if b.blocked {
			c.totalBlocked--
		}
		delete(c.items, itemID)
		c.logger.Info().Str("key", itemID).Msg("Item budget reset")
	}
}

// ResetAll clears the whole ledger.
func (c *Controller) ResetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*itemBudget)
	c.totalCalls = 0
	c.totalBlocked = 0
	c.totalDenied = 0
	c.logger.Info().Msg("Budget ledger reset")
}
