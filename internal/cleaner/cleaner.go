// Package cleaner evicts expired entries from the sensor tables on a shared
// schedule with a bounded amount of work per cycle.
package cleaner

import (
	"context"
	"time"

	"firestige.xyz/netsensor/internal/log"
	"firestige.xyz/netsensor/internal/metrics"
)

// DefaultBudget is the number of removals allowed per cycle.
const DefaultBudget = 10000

// Cleanable is a table with expiring entries.
type Cleanable interface {
	Name() string
	// Clean removes at most budget expired entries and returns how many it
	// removed.
	Clean(now time.Time, budget int) int
}

// sized tables also report their size after each visit.
type sized interface {
	Len() int
}

type entry struct {
	table  Cleanable
	period time.Duration
	next   time.Time
}

// Options configures a Cleaner.
type Options struct {
	Budget int
	Logger log.Logger
	Now    func() time.Time
}

// Cleaner visits its tables in registration order, each no more often than
// its own period. All visits in one cycle share the budget.
type Cleaner struct {
	entries []*entry
	budget  int
	logger  log.Logger
	now     func() time.Time
}

// New creates a cleaner without tables.
func New(opts Options) *Cleaner {
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cleaner{
		budget: opts.Budget,
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// Register adds a table cleaned every period. Register before Run.
func (c *Cleaner) Register(t Cleanable, period time.Duration) {
	if period <= 0 {
		period = time.Second
	}
	c.entries = append(c.entries, &entry{
		table:  t,
		period: period,
		next:   c.now().Add(period),
	})
}

// Interval is the tick period: the shortest registered period.
func (c *Cleaner) Interval() time.Duration {
	var d time.Duration
	for _, e := range c.entries {
		if d == 0 || e.period < d {
			d = e.period
		}
	}
	return d
}

// Tick runs one cycle and returns the number of entries removed. Tables due
// but skipped for lack of budget stay due for the next cycle.
func (c *Cleaner) Tick() int {
	now := c.now()
	budget := c.budget

	for _, e := range c.entries {
		if now.Before(e.next) {
			continue
		}
		if budget == 0 {
			metrics.CleanerBudgetExhaustedTotal.Inc()
			c.logger.Debugf("budget of %d spent, %s deferred", c.budget, e.table.Name())
			break
		}
		e.next = now.Add(e.period)

		start := time.Now()
		n := e.table.Clean(now, budget)
		budget -= n

		name := e.table.Name()
		metrics.EvictionsTotal.WithLabelValues(name).Add(float64(n))
		if s, ok := e.table.(sized); ok {
			metrics.TableEntries.WithLabelValues(name).Set(float64(s.Len()))
		}
		if n > 0 {
			c.logger.WithFields(map[string]interface{}{
				"table":   name,
				"removed": n,
				"took":    time.Since(start),
			}).Debug("table cleaned")
		}
	}
	return c.budget - budget
}

// Run ticks until ctx is done.
func (c *Cleaner) Run(ctx context.Context) {
	interval := c.Interval()
	if interval == 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.logger.Infof("cleaner started, %d tables every %s", len(c.entries), interval)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cleaner stopped")
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}
