// Package cache folds decoded change messages into in-memory market and
// order state. A change either replaces a market wholesale (img) or merges
// into it level by level; per-level merges treat size zero as removal, while
// scalar fields (tv, ltp, marketDefinition) always arrive as full
// replacement values.
package cache

import (
	"errors"
	"fmt"
	"sync"

	"betstream/internal/ladder"
	"betstream/internal/price"
	"betstream/models"
)

// ErrNoImage reports a delta for a market that was never seeded with an
// image. Applying it would silently build state on a partial book, so the
// caller must treat it as an integrity fault and resubscribe.
var ErrNoImage = errors.New("cache: delta received before image")

// Stats counts cache activity since construction.
type Stats struct {
	ImagesApplied  uint64
	DeltasApplied  uint64
	OffGridLevels  uint64
	MarketsTracked int
}

// MarketCache holds the current state of every subscribed market. It is
// safe for one writer and any number of snapshot readers.
type MarketCache struct {
	mu      sync.RWMutex
	markets map[string]*Market

	lastPublishTime int64
	images          uint64
	deltas          uint64
	offGrid         uint64
}

// NewMarketCache returns an empty cache.
func NewMarketCache() *MarketCache {
	return &MarketCache{markets: make(map[string]*Market)}
}

// Apply folds one change message into the cache. Messages that carry no
// market changes (heartbeats, status, order changes) are ignored. A delta
// for an unknown market yields ErrNoImage, but only that market is skipped;
// every other market in the message is still applied so a single integrity
// fault cannot lose sibling deltas.
func (c *MarketCache) Apply(msg *models.ChangeMessage) error {
	if msg == nil || msg.Op != models.OpMarketChange || msg.IsHeartbeat() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for i := range msg.MarketChanges {
		mc := &msg.MarketChanges[i]
		m, ok := c.markets[mc.ID]
		if mc.Img {
			m = newMarket(mc.ID)
			c.markets[mc.ID] = m
			c.images++
		} else {
			if !ok {
				if firstErr == nil {
					firstErr = fmt.Errorf("market %s: %w", mc.ID, ErrNoImage)
				}
				continue
			}
			c.deltas++
		}
		c.offGrid += m.apply(mc, msg.Pt)
	}
	if msg.Pt > c.lastPublishTime {
		c.lastPublishTime = msg.Pt
	}
	return firstErr
}

// Market returns an independent snapshot of one market.
func (c *MarketCache) Market(id string) (*Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[id]
	if !ok {
		return nil, false
	}
	return m.clone(), true
}

// MarketIDs returns the ids of all tracked markets.
func (c *MarketCache) MarketIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.markets))
	for id := range c.markets {
		ids = append(ids, id)
	}
	return ids
}

// Remove drops a market, typically once its definition reports it closed.
func (c *MarketCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
}

// LastPublishTime returns the publish timestamp (ms since epoch) of the
// newest applied change.
func (c *MarketCache) LastPublishTime() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPublishTime
}

// Stats returns activity counters.
func (c *MarketCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		ImagesApplied:  c.images,
		DeltasApplied:  c.deltas,
		OffGridLevels:  c.offGrid,
		MarketsTracked: len(c.markets),
	}
}

// Market is the folded state of one market: its latest definition snapshot,
// total matched volume and per-runner books.
type Market struct {
	ID           string
	Definition   *models.MarketDefinition
	TotalMatched price.Size
	Conflated    bool
	PublishTime  int64

	runners map[runnerKey]*Runner
}

type runnerKey struct {
	selectionID int64
	handicap    float64
}

func newMarket(id string) *Market {
	return &Market{ID: id, runners: make(map[runnerKey]*Runner)}
}

// Runner returns the book for a selection at handicap zero.
func (m *Market) Runner(selectionID int64) (*Runner, bool) {
	return m.RunnerAt(selectionID, 0)
}

// RunnerAt returns the book for a selection at a specific handicap line.
func (m *Market) RunnerAt(selectionID int64, handicap float64) (*Runner, bool) {
	r, ok := m.runners[runnerKey{selectionID, handicap}]
	return r, ok
}

// Runners returns every tracked runner book.
func (m *Market) Runners() []*Runner {
	out := make([]*Runner, 0, len(m.runners))
	for _, r := range m.runners {
		out = append(out, r)
	}
	return out
}

// IsClosed reports whether the latest definition marks the market closed.
func (m *Market) IsClosed() bool {
	return m.Definition != nil && m.Definition.Status == "CLOSED"
}

// apply folds one market change in, returning the number of off-grid price
// levels it had to drop.
func (m *Market) apply(mc *models.MarketChange, pt int64) uint64 {
	m.PublishTime = pt
	if mc.MarketDefinition != nil {
		m.Definition = mc.MarketDefinition
	}
	if mc.TotalValue != nil {
		m.TotalMatched = price.SizeOf(*mc.TotalValue)
	}
	if mc.Conflated != nil {
		m.Conflated = *mc.Conflated
	}
	var dropped uint64
	for i := range mc.RunnerChanges {
		rc := &mc.RunnerChanges[i]
		hc := 0.0
		if rc.Handicap != nil {
			hc = *rc.Handicap
		}
		key := runnerKey{rc.SelectionID, hc}
		r, ok := m.runners[key]
		if !ok {
			r = newRunner(rc.SelectionID, hc)
			m.runners[key] = r
		}
		dropped += r.apply(rc)
	}
	return dropped
}

func (m *Market) clone() *Market {
	c := &Market{
		ID:           m.ID,
		Definition:   m.Definition,
		TotalMatched: m.TotalMatched,
		Conflated:    m.Conflated,
		PublishTime:  m.PublishTime,
		runners:      make(map[runnerKey]*Runner, len(m.runners)),
	}
	for k, r := range m.runners {
		c.runners[k] = r.clone()
	}
	return c
}

// Runner is the folded book of one selection: full-depth ladders keyed by
// price and levelled best-offer ladders keyed by level.
type Runner struct {
	SelectionID int64
	Handicap    float64

	AvailableToBack   *ladder.Ladder
	AvailableToLay    *ladder.Ladder
	Traded            *ladder.Ladder
	StartingPriceBack *ladder.Ladder
	StartingPriceLay  *ladder.Ladder

	BestToBack    *ladder.Levelled
	BestToLay     *ladder.Levelled
	DisplayToBack *ladder.Levelled
	DisplayToLay  *ladder.Levelled

	LastTradedPrice   price.Price
	TotalMatched      price.Size
	StartingPriceNear float64
	StartingPriceFar  float64
}

func newRunner(selectionID int64, handicap float64) *Runner {
	return &Runner{
		SelectionID:       selectionID,
		Handicap:          handicap,
		AvailableToBack:   ladder.New(),
		AvailableToLay:    ladder.New(),
		Traded:            ladder.New(),
		StartingPriceBack: ladder.New(),
		StartingPriceLay:  ladder.New(),
		BestToBack:        ladder.NewLevelled(),
		BestToLay:         ladder.NewLevelled(),
		DisplayToBack:     ladder.NewLevelled(),
		DisplayToLay:      ladder.NewLevelled(),
	}
}

// BestBack summarises the top of the best-available-to-back ladder.
func (r *Runner) BestBack() (ladder.BestAvailable, bool) {
	return r.BestToBack.BestView()
}

// BestLay summarises the top of the best-available-to-lay ladder.
func (r *Runner) BestLay() (ladder.BestAvailable, bool) {
	return r.BestToLay.BestView()
}

// TradedVolume sums traded size across all price levels.
func (r *Runner) TradedVolume() price.Size {
	return r.Traded.TotalSize()
}

func (r *Runner) apply(rc *models.RunnerChange) uint64 {
	var dropped uint64
	if rc.LastTradedPrice != nil {
		if p, err := price.Of(*rc.LastTradedPrice); err == nil {
			r.LastTradedPrice = p
		} else {
			dropped++
		}
	}
	if rc.TotalValue != nil {
		r.TotalMatched = price.SizeOf(*rc.TotalValue)
	}
	if rc.StartingPriceNear != nil {
		r.StartingPriceNear = *rc.StartingPriceNear
	}
	if rc.StartingPriceFar != nil {
		r.StartingPriceFar = *rc.StartingPriceFar
	}
	dropped += mergePairs(r.AvailableToBack, rc.AvailableToBack)
	dropped += mergePairs(r.AvailableToLay, rc.AvailableToLay)
	dropped += mergePairs(r.Traded, rc.Traded)
	dropped += mergePairs(r.StartingPriceBack, rc.StartingPriceBack)
	dropped += mergePairs(r.StartingPriceLay, rc.StartingPriceLay)
	dropped += mergeLevels(r.BestToBack, rc.BestAvailableToBack)
	dropped += mergeLevels(r.BestToLay, rc.BestAvailableToLay)
	dropped += mergeLevels(r.DisplayToBack, rc.BestDisplayToBack)
	dropped += mergeLevels(r.DisplayToLay, rc.BestDisplayToLay)
	return dropped
}

// mergePairs folds [price, size] pairs into a full-depth ladder. Size zero
// removes the level.
func mergePairs(l *ladder.Ladder, pairs []models.PriceSize) uint64 {
	var dropped uint64
	for _, ps := range pairs {
		p, err := price.Of(ps.Price)
		if err != nil {
			dropped++
			continue
		}
		l.Update(p, price.SizeOf(ps.Size))
	}
	return dropped
}

// mergeLevels folds [level, price, size] triples into a levelled ladder.
// Size zero vacates the level.
func mergeLevels(l *ladder.Levelled, triples []models.LevelPriceSize) uint64 {
	var dropped uint64
	for _, lps := range triples {
		s := price.SizeOf(lps.Size)
		if s.IsZero() {
			l.Update(lps.Level, price.Price{}, s)
			continue
		}
		p, err := price.Of(lps.Price)
		if err != nil {
			dropped++
			continue
		}
		l.Update(lps.Level, p, s)
	}
	return dropped
}

func (r *Runner) clone() *Runner {
	return &Runner{
		SelectionID:       r.SelectionID,
		Handicap:          r.Handicap,
		AvailableToBack:   r.AvailableToBack.Clone(),
		AvailableToLay:    r.AvailableToLay.Clone(),
		Traded:            r.Traded.Clone(),
		StartingPriceBack: r.StartingPriceBack.Clone(),
		StartingPriceLay:  r.StartingPriceLay.Clone(),
		BestToBack:        r.BestToBack.Clone(),
		BestToLay:         r.BestToLay.Clone(),
		DisplayToBack:     r.DisplayToBack.Clone(),
		DisplayToLay:      r.DisplayToLay.Clone(),
		LastTradedPrice:   r.LastTradedPrice,
		TotalMatched:      r.TotalMatched,
		StartingPriceNear: r.StartingPriceNear,
		StartingPriceFar:  r.StartingPriceFar,
	}
}
