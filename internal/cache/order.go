package cache

import (
	"sync"

	"betstream/internal/ladder"
	"betstream/models"
)

// OrderCache holds the account's own order state per market: unmatched
// orders keyed by bet id plus matched-back and matched-lay ladders. Unlike
// the market cache it creates markets on demand, because the order stream's
// initial image arrives as ordinary changes under a SUB_IMAGE envelope.
type OrderCache struct {
	mu      sync.RWMutex
	markets map[string]*OrderMarket

	lastPublishTime int64
}

// NewOrderCache returns an empty cache.
func NewOrderCache() *OrderCache {
	return &OrderCache{markets: make(map[string]*OrderMarket)}
}

// Apply folds one change message into the cache. Messages without order
// changes are ignored.
func (c *OrderCache) Apply(msg *models.ChangeMessage) error {
	if msg == nil || msg.Op != models.OpOrderChange || msg.IsHeartbeat() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range msg.OrderChanges {
		oc := &msg.OrderChanges[i]
		m, ok := c.markets[oc.ID]
		if oc.FullImage || !ok {
			m = newOrderMarket(oc.ID)
			c.markets[oc.ID] = m
		}
		m.apply(oc, msg.Pt)
	}
	if msg.Pt > c.lastPublishTime {
		c.lastPublishTime = msg.Pt
	}
	return nil
}

// Market returns an independent snapshot of one market's order state.
func (c *OrderCache) Market(id string) (*OrderMarket, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[id]
	if !ok {
		return nil, false
	}
	return m.clone(), true
}

// MarketIDs returns the ids of all markets with order state.
func (c *OrderCache) MarketIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.markets))
	for id := range c.markets {
		ids = append(ids, id)
	}
	return ids
}

// Remove drops a market's order state.
func (c *OrderCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
}

// LastPublishTime returns the publish timestamp (ms since epoch) of the
// newest applied change.
func (c *OrderCache) LastPublishTime() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPublishTime
}

// OrderMarket is the folded order state for one market.
type OrderMarket struct {
	ID          string
	AccountID   int64
	Closed      bool
	PublishTime int64

	runners map[runnerKey]*OrderRunner
}

func newOrderMarket(id string) *OrderMarket {
	return &OrderMarket{ID: id, runners: make(map[runnerKey]*OrderRunner)}
}

// Runner returns the order state for a selection at handicap zero.
func (m *OrderMarket) Runner(selectionID int64) (*OrderRunner, bool) {
	return m.RunnerAt(selectionID, 0)
}

// RunnerAt returns the order state for a selection at a handicap line.
func (m *OrderMarket) RunnerAt(selectionID int64, handicap float64) (*OrderRunner, bool) {
	r, ok := m.runners[runnerKey{selectionID, handicap}]
	return r, ok
}

// Runners returns every tracked runner.
func (m *OrderMarket) Runners() []*OrderRunner {
	out := make([]*OrderRunner, 0, len(m.runners))
	for _, r := range m.runners {
		out = append(out, r)
	}
	return out
}

func (m *OrderMarket) apply(oc *models.OrderMarketChange, pt int64) {
	m.PublishTime = pt
	if oc.AccountID != 0 {
		m.AccountID = oc.AccountID
	}
	if oc.Closed {
		m.Closed = true
	}
	for i := range oc.RunnerChanges {
		orc := &oc.RunnerChanges[i]
		hc := 0.0
		if orc.Handicap != nil {
			hc = *orc.Handicap
		}
		key := runnerKey{orc.SelectionID, hc}
		r, ok := m.runners[key]
		if orc.FullImage || !ok {
			r = newOrderRunner(orc.SelectionID, hc)
			m.runners[key] = r
		}
		r.apply(orc)
	}
}

func (m *OrderMarket) clone() *OrderMarket {
	c := &OrderMarket{
		ID:          m.ID,
		AccountID:   m.AccountID,
		Closed:      m.Closed,
		PublishTime: m.PublishTime,
		runners:     make(map[runnerKey]*OrderRunner, len(m.runners)),
	}
	for k, r := range m.runners {
		c.runners[k] = r.clone()
	}
	return c
}

// OrderRunner holds one selection's open orders and matched ladders.
type OrderRunner struct {
	SelectionID int64
	Handicap    float64

	MatchedBacks *ladder.Ladder
	MatchedLays  *ladder.Ladder

	unmatched map[string]models.UnmatchedOrder
}

func newOrderRunner(selectionID int64, handicap float64) *OrderRunner {
	return &OrderRunner{
		SelectionID:  selectionID,
		Handicap:     handicap,
		MatchedBacks: ladder.New(),
		MatchedLays:  ladder.New(),
		unmatched:    make(map[string]models.UnmatchedOrder),
	}
}

// Unmatched returns the open order for a bet id.
func (r *OrderRunner) Unmatched(betID string) (models.UnmatchedOrder, bool) {
	o, ok := r.unmatched[betID]
	return o, ok
}

// UnmatchedOrders returns all open orders for the selection.
func (r *OrderRunner) UnmatchedOrders() []models.UnmatchedOrder {
	out := make([]models.UnmatchedOrder, 0, len(r.unmatched))
	for _, o := range r.unmatched {
		out = append(out, o)
	}
	return out
}

func (r *OrderRunner) apply(orc *models.OrderRunnerChange) {
	for _, uo := range orc.UnmatchedOrders {
		// Execution-complete orders are terminal; the server sends them one
		// last time so the cache can retire them.
		if uo.Status == "EC" {
			delete(r.unmatched, uo.ID)
			continue
		}
		r.unmatched[uo.ID] = uo
	}
	mergePairs(r.MatchedBacks, orc.MatchedBacks)
	mergePairs(r.MatchedLays, orc.MatchedLays)
}

func (r *OrderRunner) clone() *OrderRunner {
	c := &OrderRunner{
		SelectionID:  r.SelectionID,
		Handicap:     r.Handicap,
		MatchedBacks: r.MatchedBacks.Clone(),
		MatchedLays:  r.MatchedLays.Clone(),
		unmatched:    make(map[string]models.UnmatchedOrder, len(r.unmatched)),
	}
	for id, o := range r.unmatched {
		c.unmatched[id] = o
	}
	return c
}
