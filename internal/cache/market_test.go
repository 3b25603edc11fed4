package cache

import (
	"errors"
	"testing"

	"betstream/internal/ladder"
	"betstream/internal/price"
	"betstream/models"
)

func fptr(v float64) *float64 { return &v }

func mcm(pt int64, mcs ...models.MarketChange) *models.ChangeMessage {
	return &models.ChangeMessage{Op: models.OpMarketChange, Pt: pt, MarketChanges: mcs}
}

func TestApplyImageThenDelta(t *testing.T) {
	c := NewMarketCache()

	img := mcm(100, models.MarketChange{
		ID:  "1.100",
		Img: true,
		RunnerChanges: []models.RunnerChange{{
			SelectionID:         7,
			BestAvailableToBack: []models.LevelPriceSize{{Level: 0, Price: 1.5, Size: 10}, {Level: 1, Price: 1.6, Size: 20}},
		}},
	})
	if err := c.Apply(img); err != nil {
		t.Fatalf("apply image: %v", err)
	}

	delta := mcm(101, models.MarketChange{
		ID: "1.100",
		RunnerChanges: []models.RunnerChange{{
			SelectionID:         7,
			BestAvailableToBack: []models.LevelPriceSize{{Level: 0, Price: 1.51, Size: 12}},
		}},
	})
	if err := c.Apply(delta); err != nil {
		t.Fatalf("apply delta: %v", err)
	}

	m, ok := c.Market("1.100")
	if !ok {
		t.Fatalf("market not tracked")
	}
	r, ok := m.Runner(7)
	if !ok {
		t.Fatalf("runner not tracked")
	}
	levels := r.BestToBack.Levels()
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d: %+v", len(levels), levels)
	}
	if levels[0].Price != price.MustOf(1.51) || !levels[0].Size.Equal(price.SizeOf(12)) {
		t.Fatalf("level 0 = %+v, want 1.51/12.00", levels[0])
	}
	if levels[1].Price != price.MustOf(1.6) || !levels[1].Size.Equal(price.SizeOf(20)) {
		t.Fatalf("level 1 = %+v, want 1.60/20.00", levels[1])
	}
	for _, lv := range levels {
		if lv.Price == price.MustOf(1.5) {
			t.Fatalf("stale level 1.5 survived the level-0 overwrite")
		}
	}
}

func TestApplyDeltaBeforeImage(t *testing.T) {
	c := NewMarketCache()
	err := c.Apply(mcm(1, models.MarketChange{
		ID:            "1.200",
		RunnerChanges: []models.RunnerChange{{SelectionID: 1, AvailableToBack: []models.PriceSize{{Price: 1.5, Size: 2}}}},
	}))
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if _, ok := c.Market("1.200"); ok {
		t.Fatalf("market should not exist after rejected delta")
	}
}

// One unimaged market must not cost its siblings their deltas: the rest of
// the message still folds in and the integrity error surfaces afterwards.
func TestUnimagedMarketDoesNotLoseSiblingDeltas(t *testing.T) {
	c := NewMarketCache()
	if err := c.Apply(mcm(1, models.MarketChange{
		ID:  "1.900",
		Img: true,
		RunnerChanges: []models.RunnerChange{{
			SelectionID:     5,
			AvailableToBack: []models.PriceSize{{Price: 1.5, Size: 10}},
		}},
	})); err != nil {
		t.Fatalf("image: %v", err)
	}

	// 1.901 was never imaged and comes first in the message
	err := c.Apply(mcm(2,
		models.MarketChange{
			ID:            "1.901",
			RunnerChanges: []models.RunnerChange{{SelectionID: 1, AvailableToBack: []models.PriceSize{{Price: 2.0, Size: 1}}}},
		},
		models.MarketChange{
			ID:            "1.900",
			RunnerChanges: []models.RunnerChange{{SelectionID: 5, AvailableToBack: []models.PriceSize{{Price: 1.5, Size: 99}}}},
		},
	))
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}

	if _, ok := c.Market("1.901"); ok {
		t.Fatalf("unimaged market should not exist")
	}
	m, _ := c.Market("1.900")
	r, _ := m.Runner(5)
	if s, _ := r.AvailableToBack.Get(price.MustOf(1.5)); !s.Equal(price.SizeOf(99)) {
		t.Fatalf("sibling delta lost: atb 1.5 = %v, want 99.00", s)
	}
	if c.LastPublishTime() != 2 {
		t.Fatalf("LastPublishTime = %d, want 2", c.LastPublishTime())
	}
}

func TestImageReplacesDeltaMerges(t *testing.T) {
	c := NewMarketCache()

	if err := c.Apply(mcm(1, models.MarketChange{
		ID:  "1.300",
		Img: true,
		RunnerChanges: []models.RunnerChange{{
			SelectionID:     3,
			AvailableToBack: []models.PriceSize{{Price: 1.5, Size: 10}, {Price: 1.49, Size: 5}},
			Traded:          []models.PriceSize{{Price: 1.5, Size: 100}},
		}},
	})); err != nil {
		t.Fatalf("image: %v", err)
	}

	// merge: zero removes 1.49, upsert 1.48, 1.5 untouched
	if err := c.Apply(mcm(2, models.MarketChange{
		ID: "1.300",
		RunnerChanges: []models.RunnerChange{{
			SelectionID:     3,
			AvailableToBack: []models.PriceSize{{Price: 1.49, Size: 0}, {Price: 1.48, Size: 7.5}},
		}},
	})); err != nil {
		t.Fatalf("delta: %v", err)
	}

	m, _ := c.Market("1.300")
	r, _ := m.Runner(3)
	if r.AvailableToBack.Len() != 2 {
		t.Fatalf("atb levels = %d, want 2", r.AvailableToBack.Len())
	}
	if _, ok := r.AvailableToBack.Get(price.MustOf(1.49)); ok {
		t.Fatalf("zero-size level 1.49 should be gone")
	}
	if s, _ := r.AvailableToBack.Get(price.MustOf(1.5)); !s.Equal(price.SizeOf(10)) {
		t.Fatalf("untouched level changed: %v", s)
	}
	if s, _ := r.AvailableToBack.Get(price.MustOf(1.48)); !s.Equal(price.SizeOf(7.5)) {
		t.Fatalf("new level missing: %v", s)
	}

	// a fresh image wipes state the image does not mention
	if err := c.Apply(mcm(3, models.MarketChange{
		ID:  "1.300",
		Img: true,
		RunnerChanges: []models.RunnerChange{{
			SelectionID:     3,
			AvailableToBack: []models.PriceSize{{Price: 2.0, Size: 1}},
		}},
	})); err != nil {
		t.Fatalf("second image: %v", err)
	}
	m, _ = c.Market("1.300")
	r, _ = m.Runner(3)
	if r.AvailableToBack.Len() != 1 || r.Traded.Len() != 0 {
		t.Fatalf("image did not replace: atb=%d trd=%d", r.AvailableToBack.Len(), r.Traded.Len())
	}
}

func TestScalarFieldsAreReplacements(t *testing.T) {
	c := NewMarketCache()
	def := &models.MarketDefinition{Status: "OPEN", MarketType: "WIN", Version: 1}
	if err := c.Apply(mcm(1, models.MarketChange{
		ID:               "1.400",
		Img:              true,
		MarketDefinition: def,
		TotalValue:       fptr(100.5),
		RunnerChanges: []models.RunnerChange{{
			SelectionID:     9,
			LastTradedPrice: fptr(3.05),
			TotalValue:      fptr(40),
		}},
	})); err != nil {
		t.Fatalf("image: %v", err)
	}

	def2 := &models.MarketDefinition{Status: "SUSPENDED", MarketType: "WIN", Version: 2}
	if err := c.Apply(mcm(2, models.MarketChange{
		ID:               "1.400",
		MarketDefinition: def2,
		TotalValue:       fptr(250.75),
		RunnerChanges: []models.RunnerChange{{
			SelectionID:     9,
			LastTradedPrice: fptr(3.1),
		}},
	})); err != nil {
		t.Fatalf("delta: %v", err)
	}

	m, _ := c.Market("1.400")
	if m.Definition.Status != "SUSPENDED" || m.Definition.Version != 2 {
		t.Fatalf("definition not replaced: %+v", m.Definition)
	}
	if !m.TotalMatched.Equal(price.SizeOf(250.75)) {
		t.Fatalf("tv = %v, want 250.75", m.TotalMatched)
	}
	r, _ := m.Runner(9)
	if r.LastTradedPrice != price.MustOf(3.1) {
		t.Fatalf("ltp = %v, want 3.1", r.LastTradedPrice)
	}
	// runner tv absent in the delta stays at the image value
	if !r.TotalMatched.Equal(price.SizeOf(40)) {
		t.Fatalf("runner tv = %v, want 40.00", r.TotalMatched)
	}
}

// Folding an image plus deltas must land in the same state as a single image
// of the final book, which is what the server sends on a resubscribe without
// a resumable clk.
func TestResubscribeImageMatchesFoldedState(t *testing.T) {
	incremental := NewMarketCache()
	msgs := []*models.ChangeMessage{
		mcm(1, models.MarketChange{
			ID:  "1.500",
			Img: true,
			RunnerChanges: []models.RunnerChange{{
				SelectionID:     4,
				AvailableToBack: []models.PriceSize{{Price: 1.5, Size: 10}, {Price: 1.49, Size: 4}},
				AvailableToLay:  []models.PriceSize{{Price: 1.52, Size: 6}},
			}},
		}),
		mcm(2, models.MarketChange{
			ID: "1.500",
			RunnerChanges: []models.RunnerChange{{
				SelectionID:     4,
				AvailableToBack: []models.PriceSize{{Price: 1.49, Size: 0}},
			}},
		}),
		mcm(3, models.MarketChange{
			ID: "1.500",
			RunnerChanges: []models.RunnerChange{{
				SelectionID:     4,
				AvailableToBack: []models.PriceSize{{Price: 1.51, Size: 3}},
				AvailableToLay:  []models.PriceSize{{Price: 1.52, Size: 8}},
			}},
		}),
	}
	for _, m := range msgs {
		if err := incremental.Apply(m); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	fresh := NewMarketCache()
	if err := fresh.Apply(mcm(3, models.MarketChange{
		ID:  "1.500",
		Img: true,
		RunnerChanges: []models.RunnerChange{{
			SelectionID:     4,
			AvailableToBack: []models.PriceSize{{Price: 1.5, Size: 10}, {Price: 1.51, Size: 3}},
			AvailableToLay:  []models.PriceSize{{Price: 1.52, Size: 8}},
		}},
	})); err != nil {
		t.Fatalf("apply image: %v", err)
	}

	a, _ := incremental.Market("1.500")
	b, _ := fresh.Market("1.500")
	ra, _ := a.Runner(4)
	rb, _ := b.Runner(4)
	if !sameLadder(ra.AvailableToBack, rb.AvailableToBack) {
		t.Fatalf("atb diverged: %+v vs %+v", ra.AvailableToBack.Levels(), rb.AvailableToBack.Levels())
	}
	if !sameLadder(ra.AvailableToLay, rb.AvailableToLay) {
		t.Fatalf("atl diverged: %+v vs %+v", ra.AvailableToLay.Levels(), rb.AvailableToLay.Levels())
	}
}

func sameLadder(a, b *ladder.Ladder) bool {
	la, lb := a.Levels(), b.Levels()
	if len(la) != len(lb) {
		return false
	}
	for i := range la {
		if la[i].Price != lb[i].Price || !la[i].Size.Equal(lb[i].Size) {
			return false
		}
	}
	return true
}

func TestOffGridLevelsAreDroppedNotFatal(t *testing.T) {
	c := NewMarketCache()
	if err := c.Apply(mcm(1, models.MarketChange{
		ID:  "1.600",
		Img: true,
		RunnerChanges: []models.RunnerChange{{
			SelectionID:     2,
			AvailableToBack: []models.PriceSize{{Price: 1.505, Size: 4}, {Price: 1.5, Size: 6}},
		}},
	})); err != nil {
		t.Fatalf("apply: %v", err)
	}
	m, _ := c.Market("1.600")
	r, _ := m.Runner(2)
	if r.AvailableToBack.Len() != 1 {
		t.Fatalf("expected only the on-grid level, got %d", r.AvailableToBack.Len())
	}
	if got := c.Stats().OffGridLevels; got != 1 {
		t.Fatalf("OffGridLevels = %d, want 1", got)
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	c := NewMarketCache()
	if err := c.Apply(mcm(1, models.MarketChange{
		ID:  "1.700",
		Img: true,
		RunnerChanges: []models.RunnerChange{{
			SelectionID:     1,
			AvailableToBack: []models.PriceSize{{Price: 1.5, Size: 10}},
		}},
	})); err != nil {
		t.Fatalf("apply: %v", err)
	}
	snap, _ := c.Market("1.700")

	if err := c.Apply(mcm(2, models.MarketChange{
		ID: "1.700",
		RunnerChanges: []models.RunnerChange{{
			SelectionID:     1,
			AvailableToBack: []models.PriceSize{{Price: 1.5, Size: 99}},
		}},
	})); err != nil {
		t.Fatalf("apply: %v", err)
	}

	r, _ := snap.Runner(1)
	if s, _ := r.AvailableToBack.Get(price.MustOf(1.5)); !s.Equal(price.SizeOf(10)) {
		t.Fatalf("snapshot mutated by later apply: %v", s)
	}
}

func TestHeartbeatAndForeignOpsIgnored(t *testing.T) {
	c := NewMarketCache()
	hb := &models.ChangeMessage{Op: models.OpMarketChange, Ct: models.CtHeartbeat, Pt: 9}
	if err := c.Apply(hb); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := c.Apply(&models.ChangeMessage{Op: models.OpStatus, StatusCode: "SUCCESS"}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if got := c.Stats().MarketsTracked; got != 0 {
		t.Fatalf("tracked = %d, want 0", got)
	}
}

func TestPublishTimeAndStats(t *testing.T) {
	c := NewMarketCache()
	if err := c.Apply(mcm(50, models.MarketChange{ID: "1.800", Img: true})); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := c.Apply(mcm(60, models.MarketChange{ID: "1.800"})); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if c.LastPublishTime() != 60 {
		t.Fatalf("LastPublishTime = %d, want 60", c.LastPublishTime())
	}
	st := c.Stats()
	if st.ImagesApplied != 1 || st.DeltasApplied != 1 || st.MarketsTracked != 1 {
		t.Fatalf("stats = %+v", st)
	}
}
