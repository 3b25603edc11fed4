package ladder

import (
	"github.com/google/btree"

	"betstream/internal/price"
)

// Level is one rung of a ladder: the available (or traded) size at a price.
type Level struct {
	Price price.Price
	Size  price.Size
}

func levelLess(a, b Level) bool {
	return a.Price.Cents() < b.Price.Cents()
}

// Ladder maps Price to Size for one side of one runner's book. Enumeration
// order is tick index ascending; whether that is best-to-worst depends on
// the side, which the ladder does not know. At most one size exists per
// price. A zero size is removed on update.
type Ladder struct {
	tree *btree.BTreeG[Level]
}

// New returns an empty ladder.
func New() *Ladder {
	return &Ladder{tree: btree.NewG[Level](8, levelLess)}
}

// Update upserts the size at a price. Size zero deletes the level.
func (l *Ladder) Update(p price.Price, s price.Size) {
	if p.IsZero() {
		return
	}
	if s.IsZero() {
		l.tree.Delete(Level{Price: p})
		return
	}
	l.tree.ReplaceOrInsert(Level{Price: p, Size: s})
}

// Replace swaps the whole ladder for the supplied levels. Levels absent from
// the new image no longer exist.
func (l *Ladder) Replace(levels []Level) {
	l.tree = btree.NewG[Level](8, levelLess)
	for _, lv := range levels {
		l.Update(lv.Price, lv.Size)
	}
}

// Get returns the size at a price.
func (l *Ladder) Get(p price.Price) (price.Size, bool) {
	lv, ok := l.tree.Get(Level{Price: p})
	if !ok {
		return price.Size{}, false
	}
	return lv.Size, true
}

// Len returns the number of populated levels.
func (l *Ladder) Len() int {
	return l.tree.Len()
}

// Ascend walks the ladder in tick index ascending order until fn returns
// false.
func (l *Ladder) Ascend(fn func(Level) bool) {
	l.tree.Ascend(btree.ItemIteratorG[Level](fn))
}

// Levels returns all levels in tick index ascending order.
func (l *Ladder) Levels() []Level {
	out := make([]Level, 0, l.tree.Len())
	l.tree.Ascend(func(lv Level) bool {
		out = append(out, lv)
		return true
	})
	return out
}

// First returns the lowest-priced level.
func (l *Ladder) First() (Level, bool) {
	return l.tree.Min()
}

// Last returns the highest-priced level.
func (l *Ladder) Last() (Level, bool) {
	return l.tree.Max()
}

// TotalSize sums the sizes across all levels.
func (l *Ladder) TotalSize() price.Size {
	var total price.Size
	l.tree.Ascend(func(lv Level) bool {
		total = total.Add(lv.Size)
		return true
	})
	return total
}

// Clone returns a copy-on-write snapshot safe for concurrent reads while
// the original keeps mutating.
func (l *Ladder) Clone() *Ladder {
	return &Ladder{tree: l.tree.Clone()}
}
