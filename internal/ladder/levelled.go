package ladder

import "betstream/internal/price"

// MaxLevels bounds the levelled best-offer ladders; the subscription's
// ladderLevels field may ask for 1 to 10.
const MaxLevels = 10

// Levelled is a best-offers ladder indexed by level, where level 0 is the
// best price. The server addresses updates by level, so an update at an
// occupied level overwrites it and a zero size vacates it.
type Levelled struct {
	slots [MaxLevels]Level
	used  [MaxLevels]bool
}

// NewLevelled returns an empty levelled ladder.
func NewLevelled() *Levelled {
	return &Levelled{}
}

// Update sets the price/size at a level. Size zero vacates the level.
// Levels outside the supported range are ignored.
func (l *Levelled) Update(level int, p price.Price, s price.Size) {
	if level < 0 || level >= MaxLevels {
		return
	}
	if s.IsZero() {
		l.slots[level] = Level{}
		l.used[level] = false
		return
	}
	l.slots[level] = Level{Price: p, Size: s}
	l.used[level] = true
}

// Replace swaps the whole ladder for the supplied per-level entries.
func (l *Levelled) Replace(levels []int, entries []Level) {
	*l = Levelled{}
	for i, lv := range levels {
		l.Update(lv, entries[i].Price, entries[i].Size)
	}
}

// Best returns the level-0 entry.
func (l *Levelled) Best() (Level, bool) {
	return l.slots[0], l.used[0]
}

// At returns the entry at a level.
func (l *Levelled) At(level int) (Level, bool) {
	if level < 0 || level >= MaxLevels {
		return Level{}, false
	}
	return l.slots[level], l.used[level]
}

// Levels returns the occupied entries in level order.
func (l *Levelled) Levels() []Level {
	out := make([]Level, 0, MaxLevels)
	for i, used := range l.used {
		if used {
			out = append(out, l.slots[i])
		}
	}
	return out
}

// TotalSize sums sizes across occupied levels.
func (l *Levelled) TotalSize() price.Size {
	var total price.Size
	for i, used := range l.used {
		if used {
			total = total.Add(l.slots[i].Size)
		}
	}
	return total
}

// Clone returns an independent copy.
func (l *Levelled) Clone() *Levelled {
	c := *l
	return &c
}

// BestAvailable is a display view over the top of a levelled ladder: the
// best price and size plus the volume summed across all levels.
type BestAvailable struct {
	Price price.Price
	Size  price.Size
	Total price.Size
}

// BestView summarises the ladder for display and decision logic.
func (l *Levelled) BestView() (BestAvailable, bool) {
	best, ok := l.Best()
	if !ok {
		return BestAvailable{}, false
	}
	return BestAvailable{Price: best.Price, Size: best.Size, Total: l.TotalSize()}, true
}
