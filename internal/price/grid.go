package price

// The exchange quotes odds on a fixed grid of 350 prices between 1.01 and
// 1000. Step size grows with price. The grid is built once in integer
// hundredths so no floating point accumulation can corrupt it.

type band struct {
	hi   int64 // upper bound of the band, hundredths, inclusive
	step int64 // tick spacing inside the band, hundredths
}

var bands = []band{
	{200, 1},
	{300, 2},
	{400, 5},
	{600, 10},
	{1000, 20},
	{2000, 50},
	{3000, 100},
	{5000, 200},
	{10000, 500},
	{100000, 1000},
}

const minCents = 101

var (
	gridCents []int64
	gridIndex map[int64]int
)

func init() {
	gridCents = make([]int64, 0, 350)
	cur := int64(minCents)
	gridCents = append(gridCents, cur)
	for _, b := range bands {
		for cur < b.hi {
			cur += b.step
			gridCents = append(gridCents, cur)
		}
	}
	gridIndex = make(map[int64]int, len(gridCents))
	for i, c := range gridCents {
		gridIndex[c] = i
	}
	if len(gridCents) != 350 {
		panic("price: tick grid corrupted")
	}
}

// TickCount returns the number of legal prices on the grid.
func TickCount() int {
	return len(gridCents)
}
