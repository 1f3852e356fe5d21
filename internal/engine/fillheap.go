package engine

import (
	"container/heap"

	"github.com/chidi150c/gridbot/internal/model"
)

// fillHeap orders queued fills by exchange timestamp so drainFills
// processes them in exchange-timestamp order within a tick, per §5's
// "monotonic-timestamp heap" ordering guarantee.
type fillHeap struct {
	items fillItems
}

func newFillHeap() *fillHeap { return &fillHeap{items: fillItems{}} }

func (h *fillHeap) push(f model.Fill) {
	heap.Push(&h.items, f)
}

func (h *fillHeap) pop() model.Fill {
	return heap.Pop(&h.items).(model.Fill)
}

func (h *fillHeap) len() int { return h.items.Len() }

type fillItems []model.Fill

func (fs fillItems) Len() int { return len(fs) }
func (fs fillItems) Less(i, j int) bool {
	return fs[i].Timestamp.Before(fs[j].Timestamp)
}
func (fs fillItems) Swap(i, j int) { fs[i], fs[j] = fs[j], fs[i] }

func (fs *fillItems) Push(x any) {
	*fs = append(*fs, x.(model.Fill))
}

func (fs *fillItems) Pop() any {
	old := *fs
	n := len(old)
	item := old[n-1]
	*fs = old[:n-1]
	return item
}
