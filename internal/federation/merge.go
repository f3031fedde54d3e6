package federation

import (
	"container/heap"

	"github.com/crosscheck-systems/crosscheck/internal/models"
)

// siteBatch is one site's locally ordered page buffer.
type siteBatch struct {
	Site models.SiteKey
	Rows []models.EventRow
}

// The canonical global order is (ts desc, site asc, id desc): timestamps
// decide, and ties break deterministically by site key and then by the
// row's ID within that one site. IDs from different sites never get
// compared against each other.
func lessDesc(a, b *cursorRow) bool {
	if !a.row.TS.Equal(b.row.TS) {
		return a.row.TS.After(b.row.TS)
	}
	if a.site != b.site {
		return a.site < b.site
	}
	return a.row.ID > b.row.ID
}

// lessAsc is the exact reverse of lessDesc, so paging backward walks the
// same total order in the opposite direction.
func lessAsc(a, b *cursorRow) bool {
	return lessDesc(b, a)
}

type cursorRow struct {
	site  models.SiteKey
	row   models.EventRow
	batch int // index into the batch slice
	pos   int // next row position within the batch
}

type rowHeap struct {
	items []*cursorRow
	less  func(a, b *cursorRow) bool
}

func (h *rowHeap) Len() int            { return len(h.items) }
func (h *rowHeap) Less(i, j int) bool  { return h.less(h.items[i], h.items[j]) }
func (h *rowHeap) Swap(i, j int)       { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *rowHeap) Push(x any)          { h.items = append(h.items, x.(*cursorRow)) }
func (h *rowHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// merge performs a k-way merge over at most one buffered page per site,
// bounding memory to the fan-out width rather than the global result
// size. asc=false walks the canonical order; asc=true walks its reverse.
// Each site's batch must already be sorted the same way locally.
func merge(batches []siteBatch, asc bool) []models.GlobalRow {
	less := lessDesc
	if asc {
		less = lessAsc
	}

	h := &rowHeap{less: less}
	total := 0
	for i, b := range batches {
		total += len(b.Rows)
		if len(b.Rows) == 0 {
			continue
		}
		h.items = append(h.items, &cursorRow{site: b.Site, row: b.Rows[0], batch: i, pos: 1})
	}
	heap.Init(h)

	out := make([]models.GlobalRow, 0, total)
	for h.Len() > 0 {
		top := h.items[0]
		out = append(out, models.GlobalRow{EventRow: top.row, Site: top.site, Seq: len(out)})
		if top.pos < len(batches[top.batch].Rows) {
			top.row = batches[top.batch].Rows[top.pos]
			top.pos++
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}
	return out
}
