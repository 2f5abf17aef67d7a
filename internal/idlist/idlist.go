// Package idlist tracks the media ids of a paginated listing, page by page,
// and answers next/previous navigation across page boundaries.
package idlist

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/bunchhieng/vview/internal/mediaid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// maxNeighborSteps bounds the search for an illust-type neighbour.
const maxNeighborSteps = 100

var duplicatesDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vview_idlist_duplicates_dropped_total",
	Help: "Media ids dropped from a listing page because an earlier page already had them",
})

// Direction is the way navigation moves through a listing.
type Direction int

const (
	Next Direction = iota
	Previous
)

func (d Direction) String() string {
	if d == Previous {
		return "previous"
	}
	return "next"
}

// MangaMode controls how navigation treats the pages of multi-page works.
type MangaMode int

const (
	// MangaNormal steps through every page before moving to the next work,
	// and moving back from page 0 lands on the previous work's last page.
	MangaNormal MangaMode = iota
	// MangaSkipToFirst always lands on page 0 of the neighbouring work.
	MangaSkipToFirst
	// MangaSkipPast moves forward a whole work at a time but steps back
	// like MangaNormal.
	MangaSkipPast
)

// ParseMangaMode maps "normal", "skip-to-first" and "skip-past" to a mode.
func ParseMangaMode(s string) (MangaMode, bool) {
	switch s {
	case "normal", "":
		return MangaNormal, true
	case "skip-to-first":
		return MangaSkipToFirst, true
	case "skip-past":
		return MangaSkipPast, true
	}
	return MangaNormal, false
}

// PageCounter reports how many pages a work has, if known.
type PageCounter interface {
	PageCount(id mediaid.ID) (int, bool)
}

// List maps listing page numbers (from 1) to the media ids on each page. A
// media id is on at most one page.
type List struct {
	counter PageCounter
	logger  *slog.Logger

	mu    sync.Mutex
	pages map[int][]mediaid.ID
	// index maps every stored id to its page.
	index map[mediaid.ID]int
}

// New creates an empty list. counter may be nil, in which case every work is
// treated as having an unknown page count.
func New(counter PageCounter, logger *slog.Logger) *List {
	if logger == nil {
		logger = slog.Default()
	}
	return &List{
		counter: counter,
		logger:  logger.With("component", "idlist"),
		pages:   make(map[int][]mediaid.ID),
		index:   make(map[mediaid.ID]int),
	}
}

// AddPage stores the ids of one listing page. Ids already stored on another
// page, or repeated within ids, are dropped. A page left empty is only
// stored when allowEmpty is set. A page that is already stored is never
// replaced. AddPage reports whether the page was stored.
func (l *List) AddPage(page int, ids []mediaid.ID, allowEmpty bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if page < 1 {
		l.logger.Warn("ignoring invalid page number", "page", page)
		return false
	}
	if _, ok := l.pages[page]; ok {
		l.logger.Warn("page already loaded, keeping existing ids", "page", page)
		return false
	}

	kept := make([]mediaid.ID, 0, len(ids))
	seen := make(map[mediaid.ID]struct{}, len(ids))
	for _, id := range ids {
		id = id.FirstPage()
		if other, ok := l.index[id]; ok {
			l.logger.Warn("dropping duplicate media id", "media_id", id, "page", page, "existing_page", other)
			duplicatesDropped.Inc()
			continue
		}
		if _, ok := seen[id]; ok {
			l.logger.Warn("dropping repeated media id", "media_id", id, "page", page)
			duplicatesDropped.Inc()
			continue
		}
		seen[id] = struct{}{}
		kept = append(kept, id)
	}

	if len(kept) == 0 && !allowEmpty {
		l.logger.Debug("not storing empty page", "page", page, "received", len(ids))
		return false
	}

	l.pages[page] = kept
	for _, id := range kept {
		l.index[id] = page
	}
	return true
}

// IsPageLoaded reports whether page is stored.
func (l *List) IsPageLoaded(page int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.pages[page]
	return ok
}

// LoadedPages returns the stored page numbers in order.
func (l *List) LoadedPages() []int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.sortedPagesLocked()
}

func (l *List) sortedPagesLocked() []int {
	pages := make([]int, 0, len(l.pages))
	for p := range l.pages {
		pages = append(pages, p)
	}
	slices.Sort(pages)
	return pages
}

// LowestPage returns the lowest stored page number.
func (l *List) LowestPage() (int, bool) {
	pages := l.LoadedPages()
	if len(pages) == 0 {
		return 0, false
	}
	return pages[0], true
}

// HighestPage returns the highest stored page number.
func (l *List) HighestPage() (int, bool) {
	pages := l.LoadedPages()
	if len(pages) == 0 {
		return 0, false
	}
	return pages[len(pages)-1], true
}

// IDsOnPage returns a copy of the ids stored for page.
func (l *List) IDsOnPage(page int) []mediaid.ID {
	l.mu.Lock()
	defer l.mu.Unlock()

	return slices.Clone(l.pages[page])
}

// AllMediaIDs returns every stored id in page order.
func (l *List) AllMediaIDs() []mediaid.ID {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]mediaid.ID, 0, len(l.index))
	for _, p := range l.sortedPagesLocked() {
		out = append(out, l.pages[p]...)
	}
	return out
}

// PageOf returns the page holding id. Any page of a work finds the work.
func (l *List) PageOf(id mediaid.ID) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	page, ok := l.index[id.FirstPage()]
	return page, ok
}

// FirstID returns the first id of the lowest non-empty page.
func (l *List) FirstID() (mediaid.ID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.sortedPagesLocked() {
		if ids := l.pages[p]; len(ids) > 0 {
			return ids[0], true
		}
	}
	return mediaid.ID{}, false
}

// LastID returns the last id of the highest non-empty page.
func (l *List) LastID() (mediaid.ID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pages := l.sortedPagesLocked()
	for i := len(pages) - 1; i >= 0; i-- {
		if ids := l.pages[pages[i]]; len(ids) > 0 {
			return ids[len(ids)-1], true
		}
	}
	return mediaid.ID{}, false
}

// GetNeighboringMediaID returns the illust or file next to id in dir,
// skipping user and folder entries. It returns false when there is no
// neighbour among the loaded pages, including when the neighbour would be on
// a page that is not loaded yet; the caller can load that page and ask again.
func (l *List) GetNeighboringMediaID(id mediaid.ID, dir Direction, mode MangaMode) (mediaid.ID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stepPages := mode == MangaNormal || (mode == MangaSkipPast && dir == Previous)

	for i := 0; i < maxNeighborSteps; i++ {
		next, ok := l.neighborLocked(id, dir, stepPages)
		if !ok {
			return mediaid.ID{}, false
		}
		if next.Type == mediaid.TypeIllust || next.Type == mediaid.TypeFile {
			return next, true
		}
		id = next
	}
	l.logger.Warn("gave up looking for a neighbouring media id", "media_id", id, "direction", dir)
	return mediaid.ID{}, false
}

func (l *List) neighborLocked(id mediaid.ID, dir Direction, stepPages bool) (mediaid.ID, bool) {
	if id.Type == mediaid.TypeIllust && stepPages {
		if count, ok := l.pageCount(id); ok {
			if dir == Next && id.Page < count-1 {
				return id.ForPage(id.Page + 1), true
			}
			if dir == Previous && id.Page > 0 {
				return id.ForPage(id.Page - 1), true
			}
		}
	}

	page, ok := l.index[id.FirstPage()]
	if !ok {
		return mediaid.ID{}, false
	}
	ids := l.pages[page]
	pos := slices.Index(ids, id.FirstPage())

	var next mediaid.ID
	if dir == Next && pos+1 < len(ids) {
		next = ids[pos+1]
	} else if dir == Previous && pos > 0 {
		next = ids[pos-1]
	} else {
		found := false
		for i := 0; i < maxNeighborSteps; i++ {
			if dir == Next {
				page++
			} else {
				page--
			}
			adjacent, loaded := l.pages[page]
			if !loaded {
				return mediaid.ID{}, false
			}
			if len(adjacent) == 0 {
				continue
			}
			if dir == Next {
				next = adjacent[0]
			} else {
				next = adjacent[len(adjacent)-1]
			}
			found = true
			break
		}
		if !found {
			return mediaid.ID{}, false
		}
	}

	// Stepping back into a work lands on its last page, when that is known.
	if dir == Previous && stepPages && next.Type == mediaid.TypeIllust {
		if count, ok := l.pageCount(next); ok {
			next = next.ForPage(count - 1)
		}
	}
	return next, true
}

func (l *List) pageCount(id mediaid.ID) (int, bool) {
	if l.counter == nil {
		return 0, false
	}
	return l.counter.PageCount(id)
}
