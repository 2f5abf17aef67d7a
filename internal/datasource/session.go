package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/bunchhieng/vview/internal/idlist"
	"github.com/bunchhieng/vview/internal/mediacache"
	"github.com/bunchhieng/vview/internal/mediaid"
	"github.com/bunchhieng/vview/internal/model"
	"golang.org/x/sync/singleflight"
)

// maxNeighborLoads bounds how many pages Neighbor loads looking for an item.
const maxNeighborLoads = 10

// Session is one browsing session over a listing: the source, the id list
// built from its pages, and the media cache its records go to.
type Session struct {
	id     string
	source Source
	cache  *mediacache.Cache
	list   *idlist.List
	logger *slog.Logger
	pages  singleflight.Group

	mu       sync.Mutex
	lastPage int
}

// NewSession starts a session over source, registering listed records in
// cache.
func NewSession(source Source, cache *mediacache.Cache, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := model.GenerateShortID()
	logger = logger.With("component", "session", "session", id, "source", source.Name())
	return &Session{
		id:     id,
		source: source,
		cache:  cache,
		list:   idlist.New(cache, logger),
		logger: logger,
	}
}

// ID returns the session's identifier.
func (s *Session) ID() string {
	return s.id
}

// Source returns the listing source.
func (s *Session) Source() Source {
	return s.source
}

// List returns the session's id list.
func (s *Session) List() *idlist.List {
	return s.list
}

// LastPage returns the last page of the listing if the source has said.
func (s *Session) LastPage() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPage, s.lastPage > 0
}

// LoadedRange returns the lowest and highest listing pages loaded so far.
// Pages in between may still be missing.
func (s *Session) LoadedRange() (lo, hi int, ok bool) {
	lo, ok = s.list.LowestPage()
	if !ok {
		return 0, 0, false
	}
	hi, _ = s.list.HighestPage()
	return lo, hi, true
}

// LoadPage makes sure page is in the id list. Concurrent loads of the same
// page share one request. A page whose ids were all listed already is
// stored empty so navigation can move past it.
func (s *Session) LoadPage(ctx context.Context, page int) (PageLoadResult, error) {
	if page < 1 {
		return PageLoadResult{Status: OutOfRange, Page: page}, nil
	}
	if s.list.IsPageLoaded(page) {
		return PageLoadResult{Status: Loaded, Page: page, IDs: s.list.IDsOnPage(page)}, nil
	}
	if last, ok := s.LastPage(); ok && page > last {
		return PageLoadResult{Status: OutOfRange, Page: page}, nil
	}
	if err := ctx.Err(); err != nil {
		return PageLoadResult{}, model.Cancelled(err)
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := s.pages.DoChan(strconv.Itoa(page), func() (any, error) {
		return s.load(loadCtx, page)
	})
	select {
	case <-ctx.Done():
		s.logger.Debug("page load cancelled", "page", page)
		return PageLoadResult{}, model.Cancelled(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return PageLoadResult{}, res.Err
		}
		return res.Val.(PageLoadResult), nil
	}
}

func (s *Session) load(ctx context.Context, page int) (PageLoadResult, error) {
	if s.list.IsPageLoaded(page) {
		return PageLoadResult{Status: Loaded, Page: page, IDs: s.list.IDsOnPage(page)}, nil
	}

	listing, err := s.source.FetchPage(ctx, page)
	if err != nil {
		return PageLoadResult{}, fmt.Errorf("load page %d of %s: %w", page, s.source.Name(), err)
	}
	if listing.Status != Loaded {
		s.logger.Debug("page not loaded", "page", page, "status", listing.Status)
		return PageLoadResult{Status: listing.Status, Page: page}, nil
	}

	if listing.LastPage > 0 {
		s.mu.Lock()
		s.lastPage = listing.LastPage
		s.mu.Unlock()
	}

	s.cache.AddPartial(listing.Items, s.source.Name())

	if len(listing.IDs) == 0 {
		s.logger.Debug("listing ended", "page", page)
		s.mu.Lock()
		if s.lastPage == 0 || s.lastPage >= page {
			s.lastPage = page - 1
		}
		s.mu.Unlock()
		return PageLoadResult{Status: OutOfRange, Page: page}, nil
	}

	if !s.list.AddPage(page, listing.IDs, false) && !s.list.IsPageLoaded(page) {
		s.logger.Info("every id on page was already listed", "page", page, "count", len(listing.IDs))
		s.list.AddPage(page, nil, true)
	}
	return PageLoadResult{Status: Loaded, Page: page, IDs: s.list.IDsOnPage(page)}, nil
}

// Neighbor returns the item next to id in dir, loading the adjacent listing
// page when the id list does not reach far enough yet. It returns false at
// either end of the listing.
func (s *Session) Neighbor(ctx context.Context, id mediaid.ID, dir idlist.Direction, mode idlist.MangaMode) (mediaid.ID, bool, error) {
	for i := 0; i < maxNeighborLoads; i++ {
		if next, ok := s.list.GetNeighboringMediaID(id, dir, mode); ok {
			return next, true, nil
		}

		page, ok := s.list.PageOf(id)
		if !ok {
			return mediaid.ID{}, false, nil
		}
		step := 1
		if dir == idlist.Previous {
			step = -1
		}
		target := page + step
		for s.list.IsPageLoaded(target) {
			target += step
		}
		if target < 1 {
			return mediaid.ID{}, false, nil
		}

		res, err := s.LoadPage(ctx, target)
		if err != nil {
			return mediaid.ID{}, false, err
		}
		if res.Status != Loaded {
			return mediaid.ID{}, false, nil
		}
	}
	s.logger.Warn("gave up loading pages for neighbour", "media_id", id, "direction", dir)
	return mediaid.ID{}, false, nil
}

// First returns the first item of the listing, loading page 1 if needed.
func (s *Session) First(ctx context.Context) (mediaid.ID, bool, error) {
	if id, ok := s.list.FirstID(); ok {
		return id, true, nil
	}
	for page := 1; page <= maxNeighborLoads; page++ {
		res, err := s.LoadPage(ctx, page)
		if err != nil {
			return mediaid.ID{}, false, err
		}
		if res.Status != Loaded {
			return mediaid.ID{}, false, nil
		}
		if id, ok := s.list.FirstID(); ok {
			return id, true, nil
		}
	}
	return mediaid.ID{}, false, nil
}
