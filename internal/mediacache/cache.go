// Package mediacache holds the metadata of every media item a session has
// seen, at partial or full fidelity, keyed by first-page media id.
//
// Full data is authoritative: merging a partial record never replaces a field
// a full record already holds, so the result of adding a full and a partial
// record does not depend on the order they arrive in. Concurrent requests for
// the same uncached id share one fetch.
package mediacache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bunchhieng/vview/internal/mediaid"
	"github.com/bunchhieng/vview/internal/model"
	"golang.org/x/sync/singleflight"
)

// Fetcher loads the full record of one media item.
type Fetcher interface {
	FetchMedia(ctx context.Context, id mediaid.ID) (*model.MediaInfo, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, id mediaid.ID) (*model.MediaInfo, error)

func (f FetcherFunc) FetchMedia(ctx context.Context, id mediaid.ID) (*model.MediaInfo, error) {
	return f(ctx, id)
}

// Listener is called with the new state of a record after it changes. info
// is a copy the listener may keep.
type Listener func(id mediaid.ID, info *model.MediaInfo)

type subscription struct {
	id uint64
	fn Listener
}

type change struct {
	id   mediaid.ID
	info *model.MediaInfo
}

// Cache is the media info cache of one session.
type Cache struct {
	fetcher Fetcher
	logger  *slog.Logger
	group   singleflight.Group

	mu      sync.Mutex
	records map[mediaid.ID]*model.MediaInfo

	subMu   sync.Mutex
	subs    []subscription
	nextSub uint64
}

// New creates an empty cache that loads missing records through fetcher.
func New(fetcher Fetcher, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		fetcher: fetcher,
		logger:  logger.With("component", "mediacache"),
		records: make(map[mediaid.ID]*model.MediaInfo),
	}
}

// GetSync returns the cached record for id without blocking. It returns nil
// if nothing is cached, or if full is set and only partial data is cached.
func (c *Cache) GetSync(id mediaid.ID, full bool) *model.MediaInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.records[id.FirstPage()]
	if !ok || (full && !info.Full) {
		return nil
	}
	return info.Clone()
}

// GetPartialSync returns whatever is cached for id, partial or full.
func (c *Cache) GetPartialSync(id mediaid.ID) *model.MediaInfo {
	return c.GetSync(id, false)
}

// Get returns the record for id, fetching it if the cache does not hold it at
// the requested fidelity. Callers asking for the same id while a fetch is in
// flight wait for that fetch instead of starting another.
//
// If ctx is cancelled the call returns an error satisfying
// model.IsCancelled. The fetch itself keeps running for the other waiters and
// its result is still cached.
func (c *Cache) Get(ctx context.Context, id mediaid.ID, full bool) (*model.MediaInfo, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("get media info: %w", model.ErrInvalidMediaID)
	}
	id = id.FirstPage()

	if info := c.GetSync(id, full); info != nil {
		cacheHits.WithLabelValues(fidelity(full)).Inc()
		return info, nil
	}
	cacheMisses.WithLabelValues(fidelity(full)).Inc()

	if err := ctx.Err(); err != nil {
		return nil, model.Cancelled(err)
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id.String(), func() (any, error) {
		return c.fetch(fetchCtx, id)
	})

	select {
	case <-ctx.Done():
		c.logger.Debug("media info request cancelled", "media_id", id)
		return nil, model.Cancelled(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.MediaInfo).Clone(), nil
	}
}

func (c *Cache) fetch(ctx context.Context, id mediaid.ID) (*model.MediaInfo, error) {
	if c.fetcher == nil {
		mediaFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch %s: no fetcher: %w", id, model.ErrNotFound)
	}

	c.logger.Debug("fetching media info", "media_id", id)
	info, err := c.fetcher.FetchMedia(ctx, id)
	if err != nil {
		mediaFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	if info == nil {
		mediaFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch %s: %w", id, model.ErrNotFound)
	}
	mediaFetches.WithLabelValues("ok").Inc()

	info = info.Clone()
	info.MediaID = id
	return c.AddFull(info), nil
}

// AddFull stores a full record. Only preview URLs, a missing user name and
// local edits are kept from what was already cached. It returns a copy of the
// stored record.
func (c *Cache) AddFull(info *model.MediaInfo) *model.MediaInfo {
	id := info.MediaID.FirstPage()

	c.mu.Lock()
	next := info.Clone()
	next.MediaID = id
	next.Full = true
	next.FillListingFields(c.records[id])
	changed := c.storeLocked(id, next)
	stored := next.Clone()
	c.mu.Unlock()

	if changed {
		c.notify([]change{{id: id, info: stored.Clone()}})
	}
	return stored
}

// AddPartial registers records from a listing. A record already cached at
// full fidelity only gains the listing-only fields it lacks; a partial record
// is refreshed with the new values. source names the listing for logs.
func (c *Cache) AddPartial(infos []*model.MediaInfo, source string) {
	var changes []change

	c.mu.Lock()
	for _, info := range infos {
		if info == nil || info.MediaID.IsZero() {
			c.logger.Warn("ignoring media info without an id", "source", source)
			continue
		}
		id := info.MediaID.FirstPage()
		existing := c.records[id]

		var next *model.MediaInfo
		if existing != nil && existing.Full {
			next = existing.Clone()
			next.FillListingFields(info)
		} else {
			next = info.Clone()
			next.MediaID = id
			next.Full = false
			next.FillFrom(existing)
		}
		if c.storeLocked(id, next) {
			changes = append(changes, change{id: id, info: next.Clone()})
		}
	}
	c.mu.Unlock()

	c.logger.Debug("registered partial media info", "source", source, "count", len(infos), "changed", len(changes))
	c.notify(changes)
}

// UpdateBookmark sets the bookmark state of a cached record. Bookmark counts
// of full records follow the change. It reports whether the record was
// cached.
func (c *Cache) UpdateBookmark(id mediaid.ID, bookmark *model.BookmarkData) bool {
	return c.update(id, func(info *model.MediaInfo) {
		wasBookmarked := info.Bookmark != nil
		if bookmark != nil {
			b := *bookmark
			info.Bookmark = &b
		} else {
			info.Bookmark = nil
		}
		if !info.Full {
			return
		}
		switch {
		case !wasBookmarked && bookmark != nil:
			info.BookmarkCount++
		case wasBookmarked && bookmark == nil && info.BookmarkCount > 0:
			info.BookmarkCount--
		}
	})
}

// SetImageEdit attaches or, with a nil edit, removes the image edit of one
// page of a cached record. It reports whether the record was cached.
func (c *Cache) SetImageEdit(pageID mediaid.ID, edit *model.ImageEdit) bool {
	return c.update(pageID, func(info *model.MediaInfo) {
		if edit == nil {
			delete(info.ExtraData, pageID)
			if len(info.ExtraData) == 0 {
				info.ExtraData = nil
			}
			return
		}
		if info.ExtraData == nil {
			info.ExtraData = make(map[mediaid.ID]model.ImageEdit)
		}
		info.ExtraData[pageID] = *edit
	})
}

func (c *Cache) update(id mediaid.ID, fn func(*model.MediaInfo)) bool {
	id = id.FirstPage()

	c.mu.Lock()
	existing, ok := c.records[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	next := existing.Clone()
	fn(next)
	changed := c.storeLocked(id, next)
	c.mu.Unlock()

	if changed {
		c.notify([]change{{id: id, info: next.Clone()}})
	}
	return true
}

// storeLocked replaces the record for id and reports whether it changed.
func (c *Cache) storeLocked(id mediaid.ID, next *model.MediaInfo) bool {
	existing, ok := c.records[id]
	if ok && existing.Equal(next) {
		return false
	}
	if !ok {
		cachedRecords.Inc()
	}
	c.records[id] = next
	return true
}

// PageCount returns the page count of a cached illust, if known.
func (c *Cache) PageCount(id mediaid.ID) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.records[id.FirstPage()]
	if !ok || info.PageCount <= 0 {
		return 0, false
	}
	return info.PageCount, true
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Subscribe registers fn to be called after every change to a record. fn runs
// on the goroutine that made the change, before that call returns. The
// returned function removes the subscription.
func (c *Cache) Subscribe(fn Listener) (unsubscribe func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscription{id: id, fn: fn})

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

func (c *Cache) notify(changes []change) {
	if len(changes) == 0 {
		return
	}
	c.subMu.Lock()
	subs := c.subs
	c.subMu.Unlock()

	for _, ch := range changes {
		for _, s := range subs {
			s.fn(ch.id, ch.info.Clone())
		}
	}
}
