package extracache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bunchhieng/vview/internal/mediaid"
	"github.com/bunchhieng/vview/internal/storage"
	"github.com/goccy/go-json"
)

// RecentIllustsStore is the KV collection of recently viewed works.
var RecentIllustsStore = storage.Schema{
	Name:    "recent-illusts",
	Indexes: []storage.Index{{Name: "last_viewed", Path: "last_viewed"}},
}

// DefaultMaxRecent is the number of recently viewed works kept by default.
const DefaultMaxRecent = 200

type recentEntry struct {
	MediaID    mediaid.ID `json:"media_id"`
	LastViewed int64      `json:"last_viewed"`
}

// RecentIllusts records which works were viewed, newest first.
type RecentIllusts struct {
	store  storage.Store
	max    int
	now    func() time.Time
	logger *slog.Logger
}

// NewRecentIllusts keeps up to max entries in store. max <= 0 uses
// DefaultMaxRecent.
func NewRecentIllusts(store storage.Store, max int, logger *slog.Logger) *RecentIllusts {
	if max <= 0 {
		max = DefaultMaxRecent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecentIllusts{
		store:  store,
		max:    max,
		now:    time.Now,
		logger: logger.With("component", "recent-illusts"),
	}
}

// Add marks ids as viewed now, then prunes the oldest entries over the limit.
// Later ids in the slice count as more recent.
func (r *RecentIllusts) Add(ctx context.Context, ids ...mediaid.ID) error {
	if len(ids) == 0 {
		return nil
	}
	base := r.now().UnixMilli()
	entries := make([]storage.Entry, 0, len(ids))
	for i, id := range ids {
		id = id.FirstPage()
		data, err := json.Marshal(recentEntry{MediaID: id, LastViewed: base + int64(i)})
		if err != nil {
			return fmt.Errorf("encode recent entry: %w", err)
		}
		entries = append(entries, storage.Entry{Key: id.String(), Value: data})
	}
	if err := r.store.MultiSet(ctx, entries); err != nil {
		return fmt.Errorf("store recent illusts: %w", err)
	}
	return r.prune(ctx)
}

func (r *RecentIllusts) prune(ctx context.Context) error {
	var stale []string
	seen := 0
	err := r.store.Each(ctx, storage.CursorOptions{
		Index:     "last_viewed",
		Direction: storage.Descending,
	}, func(e storage.Entry) (bool, error) {
		seen++
		if seen > r.max {
			stale = append(stale, e.Key)
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("scan recent illusts: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	if err := r.store.MultiDelete(ctx, stale); err != nil {
		return fmt.Errorf("prune recent illusts: %w", err)
	}
	r.logger.Debug("pruned recent illusts", "removed", len(stale))
	return nil
}

// List returns up to limit recently viewed works, newest first. limit <= 0
// returns all of them.
func (r *RecentIllusts) List(ctx context.Context, limit int) ([]mediaid.ID, error) {
	var ids []mediaid.ID
	err := r.store.Each(ctx, storage.CursorOptions{
		Index:     "last_viewed",
		Direction: storage.Descending,
		Limit:     limit,
	}, func(e storage.Entry) (bool, error) {
		entry, err := storage.DecodeEntry[recentEntry](e)
		if err != nil {
			return false, err
		}
		ids = append(ids, entry.MediaID)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list recent illusts: %w", err)
	}
	return ids, nil
}

// Remove forgets ids.
func (r *RecentIllusts) Remove(ctx context.Context, ids ...mediaid.ID) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.FirstPage().String()
	}
	return r.store.MultiDelete(ctx, keys)
}
