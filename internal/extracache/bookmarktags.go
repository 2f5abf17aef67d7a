package extracache

import (
	"slices"
	"sync"

	"github.com/bunchhieng/vview/internal/mediaid"
)

// BookmarkTagListener is called after the private bookmark tags of a work
// change.
type BookmarkTagListener func(id mediaid.ID, tags []string)

// BookmarkTags holds the viewer's private bookmark tags per work. They are
// only known after a bookmark detail fetch, so absence means unknown rather
// than untagged.
type BookmarkTags struct {
	mu   sync.Mutex
	tags map[mediaid.ID][]string
	subs []BookmarkTagListener
}

// NewBookmarkTags returns an empty tag cache.
func NewBookmarkTags() *BookmarkTags {
	return &BookmarkTags{tags: make(map[mediaid.ID][]string)}
}

// Get returns the known tags of id.
func (b *BookmarkTags) Get(id mediaid.ID) ([]string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tags, ok := b.tags[id.FirstPage()]
	return slices.Clone(tags), ok
}

// Set records the tags of id and notifies listeners if they changed. A nil
// tags forgets the entry.
func (b *BookmarkTags) Set(id mediaid.ID, tags []string) {
	id = id.FirstPage()

	b.mu.Lock()
	old, had := b.tags[id]
	if tags == nil {
		delete(b.tags, id)
	} else {
		tags = slices.Clone(tags)
		slices.Sort(tags)
		tags = slices.Compact(tags)
		b.tags[id] = tags
	}
	changed := had != (tags != nil) || !slices.Equal(old, tags)
	subs := b.subs
	b.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range subs {
		fn(id, slices.Clone(tags))
	}
}

// Subscribe registers fn for every change.
func (b *BookmarkTags) Subscribe(fn BookmarkTagListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}
