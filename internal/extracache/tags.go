// Package extracache holds the small persistent caches that sit beside the
// media info cache: tag translations, recently viewed works, private bookmark
// tags, image edits and local file types.
package extracache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bunchhieng/vview/internal/storage"
	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/arc/v2"
)

// TagTranslationsStore is the KV collection holding tag translations.
var TagTranslationsStore = storage.Schema{Name: "tag-translations"}

const tagCacheSize = 4096

// TagTranslation is the stored translation data of one tag.
type TagTranslation struct {
	Tag          string            `json:"tag"`
	Translation  map[string]string `json:"translation,omitempty"`
	Romanization string            `json:"romanization,omitempty"`
}

// TagTranslations looks up tag translations, keeping recently used ones in
// memory in front of the KV store.
type TagTranslations struct {
	store  storage.Store
	cache  *lru.ARCCache[string, TagTranslation]
	logger *slog.Logger
}

// NewTagTranslations returns a translation cache over store.
func NewTagTranslations(store storage.Store, logger *slog.Logger) (*TagTranslations, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.NewARC[string, TagTranslation](tagCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create tag cache: %w", err)
	}
	return &TagTranslations{
		store:  store,
		cache:  cache,
		logger: logger.With("component", "tag-translations"),
	}, nil
}

// Add stores translations, merging each with what is already stored for the
// tag. Stored languages missing from the new data are kept.
func (t *TagTranslations) Add(ctx context.Context, translations []TagTranslation) error {
	if len(translations) == 0 {
		return nil
	}
	keys := make([]string, len(translations))
	for i, tr := range translations {
		keys[i] = tr.Tag
	}

	existing, err := storage.MultiGetJSON[TagTranslation](ctx, t.store, keys)
	if err != nil {
		return fmt.Errorf("load tag translations: %w", err)
	}

	merged := make(map[string]TagTranslation, len(translations))
	for _, tr := range translations {
		if tr.Tag == "" {
			continue
		}
		cur, ok := merged[tr.Tag]
		if !ok {
			cur = existing[tr.Tag]
			cur.Tag = tr.Tag
		}
		if cur.Translation == nil {
			cur.Translation = make(map[string]string)
		}
		for lang, text := range tr.Translation {
			cur.Translation[lang] = text
		}
		if tr.Romanization != "" {
			cur.Romanization = tr.Romanization
		}
		merged[tr.Tag] = cur
	}

	entries := make([]storage.Entry, 0, len(merged))
	for tag, tr := range merged {
		data, err := json.Marshal(tr)
		if err != nil {
			return fmt.Errorf("encode translation for %s: %w", tag, err)
		}
		entries = append(entries, storage.Entry{Key: tag, Value: data})
	}
	if err := t.store.MultiSet(ctx, entries); err != nil {
		return fmt.Errorf("store tag translations: %w", err)
	}
	for tag, tr := range merged {
		t.cache.Add(tag, tr)
	}
	t.logger.Debug("stored tag translations", "count", len(merged))
	return nil
}

// Get returns the stored translations of tags. Tags without a stored entry
// are left out.
func (t *TagTranslations) Get(ctx context.Context, tags []string) (map[string]TagTranslation, error) {
	out := make(map[string]TagTranslation, len(tags))
	var missing []string
	for _, tag := range tags {
		if tr, ok := t.cache.Get(tag); ok {
			out[tag] = tr
			continue
		}
		missing = append(missing, tag)
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := storage.MultiGetJSON[TagTranslation](ctx, t.store, missing)
	if err != nil {
		return nil, fmt.Errorf("load tag translations: %w", err)
	}
	for tag, tr := range loaded {
		t.cache.Add(tag, tr)
		out[tag] = tr
	}
	return out, nil
}

// Translate returns the translation of each tag into lang, falling back to
// the romanization and then the tag itself.
func (t *TagTranslations) Translate(ctx context.Context, tags []string, lang string) (map[string]string, error) {
	stored, err := t.Get(ctx, tags)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(tags))
	for _, tag := range tags {
		tr := stored[tag]
		switch {
		case tr.Translation[lang] != "":
			out[tag] = tr.Translation[lang]
		case tr.Romanization != "":
			out[tag] = tr.Romanization
		default:
			out[tag] = tag
		}
	}
	return out, nil
}
