package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bunchhieng/vview/internal/datasource"
	"github.com/bunchhieng/vview/internal/download"
	"github.com/bunchhieng/vview/internal/extracache"
	"github.com/bunchhieng/vview/internal/mediacache"
	"github.com/bunchhieng/vview/internal/mediaid"
	"github.com/bunchhieng/vview/internal/model"
	"github.com/bunchhieng/vview/internal/storage"
)

// Config is everything a Session needs from the command line.
type Config struct {
	// DBPath is the database file; empty means DefaultDBPath.
	DBPath string
	// APIHost is the pixiv host.
	APIHost string
	// LocalHost is the local file server; empty disables local ids.
	LocalHost string
	// Cookie is sent to the pixiv host.
	Cookie    string
	RateLimit float64
	MaxRecent int
}

// DefaultDBPath returns the default database path using the platform's config directory.
func DefaultDBPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "vview", "vview.db"), nil
}

// ReadCookieFile reads a cookie header value from path. Blank lines and lines
// starting with # are skipped and the rest are joined with "; ".
func ReadCookieFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read cookie file: %w", err)
	}
	var parts []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts = append(parts, strings.TrimSuffix(line, ";"))
	}
	return strings.Join(parts, "; "), nil
}

// Session wires one database, one media cache and the auxiliary caches
// together. Every listing opened through it shares the same media cache.
type Session struct {
	DB           *storage.DB
	Media        *mediacache.Cache
	Remote       *datasource.Client
	Local        *datasource.Client
	Edits        *extracache.ImageEdits
	Tags         *extracache.TagTranslations
	Recent       *extracache.RecentIllusts
	BookmarkTags *extracache.BookmarkTags
	FileTypes    *extracache.FileTypeGuesser
	Downloader   *download.Downloader

	logger      *slog.Logger
	unsubscribe func()
}

// NewSession opens the database and builds the caches for config.
func NewSession(ctx context.Context, config Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.DBPath == "" {
		var err error
		config.DBPath, err = DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("default db path: %w", err)
		}
	}
	if config.MaxRecent <= 0 {
		config.MaxRecent = extracache.DefaultMaxRecent
	}

	db, err := storage.Open(config.DBPath, logger)
	if err != nil {
		return nil, err
	}
	s := &Session{DB: db, logger: logger.With("component", "app")}
	if err := s.init(ctx, config, logger); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) init(ctx context.Context, config Config, logger *slog.Logger) error {
	editStore, err := s.DB.Register(ctx, extracache.ImageEditsStore)
	if err != nil {
		return err
	}
	tagStore, err := s.DB.Register(ctx, extracache.TagTranslationsStore)
	if err != nil {
		return err
	}
	recentStore, err := s.DB.Register(ctx, extracache.RecentIllustsStore)
	if err != nil {
		return err
	}

	s.FileTypes, err = extracache.NewFileTypeGuesser()
	if err != nil {
		return err
	}

	s.Remote = datasource.NewClient(datasource.ClientConfig{
		BaseURL:   config.APIHost,
		Cookie:    config.Cookie,
		RateLimit: config.RateLimit,
		Logger:    logger,
	})
	fetcher := datasource.RoutingFetcher{Remote: datasource.NewPixivFetcher(s.Remote, logger)}
	if config.LocalHost != "" {
		s.Local = datasource.NewClient(datasource.ClientConfig{
			BaseURL:   config.LocalHost,
			RateLimit: 100,
			Logger:    logger,
		})
		fetcher.Local = datasource.NewLocalFetcher(s.Local, s.FileTypes, logger)
	}

	s.Media = mediacache.New(fetcher, logger)
	s.Edits = extracache.NewImageEdits(editStore, s.Media, logger)
	s.Recent = extracache.NewRecentIllusts(recentStore, config.MaxRecent, logger)
	s.BookmarkTags = extracache.NewBookmarkTags()
	s.Downloader = download.New(s.Remote, logger)

	s.Tags, err = extracache.NewTagTranslations(tagStore, logger)
	if err != nil {
		return err
	}
	// Private tags belong to a bookmark and go away with it.
	s.unsubscribe = s.Media.Subscribe(func(id mediaid.ID, info *model.MediaInfo) {
		if info.Bookmark == nil {
			s.BookmarkTags.Set(id, nil)
		}
	})
	return nil
}

// Close releases the database.
func (s *Session) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	return s.DB.Close()
}

// Search opens a listing of search results for word. Tag translations that
// come with result pages are stored.
func (s *Session) Search(word, order string) *datasource.Session {
	src := datasource.NewSearchSource(s.Remote, word, order)
	src.OnTagTranslations(s.storeTagTranslations)
	return datasource.NewSession(src, s.Media, s.logger)
}

func (s *Session) storeTagTranslations(ctx context.Context, translations map[string]map[string]string) {
	list := make([]extracache.TagTranslation, 0, len(translations))
	for tag, langs := range translations {
		tr := extracache.TagTranslation{Tag: tag, Romanization: langs["romaji"]}
		for lang, text := range langs {
			if lang == "romaji" || text == "" {
				continue
			}
			if tr.Translation == nil {
				tr.Translation = make(map[string]string)
			}
			tr.Translation[lang] = text
		}
		list = append(list, tr)
	}
	if err := s.Tags.Add(ctx, list); err != nil {
		s.logger.Warn("failed to store tag translations", "count", len(list), "error", err)
	}
}

// Bookmarks opens a listing of a user's bookmarks. The bookmark tags that
// come with result pages are remembered.
func (s *Session) Bookmarks(userID string, private bool) *datasource.Session {
	src := datasource.NewBookmarksSource(s.Remote, userID, private)
	src.OnBookmarkTags(func(tags map[mediaid.ID][]string) {
		for id, t := range tags {
			s.BookmarkTags.Set(id, t)
		}
	})
	return datasource.NewSession(src, s.Media, s.logger)
}

// ErrNoLocalServer means a local id was used without a local server.
var ErrNoLocalServer = errors.New("no local server configured")

// LocalFolder opens a listing of a local folder.
func (s *Session) LocalFolder(folder mediaid.ID) (*datasource.Session, error) {
	if s.Local == nil {
		return nil, ErrNoLocalServer
	}
	if folder.Type != mediaid.TypeFolder {
		return nil, fmt.Errorf("list %s: %w", folder, model.ErrInvalidMediaID)
	}
	return datasource.NewSession(datasource.NewLocalSource(s.Local, folder, s.FileTypes), s.Media, s.logger), nil
}

// View loads the full record of id with its image edits applied and records
// it as recently viewed.
func (s *Session) View(ctx context.Context, id mediaid.ID) (*model.MediaInfo, error) {
	info, err := s.Media.Get(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if n, err := s.Edits.LoadInto(ctx, info.MediaID); err != nil {
		s.logger.Warn("failed to load image edits", "media_id", info.MediaID, "error", err)
	} else if n > 0 {
		info = s.Media.GetSync(info.MediaID, true)
	}
	if err := s.Recent.Add(ctx, info.MediaID); err != nil {
		s.logger.Warn("failed to record recent view", "media_id", info.MediaID, "error", err)
	}
	return info, nil
}
