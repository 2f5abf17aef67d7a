package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bunchhieng/vview/internal/mediaid"
	"github.com/bunchhieng/vview/internal/model"
	"github.com/goccy/go-json"
)

func setupTestSession(t *testing.T) *Session {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ajax/user/9/illusts/bookmarks" {
			io.WriteString(w, `{"error":false,"body":{"works":[{"id":"77","title":"Harbor","bookmarkData":{"id":"1","private":false}}],
				"total":1,"bookmarkTags":{"1":["sea","boats"]}}}`)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/ajax/search/artworks/") {
			io.WriteString(w, `{"error":false,"body":{"illustManga":{"data":[{"id":"77","title":"Harbor"}],"total":1},
				"tagTranslation":{"港":{"en":"harbor","romaji":"minato"}}}}`)
			return
		}
		if r.URL.Path != "/ajax/illust/77" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"error":false,"body":{"illustId":"77","illustTitle":"Harbor","illustType":0,
			"width":10,"height":10,"pageCount":1,"bookmarkData":{"id":"1","private":false},
			"urls":{"original":"https://i.example/77.png"},"tags":{"tags":[]}}}`)
	}))
	t.Cleanup(srv.Close)

	s, err := NewSession(context.Background(), Config{
		DBPath:    filepath.Join(t.TempDir(), "vview.db"),
		APIHost:   srv.URL,
		RateLimit: 1000,
	}, nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestViewRecordsRecent(t *testing.T) {
	s := setupTestSession(t)
	ctx := context.Background()

	info, err := s.View(ctx, mediaid.Illust("77", 0))
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if !info.Full || info.Title != "Harbor" {
		t.Errorf("Expected full record, got %+v", info)
	}

	recent, err := s.Recent.List(ctx, 10)
	if err != nil {
		t.Fatalf("List recent failed: %v", err)
	}
	if len(recent) != 1 || recent[0] != mediaid.Illust("77", 0) {
		t.Errorf("Expected viewed work in recent list, got %v", recent)
	}
}

func TestViewAppliesEdits(t *testing.T) {
	s := setupTestSession(t)
	ctx := context.Background()

	page := mediaid.Illust("77", 0)
	if _, err := s.Edits.Save(ctx, model.ImageEdit{MediaID: page, Crop: json.RawMessage(`[0,0,5,5]`)}); err != nil {
		t.Fatalf("Save edit failed: %v", err)
	}

	info, err := s.View(ctx, page)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	edit, ok := info.ExtraData[page]
	if !ok || string(edit.Crop) != `[0,0,5,5]` {
		t.Errorf("Expected stored edit on the record, got %+v", info.ExtraData)
	}
}

func TestViewNotFound(t *testing.T) {
	s := setupTestSession(t)

	if _, err := s.View(context.Background(), mediaid.Illust("404", 0)); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUnbookmarkClearsTags(t *testing.T) {
	s := setupTestSession(t)
	ctx := context.Background()
	id := mediaid.Illust("77", 0)

	if _, err := s.View(ctx, id); err != nil {
		t.Fatalf("View failed: %v", err)
	}
	s.BookmarkTags.Set(id, []string{"sea"})

	s.Media.UpdateBookmark(id, nil)
	if _, ok := s.BookmarkTags.Get(id); ok {
		t.Error("Expected bookmark tags to be dropped with the bookmark")
	}
}

func TestBookmarksStoreTags(t *testing.T) {
	s := setupTestSession(t)
	ctx := context.Background()

	res, err := s.Bookmarks("9", false).LoadPage(ctx, 1)
	if err != nil {
		t.Fatalf("LoadPage failed: %v", err)
	}
	if len(res.IDs) != 1 {
		t.Fatalf("Expected one bookmarked work, got %v", res.IDs)
	}

	tags, ok := s.BookmarkTags.Get(mediaid.Illust("77", 0))
	if !ok || len(tags) != 2 || tags[0] != "boats" || tags[1] != "sea" {
		t.Errorf("Expected sorted bookmark tags, got %v, %v", tags, ok)
	}
}

func TestViewLocalVideo(t *testing.T) {
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":true,"illust":{"mediaId":"file:/clips/a.webm","illustTitle":"a.webm",
			"width":640,"height":360,"urls":{"original":"/file/a.webm"}}}`)
	}))
	t.Cleanup(local.Close)

	s, err := NewSession(context.Background(), Config{
		DBPath:    filepath.Join(t.TempDir(), "vview.db"),
		APIHost:   "http://127.0.0.1:1",
		LocalHost: local.URL,
	}, nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	id := mediaid.New(mediaid.TypeFile, "/clips/a.webm", 0)
	info, err := s.View(context.Background(), id)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if info.Type != model.IllustTypeVideo {
		t.Errorf("Expected video type, got %v", info.Type)
	}
	if mime, ok := s.FileTypes.Known(id); !ok || mime != "video/webm" {
		t.Errorf("Expected remembered file type, got %q, %v", mime, ok)
	}
}

func TestLocalFolderRequiresServer(t *testing.T) {
	s := setupTestSession(t)

	_, err := s.LocalFolder(mediaid.New(mediaid.TypeFolder, "/pics", 0))
	if !errors.Is(err, ErrNoLocalServer) {
		t.Errorf("Expected ErrNoLocalServer, got %v", err)
	}
}

func TestReadCookieFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookie.txt")
	if err := os.WriteFile(path, []byte("# pixiv\nPHPSESSID=abc;\n\nyuid_b=xyz\n"), 0600); err != nil {
		t.Fatalf("Failed to write cookie file: %v", err)
	}

	got, err := ReadCookieFile(path)
	if err != nil {
		t.Fatalf("ReadCookieFile failed: %v", err)
	}
	if got != "PHPSESSID=abc; yuid_b=xyz" {
		t.Errorf("Unexpected cookie %q", got)
	}

	if got, err := ReadCookieFile(""); err != nil || got != "" {
		t.Errorf("Expected empty cookie for no file, got %q, %v", got, err)
	}
}

func TestSearchStoresTagTranslations(t *testing.T) {
	s := setupTestSession(t)
	ctx := context.Background()

	res, err := s.Search("港", "").LoadPage(ctx, 1)
	if err != nil {
		t.Fatalf("LoadPage failed: %v", err)
	}
	if len(res.IDs) != 1 {
		t.Errorf("Expected one result, got %v", res.IDs)
	}

	got, err := s.Tags.Translate(ctx, []string{"港"}, "en")
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if got["港"] != "harbor" {
		t.Errorf("Expected stored translation, got %v", got)
	}
	stored, err := s.Tags.Get(ctx, []string{"港"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored["港"].Romanization != "minato" {
		t.Errorf("Expected romanization kept apart, got %+v", stored["港"])
	}
}
