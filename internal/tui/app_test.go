package tui

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bunchhieng/vview/internal/app"
	"github.com/bunchhieng/vview/internal/datasource"
	"github.com/bunchhieng/vview/internal/idlist"
	"github.com/bunchhieng/vview/internal/mediaid"
	"github.com/bunchhieng/vview/internal/model"
)

type fakeSource struct{}

func (fakeSource) Name() string { return "fake" }

func (fakeSource) FetchPage(ctx context.Context, page int) (datasource.Listing, error) {
	if page > 1 {
		return datasource.Listing{}, nil
	}
	var listing datasource.Listing
	for _, id := range []string{"1", "2"} {
		info := &model.MediaInfo{MediaID: mediaid.Illust(id, 0), Title: "work " + id, PageCount: 1}
		listing.Items = append(listing.Items, info)
		listing.IDs = append(listing.IDs, info.MediaID)
	}
	listing.LastPage = 1
	return listing, nil
}

func setupTestModel(t *testing.T) appModel {
	t.Helper()
	s, err := app.NewSession(context.Background(), app.Config{
		DBPath:  filepath.Join(t.TempDir(), "vview.db"),
		APIHost: "http://127.0.0.1:1",
	}, nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return initialModel(s, datasource.NewSession(fakeSource{}, s.Media, nil))
}

func TestBrowseSteps(t *testing.T) {
	m := setupTestModel(t)

	next, _ := m.Update(loadFirst(m.listing)())
	m = next.(appModel)
	if m.current != mediaid.Illust("1", 0) {
		t.Fatalf("Expected first work selected, got %s", m.current)
	}

	if !strings.Contains(m.renderHeader(), "[pages 1 of 1]") {
		t.Errorf("Expected loaded page range in header: %s", m.renderHeader())
	}

	next, _ = m.Update(infoMsg{id: m.current, info: m.session.Media.GetSync(m.current, false)})
	m = next.(appModel)
	if !strings.Contains(m.View(), "work 1") {
		t.Errorf("Expected current work in view:\n%s", m.View())
	}

	cmd := m.move(idlist.Next)
	if cmd == nil {
		t.Fatal("Expected a move command")
	}
	next, _ = m.Update(cmd())
	m = next.(appModel)
	if m.current != mediaid.Illust("2", 0) {
		t.Errorf("Expected second work selected, got %s", m.current)
	}

	m.loading = false
	next, statusCmd := m.Update(m.move(idlist.Next)())
	m = next.(appModel)
	if m.current != mediaid.Illust("2", 0) {
		t.Errorf("Expected to stay on last work, got %s", m.current)
	}
	if msg, ok := statusCmd().(statusMsg); !ok || msg.message != "End of list" {
		t.Errorf("Expected end of list status, got %#v", msg)
	}
}

func TestBrowseIgnoresStaleInfo(t *testing.T) {
	m := setupTestModel(t)
	m.current = mediaid.Illust("2", 0)

	next, _ := m.Update(infoMsg{id: mediaid.Illust("1", 0), info: &model.MediaInfo{Title: "stale"}})
	m = next.(appModel)
	if m.info != nil {
		t.Error("Expected info for another work to be dropped")
	}
}

func TestCycleMode(t *testing.T) {
	m := setupTestModel(t)

	want := []idlist.MangaMode{idlist.MangaSkipToFirst, idlist.MangaSkipPast, idlist.MangaNormal}
	for _, mode := range want {
		m.cycleMode()
		if m.mode != mode {
			t.Errorf("Expected mode %v, got %v", mode, m.mode)
		}
	}
}

func TestBookmarkTagsShown(t *testing.T) {
	m := setupTestModel(t)
	m.current = mediaid.Illust("1", 0)
	m.info = &model.MediaInfo{MediaID: m.current, Title: "work 1", Bookmark: &model.BookmarkData{ID: "5"}}

	next, _ := m.Update(bookmarkTagsMsg{id: mediaid.Illust("2", 0), tags: []string{"other"}})
	m = next.(appModel)
	if m.bmTags != nil {
		t.Errorf("Expected tags of another work to be ignored, got %v", m.bmTags)
	}

	next, _ = m.Update(bookmarkTagsMsg{id: m.current, tags: []string{"sea", "sky"}})
	m = next.(appModel)
	if !strings.Contains(m.View(), "bookmark tags: sea, sky") {
		t.Errorf("Expected bookmark tags in view:\n%s", m.View())
	}
}

func TestInfoLoadsKnownBookmarkTags(t *testing.T) {
	m := setupTestModel(t)
	m.current = mediaid.Illust("1", 0)
	m.session.BookmarkTags.Set(m.current, []string{"harbor"})

	next, _ := m.Update(infoMsg{id: m.current, info: &model.MediaInfo{MediaID: m.current, Bookmark: &model.BookmarkData{ID: "5"}}})
	m = next.(appModel)
	if len(m.bmTags) != 1 || m.bmTags[0] != "harbor" {
		t.Errorf("Expected stored bookmark tags, got %v", m.bmTags)
	}
}
