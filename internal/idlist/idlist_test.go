package idlist

import (
	"testing"

	"github.com/bunchhieng/vview/internal/mediaid"
)

type pageCounts map[string]int

func (p pageCounts) PageCount(id mediaid.ID) (int, bool) {
	n, ok := p[id.ID]
	return n, ok
}

func ill(id string) mediaid.ID {
	return mediaid.Illust(id, 0)
}

func ills(ids ...string) []mediaid.ID {
	out := make([]mediaid.ID, len(ids))
	for i, id := range ids {
		out[i] = ill(id)
	}
	return out
}

func setupTestList(t *testing.T, counts pageCounts) *List {
	t.Helper()
	if counts == nil {
		return New(nil, nil)
	}
	return New(counts, nil)
}

func sameIDs(a, b []mediaid.ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAddPageDedup(t *testing.T) {
	l := setupTestList(t, nil)

	l.AddPage(1, ills("A", "B", "C", "D", "E"), false)
	if !l.AddPage(2, ills("E", "F", "G"), false) {
		t.Fatal("Expected page 2 to be stored")
	}

	if got := l.IDsOnPage(2); !sameIDs(got, ills("F", "G")) {
		t.Errorf("Expected page 2 = [F G], got %v", got)
	}

	all := l.AllMediaIDs()
	seen := make(map[mediaid.ID]bool)
	for _, id := range all {
		if seen[id] {
			t.Errorf("Duplicate id %s in AllMediaIDs", id)
		}
		seen[id] = true
	}
	if len(all) != 7 {
		t.Errorf("Expected 7 ids, got %d", len(all))
	}
}

func TestAddPageDedupAgainstLaterPage(t *testing.T) {
	l := setupTestList(t, nil)

	l.AddPage(3, ills("X", "Y"), false)
	l.AddPage(2, ills("W", "X"), false)

	if got := l.IDsOnPage(2); !sameIDs(got, ills("W")) {
		t.Errorf("Expected page 2 = [W], got %v", got)
	}
}

func TestAddPageRepeatedWithinPage(t *testing.T) {
	l := setupTestList(t, nil)

	l.AddPage(1, ills("A", "B", "A"), false)
	if got := l.IDsOnPage(1); !sameIDs(got, ills("A", "B")) {
		t.Errorf("Expected [A B], got %v", got)
	}
}

func TestAddPageNormalizesToFirstPage(t *testing.T) {
	l := setupTestList(t, nil)

	l.AddPage(1, []mediaid.ID{mediaid.Illust("A", 3)}, false)
	l.AddPage(2, ills("A", "B"), false)

	if got := l.IDsOnPage(1); !sameIDs(got, ills("A")) {
		t.Errorf("Expected page 1 = [A page 0], got %v", got)
	}
	if got := l.IDsOnPage(2); !sameIDs(got, ills("B")) {
		t.Errorf("Expected page 2 = [B], got %v", got)
	}
}

func TestEmptyPageSuppression(t *testing.T) {
	l := setupTestList(t, nil)

	if l.AddPage(3, nil, false) {
		t.Error("Expected empty page not to be stored")
	}
	if l.IsPageLoaded(3) {
		t.Error("Expected page 3 not loaded")
	}

	if !l.AddPage(3, nil, true) {
		t.Error("Expected empty page to be stored with allowEmpty")
	}
	if !l.IsPageLoaded(3) {
		t.Error("Expected page 3 loaded")
	}
}

func TestAllDuplicatesPageNotStored(t *testing.T) {
	l := setupTestList(t, nil)

	l.AddPage(1, ills("A", "B"), false)
	if l.AddPage(2, ills("A", "B"), false) {
		t.Error("Expected page of only duplicates not to be stored")
	}
	if high, _ := l.HighestPage(); high != 1 {
		t.Errorf("Expected highest page 1, got %d", high)
	}
}

func TestReAddPageKeepsExisting(t *testing.T) {
	l := setupTestList(t, nil)

	l.AddPage(1, ills("A", "B"), false)
	if l.AddPage(1, ills("C"), false) {
		t.Error("Expected re-add to be ignored")
	}
	if got := l.IDsOnPage(1); !sameIDs(got, ills("A", "B")) {
		t.Errorf("Expected existing page kept, got %v", got)
	}
	if _, ok := l.PageOf(ill("C")); ok {
		t.Error("Ignored ids must not be indexed")
	}
}

func TestInvalidPageNumber(t *testing.T) {
	l := setupTestList(t, nil)

	if l.AddPage(0, ills("A"), false) {
		t.Error("Expected page 0 to be rejected")
	}
}

func TestFirstLastID(t *testing.T) {
	l := setupTestList(t, nil)

	if _, ok := l.FirstID(); ok {
		t.Error("Expected no first id for empty list")
	}
	if _, ok := l.LastID(); ok {
		t.Error("Expected no last id for empty list")
	}

	l.AddPage(2, ills("C", "D"), false)
	l.AddPage(1, ills("A", "B"), false)
	l.AddPage(3, nil, true)

	if id, _ := l.FirstID(); id != ill("A") {
		t.Errorf("Expected first id A, got %s", id)
	}
	if id, _ := l.LastID(); id != ill("D") {
		t.Errorf("Expected last id D, got %s", id)
	}
}

func TestNeighborBoundaries(t *testing.T) {
	l := setupTestList(t, nil)
	l.AddPage(1, ills("A", "B"), false)
	l.AddPage(2, ills("C", "D"), false)

	if id, ok := l.GetNeighboringMediaID(ill("B"), Next, MangaNormal); !ok || id != ill("C") {
		t.Errorf("Expected B -> C, got %s, %v", id, ok)
	}
	if _, ok := l.GetNeighboringMediaID(ill("D"), Next, MangaNormal); ok {
		t.Error("Expected no neighbour after D while page 3 is not loaded")
	}
	if _, ok := l.GetNeighboringMediaID(ill("A"), Previous, MangaNormal); ok {
		t.Error("Expected no neighbour before A")
	}
	if id, ok := l.GetNeighboringMediaID(ill("C"), Previous, MangaNormal); !ok || id != ill("B") {
		t.Errorf("Expected C -> B, got %s, %v", id, ok)
	}
	if _, ok := l.GetNeighboringMediaID(ill("Z"), Next, MangaNormal); ok {
		t.Error("Expected no neighbour for an id not in the list")
	}
}

func TestNeighborSkipsMarkers(t *testing.T) {
	l := setupTestList(t, nil)
	l.AddPage(1, []mediaid.ID{
		ill("A"),
		mediaid.New(mediaid.TypeUser, "10", 0),
		mediaid.New(mediaid.TypeFolder, "/pics", 0),
		mediaid.New(mediaid.TypeFile, "/pics/a.jpg", 0),
	}, false)

	id, ok := l.GetNeighboringMediaID(ill("A"), Next, MangaNormal)
	if !ok || id != mediaid.New(mediaid.TypeFile, "/pics/a.jpg", 0) {
		t.Errorf("Expected markers to be skipped, got %s, %v", id, ok)
	}
}

func TestNeighborSkipsStoredEmptyPage(t *testing.T) {
	l := setupTestList(t, nil)
	l.AddPage(1, ills("A"), false)
	l.AddPage(2, nil, true)
	l.AddPage(3, ills("B"), false)

	if id, ok := l.GetNeighboringMediaID(ill("A"), Next, MangaNormal); !ok || id != ill("B") {
		t.Errorf("Expected A -> B across empty page, got %s, %v", id, ok)
	}
	if id, ok := l.GetNeighboringMediaID(ill("B"), Previous, MangaNormal); !ok || id != ill("A") {
		t.Errorf("Expected B -> A across empty page, got %s, %v", id, ok)
	}
}

func TestNeighborMangaNormal(t *testing.T) {
	l := setupTestList(t, pageCounts{"A": 3, "B": 2})
	l.AddPage(1, ills("A", "B"), false)

	steps := []mediaid.ID{
		mediaid.Illust("A", 1),
		mediaid.Illust("A", 2),
		mediaid.Illust("B", 0),
		mediaid.Illust("B", 1),
	}
	cur := ill("A")
	for _, want := range steps {
		next, ok := l.GetNeighboringMediaID(cur, Next, MangaNormal)
		if !ok || next != want {
			t.Fatalf("From %s expected %s, got %s, %v", cur, want, next, ok)
		}
		cur = next
	}

	// Backward from page 0 of B lands on A's last page.
	if id, ok := l.GetNeighboringMediaID(ill("B"), Previous, MangaNormal); !ok || id != mediaid.Illust("A", 2) {
		t.Errorf("Expected B -> A page 2, got %s, %v", id, ok)
	}
	if id, ok := l.GetNeighboringMediaID(mediaid.Illust("B", 1), Previous, MangaNormal); !ok || id != ill("B") {
		t.Errorf("Expected B page 1 -> B page 0, got %s, %v", id, ok)
	}
}

func TestNeighborMangaSkipToFirst(t *testing.T) {
	l := setupTestList(t, pageCounts{"A": 3, "B": 2})
	l.AddPage(1, ills("A", "B"), false)

	if id, ok := l.GetNeighboringMediaID(ill("A"), Next, MangaSkipToFirst); !ok || id != ill("B") {
		t.Errorf("Expected A -> B page 0, got %s, %v", id, ok)
	}
	if id, ok := l.GetNeighboringMediaID(mediaid.Illust("A", 1), Next, MangaSkipToFirst); !ok || id != ill("B") {
		t.Errorf("Expected A page 1 -> B page 0, got %s, %v", id, ok)
	}
	if id, ok := l.GetNeighboringMediaID(ill("B"), Previous, MangaSkipToFirst); !ok || id != ill("A") {
		t.Errorf("Expected B -> A page 0, got %s, %v", id, ok)
	}
}

func TestNeighborMangaSkipPast(t *testing.T) {
	l := setupTestList(t, pageCounts{"A": 3, "B": 2})
	l.AddPage(1, ills("A", "B"), false)

	if id, ok := l.GetNeighboringMediaID(ill("A"), Next, MangaSkipPast); !ok || id != ill("B") {
		t.Errorf("Expected A -> B page 0 going forward, got %s, %v", id, ok)
	}
	if id, ok := l.GetNeighboringMediaID(ill("B"), Previous, MangaSkipPast); !ok || id != mediaid.Illust("A", 2) {
		t.Errorf("Expected B -> A last page going back, got %s, %v", id, ok)
	}
}

func TestNeighborUnknownPageCount(t *testing.T) {
	l := setupTestList(t, pageCounts{})
	l.AddPage(1, ills("A", "B"), false)

	if id, ok := l.GetNeighboringMediaID(ill("B"), Previous, MangaNormal); !ok || id != ill("A") {
		t.Errorf("Expected B -> A page 0 with unknown page count, got %s, %v", id, ok)
	}
}

func TestNeighborStepCap(t *testing.T) {
	l := setupTestList(t, nil)
	markers := make([]mediaid.ID, 0, 150)
	markers = append(markers, ill("A"))
	for i := 0; i < 149; i++ {
		markers = append(markers, mediaid.New(mediaid.TypeUser, string(rune('a'+i%26))+string(rune('0'+i/26)), 0))
	}
	l.AddPage(1, markers, false)
	l.AddPage(2, ills("B"), false)

	if _, ok := l.GetNeighboringMediaID(ill("A"), Next, MangaNormal); ok {
		t.Error("Expected search to give up after the step cap")
	}
}

func TestParseMangaMode(t *testing.T) {
	tests := []struct {
		in   string
		want MangaMode
		ok   bool
	}{
		{"normal", MangaNormal, true},
		{"skip-to-first", MangaSkipToFirst, true},
		{"skip-past", MangaSkipPast, true},
		{"bogus", MangaNormal, false},
	}
	for _, tt := range tests {
		got, ok := ParseMangaMode(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseMangaMode(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
