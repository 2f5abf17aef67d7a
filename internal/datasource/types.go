package datasource

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/bunchhieng/vview/internal/mediaid"
	"github.com/bunchhieng/vview/internal/model"
	"github.com/goccy/go-json"
)

// PageStatus is the outcome of loading one listing page.
type PageStatus int

const (
	// Loaded means the page is in the id list.
	Loaded PageStatus = iota
	// NotYetAvailable means the page can only be loaded after an earlier one.
	NotYetAvailable
	// OutOfRange means the listing has no such page.
	OutOfRange
)

func (s PageStatus) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case NotYetAvailable:
		return "not-yet-available"
	case OutOfRange:
		return "out-of-range"
	}
	return "unknown"
}

// PageLoadResult is what Session.LoadPage returns. IDs is only set for
// Loaded, and may be empty when every id on the page was already listed.
type PageLoadResult struct {
	Status PageStatus
	Page   int
	IDs    []mediaid.ID
}

// Listing is one page as returned by a Source.
type Listing struct {
	// Status is Loaded unless the source cannot produce the page.
	Status PageStatus
	// Items are partial records of what the page lists.
	Items []*model.MediaInfo
	// IDs are the page's media ids in order, including markers without
	// records.
	IDs []mediaid.ID
	// LastPage is the last page of the listing, or 0 if not known.
	LastPage int
}

// Source produces the pages of one listing.
type Source interface {
	Name() string
	FetchPage(ctx context.Context, page int) (Listing, error)
}

// flexID accepts ids sent either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// flexInt accepts integers sent either as JSON numbers or strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	var id flexID
	if err := id.UnmarshalJSON(b); err != nil {
		return err
	}
	if id == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(string(id))
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

type bookmarkJSON struct {
	ID      flexID `json:"id"`
	Private bool   `json:"private"`
}

func (b *bookmarkJSON) model() *model.BookmarkData {
	if b == nil {
		return nil
	}
	return &model.BookmarkData{ID: string(b.ID), Private: b.Private}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
