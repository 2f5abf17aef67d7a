package model

import (
	"maps"
	"reflect"
	"slices"
	"time"

	"github.com/bunchhieng/vview/internal/mediaid"
)

// IllustType is the kind of artwork a media record describes.
type IllustType int

const (
	IllustTypeIllust IllustType = 0
	IllustTypeManga  IllustType = 1
	IllustTypeUgoira IllustType = 2
	// IllustTypeVideo is only produced by the local file tree.
	IllustTypeVideo IllustType = 3
)

func (t IllustType) String() string {
	switch t {
	case IllustTypeIllust:
		return "illust"
	case IllustTypeManga:
		return "manga"
	case IllustTypeUgoira:
		return "ugoira"
	case IllustTypeVideo:
		return "video"
	}
	return "unknown"
}

// BookmarkData is the viewer's bookmark on an item. A nil *BookmarkData means
// the item is not bookmarked.
type BookmarkData struct {
	ID      string `json:"id"`
	Private bool   `json:"private"`
}

// PageURLs holds the image URLs of one page at each size.
type PageURLs struct {
	Original string `json:"original,omitempty"`
	Regular  string `json:"regular,omitempty"`
	Small    string `json:"small,omitempty"`
	Thumb    string `json:"thumb,omitempty"`
}

// Page is one page of a multi-page work.
type Page struct {
	Width  int      `json:"width"`
	Height int      `json:"height"`
	URLs   PageURLs `json:"urls"`
}

// UgoiraFrame is one frame of an animation and its delay in milliseconds.
type UgoiraFrame struct {
	File  string `json:"file"`
	Delay int    `json:"delay"`
}

// UgoiraMetadata locates the frame archive of an animation.
type UgoiraMetadata struct {
	Src         string        `json:"src,omitempty"`
	OriginalSrc string        `json:"originalSrc,omitempty"`
	MimeType    string        `json:"mime_type,omitempty"`
	Frames      []UgoiraFrame `json:"frames"`
}

// MediaInfo is the cached metadata of one media item, keyed by the item's
// first-page media id.
//
// A partial record carries what a listing returns: enough to draw a
// thumbnail. A full record adds per-page URLs, animation metadata and counts.
// A zero value in a field means the field is absent.
type MediaInfo struct {
	MediaID mediaid.ID `json:"media_id"`
	Full    bool       `json:"full"`

	Title       string        `json:"title,omitempty"`
	Type        IllustType    `json:"illust_type"`
	UserID      string        `json:"user_id,omitempty"`
	UserName    string        `json:"user_name,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Width       int           `json:"width,omitempty"`
	Height      int           `json:"height,omitempty"`
	PageCount   int           `json:"page_count,omitempty"`
	PreviewURLs []string      `json:"preview_urls,omitempty"`
	Bookmark    *BookmarkData `json:"bookmark,omitempty"`
	CreateDate  time.Time     `json:"create_date,omitempty"`
	AIType      int           `json:"ai_type,omitempty"`

	Description   string          `json:"description,omitempty"`
	BookmarkCount int             `json:"bookmark_count,omitempty"`
	LikeCount     int             `json:"like_count,omitempty"`
	ViewCount     int             `json:"view_count,omitempty"`
	UploadDate    time.Time       `json:"upload_date,omitempty"`
	Pages         []Page          `json:"pages,omitempty"`
	Ugoira        *UgoiraMetadata `json:"ugoira,omitempty"`

	// ExtraData holds local image edits keyed by page media id.
	ExtraData map[mediaid.ID]ImageEdit `json:"extra_data,omitempty"`
}

// PageURL returns the URLs of a page of a full record.
func (m *MediaInfo) PageURL(page int) (PageURLs, bool) {
	if page < 0 || page >= len(m.Pages) {
		return PageURLs{}, false
	}
	return m.Pages[page].URLs, true
}

// Clone returns a deep copy of m.
func (m *MediaInfo) Clone() *MediaInfo {
	if m == nil {
		return nil
	}
	c := *m
	c.Tags = slices.Clone(m.Tags)
	c.PreviewURLs = slices.Clone(m.PreviewURLs)
	c.Pages = slices.Clone(m.Pages)
	if m.Bookmark != nil {
		b := *m.Bookmark
		c.Bookmark = &b
	}
	if m.Ugoira != nil {
		u := *m.Ugoira
		u.Frames = slices.Clone(m.Ugoira.Frames)
		c.Ugoira = &u
	}
	c.ExtraData = maps.Clone(m.ExtraData)
	return &c
}

// Equal reports whether m and other hold the same data.
func (m *MediaInfo) Equal(other *MediaInfo) bool {
	return reflect.DeepEqual(m, other)
}

// FillListingFields copies from src only the fields a full fetch does not
// own: preview URLs and the user name when m lacks them, and local edits m
// has no entry for. Everything else in a full record is authoritative, so a
// zero value there (no bookmark, illust type, a count of 0) is kept.
func (m *MediaInfo) FillListingFields(src *MediaInfo) {
	if src == nil {
		return
	}
	if m.PreviewURLs == nil {
		m.PreviewURLs = slices.Clone(src.PreviewURLs)
	}
	if m.UserName == "" {
		m.UserName = src.UserName
	}
	m.fillExtraData(src)
}

// FillFrom copies every field of src that is absent from m. Fields already
// present in m are left untouched. It merges two partial records; use
// FillListingFields when either side is full.
func (m *MediaInfo) FillFrom(src *MediaInfo) {
	if src == nil {
		return
	}
	if m.MediaID.IsZero() {
		m.MediaID = src.MediaID
	}
	if m.Title == "" {
		m.Title = src.Title
	}
	if m.Type == IllustTypeIllust {
		m.Type = src.Type
	}
	if m.UserID == "" {
		m.UserID = src.UserID
	}
	if m.UserName == "" {
		m.UserName = src.UserName
	}
	if m.Tags == nil {
		m.Tags = slices.Clone(src.Tags)
	}
	if m.Width == 0 {
		m.Width = src.Width
	}
	if m.Height == 0 {
		m.Height = src.Height
	}
	if m.PageCount == 0 {
		m.PageCount = src.PageCount
	}
	if m.PreviewURLs == nil {
		m.PreviewURLs = slices.Clone(src.PreviewURLs)
	}
	if m.Bookmark == nil && src.Bookmark != nil {
		b := *src.Bookmark
		m.Bookmark = &b
	}
	if m.CreateDate.IsZero() {
		m.CreateDate = src.CreateDate
	}
	if m.AIType == 0 {
		m.AIType = src.AIType
	}
	if m.Description == "" {
		m.Description = src.Description
	}
	if m.BookmarkCount == 0 {
		m.BookmarkCount = src.BookmarkCount
	}
	if m.LikeCount == 0 {
		m.LikeCount = src.LikeCount
	}
	if m.ViewCount == 0 {
		m.ViewCount = src.ViewCount
	}
	if m.UploadDate.IsZero() {
		m.UploadDate = src.UploadDate
	}
	if m.Pages == nil {
		m.Pages = slices.Clone(src.Pages)
	}
	if m.Ugoira == nil && src.Ugoira != nil {
		m.Ugoira = src.Clone().Ugoira
	}
	m.fillExtraData(src)
}

func (m *MediaInfo) fillExtraData(src *MediaInfo) {
	for id, edit := range src.ExtraData {
		if _, ok := m.ExtraData[id]; ok {
			continue
		}
		if m.ExtraData == nil {
			m.ExtraData = make(map[mediaid.ID]ImageEdit)
		}
		m.ExtraData[id] = edit
	}
}
