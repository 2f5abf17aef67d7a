package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/bunchhieng/vview/internal/mediaid"
	"github.com/bunchhieng/vview/internal/model"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// pixiv search and bookmark pages hold this many works.
const pixivPageSize = 48

type tagJSON struct {
	Tag string `json:"tag"`
}

type urlsJSON struct {
	Mini      string `json:"mini"`
	ThumbMini string `json:"thumb_mini"`
	Thumb     string `json:"thumb"`
	Small     string `json:"small"`
	Regular   string `json:"regular"`
	Original  string `json:"original"`
}

func (u urlsJSON) model() model.PageURLs {
	thumb := u.Thumb
	if thumb == "" {
		thumb = u.ThumbMini
	}
	if thumb == "" {
		thumb = u.Mini
	}
	return model.PageURLs{Original: u.Original, Regular: u.Regular, Small: u.Small, Thumb: thumb}
}

type illustJSON struct {
	IllustID      flexID        `json:"illustId"`
	Title         string        `json:"illustTitle"`
	IllustType    flexInt       `json:"illustType"`
	UserID        flexID        `json:"userId"`
	UserName      string        `json:"userName"`
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	PageCount     int           `json:"pageCount"`
	BookmarkData  *bookmarkJSON `json:"bookmarkData"`
	CreateDate    string        `json:"createDate"`
	UploadDate    string        `json:"uploadDate"`
	AIType        int           `json:"aiType"`
	Description   string        `json:"illustComment"`
	BookmarkCount int           `json:"bookmarkCount"`
	LikeCount     int           `json:"likeCount"`
	ViewCount     int           `json:"viewCount"`
	URLs          urlsJSON      `json:"urls"`
	Tags          struct {
		Tags []tagJSON `json:"tags"`
	} `json:"tags"`
}

type pageJSON struct {
	URLs   urlsJSON `json:"urls"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
}

type ugoiraJSON struct {
	Src         string              `json:"src"`
	OriginalSrc string              `json:"originalSrc"`
	MimeType    string              `json:"mime_type"`
	Frames      []model.UgoiraFrame `json:"frames"`
}

// listItemJSON is a work as it appears in search and bookmark listings.
type listItemJSON struct {
	ID           flexID        `json:"id"`
	Title        string        `json:"title"`
	IllustType   flexInt       `json:"illustType"`
	URL          string        `json:"url"`
	Tags         []string      `json:"tags"`
	UserID       flexID        `json:"userId"`
	UserName     string        `json:"userName"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	PageCount    int           `json:"pageCount"`
	BookmarkData *bookmarkJSON `json:"bookmarkData"`
	CreateDate   string        `json:"createDate"`
	AIType       int           `json:"aiType"`
	IsMasked     bool          `json:"isMasked"`
}

func (it listItemJSON) model() *model.MediaInfo {
	info := &model.MediaInfo{
		MediaID:    mediaid.Illust(string(it.ID), 0),
		Title:      it.Title,
		Type:       model.IllustType(it.IllustType),
		UserID:     string(it.UserID),
		UserName:   it.UserName,
		Tags:       it.Tags,
		Width:      it.Width,
		Height:     it.Height,
		PageCount:  it.PageCount,
		Bookmark:   it.BookmarkData.model(),
		CreateDate: parseTime(it.CreateDate),
		AIType:     it.AIType,
	}
	if it.URL != "" {
		info.PreviewURLs = []string{it.URL}
	}
	return info
}

func listingFromItems(items []listItemJSON) Listing {
	var listing Listing
	for _, it := range items {
		// Ads and deleted works come through without an id.
		if it.ID == "" || it.IsMasked {
			continue
		}
		info := it.model()
		listing.Items = append(listing.Items, info)
		listing.IDs = append(listing.IDs, info.MediaID)
	}
	return listing
}

// PixivFetcher loads full media records from the pixiv ajax API.
type PixivFetcher struct {
	client *Client
	logger *slog.Logger
}

// NewPixivFetcher returns a fetcher using client.
func NewPixivFetcher(client *Client, logger *slog.Logger) *PixivFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PixivFetcher{client: client, logger: logger.With("component", "pixiv-fetcher")}
}

// FetchMedia loads the full record of an illust, with its page list for
// multi-page works and its frame list for animations.
func (f *PixivFetcher) FetchMedia(ctx context.Context, id mediaid.ID) (*model.MediaInfo, error) {
	if id.Type != mediaid.TypeIllust {
		return nil, fmt.Errorf("pixiv fetch %s: %w", id, model.ErrInvalidMediaID)
	}
	illustID, _ := id.ToIllustIDAndPage()
	query := url.Values{"lang": {"en"}}

	body, err := f.client.GetAjax(ctx, "/ajax/illust/"+url.PathEscape(illustID), query)
	if err != nil {
		return nil, err
	}
	var ij illustJSON
	if err := json.Unmarshal(body, &ij); err != nil {
		return nil, fmt.Errorf("decode illust %s: %w", illustID, err)
	}

	info := &model.MediaInfo{
		MediaID:       id.FirstPage(),
		Full:          true,
		Title:         ij.Title,
		Type:          model.IllustType(ij.IllustType),
		UserID:        string(ij.UserID),
		UserName:      ij.UserName,
		Width:         ij.Width,
		Height:        ij.Height,
		PageCount:     ij.PageCount,
		Bookmark:      ij.BookmarkData.model(),
		CreateDate:    parseTime(ij.CreateDate),
		UploadDate:    parseTime(ij.UploadDate),
		AIType:        ij.AIType,
		Description:   ij.Description,
		BookmarkCount: ij.BookmarkCount,
		LikeCount:     ij.LikeCount,
		ViewCount:     ij.ViewCount,
	}
	for _, t := range ij.Tags.Tags {
		info.Tags = append(info.Tags, t.Tag)
	}
	if ij.URLs.Small != "" {
		info.PreviewURLs = []string{ij.URLs.Small}
	}

	if info.PageCount > 1 {
		body, err := f.client.GetAjax(ctx, "/ajax/illust/"+url.PathEscape(illustID)+"/pages", query)
		if err != nil {
			return nil, err
		}
		var pages []pageJSON
		if err := json.Unmarshal(body, &pages); err != nil {
			return nil, fmt.Errorf("decode pages of %s: %w", illustID, err)
		}
		for _, p := range pages {
			info.Pages = append(info.Pages, model.Page{Width: p.Width, Height: p.Height, URLs: p.URLs.model()})
		}
	} else {
		info.Pages = []model.Page{{Width: ij.Width, Height: ij.Height, URLs: ij.URLs.model()}}
	}

	if info.Type == model.IllustTypeUgoira {
		body, err := f.client.GetAjax(ctx, "/ajax/illust/"+url.PathEscape(illustID)+"/ugoira_meta", query)
		if err != nil {
			return nil, err
		}
		var uj ugoiraJSON
		if err := json.Unmarshal(body, &uj); err != nil {
			return nil, fmt.Errorf("decode ugoira metadata of %s: %w", illustID, err)
		}
		info.Ugoira = &model.UgoiraMetadata{
			Src:         uj.Src,
			OriginalSrc: uj.OriginalSrc,
			MimeType:    uj.MimeType,
			Frames:      uj.Frames,
		}
	}

	f.logger.Debug("fetched illust", "media_id", info.MediaID, "pages", len(info.Pages))
	return info, nil
}

// TagTranslationFunc receives the tag translations that come with a search
// page, keyed by tag and then by language ("romaji" included).
type TagTranslationFunc func(ctx context.Context, translations map[string]map[string]string)

// SearchSource lists artwork search results for a tag query.
type SearchSource struct {
	client       *Client
	word         string
	order        string
	translations TagTranslationFunc
}

// NewSearchSource searches for word, newest first unless order is set
// ("date_d", "date", "popular_d", ...).
func NewSearchSource(client *Client, word, order string) *SearchSource {
	if order == "" {
		order = "date_d"
	}
	return &SearchSource{client: client, word: word, order: order}
}

func (s *SearchSource) Name() string {
	return "search:" + s.word
}

// OnTagTranslations registers fn for the tag translations of each page.
func (s *SearchSource) OnTagTranslations(fn TagTranslationFunc) {
	s.translations = fn
}

func (s *SearchSource) FetchPage(ctx context.Context, page int) (Listing, error) {
	query := url.Values{
		"word":   {s.word},
		"order":  {s.order},
		"mode":   {"all"},
		"p":      {strconv.Itoa(page)},
		"s_mode": {"s_tag"},
		"type":   {"all"},
		"lang":   {"en"},
	}
	body, err := s.client.GetAjax(ctx, "/ajax/search/artworks/"+url.PathEscape(s.word), query)
	if err != nil {
		return Listing{}, err
	}

	var resp struct {
		IllustManga struct {
			Data     []listItemJSON `json:"data"`
			Total    int            `json:"total"`
			LastPage int            `json:"lastPage"`
		} `json:"illustManga"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Listing{}, fmt.Errorf("decode search page %d: %w", page, err)
	}
	// An empty translation table is sent as [] rather than {}.
	if tr := gjson.GetBytes(body, "tagTranslation"); s.translations != nil && tr.IsObject() {
		var translations map[string]map[string]string
		if err := json.Unmarshal([]byte(tr.Raw), &translations); err == nil {
			s.translations(ctx, translations)
		}
	}

	listing := listingFromItems(resp.IllustManga.Data)
	listing.LastPage = resp.IllustManga.LastPage
	if listing.LastPage == 0 && resp.IllustManga.Total > 0 {
		listing.LastPage = (resp.IllustManga.Total + pixivPageSize - 1) / pixivPageSize
	}
	return listing, nil
}

// BookmarkTagsFunc receives the bookmark tags of the bookmarked works on a
// page. A work with no tags maps to an empty slice.
type BookmarkTagsFunc func(tags map[mediaid.ID][]string)

// BookmarksSource lists a user's bookmarked works.
type BookmarksSource struct {
	client  *Client
	userID  string
	private bool
	tags    BookmarkTagsFunc
}

// NewBookmarksSource lists the public, or with private set the private,
// bookmarks of userID.
func NewBookmarksSource(client *Client, userID string, private bool) *BookmarksSource {
	return &BookmarksSource{client: client, userID: userID, private: private}
}

func (s *BookmarksSource) Name() string {
	if s.private {
		return "bookmarks:" + s.userID + ":private"
	}
	return "bookmarks:" + s.userID
}

// OnBookmarkTags registers fn for the bookmark tags of each page.
func (s *BookmarksSource) OnBookmarkTags(fn BookmarkTagsFunc) {
	s.tags = fn
}

func (s *BookmarksSource) FetchPage(ctx context.Context, page int) (Listing, error) {
	rest := "show"
	if s.private {
		rest = "hide"
	}
	query := url.Values{
		"tag":    {""},
		"offset": {strconv.Itoa((page - 1) * pixivPageSize)},
		"limit":  {strconv.Itoa(pixivPageSize)},
		"rest":   {rest},
		"lang":   {"en"},
	}
	body, err := s.client.GetAjax(ctx, "/ajax/user/"+url.PathEscape(s.userID)+"/illusts/bookmarks", query)
	if err != nil {
		return Listing{}, err
	}

	var resp struct {
		Works []listItemJSON `json:"works"`
		Total int            `json:"total"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Listing{}, fmt.Errorf("decode bookmarks page %d: %w", page, err)
	}

	listing := listingFromItems(resp.Works)
	listing.LastPage = (resp.Total + pixivPageSize - 1) / pixivPageSize
	if tr := gjson.GetBytes(body, "bookmarkTags"); s.tags != nil && tr.Exists() {
		s.tags(bookmarkTags(listing.Items, tr))
	}
	return listing, nil
}

// bookmarkTags maps the bookmark-id keyed tag table of a bookmarks page onto
// the works of the page. Like tagTranslation, an empty table comes as [].
func bookmarkTags(items []*model.MediaInfo, table gjson.Result) map[mediaid.ID][]string {
	byBookmark := make(map[string][]string)
	if table.IsObject() {
		table.ForEach(func(key, value gjson.Result) bool {
			var tags []string
			for _, tag := range value.Array() {
				tags = append(tags, tag.String())
			}
			byBookmark[key.String()] = tags
			return true
		})
	}

	tags := make(map[mediaid.ID][]string)
	for _, info := range items {
		if info.Bookmark == nil {
			continue
		}
		t := byBookmark[info.Bookmark.ID]
		if t == nil {
			t = []string{}
		}
		tags[info.MediaID] = t
	}
	return tags
}
