package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/bunchhieng/vview/internal/mediaid"
	"github.com/bunchhieng/vview/internal/model"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

const DefaultLocalHost = "http://127.0.0.1:8235"

// localItemJSON is an entry as the local server describes it.
type localItemJSON struct {
	MediaID      mediaid.ID    `json:"mediaId"`
	Title        string        `json:"illustTitle"`
	IllustType   flexInt       `json:"illustType"`
	UserName     string        `json:"userName"`
	Tags         []string      `json:"tagList"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	PageCount    int           `json:"pageCount"`
	BookmarkData *bookmarkJSON `json:"bookmarkData"`
	CreateDate   string        `json:"createDate"`
	URLs         struct {
		Original string `json:"original"`
		Small    string `json:"small"`
		Poster   string `json:"poster"`
	} `json:"urls"`
}

func (it localItemJSON) model(full bool) *model.MediaInfo {
	pageCount := it.PageCount
	if pageCount == 0 && it.MediaID.Type == mediaid.TypeFile {
		pageCount = 1
	}
	info := &model.MediaInfo{
		MediaID:    it.MediaID,
		Full:       full,
		Title:      it.Title,
		Type:       model.IllustType(it.IllustType),
		UserName:   it.UserName,
		Tags:       it.Tags,
		Width:      it.Width,
		Height:     it.Height,
		PageCount:  pageCount,
		Bookmark:   it.BookmarkData.model(),
		CreateDate: parseTime(it.CreateDate),
	}
	if it.URLs.Small != "" {
		info.PreviewURLs = []string{it.URLs.Small}
	}
	if full && it.MediaID.Type == mediaid.TypeFile {
		info.Pages = []model.Page{{
			Width:  it.Width,
			Height: it.Height,
			URLs: model.PageURLs{
				Original: it.URLs.Original,
				Small:    it.URLs.Small,
				Thumb:    it.URLs.Poster,
			},
		}}
	}
	return info
}

// FileTyper names the MIME type of a local file from its media id. head is
// the start of the file when known.
type FileTyper interface {
	Guess(id mediaid.ID, head []byte) (string, bool)
}

// applyFileType marks local files that turn out to be videos.
func applyFileType(types FileTyper, info *model.MediaInfo) {
	if types == nil || info.MediaID.Type != mediaid.TypeFile {
		return
	}
	if mime, ok := types.Guess(info.MediaID, nil); ok && strings.HasPrefix(mime, "video/") {
		info.Type = model.IllustTypeVideo
	}
}

// LocalSource lists a folder of the local file tree. The server pages with
// an opaque cursor, so page N can only be loaded once page N-1 has been.
type LocalSource struct {
	client *Client
	folder mediaid.ID
	types  FileTyper

	mu      sync.Mutex
	cursors map[int]string
}

// NewLocalSource lists folder through client. types may be nil.
func NewLocalSource(client *Client, folder mediaid.ID, types FileTyper) *LocalSource {
	return &LocalSource{
		client:  client,
		folder:  folder,
		types:   types,
		cursors: map[int]string{1: ""},
	}
}

func (s *LocalSource) Name() string {
	return "local:" + s.folder.ID
}

func (s *LocalSource) FetchPage(ctx context.Context, page int) (Listing, error) {
	s.mu.Lock()
	cursor, ok := s.cursors[page]
	s.mu.Unlock()
	if !ok {
		return Listing{Status: NotYetAvailable}, nil
	}

	payload := map[string]any{"id": s.folder.String()}
	if cursor != "" {
		payload["page"] = cursor
	}
	data, err := s.client.PostLocal(ctx, "/api/list/"+url.PathEscape(s.folder.String()), payload)
	if err != nil {
		return Listing{}, err
	}

	var resp struct {
		Results []localItemJSON `json:"results"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return Listing{}, fmt.Errorf("decode local listing page %d: %w", page, err)
	}

	var listing Listing
	for _, it := range resp.Results {
		if it.MediaID.IsZero() {
			continue
		}
		info := it.model(false)
		applyFileType(s.types, info)
		listing.Items = append(listing.Items, info)
		listing.IDs = append(listing.IDs, it.MediaID)
	}

	next := gjson.GetBytes(data, "next")
	s.mu.Lock()
	if next.Type == gjson.String && next.Str != "" {
		s.cursors[page+1] = next.Str
	} else {
		listing.LastPage = page
	}
	s.mu.Unlock()
	return listing, nil
}

// LocalFetcher loads full records of local files and folders.
type LocalFetcher struct {
	client *Client
	types  FileTyper
	logger *slog.Logger
}

// NewLocalFetcher returns a fetcher using client. types may be nil.
func NewLocalFetcher(client *Client, types FileTyper, logger *slog.Logger) *LocalFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalFetcher{client: client, types: types, logger: logger.With("component", "local-fetcher")}
}

func (f *LocalFetcher) FetchMedia(ctx context.Context, id mediaid.ID) (*model.MediaInfo, error) {
	if !id.IsLocal() {
		return nil, fmt.Errorf("local fetch %s: %w", id, model.ErrInvalidMediaID)
	}
	data, err := f.client.PostLocal(ctx, "/api/illust/"+url.PathEscape(id.String()), map[string]any{})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Illust localItemJSON `json:"illust"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode local illust %s: %w", id, err)
	}
	if resp.Illust.MediaID.IsZero() {
		resp.Illust.MediaID = id
	}
	info := resp.Illust.model(true)
	applyFileType(f.types, info)
	return info, nil
}

// RoutingFetcher sends local ids to Local and everything else to Remote.
type RoutingFetcher struct {
	Remote *PixivFetcher
	Local  *LocalFetcher
}

func (r RoutingFetcher) FetchMedia(ctx context.Context, id mediaid.ID) (*model.MediaInfo, error) {
	if id.IsLocal() {
		if r.Local == nil {
			return nil, fmt.Errorf("fetch %s: no local server configured: %w", id, model.ErrNotFound)
		}
		return r.Local.FetchMedia(ctx, id)
	}
	if r.Remote == nil {
		return nil, fmt.Errorf("fetch %s: no remote source configured: %w", id, model.ErrNotFound)
	}
	return r.Remote.FetchMedia(ctx, id)
}
