// Package download turns media records into files: animations into MKV
// video and multi-page works into a ZIP of their pages.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync/atomic"

	"github.com/bunchhieng/vview/internal/mkv"
	"github.com/bunchhieng/vview/internal/model"
	"github.com/bunchhieng/vview/internal/zipfile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

// ProgressDone is reported once a download has finished.
const ProgressDone = -1.0

// DefaultConcurrency is how many manga pages are fetched at once.
const DefaultConcurrency = 4

var (
	// ErrNotAnimation means the record has no animation metadata.
	ErrNotAnimation = errors.New("media is not an animation")

	// ErrNoPages means the record has no page URLs to download.
	ErrNoPages = errors.New("media has no pages")
)

var downloads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vview_downloads_total",
	Help: "Downloads built, by kind and result",
}, []string{"kind", "result"})

// Progress receives the fraction completed in [0,1], and ProgressDone at the
// end. MangaZip calls it from several goroutines.
type Progress func(fraction float64)

// Fetcher is the transport downloads read from.
type Fetcher interface {
	Open(ctx context.Context, url string) (io.ReadCloser, int64, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Downloader builds download files from records.
type Downloader struct {
	fetcher     Fetcher
	concurrency int
	logger      *slog.Logger
}

// New returns a Downloader reading through fetcher.
func New(fetcher Fetcher, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		fetcher:     fetcher,
		concurrency: DefaultConcurrency,
		logger:      logger.With("component", "download"),
	}
}

// SetConcurrency sets how many pages MangaZip fetches at once.
func (d *Downloader) SetConcurrency(n int) {
	if n > 0 {
		d.concurrency = n
	}
}

// UgoiraToMKV streams the frame archive of an animation into a Matroska
// file. A zero-duration copy of the last frame is appended so the real last
// frame keeps its delay.
func (d *Downloader) UgoiraToMKV(ctx context.Context, info *model.MediaInfo, progress Progress) ([]byte, error) {
	if info.Ugoira == nil || len(info.Ugoira.Frames) == 0 {
		return nil, fmt.Errorf("ugoira %s: %w", info.MediaID, ErrNotAnimation)
	}
	progress = orNoop(progress)

	src := info.Ugoira.OriginalSrc
	if src == "" {
		src = info.Ugoira.Src
	}
	body, size, err := d.fetcher.Open(ctx, src)
	if err != nil {
		downloads.WithLabelValues("ugoira", "error").Inc()
		return nil, fmt.Errorf("open frames of %s: %w", info.MediaID, err)
	}
	defer body.Close()

	var opts []zipfile.Option
	if size > 0 {
		opts = append(opts, zipfile.WithProgress(func(received int64) {
			progress(min(float64(received)/float64(size), 1))
		}))
	}
	reader := zipfile.NewStreamReader(ctx, body, opts...)

	frames := info.Ugoira.Frames
	muxer := mkv.NewMuxer(info.Width, info.Height)
	var last []byte
	for {
		frame, err := reader.NextFrame()
		if err != nil {
			downloads.WithLabelValues("ugoira", "error").Inc()
			return nil, fmt.Errorf("read frame %d of %s: %w", muxer.Len(), info.MediaID, err)
		}
		if frame == nil {
			break
		}
		i := muxer.Len()
		if i >= len(frames) {
			d.logger.Warn("archive has more frames than metadata", "media_id", info.MediaID, "frames", len(frames))
			break
		}
		muxer.Add(frame, frames[i].Delay)
		last = frame
	}
	if reader.Cancelled() {
		return nil, model.Cancelled(ctx.Err())
	}
	if last == nil {
		downloads.WithLabelValues("ugoira", "error").Inc()
		return nil, fmt.Errorf("ugoira %s: %w", info.MediaID, zipfile.ErrIncompleteFile)
	}
	if muxer.Len() < len(frames) {
		d.logger.Warn("archive is missing frames", "media_id", info.MediaID, "got", muxer.Len(), "want", len(frames))
	}

	muxer.Add(last, 0)
	out := muxer.Build()
	downloads.WithLabelValues("ugoira", "ok").Inc()
	d.logger.Info("built video", "media_id", info.MediaID, "frames", muxer.Len()-1, "bytes", len(out))
	progress(ProgressDone)
	return out, nil
}

// MangaZip downloads every page of a work and packs them into a ZIP, with
// entries named <illust id>_p<page>.<ext>.
func (d *Downloader) MangaZip(ctx context.Context, info *model.MediaInfo, progress Progress) ([]byte, error) {
	if len(info.Pages) == 0 {
		return nil, fmt.Errorf("manga %s: %w", info.MediaID, ErrNoPages)
	}
	progress = orNoop(progress)
	illustID, _ := info.MediaID.ToIllustIDAndPage()

	names := make([]string, len(info.Pages))
	files := make([][]byte, len(info.Pages))
	var done atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, page := range info.Pages {
		i, page := i, page
		names[i] = fmt.Sprintf("%s_p%d%s", illustID, i, extension(page.URLs.Original))
		g.Go(func() error {
			data, err := d.fetcher.Fetch(gctx, page.URLs.Original)
			if err != nil {
				return fmt.Errorf("fetch page %d of %s: %w", i, info.MediaID, err)
			}
			files[i] = data
			progress(float64(done.Add(1)) / float64(len(files)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, model.Cancelled(ctx.Err())
		}
		downloads.WithLabelValues("manga", "error").Inc()
		return nil, err
	}

	out, err := zipfile.Build(names, files)
	if err != nil {
		downloads.WithLabelValues("manga", "error").Inc()
		return nil, err
	}
	downloads.WithLabelValues("manga", "ok").Inc()
	d.logger.Info("built archive", "media_id", info.MediaID, "pages", len(files), "bytes", len(out))
	progress(ProgressDone)
	return out, nil
}

// Filename suggests a file name for a download of info.
func Filename(info *model.MediaInfo, ext string) string {
	illustID, _ := info.MediaID.ToIllustIDAndPage()
	name := illustID
	if info.Title != "" {
		name += " - " + strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(info.Title)
	}
	return name + ext
}

func extension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	if ext := path.Ext(p); ext != "" {
		return ext
	}
	return ".jpg"
}

func orNoop(p Progress) Progress {
	if p == nil {
		return func(float64) {}
	}
	return p
}
