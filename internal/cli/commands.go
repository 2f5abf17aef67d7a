package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bunchhieng/vview/internal/app"
	"github.com/bunchhieng/vview/internal/datasource"
	"github.com/bunchhieng/vview/internal/download"
	"github.com/bunchhieng/vview/internal/mediaid"
	"github.com/bunchhieng/vview/internal/model"
	"github.com/charmbracelet/lipgloss"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// Commands handles all CLI command execution.
type Commands struct {
	session *app.Session
	out     io.Writer
	errOut  io.Writer
}

// NewCommands creates a new Commands instance writing results to out and
// progress to errOut.
func NewCommands(s *app.Session, out, errOut io.Writer) *Commands {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Commands{session: s, out: out, errOut: errOut}
}

// Search lists search results for word.
func (c *Commands) Search(ctx context.Context, word, order string, pages int) error {
	return c.list(ctx, c.session.Search(word, order), pages)
}

// Bookmarks lists a user's bookmarks.
func (c *Commands) Bookmarks(ctx context.Context, userID string, private bool, pages int) error {
	return c.list(ctx, c.session.Bookmarks(userID, private), pages)
}

// Local lists a folder of the local file tree.
func (c *Commands) Local(ctx context.Context, folder string, pages int) error {
	id := mediaid.Parse(folder)
	if !strings.Contains(folder, ":") {
		id = mediaid.New(mediaid.TypeFolder, folder, 0)
	}
	s, err := c.session.LocalFolder(id)
	if err != nil {
		return err
	}
	return c.list(ctx, s, pages)
}

func (c *Commands) list(ctx context.Context, s *datasource.Session, pages int) error {
	if pages <= 0 {
		pages = 1
	}

	var infos []*model.MediaInfo
	for page := 1; page <= pages; page++ {
		res, err := s.LoadPage(ctx, page)
		if err != nil {
			return fmt.Errorf("load page %d: %w", page, err)
		}
		if res.Status != datasource.Loaded {
			break
		}
		for _, id := range res.IDs {
			if info := c.session.Media.GetSync(id, false); info != nil {
				infos = append(infos, info)
			}
		}
	}

	if len(infos) == 0 {
		fmt.Fprintln(c.out, "No results found.")
		return nil
	}
	c.printMediaTable(infos)
	if last, ok := s.LastPage(); ok {
		fmt.Fprintf(c.out, "%s%d result(s), page %d of %d%s\n", colorDim, len(infos), min(pages, last), last, colorReset)
	}
	return nil
}

// Info prints the full record of a work.
func (c *Commands) Info(ctx context.Context, idArg string) error {
	id, err := ParseID(idArg)
	if err != nil {
		return err
	}
	info, err := c.session.View(ctx, id)
	if err != nil {
		return fmt.Errorf("load %s: %w", id, err)
	}

	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(c.out, "%s%-12s%s %s\n", colorBold, name, colorReset, value)
		}
	}
	field("ID", colorCyan+info.MediaID.String()+colorReset)
	field("Title", info.Title)
	field("Type", info.Type.String())
	field("User", strings.TrimSpace(info.UserName+" "+paren(info.UserID)))
	field("Size", dimensions(info.Width, info.Height))
	if mime, ok := c.session.FileTypes.Known(info.MediaID); ok {
		field("File type", mime)
	}
	field("Pages", strconv.Itoa(max(info.PageCount, len(info.Pages))))
	field("Created", formatTime(info.CreateDate))
	if info.Bookmark != nil {
		kind := "public"
		if info.Bookmark.Private {
			kind = "private"
		}
		field("Bookmarked", colorGreen+kind+colorReset)
		if tags, ok := c.session.BookmarkTags.Get(info.MediaID); ok {
			field("Bookmark tags", strings.Join(tags, ", "))
		}
	}
	if info.Full {
		field("Bookmarks", strconv.Itoa(info.BookmarkCount))
		field("Likes", strconv.Itoa(info.LikeCount))
		field("Views", strconv.Itoa(info.ViewCount))
	}
	if len(info.Tags) > 0 {
		translated, err := c.session.Tags.Translate(ctx, info.Tags, "en")
		if err != nil {
			return fmt.Errorf("translate tags: %w", err)
		}
		tags := make([]string, len(info.Tags))
		for i, tag := range info.Tags {
			tags[i] = tag
			if tr := translated[tag]; tr != tag {
				tags[i] += " " + paren(tr)
			}
		}
		field("Tags", colorYellow+strings.Join(tags, ", ")+colorReset)
	}
	if info.Ugoira != nil {
		field("Frames", strconv.Itoa(len(info.Ugoira.Frames)))
	}
	for i, page := range info.Pages {
		field(fmt.Sprintf("Page %d", i), page.URLs.Original)
	}
	if len(info.ExtraData) > 0 {
		field("Edits", strconv.Itoa(len(info.ExtraData))+" page(s)")
	}
	return nil
}

// DownloadManga saves every page of a work as a ZIP at outPath, or under a
// name derived from the work when outPath is empty or a directory.
func (c *Commands) DownloadManga(ctx context.Context, idArg, outPath string) error {
	return c.download(ctx, idArg, outPath, ".zip", c.session.Downloader.MangaZip)
}

// DownloadUgoira saves an animation as an MKV video.
func (c *Commands) DownloadUgoira(ctx context.Context, idArg, outPath string) error {
	return c.download(ctx, idArg, outPath, ".mkv", c.session.Downloader.UgoiraToMKV)
}

type buildFunc func(ctx context.Context, info *model.MediaInfo, progress download.Progress) ([]byte, error)

func (c *Commands) download(ctx context.Context, idArg, outPath, ext string, build buildFunc) error {
	id, err := ParseID(idArg)
	if err != nil {
		return err
	}
	info, err := c.session.View(ctx, id)
	if err != nil {
		return fmt.Errorf("load %s: %w", id, err)
	}

	data, err := build(ctx, info, c.progress(info.MediaID))
	if err != nil {
		return fmt.Errorf("download %s: %w", info.MediaID, err)
	}

	path := outPath
	if path == "" {
		path = download.Filename(info, ext)
	} else if st, err := os.Stat(path); err == nil && st.IsDir() {
		path = filepath.Join(path, download.Filename(info, ext))
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(c.out, "%sSaved%s %s%s%s (%d bytes)\n", colorGreen, colorReset, colorBold, path, colorReset, len(data))
	return nil
}

func (c *Commands) progress(id mediaid.ID) download.Progress {
	return func(fraction float64) {
		if fraction == download.ProgressDone {
			fmt.Fprintf(c.errOut, "\r%s%s done%s\n", colorDim, id, colorReset)
			return
		}
		fmt.Fprintf(c.errOut, "\r%s%s %3.0f%%%s", colorDim, id, fraction*100, colorReset)
	}
}

// Recent lists recently viewed works, newest first.
func (c *Commands) Recent(ctx context.Context, limit int) error {
	ids, err := c.session.Recent.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("list recent: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintln(c.out, "Nothing viewed yet.")
		return nil
	}

	infos := make([]*model.MediaInfo, 0, len(ids))
	for _, id := range ids {
		info := c.session.Media.GetSync(id, false)
		if info == nil {
			info = &model.MediaInfo{MediaID: id}
		}
		infos = append(infos, info)
	}
	c.printMediaTable(infos)
	return nil
}

// ExportEdits writes all stored image edits as JSON to w.
func (c *Commands) ExportEdits(ctx context.Context, w io.Writer) error {
	n, err := c.session.Edits.Export(ctx, w)
	if err != nil {
		return fmt.Errorf("export edits: %w", err)
	}
	fmt.Fprintf(c.errOut, "%sExported%s %s%d%s edit(s).\n", colorGreen, colorReset, colorBold, n, colorReset)
	return nil
}

// ImportEdits reads image edits from a JSON export file.
func (c *Commands) ImportEdits(ctx context.Context, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	n, err := c.session.Edits.Import(ctx, file)
	if err != nil {
		return fmt.Errorf("import edits: %w", err)
	}
	fmt.Fprintf(c.out, "%sImported%s %s%d%s edit(s).\n", colorGreen, colorReset, colorBold, n, colorReset)
	return nil
}

// TranslateTags prints the known translation of each tag.
func (c *Commands) TranslateTags(ctx context.Context, tags []string, lang string) error {
	if len(tags) == 0 {
		return fmt.Errorf("at least one tag required")
	}
	translated, err := c.session.Tags.Translate(ctx, tags, lang)
	if err != nil {
		return fmt.Errorf("translate tags: %w", err)
	}
	for _, tag := range tags {
		tr := translated[tag]
		if tr == tag {
			fmt.Fprintf(c.out, "%s%s%s %s(unknown)%s\n", colorBold, tag, colorReset, colorDim, colorReset)
			continue
		}
		fmt.Fprintf(c.out, "%s%s%s %s→%s %s%s%s\n", colorBold, tag, colorReset, colorDim, colorReset, colorCyan, tr, colorReset)
	}
	return nil
}

// Version prints the version.
func (c *Commands) Version(version string) {
	fmt.Fprintf(c.out, "vview version %s\n", version)
}

const (
	maxTitleLen = 40
	maxUserLen  = 20
	maxTagsLen  = 30
)

func (c *Commands) printMediaTable(infos []*model.MediaInfo) {
	headers := []string{"ID", "TITLE", "TYPE", "PAGES", "USER", "TAGS"}
	rows := make([][]string, len(infos))
	for i, info := range infos {
		pages := "-"
		if info.PageCount > 0 {
			pages = strconv.Itoa(info.PageCount)
		}
		title := info.Title
		if info.Bookmark != nil {
			title = "♥ " + title
		}
		rows[i] = []string{
			info.MediaID.String(),
			truncateString(title, maxTitleLen),
			info.Type.String(),
			pages,
			truncateString(info.UserName, maxUserLen),
			truncateString(strings.Join(info.Tags, ","), maxTagsLen),
		}
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	colors := []string{colorBold + colorCyan, "", colorDim, colorDim, colorCyan, colorYellow}
	line := func(cells []string, styles []string) string {
		var b strings.Builder
		b.WriteString(colorDim + "│" + colorReset)
		for i, cell := range cells {
			b.WriteString(" " + styles[i] + pad(cell, widths[i]) + colorReset + " ")
			b.WriteString(colorDim + "│" + colorReset)
		}
		return b.String()
	}
	border := func(left, mid, right string) string {
		parts := make([]string, len(widths))
		for i, w := range widths {
			parts[i] = strings.Repeat("─", w+2)
		}
		return colorDim + left + strings.Join(parts, mid) + right + colorReset
	}

	bold := make([]string, len(headers))
	for i := range bold {
		bold[i] = colorBold
	}
	fmt.Fprintln(c.out, border("┌", "┬", "┐"))
	fmt.Fprintln(c.out, line(headers, bold))
	fmt.Fprintln(c.out, border("├", "┼", "┤"))
	for _, row := range rows {
		fmt.Fprintln(c.out, line(row, colors))
	}
	fmt.Fprintln(c.out, border("└", "┴", "┘"))
}

func pad(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func truncateString(s string, maxLen int) string {
	if lipgloss.Width(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+3 > maxLen {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

func paren(s string) string {
	if s == "" {
		return ""
	}
	return "(" + s + ")"
}

func dimensions(w, h int) string {
	if w == 0 || h == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", w, h)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

// ParseID parses a media id argument. A bare number is an illustration id.
func ParseID(s string) (mediaid.ID, error) {
	id := mediaid.Parse(strings.TrimSpace(s))
	if id.IsZero() || id.Type == mediaid.TypeUnknown || id.ID == "" {
		return mediaid.ID{}, fmt.Errorf("invalid media id %q: %w", s, model.ErrInvalidMediaID)
	}
	return id, nil
}

// errorf formats a command failure for stderr.
func errorf(err error) string {
	if model.IsCancelled(err) {
		return colorYellow + "cancelled" + colorReset
	}
	return colorRed + err.Error() + colorReset
}

// ReportError writes err to w the way every command reports failures.
func ReportError(w io.Writer, err error) {
	fmt.Fprintf(w, "%sERROR:%s %s\n", colorBold, colorReset, errorf(err))
}
