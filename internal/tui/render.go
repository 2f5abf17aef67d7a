package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bunchhieng/vview/internal/idlist"
	"github.com/bunchhieng/vview/internal/mediaid"
	"github.com/bunchhieng/vview/internal/model"
	"github.com/charmbracelet/lipgloss"
)

var (
	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("230")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	tagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220"))

	bookmarkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("204"))

	infoStyle = lipgloss.NewStyle().
			Padding(1, 2)
)

func modeName(mode idlist.MangaMode) string {
	switch mode {
	case idlist.MangaSkipToFirst:
		return "skip to first"
	case idlist.MangaSkipPast:
		return "skip past"
	}
	return "normal"
}

func (m appModel) renderHeader() string {
	pages := "?"
	if last, ok := m.listing.LastPage(); ok {
		pages = fmt.Sprint(last)
	}
	loaded := "none"
	if lo, hi, ok := m.listing.LoadedRange(); ok {
		loaded = fmt.Sprintf("%d-%d", lo, hi)
		if lo == hi {
			loaded = fmt.Sprint(lo)
		}
	}
	header := fmt.Sprintf("vview - %s  [pages %s of %s]  [manga: %s]",
		m.listing.Source().Name(), loaded, pages, modeName(m.mode))
	return headerStyle.Render(header)
}

func (m appModel) renderInfo() string {
	if m.info == nil {
		if m.loading {
			return infoStyle.Render(dimStyle.Render("Loading..."))
		}
		return infoStyle.Render(dimStyle.Render("Nothing selected."))
	}
	info := m.info

	var b strings.Builder
	title := info.Title
	if title == "" {
		title = info.MediaID.String()
	}
	b.WriteString(titleStyle.Render(title))
	if info.Bookmark != nil {
		b.WriteString(" " + bookmarkStyle.Render("♥"))
	}
	b.WriteString("\n")

	_, page := m.current.ToIllustIDAndPage()
	pages := max(info.PageCount, 1)
	b.WriteString(dimStyle.Render(fmt.Sprintf("%s  by %s  %s  page %d/%d",
		info.Type, info.UserName, info.MediaID, page+1, pages)))
	b.WriteString("\n")

	if len(info.Tags) > 0 {
		b.WriteString(tagStyle.Render(strings.Join(info.Tags, "  ")))
		b.WriteString("\n")
	}
	if info.Bookmark != nil && len(m.bmTags) > 0 {
		b.WriteString(bookmarkStyle.Render("bookmark tags: " + strings.Join(m.bmTags, ", ")))
		b.WriteString("\n")
	}
	if info.Full {
		b.WriteString(dimStyle.Render(fmt.Sprintf("♥ %d  👍 %d  👁 %d", info.BookmarkCount, info.LikeCount, info.ViewCount)))
		b.WriteString("\n")
	}
	if url, ok := info.PageURL(page); ok && url.Original != "" {
		b.WriteString(dimStyle.Render(url.Original))
		b.WriteString("\n")
	}
	if len(info.ExtraData) > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("%d edited page(s)", len(info.ExtraData))))
		b.WriteString("\n")
	}

	return infoStyle.Width(m.width - 2).Render(b.String())
}

// renderNearby lists the works around the current one in listing order.
func (m appModel) renderNearby() string {
	ids := m.listing.List().AllMediaIDs()
	if len(ids) == 0 {
		return ""
	}
	pos := slices.Index(ids, m.current.FirstPage())
	if pos < 0 {
		pos = 0
	}

	rows := max(m.height-14, 3)
	start := max(pos-rows/2, 0)
	end := min(start+rows, len(ids))

	var b strings.Builder
	for i := start; i < end; i++ {
		b.WriteString(m.renderItem(ids[i], i == pos))
		b.WriteString("\n")
	}
	return b.String()
}

func (m appModel) renderItem(id mediaid.ID, selected bool) string {
	title := id.String()
	var info *model.MediaInfo
	if info = m.session.Media.GetPartialSync(id); info != nil && info.Title != "" {
		title = info.Title
	}
	if len([]rune(title)) > 50 {
		title = string([]rune(title)[:47]) + "..."
	}

	line := title
	if info != nil && info.PageCount > 1 {
		line += dimStyle.Render(fmt.Sprintf(" (%dp)", info.PageCount))
	}

	if selected {
		return selectedStyle.Render(line)
	}
	return " " + line
}

func (m appModel) renderStatusBar() string {
	var parts []string

	if m.statusMsg != "" {
		parts = append(parts, m.statusMsg)
	} else if !m.current.IsZero() {
		if page, ok := m.listing.List().PageOf(m.current); ok {
			parts = append(parts, fmt.Sprintf("listing page %d", page))
		}
	}

	parts = append(parts, "[j]next [k]prev [m]anga mode [o]pen [q]uit")

	return statusBarStyle.Width(m.width).Render(strings.Join(parts, "  |  "))
}
