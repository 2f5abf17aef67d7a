package tui

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/bunchhieng/vview/internal/app"
	"github.com/bunchhieng/vview/internal/datasource"
	"github.com/bunchhieng/vview/internal/idlist"
	"github.com/bunchhieng/vview/internal/mediaid"
	"github.com/bunchhieng/vview/internal/model"
	tea "github.com/charmbracelet/bubbletea"
)

const requestTimeout = 30 * time.Second

type appModel struct {
	session   *app.Session
	listing   *datasource.Session
	current   mediaid.ID
	info      *model.MediaInfo
	bmTags    []string
	mode      idlist.MangaMode
	loading   bool
	width     int
	height    int
	err       error
	statusMsg string
}

type currentMsg struct {
	id  mediaid.ID
	ok  bool
	err error
}

type infoMsg struct {
	id   mediaid.ID
	info *model.MediaInfo
	err  error
}

type statusMsg struct {
	message string
}

type bookmarkTagsMsg struct {
	id   mediaid.ID
	tags []string
}

func initialModel(s *app.Session, listing *datasource.Session) appModel {
	return appModel{
		session: s,
		listing: listing,
		mode:    idlist.MangaNormal,
		loading: true,
		width:   80,
		height:  24,
	}
}

func (m appModel) Init() tea.Cmd {
	return tea.Batch(
		loadFirst(m.listing),
		tea.EnterAltScreen,
	)
}

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit

		case "j", "down", "right", "n", " ":
			return m, m.move(idlist.Next)

		case "k", "up", "left", "p":
			return m, m.move(idlist.Previous)

		case "m":
			m.cycleMode()
			return m, status(fmt.Sprintf("Manga mode: %s", modeName(m.mode)))

		case "o", "enter":
			return m, m.openInBrowser()

		case "ctrl+l":
			if m.current.IsZero() {
				return m, nil
			}
			m.loading = true
			return m, loadInfo(m.session, m.current)

		case "?":
			return m, status("j/k=next/prev  m=manga mode  o=open  q=quit")
		}

	case currentMsg:
		m.loading = false
		if msg.err != nil {
			return m, status(fmt.Sprintf("Error: %v", msg.err))
		}
		if !msg.ok {
			if m.current.IsZero() {
				m.err = fmt.Errorf("%s has no results", m.listing.Source().Name())
				return m, nil
			}
			return m, status("End of list")
		}
		m.current = msg.id
		m.loading = true
		return m, loadInfo(m.session, msg.id)

	case infoMsg:
		if msg.id != m.current {
			return m, nil
		}
		m.loading = false
		if msg.err != nil {
			return m, status(fmt.Sprintf("Error: %v", msg.err))
		}
		m.info = msg.info
		m.bmTags, _ = m.session.BookmarkTags.Get(msg.id)
		return m, nil

	case bookmarkTagsMsg:
		if msg.id == m.current.FirstPage() {
			m.bmTags = msg.tags
		}
		return m, nil

	case statusMsg:
		m.statusMsg = msg.message
		if msg.message == "" {
			return m, nil
		}
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return statusMsg{""}
		})
	}

	return m, nil
}

func (m appModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err)
	}

	return m.renderHeader() + "\n" +
		m.renderInfo() + "\n" +
		m.renderNearby() + "\n" +
		m.renderStatusBar()
}

func (m *appModel) cycleMode() {
	switch m.mode {
	case idlist.MangaNormal:
		m.mode = idlist.MangaSkipToFirst
	case idlist.MangaSkipToFirst:
		m.mode = idlist.MangaSkipPast
	default:
		m.mode = idlist.MangaNormal
	}
}

func (m *appModel) move(dir idlist.Direction) tea.Cmd {
	if m.current.IsZero() || m.loading {
		return nil
	}
	m.loading = true
	listing, id, mode := m.listing, m.current, m.mode
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		next, ok, err := listing.Neighbor(ctx, id, dir, mode)
		return currentMsg{id: next, ok: ok, err: err}
	}
}

func loadFirst(listing *datasource.Session) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		id, ok, err := listing.First(ctx)
		return currentMsg{id: id, ok: ok, err: err}
	}
}

func loadInfo(s *app.Session, id mediaid.ID) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		info, err := s.View(ctx, id)
		return infoMsg{id: id, info: info, err: err}
	}
}

func status(message string) tea.Cmd {
	return func() tea.Msg {
		return statusMsg{message}
	}
}

func (m *appModel) openInBrowser() tea.Cmd {
	if m.current.IsZero() || m.current.IsLocal() {
		return nil
	}

	illustID, page := m.current.ToIllustIDAndPage()
	url := fmt.Sprintf("https://www.pixiv.net/artworks/%s#%d", illustID, page+1)
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return status("Unsupported OS")
	}

	go cmd.Run()

	return status(fmt.Sprintf("Opened: %s", url))
}

// Run starts the browse screen over listing.
func Run(s *app.Session, listing *datasource.Session) error {
	p := tea.NewProgram(initialModel(s, listing), tea.WithAltScreen())
	s.BookmarkTags.Subscribe(func(id mediaid.ID, tags []string) {
		p.Send(bookmarkTagsMsg{id: id, tags: tags})
	})
	_, err := p.Run()
	return err
}
