package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/cbegin/midifeed-go"
	"github.com/cbegin/midifeed-go/internal/config"
	"github.com/cbegin/midifeed-go/internal/debug"
)

const (
	refreshInterval = 100 * time.Millisecond
	fadeOutDuration = 3 * time.Second
	volumeStep      = 5
	pitchStep       = 10
	listHeight      = 12
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8be9fd"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#555"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#fff"))
	cursorStyle = lipgloss.NewStyle().Background(lipgloss.Color("#444"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5555"))
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type model struct {
	player   *midifeed.Player
	events   <-chan midifeed.PlaybackEvent
	watcher  *config.Watcher
	files    []string
	cursor   int
	playing  string
	loops    int
	status   string
	err      error
	quitting bool
}

type refreshMsg time.Time

type playbackMsg midifeed.PlaybackEvent

type configMsg struct {
	cfg *config.Config
	err error
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func listenForEvents(ch <-chan midifeed.PlaybackEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return playbackMsg(ev)
	}
}

// listenForConfig waits for the next reload of the watched config file.
func listenForConfig(w *config.Watcher) tea.Cmd {
	if w == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case cfg, ok := <-w.Changes:
			if !ok {
				return nil
			}
			return configMsg{cfg: cfg}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return configMsg{err: err}
		}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(refresh(), listenForEvents(m.events), listenForConfig(m.watcher))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case refreshMsg:
		return m, refresh()

	case playbackMsg:
		switch msg.Kind {
		case midifeed.EventLoopCompleted:
			m.loops = msg.Loop
			m.status = fmt.Sprintf("loop %d completed", msg.Loop)
		case midifeed.EventPlaybackEnded:
			m.status = "playback ended"
		}
		return m, listenForEvents(m.events)

	case configMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.applyConfig(msg.cfg)
			m.status = "config reloaded"
		}
		return m, listenForConfig(m.watcher)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		_ = m.player.Stop()
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.files)-1 {
			m.cursor++
		}

	case "enter":
		if len(m.files) == 0 {
			break
		}
		path := m.files[m.cursor]
		if m.err = m.player.PlayFile(path); m.err == nil {
			m.playing = path
			m.loops = 0
			m.status = "playing"
		}

	case " ":
		if m.player.Paused() {
			m.player.Resume()
			m.status = "resumed"
		} else {
			m.player.Pause()
			m.status = "paused"
		}

	case "+", "=":
		m.player.SetVolume(min(m.player.Volume()+volumeStep, 100))

	case "-", "_":
		m.player.SetVolume(max(m.player.Volume()-volumeStep, 0))

	case "f":
		m.player.Fade(m.player.Volume(), 0, fadeOutDuration)
		m.status = "fading out"

	case "r":
		if m.err = m.player.Restart(); m.err == nil {
			m.status = "restarted at loop point"
		}

	case "[":
		m.err = m.player.SetPitch(max(m.player.Pitch()-pitchStep, pitchStep))

	case "]":
		m.err = m.player.SetPitch(m.player.Pitch() + pitchStep)
	}
	return m, nil
}

// applyConfig takes the settings that can change during playback.
func (m *model) applyConfig(cfg *config.Config) {
	m.player.SetVolume(cfg.Volume)
	m.player.SetLooping(cfg.Loop)
	m.err = m.player.SetPitch(cfg.Pitch)
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("midifeed"))
	b.WriteString("\n\n")

	start := max(0, min(m.cursor-listHeight/2, len(m.files)-listHeight))
	end := min(len(m.files), start+listHeight)
	var list strings.Builder
	if len(m.files) == 0 {
		list.WriteString(dimStyle.Render("no .mid files"))
	}
	for i := start; i < end; i++ {
		name := filepath.Base(m.files[i])
		line := "  " + name
		if m.files[i] == m.playing {
			line = "> " + name
		}
		switch {
		case i == m.cursor:
			line = cursorStyle.Render(line)
		case m.files[i] == m.playing:
			line = activeStyle.Render(line)
		default:
			line = dimStyle.Render(line)
		}
		list.WriteString(line + "\n")
	}
	b.WriteString(panelStyle.Render(strings.TrimRight(list.String(), "\n")))
	b.WriteString("\n")

	state := "stopped"
	switch {
	case m.playing != "" && m.player.Paused():
		state = "paused"
	case m.playing != "" && !m.player.Finished():
		state = "playing"
	}
	pos := m.player.Position()
	total, loopStart := m.player.Duration()
	info := fmt.Sprintf("%-8s %7.2fs / %.2fs  loop @ %.2fs  ticks %d\nvolume %3d%%  pitch %3d%%  loops %d",
		state, pos.Seconds, total, loopStart, pos.Ticks, m.player.Volume(), m.player.Pitch(), m.loops)
	b.WriteString(panelStyle.Render(activeStyle.Render(info)))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()) + "\n")
	} else if m.status != "" {
		b.WriteString(statusStyle.Render(m.status) + "\n")
	}
	b.WriteString(dimStyle.Render("enter play  space pause  +/- volume  f fade  r restart  [ ] pitch  q quit"))
	return b.String()
}

// findSongs lists the MIDI files in dir, or just path when it is a file.
func findSongs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".mid", ".midi", ".smf":
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func main() {
	var (
		dir        = flag.String("dir", ".", "directory of MIDI files, or a single file")
		configPath = flag.String("config", "", "config file (default ~/.config/midifeed/config.yaml)")
	)
	flag.Parse()
	defer midi.CloseDriver()

	path := *configPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			log.Fatal(err)
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Debug {
		if err := debug.Enable(debug.DefaultPath()); err != nil {
			log.Printf("debug log: %v", err)
		}
		defer debug.Disable()
	}
	files, err := findSongs(*dir)
	if err != nil {
		log.Fatal(err)
	}

	opts := []midifeed.PlayerOption{
		midifeed.WithSampleRate(cfg.SampleRate),
		midifeed.WithLoopPlayback(cfg.Loop),
	}
	switch cfg.Backend {
	case config.BackendSoundFont:
		opts = append(opts, midifeed.WithSoundFont(cfg.SoundFont))
	case config.BackendPort:
		opts = append(opts, midifeed.WithPort(cfg.Port))
	}
	pl, err := midifeed.NewPlayer(opts...)
	if err != nil {
		log.Fatal(err)
	}
	defer pl.Close()
	pl.SetVolume(cfg.Volume)
	if err := pl.SetPitch(cfg.Pitch); err != nil {
		log.Fatal(err)
	}

	m := model{player: pl, events: pl.Watch(), files: files}
	if w, err := config.NewWatcher(path); err == nil {
		m.watcher = w
		defer w.Close()
	} else {
		debug.Log("tui", "config not watched: %v", err)
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
}
