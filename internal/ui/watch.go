package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Carthicc/karlynn/internal/session"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	refreshInterval = 250 * time.Millisecond
	maxLogLines     = 6
)

// Controller is the part of a session the watch screen drives.
type Controller interface {
	TogglePlay() error
	ToggleMute() (bool, error)
	ToggleVideo() (bool, error)
	Status() (session.Status, error)
}

type (
	eventMsg  session.Event
	closedMsg struct{}
	tickMsg   time.Time
)

// WatchModel is the interactive screen shown while in a room.
type WatchModel struct {
	ctrl    Controller
	events  <-chan session.Event
	spinner spinner.Model
	status  session.Status
	log     []string
	err     error

	// Disconnected is set when the event stream ended before the user quit.
	Disconnected bool
	quitting     bool
}

func NewWatchModel(ctrl Controller, events <-chan session.Event) *WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	m := &WatchModel{ctrl: ctrl, events: events, spinner: s}
	m.refresh()
	return m
}

func (m *WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen(), tick())
}

func (m *WatchModel) listen() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case eventMsg:
		m.record(session.Event(msg))
		m.refresh()
		return m, m.listen()

	case closedMsg:
		if !m.quitting {
			m.Disconnected = true
		}
		m.quitting = true
		return m, tea.Quit

	case tickMsg:
		m.refresh()
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *WatchModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	m.err = nil
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return tea.Quit
	case " ", "space", "p":
		m.err = m.ctrl.TogglePlay()
	case "m":
		on, err := m.ctrl.ToggleMute()
		if err == nil {
			m.addLog(fmt.Sprintf("microphone %s", onOff(on)))
		}
		m.err = err
	case "v":
		on, err := m.ctrl.ToggleVideo()
		if err == nil {
			m.addLog(fmt.Sprintf("camera %s", onOff(on)))
		}
		m.err = err
	}
	m.refresh()
	return nil
}

func (m *WatchModel) refresh() {
	st, err := m.ctrl.Status()
	if err != nil {
		return
	}
	m.status = st
}

func (m *WatchModel) record(ev session.Event) {
	peer := ShortID(ev.Peer)
	switch ev.Kind {
	case session.EventPeerJoined:
		m.addLog(fmt.Sprintf("%s %s joined", IconPeer, peer))
	case session.EventPeerConnected:
		m.addLog(fmt.Sprintf("%s %s connected", IconConnect, peer))
	case session.EventTrackReceived:
		m.addLog(fmt.Sprintf("receiving %s from %s", ev.Track, peer))
	case session.EventNegotiationFailed:
		m.addLog(ErrorStyle.Render(fmt.Sprintf("negotiation with %s failed: %v", peer, ev.Err)))
	case session.EventPeerLeft:
		m.addLog(fmt.Sprintf("%s %s left", IconPeer, peer))
	case session.EventRemotePlay:
		m.addLog(IconPlay + " play")
	case session.EventRemotePause:
		m.addLog(IconPause + " pause")
	case session.EventCorrected:
		m.addLog(fmt.Sprintf("%s synced to %s", IconSync, FormatPosition(ev.Position)))
	case session.EventDisconnected:
		m.addLog(WarningStyle.Render("disconnected from server"))
	}
}

func (m *WatchModel) addLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func (m *WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render("SyncWatch"))
	b.WriteString("\n")
	b.WriteString(RoomInfo(m.status))
	b.WriteString("\n\n")
	b.WriteString(PlaybackLine(m.status))
	b.WriteString("\n\n")

	if len(m.status.Peers) == 0 {
		b.WriteString(m.spinner.View() + " ")
	}
	b.WriteString(PeerTable(m.status.Peers))
	b.WriteString("\n")

	for _, line := range m.log {
		b.WriteString(MutedStyle.Render("• ") + line + "\n")
	}
	if m.err != nil {
		b.WriteString(ErrorStyle.Render(m.err.Error()) + "\n")
	}

	b.WriteString(FooterStyle.Render("space play/pause • m mute • v camera • q quit"))
	return b.String()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// RunWatch blocks until the user quits or the event stream closes.
// It reports whether the session was disconnected.
func RunWatch(ctrl Controller, events <-chan session.Event) (bool, error) {
	m := NewWatchModel(ctrl, events)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		return false, err
	}
	return m.Disconnected, nil
}
