package ui

import (
	"fmt"
	"strings"

	"github.com/Carthicc/karlynn/internal/session"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// PeerTable renders the remote peers of a session.
func PeerTable(peers []session.PeerStatus) string {
	if len(peers) == 0 {
		return MutedStyle.Render("Waiting for someone to join...")
	}

	rows := make([][]string, 0, len(peers))
	for i, p := range peers {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			ShortID(p.ID),
			p.Role.String(),
			p.State.String(),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Peer", "Role", "State").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// RoomInfo renders a box describing the room and local media state.
func RoomInfo(st session.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", IconRoom, BoldStyle.Render("Room:"), st.Room)
	fmt.Fprintf(&b, "%s %s %s\n", IconPeer, BoldStyle.Render("You:"), ShortID(st.LocalID))

	mic := IconMic + " on"
	if !st.AudioOn {
		mic = IconMuted + " muted"
	}
	cam := IconCamera + " on"
	if !st.VideoOn {
		cam = IconCamera + " off"
	}
	fmt.Fprintf(&b, "%s   %s", mic, cam)

	return BoxStyle.Render(b.String())
}

// PlaybackLine renders the loaded video and current position.
func PlaybackLine(st session.Status) string {
	if st.Video == nil {
		return MutedStyle.Render(IconVideo + " No video loaded")
	}
	icon := IconPause
	if st.Playing {
		icon = IconPlay
	}
	return fmt.Sprintf("%s %s  %s %s",
		IconVideo,
		BoldStyle.Render(st.Video.Name),
		icon,
		FormatPosition(st.Position),
	)
}
