package watch

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (model *Model) View() string {
	header := headerStyle.Render(strings.Join([]string{
		titleStyle.Render("presencewatch"),
		"Server " + model.baseURL,
	}, "  "))

	var status string
	switch {
	case model.refused != "":
		status = errorStyle.Render("Refused: " + model.refused)
	case model.connected:
		status = connectedStyle.Render("Connected")
	case model.connErr != nil:
		status = errorStyle.Render("Connection error: "+model.connErr.Error()) + " " + model.spinner.View()
	default:
		status = connectingStyle.Render("Connecting " + model.spinner.View())
	}

	sections := []string{
		header,
		status,
		lipgloss.JoinHorizontal(lipgloss.Top, model.renderOnline(), " ", model.renderFeed()),
		inputBoxStyle.Render(model.textInput.View()),
		hintStyle.Render("@user[,user…] [#conversation] message to relay · /quit to leave"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *Model) renderOnline() string {
	users := model.OnlineUsers()
	slices.Sort(users)
	lines := []string{usernameStyle.Render(fmt.Sprintf("Online (%d)", len(users)))}
	if len(users) == 0 {
		lines = append(lines, offlineStyle.Render("nobody yet"))
	}
	for _, user := range users {
		lines = append(lines, onlineDotStyle.Render("●")+" "+lipgloss.NewStyle().Foreground(colorForUser(user)).Render(user))
	}
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (model *Model) renderFeed() string {
	if len(model.feed) == 0 {
		return panelStyle.Render(systemStyle.Render("Waiting for presence updates and messages."))
	}
	lines := make([]string, 0, len(model.feed))
	for _, entry := range model.feed {
		lines = append(lines, renderEntry(entry))
	}
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderEntry(entry feedEntry) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", entry.at.Format("15:04:05")))
	switch entry.kind {
	case feedPresence:
		name := usernameStyle.Copy().Foreground(colorForUser(entry.who)).Render(entry.who)
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", name, " ", systemStyle.Render(entry.text))
	case feedMessage:
		conversation := usernameStyle.Render("#" + entry.who)
		body := bodyStyle.Render(strings.ReplaceAll(entry.text, "\n", "\n   "))
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", conversation, ": ", body)
	default:
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", systemStyle.Render(entry.text))
	}
}

func colorForUser(name string) lipgloss.Color {
	if name == "" {
		return userPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userPalette[sum%len(userPalette)]
}
