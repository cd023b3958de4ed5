package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// Update reacts to key presses and websocket events.
func (model *Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := message.(type) {
	case tea.KeyMsg:
		if typed.Type == tea.KeyCtrlC || typed.Type == tea.KeyEsc {
			model.closeConn("")
			return model, tea.Quit
		}
		if typed.Type == tea.KeyEnter {
			return model.submit()
		}
		var cmd tea.Cmd
		model.textInput, cmd = model.textInput.Update(typed)
		return model, cmd

	case spinner.TickMsg:
		if model.connected || model.refused != "" {
			return model, nil
		}
		var cmd tea.Cmd
		model.spinner, cmd = model.spinner.Update(typed)
		return model, cmd

	case connectedMsg:
		model.conn = typed.conn
		model.connected = true
		model.connErr = nil
		return model, model.readOnceCmd()

	case connectFailedMsg:
		model.connErr = typed.err
		return model, model.scheduleReconnect()

	case reconnectMsg:
		if !model.connected && model.refused == "" {
			return model, tea.Batch(model.spinner.Tick, model.connectCmd())
		}
		return model, nil

	case presenceMsg:
		if typed.Online {
			model.online[typed.UserID] = true
		} else {
			delete(model.online, typed.UserID)
		}
		state := "went offline"
		if typed.Online {
			state = "came online"
		}
		model.addFeed(feedEntry{kind: feedPresence, who: typed.UserID, text: state})
		return model, model.readOnceCmd()

	case messageMsg:
		model.addFeed(feedEntry{kind: feedMessage, who: typed.ConversationID, text: renderMessageBody(typed.Message)})
		return model, model.readOnceCmd()

	case unknownFrameMsg:
		return model, model.readOnceCmd()

	case refusedMsg:
		model.connected = false
		model.refused = typed.reason
		model.addFeed(feedEntry{kind: feedSystem, text: "Connection refused: " + typed.reason})
		return model, nil

	case disconnectedMsg:
		model.connected = false
		model.conn = nil
		model.connErr = typed.err
		// the server's presence events are lost while disconnected
		model.online = make(map[string]bool)
		return model, tea.Batch(model.spinner.Tick, model.scheduleReconnect())

	case relayResultMsg:
		if typed.err != nil {
			model.addFeed(feedEntry{kind: feedSystem, text: "Relay failed: " + typed.err.Error()})
			return model, nil
		}
		model.addFeed(feedEntry{kind: feedSystem, text: fmt.Sprintf("Relayed to %s", strings.Join(typed.recipients, ", "))})
		return model, nil
	}
	return model, nil
}

func (model *Model) submit() (tea.Model, tea.Cmd) {
	trimmed := strings.TrimSpace(model.textInput.Value())
	if trimmed == "" {
		return model, nil
	}
	lower := strings.ToLower(trimmed)
	if lower == "/quit" || lower == "/exit" {
		model.closeConn("client quit")
		return model, tea.Quit
	}
	cmd, err := ParseRelayCommand(trimmed)
	if err != nil {
		model.addFeed(feedEntry{kind: feedSystem, text: err.Error()})
		return model, nil
	}
	model.textInput.SetValue("")
	return model, model.relayCmd(cmd)
}

func (model *Model) closeConn(reason string) {
	if model.conn == nil {
		return
	}
	model.writeMutex.Lock()
	_ = model.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	model.writeMutex.Unlock()
	_ = model.conn.Close()
}

// decodeFrame turns one server frame into the matching bubbletea message.
func decodeFrame(payload []byte) (tea.Msg, error) {
	var incoming frame
	if err := json.Unmarshal(payload, &incoming); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch incoming.Event {
	case eventPresenceUpdate:
		var presence presencePayload
		if err := json.Unmarshal(incoming.Data, &presence); err != nil {
			return nil, fmt.Errorf("decode presence: %w", err)
		}
		return presenceMsg(presence), nil
	case eventMessageNew:
		var message messagePayload
		if err := json.Unmarshal(incoming.Data, &message); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		return messageMsg(message), nil
	}
	return unknownFrameMsg{event: incoming.Event}, nil
}

// renderMessageBody shows string messages as text and anything else as
// compact JSON.
func renderMessageBody(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}
