package watch

import (
	"errors"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// RelayCommand is a message typed into the input line:
//
//	@alice,bob #conversation text
//
// The conversation is optional and defaults to "presencewatch".
type RelayCommand struct {
	Recipients     []string
	ConversationID string
	Text           string
}

const defaultConversation = "presencewatch"

var errRelaySyntax = errors.New("usage: @user[,user…] [#conversation] message")

func ParseRelayCommand(input string) (RelayCommand, error) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "@") {
		return RelayCommand{}, errRelaySyntax
	}
	target, rest, _ := strings.Cut(input[1:], " ")
	recipients := lo.Uniq(lo.Compact(lo.Map(strings.Split(target, ","), func(r string, _ int) string {
		return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(r), "@"))
	})))
	if len(recipients) == 0 {
		return RelayCommand{}, errRelaySyntax
	}
	rest = strings.TrimSpace(rest)
	conversation := defaultConversation
	if strings.HasPrefix(rest, "#") {
		var tag string
		tag, rest, _ = strings.Cut(rest[1:], " ")
		if tag != "" {
			conversation = tag
		}
		rest = strings.TrimSpace(rest)
	}
	if rest == "" {
		return RelayCommand{}, errRelaySyntax
	}
	return RelayCommand{Recipients: recipients, ConversationID: conversation, Text: rest}, nil
}

// connectCmd dials the websocket with the configured token.
func (model *Model) connectCmd() tea.Cmd {
	baseURL, wsPath, token := model.baseURL, model.wsPath, model.token
	return func() tea.Msg {
		wsURL, err := websocketURL(baseURL, wsPath, token)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		dialer := websocket.Dialer{HandshakeTimeout: httpTimeout}
		conn, _, err := dialer.Dial(wsURL, http.Header{})
		if err != nil {
			return connectFailedMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

// readOnceCmd reads a single frame; Update schedules it again after each
// frame so the read loop lives inside the bubbletea event loop.
func (model *Model) readOnceCmd() tea.Cmd {
	conn := model.conn
	return func() tea.Msg {
		if conn == nil {
			return disconnectedMsg{err: errors.New("websocket not connected")}
		}
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation {
				return refusedMsg{reason: closeErr.Text}
			}
			return disconnectedMsg{err: err}
		}
		if messageType != websocket.TextMessage {
			return unknownFrameMsg{}
		}
		msg, err := decodeFrame(payload)
		if err != nil {
			return unknownFrameMsg{}
		}
		return msg
	}
}

func (model *Model) relayCmd(cmd RelayCommand) tea.Cmd {
	baseURL := model.baseURL
	return func() tea.Msg {
		err := apiNotify(baseURL, cmd)
		return relayResultMsg{recipients: cmd.Recipients, err: err}
	}
}

func (model *Model) scheduleReconnect() tea.Cmd {
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}
