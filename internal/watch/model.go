// Package watch is a terminal client that shows who is online and the
// messages relayed to the signed-in user.
package watch

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
)

const (
	eventPresenceUpdate = "presence:update"
	eventMessageNew     = "message:new"

	maxFeedEntries = 200
	retryDelay     = 2 * time.Second
)

// Model is the bubbletea state of the watch client.
type Model struct {
	textInput  textinput.Model
	spinner    spinner.Model
	baseURL    string
	wsPath     string
	token      string
	conn       *websocket.Conn
	writeMutex sync.Mutex
	connected  bool
	connErr    error
	refused    string
	online     map[string]bool
	feed       []feedEntry
}

type feedKind int

const (
	feedSystem feedKind = iota
	feedPresence
	feedMessage
)

type feedEntry struct {
	kind feedKind
	at   time.Time
	who  string
	text string
}

// incoming frame as sent by the server
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type presencePayload struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type messagePayload struct {
	ConversationID string          `json:"conversationId"`
	Message        json.RawMessage `json:"message"`
}

type (
	connectedMsg     struct{ conn *websocket.Conn }
	connectFailedMsg struct{ err error }
	reconnectMsg     struct{}
	presenceMsg      presencePayload
	messageMsg       messagePayload
	unknownFrameMsg  struct{ event string }
	refusedMsg       struct{ reason string }
	disconnectedMsg  struct{ err error }
	relayResultMsg   struct {
		recipients []string
		err        error
	}
)

var (
	titleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	headerStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle  = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle      = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	panelStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(0, 1).MarginTop(1)
	inputBoxStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	hintStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	timestampStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	onlineDotStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	offlineStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	systemStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	usernameStyle   = lipgloss.NewStyle().Bold(true)
	bodyStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	userPalette     = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func NewModel(baseURL, wsPath, token string) *Model {
	input := textinput.New()
	input.Placeholder = "@alice,bob #conversation message…"
	input.CharLimit = 0
	input.Prompt = "> "
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = connectingStyle.Copy().MarginTop(0)

	return &Model{
		textInput: input,
		spinner:   spin,
		baseURL:   baseURL,
		wsPath:    wsPath,
		token:     token,
		online:    make(map[string]bool),
		feed:      make([]feedEntry, 0, 64),
	}
}

func (model *Model) Init() tea.Cmd {
	return tea.Batch(model.spinner.Tick, model.connectCmd())
}

func (model *Model) addFeed(entry feedEntry) {
	if entry.at.IsZero() {
		entry.at = time.Now()
	}
	model.feed = append(model.feed, entry)
	if len(model.feed) > maxFeedEntries {
		model.feed = model.feed[len(model.feed)-maxFeedEntries:]
	}
}

// OnlineUsers lists the users currently known to be online.
func (model *Model) OnlineUsers() []string {
	users := make([]string, 0, len(model.online))
	for user, online := range model.online {
		if online {
			users = append(users, user)
		}
	}
	return users
}

// Run launches the bubbletea program.
func Run(baseURL, wsPath, token string) error {
	program := tea.NewProgram(NewModel(baseURL, wsPath, token))
	_, err := program.Run()
	return err
}
