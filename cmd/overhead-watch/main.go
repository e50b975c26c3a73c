// Overhead watch
// Terminal subscriber for an overhead server: shows the current sky,
// the primary aircraft, and the spotting logbook.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/skyspotter/overhead/internal/protocol"
	"github.com/skyspotter/overhead/pkg/client"
)

var (
	serverURL = flag.String("url", "ws://localhost:8080/ws", "Server WebSocket URL")
	token     = flag.String("token", "", "Session token (optional)")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("25")).
			Padding(0, 1)

	connectedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	reconnectingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	suspendedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Bold(true)

	primaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("25")).
			Padding(0, 1)

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// eventMsg wraps one manager event for bubbletea.
type eventMsg client.Event

// waitForEvent bridges the manager's event channel into the program.
func waitForEvent(events <-chan client.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-events)
	}
}

type model struct {
	mgr    *client.Manager
	events <-chan client.Event

	state     client.State
	suspended bool
	attempt   int
	wait      time.Duration

	primary   *protocol.Aircraft
	aircraft  []protocol.Aircraft
	noTraffic bool
	updatedAt time.Time

	logbook     []protocol.LogbookEntry
	showLogbook bool

	serverErr string
	closed    bool
}

func (m model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.mgr.Close()
			return m, tea.Quit

		case "l":
			m.showLogbook = !m.showLogbook
			if m.showLogbook {
				m.mgr.Send([]byte(`{"type":"get_logbook"}`))
			}
			return m, nil

		case "s":
			if m.suspended {
				m.mgr.Resume()
			} else {
				m.mgr.Suspend()
			}
			return m, nil
		}
		return m, nil

	case eventMsg:
		return m.handleEvent(client.Event(msg))
	}
	return m, nil
}

func (m model) handleEvent(ev client.Event) (tea.Model, tea.Cmd) {
	switch ev.Type {
	case client.EventConnected:
		m.state = client.StateConnected
		m.attempt = 0
		m.serverErr = ""

	case client.EventDisconnected:
		m.state = client.StateDisconnected

	case client.EventReconnecting:
		m.state = client.StateConnecting
		m.attempt = ev.Attempt
		m.wait = ev.Wait

	case client.EventSuspended:
		m.suspended = true

	case client.EventResumed:
		m.suspended = false

	case client.EventMessage:
		m.apply(ev.Data)

	case client.EventClosed:
		m.closed = true
		return m, tea.Quit
	}
	return m, waitForEvent(m.events)
}

// apply folds one server message into the view state.
func (m *model) apply(data []byte) {
	var msg protocol.ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	switch msg.Type {
	case protocol.TypeAircraftUpdate:
		m.primary = msg.Primary
		m.aircraft = msg.Aircraft
		m.noTraffic = false
		m.updatedAt = time.Unix(msg.Timestamp, 0)

	case protocol.TypeNoTraffic:
		m.primary = nil
		m.aircraft = nil
		m.noTraffic = true
		m.updatedAt = time.Unix(msg.Timestamp, 0)

	case protocol.TypeLogbookData:
		m.logbook = msg.Entries

	case protocol.TypeError:
		m.serverErr = fmt.Sprintf("%s: %s", msg.Code, msg.Message)
	}
}

func (m model) View() string {
	if m.closed {
		return "Connection closed by server.\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("OVERHEAD WATCH"))
	b.WriteString("  ")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	if m.showLogbook {
		b.WriteString(m.logbookView())
	} else {
		b.WriteString(m.skyView())
	}

	if m.serverErr != "" {
		b.WriteString("\n")
		b.WriteString(errStyle.Render("server: " + m.serverErr))
	}

	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("q quit · l logbook · s suspend/resume"))
	b.WriteString("\n")
	return b.String()
}

// statusLine distinguishes a healthy-but-empty sky from a dead link.
func (m model) statusLine() string {
	if m.suspended {
		return suspendedStyle.Render("⏸ SUSPENDED")
	}
	switch m.state {
	case client.StateConnected:
		return connectedStyle.Render("● CONNECTED")
	case client.StateConnecting:
		return reconnectingStyle.Render(
			fmt.Sprintf("↻ RECONNECTING (attempt %d, wait %s)", m.attempt, m.wait.Round(time.Millisecond)))
	default:
		return reconnectingStyle.Render("○ DISCONNECTED")
	}
}

func (m model) skyView() string {
	if m.noTraffic {
		return dimStyle.Render(fmt.Sprintf("Sky is clear (as of %s)", m.updatedAt.Format("15:04:05")))
	}
	if m.primary == nil {
		return dimStyle.Render("Waiting for first update...")
	}

	var b strings.Builder

	p := m.primary
	name := p.Callsign
	if name == "" {
		name = p.ID
	}
	direction := ""
	if p.Approaching {
		direction = " · closing"
	}
	b.WriteString(primaryStyle.Render(fmt.Sprintf(
		"LOOK UP: %s\n%.1f km out, bearing %03.0f°, %.0f° above the horizon\n%.0f m at %.0f m/s%s",
		name, p.DistanceKm, p.BearingDeg, p.ElevationDeg,
		p.AltitudeM, p.GroundSpeedMS, direction)))
	b.WriteString("\n\n")

	b.WriteString(headStyle.Render(fmt.Sprintf("%-10s %9s %8s %6s %8s", "AIRCRAFT", "DIST", "BRG", "ELEV", "ALT")))
	b.WriteString("\n")
	for _, a := range m.aircraft {
		name := a.Callsign
		if name == "" {
			name = a.ID
		}
		b.WriteString(fmt.Sprintf("%-10s %7.1fkm %6.0f° %5.0f° %6.0fm\n",
			name, a.DistanceKm, a.BearingDeg, a.ElevationDeg, a.AltitudeM))
	}
	return b.String()
}

func (m model) logbookView() string {
	var b strings.Builder
	b.WriteString(headStyle.Render("SPOTTING LOGBOOK"))
	b.WriteString("\n")

	if len(m.logbook) == 0 {
		b.WriteString(dimStyle.Render("Nothing spotted yet."))
		return b.String()
	}

	for _, e := range m.logbook {
		last := time.Unix(e.LastSpottedAt, 0).Format("Jan 2 15:04")
		b.WriteString(fmt.Sprintf("%3d× %-30s last %s\n", e.Count, e.TypeName, last))
	}
	return b.String()
}

func main() {
	flag.Parse()

	mgr := client.New(client.Config{
		URL:   *serverURL,
		Token: *token,
	})
	mgr.Start()

	m := model{
		mgr:    mgr,
		events: mgr.Events(),
		state:  client.StateDisconnected,
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}
