package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/spotmotors/pkg/motors"
	"github.com/gwillem/spotmotors/pkg/robot"
)

type ConsoleCommand struct {
	Refresh time.Duration `long:"refresh" default:"500ms" description:"Status refresh interval"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
	tableWidth   = 40
)

const (
	seriesCommand = "command"
	seriesStatus  = "status"
)

var seriesColors = map[string]string{
	seriesCommand: "208", // orange
	seriesStatus:  "51",  // cyan
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	busyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

type consoleModel struct {
	ctrl     *motors.Controller
	chart    *streamlinechart.Model
	refresh  time.Duration
	status   motors.Status
	width    int      // terminal width
	height   int      // terminal height
	logs     []string // last N log messages
	busy     string   // running command, empty when idle
	quitting bool     // quit requested
	done     bool     // shutdown finished
}

func (m *consoleModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the controller
type stateMsg motors.Status
type logMsg string
type tickMsg time.Time

// commandDoneMsg reports a finished command and how long it blocked.
type commandDoneMsg struct {
	name string
	err  error
	took time.Duration
}

// refreshMsg reports how long a status query took.
type refreshMsg time.Duration

type shutdownMsg struct{}

func waitForState(ctrl *motors.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *motors.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runCommand runs a on a background context so a quit never cancels a
// command mid-flight.
func runCommand(ctrl *motors.Controller, a action) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		err := a.run(ctrl, context.Background())
		return commandDoneMsg{name: a.name, err: err, took: time.Since(start)}
	}
}

func refreshStatus(ctrl *motors.Controller) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		ctrl.Status(context.Background())
		return refreshMsg(time.Since(start))
	}
}

func shutdown(ctrl *motors.Controller) tea.Cmd {
	return func() tea.Msg {
		ctrl.Shutdown(context.Background())
		return shutdownMsg{}
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *consoleModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 40, 12 // default size before we know terminal size
	}
	width = m.width - tableWidth - borderSize - 2
	if width < 20 {
		width = 20
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 8 {
		height = 8
	}
	return width, height
}

func (m *consoleModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialConsoleModel(ctrl *motors.Controller, cfg robot.Config, refresh time.Duration) consoleModel {
	// latency in seconds, capped at the longest command bound
	maxY := cfg.PowerTimeout
	if cfg.MotionTimeout > maxY {
		maxY = cfg.MotionTimeout
	}
	w, h := 40, 12
	chart := streamlinechart.New(w, h,
		streamlinechart.WithYRange(0, maxY.Seconds()),
	)
	for name, color := range seriesColors {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		chart.SetDataSetStyles(name, runes.ThinLineStyle, style)
	}

	if refresh <= 0 {
		refresh = 500 * time.Millisecond
	}
	return consoleModel{
		ctrl:    ctrl,
		chart:   &chart,
		refresh: refresh,
	}
}

func (m consoleModel) Init() tea.Cmd {
	// Start listening for state and log updates
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
		refreshStatus(m.ctrl),
		tick(m.refresh),
	)
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		key := msg.String()
		if isQuitKey(key) {
			if m.quitting {
				return m, nil
			}
			m.quitting = true
			if m.busy != "" {
				m.addLog(fmt.Sprintf("Waiting for %s to finish...", m.busy))
				return m, nil
			}
			return m, shutdown(m.ctrl)
		}
		if m.busy != "" || m.quitting {
			return m, nil
		}
		if a, ok := lookupAction(key); ok {
			m.busy = a.name
			return m, runCommand(m.ctrl, a)
		}

	case commandDoneMsg:
		m.busy = ""
		m.chart.PushDataSet(seriesCommand, msg.took.Seconds())
		m.chart.DrawAll()
		if m.quitting {
			return m, shutdown(m.ctrl)
		}
		return m, nil

	case refreshMsg:
		m.chart.PushDataSet(seriesStatus, time.Duration(msg).Seconds())
		m.chart.DrawAll()
		return m, nil

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		// commands publish their own status
		if m.busy == "" {
			return m, tea.Batch(refreshStatus(m.ctrl), tick(m.refresh))
		}
		return m, tick(m.refresh)

	case shutdownMsg:
		m.done = true
		return m, tea.Quit

	case stateMsg:
		m.status = motors.Status(msg)
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

func (m consoleModel) View() string {
	if m.done {
		return "Console closed.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("spotmotors console"))
	if m.status.Hostname != "" {
		sb.WriteString(" - " + m.status.Hostname)
	}
	switch {
	case m.quitting:
		sb.WriteString(busyStyle.Render("  shutting down..."))
	case m.busy != "":
		sb.WriteString(busyStyle.Render(fmt.Sprintf("  %s...", m.busy)))
	}
	sb.WriteString("\n\n")

	// Status table beside the latency chart
	table := lipgloss.NewStyle().Width(tableWidth).Render(renderStatus(m.status))
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, table, chartStyle.Render(m.chart.View())))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, name := range []string{seriesCommand, seriesStatus} {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+name+" latency (s)")
	}
	var keys []string
	for _, k := range keyHelp {
		keys = append(keys, headerStyle.Render(k.key)+" "+k.desc)
	}
	return strings.Join(items, "  ") + "    " + statusStyle.Render(strings.Join(keys, "  "))
}

// promptPassword asks for the password when neither the environment nor a
// previous prompt supplied one.
func promptPassword(cfg *robot.Config) error {
	if cfg.Password != "" {
		return nil
	}
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("Password for %s@%s", cfg.Username, cfg.Hostname)).
				EchoMode(huh.EchoModePassword).
				Value(&cfg.Password),
		),
	).Run()
}

func (c *ConsoleCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Run 'spotmotors setup' first.")
		os.Exit(1)
	}

	sdk, err := robot.Lookup(cfg.Backend)
	if err != nil {
		return err
	}

	if err := promptPassword(&cfg); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			os.Exit(0)
		}
		return err
	}

	logger, closer := fileLogger(cfg.LogFile)
	defer closer.Close()
	logger = logger.With().Str("client", cfg.ClientName).Str("backend", cfg.Backend).Logger()

	ctrl := motors.NewController(sdk, motors.ConfigFrom(cfg, &logger))
	ctx := context.Background()

	fmt.Printf("Connecting to %s as %s...\n", cfg.Hostname, cfg.Username)
	if err := ctrl.Initialize(ctx, cfg.Hostname, cfg.Credentials()); err != nil {
		ctrl.Shutdown(ctx)
		printCleanupErrors(ctrl.CleanupErrors())
		return err
	}

	if sess := ctrl.Session(); cfg.AutoAllow && sess != nil && sess.EstopOwned() {
		// failure shows up in the log box
		_ = ctrl.AllowEstop(ctx)
	}

	p := tea.NewProgram(initialConsoleModel(ctrl, cfg, c.Refresh), tea.WithAltScreen())
	_, runErr := p.Run()

	// no-op after a normal quit
	ctrl.Shutdown(ctx)
	printCleanupErrors(ctrl.CleanupErrors())

	if runErr != nil {
		return fmt.Errorf("run console: %w", runErr)
	}
	fmt.Println("Session closed.")
	return nil
}
