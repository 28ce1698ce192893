package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/generalistai/gello-teleop/pkg/robot"
	"github.com/generalistai/gello-teleop/pkg/teleop"
)

type MonitorCommand struct {
	Config      string `long:"config" short:"c" description:"Config file path" default:"teleop.json"`
	NoDashboard bool   `long:"no-dashboard" description:"Skip the dashboard prepare sequence"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Joint colors, matching chart line to legend.
var jointColors = map[robot.JointName]string{
	robot.Base:     "196", // red
	robot.Shoulder: "208", // orange
	robot.Elbow:    "226", // yellow
	robot.Wrist1:   "46",  // green
	robot.Wrist2:   "51",  // cyan
	robot.Wrist3:   "201", // magenta
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	phaseStyles = map[teleop.Phase]lipgloss.Style{
		teleop.PhaseIdle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		teleop.PhasePrep:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226")),
		teleop.PhaseRunning: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46")),
	}
)

type monitorModel struct {
	loop    *teleop.Loop
	intents chan<- teleop.Intent
	sides   []teleop.Side
	chart   *streamlinechart.Model
	width   int
	height  int
	logs    []string
	phase   teleop.Phase
	stats   teleop.SchedulerStats
	gripper map[teleop.Side]teleop.GripperState

	quitting bool
}

func (m *monitorModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the loop
type stateMsg teleop.State
type logMsg string

func waitForState(loop *teleop.Loop) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-loop.States())
	}
}

func waitForLog(loop *teleop.Loop) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-loop.Logs())
	}
}

func (m *monitorModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *monitorModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func dataSetName(side teleop.Side, joint robot.JointName) string {
	return fmt.Sprintf("%s/%s", side, joint)
}

func initialMonitorModel(loop *teleop.Loop, intents chan<- teleop.Intent, sides []teleop.Side) monitorModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-math.Pi, math.Pi),
	)

	// One data set per side and arm joint; left draws solid, right
	// drawn with arcs so the sides are distinguishable in one chart.
	for _, side := range sides {
		lineStyle := runes.ThinLineStyle
		if side == teleop.SideRight {
			lineStyle = runes.ArcLineStyle
		}
		for _, joint := range robot.AllJoints()[:robot.ArmJointCount] {
			style := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[joint]))
			chart.SetDataSetStyles(dataSetName(side, joint), lineStyle, style)
		}
	}

	return monitorModel{
		loop:    loop,
		intents: intents,
		sides:   sides,
		chart:   &chart,
		gripper: map[teleop.Side]teleop.GripperState{},
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.loop),
		waitForLog(m.loop),
	)
}

func (m monitorModel) emit(in teleop.Intent) {
	select {
	case m.intents <- in:
	default:
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.emit(teleop.IntentStop)
			m.quitting = true
			return m, tea.Quit
		case "p":
			m.emit(teleop.IntentPrepare)
		case "s":
			m.emit(teleop.IntentStart)
		case "x":
			m.emit(teleop.IntentStop)
		case "i":
			m.emit(teleop.IntentInterrupt)
		}

	case stateMsg:
		state := teleop.State(msg)
		m.phase = state.Phase
		m.stats = state.Stats
		for side, g := range state.Gripper {
			m.gripper[side] = g
		}
		if len(state.Positions) > 0 {
			for side, positions := range state.Positions {
				for j, joint := range robot.AllJoints()[:robot.ArmJointCount] {
					if j < len(positions) {
						m.chart.PushDataSet(dataSetName(side, joint), positions[j])
					}
				}
			}
			m.chart.DrawAll()
		}
		return m, waitForState(m.loop)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.loop)
	}

	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Teleoperation stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("gello-teleop monitor"))
	sb.WriteString(fmt.Sprintf(" - %.0f Hz", m.loop.Hz()))
	sb.WriteString("  ")
	sb.WriteString(phaseStyles[m.phase].Render(strings.ToUpper(m.phase.String())))
	if m.stats.Samples > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf(
			"  %.1f Hz realized, %d overruns", m.stats.MeanHz, m.stats.Overruns)))
	}
	for _, side := range m.sides {
		if g, ok := m.gripper[side]; ok {
			sb.WriteString(statusStyle.Render(fmt.Sprintf("  %s gripper %s", side, g)))
		}
	}
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4).
		Foreground(lipgloss.Color("9"))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("p prepare · s start · x stop · i interrupt · q quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, joint := range robot.AllJoints()[:robot.ArmJointCount] {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[joint])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+string(joint))
	}
	return strings.Join(items, "  ")
}

func (c *MonitorCommand) Execute(args []string) error {
	r, err := openRig(c.Config)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !c.NoDashboard {
		r.prepareDashboards(ctx)
	}

	go func() {
		if err := r.loop.Run(ctx, r.intents); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("loop: %v", err)
		}
	}()
	if r.pedal != nil {
		go func() {
			if err := r.pedal.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("pedal: %v", err)
			}
		}()
	}

	var sides []teleop.Side
	for _, sc := range []struct {
		side teleop.Side
		cfg  robot.SideConfig
	}{
		{teleop.SideLeft, r.cfg.Left},
		{teleop.SideRight, r.cfg.Right},
	} {
		if sc.cfg.Enabled() {
			sides = append(sides, sc.side)
		}
	}

	p := tea.NewProgram(initialMonitorModel(r.loop, r.intents, sides), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}

	return nil
}
