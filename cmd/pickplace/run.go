package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/pickplace/pkg/pickplace"
	"github.com/gwillem/pickplace/pkg/robot"
)

type RunCommand struct {
	Sim      bool          `long:"sim" description:"Run against the simulated cell instead of the servo bus"`
	Headless bool          `long:"headless" description:"Log to stderr instead of showing the dashboard"`
	Tick     time.Duration `long:"tick" description:"Control period (default from config, 32ms)"`
	Config   string        `long:"config" default:"pickplace.json" description:"Configuration file"`
}

const (
	headerHeight = 3 // title + status + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Joint colors - distinct colors for each joint
var jointColors = map[robot.JointName]string{
	robot.ShoulderLift: "196", // red
	robot.Elbow:        "208", // orange
	robot.Wrist1:       "226", // yellow
	robot.Wrist2:       "46",  // green
	robot.Finger1:      "51",  // cyan
	robot.Finger2:      "33",  // blue
	robot.FingerMiddle: "201", // magenta
}

var phaseColors = map[pickplace.Phase]string{
	pickplace.Waiting:      "241",
	pickplace.Grasping:     "214",
	pickplace.MovingToDrop: "12",
	pickplace.Releasing:    "214",
	pickplace.MovingHome:   "10",
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type runModel struct {
	ctrl          *pickplace.Controller
	chart         *streamlinechart.Model
	width         int // terminal width
	height        int // terminal height
	logs          []string
	snapshot      pickplace.Snapshot
	quitting      bool
	lastPositions map[robot.JointName]float64
}

func (m *runModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// hasMovement checks if any joint position has changed from the last snapshot
func (m *runModel) hasMovement(positions map[robot.JointName]float64) bool {
	if m.lastPositions == nil {
		return true
	}
	for name, pos := range positions {
		if lastPos, ok := m.lastPositions[name]; !ok || pos != lastPos {
			return true
		}
	}
	return false
}

// Messages from the controller
type snapshotMsg pickplace.Snapshot
type logMsg string
type doneMsg struct{ err error }

func waitForSnapshot(ctrl *pickplace.Controller) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(<-ctrl.Snapshots())
	}
}

func waitForLog(ctrl *pickplace.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

func (m *runModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 10)
	return width, height
}

func (m *runModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialRunModel(ctrl *pickplace.Controller) runModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-3.2, 3.2),
	)

	for _, name := range ctrl.Joints() {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColor(name)))
		chart.SetDataSetStyles(string(name), runes.ThinLineStyle, style)
	}

	return runModel{
		ctrl:     ctrl,
		chart:    &chart,
		snapshot: pickplace.Snapshot{State: ctrl.State()},
	}
}

func jointColor(name robot.JointName) string {
	if c, ok := jointColors[name]; ok {
		return c
	}
	return "250"
}

func (m runModel) Init() tea.Cmd {
	return tea.Batch(
		waitForSnapshot(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case snapshotMsg:
		m.snapshot = pickplace.Snapshot(msg)
		// Freeze the chart while the arm is idle
		if m.hasMovement(m.snapshot.Positions) {
			for name, pos := range m.snapshot.Positions {
				m.chart.PushDataSet(string(name), pos)
			}
			m.chart.DrawAll()
			m.lastPositions = m.snapshot.Positions
		}
		return m, waitForSnapshot(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)

	case doneMsg:
		if msg.err != nil {
			m.addLog(fmt.Sprintf("Stopped: %v", msg.err))
		}
		return m, nil
	}

	return m, nil
}

func (m runModel) View() string {
	if m.quitting {
		return fmt.Sprintf("Pick-and-place stopped after %d cycles.\n", m.snapshot.Cycles)
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Pick and Place"))
	sb.WriteString(fmt.Sprintf(" - tick %s", m.ctrl.TickDuration()))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n")
	sb.WriteString(renderStatus(m.snapshot))
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(renderLegend(m.ctrl.Joints()))
	sb.WriteString("\n")

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

func renderStatus(s pickplace.Snapshot) string {
	phase := lipgloss.NewStyle().Bold(true).
		Foreground(lipgloss.Color(phaseColors[s.State.Phase])).
		Render(s.State.Phase.String())

	object := "no"
	if s.State.HasObject {
		object = "yes"
	}
	return phase + statusStyle.Render(fmt.Sprintf(
		"  object: %s  proximity: %.0f  remaining: %.3f rad  cycles: %d",
		object, s.Proximity, s.Remaining, s.Cycles))
}

func renderLegend(joints []robot.JointName) string {
	var items []string
	for _, name := range joints {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColor(name))).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+string(name))
	}
	return strings.Join(items, "  ")
}

func (c *RunCommand) Execute(args []string) error {
	cfg, err := loadRunConfig(c.Config, c.Sim)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := applyTick(cfg, c.Tick); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hw, closeRig, err := openRig(ctx, cfg, rigOptions{sim: c.Sim, realTime: true, requireProximity: true})
	if err != nil {
		log.Fatalf("Failed to open rig: %v", err)
	}
	defer closeRig()

	ctrl, err := pickplace.NewController(hw, pickplace.ConfigFromRig(cfg))
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}

	if c.Headless {
		return runHeadless(ctx, ctrl)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(initialRunModel(ctrl), tea.WithAltScreen())
	done := runController(ctx, ctrl, p.Send)

	_, err = p.Run()
	// closeRig runs on return; the loop must have stopped by then.
	cancel()
	<-done
	if err != nil {
		return fmt.Errorf("run dashboard: %w", err)
	}
	return nil
}

// applyTick overrides the configured control period. Zero keeps it.
func applyTick(cfg *robot.Config, tick time.Duration) error {
	switch {
	case tick == 0:
		return nil
	case tick < time.Millisecond:
		return fmt.Errorf("tick %s is below 1ms", tick)
	case tick%time.Millisecond != 0:
		return fmt.Errorf("tick %s is not a whole number of milliseconds", tick)
	}
	cfg.Motion.TickMs = int(tick / time.Millisecond)
	return nil
}

// runController runs ctrl in the background and reports its end through
// send. The returned channel is closed once Run has returned.
func runController(ctx context.Context, ctrl *pickplace.Controller, send func(tea.Msg)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := ctrl.Run(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		send(doneMsg{err: err})
	}()
	return done
}

// loadRunConfig loads the config file. The simulated cell falls back to
// the reference configuration when there is none.
func loadRunConfig(path string, simulated bool) (*robot.Config, error) {
	cfg, err := robot.LoadConfigFrom(path)
	switch {
	case err == nil:
	case simulated && errors.Is(err, os.ErrNotExist):
		return robot.DefaultConfig(), nil
	case errors.Is(err, os.ErrNotExist):
		return nil, errors.New("no configuration found, run 'pickplace setup' first")
	default:
		return nil, err
	}

	if !simulated {
		if cfg.Port == "" || cfg.Proximity.Port == "" {
			return nil, errors.New("rig not configured, run 'pickplace setup' first")
		}
		if !cfg.IsCalibrated() {
			return nil, errors.New("rig not calibrated, run 'pickplace setup' first")
		}
	}
	return cfg, nil
}

// runHeadless runs the controller and forwards its log lines to zap.
func runHeadless(ctx context.Context, ctrl *pickplace.Controller) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	sugar := logger.Sugar()

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	status := time.NewTicker(10 * time.Second)
	defer status.Stop()

	for {
		select {
		case msg := <-ctrl.Logs():
			sugar.Info(stripClock(msg))
		case <-status.C:
			s := ctrl.State()
			sugar.Infow("status", "phase", s.Phase.String(), "has_object", s.HasObject, "cycles", ctrl.Cycles())
		case err := <-done:
			for len(ctrl.Logs()) > 0 {
				sugar.Info(stripClock(<-ctrl.Logs()))
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				sugar.Errorw("controller stopped", "error", err)
				return err
			}
			sugar.Infow("controller stopped", "cycles", ctrl.Cycles())
			return nil
		}
	}
}

// stripClock removes the "[15:04:05] " prefix; zap stamps its own time.
func stripClock(msg string) string {
	if strings.HasPrefix(msg, "[") {
		if i := strings.Index(msg, "] "); i > 0 {
			return msg[i+2:]
		}
	}
	return msg
}
