package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/gwillem/pickplace/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type SetupCommand struct {
	Config string `long:"config" default:"pickplace.json" description:"Configuration file"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Pick and Place Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := robot.LoadConfigFrom(c.Config)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", c.Config, err)
			os.Exit(1)
		}
		cfg = robot.DefaultConfig()
	}

	// Step 1: Find the servo bus
	joints := cfg.Joints()
	ports := listPorts()
	bus := scanForArm(ports, joints)
	cfg.Port = bus.port

	// Step 2: Pick the proximity sensor port
	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Proximity Sensor ━━━"))
	fmt.Println()
	cfg.Proximity.Port = selectProximityPort(ports, bus.port, cfg.Proximity.Port)
	checkProximity(cfg.Proximity)

	// Step 3: Calibrate
	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Calibrating Arm ━━━"))
	fmt.Println()
	cfg.Calibration = calibrateArm(bus, joints)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.SaveTo(c.Config); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", c.Config)
	fmt.Println()
	runCmd := "pickplace run"
	if c.Config != robot.DefaultConfigFile {
		runCmd += " --config " + c.Config
	}
	fmt.Println("Start the cell with: " + headerStyle.Render(runCmd))

	return nil
}

func listPorts() []string {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	var usable []string
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		usable = append(usable, port)
	}
	return usable
}

type armInfo struct {
	port   string
	servos []feetech.FoundServo
	bus    *feetech.Bus
}

func scanForArm(ports []string, joints []robot.JointName) armInfo {
	fmt.Println("Scanning for the servo bus...")
	fmt.Println()

	arms := findArms(ports, joints)
	if len(arms) == 0 {
		fmt.Printf("No servo bus with IDs 1-%d found.\n", len(joints))
		fmt.Println("Make sure the arm is connected and powered on.")
		os.Exit(1)
	}
	if len(arms) == 1 {
		fmt.Println(successStyle.Render("Arm found on " + arms[0].port))
		return arms[0]
	}

	fmt.Printf("Found %d buses. Let's identify the arm...\n\n", len(arms))

	var chosen *armInfo
	for i := range arms {
		if chosen == nil && confirmArmWithWiggle(arms[i]) {
			chosen = &arms[i]
			continue
		}
		arms[i].bus.Close()
	}
	if chosen == nil {
		fmt.Println("No arm selected.")
		os.Exit(1)
	}
	return *chosen
}

func findArms(ports []string, joints []robot.JointName) []armInfo {
	var arms []armInfo
	cal := robot.DefaultCalibration(joints)

	for _, port := range ports {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)

		bus, err := feetech.NewBus(feetech.BusConfig{
			Port:     port,
			BaudRate: robot.DefaultBaudRate,
			Protocol: feetech.ProtocolSTS,
			Timeout:  100 * time.Millisecond,
		})
		if err != nil {
			cancel()
			continue
		}

		servos, err := bus.Scan(ctx, 1, len(joints))
		cancel()

		if err != nil {
			bus.Close()
			continue
		}

		if hasServoIDs(servos, len(joints)) {
			fmt.Printf("  Found %d servos on %s\n", len(servos), port)
			for _, line := range servoLabels(servos, cal) {
				fmt.Println(dimStyle.Render("    " + line))
			}
			arms = append(arms, armInfo{
				port:   port,
				servos: servos,
				bus:    bus,
			})
		} else {
			bus.Close()
		}
	}

	return arms
}

// servoLabels names each found servo after the joint it drives once set up.
func servoLabels(servos []feetech.FoundServo, cal robot.Calibration) []string {
	labels := make([]string, 0, len(servos))
	for _, s := range servos {
		joint := "unassigned"
		if name, _, ok := cal.ByID(s.ID); ok {
			joint = string(name)
		}
		model := fmt.Sprintf("model %d", s.ModelNumber)
		if s.Model != nil {
			model = s.Model.Name
		}
		labels = append(labels, fmt.Sprintf("id %d  %-20s %s", s.ID, joint, model))
	}
	return labels
}

// hasServoIDs reports whether servos covers IDs 1..n exactly.
func hasServoIDs(servos []feetech.FoundServo, n int) bool {
	if len(servos) != n {
		return false
	}

	ids := make(map[int]bool)
	for _, s := range servos {
		ids[s.ID] = true
	}

	for i := 1; i <= n; i++ {
		if !ids[i] {
			return false
		}
	}

	return true
}

func confirmArmWithWiggle(arm armInfo) bool {
	ctx := context.Background()

	// Servo 1 is the shoulder
	var servo *feetech.Servo
	for _, s := range arm.servos {
		if s.ID == 1 {
			servo = feetech.NewServo(arm.bus, s.ID, s.Model)
			break
		}
	}

	originalPos, err := servo.Position(ctx)
	if err != nil {
		fmt.Printf("  Error reading position: %v\n", err)
		return false
	}

	if err := servo.Enable(ctx); err != nil {
		fmt.Printf("  Error enabling servo: %v\n", err)
		return false
	}

	fmt.Printf("\n  Wiggling shoulder on %s...\n", arm.port)

	// Wiggle: single gentle, slow movement
	wiggleAmount := 30
	moveTimeMs := 500
	servo.SetPositionWithTime(ctx, originalPos+wiggleAmount, moveTimeMs)
	time.Sleep(time.Duration(moveTimeMs+100) * time.Millisecond)
	servo.SetPositionWithTime(ctx, originalPos-wiggleAmount, moveTimeMs)
	time.Sleep(time.Duration(moveTimeMs+100) * time.Millisecond)
	servo.SetPositionWithTime(ctx, originalPos, moveTimeMs)
	time.Sleep(time.Duration(moveTimeMs+100) * time.Millisecond)

	servo.Disable(ctx)

	var use bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Is the arm on %s?", arm.port)).
				Description("The shoulder that just wiggled").
				Affirmative("Use this one").
				Negative("Skip").
				Value(&use),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	return use
}

func selectProximityPort(ports []string, busPort, current string) string {
	var options []huh.Option[string]
	for _, port := range ports {
		if port == busPort {
			continue
		}
		options = append(options, huh.NewOption(port, port))
	}

	port := current
	var field huh.Field
	if len(options) == 0 {
		field = huh.NewInput().
			Title("Proximity sensor port").
			Description("No other serial ports found, enter the device path").
			Value(&port)
	} else {
		field = huh.NewSelect[string]().
			Title("Which port is the proximity sensor on?").
			Description("The sensor should print one distance reading per line").
			Options(options...).
			Value(&port)
	}

	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	return port
}

// checkProximity shows the first reading so the user can tell the sensor
// is alive. It never fails setup.
func checkProximity(cfg robot.ProximityConfig) {
	p, err := robot.OpenSerialProximity(cfg)
	if err != nil {
		fmt.Printf("  Could not open %s: %v\n", cfg.Port, err)
		return
	}
	defer p.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d := p.Distance(); !math.IsInf(d, 1) {
			fmt.Printf("  Proximity reading on %s: %.0f\n", cfg.Port, d)
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	fmt.Printf("  No reading from %s yet, check the sensor's baud rate (%d)\n", cfg.Port, cfg.BaudRate)
}

func calibrateArm(arm armInfo, joints []robot.JointName) robot.Calibration {
	defer arm.bus.Close()
	ctx := context.Background()

	servoMap := make(map[int]*feetech.Servo)
	for _, s := range arm.servos {
		servoMap[s.ID] = feetech.NewServo(arm.bus, s.ID, s.Model)
	}

	// Disable all servos so user can move arm freely
	for _, servo := range servoMap {
		servo.Disable(ctx)
	}

	calibration := robot.DefaultCalibration(joints)

	// Home pose defines zero for every joint
	waitForUser("Move the arm to its home pose with the gripper open.")
	for _, name := range joints {
		mc := calibration[name]
		pos, err := servoMap[mc.ID].Position(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", name, err)
			os.Exit(1)
		}
		mc.HomingOffset = pos - robot.StepsPerTurn/2
		calibration[name] = mc
	}

	fmt.Println()
	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Move each joint to its minimum AND maximum positions.")
	fmt.Println("Explore the full range of motion for all joints.")
	fmt.Println()

	curPositions := make(map[robot.JointName]int)
	minPositions := make(map[robot.JointName]int)
	maxPositions := make(map[robot.JointName]int)
	for _, name := range joints {
		pos, _ := servoMap[calibration[name].ID].Position(ctx)
		curPositions[name] = pos
		minPositions[name] = pos
		maxPositions[name] = pos
	}

	model := newCalibrationModel(joints, calibration, servoMap, curPositions, minPositions, maxPositions)
	p := tea.NewProgram(model)
	finalModel, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running calibration: %v\n", err)
		os.Exit(1)
	}

	cm := finalModel.(calibrationModel)
	for _, name := range joints {
		mc := calibration[name]
		mc.RangeMin = cm.minPositions[name]
		mc.RangeMax = cm.maxPositions[name]
		calibration[name] = mc
	}

	fmt.Println()
	fmt.Println("Arm calibrated.")
	return calibration
}

func waitForUser(prompt string) {
	fmt.Println(prompt)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("").
				Affirmative("Continue").
				Negative("").
				Value(new(bool)),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
}

// Calibration TUI model
type calibrationModel struct {
	joints       []robot.JointName
	calibration  robot.Calibration
	servoMap     map[int]*feetech.Servo
	curPositions map[robot.JointName]int
	minPositions map[robot.JointName]int
	maxPositions map[robot.JointName]int
	quitting     bool
}

type tickMsg time.Time

func newCalibrationModel(
	joints []robot.JointName,
	calibration robot.Calibration,
	servoMap map[int]*feetech.Servo,
	curPositions, minPositions, maxPositions map[robot.JointName]int,
) calibrationModel {
	return calibrationModel{
		joints:       joints,
		calibration:  calibration,
		servoMap:     servoMap,
		curPositions: curPositions,
		minPositions: minPositions,
		maxPositions: maxPositions,
	}
}

func (m calibrationModel) Init() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		ctx := context.Background()
		for _, name := range m.joints {
			servo := m.servoMap[m.calibration[name].ID]
			pos, err := servo.Position(ctx)
			if err != nil {
				continue
			}
			m.curPositions[name] = pos
			m.minPositions[name] = min(m.minPositions[name], pos)
			m.maxPositions[name] = max(m.maxPositions[name], pos)
		}
		return m, tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
			return tickMsg(t)
		})
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableJointStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableRangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableRangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rows := make([][]string, 0, len(m.joints))
	ranges := make([]int, 0, len(m.joints))
	for _, name := range m.joints {
		rangeSize := m.maxPositions[name] - m.minPositions[name]
		ranges = append(ranges, rangeSize)
		rows = append(rows, []string{
			string(name),
			fmt.Sprintf("%d", m.curPositions[name]),
			fmt.Sprintf("%+.2f", m.calibration[name].ToRadians(m.curPositions[name])),
			fmt.Sprintf("%d", m.minPositions[name]),
			fmt.Sprintf("%d", m.maxPositions[name]),
			fmt.Sprintf("%d", rangeSize),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "Current", "Rad", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableJointStyle
			case 1, 2:
				return tableCurrentStyle
			case 5:
				if row >= 0 && row < len(ranges) && ranges[row] > 500 {
					return tableRangeGoodStyle
				}
				return tableRangeLowStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Press Enter when done"))

	return sb.String()
}
