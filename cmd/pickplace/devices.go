package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/pickplace/pkg/robot"
)

type DevicesCommand struct {
	Sim    bool   `long:"sim" description:"List the devices of the simulated cell"`
	Config string `long:"config" default:"pickplace.json" description:"Configuration file"`
}

var deviceTypeColors = map[robot.DeviceType]string{
	robot.DeviceMotor:          "11",
	robot.DevicePositionSensor: "14",
	robot.DeviceDistanceSensor: "10",
}

func (c *DevicesCommand) Execute(args []string) error {
	cfg, err := loadRunConfig(c.Config, c.Sim)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hw, closeRig, err := openRig(ctx, cfg, rigOptions{sim: c.Sim})
	if err != nil {
		log.Fatalf("Failed to open rig: %v", err)
	}
	defer closeRig()

	devices := hw.Devices()
	fmt.Println(renderDevices(devices))
	fmt.Println(dimStyle.Render(fmt.Sprintf("%d devices", len(devices))))
	return nil
}

func renderDevices(devices []robot.DeviceInfo) string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	rows := make([][]string, 0, len(devices))
	for i, d := range devices {
		rows = append(rows, []string{fmt.Sprintf("%d", i), d.Name, d.Type.String()})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("#", "Name", "Type").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 && row >= 0 && row < len(devices) {
				return cellStyle.Foreground(lipgloss.Color(deviceTypeColors[devices[row].Type]))
			}
			return cellStyle
		}).
		Render()
}
