package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/generalistai/gello-teleop/pkg/robot"
	"github.com/generalistai/gello-teleop/pkg/teleop"
)

type CheckCommand struct {
	Config string `long:"config" short:"c" description:"Config file path" default:"teleop.json"`
}

// Execute probes every configured device and prints what it finds.
// Nothing is moved and no commands are streamed.
func (c *CheckCommand) Execute(args []string) error {
	fmt.Println("gello-teleop check")
	fmt.Println("━━━━━━━━━━━━━━━━━━")

	cfg, err := robot.LoadConfigFrom(c.Config)
	if err != nil {
		fmt.Printf("✗ config %s: %v\n", c.Config, err)
		listSerialPorts()
		return nil
	}
	fmt.Printf("✓ config %s\n\n", c.Config)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, sc := range []struct {
		side teleop.Side
		cfg  robot.SideConfig
	}{
		{teleop.SideLeft, cfg.Left},
		{teleop.SideRight, cfg.Right},
	} {
		if !sc.cfg.Enabled() {
			fmt.Printf("%s: disabled\n", sc.side)
			continue
		}
		checkController(ctx, sc.side, sc.cfg)
		checkDashboard(ctx, sc.side, sc.cfg)
	}

	fmt.Println()
	checkPedal(cfg)
	return nil
}

func checkController(ctx context.Context, side teleop.Side, sc robot.SideConfig) {
	ctrl, err := robot.NewController(robot.ControllerConfig{
		Port:        sc.ControllerPort,
		Calibration: sc.Calibration,
	})
	if err != nil {
		fmt.Printf("✗ %s controller: %v\n", side, err)
		return
	}
	if err := ctrl.Connect(ctx); err != nil {
		fmt.Printf("✗ %s controller %s: %v\n", side, sc.ControllerPort, err)
		return
	}
	defer ctrl.Close()

	positions, err := ctrl.ReadPositions(ctx)
	if err != nil {
		fmt.Printf("✗ %s controller %s: read failed: %v\n", side, sc.ControllerPort, err)
		return
	}

	var parts []string
	for i, p := range positions {
		name := "?"
		if i < len(robot.AllJoints()) {
			name = string(robot.AllJoints()[i])
		}
		parts = append(parts, fmt.Sprintf("%s=%.3f", name, p))
	}
	fmt.Printf("✓ %s controller %s: %s\n", side, sc.ControllerPort, strings.Join(parts, " "))
}

func checkDashboard(ctx context.Context, side teleop.Side, sc robot.SideConfig) {
	if sc.ArmHost == "" {
		return
	}
	dash := robot.NewDashboard(sc.ArmHost)
	state, err := dash.ProgramState(ctx)
	if err != nil {
		fmt.Printf("✗ %s arm %s: dashboard unreachable: %v\n", side, sc.ArmHost, err)
		return
	}
	marker := "✓"
	if !dash.ExternalControlActive(ctx) {
		marker = "⚠"
		state += " (external control not playing)"
	}
	fmt.Printf("%s %s arm %s: %s\n", marker, side, sc.ArmHost, state)
}

func checkPedal(cfg *robot.Config) {
	dev, err := openPedal(cfg)
	if err != nil {
		fmt.Printf("✗ pedal: %v\n", err)
		return
	}
	dev.Close()
	fmt.Println("✓ pedal found")
}

func listSerialPorts() {
	ports, err := serial.GetPortsList()
	if err != nil || len(ports) == 0 {
		fmt.Println("  no serial ports found")
		return
	}
	fmt.Println("  serial ports:")
	for _, p := range ports {
		if strings.Contains(p, "Bluetooth") {
			continue
		}
		fmt.Printf("    %s\n", p)
	}
}
